package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/google/uuid"
)

// Job is a pending alert. The incident is snapshotted at enqueue time.
type Job struct {
	ID         string          `json:"id"`
	Incident   domain.Incident `json:"incident"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob snapshots inc into a job.
func NewJob(inc *domain.Incident) Job {
	return Job{
		ID:         uuid.NewString(),
		Incident:   *inc,
		EnqueuedAt: time.Now(),
	}
}

// Queue hands jobs from request handlers to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available. It returns ErrQueueClosed
	// once the queue is closed and drained, or ctx.Err().
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}

// MemoryQueue is a bounded in-process queue. Jobs are lost on restart.
type MemoryQueue struct {
	mu     sync.RWMutex
	jobs   chan Job
	closed bool
}

// NewMemoryQueue creates a queue holding up to size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 100
	}
	return &MemoryQueue{jobs: make(chan Job, size)}
}

// Enqueue adds a job without blocking.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		recordQueued()
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue waits for the next job.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return Job{}, ErrQueueClosed
		}
		recordDequeued()
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

// Close stops accepting jobs. Buffered jobs remain available to Dequeue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

// Len returns the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
