// Package redisqueue provides a Redis list backed alerts.Queue. Jobs
// survive restarts of the service.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anac-tg/incident-desk/internal/alerts"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the list holding pending alert jobs.
const DefaultKey = "incidentdesk:alerts"

// Config contains Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Connect creates a client and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: 10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Queue implements alerts.Queue with LPUSH and BRPOP.
type Queue struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
	closed      atomic.Bool
}

// New creates a queue on key. An empty key uses DefaultKey.
func New(client *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultKey
	}
	return &Queue{
		client:      client,
		key:         key,
		pollTimeout: time.Second,
	}
}

// Enqueue pushes a job onto the list.
func (q *Queue) Enqueue(ctx context.Context, job alerts.Job) error {
	if q.closed.Load() {
		return alerts.ErrQueueClosed
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal alert job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push alert job: %w", err)
	}
	return nil
}

// Dequeue pops the oldest job, polling so that Close is observed promptly.
// Jobs still in Redis at Close are delivered after the next start.
func (q *Queue) Dequeue(ctx context.Context) (alerts.Job, error) {
	for {
		if q.closed.Load() {
			return alerts.Job{}, alerts.ErrQueueClosed
		}

		result, err := q.client.BRPop(ctx, q.pollTimeout, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return alerts.Job{}, ctx.Err()
			}
			return alerts.Job{}, fmt.Errorf("pop alert job: %w", err)
		}

		// result[0] is the key, result[1] the payload.
		var job alerts.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			slog.Error("dropping malformed alert job", "key", q.key, "error", err)
			continue
		}
		return job, nil
	}
}

// Close stops Dequeue. The Redis client is owned by the caller.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
