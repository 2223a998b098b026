package alerts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	NumWorkers        int
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	SendTimeout       time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        2,
		MaxAttempts:       5,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        1 * time.Minute,
		BackoffMultiplier: 2.0,
		SendTimeout:       30 * time.Second,
	}
}

// AlertDispatcher sends one alert. Implemented by *Dispatcher.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// DispatchFunc adapts a function to AlertDispatcher.
type DispatchFunc func(ctx context.Context, job Job) error

// Dispatch calls f.
func (f DispatchFunc) Dispatch(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// ForDispatcher adapts d to the worker.
func ForDispatcher(d *Dispatcher) AlertDispatcher {
	return DispatchFunc(func(ctx context.Context, job Job) error {
		return d.Dispatch(ctx, &job.Incident)
	})
}

// Worker consumes alert jobs from the queue.
type Worker struct {
	config     WorkerConfig
	queue      Queue
	dispatcher AlertDispatcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
	sleep  func(ctx context.Context, d time.Duration) bool
}

// NewWorker creates a new alert worker.
func NewWorker(config WorkerConfig, queue Queue, dispatcher AlertDispatcher) *Worker {
	defaults := DefaultWorkerConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaults.SendTimeout
	}
	return &Worker{
		config:     config,
		queue:      queue,
		dispatcher: dispatcher,
		sleep:      sleepCtx,
	}
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	slog.Info("starting alert worker",
		"workers", w.config.NumWorkers,
		"max_attempts", w.config.MaxAttempts,
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop closes the queue and waits for workers to drain it. If ctx expires
// first, in-flight retries are abandoned.
func (w *Worker) Stop(ctx context.Context) error {
	if err := w.queue.Close(); err != nil {
		slog.Warn("failed to close alert queue", "error", err)
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("alert worker stopped")
		return nil
	case <-ctx.Done():
		if w.cancel != nil {
			w.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			slog.Error("failed to dequeue alert", "worker", workerID, "error", err)
			if !w.sleep(ctx, w.config.InitialBackoff) {
				return
			}
			continue
		}
		w.process(ctx, workerID, job)
	}
}

func (w *Worker) process(ctx context.Context, workerID int, job Job) {
	logger := slog.With(
		"worker", workerID,
		"job_id", job.ID,
		"tracking_id", job.Incident.TrackingID,
		"priority", job.Incident.Priority,
	)

	for attempt := 1; ; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, w.config.SendTimeout)
		err := w.dispatcher.Dispatch(sendCtx, job)
		cancel()

		if err == nil {
			recordAlert("sent")
			logger.Info("alert sent", "attempt", attempt)
			return
		}

		if !isRetryable(err) {
			recordAlert("failed")
			logger.Error("alert failed permanently", "attempt", attempt, "error", err)
			return
		}
		if attempt >= w.config.MaxAttempts {
			recordAlert("failed")
			logger.Error("alert failed, max attempts exceeded", "attempt", attempt, "error", err)
			return
		}

		backoff := w.backoff(attempt)
		recordAlert("retry")
		logger.Warn("alert send failed, retrying",
			"attempt", attempt,
			"max_attempts", w.config.MaxAttempts,
			"backoff", backoff,
			"error", err,
		)
		if !w.sleep(ctx, backoff) {
			recordAlert("abandoned")
			logger.Warn("alert abandoned on shutdown", "attempt", attempt)
			return
		}
	}
}

// backoff returns the delay after the given failed attempt.
func (w *Worker) backoff(attempt int) time.Duration {
	backoff := float64(w.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= w.config.BackoffMultiplier
	}
	if backoff > float64(w.config.MaxBackoff) {
		backoff = float64(w.config.MaxBackoff)
	}
	return time.Duration(backoff)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// isRetryable checks if an error is retryable. Unclassified errors are retried.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return true
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}
