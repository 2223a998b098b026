package alerts

import (
	"context"
	"fmt"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
)

// Enqueuer schedules alert delivery off the request path.
type Enqueuer struct {
	queue Queue
}

// NewEnqueuer creates an enqueuer backed by queue.
func NewEnqueuer(queue Queue) *Enqueuer {
	return &Enqueuer{queue: queue}
}

// IncidentEscalated queues an alert for inc.
func (e *Enqueuer) IncidentEscalated(ctx context.Context, inc *domain.Incident) error {
	job := NewJob(inc)
	if err := e.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue alert: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("alert queued",
		"job_id", job.ID,
		"tracking_id", inc.TrackingID,
	)
	return nil
}
