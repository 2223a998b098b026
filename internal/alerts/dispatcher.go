package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
)

// Sender delivers a rendered alert.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher renders an incident alert and sends it to the safety desk.
type Dispatcher struct {
	sender    Sender
	renderer  *Renderer
	recipient string
}

// NewDispatcher creates a dispatcher sending to recipient.
func NewDispatcher(sender Sender, renderer *Renderer, recipient string) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		renderer:  renderer,
		recipient: recipient,
	}
}

// Dispatch renders and sends the alert for inc. Render failures are not
// retryable; send errors are returned unchanged for classification.
func (d *Dispatcher) Dispatch(ctx context.Context, inc *domain.Incident) error {
	if d.recipient == "" {
		return NewNonRetryableError(ErrNoRecipient)
	}

	subject, body, err := d.renderer.Render(inc)
	if err != nil {
		return NewNonRetryableError(err)
	}

	start := time.Now()
	err = d.sender.Send(ctx, Message{
		To:       d.recipient,
		Subject:  subject,
		HTMLBody: body,
	})
	recordSendDuration(time.Since(start))
	if err != nil {
		return fmt.Errorf("send alert %s: %w", inc.TrackingID, err)
	}
	return nil
}
