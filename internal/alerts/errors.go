package alerts

import "errors"

var (
	ErrQueueFull   = errors.New("alert queue is full")
	ErrQueueClosed = errors.New("alert queue is closed")
	ErrNoRecipient = errors.New("alert recipient is not configured")
)
