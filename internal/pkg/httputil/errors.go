package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
)

// ErrorMapping turns a sentinel error into a status code. An empty Message
// exposes the error text to the client.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string
}

func (m ErrorMapping) message(err error) string {
	if m.Message != "" {
		return m.Message
	}
	return err.Error()
}

// HandleError answers with the first mapping err matches. Anything else is
// logged and hidden behind a 500.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, mappings []ErrorMapping) {
	status, msg := http.StatusInternalServerError, "internal error"
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			status, msg = m.Status, m.message(err)
			break
		}
	}

	if status >= http.StatusInternalServerError {
		ctxlog.FromContext(ctx).Error("request failed", "status", status, "error", err)
	}
	Error(w, status, msg)
}
