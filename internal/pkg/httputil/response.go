// Package httputil holds the HTTP plumbing shared by every handler: the
// JSON envelopes, error mapping, authentication and request middleware.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Every JSON body is either {"data": ...} or {"error": {...}}.
type (
	dataEnvelope struct {
		Data any `json:"data"`
	}
	errorEnvelope struct {
		Error errorBody `json:"error"`
	}
	errorBody struct {
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	}
	fieldError struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
)

func write(w http.ResponseWriter, status int, contentType string, body func() error) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := body(); err != nil {
		slog.Error("write response", "status", status, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	write(w, status, "application/json", func() error {
		if v == nil {
			return nil
		}
		return json.NewEncoder(w).Encode(v)
	})
}

// JSON writes v without an envelope.
func JSON(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, v)
}

// Text writes a plain text body.
func Text(w http.ResponseWriter, status int, text string) {
	write(w, status, "text/plain; charset=utf-8", func() error {
		_, err := w.Write([]byte(text))
		return err
	})
}

// Success writes data inside the {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, dataEnvelope{Data: data})
}

// Error writes message inside the {"error": ...} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Message: message}})
}

// ValidationError answers 400. Failing struct fields are listed one by one
// when err carries validator.ValidationErrors; otherwise the error text is
// the detail.
func ValidationError(w http.ResponseWriter, err error) {
	body := errorBody{Message: "validation error", Details: err.Error()}

	var fields validator.ValidationErrors
	if errors.As(err, &fields) {
		details := make([]fieldError, len(fields))
		for i, f := range fields {
			details[i] = fieldError{Field: f.Field(), Message: f.Tag()}
			if f.Param() != "" {
				details[i].Message += "=" + f.Param()
			}
		}
		body.Details = details
	}

	writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: body})
}
