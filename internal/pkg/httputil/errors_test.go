package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("thing not found")

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errMissing, Status: http.StatusNotFound},
		{Error: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "upstream timeout"},
	}

	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"mapped uses error text", fmt.Errorf("lookup: %w", errMissing), http.StatusNotFound, "lookup: thing not found"},
		{"mapped with message", context.DeadlineExceeded, http.StatusGatewayTimeout, "upstream timeout"},
		{"unmapped hides details", errors.New("pq: secret detail"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()

			HandleError(context.Background(), rec, tt.err, mappings)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec)["message"])
		})
	}
}

func TestValidationError(t *testing.T) {
	type request struct {
		Email string `validate:"required,email"`
		Name  string `validate:"max=3"`
	}

	t.Run("field details", func(t *testing.T) {
		err := validator.New().Struct(request{Name: "toolong"})
		rec := httptest.NewRecorder()

		ValidationError(rec, fmt.Errorf("wrapped: %w", err))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "validation error", body["message"])
		details, ok := body["details"].([]any)
		require.True(t, ok)
		require.Len(t, details, 2)
		assert.Equal(t, map[string]any{"field": "Email", "message": "required"}, details[0])
		assert.Equal(t, map[string]any{"field": "Name", "message": "max=3"}, details[1])
	})

	t.Run("plain error", func(t *testing.T) {
		rec := httptest.NewRecorder()

		ValidationError(rec, errors.New("latitude and longitude must be provided together"))

		body := decodeError(t, rec)
		assert.Equal(t, "latitude and longitude must be provided together", body["details"])
	})
}
