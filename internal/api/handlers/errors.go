package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/promptvault/internal/prompt"
)

// writeServiceError maps prompt error kinds to HTTP statuses. Unknown errors
// are logged and reported as 500 without their detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch {
	case errors.Is(err, prompt.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, prompt.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, prompt.ErrConflict):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, prompt.ErrIntegrity):
		msg = err.Error()
	case errors.Is(err, prompt.ErrRunUnavailable):
		status, msg = http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, prompt.ErrUpstream):
		status, msg = http.StatusBadGateway, err.Error()
	}

	if status >= 500 {
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
