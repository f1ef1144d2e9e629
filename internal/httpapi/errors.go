package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"diffstudio/internal/device"
	"diffstudio/internal/diffusion"
	"diffstudio/internal/imaging"
	"diffstudio/internal/manager"
	"diffstudio/internal/pipeline"
	"diffstudio/internal/studio"
	"diffstudio/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps the service error taxonomy onto HTTP status codes.
// Out-of-memory is checked before construction failure: a build that ran
// out of device memory reports 507.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case manager.IsTooBusy(err):
		return http.StatusTooManyRequests
	case manager.IsInvalidTask(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, studio.ErrInvalidParams),
		errors.Is(err, pipeline.ErrInvalidRequest),
		errors.Is(err, imaging.ErrInvalidInput),
		errors.Is(err, diffusion.ErrInvalidSchedule):
		return http.StatusBadRequest
	case device.IsOutOfMemory(err):
		return http.StatusInsufficientStorage
	case manager.IsConstructionFailure(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
