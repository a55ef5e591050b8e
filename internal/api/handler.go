// Package api provides HTTP handlers for the tradefeed API.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/containerd/errdefs"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error to the HTTP status surfaced to API callers.
// Platform-side failures (unavailable, unknown remote codes) are the
// upstream's fault, hence 502.
func statusFor(err error) int {
	switch {
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsConflict(err):
		return http.StatusConflict
	case errdefs.IsUnavailable(err), errdefs.IsUnknown(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
