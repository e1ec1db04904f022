package httpx

import (
	"net/http"

	"github.com/sundayezeilo/shorturl/internal/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes for endpoints that
// report failures with their natural status, such as the health check.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Conflict:
		return http.StatusConflict
	case errx.Invalid:
		return http.StatusBadRequest
	case errx.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to the machine-readable error code.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "not_found"
	case errx.Conflict:
		return "conflict"
	case errx.Invalid:
		return "invalid_input"
	case errx.Unavailable:
		return "unavailable"
	default:
		return "internal_error"
	}
}
