package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the JSON error body. Business errors set only Error, so the
// body reads {"error":"..."}.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// WriteJSON writes v as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are already sent
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes an ErrorResponse.
func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// WriteBusinessError writes the bare {"error":msg} body clients of the
// shortener API expect.
func WriteBusinessError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}
