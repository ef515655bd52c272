package response

import (
	"encoding/json"
	"net/http"
)

// Every endpoint answers with one of two envelopes: {"data": ...} on
// success or {"error": {...}} on failure, so clients never have to sniff
// the shape.

type envelope struct {
	Data any `json:"data"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes data in the success envelope with status 200.
func JSON(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, envelope{Data: data})
}

// Accepted writes data in the success envelope with status 202. Used by
// the async trigger endpoints (sync jobs, engine start).
func Accepted(w http.ResponseWriter, data any) {
	write(w, http.StatusAccepted, envelope{Data: data})
}

// Error writes a machine-readable error code plus a human message.
func Error(w http.ResponseWriter, status int, code, message string, details any) {
	write(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
