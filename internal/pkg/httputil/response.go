package httputil

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/ignite/outreach-analytics/internal/domain"
)

// ErrorResponse is the standard error envelope for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code. The data is
// serialized and Content-Type is set automatically. If encoding fails,
// a 500 error is written instead.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[httputil] JSON encode error: %v", err)
	}
}

// OK writes a 200 response with the given data.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Error writes a JSON error response. Use for client errors (4xx).
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// BadRequest writes a 400 error.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, message)
}

// InternalError writes a 500 error. Logs the real error but returns a
// generic message to the client (never leak internals).
func InternalError(w http.ResponseWriter, err error) {
	log.Printf("[httputil] internal error: %v", err)
	Error(w, http.StatusInternalServerError, "internal server error")
}

// Decode reads JSON from the request body into dst.
// Returns false and writes a 400 response if parsing fails.
func Decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// ServiceError maps a service-layer error to a response: validation
// errors are 400 with their code, an unavailable dependency is 503, and
// anything else is a logged 500.
func ServiceError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		su *domain.ServiceUnavailableError
	)
	switch {
	case errors.As(err, &ve):
		JSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Message, Code: string(ve.Code)})
	case errors.As(err, &su):
		JSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: su.Error(), Code: "SERVICE_UNAVAILABLE"})
	default:
		InternalError(w, err)
	}
}

// NDJSON writes newline-delimited JSON, flushing after every value.
type NDJSON struct {
	enc *json.Encoder
	fl  http.Flusher
}

// NewNDJSON sets the streaming headers and writes a 200 status.
func NewNDJSON(w http.ResponseWriter) *NDJSON {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl, _ := w.(http.Flusher)
	return &NDJSON{enc: json.NewEncoder(w), fl: fl}
}

// Send writes v as one line.
func (n *NDJSON) Send(v any) error {
	if err := n.enc.Encode(v); err != nil {
		return err
	}
	if n.fl != nil {
		n.fl.Flush()
	}
	return nil
}
