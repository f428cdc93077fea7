package httputil

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/studiodesk/studiodesk/internal/errors"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
	TraceID string                 `json:"trace_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes an error body. The trace id is taken from the
// X-Trace-ID response header when present.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorBody{
		Error:   message,
		Code:    code,
		Details: details,
		TraceID: w.Header().Get("X-Trace-ID"),
	})
}

// WriteError maps err onto an HTTP response. Unknown errors become 500 with
// a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if se := errors.GetServiceError(err); se != nil {
		WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
		return
	}
	WriteErrorResponse(w, r, http.StatusInternalServerError, string(errors.CodeInternal), "internal error", nil)
}

// Unauthorized writes a 401 response.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteJSON(w, http.StatusUnauthorized, ErrorBody{Error: message, Code: string(errors.CodeUnauthorized)})
}

// DecodeJSON reads a JSON request body into dst. Unknown fields and bodies
// above MaxBodyBytes are rejected.
func DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.InvalidInput("request body is required")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if stderrors.Is(err, io.EOF) {
			return errors.InvalidInput("request body is required")
		}
		return errors.InvalidInput(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
