package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/requestctx"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/textutil"
)

const (
	maxCodeLen    = 80
	maxMessageLen = 512
	maxIDLen      = 80
)

// envelopeKeys are written by WriteError itself; details cannot replace them.
var envelopeKeys = []string{"error", "message", "status", "request_id", "trace_id"}

// Error is the JSON body every failed request gets:
//
//	{"error": "order_invalid_state", "message": "...", "status": 409, "request_id": "...", "trace_id": "..."}
//
// Details are merged in at the top level next to those keys.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

func (e Error) Error() string { return e.Code + ": " + e.Message }

// NewError builds an envelope. A zero status means 500. Code and message are flattened to
// one line and truncated.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, maxCodeLen), Message: oneLine(message, maxMessageLen), Status: status}
}

// BadRequest is NewError("invalid_request", message, 400).
func BadRequest(message string) Error {
	return NewError("invalid_request", message, http.StatusBadRequest)
}

// WithDetails returns a copy of e carrying extra top-level fields.
func (e Error) WithDetails(details map[string]any) Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError renders e, stamping the chi request id and the trace id from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	body := make(map[string]any, len(e.Details)+len(envelopeKeys))
	for k, v := range e.Details {
		body[k] = v
	}
	for _, k := range envelopeKeys {
		delete(body, k)
	}
	body["error"] = e.Code
	body["message"] = e.Message
	body["status"] = e.Status
	if id := oneLine(middleware.GetReqID(ctx), maxIDLen); id != "" {
		body["request_id"] = id
	}
	if id := oneLine(requestctx.TraceID(ctx), maxIDLen); id != "" {
		body["trace_id"] = id
	}
	WriteJSON(w, e.Status, body)
}

func oneLine(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	return textutil.Truncate(value, limit)
}
