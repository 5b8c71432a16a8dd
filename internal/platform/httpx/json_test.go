package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Title string `json:"title"`
}

func TestDecodeJSON(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		limit   int64
		wantErr error
		status  int
	}{
		{name: "valid", body: `{"title":"Head rebuild"}`},
		{name: "empty", body: "  ", wantErr: ErrEmptyBody, status: http.StatusBadRequest},
		{name: "too large", body: `{"title":"abcdefghij"}`, limit: 8, wantErr: ErrBodyTooLarge, status: http.StatusRequestEntityTooLarge},
		{name: "unknown field", body: `{"titel":"x"}`, status: http.StatusBadRequest},
		{name: "trailing data", body: `{"title":"x"}{"title":"y"}`, status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var dst samplePayload
			err := DecodeJSON(req, tc.limit, &dst)
			if tc.status == 0 {
				require.NoError(t, err)
				assert.Equal(t, "Head rebuild", dst.Title)
				return
			}
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, tc.status, BodyError(err).Status)
		})
	}
}

func TestWriteErrorKeepsEnvelopeKeys(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	apiErr := NewError("order_invalid_state", "not allowed\nnow", http.StatusConflict).
		WithDetails(map[string]any{"current_status": "paid", "error": "overridden", "request_id": "spoofed"})

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, apiErr)

	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "order_invalid_state", body["error"])
	assert.Equal(t, "not allowed now", body["message"])
	assert.EqualValues(t, http.StatusConflict, body["status"])
	assert.Equal(t, "req-42", body["request_id"])
	assert.Equal(t, "paid", body["current_status"])
	assert.NotContains(t, body, "trace_id")
}

func TestWithDetailsDoesNotMutateOriginal(t *testing.T) {
	base := BadRequest("bad").WithDetails(map[string]any{"field": "title"})
	derived := base.WithDetails(map[string]any{"field": "status"})
	assert.Equal(t, "title", base.Details["field"])
	assert.Equal(t, "status", derived.Details["field"])
}

func TestNewErrorDefaultsTo500(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, NewError("boom", "x", 0).Status)
}
