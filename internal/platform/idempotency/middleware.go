package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/auth"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
	// Order create payloads are small; anything larger is not worth buffering twice.
	maxBodyBytes = 1 << 20
)

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	required bool
	now      func() time.Time
	logger   *zap.Logger
}

type MiddlewareOption func(*guard)

func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a stored response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithRequiredKey answers 400 when the header is missing. Without it such requests run
// unguarded.
func WithRequiredKey() MiddlewareOption {
	return func(g *guard) { g.required = true }
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Middleware replays the first response for a repeated Idempotency-Key from the same caller.
// A key reused with a different request is rejected with 422 and a key still in flight
// with 409. 5xx responses are not stored so the client can retry.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case key == "" && g.required:
		g.reject(w, r, http.StatusBadRequest, "idempotency_key_required", "missing "+g.header+" header")
		return
	case key == "":
		next.ServeHTTP(w, r)
		return
	case len(key) > maxKeyLength:
		g.reject(w, r, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		g.reject(w, r, http.StatusBadRequest, "idempotency_read_body_failed", "unable to read request body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	caller := callerID(r)
	scoped := scopeKey(caller, key)
	fingerprint := fingerprintOf(r, body, caller)
	logger := g.logger.With(zap.String("caller", caller))

	reservation, err := g.store.Reserve(r.Context(), scoped, fingerprint, g.now().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		g.reject(w, r, http.StatusUnprocessableEntity, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	case err != nil:
		logger.Error("idempotency reserve failed", zap.Error(err))
		g.reject(w, r, http.StatusServiceUnavailable, "idempotency_store_error", "unable to process idempotency key")
		return
	case reservation.State == ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case reservation.State == ReservationStatePending:
		g.reject(w, r, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	buf := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buf, r)

	if buf.statusCode() >= http.StatusInternalServerError {
		if err := g.store.Release(r.Context(), scoped); err != nil {
			logger.Warn("idempotency release failed", zap.Error(err))
		}
	} else {
		resp := Response{Status: buf.statusCode(), Headers: buf.header, Body: buf.body.Bytes()}
		if err := g.store.SaveResponse(r.Context(), scoped, fingerprint, resp, g.now().UTC(), g.ttl); err != nil {
			// The order already exists; deliver the response and let the key lapse.
			logger.Error("idempotency save failed", zap.Error(err))
			_ = g.store.Release(r.Context(), scoped)
		}
	}
	buf.copyTo(w)
}

func callerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// scopeKey keeps two callers that pick the same key from seeing each other's orders.
func scopeKey(caller, key string) string {
	return caller + "|" + key
}

func fingerprintOf(r *http.Request, body []byte, caller string) string {
	return sha256Hex([]byte(strings.Join([]string{
		strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery,
		r.Header.Get("Content-Type"), caller, sha256Hex(body),
	}, "|")))
}

func (g *guard) reject(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedResponse holds the handler's output until it has been stored.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) copyTo(w http.ResponseWriter) {
	for name, values := range b.header {
		w.Header()[name] = values
	}
	w.WriteHeader(b.statusCode())
	_, _ = w.Write(b.body.Bytes())
}
