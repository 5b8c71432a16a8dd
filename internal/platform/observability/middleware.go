package observability

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/auth"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/httpx"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/requestctx"
)

// RequestLoggerMiddleware puts a request-scoped logger on the context and writes one
// completion line per request. The line is emitted even when a handler panics, so it must
// sit outside RecoveryMiddleware.
func RequestLoggerMiddleware(base *zap.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(requestFields(r)...)
			r = r.WithContext(requestctx.WithLogger(r.Context(), logger))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()

			panicked := true
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if panicked && status < http.StatusInternalServerError {
					status = http.StatusInternalServerError
				}
				logCompletion(logger, r, status, ww.BytesWritten(), time.Since(started))
			}()
			next.ServeHTTP(ww, r)
			panicked = false
		})
	}
}

func requestFields(r *http.Request) []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("path", SanitizeRoute(r.URL.Path)),
	}
	if info, ok := requestctx.Trace(r.Context()); ok && info.TraceID != "" {
		fields = append(fields, zap.String("trace_id", info.TraceID))
		if info.ProjectID != "" {
			fields = append(fields, zap.String("logging.googleapis.com/trace",
				fmt.Sprintf("projects/%s/traces/%s", info.ProjectID, info.TraceID)))
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		fields = append(fields, zap.String("remote_ip", clean(host, 64)))
	} else if r.RemoteAddr != "" {
		fields = append(fields, zap.String("remote_ip", clean(r.RemoteAddr, 64)))
	}
	return fields
}

// logCompletion records the matched route on the active span and logs at a level that
// follows the status class.
func logCompletion(logger *zap.Logger, r *http.Request, status, bytes int, latency time.Duration) {
	route := r.URL.Path
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	route = SanitizeRoute(route)

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(semconv.HTTPResponseStatusCode(status), semconv.HTTPRoute(route))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}

	fields := []zap.Field{
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", latency),
		zap.Int("bytes", bytes),
	}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		fields = append(fields, zap.String("user_id", SanitizeID(identity.UID)))
	}
	if rctx != nil {
		for param, field := range map[string]string{"orderID": "order_id", "itemID": "item_id"} {
			if id := rctx.URLParam(param); id != "" {
				fields = append(fields, zap.String(field, SanitizeID(id)))
			}
		}
	}

	level := zapcore.InfoLevel
	switch {
	case status >= http.StatusInternalServerError:
		level = zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		level = zapcore.WarnLevel
	}
	logger.Log(level, "request completed", fields...)
}

// RecoveryMiddleware turns a handler panic into a 500 JSON envelope. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func RecoveryMiddleware(fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				requestctx.LoggerOr(r.Context(), fallback).Error("panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
