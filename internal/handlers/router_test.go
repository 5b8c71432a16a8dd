package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

func TestNewRouterDefaultMounts(t *testing.T) {
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{report: services.SystemHealthReport{Status: domain.HealthStatusOK}}),
	)))

	cases := []struct {
		name   string
		method string
		target string
		status int
		code   string
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK, ""},
		{"readyz", http.MethodGet, "/readyz", http.StatusOK, ""},
		{"orders not wired", http.MethodGet, "/api/v1/orders", http.StatusNotImplemented, "not_implemented"},
		{"catalog not wired", http.MethodGet, "/api/v1/catalog/services", http.StatusNotImplemented, "not_implemented"},
		{"unknown route", http.MethodGet, "/api/v2/orders", http.StatusNotFound, errorNotFoundCode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(t, router, tc.method, tc.target, "")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Fatalf("expected JSON content type, got %q", ct)
			}
			if tc.code != "" {
				if got := decodeBody(t, rr)["error"]; got != tc.code {
					t.Fatalf("expected code %s, got %v", tc.code, got)
				}
			}
		})
	}
}

func TestNewRouterMountsRegistrars(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) {
			return sampleOrder(domain.OrderStatusReceived), nil
		},
	}
	orders := NewOrderHandlers(nil, svc)
	router := NewRouter(
		WithMiddlewares(withStaffIdentity),
		WithOrderRoutes(orders.Routes),
		WithCatalogRoutes(func(r chi.Router) { NewCatalogHandlers(nil, &stubCatalogService{}).Routes(r) }),
	)

	if rr := serve(t, router, http.MethodGet, "/api/v1/orders/ord_1", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected order route to be mounted, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := serve(t, router, http.MethodGet, "/api/v1/catalog/services", ""); rr.Code != http.StatusOK {
		t.Fatalf("expected catalog route to be mounted, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodDelete, "/api/v1/orders/ord_1", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}
