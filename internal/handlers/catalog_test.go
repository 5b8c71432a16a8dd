package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

type stubCatalogService struct {
	entries []services.ServiceCatalogEntry
	filter  services.CatalogFilter
	err     error
}

func (s *stubCatalogService) ListServices(_ context.Context, filter services.CatalogFilter) ([]services.ServiceCatalogEntry, error) {
	s.filter = filter
	return s.entries, s.err
}

func (s *stubCatalogService) FindActiveServiceByKey(context.Context, string) (services.ServiceCatalogEntry, error) {
	return services.ServiceCatalogEntry{}, &services.NotFoundError{Resource: "service catalog entry"}
}

func newCatalogTestRouter(h *CatalogHandlers) http.Handler {
	r := chi.NewRouter()
	r.Use(withStaffIdentity)
	r.Route("/catalog", h.Routes)
	return r
}

func TestCatalogHandlersListServices(t *testing.T) {
	svc := &stubCatalogService{entries: []services.ServiceCatalogEntry{{
		ID:             "cat_1",
		ServiceKey:     "head_resurface",
		DisplayNameKey: "services.head_resurface",
		ItemType:       domain.ItemTypeCylinderHead,
		BasePrice:      decimal.RequireFromString("600"),
		TaxPercentage:  decimal.RequireFromString("16"),
		IsActive:       true,
	}}}
	router := newCatalogTestRouter(NewCatalogHandlers(nil, svc))

	rr := serve(t, router, http.MethodGet, "/catalog/services?item_type=cylinder_head", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.filter.ItemType == nil || *svc.filter.ItemType != domain.ItemTypeCylinderHead || !svc.filter.ActiveOnly {
		t.Fatalf("unexpected filter %+v", svc.filter)
	}
	item := decodeBody(t, rr)["items"].([]any)[0].(map[string]any)
	if item["net_price"] != "696.00" || item["base_price"] != "600.00" {
		t.Fatalf("unexpected prices %v", item)
	}

	rr = serve(t, router, http.MethodGet, "/catalog/services?include_inactive=true", "")
	if rr.Code != http.StatusOK || svc.filter.ActiveOnly {
		t.Fatalf("expected inactive entries to be requested, got %d %+v", rr.Code, svc.filter)
	}
}

func TestCatalogHandlersRejectsBadQuery(t *testing.T) {
	router := newCatalogTestRouter(NewCatalogHandlers(nil, &stubCatalogService{}))
	for _, target := range []string{"/catalog/services?item_type=turbo", "/catalog/services?include_inactive=maybe"} {
		if rr := serve(t, router, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}
