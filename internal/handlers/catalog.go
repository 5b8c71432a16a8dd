package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/auth"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/httpx"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

// CatalogHandlers serves the service catalog used when budgeting orders.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{authn: authn, catalog: catalog}
}

// Routes registers the /catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.StaffRoles()...))
	}
	r.Get("/services", h.listServices)
}

type catalogListResponse struct {
	Items []catalogEntryPayload `json:"items"`
}

type catalogEntryPayload struct {
	ID                  string `json:"id"`
	ServiceKey          string `json:"service_key"`
	DisplayNameKey      string `json:"display_name_key"`
	ItemType            string `json:"item_type"`
	BasePrice           string `json:"base_price"`
	TaxPercentage       string `json:"tax_percentage"`
	NetPrice            string `json:"net_price"`
	RequiresMeasurement bool   `json:"requires_measurement"`
	IsActive            bool   `json:"is_active"`
	DisplayOrder        int    `json:"display_order"`
}

func (h *CatalogHandlers) listServices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	filter := services.CatalogFilter{ActiveOnly: true}
	if raw := strings.TrimSpace(query.Get("item_type")); raw != "" {
		itemType, err := domain.ParseItemType(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("item_type must be a valid item type"))
			return
		}
		filter.ItemType = &itemType
	}
	if raw := strings.TrimSpace(query.Get("include_inactive")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest("include_inactive must be a boolean"))
			return
		}
		filter.ActiveOnly = !include
	}

	entries, err := h.catalog.ListServices(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]catalogEntryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, catalogEntryPayload{
			ID:                  entry.ID,
			ServiceKey:          entry.ServiceKey,
			DisplayNameKey:      entry.DisplayNameKey,
			ItemType:            string(entry.ItemType),
			BasePrice:           formatMoney(entry.BasePrice),
			TaxPercentage:       entry.TaxPercentage.String(),
			NetPrice:            formatMoney(entry.NetPrice()),
			RequiresMeasurement: entry.RequiresMeasurement,
			IsActive:            entry.IsActive,
			DisplayOrder:        entry.DisplayOrder,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, catalogListResponse{Items: items})
}
