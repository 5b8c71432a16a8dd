package services

import (
	"context"
	"errors"
	"strings"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog repositories.CatalogRepository
}

type catalogService struct {
	catalog repositories.CatalogRepository
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService exposes catalog lookups for budgeting and listing.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
	}
	return &catalogService{catalog: deps.Catalog}, nil
}

func (s *catalogService) ListServices(ctx context.Context, filter CatalogFilter) ([]ServiceCatalogEntry, error) {
	entries, err := s.catalog.List(ctx, filter)
	if err != nil {
		return nil, mapRepositoryError(err, "service catalog", "")
	}
	return entries, nil
}

// FindActiveServiceByKey fails with a NotFoundError for unknown or inactive keys.
func (s *catalogService) FindActiveServiceByKey(ctx context.Context, serviceKey string) (ServiceCatalogEntry, error) {
	key := strings.TrimSpace(serviceKey)
	if key == "" {
		return ServiceCatalogEntry{}, invalidInput("service_key", "service key is required")
	}
	entry, err := s.catalog.FindActiveByKey(ctx, key)
	if err != nil {
		return ServiceCatalogEntry{}, mapRepositoryError(err, "service catalog entry", key)
	}
	if !entry.IsActive {
		return ServiceCatalogEntry{}, &NotFoundError{Resource: "service catalog entry", ID: key}
	}
	return entry, nil
}
