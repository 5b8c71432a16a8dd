package services

import (
	"context"
	"errors"
	"strings"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// Cache namespaces readers build their keys from.
const (
	CacheNamespaceOrders = "orders"
)

// OrderCacheNamespace scopes one order's detail view.
func OrderCacheNamespace(orderID string) string { return "order:" + orderID }

// OrderHistoryCacheNamespace scopes one order's timeline.
func OrderHistoryCacheNamespace(orderID string) string { return "order-history:" + orderID }

// CacheVersionServiceDeps bundles collaborators required to construct the cache version service.
type CacheVersionServiceDeps struct {
	Repository repositories.CacheVersionRepository
}

type cacheVersionService struct {
	repo repositories.CacheVersionRepository
}

var _ CacheVersionService = (*cacheVersionService)(nil)

// NewCacheVersionService wraps a counter store with order specific namespaces.
func NewCacheVersionService(deps CacheVersionServiceDeps) (CacheVersionService, error) {
	if deps.Repository == nil {
		return nil, errors.New("cache version service: repository is required")
	}
	return &cacheVersionService{repo: deps.Repository}, nil
}

func (s *cacheVersionService) BumpVersion(ctx context.Context, namespace string) (int64, error) {
	return s.repo.Bump(ctx, namespace)
}

func (s *cacheVersionService) CurrentVersion(ctx context.Context, namespace string) (int64, error) {
	return s.repo.Current(ctx, namespace)
}

// InvalidateOrder bumps every namespace and reports all failures together.
func (s *cacheVersionService) InvalidateOrder(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return invalidInput("order_id", "order id is required")
	}
	var errs []error
	for _, ns := range []string{CacheNamespaceOrders, OrderCacheNamespace(orderID), OrderHistoryCacheNamespace(orderID)} {
		if _, err := s.repo.Bump(ctx, ns); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
