// Package firestore implements the order store on Cloud Firestore.
//
// Layout: orders/{orderID} (header) with orders/{orderID}/items/{itemID}, orderServices/{id},
// orderMotorInfo/{orderID}, orderHistory/{id}, serviceCatalog/{serviceKey}, users/{uid} and
// cacheVersions/{namespace}.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// Registry wires every Firestore repository against one provider.
type Registry struct {
	*pfirestore.UnitOfWork

	provider *pfirestore.Provider
	orders   *OrderRepository
	services *OrderServiceRepository
	motor    *MotorInfoRepository
	history  *HistoryRepository
	catalog  *CatalogRepository
	users    *UserRepository
	versions repositories.CacheVersionRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises optional collaborators.
type RegistryOption func(*Registry)

// WithHealth installs the readiness probe repository.
func WithHealth(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) { r.health = health }
}

// WithCacheVersions replaces the Firestore counters with another store.
func WithCacheVersions(versions repositories.CacheVersionRepository) RegistryOption {
	return func(r *Registry) {
		if versions != nil {
			r.versions = versions
		}
	}
}

// WithTxOptions tunes the transactions opened by the unit of work.
func WithTxOptions(opts ...pfirestore.TxOption) RegistryOption {
	return func(r *Registry) {
		r.UnitOfWork = pfirestore.NewUnitOfWork(r.provider, opts...)
	}
}

// NewRegistry builds the registry.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	services, err := NewOrderServiceRepository(provider)
	if err != nil {
		return nil, err
	}
	motor, err := NewMotorInfoRepository(provider)
	if err != nil {
		return nil, err
	}
	history, err := NewHistoryRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	versions, err := NewCacheVersionRepository(provider)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		UnitOfWork: pfirestore.NewUnitOfWork(provider),
		provider:   provider,
		orders:     orders,
		services:   services,
		motor:      motor,
		history:    history,
		catalog:    catalog,
		users:      users,
		versions:   versions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) OrderServices() repositories.OrderServiceRepository { return r.services }
func (r *Registry) MotorInfo() repositories.MotorInfoRepository { return r.motor }
func (r *Registry) History() repositories.HistoryRepository { return r.history }
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Users() repositories.UserRepository { return r.users }
func (r *Registry) CacheVersions() repositories.CacheVersionRepository { return r.versions }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
