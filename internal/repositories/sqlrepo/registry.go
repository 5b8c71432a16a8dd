// Package sqlrepo implements the repository interfaces on gorm for PostgreSQL and sqlite.
package sqlrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// Registry wires every SQL repository against one connection pool.
type Registry struct {
	*sqlstore.UnitOfWork

	db       *gorm.DB
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

// WithCacheVersions replaces the SQL counter table with another store, typically redis.
func WithCacheVersions(versions repositories.CacheVersionRepository) RegistryOption {
	return func(r *Registry) {
		if versions != nil {
			r.versions = versions
		}
	}
}

// NewRegistry builds the registry. The schema must already be migrated.
func NewRegistry(db *gorm.DB, opts ...RegistryOption) (*Registry, error) {
	if db == nil {
		return nil, errors.New("sqlrepo: db is required")
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	services, err := NewOrderServiceRepository(db)
	if err != nil {
		return nil, err
	}
	motor, err := NewMotorInfoRepository(db)
	if err != nil {
		return nil, err
	}
	history, err := NewHistoryRepository(db)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(db)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(db)
	if err != nil {
		return nil, err
	}
	versions, err := NewCacheVersionRepository(db)
	if err != nil {
		return nil, err
	}

	reg := &Registry{
		UnitOfWork: sqlstore.NewUnitOfWork(db),
		db:         db,
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

func (r *Registry) Close(context.Context) error { return sqlstore.Close(r.db) }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) OrderServices() repositories.OrderServiceRepository { return r.services }
func (r *Registry) MotorInfo() repositories.MotorInfoRepository { return r.motor }
func (r *Registry) History() repositories.HistoryRepository { return r.history }
func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) Users() repositories.UserRepository { return r.users }
func (r *Registry) CacheVersions() repositories.CacheVersionRepository { return r.versions }
func (r *Registry) Health() repositories.HealthRepository { return r.health }
