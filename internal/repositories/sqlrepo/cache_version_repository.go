package sqlrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// CacheVersionRepository keeps one counter row per namespace.
type CacheVersionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ repositories.CacheVersionRepository = (*CacheVersionRepository)(nil)

func NewCacheVersionRepository(db *gorm.DB) (*CacheVersionRepository, error) {
	if db == nil {
		return nil, errors.New("cache version repository requires db")
	}
	return &CacheVersionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Bump increments the namespace counter, creating it at 1. The upsert and read back share a
// transaction so the returned value is the one this call wrote.
func (r *CacheVersionRepository) Bump(ctx context.Context, namespace string) (int64, error) {
	const op = "cache_versions.bump"
	namespace, err := repositories.ValidateNamespace(op, namespace)
	if err != nil {
		return 0, err
	}
	var version int64
	err = sqlstore.NewUnitOfWork(r.db).RunInTx(ctx, func(txCtx context.Context) error {
		conn := sqlstore.Conn(txCtx, r.db)
		rec := cacheVersionRecord{Namespace: namespace, Version: 1, UpdatedAt: r.now()}
		err := conn.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "namespace"}},
			DoUpdates: clause.Assignments(map[string]any{
				"version":    gorm.Expr("cache_versions.version + 1"),
				"updated_at": rec.UpdatedAt,
			}),
		}).Create(&rec).Error
		if err != nil {
			return err
		}
		var stored cacheVersionRecord
		if err := conn.Where("namespace = ?", namespace).First(&stored).Error; err != nil {
			return err
		}
		version = stored.Version
		return nil
	})
	if err != nil {
		return 0, repositories.NewVersionError(op, repositories.VersionErrorUnavailable, "bump failed", sqlstore.WrapError(op, err))
	}
	return version, nil
}

// Current returns zero for namespaces that were never bumped.
func (r *CacheVersionRepository) Current(ctx context.Context, namespace string) (int64, error) {
	const op = "cache_versions.current"
	namespace, err := repositories.ValidateNamespace(op, namespace)
	if err != nil {
		return 0, err
	}
	var stored cacheVersionRecord
	err = sqlstore.Conn(ctx, r.db).Where("namespace = ?", namespace).First(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, repositories.NewVersionError(op, repositories.VersionErrorUnavailable, "read failed", sqlstore.WrapError(op, err))
	}
	return stored.Version, nil
}
