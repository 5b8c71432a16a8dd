package sqlrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// CatalogRepository reads the service catalog.
type CatalogRepository struct {
	db *gorm.DB
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(db *gorm.DB) (*CatalogRepository, error) {
	if db == nil {
		return nil, errors.New("catalog repository requires db")
	}
	return &CatalogRepository{db: db}, nil
}

func (r *CatalogRepository) FindActiveByKey(ctx context.Context, serviceKey string) (domain.ServiceCatalogEntry, error) {
	key := strings.TrimSpace(serviceKey)
	if key == "" {
		return domain.ServiceCatalogEntry{}, sqlstore.NotFound("service_catalog.find", "service key is required")
	}
	var rec catalogRecord
	err := sqlstore.Conn(ctx, r.db).
		Where("service_key = ? AND is_active = ?", key, true).
		First(&rec).Error
	if err != nil {
		return domain.ServiceCatalogEntry{}, sqlstore.WrapError("service_catalog.find", err)
	}
	return rec.toDomain(), nil
}

func (r *CatalogRepository) List(ctx context.Context, filter repositories.CatalogFilter) ([]domain.ServiceCatalogEntry, error) {
	query := sqlstore.Conn(ctx, r.db).Model(&catalogRecord{})
	if filter.ItemType != nil {
		query = query.Where("item_type = ?", string(*filter.ItemType))
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	var recs []catalogRecord
	if err := query.Order("item_type ASC, display_order ASC, service_key ASC").Find(&recs).Error; err != nil {
		return nil, sqlstore.WrapError("service_catalog.list", err)
	}
	out := make([]domain.ServiceCatalogEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toDomain())
	}
	return out, nil
}

// Upsert keys on service_key so seeding is repeatable.
func (r *CatalogRepository) Upsert(ctx context.Context, entry domain.ServiceCatalogEntry) error {
	conn := sqlstore.Conn(ctx, r.db)
	rec := newCatalogRecord(entry)
	var existing catalogRecord
	err := conn.Where("service_key = ?", rec.ServiceKey).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = conn.Create(&rec).Error
	case err == nil:
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		err = conn.Save(&rec).Error
	}
	if err != nil {
		return sqlstore.WrapError("service_catalog.upsert", err)
	}
	return nil
}
