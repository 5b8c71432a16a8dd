package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const catalogCollection = "serviceCatalog"

// CatalogRepository stores catalog entries keyed by service key.
type CatalogRepository struct {
	base *pfirestore.Collection[catalogDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		base: pfirestore.NewCollection[catalogDocument](provider, catalogCollection),
	}, nil
}

func (r *CatalogRepository) FindActiveByKey(ctx context.Context, serviceKey string) (domain.ServiceCatalogEntry, error) {
	key := strings.TrimSpace(serviceKey)
	if key == "" {
		return domain.ServiceCatalogEntry{}, pfirestore.NotFound("serviceCatalog.get", "service key is required")
	}
	doc, err := r.base.Get(ctx, key)
	if err != nil {
		return domain.ServiceCatalogEntry{}, err
	}
	if !doc.Data.IsActive {
		return domain.ServiceCatalogEntry{}, pfirestore.NotFound("serviceCatalog.get", "service "+key+" is inactive")
	}
	return decodeCatalog(doc.ID, doc.Data), nil
}

func (r *CatalogRepository) List(ctx context.Context, filter repositories.CatalogFilter) ([]domain.ServiceCatalogEntry, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ItemType != nil {
			q = q.Where("itemType", "==", string(*filter.ItemType))
		}
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		return q.OrderBy("displayOrder", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ServiceCatalogEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeCatalog(doc.ID, doc.Data))
	}
	return out, nil
}

func (r *CatalogRepository) Upsert(ctx context.Context, entry domain.ServiceCatalogEntry) error {
	key := strings.TrimSpace(entry.ServiceKey)
	if key == "" {
		return errors.New("catalog repository: service key is required")
	}
	return r.base.Set(ctx, key, catalogDocument{
		ID:                  entry.ID,
		DisplayNameKey:      entry.DisplayNameKey,
		ItemType:            string(entry.ItemType),
		BasePrice:           domain.RoundMoney(entry.BasePrice).StringFixed(2),
		TaxPercentage:       entry.TaxPercentage.String(),
		RequiresMeasurement: entry.RequiresMeasurement,
		IsActive:            entry.IsActive,
		DisplayOrder:        entry.DisplayOrder,
	})
}
