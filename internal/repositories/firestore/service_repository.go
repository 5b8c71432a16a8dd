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

const orderServicesCollection = "orderServices"

// OrderServiceRepository keeps service lines in a top-level collection keyed by service id.
type OrderServiceRepository struct {
	base *pfirestore.Collection[serviceDocument]
}

var _ repositories.OrderServiceRepository = (*OrderServiceRepository)(nil)

func NewOrderServiceRepository(provider *pfirestore.Provider) (*OrderServiceRepository, error) {
	if provider == nil {
		return nil, errors.New("order service repository requires firestore provider")
	}
	return &OrderServiceRepository{
		base: pfirestore.NewCollection[serviceDocument](provider, orderServicesCollection),
	}, nil
}

func (r *OrderServiceRepository) Insert(ctx context.Context, services ...domain.OrderService) error {
	for _, svc := range services {
		if err := r.base.Create(ctx, svc.ID, encodeService(svc)); err != nil {
			return err
		}
	}
	return nil
}

// Update writes gate flags only. Prices are frozen at budgeting time.
func (r *OrderServiceRepository) Update(ctx context.Context, service domain.OrderService) error {
	if strings.TrimSpace(service.ID) == "" {
		return pfirestore.NotFound("orderServices.update", "service id is required")
	}
	return r.base.Update(ctx, service.ID, []firestore.Update{
		{Path: "measurement", Value: service.Measurement},
		{Path: "notes", Value: service.Notes},
		{Path: "isBudgeted", Value: service.IsBudgeted},
		{Path: "isAuthorized", Value: service.IsAuthorized},
		{Path: "isCompleted", Value: service.IsCompleted},
		{Path: "updatedAt", Value: service.UpdatedAt.UTC()},
	})
}

func (r *OrderServiceRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderService, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", strings.TrimSpace(orderID)).
			OrderBy("createdAt", firestore.Asc).
			OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderService, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeService(doc.ID, doc.Data))
	}
	return out, nil
}
