package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/pagination"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const historyCollection = "orderHistory"

// HistoryRepository appends audit rows to a top-level collection indexed by orderId and createdAt.
type HistoryRepository struct {
	base *pfirestore.Collection[historyDocument]
}

var _ repositories.HistoryRepository = (*HistoryRepository)(nil)

func NewHistoryRepository(provider *pfirestore.Provider) (*HistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("history repository requires firestore provider")
	}
	return &HistoryRepository{
		base: pfirestore.NewCollection[historyDocument](provider, historyCollection),
	}, nil
}

func (r *HistoryRepository) Append(ctx context.Context, entries ...domain.OrderHistory) error {
	for _, entry := range entries {
		doc := historyDocument{
			OrderID:      entry.OrderID,
			FieldChanged: string(entry.FieldChanged),
			OldValue:     entry.OldValue,
			NewValue:     entry.NewValue,
			Comment:      entry.Comment,
			CreatedBy:    entry.CreatedBy,
			CreatedAt:    entry.CreatedAt.UTC(),
		}
		if err := r.base.Create(ctx, entry.ID, doc); err != nil {
			return err
		}
	}
	return nil
}

// List returns rows oldest first.
func (r *HistoryRepository) List(ctx context.Context, filter repositories.HistoryFilter) (domain.CursorPage[domain.OrderHistory], error) {
	orderID := strings.TrimSpace(filter.OrderID)
	if orderID == "" {
		return domain.CursorPage[domain.OrderHistory]{}, errors.New("orderHistory.list: order id is required")
	}
	pageSize := pagination.Normalize(filter.Pagination.PageSize)
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderHistory]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("orderId", "==", orderID)
		if len(filter.Fields) > 0 {
			fields := make([]string, 0, len(filter.Fields))
			for _, f := range filter.Fields {
				fields = append(fields, string(f))
			}
			q = q.Where("fieldChanged", "in", fields)
		}
		if filter.DateRange.From != nil {
			q = q.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			q = q.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(pageSize)
	})
	if err != nil {
		return domain.CursorPage[domain.OrderHistory]{}, err
	}

	items := make([]domain.OrderHistory, 0, len(docs))
	for _, doc := range docs {
		items = append(items, domain.OrderHistory{
			ID:           doc.ID,
			OrderID:      doc.Data.OrderID,
			FieldChanged: domain.HistoryField(doc.Data.FieldChanged),
			OldValue:     doc.Data.OldValue,
			NewValue:     doc.Data.NewValue,
			Comment:      doc.Data.Comment,
			CreatedBy:    doc.Data.CreatedBy,
			CreatedAt:    doc.Data.CreatedAt.UTC(),
		})
	}
	return domain.CursorPage[domain.OrderHistory]{
		Items: items,
		NextPageToken: pagination.NextToken(items, pageSize, func(h domain.OrderHistory) pagination.Cursor {
			return pagination.Cursor{CreatedAt: h.CreatedAt, ID: h.ID}
		}),
	}, nil
}
