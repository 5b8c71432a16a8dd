package sqlrepo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/pagination"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/sqlstore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// HistoryRepository appends audit rows; rows are never updated or deleted.
type HistoryRepository struct {
	db *gorm.DB
}

var _ repositories.HistoryRepository = (*HistoryRepository)(nil)

func NewHistoryRepository(db *gorm.DB) (*HistoryRepository, error) {
	if db == nil {
		return nil, errors.New("history repository requires db")
	}
	return &HistoryRepository{db: db}, nil
}

func (r *HistoryRepository) Append(ctx context.Context, entries ...domain.OrderHistory) error {
	if len(entries) == 0 {
		return nil
	}
	recs := make([]historyRecord, 0, len(entries))
	for _, entry := range entries {
		recs = append(recs, newHistoryRecord(entry))
	}
	if err := sqlstore.Conn(ctx, r.db).Create(&recs).Error; err != nil {
		return sqlstore.WrapError("order_histories.append", err)
	}
	return nil
}

// List returns rows oldest first, ties broken by id.
func (r *HistoryRepository) List(ctx context.Context, filter repositories.HistoryFilter) (domain.CursorPage[domain.OrderHistory], error) {
	orderID := strings.TrimSpace(filter.OrderID)
	if orderID == "" {
		return domain.CursorPage[domain.OrderHistory]{}, errors.New("order_histories.list: order id is required")
	}
	pageSize := pagination.Normalize(filter.Pagination.PageSize)
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderHistory]{}, err
	}

	query := sqlstore.Conn(ctx, r.db).Model(&historyRecord{}).Where("order_id = ?", orderID)
	if len(filter.Fields) > 0 {
		fields := make([]string, 0, len(filter.Fields))
		for _, f := range filter.Fields {
			fields = append(fields, string(f))
		}
		query = query.Where("field_changed IN ?", fields)
	}
	if filter.DateRange.From != nil {
		query = query.Where("created_at >= ?", *filter.DateRange.From)
	}
	if filter.DateRange.To != nil {
		query = query.Where("created_at <= ?", *filter.DateRange.To)
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at > ?) OR (created_at = ? AND id > ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var recs []historyRecord
	if err := query.Order("created_at ASC, id ASC").Limit(pageSize).Find(&recs).Error; err != nil {
		return domain.CursorPage[domain.OrderHistory]{}, sqlstore.WrapError("order_histories.list", err)
	}
	items := make([]domain.OrderHistory, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.toDomain())
	}
	return domain.CursorPage[domain.OrderHistory]{
		Items: items,
		NextPageToken: pagination.NextToken(items, pageSize, func(h domain.OrderHistory) pagination.Cursor {
			return pagination.Cursor{CreatedAt: h.CreatedAt, ID: h.ID}
		}),
	}, nil
}
