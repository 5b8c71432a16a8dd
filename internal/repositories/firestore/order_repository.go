package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	pfirestore "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/firestore"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/pagination"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

const (
	ordersCollection   = "orders"
	itemsSubcollection = "items"
)

// OrderRepository stores order headers in `orders` and items (with embedded components) in
// the `orders/{id}/items` subcollection so item receipts are blind writes inside a transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[orderDocument]
	uow      *pfirestore.UnitOfWork
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		uow:      pfirestore.NewUnitOfWork(provider),
	}, nil
}

func (r *OrderRepository) items(orderID string) *pfirestore.Collection[itemDocument] {
	return pfirestore.NewCollection[itemDocument](r.provider, ordersCollection+"/"+orderID+"/"+itemsSubcollection)
}

// Insert creates the header and one document per item.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order repository: order id is required")
	}
	if err := r.base.Create(ctx, id, encodeOrder(order)); err != nil {
		return err
	}
	items := r.items(id)
	for _, item := range order.Items {
		if err := items.Create(ctx, item.ID, encodeItem(item)); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	order, _, err := r.load(ctx, orderID)
	return order, err
}

// LockByID reads the order through the transaction and remembers its version for Update.
func (r *OrderRepository) LockByID(ctx context.Context, orderID string) (domain.Order, error) {
	state, ok := pfirestore.TxStateFromContext(ctx)
	if !ok {
		return domain.Order{}, errors.New("orders.lock: must run inside a transaction")
	}
	order, path, err := r.load(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	state.RememberVersion(path, order.Version)
	return order, nil
}

func (r *OrderRepository) load(ctx context.Context, orderID string) (domain.Order, string, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, "", pfirestore.NotFound("orders.get", "order id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Order{}, "", err
	}
	if doc.Data.DeletedAt != nil {
		return domain.Order{}, "", pfirestore.NotFound("orders.get", "order deleted")
	}
	items, err := r.items(id).Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return domain.Order{}, "", err
	}
	itemDocs := make([]itemDocument, 0, len(items))
	for _, item := range items {
		data := item.Data
		if data.ID == "" {
			data.ID = item.ID
		}
		itemDocs = append(itemDocs, data)
	}
	return decodeOrder(doc.ID, doc.Data, itemDocs), doc.Path, nil
}

// Update writes header fields. Inside a unit of work the version observed by LockByID is
// compared without a second read, since Firestore rejects reads after queued writes.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return pfirestore.NotFound("orders.update", "order id is required")
	}
	return r.uow.RunInTx(ctx, func(ctx context.Context) error {
		state, _ := pfirestore.TxStateFromContext(ctx)
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		current, ok := state.Version(ref.Path)
		if !ok {
			doc, err := r.base.Get(ctx, id)
			if err != nil {
				return err
			}
			current = doc.Data.Version
		}
		if current != expectedVersion {
			return pfirestore.Conflict("orders.update", fmt.Sprintf("order version is %d, expected %d", current, expectedVersion))
		}
		categories := append([]int{}, order.Categories...)
		updates := []firestore.Update{
			{Path: "title", Value: order.Title},
			{Path: "description", Value: order.Description},
			{Path: "status", Value: string(order.Status)},
			{Path: "priority", Value: string(order.Priority)},
			{Path: "assignedTo", Value: order.AssignedTo},
			{Path: "updatedBy", Value: order.UpdatedBy},
			{Path: "estimatedCompletion", Value: order.EstimatedCompletion},
			{Path: "actualCompletion", Value: order.ActualCompletion},
			{Path: "notes", Value: order.Notes},
			{Path: "categories", Value: categories},
			{Path: "version", Value: expectedVersion + 1},
			{Path: "updatedAt", Value: order.UpdatedAt.UTC()},
		}
		if err := r.base.Update(ctx, id, updates); err != nil {
			return err
		}
		state.RememberVersion(ref.Path, expectedVersion+1)
		return nil
	})
}

// UpdateItem overwrites the item document including its components.
func (r *OrderRepository) UpdateItem(ctx context.Context, item domain.OrderItem) error {
	if strings.TrimSpace(item.OrderID) == "" || strings.TrimSpace(item.ID) == "" {
		return pfirestore.NotFound("orders.items.update", "order and item ids are required")
	}
	return r.items(item.OrderID).Set(ctx, item.ID, encodeItem(item))
}

// List orders newest first with a keyset cursor over (createdAt, document id).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := pagination.Normalize(filter.Pagination.PageSize)
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("deletedAt", "==", nil)
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		if filter.AssignedTo != "" {
			q = q.Where("assignedTo", "==", filter.AssignedTo)
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.CreatedRange.From != nil {
			q = q.Where("createdAt", ">=", filter.CreatedRange.From.UTC())
		}
		if filter.CreatedRange.To != nil {
			q = q.Where("createdAt", "<=", filter.CreatedRange.To.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt.UTC(), cursor.ID)
		}
		return q.Limit(pageSize)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, _, err := r.load(ctx, doc.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}
	return domain.CursorPage[domain.Order]{
		Items: orders,
		NextPageToken: pagination.NextToken(orders, pageSize, func(o domain.Order) pagination.Cursor {
			return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
		}),
	}, nil
}
