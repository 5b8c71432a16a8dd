package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

// Money is persisted as a decimal string so Firestore never rounds through float64.

type orderDocument struct {
	CustomerID          string     `firestore:"customerId"`
	Title               string     `firestore:"title"`
	Description         *string    `firestore:"description,omitempty"`
	Status              string     `firestore:"status"`
	Priority            string     `firestore:"priority"`
	AssignedTo          *string    `firestore:"assignedTo,omitempty"`
	CreatedBy           string     `firestore:"createdBy"`
	UpdatedBy           *string    `firestore:"updatedBy,omitempty"`
	EstimatedCompletion *time.Time `firestore:"estimatedCompletion,omitempty"`
	ActualCompletion    *time.Time `firestore:"actualCompletion,omitempty"`
	Notes               *string    `firestore:"notes,omitempty"`
	Categories          []int      `firestore:"categories"`
	Version             int64      `firestore:"version"`
	CreatedAt           time.Time  `firestore:"createdAt"`
	UpdatedAt           time.Time  `firestore:"updatedAt"`
	DeletedAt           *time.Time `firestore:"deletedAt"`
}

type itemDocument struct {
	ID         string              `firestore:"id"`
	ItemType   string              `firestore:"itemType"`
	IsReceived bool                `firestore:"isReceived"`
	Components []componentDocument `firestore:"components"`
	CreatedAt  time.Time           `firestore:"createdAt"`
	UpdatedAt  time.Time           `firestore:"updatedAt"`
}

type componentDocument struct {
	ID         string    `firestore:"id"`
	Name       string    `firestore:"name"`
	IsReceived bool      `firestore:"isReceived"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID:          order.CustomerID,
		Title:               order.Title,
		Description:         order.Description,
		Status:              string(order.Status),
		Priority:            string(order.Priority),
		AssignedTo:          order.AssignedTo,
		CreatedBy:           order.CreatedBy,
		UpdatedBy:           order.UpdatedBy,
		EstimatedCompletion: order.EstimatedCompletion,
		ActualCompletion:    order.ActualCompletion,
		Notes:               order.Notes,
		Categories:          append([]int{}, order.Categories...),
		Version:             order.Version,
		CreatedAt:           order.CreatedAt.UTC(),
		UpdatedAt:           order.UpdatedAt.UTC(),
		DeletedAt:           order.DeletedAt,
	}
	if doc.Categories == nil {
		doc.Categories = []int{}
	}
	return doc
}

func encodeItem(item domain.OrderItem) itemDocument {
	out := itemDocument{
		ID:         item.ID,
		ItemType:   string(item.ItemType),
		IsReceived: item.IsReceived,
		CreatedAt:  item.CreatedAt.UTC(),
		UpdatedAt:  item.UpdatedAt.UTC(),
	}
	for _, c := range item.Components {
		out.Components = append(out.Components, componentDocument{
			ID:         c.ID,
			Name:       c.Name,
			IsReceived: c.IsReceived,
			CreatedAt:  c.CreatedAt.UTC(),
		})
	}
	return out
}

func decodeOrder(id string, doc orderDocument, items []itemDocument) domain.Order {
	order := domain.Order{
		ID:                  id,
		CustomerID:          doc.CustomerID,
		Title:               doc.Title,
		Description:         doc.Description,
		Status:              domain.OrderStatus(doc.Status),
		Priority:            domain.OrderPriority(doc.Priority),
		AssignedTo:          doc.AssignedTo,
		CreatedBy:           doc.CreatedBy,
		UpdatedBy:           doc.UpdatedBy,
		EstimatedCompletion: utcPtr(doc.EstimatedCompletion),
		ActualCompletion:    utcPtr(doc.ActualCompletion),
		Notes:               doc.Notes,
		Categories:          doc.Categories,
		Version:             doc.Version,
		CreatedAt:           doc.CreatedAt.UTC(),
		UpdatedAt:           doc.UpdatedAt.UTC(),
		DeletedAt:           utcPtr(doc.DeletedAt),
	}
	for _, item := range items {
		decoded := domain.OrderItem{
			ID:         item.ID,
			OrderID:    id,
			ItemType:   domain.ItemType(item.ItemType),
			IsReceived: item.IsReceived,
			CreatedAt:  item.CreatedAt.UTC(),
			UpdatedAt:  item.UpdatedAt.UTC(),
		}
		for _, c := range item.Components {
			decoded.Components = append(decoded.Components, domain.OrderItemComponent{
				ID:          c.ID,
				OrderItemID: item.ID,
				Name:        c.Name,
				IsReceived:  c.IsReceived,
				CreatedAt:   c.CreatedAt.UTC(),
			})
		}
		order.Items = append(order.Items, decoded)
	}
	return order
}

type serviceDocument struct {
	OrderID      string    `firestore:"orderId"`
	OrderItemID  string    `firestore:"orderItemId"`
	ServiceKey   string    `firestore:"serviceKey"`
	Measurement  *string   `firestore:"measurement,omitempty"`
	Notes        *string   `firestore:"notes,omitempty"`
	IsBudgeted   bool      `firestore:"isBudgeted"`
	IsAuthorized bool      `firestore:"isAuthorized"`
	IsCompleted  bool      `firestore:"isCompleted"`
	BasePrice    string    `firestore:"basePrice"`
	NetPrice     string    `firestore:"netPrice"`
	CreatedAt    time.Time `firestore:"createdAt"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

func encodeService(svc domain.OrderService) serviceDocument {
	return serviceDocument{
		OrderID:      svc.OrderID,
		OrderItemID:  svc.OrderItemID,
		ServiceKey:   svc.ServiceKey,
		Measurement:  svc.Measurement,
		Notes:        svc.Notes,
		IsBudgeted:   svc.IsBudgeted,
		IsAuthorized: svc.IsAuthorized,
		IsCompleted:  svc.IsCompleted,
		BasePrice:    domain.RoundMoney(svc.BasePrice).StringFixed(2),
		NetPrice:     domain.RoundMoney(svc.NetPrice).StringFixed(2),
		CreatedAt:    svc.CreatedAt.UTC(),
		UpdatedAt:    svc.UpdatedAt.UTC(),
	}
}

func decodeService(id string, doc serviceDocument) domain.OrderService {
	return domain.OrderService{
		ID:           id,
		OrderID:      doc.OrderID,
		OrderItemID:  doc.OrderItemID,
		ServiceKey:   doc.ServiceKey,
		Measurement:  doc.Measurement,
		Notes:        doc.Notes,
		IsBudgeted:   doc.IsBudgeted,
		IsAuthorized: doc.IsAuthorized,
		IsCompleted:  doc.IsCompleted,
		BasePrice:    parseMoney(doc.BasePrice),
		NetPrice:     parseMoney(doc.NetPrice),
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
}

type motorInfoDocument struct {
	ID            string    `firestore:"id"`
	Brand         *string   `firestore:"brand,omitempty"`
	Liters        *string   `firestore:"liters,omitempty"`
	Year          *string   `firestore:"year,omitempty"`
	Model         *string   `firestore:"model,omitempty"`
	CylinderCount *string   `firestore:"cylinderCount,omitempty"`
	DownPayment   string    `firestore:"downPayment"`
	TotalCost     string    `firestore:"totalCost"`
	IsFullyPaid   bool      `firestore:"isFullyPaid"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func encodeMotorInfo(info domain.OrderMotorInfo) motorInfoDocument {
	return motorInfoDocument{
		ID:            info.ID,
		Brand:         info.Brand,
		Liters:        info.Liters,
		Year:          info.Year,
		Model:         info.Model,
		CylinderCount: info.CylinderCount,
		DownPayment:   domain.RoundMoney(info.DownPayment).StringFixed(2),
		TotalCost:     domain.RoundMoney(info.TotalCost).StringFixed(2),
		IsFullyPaid:   info.IsFullyPaid,
		CreatedAt:     info.CreatedAt.UTC(),
		UpdatedAt:     info.UpdatedAt.UTC(),
	}
}

func decodeMotorInfo(orderID string, doc motorInfoDocument) domain.OrderMotorInfo {
	return domain.OrderMotorInfo{
		ID:            doc.ID,
		OrderID:       orderID,
		Brand:         doc.Brand,
		Liters:        doc.Liters,
		Year:          doc.Year,
		Model:         doc.Model,
		CylinderCount: doc.CylinderCount,
		DownPayment:   parseMoney(doc.DownPayment),
		TotalCost:     parseMoney(doc.TotalCost),
		IsFullyPaid:   doc.IsFullyPaid,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
}

type historyDocument struct {
	OrderID      string    `firestore:"orderId"`
	FieldChanged string    `firestore:"fieldChanged"`
	OldValue     *string   `firestore:"oldValue"`
	NewValue     *string   `firestore:"newValue"`
	Comment      *string   `firestore:"comment,omitempty"`
	CreatedBy    string    `firestore:"createdBy"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

type catalogDocument struct {
	DisplayNameKey      string `firestore:"displayNameKey"`
	ItemType            string `firestore:"itemType"`
	BasePrice           string `firestore:"basePrice"`
	TaxPercentage       string `firestore:"taxPercentage"`
	RequiresMeasurement bool   `firestore:"requiresMeasurement"`
	IsActive            bool   `firestore:"isActive"`
	DisplayOrder        int    `firestore:"displayOrder"`
	ID                  string `firestore:"id"`
}

func decodeCatalog(key string, doc catalogDocument) domain.ServiceCatalogEntry {
	tax, err := decimal.NewFromString(doc.TaxPercentage)
	if err != nil {
		tax = decimal.Zero
	}
	return domain.ServiceCatalogEntry{
		ID:                  doc.ID,
		ServiceKey:          key,
		DisplayNameKey:      doc.DisplayNameKey,
		ItemType:            domain.ItemType(doc.ItemType),
		BasePrice:           parseMoney(doc.BasePrice),
		TaxPercentage:       tax,
		RequiresMeasurement: doc.RequiresMeasurement,
		IsActive:            doc.IsActive,
		DisplayOrder:        doc.DisplayOrder,
	}
}

type userDocument struct {
	Email     string    `firestore:"email"`
	Role      string    `firestore:"role"`
	IsActive  bool      `firestore:"isActive"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type cacheVersionDocument struct {
	Version   int64     `firestore:"version"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func parseMoney(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return domain.RoundMoney(value)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
