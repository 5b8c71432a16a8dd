package handlers

import (
	"context"
	"strings"

	"go.uber.org/zap"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/observability"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID         string  `json:"id"`
	CustomerID string  `json:"customer_id"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Priority   string  `json:"priority"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                  string                `json:"id"`
	CustomerID          string                `json:"customer_id"`
	Title               string                `json:"title"`
	Description         *string               `json:"description,omitempty"`
	Status              string                `json:"status"`
	AllowedTransitions  []string              `json:"allowed_transitions"`
	Priority            string                `json:"priority"`
	AssignedTo          *string               `json:"assigned_to,omitempty"`
	CreatedBy           string                `json:"created_by"`
	UpdatedBy           *string               `json:"updated_by,omitempty"`
	EstimatedCompletion string                `json:"estimated_completion,omitempty"`
	ActualCompletion    string                `json:"actual_completion,omitempty"`
	Notes               *string               `json:"notes,omitempty"`
	Categories          []int                 `json:"categories"`
	Version             int64                 `json:"version"`
	Items               []orderItemPayload    `json:"items"`
	Services            []orderServicePayload `json:"services"`
	MotorInfo           *motorInfoPayload     `json:"motor_info,omitempty"`
	History             []historyPayload      `json:"history,omitempty"`
	CreatedAt           string                `json:"created_at"`
	UpdatedAt           string                `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ID         string                      `json:"id"`
	ItemType   string                      `json:"item_type"`
	IsReceived bool                        `json:"is_received"`
	Components []orderItemComponentPayload `json:"components"`
}

type orderItemComponentPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsReceived bool   `json:"is_received"`
}

type orderServicePayload struct {
	ID           string  `json:"id"`
	OrderItemID  string  `json:"order_item_id"`
	ServiceKey   string  `json:"service_key"`
	Measurement  *string `json:"measurement,omitempty"`
	Notes        *string `json:"notes,omitempty"`
	IsBudgeted   bool    `json:"is_budgeted"`
	IsAuthorized bool    `json:"is_authorized"`
	IsCompleted  bool    `json:"is_completed"`
	BasePrice    string  `json:"base_price"`
	NetPrice     string  `json:"net_price"`
}

type motorInfoPayload struct {
	Brand         *string `json:"brand,omitempty"`
	Liters        *string `json:"liters,omitempty"`
	Year          *string `json:"year,omitempty"`
	Model         *string `json:"model,omitempty"`
	CylinderCount *string `json:"cylinder_count,omitempty"`
	DownPayment   string  `json:"down_payment"`
	TotalCost     string  `json:"total_cost"`
	IsFullyPaid   bool    `json:"is_fully_paid"`
}

type historyListResponse struct {
	Items         []historyPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type historyPayload struct {
	ID           string              `json:"id"`
	FieldChanged string              `json:"field_changed"`
	OldValue     *string             `json:"old_value"`
	NewValue     *string             `json:"new_value"`
	Comment      *string             `json:"comment,omitempty"`
	Description  string              `json:"description"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    string              `json:"created_at"`
	Attachments  []attachmentPayload `json:"attachments,omitempty"`
}

type attachmentPayload struct {
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	MimeType    string `json:"mime_type,omitempty"`
	Size        int64  `json:"size"`
	UploadedBy  string `json:"uploaded_by,omitempty"`
	UploadedAt  string `json:"uploaded_at"`
	DownloadURL string `json:"download_url,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:         strings.TrimSpace(order.ID),
		CustomerID: strings.TrimSpace(order.CustomerID),
		Title:      order.Title,
		Status:     string(order.Status),
		Priority:   string(order.Priority),
		AssignedTo: cloneStringPointer(order.AssignedTo),
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
	}
}

func (h *OrderHandlers) buildOrderPayload(ctx context.Context, order services.Order) orderPayload {
	payload := orderPayload{
		ID:                  strings.TrimSpace(order.ID),
		CustomerID:          strings.TrimSpace(order.CustomerID),
		Title:               order.Title,
		Description:         cloneStringPointer(order.Description),
		Status:              string(order.Status),
		AllowedTransitions:  statusStrings(order.Status.AllowedTransitions()),
		Priority:            string(order.Priority),
		AssignedTo:          cloneStringPointer(order.AssignedTo),
		CreatedBy:           order.CreatedBy,
		UpdatedBy:           cloneStringPointer(order.UpdatedBy),
		EstimatedCompletion: formatTime(pointerTime(order.EstimatedCompletion)),
		ActualCompletion:    formatTime(pointerTime(order.ActualCompletion)),
		Notes:               cloneStringPointer(order.Notes),
		Categories:          append([]int{}, order.Categories...),
		Version:             order.Version,
		Items:               make([]orderItemPayload, 0, len(order.Items)),
		Services:            make([]orderServicePayload, 0, len(order.Services)),
		CreatedAt:           formatTime(order.CreatedAt),
		UpdatedAt:           formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		entry := orderItemPayload{
			ID:         item.ID,
			ItemType:   string(item.ItemType),
			IsReceived: item.IsReceived,
			Components: make([]orderItemComponentPayload, 0, len(item.Components)),
		}
		for _, component := range item.Components {
			entry.Components = append(entry.Components, orderItemComponentPayload{
				ID:         component.ID,
				Name:       component.Name,
				IsReceived: component.IsReceived,
			})
		}
		payload.Items = append(payload.Items, entry)
	}

	for _, svc := range order.Services {
		payload.Services = append(payload.Services, orderServicePayload{
			ID:           svc.ID,
			OrderItemID:  svc.OrderItemID,
			ServiceKey:   svc.ServiceKey,
			Measurement:  cloneStringPointer(svc.Measurement),
			Notes:        cloneStringPointer(svc.Notes),
			IsBudgeted:   svc.IsBudgeted,
			IsAuthorized: svc.IsAuthorized,
			IsCompleted:  svc.IsCompleted,
			BasePrice:    formatMoney(svc.BasePrice),
			NetPrice:     formatMoney(svc.NetPrice),
		})
	}

	if info := order.MotorInfo; info != nil {
		payload.MotorInfo = &motorInfoPayload{
			Brand:         cloneStringPointer(info.Brand),
			Liters:        cloneStringPointer(info.Liters),
			Year:          cloneStringPointer(info.Year),
			Model:         cloneStringPointer(info.Model),
			CylinderCount: cloneStringPointer(info.CylinderCount),
			DownPayment:   formatMoney(info.DownPayment),
			TotalCost:     formatMoney(info.TotalCost),
			IsFullyPaid:   info.IsFullyPaid,
		}
	}

	if len(order.History) > 0 {
		payload.History = h.buildHistoryPayloads(ctx, order.History)
	}
	return payload
}

func (h *OrderHandlers) buildHistoryPayloads(ctx context.Context, entries []services.OrderHistory) []historyPayload {
	result := make([]historyPayload, 0, len(entries))
	for _, entry := range entries {
		description := entry.Description
		if description == "" {
			description = services.DescribeChange(entry)
		}
		item := historyPayload{
			ID:           entry.ID,
			FieldChanged: string(entry.FieldChanged),
			OldValue:     cloneStringPointer(entry.OldValue),
			NewValue:     cloneStringPointer(entry.NewValue),
			Comment:      cloneStringPointer(entry.Comment),
			Description:  description,
			CreatedBy:    entry.CreatedBy,
			CreatedAt:    formatTime(entry.CreatedAt),
		}
		for _, attachment := range entry.Attachments {
			item.Attachments = append(item.Attachments, h.buildAttachmentPayload(ctx, attachment))
		}
		result = append(result, item)
	}
	return result
}

// buildAttachmentPayload links the attachment when a linker is configured. Signing failures
// only drop the link.
func (h *OrderHandlers) buildAttachmentPayload(ctx context.Context, attachment domain.Attachment) attachmentPayload {
	payload := attachmentPayload{
		Key:        attachment.Key,
		FileName:   attachment.FileName,
		MimeType:   attachment.MimeType,
		Size:       attachment.Size,
		UploadedBy: attachment.UploadedBy,
		UploadedAt: formatTime(attachment.UploadedAt),
	}
	if h.linker == nil {
		return payload
	}
	url, err := h.linker.DownloadURL(ctx, attachment.Key)
	if err != nil {
		observability.FromContext(ctx).Warn("attachment link failed",
			zap.String("key", attachment.Key),
			zap.Error(err),
		)
		return payload
	}
	payload.DownloadURL = url
	return payload
}

func statusStrings(statuses []domain.OrderStatus) []string {
	result := make([]string, 0, len(statuses))
	for _, status := range statuses {
		result = append(result, string(status))
	}
	return result
}
