package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/domain"
)

const meterName = "github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"

// LifecycleMetrics counts status transitions and written history rows. A nil value records nothing.
type LifecycleMetrics struct {
	transitions metric.Int64Counter
	historyRows metric.Int64Counter
}

// NewLifecycleMetrics registers counters on the provider, defaulting to the global one.
func NewLifecycleMetrics(provider metric.MeterProvider) (*LifecycleMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Committed order status transitions"))
	if err != nil {
		return nil, err
	}
	rows, err := meter.Int64Counter("orders.history.rows",
		metric.WithDescription("Order history rows appended"))
	if err != nil {
		return nil, err
	}
	return &LifecycleMetrics{transitions: transitions, historyRows: rows}, nil
}

func (m *LifecycleMetrics) recordTransition(ctx context.Context, from, to domain.OrderStatus) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *LifecycleMetrics) recordHistory(ctx context.Context, entries []domain.OrderHistory) {
	if m == nil {
		return
	}
	counts := make(map[domain.HistoryField]int64, len(entries))
	for _, entry := range entries {
		counts[entry.FieldChanged]++
	}
	for field, n := range counts {
		m.historyRows.Add(ctx, n, metric.WithAttributes(attribute.String("field", string(field))))
	}
}
