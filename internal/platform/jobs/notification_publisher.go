package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/platform/textutil"
	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/services"
)

// NotificationMessage is the JSON payload published for each order notification.
type NotificationMessage struct {
	ID         string         `json:"id"`
	EventType  string         `json:"eventType"`
	OrderID    string         `json:"orderId"`
	Recipients []string       `json:"recipients"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// PubSubNotificationPublisher publishes order notifications to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
}

var _ services.NotificationSink = (*PubSubNotificationPublisher)(nil)

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification sink.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   uuid.NewString,
	}, nil
}

// Notify publishes the notification and waits for the server ack.
func (p *PubSubNotificationPublisher) Notify(ctx context.Context, notification services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}
	if len(notification.Recipients) == 0 {
		return nil
	}

	message := NotificationMessage{
		ID:         strings.TrimSpace(notification.ID),
		EventType:  notification.EventType,
		OrderID:    notification.OrderID,
		Recipients: notification.Recipients,
		Payload:    notification.Payload,
		OccurredAt: notification.OccurredAt.UTC(),
	}
	if message.ID == "" {
		message.ID = p.newID()
	}

	data, err := p.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := textutil.CompactStringMap(map[string]string{
		"notificationId": message.ID,
		"eventType":      message.EventType,
		"orderId":        message.OrderID,
	})

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// Per-order ordering only applies when the topic enables message ordering.
		OrderingKey: orderingKey(p.topic, message.OrderID),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// LogNotificationSink writes notifications to the structured log. Used when no topic is configured.
type LogNotificationSink struct {
	logger *zap.Logger
}

var _ services.NotificationSink = (*LogNotificationSink)(nil)

// NewLogNotificationSink falls back to a no-op logger when logger is nil.
func NewLogNotificationSink(logger *zap.Logger) *LogNotificationSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotificationSink{logger: logger.Named("notifications")}
}

func (s *LogNotificationSink) Notify(_ context.Context, notification services.Notification) error {
	s.logger.Info("order notification",
		zap.String("eventType", notification.EventType),
		zap.String("orderId", notification.OrderID),
		zap.Strings("recipients", notification.Recipients),
		zap.Any("payload", notification.Payload),
	)
	return nil
}

func orderingKey(topic *pubsub.Topic, orderID string) string {
	if topic == nil || !topic.EnableMessageOrdering {
		return ""
	}
	return orderID
}
