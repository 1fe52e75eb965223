package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Aggregate и типы событий жизненного цикла заказа для transactional outbox.
const (
	AggregateOrder = "order"

	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderDelivered = "order.delivered"
	EventOrderDeleted   = "order.deleted"
)

// OrderEventPayload — тело события заказа в outbox.
type OrderEventPayload struct {
	OrderID       string        `json:"order_id"`
	OwnerID       string        `json:"owner_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	TotalMinor    int64         `json:"total_minor"`
	IsPaid        bool          `json:"is_paid"`
	IsDelivered   bool          `json:"is_delivered"`
	Source        string        `json:"source,omitempty"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

// NewOrderEvent формирует outbox-сообщение для события заказа.
func NewOrderEvent(eventType string, order Order, source string, occurredAt time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEventPayload{
		OrderID:       order.ID,
		OwnerID:       order.OwnerID,
		PaymentMethod: order.PaymentMethod,
		TotalMinor:    order.TotalMinor,
		IsPaid:        order.IsPaid,
		IsDelivered:   order.IsDelivered,
		Source:        source,
		OccurredAt:    occurredAt.UTC(),
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return OutboxMessage{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
