package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// PaymentConfirmationMessage — подтверждение оплаты, которое шлюз (или его
// webhook-релей) кладёт в топик storefront.payment.confirmations.
type PaymentConfirmationMessage struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	OrderID   string `json:"order_id"`
	Paid      bool   `json:"paid"`
}

// ParsePaymentConfirmation разбирает сообщение; на некорректное сообщение возвращает ErrPermanent.
func ParsePaymentConfirmation(message *sarama.ConsumerMessage) (domain.PaymentConfirmation, error) {
	var m PaymentConfirmationMessage
	if err := json.Unmarshal(message.Value, &m); err != nil {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: decode payment confirmation: %w", ErrPermanent, err)
	}
	if strings.TrimSpace(m.OrderID) == "" {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: payment confirmation without order id", ErrPermanent)
	}
	return domain.PaymentConfirmation{
		EventID:   m.EventID,
		SessionID: m.SessionID,
		OrderID:   m.OrderID,
		Paid:      m.Paid,
	}, nil
}

// PaymentConfirmationHandler превращает apply в MessageHandler. Неповторяемые
// ошибки (заказ не найден, некорректные данные) помечаются ErrPermanent.
func PaymentConfirmationHandler(apply func(context.Context, domain.PaymentConfirmation) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		confirmation, err := ParsePaymentConfirmation(message)
		if err != nil {
			return err
		}
		if err := apply(ctx, confirmation); err != nil {
			if domain.IsRetryable(err) {
				return err
			}
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
		return nil
	}
}
