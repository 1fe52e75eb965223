package domain

import "errors"

// MetadataOrderID — ключ метаданных checkout-сессии, по которому callback шлюза
// сопоставляется ровно с одним заказом.
const MetadataOrderID = "orderId"

// SessionLineItem — строка checkout-сессии, построенная из замороженных позиций заказа.
type SessionLineItem struct {
	Name           string
	Image          string
	UnitPriceMinor int64
	Quantity       int64
}

// CheckoutSessionRequest описывает запрос на создание сессии оплаты в шлюзе.
type CheckoutSessionRequest struct {
	OrderID    string
	Currency   string
	LineItems  []SessionLineItem
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Validate проверяет, что запрос можно отправить в шлюз.
func (r CheckoutSessionRequest) Validate() error {
	if r.OrderID == "" || r.Currency == "" || len(r.LineItems) == 0 {
		return ErrInvalidInput
	}
	if r.Metadata[MetadataOrderID] != r.OrderID {
		return errors.Join(ErrInvalidInput, errors.New("session metadata must carry order id"))
	}
	for _, item := range r.LineItems {
		if item.Quantity <= 0 || item.UnitPriceMinor < 0 {
			return ErrInvalidInput
		}
	}
	return nil
}

// CheckoutSession — непрозрачный дескриптор сессии шлюза.
type CheckoutSession struct {
	ID          string
	RedirectURL string
}

// PaymentConfirmation — подтверждение оплаты, пришедшее от шлюза (webhook или брокер).
type PaymentConfirmation struct {
	// EventID — идентификатор события у шлюза, для логов и дедупликации на стороне брокера.
	EventID   string
	SessionID string
	OrderID   string
	// Paid=false означает событие, которое не переводит заказ в оплаченный (например, async-платёж ещё в пути).
	Paid bool
}
