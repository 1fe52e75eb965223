package domain

import (
	"strings"
	"time"
)

// PaymentMethod описывает способ оплаты, выбранный покупателем при оформлении.
type PaymentMethod string

const (
	// PaymentMethodCardGateway — оплата картой через hosted checkout платёжного шлюза.
	PaymentMethodCardGateway PaymentMethod = "card_gateway"
	// PaymentMethodAlternateGateway — мобильные платёжные сервисы, оплату подтверждает владелец заказа.
	PaymentMethodAlternateGateway PaymentMethod = "alternate_gateway"
	// PaymentMethodCashOnDelivery — оплата наличными курьеру.
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCardGateway, PaymentMethodAlternateGateway, PaymentMethodCashOnDelivery:
		return true
	default:
		return false
	}
}

// GatewayRouted сообщает, проходит ли оплата через checkout-сессию шлюза.
func (m PaymentMethod) GatewayRouted() bool {
	return m == PaymentMethodCardGateway
}

// ShippingAddress — адрес доставки заказа.
type ShippingAddress struct {
	Address    string
	City       string
	PostalCode string
	Country    string
}

// Validate проверяет, что все поля адреса заполнены.
func (a ShippingAddress) Validate() error {
	if strings.TrimSpace(a.Address) == "" ||
		strings.TrimSpace(a.City) == "" ||
		strings.TrimSpace(a.PostalCode) == "" ||
		strings.TrimSpace(a.Country) == "" {
		return ErrInvalidInput
	}
	return nil
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ProductID string
	// Name и Image фиксируются вместе с ценой, каталог для отображения не нужен.
	Name     string
	Image    string
	Quantity int32
	// UnitPriceMinor — цена за единицу в минимальных денежных единицах на момент оформления.
	UnitPriceMinor int64
}

// LineTotalMinor возвращает сумму позиции.
func (i OrderItem) LineTotalMinor() int64 {
	return int64(i.Quantity) * i.UnitPriceMinor
}

// Order агрегирует состояние заказа. Items неизменяемы после создания,
// флаги оплаты и доставки меняются только false -> true.
type Order struct {
	ID              string
	OwnerID         string
	OwnerName       string
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	TotalMinor      int64
	IsPaid          bool
	PaidAt          *time.Time
	IsDelivered     bool
	DeliveredAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemsTotalMinor пересчитывает сумму заказа по позициям.
func (o *Order) ItemsTotalMinor() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.LineTotalMinor()
	}
	return total
}

// MarkPaid переводит заказ в оплаченный. Возвращает false, если заказ уже был оплачен.
func (o *Order) MarkPaid(at time.Time) bool {
	if o.IsPaid {
		return false
	}
	at = at.UTC()
	o.IsPaid = true
	o.PaidAt = &at
	o.UpdatedAt = at
	return true
}

// MarkDelivered переводит заказ в доставленный. Возвращает false, если он уже доставлен.
func (o *Order) MarkDelivered(at time.Time) bool {
	if o.IsDelivered {
		return false
	}
	at = at.UTC()
	o.IsDelivered = true
	o.DeliveredAt = &at
	o.UpdatedAt = at
	return true
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	dst := o
	dst.Items = append([]OrderItem(nil), o.Items...)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		dst.PaidAt = &paidAt
	}
	if o.DeliveredAt != nil {
		deliveredAt := *o.DeliveredAt
		dst.DeliveredAt = &deliveredAt
	}
	return dst
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	// Сверяем сумму заказа с суммой позиций: qty * price.
	if o.ItemsTotalMinor() != o.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	if o.IsPaid != (o.PaidAt != nil) {
		errs = append(errs, ErrPaidAtMismatch)
	}
	if o.IsDelivered != (o.DeliveredAt != nil) {
		errs = append(errs, ErrDeliveredAtMismatch)
	}

	return errs
}
