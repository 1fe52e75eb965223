package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// minorUnitExponent — сумма в API хранится в центах, в decimal-строке два знака.
const minorUnitExponent = -2

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type cartLineDTO struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type cartResponse struct {
	OwnerID   string        `json:"ownerId"`
	Lines     []cartLineDTO `json:"lines"`
	UpdatedAt *time.Time    `json:"updatedAt,omitempty"`
}

type shippingAddressDTO struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// createOrderRequest намеренно не содержит позиций и суммы: клиентские items/totalPrice
// игнорируются декодером.
type createOrderRequest struct {
	ShippingAddress shippingAddressDTO `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
}

type orderItemDTO struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Image          string `json:"image,omitempty"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unitPriceMinor"`
	UnitPrice      string `json:"unitPrice"`
}

type orderResponse struct {
	ID              string             `json:"id"`
	OwnerID         string             `json:"ownerId"`
	OwnerName       string             `json:"ownerName,omitempty"`
	Items           []orderItemDTO     `json:"items"`
	ShippingAddress shippingAddressDTO `json:"shippingAddress"`
	PaymentMethod   string             `json:"paymentMethod"`
	Currency        string             `json:"currency"`
	TotalMinor      int64              `json:"totalMinor"`
	TotalPrice      string             `json:"totalPrice"`
	IsPaid          bool               `json:"isPaid"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	IsDelivered     bool               `json:"isDelivered"`
	DeliveredAt     *time.Time         `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time          `json:"createdAt"`
}

type checkoutSessionRequest struct {
	OrderID string `json:"orderId"`
}

type checkoutSessionResponse struct {
	SessionID   string `json:"sessionId"`
	RedirectURL string `json:"redirectUrl"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func formatMinor(amount int64) string {
	return decimal.New(amount, minorUnitExponent).StringFixed(-minorUnitExponent)
}

func toCartResponse(cart domain.Cart) cartResponse {
	resp := cartResponse{OwnerID: cart.OwnerID, Lines: make([]cartLineDTO, 0, len(cart.Lines))}
	for _, l := range cart.Lines {
		resp.Lines = append(resp.Lines, cartLineDTO{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	if !cart.UpdatedAt.IsZero() {
		updatedAt := cart.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	return resp
}

func toOrderResponse(order domain.Order, currency string) orderResponse {
	resp := orderResponse{
		ID:        order.ID,
		OwnerID:   order.OwnerID,
		OwnerName: order.OwnerName,
		Items:     make([]orderItemDTO, 0, len(order.Items)),
		ShippingAddress: shippingAddressDTO{
			Address:    order.ShippingAddress.Address,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PaymentMethod: string(order.PaymentMethod),
		Currency:      currency,
		TotalMinor:    order.TotalMinor,
		TotalPrice:    formatMinor(order.TotalMinor),
		IsPaid:        order.IsPaid,
		PaidAt:        order.PaidAt,
		IsDelivered:   order.IsDelivered,
		DeliveredAt:   order.DeliveredAt,
		CreatedAt:     order.CreatedAt,
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemDTO{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Image:          item.Image,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			UnitPrice:      formatMinor(item.UnitPriceMinor),
		})
	}
	return resp
}

func toOrderResponses(orders []domain.Order, currency string) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o, currency))
	}
	return resp
}

// parsePaymentMethod принимает и внутренние значения, и названия способов оплаты витрины.
func parsePaymentMethod(raw string) (domain.PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(domain.PaymentMethodCardGateway), "stripe", "card":
		return domain.PaymentMethodCardGateway, nil
	case string(domain.PaymentMethodAlternateGateway), "bkash":
		return domain.PaymentMethodAlternateGateway, nil
	case string(domain.PaymentMethodCashOnDelivery), "cashondelivery", "cod":
		return domain.PaymentMethodCashOnDelivery, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", domain.ErrInvalidInput, raw)
	}
}

func (a shippingAddressDTO) toDomain() domain.ShippingAddress {
	return domain.ShippingAddress{
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}
