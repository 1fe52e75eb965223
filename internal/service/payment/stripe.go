package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// StripeSignatureHeader — заголовок, в котором Stripe присылает подпись webhook'а.
const StripeSignatureHeader = "Stripe-Signature"

// StripeConfig задаёт параметры адаптера Stripe Checkout.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	HTTPClient    *http.Client
	// APIURL переопределяет адрес API (для тестов и stripe-mock).
	APIURL string
}

// StripeGateway создаёт Stripe Checkout Sessions и разбирает webhook'и
// checkout.session.completed.
type StripeGateway struct {
	sessions      *session.Client
	webhookSecret string
}

// NewStripeGateway создаёт адаптер. Ретраи внутри SDK выключены: повтор решает вызывающий.
func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}

	return &StripeGateway{
		sessions: &session.Client{
			B:   stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Key: cfg.SecretKey,
		},
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (g *StripeGateway) CreateSession(ctx context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	if err := req.Validate(); err != nil {
		return domain.CheckoutSession{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	for _, item := range req.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Image != "" {
			product.Images = stripe.StringSlice([]string{item.Image})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(req.Currency),
				ProductData: product,
				UnitAmount:  stripe.Int64(item.UnitPriceMinor),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := g.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusBadRequest {
			return domain.CheckoutSession{}, fmt.Errorf("%w: stripe rejected session: %s", domain.ErrInvalidInput, stripeErr.Msg)
		}
		return domain.CheckoutSession{}, fmt.Errorf("%w: create stripe session: %w", domain.ErrGateway, err)
	}
	return domain.CheckoutSession{ID: s.ID, RedirectURL: s.URL}, nil
}

// ParseConfirmation проверяет подпись и превращает checkout.session.completed в подтверждение.
// События других типов возвращаются с Paid=false.
func (g *StripeGateway) ParseConfirmation(payload []byte, signature string) (domain.PaymentConfirmation, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
	}

	confirmation := domain.PaymentConfirmation{EventID: event.ID}
	if string(event.Type) != "checkout.session.completed" || event.Data == nil {
		return confirmation, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: decode checkout session: %w", domain.ErrInvalidInput, err)
	}

	confirmation.SessionID = s.ID
	confirmation.OrderID = s.Metadata[domain.MetadataOrderID]
	confirmation.Paid = string(s.PaymentStatus) == "paid"
	return confirmation, nil
}

var _ domain.PaymentGateway = (*StripeGateway)(nil)
