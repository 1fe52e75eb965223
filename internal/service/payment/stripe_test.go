package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const testWebhookSecret = "whsec_test_secret"

func newTestStripeGateway(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gw, err := NewStripeGateway(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		HTTPClient:    server.Client(),
		APIURL:        server.URL,
	})
	require.NoError(t, err)
	return gw
}

func TestStripeGateway_CreateSessionSendsFrozenItems(t *testing.T) {
	var form url.Values
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`)
	})

	session, err := gw.CreateSession(context.Background(), sessionRequest("order-1"))
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", session.RedirectURL)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "order-1", form.Get("metadata[orderId]"))
	assert.Equal(t, "8999", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "http://shop.test/orders/order-1?success=true", form.Get("success_url"))
}

func TestStripeGateway_ServerErrorIsGatewayError(t *testing.T) {
	gw := newTestStripeGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"type":"api_error","message":"boom"}}`)
	})

	_, err := gw.CreateSession(context.Background(), sessionRequest("order-1"))
	require.ErrorIs(t, err, domain.ErrGateway)
}

func TestStripeGateway_ParseCompletedWebhook(t *testing.T) {
	gw := newTestStripeGateway(t, func(http.ResponseWriter, *http.Request) {})

	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": "paid",
			"metadata": {"orderId": "order-42"}
		}}
	}`)

	confirmation, err := gw.ParseConfirmation(payload, signStripePayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentConfirmation{
		EventID:   "evt_1",
		SessionID: "cs_test_1",
		OrderID:   "order-42",
		Paid:      true,
	}, confirmation)
}

func TestStripeGateway_ParseRejectsForgedWebhook(t *testing.T) {
	gw := newTestStripeGateway(t, func(http.ResponseWriter, *http.Request) {})
	payload := []byte(`{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)

	_, err := gw.ParseConfirmation(payload, signStripePayload(payload, "whsec_other", time.Now()))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestStripeGateway_UnpaidSessionIsNotConfirmation(t *testing.T) {
	gw := newTestStripeGateway(t, func(http.ResponseWriter, *http.Request) {})
	payload := []byte(`{"id":"evt_3","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_2","object":"checkout.session","payment_status":"unpaid","metadata":{"orderId":"order-7"}}}}`)

	confirmation, err := gw.ParseConfirmation(payload, signStripePayload(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.False(t, confirmation.Paid)
	assert.Equal(t, "order-7", confirmation.OrderID)
}

func TestNewStripeGateway_RequiresSecrets(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{WebhookSecret: "w"})
	require.Error(t, err)
	_, err = NewStripeGateway(StripeConfig{SecretKey: "k"})
	require.Error(t, err)
}

func signStripePayload(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}
