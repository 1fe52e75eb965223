package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// SignatureHeader — заголовок с HMAC-подписью callback'а mock-шлюза.
	SignatureHeader = "X-Gateway-Signature"

	mockEventCompleted = "checkout.session.completed"
)

// mockEvent — формат callback'а mock-шлюза.
type mockEvent struct {
	ID            string `json:"id"`
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	OrderID       string `json:"order_id"`
	PaymentStatus string `json:"payment_status"`
}

// MockGateway — локальный шлюз для разработки и тестов: сессии детерминированы,
// callback'и подписываются HMAC-SHA256 общим секретом.
type MockGateway struct {
	secret  []byte
	baseURL string

	mu       sync.Mutex
	sessions map[string]domain.CheckoutSessionRequest
	seq      int

	// CreateErr, если задан, возвращается из CreateSession (обёрнутым в ErrGateway).
	CreateErr   error
	CreateCalls int
}

// NewMockGateway создаёт mock; сессия "редиректит" на baseURL.
func NewMockGateway(secret, baseURL string) *MockGateway {
	return &MockGateway{
		secret:   []byte(secret),
		baseURL:  strings.TrimRight(baseURL, "/"),
		sessions: make(map[string]domain.CheckoutSessionRequest),
	}
}

func (g *MockGateway) CreateSession(_ context.Context, req domain.CheckoutSessionRequest) (domain.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.CreateCalls++
	if err := req.Validate(); err != nil {
		return domain.CheckoutSession{}, err
	}
	if g.CreateErr != nil {
		return domain.CheckoutSession{}, fmt.Errorf("%w: %w", domain.ErrGateway, g.CreateErr)
	}

	g.seq++
	id := fmt.Sprintf("mock_cs_%s_%d", req.OrderID, g.seq)
	g.sessions[id] = req
	return domain.CheckoutSession{ID: id, RedirectURL: g.baseURL + "/pay/" + id}, nil
}

// Session возвращает запрос, из которого была создана сессия.
func (g *MockGateway) Session(id string) (domain.CheckoutSessionRequest, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	req, ok := g.sessions[id]
	return req, ok
}

// CompletionEvent формирует подписанный callback об успешной оплате сессии,
// как его прислал бы настоящий шлюз.
func (g *MockGateway) CompletionEvent(sessionID string) (payload []byte, signature string, err error) {
	req, ok := g.Session(sessionID)
	if !ok {
		return nil, "", fmt.Errorf("%w: unknown session %s", domain.ErrInvalidInput, sessionID)
	}

	payload, err = json.Marshal(mockEvent{
		ID:            "evt_" + uuid.NewString(),
		Type:          mockEventCompleted,
		SessionID:     sessionID,
		OrderID:       req.Metadata[domain.MetadataOrderID],
		PaymentStatus: "paid",
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal mock event: %w", err)
	}
	return payload, g.Sign(payload), nil
}

// Sign возвращает hex HMAC-SHA256 подписи payload.
func (g *MockGateway) Sign(payload []byte) string {
	return hex.EncodeToString(g.rawSignature(payload))
}

func (g *MockGateway) ParseConfirmation(payload []byte, signature string) (domain.PaymentConfirmation, error) {
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || !hmac.Equal(expected, g.rawSignature(payload)) {
		return domain.PaymentConfirmation{}, domain.ErrInvalidSignature
	}

	var event mockEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return domain.PaymentConfirmation{}, fmt.Errorf("%w: decode event: %w", domain.ErrInvalidInput, err)
	}
	if event.Type != mockEventCompleted {
		return domain.PaymentConfirmation{EventID: event.ID}, nil
	}

	return domain.PaymentConfirmation{
		EventID:   event.ID,
		SessionID: event.SessionID,
		OrderID:   event.OrderID,
		Paid:      event.PaymentStatus == "paid",
	}, nil
}

func (g *MockGateway) rawSignature(payload []byte) []byte {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
