package domain

import (
	"errors"
	"testing"
)

func TestCheckoutSessionRequest_Validate(t *testing.T) {
	valid := func() CheckoutSessionRequest {
		return CheckoutSessionRequest{
			OrderID:  "order-1",
			Currency: "usd",
			LineItems: []SessionLineItem{
				{Name: "Mouse", UnitPriceMinor: 1000, Quantity: 2},
			},
			Metadata: map[string]string{MetadataOrderID: "order-1"},
		}
	}

	tests := []struct {
		name    string
		mut     func(r *CheckoutSessionRequest)
		wantErr bool
	}{
		{name: "valid", mut: func(*CheckoutSessionRequest) {}},
		{name: "missing order id", mut: func(r *CheckoutSessionRequest) { r.OrderID = "" }, wantErr: true},
		{name: "no line items", mut: func(r *CheckoutSessionRequest) { r.LineItems = nil }, wantErr: true},
		{name: "metadata mismatch", mut: func(r *CheckoutSessionRequest) { r.Metadata[MetadataOrderID] = "other" }, wantErr: true},
		{name: "zero quantity", mut: func(r *CheckoutSessionRequest) { r.LineItems[0].Quantity = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mut(&req)
			err := req.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
