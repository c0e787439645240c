package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ChargeRequest describes one payment to apply.
type ChargeRequest struct {
	BookingID   uint64 `json:"booking_id"`
	UserID      uint64 `json:"user_id"`
	AmountCents uint32 `json:"amount_cents"`
}

// ChargeResult reports a completed charge.
type ChargeResult struct {
	TransactionID string `json:"transaction_id"`
}

// PaymentGateway applies charges against the external payment processor.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// HTTPPaymentGateway posts charges to the payment service.
type HTTPPaymentGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPPaymentGateway builds a gateway adapter against the payment
// service base URL.
func NewHTTPPaymentGateway(baseURL string) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{baseURL: baseURL, client: newHTTPClient()}
}

func (g *HTTPPaymentGateway) Charge(ctx context.Context, chargeReq ChargeRequest) (ChargeResult, error) {
	body, err := json.Marshal(chargeReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("marshal charge request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments/charge", bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("charge request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var result ChargeResult
		if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
			return ChargeResult{}, fmt.Errorf("decode charge response: %w", err)
		}
		return result, nil
	case http.StatusPaymentRequired, http.StatusUnprocessableEntity:
		return ChargeResult{}, ErrPaymentDeclined
	default:
		return ChargeResult{}, fmt.Errorf("charge: unexpected status %d", res.StatusCode)
	}
}
