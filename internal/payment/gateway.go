package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrGatewayUnavailable classifies transport failures and gateway-side
// errors as retryable; the caller decides whether and when to retry.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Intent is the remote payment intent opened for an order.
type Intent struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// GatewayClient is the thin typed adapter to the external payment
// provider. Creating an intent is the only operation the engine needs.
type GatewayClient interface {
	CreateIntent(ctx context.Context, amountCents int64, currency, orderID string) (*Intent, error)
}

// HTTPGateway talks to the provider's REST API with basic-auth key
// credentials and an enforced timeout.
type HTTPGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewHTTPGateway(baseURL, keyID, keySecret string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		client:    &http.Client{Timeout: timeout},
	}
}

type createIntentRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateIntent opens a remote payment intent referencing the order.
func (g *HTTPGateway) CreateIntent(ctx context.Context, amountCents int64, currency, orderID string) (*Intent, error) {
	body, err := json.Marshal(createIntentRequest{
		Amount:   amountCents,
		Currency: currency,
		Receipt:  orderID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.keyID, g.keySecret)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrGatewayUnavailable, err)
	}

	return &intent, nil
}
