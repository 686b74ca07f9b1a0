package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pawtrait/storefront/internal/config"
)

// CheckoutSession is the provider-hosted payment page for one purchase.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// WebhookEvent is a schema-validated, signature-checked payment event.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		OrderID     string `json:"order_id"`
		UserID      string `json:"user_id"`
		Email       string `json:"email"`
		OrderNumber string `json:"order_number"`
		AmountCents int64  `json:"amount_cents"`
		Credits     int    `json:"credits"`
	} `json:"data"`
}

const EventCheckoutCompleted = "checkout.completed"

// Client is the outbound contract to the payment provider.
type Client interface {
	CreateCheckoutSession(ctx context.Context, userID, priceID, successURL, cancelURL string) (*CheckoutSession, error)
}

type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewHTTPClient(cfg *config.PaymentsConfig, logger *logrus.Logger) *HTTPClient {
	return &HTTPClient{
		apiKey:  cfg.APIKey,
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

func (c *HTTPClient) CreateCheckoutSession(ctx context.Context, userID, priceID, successURL, cancelURL string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("client_reference_id", userID)
	form.Set("price_id", priceID)
	form.Set("success_url", successURL)
	form.Set("cancel_url", cancelURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read checkout response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.WithField("status", resp.StatusCode).Warn("Payment provider returned non-OK status")
		return nil, fmt.Errorf("payment provider returned status %d", resp.StatusCode)
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}

	return &session, nil
}

// VerifySignature checks the webhook HMAC the way the provider documents it:
// hex(HMAC-SHA256(secret, body)) in the signature header.
func VerifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
