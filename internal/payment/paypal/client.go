// Package paypal captures and refunds PayPal Orders v2 payments. The buyer
// approves the order in the PayPal buttons; the approved order id is the
// source token handed to CreatePayment.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-stepping/internal/auth"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"
	"ms-stepping/internal/monitoring"
	"ms-stepping/internal/payment/gateway"

	"github.com/shopspring/decimal"
)

const TokenCacheKey = "paypal_access_token"

// TokenStore caches the OAuth access token between requests.
type TokenStore interface {
	GetToken(ctx context.Context) (*auth.TokenCache, error)
	SetToken(ctx context.Context, token string, expiresIn int) error
	Invalidate(ctx context.Context) error
}

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

type Client struct {
	cfg    Config
	tokens TokenStore
	hc     *http.Client
	logger *logger.Logger
}

func NewClient(cfg Config, tokens TokenStore, log *logger.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		hc:     &http.Client{Timeout: 15 * time.Second},
		logger: log,
	}
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.hc = hc
	return c
}

func (c *Client) Name() string { return gateway.ProviderPayPal }

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Amount `json:"amount"`
}

type Order struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Amount      Amount `json:"amount"`
		Payments    struct {
			Captures []Capture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Field       string `json:"field"`
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func formatAmount(amount decimal.Decimal, currency string) Amount {
	currency = money.NormalizeCurrency(currency)
	return Amount{CurrencyCode: currency, Value: amount.StringFixed(money.Exponent(currency))}
}

func parseAmount(a Amount) decimal.Decimal {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// CreateOrder registers an order the buyer will approve in the PayPal
// buttons. It returns the PayPal order id.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, referenceID, idempotencyKey string) (string, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": referenceID,
			"amount":       formatAmount(amount, currency),
		}},
	}
	var out Order
	if _, err := c.do(ctx, "create_order", http.MethodPost, "/v2/checkout/orders", idempotencyKey, body, &out); err != nil {
		return "", err
	}
	c.logger.LogPayment(gateway.ProviderPayPal, "ORDER", out.ID, fmt.Sprintf("status=%s", out.Status))
	return out.ID, nil
}

// CreatePayment captures the approved order named by SourceToken and checks
// that the captured amount matches the requested one.
func (c *Client) CreatePayment(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	var out Order
	raw, err := c.do(ctx, "capture_order", http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(req.SourceToken)+"/capture", req.IdempotencyKey, struct{}{}, &out)
	if err != nil {
		return nil, err
	}

	var capture *Capture
	for _, pu := range out.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			capture = &pu.Payments.Captures[0]
			break
		}
	}
	if capture == nil {
		return nil, &gateway.ProviderError{
			Provider: gateway.ProviderPayPal, StatusCode: http.StatusOK,
			Details: []gateway.ErrorDetail{{Code: "NO_CAPTURE", Detail: fmt.Sprintf("order %s returned no capture", out.ID)}},
		}
	}

	captured := parseAmount(capture.Amount)
	if !req.Amount.IsZero() && !captured.Equal(req.Amount) {
		c.logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("PayPal order %s captured %s, expected %s", out.ID, captured, req.Amount))
		return nil, &gateway.ProviderError{
			Provider: gateway.ProviderPayPal, StatusCode: http.StatusOK,
			Details: []gateway.ErrorDetail{{Code: "AMOUNT_MISMATCH", Detail: fmt.Sprintf("captured %s %s, expected %s", captured, capture.Amount.CurrencyCode, req.Amount)}},
		}
	}

	c.logger.LogPayment(gateway.ProviderPayPal, "CAPTURE", capture.ID, fmt.Sprintf("order=%s status=%s", out.ID, capture.Status))
	return &gateway.Result{
		TransactionID:  capture.ID,
		ProviderStatus: capture.Status,
		Status:         CaptureStatus(capture.Status),
		Amount:         captured,
		Currency:       capture.Amount.CurrencyCode,
		RawResponse:    raw,
	}, nil
}

func (c *Client) GetPayment(ctx context.Context, captureID string) (*gateway.Result, error) {
	var out Capture
	raw, err := c.do(ctx, "get_capture", http.MethodGet, "/v2/payments/captures/"+url.PathEscape(captureID), "", nil, &out)
	if err != nil {
		return nil, err
	}
	return &gateway.Result{
		TransactionID:  out.ID,
		ProviderStatus: out.Status,
		Status:         CaptureStatus(out.Status),
		Amount:         parseAmount(out.Amount),
		Currency:       out.Amount.CurrencyCode,
		RawResponse:    raw,
	}, nil
}

func (c *Client) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	body := map[string]interface{}{
		"amount": formatAmount(req.Amount, req.Currency),
	}
	if req.Reason != "" {
		body["note_to_payer"] = req.Reason
	}
	var out Capture
	raw, err := c.do(ctx, "refund_capture", http.MethodPost, "/v2/payments/captures/"+url.PathEscape(req.ProviderPaymentID)+"/refund", req.IdempotencyKey, body, &out)
	if err != nil {
		return nil, err
	}
	c.logger.LogPayment(gateway.ProviderPayPal, "REFUND", req.ProviderPaymentID, fmt.Sprintf("refund=%s status=%s", out.ID, out.Status))
	status := models.StatusRefunded
	if out.Status == "FAILED" || out.Status == "CANCELLED" {
		status = models.StatusFailed
	}
	return &gateway.Result{
		TransactionID:  out.ID,
		ProviderStatus: out.Status,
		Status:         status,
		Amount:         parseAmount(out.Amount),
		Currency:       out.Amount.CurrencyCode,
		RawResponse:    raw,
	}, nil
}

// CaptureStatus maps a PayPal capture status to ours.
func CaptureStatus(status string) models.PaymentStatus {
	switch status {
	case "COMPLETED":
		return models.StatusSuccess
	case "PENDING":
		return models.StatusPending
	case "REFUNDED", "PARTIALLY_REFUNDED":
		return models.StatusRefunded
	default:
		return models.StatusFailed
	}
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.tokens != nil {
		cached, err := c.tokens.GetToken(ctx)
		if err != nil {
			c.logger.Warn("PAYPAL", fmt.Sprintf("Token cache read failed: %v", err))
		} else if cached != nil {
			return cached.Token, nil
		}
	}

	tok, err := auth.FetchClientCredentialsToken(ctx, c.hc, models.ClientCredentials{
		TokenURL:     c.cfg.BaseURL + "/v1/oauth2/token",
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	if err != nil {
		return "", &gateway.ProviderError{Provider: gateway.ProviderPayPal, StatusCode: http.StatusUnauthorized, Err: err}
	}
	if c.tokens != nil {
		if err := c.tokens.SetToken(ctx, tok.AccessToken, tok.ExpiresIn); err != nil {
			c.logger.Warn("PAYPAL", fmt.Sprintf("Token cache write failed: %v", err))
		}
	}
	return tok.AccessToken, nil
}

func (c *Client) do(ctx context.Context, operation, method, path, requestID string, body, out interface{}) (map[string]interface{}, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("paypal: marshal %s: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("paypal: build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	monitoring.ObserveProvider(gateway.ProviderPayPal, operation, start)
	if err != nil {
		return nil, &gateway.ProviderError{Provider: gateway.ProviderPayPal, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.ProviderError{Provider: gateway.ProviderPayPal, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		// token revoked or expired early; next call fetches a new one
		_ = c.tokens.Invalidate(ctx)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &gateway.ProviderError{Provider: gateway.ProviderPayPal, StatusCode: resp.StatusCode}
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && (apiErr.Name != "" || len(apiErr.Details) > 0) {
			for _, d := range apiErr.Details {
				perr.Details = append(perr.Details, gateway.ErrorDetail{Category: apiErr.Name, Code: d.Issue, Detail: d.Description, Field: d.Field})
			}
			if len(perr.Details) == 0 {
				perr.Details = []gateway.ErrorDetail{{Category: apiErr.Name, Code: apiErr.Name, Detail: apiErr.Message}}
			}
		} else {
			perr.Details = []gateway.ErrorDetail{{Code: http.StatusText(resp.StatusCode), Detail: strings.TrimSpace(string(respBody))}}
		}
		c.logger.Warn("PAYPAL", fmt.Sprintf("%s failed: %v", operation, perr))
		return nil, perr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("paypal: decode %s response: %w", operation, err)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(respBody, &raw)
	return raw, nil
}
