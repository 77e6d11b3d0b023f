// Package square calls the Square Payments and Refunds REST APIs. Cash App
// Pay tokens go through the same endpoints.
package square

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"
	"ms-stepping/internal/monitoring"
	"ms-stepping/internal/payment/gateway"

	"github.com/shopspring/decimal"
)

const SignatureHeader = "x-square-hmacsha256-signature"

type Config struct {
	BaseURL             string
	AccessToken         string
	LocationID          string
	APIVersion          string
	WebhookSignatureKey string
	WebhookURL          string
}

type Client struct {
	cfg    Config
	hc     *http.Client
	logger *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		hc:     &http.Client{Timeout: 15 * time.Second},
		logger: log,
	}
}

// WithHTTPClient replaces the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.hc = hc
	return c
}

func (c *Client) Name() string { return gateway.ProviderSquare }

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type createPaymentBody struct {
	SourceID       string `json:"source_id"`
	IdempotencyKey string `json:"idempotency_key"`
	AmountMoney    Money  `json:"amount_money"`
	LocationID     string `json:"location_id,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
	Note           string `json:"note,omitempty"`
	BuyerEmail     string `json:"buyer_email_address,omitempty"`
	Autocomplete   bool   `json:"autocomplete"`
}

type refundBody struct {
	IdempotencyKey string `json:"idempotency_key"`
	PaymentID      string `json:"payment_id"`
	AmountMoney    Money  `json:"amount_money"`
	Reason         string `json:"reason,omitempty"`
}

type Payment struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	AmountMoney   Money  `json:"amount_money"`
	RefundedMoney *Money `json:"refunded_money,omitempty"`
	ReceiptURL    string `json:"receipt_url,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`
	SourceType    string `json:"source_type,omitempty"`
}

type Refund struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	AmountMoney Money  `json:"amount_money"`
	PaymentID   string `json:"payment_id"`
}

type apiError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
	Field    string `json:"field"`
}

func (c *Client) CreatePayment(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	currency := money.NormalizeCurrency(req.Currency)
	minor, err := money.ToMinor(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	body := createPaymentBody{
		SourceID:       req.SourceToken,
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    Money{Amount: minor, Currency: currency},
		LocationID:     c.cfg.LocationID,
		ReferenceID:    req.ReferenceID,
		Note:           req.Note,
		BuyerEmail:     req.BuyerEmail,
		Autocomplete:   true,
	}

	var out struct {
		Payment Payment `json:"payment"`
	}
	raw, err := c.do(ctx, "create_payment", http.MethodPost, "/v2/payments", body, &out)
	if err != nil {
		return nil, err
	}
	c.logger.LogPayment(gateway.ProviderSquare, "CREATE", out.Payment.ID, fmt.Sprintf("status=%s amount=%d %s", out.Payment.Status, minor, currency))
	return paymentResult(out.Payment, raw), nil
}

func (c *Client) GetPayment(ctx context.Context, providerPaymentID string) (*gateway.Result, error) {
	var out struct {
		Payment Payment `json:"payment"`
	}
	raw, err := c.do(ctx, "get_payment", http.MethodGet, "/v2/payments/"+url.PathEscape(providerPaymentID), nil, &out)
	if err != nil {
		return nil, err
	}
	return paymentResult(out.Payment, raw), nil
}

func (c *Client) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	currency := money.NormalizeCurrency(req.Currency)
	minor, err := money.ToMinor(req.Amount, currency)
	if err != nil {
		return nil, err
	}
	body := refundBody{
		IdempotencyKey: req.IdempotencyKey,
		PaymentID:      req.ProviderPaymentID,
		AmountMoney:    Money{Amount: minor, Currency: currency},
		Reason:         req.Reason,
	}

	var out struct {
		Refund Refund `json:"refund"`
	}
	raw, err := c.do(ctx, "refund_payment", http.MethodPost, "/v2/refunds", body, &out)
	if err != nil {
		return nil, err
	}
	c.logger.LogPayment(gateway.ProviderSquare, "REFUND", req.ProviderPaymentID, fmt.Sprintf("refund=%s status=%s", out.Refund.ID, out.Refund.Status))
	return &gateway.Result{
		TransactionID:  out.Refund.ID,
		ProviderStatus: out.Refund.Status,
		Status:         RefundStatus(out.Refund.Status),
		Amount:         money.FromMinor(out.Refund.AmountMoney.Amount, out.Refund.AmountMoney.Currency),
		Currency:       out.Refund.AmountMoney.Currency,
		RawResponse:    raw,
	}, nil
}

// VerifyWebhook checks the base64 HMAC-SHA256 of the notification URL
// followed by the raw body.
func (c *Client) VerifyWebhook(signature string, body []byte) error {
	return VerifySignature(c.cfg.WebhookSignatureKey, c.cfg.WebhookURL, signature, body)
}

func VerifySignature(key, notificationURL, signature string, body []byte) error {
	if key == "" {
		return fmt.Errorf("%w: webhook signature key", gateway.ErrNotConfigured)
	}
	expected := Sign(key, notificationURL, body)
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return gateway.ErrInvalidSignature
	}
	return nil
}

func Sign(key, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, out interface{}) (map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("square: marshal %s: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("square: build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Square-Version", c.cfg.APIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	monitoring.ObserveProvider(gateway.ProviderSquare, operation, start)
	if err != nil {
		return nil, &gateway.ProviderError{Provider: gateway.ProviderSquare, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &gateway.ProviderError{Provider: gateway.ProviderSquare, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Errors []apiError `json:"errors"`
		}
		perr := &gateway.ProviderError{Provider: gateway.ProviderSquare, StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, &errBody) == nil {
			for _, e := range errBody.Errors {
				perr.Details = append(perr.Details, gateway.ErrorDetail{Category: e.Category, Code: e.Code, Detail: e.Detail, Field: e.Field})
			}
		}
		if len(perr.Details) == 0 {
			perr.Details = []gateway.ErrorDetail{{Code: http.StatusText(resp.StatusCode), Detail: strings.TrimSpace(string(respBody))}}
		}
		c.logger.Warn("SQUARE", fmt.Sprintf("%s failed: %v", operation, perr))
		return nil, perr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("square: decode %s response: %w", operation, err)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(respBody, &raw)
	return raw, nil
}

func paymentResult(p Payment, raw map[string]interface{}) *gateway.Result {
	return &gateway.Result{
		TransactionID:  p.ID,
		ProviderStatus: p.Status,
		Status:         PaymentStatus(p.Status),
		Amount:         money.FromMinor(p.AmountMoney.Amount, p.AmountMoney.Currency),
		Currency:       p.AmountMoney.Currency,
		RefundedAmount: p.Refunded(),
		ReceiptURL:     p.ReceiptURL,
		RawResponse:    raw,
	}
}

// Refunded is the total refunded so far.
func (p Payment) Refunded() decimal.Decimal {
	if p.RefundedMoney == nil {
		return decimal.Zero
	}
	return money.FromMinor(p.RefundedMoney.Amount, p.RefundedMoney.Currency)
}

// PaymentStatus maps a Square payment status to ours.
func PaymentStatus(status string) models.PaymentStatus {
	switch status {
	case "COMPLETED":
		return models.StatusSuccess
	case "APPROVED", "PENDING":
		return models.StatusPending
	case "CANCELED":
		return models.StatusCancelled
	default:
		return models.StatusFailed
	}
}

func RefundStatus(status string) models.PaymentStatus {
	switch status {
	case "COMPLETED", "PENDING":
		return models.StatusRefunded
	default:
		return models.StatusFailed
	}
}

// RefundedAmount returns the refunded total recorded on a payment.
func (p Payment) RefundedAmount() decimal.Decimal {
	if p.RefundedMoney == nil {
		return decimal.Zero
	}
	return money.FromMinor(p.RefundedMoney.Amount, p.RefundedMoney.Currency)
}
