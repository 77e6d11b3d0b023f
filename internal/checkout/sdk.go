package checkout

import "context"

// SDK is the vendor payments library. Load fetches the vendor script; it is
// only called when Loaded reports false.
type SDK interface {
	Loaded() bool
	Load(ctx context.Context) error
	Payments(applicationID, locationID string) (Payments, error)
}

// Payments is the initialized vendor client.
type Payments interface {
	CreateCardElement(ctx context.Context) (Element, error)
	CreateWalletElement(ctx context.Context, kind WidgetKind, req PaymentRequest, opts WalletOptions) (Element, error)
}

// Element is one vendor widget before or after attachment.
type Element interface {
	Attach(ctx context.Context, node Node) error
	Tokenize(ctx context.Context) (TokenResult, error)
}

// Destroyer is implemented by elements that hold resources after attach.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// Document resolves container ids to mount points.
type Document interface {
	Lookup(containerID string) (Node, bool)
}

type Node interface {
	ID() string
}

const StatusOK = "OK"

type TokenResult struct {
	Status string        `json:"status"`
	Token  string        `json:"token,omitempty"`
	Errors []VendorError `json:"errors,omitempty"`
}

type VendorError struct {
	Type    string `json:"type,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type WidgetKind string

const (
	WidgetCard    WidgetKind = "card"
	WidgetCashApp WidgetKind = "cash_app_pay"
)

type LineItem struct {
	Amount string `json:"amount"`
	Label  string `json:"label"`
}

// PaymentRequest describes the amount a wallet widget will authorize.
type PaymentRequest struct {
	CountryCode  string   `json:"countryCode"`
	CurrencyCode string   `json:"currencyCode"`
	Total        LineItem `json:"total"`
}

type WalletOptions struct {
	RedirectURL string `json:"redirectURL,omitempty"`
	ReferenceID string `json:"referenceId,omitempty"`
	Label       string `json:"-"`
	ButtonSize  string `json:"size,omitempty"`
	ButtonShape string `json:"shape,omitempty"`
}
