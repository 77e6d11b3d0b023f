// Package sandbox is an in-process stand-in for the vendor payments SDK.
// Tokens it returns are the vendor's documented sandbox test nonces, so they
// are accepted by the real sandbox payments API.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ms-stepping/internal/checkout"
)

const (
	CardNonceOK       = "cnon:card-nonce-ok"
	CardNonceDeclined = "cnon:card-nonce-declined"
	CashAppNonceOK    = "wnon:cash-app-ok"
)

// SDK records every call so tests can assert on load and attach counts.
type SDK struct {
	mu sync.Mutex

	// LoadErr, when set, is returned from the next Load call and then cleared.
	LoadErr error
	// Result overrides the tokenize outcome of elements created afterwards.
	Result *checkout.TokenResult
	// AttachErr is returned from Attach of elements created afterwards.
	AttachErr error

	loaded      bool
	LoadCalls   int
	AttachCalls int
	Destroyed   int
	LastRequest checkout.PaymentRequest
}

func New() *SDK {
	return &SDK{}
}

func (s *SDK) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

func (s *SDK) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LoadCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.LoadErr != nil {
		err := s.LoadErr
		s.LoadErr = nil
		return err
	}
	s.loaded = true
	return nil
}

func (s *SDK) Payments(applicationID, locationID string) (checkout.Payments, error) {
	if applicationID == "" || locationID == "" {
		return nil, errors.New("sandbox: application and location id required")
	}
	return &payments{sdk: s}, nil
}

func (s *SDK) Counts() (loads, attaches, destroyed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.LoadCalls, s.AttachCalls, s.Destroyed
}

type payments struct {
	sdk *SDK
}

func (p *payments) CreateCardElement(ctx context.Context) (checkout.Element, error) {
	return p.newElement(checkout.WidgetCard, CardNonceOK), nil
}

func (p *payments) CreateWalletElement(ctx context.Context, kind checkout.WidgetKind, req checkout.PaymentRequest, opts checkout.WalletOptions) (checkout.Element, error) {
	if kind != checkout.WidgetCashApp {
		return nil, fmt.Errorf("sandbox: unsupported wallet %q", kind)
	}
	if req.Total.Amount == "" || req.CurrencyCode == "" {
		return nil, errors.New("sandbox: payment request requires total and currency")
	}
	p.sdk.mu.Lock()
	p.sdk.LastRequest = req
	p.sdk.mu.Unlock()
	return p.newElement(kind, CashAppNonceOK), nil
}

func (p *payments) newElement(kind checkout.WidgetKind, token string) *element {
	p.sdk.mu.Lock()
	defer p.sdk.mu.Unlock()
	result := checkout.TokenResult{Status: checkout.StatusOK, Token: token}
	if p.sdk.Result != nil {
		result = *p.sdk.Result
	}
	return &element{sdk: p.sdk, kind: kind, result: result, attachErr: p.sdk.AttachErr}
}

type element struct {
	sdk       *SDK
	kind      checkout.WidgetKind
	result    checkout.TokenResult
	attachErr error
	node      checkout.Node
}

func (e *element) Attach(ctx context.Context, node checkout.Node) error {
	e.sdk.mu.Lock()
	defer e.sdk.mu.Unlock()
	e.sdk.AttachCalls++
	if e.attachErr != nil {
		return e.attachErr
	}
	e.node = node
	return nil
}

func (e *element) Tokenize(ctx context.Context) (checkout.TokenResult, error) {
	if err := ctx.Err(); err != nil {
		return checkout.TokenResult{}, err
	}
	e.sdk.mu.Lock()
	defer e.sdk.mu.Unlock()
	if e.node == nil {
		return checkout.TokenResult{}, errors.New("sandbox: element not attached")
	}
	return e.result, nil
}

func (e *element) Destroy(ctx context.Context) error {
	e.sdk.mu.Lock()
	defer e.sdk.mu.Unlock()
	e.sdk.Destroyed++
	e.node = nil
	return nil
}

// Document is a fixed set of container ids.
type Document struct {
	mu    sync.RWMutex
	nodes map[string]bool
}

func NewDocument(ids ...string) *Document {
	d := &Document{nodes: make(map[string]bool)}
	for _, id := range ids {
		d.nodes[id] = true
	}
	return d
}

func (d *Document) Add(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[id] = true
}

func (d *Document) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, id)
}

func (d *Document) Lookup(containerID string) (checkout.Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.nodes[containerID] {
		return nil, false
	}
	return node(containerID), true
}

type node string

func (n node) ID() string { return string(n) }
