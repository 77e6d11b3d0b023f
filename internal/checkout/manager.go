// Package checkout owns the vendor payments client for one checkout context
// and the widgets attached to it.
package checkout

import (
	"context"
	"fmt"
	"sync"

	"ms-stepping/internal/logger"
	"ms-stepping/internal/money"
)

// State of a container id. The zero value is StateAbsent.
type State int

const (
	StateAbsent State = iota
	StateAttaching
	StateAttached
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateDestroyed:
		return "destroyed"
	default:
		return "absent"
	}
}

type Config struct {
	ApplicationID string
	LocationID    string
	CountryCode   string
	CurrencyCode  string
}

// Instance is an attached widget.
type Instance struct {
	ContainerID string
	Kind        WidgetKind
	element     Element
}

type Manager struct {
	sdk    SDK
	doc    Document
	cfg    Config
	logger *logger.Logger

	initMu   sync.Mutex
	payments Payments

	mu        sync.Mutex
	instances map[string]*Instance
	states    map[string]State
}

func NewManager(sdk SDK, doc Document, cfg Config, log *logger.Logger) *Manager {
	if cfg.CountryCode == "" {
		cfg.CountryCode = "US"
	}
	cfg.CurrencyCode = money.NormalizeCurrency(cfg.CurrencyCode)
	return &Manager{
		sdk:       sdk,
		doc:       doc,
		cfg:       cfg,
		logger:    log,
		instances: make(map[string]*Instance),
		states:    make(map[string]State),
	}
}

// Initialize loads the SDK once and builds the payments client. Calling it
// again after success is a no-op. A failed load may be retried by the caller.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.payments != nil {
		return nil
	}

	var missing []string
	if m.cfg.ApplicationID == "" {
		missing = append(missing, "application id")
	}
	if m.cfg.LocationID == "" {
		missing = append(missing, "location id")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	if !m.sdk.Loaded() {
		if err := m.sdk.Load(ctx); err != nil {
			m.logger.Error("CHECKOUT", fmt.Sprintf("SDK load failed: %v", err))
			return &ScriptLoadError{Err: err}
		}
	}

	payments, err := m.sdk.Payments(m.cfg.ApplicationID, m.cfg.LocationID)
	if err != nil {
		return fmt.Errorf("build payments client: %w", err)
	}
	m.payments = payments
	m.logger.Info("CHECKOUT", "Payments client initialized")
	return nil
}

func (m *Manager) client() (Payments, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.payments == nil {
		return nil, ErrNotInitialized
	}
	return m.payments, nil
}

// CreateCardWidget returns the widget already attached to containerID or
// attaches a new card element there.
func (m *Manager) CreateCardWidget(ctx context.Context, containerID string) (*Instance, error) {
	return m.attach(ctx, containerID, WidgetCard, func(p Payments) (Element, error) {
		return p.CreateCardElement(ctx)
	})
}

// CreateCashAppWidget attaches a Cash App Pay widget that will authorize
// amountCents in the manager's currency.
func (m *Manager) CreateCashAppWidget(ctx context.Context, containerID string, amountCents int64, opts WalletOptions) (*Instance, error) {
	label := opts.Label
	if label == "" {
		label = "Total"
	}
	req := PaymentRequest{
		CountryCode:  m.cfg.CountryCode,
		CurrencyCode: m.cfg.CurrencyCode,
		Total: LineItem{
			Amount: money.FromMinor(amountCents, m.cfg.CurrencyCode).StringFixed(money.Exponent(m.cfg.CurrencyCode)),
			Label:  label,
		},
	}
	return m.attach(ctx, containerID, WidgetCashApp, func(p Payments) (Element, error) {
		return p.CreateWalletElement(ctx, WidgetCashApp, req, opts)
	})
}

func (m *Manager) attach(ctx context.Context, containerID string, kind WidgetKind, create func(Payments) (Element, error)) (*Instance, error) {
	payments, err := m.client()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if inst, ok := m.instances[containerID]; ok {
		m.mu.Unlock()
		return inst, nil
	}
	if m.states[containerID] == StateAttaching {
		m.mu.Unlock()
		return nil, &AttachError{ContainerID: containerID, Reason: "attach in progress", Err: ErrAttachInProgress}
	}
	node, ok := m.doc.Lookup(containerID)
	if !ok {
		m.mu.Unlock()
		return nil, &AttachError{ContainerID: containerID, Reason: "container not found"}
	}
	prev := m.states[containerID]
	m.states[containerID] = StateAttaching
	m.mu.Unlock()

	element, err := create(payments)
	if err == nil {
		err = element.Attach(ctx, node)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.states[containerID] = prev
		m.logger.Warn("CHECKOUT", fmt.Sprintf("Attach %s widget to %s failed: %v", kind, containerID, err))
		return nil, &AttachError{ContainerID: containerID, Reason: "vendor attach failed", Err: err}
	}
	inst := &Instance{ContainerID: containerID, Kind: kind, element: element}
	m.instances[containerID] = inst
	m.states[containerID] = StateAttached
	m.logger.Debug("CHECKOUT", fmt.Sprintf("Attached %s widget to %s", kind, containerID))
	return inst, nil
}

// Tokenize asks the vendor for a single-use payment token.
func (m *Manager) Tokenize(ctx context.Context, inst *Instance) (string, error) {
	if inst == nil || inst.element == nil {
		return "", ErrUnknownInstance
	}
	result, err := inst.element.Tokenize(ctx)
	if err != nil {
		return "", &TokenizationError{Message: err.Error(), Err: err}
	}
	if result.Status == StatusOK {
		return result.Token, nil
	}
	msg := fmt.Sprintf("Tokenization failed with status %s", result.Status)
	if len(result.Errors) > 0 && result.Errors[0].Message != "" {
		msg = result.Errors[0].Message
	}
	return "", &TokenizationError{Status: result.Status, Message: msg}
}

// Destroy tears down the widget attached to containerID. Unknown ids are a
// no-op. The instance is forgotten even when the vendor hook fails.
func (m *Manager) Destroy(ctx context.Context, containerID string) error {
	m.mu.Lock()
	inst, ok := m.instances[containerID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.instances, containerID)
	m.states[containerID] = StateDestroyed
	m.mu.Unlock()

	if d, ok := inst.element.(Destroyer); ok {
		if err := d.Destroy(ctx); err != nil {
			return fmt.Errorf("destroy %s widget %q: %w", inst.Kind, containerID, err)
		}
	}
	return nil
}

// DestroyAll tears down every attached widget, returning the first error.
func (m *Manager) DestroyAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Manager) State(containerID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[containerID]
}

func (m *Manager) Initialized() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.payments != nil
}
