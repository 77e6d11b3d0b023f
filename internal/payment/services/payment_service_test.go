package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/payment/gateway"
	"ms-stepping/internal/payment/square"
	"ms-stepping/internal/payment/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "github.com/uptrace/bun/driver/sqliteshim"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return gateway.ProviderSquare }

func (m *MockGateway) CreatePayment(ctx context.Context, req gateway.ChargeRequest) (*gateway.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

func (m *MockGateway) GetPayment(ctx context.Context, id string) (*gateway.Result, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

func (m *MockGateway) RefundPayment(ctx context.Context, req gateway.RefundRequest) (*gateway.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.Result)
	return res, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingPublisher) Publish(topic, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func (r *recordingPublisher) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

type fixture struct {
	svc   *PaymentService
	gw    *MockGateway
	store *storage.BunStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqldb, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	log := logger.NewConsoleLogger()
	store := storage.NewBunStore(bunDB, log)
	require.NoError(t, store.CreateSchema(context.Background()))

	gw := new(MockGateway)
	reg := gateway.NewRegistry()
	reg.Register(gateway.ProviderSquare, gw)

	pub := &recordingPublisher{}
	svc := NewPaymentService(reg, store, pub, config.Load().Kafka.Topics, log)
	return &fixture{svc: svc, gw: gw, store: store, pub: pub}
}

func TestCreatePaymentRecordsSuccess(t *testing.T) {
	f := newFixture(t)
	f.gw.On("CreatePayment", mock.Anything, mock.MatchedBy(func(r gateway.ChargeRequest) bool {
		return r.SourceToken == "cnon:card-nonce-ok" && r.Currency == "USD" && r.IdempotencyKey != ""
	})).Return(&gateway.Result{
		TransactionID: "sq_1",
		Status:        models.StatusSuccess,
		Amount:        decimal.RequireFromString("30.00"),
		Currency:      "USD",
	}, nil)

	p, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		SourceToken: "cnon:card-nonce-ok",
		Amount:      decimal.RequireFromString("30.00"),
		OrderID:     "order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, p.Status)
	assert.Equal(t, "sq_1", p.ProviderPaymentID)
	assert.Equal(t, gateway.ProviderSquare, p.Provider)

	stored, err := f.store.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Equal(t, []string{"stepping.payment.succeeded"}, f.pub.Topics())
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreatePayment(context.Background(), CreatePaymentInput{SourceToken: "tok", Amount: decimal.Zero})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreatePayment(context.Background(), CreatePaymentInput{SourceToken: "tok", Amount: decimal.NewFromInt(1), Provider: "paypal"})
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
	f.gw.AssertNotCalled(t, "CreatePayment", mock.Anything, mock.Anything)
}

func TestCreatePaymentProviderErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	perr := &gateway.ProviderError{Provider: "square", StatusCode: 402, Details: []gateway.ErrorDetail{{Code: "CARD_DECLINED", Detail: "declined"}}}
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, perr)

	_, err := f.svc.CreatePayment(context.Background(), CreatePaymentInput{
		SourceToken:    "cnon:card-nonce-declined",
		Amount:         decimal.NewFromInt(10),
		IdempotencyKey: "idem-fail",
	})
	var pe *gateway.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "CARD_DECLINED", pe.Code())

	stored, err := f.store.GetPaymentByIdempotencyKey(context.Background(), "idem-fail")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, []string{"stepping.payment.failed"}, f.pub.Topics())
}

func TestCreatePaymentReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.Result{
		TransactionID: "sq_2", Status: models.StatusSuccess, Amount: decimal.NewFromInt(5), Currency: "USD",
	}, nil).Once()

	in := CreatePaymentInput{SourceToken: "tok", Amount: decimal.NewFromInt(5), IdempotencyKey: "same-key"}
	first, err := f.svc.CreatePayment(context.Background(), in)
	require.NoError(t, err)
	second, err := f.svc.CreatePayment(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	f.gw.AssertNumberOfCalls(t, "CreatePayment", 1)
}

func seedPayment(t *testing.T, f *fixture, status models.PaymentStatus) *models.Payment {
	t.Helper()
	p := &models.Payment{
		ID:                "pay-1",
		Provider:          gateway.ProviderSquare,
		ProviderPaymentID: "sq_9",
		Status:            status,
		Amount:            decimal.RequireFromString("40.00"),
		Currency:          "USD",
		RefundedAmount:    decimal.Zero,
		IdempotencyKey:    "seed",
	}
	require.NoError(t, f.store.SavePayment(context.Background(), p))
	return p
}

func TestRefundPaymentDefaultsToRemainingAmount(t *testing.T) {
	f := newFixture(t)
	seedPayment(t, f, models.StatusSuccess)

	partial := decimal.RequireFromString("15.00")
	f.gw.On("RefundPayment", mock.Anything, mock.MatchedBy(func(r gateway.RefundRequest) bool {
		return r.Amount.Equal(partial)
	})).Return(&gateway.Result{TransactionID: "rf_1", Status: models.StatusRefunded}, nil).Once()
	f.gw.On("RefundPayment", mock.Anything, mock.MatchedBy(func(r gateway.RefundRequest) bool {
		return r.Amount.Equal(decimal.RequireFromString("25.00"))
	})).Return(&gateway.Result{TransactionID: "rf_2", Status: models.StatusRefunded}, nil).Once()

	p, err := f.svc.RefundPayment(context.Background(), RefundInput{PaymentID: "pay-1", Amount: &partial})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, p.Status)

	p, err = f.svc.RefundPayment(context.Background(), RefundInput{PaymentID: "sq_9"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, p.Status)
	assert.True(t, p.RefundedAmount.Equal(p.Amount))

	_, err = f.svc.RefundPayment(context.Background(), RefundInput{PaymentID: "pay-1"})
	assert.ErrorIs(t, err, ErrNotRefundable)
}

func TestRefundPaymentRejectsExcessAmount(t *testing.T) {
	f := newFixture(t)
	seedPayment(t, f, models.StatusSuccess)
	tooMuch := decimal.NewFromInt(100)

	_, err := f.svc.RefundPayment(context.Background(), RefundInput{PaymentID: "pay-1", Amount: &tooMuch})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.RefundPayment(context.Background(), RefundInput{PaymentID: "missing"})
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetPaymentSyncsProviderStatus(t *testing.T) {
	f := newFixture(t)
	seedPayment(t, f, models.StatusPending)
	f.gw.On("GetPayment", mock.Anything, "sq_9").Return(&gateway.Result{TransactionID: "sq_9", Status: models.StatusSuccess}, nil)

	p, err := f.svc.GetPayment(context.Background(), "", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, p.Status)
	assert.Equal(t, []string{"stepping.payment.succeeded"}, f.pub.Topics())
}

func TestGetPaymentUnknownLocallyQueriesProvider(t *testing.T) {
	f := newFixture(t)
	f.gw.On("GetPayment", mock.Anything, "sq_external").Return(&gateway.Result{
		TransactionID: "sq_external", Status: models.StatusSuccess, Amount: decimal.NewFromInt(3), Currency: "USD",
	}, nil)

	p, err := f.svc.GetPayment(context.Background(), "", "sq_external")
	require.NoError(t, err)
	assert.Equal(t, "sq_external", p.ProviderPaymentID)
	assert.Empty(t, p.ID)
}

func newSquareWebhookFixture(t *testing.T) (*fixture, *square.Client) {
	f := newFixture(t)
	sq := square.NewClient(square.Config{
		WebhookSignatureKey: "sig-key",
		WebhookURL:          "https://example.com/api/payments/webhooks/square",
	}, logger.NewConsoleLogger())
	f.svc.RegisterWebhookHandler(gateway.ProviderSquare, sq)
	return f, sq
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f, _ := newSquareWebhookFixture(t)
	seedPayment(t, f, models.StatusPending)
	body := []byte(`{"type":"payment.updated","event_id":"e1","data":{"object":{"payment":{"id":"sq_9","status":"COMPLETED"}}}}`)

	_, err := f.svc.HandleWebhook(context.Background(), gateway.ProviderSquare, "bogus", body)
	assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

	stored, err := f.store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestHandleWebhookAppliesPaymentUpdate(t *testing.T) {
	f, _ := newSquareWebhookFixture(t)
	seedPayment(t, f, models.StatusPending)
	body := []byte(`{"type":"payment.updated","event_id":"e1","data":{"object":{"payment":{"id":"sq_9","status":"COMPLETED"}}}}`)
	sig := square.Sign("sig-key", "https://example.com/api/payments/webhooks/square", body)

	evt, err := f.svc.HandleWebhook(context.Background(), gateway.ProviderSquare, sig, body)
	require.NoError(t, err)
	assert.True(t, evt.Handled)

	stored, err := f.store.GetPayment(context.Background(), "pay-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, stored.Status)
	assert.Equal(t, []string{"stepping.payment.succeeded"}, f.pub.Topics())
}

func TestHandleWebhookAcknowledgesUnknownType(t *testing.T) {
	f, _ := newSquareWebhookFixture(t)
	body := []byte(`{"type":"inventory.count.updated","event_id":"e2"}`)
	sig := square.Sign("sig-key", "https://example.com/api/payments/webhooks/square", body)

	evt, err := f.svc.HandleWebhook(context.Background(), gateway.ProviderSquare, sig, body)
	require.NoError(t, err)
	assert.False(t, evt.Handled)
	assert.Empty(t, f.pub.Topics())

	_, err = f.svc.HandleWebhook(context.Background(), gateway.ProviderStripe, "", body)
	assert.ErrorIs(t, err, gateway.ErrNotConfigured)
}

func TestCreateProviderOrderRequiresSupport(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateProviderOrder(context.Background(), "", decimal.NewFromInt(10), "USD", "order-1")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, canTransition(models.StatusPending, models.StatusSuccess))
	assert.True(t, canTransition(models.StatusSuccess, models.StatusRefunded))
	assert.False(t, canTransition(models.StatusSuccess, models.StatusPending))
	assert.False(t, canTransition(models.StatusRefunded, models.StatusSuccess))
}

func TestCreatePaymentRetriesAfterDecline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	perr := &gateway.ProviderError{Provider: "square", StatusCode: 402, Details: []gateway.ErrorDetail{{Code: "CARD_DECLINED", Detail: "declined"}}}
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(nil, perr).Once()
	f.gw.On("CreatePayment", mock.Anything, mock.Anything).Return(&gateway.Result{
		TransactionID: "sq_retry", Status: models.StatusSuccess, Amount: decimal.NewFromInt(20), Currency: "USD",
	}, nil).Once()

	in := CreatePaymentInput{SourceToken: "cnon:card-nonce-declined", Amount: decimal.NewFromInt(20), OrderID: "order-abc", IdempotencyKey: "order-abc"}
	_, err := f.svc.CreatePayment(ctx, in)
	require.Error(t, err)

	in.SourceToken = "cnon:card-nonce-ok"
	paid, err := f.svc.CreatePayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, paid.Status)
	assert.Equal(t, "sq_retry", paid.ProviderPaymentID)
	f.gw.AssertNumberOfCalls(t, "CreatePayment", 2)
	first := f.gw.Calls[0].Arguments.Get(1).(gateway.ChargeRequest)
	second := f.gw.Calls[1].Arguments.Get(1).(gateway.ChargeRequest)
	assert.Equal(t, "order-abc", first.IdempotencyKey)
	assert.NotEqual(t, first.IdempotencyKey, second.IdempotencyKey, "a declined key is never sent again")

	again, err := f.svc.CreatePayment(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, paid.ID, again.ID)
	f.gw.AssertNumberOfCalls(t, "CreatePayment", 2)

	attempts, err := f.store.ListPaymentsByOrder(ctx, "order-abc")
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
	assert.Equal(t, []string{"stepping.payment.failed", "stepping.payment.succeeded"}, f.pub.Topics())
}

func TestHandleWebhookAccumulatesPartialRefunds(t *testing.T) {
	f, _ := newSquareWebhookFixture(t)
	ctx := context.Background()
	seedPayment(t, f, models.StatusSuccess)
	hookURL := "https://example.com/api/payments/webhooks/square"

	f.gw.On("GetPayment", mock.Anything, "sq_9").Return(&gateway.Result{
		TransactionID: "sq_9", Status: models.StatusSuccess, RefundedAmount: decimal.NewFromInt(10),
	}, nil).Once()
	f.gw.On("GetPayment", mock.Anything, "sq_9").Return(&gateway.Result{
		TransactionID: "sq_9", Status: models.StatusSuccess, RefundedAmount: decimal.NewFromInt(30),
	}, nil).Once()

	for _, body := range []string{
		`{"type":"refund.updated","event_id":"r1","data":{"object":{"refund":{"id":"rf_a","status":"COMPLETED","payment_id":"sq_9","amount_money":{"amount":1000,"currency":"USD"}}}}}`,
		`{"type":"refund.updated","event_id":"r2","data":{"object":{"refund":{"id":"rf_b","status":"COMPLETED","payment_id":"sq_9","amount_money":{"amount":2000,"currency":"USD"}}}}}`,
	} {
		_, err := f.svc.HandleWebhook(ctx, gateway.ProviderSquare, square.Sign("sig-key", hookURL, []byte(body)), []byte(body))
		require.NoError(t, err)
	}

	stored, err := f.store.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.Equal(decimal.NewFromInt(30)), stored.RefundedAmount.String())
	assert.Equal(t, models.StatusSuccess, stored.Status)

	// payment.updated carries the cumulative total; the last 10 settles it.
	body := []byte(`{"type":"payment.updated","event_id":"p1","data":{"object":{"payment":{"id":"sq_9","status":"COMPLETED","amount_money":{"amount":4000,"currency":"USD"},"refunded_money":{"amount":4000,"currency":"USD"}}}}}`)
	_, err = f.svc.HandleWebhook(ctx, gateway.ProviderSquare, square.Sign("sig-key", hookURL, body), body)
	require.NoError(t, err)
	_, err = f.svc.HandleWebhook(ctx, gateway.ProviderSquare, square.Sign("sig-key", hookURL, body), body)
	require.NoError(t, err)

	stored, err = f.store.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, stored.RefundedAmount.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, models.StatusRefunded, stored.Status)
	assert.Equal(t, []string{
		"stepping.payment.refunded", "stepping.payment.refunded", "stepping.payment.refunded",
	}, f.pub.Topics())
}
