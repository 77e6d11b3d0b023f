package checkout_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"ms-stepping/internal/checkout"
	"ms-stepping/internal/checkout/sandbox"
	"ms-stepping/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, ids ...string) (*checkout.Manager, *sandbox.SDK, *sandbox.Document) {
	t.Helper()
	sdk := sandbox.New()
	doc := sandbox.NewDocument(ids...)
	m := checkout.NewManager(sdk, doc, checkout.Config{ApplicationID: "sandbox-sq0idb-app", LocationID: "L1"}, logger.NewConsoleLogger())
	return m, sdk, doc
}

func TestInitializeIsIdempotent(t *testing.T) {
	m, sdk, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.Initialize(ctx))
	require.NoError(t, m.Initialize(ctx))

	loads, _, _ := sdk.Counts()
	assert.Equal(t, 1, loads)
	assert.True(t, m.Initialized())
}

func TestInitializeSkipsLoadWhenAlreadyLoaded(t *testing.T) {
	sdk := sandbox.New()
	require.NoError(t, sdk.Load(context.Background()))
	m := checkout.NewManager(sdk, sandbox.NewDocument(), checkout.Config{ApplicationID: "app", LocationID: "loc"}, logger.NewConsoleLogger())

	require.NoError(t, m.Initialize(context.Background()))

	loads, _, _ := sdk.Counts()
	assert.Equal(t, 1, loads)
}

func TestInitializeMissingCredentials(t *testing.T) {
	sdk := sandbox.New()
	m := checkout.NewManager(sdk, sandbox.NewDocument(), checkout.Config{ApplicationID: "app"}, logger.NewConsoleLogger())

	err := m.Initialize(context.Background())

	var cfgErr *checkout.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"location id"}, cfgErr.Missing)
	loads, _, _ := sdk.Counts()
	assert.Zero(t, loads)
}

func TestInitializeReportsLoadFailureAndAllowsRetry(t *testing.T) {
	m, sdk, _ := newManager(t)
	sdk.LoadErr = errors.New("network unreachable")

	err := m.Initialize(context.Background())
	var loadErr *checkout.ScriptLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.False(t, m.Initialized())

	require.NoError(t, m.Initialize(context.Background()))
	assert.True(t, m.Initialized())
}

func TestCreateCardWidgetRequiresInitialize(t *testing.T) {
	m, _, _ := newManager(t, "card-container")
	_, err := m.CreateCardWidget(context.Background(), "card-container")
	assert.ErrorIs(t, err, checkout.ErrNotInitialized)
}

func TestCreateCardWidgetAttachesOnce(t *testing.T) {
	m, sdk, _ := newManager(t, "card-container")
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	first, err := m.CreateCardWidget(ctx, "card-container")
	require.NoError(t, err)
	second, err := m.CreateCardWidget(ctx, "card-container")
	require.NoError(t, err)

	assert.Same(t, first, second)
	_, attaches, _ := sdk.Counts()
	assert.Equal(t, 1, attaches)
	assert.Equal(t, checkout.StateAttached, m.State("card-container"))
}

func TestCreateCardWidgetConcurrentCallersShareOneAttach(t *testing.T) {
	m, sdk, _ := newManager(t, "card-container")
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.CreateCardWidget(ctx, "card-container")
		}()
	}
	wg.Wait()

	_, attaches, _ := sdk.Counts()
	assert.Equal(t, 1, attaches)
}

func TestCreateCardWidgetMissingContainer(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	_, err := m.CreateCardWidget(ctx, "nowhere")

	var attachErr *checkout.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.Equal(t, "nowhere", attachErr.ContainerID)
	assert.Equal(t, checkout.StateAbsent, m.State("nowhere"))
}

func TestCreateCardWidgetVendorAttachFailure(t *testing.T) {
	m, sdk, _ := newManager(t, "card-container")
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	sdk.AttachErr = errors.New("iframe blocked")

	_, err := m.CreateCardWidget(ctx, "card-container")

	var attachErr *checkout.AttachError
	require.ErrorAs(t, err, &attachErr)
	assert.ErrorContains(t, err, "iframe blocked")
	assert.Equal(t, checkout.StateAbsent, m.State("card-container"))
}

func TestCreateCashAppWidgetBuildsPaymentRequest(t *testing.T) {
	m, sdk, _ := newManager(t, "cash-app")
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))

	inst, err := m.CreateCashAppWidget(ctx, "cash-app", 2550, checkout.WalletOptions{RedirectURL: "https://example.com/done"})
	require.NoError(t, err)

	assert.Equal(t, checkout.WidgetCashApp, inst.Kind)
	assert.Equal(t, checkout.PaymentRequest{
		CountryCode:  "US",
		CurrencyCode: "USD",
		Total:        checkout.LineItem{Amount: "25.50", Label: "Total"},
	}, sdk.LastRequest)

	token, err := m.Tokenize(ctx, inst)
	require.NoError(t, err)
	assert.Equal(t, sandbox.CashAppNonceOK, token)
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		result  *checkout.TokenResult
		token   string
		message string
	}{
		{name: "ok", token: sandbox.CardNonceOK},
		{
			name:    "vendor message",
			result:  &checkout.TokenResult{Status: "Invalid", Errors: []checkout.VendorError{{Message: "Card number is not valid"}, {Message: "second"}}},
			message: "Card number is not valid",
		},
		{
			name:    "generic fallback",
			result:  &checkout.TokenResult{Status: "Abort"},
			message: "Tokenization failed with status Abort",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, sdk, _ := newManager(t, "card")
			ctx := context.Background()
			require.NoError(t, m.Initialize(ctx))
			sdk.Result = tt.result

			inst, err := m.CreateCardWidget(ctx, "card")
			require.NoError(t, err)
			token, err := m.Tokenize(ctx, inst)

			if tt.message == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.token, token)
				return
			}
			var tokErr *checkout.TokenizationError
			require.ErrorAs(t, err, &tokErr)
			assert.Equal(t, tt.message, tokErr.Message)
			assert.Empty(t, token)
		})
	}
}

func TestDestroy(t *testing.T) {
	m, sdk, _ := newManager(t, "card")
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	_, err := m.CreateCardWidget(ctx, "card")
	require.NoError(t, err)

	require.NoError(t, m.Destroy(ctx, "card"))
	assert.Equal(t, checkout.StateDestroyed, m.State("card"))
	require.NoError(t, m.Destroy(ctx, "card"))
	require.NoError(t, m.Destroy(ctx, "unknown"))

	_, _, destroyed := sdk.Counts()
	assert.Equal(t, 1, destroyed)

	// a destroyed container can be attached again
	_, err = m.CreateCardWidget(ctx, "card")
	require.NoError(t, err)
	_, attaches, _ := sdk.Counts()
	assert.Equal(t, 2, attaches)
	assert.Equal(t, checkout.StateAttached, m.State("card"))
}

func TestDestroyAll(t *testing.T) {
	m, sdk, _ := newManager(t, "a", "b")
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	_, err := m.CreateCardWidget(ctx, "a")
	require.NoError(t, err)
	_, err = m.CreateCashAppWidget(ctx, "b", 100, checkout.WalletOptions{})
	require.NoError(t, err)

	require.NoError(t, m.DestroyAll(ctx))

	_, _, destroyed := sdk.Counts()
	assert.Equal(t, 2, destroyed)
}
