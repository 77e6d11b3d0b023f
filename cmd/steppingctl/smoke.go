package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ms-stepping/internal/checkout"
	"ms-stepping/internal/checkout/sandbox"
	"ms-stepping/internal/config"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/models"
	"ms-stepping/internal/money"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func smokeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run end-to-end smoke flows against a running service",
	}
	cmd.AddCommand(smokeBusinessCmd(opts))
	cmd.AddCommand(smokePaymentCmd(opts))
	return cmd
}

type businessSmoke struct {
	OwnerToken string
	AdminToken string
	Keep       bool
}

func smokeBusinessCmd(opts *options) *cobra.Command {
	var s businessSmoke
	cmd := &cobra.Command{
		Use:   "business",
		Short: "Create, list, update and approve a business listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.OwnerToken == "" {
				return errors.New("--owner-token is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runBusinessSmoke(ctx, newPrinter(cmd), newAPIClient(opts.apiURL), s)
		},
	}
	cmd.Flags().StringVar(&s.OwnerToken, "owner-token", "", "Bearer token of the listing owner")
	cmd.Flags().StringVar(&s.AdminToken, "admin-token", "", "Bearer token with the admin role; approval is skipped when empty")
	cmd.Flags().BoolVar(&s.Keep, "keep", false, "Keep the listing instead of deleting it afterwards")
	return cmd
}

func runBusinessSmoke(ctx context.Context, p *printer, api *apiClient, s businessSmoke) error {
	p.section("Business directory")

	suffix := uuid.NewString()[:8]
	var created models.CommunityBusiness
	err := api.do(ctx, http.MethodPost, "/api/businesses", s.OwnerToken, map[string]string{
		"name":          "Smoke Test Studio " + suffix,
		"description":   "Created by steppingctl",
		"category":      "dance_studio",
		"contact_email": "smoke+" + suffix + "@example.com",
		"city":          "Chicago",
		"state":         "IL",
	}, &created)
	if err != nil {
		p.bad("create: %v", err)
		return err
	}
	if created.Status != models.BusinessStatusPending {
		err := fmt.Errorf("new listing has status %q, want pending", created.Status)
		p.bad("create: %v", err)
		return err
	}
	p.ok("created %s (%s)", created.ID, created.Status)

	var mine []models.CommunityBusiness
	if err := api.do(ctx, http.MethodGet, "/api/businesses/mine", s.OwnerToken, nil, &mine); err != nil {
		p.bad("list: %v", err)
		return err
	}
	found := false
	for _, b := range mine {
		if b.ID == created.ID {
			found = true
			break
		}
	}
	if !found {
		err := fmt.Errorf("listing %s missing from owner's list", created.ID)
		p.bad("list: %v", err)
		return err
	}
	p.ok("listed %d business(es) for owner", len(mine))

	var updated models.CommunityBusiness
	path := "/api/businesses/" + created.ID
	if err := api.do(ctx, http.MethodPatch, path, s.OwnerToken, map[string]string{"description": "Updated by steppingctl"}, &updated); err != nil {
		p.bad("update: %v", err)
		return err
	}
	p.ok("updated description to %q", updated.Description)

	if s.AdminToken == "" {
		p.note("approval skipped (no --admin-token)")
	} else {
		var approved models.CommunityBusiness
		err := api.do(ctx, http.MethodPut, "/api/admin/businesses/"+created.ID+"/status", s.AdminToken,
			map[string]string{"status": string(models.BusinessStatusApproved)}, &approved)
		if err != nil {
			p.bad("approve: %v", err)
			return err
		}
		var public models.CommunityBusiness
		if err := api.do(ctx, http.MethodGet, path, "", nil, &public); err != nil {
			p.bad("public read: %v", err)
			return err
		}
		p.ok("approved; public listing shows status %s", public.Status)
	}

	if s.Keep {
		p.note("kept %s", created.ID)
		return nil
	}
	if err := api.do(ctx, http.MethodDelete, path, s.OwnerToken, nil, nil); err != nil {
		p.bad("cleanup: %v", err)
		return err
	}
	p.ok("deleted %s", created.ID)
	return nil
}

type paymentSmoke struct {
	ApplicationID string
	LocationID    string
	Provider      string
	Amount        string
	Currency      string
	Token         string
	CashApp       bool
	DryRun        bool
}

func smokePaymentCmd(opts *options) *cobra.Command {
	var s paymentSmoke
	cmd := &cobra.Command{
		Use:   "payment",
		Short: "Tokenize a sandbox card and charge it through the payment proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if s.ApplicationID == "" {
				s.ApplicationID = cfg.Square.ApplicationID
			}
			if s.LocationID == "" {
				s.LocationID = cfg.Square.LocationID
			}
			if s.Currency == "" {
				s.Currency = cfg.Tickets.CurrencyCode
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runPaymentSmoke(ctx, newPrinter(cmd), newAPIClient(opts.apiURL), s)
		},
	}
	cmd.Flags().StringVar(&s.ApplicationID, "application-id", "", "Square application id (defaults to SQUARE_APPLICATION_ID)")
	cmd.Flags().StringVar(&s.LocationID, "location-id", "", "Square location id (defaults to SQUARE_LOCATION_ID)")
	cmd.Flags().StringVar(&s.Provider, "provider", "square", "Provider the proxy charges")
	cmd.Flags().StringVar(&s.Amount, "amount", "1.00", "Amount in major units")
	cmd.Flags().StringVar(&s.Currency, "currency", "", "ISO currency code (defaults to DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&s.Token, "token", "", "Bearer token sent to the payment proxy")
	cmd.Flags().BoolVar(&s.CashApp, "cash-app", false, "Also attach and tokenize a Cash App Pay widget")
	cmd.Flags().BoolVar(&s.DryRun, "dry-run", false, "Stop after tokenizing; do not call the proxy")
	return cmd
}

type paymentResult struct {
	TransactionID string               `json:"transaction_id"`
	Provider      string               `json:"provider"`
	Status        models.PaymentStatus `json:"status"`
	Amount        string               `json:"amount"`
	Currency      string               `json:"currency"`
}

func runPaymentSmoke(ctx context.Context, p *printer, api *apiClient, s paymentSmoke) error {
	p.section("Checkout")

	amount, err := money.Parse(s.Amount)
	if err != nil || !amount.IsPositive() {
		return fmt.Errorf("invalid --amount %q", s.Amount)
	}

	const cardContainer, walletContainer = "card-container", "cash-app-container"
	mgr := checkout.NewManager(sandbox.New(), sandbox.NewDocument(cardContainer, walletContainer), checkout.Config{
		ApplicationID: s.ApplicationID,
		LocationID:    s.LocationID,
		CurrencyCode:  s.Currency,
	}, logger.NewConsoleLogger())
	defer func() { _ = mgr.DestroyAll(context.Background()) }()

	if err := mgr.Initialize(ctx); err != nil {
		p.bad("initialize: %v", err)
		return err
	}
	p.ok("payments client initialized")

	card, err := mgr.CreateCardWidget(ctx, cardContainer)
	if err != nil {
		p.bad("attach card: %v", err)
		return err
	}
	p.ok("card widget %s", mgr.State(cardContainer))

	token, err := mgr.Tokenize(ctx, card)
	if err != nil {
		p.bad("tokenize: %v", err)
		return err
	}
	p.ok("card tokenized: %s", token)

	if s.CashApp {
		minor, err := money.ToMinor(amount, s.Currency)
		if err != nil {
			p.bad("cash app amount: %v", err)
			return err
		}
		wallet, err := mgr.CreateCashAppWidget(ctx, walletContainer, minor, checkout.WalletOptions{
			ReferenceID: "steppingctl-" + time.Now().UTC().Format("20060102T150405"),
		})
		if err != nil {
			p.bad("attach cash app: %v", err)
			return err
		}
		walletToken, err := mgr.Tokenize(ctx, wallet)
		if err != nil {
			p.bad("tokenize cash app: %v", err)
			return err
		}
		p.ok("cash app tokenized: %s", walletToken)
	}

	if err := mgr.Destroy(ctx, cardContainer); err != nil {
		p.bad("destroy: %v", err)
		return err
	}
	p.ok("card widget %s", mgr.State(cardContainer))

	if s.DryRun {
		p.note("dry run, proxy not called")
		return nil
	}

	p.section("Payment proxy")
	if s.Token == "" {
		err := errors.New("--token is required to call the payment proxy")
		p.bad("create_payment: %v", err)
		return err
	}
	var result paymentResult
	err = api.do(ctx, http.MethodPost, "/api/payments", s.Token, map[string]interface{}{
		"action":          "create_payment",
		"provider":        s.Provider,
		"source_id":       token,
		"amount":          amount,
		"currency":        s.Currency,
		"note":            "steppingctl smoke payment",
		"idempotency_key": uuid.NewString(),
	}, &result)
	if err != nil {
		p.bad("create_payment: %v", err)
		return err
	}
	p.ok("transaction %s: %s %s %s via %s", result.TransactionID, result.Status, result.Amount, result.Currency, result.Provider)
	if result.Status == models.StatusFailed {
		return fmt.Errorf("payment %s failed", result.TransactionID)
	}
	return nil
}
