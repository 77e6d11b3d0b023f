package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ms-stepping/internal/analytics"
	analytics_api "ms-stepping/internal/analytics/api"
	"ms-stepping/internal/auth"
	"ms-stepping/internal/business"
	business_api "ms-stepping/internal/business/api"
	"ms-stepping/internal/config"
	"ms-stepping/internal/database/migrations"
	"ms-stepping/internal/events"
	events_api "ms-stepping/internal/events/api"
	"ms-stepping/internal/follower"
	follower_api "ms-stepping/internal/follower/api"
	"ms-stepping/internal/kafka"
	"ms-stepping/internal/logger"
	"ms-stepping/internal/monitoring"
	"ms-stepping/internal/order"
	orderdb "ms-stepping/internal/order/db"
	orderkafka "ms-stepping/internal/order/kafka"
	"ms-stepping/internal/order/order_api"
	rediswrap "ms-stepping/internal/order/redis"
	"ms-stepping/internal/payment/gateway"
	"ms-stepping/internal/payment/handler"
	"ms-stepping/internal/payment/paypal"
	"ms-stepping/internal/payment/services"
	"ms-stepping/internal/payment/square"
	paymentstore "ms-stepping/internal/payment/storage"
	"ms-stepping/internal/payment/stripegw"
	"ms-stepping/internal/referral"
	referral_api "ms-stepping/internal/referral/api"
	"ms-stepping/internal/sse"
	"ms-stepping/internal/storage"
	"ms-stepping/internal/team"
	team_api "ms-stepping/internal/team/api"
	ticket_db "ms-stepping/internal/tickets/db"
	tickets "ms-stepping/internal/tickets/service"
	"ms-stepping/internal/tickets/ticket_api"
	wizard_api "ms-stepping/internal/wizard/api"
	draftredis "ms-stepping/internal/wizard/redis"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.DSN == "" {
		logger.Fatal("CONFIG", "POSTGRES_DSN not set")
	}

	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		sqldb.Close()
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient, err := auth.InitializeRedis(cfg.Redis.Addr, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	return bunDB, redisClient
}

func runMigrations(cfg *config.Config, logger *logger.Logger) {
	if !cfg.Database.AutoMigrate {
		logger.Info("MIGRATE", "AUTO_MIGRATE disabled, skipping schema migrations")
		return
	}
	runner := migrations.NewRunner(cfg.Database, logger)
	defer runner.Close()
	if err := runner.Up(); err != nil {
		logger.Fatal("MIGRATE", fmt.Sprintf("Schema migration failed: %v", err))
	}
}

func buildGateways(cfg *config.Config, redisClient *redis.Client, logger *logger.Logger) *gateway.Registry {
	registry := gateway.NewRegistry()
	missing := cfg.Validate()

	if len(missing["square"]) == 0 {
		sq := square.NewClient(square.Config{
			BaseURL:             cfg.Square.BaseURL(),
			AccessToken:         cfg.Square.AccessToken,
			LocationID:          cfg.Square.LocationID,
			APIVersion:          cfg.Square.APIVersion,
			WebhookSignatureKey: cfg.Square.WebhookSignatureKey,
			WebhookURL:          cfg.Square.WebhookURL,
		}, logger)
		registry.Register(gateway.ProviderSquare, sq)
		registry.Register(gateway.ProviderCashApp, sq)
		logger.Info("PAYMENT", fmt.Sprintf("Square gateway registered (%s)", cfg.Square.Environment))
	} else {
		logger.Warn("PAYMENT", fmt.Sprintf("Square disabled, missing %v", missing["square"]))
	}

	if len(missing["paypal"]) == 0 {
		tokens := auth.NewRedisTokenCache(redisClient, paypal.TokenCacheKey)
		registry.Register(gateway.ProviderPayPal, paypal.NewClient(paypal.Config{
			BaseURL:      cfg.PayPal.BaseURL(),
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
		}, tokens, logger))
		logger.Info("PAYMENT", fmt.Sprintf("PayPal gateway registered (%s)", cfg.PayPal.Environment))
	}

	if cfg.Stripe.SecretKey != "" {
		sg, err := stripegw.New(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, nil, logger)
		if err != nil {
			logger.Error("PAYMENT", fmt.Sprintf("Stripe gateway unavailable: %v", err))
		} else {
			registry.Register(gateway.ProviderStripe, sg)
		}
	}

	if len(registry.Providers()) == 0 {
		logger.Warn("PAYMENT", "No payment provider configured; the proxy will answer 503")
	}
	return registry
}

func buildUploader(ctx context.Context, cfg *config.Config, logger *logger.Logger) *storage.Uploader {
	if cfg.Storage.LocalDir != "" {
		local, err := storage.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
		if err != nil {
			logger.Fatal("STORAGE", fmt.Sprintf("Local storage init failed: %v", err))
		}
		logger.Info("STORAGE", fmt.Sprintf("Uploads stored under %s", cfg.Storage.LocalDir))
		return storage.NewUploader(local, cfg.Storage, logger)
	}
	s3Store, err := storage.NewS3Store(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("STORAGE", fmt.Sprintf("S3 client init failed: %v", err))
	}
	logger.Info("STORAGE", fmt.Sprintf("Uploads stored in S3 (%s)", cfg.Storage.Region))
	return storage.NewUploader(s3Store, cfg.Storage, logger)
}

// startConsumers wires payment events to order state changes. Each consumer
// blocks until ctx is cancelled.
func startConsumers(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, orders *order.OrderService, payments *services.PaymentService, logger *logger.Logger) []*kafka.Consumer {
	handlers := map[string]kafka.MessageHandler{
		cfg.Kafka.Topics.PaymentSucceeded: orderkafka.PaymentSucceededHandler(orders, payments, logger),
		cfg.Kafka.Topics.PaymentFailed:    orderkafka.PaymentFailedHandler(orders, logger),
		cfg.Kafka.Topics.PaymentRefunded:  orderkafka.PaymentRefundedHandler(orders, logger),
	}

	consumers := make([]*kafka.Consumer, 0, len(handlers))
	for topic, h := range handlers {
		c := kafka.NewConsumer(cfg.Kafka.Brokers, topic, cfg.Kafka.GroupID, logger)
		consumers = append(consumers, c)
		wg.Add(1)
		go func(h kafka.MessageHandler) {
			defer wg.Done()
			c.Start(ctx, h)
		}(h)
	}
	return consumers
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting Stepping service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	for feature, keys := range cfg.Validate() {
		if len(keys) > 0 {
			logger.Warn("CONFIG", fmt.Sprintf("%s not fully configured, missing %v", feature, keys))
		}
	}

	ctx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	runMigrations(cfg, logger)

	var producer kafka.Publisher = kafka.NopProducer{Logger: logger}
	if cfg.Kafka.Enabled {
		kafkaProducer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer kafkaProducer.Close()
		producer = kafkaProducer
		logger.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))

		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	} else {
		logger.Warn("KAFKA", "Kafka disabled, domain events are dropped")
	}
	topics := cfg.Kafka.Topics

	// Domain services
	eventService := &events.EventService{Store: &events.DB{Bun: bunDB}, Producer: producer, Topics: topics, Logger: logger}
	followerService := &follower.Service{Store: &follower.DB{Bun: bunDB}, Producer: producer, Topics: topics, Logger: logger}
	teamService := &team.Service{Store: &team.DB{Bun: bunDB}, Producer: producer, Topics: topics, Logger: logger}
	businessService := &business.Service{Store: &business.DB{Bun: bunDB}, Producer: producer, Topics: topics, Logger: logger}
	referralService := &referral.Service{
		Store:       &referral.DB{Bun: bunDB},
		Permissions: followerService,
		Events:      eventService,
		Logger:      logger,
	}

	staff := &tickets.StaffPolicy{Events: eventService, Followers: followerService, Team: teamService}
	ticketService := tickets.NewTicketService(&ticket_db.DB{Bun: bunDB}, cfg.Tickets.QRSecret, staff, logger)

	checkoutEmitter := sse.NewCheckoutEventEmitter()
	seatLock := rediswrap.NewSeatLock(redisClient, cfg.Tickets.SeatLockTTL, logger)

	orderService := &order.OrderService{
		DB:        &orderdb.DB{Bun: bunDB},
		Seats:     seatLock,
		Holds:     seatLock,
		Events:    eventService,
		Tickets:   ticketService,
		Referrals: referralService,
		Emitter:   checkoutEmitter,
		Producer:  producer,
		Topics:    topics,
		Currency:  cfg.Tickets.CurrencyCode,
		Logger:    logger,
	}

	analyticsService := analytics.NewService(&analytics.DB{Bun: bunDB}, eventService, ticketService, logger)

	paymentService := services.NewPaymentService(
		buildGateways(cfg, redisClient, logger),
		paymentstore.NewBunStore(bunDB, logger),
		producer,
		topics,
		logger,
	)

	wizardService := &wizard_api.Service{
		Drafts:      draftredis.NewDraftStore(redisClient, cfg.Wizard.DraftTTL, logger),
		Events:      eventService,
		Uploads:     buildUploader(ctx, cfg, logger),
		HistorySize: cfg.Wizard.HistorySize,
		Logger:      logger,
	}

	// Background workers
	var workers sync.WaitGroup
	var consumers []*kafka.Consumer
	if cfg.Kafka.Enabled {
		consumers = startConsumers(ctx, &workers, cfg, orderService, paymentService, logger)
		logger.Info("KAFKA", fmt.Sprintf("%d payment event consumers started", len(consumers)))
	}

	seatLock.EnableExpiryEvents(ctx)
	workers.Add(1)
	go func() {
		defer workers.Done()
		seatLock.WatchExpiredOrders(ctx, orderService.ExpireOrder)
	}()
	logger.Info("REDIS", "Watching payment windows for expiry")

	// HTTP handlers
	eventHandler := &events_api.Handler{EventService: eventService, Logger: logger}
	orderHandler := order_api.NewHandler(orderService, paymentService, logger)
	ticketHandler := ticket_api.NewHandler(ticketService, orderService, logger)
	analyticsHandler := analytics_api.NewHandler(analyticsService, logger)
	sseHandler := sse.NewSSEHandler(logger, checkoutEmitter, eventService)
	paymentHandler := handler.NewPaymentHandler(paymentService, cfg, logger)
	paymentHandler.Orders = orderService
	wizardHandler := &wizard_api.Handler{Service: wizardService, Logger: logger}
	businessHandler := business_api.NewHandler(businessService, logger)
	followerHandler := follower_api.NewHandler(followerService, logger)
	referralHandler := referral_api.NewHandler(referralService, logger)
	teamHandler := team_api.NewHandler(teamService, logger)

	verifier, err := auth.NewVerifier(ctx, cfg.Auth.JWTSecret, cfg.Auth.OIDCIssuer)
	if err != nil {
		logger.Fatal("AUTH", fmt.Sprintf("Token verifier init failed: %v", err))
	}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware)
	r.Use(monitoring.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	// --- Public Routes ---
	paymentHandler.Routes(r, auth.Middleware(verifier, logger))
	eventHandler.PublicRoutes(r)
	businessHandler.PublicRoutes(r)
	followerHandler.PublicRoutes(r)
	referralHandler.PublicRoutes(r)
	logger.Info("ROUTER", "Public routes registered (payments health and webhooks, events, businesses, followers, referral validation)")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, logger))
		logger.Info("AUTH", "JWT middleware applied to protected API routes")

		eventHandler.Routes(r)
		orderHandler.Routes(r)
		ticketHandler.Routes(r)
		analyticsHandler.Routes(r)
		sseHandler.Routes(r)
		wizardHandler.Routes(r)
		businessHandler.Routes(r)
		followerHandler.Routes(r)
		referralHandler.Routes(r)
		teamHandler.Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole("admin"))
			businessHandler.AdminRoutes(r)
			r.Get("/api/admin/tickets/count", ticketHandler.GetTotalTicketsCount)
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Stepping service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Stepping service shutdown complete")
	}

	cancelWorkers()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Consumer close failed: %v", err))
		}
	}
	workers.Wait()
}
