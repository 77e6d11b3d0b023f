package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Square   SquareConfig
	PayPal   PayPalConfig
	Stripe   StripeConfig
	Auth     AuthConfig
	Storage  StorageConfig
	Wizard   WizardConfig
	Tickets  TicketConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	MigrationsDir string
	AutoMigrate   bool
}

type RedisConfig struct {
	Addr string
	DB   int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	EventCreated     string
	OrderCreated     string
	OrderCompleted   string
	OrderCancelled   string
	PaymentSucceeded string
	PaymentFailed    string
	PaymentRefunded  string
	BusinessCreated  string
	FollowerPromoted string
	TeamMessage      string
}

// All returns every topic the service publishes to.
func (t TopicConfig) All() []string {
	return []string{
		t.EventCreated, t.OrderCreated, t.OrderCompleted, t.OrderCancelled,
		t.PaymentSucceeded, t.PaymentFailed, t.PaymentRefunded,
		t.BusinessCreated, t.FollowerPromoted, t.TeamMessage,
	}
}

// SquareConfig holds Square credentials. Cash App Pay shares the same
// application and location ids.
type SquareConfig struct {
	AccessToken         string
	ApplicationID       string
	LocationID          string
	Environment         string
	APIVersion          string
	WebhookSignatureKey string
	WebhookURL          string
}

func (c SquareConfig) BaseURL() string {
	if c.Environment == "production" {
		return "https://connect.squareup.com"
	}
	return "https://connect.squareupsandbox.com"
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Environment  string
}

func (c PayPalConfig) BaseURL() string {
	if c.Environment == "production" {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type AuthConfig struct {
	JWTSecret  string
	OIDCIssuer string
}

type StorageConfig struct {
	Region              string
	Endpoint            string
	UsePathStyle        bool
	PublicBaseURL       string
	LocalDir            string
	VenueImagesBucket   string
	SeatingChartsBucket string
	MaxUploadBytes      int64
}

type WizardConfig struct {
	DraftTTL    time.Duration
	HistorySize int
}

type TicketConfig struct {
	QRSecret     string
	SeatLockTTL  time.Duration
	CurrencyCode string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           getEnv("POSTGRES_DSN", ""),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
			AutoMigrate:   getEnvBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
			DB:   getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getEnv("KAFKA_GROUP_ID", "stepping-orders"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				EventCreated:     getEnv("KAFKA_TOPIC_EVENT_CREATED", "stepping.event.created"),
				OrderCreated:     getEnv("KAFKA_TOPIC_ORDER_CREATED", "stepping.order.created"),
				OrderCompleted:   getEnv("KAFKA_TOPIC_ORDER_COMPLETED", "stepping.order.completed"),
				OrderCancelled:   getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "stepping.order.cancelled"),
				PaymentSucceeded: getEnv("KAFKA_TOPIC_PAYMENT_SUCCEEDED", "stepping.payment.succeeded"),
				PaymentFailed:    getEnv("KAFKA_TOPIC_PAYMENT_FAILED", "stepping.payment.failed"),
				PaymentRefunded:  getEnv("KAFKA_TOPIC_PAYMENT_REFUNDED", "stepping.payment.refunded"),
				BusinessCreated:  getEnv("KAFKA_TOPIC_BUSINESS_SUBMITTED", "stepping.business.submitted"),
				FollowerPromoted: getEnv("KAFKA_TOPIC_FOLLOWER_PROMOTED", "stepping.follower.promoted"),
				TeamMessage:      getEnv("KAFKA_TOPIC_TEAM_MESSAGE", "stepping.team.message"),
			},
		},
		Square: SquareConfig{
			AccessToken:         getEnv("SQUARE_ACCESS_TOKEN", ""),
			ApplicationID:       getEnv("SQUARE_APPLICATION_ID", ""),
			LocationID:          getEnv("SQUARE_LOCATION_ID", ""),
			Environment:         getEnv("SQUARE_ENVIRONMENT", "sandbox"),
			APIVersion:          getEnv("SQUARE_API_VERSION", "2024-07-17"),
			WebhookSignatureKey: getEnv("SQUARE_WEBHOOK_SIGNATURE_KEY", ""),
			WebhookURL:          getEnv("SQUARE_WEBHOOK_URL", ""),
		},
		PayPal: PayPalConfig{
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
			Environment:  getEnv("PAYPAL_ENVIRONMENT", "sandbox"),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("AUTH_JWT_SECRET", ""),
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
		},
		Storage: StorageConfig{
			Region:              getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:            getEnv("STORAGE_ENDPOINT", ""),
			UsePathStyle:        getEnvBool("STORAGE_USE_PATH_STYLE", false),
			PublicBaseURL:       getEnv("STORAGE_PUBLIC_BASE_URL", ""),
			LocalDir:            getEnv("STORAGE_LOCAL_DIR", ""),
			VenueImagesBucket:   getEnv("STORAGE_VENUE_IMAGES_BUCKET", "venue-images"),
			SeatingChartsBucket: getEnv("STORAGE_SEATING_CHARTS_BUCKET", "seating-charts"),
			MaxUploadBytes:      int64(getEnvInt("STORAGE_MAX_UPLOAD_MB", 10)) << 20,
		},
		Wizard: WizardConfig{
			DraftTTL:    time.Duration(getEnvInt("WIZARD_DRAFT_TTL_MINUTES", 120)) * time.Minute,
			HistorySize: getEnvInt("WIZARD_HISTORY_SIZE", 10),
		},
		Tickets: TicketConfig{
			QRSecret:     getEnv("QR_SECRET_KEY", ""),
			SeatLockTTL:  time.Duration(getEnvInt("SEAT_LOCK_TTL_MINUTES", 5)) * time.Minute,
			CurrencyCode: getEnv("DEFAULT_CURRENCY", "USD"),
		},
	}
}

// Validate reports unset required keys grouped by feature. A feature with an
// empty slice is fully configured.
func (c *Config) Validate() map[string][]string {
	missing := map[string][]string{
		"database": {},
		"square":   {},
		"paypal":   {},
		"stripe":   {},
		"auth":     {},
		"tickets":  {},
	}
	check := func(feature, key, value string) {
		if value == "" {
			missing[feature] = append(missing[feature], key)
		}
	}
	check("database", "POSTGRES_DSN", c.Database.DSN)
	check("square", "SQUARE_ACCESS_TOKEN", c.Square.AccessToken)
	check("square", "SQUARE_APPLICATION_ID", c.Square.ApplicationID)
	check("square", "SQUARE_LOCATION_ID", c.Square.LocationID)
	check("square", "SQUARE_WEBHOOK_SIGNATURE_KEY", c.Square.WebhookSignatureKey)
	check("square", "SQUARE_WEBHOOK_URL", c.Square.WebhookURL)
	check("paypal", "PAYPAL_CLIENT_ID", c.PayPal.ClientID)
	check("paypal", "PAYPAL_CLIENT_SECRET", c.PayPal.ClientSecret)
	check("stripe", "STRIPE_SECRET_KEY", c.Stripe.SecretKey)
	if c.Auth.JWTSecret == "" && c.Auth.OIDCIssuer == "" {
		missing["auth"] = append(missing["auth"], "AUTH_JWT_SECRET|OIDC_ISSUER")
	}
	check("tickets", "QR_SECRET_KEY", c.Tickets.QRSecret)
	return missing
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
