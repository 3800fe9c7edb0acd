package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	JWTSecret    string `usage:"HS256 secret of shopper session tokens (KART_JWT_SECRET)" flag:"jwt-secret"`
	Store        StoreConfig
	Gateway      GatewayConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

const (
	DriverPostgres = "postgres"
	DriverDynamo   = "dynamodb"
	// DriverMemory keeps everything in process; for local runs only.
	DriverMemory = "memory"
)

// StoreConfig selects the order store backend.
type StoreConfig struct {
	Driver      string `default:"postgres" usage:"Order store backend: postgres, dynamodb or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (KART_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Table       string `default:"kart" usage:"DynamoDB table name"`
	Region      string `default:"us-east-1" usage:"AWS region of the DynamoDB table"`
	Endpoint    string `usage:"DynamoDB endpoint override, e.g. http://localhost:8000"`
	CreateTable bool   `default:"false" usage:"Create the DynamoDB table on startup" flag:"create-table"`
}

// GatewayConfig configures the hosted checkout provider.
type GatewayConfig struct {
	SecretKey     string        `usage:"Stripe secret key (KART_GATEWAY_SECRET_KEY or STRIPE_SECRET_KEY)"`
	WebhookSecret string        `usage:"Stripe webhook signing secret (KART_GATEWAY_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET)"`
	Currency      string        `default:"usd" usage:"Charge currency"`
	FrontendURL   string        `default:"http://localhost:3000" usage:"Storefront base URL for checkout redirects" flag:"frontend-url"`
	Timeout       time.Duration `default:"10s" usage:"Timeout of every gateway call"`
	DeliveryFee   string        `default:"2.00" usage:"Delivery fee added to every order" flag:"delivery-fee"`
}

// KafkaConfig enables paid-order event publishing when brokers are set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers; empty disables publishing"`
	Topic   string   `default:"order-events" usage:"Topic of paid-order events"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional variable names used by hosting
// platforms and the Stripe CLI onto the KART_ settings.
func (c *Config) applyPlatformDefaults() {
	fallback := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fallback(&c.Store.DatabaseURL, "DATABASE_URL")
	fallback(&c.Gateway.SecretKey, "STRIPE_SECRET_KEY")
	fallback(&c.Gateway.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch {
	case c.Gateway.SecretKey == "":
		return errors.New("gateway secret key is required: set KART_GATEWAY_SECRET_KEY or STRIPE_SECRET_KEY")
	case c.Gateway.WebhookSecret == "":
		return errors.New("webhook secret is required: set KART_GATEWAY_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET")
	case c.JWTSecret == "":
		return errors.New("shopper token secret is required: set KART_JWT_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set KART_API_KEY_PEPPER")
	}
	if _, err := c.Gateway.Fee(); err != nil {
		return err
	}
	return nil
}

// Validate checks the settings of the selected driver.
func (s StoreConfig) Validate() error {
	switch s.Driver {
	case DriverPostgres:
		if s.DatabaseURL == "" {
			return errors.New("database URL is required: set KART_STORE_DATABASE_URL or DATABASE_URL")
		}
	case DriverDynamo:
		if s.Table == "" || s.Region == "" {
			return errors.New("dynamodb store needs a table and a region")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store driver %q", s.Driver)
	}
	return nil
}

// Fee parses the delivery fee.
func (g GatewayConfig) Fee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(g.DeliveryFee)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse delivery fee %q", g.DeliveryFee)
	}
	if fee.IsNegative() {
		return decimal.Zero, errors.Errorf("delivery fee %s is negative", fee)
	}
	return fee, nil
}
