package app

import (
	"io/fs"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-storefront/internal/payment/square"
)

const defaultAddr = "0.0.0.0:8080"

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config holds the complete application configuration, loadable from
// environment variables (STOREFRONT_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"API server listen address" validate:"required,hostname_port"`
	Storage   StorageConfig
	Backend   BackendConfig
	Cart      CartConfig
	Coupon    CouponConfig
	Checkout  CheckoutConfig
	Square    square.Config
	Session   SessionConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StorageConfig selects where session state is persisted.
type StorageConfig struct {
	Backend     string        `default:"memory" usage:"Session storage: memory, redis or postgres" validate:"oneof=memory redis postgres"`
	RedisURL    string        `usage:"Redis URL (STOREFRONT_STORAGE_REDIS_URL or REDIS_URL)" flag:"redis-url" validate:"required_if=Backend redis"`
	DatabaseURL string        `usage:"PostgreSQL URL (STOREFRONT_STORAGE_DATABASE_URL or DATABASE_URL)" flag:"database-url" validate:"required_if=Backend postgres"`
	TTL         time.Duration `default:"0" usage:"Expiry of persisted keys (redis and memory; 0 keeps redis keys, memory falls back to 24h)"`
}

// BackendConfig points at the campaign and order REST API.
type BackendConfig struct {
	BaseURL string        `usage:"Backend API base URL" flag:"backend-url" validate:"required,url"`
	Token   string        `usage:"Bearer token for the backend API"`
	Timeout time.Duration `default:"10s" usage:"Backend request timeout"`
}

// CartConfig controls cart pricing and persistence.
type CartConfig struct {
	TaxRate   string        `default:"0" usage:"Tax rate applied to the subtotal (0.08 for 8%)" validate:"numeric"`
	Staleness time.Duration `default:"24h" usage:"Age after which a persisted cart is discarded"`
}

// CouponConfig controls coupon attempt limiting.
type CouponConfig struct {
	MaxAttempts   int           `default:"5" usage:"Failed coupon attempts before a block" validate:"gte=1"`
	BlockDuration time.Duration `default:"10m" usage:"Coupon block duration"`
	IndexFile     string        `usage:"Known-code index built by coupon-index (optional)" flag:"coupon-index"`
}

// CheckoutConfig controls payment submission.
type CheckoutConfig struct {
	Timeout  time.Duration `default:"60s" usage:"How long checkout waits for the payment gateway"`
	Currency string        `default:"USD" usage:"ISO 4217 currency code" validate:"len=3,uppercase"`
}

// SessionConfig controls per-session controllers.
type SessionConfig struct {
	IdleTTL      time.Duration `default:"30m" usage:"Idle time before a session is dropped from memory"`
	SecureCookie bool          `default:"false" usage:"Mark the session cookie Secure" flag:"secure-cookie"`
}

// RateLimitConfig controls the per-client rate limiter. Clients are keyed by
// connection address unless TrustForwarded is set.
type RateLimitConfig struct {
	Max            int           `default:"100" usage:"Max requests per window" validate:"gte=1"`
	Window         time.Duration `default:"1m"  usage:"Rate limit window duration"`
	TrustForwarded bool          `default:"false" usage:"Key clients by X-Forwarded-For (only behind a trusted proxy)" flag:"trust-forwarded"`
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

// TaxRate returns the parsed cart tax rate.
func (c *Config) TaxRate() decimal.Decimal {
	return decimal.RequireFromString(c.Cart.TaxRate)
}

// LoadConfig loads configuration from a local .env file, environment
// variables and YAML config files, applies platform-specific defaults and
// validates the result.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STOREFRONT",
		Files:     []string{"storefront.yaml", "/etc/storefront/config.yaml"},
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

// Validate checks the loaded values.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if c.TaxRate().IsNegative() {
		return errors.New("invalid config: cart tax rate must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL, REDIS_URL and PORT
// to the application's STOREFRONT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Storage.DatabaseURL == "" {
		c.Storage.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.RedisURL == "" {
		c.Storage.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
