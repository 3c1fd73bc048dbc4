package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-kart-pricing/internal/domain/cart"
	"github.com/xenking/oolio-kart-pricing/internal/domain/pricing"
	"github.com/xenking/oolio-kart-pricing/internal/domain/product"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (PRICING_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (PRICING_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
	Pricing      PricingConfig
}

// RedisConfig controls the product graph cache and shared rate limiting.
// An empty Addr disables both.
type RedisConfig struct {
	Addr     string        `default:"" usage:"Redis address (host:port)"`
	Password string        `default:"" usage:"Redis password"`
	DB       int           `default:"0" usage:"Redis database number"`
	TTL      time.Duration `default:"5m" usage:"Product cache TTL"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// PricingConfig selects the enabled product modes and tier resolution.
type PricingConfig struct {
	Modes          []string `default:"simple,grouped,variable,mix_and_match" usage:"Enabled product modes"`
	TierPolicy     string   `default:"declared_order" usage:"Tier resolution: declared_order or highest_threshold" flag:"tier-policy"`
	UnlimitedStock int      `default:"999999" usage:"Stock snapshot for products without stock tracking" flag:"unlimited-stock"`
}

// Cart converts the pricing section into a cart.Config.
func (c PricingConfig) Cart() (cart.Config, error) {
	cfg := cart.Config{
		TierPolicy:     pricing.TierPolicy(c.TierPolicy),
		UnlimitedStock: c.UnlimitedStock,
	}
	switch cfg.TierPolicy {
	case pricing.TierPolicyDeclaredOrder, pricing.TierPolicyHighestThreshold:
	default:
		return cart.Config{}, errors.Errorf("unknown tier policy %q", c.TierPolicy)
	}
	for _, m := range c.Modes {
		mode := product.Mode(m)
		if !mode.Valid() {
			return cart.Config{}, errors.Errorf("unknown product mode %q", m)
		}
		cfg.Modes = append(cfg.Modes, mode)
	}
	if len(cfg.Modes) == 0 {
		return cart.Config{}, errors.New("at least one product mode must be enabled")
	}
	if cfg.UnlimitedStock <= 0 {
		cfg.UnlimitedStock = cart.DefaultUnlimitedStock
	}
	return cfg, nil
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "PRICING",
		Files:     []string{"config.yaml", "/etc/pricing/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set PRICING_DATABASE_URL or DATABASE_URL")
	}
	if _, err := cfg.Pricing.Cart(); err != nil {
		return nil, errors.Wrap(err, "pricing config")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the platform-standard DATABASE_URL and PORT
// variables onto the PRICING_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
