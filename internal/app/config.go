package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Gateway     GatewayConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// GatewayConfig holds the payment processor connection settings.
type GatewayConfig struct {
	BaseURL          string        `usage:"Payment gateway API base URL" flag:"gateway-base-url"`
	APIKey           string        `usage:"Payment gateway secret API key (CHECKOUT_GATEWAY_API_KEY)" flag:"gateway-api-key"`
	WebhookSecret    string        `usage:"Shared secret for webhook signature verification (CHECKOUT_GATEWAY_WEBHOOK_SECRET)" flag:"webhook-secret"`
	WebhookTolerance time.Duration `default:"5m" usage:"Maximum accepted webhook timestamp age" flag:"webhook-tolerance"`
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

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, errors.New("gateway base URL is required: set CHECKOUT_GATEWAY_BASE_URL")
	}
	if cfg.Gateway.APIKey == "" {
		return nil, errors.New("gateway API key is required: set CHECKOUT_GATEWAY_API_KEY")
	}
	if cfg.Gateway.WebhookSecret == "" {
		return nil, errors.New("webhook secret is required: set CHECKOUT_GATEWAY_WEBHOOK_SECRET")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
