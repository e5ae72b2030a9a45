package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Security      SecurityConfig      `json:"security"`
	RateLimit     RateLimitConfig     `json:"rate_limit"`
	Cache         CacheConfig         `json:"cache"`
	Tracing       TracingConfig       `json:"tracing"`
	Payments      PaymentsConfig      `json:"payments"`
	Notifications NotificationsConfig `json:"notifications"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port string `json:"port"`
	Host string `json:"host"`
	// AppURL is the externally reachable base URL, used for provider
	// success/cancel/notify callbacks.
	AppURL string `json:"app_url"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB; webhook payloads are small)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// CacheConfig selects the payment-config cache backend. With an empty
// RedisAddr the in-memory cache is used.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds"`
}

// TracingConfig holds OpenTelemetry tracing configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"` // Jaeger collector endpoint
	Environment string `json:"environment"`
}

// PaymentsConfig holds platform-level payment settings. Per-hotel
// credentials live in the database; these are the global fallbacks the
// webhook reconciler and the Netopia adapter consume.
type PaymentsConfig struct {
	// StripeWebhookSecret is the platform-level webhook signing secret,
	// tried before any per-hotel secret during verification.
	StripeWebhookSecret string `json:"stripe_webhook_secret"`

	NetopiaNotifyURL     string `json:"netopia_notify_url"`
	NetopiaReturnURL     string `json:"netopia_return_url"`
	NetopiaHostedURLTest string `json:"netopia_hosted_url_test"`
	NetopiaHostedURLLive string `json:"netopia_hosted_url_live"`
	// NetopiaPrivateKeyPEM decrypts inbound IPN payloads. The IPN body
	// carries no tenant identifier before decryption, so a single
	// platform key is used for transport.
	NetopiaPrivateKeyPEM string `json:"netopia_private_key_pem"`
}

// NotificationsConfig holds fulfillment notification targets. Empty
// values disable the corresponding channel.
type NotificationsConfig struct {
	Email              string `json:"email"`
	WhatsAppWebhookURL string `json:"whatsapp_webhook_url"`
	WhatsAppPhone      string `json:"whatsapp_phone"`
}

const (
	defaultNetopiaHostedURLTest = "https://sandbox.netopia-payments.com/payment/card/start"
	defaultNetopiaHostedURLLive = "https://secure.netopia-payments.com/payment/card/start"
)

// LoadConfig loads configuration from environment variables and/or config file.
// Environment variables take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:   getEnv("SERVER_PORT", "8080"),
			Host:   getEnv("SERVER_HOST", ""),
			AppURL: getEnv("APP_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./accacia_upsell.db"),
		},
		Security: SecurityConfig{
			MaxRequestBodySize: getEnvInt64("MAX_REQUEST_BODY_SIZE", 1<<20),
			AllowedOrigins:     getEnv("ALLOWED_ORIGINS", "*"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnvInt("RATE_LIMIT_RATE", 100),
			Window:  getEnvInt("RATE_LIMIT_WINDOW", 60),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			TTLSeconds:    getEnvInt("CONFIG_CACHE_TTL", 30),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			Environment: getEnv("TRACING_ENVIRONMENT", "development"),
		},
		Payments: PaymentsConfig{
			StripeWebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
			NetopiaNotifyURL:     getEnv("NETOPIA_NOTIFY_URL", ""),
			NetopiaReturnURL:     getEnv("NETOPIA_RETURN_URL", ""),
			NetopiaHostedURLTest: getEnv("NETOPIA_HOSTED_URL_TEST", defaultNetopiaHostedURLTest),
			NetopiaHostedURLLive: getEnv("NETOPIA_HOSTED_URL_LIVE", defaultNetopiaHostedURLLive),
			NetopiaPrivateKeyPEM: getEnv("NETOPIA_PRIVATE_KEY_PEM", ""),
		},
		Notifications: NotificationsConfig{
			Email:              getEnv("NOTIFICATION_EMAIL", ""),
			WhatsAppWebhookURL: getEnv("WHATSAPP_WEBHOOK_URL", ""),
			WhatsAppPhone:      getEnv("WHATSAPP_NOTIFICATION_PHONE", ""),
		},
	}

	// Load from config file if provided
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		// Environment variables take precedence over file values.
		overrideFromEnv(cfg)
	}

	// Callback URLs default to paths under the app URL.
	if cfg.Payments.NetopiaNotifyURL == "" {
		cfg.Payments.NetopiaNotifyURL = cfg.Server.AppURL + "/api/webhooks/netopia"
	}
	if cfg.Payments.NetopiaReturnURL == "" {
		cfg.Payments.NetopiaReturnURL = cfg.Server.AppURL + "/o/success"
	}

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if appURL := os.Getenv("APP_URL"); appURL != "" {
		cfg.Server.AppURL = appURL
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Security.AllowedOrigins = origins
	}
	if enabled := os.Getenv("RATE_LIMIT_ENABLED"); enabled != "" {
		cfg.RateLimit.Enabled = enabled == "true" || enabled == "1"
	}
	if rate := os.Getenv("RATE_LIMIT_RATE"); rate != "" {
		if r, err := strconv.Atoi(rate); err == nil {
			cfg.RateLimit.Rate = r
		}
	}
	if window := os.Getenv("RATE_LIMIT_WINDOW"); window != "" {
		if w, err := strconv.Atoi(window); err == nil {
			cfg.RateLimit.Window = w
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Payments.StripeWebhookSecret = secret
	}
	if v := os.Getenv("NETOPIA_NOTIFY_URL"); v != "" {
		cfg.Payments.NetopiaNotifyURL = v
	}
	if v := os.Getenv("NETOPIA_RETURN_URL"); v != "" {
		cfg.Payments.NetopiaReturnURL = v
	}
	if v := os.Getenv("NETOPIA_PRIVATE_KEY_PEM"); v != "" {
		cfg.Payments.NetopiaPrivateKeyPEM = v
	}
	if v := os.Getenv("NOTIFICATION_EMAIL"); v != "" {
		cfg.Notifications.Email = v
	}
	if v := os.Getenv("WHATSAPP_WEBHOOK_URL"); v != "" {
		cfg.Notifications.WhatsAppWebhookURL = v
	}
	if v := os.Getenv("WHATSAPP_NOTIFICATION_PHONE"); v != "" {
		cfg.Notifications.WhatsAppPhone = v
	}
}

// getEnv gets an environment variable or returns the default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvInt64 gets an int64 environment variable or returns the default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Server.AppURL == "" {
		return fmt.Errorf("app URL is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config cache TTL must be non-negative")
	}
	return nil
}
