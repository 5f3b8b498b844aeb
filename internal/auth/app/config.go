package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Issuer            string // Required: issuer claim for tokens
	Algorithm         string // Optional: JWT signing algorithm (EdDSA, ES256) (default: EdDSA)
	SigningKeyFile    string // Optional: path to PKCS8 PEM private key (empty = ephemeral key per start)
	FingerprintSecret string // Required: secret for device fingerprint derivation

	AccessTTL   time.Duration // Optional: access token lifetime (default: 15m)
	RefreshTTL  time.Duration // Optional: refresh token lifetime (default: 168h)
	GracePeriod time.Duration // Optional: expiry grace window (default: 5m)
	StateTTL    time.Duration // Optional: OAuth state lifetime (default: 10m)

	RedisAddr      string // Redis address (default: localhost:6379)
	RedisUsername  string // Optional
	RedisPassword  string // Optional
	RedisDB        int    // Optional: redis logical database (default: 0)
	RedisKeyPrefix string // Optional: key namespace (default: "authcore:")

	ProviderName         string // Optional: upstream OAuth provider name
	ProviderClientID     string // Required when a provider is configured
	ProviderClientSecret string // Optional: empty for public clients (PKCE only)
	ProviderAuthURL      string
	ProviderTokenURL     string
	ProviderRevokeURL    string // Optional
	ProviderRedirectURL  string
	ProviderScopes       []string

	ExchangeRatePerSec float64 // Optional: outbound provider call rate (default: 10)
	ExchangeBurst      int     // Optional: outbound burst allowance (default: 5)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:            getEnvOrDefault("AUTH_ISSUER", "authcore"),
		Algorithm:         getEnvOrDefault("AUTH_ALGORITHM", "EdDSA"),
		SigningKeyFile:    os.Getenv("AUTH_SIGNING_KEY_FILE"),
		FingerprintSecret: os.Getenv("AUTH_FINGERPRINT_SECRET"),

		AccessTTL:   getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:  getEnvDurationOrDefault("AUTH_REFRESH_TTL", 168*time.Hour),
		GracePeriod: getEnvDurationOrDefault("AUTH_GRACE_PERIOD", 5*time.Minute),
		StateTTL:    getEnvDurationOrDefault("AUTH_STATE_TTL", 10*time.Minute),

		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisUsername:  os.Getenv("REDIS_USERNAME"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvIntOrDefault("REDIS_DB", 0),
		RedisKeyPrefix: getEnvOrDefault("REDIS_KEY_PREFIX", "authcore:"),

		ProviderName:         os.Getenv("OAUTH_PROVIDER_NAME"),
		ProviderClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		ProviderClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		ProviderAuthURL:      os.Getenv("OAUTH_AUTH_URL"),
		ProviderTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		ProviderRevokeURL:    os.Getenv("OAUTH_REVOKE_URL"),
		ProviderRedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),

		ExchangeRatePerSec: getEnvFloatOrDefault("OAUTH_EXCHANGE_RATE", 10),
		ExchangeBurst:      getEnvIntOrDefault("OAUTH_EXCHANGE_BURST", 5),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if scopes := os.Getenv("OAUTH_SCOPES"); scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.ProviderScopes = append(cfg.ProviderScopes, s)
			}
		}
	}

	return cfg
}

// Validate reports configuration errors that must kill startup. A service
// that comes up with a broken token config would hand out garbage tokens,
// so every check here is fatal.
func (cfg Config) Validate() error {
	if cfg.Issuer == "" {
		return errors.New("app: AUTH_ISSUER must not be empty")
	}
	if cfg.FingerprintSecret == "" {
		return errors.New("app: AUTH_FINGERPRINT_SECRET is required")
	}

	switch cfg.Algorithm {
	case "EdDSA", "ES256":
	default:
		return fmt.Errorf("app: unsupported algorithm %q (EdDSA or ES256)", cfg.Algorithm)
	}

	if cfg.AccessTTL <= 0 {
		return errors.New("app: AUTH_ACCESS_TTL must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return errors.New("app: AUTH_REFRESH_TTL must be longer than AUTH_ACCESS_TTL")
	}
	if cfg.GracePeriod < 0 {
		return errors.New("app: AUTH_GRACE_PERIOD must not be negative")
	}

	if cfg.ProviderConfigured() {
		switch {
		case cfg.ProviderClientID == "":
			return errors.New("app: OAUTH_CLIENT_ID is required when a provider is configured")
		case cfg.ProviderAuthURL == "":
			return errors.New("app: OAUTH_AUTH_URL is required when a provider is configured")
		case cfg.ProviderTokenURL == "":
			return errors.New("app: OAUTH_TOKEN_URL is required when a provider is configured")
		}
	}

	return nil
}

// ProviderConfigured reports whether any upstream OAuth settings were
// given. The token core runs fine without a provider; the OAuth flow is
// simply disabled.
func (cfg Config) ProviderConfigured() bool {
	return cfg.ProviderName != "" || cfg.ProviderClientID != "" ||
		cfg.ProviderAuthURL != "" || cfg.ProviderTokenURL != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
		return floatValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
