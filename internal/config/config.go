package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "LANKAED"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabaseDriver       = DatabaseDriverSQLite
	defaultDatabaseDSN          = "lankaed.db"
	defaultLogLevel             = "info"
	defaultLogFormat            = "json"
	defaultAuthMode             = AuthModeJWKS
	defaultCookieName           = "__session"
	defaultIdentityAPIURL       = "https://api.clerk.com"
	defaultSyncMaxAttempts      = 3
	defaultSyncBaseDelay        = time.Second
	defaultWebhookRatePerSecond = 5.0
	defaultWebhookBurst         = 20
)

// Supported database drivers.
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// Supported caller authentication modes.
const (
	AuthModeJWKS         = "jwks"
	AuthModeSharedSecret = "shared_secret"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	AllowedOrigins []string

	DatabaseDriver string
	DatabaseDSN    string

	LogLevel  string
	LogFormat string

	WebhookSigningSecret string
	WebhookRatePerSecond float64
	WebhookBurst         int

	AuthMode          string
	AuthJWKSURL       string
	AuthIssuer        string
	AuthAudience      string
	AuthSigningSecret string
	AuthCookieName    string

	IdentityAPIURL string
	IdentityAPIKey string

	SyncMaxAttempts int
	SyncBaseDelay   time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("webhook.rate_per_second", defaultWebhookRatePerSecond)
	configViper.SetDefault("webhook.burst", defaultWebhookBurst)
	configViper.SetDefault("auth.mode", defaultAuthMode)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("identity.api_url", defaultIdentityAPIURL)
	configViper.SetDefault("sync.max_attempts", defaultSyncMaxAttempts)
	configViper.SetDefault("sync.base_delay", defaultSyncBaseDelay)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		WebhookSigningSecret: configViper.GetString("webhook.signing_secret"),
		WebhookRatePerSecond: configViper.GetFloat64("webhook.rate_per_second"),
		WebhookBurst:         configViper.GetInt("webhook.burst"),
		AuthMode:             strings.ToLower(strings.TrimSpace(configViper.GetString("auth.mode"))),
		AuthJWKSURL:          configViper.GetString("auth.jwks_url"),
		AuthIssuer:           configViper.GetString("auth.issuer"),
		AuthAudience:         configViper.GetString("auth.audience"),
		AuthSigningSecret:    configViper.GetString("auth.signing_secret"),
		AuthCookieName:       configViper.GetString("auth.cookie_name"),
		IdentityAPIURL:       configViper.GetString("identity.api_url"),
		IdentityAPIKey:       configViper.GetString("identity.api_key"),
		SyncMaxAttempts:      configViper.GetInt("sync.max_attempts"),
		SyncBaseDelay:        configViper.GetDuration("sync.base_delay"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// WebhookConfigured reports whether inbound identity webhooks can be verified.
func (c AppConfig) WebhookConfigured() bool {
	return strings.TrimSpace(c.WebhookSigningSecret) != ""
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DatabaseDriverSQLite, DatabaseDriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.AuthMode {
	case AuthModeJWKS:
		if strings.TrimSpace(c.AuthJWKSURL) == "" {
			return fmt.Errorf("auth.jwks_url is required when auth.mode is %q", AuthModeJWKS)
		}
		if strings.TrimSpace(c.AuthIssuer) == "" {
			return fmt.Errorf("auth.issuer is required when auth.mode is %q", AuthModeJWKS)
		}
	case AuthModeSharedSecret:
		if strings.TrimSpace(c.AuthSigningSecret) == "" {
			return fmt.Errorf("auth.signing_secret is required when auth.mode is %q", AuthModeSharedSecret)
		}
		if strings.TrimSpace(c.AuthIssuer) == "" {
			return fmt.Errorf("auth.issuer is required when auth.mode is %q", AuthModeSharedSecret)
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeJWKS, AuthModeSharedSecret, c.AuthMode)
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}

	if strings.TrimSpace(c.IdentityAPIURL) == "" {
		return fmt.Errorf("identity.api_url is required")
	}
	if strings.TrimSpace(c.IdentityAPIKey) == "" {
		return fmt.Errorf("identity.api_key is required")
	}

	if c.SyncMaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.SyncBaseDelay < 0 {
		return fmt.Errorf("sync.base_delay must not be negative")
	}
	if c.WebhookRatePerSecond <= 0 || c.WebhookBurst < 1 {
		return fmt.Errorf("webhook.rate_per_second and webhook.burst must be positive")
	}
	return nil
}
