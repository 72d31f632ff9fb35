package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/upb/api-gatekeeper/jwks"
	"github.com/upb/api-gatekeeper/token"
	"github.com/upb/api-gatekeeper/utils"
)

// JWKS resolution modes
const (
	JWKSModeCached     = "cached"
	JWKSModeRefreshing = "refreshing"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `validate:"required"`
	Port            int           `validate:"gte=0,lte=65535"`
	ReadTimeout     time.Duration `validate:"gte=0"`
	WriteTimeout    time.Duration `validate:"gte=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	TLS             struct {
		Enabled  bool
		CertFile string `validate:"required_if=Enabled true"`
		KeyFile  string `validate:"required_if=Enabled true"`
	}
}

// AuthConfig holds identity provider and token verification configuration
type AuthConfig struct {
	Domain            string        `validate:"required"` // normalized, hostname only
	Audience          string        `validate:"required"`
	JWKSURL           string        `validate:"omitempty,url"`
	Discovery         bool          // resolve jwks_uri through OIDC discovery
	JWKSMode          string        `validate:"oneof=cached refreshing"`
	JWKSTimeout       time.Duration `validate:"gt=0"`
	JWKSMaxAge        time.Duration `validate:"gte=0"`
	JWKSCooldown      time.Duration `validate:"gte=0"`
	Prefetch          bool
	AllowedAlgorithms []string      `validate:"min=1,dive,oneof=RS256 RS384 RS512 PS256 PS384 PS512 ES256 ES384 ES512 EdDSA"`
	ClockSkew         time.Duration `validate:"gte=0"`
}

// CORSConfig holds cross-origin settings
type CORSConfig struct {
	AllowedOrigins []string `validate:"min=1"`
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"required,oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json text console"`
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	keyDefaults := jwks.DefaultOptions()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			Domain:            token.NormalizeDomain(getEnv("AUTH0_DOMAIN", "")),
			Audience:          getEnv("AUTH0_AUDIENCE", ""),
			JWKSURL:           getEnv("AUTH0_JWKS_URL", ""),
			Discovery:         getEnvAsBool("AUTH0_DISCOVERY", false),
			JWKSMode:          strings.ToLower(getEnv("AUTH_JWKS_MODE", JWKSModeCached)),
			JWKSTimeout:       getEnvAsDuration("AUTH_JWKS_TIMEOUT", keyDefaults.Timeout),
			JWKSMaxAge:        getEnvAsDuration("AUTH_JWKS_MAX_AGE", keyDefaults.MaxAge),
			JWKSCooldown:      getEnvAsDuration("AUTH_JWKS_COOLDOWN", keyDefaults.Cooldown),
			Prefetch:          getEnvAsBool("AUTH_JWKS_PREFETCH", false),
			AllowedAlgorithms: getEnvAsSlice("AUTH_ALLOWED_ALGS", token.DefaultAlgorithms),
			ClockSkew:         getEnvAsDuration("AUTH_CLOCK_SKEW", 0),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	cfg.Server.TLS.Enabled = getEnvAsBool("TLS_ENABLED", false)
	cfg.Server.TLS.CertFile = getEnv("TLS_CERT_FILE", "")
	cfg.Server.TLS.KeyFile = getEnv("TLS_KEY_FILE", "")

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		fields := utils.GetValidationFields(err)
		if len(fields) == 0 {
			return err
		}
		msgs := make([]string, 0, len(fields))
		for _, msg := range fields {
			msgs = append(msgs, msg)
		}
		sort.Strings(msgs)
		return fmt.Errorf("%w: %s", err, strings.Join(msgs, "; "))
	}

	// Missing domain or audience is an operator error
	if err := c.Auth.Provider().Validate(); err != nil {
		return err
	}

	if c.Auth.Discovery && c.Auth.JWKSURL != "" {
		return fmt.Errorf("AUTH0_DISCOVERY and AUTH0_JWKS_URL are mutually exclusive")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Provider returns the identity provider settings used by the token verifier
func (a *AuthConfig) Provider() token.ProviderConfig {
	return token.ProviderConfig{Domain: a.Domain, Audience: a.Audience}
}

// Issuer returns the expected token issuer, https://{domain}/
func (a *AuthConfig) Issuer() string {
	return a.Provider().Issuer()
}

// JWKSEndpoint returns the configured JWKS URL or the provider's well-known one.
// When Discovery is enabled the endpoint is resolved at startup instead.
func (a *AuthConfig) JWKSEndpoint() string {
	if a.JWKSURL != "" {
		return a.JWKSURL
	}
	return jwks.URLForDomain(a.Domain)
}

// JWKSOptions returns the key set fetch and cache settings
func (a *AuthConfig) JWKSOptions() jwks.Options {
	return jwks.Options{
		Timeout:  a.JWKSTimeout,
		MaxAge:   a.JWKSMaxAge,
		Cooldown: a.JWKSCooldown,
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated value, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
