package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OpenClinica web services
	OCWebServicesURL string        `mapstructure:"OC_WS_URL"`
	OCUsername       string        `mapstructure:"OC_USERNAME"`
	OCPassword       string        `mapstructure:"OC_PASSWORD"`
	OCPasswordHashed bool          `mapstructure:"OC_PASSWORD_HASHED"`
	OCTimeout        time.Duration `mapstructure:"OC_TIMEOUT"`
	OCSubmitDate     bool          `mapstructure:"OC_SUBMIT_DATE"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	TemplateDir    string        `mapstructure:"TEMPLATE_DIR"`
	MaxBodySize    string        `mapstructure:"MAX_BODY_SIZE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`

	// Run notifications
	WebhookURL    string `mapstructure:"WEBHOOK_URL"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"OC_WS_URL", "OC_USERNAME", "OC_PASSWORD", "OC_PASSWORD_HASHED", "OC_TIMEOUT", "OC_SUBMIT_DATE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_JWKS_URL", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"TEMPLATE_DIR", "MAX_BODY_SIZE", "REQUEST_TIMEOUT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"WEBHOOK_URL", "WEBHOOK_SECRET",
}

// Load reads configuration from the environment, with a .env file in the
// working directory as a fallback.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OC_TIMEOUT", "30s")
	v.SetDefault("OC_SUBMIT_DATE", true)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MAX_BODY_SIZE", "10M")
	v.SetDefault("REQUEST_TIMEOUT", "2m")
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	// Unmarshal only sees env vars that are bound.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// a missing .env file is fine
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are verified.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != "" || c.AuthJWKSURL != ""
}

// ValidateRemote checks the settings needed to talk to OpenClinica.
func (c *Config) ValidateRemote() error {
	var errs []error
	if c.OCWebServicesURL == "" {
		errs = append(errs, errors.New("OC_WS_URL is required"))
	} else if u, err := url.Parse(c.OCWebServicesURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("OC_WS_URL must be an http(s) URL, got %q", c.OCWebServicesURL))
	}
	if c.OCUsername == "" {
		errs = append(errs, errors.New("OC_USERNAME is required"))
	}
	if c.OCTimeout <= 0 {
		errs = append(errs, errors.New("OC_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// Validate checks everything the server needs. Outside development, API
// authentication must be configured.
func (c *Config) Validate() error {
	errs := []error{c.ValidateRemote()}

	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns))
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		errs = append(errs, errors.New("AUTH_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("WEBHOOK_URL must be an http(s) URL, got %q", c.WebhookURL))
		}
	}
	if !c.IsDev() && !c.AuthEnabled() {
		errs = append(errs, fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q", c.Env))
	}
	return errors.Join(errs...)
}
