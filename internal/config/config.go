// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sdushare/backend/internal/session/domain"
)

// Revocation store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC server listens on (e.g. :9090). Empty disables gRPC.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL used by the login limiter and, when selected, the revocation store.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RevocationBackend selects where revoked jtis live: postgres or redis.
	RevocationBackend string `mapstructure:"REVOCATION_BACKEND"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; must match JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTKeyID is the kid stamped on issued tokens.
	JWTKeyID string `mapstructure:"JWT_KEY_ID"`
	// JWTVerifyKeys lists retired public keys still accepted, as "kid=pem-or-path;kid=pem-or-path".
	JWTVerifyKeys string `mapstructure:"JWT_VERIFY_KEYS"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  string `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTLeeway is the clock skew tolerated on exp.
	JWTLeeway string `mapstructure:"JWT_LEEWAY"`

	// RevocationGrace is how long a superseded access jti stays blacklisted. Defaults to the access TTL.
	RevocationGrace string `mapstructure:"REVOCATION_GRACE"`
	// RotationPolicy is cas (default) or lww.
	RotationPolicy string `mapstructure:"ROTATION_POLICY"`
	SweepInterval  string `mapstructure:"SWEEP_INTERVAL"`
	// SweepInProcess runs the revocation sweeper inside the server instead of cmd/worker.
	SweepInProcess bool `mapstructure:"SWEEP_IN_PROCESS"`

	LoginMaxFailures   int    `mapstructure:"LOGIN_MAX_FAILURES"`
	LoginFailureWindow string `mapstructure:"LOGIN_FAILURE_WINDOW"`

	CodeTTL          string `mapstructure:"CODE_TTL"`
	CodeSendInterval string `mapstructure:"CODE_SEND_INTERVAL"`
	// EmailDomains is a comma-separated allow-list for code delivery. Empty allows any domain.
	EmailDomains string `mapstructure:"EMAIL_DOMAINS"`

	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`

	// DevCodes keeps one-time codes in memory and exposes them on GET /dev/codes instead of sending mail.
	// Must not be true when Env is production.
	DevCodes bool   `mapstructure:"DEV_CODES"`
	Env      string `mapstructure:"APP_ENV"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int    `mapstructure:"BCRYPT_COST"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`

	// OTLPEndpoint enables OTel export when set (e.g. localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses. Empty disables the event stream.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityKafkaTopic is the topic for security events.
	SecurityKafkaTopic string `mapstructure:"SECURITY_KAFKA_TOPIC"`

	// PolicyFile optionally replaces the embedded route policy with a Rego file.
	PolicyFile string `mapstructure:"POLICY_FILE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REVOCATION_BACKEND", BackendPostgres)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_KEY_ID", "k1")
	v.SetDefault("JWT_VERIFY_KEYS", "")
	v.SetDefault("JWT_ISSUER", "sdushare")
	v.SetDefault("JWT_AUDIENCE", "sdushare-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("JWT_LEEWAY", "5s")
	v.SetDefault("REVOCATION_GRACE", "")
	v.SetDefault("ROTATION_POLICY", string(domain.RotationCAS))
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("SWEEP_IN_PROCESS", false)
	v.SetDefault("LOGIN_MAX_FAILURES", 5)
	v.SetDefault("LOGIN_FAILURE_WINDOW", "5m")
	v.SetDefault("CODE_TTL", "10m")
	v.SetDefault("CODE_SEND_INTERVAL", "60s")
	v.SetDefault("EMAIL_DOMAINS", "")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "")
	v.SetDefault("DEV_CODES", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_KAFKA_TOPIC", "sdushare-security")
	v.SetDefault("POLICY_FILE", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Load calls it; tests may call it on hand-built configs.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.DevCodes && c.Env == "production" {
		return errors.New("config: DEV_CODES must not be true when APP_ENV=production")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	switch c.RevocationBackend {
	case "":
		c.RevocationBackend = BackendPostgres
	case BackendPostgres:
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("config: REVOCATION_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("config: REVOCATION_BACKEND must be %s or %s", BackendPostgres, BackendRedis)
	}

	if _, err := domain.ParseRotationPolicy(c.RotationPolicy); err != nil {
		return fmt.Errorf("config: ROTATION_POLICY: %w", err)
	}
	if c.RevocationGrace != "" {
		d, err := time.ParseDuration(c.RevocationGrace)
		if err != nil {
			return fmt.Errorf("config: REVOCATION_GRACE: %w", err)
		}
		if d < c.AccessTTL() {
			return errors.New("config: REVOCATION_GRACE must be at least JWT_ACCESS_TTL")
		}
	}
	if c.LoginMaxFailures < 0 {
		return errors.New("config: LOGIN_MAX_FAILURES must not be negative")
	}
	return nil
}

// AccessTTL parses JWTAccessTTL. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, time.Hour)
}

// RefreshTTL parses JWTRefreshTTL. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// Leeway parses JWTLeeway. Returns 5s if unset or invalid; "0s" disables it.
func (c *Config) Leeway() time.Duration {
	d, err := time.ParseDuration(c.JWTLeeway)
	if err != nil || d < 0 {
		return 5 * time.Second
	}
	return d
}

// Grace returns the revocation grace for superseded access tokens, never less than AccessTTL.
func (c *Config) Grace() time.Duration {
	g := parseDuration(c.RevocationGrace, c.AccessTTL())
	if g < c.AccessTTL() {
		return c.AccessTTL()
	}
	return g
}

// Rotation returns the parsed pointer rotation policy; invalid values were rejected by Validate.
func (c *Config) Rotation() domain.RotationPolicy {
	p, err := domain.ParseRotationPolicy(c.RotationPolicy)
	if err != nil {
		return domain.RotationCAS
	}
	return p
}

// SweepEvery parses SweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, time.Hour)
}

// FailureWindow parses LoginFailureWindow. Returns 5m if unset or invalid.
func (c *Config) FailureWindow() time.Duration {
	return parseDuration(c.LoginFailureWindow, 5*time.Minute)
}

// CodeLifetime parses CodeTTL. Returns 10m if unset or invalid.
func (c *Config) CodeLifetime() time.Duration {
	return parseDuration(c.CodeTTL, 10*time.Minute)
}

// CodeInterval parses CodeSendInterval. Returns 60s if unset or invalid.
func (c *Config) CodeInterval() time.Duration {
	return parseDuration(c.CodeSendInterval, time.Minute)
}

// EmailDomainList returns the allowed email domains, lowercased.
func (c *Config) EmailDomainList() []string {
	var out []string
	for _, d := range splitList(c.EmailDomains, ",") {
		out = append(out, strings.ToLower(strings.TrimPrefix(d, "@")))
	}
	return out
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the security event stream is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers, ",")
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
