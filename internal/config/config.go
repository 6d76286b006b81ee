// AngelaMos | 2026
// config.go

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	App       AppConfig       `koanf:"app"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	JWT       JWTConfig       `koanf:"jwt"`
	Auth      AuthConfig      `koanf:"auth"`
	Cleanup   CleanupConfig   `koanf:"cleanup"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Events    EventsConfig    `koanf:"events"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	CORS      CORSConfig      `koanf:"cors"`
	Log       LogConfig       `koanf:"log"`
	Otel      OtelConfig      `koanf:"otel"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	DrainDelay      time.Duration `koanf:"drain_delay"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

// JWTConfig holds the signing material for the three token types. Access
// tokens are ES256 over a PEM key pair; refresh and verification tokens are
// HMAC signed with their own secrets so one type can never pass as another.
type JWTConfig struct {
	PrivateKeyPath          string        `koanf:"private_key_path"`
	PublicKeyPath           string        `koanf:"public_key_path"`
	RefreshSecret           string        `koanf:"refresh_secret"`
	VerificationSecret      string        `koanf:"verification_secret"`
	AccessTokenExpire       time.Duration `koanf:"access_token_expire"`
	RefreshTokenExpire      time.Duration `koanf:"refresh_token_expire"`
	VerificationTokenExpire time.Duration `koanf:"verification_token_expire"`
	Issuer                  string        `koanf:"issuer"`
	Audience                string        `koanf:"audience"`
}

type AuthConfig struct {
	RequireVerifiedLogin bool           `koanf:"require_verified_login"`
	DenylistEnabled      bool           `koanf:"denylist_enabled"`
	Password             PasswordPolicy `koanf:"password"`
}

type PasswordPolicy struct {
	MinLength      int  `koanf:"min_length"`
	MaxLength      int  `koanf:"max_length"`
	RequireUpper   bool `koanf:"require_upper"`
	RequireLower   bool `koanf:"require_lower"`
	RequireDigit   bool `koanf:"require_digit"`
	RequireSpecial bool `koanf:"require_special"`
}

type CleanupConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Interval           time.Duration `koanf:"interval"`
	Retention          time.Duration `koanf:"retention"`
	BatchSize          int           `koanf:"batch_size"`
	MaxBatches         int           `koanf:"max_batches"`
	TokenPurgeInterval time.Duration `koanf:"token_purge_interval"`
	SweepTimeout       time.Duration `koanf:"sweep_timeout"`
}

type SMTPConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	From        string `koanf:"from"`
	FromName    string `koanf:"from_name"`
	TLS         bool   `koanf:"tls"`
	FrontendURL string `koanf:"frontend_url"`
}

type EventsConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Brokers      []string      `koanf:"brokers"`
	Topic        string        `koanf:"topic"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type RateLimitConfig struct {
	Requests     int           `koanf:"requests"`
	Window       time.Duration `koanf:"window"`
	Burst        int           `koanf:"burst"`
	AuthRequests int           `koanf:"auth_requests"`
	AuthBurst    int           `koanf:"auth_burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"`
	AllowedMethods   []string `koanf:"allowed_methods"`
	AllowedHeaders   []string `koanf:"allowed_headers"`
	AllowCredentials bool     `koanf:"allow_credentials"`
	MaxAge           int      `koanf:"max_age"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type OtelConfig struct {
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Enabled     bool    `koanf:"enabled"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in that order of precedence. The result is validated and
// meant to be created once in main and passed down by reference.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKeyReplacer), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Events.Brokers = splitList(cfg.Events.Brokers)
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func loadDefaults(k *koanf.Koanf) error {
	defaults := map[string]any{
		"app.name":        "Identity Backend",
		"app.version":     "1.0.0",
		"app.environment": "development",

		"server.host":             "0.0.0.0",
		"server.port":             8080,
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "15s",
		"server.drain_delay":      "5s",

		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  "1h",
		"database.conn_max_idle_time": "30m",

		"redis.pool_size":      10,
		"redis.min_idle_conns": 5,

		"jwt.access_token_expire":       "15m",
		"jwt.refresh_token_expire":      "168h",
		"jwt.verification_token_expire": "24h",
		"jwt.issuer":                    "identity-backend",
		"jwt.audience":                  "identity-backend-api",
		"jwt.private_key_path":          "keys/private.pem",
		"jwt.public_key_path":           "keys/public.pem",

		"auth.require_verified_login":   false,
		"auth.denylist_enabled":         false,
		"auth.password.min_length":      8,
		"auth.password.max_length":      128,
		"auth.password.require_upper":   true,
		"auth.password.require_lower":   true,
		"auth.password.require_digit":   true,
		"auth.password.require_special": true,

		"cleanup.enabled":              true,
		"cleanup.interval":             "1h",
		"cleanup.retention":            "48h",
		"cleanup.batch_size":           100,
		"cleanup.max_batches":          50,
		"cleanup.token_purge_interval": "1h",
		"cleanup.sweep_timeout":        "10m",

		"smtp.enabled":      false,
		"smtp.port":         587,
		"smtp.tls":          true,
		"smtp.from":         "noreply@example.com",
		"smtp.from_name":    "Identity Backend",
		"smtp.frontend_url": "http://localhost:3000",

		"events.enabled":       false,
		"events.topic":         "identity.user-events",
		"events.write_timeout": "5s",

		"rate_limit.requests":      100,
		"rate_limit.window":        "1m",
		"rate_limit.burst":         20,
		"rate_limit.auth_requests": 10,
		"rate_limit.auth_burst":    5,

		"cors.allowed_origins": []string{"http://localhost:3000"},
		"cors.allowed_methods": []string{
			"GET",
			"POST",
			"PUT",
			"PATCH",
			"DELETE",
			"OPTIONS",
		},
		"cors.allowed_headers": []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
		},
		"cors.allow_credentials": true,
		"cors.max_age":           300,

		"log.level":  "info",
		"log.format": "json",

		"otel.enabled":      false,
		"otel.insecure":     true,
		"otel.sample_rate":  0.1,
		"otel.service_name": "identity-backend",

		"metrics.enabled":   true,
		"metrics.namespace": "identity",
	}

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

var envKeyMap = map[string]string{
	"DATABASE_URL":                  "database.url",
	"REDIS_URL":                     "redis.url",
	"ENVIRONMENT":                   "app.environment",
	"HOST":                          "server.host",
	"PORT":                          "server.port",
	"LOG_LEVEL":                     "log.level",
	"LOG_FORMAT":                    "log.format",
	"JWT_PRIVATE_KEY_PATH":          "jwt.private_key_path",
	"JWT_PUBLIC_KEY_PATH":           "jwt.public_key_path",
	"JWT_REFRESH_SECRET":            "jwt.refresh_secret",
	"JWT_VERIFICATION_SECRET":       "jwt.verification_secret",
	"JWT_ACCESS_TOKEN_EXPIRE":       "jwt.access_token_expire",
	"JWT_REFRESH_TOKEN_EXPIRE":      "jwt.refresh_token_expire",
	"JWT_VERIFICATION_TOKEN_EXPIRE": "jwt.verification_token_expire",
	"JWT_ISSUER":                    "jwt.issuer",
	"JWT_AUDIENCE":                  "jwt.audience",
	"AUTH_REQUIRE_VERIFIED_LOGIN":   "auth.require_verified_login",
	"AUTH_DENYLIST_ENABLED":         "auth.denylist_enabled",
	"PASSWORD_MIN_LENGTH":           "auth.password.min_length",
	"CLEANUP_ENABLED":               "cleanup.enabled",
	"CLEANUP_INTERVAL":              "cleanup.interval",
	"CLEANUP_RETENTION":             "cleanup.retention",
	"CLEANUP_BATCH_SIZE":            "cleanup.batch_size",
	"SMTP_ENABLED":                  "smtp.enabled",
	"SMTP_HOST":                     "smtp.host",
	"SMTP_PORT":                     "smtp.port",
	"SMTP_USER":                     "smtp.username",
	"SMTP_PASSWORD":                 "smtp.password",
	"SMTP_FROM_EMAIL":               "smtp.from",
	"SMTP_TLS":                      "smtp.tls",
	"FRONTEND_URL":                  "smtp.frontend_url",
	"EVENTS_ENABLED":                "events.enabled",
	"KAFKA_BROKERS":                 "events.brokers",
	"EVENTS_TOPIC":                  "events.topic",
	"RATE_LIMIT_REQUESTS":           "rate_limit.requests",
	"RATE_LIMIT_WINDOW":             "rate_limit.window",
	"RATE_LIMIT_BURST":              "rate_limit.burst",
	"CORS_ORIGINS":                  "cors.allowed_origins",
	"OTEL_ENDPOINT":                 "otel.endpoint",
	"OTEL_EXPORTER_OTLP_ENDPOINT":   "otel.endpoint",
	"OTEL_SERVICE_NAME":             "otel.service_name",
	"OTEL_ENABLED":                  "otel.enabled",
	"OTEL_INSECURE":                 "otel.insecure",
	"OTEL_SAMPLE_RATE":              "otel.sample_rate",
	"METRICS_ENABLED":               "metrics.enabled",
}

func envKeyReplacer(s string) string {
	if mapped, ok := envKeyMap[s]; ok {
		return mapped
	}
	return ""
}

// splitList accepts both YAML lists and a single comma separated value
// coming from the environment.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

const minSecretLength = 32

func validate(c *Config) error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.JWT.PrivateKeyPath == "" {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH is required")
	}

	if c.JWT.PublicKeyPath == "" {
		return fmt.Errorf("JWT_PUBLIC_KEY_PATH is required")
	}

	if len(c.JWT.RefreshSecret) < minSecretLength {
		return fmt.Errorf("JWT_REFRESH_SECRET must be at least %d bytes", minSecretLength)
	}

	if len(c.JWT.VerificationSecret) < minSecretLength {
		return fmt.Errorf("JWT_VERIFICATION_SECRET must be at least %d bytes", minSecretLength)
	}

	if c.JWT.RefreshSecret == c.JWT.VerificationSecret {
		return fmt.Errorf("JWT_REFRESH_SECRET and JWT_VERIFICATION_SECRET must differ")
	}

	if c.JWT.AccessTokenExpire <= 0 ||
		c.JWT.RefreshTokenExpire <= 0 ||
		c.JWT.VerificationTokenExpire <= 0 {
		return fmt.Errorf("jwt token lifetimes must be positive")
	}

	if c.JWT.AccessTokenExpire >= c.JWT.RefreshTokenExpire {
		return fmt.Errorf("jwt.access_token_expire must be shorter than jwt.refresh_token_expire")
	}

	if c.Auth.Password.MinLength < 8 {
		return fmt.Errorf("auth.password.min_length must be at least 8")
	}

	if c.Auth.Password.MaxLength < c.Auth.Password.MinLength {
		return fmt.Errorf("auth.password.max_length must not be below min_length")
	}

	if c.Cleanup.Enabled {
		if c.Cleanup.Interval <= 0 {
			return fmt.Errorf("cleanup.interval must be positive")
		}
		if c.Cleanup.Retention <= 0 {
			return fmt.Errorf("cleanup.retention must be positive")
		}
		if c.Cleanup.BatchSize <= 0 || c.Cleanup.MaxBatches <= 0 {
			return fmt.Errorf("cleanup.batch_size and cleanup.max_batches must be positive")
		}
	}

	if c.SMTP.Enabled && (c.SMTP.Host == "" || c.SMTP.From == "") {
		return fmt.Errorf("SMTP_HOST and SMTP_FROM_EMAIL are required when SMTP is enabled")
	}

	if c.Events.Enabled && (len(c.Events.Brokers) == 0 || c.Events.Topic == "") {
		return fmt.Errorf("KAFKA_BROKERS and EVENTS_TOPIC are required when events are enabled")
	}

	if c.CORS.AllowCredentials {
		for _, origin := range c.CORS.AllowedOrigins {
			if origin == "*" {
				return fmt.Errorf(
					"CORS wildcard '*' cannot be used with AllowCredentials",
				)
			}
		}
	}

	if c.App.Environment == "production" {
		if c.Otel.Enabled && c.Otel.Insecure {
			return fmt.Errorf("OTEL_INSECURE must be false in production")
		}
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
