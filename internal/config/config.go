package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath      = "CONFIG_PATH"
	EnvJWTSecret       = "JWT_SECRET"
	EnvTokenPrecedence = "AUTH_TOKEN_PRECEDENCE"
	EnvRedisURL        = "REDIS_URL"
	EnvRedisAddr       = "REDIS_ADDR"
	EnvRedisPassword   = "REDIS_PASSWORD"
	EnvRedisDB         = "REDIS_DB"
)

// TokenPrecedence selects where the identity resolver looks for a bearer
// credential first. Cross-domain deployments use cookie-first so browsers
// that block third-party cookies can still fall back to the header.
type TokenPrecedence string

const (
	CookieFirst TokenPrecedence = "cookie-first"
	HeaderFirst TokenPrecedence = "header-first"
)

// ErrMissingJWTSecret indicates no signing secret is present in the config
// file or environment.
var ErrMissingJWTSecret = errors.New("missing jwt secret (set `auth.secret` in config file or env JWT_SECRET)")

// Config holds resolved gateway configuration values.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	Services  ServicesConfig  `yaml:"services"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
}

// ServerConfig holds HTTP server settings. Timeouts are in seconds.
type ServerConfig struct {
	Port         int `yaml:"port"`
	ReadTimeout  int `yaml:"read-timeout"`
	WriteTimeout int `yaml:"write-timeout"`
}

// AuthConfig holds identity resolver settings.
type AuthConfig struct {
	Secret          string          `yaml:"secret"`
	TokenPrecedence TokenPrecedence `yaml:"token-precedence"`
	CookieName      string          `yaml:"cookie-name"`
	// VerifyTimeoutSec bounds the upstream user-existence call, in seconds.
	VerifyTimeoutSec int `yaml:"verify-timeout"`
}

// VerifyTimeout returns the upstream verification timeout as a duration.
func (a AuthConfig) VerifyTimeout() time.Duration {
	return time.Duration(a.VerifyTimeoutSec) * time.Second
}

// RedisConfig holds counter store connection settings.
type RedisConfig struct {
	URL      string `yaml:"url"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ServicesConfig maps backend service names to their base URLs.
type ServicesConfig struct {
	Auth      string `yaml:"auth"`
	Product   string `yaml:"product"`
	Order     string `yaml:"order"`
	Cart      string `yaml:"cart"`
	Customer  string `yaml:"customer"`
	Payment   string `yaml:"payment"`
	Email     string `yaml:"email"`
	PDFExport string `yaml:"pdf-export"`
}

// BucketConfig holds a single rate-limit bucket policy.
type BucketConfig struct {
	Enabled     bool  `yaml:"enabled"`
	WindowMs    int64 `yaml:"window-ms"`
	MaxRequests int   `yaml:"max-requests"`
}

// Window returns the bucket window as a duration.
func (b BucketConfig) Window() time.Duration {
	return time.Duration(b.WindowMs) * time.Millisecond
}

// RateLimitConfig holds quota enforcer settings.
type RateLimitConfig struct {
	Enabled bool                    `yaml:"enabled"`
	Buckets map[string]BucketConfig `yaml:"buckets"`
}

// Bucket names used by the quota enforcer. One bucket exists per
// verb-class and sensitivity combination.
const (
	BucketGlobalIP          = "global_ip"
	BucketAPIRead           = "api_read"
	BucketAPIWrite          = "api_write"
	BucketAPIWriteIP        = "api_write_ip"
	BucketAPIDelete         = "api_delete"
	BucketAuthLogin         = "auth_login"
	BucketAuthRegister      = "auth_register"
	BucketAuthPasswordReset = "auth_password_reset"
	BucketPayment           = "payment"
	BucketAdmin             = "admin"
)

// BucketNames lists every configured bucket in declaration order.
var BucketNames = []string{
	BucketGlobalIP,
	BucketAPIRead,
	BucketAPIWrite,
	BucketAPIWriteIP,
	BucketAPIDelete,
	BucketAuthLogin,
	BucketAuthRegister,
	BucketAuthPasswordReset,
	BucketPayment,
	BucketAdmin,
}

// defaultBuckets returns the built-in bucket policies. Values mirror the
// production deployment and can be overridden per bucket via YAML or env.
func defaultBuckets() map[string]BucketConfig {
	minute := int64(60_000)
	return map[string]BucketConfig{
		BucketGlobalIP:          {Enabled: true, WindowMs: minute, MaxRequests: 300},
		BucketAPIRead:           {Enabled: true, WindowMs: minute, MaxRequests: 200},
		BucketAPIWrite:          {Enabled: true, WindowMs: minute, MaxRequests: 60},
		BucketAPIWriteIP:        {Enabled: true, WindowMs: minute, MaxRequests: 30},
		BucketAPIDelete:         {Enabled: true, WindowMs: minute, MaxRequests: 20},
		BucketAuthLogin:         {Enabled: true, WindowMs: 15 * minute, MaxRequests: 5},
		BucketAuthRegister:      {Enabled: true, WindowMs: 60 * minute, MaxRequests: 3},
		BucketAuthPasswordReset: {Enabled: true, WindowMs: 60 * minute, MaxRequests: 3},
		BucketPayment:           {Enabled: true, WindowMs: 10 * minute, MaxRequests: 10},
		BucketAdmin:             {Enabled: true, WindowMs: minute, MaxRequests: 120},
	}
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// Load reads the YAML config file (when present), applies defaults and
// environment overrides, and validates the result. Configuration is read
// once at process start; the gateway does not watch for changes.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Auth: AuthConfig{
			TokenPrecedence:  CookieFirst,
			CookieName:       "auth_token",
			VerifyTimeoutSec: 10,
		},
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "ratelimit",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Buckets: defaultBuckets(),
		},
	}

	data, errRead := os.ReadFile(configPath)
	if errRead == nil {
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	} else if !os.IsNotExist(errRead) {
		return nil, fmt.Errorf("read config file: %w", errRead)
	}

	// YAML replaces the bucket map wholesale; merge buckets the file did
	// not mention back from the defaults.
	if cfg.RateLimit.Buckets == nil {
		cfg.RateLimit.Buckets = defaultBuckets()
	} else {
		for name, def := range defaultBuckets() {
			if _, ok := cfg.RateLimit.Buckets[name]; !ok {
				cfg.RateLimit.Buckets[name] = def
			}
		}
	}

	applyEnvOverrides(cfg)

	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return nil, ErrMissingJWTSecret
	}
	if cfg.Auth.TokenPrecedence != CookieFirst && cfg.Auth.TokenPrecedence != HeaderFirst {
		return nil, fmt.Errorf("invalid auth.token-precedence: %q", cfg.Auth.TokenPrecedence)
	}
	if cfg.Auth.VerifyTimeoutSec <= 0 {
		cfg.Auth.VerifyTimeoutSec = 10
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.Auth.Secret = secret
	}
	if precedence := strings.TrimSpace(os.Getenv(EnvTokenPrecedence)); precedence != "" {
		cfg.Auth.TokenPrecedence = TokenPrecedence(precedence)
	}
	if url := strings.TrimSpace(os.Getenv(EnvRedisURL)); url != "" {
		cfg.Redis.URL = url
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := strings.TrimSpace(os.Getenv(EnvRedisPassword)); password != "" {
		cfg.Redis.Password = password
	}
	if dbRaw := strings.TrimSpace(os.Getenv(EnvRedisDB)); dbRaw != "" {
		if db, errParse := strconv.Atoi(dbRaw); errParse == nil && db >= 0 {
			cfg.Redis.DB = db
		}
	}
	for name := range cfg.RateLimit.Buckets {
		cfg.RateLimit.Buckets[name] = applyBucketEnv(name, cfg.RateLimit.Buckets[name])
	}
	for _, svc := range []struct {
		env    string
		target *string
	}{
		{"AUTH_SERVICE_URL", &cfg.Services.Auth},
		{"PRODUCT_SERVICE_URL", &cfg.Services.Product},
		{"ORDER_SERVICE_URL", &cfg.Services.Order},
		{"CART_SERVICE_URL", &cfg.Services.Cart},
		{"CUSTOMER_SERVICE_URL", &cfg.Services.Customer},
		{"PAYMENT_SERVICE_URL", &cfg.Services.Payment},
		{"EMAIL_SERVICE_URL", &cfg.Services.Email},
		{"PDF_EXPORT_SERVICE_URL", &cfg.Services.PDFExport},
	} {
		if v := strings.TrimSpace(os.Getenv(svc.env)); v != "" {
			*svc.target = v
		}
	}
}

// applyBucketEnv overrides one bucket from RATE_LIMIT_<BUCKET>_* variables,
// e.g. RATE_LIMIT_AUTH_LOGIN_MAX_REQUESTS=5.
func applyBucketEnv(name string, bucket BucketConfig) BucketConfig {
	prefix := "RATE_LIMIT_" + strings.ToUpper(name) + "_"
	if raw := strings.TrimSpace(os.Getenv(prefix + "ENABLED")); raw != "" {
		if enabled, errParse := strconv.ParseBool(raw); errParse == nil {
			bucket.Enabled = enabled
		}
	}
	if raw := strings.TrimSpace(os.Getenv(prefix + "WINDOW_MS")); raw != "" {
		if windowMs, errParse := strconv.ParseInt(raw, 10, 64); errParse == nil && windowMs > 0 {
			bucket.WindowMs = windowMs
		}
	}
	if raw := strings.TrimSpace(os.Getenv(prefix + "MAX_REQUESTS")); raw != "" {
		if maxRequests, errParse := strconv.Atoi(raw); errParse == nil && maxRequests > 0 {
			bucket.MaxRequests = maxRequests
		}
	}
	return bucket
}

// Bucket returns the policy for a named bucket. Unknown names resolve to a
// disabled bucket so a misconfigured route never blocks traffic.
func (c *RateLimitConfig) Bucket(name string) BucketConfig {
	if bucket, ok := c.Buckets[name]; ok {
		return bucket
	}
	return BucketConfig{}
}
