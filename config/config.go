package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SandraRGdev/wp-api-codeia-sub001/auth"
	"github.com/SandraRGdev/wp-api-codeia-sub001/observe"
	"github.com/SandraRGdev/wp-api-codeia-sub001/secret"
)

// Config is the complete authd configuration.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	AuthMethods   AuthMethodsConfig  `yaml:"auth_methods"`
	JWT           JWTConfig          `yaml:"jwt"`
	APIKey        APIKeyConfig       `yaml:"api_key"`
	AppPassword   AppPasswordConfig  `yaml:"app_password"`
	RateLimiting  RateLimitingConfig `yaml:"rate_limiting"`
	Permissions   PermissionsConfig  `yaml:"permissions"`
	Storage       StorageConfig      `yaml:"storage"`
	Cache         CacheConfig        `yaml:"cache"`
	Observability observe.Config     `yaml:"observability"`
}

// ServerConfig configures the HTTP listener and background jobs.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`

	// SweepInterval is how often expired tokens and idle limiter windows
	// are deleted. Zero disables the sweep.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// Toggle enables one credential method.
type Toggle struct {
	Enabled bool `yaml:"enabled"`
}

// AuthMethodsConfig enables credential methods.
type AuthMethodsConfig struct {
	JWT         Toggle `yaml:"jwt"`
	APIKey      Toggle `yaml:"api_key"`
	AppPassword Toggle `yaml:"app_password"`
}

// JWTConfig configures token signing and lifetimes.
type JWTConfig struct {
	Algorithm string `yaml:"algorithm"`
	KeyID     string `yaml:"key_id"`

	// PrivateKey and PublicKey are PEM text or secret references. With
	// neither set, authd generates an ephemeral key pair.
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`

	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	AccessTTL      Duration `yaml:"access_ttl"`
	RefreshTTL     Duration `yaml:"refresh_ttl"`
	LeaseTTL       Duration `yaml:"lease_ttl"`
	RefreshGrace   Duration `yaml:"refresh_grace"`
	ClockSkew      Duration `yaml:"clock_skew"`
	RevokeOnReuse  bool     `yaml:"revoke_on_reuse"`
	RetentionGrace Duration `yaml:"retention_grace"`
}

// APIKeyConfig configures API keys.
type APIKeyConfig struct {
	Prefix          string   `yaml:"prefix"`
	RateLimit       int      `yaml:"rate_limit"`
	RateLimitWindow Duration `yaml:"rate_limit_window"`
}

// AppPasswordConfig sets the argon2id cost of new application passwords.
type AppPasswordConfig struct {
	MemoryKiB   uint32 `yaml:"memory_kib"`
	Iterations  uint32 `yaml:"iterations"`
	Parallelism uint8  `yaml:"parallelism"`
}

// RateLimitingConfig configures global limits and ban escalation.
type RateLimitingConfig struct {
	PerIP         int      `yaml:"per_ip"`
	PerIPWindow   Duration `yaml:"per_ip_window"`
	PerUser       int      `yaml:"per_user"`
	PerUserWindow Duration `yaml:"per_user_window"`
	BanThreshold  int      `yaml:"ban_threshold"`
	BanDuration   Duration `yaml:"ban_duration"`
	FailOpen      bool     `yaml:"fail_open"`

	// Backend is "memory" or "redis". Redis uses storage.redis.
	Backend string `yaml:"backend"`
}

// PermissionsConfig configures the policy engine.
type PermissionsConfig struct {
	DefaultDeny   bool                         `yaml:"default_deny"`
	RoleOverrides map[string]auth.RoleOverride `yaml:"role_overrides"`
}

// StorageConfig selects the credential store.
type StorageConfig struct {
	// Backend is "memory", "redis" or "postgres".
	Backend string `yaml:"backend"`

	// Timeout bounds each store call.
	Timeout  Duration       `yaml:"timeout"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// RedisConfig configures the Redis client shared by the store and the
// rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// CacheConfig configures the revocation cache in front of the store.
type CacheConfig struct {
	// Backend is "none", "memory" or "ristretto".
	Backend       string   `yaml:"backend"`
	RevocationTTL Duration `yaml:"revocation_ttl"`
	MaxCost       int64    `yaml:"max_cost"`
}

// Default returns the configuration used for keys absent from the file.
func Default() *Config {
	defaults := auth.DefaultTokenConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(15 * time.Second),
			SweepInterval:   Duration(10 * time.Minute),
		},
		AuthMethods: AuthMethodsConfig{
			JWT:         Toggle{Enabled: true},
			APIKey:      Toggle{Enabled: true},
			AppPassword: Toggle{Enabled: true},
		},
		JWT: JWTConfig{
			Algorithm:      auth.DefaultAlgorithm,
			AccessTTL:      Duration(defaults.AccessTTL),
			RefreshTTL:     Duration(defaults.RefreshTTL),
			LeaseTTL:       Duration(5 * time.Minute),
			RefreshGrace:   Duration(defaults.RefreshGrace),
			RevokeOnReuse:  defaults.RevokeOnReuse,
			RetentionGrace: Duration(defaults.RetentionGrace),
		},
		APIKey: APIKeyConfig{
			Prefix:          "wack_",
			RateLimit:       1000,
			RateLimitWindow: Duration(time.Hour),
		},
		AppPassword: AppPasswordConfig{
			MemoryKiB:   64 * 1024,
			Iterations:  1,
			Parallelism: 2,
		},
		RateLimiting: RateLimitingConfig{
			PerIP:         300,
			PerIPWindow:   Duration(time.Minute),
			PerUser:       600,
			PerUserWindow: Duration(time.Minute),
			BanThreshold:  10,
			BanDuration:   Duration(15 * time.Minute),
			FailOpen:      true,
			Backend:       "memory",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Timeout: Duration(2 * time.Second),
			Redis:   RedisConfig{Addr: "localhost:6379", Prefix: "auth"},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			RevocationTTL: Duration(time.Minute),
			MaxCost:       64 << 20,
		},
		Observability: observe.Config{
			ServiceName: "authd",
			Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
			Metrics:     observe.MetricsConfig{Enabled: true, Exporter: "prometheus"},
			Tracing:     observe.TracingConfig{Exporter: "none"},
		},
	}
}

// Load reads path over Default, resolves secret references and validates
// the result. Relative file references resolve against the file's
// directory. A nil resolver uses secret.Default.
func Load(ctx context.Context, path string, resolver *secret.Resolver) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if resolver == nil {
		resolver = secret.Default(filepath.Dir(path))
	}
	return Parse(ctx, data, resolver)
}

// Parse is Load for in-memory YAML.
func Parse(ctx context.Context, data []byte, resolver *secret.Resolver) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := resolver.ResolveFields(ctx, map[string]*string{
		"jwt.private_key":        &cfg.JWT.PrivateKey,
		"jwt.public_key":         &cfg.JWT.PublicKey,
		"storage.redis.password": &cfg.Storage.Redis.Password,
		"storage.postgres.dsn":   &cfg.Storage.Postgres.DSN,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in c at once.
func (c *Config) Validate() error {
	var problems []string
	bad := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !c.AuthMethods.JWT.Enabled && !c.AuthMethods.APIKey.Enabled && !c.AuthMethods.AppPassword.Enabled {
		bad("auth_methods: at least one method must be enabled")
	}
	if c.JWT.Algorithm == "HS256" || c.JWT.Algorithm == "HS384" || c.JWT.Algorithm == "HS512" {
		bad("jwt.algorithm: symmetric algorithms are not supported")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		bad("jwt: access_ttl and refresh_ttl must be positive")
	}
	if c.JWT.AccessTTL > c.JWT.RefreshTTL {
		bad("jwt.access_ttl must not exceed refresh_ttl")
	}
	if c.JWT.LeaseTTL < 0 || c.JWT.RefreshGrace < 0 || c.JWT.ClockSkew < 0 || c.JWT.RetentionGrace < 0 {
		bad("jwt: durations must not be negative")
	}
	if c.APIKey.Prefix == "" || strings.ContainsAny(c.APIKey.Prefix, " \t") {
		bad("api_key.prefix must be non-empty without whitespace")
	}
	if c.APIKey.RateLimit < 0 || c.APIKey.RateLimitWindow < 0 {
		bad("api_key: rate limit must not be negative")
	}

	rl := c.RateLimiting
	if rl.PerIP < 0 || rl.PerUser < 0 || rl.BanThreshold < 0 {
		bad("rate_limiting: limits must not be negative")
	}
	if (rl.PerIP > 0 && rl.PerIPWindow <= 0) || (rl.PerUser > 0 && rl.PerUserWindow <= 0) {
		bad("rate_limiting: a limit needs a positive window")
	}
	if !slices.Contains([]string{"memory", "redis"}, rl.Backend) {
		bad("rate_limiting.backend: %q is not memory or redis", rl.Backend)
	}

	for role, o := range c.Permissions.RoleOverrides {
		if strings.TrimSpace(role) == "" {
			bad("permissions.role_overrides: empty role name")
		}
		if o == (auth.RoleOverride{}) {
			bad("permissions.role_overrides.%s: no flags set", role)
		}
	}

	switch c.Storage.Backend {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			bad("storage.redis.addr is required")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			bad("storage.postgres.dsn is required")
		}
	default:
		bad("storage.backend: %q is not memory, redis or postgres", c.Storage.Backend)
	}
	if rl.Backend == "redis" && c.Storage.Redis.Addr == "" {
		bad("rate_limiting.backend redis needs storage.redis.addr")
	}
	if c.Storage.Timeout <= 0 {
		bad("storage.timeout must be positive")
	}
	if !slices.Contains([]string{"none", "memory", "ristretto"}, c.Cache.Backend) {
		bad("cache.backend: %q is not none, memory or ristretto", c.Cache.Backend)
	}

	if err := c.Observability.Validate(); err != nil {
		bad("observability: %v", err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// PolicyConfig returns the policy engine configuration.
func (c *Config) PolicyConfig() auth.PolicyConfig {
	return auth.PolicyConfig{
		DefaultDeny:   c.Permissions.DefaultDeny,
		RoleOverrides: c.Permissions.RoleOverrides,
	}
}

// AuthConfig returns the auth.Service configuration.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Methods: auth.Methods{
			JWT:         c.AuthMethods.JWT.Enabled,
			APIKey:      c.AuthMethods.APIKey.Enabled,
			AppPassword: c.AuthMethods.AppPassword.Enabled,
		},
		JWT: auth.JWTConfig{
			Issuer:    c.JWT.Issuer,
			Audience:  c.JWT.Audience,
			ClockSkew: c.JWT.ClockSkew.D(),
			LeaseTTL:  c.JWT.LeaseTTL.D(),
		},
		Tokens: auth.TokenConfig{
			AccessTTL:      c.JWT.AccessTTL.D(),
			RefreshTTL:     c.JWT.RefreshTTL.D(),
			RefreshGrace:   c.JWT.RefreshGrace.D(),
			RevokeOnReuse:  c.JWT.RevokeOnReuse,
			RetentionGrace: c.JWT.RetentionGrace.D(),
		},
		APIKey: auth.APIKeyConfig{
			Prefix:          c.APIKey.Prefix,
			RateLimit:       c.APIKey.RateLimit,
			RateLimitWindow: c.APIKey.RateLimitWindow.D(),
		},
		AppPassword: auth.AppPasswordConfig{Argon2: auth.Argon2Params{
			Memory:      c.AppPassword.MemoryKiB,
			Time:        c.AppPassword.Iterations,
			Parallelism: c.AppPassword.Parallelism,
		}},
		RateLimits: auth.RateLimits{
			PerIP:         c.RateLimiting.PerIP,
			PerIPWindow:   c.RateLimiting.PerIPWindow.D(),
			PerUser:       c.RateLimiting.PerUser,
			PerUserWindow: c.RateLimiting.PerUserWindow.D(),
		},
		Policy: c.PolicyConfig(),
	}
}

// SigningKeys loads the configured key pair. generated reports that no key
// was configured and an ephemeral pair was created.
func (c *Config) SigningKeys() (keys *auth.SigningKeys, generated bool, err error) {
	if c.JWT.PrivateKey == "" && c.JWT.PublicKey == "" {
		keys, err = auth.GenerateSigningKeys(c.JWT.Algorithm, c.JWT.KeyID)
		return keys, true, err
	}
	keys, err = auth.ParseSigningKeys(c.JWT.Algorithm, c.JWT.KeyID, []byte(c.JWT.PrivateKey), []byte(c.JWT.PublicKey))
	return keys, false, err
}
