// Package adminauth provides the client-side session layer of the CMS admin
// console: login, token refresh ahead of expiry, logout, durable session
// persistence, and a gate for protected views.
//
// The root package defines shared types, collaborator interfaces and
// configuration. Concrete components live in subpackages and are wired
// together by session.New:
//
//	store, _ := persist.NewFile(cfg.StoragePath)
//	bearer := outbound.NewBearer()
//	mgr := session.New(rest.New(cfg.APIBaseURL), cfg,
//	    session.WithStorage(store),
//	    session.WithTokenSink(bearer),
//	    session.WithLogger(logger),
//	)
//	mgr.Rehydrate(ctx)
package adminauth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultSafetyMargin     = 5 * time.Minute
	DefaultStorageNamespace = "admin-auth"
	DefaultLoginPath        = "/login"
	DefaultRequestTimeout   = 10 * time.Second
)

// Config holds connection and behavior configuration.
type Config struct {
	// APIBaseURL is the REST backend, e.g. "https://api.example.com/v1".
	APIBaseURL string `toml:"api_base_url"`

	// SafetyMargin is how long before expiry the token is refreshed.
	// Default: 5 minutes.
	SafetyMargin Duration `toml:"safety_margin"`

	// StorageNamespace keys the persisted session record.
	StorageNamespace string `toml:"storage_namespace"`

	// StoragePath is the directory for file-backed persistence.
	StoragePath string `toml:"storage_path"`

	// RedisAddr selects Redis-backed persistence when set.
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`

	// LoginPath is where the guard sends unauthenticated visitors.
	LoginPath string `toml:"login_path"`

	// RequestTimeout bounds each backend call.
	RequestTimeout Duration `toml:"request_timeout"`

	// StrictExpiry derives IsAuthenticated from the wall clock on every
	// read instead of trusting the stored flag.
	StrictExpiry bool `toml:"strict_expiry"`

	// JWKSUrl enables signature verification of issued tokens.
	JWKSUrl string `toml:"jwks_url"`
}

// Duration is a time.Duration that decodes from TOML strings like "5m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// WithDefaults returns a copy of c with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.SafetyMargin.Duration <= 0 {
		c.SafetyMargin.Duration = DefaultSafetyMargin
	}
	if c.StorageNamespace == "" {
		c.StorageNamespace = DefaultStorageNamespace
	}
	if c.LoginPath == "" {
		c.LoginPath = DefaultLoginPath
	}
	if c.RequestTimeout.Duration <= 0 {
		c.RequestTimeout.Duration = DefaultRequestTimeout
	}
	return c
}

// LoadConfig reads an optional TOML file and applies ADMINAUTH_*
// environment overrides. A missing file is not an error; an empty path
// skips the file entirely.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("adminauth: load config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg.WithDefaults(), nil
}

func applyEnv(cfg *Config) error {
	str := map[string]*string{
		"ADMINAUTH_API_BASE_URL":      &cfg.APIBaseURL,
		"ADMINAUTH_STORAGE_NAMESPACE": &cfg.StorageNamespace,
		"ADMINAUTH_STORAGE_PATH":      &cfg.StoragePath,
		"ADMINAUTH_REDIS_ADDR":        &cfg.RedisAddr,
		"ADMINAUTH_REDIS_PASSWORD":    &cfg.RedisPassword,
		"ADMINAUTH_LOGIN_PATH":        &cfg.LoginPath,
		"ADMINAUTH_JWKS_URL":          &cfg.JWKSUrl,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		"ADMINAUTH_SAFETY_MARGIN":   &cfg.SafetyMargin,
		"ADMINAUTH_REQUEST_TIMEOUT": &cfg.RequestTimeout,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(key); ok {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("adminauth: %s: %w", key, err)
			}
		}
	}

	if v, ok := os.LookupEnv("ADMINAUTH_STRICT_EXPIRY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("adminauth: ADMINAUTH_STRICT_EXPIRY: %w", err)
		}
		cfg.StrictExpiry = b
	}
	return nil
}
