package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/keydash/internal/session"
	"github.com/xenking/keydash/internal/storage/schema"
)

// Store backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (KEYDASH_ prefix), flags, or YAML config files.
type Config struct {
	Addr       string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store      StoreConfig
	Keys       KeysConfig
	Validation ValidationConfig
	Session    session.Config
	RateLimit  RateLimitConfig
	Graceful   GracefulConfig
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Backend     string         `default:"rest" usage:"Record store backend: rest or postgres"`
	URL         string         `usage:"Hosted project base URL (rest backend)"`
	AnonKey     string         `usage:"Hosted project anonymous key (rest backend)" flag:"anon-key"`
	DatabaseURL string         `usage:"PostgreSQL connection URL (postgres backend)" flag:"database-url"`
	Migrate     bool           `default:"false" usage:"Apply the embedded DDL on start (postgres backend)"`
	Table       string         `default:"api_keys" usage:"Table holding the keys"`
	Schema      string         `default:"auto" usage:"Table layout: slim, rich or auto"`
	Timeout     time.Duration  `default:"10s" usage:"Bound on list and connection test calls"`
	Columns     schema.Columns
}

// KeysConfig controls secret generation.
type KeysConfig struct {
	Prefix string `default:"tvly-" usage:"Prefix of generated secrets"`
}

// ValidationConfig controls the validation flow.
type ValidationConfig struct {
	Delay time.Duration `default:"800ms" usage:"Artificial delay before a validation answer"`
}

// RateLimitConfig controls the per-session sliding window rate limiter on
// mutating requests.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max mutating requests per window, 0 disables"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, applies platform defaults and rejects a store configuration
// that cannot work.
func LoadConfig() (*Config, error) {
	return loadConfig(os.Args[1:], os.Environ())
}

func loadConfig(args, environ []string) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KEYDASH",
		Envs:      environ,
		Args:      args,
		Files:     []string{"config.yaml", "/etc/keydash/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	cfg.applyPlatformDefaults(func(k string) string { return env[k] })

	if err := cfg.Store.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the variable names used by hosted projects and
// PaaS platforms onto the KEYDASH_ configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	first := func(dst *string, names ...string) {
		for _, n := range names {
			if *dst != "" {
				return
			}
			*dst = getenv(n)
		}
	}
	first(&c.Store.URL, "SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL")
	first(&c.Store.AnonKey, "SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY")
	first(&c.Store.DatabaseURL, "DATABASE_URL")

	if port := getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case BackendREST:
		if s.URL == "" || s.AnonKey == "" {
			return errors.New("record store is not configured: set KEYDASH_STORE_URL and KEYDASH_STORE_ANON_KEY (or SUPABASE_URL and SUPABASE_ANON_KEY)")
		}
	case BackendPostgres:
		if s.DatabaseURL == "" {
			return errors.New("record store is not configured: set KEYDASH_STORE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store backend %q: want %s or %s", s.Backend, BackendREST, BackendPostgres)
	}
	if _, err := schema.ParseVariant(s.Schema); err != nil {
		return errors.Wrap(err, "store schema")
	}
	return nil
}
