package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Remote store modes.
const (
	RemoteAuto     = ""
	RemotePostgres = "postgres"
	RemoteREST     = "rest"
	RemoteNone     = "none"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	RemoteMode            string   `mapstructure:"REMOTE_MODE"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	RemoteRESTURL         string   `mapstructure:"REMOTE_REST_URL"`
	RemoteRESTKey         string   `mapstructure:"REMOTE_REST_KEY"`
	CacheDir              string   `mapstructure:"CACHE_DIR"`
	AuthSigningKey        string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer            string   `mapstructure:"AUTH_ISSUER"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS          float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int      `mapstructure:"RATE_LIMIT_BURST"`
	BookingConflictPolicy string   `mapstructure:"BOOKING_CONFLICT_POLICY"`
}

// Load reads configuration from the environment and an optional .env file.
// A missing remote configuration is not an error: the service then runs
// against its local cache only.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("REMOTE_MODE", RemoteAuto)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("CACHE_DIR", "./data/cache")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("BOOKING_CONFLICT_POLICY", "allow")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "REMOTE_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REMOTE_REST_URL", "REMOTE_REST_KEY", "CACHE_DIR", "AUTH_SIGNING_KEY",
		"AUTH_ISSUER", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"BOOKING_CONFLICT_POLICY",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development); unauthenticated requests act as admin.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedRemoteMode returns the effective remote store mode. An explicit
// REMOTE_MODE wins; otherwise DATABASE_URL selects postgres, REMOTE_REST_URL
// selects rest, and nothing at all means the service is offline.
func (c *Config) ResolvedRemoteMode() string {
	if c.RemoteMode != RemoteAuto {
		return c.RemoteMode
	}
	if c.DatabaseURL != "" {
		return RemotePostgres
	}
	if c.RemoteRESTURL != "" {
		return RemoteREST
	}
	return RemoteNone
}

// Validate checks that the configuration is consistent.
func (c *Config) Validate() error {
	switch mode := c.ResolvedRemoteMode(); mode {
	case RemoteNone:
	case RemotePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when REMOTE_MODE is %q", mode)
		}
	case RemoteREST:
		if c.RemoteRESTURL == "" {
			return fmt.Errorf("REMOTE_REST_URL is required when REMOTE_MODE is %q", mode)
		}
	default:
		return fmt.Errorf("REMOTE_MODE must be \"postgres\", \"rest\" or \"none\", got %q", mode)
	}

	switch c.BookingConflictPolicy {
	case "allow", "reject":
	default:
		return fmt.Errorf("BOOKING_CONFLICT_POLICY must be \"allow\" or \"reject\", got %q", c.BookingConflictPolicy)
	}

	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}

	if c.CacheDir == "" {
		return fmt.Errorf("CACHE_DIR must not be empty")
	}

	return nil
}
