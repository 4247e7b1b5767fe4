// Package config loads the daemon configuration from the environment
// (optionally seeded from .env files) and vault presets from YAML.
package config

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the process configuration of vaultd.
type Config struct {
	Service string `env:"XVAULT_SERVICE_NAME,default=xvault"`
	Owner   string `env:"XVAULT_OWNER,default=owner"`
	Custody string `env:"XVAULT_CUSTODY,default=vault-custody"`

	PresetsFile string `env:"XVAULT_PRESETS_FILE"`
	EventBuffer int    `env:"XVAULT_EVENT_BUFFER,default=1024"`

	HTTP     HTTPConfig
	Auth     AuthConfig
	Log      LogConfig
	Database DatabaseConfig
	Snapshot SnapshotConfig
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `env:"XVAULT_HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"XVAULT_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"XVAULT_HTTP_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"XVAULT_HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	RateLimit       int           `env:"XVAULT_RATE_LIMIT,default=50"`
	RateBurst       int           `env:"XVAULT_RATE_BURST,default=100"`
	CORSOrigins     string        `env:"XVAULT_CORS_ORIGINS"`
}

// Origins splits CORSOrigins on commas.
func (c HTTPConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AuthConfig selects how bearer tokens are verified. Exactly one of
// JWTSecret and JWTPublicKeyFile must be set.
type AuthConfig struct {
	JWTSecret        string `env:"XVAULT_JWT_SECRET"`
	JWTPublicKeyFile string `env:"XVAULT_JWT_PUBLIC_KEY_FILE"`
	Issuer           string `env:"XVAULT_JWT_ISSUER"`
}

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string `env:"XVAULT_LOG_LEVEL,default=info"`
	Format string `env:"XVAULT_LOG_FORMAT,default=json"`
}

// DatabaseConfig configures snapshot persistence. An empty DSN keeps all
// state in memory.
type DatabaseConfig struct {
	DSN             string        `env:"XVAULT_DATABASE_URL"`
	MaxOpenConns    int           `env:"XVAULT_DATABASE_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"XVAULT_DATABASE_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"XVAULT_DATABASE_CONN_MAX_LIFETIME,default=30m"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// SnapshotConfig schedules periodic registry checkpoints.
type SnapshotConfig struct {
	Schedule string `env:"XVAULT_SNAPSHOT_SCHEDULE,default=@every 1m"`
	Keep     int    `env:"XVAULT_SNAPSHOT_KEEP,default=20"`
}

// Load reads envFiles (missing files are ignored) into the process
// environment without overriding variables already set, then decodes the
// environment into a validated Config.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !stderrors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("XVAULT_OWNER is required")
	}
	if strings.TrimSpace(c.Custody) == "" {
		return fmt.Errorf("XVAULT_CUSTODY is required")
	}
	if c.Custody == c.Owner {
		return fmt.Errorf("custody account must differ from owner")
	}
	if c.Auth.JWTSecret != "" && c.Auth.JWTPublicKeyFile != "" {
		return fmt.Errorf("set only one of XVAULT_JWT_SECRET and XVAULT_JWT_PUBLIC_KEY_FILE")
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWTPublicKeyFile == "" {
		return fmt.Errorf("one of XVAULT_JWT_SECRET or XVAULT_JWT_PUBLIC_KEY_FILE is required")
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("XVAULT_EVENT_BUFFER must be positive")
	}
	if c.Snapshot.Keep < 0 {
		return fmt.Errorf("XVAULT_SNAPSHOT_KEEP must not be negative")
	}
	return nil
}
