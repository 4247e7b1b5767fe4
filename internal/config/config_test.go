package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XVAULT_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service != "xvault" {
		t.Errorf("Service = %q, want xvault", cfg.Service)
	}
	if cfg.Owner != "owner" || cfg.Custody != "vault-custody" {
		t.Errorf("Owner/Custody = %q/%q", cfg.Owner, cfg.Custody)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("HTTP.Addr = %q, want :8080", cfg.HTTP.Addr)
	}
	if cfg.HTTP.ReadTimeout != 15*time.Second {
		t.Errorf("HTTP.ReadTimeout = %v, want 15s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Snapshot.Schedule != "@every 1m" {
		t.Errorf("Snapshot.Schedule = %q", cfg.Snapshot.Schedule)
	}
	if cfg.Database.Enabled() {
		t.Error("database should be disabled without a DSN")
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("XVAULT_JWT_SECRET", "secret")
	t.Setenv("XVAULT_OWNER", "dao")
	t.Setenv("XVAULT_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("XVAULT_DATABASE_URL", "postgres://localhost/xvault?sslmode=disable")
	t.Setenv("XVAULT_DATABASE_CONN_MAX_LIFETIME", "5m")
	t.Setenv("XVAULT_CORS_ORIGINS", "https://a.test, https://b.test,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Owner != "dao" {
		t.Errorf("Owner = %q, want dao", cfg.Owner)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Errorf("HTTP.Addr = %q", cfg.HTTP.Addr)
	}
	if !cfg.Database.Enabled() || cfg.Database.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if got := cfg.HTTP.Origins(); len(got) != 2 || got[1] != "https://b.test" {
		t.Errorf("Origins() = %v", got)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("XVAULT_JWT_ISSUER=from-file\nXVAULT_OWNER=file-owner\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("XVAULT_JWT_SECRET", "secret")
	t.Setenv("XVAULT_OWNER", "env-owner")
	// godotenv sets variables with os.Setenv; register them for cleanup.
	t.Setenv("XVAULT_JWT_ISSUER", "")
	os.Unsetenv("XVAULT_JWT_ISSUER")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Issuer != "from-file" {
		t.Errorf("Issuer = %q, want from-file", cfg.Auth.Issuer)
	}
	if cfg.Owner != "env-owner" {
		t.Errorf("Owner = %q, want env-owner (environment wins over file)", cfg.Owner)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Owner:       "owner",
			Custody:     "custody",
			EventBuffer: 10,
			Auth:        AuthConfig{JWTSecret: "s"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no owner", func(c *Config) { c.Owner = " " }, true},
		{"no custody", func(c *Config) { c.Custody = "" }, true},
		{"custody is owner", func(c *Config) { c.Custody = "owner" }, true},
		{"no auth", func(c *Config) { c.Auth.JWTSecret = "" }, true},
		{"both auth", func(c *Config) { c.Auth.JWTPublicKeyFile = "key.pem" }, true},
		{"negative rate", func(c *Config) { c.HTTP.RateLimit = -1 }, true},
		{"no event buffer", func(c *Config) { c.EventBuffer = 0 }, true},
		{"negative keep", func(c *Config) { c.Snapshot.Keep = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
