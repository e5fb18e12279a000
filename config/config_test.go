package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.ServerConfig.Port)
	}
	if cfg.TenantConfig.ProbeBudget != 20*time.Second {
		t.Errorf("Expected probe budget 20s, got %s", cfg.TenantConfig.ProbeBudget)
	}
	if cfg.LicenseConfig.DefaultRenewalDays != 365 {
		t.Errorf("Expected renewal default 365, got %d", cfg.LicenseConfig.DefaultRenewalDays)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"environment":"production","server":{"port":9000},"auth":{"jwt_secret":"file-secret"},"tenants":{"connections":{"owner@x.com":"postgres://tenant"}}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WEB_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerConfig.Port != 9100 {
		t.Errorf("Expected env port 9100, got %d", cfg.ServerConfig.Port)
	}
	if cfg.AuthConfig.JWTSecret != "file-secret" {
		t.Errorf("Expected file secret to survive, got %q", cfg.AuthConfig.JWTSecret)
	}
	if cfg.TenantConfig.Connections["owner@x.com"] != "postgres://tenant" {
		t.Errorf("Expected static tenant connection, got %v", cfg.TenantConfig.Connections)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		applyDefaults(c)
		return c
	}

	c := base()
	c.Environment = "production"
	if err := c.Validate(); err == nil {
		t.Error("Expected missing JWT secret to fail outside development")
	}

	c = base()
	c.TenantConfig.ProbeTimeout = time.Minute
	if err := c.Validate(); err == nil {
		t.Error("Expected probe timeout above budget to fail")
	}

	if err := base().Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}
