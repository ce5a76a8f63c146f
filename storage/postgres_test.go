package storage

import (
	"strings"
	"testing"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	if cfg.Host != "localhost" {
		t.Errorf("expected default host localhost, got %s", cfg.Host)
	}
	if cfg.Port != 5432 {
		t.Errorf("expected default port 5432, got %d", cfg.Port)
	}
	if cfg.SSLMode != "disable" {
		t.Errorf("expected default sslmode disable, got %s", cfg.SSLMode)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "6543")
	t.Setenv("PGDATABASE", "custom")

	cfg := FromEnv()
	if cfg.Host != "db.internal" || cfg.Port != 6543 || cfg.Database != "custom" {
		t.Errorf("expected env overrides applied, got %+v", cfg)
	}
}

func TestBuildConnectionString(t *testing.T) {
	cfg := Config{Host: "h", Port: 5432, Database: "d", Username: "u", Password: "p", SSLMode: "disable"}
	dsn := buildConnectionString(cfg)
	if !strings.HasPrefix(dsn, "postgres://u:p@h:5432/d") {
		t.Errorf("unexpected dsn: %s", dsn)
	}
	if !strings.Contains(dsn, "sslmode=disable") {
		t.Errorf("expected sslmode in dsn: %s", dsn)
	}
}
