// SPDX-License-Identifier: Apache-2.0

package config

import (
	"strings"
	"testing"
)

var configKeys = []string{
	"HTTP_ADDR", "ENV", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL", "SQLITE_PATH",
	"AUTO_MIGRATE", "ADMIN_TOKEN", "JWT_SECRET", "JWT_ISSUER", "MAX_CAS_ATTEMPTS",
	"OUTBOUND_QUEUE_SIZE", "DISPATCH_LANES", "WRITE_RATE_LIMIT_PER_MIN", "DB_MAX_CONNS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default HTTPAddr=:8080, got %s", cfg.HTTPAddr)
	}
	if cfg.Env != "dev" {
		t.Fatalf("expected default Env=dev, got %s", cfg.Env)
	}
	if cfg.StoreDriver != StorePostgres {
		t.Fatalf("expected default store driver postgres, got %s", cfg.StoreDriver)
	}
	if cfg.AdminToken != "" {
		t.Fatalf("expected default AdminToken to be empty, got %s", cfg.AdminToken)
	}
	if !cfg.AutoMigrate {
		t.Fatal("expected default AutoMigrate=true")
	}
	if cfg.DBMaxConns != 10 {
		t.Fatalf("expected default DBMaxConns=10, got %d", cfg.DBMaxConns)
	}
	if cfg.MaxCASAttempts != 5 || cfg.OutboundQueueSize != 16 || cfg.DispatchLanes != 8 {
		t.Fatalf("unexpected live defaults %+v", cfg)
	}
}

func TestLoadRespectsEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ENV", "prod")
	t.Setenv("STORE_DRIVER", " SQLite ")
	t.Setenv("SQLITE_PATH", "/tmp/live.db")
	t.Setenv("ADMIN_TOKEN", "master-token")
	t.Setenv("AUTO_MIGRATE", "false")
	t.Setenv("MAX_CAS_ATTEMPTS", "3")
	t.Setenv("OUTBOUND_QUEUE_SIZE", "32")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("expected HTTP_ADDR override, got %s", cfg.HTTPAddr)
	}
	if cfg.Env != "prod" {
		t.Fatalf("expected ENV override, got %s", cfg.Env)
	}
	if cfg.StoreDriver != StoreSQLite || cfg.SQLitePath != "/tmp/live.db" {
		t.Fatalf("expected sqlite store override, got %s %s", cfg.StoreDriver, cfg.SQLitePath)
	}
	if cfg.AdminToken != "master-token" {
		t.Fatalf("expected ADMIN_TOKEN override, got %s", cfg.AdminToken)
	}
	if cfg.AutoMigrate {
		t.Fatal("expected AUTO_MIGRATE override to false")
	}
	if cfg.MaxCASAttempts != 3 || cfg.OutboundQueueSize != 32 {
		t.Fatalf("expected numeric overrides, got %+v", cfg)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown driver": {"STORE_DRIVER": "redis"},
		"zero attempts":  {"MAX_CAS_ATTEMPTS": "0"},
		"bad integer":    {"DISPATCH_LANES": "many"},
		"negative limit": {"WRITE_RATE_LIMIT_PER_MIN": "-1"},
		"bad boolean":    {"AUTO_MIGRATE": "maybe"},
		"tiny queue":     {"OUTBOUND_QUEUE_SIZE": "0"},
		"empty pool":     {"DB_MAX_CONNS": "0"},
	}

	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %v", vars)
			}
		})
	}
}

func TestLoadErrorNamesVariable(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("expected error naming STORE_DRIVER, got %v", err)
	}
}
