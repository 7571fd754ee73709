package config

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_SESSION_SECRET", "test-secret")
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
}

func TestLoadAppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Fatalf("default port expected, got %d", cfg.API.Port)
	}
	if cfg.API.SessionTTL.Hours() != 12 {
		t.Fatalf("default session ttl expected, got %v", cfg.API.SessionTTL)
	}
	if cfg.Database.DSN() == "" {
		t.Fatal("dsn expected")
	}
	if cfg.Redis.Addr() != "localhost:6379" {
		t.Fatalf("default redis addr expected, got %s", cfg.Redis.Addr())
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("API_PORT", "9090")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("API_SESSION_TTL", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Port != 9090 {
		t.Fatalf("env port expected, got %d", cfg.API.Port)
	}
	if cfg.Database.Host != "db.internal" {
		t.Fatalf("env db host expected, got %s", cfg.Database.Host)
	}
	if cfg.API.SessionTTL.Minutes() != 30 {
		t.Fatalf("env ttl expected, got %v", cfg.API.SessionTTL)
	}
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("MINIO_ACCESS_KEY_ID", "minio")
	t.Setenv("MINIO_SECRET_ACCESS_KEY", "minio-secret")
	t.Setenv("API_SESSION_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("missing session secret must fail")
	}
}
