package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":8091" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress)
	}
	if !cfg.Auth.Enabled {
		t.Fatalf("expected auth.enabled to default to true")
	}
	if cfg.Node.TokenEnv != "REWARD_RPC_TOKEN" {
		t.Fatalf("unexpected token env: %s", cfg.Node.TokenEnv)
	}
	if cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
	if _, err := cfg.NodeURL(); err != nil {
		t.Fatalf("default node endpoint invalid: %v", err)
	}
}

func TestLoadOverridesAndDefaultsBackfill(t *testing.T) {
	path := writeConfig(t, strings.Join([]string{
		"listen: \":9900\"",
		"node:",
		"  endpoint: https://ledger.internal:8080",
		"auth:",
		"  enabled: true",
		"  hmacSecret: super-secret",
		"  issuer: rewards",
		"rateLimits:",
		"  mutations:",
		"    requestsPerMinute: 60",
		"    burst: 5",
	}, "\n"))
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":9900" {
		t.Fatalf("unexpected listen address: %s", cfg.ListenAddress)
	}
	if cfg.Node.Endpoint != "https://ledger.internal:8080" {
		t.Fatalf("unexpected endpoint: %s", cfg.Node.Endpoint)
	}
	if cfg.Node.Timeout != 10*time.Second {
		t.Fatalf("expected default node timeout, got %s", cfg.Node.Timeout)
	}
	if cfg.Auth.ScopeClaim != "scope" {
		t.Fatalf("expected default scope claim, got %s", cfg.Auth.ScopeClaim)
	}
	limit, ok := cfg.RateLimits["mutations"]
	if !ok || limit.RequestsPerMinute != 60 || limit.Burst != 5 {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimits)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, "listen: \":9900\"\nbogusField: true\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestLoadRejectsBadNodeScheme(t *testing.T) {
	path := writeConfig(t, "node:\n  endpoint: ftp://ledger:21\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unsupported scheme to be rejected")
	}
}

func TestNodeTokenReadsEnvironment(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	t.Setenv(cfg.Node.TokenEnv, "  sekrit  ")
	if token := cfg.NodeToken(); token != "sekrit" {
		t.Fatalf("unexpected token: %q", token)
	}
}
