package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalogs.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
catalogs:
  - context: warehouse
    host: sql.internal
    port: 1433
    max_connections: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("got MetricsAddr %q, want :9090", cfg.MetricsAddr)
	}
	if cfg.HealthAddr != ":8080" {
		t.Errorf("got HealthAddr %q, want :8080", cfg.HealthAddr)
	}
	if len(cfg.Catalogs) != 1 {
		t.Fatalf("got %d catalogs, want 1", len(cfg.Catalogs))
	}
	target := cfg.Catalogs[0]
	if target.MinWarmConnections != 2 {
		t.Errorf("got MinWarmConnections %d, want 2", target.MinWarmConnections)
	}
	if target.ConnectionTimeout != 30*time.Second {
		t.Errorf("got ConnectionTimeout %v, want 30s", target.ConnectionTimeout)
	}
	if target.BatchSize != 1000 {
		t.Errorf("got BatchSize %d, want 1000", target.BatchSize)
	}
	if target.BCPFlushRows != 10000 {
		t.Errorf("got BCPFlushRows %d, want 10000", target.BCPFlushRows)
	}
	if target.PacketSize != 4096 {
		t.Errorf("got PacketSize %d, want 4096", target.PacketSize)
	}
}

func TestLoad_DistributedDefaultsOnlyWhenRedisConfigured(t *testing.T) {
	path := writeTempConfig(t, `
catalogs:
  - context: warehouse
    host: sql.internal
    port: 1433
    max_connections: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Distributed.HeartbeatInterval != 0 {
		t.Errorf("expected no heartbeat default without redis_addr, got %v", cfg.Distributed.HeartbeatInterval)
	}

	path2 := writeTempConfig(t, `
distributed:
  redis_addr: "localhost:6379"
catalogs:
  - context: warehouse
    host: sql.internal
    port: 1433
    max_connections: 10
`)
	cfg2, err := Load(path2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg2.Distributed.HeartbeatInterval != 10*time.Second {
		t.Errorf("got HeartbeatInterval %v, want 10s", cfg2.Distributed.HeartbeatInterval)
	}
	if cfg2.Distributed.LocalLimitDivisor != 3 {
		t.Errorf("got LocalLimitDivisor %d, want 3", cfg2.Distributed.LocalLimitDivisor)
	}
}

func TestLoad_RejectsNoCatalogs(t *testing.T) {
	path := writeTempConfig(t, `catalogs: []`)
	if _, err := Load(path); err == nil {
		t.Error("expected error loading config with no catalogs")
	}
}

func TestLoad_RejectsDuplicateContext(t *testing.T) {
	path := writeTempConfig(t, `
catalogs:
  - context: warehouse
    host: a.internal
    port: 1433
    max_connections: 10
  - context: warehouse
    host: b.internal
    port: 1433
    max_connections: 10
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error loading config with duplicate catalog context")
	}
}

func TestLoad_RejectsMissingRequiredFields(t *testing.T) {
	cases := []string{
		`catalogs: [{host: a.internal, port: 1433, max_connections: 10}]`,
		`catalogs: [{context: warehouse, port: 1433, max_connections: 10}]`,
		`catalogs: [{context: warehouse, host: a.internal, max_connections: 10}]`,
		`catalogs: [{context: warehouse, host: a.internal, port: 1433}]`,
	}
	for _, yaml := range cases {
		path := writeTempConfig(t, yaml)
		if _, err := Load(path); err == nil {
			t.Errorf("expected error loading config %q", yaml)
		}
	}
}

func TestCatalogByContext(t *testing.T) {
	path := writeTempConfig(t, `
catalogs:
  - context: warehouse
    host: sql.internal
    port: 1433
    max_connections: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	target, ok := cfg.CatalogByContext("warehouse")
	if !ok {
		t.Fatal("expected to find catalog by context")
	}
	if target.Host != "sql.internal" {
		t.Errorf("got Host %q, want sql.internal", target.Host)
	}
	if _, ok := cfg.CatalogByContext("missing"); ok {
		t.Error("expected not to find unconfigured context")
	}
}
