package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("expected default port 5000, got %d", cfg.Server.Port)
	}
	if cfg.Catalog.Driver != DriverSQLite {
		t.Errorf("expected sqlite catalog by default, got %q", cfg.Catalog.Driver)
	}
	if cfg.Search.ContextBytes != 20 {
		t.Errorf("expected 20 context bytes, got %d", cfg.Search.ContextBytes)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := `
server:
  port: 7000
catalog:
  driver: memory
assembler:
  workers: 2
  queueSize: 8
  timeout: 30s
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DS_ASSEMBLER_WORKERS", "6")
	t.Setenv("DS_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Catalog.Driver != DriverMemory {
		t.Errorf("driver: got %q", cfg.Catalog.Driver)
	}
	if cfg.Assembler.Workers != 6 {
		t.Errorf("env override not applied, workers=%d", cfg.Assembler.Workers)
	}
	if cfg.Assembler.Timeout != 30*time.Second {
		t.Errorf("timeout: got %v", cfg.Assembler.Timeout)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers: got %v", cfg.Kafka.Brokers)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Storage.UploadRoot != "uploaded_files" {
		t.Errorf("upload root: got %q", cfg.Storage.UploadRoot)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Catalog.Driver = "mongo"
	cfg.Assembler.Workers = 0
	cfg.Storage.UploadRoot = " "

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"catalog.driver", "assembler.workers", "storage.uploadRoot"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	s := SQLiteConfig{Path: "/tmp/x.db", BusyTimeout: 2 * time.Second}
	dsn := s.DSN()
	if !strings.HasPrefix(dsn, "file:/tmp/x.db?") || !strings.Contains(dsn, "busy_timeout(2000)") {
		t.Errorf("unexpected dsn %q", dsn)
	}
}
