package app

import (
	"os"
	"path/filepath"
	"testing"

	"bank-products/internal/config"
	"bank-products/internal/logging"
	"bank-products/internal/storage"
)

const sources = `
sources:
  - id: sber-credit
    bank: Сбербанк
    category: credit
    url: http://127.0.0.1:1/credits
    selectors:
      item: .card
      title: h3
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.yaml")
	if err := os.WriteFile(path, []byte(sources), 0o644); err != nil {
		t.Fatalf("write sources: %v", err)
	}
	cfg := &config.Config{
		DatabaseDriver: "sqlite",
		DatabaseURL:    ":memory:",
		Environment:    "test",
		CBRBaseURL:     "http://127.0.0.1:1",
	}
	cfg.Refresh.SourcesFile = path
	cfg.Refresh.Scope = "batch"
	cfg.Refresh.RetentionDays = 7
	return cfg
}

func TestBuild(t *testing.T) {
	a, err := Build(testConfig(t), logging.Discard())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if _, ok := a.Store.(*storage.GormStore); !ok {
		t.Errorf("expected gorm store, got %T", a.Store)
	}
	if a.Refresher == nil || a.Events == nil || a.Rates == nil {
		t.Fatalf("components missing: %+v", a)
	}
	if a.Engine.RetentionDays() != 7 {
		t.Errorf("retention not applied: %d", a.Engine.RetentionDays())
	}
}

func TestBuildWithoutSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Refresh.SourcesFile = filepath.Join(t.TempDir(), "missing.yaml")
	a, err := Build(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if a.Refresher != nil {
		t.Fatal("refresh must be disabled without sources")
	}
}

func TestBuildFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseDriver = "oracle"
	a, err := Build(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if _, ok := a.Store.(*storage.MemoryStore); !ok {
		t.Fatalf("expected memory fallback, got %T", a.Store)
	}

	cfg.Environment = "production"
	if _, err := Build(cfg, logging.Discard()); err == nil {
		t.Fatal("production must not fall back to memory")
	}
}

func TestBuildRejectsUnknownScope(t *testing.T) {
	cfg := testConfig(t)
	cfg.Refresh.Scope = "everything"
	if _, err := Build(cfg, logging.Discard()); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}
