package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORE", "STALE_AFTER", "MAX_IMAGES", "HTTP_TIMEOUT", "KAFKA_BROKERS", "CYCLE_INTERVAL"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	if cfg.Store != "postgres" {
		t.Errorf("Store: got %q, want postgres", cfg.Store)
	}
	if cfg.StaleAfter != 504*time.Hour {
		t.Errorf("StaleAfter: got %v, want 504h", cfg.StaleAfter)
	}
	if cfg.MaxImages != 15 {
		t.Errorf("MaxImages: got %d, want 15", cfg.MaxImages)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout: got %v, want 10s", cfg.HTTPTimeout)
	}
	if cfg.KafkaBrokers != nil {
		t.Errorf("KafkaBrokers: got %v, want nil", cfg.KafkaBrokers)
	}
	if cfg.CycleInterval != 0 {
		t.Errorf("CycleInterval: got %v, want 0", cfg.CycleInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("STALE_AFTER", "48h")
	t.Setenv("HTTP_TIMEOUT", "3")
	t.Setenv("ADAPTER_PARALLELISM", "not-a-number")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("DEBUG", "true")
	t.Setenv("POSTGRES_HOST", "db")

	cfg := Load()

	if cfg.Store != "memory" {
		t.Errorf("Store: got %q, want memory", cfg.Store)
	}
	if cfg.StaleAfter != 48*time.Hour {
		t.Errorf("StaleAfter: got %v", cfg.StaleAfter)
	}
	if cfg.HTTPTimeout != 3*time.Second {
		t.Errorf("HTTPTimeout: got %v, want 3s", cfg.HTTPTimeout)
	}
	if cfg.AdapterParallelism != 1 {
		t.Errorf("AdapterParallelism: got %d, want fallback 1", cfg.AdapterParallelism)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("KafkaBrokers: got %v", cfg.KafkaBrokers)
	}
	if !cfg.Debug {
		t.Error("Debug: got false, want true")
	}
	if want := "host=db port=5432"; cfg.DSN()[:len(want)] != want {
		t.Errorf("DSN: got %q", cfg.DSN())
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrapers.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadScrapers(t *testing.T) {
	path := writeFile(t, `
scrapers:
  - id: pararius
    name: Pararius
    kind: htmlsite
    base_url: https://www.pararius.nl/huurwoningen/utrecht
    active: true
    settings:
      item: section.listing-search-item
      field.title: h2 a
  - id: feed
    kind: jsonfeed
    active: false
`)

	defs, err := LoadScrapers(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 2 {
		t.Fatalf("scrapers: got %d, want 2", len(defs))
	}
	if defs[0].Kind != "htmlsite" || !defs[0].IsActive || defs[0].Setting("item", "") != "section.listing-search-item" {
		t.Errorf("first scraper: got %+v", defs[0])
	}
	if defs[1].Name != "feed" || defs[1].Position != 1 || defs[1].Settings == nil {
		t.Errorf("second scraper: got %+v", defs[1])
	}
}

func TestLoadScrapersRejectsBadFiles(t *testing.T) {
	tests := []struct {
		name, content string
	}{
		{"missing kind", "scrapers:\n  - id: a\n"},
		{"duplicate id", "scrapers:\n  - id: a\n    kind: htmlsite\n  - id: a\n    kind: jsonfeed\n"},
		{"unknown field", "scrapers:\n  - id: a\n    kind: htmlsite\n    enabled: true\n"},
	}
	for _, tt := range tests {
		if _, err := LoadScrapers(writeFile(t, tt.content)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	if _, err := LoadScrapers(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file: expected error")
	}
}
