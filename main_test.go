package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// memoryEnv points run at the in-memory store with every optional backend off.
func memoryEnv(t *testing.T) {
	t.Helper()
	scrapers := filepath.Join(t.TempDir(), "scrapers.yaml")
	content := "scrapers:\n  - id: pararius\n    kind: htmlsite\n    base_url: https://www.pararius.nl\n    active: false\n"
	if err := os.WriteFile(scrapers, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STORE", "memory")
	t.Setenv("SCRAPERS_FILE", scrapers)
	for _, k := range []string{"REDIS_ADDR", "KAFKA_BROKERS", "S3_BUCKET", "SNAPSHOT_CSV_PATH", "CYCLE_INTERVAL"} {
		t.Setenv(k, "")
	}
}

func TestRunExitCodes(t *testing.T) {
	memoryEnv(t)

	tests := []struct {
		name   string
		args   []string
		want   int
		output string
	}{
		{"full cycle", nil, 0, "No active scrapers"},
		{"reset", []string{"-reset"}, 0, "Reset: 0 staged"},
		{"unknown scraper", []string{"-scraper", "missing"}, 1, ""},
		{"bad flag", []string{"-nope"}, 2, ""},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		if got := run(tt.args, &out); got != tt.want {
			t.Errorf("%s: exit code: got %d, want %d", tt.name, got, tt.want)
		}
		if tt.output != "" && !strings.Contains(out.String(), tt.output) {
			t.Errorf("%s: output missing %q:\n%s", tt.name, tt.output, out.String())
		}
	}
}
