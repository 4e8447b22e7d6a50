package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "protoscope.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sample_limit = 8

[[buckets]]
name = "location"
prefixes = ["city."]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SampleLimit != 8 {
		t.Fatalf("expected sample_limit 8, got %d", cfg.SampleLimit)
	}
	if len(cfg.ActionKeys) == 0 {
		t.Fatalf("action keys must default")
	}
	if cfg.Fuzz.Parallelism != 1 || cfg.Fuzz.FailureThreshold != 5 {
		t.Fatalf("fuzz defaults not applied: %+v", cfg.Fuzz)
	}
}

func TestLoadRejectsInvalidBucket(t *testing.T) {
	path := writeConfig(t, `
[[buckets]]
name = ""
prefixes = ["x."]
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for unnamed bucket")
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protoscope.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("template must load cleanly: %v", err)
	}
	if cfg.SampleLimit != Default().SampleLimit || len(cfg.Buckets) != len(Default().Buckets) {
		t.Fatalf("template drifted from defaults: %+v", cfg)
	}
}

func TestClassifierFirstMatchWins(t *testing.T) {
	cfg := Default()
	cfg.Buckets = []Bucket{
		{Name: "narrow", Prefixes: []string{"city.defense."}},
		{Name: "wide", Prefixes: []string{"city."}},
	}
	classify := cfg.Classifier()
	if got := classify("city.defense.update"); got != "narrow" {
		t.Fatalf("expected first-match bucket narrow, got %q", got)
	}
	if got := classify("city.enter"); got != "wide" {
		t.Fatalf("expected bucket wide, got %q", got)
	}
	if got := classify("unknown.op"); got != "" {
		t.Fatalf("expected empty bucket, got %q", got)
	}
}
