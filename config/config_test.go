package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDirectoryMergesFiles(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "app.yaml", `sample_store:
  backend: pebble
  path: /var/lib/fkreview/samples
fk:
  maximum_slowness: 30
`)
	writeConfig(t, dir, "review.yaml", `sample_store:
  cache_size_mb: 128
review:
  sort: stationName
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := filepath.Clean(cfg.LoadedFrom); got != filepath.Clean(dir) {
		t.Fatalf("expected LoadedFrom=%s, got %s", dir, got)
	}
	if cfg.SampleStore.Backend != "pebble" || cfg.SampleStore.Path != "/var/lib/fkreview/samples" {
		t.Fatalf("expected sample_store from app.yaml, got %+v", cfg.SampleStore)
	}
	if cfg.SampleStore.CacheSizeMB != 128 {
		t.Fatalf("expected sample_store.cache_size_mb to merge from review.yaml, got %d", cfg.SampleStore.CacheSizeMB)
	}
	if cfg.FK.MaximumSlowness != 30 || cfg.FK.NumberOfPoints != 81 {
		t.Fatalf("unexpected fk section %+v", cfg.FK)
	}
	if cfg.Review.Sort != "stationName" {
		t.Fatalf("expected review.sort=stationName, got %q", cfg.Review.Sort)
	}
}

func TestLoadSingleFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "fkreview.yaml", "logging:\n  enabled: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.LoadedFrom != path {
		t.Fatalf("expected LoadedFrom=%s, got %s", path, cfg.LoadedFrom)
	}
	if cfg.Logging.RetentionDays != 7 || cfg.Logging.Dir == "" {
		t.Fatalf("unexpected logging defaults %+v", cfg.Logging)
	}
	if cfg.SampleStore.Backend != "memory" {
		t.Fatalf("expected memory backend by default, got %q", cfg.SampleStore.Backend)
	}
	if cfg.FK.MaximumSlowness != 40 || cfg.FK.NumberOfPoints != 81 || cfg.FK.LeadFkSpectrumSeconds != 1 {
		t.Fatalf("unexpected fk defaults %+v", cfg.FK)
	}
	if len(cfg.FK.PhasesNeedingReview) == 0 || cfg.FK.PhasesNeedingReview[0] != "P" {
		t.Fatalf("expected default review phases, got %v", cfg.FK.PhasesNeedingReview)
	}
	if cfg.FK.FilterType != "firstP" || cfg.Review.Sort != "distance" {
		t.Fatalf("unexpected review defaults fk.filter_type=%q review.sort=%q", cfg.FK.FilterType, cfg.Review.Sort)
	}
	if cfg.Worker.Workers != 4 {
		t.Fatalf("expected 4 workers by default, got %d", cfg.Worker.Workers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"negative retention": "logging:\n  retention_days: -1\n",
		"negative taper":     "filters:\n  taper: -2\n",
		"unknown backend":    "sample_store:\n  backend: redis\n",
		"unknown sort":       "review:\n  sort: arrival\n",
		"unknown filter":     "fk:\n  filter_type: some\n",
		"one grid point":     "fk:\n  number_of_points: 1\n",
		"qos out of range":   "mqtt:\n  qos: 3\n",
		"mqtt without host":  "mqtt:\n  enabled: true\n",
		"bad yaml":           "fk: [\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "fkreview.yaml", text)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected Load() to fail")
			}
		})
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for a directory with no YAML files")
	}
}
