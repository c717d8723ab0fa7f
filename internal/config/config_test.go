package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gosimpledb/simpledb/internal/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	want := config.DefaultConfig()
	if *cfg != *want {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "page_size: 8192\nbuffer_pool_pages: 200\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PageSize != 8192 {
		t.Fatalf("PageSize = %d, want 8192", cfg.PageSize)
	}
	if cfg.BufferPoolPages != 200 {
		t.Fatalf("BufferPoolPages = %d, want 200", cfg.BufferPoolPages)
	}
	// Fields absent from the overlay keep their defaults.
	if cfg.HistogramBuckets != config.DefaultHistogramBuckets {
		t.Fatalf("HistogramBuckets = %d, want default %d", cfg.HistogramBuckets, config.DefaultHistogramBuckets)
	}
}

func TestLoadRejectsInvalidOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("page_size: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected validation error for a non-positive page_size")
	}
}

func TestValidateRejectsLowHistogramBuckets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HistogramBuckets = config.MinHistogramBuckets - 1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for histogram_buckets below the minimum")
	}
}
