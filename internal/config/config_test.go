package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestLoadOverridesOnlyGivenSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	yamlBody := "watermarks:\n  q2_lower: 8\n  q2_upper: 16\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Watermarks.Q2Lower != 8 || cfg.Watermarks.Q2Upper != 16 {
		t.Fatalf("expected overridden watermarks, got %+v", cfg.Watermarks)
	}
	if cfg.BufferPool.GlobalFreeListMax != DefaultConfig().BufferPool.GlobalFreeListMax {
		t.Fatalf("expected buffer pool tuning left at defaults, got %+v", cfg.BufferPool)
	}
}

func TestValidateRejectsInvertedWatermarks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Watermarks.Q2Lower = 100
	cfg.Watermarks.Q2Upper = 10
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for inverted watermarks")
	}
}

func TestFlowcontrolAccessorMapsFields(t *testing.T) {
	cfg := DefaultConfig()
	w := cfg.Flowcontrol()
	if w.Q2Upper != cfg.Watermarks.Q2Upper {
		t.Fatalf("expected Flowcontrol() to mirror loaded watermarks")
	}
}
