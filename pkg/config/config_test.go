package config

import (
	"os"
	"path/filepath"
	"testing"

	"uct2ccf/internal/models"
)

// TestDefaultConfigValid checks that the defaults pass validation
func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if cfg.Scan.Axes != models.ConventionZYX {
		t.Errorf("Expected ZYX scan convention, got %v", cfg.Scan.Axes)
	}
	if cfg.Registration.Thresholds.MaxAcceptable != 2.0 {
		t.Errorf("Expected max acceptable error 2.0, got %f", cfg.Registration.Thresholds.MaxAcceptable)
	}
}

// TestLoadConfigMissingFile checks that a missing file yields defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Refinement.Bins != DefaultConfig().Refinement.Bins {
		t.Errorf("Expected default bins, got %d", cfg.Refinement.Bins)
	}
}

// TestSaveLoadConfig checks that saved values come back
func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Midline.Reverse = true
	cfg.Scan.Spacing = [3]float64{0.02, 0.02, 0.05}
	cfg.Scan.Axes = models.Convention{0, 1, 2}
	cfg.Refinement.Enabled = true
	cfg.Refinement.Seed = 7
	cfg.Server.Address = "127.0.0.1:9000"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !loaded.Midline.Reverse {
		t.Error("Expected reverse to be kept")
	}
	if loaded.Scan.Spacing != cfg.Scan.Spacing {
		t.Errorf("Expected spacing %v, got %v", cfg.Scan.Spacing, loaded.Scan.Spacing)
	}
	if loaded.Scan.Axes != cfg.Scan.Axes {
		t.Errorf("Expected axes %v, got %v", cfg.Scan.Axes, loaded.Scan.Axes)
	}
	if !loaded.Refinement.Enabled || loaded.Refinement.Seed != 7 {
		t.Errorf("Refinement section not restored: %+v", loaded.Refinement)
	}
	if loaded.Server.Address != "127.0.0.1:9000" {
		t.Errorf("Expected server address to be kept, got %q", loaded.Server.Address)
	}
}

// TestLoadConfigPartial checks that keys absent from the file keep their defaults
func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "midline:\n  reverse: true\nfibers:\n  space: aligned\noutput:\n  dir: results\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if !cfg.Midline.Reverse || cfg.Output.Dir != "results" {
		t.Errorf("Expected file values, got reverse=%v dir=%q", cfg.Midline.Reverse, cfg.Output.Dir)
	}
	if cfg.Fibers.Space != "aligned" {
		t.Errorf("Expected aligned fiber space, got %q", cfg.Fibers.Space)
	}
	if cfg.Midline.MinEigenRatio != DefaultConfig().Midline.MinEigenRatio {
		t.Errorf("Expected default eigen ratio, got %g", cfg.Midline.MinEigenRatio)
	}
}

// TestLoadConfigInvalid checks the rejected configurations
func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"syntax":        "processing: [\n",
		"interpolation": "processing:\n  interpolation: cubic\n",
		"axes":          "scan:\n  axes: [0, 0, 2]\n",
		"spacing":       "atlas:\n  spacing: [0.025, 0, 0.025]\n",
		"thresholds":    "registration:\n  thresholds:\n    excellent: 3\n    good: 1\n    maxAcceptable: 2\n",
		"iterations":    "refinement:\n  maxIterations: 0\n",
		"sampling":      "refinement:\n  samplingPercentage: 1.5\n",
		"fiber space":   "fibers:\n  space: warped\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("Expected an error for %s", name)
			}
		})
	}
}

// TestCreateDefaultConfigFile checks the written file loads back as defaults
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Atlas != DefaultConfig().Atlas {
		t.Errorf("Expected default atlas grid, got %+v", cfg.Atlas)
	}
}
