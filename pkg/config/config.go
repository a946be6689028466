// Package config provides configuration loading and management for uct2ccf.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"uct2ccf/internal/models"
	"uct2ccf/pkg/midline"
	"uct2ccf/pkg/pipeline"
	"uct2ccf/pkg/refine"
	"uct2ccf/pkg/registration"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for resampling.
		// Zero means the physical core count reported at startup.
		NumCores int `yaml:"numCores"`

		// Interpolation is "linear" or "nearest" for intensity resampling
		Interpolation string `yaml:"interpolation"`
	} `yaml:"processing"`

	// Scan is the physical layout of the micro-CT volume when it is read from
	// a slice directory, which carries no spacing of its own
	Scan models.Grid `yaml:"scan"`

	// Atlas is the physical layout used for atlas volumes without a header grid
	Atlas models.Grid `yaml:"atlas"`

	// Midline alignment parameters
	Midline struct {
		// MinEigenRatio rejects colinear midline point sets
		MinEigenRatio float64 `yaml:"minEigenRatio"`

		// Reverse negates the fitted rotation angle
		Reverse bool `yaml:"reverse"`

		// CenterOnMidline rotates about the midline centroid instead of the volume center
		CenterOnMidline bool `yaml:"centerOnMidline"`
	} `yaml:"midline"`

	// Registration quality thresholds in mm
	Registration struct {
		Thresholds registration.Thresholds `yaml:"thresholds"`
	} `yaml:"registration"`

	// Refinement parameters for the intensity-based pass
	Refinement struct {
		// Enabled turns on refinement when an atlas reference volume is given
		Enabled bool `yaml:"enabled"`

		// MaxIterations bounds the optimizer
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the convergence threshold on the metric
		Tolerance float64 `yaml:"tolerance"`

		// Bins is the joint histogram size per axis
		Bins int `yaml:"bins"`

		// SamplingPercentage is the fraction of fixed voxels sampled, in (0, 1]
		SamplingPercentage float64 `yaml:"samplingPercentage"`

		// Seed fixes the sample selection
		Seed uint32 `yaml:"seed"`
	} `yaml:"refinement"`

	// Fiber input parameters
	Fibers struct {
		// Space is the volume fiber voxels were marked on: "scan", "aligned"
		// or "ccf" for the registered volume
		Space string `yaml:"space"`
	} `yaml:"fibers"`

	// Output parameters
	Output struct {
		// Dir is where transforms, metrics and reports are written
		Dir string `yaml:"dir"`

		// SaveIntermediaryResults determines whether to save QC slices
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Server parameters for the REST service
	Server struct {
		// Address is the listen address, e.g. ":8080"
		Address string `yaml:"address"`
	} `yaml:"server"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = 0
	cfg.Processing.Interpolation = midline.Linear.String()

	// Scans come in as ZYX stacks; the CCF atlas is 25 micron isotropic
	cfg.Scan = models.IsotropicGrid(0.01)
	cfg.Atlas = models.IsotropicGrid(0.025)

	cfg.Midline.MinEigenRatio = midline.DefaultMinEigenRatio
	cfg.Midline.Reverse = false
	cfg.Midline.CenterOnMidline = false

	cfg.Registration.Thresholds = registration.DefaultThresholds()

	budget := refine.DefaultBudget()
	cfg.Refinement.Enabled = false
	cfg.Refinement.MaxIterations = budget.MaxIterations
	cfg.Refinement.Tolerance = budget.Tolerance
	cfg.Refinement.Bins = refine.DefaultBins
	cfg.Refinement.SamplingPercentage = refine.DefaultSampleFraction
	cfg.Refinement.Seed = refine.DefaultSeed

	cfg.Fibers.Space = pipeline.SpaceScan

	cfg.Output.Dir = "output"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.Verbose = false

	cfg.Server.Address = ":8080"

	return cfg
}

// Validate checks the values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("numCores must not be negative, got %d", c.Processing.NumCores)
	}
	if _, err := midline.ParseInterpolation(c.Processing.Interpolation); err != nil {
		return fmt.Errorf("processing: %w", err)
	}
	if !c.Scan.Axes.Valid() {
		return fmt.Errorf("scan axes %v are not a permutation of 0, 1, 2", c.Scan.Axes)
	}
	if !c.Atlas.Axes.Valid() {
		return fmt.Errorf("atlas axes %v are not a permutation of 0, 1, 2", c.Atlas.Axes)
	}
	for i := 0; i < 3; i++ {
		if c.Scan.Spacing[i] <= 0 || c.Atlas.Spacing[i] <= 0 {
			return fmt.Errorf("grid spacing must be positive")
		}
	}
	if c.Midline.MinEigenRatio <= 0 {
		return fmt.Errorf("minEigenRatio must be positive, got %g", c.Midline.MinEigenRatio)
	}
	t := c.Registration.Thresholds
	if !(t.Excellent > 0 && t.Excellent <= t.Good && t.Good <= t.MaxAcceptable) {
		return fmt.Errorf("registration thresholds must satisfy 0 < excellent <= good <= maxAcceptable")
	}
	if err := c.Budget().Validate(); err != nil {
		return fmt.Errorf("refinement: %w", err)
	}
	if c.Refinement.Bins < 2 {
		return fmt.Errorf("refinement bins must be at least 2, got %d", c.Refinement.Bins)
	}
	switch c.Fibers.Space {
	case pipeline.SpaceScan, pipeline.SpaceAligned, pipeline.SpaceCCF:
	default:
		return fmt.Errorf("fiber space must be %s, %s or %s, got %q",
			pipeline.SpaceScan, pipeline.SpaceAligned, pipeline.SpaceCCF, c.Fibers.Space)
	}
	if c.Refinement.SamplingPercentage <= 0 || c.Refinement.SamplingPercentage > 1 {
		return fmt.Errorf("samplingPercentage must be in (0, 1], got %g", c.Refinement.SamplingPercentage)
	}
	return nil
}

// Budget returns the refinement iteration budget
func (c *Config) Budget() refine.Budget {
	return refine.Budget{
		MaxIterations: c.Refinement.MaxIterations,
		Tolerance:     c.Refinement.Tolerance,
	}
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
