// Package config provides configuration loading and management for ffdreg.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"ffdreg/pkg/histogram"
	"ffdreg/pkg/optimizer"
	"ffdreg/pkg/registration"
	"ffdreg/pkg/transform"
)

// Config represents the registration configuration loaded from a file
type Config struct {
	// Pyramid and optimizer parameters
	Optimization struct {
		// Levels is the number of resolution levels, coarsest first
		Levels int `yaml:"levels" toml:"levels"`

		// Steps is the number of step sizes per level
		Steps int `yaml:"steps" toml:"steps"`

		// StepSize is the base step in voxels
		StepSize float64 `yaml:"stepsize" toml:"stepsize"`

		// Iterations bounds optimizer iterations per step
		Iterations int `yaml:"iterations" toml:"iterations"`

		// Tolerance stops an optimizer call when improvement falls below it
		Tolerance float64 `yaml:"tolerance" toml:"tolerance"`

		// Method is "gradient" or "conjugate"
		Method string `yaml:"optimization" toml:"optimization"`

		// Resolution scales the finest level spacing
		Resolution float64 `yaml:"resolution" toml:"resolution"`
	} `yaml:"optimization" toml:"optimization"`

	// Similarity parameters
	Similarity struct {
		// Metric is one of ssd, cc, cr, mi, nmi
		Metric string `yaml:"metric" toml:"metric"`

		// NumBins is the number of histogram bins per image
		NumBins int `yaml:"numbins" toml:"numbins"`

		// Weights is 0 (none), 1 (reference) or 2 (reference and target)
		Weights int `yaml:"weights" toml:"weights"`
	} `yaml:"similarity" toml:"similarity"`

	// Grid parameters
	Grid struct {
		// CPS is the control point spacing in mm
		CPS float64 `yaml:"cps" toml:"cps"`

		// CPSRate is the growth of the spacing per coarser level
		CPSRate float64 `yaml:"cpsrate" toml:"cpsrate"`

		// Lambda weighs the bending energy
		Lambda float64 `yaml:"lambda" toml:"lambda"`

		// WindowSize scales the support used for gradient evaluation
		WindowSize float64 `yaml:"windowsize" toml:"windowsize"`

		// AppendMode keeps one grid per level; absent means true
		AppendMode *bool `yaml:"appendmode,omitempty" toml:"appendmode,omitempty"`
	} `yaml:"grid" toml:"grid"`

	// Initial is an optional affine starting transformation
	Initial *struct {
		Translation [3]float64 `yaml:"translation" toml:"translation"`
		Rotation    [3]float64 `yaml:"rotation" toml:"rotation"`
		Scale       [3]float64 `yaml:"scale" toml:"scale"`
	} `yaml:"initial,omitempty" toml:"initial,omitempty"`

	// Output parameters
	Output struct {
		// Verbose enables debug feedback
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	p := registration.DefaultParameters()
	cfg := &Config{}

	cfg.Optimization.Levels = p.Levels
	cfg.Optimization.Steps = p.Steps
	cfg.Optimization.StepSize = p.StepSize
	cfg.Optimization.Iterations = p.Iterations
	cfg.Optimization.Tolerance = p.Tolerance
	cfg.Optimization.Method = "conjugate"
	cfg.Optimization.Resolution = p.Resolution

	cfg.Similarity.Metric = p.Metric.String()
	cfg.Similarity.NumBins = p.NumBins
	cfg.Similarity.Weights = int(p.WeightMode)

	cfg.Grid.CPS = p.CPS
	cfg.Grid.CPSRate = p.CPSRate
	cfg.Grid.Lambda = p.Lambda
	cfg.Grid.WindowSize = p.WindowSize
	appendMode := p.AppendMode
	cfg.Grid.AppendMode = &appendMode

	cfg.Output.Verbose = false

	return cfg
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML or TOML file, chosen by extension
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	var err error
	if isTOML(configPath) {
		var sb strings.Builder
		err = toml.NewEncoder(&sb).Encode(cfg)
		data = []byte(sb.String())
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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

// Parameters converts the configuration into registration parameters. Numeric values are
// passed through unclamped; registration clamps them when it runs. An unknown metric or
// optimization name is an error.
func (c *Config) Parameters() (registration.Parameters, error) {
	p := registration.DefaultParameters()

	p.Levels = c.Optimization.Levels
	p.Steps = c.Optimization.Steps
	p.StepSize = c.Optimization.StepSize
	p.Iterations = c.Optimization.Iterations
	p.Tolerance = c.Optimization.Tolerance
	p.Resolution = c.Optimization.Resolution
	switch strings.ToLower(c.Optimization.Method) {
	case "gradient", "gradientdescent":
		p.Optimization = optimizer.GradientDescent
	case "", "conjugate", "conjugategradient":
		p.Optimization = optimizer.ConjugateGradient
	default:
		return p, fmt.Errorf("unknown optimization %q", c.Optimization.Method)
	}

	if c.Similarity.Metric != "" {
		m, err := histogram.ParseMetric(c.Similarity.Metric)
		if err != nil {
			return p, err
		}
		p.Metric = m
	}
	p.NumBins = c.Similarity.NumBins
	p.WeightMode = histogram.WeightMode(c.Similarity.Weights)

	p.CPS = c.Grid.CPS
	p.CPSRate = c.Grid.CPSRate
	p.Lambda = c.Grid.Lambda
	p.WindowSize = c.Grid.WindowSize
	if c.Grid.AppendMode != nil {
		p.AppendMode = *c.Grid.AppendMode
	}
	return p, nil
}

// InitialTransformation returns the configured affine start, or nil when none is given.
func (c *Config) InitialTransformation() transform.Transformation {
	if c.Initial == nil {
		return nil
	}
	return transform.NewAffine(c.Initial.Translation, c.Initial.Rotation, c.Initial.Scale)
}

// Logger returns a registration feedback logger writing to w. Verbose output adds the
// per-step debug messages.
func (c *Config) Logger(w io.Writer) *log.Logger {
	level := log.InfoLevel
	if c.Output.Verbose {
		level = log.DebugLevel
	}
	return registration.NewLogger(w, level)
}
