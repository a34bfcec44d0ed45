package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"ffdreg/pkg/histogram"
	"ffdreg/pkg/optimizer"
	"ffdreg/pkg/registration"
	"ffdreg/pkg/transform"
)

// TestDefaultConfigMatchesParameters verifies that the default file maps onto the default parameters
func TestDefaultConfigMatchesParameters(t *testing.T) {
	p, err := DefaultConfig().Parameters()
	if err != nil {
		t.Fatalf("Parameters failed: %v", err)
	}
	if p != registration.DefaultParameters() {
		t.Errorf("Expected default parameters %+v, got %+v", registration.DefaultParameters(), p)
	}
}

// TestLoadMissingFile verifies that a missing file yields the defaults
func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Similarity.Metric != "nmi" {
		t.Errorf("Expected default metric nmi, got %q", cfg.Similarity.Metric)
	}
	if cfg.Grid.AppendMode == nil || !*cfg.Grid.AppendMode {
		t.Error("Expected append mode to default to true")
	}
}

// TestLoadYAML verifies that values given in YAML override the defaults
func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reg.yaml")
	content := `
optimization:
  levels: 2
  steps: 3
  optimization: gradient
similarity:
  metric: ssd
  numbins: 32
grid:
  cps: 10
  appendmode: false
initial:
  translation: [1, 2, 3]
  rotation: [0, 0, 0]
  scale: [1, 1, 1]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	p, err := cfg.Parameters()
	if err != nil {
		t.Fatalf("Parameters failed: %v", err)
	}

	if p.Levels != 2 || p.Steps != 3 {
		t.Errorf("Expected levels 2 and steps 3, got %d and %d", p.Levels, p.Steps)
	}
	if p.Optimization != optimizer.GradientDescent {
		t.Errorf("Expected gradient descent, got %v", p.Optimization)
	}
	if p.Metric != histogram.SSD || p.NumBins != 32 {
		t.Errorf("Expected ssd with 32 bins, got %v with %d", p.Metric, p.NumBins)
	}
	if p.CPS != 10 || p.AppendMode {
		t.Errorf("Expected cps 10 without append mode, got %f and %v", p.CPS, p.AppendMode)
	}
	// Unset fields keep their defaults
	if p.Iterations != registration.DefaultParameters().Iterations {
		t.Errorf("Expected default iterations, got %d", p.Iterations)
	}

	m, ok := cfg.InitialTransformation().(transform.Matrix)
	if !ok {
		t.Fatal("Expected a matrix initial transformation")
	}
	got := m.TransformPoint(transform.Point{0, 0, 0})
	if got != (transform.Point{1, 2, 3}) {
		t.Errorf("Expected translation (1,2,3), got %v", got)
	}
}

// TestSaveAndLoadTOML verifies that a TOML file round-trips through SaveConfig and LoadConfig
func TestSaveAndLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reg.toml")

	cfg := DefaultConfig()
	cfg.Similarity.Metric = "cc"
	cfg.Grid.Lambda = 0.05
	off := false
	cfg.Grid.AppendMode = &off

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Similarity.Metric != "cc" {
		t.Errorf("Expected metric cc, got %q", loaded.Similarity.Metric)
	}
	if loaded.Grid.Lambda != 0.05 {
		t.Errorf("Expected lambda 0.05, got %f", loaded.Grid.Lambda)
	}
	if loaded.Grid.AppendMode == nil || *loaded.Grid.AppendMode {
		t.Error("Expected append mode false after reload")
	}
	if loaded.InitialTransformation() != nil {
		t.Error("Expected no initial transformation")
	}
}

// TestCreateDefaultConfigFile verifies that the default file can be written and read back
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Optimization.Levels != registration.DefaultParameters().Levels {
		t.Errorf("Expected default levels, got %d", cfg.Optimization.Levels)
	}
}

// TestParametersRejectsUnknownNames verifies the error paths of Parameters
func TestParametersRejectsUnknownNames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Similarity.Metric = "entropy"
	if _, err := cfg.Parameters(); err == nil {
		t.Error("Expected error for unknown metric")
	}

	cfg = DefaultConfig()
	cfg.Optimization.Method = "newton"
	if _, err := cfg.Parameters(); err == nil {
		t.Error("Expected error for unknown optimization")
	}
}

// TestLoadInvalidYAML verifies that a malformed file is reported
func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("optimization: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("Expected parse error")
	}
}

// TestVerboseLogger verifies that the verbose flag selects the logger level
func TestVerboseLogger(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Logger(&bytes.Buffer{}).GetLevel(); got != log.InfoLevel {
		t.Errorf("Expected info level by default, got %v", got)
	}

	path := filepath.Join(t.TempDir(), "verbose.yaml")
	if err := os.WriteFile(path, []byte("output:\n  verbose: true\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	var buf bytes.Buffer
	logger := cfg.Logger(&buf)
	if logger.GetLevel() != log.DebugLevel {
		t.Errorf("Expected debug level when verbose, got %v", logger.GetLevel())
	}
	logger.Debug("step done")
	if !strings.Contains(buf.String(), "step done") {
		t.Errorf("Expected debug output, got %q", buf.String())
	}
}
