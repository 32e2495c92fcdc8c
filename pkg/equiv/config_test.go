package equiv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==================== 配置测试 ====================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.GetComparisonTimeoutDuration())
	assert.Equal(t, "relative", cfg.AddressPolicy)
	assert.Equal(t, DefaultWeights(), cfg.weights())
}

func TestMergeWithDefaults(t *testing.T) {
	cfg := &Config{Workers: 2, Weights: WeightConfig{ControlFlow: 1}}
	cfg.MergeWithDefaults()

	assert.Equal(t, 2, cfg.Workers, "explicit values are kept")
	assert.Equal(t, "2s", cfg.ComparisonTimeout)
	assert.Equal(t, 0.9, cfg.Thresholds.Equivalent)
	assert.Equal(t, 1.0, cfg.Weights.ControlFlow)
	assert.Equal(t, 0.0, cfg.Weights.Memory, "partially set weights are not mixed with defaults")
	assert.Equal(t, "none", cfg.Oracle.Strategy)
	assert.Equal(t, 4096, cfg.Cache.Size)
}

func TestMergeWithDefaults_Thresholds(t *testing.T) {
	cfg := &Config{Thresholds: ThresholdConfig{Equivalent: 0.8}}
	cfg.MergeWithDefaults()
	assert.Equal(t, 0.8, cfg.Thresholds.Equivalent)
	assert.Equal(t, 0.0, cfg.Thresholds.NotEquivalent, "a zero lower threshold is kept")
	require.NoError(t, cfg.Validate())

	empty := &Config{}
	empty.MergeWithDefaults()
	assert.Equal(t, DefaultConfig().Thresholds, empty.Thresholds)
}

func TestGetComparisonTimeoutDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ComparisonTimeout = "150ms"
	assert.Equal(t, 150*time.Millisecond, cfg.GetComparisonTimeoutDuration())

	cfg.ComparisonTimeout = "soon"
	assert.Equal(t, 2*time.Second, cfg.GetComparisonTimeoutDuration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"bad timeout", func(c *Config) { c.ComparisonTimeout = "later" }},
		{"bad policy", func(c *Config) { c.AddressPolicy = "physical" }},
		{"inverted thresholds", func(c *Config) { c.Thresholds.NotEquivalent = 0.95 }},
		{"negative weight", func(c *Config) { c.Weights.Memory = -0.1 }},
		{"unknown oracle", func(c *Config) { c.Oracle.Strategy = "coin" }},
		{"empty cache", func(c *Config) { c.Cache.Size = -1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`checker:
  workers: 3
  address_policy: absolute
  oracle:
    strategy: none
  thresholds:
    equivalent: 0.85
    not_equivalent: 0
  weights:
    control_flow: 0.5
    memory: 0.25
    transform: 0.25
`), 0o644))

	cfg, err := LoadConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "absolute", cfg.AddressPolicy)
	assert.Equal(t, "none", cfg.Oracle.Strategy)
	assert.Equal(t, 512, cfg.Oracle.MaxSamples, "unset fields keep defaults")
	assert.Equal(t, 0.5, cfg.Weights.ControlFlow)
	assert.Equal(t, ThresholdConfig{Equivalent: 0.85}, cfg.Thresholds)
	assert.True(t, cfg.Cache.Enabled)

	require.NoError(t, os.WriteFile(file, []byte("checker:\n  address_policy: diagonal\n"), 0o644))
	_, err = LoadConfig(file)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
