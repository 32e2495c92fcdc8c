package equiv

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"pathequiv/pkg/symbolic"
)

// Config 等价性检查配置
type Config struct {
	Workers           int             `yaml:"workers" json:"workers"`                       // 并发比较的worker数
	ComparisonTimeout string          `yaml:"comparison_timeout" json:"comparison_timeout"` // 单次判定器调用超时 "2s"
	AddressPolicy     string          `yaml:"address_policy" json:"address_policy"`         // "relative", "absolute"
	IgnoreOutputs     bool            `yaml:"ignore_outputs" json:"ignore_outputs"`         // 是否忽略观测输出
	Thresholds        ThresholdConfig `yaml:"thresholds" json:"thresholds"`                 // 第二层判定阈值
	Weights           WeightConfig    `yaml:"weights" json:"weights"`                       // 置信度权重
	Oracle            OracleConfig    `yaml:"oracle" json:"oracle"`                         // 判定器配置
	Cache             CacheConfig     `yaml:"cache" json:"cache"`                           // 比较结果缓存
	FilePattern       string          `yaml:"file_pattern" json:"file_pattern"`             // 路径文件通配符
}

// ThresholdConfig 内存访问相似度阈值
type ThresholdConfig struct {
	Equivalent    float64 `yaml:"equivalent" json:"equivalent"`         // >= 视为等价
	NotEquivalent float64 `yaml:"not_equivalent" json:"not_equivalent"` // <= 视为不等价
}

// WeightConfig 三层的置信度权重
type WeightConfig struct {
	ControlFlow float64 `yaml:"control_flow" json:"control_flow"`
	Memory      float64 `yaml:"memory" json:"memory"`
	Transform   float64 `yaml:"transform" json:"transform"`
}

// OracleConfig 判定器配置
type OracleConfig struct {
	Strategy   string `yaml:"strategy" json:"strategy"`       // "none", "sampling", "z3", "hybrid"
	MaxSamples int    `yaml:"max_samples" json:"max_samples"` // 采样判定器的最大样本数
}

// CacheConfig 比较结果缓存配置
type CacheConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Size    int  `yaml:"size" json:"size"`
}

// fileConfig 配置文件的顶层结构
type fileConfig struct {
	Checker *Config `yaml:"checker"`
}

// ==================== 默认配置 ====================

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:           8,
		ComparisonTimeout: "2s",
		AddressPolicy:     string(symbolic.AddressRelative),
		Thresholds: ThresholdConfig{
			Equivalent:    0.9,
			NotEquivalent: 0.3,
		},
		Weights: WeightConfig{
			ControlFlow: 0.4,
			Memory:      0.35,
			Transform:   0.25,
		},
		Oracle: OracleConfig{
			Strategy:   symbolic.StrategyNone,
			MaxSamples: 512,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    4096,
		},
	}
}

// MergeWithDefaults 零值字段使用默认值
func (c *Config) MergeWithDefaults() {
	defaults := DefaultConfig()

	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.ComparisonTimeout == "" {
		c.ComparisonTimeout = defaults.ComparisonTimeout
	}
	if c.AddressPolicy == "" {
		c.AddressPolicy = defaults.AddressPolicy
	}

	// 阈值整体缺省时才使用默认值, not_equivalent 可以显式设为0
	if c.Thresholds == (ThresholdConfig{}) {
		c.Thresholds = defaults.Thresholds
	}

	if c.Weights == (WeightConfig{}) {
		c.Weights = defaults.Weights
	}

	if c.Oracle.Strategy == "" {
		c.Oracle.Strategy = defaults.Oracle.Strategy
	}
	if c.Oracle.MaxSamples == 0 {
		c.Oracle.MaxSamples = defaults.Oracle.MaxSamples
	}

	if c.Cache.Size == 0 {
		c.Cache.Size = defaults.Cache.Size
	}
}

// GetComparisonTimeoutDuration 解析超时时间字符串
func (c *Config) GetComparisonTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.ComparisonTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Second // 默认2秒
	}
	return d
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if _, err := time.ParseDuration(c.ComparisonTimeout); err != nil {
		return fmt.Errorf("invalid comparison_timeout %q: %w", c.ComparisonTimeout, err)
	}
	if !symbolic.AddressPolicy(c.AddressPolicy).Valid() {
		return fmt.Errorf("invalid address_policy %q (want relative or absolute)", c.AddressPolicy)
	}
	t := c.Thresholds
	if t.NotEquivalent < 0 || t.Equivalent > 1 || t.NotEquivalent >= t.Equivalent {
		return fmt.Errorf("invalid thresholds: need 0 <= not_equivalent < equivalent <= 1, got %.2f/%.2f",
			t.NotEquivalent, t.Equivalent)
	}
	w := c.Weights
	if w.ControlFlow < 0 || w.Memory < 0 || w.Transform < 0 || w.ControlFlow+w.Memory+w.Transform <= 0 {
		return fmt.Errorf("invalid weights: must be non-negative with a positive sum")
	}
	switch c.Oracle.Strategy {
	case symbolic.StrategyNone, symbolic.StrategySampling, symbolic.StrategyZ3, symbolic.StrategyHybrid:
	default:
		return fmt.Errorf("invalid oracle strategy %q", c.Oracle.Strategy)
	}
	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive when the cache is enabled")
	}
	return nil
}

// weights 返回聚合器使用的权重
func (c *Config) weights() Weights {
	return Weights{
		ControlFlow: c.Weights.ControlFlow,
		Memory:      c.Weights.Memory,
		Transform:   c.Weights.Transform,
	}
}

// LoadConfig 从yaml文件加载配置, 未出现的字段保持默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &fileConfig{Checker: cfg}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.MergeWithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
