package equiv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"pathequiv/pkg/symbolic"
)

// pairKey 缓存键: 两条路径的指纹
type pairKey struct {
	a, b common.Hash
}

// Comparator 分层路径比较器
// 可以被多个goroutine同时使用
type Comparator struct {
	memory        *MemoryComparator
	weights       Weights
	ignoreOutputs bool
	timeout       time.Duration

	oracle    symbolic.Oracle
	oracleSet bool
	logger    *zap.Logger
	metrics   *Metrics
	cache     *lru.Cache[pairKey, EquivalenceVerdict]
}

// Option 比较器选项
type Option func(*Comparator)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Comparator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithOracle 替换配置生成的判定器, 传入nil关闭判定器
func WithOracle(oracle symbolic.Oracle) Option {
	return func(c *Comparator) {
		c.oracle = oracle
		c.oracleSet = true
	}
}

// WithMetrics 设置指标
func WithMetrics(m *Metrics) Option {
	return func(c *Comparator) { c.metrics = m }
}

// NewComparator 按配置创建比较器
func NewComparator(cfg *Config, opts ...Option) (*Comparator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.MergeWithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Comparator{
		memory: NewMemoryComparatorWithThresholds(symbolic.AddressPolicy(cfg.AddressPolicy),
			cfg.Thresholds.Equivalent, cfg.Thresholds.NotEquivalent),
		weights:       cfg.weights(),
		ignoreOutputs: cfg.IgnoreOutputs,
		timeout:       cfg.GetComparisonTimeoutDuration(),
		logger:        zap.NewNop(),
	}

	// 先应用选项以便判定器初始化使用调用方的日志
	for _, opt := range opts {
		opt(c)
	}
	if !c.oracleSet {
		oracle, err := symbolic.NewOracle(cfg.Oracle.Strategy, cfg.Oracle.MaxSamples, c.timeout, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create oracle: %w", err)
		}
		c.oracle = oracle
	}

	if cfg.Cache.Enabled {
		cache, err := lru.New[pairKey, EquivalenceVerdict](cfg.Cache.Size)
		if err != nil {
			return nil, fmt.Errorf("failed to create comparison cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// OracleName 当前判定器名称, 未启用时为none
func (c *Comparator) OracleName() string {
	if c.oracle == nil {
		return symbolic.StrategyNone
	}
	return c.oracle.Name()
}

// Compare 比较两条路径
// 三层结构比较无法给出结论时才调用判定器
func (c *Comparator) Compare(ctx context.Context, a, b *symbolic.Path) EquivalenceVerdict {
	start := time.Now()
	key := pairKey{a: a.Signature().Fingerprint, b: b.Signature().Fingerprint}
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			c.metrics.observeCache(true)
			c.metrics.observeComparison(v, time.Since(start))
			return cloneVerdict(v)
		}
		c.metrics.observeCache(false)
	}

	v := Aggregate(
		CompareControlFlow(a, b),
		c.memory.Compare(a, b),
		CompareTransforms(a, b),
		c.weights,
	)

	cacheable := true
	switch {
	case !c.ignoreOutputs && outputsDiffer(a, b):
		if v.Verdict != NotEquivalent {
			v.Verdict = Unknown
			v.Confidence *= 0.5
		}
		v.Notes = append(v.Notes, fmt.Sprintf("observed outputs differ: %s vs %s", a.Output, b.Output))
	case v.Verdict == Unknown && c.oracle != nil:
		cacheable = c.consultOracle(ctx, a, b, &v)
	}

	if cacheable && c.cache != nil {
		c.cache.Add(key, cloneVerdict(v))
	}
	c.metrics.observeComparison(v, time.Since(start))
	return v
}

// sampledConfidenceCap 采样判定器给出等价结论时的置信度上限
const sampledConfidenceCap = 0.6

// consultOracle 用判定器打破平局, 返回结果是否可以缓存
func (c *Comparator) consultOracle(ctx context.Context, a, b *symbolic.Path, v *EquivalenceVerdict) bool {
	name := c.oracle.Name()
	v.Oracle = name

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type answer struct {
		ok  bool
		err error
	}
	done := make(chan answer, 1)
	go func() {
		ok, err := c.oracle.Equisatisfiable(ctx, a, b)
		done <- answer{ok: ok, err: err}
	}()

	var res answer
	select {
	case res = <-done:
	case <-ctx.Done():
		res = answer{err: ctx.Err()}
	}

	switch {
	case res.err == nil && res.ok && name == symbolic.StrategySampling:
		// 采样一致只说明样本内没有反例
		c.metrics.observeOracle(name, "sampled")
		v.Verdict = Equivalent
		v.Confidence = min(clamp01(weightedScore(v.Layers, c.weights)), sampledConfidenceCap)
		v.Notes = append(v.Notes, fmt.Sprintf("oracle %s: %v, equivalence not proven", name, symbolic.ErrNoCounterexample))
	case res.err == nil && res.ok:
		c.metrics.observeOracle(name, "equisatisfiable")
		v.Verdict = Equivalent
		v.Confidence = clamp01(weightedScore(v.Layers, c.weights))
		v.Notes = append(v.Notes, fmt.Sprintf("oracle %s: constraint sets are equisatisfiable", name))
	case res.err == nil:
		c.metrics.observeOracle(name, "distinct")
		v.Verdict = NotEquivalent
		var unknown float64
		for _, lr := range v.Layers {
			if lr.Verdict == Unknown {
				unknown = max(unknown, c.weights.Of(lr.Layer))
			}
		}
		v.Confidence = clamp01(1 - unknown/c.weights.Sum())
		v.Notes = append(v.Notes, fmt.Sprintf("oracle %s: found an input separating the paths", name))
	case errors.Is(res.err, context.DeadlineExceeded):
		c.metrics.observeOracle(name, "timeout")
		v.TimedOut = true
		v.Notes = append(v.Notes, fmt.Sprintf("oracle %s: %v after %s", name, ErrComparisonTimeout, c.timeout))
		c.logger.Debug("[Comparator] oracle timed out",
			zap.String("a", a.Label()), zap.String("b", b.Label()), zap.Duration("timeout", c.timeout))
		return false
	case errors.Is(res.err, context.Canceled):
		c.metrics.observeOracle(name, "cancelled")
		v.Notes = append(v.Notes, fmt.Sprintf("oracle %s: cancelled", name))
		return false
	default:
		c.metrics.observeOracle(name, "error")
		v.Notes = append(v.Notes, fmt.Sprintf("oracle %s: %v", name, res.err))
		c.logger.Debug("[Comparator] oracle inconclusive",
			zap.String("a", a.Label()), zap.String("b", b.Label()), zap.Error(res.err))
	}
	return true
}

func outputsDiffer(a, b *symbolic.Path) bool {
	if a.Output.IsZero() || b.Output.IsZero() {
		return false
	}
	return !a.Output.Equal(b.Output)
}

// cloneVerdict 复制结果, 避免调用方与缓存共享Notes
func cloneVerdict(v EquivalenceVerdict) EquivalenceVerdict {
	if v.Notes != nil {
		v.Notes = append([]string(nil), v.Notes...)
	}
	return v
}
