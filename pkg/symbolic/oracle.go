package symbolic

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"
)

// Oracle 判断两条路径的约束集合是否等可满足
// 即在位置对应的变量映射下, 不存在使一方成立另一方不成立的赋值
type Oracle interface {
	Equisatisfiable(ctx context.Context, a, b *Path) (bool, error)
	Name() string
}

// 判定策略
const (
	StrategyNone     = "none"
	StrategySampling = "sampling"
	StrategyZ3       = "z3"
	StrategyHybrid   = "hybrid"
)

var (
	// ErrArityMismatch 两条路径的输入变量无法一一对应
	ErrArityMismatch = errors.New("input arity mismatch")
	// ErrOracleUnsupported 约束含有判定器无法编码的运算
	ErrOracleUnsupported = errors.New("constraints cannot be encoded")
	// ErrNoCounterexample 采样没有找到区分赋值, 不构成等价证明
	ErrNoCounterexample = errors.New("no separating input among the sampled values")
)

// NewOracle 按策略创建判定器
// z3不可用时回退到采样判定器; strategy为none时返回nil
func NewOracle(strategy string, maxSamples int, timeout time.Duration, logger *zap.Logger) (Oracle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sampling := NewSamplingOracle(maxSamples)

	switch strategy {
	case "", StrategyNone:
		return nil, nil
	case StrategySampling:
		return sampling, nil
	case StrategyZ3, StrategyHybrid:
		z3Oracle, err := NewZ3Oracle(timeout)
		if err != nil {
			logger.Warn("[Oracle] z3 unavailable, falling back to sampling", zap.Error(err))
			return sampling, nil
		}
		logger.Info("[Oracle] z3 oracle initialized", zap.String("strategy", strategy))
		if strategy == StrategyZ3 {
			return z3Oracle, nil
		}
		return &HybridOracle{primary: z3Oracle, fallback: sampling, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown oracle strategy %q", strategy)
	}
}

// HybridOracle 优先使用z3, 无法编码时改用采样
type HybridOracle struct {
	primary  Oracle
	fallback Oracle
	logger   *zap.Logger
}

func (h *HybridOracle) Name() string { return StrategyHybrid }

func (h *HybridOracle) Equisatisfiable(ctx context.Context, a, b *Path) (bool, error) {
	ok, err := h.primary.Equisatisfiable(ctx, a, b)
	if err == nil || ctx.Err() != nil {
		return ok, err
	}
	h.logger.Debug("[Oracle] primary failed, falling back",
		zap.String("primary", h.primary.Name()), zap.Error(err))
	ok, err = h.fallback.Equisatisfiable(ctx, a, b)
	if err == nil && ok {
		// 采样只能给出反例, 不能证明等价
		return false, fmt.Errorf("%s fallback: %w", h.fallback.Name(), ErrNoCounterexample)
	}
	return ok, err
}

// unifiedSymbol 两条路径中对应同一取值的符号
type unifiedSymbol struct {
	width      uint
	namesA     []string
	namesB     []string
	candidates []*uint256.Int
}

// unifySymbols 建立变量映射: 输入按声明位置, 内存按 (基址序号, 偏移, 轮次)
func unifySymbols(a, b *Path) ([]*unifiedSymbol, error) {
	inA, inB := a.Inputs(), b.Inputs()
	if len(inA) != len(inB) {
		return nil, fmt.Errorf("%w: %d vs %d", ErrArityMismatch, len(inA), len(inB))
	}

	var symbols []*unifiedSymbol
	for i := range inA {
		if inA[i].Width != inB[i].Width {
			return nil, fmt.Errorf("%w: input #%d width %d vs %d", ErrArityMismatch, i, inA[i].Width, inB[i].Width)
		}
		symbols = append(symbols, &unifiedSymbol{
			width:  inA[i].Width,
			namesA: []string{inA[i].Name},
			namesB: []string{inB[i].Name},
		})
	}

	type memKey struct {
		base   int
		offset uint64
		epoch  int
		width  uint
	}
	byKey := make(map[memKey]*unifiedSymbol)
	collect := func(p *Path, sideA bool) {
		baseIDs := make(map[string]int)
		lowest := make(map[string]uint64)
		for _, loc := range p.Memory {
			if _, ok := baseIDs[loc.Base]; !ok {
				baseIDs[loc.Base] = len(baseIDs)
			}
			if low, ok := lowest[loc.Base]; !ok || loc.Address < low {
				lowest[loc.Base] = loc.Address
			}
		}
		seen := make(map[string]bool)
		for _, loc := range p.Memory {
			if seen[loc.Name] {
				continue
			}
			seen[loc.Name] = true
			key := memKey{base: baseIDs[loc.Base], offset: loc.Address - lowest[loc.Base], epoch: loc.Epoch, width: loc.Width}
			sym, ok := byKey[key]
			if !ok || (sideA && len(sym.namesA) > 0) || (!sideA && len(sym.namesB) > 0) {
				sym = &unifiedSymbol{width: loc.Width}
				byKey[key] = sym
				symbols = append(symbols, sym)
			}
			if sideA {
				sym.namesA = append(sym.namesA, loc.Name)
			} else {
				sym.namesB = append(sym.namesB, loc.Name)
			}
		}
	}
	collect(a, true)
	collect(b, false)

	return symbols, nil
}

// SamplingOracle 在确定性的边界取值样本上同时求值两组约束
// 任一样本上结果不同即为反例; 全部一致时视为等可满足
type SamplingOracle struct {
	maxSamples int
}

// NewSamplingOracle 创建采样判定器
func NewSamplingOracle(maxSamples int) *SamplingOracle {
	if maxSamples <= 0 {
		maxSamples = 512
	}
	return &SamplingOracle{maxSamples: maxSamples}
}

func (o *SamplingOracle) Name() string { return StrategySampling }

// maxCandidates 每个符号的候选值上限
const maxCandidates = 64

func (o *SamplingOracle) Equisatisfiable(ctx context.Context, a, b *Path) (bool, error) {
	symbols, err := unifySymbols(a, b)
	if err != nil {
		return false, err
	}
	o.seedCandidates(symbols, a, b)

	envA, envB := make(Assignment), make(Assignment)
	assign := func(choice []int) {
		for i, sym := range symbols {
			v := sym.candidates[choice[i]]
			for _, name := range sym.namesA {
				envA[name] = v
			}
			for _, name := range sym.namesB {
				envB[name] = v
			}
		}
	}

	samples := sampleChoices(symbols, o.maxSamples)
	for n, choice := range samples {
		if n%64 == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}
		assign(choice)
		okA, err := EvaluateAll(a.Constraints, envA)
		if err != nil {
			return false, fmt.Errorf("%s: %w", a.Label(), errors.Join(ErrOracleUnsupported, err))
		}
		okB, err := EvaluateAll(b.Constraints, envB)
		if err != nil {
			return false, fmt.Errorf("%s: %w", b.Label(), errors.Join(ErrOracleUnsupported, err))
		}
		if okA != okB {
			return false, nil
		}
	}
	return true, nil
}

// seedCandidates 候选值: 0, 1, 最大值, 有符号极值, 域边界以及约束中出现的常量±1
func (o *SamplingOracle) seedCandidates(symbols []*unifiedSymbol, a, b *Path) {
	literals := make(map[uint][]*uint256.Int)
	for _, p := range []*Path{a, b} {
		for _, c := range p.Constraints {
			Walk(c.Expr, func(node, _ Expr, _ int) bool {
				if lit, ok := node.(*Literal); ok {
					literals[lit.Bits] = append(literals[lit.Bits], lit.Value.Clone())
				}
				return true
			})
		}
	}

	domainsA, domainsB := a.Signature().Domains, b.Signature().Domains
	one := uint256.NewInt(1)

	for i, sym := range symbols {
		mask := Mask(sym.width)
		half := new(uint256.Int).Lsh(one, sym.width-1)
		values := []*uint256.Int{
			new(uint256.Int),
			uint256.NewInt(1),
			mask.Clone(),
			half.Clone(),
			new(uint256.Int).Sub(half, one),
		}
		if i < len(domainsA) && i < len(domainsB) {
			values = append(values, domainsA[i].Boundaries()...)
			values = append(values, domainsB[i].Boundaries()...)
		}
		for _, lit := range literals[sym.width] {
			values = append(values, lit,
				new(uint256.Int).Add(lit, one),
				new(uint256.Int).Sub(lit, one))
		}
		sym.candidates = dedupeCandidates(values, mask)
	}
}

func dedupeCandidates(values []*uint256.Int, mask *uint256.Int) []*uint256.Int {
	seen := make(map[uint256.Int]bool, len(values))
	out := make([]*uint256.Int, 0, len(values))
	for _, v := range values {
		m := new(uint256.Int).And(v, mask)
		if seen[*m] {
			continue
		}
		seen[*m] = true
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lt(out[j]) })
	if len(out) > maxCandidates {
		// 保留两端, 均匀抽取中间部分
		step := float64(len(out)-1) / float64(maxCandidates-1)
		thinned := make([]*uint256.Int, maxCandidates)
		for i := range thinned {
			thinned[i] = out[int(float64(i)*step+0.5)]
		}
		out = thinned
	}
	return out
}

// sampleChoices 生成候选值下标组合
// 组合总数不超过上限时完全枚举, 否则先取对角线再用固定种子随机补足
func sampleChoices(symbols []*unifiedSymbol, limit int) [][]int {
	if len(symbols) == 0 {
		return [][]int{{}}
	}

	total := 1
	for _, sym := range symbols {
		total *= len(sym.candidates)
		if total > limit {
			break
		}
	}

	var out [][]int
	if total <= limit {
		choice := make([]int, len(symbols))
		for {
			out = append(out, append([]int(nil), choice...))
			i := 0
			for ; i < len(symbols); i++ {
				choice[i]++
				if choice[i] < len(symbols[i].candidates) {
					break
				}
				choice[i] = 0
			}
			if i == len(symbols) {
				return out
			}
		}
	}

	longest := 0
	for _, sym := range symbols {
		if len(sym.candidates) > longest {
			longest = len(sym.candidates)
		}
	}
	for j := 0; j < longest && len(out) < limit; j++ {
		choice := make([]int, len(symbols))
		for i, sym := range symbols {
			choice[i] = j % len(sym.candidates)
		}
		out = append(out, choice)
	}

	rng := rand.New(rand.NewSource(int64(len(symbols))*7919 + int64(limit)))
	for len(out) < limit {
		choice := make([]int, len(symbols))
		for i, sym := range symbols {
			choice[i] = rng.Intn(len(sym.candidates))
		}
		out = append(out, choice)
	}
	return out
}
