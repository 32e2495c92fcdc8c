package equiv

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pathequiv/pkg/symbolic"
)

// UnavailableError 某一侧程序没有任何可用路径, 该次程序比较无法进行
type UnavailableError struct {
	Side    string // "A" 或 "B"
	Program string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("program %s (%s): no paths available: %v", e.Side, e.Program, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// FileError 报告中记录的被排除文件
type FileError struct {
	Side    string `json:"side" yaml:"side"`
	File    string `json:"file" yaml:"file"`
	Line    int    `json:"line,omitempty" yaml:"line,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// Report 一次程序对比较的完整结果
type Report struct {
	ID            string           `json:"id" yaml:"id"`
	ProgramA      string           `json:"program_a" yaml:"program_a"`
	ProgramB      string           `json:"program_b" yaml:"program_b"`
	PathsA        int              `json:"paths_a" yaml:"paths_a"`
	PathsB        int              `json:"paths_b" yaml:"paths_b"`
	Summary       ProgramSummary   `json:"summary" yaml:"summary"`
	Pairs         []PathPairResult `json:"pairs" yaml:"pairs"`
	ParseErrors   []FileError      `json:"parse_errors,omitempty" yaml:"parse_errors,omitempty"`
	AddressPolicy string           `json:"address_policy" yaml:"address_policy"`
	Oracle        string           `json:"oracle" yaml:"oracle"`
	StartedAt     time.Time        `json:"started_at" yaml:"started_at"`
	Duration      time.Duration    `json:"duration_ns" yaml:"duration_ns"`
}

// Checker 程序级等价性检查入口
type Checker struct {
	cfg        *Config
	comparator *Comparator
	matcher    *Matcher
	logger     *zap.Logger
	metrics    *Metrics
}

// NewChecker 创建检查器, 选项传递给内部的比较器
func NewChecker(cfg *Config, opts ...Option) (*Checker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	comparator, err := NewComparator(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Checker{
		cfg:        cfg,
		comparator: comparator,
		matcher:    NewMatcher(comparator, cfg.Workers, comparator.logger),
		logger:     comparator.logger,
		metrics:    comparator.metrics,
	}, nil
}

// Comparator 返回内部的路径比较器
func (c *Checker) Comparator() *Comparator { return c.comparator }

// CompareDirs 加载两个目录的路径文件并比较
// 任一侧没有可用路径时返回 *UnavailableError;
// 加载期间被取消时返回基于已加载部分的不完整报告
func (c *Checker) CompareDirs(ctx context.Context, dirA, dirB string) (*Report, error) {
	var setA, setB *symbolic.PathSet

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		setA, err = c.load(gctx, "A", dirA)
		return err
	})
	g.Go(func() error {
		var err error
		setB, err = c.load(gctx, "B", dirB)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
			return nil, err
		}
		c.logger.Warn("[Checker] loading cancelled",
			zap.Bool("loaded_a", setA != nil), zap.Bool("loaded_b", setB != nil), zap.Error(err))
		if setA == nil {
			setA = emptySet(dirA)
		}
		if setB == nil {
			setB = emptySet(dirB)
		}
	}
	return c.CompareSets(ctx, setA, setB), nil
}

func emptySet(dir string) *symbolic.PathSet {
	return &symbolic.PathSet{Program: filepath.Base(filepath.Clean(dir)), Dir: dir}
}

func (c *Checker) load(ctx context.Context, side, dir string) (*symbolic.PathSet, error) {
	set, err := symbolic.LoadDir(ctx, dir, symbolic.LoadOptions{
		Workers: c.cfg.Workers,
		Pattern: c.cfg.FilePattern,
		Logger:  c.logger,
	})
	if set != nil {
		c.metrics.observeParseErrors(len(set.Errors))
	}
	if err == nil {
		return set, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	program := dir
	if set != nil {
		program = set.Program
	}
	c.logger.Error("[Checker] program unavailable", zap.String("side", side), zap.String("dir", dir), zap.Error(err))
	return nil, &UnavailableError{Side: side, Program: program, Err: err}
}

// CompareSets 比较两组已加载的路径
func (c *Checker) CompareSets(ctx context.Context, a, b *symbolic.PathSet) *Report {
	start := time.Now()
	c.logger.Info("[Checker] comparing programs",
		zap.String("a", a.Program), zap.Int("paths_a", len(a.Paths)),
		zap.String("b", b.Program), zap.Int("paths_b", len(b.Paths)))

	match := c.matcher.Match(ctx, a.Paths, b.Paths)
	summary := VerdictForProgram(match.Pairs, match.Incomplete || ctx.Err() != nil)
	c.metrics.observeProgram(summary.Verdict)

	report := &Report{
		ID:            reportID(a, b, c.cfg.AddressPolicy),
		ProgramA:      a.Program,
		ProgramB:      b.Program,
		PathsA:        len(a.Paths),
		PathsB:        len(b.Paths),
		Summary:       summary,
		Pairs:         match.Pairs,
		ParseErrors:   append(fileErrors("A", a.Errors), fileErrors("B", b.Errors)...),
		AddressPolicy: c.cfg.AddressPolicy,
		Oracle:        c.comparator.OracleName(),
		StartedAt:     start,
		Duration:      time.Since(start),
	}

	c.logger.Info("[Checker] comparison finished",
		zap.String("verdict", summary.Verdict.String()),
		zap.Int("equivalent", summary.EquivalentPairs),
		zap.Int("not_equivalent", summary.NotEquivalentPairs),
		zap.Int("partial", summary.PartialPairs),
		zap.Int("unmatched", summary.UnmatchedCount),
		zap.Bool("incomplete", summary.Incomplete),
		zap.Duration("elapsed", report.Duration))
	return report
}

// ComparePaths 比较单对路径
func (c *Checker) ComparePaths(ctx context.Context, a, b *symbolic.Path) EquivalenceVerdict {
	return c.comparator.Compare(ctx, a, b)
}

// ComparePair 比较单对路径并生成只含这一对的报告
func (c *Checker) ComparePair(ctx context.Context, a, b *symbolic.Path) *Report {
	start := time.Now()
	pairs := []PathPairResult{{A: refOf(a), B: refOf(b), Result: c.comparator.Compare(ctx, a, b)}}
	setA := &symbolic.PathSet{Program: a.Name, Paths: []*symbolic.Path{a}, Files: 1}
	setB := &symbolic.PathSet{Program: b.Name, Paths: []*symbolic.Path{b}, Files: 1}
	return &Report{
		ID:            reportID(setA, setB, c.cfg.AddressPolicy),
		ProgramA:      a.Name,
		ProgramB:      b.Name,
		PathsA:        1,
		PathsB:        1,
		Summary:       VerdictForProgram(pairs, ctx.Err() != nil),
		Pairs:         pairs,
		AddressPolicy: c.cfg.AddressPolicy,
		Oracle:        c.comparator.OracleName(),
		StartedAt:     start,
		Duration:      time.Since(start),
	}
}

func fileErrors(side string, errs []*symbolic.ParseError) []FileError {
	out := make([]FileError, 0, len(errs))
	for _, e := range errs {
		out = append(out, FileError{Side: side, File: e.File, Line: e.Line, Message: e.Msg})
	}
	return out
}

// reportID 由两侧路径指纹和地址策略决定, 相同输入得到相同ID
func reportID(a, b *symbolic.PathSet, policy string) string {
	var data [][]byte
	for _, set := range []*symbolic.PathSet{a, b} {
		data = append(data, []byte(set.Program))
		for _, p := range set.Paths {
			fp := p.Signature().Fingerprint
			data = append(data, fp.Bytes())
		}
		data = append(data, []byte{0})
	}
	data = append(data, []byte(policy))
	return crypto.Keccak256Hash(data...).Hex()[2:18]
}
