package equiv

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"pathequiv/pkg/symbolic"
)

// Matcher 在两组路径之间做贪心最大权匹配
type Matcher struct {
	comparator *Comparator
	workers    int
	logger     *zap.Logger
}

// NewMatcher 创建匹配器, workers<=0 时使用CPU数
func NewMatcher(comparator *Comparator, workers int, logger *zap.Logger) *Matcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{comparator: comparator, workers: workers, logger: logger}
}

// MatchResult 匹配结果
type MatchResult struct {
	Pairs      []PathPairResult // 先按A序号排列的匹配对, 再是A侧未匹配, 最后是B侧未匹配
	Scored     int              // 完成比较的路径对数量
	Total      int              // 需要比较的路径对数量
	Incomplete bool             // 比较被取消, 部分路径对没有评分
}

// scoredPair 一对已比较的路径
type scoredPair struct {
	i, j    int
	score   float64
	verdict EquivalenceVerdict
}

// Match 对所有(a, b)路径对并发评分后贪心选择
// 同分时按A序号再按B序号优先; 两次运行结果相同
func (m *Matcher) Match(ctx context.Context, a, b []*symbolic.Path) *MatchResult {
	total := len(a) * len(b)
	scores := m.scoreAll(ctx, a, b)

	candidates := make([]*scoredPair, 0, len(scores))
	for _, sp := range scores {
		if sp != nil {
			candidates = append(candidates, sp)
		}
	}
	sort.Slice(candidates, func(x, y int) bool {
		cx, cy := candidates[x], candidates[y]
		if cx.score != cy.score {
			return cx.score > cy.score
		}
		if a[cx.i].Index != a[cy.i].Index {
			return a[cx.i].Index < a[cy.i].Index
		}
		return b[cx.j].Index < b[cy.j].Index
	})

	usedA := make([]bool, len(a))
	usedB := make([]bool, len(b))
	var matched []*scoredPair
	for _, c := range candidates {
		if len(matched) == min(len(a), len(b)) {
			break
		}
		if usedA[c.i] || usedB[c.j] {
			continue
		}
		usedA[c.i], usedB[c.j] = true, true
		matched = append(matched, c)
	}
	sort.Slice(matched, func(x, y int) bool { return a[matched[x].i].Index < a[matched[y].i].Index })

	result := &MatchResult{
		Scored:     len(candidates),
		Total:      total,
		Incomplete: len(candidates) < total,
	}
	for _, c := range matched {
		result.Pairs = append(result.Pairs, PathPairResult{
			A:      refOf(a[c.i]),
			B:      refOf(b[c.j]),
			Result: c.verdict,
		})
	}
	for _, i := range unused(a, usedA) {
		result.Pairs = append(result.Pairs, unmatchedPair(refOf(a[i]), nil, "no counterpart in program B"))
	}
	for _, j := range unused(b, usedB) {
		result.Pairs = append(result.Pairs, unmatchedPair(nil, refOf(b[j]), "no counterpart in program A"))
	}

	m.logger.Debug("[Matcher] matching finished",
		zap.Int("matched", len(matched)),
		zap.Int("scored", result.Scored),
		zap.Int("total", total),
		zap.Bool("incomplete", result.Incomplete))
	return result
}

// scoreAll 使用worker池比较所有路径对, 未完成的位置为nil
func (m *Matcher) scoreAll(ctx context.Context, a, b []*symbolic.Path) []*scoredPair {
	scores := make([]*scoredPair, len(a)*len(b))
	if len(scores) == 0 {
		return scores
	}

	var wg sync.WaitGroup
	jobs := make(chan int, m.workers*2)
	var scored int32

	for w := 0; w < m.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := range jobs {
				select {
				case <-ctx.Done():
					continue
				default:
				}
				i, j := k/len(b), k%len(b)
				v := m.comparator.Compare(ctx, a[i], b[j])
				if ctx.Err() != nil {
					// 取消后得到的结果不可信
					continue
				}
				// 每个下标只由一个worker写入
				scores[k] = &scoredPair{i: i, j: j, score: MatchScore(v), verdict: v}
				atomic.AddInt32(&scored, 1)
			}
		}()
	}

	// 分发任务
	go func() {
		defer close(jobs)
		for k := range scores {
			select {
			case jobs <- k:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	if n := int(atomic.LoadInt32(&scored)); n < len(scores) {
		m.logger.Warn("[Matcher] comparison cancelled",
			zap.Int("scored", n), zap.Int("total", len(scores)), zap.Error(ctx.Err()))
	}
	return scores
}

func unused(paths []*symbolic.Path, used []bool) []int {
	var idx []int
	for i := range paths {
		if !used[i] {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(x, y int) bool { return paths[idx[x]].Index < paths[idx[y]].Index })
	return idx
}

func unmatchedPair(a, b *PathRef, note string) PathPairResult {
	v := EquivalenceVerdict{Verdict: Unknown, Confidence: 0, Notes: []string{note}}
	for i, l := range symbolic.Layers {
		v.Layers[i] = LayerResult{Layer: l, Verdict: Unknown}
	}
	return PathPairResult{A: a, B: b, Unmatched: true, Result: v}
}
