package equiv

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pathequiv/pkg/symbolic"
)

// boundedPaths 为每个上界生成一条路径 x <= bound
func boundedPaths(t *testing.T, prefix string, bounds ...int) []*symbolic.Path {
	t.Helper()
	paths := make([]*symbolic.Path, len(bounds))
	for i, bound := range bounds {
		src := decl32 + fmt.Sprintf("(assert (bvule x (_ bv%d 32)))\n", bound)
		paths[i] = mustPath(t, fmt.Sprintf("%s_path_%d", prefix, i+1), src)
	}
	return paths
}

func newTestMatcher(t *testing.T, workers int) *Matcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Cache.Enabled = false
	return NewMatcher(newTestComparator(t, cfg), workers, nil)
}

func TestMatch_ExtraPathUnmatched(t *testing.T) {
	a := boundedPaths(t, "a", 10, 20)
	b := boundedPaths(t, "b", 20, 30, 10)

	result := newTestMatcher(t, 4).Match(context.Background(), a, b)
	require.Len(t, result.Pairs, 3)
	assert.False(t, result.Incomplete)
	assert.Equal(t, 6, result.Scored)
	assert.Equal(t, 6, result.Total)

	// 匹配对按A序号排列
	assert.Equal(t, 1, result.Pairs[0].A.Index)
	assert.Equal(t, 3, result.Pairs[0].B.Index)
	assert.Equal(t, 2, result.Pairs[1].A.Index)
	assert.Equal(t, 1, result.Pairs[1].B.Index)
	for _, p := range result.Pairs[:2] {
		assert.Equal(t, Equivalent, p.Result.Verdict)
		assert.GreaterOrEqual(t, p.Result.Confidence, 0.9)
	}

	unmatched := result.Pairs[2]
	assert.True(t, unmatched.Unmatched)
	assert.Nil(t, unmatched.A)
	assert.Equal(t, 2, unmatched.B.Index)
	assert.Equal(t, Unknown, unmatched.Result.Verdict)
	assert.Equal(t, 0.0, unmatched.Result.Confidence)

	summary := VerdictForProgram(result.Pairs, result.Incomplete)
	assert.Equal(t, ProgramPartiallyEquivalent, summary.Verdict)
	assert.Equal(t, 1, summary.UnmatchedCount)
	assert.Equal(t, 2, summary.EquivalentPairs)
}

func TestMatch_NoDoubleAssignment(t *testing.T) {
	tests := []struct {
		name  string
		a, b  []int
		pairs int
		leftA int
		leftB int
	}{
		{name: "More on A", a: []int{1, 2, 3, 4}, b: []int{2, 3}, pairs: 2, leftA: 2},
		{name: "More on B", a: []int{5}, b: []int{5, 5, 5}, pairs: 1, leftB: 2},
		{name: "All different", a: []int{1, 2, 3}, b: []int{7, 8, 9}, pairs: 3},
		{name: "Empty A", a: nil, b: []int{1, 2}, pairs: 0, leftB: 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := boundedPaths(t, "a", tc.a...)
			b := boundedPaths(t, "b", tc.b...)
			result := newTestMatcher(t, 3).Match(context.Background(), a, b)

			seenA := make(map[int]bool)
			seenB := make(map[int]bool)
			var pairs, leftA, leftB int
			for _, p := range result.Pairs {
				if p.A != nil {
					assert.False(t, seenA[p.A.Index], "path A#%d assigned twice", p.A.Index)
					seenA[p.A.Index] = true
				}
				if p.B != nil {
					assert.False(t, seenB[p.B.Index], "path B#%d assigned twice", p.B.Index)
					seenB[p.B.Index] = true
				}
				switch {
				case !p.Unmatched:
					pairs++
				case p.A != nil:
					leftA++
				default:
					leftB++
				}
			}
			assert.Equal(t, tc.pairs, pairs)
			assert.Equal(t, tc.leftA, leftA)
			assert.Equal(t, tc.leftB, leftB)
			assert.Len(t, seenA, len(a), "every A path is reported")
			assert.Len(t, seenB, len(b), "every B path is reported")
		})
	}
}

func TestMatch_TieBreakByIndex(t *testing.T) {
	a := boundedPaths(t, "a", 10, 10)
	b := boundedPaths(t, "b", 10, 10)

	result := newTestMatcher(t, 2).Match(context.Background(), a, b)
	require.Len(t, result.Pairs, 2)
	assert.Equal(t, [2]int{1, 1}, [2]int{result.Pairs[0].A.Index, result.Pairs[0].B.Index})
	assert.Equal(t, [2]int{2, 2}, [2]int{result.Pairs[1].A.Index, result.Pairs[1].B.Index})
}

func TestMatch_PrefersEquivalentOverUnknown(t *testing.T) {
	// A1 与 B1 内存相似度 2/3 (未知), 与 B2 完全一致
	a := []*symbolic.Path{memoryPath(t, "a_path_1", 0x1000, 0x1004, 0x1008)}
	b := []*symbolic.Path{
		memoryPath(t, "b_path_1", 0x1000, 0x1004),
		memoryPath(t, "b_path_2", 0x2000, 0x2004, 0x2008),
	}

	result := newTestMatcher(t, 2).Match(context.Background(), a, b)
	require.Len(t, result.Pairs, 2)
	assert.Equal(t, 2, result.Pairs[0].B.Index)
	assert.Equal(t, Equivalent, result.Pairs[0].Result.Verdict)
	assert.True(t, result.Pairs[1].Unmatched)
	assert.Equal(t, 1, result.Pairs[1].B.Index)
}

// TestMatch_Idempotent 并发比较不影响匹配结果
func TestMatch_Idempotent(t *testing.T) {
	a := boundedPaths(t, "a", 1, 2, 3, 4, 5, 6, 7, 8)
	b := boundedPaths(t, "b", 8, 7, 6, 5, 40, 30, 20, 10, 2)
	a = append(a, memoryPath(t, "a_path_9", 0x1000, 0x1004, 0x1008))
	b = append(b, memoryPath(t, "b_path_10", 0x1000, 0x1004))

	first := newTestMatcher(t, 8).Match(context.Background(), a, b)
	for i := 0; i < 5; i++ {
		again := newTestMatcher(t, 1+i*3).Match(context.Background(), a, b)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d differs (-first +again):\n%s", i, diff)
		}
	}
}

func TestMatch_Cancelled(t *testing.T) {
	a := boundedPaths(t, "a", 1, 2, 3)
	b := boundedPaths(t, "b", 1, 2, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newTestMatcher(t, 2).Match(ctx, a, b)
	assert.True(t, result.Incomplete)
	assert.Equal(t, 0, result.Scored)
	assert.Equal(t, 9, result.Total)
	require.Len(t, result.Pairs, 6)
	for _, p := range result.Pairs {
		assert.True(t, p.Unmatched)
	}

	summary := VerdictForProgram(result.Pairs, result.Incomplete)
	assert.Equal(t, ProgramPartiallyEquivalent, summary.Verdict)
	assert.True(t, summary.Incomplete)
}
