package equiv

import (
	"fmt"

	"pathequiv/pkg/symbolic"
)

// MemoryComparator 第二层: 内存访问序列比较器
type MemoryComparator struct {
	policy          symbolic.AddressPolicy
	equivalentAt    float64 // 相似度不低于此值视为等价
	notEquivalentAt float64 // 相似度不高于此值视为不等价
}

// NewMemoryComparator 创建使用默认阈值 (0.9 / 0.3) 的比较器
func NewMemoryComparator(policy symbolic.AddressPolicy) *MemoryComparator {
	return NewMemoryComparatorWithThresholds(policy, 0.9, 0.3)
}

// NewMemoryComparatorWithThresholds 创建带阈值的比较器
func NewMemoryComparatorWithThresholds(policy symbolic.AddressPolicy, equivalentAt, notEquivalentAt float64) *MemoryComparator {
	if !policy.Valid() {
		policy = symbolic.AddressRelative
	}
	return &MemoryComparator{
		policy:          policy,
		equivalentAt:    equivalentAt,
		notEquivalentAt: notEquivalentAt,
	}
}

// MemoryComparison 内存访问序列比较详情
type MemoryComparison struct {
	Similarity float64 // LCS / max(len)
	LCSLength  int     // 最长公共子序列长度
	LengthA    int
	LengthB    int
	Relocated  []int // 种类与轮次一致但偏移不同的位置
}

// Similarity 计算两个访问序列的相似度
// 返回值范围: 0.0 (完全不同) 到 1.0 (完全相同); 两个空序列视为相同
func (m *MemoryComparator) Similarity(a, b []symbolic.AccessDescriptor) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	lcs := longestCommonSubsequence(m.keys(a), m.keys(b))
	return float64(lcs) / float64(max(len(a), len(b)))
}

// CompareWithDetails 比较访问序列并返回详细信息
func (m *MemoryComparator) CompareWithDetails(a, b []symbolic.AccessDescriptor) *MemoryComparison {
	keysA, keysB := m.keys(a), m.keys(b)
	return &MemoryComparison{
		Similarity: m.Similarity(a, b),
		LCSLength:  longestCommonSubsequence(keysA, keysB),
		LengthA:    len(a),
		LengthB:    len(b),
		Relocated:  relocated(keysA, keysB),
	}
}

// Compare 比较两条路径的内存访问模式
func (m *MemoryComparator) Compare(a, b *symbolic.Path) LayerResult {
	result := LayerResult{Layer: symbolic.LayerMemory}
	memA, memB := a.Signature().Memory, b.Signature().Memory

	details := m.CompareWithDetails(memA, memB)
	result.Score = details.Similarity

	switch {
	case len(memA) == 0 && len(memB) == 0:
		result.Verdict = Equivalent
		result.Detail = "no memory accesses on either side"
		return result
	case details.Similarity >= m.equivalentAt:
		result.Verdict = Equivalent
	case len(details.Relocated) > 0:
		// 相似度低于等价阈值, 访问结构一致但布局不同 (步长或偏移变化)
		i := details.Relocated[0]
		result.Verdict = NotEquivalent
		result.Detail = fmt.Sprintf("access #%d relocated: %s vs %s (similarity %.2f)",
			i, memA[i], memB[i], details.Similarity)
		return result
	case details.Similarity <= m.notEquivalentAt:
		result.Verdict = NotEquivalent
	default:
		result.Verdict = Unknown
	}
	result.Detail = fmt.Sprintf("similarity %.2f (LCS %d of %d/%d accesses)",
		details.Similarity, details.LCSLength, details.LengthA, details.LengthB)
	return result
}

func (m *MemoryComparator) keys(descs []symbolic.AccessDescriptor) []symbolic.AccessKey {
	keys := make([]symbolic.AccessKey, len(descs))
	for i, d := range descs {
		keys[i] = d.Key(m.policy)
	}
	return keys
}

// relocated 等长序列逐位比较, 返回种类/基址/轮次一致但位置不同的下标
// 任一位置结构不一致时返回nil
func relocated(a, b []symbolic.AccessKey) []int {
	if len(a) != len(b) {
		return nil
	}
	var moved []int
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Base != b[i].Base || a[i].Epoch != b[i].Epoch {
			return nil
		}
		if a[i].Position != b[i].Position {
			moved = append(moved, i)
		}
	}
	return moved
}

// longestCommonSubsequence 计算最长公共子序列长度
// 使用动态规划算法，时间复杂度O(m*n)，空间复杂度O(min(m,n))
func longestCommonSubsequence[T comparable](seq1, seq2 []T) int {
	// 确保seq1是较短的序列，以优化空间使用
	if len(seq1) > len(seq2) {
		seq1, seq2 = seq2, seq1
	}
	m, n := len(seq1), len(seq2)

	// 只需要两行来计算DP
	prev := make([]int, m+1)
	curr := make([]int, m+1)

	for j := 1; j <= n; j++ {
		for i := 1; i <= m; i++ {
			if seq1[i-1] == seq2[j-1] {
				curr[i] = prev[i-1] + 1
			} else {
				curr[i] = max(prev[i], curr[i-1])
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}
