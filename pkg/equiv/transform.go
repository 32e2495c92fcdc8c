package equiv

import (
	"fmt"
	"sort"

	"pathequiv/pkg/symbolic"
)

// CompareTransforms 第三层: 比较数据变换运算的多重集
func CompareTransforms(a, b *symbolic.Path) LayerResult {
	result := LayerResult{Layer: symbolic.LayerTransform}
	ta, tb := a.Signature().Transforms, b.Signature().Transforms

	countA, countB := countTransforms(ta), countTransforms(tb)
	keys := make([]symbolic.TransformDescriptor, 0, len(countA)+len(countB))
	for k := range countA {
		keys = append(keys, k)
	}
	for k := range countB {
		if _, ok := countA[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return transformLess(keys[i], keys[j]) })

	for _, k := range keys {
		if countA[k] == countB[k] {
			continue
		}
		result.Verdict = NotEquivalent
		result.Detail = fmt.Sprintf("%s: %s vs %s", k, occurrences(countA[k]), occurrences(countB[k]))
		return result
	}

	result.Verdict = Equivalent
	result.Score = 1
	if len(ta) == 0 {
		result.Detail = "no transformations on either side"
	} else {
		result.Detail = fmt.Sprintf("%d transformations agree", len(ta))
	}
	return result
}

func countTransforms(descs []symbolic.TransformDescriptor) map[symbolic.TransformDescriptor]int {
	counts := make(map[symbolic.TransformDescriptor]int, len(descs))
	for _, d := range descs {
		counts[d]++
	}
	return counts
}

func transformLess(a, b symbolic.TransformDescriptor) bool {
	if a.Op != b.Op {
		return a.Op < b.Op
	}
	if a.Arity != b.Arity {
		return a.Arity < b.Arity
	}
	if a.HasConst != b.HasConst {
		return !a.HasConst
	}
	return a.Const.Lt(&b.Const)
}

func occurrences(n int) string {
	switch n {
	case 0:
		return "absent"
	case 1:
		return "present once"
	default:
		return fmt.Sprintf("present %d times", n)
	}
}
