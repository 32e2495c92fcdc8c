package equiv

import (
	"fmt"

	"pathequiv/pkg/symbolic"
)

// CompareControlFlow 第一层: 比较输入变量的取值域
// 输入个数相同且按声明位置一一对应的取值域完全相同时等价
func CompareControlFlow(a, b *symbolic.Path) LayerResult {
	result := LayerResult{Layer: symbolic.LayerControlFlow}

	inA, inB := a.Inputs(), b.Inputs()
	if len(inA) != len(inB) {
		result.Verdict = NotEquivalent
		result.Detail = fmt.Sprintf("arity mismatch (%d vs %d input variables)", len(inA), len(inB))
		return result
	}

	domA, domB := a.Signature().Domains, b.Signature().Domains
	for i := range inA {
		if domA[i].Equal(domB[i]) {
			continue
		}
		result.Verdict = NotEquivalent
		result.Detail = fmt.Sprintf("input #%d (%s vs %s): %s vs %s",
			i, inA[i].Name, inB[i].Name, domA[i], domB[i])
		return result
	}

	result.Verdict = Equivalent
	result.Score = 1
	if len(inA) == 0 {
		result.Detail = "no input variables"
	} else {
		result.Detail = fmt.Sprintf("%d input domains agree", len(inA))
	}
	return result
}
