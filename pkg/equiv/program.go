package equiv

// ProgramSummary 程序级判定及统计
type ProgramSummary struct {
	Verdict            ProgramVerdict `json:"verdict" yaml:"verdict"`
	Pairs              int            `json:"pairs" yaml:"pairs"` // 匹配上的路径对
	EquivalentPairs    int            `json:"equivalent_pairs" yaml:"equivalent_pairs"`
	PartialPairs       int            `json:"partial_pairs" yaml:"partial_pairs"` // 判定为未知的匹配对
	NotEquivalentPairs int            `json:"not_equivalent_pairs" yaml:"not_equivalent_pairs"`
	UnmatchedA         int            `json:"unmatched_a" yaml:"unmatched_a"`
	UnmatchedB         int            `json:"unmatched_b" yaml:"unmatched_b"`
	UnmatchedCount     int            `json:"unmatched_count" yaml:"unmatched_count"`
	MeanConfidence     float64        `json:"mean_confidence" yaml:"mean_confidence"` // 匹配对的平均置信度
	Incomplete         bool           `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
}

// VerdictForProgram 根据匹配结果计算程序级判定
//
// 所有匹配对都等价且两侧都没有未匹配路径时为等价;
// 任一匹配对不等价时为不等价; 其余情况 (包括被取消的比较) 为部分等价
func VerdictForProgram(pairs []PathPairResult, incomplete bool) ProgramSummary {
	var s ProgramSummary
	s.Incomplete = incomplete

	var confidence float64
	for _, p := range pairs {
		if p.Unmatched {
			if p.A != nil {
				s.UnmatchedA++
			} else {
				s.UnmatchedB++
			}
			continue
		}
		s.Pairs++
		confidence += p.Result.Confidence
		switch p.Result.Verdict {
		case Equivalent:
			s.EquivalentPairs++
		case NotEquivalent:
			s.NotEquivalentPairs++
		default:
			s.PartialPairs++
		}
	}
	s.UnmatchedCount = s.UnmatchedA + s.UnmatchedB
	if s.Pairs > 0 {
		s.MeanConfidence = confidence / float64(s.Pairs)
	}

	switch {
	case incomplete:
		// 取消的运行不给出确定结论
		s.Verdict = ProgramPartiallyEquivalent
	case s.NotEquivalentPairs > 0:
		s.Verdict = ProgramNotEquivalent
	case s.Pairs > 0 && s.EquivalentPairs == s.Pairs && s.UnmatchedCount == 0:
		s.Verdict = ProgramEquivalent
	default:
		s.Verdict = ProgramPartiallyEquivalent
	}
	return s
}
