package equiv

import (
	"pathequiv/pkg/symbolic"
)

// Weights 三层在置信度中的权重
type Weights struct {
	ControlFlow float64
	Memory      float64
	Transform   float64
}

// DefaultWeights 控制流 0.4, 内存 0.35, 变换 0.25
func DefaultWeights() Weights {
	return Weights{ControlFlow: 0.4, Memory: 0.35, Transform: 0.25}
}

// Of 返回某一层的权重
func (w Weights) Of(l symbolic.Layer) float64 {
	switch l {
	case symbolic.LayerControlFlow:
		return w.ControlFlow
	case symbolic.LayerMemory:
		return w.Memory
	default:
		return w.Transform
	}
}

// Sum 权重之和
func (w Weights) Sum() float64 {
	return w.ControlFlow + w.Memory + w.Transform
}

// Aggregate 合并三层结果
//
//   - 任一层不等价: 不等价, 置信度 = 1 - 不一致层中最大权重占比
//   - 三层都等价: 等价, 置信度 = 各层得分的加权平均 (内存层为连续相似度)
//   - 其余情况: 未知, 置信度 = 0.5 * 已知层得分的平均值
//
// 计数相同本身不会得出等价, 每一层都必须独立认可
func Aggregate(l1, l2, l3 LayerResult, w Weights) EquivalenceVerdict {
	if w.Sum() <= 0 {
		w = DefaultWeights()
	}
	out := EquivalenceVerdict{Layers: [symbolic.LayerCount]LayerResult{l1, l2, l3}}
	for i := range out.Layers {
		out.Layers[i].Layer = symbolic.Layers[i]
	}

	var (
		disagree float64
		anyNotEq bool
		allEq    = true
		known    int
		knownSum float64
	)
	for _, lr := range out.Layers {
		switch lr.Verdict {
		case NotEquivalent:
			anyNotEq = true
			allEq = false
			disagree = max(disagree, w.Of(lr.Layer))
		case Equivalent:
			known++
			knownSum += lr.Score
		default:
			allEq = false
		}
	}

	switch {
	case anyNotEq:
		out.Verdict = NotEquivalent
		out.Confidence = clamp01(1 - disagree/w.Sum())
	case allEq:
		out.Verdict = Equivalent
		out.Confidence = clamp01(weightedScore(out.Layers, w))
	default:
		out.Verdict = Unknown
		if known > 0 {
			out.Confidence = clamp01(0.5 * knownSum / float64(known))
		}
	}
	return out
}

// weightedScore 三层得分的加权平均
func weightedScore(layers [symbolic.LayerCount]LayerResult, w Weights) float64 {
	var total float64
	for _, lr := range layers {
		total += w.Of(lr.Layer) * lr.Score
	}
	return total / w.Sum()
}

// MatchScore 路径匹配时使用的排序分值
// 等价对总是排在未知对之前, 未知对总是排在不等价对之前
func MatchScore(v EquivalenceVerdict) float64 {
	switch v.Verdict {
	case Equivalent:
		return 2 + v.Confidence
	case Unknown:
		return 1 + v.Confidence
	default:
		return 1 - v.Confidence
	}
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
