package equiv

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pathequiv/pkg/symbolic"
)

func layer(l symbolic.Layer, v Verdict, score float64) LayerResult {
	return LayerResult{Layer: l, Verdict: v, Score: score}
}

func TestAggregate(t *testing.T) {
	w := DefaultWeights()
	cf, mem, tr := symbolic.LayerControlFlow, symbolic.LayerMemory, symbolic.LayerTransform

	tests := []struct {
		name       string
		l1, l2, l3 LayerResult
		verdict    Verdict
		confidence float64
	}{
		{
			name:       "All equivalent",
			l1:         layer(cf, Equivalent, 1),
			l2:         layer(mem, Equivalent, 1),
			l3:         layer(tr, Equivalent, 1),
			verdict:    Equivalent,
			confidence: 1.0,
		},
		{
			name:       "All equivalent with imperfect memory",
			l1:         layer(cf, Equivalent, 1),
			l2:         layer(mem, Equivalent, 0.9),
			l3:         layer(tr, Equivalent, 1),
			verdict:    Equivalent,
			confidence: 0.965,
		},
		{
			name:       "Control flow disagrees",
			l1:         layer(cf, NotEquivalent, 0),
			l2:         layer(mem, Equivalent, 1),
			l3:         layer(tr, Equivalent, 1),
			verdict:    NotEquivalent,
			confidence: 0.6,
		},
		{
			name:       "Memory disagrees",
			l1:         layer(cf, Equivalent, 1),
			l2:         layer(mem, NotEquivalent, 0.1),
			l3:         layer(tr, Equivalent, 1),
			verdict:    NotEquivalent,
			confidence: 0.65,
		},
		{
			name:       "Transform disagrees",
			l1:         layer(cf, Equivalent, 1),
			l2:         layer(mem, Equivalent, 1),
			l3:         layer(tr, NotEquivalent, 0),
			verdict:    NotEquivalent,
			confidence: 0.75,
		},
		{
			name:       "Several layers disagree",
			l1:         layer(cf, NotEquivalent, 0),
			l2:         layer(mem, Unknown, 0.5),
			l3:         layer(tr, NotEquivalent, 0),
			verdict:    NotEquivalent,
			confidence: 0.6,
		},
		{
			name:       "Memory inconclusive",
			l1:         layer(cf, Equivalent, 1),
			l2:         layer(mem, Unknown, 0.6),
			l3:         layer(tr, Equivalent, 1),
			verdict:    Unknown,
			confidence: 0.5,
		},
		{
			name:       "Nothing known",
			l1:         layer(cf, Unknown, 0),
			l2:         layer(mem, Unknown, 0),
			l3:         layer(tr, Unknown, 0),
			verdict:    Unknown,
			confidence: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Aggregate(tc.l1, tc.l2, tc.l3, w)
			assert.Equal(t, tc.verdict, got.Verdict)
			assert.InDelta(t, tc.confidence, got.Confidence, 0.0001)
			assert.Equal(t, tc.l2, got.Layer(symbolic.LayerMemory))
		})
	}
}

// TestAggregate_NeverEquivalentWithDisagreement 任一层不等价时总体不会等价
func TestAggregate_NeverEquivalentWithDisagreement(t *testing.T) {
	verdicts := []Verdict{Unknown, Equivalent, NotEquivalent}
	w := DefaultWeights()

	for _, v1 := range verdicts {
		for _, v2 := range verdicts {
			for _, v3 := range verdicts {
				got := Aggregate(
					layer(symbolic.LayerControlFlow, v1, 1),
					layer(symbolic.LayerMemory, v2, 1),
					layer(symbolic.LayerTransform, v3, 1),
					w,
				)
				anyNot := v1 == NotEquivalent || v2 == NotEquivalent || v3 == NotEquivalent
				if anyNot && got.Verdict != NotEquivalent {
					t.Errorf("%v/%v/%v: expected not_equivalent, got %v", v1, v2, v3, got.Verdict)
				}
				if got.Verdict == Equivalent && (v1 != Equivalent || v2 != Equivalent || v3 != Equivalent) {
					t.Errorf("%v/%v/%v: equivalent without agreement of every layer", v1, v2, v3)
				}
				assert.GreaterOrEqual(t, got.Confidence, 0.0)
				assert.LessOrEqual(t, got.Confidence, 1.0)
			}
		}
	}
}

func TestAggregate_CustomWeights(t *testing.T) {
	w := Weights{ControlFlow: 2, Memory: 1, Transform: 1}
	got := Aggregate(
		layer(symbolic.LayerControlFlow, NotEquivalent, 0),
		layer(symbolic.LayerMemory, Equivalent, 1),
		layer(symbolic.LayerTransform, Equivalent, 1),
		w,
	)
	assert.InDelta(t, 0.5, got.Confidence, 0.0001, "weights are normalized by their sum")

	zero := Aggregate(
		layer(symbolic.LayerControlFlow, Equivalent, 1),
		layer(symbolic.LayerMemory, Equivalent, 0.5),
		layer(symbolic.LayerTransform, Equivalent, 1),
		Weights{},
	)
	assert.InDelta(t, 0.825, zero.Confidence, 0.0001, "zero weights fall back to the defaults")
}

func TestMatchScore_Ordering(t *testing.T) {
	eqLow := MatchScore(EquivalenceVerdict{Verdict: Equivalent, Confidence: 0.1})
	unknownHigh := MatchScore(EquivalenceVerdict{Verdict: Unknown, Confidence: 0.5})
	notEqWeak := MatchScore(EquivalenceVerdict{Verdict: NotEquivalent, Confidence: 0.6})
	notEqStrong := MatchScore(EquivalenceVerdict{Verdict: NotEquivalent, Confidence: 0.75})

	assert.Greater(t, eqLow, unknownHigh)
	assert.Greater(t, unknownHigh, notEqWeak)
	assert.Greater(t, notEqWeak, notEqStrong)
}
