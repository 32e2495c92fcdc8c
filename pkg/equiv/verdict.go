package equiv

import (
	"errors"
	"fmt"

	"pathequiv/pkg/symbolic"
)

// ErrComparisonTimeout 判定器在截止时间内没有给出结果
var ErrComparisonTimeout = errors.New("comparison timed out")

// Verdict 单层或单对路径的判定结果
type Verdict int

const (
	// Unknown 证据不足 (零值)
	Unknown Verdict = iota
	// Equivalent 等价
	Equivalent
	// NotEquivalent 不等价
	NotEquivalent
)

// String 返回判定结果名称
func (v Verdict) String() string {
	switch v {
	case Equivalent:
		return "equivalent"
	case NotEquivalent:
		return "not_equivalent"
	default:
		return "unknown"
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "equivalent":
		*v = Equivalent
	case "not_equivalent":
		*v = NotEquivalent
	case "unknown":
		*v = Unknown
	default:
		return fmt.Errorf("unknown verdict %q", string(text))
	}
	return nil
}

// ProgramVerdict 程序级判定结果
type ProgramVerdict int

const (
	// ProgramPartiallyEquivalent 部分等价 (零值)
	ProgramPartiallyEquivalent ProgramVerdict = iota
	// ProgramEquivalent 所有路径一一匹配且等价
	ProgramEquivalent
	// ProgramNotEquivalent 至少一对路径不等价
	ProgramNotEquivalent
)

// String 返回程序级判定名称
func (v ProgramVerdict) String() string {
	switch v {
	case ProgramEquivalent:
		return "equivalent"
	case ProgramNotEquivalent:
		return "not_equivalent"
	default:
		return "partially_equivalent"
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (v ProgramVerdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (v *ProgramVerdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "equivalent":
		*v = ProgramEquivalent
	case "not_equivalent":
		*v = ProgramNotEquivalent
	case "partially_equivalent":
		*v = ProgramPartiallyEquivalent
	default:
		return fmt.Errorf("unknown program verdict %q", string(text))
	}
	return nil
}

// LayerResult 单层比较结果
type LayerResult struct {
	Layer   symbolic.Layer `json:"layer" yaml:"layer"`
	Verdict Verdict        `json:"verdict" yaml:"verdict"`
	Score   float64        `json:"score" yaml:"score"` // 二值层为0或1, 内存层为相似度
	Detail  string         `json:"detail" yaml:"detail"`
}

// EquivalenceVerdict 一对路径的综合判定
type EquivalenceVerdict struct {
	Verdict    Verdict                          `json:"verdict" yaml:"verdict"`
	Confidence float64                          `json:"confidence" yaml:"confidence"`
	Layers     [symbolic.LayerCount]LayerResult `json:"layers" yaml:"layers"`
	Oracle     string                           `json:"oracle,omitempty" yaml:"oracle,omitempty"` // 参与判定的判定器
	TimedOut   bool                             `json:"timed_out,omitempty" yaml:"timed_out,omitempty"`
	Notes      []string                         `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// Layer 返回某一层的结果
func (v EquivalenceVerdict) Layer(l symbolic.Layer) LayerResult {
	return v.Layers[l]
}

// PathRef 报告中对路径的引用
type PathRef struct {
	Index       int    `json:"index" yaml:"index"`
	Name        string `json:"name" yaml:"name"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	Output      string `json:"output,omitempty" yaml:"output,omitempty"`
}

func refOf(p *symbolic.Path) *PathRef {
	return &PathRef{
		Index:       p.Index,
		Name:        p.Name,
		Fingerprint: p.Signature().Fingerprint.Hex(),
		Output:      p.Output.String(),
	}
}

// PathPairResult 匹配结果中的一对路径 (或未匹配的单条路径)
type PathPairResult struct {
	A         *PathRef           `json:"a,omitempty" yaml:"a,omitempty"`
	B         *PathRef           `json:"b,omitempty" yaml:"b,omitempty"`
	Unmatched bool               `json:"unmatched,omitempty" yaml:"unmatched,omitempty"`
	Result    EquivalenceVerdict `json:"result" yaml:"result"`
}
