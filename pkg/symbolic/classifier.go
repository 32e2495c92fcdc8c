package symbolic

import (
	"fmt"
	"strings"
)

// Layer 比较层级
type Layer int

const (
	// LayerControlFlow 第一层: 输入域约束
	LayerControlFlow Layer = iota
	// LayerMemory 第二层: 内存访问模式
	LayerMemory
	// LayerTransform 第三层: 数据变换运算
	LayerTransform
)

// LayerCount 层级数量
const LayerCount = 3

// Layers 按顺序列出所有层级
var Layers = [LayerCount]Layer{LayerControlFlow, LayerMemory, LayerTransform}

// String 返回层级名称
func (l Layer) String() string {
	switch l {
	case LayerControlFlow:
		return "control_flow"
	case LayerMemory:
		return "memory"
	case LayerTransform:
		return "transform"
	default:
		return "unknown"
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (l Layer) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (l *Layer) UnmarshalText(text []byte) error {
	for _, candidate := range Layers {
		if candidate.String() == string(text) {
			*l = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown layer %q", string(text))
}

// LayerSet 约束所属层级的位集合
type LayerSet uint8

// Has 检查是否包含某一层
func (s LayerSet) Has(l Layer) bool { return s&(1<<uint(l)) != 0 }

// With 返回加入某一层后的集合
func (s LayerSet) With(l Layer) LayerSet { return s | 1<<uint(l) }

// String 返回 "memory|transform" 形式
func (s LayerSet) String() string {
	var names []string
	for _, l := range Layers {
		if s.Has(l) {
			names = append(names, l.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Classification 一条路径的约束分类结果
type Classification struct {
	Tags         []LayerSet // 与Constraints一一对应
	ControlFlow  []*Constraint
	Memory       []*Constraint
	Transform    []*Constraint
	Unclassified []int // 含未知运算符的约束下标
}

// Bucket 返回某一层的约束
func (c *Classification) Bucket(l Layer) []*Constraint {
	switch l {
	case LayerControlFlow:
		return c.ControlFlow
	case LayerMemory:
		return c.Memory
	case LayerTransform:
		return c.Transform
	}
	return nil
}

// Classify 对路径上的所有约束分类
// 分类是全函数: 每条约束至少属于一层, 未知运算符不会导致失败
func Classify(p *Path) *Classification {
	c := &Classification{Tags: make([]LayerSet, len(p.Constraints))}
	for i, constraint := range p.Constraints {
		tags, unclassified := ClassifyConstraint(constraint)
		c.Tags[i] = tags
		if unclassified {
			c.Unclassified = append(c.Unclassified, i)
		}
		if tags.Has(LayerControlFlow) {
			c.ControlFlow = append(c.ControlFlow, constraint)
		}
		if tags.Has(LayerMemory) {
			c.Memory = append(c.Memory, constraint)
		}
		if tags.Has(LayerTransform) {
			c.Transform = append(c.Transform, constraint)
		}
	}
	return c
}

// ClassifyConstraint 对单条约束分类
// 触及内存的约束属于内存层, 含算术/位运算的属于变换层, 两者可同时成立;
// 都不满足时归入控制流层
func ClassifyConstraint(c *Constraint) (LayerSet, bool) {
	var tags LayerSet
	unknown := false

	Walk(c.Expr, func(node, parent Expr, argIndex int) bool {
		if IsAddressIndex(parent, argIndex) {
			// 父节点已标记内存层
			unknown = unknown || hasUnknownOp(node)
			return false
		}
		switch n := node.(type) {
		case *MemRef, *ArrayRef:
			tags = tags.With(LayerMemory)
		case *Apply:
			switch {
			case n.Op.IsMemory():
				tags = tags.With(LayerMemory)
			case n.Op.IsTransform():
				tags = tags.With(LayerTransform)
			case n.Op == OpUnknown:
				unknown = true
			}
		}
		return true
	})

	if tags == 0 {
		tags = tags.With(LayerControlFlow)
	}
	return tags, unknown
}

func hasUnknownOp(e Expr) bool {
	found := false
	Walk(e, func(node, _ Expr, _ int) bool {
		if app, ok := node.(*Apply); ok && app.Op == OpUnknown {
			found = true
		}
		return !found
	})
	return found
}
