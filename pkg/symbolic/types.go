package symbolic

import (
	"fmt"
	"sync"

	"pathequiv/pkg/types"
)

// VariableKind 符号变量类别
type VariableKind int

const (
	// VarInput 程序输入 (scanf_<n>_<bits> 等)
	VarInput VariableKind = iota
	// VarMemory 引擎为未初始化内存创建的符号 (mem_<addr>_<n>_<bits>)
	VarMemory
	// VarArray 数组符号 (select/store 的目标)
	VarArray
)

// String 返回变量类别名称
func (k VariableKind) String() string {
	switch k {
	case VarInput:
		return "input"
	case VarMemory:
		return "memory"
	case VarArray:
		return "array"
	default:
		return "unknown"
	}
}

// Variable 已声明的符号变量
type Variable struct {
	Name       string
	Width      uint
	Kind       VariableKind
	IndexWidth uint // 仅数组: 下标位宽
}

// MemoryLocation 路径上访问过的一个内存位置
// Base为空表示绝对地址; 否则为符号基址的文本
type MemoryLocation struct {
	Name    string
	Base    string
	Address uint64
	Serial  int // 引擎分配的序号, 未知时为-1
	Epoch   int // 同一地址的第几次出现 (从0开始)
	Width   uint
}

// String 返回 base+0xaddr#epoch 形式的描述
func (m *MemoryLocation) String() string {
	if m.Base == "" {
		return fmt.Sprintf("0x%x#%d", m.Address, m.Epoch)
	}
	return fmt.Sprintf("%s+0x%x#%d", m.Base, m.Address, m.Epoch)
}

// Constraint 路径上的单个布尔约束
type Constraint struct {
	Index int    // 在路径中的位置
	Expr  Expr   // 表达式树
	Text  string // 规范化后的文本
}

// Root 返回约束的根运算符 (非Apply节点返回OpUnknown)
func (c *Constraint) Root() (Op, []Expr) {
	if app, ok := c.Expr.(*Apply); ok {
		return app.Op, app.Args
	}
	return OpUnknown, nil
}

// Path 一条完整的符号执行路径
// 解析完成后不可变, 可在多个goroutine间共享
type Path struct {
	Index       int
	Name        string
	Source      string
	Variables   []*Variable
	Memory      []*MemoryLocation
	Constraints []*Constraint
	Output      types.ObservedOutput

	analysisOnce   sync.Once
	classification *Classification
	signature      *Signature
}

// Inputs 按声明顺序返回输入变量
func (p *Path) Inputs() []*Variable {
	inputs := make([]*Variable, 0, len(p.Variables))
	for _, v := range p.Variables {
		if v.Kind == VarInput {
			inputs = append(inputs, v)
		}
	}
	return inputs
}

// Lookup 按名称查找变量
func (p *Path) Lookup(name string) *Variable {
	for _, v := range p.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// Label 返回用于报告的路径标识
func (p *Path) Label() string {
	if p.Name != "" {
		return fmt.Sprintf("#%d (%s)", p.Index, p.Name)
	}
	return fmt.Sprintf("#%d", p.Index)
}

// Classification 返回约束分类结果 (首次调用时计算并缓存)
func (p *Path) Classification() *Classification {
	p.analyze()
	return p.classification
}

// Signature 返回路径签名 (首次调用时计算并缓存)
func (p *Path) Signature() *Signature {
	p.analyze()
	return p.signature
}

func (p *Path) analyze() {
	p.analysisOnce.Do(func() {
		p.classification = Classify(p)
		p.signature = computeSignature(p, p.classification)
	})
}
