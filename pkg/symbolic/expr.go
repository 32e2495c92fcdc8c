package symbolic

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Op 表达式运算符 (SMT-LIB QF_ABV子集)
type Op int

const (
	// OpUnknown 无法识别的运算符, 保留原始名称
	OpUnknown Op = iota

	compareBegin
	OpEq       // =
	OpDistinct // distinct
	OpULT      // bvult
	OpULE      // bvule
	OpUGT      // bvugt
	OpUGE      // bvuge
	OpSLT      // bvslt
	OpSLE      // bvsle
	OpSGT      // bvsgt
	OpSGE      // bvsge
	compareEnd

	transformBegin
	OpAdd   // bvadd
	OpSub   // bvsub
	OpMul   // bvmul
	OpUDiv  // bvudiv
	OpSDiv  // bvsdiv
	OpURem  // bvurem
	OpSRem  // bvsrem
	OpShl   // bvshl
	OpLShr  // bvlshr
	OpAShr  // bvashr
	OpBVAnd // bvand
	OpBVOr  // bvor
	OpBVXor // bvxor
	OpBVNot // bvnot
	OpBVNeg // bvneg
	transformEnd

	structureBegin
	OpExtract    // (_ extract i j)
	OpZeroExtend // (_ zero_extend n)
	OpSignExtend // (_ sign_extend n)
	OpConcat     // concat
	structureEnd

	logicBegin
	OpNot     // not
	OpAnd     // and
	OpOr      // or
	OpImplies // =>
	OpIte     // ite
	logicEnd

	memoryBegin
	OpSelect // select
	OpStore  // store
	memoryEnd
)

var opNames = [...]string{
	OpUnknown:    "unknown",
	OpEq:         "=",
	OpDistinct:   "distinct",
	OpULT:        "bvult",
	OpULE:        "bvule",
	OpUGT:        "bvugt",
	OpUGE:        "bvuge",
	OpSLT:        "bvslt",
	OpSLE:        "bvsle",
	OpSGT:        "bvsgt",
	OpSGE:        "bvsge",
	OpAdd:        "bvadd",
	OpSub:        "bvsub",
	OpMul:        "bvmul",
	OpUDiv:       "bvudiv",
	OpSDiv:       "bvsdiv",
	OpURem:       "bvurem",
	OpSRem:       "bvsrem",
	OpShl:        "bvshl",
	OpLShr:       "bvlshr",
	OpAShr:       "bvashr",
	OpBVAnd:      "bvand",
	OpBVOr:       "bvor",
	OpBVXor:      "bvxor",
	OpBVNot:      "bvnot",
	OpBVNeg:      "bvneg",
	OpExtract:    "extract",
	OpZeroExtend: "zero_extend",
	OpSignExtend: "sign_extend",
	OpConcat:     "concat",
	OpNot:        "not",
	OpAnd:        "and",
	OpOr:         "or",
	OpImplies:    "=>",
	OpIte:        "ite",
	OpSelect:     "select",
	OpStore:      "store",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		if name != "" && Op(op) != OpUnknown {
			m[name] = Op(op)
		}
	}
	return m
}()

// LookupOp 根据SMT-LIB名称查找运算符
func LookupOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// String 返回运算符的SMT-LIB名称
func (op Op) String() string {
	if op >= 0 && int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("Op<%d>", int(op))
}

// IsCompare 是否为比较运算
func (op Op) IsCompare() bool { return op > compareBegin && op < compareEnd }

// IsTransform 是否为算术/位运算 (数据变换)
func (op Op) IsTransform() bool { return op > transformBegin && op < transformEnd }

// IsStructural 是否为位宽调整运算 (extract/extend/concat)
func (op Op) IsStructural() bool { return op > structureBegin && op < structureEnd }

// IsLogic 是否为布尔连接词
func (op Op) IsLogic() bool { return op > logicBegin && op < logicEnd }

// IsMemory 是否为数组访问
func (op Op) IsMemory() bool { return op > memoryBegin && op < memoryEnd }

// IsSigned 是否为有符号比较
func (op Op) IsSigned() bool { return op >= OpSLT && op <= OpSGE }

// Negate 返回比较运算取反后的运算符
func (op Op) Negate() (Op, bool) {
	switch op {
	case OpEq:
		return OpDistinct, true
	case OpDistinct:
		return OpEq, true
	case OpULT:
		return OpUGE, true
	case OpULE:
		return OpUGT, true
	case OpUGT:
		return OpULE, true
	case OpUGE:
		return OpULT, true
	case OpSLT:
		return OpSGE, true
	case OpSLE:
		return OpSGT, true
	case OpSGT:
		return OpSLE, true
	case OpSGE:
		return OpSLT, true
	}
	return op, false
}

// Mirror 返回交换左右操作数后的等价运算符 (a < b  <=>  b > a)
func (op Op) Mirror() Op {
	switch op {
	case OpULT:
		return OpUGT
	case OpULE:
		return OpUGE
	case OpUGT:
		return OpULT
	case OpUGE:
		return OpULE
	case OpSLT:
		return OpSGT
	case OpSLE:
		return OpSGE
	case OpSGT:
		return OpSLT
	case OpSGE:
		return OpSLE
	}
	return op
}

// Expr 约束表达式树节点
// 具体类型: *VarRef, *MemRef, *ArrayRef, *Literal, *BoolLiteral, *Apply
type Expr interface {
	// Width 返回位宽, 布尔表达式与数组返回0
	Width() uint
	String() string
	expr()
}

func (*VarRef) expr()      {}
func (*MemRef) expr()      {}
func (*ArrayRef) expr()    {}
func (*Literal) expr()     {}
func (*BoolLiteral) expr() {}
func (*Apply) expr()       {}

// VarRef 对输入变量的引用
type VarRef struct {
	Var *Variable
}

func (e *VarRef) Width() uint    { return e.Var.Width }
func (e *VarRef) String() string { return e.Var.Name }

// MemRef 对内存符号 (mem_<addr>_<n>_<bits>) 的引用
type MemRef struct {
	Loc *MemoryLocation
	Var *Variable
}

func (e *MemRef) Width() uint    { return e.Var.Width }
func (e *MemRef) String() string { return e.Var.Name }

// ArrayRef 对数组符号的引用 (select/store的第一个操作数)
type ArrayRef struct {
	Var *Variable
}

func (e *ArrayRef) Width() uint    { return 0 }
func (e *ArrayRef) String() string { return e.Var.Name }

// Literal 位向量常量
type Literal struct {
	Value uint256.Int
	Bits  uint
}

// NewLiteral 创建位宽为bits的常量, 超出位宽的部分被截断
func NewLiteral(v uint64, bits uint) *Literal {
	l := &Literal{Bits: bits}
	l.Value.SetUint64(v)
	l.Value.And(&l.Value, Mask(bits))
	return l
}

func (e *Literal) Width() uint { return e.Bits }

func (e *Literal) String() string {
	return fmt.Sprintf("(_ bv%s %d)", e.Value.Dec(), e.Bits)
}

// BoolLiteral 布尔常量
type BoolLiteral struct {
	Value bool
}

func (e *BoolLiteral) Width() uint { return 0 }

func (e *BoolLiteral) String() string {
	if e.Value {
		return "true"
	}
	return "false"
}

// Apply 运算符应用
type Apply struct {
	Op      Op
	Name    string // 原始运算符名称 (OpUnknown时用于诊断)
	Indices []uint // extract/zero_extend/sign_extend的索引参数
	Args    []Expr
	Loc     *MemoryLocation // select/store访问的内存位置
	Bits    uint
}

func (e *Apply) Width() uint { return e.Bits }

func (e *Apply) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	if len(e.Indices) > 0 {
		sb.WriteString("(_ ")
		sb.WriteString(e.Name)
		for _, idx := range e.Indices {
			fmt.Fprintf(&sb, " %d", idx)
		}
		sb.WriteByte(')')
	} else {
		sb.WriteString(e.Name)
	}
	for _, arg := range e.Args {
		sb.WriteByte(' ')
		sb.WriteString(arg.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

// Walk 先序遍历表达式树, visit返回false时不再进入子节点
// parent为nil表示根节点
func Walk(e Expr, visit func(node, parent Expr, argIndex int) bool) {
	walk(e, nil, -1, visit)
}

func walk(e Expr, parent Expr, argIndex int, visit func(node, parent Expr, argIndex int) bool) {
	if !visit(e, parent, argIndex) {
		return
	}
	if app, ok := e.(*Apply); ok {
		for i, arg := range app.Args {
			walk(arg, app, i, visit)
		}
	}
}

// IsAddressIndex 判断节点是否是 select/store 的下标
// 下标中的地址运算属于内存位置本身, 不是数据变换
func IsAddressIndex(parent Expr, argIndex int) bool {
	app, ok := parent.(*Apply)
	return ok && argIndex == 1 && (app.Op == OpSelect || app.Op == OpStore)
}

// Mask 返回低bits位全为1的掩码
func Mask(bits uint) *uint256.Int {
	m := new(uint256.Int)
	if bits >= 256 {
		return m.SetAllOne()
	}
	m.Lsh(uint256.NewInt(1), bits)
	return m.Sub(m, uint256.NewInt(1))
}
