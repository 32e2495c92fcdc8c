package symbolic

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	// ErrUnsupported 表达式含有求值器不支持的运算
	ErrUnsupported = errors.New("unsupported expression")
	// ErrUnbound 符号没有赋值
	ErrUnbound = errors.New("unbound symbol")
)

// Assignment 符号到取值的映射
// 输入变量与内存符号按变量名, 数组单元按MemoryLocation.Name
type Assignment map[string]*uint256.Int

// Value 表达式求值结果
type Value struct {
	BV     uint256.Int
	Width  uint
	Bool   bool
	IsBool bool
}

func boolValue(b bool) Value { return Value{Bool: b, IsBool: true} }

func bvValue(v *uint256.Int, width uint) Value {
	out := Value{Width: width}
	out.BV.And(v, Mask(width))
	return out
}

// Evaluate 在给定赋值下对约束求值
func Evaluate(c *Constraint, env Assignment) (bool, error) {
	v, err := Eval(c.Expr, env)
	if err != nil {
		return false, err
	}
	if !v.IsBool {
		return false, fmt.Errorf("constraint %d is not boolean: %w", c.Index, ErrUnsupported)
	}
	return v.Bool, nil
}

// EvaluateAll 所有约束的合取 (空集合为真)
func EvaluateAll(constraints []*Constraint, env Assignment) (bool, error) {
	for _, c := range constraints {
		ok, err := Evaluate(c, env)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Eval 按位向量语义对表达式求值
func Eval(e Expr, env Assignment) (Value, error) {
	switch n := e.(type) {
	case *BoolLiteral:
		return boolValue(n.Value), nil
	case *Literal:
		return bvValue(&n.Value, n.Bits), nil
	case *VarRef:
		return lookup(env, n.Var.Name, n.Var.Width)
	case *MemRef:
		return lookup(env, n.Var.Name, n.Var.Width)
	case *ArrayRef:
		return Value{}, fmt.Errorf("array %s used as a value: %w", n.Var.Name, ErrUnsupported)
	case *Apply:
		return evalApply(n, env)
	}
	return Value{}, fmt.Errorf("%T: %w", e, ErrUnsupported)
}

func lookup(env Assignment, name string, width uint) (Value, error) {
	v, ok := env[name]
	if !ok || v == nil {
		return Value{}, fmt.Errorf("%s: %w", name, ErrUnbound)
	}
	return bvValue(v, width), nil
}

func evalArgs(args []Expr, env Assignment) ([]Value, error) {
	vals := make([]Value, len(args))
	for i, arg := range args {
		v, err := Eval(arg, env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func evalApply(n *Apply, env Assignment) (Value, error) {
	switch n.Op {
	case OpUnknown:
		return Value{}, fmt.Errorf("operator %s: %w", n.Name, ErrUnsupported)
	case OpSelect:
		idx, err := Eval(n.Args[1], env)
		if err != nil {
			return Value{}, err
		}
		return evalSelect(n.Args[0], &idx.BV, n, env)
	case OpStore:
		return Value{}, fmt.Errorf("store used as a value: %w", ErrUnsupported)
	case OpIte:
		cond, err := Eval(n.Args[0], env)
		if err != nil {
			return Value{}, err
		}
		if cond.Bool {
			return Eval(n.Args[1], env)
		}
		return Eval(n.Args[2], env)
	case OpAnd, OpOr, OpImplies:
		return evalLogic(n, env)
	}

	args, err := evalArgs(n.Args, env)
	if err != nil {
		return Value{}, err
	}

	switch {
	case n.Op == OpNot:
		return boolValue(!args[0].Bool), nil
	case n.Op == OpEq:
		for _, a := range args[1:] {
			if !sameValue(args[0], a) {
				return boolValue(false), nil
			}
		}
		return boolValue(true), nil
	case n.Op == OpDistinct:
		for i := range args {
			for j := i + 1; j < len(args); j++ {
				if sameValue(args[i], args[j]) {
					return boolValue(false), nil
				}
			}
		}
		return boolValue(true), nil
	case n.Op.IsCompare():
		return boolValue(compare(n.Op, args[0], args[1])), nil
	case n.Op.IsTransform():
		return transform(n.Op, args)
	case n.Op.IsStructural():
		return structural(n, args)
	}
	return Value{}, fmt.Errorf("operator %s: %w", n.Name, ErrUnsupported)
}

func evalLogic(n *Apply, env Assignment) (Value, error) {
	switch n.Op {
	case OpImplies:
		lhs, err := Eval(n.Args[0], env)
		if err != nil {
			return Value{}, err
		}
		if !lhs.Bool {
			return boolValue(true), nil
		}
		return Eval(n.Args[1], env)
	case OpAnd:
		for _, arg := range n.Args {
			v, err := Eval(arg, env)
			if err != nil {
				return Value{}, err
			}
			if !v.Bool {
				return boolValue(false), nil
			}
		}
		return boolValue(true), nil
	default:
		for _, arg := range n.Args {
			v, err := Eval(arg, env)
			if err != nil {
				return Value{}, err
			}
			if v.Bool {
				return boolValue(true), nil
			}
		}
		return boolValue(false), nil
	}
}

// evalSelect 沿store链查找下标, 到达原始数组时读取该内存单元的赋值
func evalSelect(array Expr, idx *uint256.Int, sel *Apply, env Assignment) (Value, error) {
	switch a := array.(type) {
	case *Apply:
		if a.Op != OpStore {
			break
		}
		storeIdx, err := Eval(a.Args[1], env)
		if err != nil {
			return Value{}, err
		}
		if storeIdx.BV.Eq(idx) {
			return Eval(a.Args[2], env)
		}
		return evalSelect(a.Args[0], idx, sel, env)
	case *ArrayRef:
		return lookup(env, sel.Loc.Name, a.Var.Width)
	}
	return Value{}, fmt.Errorf("select over %s: %w", array, ErrUnsupported)
}

func sameValue(a, b Value) bool {
	if a.IsBool || b.IsBool {
		return a.IsBool == b.IsBool && a.Bool == b.Bool
	}
	return a.BV.Eq(&b.BV)
}

// signFlip 翻转符号位, 使有符号比较可以用无符号比较实现
func signFlip(v Value) *uint256.Int {
	bit := new(uint256.Int).Lsh(uint256.NewInt(1), v.Width-1)
	return new(uint256.Int).Xor(&v.BV, bit)
}

func compare(op Op, a, b Value) bool {
	x, y := &a.BV, &b.BV
	if op.IsSigned() {
		x, y = signFlip(a), signFlip(b)
	}
	cmp := x.Cmp(y)
	switch op {
	case OpULT, OpSLT:
		return cmp < 0
	case OpULE, OpSLE:
		return cmp <= 0
	case OpUGT, OpSGT:
		return cmp > 0
	case OpUGE, OpSGE:
		return cmp >= 0
	}
	return false
}

func isNegative(v Value) bool {
	return new(uint256.Int).Rsh(&v.BV, v.Width-1).Uint64()&1 == 1
}

func signedBig(v Value) *big.Int {
	n := v.BV.ToBig()
	if isNegative(v) {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), v.Width))
	}
	return n
}

func fromSignedBig(n *big.Int, width uint) Value {
	modulus := new(big.Int).Lsh(big.NewInt(1), width)
	m := new(big.Int).Mod(n, modulus)
	var out uint256.Int
	out.SetFromBig(m)
	return bvValue(&out, width)
}

func shiftAmount(v Value, width uint) (uint, bool) {
	if !v.BV.IsUint64() || v.BV.Uint64() >= uint64(width) {
		return 0, false
	}
	return uint(v.BV.Uint64()), true
}

func transform(op Op, args []Value) (Value, error) {
	w := args[0].Width
	x := &args[0].BV
	r := new(uint256.Int)

	switch op {
	case OpBVNot:
		return bvValue(r.Not(x), w), nil
	case OpBVNeg:
		return bvValue(r.Neg(x), w), nil
	case OpAdd, OpMul, OpBVAnd, OpBVOr, OpBVXor:
		r.Set(x)
		for _, a := range args[1:] {
			switch op {
			case OpAdd:
				r.Add(r, &a.BV)
			case OpMul:
				r.Mul(r, &a.BV)
			case OpBVAnd:
				r.And(r, &a.BV)
			case OpBVOr:
				r.Or(r, &a.BV)
			case OpBVXor:
				r.Xor(r, &a.BV)
			}
			r.And(r, Mask(w))
		}
		return bvValue(r, w), nil
	}

	y := &args[1].BV
	switch op {
	case OpSub:
		return bvValue(r.Sub(x, y), w), nil
	case OpUDiv:
		if y.IsZero() {
			return bvValue(Mask(w), w), nil
		}
		return bvValue(r.Div(x, y), w), nil
	case OpURem:
		if y.IsZero() {
			return bvValue(x, w), nil
		}
		return bvValue(r.Mod(x, y), w), nil
	case OpSDiv:
		if y.IsZero() {
			if isNegative(args[0]) {
				return bvValue(uint256.NewInt(1), w), nil
			}
			return bvValue(Mask(w), w), nil
		}
		return fromSignedBig(new(big.Int).Quo(signedBig(args[0]), signedBig(args[1])), w), nil
	case OpSRem:
		if y.IsZero() {
			return bvValue(x, w), nil
		}
		return fromSignedBig(new(big.Int).Rem(signedBig(args[0]), signedBig(args[1])), w), nil
	case OpShl:
		n, ok := shiftAmount(args[1], w)
		if !ok {
			return bvValue(r, w), nil
		}
		return bvValue(r.Lsh(x, n), w), nil
	case OpLShr:
		n, ok := shiftAmount(args[1], w)
		if !ok {
			return bvValue(r, w), nil
		}
		return bvValue(r.Rsh(x, n), w), nil
	case OpAShr:
		n, ok := shiftAmount(args[1], w)
		if !ok {
			if !isNegative(args[0]) {
				return bvValue(r, w), nil
			}
			return bvValue(Mask(w), w), nil
		}
		return fromSignedBig(new(big.Int).Rsh(signedBig(args[0]), n), w), nil
	}
	return Value{}, fmt.Errorf("operator %s: %w", op, ErrUnsupported)
}

func structural(n *Apply, args []Value) (Value, error) {
	switch n.Op {
	case OpExtract:
		hi, lo := n.Indices[0], n.Indices[1]
		r := new(uint256.Int).Rsh(&args[0].BV, lo)
		return bvValue(r, hi-lo+1), nil
	case OpZeroExtend:
		return bvValue(&args[0].BV, n.Bits), nil
	case OpSignExtend:
		if !isNegative(args[0]) {
			return bvValue(&args[0].BV, n.Bits), nil
		}
		fill := new(uint256.Int).Xor(Mask(n.Bits), Mask(args[0].Width))
		return bvValue(new(uint256.Int).Or(&args[0].BV, fill), n.Bits), nil
	case OpConcat:
		r := new(uint256.Int)
		for _, a := range args {
			r.Lsh(r, a.Width)
			r.Or(r, &a.BV)
		}
		return bvValue(r, n.Bits), nil
	}
	return Value{}, fmt.Errorf("operator %s: %w", n.Name, ErrUnsupported)
}
