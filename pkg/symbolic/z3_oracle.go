//go:build z3
// +build z3

package symbolic

import (
	"context"
	"fmt"
	"strconv"
	"time"

	z3 "github.com/mitchellh/go-z3"
)

// z3MaxWidth 整数理论编码能精确表示的最大位宽
const z3MaxWidth = 62

// Z3Oracle 使用z3检查 (F1 ∧ ¬F2) ∨ (¬F1 ∧ F2) 是否可满足
// 位向量被编码为 [0, 2^w) 上的整数, 只支持比较与逻辑运算
type Z3Oracle struct {
	timeout time.Duration
}

// NewZ3Oracle 创建z3判定器
func NewZ3Oracle(timeout time.Duration) (*Z3Oracle, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Z3Oracle{timeout: timeout}, nil
}

func (o *Z3Oracle) Name() string { return StrategyZ3 }

type z3Result struct {
	equal bool
	err   error
}

// Equisatisfiable 每次调用使用独立的z3上下文, 可并发调用
func (o *Z3Oracle) Equisatisfiable(ctx context.Context, a, b *Path) (bool, error) {
	symbols, err := unifySymbols(a, b)
	if err != nil {
		return false, err
	}

	done := make(chan z3Result, 1)
	go func() {
		equal, err := o.check(symbols, a, b)
		done <- z3Result{equal: equal, err: err}
	}()

	select {
	case res := <-done:
		return res.equal, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (o *Z3Oracle) check(symbols []*unifiedSymbol, a, b *Path) (bool, error) {
	config := z3.NewConfig()
	defer config.Close()
	config.SetParamValue("timeout", strconv.FormatInt(o.timeout.Milliseconds(), 10))

	zctx := z3.NewContext(config)
	defer zctx.Close()

	enc := &z3Encoder{ctx: zctx, sort: zctx.IntSort(), constsA: map[string]*z3.AST{}, constsB: map[string]*z3.AST{}}
	solver := zctx.NewSolver()
	defer solver.Close()

	for i, sym := range symbols {
		if sym.width > z3MaxWidth {
			return false, fmt.Errorf("%d-bit symbol: %w", sym.width, ErrOracleUnsupported)
		}
		c := zctx.Const(zctx.Symbol("s"+strconv.Itoa(i)), enc.sort)
		solver.Assert(c.Ge(enc.int(0)))
		solver.Assert(c.Lt(enc.int(1 << sym.width)))
		for _, name := range sym.namesA {
			enc.constsA[name] = c
		}
		for _, name := range sym.namesB {
			enc.constsB[name] = c
		}
	}

	fa, err := enc.conjunction(a.Constraints, enc.constsA)
	if err != nil {
		return false, err
	}
	fb, err := enc.conjunction(b.Constraints, enc.constsB)
	if err != nil {
		return false, err
	}

	solver.Assert(fa.And(fb.Not()).Or(fa.Not().And(fb)))
	switch solver.Check() {
	case z3.False:
		return true, nil
	case z3.True:
		return false, nil
	default:
		return false, fmt.Errorf("z3 returned undefined (possibly timeout)")
	}
}

type z3Encoder struct {
	ctx     *z3.Context
	sort    *z3.Sort
	constsA map[string]*z3.AST
	constsB map[string]*z3.AST
}

func (e *z3Encoder) int(v int) *z3.AST { return e.ctx.Int(v, e.sort) }

func (e *z3Encoder) conjunction(constraints []*Constraint, consts map[string]*z3.AST) (*z3.AST, error) {
	out := e.ctx.True()
	for _, c := range constraints {
		ast, err := e.encode(c.Expr, consts)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", c.Index, err)
		}
		out = out.And(ast)
	}
	return out, nil
}

// signed 将 [0, 2^w) 上的整数映射为有符号值
func (e *z3Encoder) signed(x *z3.AST, width uint) *z3.AST {
	half := e.int(1 << (width - 1))
	return x.Ge(half).Ite(x.Sub(e.int(1<<width)), x)
}

func (e *z3Encoder) encode(expr Expr, consts map[string]*z3.AST) (*z3.AST, error) {
	switch n := expr.(type) {
	case *BoolLiteral:
		if n.Value {
			return e.ctx.True(), nil
		}
		return e.ctx.False(), nil
	case *Literal:
		if n.Bits > z3MaxWidth {
			return nil, fmt.Errorf("%d-bit literal: %w", n.Bits, ErrOracleUnsupported)
		}
		return e.int(int(n.Value.Uint64())), nil
	case *VarRef, *MemRef:
		c, ok := consts[n.String()]
		if !ok {
			return nil, fmt.Errorf("%s: %w", n, ErrUnbound)
		}
		return c, nil
	case *Apply:
		return e.encodeApply(n, consts)
	}
	return nil, fmt.Errorf("%s: %w", expr, ErrOracleUnsupported)
}

func (e *z3Encoder) encodeApply(n *Apply, consts map[string]*z3.AST) (*z3.AST, error) {
	args := make([]*z3.AST, len(n.Args))
	for i, arg := range n.Args {
		ast, err := e.encode(arg, consts)
		if err != nil {
			return nil, err
		}
		args[i] = ast
	}

	switch n.Op {
	case OpNot:
		return args[0].Not(), nil
	case OpAnd:
		return args[0].And(args[1:]...), nil
	case OpOr:
		return args[0].Or(args[1:]...), nil
	case OpImplies:
		return args[0].Implies(args[1]), nil
	case OpIte:
		return args[0].Ite(args[1], args[2]), nil
	case OpEq:
		out := args[0].Eq(args[1])
		for _, arg := range args[2:] {
			out = out.And(args[0].Eq(arg))
		}
		return out, nil
	case OpDistinct:
		return args[0].Distinct(args[1:]...), nil
	case OpULT:
		return args[0].Lt(args[1]), nil
	case OpULE:
		return args[0].Le(args[1]), nil
	case OpUGT:
		return args[0].Gt(args[1]), nil
	case OpUGE:
		return args[0].Ge(args[1]), nil
	case OpSLT, OpSLE, OpSGT, OpSGE:
		w := n.Args[0].Width()
		x, y := e.signed(args[0], w), e.signed(args[1], w)
		switch n.Op {
		case OpSLT:
			return x.Lt(y), nil
		case OpSLE:
			return x.Le(y), nil
		case OpSGT:
			return x.Gt(y), nil
		default:
			return x.Ge(y), nil
		}
	case OpZeroExtend:
		return args[0], nil
	case OpExtract:
		if n.Indices[1] == 0 && n.Indices[0] == n.Args[0].Width()-1 {
			return args[0], nil
		}
	}
	return nil, fmt.Errorf("operator %s: %w", n.Name, ErrOracleUnsupported)
}
