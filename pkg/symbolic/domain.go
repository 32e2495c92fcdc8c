package symbolic

import (
	"math/big"
	"sort"
	"strings"

	"github.com/holiman/uint256"
)

// Interval 闭区间 [Lo, Hi] (无符号)
type Interval struct {
	Lo uint256.Int
	Hi uint256.Int
}

// Domain 输入变量的取值域
// 规范形式: 互不相邻的升序区间并集, 减去严格位于区间内部的排除点
type Domain struct {
	Width    uint
	Ranges   []Interval
	Excluded []uint256.Int
}

// FullDomain 返回位宽的完整取值范围
func FullDomain(width uint) Domain {
	d := Domain{Width: width, Ranges: make([]Interval, 1)}
	d.Ranges[0].Hi.Set(Mask(width))
	return d
}

// IsEmpty 约束不可满足时取值域为空
func (d Domain) IsEmpty() bool { return len(d.Ranges) == 0 }

// IsFull 是否没有任何约束
func (d Domain) IsFull() bool {
	return len(d.Ranges) == 1 && len(d.Excluded) == 0 &&
		d.Ranges[0].Lo.IsZero() && d.Ranges[0].Hi.Eq(Mask(d.Width))
}

// Contains 检查取值是否属于该域
func (d Domain) Contains(v *uint256.Int) bool {
	for _, ex := range d.Excluded {
		if ex.Eq(v) {
			return false
		}
	}
	for _, r := range d.Ranges {
		if !v.Lt(&r.Lo) && !v.Gt(&r.Hi) {
			return true
		}
	}
	return false
}

// Equal 比较两个取值域
func (d Domain) Equal(o Domain) bool {
	if d.Width != o.Width || len(d.Ranges) != len(o.Ranges) || len(d.Excluded) != len(o.Excluded) {
		return false
	}
	for i := range d.Ranges {
		if !d.Ranges[i].Lo.Eq(&o.Ranges[i].Lo) || !d.Ranges[i].Hi.Eq(&o.Ranges[i].Hi) {
			return false
		}
	}
	for i := range d.Excluded {
		if !d.Excluded[i].Eq(&o.Excluded[i]) {
			return false
		}
	}
	return true
}

// String 返回 [lo, hi] ∪ [lo, hi] \ {x} 形式
func (d Domain) String() string {
	if d.IsEmpty() {
		return "∅"
	}
	parts := make([]string, len(d.Ranges))
	for i, r := range d.Ranges {
		parts[i] = "[" + r.Lo.Dec() + ", " + r.Hi.Dec() + "]"
	}
	s := strings.Join(parts, " ∪ ")
	if len(d.Excluded) > 0 {
		points := make([]string, len(d.Excluded))
		for i := range d.Excluded {
			points[i] = d.Excluded[i].Dec()
		}
		s += " \\ {" + strings.Join(points, ", ") + "}"
	}
	return s
}

// Boundaries 返回域边界附近的取值 (用于采样)
func (d Domain) Boundaries() []*uint256.Int {
	var out []*uint256.Int
	one := uint256.NewInt(1)
	for _, r := range d.Ranges {
		lo, hi := r.Lo, r.Hi
		out = append(out, lo.Clone(), hi.Clone())
		if lo.Lt(&hi) {
			out = append(out, new(uint256.Int).Add(&lo, one), new(uint256.Int).Sub(&hi, one))
		}
		if !lo.IsZero() {
			out = append(out, new(uint256.Int).Sub(&lo, one))
		}
		if !hi.Eq(Mask(d.Width)) {
			out = append(out, new(uint256.Int).Add(&hi, one))
		}
	}
	for i := range d.Excluded {
		out = append(out, d.Excluded[i].Clone())
	}
	return out
}

// InferDomains 根据控制流约束推断每个输入变量的取值域 (按声明顺序)
func InferDomains(p *Path) []Domain {
	return inferDomains(p, p.Classification())
}

// inferDomains 使用给定的分类结果; 签名计算期间不能回调 p.Classification
func inferDomains(p *Path, c *Classification) []Domain {
	inputs := p.Inputs()
	states := make(map[*Variable]*boundState, len(inputs))
	for _, v := range inputs {
		states[v] = newBoundState(v.Width)
	}

	for _, cons := range c.ControlFlow {
		applyBound(states, cons.Expr, false)
	}

	domains := make([]Domain, len(inputs))
	for i, v := range inputs {
		domains[i] = states[v].domain()
	}
	return domains
}

// boundState 推断过程中的上下界, 用big.Int避免扩展位宽比较时溢出
type boundState struct {
	width    uint
	ulo, uhi *big.Int
	slo, shi *big.Int
	excluded []*big.Int
}

func newBoundState(width uint) *boundState {
	modulus := new(big.Int).Lsh(big.NewInt(1), width)
	half := new(big.Int).Rsh(modulus, 1)
	return &boundState{
		width: width,
		ulo:   new(big.Int),
		uhi:   new(big.Int).Sub(modulus, big.NewInt(1)),
		slo:   new(big.Int).Neg(half),
		shi:   new(big.Int).Sub(half, big.NewInt(1)),
	}
}

// extension 比较主体相对于输入变量的位宽扩展方式
type extension int

const (
	extNone extension = iota
	extZero
	extSign
)

// subjectOf 识别 x, (_ zero_extend n) x, (_ sign_extend n) x, (_ extract w-1 0) x
func subjectOf(e Expr) (*Variable, extension) {
	switch n := e.(type) {
	case *VarRef:
		if n.Var.Kind == VarInput {
			return n.Var, extNone
		}
	case *Apply:
		if len(n.Args) != 1 {
			return nil, extNone
		}
		ref, ok := n.Args[0].(*VarRef)
		if !ok || ref.Var.Kind != VarInput {
			return nil, extNone
		}
		switch {
		case n.Op == OpZeroExtend && n.Indices[0] == 0, n.Op == OpSignExtend && n.Indices[0] == 0:
			return ref.Var, extNone
		case n.Op == OpZeroExtend:
			return ref.Var, extZero
		case n.Op == OpSignExtend:
			return ref.Var, extSign
		case n.Op == OpExtract && n.Indices[1] == 0 && n.Indices[0] == ref.Var.Width-1:
			return ref.Var, extNone
		}
	}
	return nil, extNone
}

// applyBound 将一条比较约束并入对应变量的上下界
// 无法识别为 "变量 比较 常量" 的约束被忽略
func applyBound(states map[*Variable]*boundState, e Expr, negated bool) {
	app, ok := e.(*Apply)
	if !ok {
		return
	}
	if app.Op == OpNot {
		applyBound(states, app.Args[0], !negated)
		return
	}
	if !app.Op.IsCompare() || len(app.Args) != 2 {
		return
	}

	op := app.Op
	if negated {
		op, _ = op.Negate()
	}

	v, ext := subjectOf(app.Args[0])
	lit, isLit := app.Args[1].(*Literal)
	if v == nil || !isLit {
		v, ext = subjectOf(app.Args[1])
		lit, isLit = app.Args[0].(*Literal)
		if v == nil || !isLit {
			return
		}
		op = op.Mirror()
	}

	s, ok := states[v]
	if !ok {
		return
	}
	c := lit.Value.ToBig()
	sc := toSigned(c, lit.Bits)

	switch ext {
	case extNone:
		if op.IsSigned() {
			s.signed(op, sc)
		} else {
			s.unsigned(op, c)
		}
	case extZero:
		if op.IsSigned() {
			s.unsigned(op, sc)
		} else {
			s.unsigned(op, c)
		}
	case extSign:
		if op.IsSigned() || op == OpEq || op == OpDistinct {
			s.signed(op, sc)
		}
	}
}

func toSigned(c *big.Int, width uint) *big.Int {
	half := new(big.Int).Lsh(big.NewInt(1), width-1)
	if c.Cmp(half) < 0 {
		return new(big.Int).Set(c)
	}
	return new(big.Int).Sub(c, new(big.Int).Lsh(big.NewInt(1), width))
}

// unsigned 并入 x op c, 其中c已经按无符号解释 (可能超出x的位宽)
func (s *boundState) unsigned(op Op, c *big.Int) {
	one := big.NewInt(1)
	switch op {
	case OpULT, OpSLT:
		setMin(s.uhi, new(big.Int).Sub(c, one))
	case OpULE, OpSLE:
		setMin(s.uhi, c)
	case OpUGT, OpSGT:
		setMax(s.ulo, new(big.Int).Add(c, one))
	case OpUGE, OpSGE:
		setMax(s.ulo, c)
	case OpEq:
		setMax(s.ulo, c)
		setMin(s.uhi, c)
	case OpDistinct:
		s.excluded = append(s.excluded, new(big.Int).Set(c))
	}
}

// signed 并入 x op c (有符号比较)
func (s *boundState) signed(op Op, c *big.Int) {
	one := big.NewInt(1)
	switch op {
	case OpSLT:
		setMin(s.shi, new(big.Int).Sub(c, one))
	case OpSLE:
		setMin(s.shi, c)
	case OpSGT:
		setMax(s.slo, new(big.Int).Add(c, one))
	case OpSGE:
		setMax(s.slo, c)
	case OpEq:
		setMax(s.slo, c)
		setMin(s.shi, c)
	case OpDistinct:
		if c.Cmp(s.slo) >= 0 && c.Cmp(s.shi) <= 0 {
			s.excluded = append(s.excluded, s.toUnsigned(c))
		}
	}
}

func (s *boundState) toUnsigned(c *big.Int) *big.Int {
	if c.Sign() >= 0 {
		return new(big.Int).Set(c)
	}
	return new(big.Int).Add(c, new(big.Int).Lsh(big.NewInt(1), s.width))
}

func setMin(dst, v *big.Int) {
	if v.Cmp(dst) < 0 {
		dst.Set(v)
	}
}

func setMax(dst, v *big.Int) {
	if v.Cmp(dst) > 0 {
		dst.Set(v)
	}
}

// domain 将无符号区间与有符号区间求交并规范化
func (s *boundState) domain() Domain {
	modulus := new(big.Int).Lsh(big.NewInt(1), s.width)
	zero := new(big.Int)
	minusOne := big.NewInt(-1)

	// 有符号区间映射到无符号空间: 非负部分在低端, 负数部分在高端
	var pieces [][2]*big.Int
	if lo, hi := maxBig(s.slo, zero), s.shi; lo.Cmp(hi) <= 0 {
		pieces = append(pieces, [2]*big.Int{lo, hi})
	}
	if lo, hi := s.slo, minBig(s.shi, minusOne); lo.Cmp(hi) <= 0 {
		pieces = append(pieces, [2]*big.Int{
			new(big.Int).Add(lo, modulus),
			new(big.Int).Add(hi, modulus),
		})
	}

	var ranges [][2]*big.Int
	for _, p := range pieces {
		lo, hi := maxBig(p[0], s.ulo), minBig(p[1], s.uhi)
		if lo.Cmp(hi) <= 0 {
			ranges = append(ranges, [2]*big.Int{new(big.Int).Set(lo), new(big.Int).Set(hi)})
		}
	}
	if len(ranges) == 2 && new(big.Int).Add(ranges[0][1], big.NewInt(1)).Cmp(ranges[1][0]) == 0 {
		ranges = [][2]*big.Int{{ranges[0][0], ranges[1][1]}}
	}

	excluded := make(map[string]*big.Int, len(s.excluded))
	for _, x := range s.excluded {
		excluded[x.String()] = x
	}
	isExcluded := func(v *big.Int) bool {
		_, ok := excluded[v.String()]
		return ok
	}

	// 排除点落在区间端点时收缩区间
	for changed := true; changed; {
		changed = false
		kept := ranges[:0]
		for _, r := range ranges {
			for r[0].Cmp(r[1]) <= 0 && isExcluded(r[0]) {
				r[0].Add(r[0], big.NewInt(1))
				changed = true
			}
			for r[0].Cmp(r[1]) <= 0 && isExcluded(r[1]) {
				r[1].Sub(r[1], big.NewInt(1))
				changed = true
			}
			if r[0].Cmp(r[1]) <= 0 {
				kept = append(kept, r)
			}
		}
		ranges = kept
	}

	d := Domain{Width: s.width, Ranges: make([]Interval, len(ranges))}
	for i, r := range ranges {
		d.Ranges[i].Lo.SetFromBig(r[0])
		d.Ranges[i].Hi.SetFromBig(r[1])
	}

	var interior []*big.Int
	for _, x := range excluded {
		for _, r := range ranges {
			if x.Cmp(r[0]) > 0 && x.Cmp(r[1]) < 0 {
				interior = append(interior, x)
				break
			}
		}
	}
	sort.Slice(interior, func(i, j int) bool { return interior[i].Cmp(interior[j]) < 0 })
	if len(interior) > 0 {
		d.Excluded = make([]uint256.Int, len(interior))
		for i, x := range interior {
			d.Excluded[i].SetFromBig(x)
		}
	}
	return d
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
