package symbolic

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"pathequiv/pkg/types"
)

// ErrParse 所有解析错误的哨兵值, 可用 errors.Is 判断
var ErrParse = errors.New("parse error")

// ParseError 单个路径文件的解析错误
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrParse }

// MaxWidth 支持的最大位宽
const MaxWidth = 256

var (
	memSymbolPattern = regexp.MustCompile(`^mem_([0-9a-fA-F]+)_(\d+)_(\d+)$`)
	pathIndexPattern = regexp.MustCompile(`_path_(\d+)`)
	leadingInteger   = regexp.MustCompile(`^\s*(\d+)`)
)

// 注释中的元数据键 (兼容引擎输出的中文键名)
var (
	indexKeys  = []string{"path index", "path_index", "path-index", "路径索引"}
	outputKeys = []string{"output", "program output", "程序输出"}
)

// ParseFile 从磁盘读取并解析一个路径文件
func ParseFile(file string) (*Path, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open path file: %w", err)
	}
	defer f.Close()

	p, err := ParsePath(f, filepath.Base(file))
	if err != nil {
		return nil, err
	}
	p.Source = file
	return p, nil
}

// ParsePath 解析一个路径文件
// name用于错误信息以及从 _path_<n> 后缀推断路径索引
func ParsePath(r io.Reader, name string) (*Path, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return parseSource(string(data), name)
}

// pathMeta 从注释行中提取的元数据
type pathMeta struct {
	index  int
	output []string
}

// splitSource 将源文本拆为SMT正文与元数据
// 注释行在正文中替换为空行, 以保持错误行号与文件一致
func splitSource(src string) (string, pathMeta) {
	meta := pathMeta{index: -1}
	var body strings.Builder
	inOutput := false

	for _, raw := range strings.Split(src, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, ";") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, ";"))
			key, value, ok := splitMeta(comment)
			switch {
			case ok && matchesKey(key, indexKeys):
				if m := leadingInteger.FindStringSubmatch(value); m != nil {
					if n, err := strconv.Atoi(m[1]); err == nil {
						meta.index = n
					}
				}
				inOutput = false
			case ok && matchesKey(key, outputKeys):
				if value != "" {
					meta.output = []string{value}
					inOutput = false
				} else {
					meta.output = nil
					inOutput = true
				}
			case inOutput:
				meta.output = append(meta.output, comment)
			}
			body.WriteByte('\n')
			continue
		}

		if inOutput {
			meta.output = append(meta.output, trimmed)
			body.WriteByte('\n')
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	return body.String(), meta
}

func splitMeta(comment string) (string, string, bool) {
	comment = strings.Replace(comment, "：", ":", 1)
	idx := strings.IndexByte(comment, ':')
	if idx < 0 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(comment[:idx])), strings.TrimSpace(comment[idx+1:]), true
}

func matchesKey(key string, keys []string) bool {
	for _, k := range keys {
		if key == k {
			return true
		}
	}
	return false
}

func parseSource(src, name string) (*Path, error) {
	body, meta := splitSource(src)

	nodes, err := readSexprs(body)
	if err != nil {
		var se *syntaxError
		if errors.As(err, &se) {
			return nil, &ParseError{File: name, Line: se.line, Msg: se.msg}
		}
		return nil, &ParseError{File: name, Msg: err.Error()}
	}

	b := newPathBuilder(name)
	for _, node := range nodes {
		if err := b.command(node); err != nil {
			return nil, err
		}
	}

	p := b.path
	p.Index = meta.index
	if p.Index < 0 {
		if m := pathIndexPattern.FindAllStringSubmatch(name, -1); len(m) > 0 {
			if n, err := strconv.Atoi(m[len(m)-1][1]); err == nil {
				p.Index = n
			}
		}
	}
	if len(meta.output) > 0 {
		p.Output = types.ParseObservedOutput(strings.Join(meta.output, "\n"))
	}
	return p, nil
}

// slotKey 数组访问位置的键
type slotKey struct {
	array   string
	base    string
	address uint64
}

// addrKey 用于计算访问轮次的地址键
type addrKey struct {
	base    string
	address uint64
}

type pathBuilder struct {
	name    string
	path    *Path
	symbols map[string]*Variable
	memory  map[string]*MemoryLocation
	latest  map[slotKey]*MemoryLocation
	epochs  map[addrKey]int
}

func newPathBuilder(name string) *pathBuilder {
	return &pathBuilder{
		name:    name,
		path:    &Path{Index: -1, Name: name},
		symbols: make(map[string]*Variable),
		memory:  make(map[string]*MemoryLocation),
		latest:  make(map[slotKey]*MemoryLocation),
		epochs:  make(map[addrKey]int),
	}
}

func (b *pathBuilder) errorf(node *sexpr, format string, args ...interface{}) error {
	return &ParseError{File: b.name, Line: node.line, Msg: fmt.Sprintf(format, args...)}
}

// command 处理一条顶层命令
func (b *pathBuilder) command(node *sexpr) error {
	if !node.isList {
		return b.errorf(node, "unexpected token %q at top level", node.atom)
	}

	switch node.head() {
	case "declare-fun":
		if len(node.list) != 4 {
			return b.errorf(node, "malformed declare-fun")
		}
		if !node.list[2].isList || len(node.list[2].list) != 0 {
			return b.errorf(node, "functions with arguments are not supported")
		}
		return b.declare(node, node.list[1], node.list[3])
	case "declare-const":
		if len(node.list) != 3 {
			return b.errorf(node, "malformed declare-const")
		}
		return b.declare(node, node.list[1], node.list[2])
	case "assert":
		if len(node.list) != 2 {
			return b.errorf(node, "malformed assert")
		}
		e, err := b.convert(node.list[1], nil)
		if err != nil {
			return err
		}
		if app, ok := e.(*Apply); ok && app.Op == OpUnknown {
			b.addConstraint(e)
			return nil
		}
		if e.Width() != 0 || isArray(e) {
			return b.errorf(node, "assertion is not boolean: %s", e)
		}
		b.addConstraint(e)
		return nil
	case "set-logic", "set-info", "set-option", "check-sat", "get-model", "get-value", "push", "pop", "exit":
		return nil
	default:
		return b.errorf(node, "unsupported command %q", node.head())
	}
}

// addConstraint 顶层的and被拆分为独立约束
func (b *pathBuilder) addConstraint(e Expr) {
	if app, ok := e.(*Apply); ok && app.Op == OpAnd {
		for _, arg := range app.Args {
			b.addConstraint(arg)
		}
		return
	}
	b.path.Constraints = append(b.path.Constraints, &Constraint{
		Index: len(b.path.Constraints),
		Expr:  e,
		Text:  e.String(),
	})
}

func (b *pathBuilder) declare(node, nameNode, sortNode *sexpr) error {
	if nameNode.isList {
		return b.errorf(node, "malformed declaration name")
	}
	name := nameNode.atom
	if _, exists := b.symbols[name]; exists {
		return b.errorf(node, "duplicate declaration of %q", name)
	}

	v := &Variable{Name: name, Kind: VarInput}
	if sortNode.isList && sortNode.head() == "Array" && len(sortNode.list) == 3 {
		idxWidth, err := b.bitVecWidth(sortNode.list[1])
		if err != nil {
			return err
		}
		elemWidth, err := b.bitVecWidth(sortNode.list[2])
		if err != nil {
			return err
		}
		v.Kind = VarArray
		v.Width = elemWidth
		v.IndexWidth = idxWidth
	} else {
		width, err := b.bitVecWidth(sortNode)
		if err != nil {
			return err
		}
		v.Width = width
	}

	if v.Kind == VarInput {
		if m := memSymbolPattern.FindStringSubmatch(name); m != nil {
			addr, errA := strconv.ParseUint(m[1], 16, 64)
			serial, errS := strconv.Atoi(m[2])
			if errA == nil && errS == nil {
				v.Kind = VarMemory
				key := addrKey{address: addr}
				loc := &MemoryLocation{
					Name:    name,
					Address: addr,
					Serial:  serial,
					Epoch:   b.epochs[key],
					Width:   v.Width,
				}
				b.epochs[key]++
				b.memory[name] = loc
				b.path.Memory = append(b.path.Memory, loc)
			}
		}
	}

	b.symbols[name] = v
	b.path.Variables = append(b.path.Variables, v)
	return nil
}

func (b *pathBuilder) bitVecWidth(sort *sexpr) (uint, error) {
	if !sort.isList || len(sort.list) != 3 || sort.head() != "_" || sort.list[1].atom != "BitVec" {
		return 0, b.errorf(sort, "unsupported sort %s", sort)
	}
	width, err := strconv.ParseUint(sort.list[2].atom, 10, 32)
	if err != nil || width == 0 || width > MaxWidth {
		return 0, b.errorf(sort, "unsupported bit-vector width %s", sort.list[2])
	}
	return uint(width), nil
}

// letScope let绑定的词法作用域
type letScope struct {
	bindings map[string]Expr
	parent   *letScope
}

func (s *letScope) lookup(name string) (Expr, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if e, ok := cur.bindings[name]; ok {
			return e, true
		}
	}
	return nil, false
}

// convert 将S表达式转换为类型化表达式树
func (b *pathBuilder) convert(node *sexpr, scope *letScope) (Expr, error) {
	if !node.isList {
		return b.atom(node, scope)
	}
	if len(node.list) == 0 {
		return nil, b.errorf(node, "empty expression")
	}

	head := node.list[0]
	if head.isList {
		return b.indexed(node, scope)
	}

	switch head.atom {
	case "_":
		return b.bvLiteral(node)
	case "let":
		return b.let(node, scope)
	}

	args := make([]Expr, 0, len(node.list)-1)
	for _, child := range node.list[1:] {
		arg, err := b.convert(child, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	op, known := LookupOp(head.atom)
	if !known {
		app := &Apply{Op: OpUnknown, Name: head.atom, Args: args}
		if len(args) > 0 {
			app.Bits = args[0].Width()
		}
		return app, nil
	}
	return b.apply(node, op, head.atom, nil, args)
}

func (b *pathBuilder) atom(node *sexpr, scope *letScope) (Expr, error) {
	text := node.atom
	switch {
	case text == "true":
		return &BoolLiteral{Value: true}, nil
	case text == "false":
		return &BoolLiteral{Value: false}, nil
	case strings.HasPrefix(text, "#x"):
		return b.radixLiteral(node, text[2:], 16, uint(len(text)-2)*4)
	case strings.HasPrefix(text, "#b"):
		return b.radixLiteral(node, text[2:], 2, uint(len(text)-2))
	}

	if e, ok := scope.lookup(text); ok {
		return e, nil
	}
	v, ok := b.symbols[text]
	if !ok {
		return nil, b.errorf(node, "undeclared symbol %q", text)
	}
	switch v.Kind {
	case VarMemory:
		return &MemRef{Loc: b.memory[text], Var: v}, nil
	case VarArray:
		return &ArrayRef{Var: v}, nil
	default:
		return &VarRef{Var: v}, nil
	}
}

func (b *pathBuilder) radixLiteral(node *sexpr, digits string, base int, width uint) (Expr, error) {
	if digits == "" || width > MaxWidth {
		return nil, b.errorf(node, "malformed literal %q", node.atom)
	}
	n, ok := new(big.Int).SetString(digits, base)
	if !ok {
		return nil, b.errorf(node, "malformed literal %q", node.atom)
	}
	lit := &Literal{Bits: width}
	lit.Value.SetFromBig(n)
	return lit, nil
}

// bvLiteral 解析 (_ bvN W)
func (b *pathBuilder) bvLiteral(node *sexpr) (Expr, error) {
	if len(node.list) != 3 || node.list[1].isList || !strings.HasPrefix(node.list[1].atom, "bv") {
		return nil, b.errorf(node, "malformed literal %s", node)
	}
	width, err := strconv.ParseUint(node.list[2].atom, 10, 32)
	if err != nil || width == 0 || width > MaxWidth {
		return nil, b.errorf(node, "unsupported literal width in %s", node)
	}
	n, ok := new(big.Int).SetString(node.list[1].atom[2:], 10)
	if !ok || n.Sign() < 0 {
		return nil, b.errorf(node, "malformed literal %s", node)
	}
	if n.BitLen() > int(width) {
		return nil, b.errorf(node, "literal %s does not fit in %d bits", n, width)
	}
	lit := &Literal{Bits: uint(width)}
	lit.Value.SetFromBig(n)
	return lit, nil
}

// indexed 解析 ((_ extract i j) x) 形式的索引运算
func (b *pathBuilder) indexed(node *sexpr, scope *letScope) (Expr, error) {
	head := node.list[0]
	if head.head() != "_" || len(head.list) < 2 || head.list[1].isList {
		return nil, b.errorf(node, "malformed indexed operator %s", head)
	}
	name := head.list[1].atom

	indices := make([]uint, 0, len(head.list)-2)
	for _, idx := range head.list[2:] {
		n, err := strconv.ParseUint(idx.atom, 10, 32)
		if err != nil {
			return nil, b.errorf(node, "malformed index %s in %s", idx, head)
		}
		indices = append(indices, uint(n))
	}

	args := make([]Expr, 0, len(node.list)-1)
	for _, child := range node.list[1:] {
		arg, err := b.convert(child, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}

	op, known := LookupOp(name)
	if !known || !op.IsStructural() || op == OpConcat {
		app := &Apply{Op: OpUnknown, Name: name, Indices: indices, Args: args}
		if len(args) > 0 {
			app.Bits = args[0].Width()
		}
		return app, nil
	}
	return b.apply(node, op, name, indices, args)
}

// let 展开 (let ((n e) ...) body), 绑定在外层作用域中求值
func (b *pathBuilder) let(node *sexpr, scope *letScope) (Expr, error) {
	if len(node.list) != 3 || !node.list[1].isList {
		return nil, b.errorf(node, "malformed let")
	}
	inner := &letScope{bindings: make(map[string]Expr), parent: scope}
	for _, binding := range node.list[1].list {
		if !binding.isList || len(binding.list) != 2 || binding.list[0].isList {
			return nil, b.errorf(binding, "malformed let binding")
		}
		e, err := b.convert(binding.list[1], scope)
		if err != nil {
			return nil, err
		}
		inner.bindings[binding.list[0].atom] = e
	}
	return b.convert(node.list[2], inner)
}

// arity 运算符允许的参数个数, max<0表示不限
func arity(op Op) (int, int) {
	switch op {
	case OpEq, OpDistinct:
		return 2, -1
	case OpAdd, OpMul, OpBVAnd, OpBVOr, OpBVXor, OpConcat:
		return 2, -1
	case OpAnd, OpOr:
		return 1, -1
	case OpBVNot, OpBVNeg, OpNot, OpExtract, OpZeroExtend, OpSignExtend:
		return 1, 1
	case OpIte, OpStore:
		return 3, 3
	default:
		return 2, 2
	}
}

func (b *pathBuilder) apply(node *sexpr, op Op, name string, indices []uint, args []Expr) (Expr, error) {
	lo, hi := arity(op)
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		return nil, b.errorf(node, "operator %s: unexpected number of arguments (%d)", name, len(args))
	}

	app := &Apply{Op: op, Name: name, Indices: indices, Args: args}
	switch {
	case op.IsCompare(), op.IsLogic() && op != OpIte:
		app.Bits = 0
	case op.IsTransform():
		app.Bits = args[0].Width()
	case op == OpIte:
		app.Bits = args[1].Width()
	case op == OpExtract:
		if len(indices) != 2 || indices[0] < indices[1] || indices[0] >= args[0].Width() {
			return nil, b.errorf(node, "invalid extract bounds for %d-bit operand", args[0].Width())
		}
		app.Bits = indices[0] - indices[1] + 1
	case op == OpZeroExtend, op == OpSignExtend:
		if len(indices) != 1 || args[0].Width()+indices[0] > MaxWidth {
			return nil, b.errorf(node, "invalid %s amount", name)
		}
		app.Bits = args[0].Width() + indices[0]
	case op == OpConcat:
		for _, arg := range args {
			app.Bits += arg.Width()
		}
		if app.Bits > MaxWidth {
			return nil, b.errorf(node, "concat result exceeds %d bits", MaxWidth)
		}
	case op == OpSelect, op == OpStore:
		array := arrayOf(args[0])
		if array == nil {
			return nil, b.errorf(node, "%s on a non-array operand", name)
		}
		if op == OpSelect {
			app.Bits = array.Width
		}
		app.Loc = b.access(array, args[1], op == OpStore)
	}
	return app, nil
}

// access 记录一次数组访问并返回对应的内存位置
// store总是开启一个新的访问轮次, select读取该位置最近一次写入
func (b *pathBuilder) access(array *Variable, index Expr, write bool) *MemoryLocation {
	base, addr := addressOf(index)
	slot := slotKey{array: array.Name, base: base, address: addr}
	if loc, ok := b.latest[slot]; ok && !write {
		return loc
	}

	key := addrKey{base: base, address: addr}
	loc := &MemoryLocation{
		Name:    fmt.Sprintf("%s[%s]", array.Name, index),
		Base:    base,
		Address: addr,
		Serial:  -1,
		Epoch:   b.epochs[key],
		Width:   array.Width,
	}
	b.epochs[key]++
	b.latest[slot] = loc
	b.path.Memory = append(b.path.Memory, loc)
	return loc
}

// addressOf 将下标表达式拆分为 (符号基址, 常量偏移)
func addressOf(index Expr) (string, uint64) {
	switch e := index.(type) {
	case *Literal:
		if e.Value.IsUint64() {
			return "", e.Value.Uint64()
		}
	case *VarRef, *MemRef:
		return e.String(), 0
	case *Apply:
		if e.Op == OpAdd && len(e.Args) == 2 {
			if lit, ok := e.Args[1].(*Literal); ok && lit.Value.IsUint64() {
				return e.Args[0].String(), lit.Value.Uint64()
			}
			if lit, ok := e.Args[0].(*Literal); ok && lit.Value.IsUint64() {
				return e.Args[1].String(), lit.Value.Uint64()
			}
		}
	}
	return index.String(), 0
}

func arrayOf(e Expr) *Variable {
	switch a := e.(type) {
	case *ArrayRef:
		return a.Var
	case *Apply:
		if a.Op == OpStore {
			return arrayOf(a.Args[0])
		}
	}
	return nil
}

func isArray(e Expr) bool {
	return arrayOf(e) != nil
}

// literalValue 返回常量的值, 非常量返回nil
func literalValue(e Expr) *uint256.Int {
	if lit, ok := e.(*Literal); ok {
		return &lit.Value
	}
	return nil
}
