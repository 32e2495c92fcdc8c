package symbolic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// AddressPolicy 内存地址的比较方式
type AddressPolicy string

const (
	// AddressRelative 按相对于同一基址最低地址的偏移比较
	AddressRelative AddressPolicy = "relative"
	// AddressAbsolute 按绝对地址比较
	AddressAbsolute AddressPolicy = "absolute"
)

// Valid 检查策略名称
func (p AddressPolicy) Valid() bool {
	return p == AddressRelative || p == AddressAbsolute
}

// AccessKind 内存访问类型
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
)

func (k AccessKind) String() string {
	if k == AccessWrite {
		return "write"
	}
	return "read"
}

// AccessDescriptor 一次内存访问的规范化描述
type AccessDescriptor struct {
	Kind    AccessKind
	Base    int    // 基址编号: -1为绝对地址, 否则为符号基址按首次出现排序的序号
	Address uint64 // 原始地址 (或相对符号基址的常量偏移)
	Offset  uint64 // 相对同一基址最低地址的偏移
	Epoch   int
}

// AccessKey 参与序列比较的访问键
type AccessKey struct {
	Kind     AccessKind
	Base     int
	Position uint64
	Epoch    int
}

// Key 按地址策略生成比较键
func (d AccessDescriptor) Key(policy AddressPolicy) AccessKey {
	pos := d.Offset
	if policy == AddressAbsolute {
		pos = d.Address
	}
	return AccessKey{Kind: d.Kind, Base: d.Base, Position: pos, Epoch: d.Epoch}
}

func (d AccessDescriptor) String() string {
	base := "abs"
	if d.Base >= 0 {
		base = fmt.Sprintf("b%d", d.Base)
	}
	return fmt.Sprintf("%s %s+%d#%d", d.Kind, base, d.Offset, d.Epoch)
}

// TransformDescriptor 一次数据变换运算 (运算符, 参数个数, 常量操作数)
type TransformDescriptor struct {
	Op       Op
	Arity    int
	HasConst bool
	Const    uint256.Int
}

func (t TransformDescriptor) String() string {
	if t.HasConst {
		return fmt.Sprintf("%s/%d const=%s", t.Op, t.Arity, t.Const.Dec())
	}
	return fmt.Sprintf("%s/%d", t.Op, t.Arity)
}

func (t TransformDescriptor) less(o TransformDescriptor) bool {
	if t.Op != o.Op {
		return t.Op < o.Op
	}
	if t.Arity != o.Arity {
		return t.Arity < o.Arity
	}
	if t.HasConst != o.HasConst {
		return !t.HasConst
	}
	return t.Const.Lt(&o.Const)
}

// Signature 路径签名, 每条路径计算一次
type Signature struct {
	Domains      []Domain
	Counts       [LayerCount]int
	Unclassified int
	Memory       []AccessDescriptor
	Transforms   []TransformDescriptor
	Fingerprint  common.Hash
}

func computeSignature(p *Path, c *Classification) *Signature {
	sig := &Signature{
		Domains:      inferDomains(p, c),
		Unclassified: len(c.Unclassified),
		Memory:       memoryDescriptors(c.Memory),
		Transforms:   transformDescriptors(c.Transform),
	}
	for _, l := range Layers {
		sig.Counts[l] = len(c.Bucket(l))
	}
	sig.Fingerprint = fingerprint(p, sig)
	return sig
}

// memoryDescriptors 按约束顺序收集内存访问
// store目标和 = 的左操作数视为写, 其余为读
func memoryDescriptors(constraints []*Constraint) []AccessDescriptor {
	type access struct {
		loc  *MemoryLocation
		kind AccessKind
	}
	var accesses []access

	for _, c := range constraints {
		seen := make(map[access]bool)
		record := func(loc *MemoryLocation, kind AccessKind) {
			a := access{loc: loc, kind: kind}
			if loc == nil || seen[a] {
				return
			}
			seen[a] = true
			accesses = append(accesses, a)
		}

		Walk(c.Expr, func(node, parent Expr, argIndex int) bool {
			switch n := node.(type) {
			case *MemRef:
				kind := AccessRead
				if parent == c.Expr && argIndex == 0 {
					if app, ok := parent.(*Apply); ok && app.Op == OpEq {
						kind = AccessWrite
					}
				}
				record(n.Loc, kind)
			case *Apply:
				switch n.Op {
				case OpSelect:
					record(n.Loc, AccessRead)
				case OpStore:
					record(n.Loc, AccessWrite)
				}
			}
			return true
		})
	}

	// 符号基址按首次出现编号, 偏移相对同一基址的最低地址
	baseIDs := make(map[string]int)
	lowest := make(map[string]uint64)
	for _, a := range accesses {
		if a.loc.Base != "" {
			if _, ok := baseIDs[a.loc.Base]; !ok {
				baseIDs[a.loc.Base] = len(baseIDs)
			}
		}
		if low, ok := lowest[a.loc.Base]; !ok || a.loc.Address < low {
			lowest[a.loc.Base] = a.loc.Address
		}
	}

	out := make([]AccessDescriptor, len(accesses))
	for i, a := range accesses {
		base := -1
		if a.loc.Base != "" {
			base = baseIDs[a.loc.Base]
		}
		out[i] = AccessDescriptor{
			Kind:    a.kind,
			Base:    base,
			Address: a.loc.Address,
			Offset:  a.loc.Address - lowest[a.loc.Base],
			Epoch:   a.loc.Epoch,
		}
	}
	return out
}

// transformDescriptors 收集变换层约束中的所有算术/位运算节点, 规范排序
func transformDescriptors(constraints []*Constraint) []TransformDescriptor {
	var out []TransformDescriptor
	for _, c := range constraints {
		Walk(c.Expr, func(node, parent Expr, argIndex int) bool {
			if IsAddressIndex(parent, argIndex) {
				return false
			}
			app, ok := node.(*Apply)
			if !ok || !app.Op.IsTransform() {
				return true
			}
			d := TransformDescriptor{Op: app.Op, Arity: len(app.Args)}
			for _, arg := range app.Args {
				if v := literalValue(arg); v != nil {
					d.HasConst = true
					d.Const.Set(v)
					break
				}
			}
			out = append(out, d)
			return true
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// fingerprint 路径内容的Keccak-256摘要, 用作比较结果缓存的键
func fingerprint(p *Path, sig *Signature) common.Hash {
	var sb strings.Builder
	for _, v := range p.Variables {
		fmt.Fprintf(&sb, "var %s %d %d %d\n", v.Name, v.Width, v.Kind, v.IndexWidth)
	}
	for _, d := range sig.Domains {
		fmt.Fprintf(&sb, "dom %d %s\n", d.Width, d)
	}
	for _, m := range sig.Memory {
		fmt.Fprintf(&sb, "mem %s abs=%d\n", m, m.Address)
	}
	for _, t := range sig.Transforms {
		fmt.Fprintf(&sb, "op %s\n", t)
	}
	for _, c := range p.Constraints {
		fmt.Fprintf(&sb, "assert %s\n", c.Text)
	}
	fmt.Fprintf(&sb, "output %s %s\n", p.Output.Kind(), p.Output)
	return crypto.Keccak256Hash([]byte(sb.String()))
}
