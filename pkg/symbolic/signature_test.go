package symbolic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDescriptors(t *testing.T) {
	src := `(declare-fun scanf_0_32 () (_ BitVec 32))
(declare-fun mem_7ffeff20_1_32 () (_ BitVec 32))
(declare-fun mem_7ffeff28_2_32 () (_ BitVec 32))
(declare-fun mem_7ffeff20_3_32 () (_ BitVec 32))
(assert (= mem_7ffeff20_1_32 scanf_0_32))
(assert (bvult mem_7ffeff28_2_32 mem_7ffeff20_1_32))
(assert (= mem_7ffeff20_3_32 (_ bv0 32)))
`
	p := mustParse(t, "mem", src)
	got := p.Signature().Memory
	require.Len(t, got, 4)

	want := []AccessDescriptor{
		{Kind: AccessWrite, Base: -1, Address: 0x7ffeff20, Offset: 0, Epoch: 0},
		{Kind: AccessRead, Base: -1, Address: 0x7ffeff28, Offset: 8, Epoch: 0},
		{Kind: AccessRead, Base: -1, Address: 0x7ffeff20, Offset: 0, Epoch: 0},
		{Kind: AccessWrite, Base: -1, Address: 0x7ffeff20, Offset: 0, Epoch: 1},
	}
	assert.Equal(t, want, got)

	assert.Equal(t, AccessKey{Kind: AccessRead, Base: -1, Position: 8}, got[1].Key(AddressRelative))
	assert.Equal(t, AccessKey{Kind: AccessRead, Base: -1, Position: 0x7ffeff28}, got[1].Key(AddressAbsolute))
}

func TestMemoryDescriptors_SymbolicBase(t *testing.T) {
	src := `(declare-fun heap () (Array (_ BitVec 32) (_ BitVec 32)))
(declare-fun ptr () (_ BitVec 32))
(assert (bvult (select heap (bvadd ptr #x00000008)) (select heap (bvadd ptr #x00000004))))
`
	p := mustParse(t, "base", src)
	got := p.Signature().Memory
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Base)
	assert.Equal(t, uint64(4), got[0].Offset)
	assert.Equal(t, uint64(0), got[1].Offset)
}

func TestTransformDescriptors(t *testing.T) {
	a := mustParse(t, "a", `(declare-fun x () (_ BitVec 32))
(declare-fun y () (_ BitVec 32))
(assert (= (bvadd x (_ bv1 32)) (bvmul y (_ bv4 32))))
`)
	b := mustParse(t, "b", `(declare-fun p () (_ BitVec 32))
(declare-fun q () (_ BitVec 32))
(assert (= (bvmul q (_ bv4 32)) (bvadd p (_ bv1 32))))
`)

	ta, tb := a.Signature().Transforms, b.Signature().Transforms
	require.Len(t, ta, 2)
	assert.Equal(t, ta, tb, "descriptors are canonically sorted and name independent")
	assert.Equal(t, OpAdd, ta[0].Op)
	assert.True(t, ta[0].HasConst)
	assert.Equal(t, "bvadd/2 const=1", ta[0].String())
}

func TestTransformDescriptors_IgnoreAddressArithmetic(t *testing.T) {
	p := mustParse(t, "frame", `(declare-fun stack () (Array (_ BitVec 64) (_ BitVec 32)))
(declare-fun rsp () (_ BitVec 64))
(declare-fun x () (_ BitVec 32))
(assert (= (select stack (bvadd rsp (_ bv16 64))) (bvmul x (_ bv3 32))))
(assert (bvult (select (store stack (bvadd rsp (_ bv20 64)) x) (bvadd rsp (_ bv20 64))) (_ bv9 32)))
`)
	sig := p.Signature()
	require.Len(t, sig.Transforms, 1)
	assert.Equal(t, "bvmul/2 const=3", sig.Transforms[0].String())
	assert.Equal(t, 1, sig.Counts[LayerTransform])
	assert.Equal(t, 2, sig.Counts[LayerMemory])
}

func TestSignature_FreshPathReturns(t *testing.T) {
	p := mustParse(t, "fresh", "(declare-fun x () (_ BitVec 8))\n(assert (bvult x #x0a))\n")

	done := make(chan *Signature, 1)
	go func() { done <- p.Signature() }()

	select {
	case sig := <-done:
		require.Len(t, sig.Domains, 1)
		assert.Equal(t, "[0, 9]", sig.Domains[0].String())
		assert.Same(t, p.Classification(), p.Classification())
	case <-time.After(5 * time.Second):
		t.Fatal("Signature did not return on a fresh path")
	}
}

func TestFingerprint(t *testing.T) {
	src := "(declare-fun x () (_ BitVec 8))\n(assert (bvult x #x0a))\n"
	a := mustParse(t, "a", src)
	b := mustParse(t, "b", src)
	c := mustParse(t, "c", "(declare-fun x () (_ BitVec 8))\n(assert (bvult x #x0b))\n")

	assert.Equal(t, a.Signature().Fingerprint, b.Signature().Fingerprint)
	assert.NotEqual(t, a.Signature().Fingerprint, c.Signature().Fingerprint)
	// 计算一次后保持不变
	assert.Same(t, a.Signature(), a.Signature())
}
