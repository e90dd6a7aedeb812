package variable

import (
	stddwarf "debug/dwarf"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/dwarf"
	"github.com/TalpaLabs/coreminer/pkg/dwarf/dwarftest"
)

// fbreg -20 ([DW_OP_fbreg, SLEB128(-20)]); verified by hand against the
// same decoder pkg/dwarf/op exercises in its own tests.
var fbregMinus20 = []byte{0x91, 0x6c}

func fbreg(off byte) []byte { return []byte{0x91, off} }

type fakeMemory struct {
	bytes map[addr.Address]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{bytes: map[addr.Address]byte{}} }

func (m *fakeMemory) put(a addr.Address, data []byte) {
	for i, b := range data {
		m.bytes[a.Add(int64(i))] = b
	}
}

func (m *fakeMemory) ReadWord(a addr.Address) (addr.Word, error) {
	b, err := m.ReadMemoryTransparent(a, addr.Size)
	if err != nil {
		return 0, err
	}
	return addr.WordFromBytes(b), nil
}

func (m *fakeMemory) ReadMemoryTransparent(a addr.Address, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = m.bytes[a.Add(int64(i))]
	}
	return out, nil
}

func (m *fakeMemory) WriteMemoryTransparent(a addr.Address, data []byte) error {
	m.put(a, data)
	return nil
}

type fakeRegisters struct {
	byNum map[int]uint64
}

func newFakeRegisters() *fakeRegisters { return &fakeRegisters{byNum: map[int]uint64{}} }

func (r *fakeRegisters) ByDwarfNum(n int) (uint64, bool) {
	v, ok := r.byNum[n]
	return v, ok
}

func (r *fakeRegisters) SetByDwarfNum(n int, value uint64) error {
	r.byNum[n] = value
	return nil
}

// buildTree assembles a small synthetic compile unit: an "int" base type
// (DW_ATE_signed, 4 bytes), a pointer-to-int, a two-member "Point" struct,
// and a subprogram "main" (DW_OP_call_frame_cfa frame base) containing
// five variables exercising each Place/type-kind combination read_variable
// must handle.
func buildTree(t *testing.T) *dwarf.SymbolTree {
	b := dwarftest.New("vars.c")

	intType := b.TagOpen(stddwarf.TagBaseType, "int")
	b.Attr(stddwarf.AttrByteSize, uint16(4))
	b.Attr(stddwarf.AttrEncoding, uint8(ateSigned))
	b.TagClose()

	ptrType := b.TagOpen(stddwarf.TagPointerType, "")
	b.Attr(stddwarf.AttrByteSize, uint16(8))
	b.Attr(stddwarf.AttrType, intType)
	b.TagClose()

	structType := b.TagOpen(stddwarf.TagStructType, "Point")
	b.Attr(stddwarf.AttrByteSize, uint16(8))
	b.TagOpen(stddwarf.TagMember, "x")
	b.Attr(stddwarf.AttrType, intType)
	b.Attr(stddwarf.AttrDataMemberLoc, int64(0))
	b.TagClose()
	b.TagOpen(stddwarf.TagMember, "y")
	b.Attr(stddwarf.AttrType, intType)
	b.Attr(stddwarf.AttrDataMemberLoc, int64(4))
	b.TagClose()
	b.TagClose() // struct

	b.Subprogram("main", 0x1000, 0x1040)
	b.Attr(stddwarf.AttrFrameBase, []byte{0x9c}) // DW_OP_call_frame_cfa
	b.Variable("counter", intType, fbregMinus20)
	b.Variable("point", structType, fbreg(0x68)) // SLEB128(-24)
	b.Variable("ptr", ptrType, fbreg(0x78))       // SLEB128(-8)
	b.Variable("answer", intType, []byte{0x11, 42, 0x9f}) // DW_OP_consts 42, DW_OP_stack_value
	b.TagOpen(stddwarf.TagVariable, "reg_var")
	b.Attr(stddwarf.AttrType, intType)
	b.Attr(stddwarf.AttrLocation, []byte{0x50}) // DW_OP_reg0
	b.TagClose()
	b.TagClose() // main

	data, err := b.Data()
	require.NoError(t, err)
	tree, err := dwarf.FromData(data, addr.Null)
	require.NoError(t, err)
	return tree
}

func TestReadIntegerVariableFromFrameRelativeMemory(t *testing.T) {
	tree := buildTree(t)
	mem := newFakeMemory()
	mem.put(0x7fdc, []byte{0x2a, 0, 0, 0}) // 42, little-endian, at CFA-20

	r := &Resolver{Tree: tree, Regs: newFakeRegisters(), Mem: mem, PC: 0x1010, CFA: 0x7ff0}
	v, err := r.Read("counter")
	require.NoError(t, err)
	assert.Equal(t, KindInteger, v.Kind)
	assert.EqualValues(t, 42, v.Integer)
	assert.EqualValues(t, 4, v.ByteSize)
}

func TestWriteThenReadIntegerVariableRoundTrips(t *testing.T) {
	tree := buildTree(t)
	mem := newFakeMemory()
	mem.put(0x7fdc, []byte{0x2a, 0, 0, 0})

	r := &Resolver{Tree: tree, Regs: newFakeRegisters(), Mem: mem, PC: 0x1010, CFA: 0x7ff0}
	require.NoError(t, r.Write("counter", Value{Kind: KindInteger, Integer: 99}))

	v, err := r.Read("counter")
	require.NoError(t, err)
	assert.EqualValues(t, 99, v.Integer)
}

func TestReadRegisterResidentVariable(t *testing.T) {
	tree := buildTree(t)
	regs := newFakeRegisters()
	regs.byNum[0] = 7

	r := &Resolver{Tree: tree, Regs: regs, Mem: newFakeMemory(), PC: 0x1010, CFA: 0x7ff0}
	v, err := r.Read("reg_var")
	require.NoError(t, err)
	assert.Equal(t, KindInteger, v.Kind)
	assert.EqualValues(t, 7, v.Integer)
}

func TestReadConstantVariableSucceedsButWriteFails(t *testing.T) {
	tree := buildTree(t)
	r := &Resolver{Tree: tree, Regs: newFakeRegisters(), Mem: newFakeMemory(), PC: 0x1010, CFA: 0x7ff0}

	v, err := r.Read("answer")
	require.NoError(t, err)
	assert.EqualValues(t, 42, v.Integer)

	err = r.Write("answer", Value{Kind: KindInteger, Integer: 1})
	require.Error(t, err)
	kind, ok := cmerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerr.KindWriteConstant, kind)
}

func TestReadPointerVariableProducesAddressValue(t *testing.T) {
	tree := buildTree(t)
	mem := newFakeMemory()
	mem.put(0x7fe8, []byte{0x00, 0x30, 0, 0, 0, 0, 0, 0}) // 0x3000, at CFA-8

	r := &Resolver{Tree: tree, Regs: newFakeRegisters(), Mem: mem, PC: 0x1010, CFA: 0x7ff0}
	v, err := r.Read("ptr")
	require.NoError(t, err)
	assert.Equal(t, KindAddress, v.Kind)
	assert.EqualValues(t, 0x3000, v.Address)
}

func TestReadStructVariableProducesCompositeMembers(t *testing.T) {
	tree := buildTree(t)
	mem := newFakeMemory()
	// CFA - 0x18 = 0x7fd8, holding {x: 5, y: 9}.
	mem.put(0x7fd8, []byte{5, 0, 0, 0, 9, 0, 0, 0})

	r := &Resolver{Tree: tree, Regs: newFakeRegisters(), Mem: mem, PC: 0x1010, CFA: 0x7ff0}
	v, err := r.Read("point")
	require.NoError(t, err)
	require.Equal(t, KindComposite, v.Kind)
	assert.EqualValues(t, 5, v.Composite["x"].Integer)
	assert.EqualValues(t, 9, v.Composite["y"].Integer)
}

func TestReadUnknownVariableFails(t *testing.T) {
	tree := buildTree(t)
	r := &Resolver{Tree: tree, Regs: newFakeRegisters(), Mem: newFakeMemory(), PC: 0x1010, CFA: 0x7ff0}
	_, err := r.Read("nonexistent")
	assert.Error(t, err)
}
