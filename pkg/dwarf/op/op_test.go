package op

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/addr"
)

type fakeRegisters struct {
	byNum map[int]uint64
}

func (f fakeRegisters) ByDwarfNum(n int) (uint64, bool) {
	v, ok := f.byNum[n]
	return v, ok
}

type fakeMemory struct {
	words map[addr.Address]addr.Word
}

func (f fakeMemory) ReadWord(a addr.Address) (addr.Word, error) {
	return f.words[a], nil
}

func TestEvaluateAddrProducesMemoryPlace(t *testing.T) {
	// DW_OP_addr 0x1000
	expr := []byte{byte(OpAddr), 0x00, 0x10, 0, 0, 0, 0, 0, 0}
	place, err := Evaluate(expr, Context{})
	require.NoError(t, err)
	assert.Equal(t, PlaceMemory, place.Kind)
	assert.EqualValues(t, 0x1000, place.Address)
}

func TestEvaluateFbregAddsToFrameBase(t *testing.T) {
	fb := int64(0x7fff0000)
	// DW_OP_fbreg -8 (SLEB128 of -8 is 0x78)
	expr := []byte{byte(OpFbreg), 0x78}
	place, err := Evaluate(expr, Context{FrameBase: &fb})
	require.NoError(t, err)
	assert.Equal(t, PlaceMemory, place.Kind)
	assert.EqualValues(t, fb-8, place.Address)
}

func TestEvaluateFbregWithoutFrameBaseFails(t *testing.T) {
	expr := []byte{byte(OpFbreg), 0x00}
	_, err := Evaluate(expr, Context{})
	require.Error(t, err)
}

func TestEvaluateRegNProducesRegisterPlace(t *testing.T) {
	expr := []byte{byte(OpReg0) + 3}
	place, err := Evaluate(expr, Context{})
	require.NoError(t, err)
	assert.Equal(t, PlaceRegister, place.Kind)
	assert.Equal(t, 3, place.RegNum)
}

func TestEvaluateCallFrameCFA(t *testing.T) {
	expr := []byte{byte(OpCallFrameCFA)}
	place, err := Evaluate(expr, Context{CFA: 0x8000})
	require.NoError(t, err)
	assert.EqualValues(t, 0x8000, place.Address)
}

func TestEvaluateStackValueProducesConstant(t *testing.T) {
	// DW_OP_consts 42, DW_OP_stack_value
	expr := []byte{byte(OpConsts), 42, byte(OpStackValue)}
	place, err := Evaluate(expr, Context{})
	require.NoError(t, err)
	assert.Equal(t, PlaceConstant, place.Kind)
	assert.EqualValues(t, 42, place.Value)
}

func TestEvaluateDerefReadsMemory(t *testing.T) {
	mem := fakeMemory{words: map[addr.Address]addr.Word{0x2000: 0xdeadbeef}}
	// DW_OP_addr 0x2000, DW_OP_deref
	expr := []byte{byte(OpAddr), 0x00, 0x20, 0, 0, 0, 0, 0, 0, byte(OpDeref)}
	place, err := Evaluate(expr, Context{Mem: mem})
	require.NoError(t, err)
	assert.Equal(t, PlaceMemory, place.Kind)
	assert.EqualValues(t, 0xdeadbeef, place.Address)
}

func TestEvaluatePlusAddsTwoStackEntries(t *testing.T) {
	// DW_OP_constu 5, DW_OP_constu 7, DW_OP_plus
	expr := []byte{byte(OpConstu), 5, byte(OpConstu), 7, byte(OpPlus)}
	place, err := Evaluate(expr, Context{})
	require.NoError(t, err)
	assert.EqualValues(t, 12, place.Address)
}

func TestEvaluateUnsupportedOpcodeFails(t *testing.T) {
	expr := []byte{0xFF}
	_, err := Evaluate(expr, Context{})
	assert.Error(t, err)
}

func TestEvaluateBregUsesRegisterValue(t *testing.T) {
	regs := fakeRegisters{byNum: map[int]uint64{0: 0x500}}
	// DW_OP_breg0 +4
	expr := []byte{byte(OpBreg0), 4}
	place, err := Evaluate(expr, Context{Regs: regs})
	require.NoError(t, err)
	assert.EqualValues(t, 0x504, place.Address)
}
