package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/addr"
)

type fakeBreakpoints struct {
	saved map[addr.Address]byte
}

func (f fakeBreakpoints) SavedByte(a addr.Address) (byte, bool) {
	b, ok := f.saved[a]
	return b, ok
}

// nop; nop; ret -- three trivially decodable one-byte-ish instructions.
var sample = []byte{0x90, 0x90, 0xc3}

func TestDisassembleLiteralShowsPatchedByte(t *testing.T) {
	code := []byte{0xCC, 0x90, 0xc3}
	bp := fakeBreakpoints{saved: map[addr.Address]byte{0x1000: 0x90}}

	dis, err := Disassemble(code, 0x1000, 3, true, bp)
	require.NoError(t, err)
	require.NotEmpty(t, dis.Lines)
	assert.Equal(t, byte(0xCC), dis.Lines[0].Bytes[0])
	assert.False(t, dis.Lines[0].IsBreakpoint)
}

func TestDisassembleCookedHidesBreakpoint(t *testing.T) {
	code := []byte{0xCC, 0x90, 0xc3}
	bp := fakeBreakpoints{saved: map[addr.Address]byte{0x1000: 0x90}}

	dis, err := Disassemble(code, 0x1000, 3, false, bp)
	require.NoError(t, err)
	require.NotEmpty(t, dis.Lines)
	assert.Equal(t, byte(0x90), dis.Lines[0].Bytes[0])
	assert.True(t, dis.Lines[0].IsBreakpoint)
}

func TestDisassembleNoBreakpointsPassesThrough(t *testing.T) {
	dis, err := Disassemble(sample, 0x2000, 3, false, nil)
	require.NoError(t, err)
	assert.Len(t, dis.Lines, 3)
	assert.False(t, dis.Lines[0].IsBreakpoint)
}

func TestDisassembleAddressesAreSequential(t *testing.T) {
	dis, err := Disassemble(sample, 0x2000, 3, true, nil)
	require.NoError(t, err)
	require.Len(t, dis.Lines, 3)
	assert.EqualValues(t, 0x2000, dis.Lines[0].Address)
	assert.Greater(t, uint64(dis.Lines[1].Address), uint64(dis.Lines[0].Address))
}
