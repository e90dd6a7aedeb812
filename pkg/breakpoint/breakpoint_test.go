package breakpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/addr"
)

// fakeMemory models a little-endian, word-addressable tracee memory space
// entirely in a Go map, so the breakpoint engine can be exercised
// without a real ptrace-attached process.
type fakeMemory struct {
	data map[addr.Address]addr.Word
}

func newFakeMemory() *fakeMemory { return &fakeMemory{data: map[addr.Address]addr.Word{}} }

func (f *fakeMemory) ReadWord(a addr.Address) (addr.Word, error) { return f.data[a], nil }
func (f *fakeMemory) WriteWord(a addr.Address, w addr.Word) error {
	f.data[a] = w
	return nil
}

type fakeStepper struct {
	steps int
}

func (s *fakeStepper) SingleStepAndWait() error {
	s.steps++
	return nil
}

func TestSetWritesInt3AndSavesByte(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x1000] = 0x1122334455667788
	tbl := NewTable(mem)

	bp, err := tbl.Set(0x1000)
	require.NoError(t, err)
	assert.EqualValues(t, 0x88, bp.SavedByte)
	assert.True(t, bp.Enabled)
	assert.NotEqual(t, byte(Int3), bp.SavedByte)

	word, _ := mem.ReadWord(0x1000)
	assert.Equal(t, byte(Int3), byte(word))
}

func TestSetTwiceFails(t *testing.T) {
	mem := newFakeMemory()
	tbl := NewTable(mem)
	_, err := tbl.Set(0x1000)
	require.NoError(t, err)
	_, err = tbl.Set(0x1000)
	assert.Error(t, err)
}

func TestRemoveRestoresByteAndDrops(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x1000] = 0xAABBCCDDEEFF0042
	tbl := NewTable(mem)
	_, err := tbl.Set(0x1000)
	require.NoError(t, err)

	require.NoError(t, tbl.Remove(0x1000))
	word, _ := mem.ReadWord(0x1000)
	assert.EqualValues(t, 0x42, byte(word))
	assert.False(t, tbl.IsAt(0x1000))
}

func TestRemoveMissingFails(t *testing.T) {
	tbl := NewTable(newFakeMemory())
	assert.Error(t, tbl.Remove(0x1000))
}

func TestStepOverBreakpointPreservesBreakpointAndAdvancesOnce(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x1000] = 0x0000000000000099
	tbl := NewTable(mem)
	_, err := tbl.Set(0x1000)
	require.NoError(t, err)

	step := &fakeStepper{}
	require.NoError(t, tbl.StepOverBreakpoint(0x1000, step))

	assert.Equal(t, 1, step.steps)
	assert.True(t, tbl.IsAt(0x1000))
	bp, _ := tbl.Get(0x1000)
	assert.True(t, bp.Enabled)

	word, _ := mem.ReadWord(0x1000)
	assert.Equal(t, byte(Int3), byte(word), "breakpoint must be re-armed after stepping over it")
}

func TestStepOverBreakpointNoopWithoutBreakpoint(t *testing.T) {
	tbl := NewTable(newFakeMemory())
	step := &fakeStepper{}
	require.NoError(t, tbl.StepOverBreakpoint(0x2000, step))
	assert.Equal(t, 0, step.steps)
}

func TestReadMemoryTransparentHidesPatchedByte(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x1000] = 0x1122334455667788
	tbl := NewTable(mem)
	_, err := tbl.Set(0x1000)
	require.NoError(t, err)

	out, err := tbl.ReadMemoryTransparent(0x1000, addr.Size)
	require.NoError(t, err)
	assert.Equal(t, byte(0x88), out[0], "first byte must read as the original program byte, not 0xCC")
}

func TestDisableAllRestoresBytes(t *testing.T) {
	mem := newFakeMemory()
	mem.data[0x1000] = 0x11
	mem.data[0x2000] = 0x22
	tbl := NewTable(mem)
	_, _ = tbl.Set(0x1000)
	_, _ = tbl.Set(0x2000)

	errs := tbl.DisableAll()
	assert.Empty(t, errs)

	w1, _ := mem.ReadWord(0x1000)
	w2, _ := mem.ReadWord(0x2000)
	assert.EqualValues(t, 0x11, byte(w1))
	assert.EqualValues(t, 0x22, byte(w2))
}

func TestListIsSortedByAddress(t *testing.T) {
	tbl := NewTable(newFakeMemory())
	_, _ = tbl.Set(0x3000)
	_, _ = tbl.Set(0x1000)
	_, _ = tbl.Set(0x2000)

	list := tbl.List()
	require.Len(t, list, 3)
	assert.EqualValues(t, 0x1000, list[0].Address)
	assert.EqualValues(t, 0x2000, list[1].Address)
	assert.EqualValues(t, 0x3000, list[2].Address)
}
