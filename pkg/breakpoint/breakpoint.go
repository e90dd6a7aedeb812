// Package breakpoint implements software breakpoints by patching int3
// (0xCC) into the tracee's text segment, the same Clear/
// writeSoftwareBreakpoint pair go-delve/delve's legacy proc/breakpoints.go
// used, generalized here into an explicit save/restore/step-over
// contract.
package breakpoint

import (
	"sync"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// Int3 is the x86 one-byte breakpoint trap instruction.
const Int3 byte = 0xCC

// Memory is the capability the breakpoint engine needs from whatever owns
// the tracee: word-granular peek/poke. Kept as an interface (rather than a
// concrete ptrace dependency) so the engine is unit-testable and so that,
// per the design notes, no component consults ptrace directly except
// through an explicit capability.
type Memory interface {
	ReadWord(a addr.Address) (addr.Word, error)
	WriteWord(a addr.Address, w addr.Word) error
}

// Stepper lets the engine single-step the tracee across a patched
// instruction without the caller re-implementing the disable/step/enable
// dance every time it wants to resume past a breakpoint.
type Stepper interface {
	// SingleStepAndWait resumes the tracee for exactly one instruction and
	// blocks until it traps again.
	SingleStepAndWait() error
}

// Breakpoint records a single patched address.
type Breakpoint struct {
	Address   addr.Address `json:"address"`
	SavedByte byte         `json:"saved_byte"`
	Enabled   bool         `json:"enabled"`
}

// Table is the breakpoint-address -> Breakpoint map owned by a debuggee
// session. All operations are safe to call from the single session
// goroutine; the mutex exists only to make concurrent reads (e.g. from a
// plugin hook running a nested query) safe, not to allow concurrent
// mutation -- breakpoint installs/removes are never issued while the child
// is running.
type Table struct {
	mu  sync.Mutex
	bps map[addr.Address]*Breakpoint
	mem Memory
}

// NewTable builds an empty breakpoint table backed by mem.
func NewTable(mem Memory) *Table {
	return &Table{bps: make(map[addr.Address]*Breakpoint), mem: mem}
}

// Set installs a new enabled breakpoint at addr. Fails with
// cmerr.KindBreakpointExists if one is already installed there.
func (t *Table) Set(a addr.Address) (*Breakpoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.bps[a]; ok {
		return nil, cmerr.New(cmerr.KindBreakpointExists, a.String())
	}

	word, err := t.mem.ReadWord(a)
	if err != nil {
		return nil, err
	}
	saved := byte(word)
	if saved == Int3 {
		// Pathological but possible: the program already contains an
		// int3 at this address. We still must not record Int3 as the
		// "original" byte, or disabling the breakpoint would leave an
		// int3 behind forever.
		// Nothing sane to restore to except the byte as observed, which
		// is itself 0xCC -- disallow to keep the invariant simple.
		return nil, cmerr.New(cmerr.KindBreakpointExists, "address already contains int3")
	}

	patched := (word &^ 0xff) | addr.Word(Int3)
	if err := t.mem.WriteWord(a, patched); err != nil {
		return nil, err
	}

	bp := &Breakpoint{Address: a, SavedByte: saved, Enabled: true}
	t.bps[a] = bp
	return bp, nil
}

// Remove uninstalls the breakpoint at addr, restoring the original byte.
// Fails with cmerr.KindBreakpointMissing if none is installed there.
func (t *Table) Remove(a addr.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(a)
}

func (t *Table) removeLocked(a addr.Address) error {
	bp, ok := t.bps[a]
	if !ok {
		return cmerr.New(cmerr.KindBreakpointMissing, a.String())
	}
	if bp.Enabled {
		if err := t.disableLocked(bp); err != nil {
			return err
		}
	}
	delete(t.bps, a)
	return nil
}

// IsAt reports whether a breakpoint (enabled or not) is installed at a.
func (t *Table) IsAt(a addr.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.bps[a]
	return ok
}

// Get returns the breakpoint at a, if any.
func (t *Table) Get(a addr.Address) (Breakpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.bps[a]
	if !ok {
		return Breakpoint{}, false
	}
	return *bp, true
}

// SavedByte implements disasm.BreakpointLookup: it reports the original
// byte that lived at a before patching, and whether an enabled breakpoint
// is installed there. A disabled breakpoint reports false: it has already
// restored the original byte, so the disassembler reads it from memory.
func (t *Table) SavedByte(a addr.Address) (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.bps[a]
	if !ok || !bp.Enabled {
		return 0, false
	}
	return bp.SavedByte, true
}

// List returns all breakpoints ordered by address.
func (t *Table) List() []Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Breakpoint, 0, len(t.bps))
	for _, bp := range t.bps {
		out = append(out, *bp)
	}
	sortByAddress(out)
	return out
}

func sortByAddress(bps []Breakpoint) {
	for i := 1; i < len(bps); i++ {
		for j := i; j > 0 && bps[j].Address < bps[j-1].Address; j-- {
			bps[j], bps[j-1] = bps[j-1], bps[j]
		}
	}
}

func (t *Table) disableLocked(bp *Breakpoint) error {
	if !bp.Enabled {
		return nil
	}
	word, err := t.mem.ReadWord(bp.Address)
	if err != nil {
		return err
	}
	restored := (word &^ 0xff) | addr.Word(bp.SavedByte)
	if err := t.mem.WriteWord(bp.Address, restored); err != nil {
		return err
	}
	bp.Enabled = false
	return nil
}

func (t *Table) enableLocked(bp *Breakpoint) error {
	if bp.Enabled {
		return nil
	}
	word, err := t.mem.ReadWord(bp.Address)
	if err != nil {
		return err
	}
	patched := (word &^ 0xff) | addr.Word(Int3)
	if err := t.mem.WriteWord(bp.Address, patched); err != nil {
		return err
	}
	bp.Enabled = true
	return nil
}

// ReadWord is ReadMemoryTransparent for exactly one word, letting Table
// itself satisfy op.Memory / unwind.Memory so the expression evaluator and
// unwinder see the same breakpoint-free view of memory as everything else.
func (t *Table) ReadWord(a addr.Address) (addr.Word, error) {
	b, err := t.ReadMemoryTransparent(a, addr.Size)
	if err != nil {
		return 0, err
	}
	return addr.WordFromBytes(b), nil
}

// WriteMemoryTransparent writes data starting at a, read-modify-writing
// one word at a time so that a write overlapping an enabled breakpoint's
// address updates its SavedByte (the value that will be restored when the
// breakpoint is disabled) instead of clobbering the 0xCC the child
// actually executes -- the write-side mirror of ReadMemoryTransparent's
// substitution. The int3 stays in place; whatever byte is written at the
// breakpoint's address (0xCC included) becomes its SavedByte.
func (t *Table) WriteMemoryTransparent(a addr.Address, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := a
	i := 0
	for i < len(data) {
		word, err := t.mem.ReadWord(cur)
		if err != nil {
			return err
		}
		wb := word.Bytes()
		for j := 0; j < addr.Size && i < len(data); j++ {
			byteAddr := cur.Add(int64(j))
			if bp, ok := t.bps[byteAddr]; ok && bp.Enabled {
				bp.SavedByte = data[i]
			} else {
				wb[j] = data[i]
			}
			i++
		}
		if err := t.mem.WriteWord(cur, addr.WordFromBytes(wb[:])); err != nil {
			return err
		}
		cur = cur.Add(addr.Size)
	}
	return nil
}

// DisableAll disables every breakpoint, restoring original bytes, without
// removing them from the table. Used by session teardown ("quit"); a
// failure here is logged by the caller rather than fatal.
func (t *Table) DisableAll() []error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	for _, bp := range t.bps {
		if err := t.disableLocked(bp); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// StepOverBreakpoint implements the step-over-breakpoint dance: if the
// instruction at pc has an enabled breakpoint, disable it, single-step
// the tracee across it, then re-enable it. If there is no breakpoint at
// pc, this is a no-op (the caller's normal single-step continues as
// usual).
func (t *Table) StepOverBreakpoint(pc addr.Address, step Stepper) error {
	t.mu.Lock()
	bp, ok := t.bps[pc]
	if !ok || !bp.Enabled {
		t.mu.Unlock()
		return nil
	}
	if err := t.disableLocked(bp); err != nil {
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()

	if err := step.SingleStepAndWait(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enableLocked(bp)
}

// ReadMemoryTransparent reads length bytes starting at a via mem's
// word-granular ReadWord, substituting each breakpointed byte's saved
// original value into the result, so that the caller sees the tracee's
// memory as if no breakpoint had ever been installed.
func (t *Table) ReadMemoryTransparent(a addr.Address, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	out := make([]byte, 0, length)
	cur := a
	for len(out) < length {
		word, err := t.mem.ReadWord(cur)
		if err != nil {
			return nil, err
		}
		wb := word.Bytes()
		for i := 0; i < addr.Size && len(out) < length; i++ {
			byteAddr := cur.Add(int64(i))
			b := wb[i]
			if saved, ok := t.SavedByte(byteAddr); ok {
				b = saved
			}
			out = append(out, b)
		}
		cur = cur.Add(addr.Size)
	}
	return out, nil
}
