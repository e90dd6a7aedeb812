// Package disasm decodes x86-64 machine code into address/bytes/mnemonic
// triples, using golang.org/x/arch/x86/x86asm the same way go-delve/delve's
// pkg/proc/x86_disasm.go does. The breakpoint engine's saved-byte knowledge
// is injected as a capability (BreakpointLookup) rather than consulted
// through a global, so this package has no dependency on pkg/breakpoint.
package disasm

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// Int3 is the one-byte int3 instruction (0xCC) patched in by software
// breakpoints.
const Int3 byte = 0xCC

// Line is one decoded instruction.
type Line struct {
	Address      addr.Address `json:"address"`
	Bytes        []byte       `json:"bytes"`
	Mnemonic     string       `json:"mnemonic"`
	IsBreakpoint bool         `json:"is_breakpoint"`
}

// Disassembly is an ordered sequence of decoded lines.
type Disassembly struct {
	Lines []Line `json:"lines"`
}

// BreakpointLookup is the capability the disassembler uses to find out
// whether a byte has been patched with int3 for a breakpoint, and what its
// original value was. pkg/breakpoint.Table satisfies this interface.
type BreakpointLookup interface {
	// SavedByte returns the original byte at a and true if a breakpoint is
	// currently installed there.
	SavedByte(a addr.Address) (byte, bool)
}

// Disassemble decodes count instructions from code, which starts at base.
// In literal mode, bytes are decoded exactly as given (no breakpoint
// rewriting). In cooked (non-literal) mode, bp is consulted for every
// line: if the line's leading byte is an installed breakpoint, the int3
// byte is replaced with the saved original before re-decoding, and
// IsBreakpoint is set -- only the leading byte of a line is ever
// rewritten, so the decoder's own instruction boundaries never shift.
func Disassemble(code []byte, base addr.Address, count int, literal bool, bp BreakpointLookup) (Disassembly, error) {
	var out Disassembly
	off := 0
	for i := 0; i < count && off < len(code); i++ {
		lineAddr := base.Add(int64(off))
		buf := code[off:]

		if !literal && bp != nil {
			if saved, ok := bp.SavedByte(lineAddr); ok && len(buf) > 0 && buf[0] == Int3 {
				patched := append([]byte{}, buf...)
				patched[0] = saved
				buf = patched
			}
		}

		line, n, err := decodeOne(buf, lineAddr)
		if err != nil {
			return out, err
		}
		if !literal && bp != nil {
			if _, ok := bp.SavedByte(lineAddr); ok {
				line.IsBreakpoint = true
			}
		}
		out.Lines = append(out.Lines, line)
		off += n
	}
	return out, nil
}

func decodeOne(buf []byte, at addr.Address) (Line, int, error) {
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		// An undecodable byte (e.g. an opcode invalid in 64-bit mode, or a
		// truncated instruction) still advances by one byte so callers can
		// keep walking.
		n := 1
		if n > len(buf) {
			n = len(buf)
		}
		return Line{
			Address:  at,
			Bytes:    append([]byte{}, buf[:n]...),
			Mnemonic: "(bad)",
		}, n, nil
	}
	text := x86asm.GNUSyntax(inst, uint64(at), nil)
	if text == "" {
		text = fmt.Sprintf("%v", inst)
	}
	return Line{
		Address:  at,
		Bytes:    append([]byte{}, buf[:inst.Len]...),
		Mnemonic: text,
	}, inst.Len, nil
}

// ErrShortBuffer describes running out of bytes before the requested
// instruction count. Disassemble does not return it: it stops at the end of
// the code it was given and returns the lines decoded so far.
var ErrShortBuffer = cmerr.New(cmerr.KindParse, "not enough bytes to disassemble the requested instruction count")
