// Package unwind produces backtraces for a stopped debuggee, preferring
// a call-frame-information-driven unwind (modeled on go-delve/delve's
// pkg/dwarf/frame) and falling back to frame-pointer (rbp) chasing for
// any frame CFI can't resolve.
package unwind

import (
	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/dwarf"
)

// Memory is the capability the unwinder needs to read the stack and
// follow saved-register slots.
type Memory interface {
	ReadWord(a addr.Address) (addr.Word, error)
}

// SymbolResolver maps a PC to a human-readable frame label. *dwarf.SymbolTree
// satisfies this via FunctionAt.
type SymbolResolver interface {
	FunctionAt(pc addr.Address) (*dwarf.OwnedSymbol, bool)
}

// Frame is one entry of a backtrace, innermost first.
type Frame struct {
	Index        int          `json:"index"`
	PC           addr.Address `json:"pc"`
	CFA          addr.Address `json:"cfa"`
	FunctionName string       `json:"function_name"`
}

const unknownFunction = "<unknown>"

// Unwinder produces backtraces for one loaded image's CFI table.
type Unwinder struct {
	table   Table
	ptrSize int
}

// New builds an Unwinder from a parsed .debug_frame table. table may be
// nil, in which case every frame unwinds via the rbp-chain fallback.
func New(table Table) *Unwinder {
	return &Unwinder{table: table, ptrSize: addr.Size}
}

// Backtrace walks the stack starting at pc/bp/sp, producing up to
// maxFrames frames. The innermost frame (index 0) is the current PC;
// each subsequent frame's CFA must exceed the previous one's, per the
// "consecutive frames are strictly stack-outward" invariant -- an
// unwind step that fails to make progress stops the walk rather than
// looping.
func (u *Unwinder) Backtrace(mem Memory, resolver SymbolResolver, pc, bp, sp addr.Address, maxFrames int) ([]Frame, error) {
	var frames []Frame
	var prevCFA addr.Address

	curPC, curBP := pc, bp
	for i := 0; i < maxFrames; i++ {
		name := unknownFunction
		if resolver != nil {
			if sym, ok := resolver.FunctionAt(curPC); ok {
				name = sym.Name
			}
		}

		cfa, retAddr, nextBP, err := u.step(mem, curPC, curBP, sp)
		if err != nil {
			if i == 0 {
				frames = append(frames, Frame{Index: i, PC: curPC, FunctionName: name})
			}
			break
		}

		if i > 0 && cfa.Uint64() <= prevCFA.Uint64() {
			break
		}
		frames = append(frames, Frame{Index: i, PC: curPC, CFA: cfa, FunctionName: name})
		prevCFA = cfa

		if retAddr.IsNull() || nextBP.IsNull() {
			break
		}
		curPC, curBP = retAddr, nextBP
	}

	return frames, nil
}

// step resolves one frame's CFA and its caller's return address and
// frame pointer, trying CFI first and falling back to the classic
// "return address at [rbp+8], caller's rbp at [rbp]" chain used by
// any C ABI that keeps the frame pointer intact.
func (u *Unwinder) step(mem Memory, pc, bp, sp addr.Address) (cfa, retAddr, callerBP addr.Address, err error) {
	if u.table != nil {
		if fde, ok := u.table.ForPC(pc.Uint64()); ok {
			fc, ferr := EstablishFrame(fde, pc.Uint64())
			if ferr == nil {
				if c, rerr := resolveCFA(mem, fc, bp, sp); rerr == nil {
					ra, raerr := fc.registerValue(mem, c, fc.cie.ReturnAddressRegister)
					cbp, bperr := fc.registerValue(mem, c, 6)
					if raerr == nil && bperr == nil {
						return c, ra, cbp, nil
					}
				}
			}
		}
	}
	return rbpChainStep(mem, bp)
}

func resolveCFA(mem Memory, fc *frameContext, bp, sp addr.Address) (addr.Address, error) {
	if fc.cfa.kind != ruleCFA {
		return addr.Null, cmerr.New(cmerr.KindUnsupportedOpcode, "CFA rule not resolvable without a register value")
	}
	// DWARF register 6 is RBP, 7 is RSP on x86-64 (the same numbering as
	// go-delve/delve's regnum/amd64.go). This executor only needs those
	// two to compute a CFA from a typical -fno-omit-frame-pointer or
	// CFI-only build.
	var base uint64
	switch fc.cfa.reg {
	case 6:
		base = bp.Uint64()
	case 7:
		base = sp.Uint64()
	default:
		return addr.Null, cmerr.New(cmerr.KindUnsupportedOpcode, "CFA base register not tracked")
	}
	return addr.FromUint64(uint64(int64(base) + fc.cfa.offset)), nil
}

// rbpChainStep implements the frame-pointer fallback: the return
// address lives at [rbp+8], the caller's rbp lives at [rbp], matching
// the standard x86-64 System V ABI prologue (push rbp; mov rbp, rsp).
func rbpChainStep(mem Memory, bp addr.Address) (cfa, retAddr, callerBP addr.Address, err error) {
	if bp.IsNull() {
		return addr.Null, addr.Null, addr.Null, cmerr.New(cmerr.KindMemoryRead, "no frame pointer to chase")
	}
	retWord, err := mem.ReadWord(bp.Add(int64(addr.Size)))
	if err != nil {
		return addr.Null, addr.Null, addr.Null, err
	}
	callerBPWord, err := mem.ReadWord(bp)
	if err != nil {
		return addr.Null, addr.Null, addr.Null, err
	}
	cfa = bp.Add(2 * int64(addr.Size))
	return cfa, addr.Address(retWord), addr.Address(callerBPWord), nil
}
