// Package registers models the x86-64 general purpose register file of a
// ptrace-attached tracee: named get/set access plus full snapshot
// load/store via ptrace GETREGS/SETREGS, following the same layout as
// go-delve/delve's pkg/proc/native/registers_linux_amd64.go and
// pkg/dwarf/regnum.
package registers

import (
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// Snapshot is a flat record of every named x86-64 GPR, segment register,
// and flag, laid out identically to unix.PtraceRegs so it can be filled by
// a single ptrace GETREGS call.
type Snapshot struct {
	R15      addr.Word `json:"r15"`
	R14      addr.Word `json:"r14"`
	R13      addr.Word `json:"r13"`
	R12      addr.Word `json:"r12"`
	Rbp      addr.Word `json:"rbp"`
	Rbx      addr.Word `json:"rbx"`
	R11      addr.Word `json:"r11"`
	R10      addr.Word `json:"r10"`
	R9       addr.Word `json:"r9"`
	R8       addr.Word `json:"r8"`
	Rax      addr.Word `json:"rax"`
	Rcx      addr.Word `json:"rcx"`
	Rdx      addr.Word `json:"rdx"`
	Rsi      addr.Word `json:"rsi"`
	Rdi      addr.Word `json:"rdi"`
	OrigRax  addr.Word `json:"orig_rax"`
	Rip      addr.Word `json:"rip"`
	Cs       addr.Word `json:"cs"`
	Rflags   addr.Word `json:"rflags"`
	Rsp      addr.Word `json:"rsp"`
	Ss       addr.Word `json:"ss"`
	FsBase   addr.Word `json:"fs_base"`
	GsBase   addr.Word `json:"gs_base"`
	Ds       addr.Word `json:"ds"`
	Es       addr.Word `json:"es"`
	Fs       addr.Word `json:"fs"`
	Gs       addr.Word `json:"gs"`
}

// names maps a lowercase register mnemonic to the Snapshot field that holds
// it, built once via reflection so the get(name)/set(name) API in spec
// §4.1 doesn't need a hand-maintained switch statement per register.
var names = buildNameIndex()

func buildNameIndex() map[string]string {
	t := reflect.TypeOf(Snapshot{})
	idx := make(map[string]string, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		idx[tag] = f.Name
		// rflags is also commonly spelled eflags by tools that print the
		// 32-bit flags register; accept both spellings on lookup.
		if tag == "rflags" {
			idx["eflags"] = f.Name
		}
	}
	return idx
}

// Get returns the value of the named register.
func (s *Snapshot) Get(name string) (addr.Word, error) {
	field, ok := names[strings.ToLower(name)]
	if !ok {
		return 0, cmerr.New(cmerr.KindRegisterName, fmt.Sprintf("unknown register %q", name))
	}
	v := reflect.ValueOf(s).Elem().FieldByName(field)
	return addr.Word(v.Uint()), nil
}

// Set assigns value to the named register.
func (s *Snapshot) Set(name string, value addr.Word) error {
	field, ok := names[strings.ToLower(name)]
	if !ok {
		return cmerr.New(cmerr.KindRegisterName, fmt.Sprintf("unknown register %q", name))
	}
	v := reflect.ValueOf(s).Elem().FieldByName(field)
	v.SetUint(uint64(value))
	return nil
}

// PC returns the instruction pointer.
func (s *Snapshot) PC() addr.Address { return addr.Address(s.Rip) }

// SetPC sets the instruction pointer.
func (s *Snapshot) SetPC(a addr.Address) { s.Rip = addr.Word(a) }

// SP returns the stack pointer.
func (s *Snapshot) SP() addr.Address { return addr.Address(s.Rsp) }

// toPtrace converts to the unix.PtraceRegs layout expected by SETREGS.
func (s *Snapshot) toPtrace() unix.PtraceRegs {
	return unix.PtraceRegs{
		R15: uint64(s.R15), R14: uint64(s.R14), R13: uint64(s.R13), R12: uint64(s.R12),
		Rbp: uint64(s.Rbp), Rbx: uint64(s.Rbx), R11: uint64(s.R11), R10: uint64(s.R10),
		R9: uint64(s.R9), R8: uint64(s.R8), Rax: uint64(s.Rax), Rcx: uint64(s.Rcx),
		Rdx: uint64(s.Rdx), Rsi: uint64(s.Rsi), Rdi: uint64(s.Rdi),
		Orig_rax: uint64(s.OrigRax), Rip: uint64(s.Rip), Cs: uint64(s.Cs),
		Eflags: uint64(s.Rflags), Rsp: uint64(s.Rsp), Ss: uint64(s.Ss),
		Fs_base: uint64(s.FsBase), Gs_base: uint64(s.GsBase),
		Ds: uint64(s.Ds), Es: uint64(s.Es), Fs: uint64(s.Fs), Gs: uint64(s.Gs),
	}
}

func fromPtrace(r unix.PtraceRegs) Snapshot {
	return Snapshot{
		R15: addr.Word(r.R15), R14: addr.Word(r.R14), R13: addr.Word(r.R13), R12: addr.Word(r.R12),
		Rbp: addr.Word(r.Rbp), Rbx: addr.Word(r.Rbx), R11: addr.Word(r.R11), R10: addr.Word(r.R10),
		R9: addr.Word(r.R9), R8: addr.Word(r.R8), Rax: addr.Word(r.Rax), Rcx: addr.Word(r.Rcx),
		Rdx: addr.Word(r.Rdx), Rsi: addr.Word(r.Rsi), Rdi: addr.Word(r.Rdi),
		OrigRax: addr.Word(r.Orig_rax), Rip: addr.Word(r.Rip), Cs: addr.Word(r.Cs),
		Rflags: addr.Word(r.Eflags), Rsp: addr.Word(r.Rsp), Ss: addr.Word(r.Ss),
		FsBase: addr.Word(r.Fs_base), GsBase: addr.Word(r.Gs_base),
		Ds: addr.Word(r.Ds), Es: addr.Word(r.Es), Fs: addr.Word(r.Fs), Gs: addr.Word(r.Gs),
	}
}

// Load reads the full register snapshot of tid via ptrace GETREGS.
func Load(tid int) (Snapshot, error) {
	var raw unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &raw); err != nil {
		return Snapshot{}, cmerr.Wrap(cmerr.KindPtrace, "PTRACE_GETREGS", err)
	}
	return fromPtrace(raw), nil
}

// Store writes s back to tid via ptrace SETREGS, the inverse of Load.
func Store(tid int, s Snapshot) error {
	raw := s.toPtrace()
	if err := unix.PtraceSetRegs(tid, &raw); err != nil {
		return cmerr.Wrap(cmerr.KindPtrace, "PTRACE_SETREGS", err)
	}
	return nil
}
