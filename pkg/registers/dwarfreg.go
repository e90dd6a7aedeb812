package registers

import (
	"fmt"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// DWARF register numbers for the general purpose registers the breakpoint
// and variable subsystems actually need to resolve DW_OP_regN /
// DW_OP_bregN / DW_OP_regx expressions against, per the System V AMD64 ABI
// supplement (the same numbering go-delve/delve's pkg/dwarf/regnum.AMD64_*
// uses).
const (
	DwarfRax = 0
	DwarfRdx = 1
	DwarfRcx = 2
	DwarfRbx = 3
	DwarfRsi = 4
	DwarfRdi = 5
	DwarfRbp = 6
	DwarfRsp = 7
	DwarfR8  = 8
	DwarfR9  = 9
	DwarfR10 = 10
	DwarfR11 = 11
	DwarfR12 = 12
	DwarfR13 = 13
	DwarfR14 = 14
	DwarfR15 = 15
	DwarfRip = 16
)

var dwarfToField = map[int]string{
	DwarfRax: "rax", DwarfRdx: "rdx", DwarfRcx: "rcx", DwarfRbx: "rbx",
	DwarfRsi: "rsi", DwarfRdi: "rdi", DwarfRbp: "rbp", DwarfRsp: "rsp",
	DwarfR8: "r8", DwarfR9: "r9", DwarfR10: "r10", DwarfR11: "r11",
	DwarfR12: "r12", DwarfR13: "r13", DwarfR14: "r14", DwarfR15: "r15",
	DwarfRip: "rip",
}

// ByDwarfNum returns the value of the register the DWARF expression
// evaluator refers to as register number n (DW_OP_regN / DW_OP_regx).
func (s *Snapshot) ByDwarfNum(n int) (uint64, bool) {
	name, ok := dwarfToField[n]
	if !ok {
		return 0, false
	}
	v, err := s.Get(name)
	if err != nil {
		return 0, false
	}
	return uint64(v), true
}

// SetByDwarfNum writes value into the register the DWARF expression
// evaluator refers to as register number n, for a write_variable call
// that resolved to a register-resident Place.
func (s *Snapshot) SetByDwarfNum(n int, value uint64) error {
	name, ok := dwarfToField[n]
	if !ok {
		return cmerr.New(cmerr.KindRegisterName, fmt.Sprintf("no DWARF register %d", n))
	}
	return s.Set(name, addr.Word(value))
}

// NameByDwarfNum returns the register mnemonic for DWARF register number n.
func NameByDwarfNum(n int) (string, bool) {
	name, ok := dwarfToField[n]
	return name, ok
}
