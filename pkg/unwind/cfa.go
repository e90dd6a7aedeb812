package unwind

import (
	"bytes"
	"encoding/binary"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// ruleKind classifies what a Rule says about where a register's
// caller-frame value lives, a trimmed version of go-delve/delve's
// pkg/dwarf/frame.Rule -- only the kinds that a frame-pointer-based ABI
// (the common case for a C-like debuggee) actually produces.
type ruleKind byte

const (
	ruleUndefined ruleKind = iota
	ruleSameValue
	ruleOffset // value is at CFA + Offset
	ruleCFA    // this IS the CFA rule: CFA = reg(Reg) + Offset
)

type rule struct {
	kind   ruleKind
	reg    uint64
	offset int64
}

// frameContext is the running state of one FDE's CFA program, modeled on
// go-delve/delve's pkg/dwarf/frame.FrameContext.
type frameContext struct {
	loc   uint64
	cfa   rule
	regs  map[uint64]rule
	cie   *CommonInformationEntry
	saved []savedState
}

type savedState struct {
	cfa  rule
	regs map[uint64]rule
}

const (
	cfaAdvanceLoc1 = 0x02
	cfaAdvanceLoc2 = 0x03
	cfaAdvanceLoc4 = 0x04
	cfaOffsetExt   = 0x05
	cfaRestoreExt  = 0x06
	cfaUndefined   = 0x07
	cfaSameValue   = 0x08
	cfaRememberSt  = 0x0a
	cfaRestoreSt   = 0x0b
	cfaDefCFA      = 0x0c
	cfaDefCFAReg   = 0x0d
	cfaDefCFAOff   = 0x0e
	cfaOffsetExtSf = 0x11
	cfaDefCFASf    = 0x12
	cfaDefCFAOffSf = 0x13

	cfaAdvanceLoc = 0x1 << 6
	cfaOffset     = 0x2 << 6
	cfaRestore    = 0x3 << 6

	low6 = 0x3f
	hi2  = 0xc0
)

// EstablishFrame runs fde's CIE initial program followed by its own
// program up to pc, returning the CFA rule and register rules in effect
// at that point. It fails (rather than approximating) if the program
// uses a DWARF-expression rule this executor does not interpret.
func EstablishFrame(fde *FrameDescriptionEntry, pc uint64) (*frameContext, error) {
	fc := &frameContext{regs: make(map[uint64]rule), cie: fde.CIE, loc: fde.Begin()}
	if err := fc.run(fde.CIE.InitialInstructions, ^uint64(0)); err != nil {
		return nil, err
	}
	if err := fc.run(fde.Instructions, pc); err != nil {
		return nil, err
	}
	return fc, nil
}

func (fc *frameContext) run(instructions []byte, stopAt uint64) error {
	buf := bytes.NewBuffer(instructions)
	for buf.Len() > 0 && fc.loc <= stopAt {
		op, _ := buf.ReadByte()
		if op == 0 {
			continue
		}
		if err := fc.step(op, buf); err != nil {
			return err
		}
	}
	return nil
}

func (fc *frameContext) step(op byte, buf *bytes.Buffer) error {
	switch op & hi2 {
	case cfaAdvanceLoc:
		fc.loc += uint64(op&low6) * fc.cie.CodeAlignmentFactor
		return nil
	case cfaOffset:
		reg := uint64(op & low6)
		off, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.regs[reg] = rule{kind: ruleOffset, offset: int64(off) * fc.cie.DataAlignmentFactor}
		return nil
	case cfaRestore:
		reg := uint64(op & low6)
		fc.regs[reg] = rule{kind: ruleSameValue}
		return nil
	}

	switch op {
	case cfaAdvanceLoc1:
		delta, _ := buf.ReadByte()
		fc.loc += uint64(delta) * fc.cie.CodeAlignmentFactor
	case cfaAdvanceLoc2:
		var d uint16
		binary.Read(buf, binary.LittleEndian, &d)
		fc.loc += uint64(d) * fc.cie.CodeAlignmentFactor
	case cfaAdvanceLoc4:
		var d uint32
		binary.Read(buf, binary.LittleEndian, &d)
		fc.loc += uint64(d) * fc.cie.CodeAlignmentFactor
	case cfaOffsetExt:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		off, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.regs[reg] = rule{kind: ruleOffset, offset: int64(off) * fc.cie.DataAlignmentFactor}
	case cfaOffsetExtSf:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		off, err := readSLEB128(buf)
		if err != nil {
			return err
		}
		fc.regs[reg] = rule{kind: ruleOffset, offset: off * fc.cie.DataAlignmentFactor}
	case cfaUndefined:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.regs[reg] = rule{kind: ruleUndefined}
	case cfaSameValue:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.regs[reg] = rule{kind: ruleSameValue}
	case cfaRestoreExt:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.regs[reg] = rule{kind: ruleSameValue}
	case cfaRememberSt:
		clone := make(map[uint64]rule, len(fc.regs))
		for k, v := range fc.regs {
			clone[k] = v
		}
		fc.saved = append(fc.saved, savedState{cfa: fc.cfa, regs: clone})
	case cfaRestoreSt:
		if len(fc.saved) == 0 {
			return cmerr.New(cmerr.KindDwarf, "DW_CFA_restore_state with nothing remembered")
		}
		s := fc.saved[len(fc.saved)-1]
		fc.saved = fc.saved[:len(fc.saved)-1]
		fc.cfa, fc.regs = s.cfa, s.regs
	case cfaDefCFA:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		off, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.cfa = rule{kind: ruleCFA, reg: reg, offset: int64(off)}
	case cfaDefCFASf:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		off, err := readSLEB128(buf)
		if err != nil {
			return err
		}
		fc.cfa = rule{kind: ruleCFA, reg: reg, offset: off * fc.cie.DataAlignmentFactor}
	case cfaDefCFAReg:
		reg, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.cfa.reg = reg
	case cfaDefCFAOff:
		off, err := readULEB128(buf)
		if err != nil {
			return err
		}
		fc.cfa.offset = int64(off)
	case cfaDefCFAOffSf:
		off, err := readSLEB128(buf)
		if err != nil {
			return err
		}
		fc.cfa.offset = off * fc.cie.DataAlignmentFactor
	default:
		return cmerr.New(cmerr.KindUnsupportedOpcode, "DWARF CFA opcode requiring expression evaluation")
	}
	return nil
}

// registerValue resolves the caller's saved value of a DWARF register
// number under this frame's rules: ruleOffset means the value is stored
// at CFA+offset (read through mem); every other rule kind, ruleSameValue
// included, is reported as unsupported.
func (fc *frameContext) registerValue(mem Memory, cfa addr.Address, regNum uint64) (addr.Address, error) {
	r, ok := fc.regs[regNum]
	if !ok {
		return addr.Null, cmerr.New(cmerr.KindUnsupportedOpcode, "register has no CFI rule for this PC")
	}
	switch r.kind {
	case ruleOffset:
		word, err := mem.ReadWord(cfa.Add(r.offset))
		if err != nil {
			return addr.Null, err
		}
		return addr.Address(word), nil
	default:
		return addr.Null, cmerr.New(cmerr.KindUnsupportedOpcode, "unsupported CFI register rule kind")
	}
}

func readULEB128(r *bytes.Buffer) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, cmerr.Wrap(cmerr.KindDwarf, "reading ULEB128", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

func readSLEB128(r *bytes.Buffer) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, cmerr.Wrap(cmerr.KindDwarf, "reading SLEB128", err)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}
