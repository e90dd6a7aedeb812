// Package op evaluates DWARF location expressions. It follows the same
// stack-machine shape as go-delve/delve's pkg/dwarf/op (a byte-code
// reader feeding a small opcode table), adapted here to return a Place
// variant (Register/Memory/Constant) directly instead of a
// raw-address-or-Pieces result.
package op

import (
	"bytes"
	"encoding/binary"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// Opcode is a single DWARF stack-program instruction byte.
type Opcode byte

const (
	OpAddr        Opcode = 0x03
	OpDeref       Opcode = 0x06
	OpConst1u     Opcode = 0x08
	OpConst1s     Opcode = 0x09
	OpConst2u     Opcode = 0x0a
	OpConst2s     Opcode = 0x0b
	OpConst4u     Opcode = 0x0c
	OpConst4s     Opcode = 0x0d
	OpConst8u     Opcode = 0x0e
	OpConst8s     Opcode = 0x0f
	OpConstu      Opcode = 0x10
	OpConsts      Opcode = 0x11
	OpPlus        Opcode = 0x22
	OpPlusUconst  Opcode = 0x23
	OpReg0        Opcode = 0x50
	OpReg31       Opcode = 0x6f
	OpBreg0       Opcode = 0x70
	OpBreg31      Opcode = 0x8f
	OpRegx        Opcode = 0x90
	OpFbreg       Opcode = 0x91
	OpBregx       Opcode = 0x92
	OpCallFrameCFA Opcode = 0x9c
	OpStackValue  Opcode = 0x9f
)

// Registers is the capability the evaluator needs from the live register
// snapshot: resolving a DWARF register number to its current value.
// pkg/registers.Snapshot satisfies this via ByDwarfNum.
type Registers interface {
	ByDwarfNum(n int) (uint64, bool)
}

// Memory is the capability the evaluator needs to dereference a pointer
// it has computed on its stack. pkg/breakpoint.Table satisfies this.
type Memory interface {
	ReadWord(a addr.Address) (addr.Word, error)
}

// PlaceKind tags the Place variant returned by Evaluate.
type PlaceKind string

const (
	PlaceMemory   PlaceKind = "memory"
	PlaceRegister PlaceKind = "register"
	PlaceConstant PlaceKind = "constant"
)

// Place is the evaluator's result: where the value described by the
// expression actually lives.
type Place struct {
	Kind PlaceKind

	Address addr.Address // valid when Kind == PlaceMemory
	RegNum  int          // valid when Kind == PlaceRegister
	Value   int64        // valid when Kind == PlaceConstant
}

// Context carries everything an expression might reference beyond its
// own bytes: the process's register snapshot, the enclosing
// subprogram's frame base (nil if none has been resolved, in which case
// DW_OP_fbreg fails with cmerr.KindFrameBaseMissing), the call-frame CFA
// for this frame, the image's static load bias, and a memory reader for
// DW_OP_deref.
type Context struct {
	Regs       Registers
	Mem        Memory
	StaticBase uint64
	FrameBase  *int64
	CFA        int64
	PtrSize    int
}

type machine struct {
	ctx   Context
	buf   *bytes.Reader
	stack []int64
	// stackValue marks that the final stack entry is itself the value
	// (DW_OP_stack_value), not an address to read from.
	stackValue bool
	regResult  *int
}

// Evaluate runs a DWARF location expression to completion and returns
// the Place it describes.
func Evaluate(expr []byte, ctx Context) (Place, error) {
	if ctx.PtrSize == 0 {
		ctx.PtrSize = addr.Size
	}
	m := &machine{ctx: ctx, buf: bytes.NewReader(expr)}

	for {
		opByte, err := m.buf.ReadByte()
		if err != nil {
			break
		}
		if err := m.step(Opcode(opByte)); err != nil {
			return Place{}, err
		}
	}

	if m.regResult != nil {
		return Place{Kind: PlaceRegister, RegNum: *m.regResult}, nil
	}
	if len(m.stack) == 0 {
		return Place{}, cmerr.New(cmerr.KindEmptyStack, "empty DWARF expression stack")
	}
	top := m.stack[len(m.stack)-1]
	if m.stackValue {
		return Place{Kind: PlaceConstant, Value: top}, nil
	}
	return Place{Kind: PlaceMemory, Address: addr.FromUint64(uint64(top))}, nil
}

func (m *machine) push(v int64) { m.stack = append(m.stack, v) }

func (m *machine) pop() (int64, error) {
	if len(m.stack) == 0 {
		return 0, cmerr.New(cmerr.KindEmptyStack, "empty DWARF expression stack")
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v, nil
}

func (m *machine) step(op Opcode) error {
	switch {
	case op == OpAddr:
		var v uint64
		if err := binary.Read(m.buf, binary.LittleEndian, &v); err != nil {
			return cmerr.Wrap(cmerr.KindParse, "DW_OP_addr operand", err)
		}
		m.push(int64(v + m.ctx.StaticBase))
		return nil

	case op == OpDeref:
		a, err := m.pop()
		if err != nil {
			return err
		}
		if m.ctx.Mem == nil {
			return cmerr.New(cmerr.KindMemoryRead, "no memory reader available for DW_OP_deref")
		}
		word, err := m.ctx.Mem.ReadWord(addr.FromUint64(uint64(a)))
		if err != nil {
			return cmerr.Wrap(cmerr.KindMemoryRead, "DW_OP_deref", err)
		}
		m.push(int64(word))
		return nil

	case op >= OpConst1u && op <= OpConsts:
		v, err := readConst(op, m.buf)
		if err != nil {
			return err
		}
		m.push(v)
		return nil

	case op == OpPlus:
		b, err := m.pop()
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		m.push(a + b)
		return nil

	case op == OpPlusUconst:
		n, err := readULEB128(m.buf)
		if err != nil {
			return err
		}
		a, err := m.pop()
		if err != nil {
			return err
		}
		m.push(a + int64(n))
		return nil

	case op >= OpReg0 && op <= OpReg31:
		n := int(op - OpReg0)
		m.regResult = &n
		return nil

	case op == OpRegx:
		n, err := readULEB128(m.buf)
		if err != nil {
			return err
		}
		rn := int(n)
		m.regResult = &rn
		return nil

	case op >= OpBreg0 && op <= OpBreg31:
		offset, err := readSLEB128(m.buf)
		if err != nil {
			return err
		}
		regNum := int(op - OpBreg0)
		v, ok := m.ctx.Regs.ByDwarfNum(regNum)
		if !ok {
			return cmerr.New(cmerr.KindRegisterName, "DW_OP_breg referenced an unknown register")
		}
		m.push(int64(v) + offset)
		return nil

	case op == OpBregx:
		regNum, err := readULEB128(m.buf)
		if err != nil {
			return err
		}
		offset, err := readSLEB128(m.buf)
		if err != nil {
			return err
		}
		v, ok := m.ctx.Regs.ByDwarfNum(int(regNum))
		if !ok {
			return cmerr.New(cmerr.KindRegisterName, "DW_OP_bregx referenced an unknown register")
		}
		m.push(int64(v) + offset)
		return nil

	case op == OpFbreg:
		n, err := readSLEB128(m.buf)
		if err != nil {
			return err
		}
		if m.ctx.FrameBase == nil {
			return cmerr.New(cmerr.KindFrameBaseMissing, "DW_OP_fbreg used without a resolved frame base")
		}
		m.push(*m.ctx.FrameBase + n)
		return nil

	case op == OpCallFrameCFA:
		m.push(m.ctx.CFA)
		return nil

	case op == OpStackValue:
		m.stackValue = true
		return nil

	default:
		return cmerr.New(cmerr.KindUnsupportedOpcode, opcodeName(op))
	}
}

func readConst(op Opcode, r *bytes.Reader) (int64, error) {
	switch op {
	case OpConst1u:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst1s:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst2u:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst2s:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst4u:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst4s:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst8u:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), wrapParseErr(err)
	case OpConst8s:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, wrapParseErr(err)
	case OpConstu:
		v, err := readULEB128(r)
		return int64(v), err
	case OpConsts:
		return readSLEB128(r)
	}
	return 0, cmerr.New(cmerr.KindUnsupportedOpcode, opcodeName(op))
}

func wrapParseErr(err error) error {
	if err == nil {
		return nil
	}
	return cmerr.Wrap(cmerr.KindParse, "reading constant operand", err)
}

// readULEB128 decodes an unsigned little-endian base-128 integer, the
// same algorithm as go-delve/delve's pkg/dwarf/util.DecodeULEB128.
func readULEB128(r *bytes.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, cmerr.Wrap(cmerr.KindParse, "reading ULEB128", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
}

// readSLEB128 decodes a signed little-endian base-128 integer.
func readSLEB128(r *bytes.Reader) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, cmerr.Wrap(cmerr.KindParse, "reading SLEB128", err)
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

func opcodeName(op Opcode) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return "unknown opcode"
}

var opcodeNames = map[Opcode]string{
	OpAddr:         "DW_OP_addr",
	OpDeref:        "DW_OP_deref",
	OpPlus:         "DW_OP_plus",
	OpPlusUconst:   "DW_OP_plus_uconst",
	OpRegx:         "DW_OP_regx",
	OpFbreg:        "DW_OP_fbreg",
	OpBregx:        "DW_OP_bregx",
	OpCallFrameCFA: "DW_OP_call_frame_cfa",
	OpStackValue:   "DW_OP_stack_value",
}
