// Package variable resolves a source-level variable name to a live value
// (or writes one back), composing the symbol tree, the DWARF expression
// evaluator, and the register/memory capabilities. The evaluation path
// follows go-delve/delve's pkg/proc.(*Variable) (EvalVariable/loadValue's
// encoding-driven interpretation), but returns a tagged VariableValue
// here instead of go-delve/delve's richer proc.Variable.
package variable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/dwarf"
	"github.com/TalpaLabs/coreminer/pkg/dwarf/op"
)

// DW_ATE_* basic type encodings this package needs to tell a signed
// integer from an unsigned one or a float of the same byte size, per the
// DWARF standard's "Basic type encodings" table (debug/dwarf keeps the
// same constants unexported, so they are restated here).
const (
	ateBoolean      = 0x02
	ateFloat        = 0x04
	ateSigned       = 0x05
	ateSignedChar   = 0x06
	ateUnsigned     = 0x07
	ateUnsignedChar = 0x08
)

// Memory is the capability this package needs beyond op.Memory: reading
// and writing an arbitrary-length run of bytes with the breakpoint table's
// transparent substitution. *breakpoint.Table satisfies this directly.
type Memory interface {
	op.Memory
	ReadMemoryTransparent(a addr.Address, length int) ([]byte, error)
	WriteMemoryTransparent(a addr.Address, data []byte) error
}

// Registers is the capability this package needs from the live register
// snapshot: resolving both the numeric value of a DWARF register (for
// frame-base and location evaluation) and writing one back (for a
// register-resident variable write). *registers.Snapshot satisfies this.
type Registers interface {
	op.Registers
	SetByDwarfNum(n int, value uint64) error
}

// Kind tags a Value's variant.
type Kind string

const (
	KindBytes     Kind = "bytes"
	KindInteger   Kind = "integer"
	KindAddress   Kind = "address"
	KindFloat     Kind = "float"
	KindComposite Kind = "composite"
)

// Value is the tagged variant coreminer calls VariableValue.
type Value struct {
	Kind Kind `json:"kind"`

	Bytes     []byte           `json:"bytes,omitempty"`
	Integer   int64            `json:"integer,omitempty"`
	Unsigned  bool             `json:"unsigned,omitempty"`
	Address   addr.Address     `json:"address,omitempty"`
	Float     float64          `json:"float,omitempty"`
	Composite map[string]Value `json:"composite,omitempty"`

	// ByteSize is the originating DWARF type's size, carried on every
	// variant.
	ByteSize int64 `json:"byte_size"`
}

// Resolver composes everything read_variable/write_variable need to go
// from a bare name to a live Place: the symbol tree, the current register
// snapshot, memory, and the PC used to find the enclosing subprogram (and
// thus its frame base) and to bias DW_OP_addr operands.
type Resolver struct {
	Tree *dwarf.SymbolTree
	Regs Registers
	Mem  Memory
	PC   addr.Address
	CFA  int64
}

// Read implements read_variable: resolve name, evaluate its location,
// gather exactly byte_size bytes from the resulting Place, and interpret
// them per the variable's type.
func (r *Resolver) Read(name string) (Value, error) {
	sym, err := r.Tree.ByNameUnambiguous(name)
	if err != nil {
		return Value{}, err
	}
	typeSym, ok := r.Tree.TypeOf(sym)
	if !ok {
		return Value{}, cmerr.New(cmerr.KindNoDebugInfo, "variable "+name+" has no type")
	}

	place, err := r.evaluateLocation(sym)
	if err != nil {
		return Value{}, err
	}

	return r.interpretPlace(typeSym, place)
}

// Write implements write_variable: resolve name, evaluate its location,
// serialize value to byte_size bytes, and place them. A Place that is a
// constant expression is not writable (cmerr.KindWriteConstant).
func (r *Resolver) Write(name string, value Value) error {
	sym, err := r.Tree.ByNameUnambiguous(name)
	if err != nil {
		return err
	}
	typeSym, ok := r.Tree.TypeOf(sym)
	if !ok {
		return cmerr.New(cmerr.KindNoDebugInfo, "variable "+name+" has no type")
	}

	place, err := r.evaluateLocation(sym)
	if err != nil {
		return err
	}

	byteSize := concreteByteSize(r.Tree, typeSym)
	data, err := serialize(value, byteSize)
	if err != nil {
		return err
	}

	switch place.Kind {
	case op.PlaceMemory:
		return r.Mem.WriteMemoryTransparent(place.Address, data)
	case op.PlaceRegister:
		return r.Regs.SetByDwarfNum(place.RegNum, addr.WordFromBytes(data).Uint64())
	default:
		return cmerr.New(cmerr.KindWriteConstant, "cannot write to a constant expression")
	}
}

// evaluateLocation resolves sym's enclosing subprogram's frame base (if
// any) and evaluates sym's own DW_AT_location against it.
func (r *Resolver) evaluateLocation(sym *dwarf.OwnedSymbol) (op.Place, error) {
	if len(sym.Location) == 0 {
		return op.Place{}, cmerr.New(cmerr.KindDwarf, "variable "+sym.Name+" has no location expression")
	}

	var frameBase *int64
	if fn, ok := r.Tree.FunctionAt(r.PC); ok && len(fn.FrameBase) > 0 {
		fb, err := r.resolveFrameBase(fn)
		if err != nil {
			return op.Place{}, err
		}
		frameBase = fb
	}

	ctx := op.Context{
		Regs:       r.Regs,
		Mem:        r.Mem,
		StaticBase: r.Tree.Bias.Uint64(),
		FrameBase:  frameBase,
		CFA:        r.CFA,
	}
	return op.Evaluate(sym.Location, ctx)
}

// resolveFrameBase evaluates a subprogram's DW_AT_frame_base expression.
// The usual forms (DW_OP_call_frame_cfa, DW_OP_breg6 0) evaluate to a
// PlaceMemory whose Address is itself the frame base value, not something
// to dereference further -- op.Evaluate's convention treats "the final
// stack value, not read through" identically for both a location and a
// frame base.
func (r *Resolver) resolveFrameBase(fn *dwarf.OwnedSymbol) (*int64, error) {
	place, err := op.Evaluate(fn.FrameBase, op.Context{Regs: r.Regs, Mem: r.Mem, CFA: r.CFA})
	if err != nil {
		return nil, err
	}
	switch place.Kind {
	case op.PlaceMemory:
		v := int64(place.Address)
		return &v, nil
	case op.PlaceRegister:
		raw, ok := r.Regs.ByDwarfNum(place.RegNum)
		if !ok {
			return nil, cmerr.New(cmerr.KindRegisterName, "frame base register unavailable")
		}
		v := int64(raw)
		return &v, nil
	default:
		v := place.Value
		return &v, nil
	}
}

// interpretPlace gathers byte_size bytes from place and interprets them
// per typeSym's kind.
func (r *Resolver) interpretPlace(typeSym *dwarf.OwnedSymbol, place op.Place) (Value, error) {
	byteSize := concreteByteSize(r.Tree, typeSym)

	switch place.Kind {
	case op.PlaceRegister:
		raw, ok := r.Regs.ByDwarfNum(place.RegNum)
		if !ok {
			return Value{}, cmerr.New(cmerr.KindRegisterName, "unknown DWARF register in location")
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, raw)
		if int64(len(buf)) > byteSize && byteSize > 0 {
			buf = buf[:byteSize]
		}
		return interpretBytes(r.Tree, typeSym, buf, byteSize)

	case op.PlaceMemory:
		data, err := r.Mem.ReadMemoryTransparent(place.Address, int(byteSize))
		if err != nil {
			return Value{}, err
		}
		return interpretComposite(r.Tree, typeSym, place.Address, data, byteSize)

	case op.PlaceConstant:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(place.Value))
		if int64(len(buf)) > byteSize && byteSize > 0 {
			buf = buf[:byteSize]
		}
		return interpretBytes(r.Tree, typeSym, buf, byteSize)

	default:
		return Value{}, cmerr.New(cmerr.KindDwarf, "DWARF expression produced no place")
	}
}

// interpretComposite handles the struct/array recursion that needs the
// value's own address (to compute each member/element's address), falling
// back to interpretBytes for scalar kinds.
func interpretComposite(tree *dwarf.SymbolTree, typeSym *dwarf.OwnedSymbol, address addr.Address, data []byte, byteSize int64) (Value, error) {
	concrete := resolveConcreteType(tree, typeSym)
	if concrete == nil {
		return Value{Kind: KindBytes, Bytes: data, ByteSize: byteSize}, nil
	}

	switch concrete.Kind {
	case dwarf.KindStructType, dwarf.KindUnionType:
		out := make(map[string]Value)
		for _, member := range dwarf.Members(concrete) {
			memberType, ok := tree.TypeOf(member)
			if !ok {
				continue
			}
			off := int64(0)
			if member.MemberOffset != nil {
				off = *member.MemberOffset
			}
			memberAddr := address.Add(off)
			memberSize := concreteByteSize(tree, memberType)
			memberData, err := sliceAt(data, off, memberSize)
			if err != nil {
				// Fields aliasing bytes outside what was originally read
				// (e.g. a bitfield) are rare for this evaluator's scope;
				// surface as a bug-free empty value rather than failing
				// the whole struct read.
				memberData = nil
			}
			val, err := interpretComposite(tree, memberType, memberAddr, memberData, memberSize)
			if err != nil {
				return Value{}, err
			}
			out[member.Name] = val
		}
		return Value{Kind: KindComposite, Composite: out, ByteSize: byteSize}, nil

	case dwarf.KindArrayType:
		elemType, ok := tree.TypeOf(concrete)
		if !ok {
			return Value{Kind: KindBytes, Bytes: data, ByteSize: byteSize}, nil
		}
		elemSize := concreteByteSize(tree, elemType)
		count := arrayCount(concrete, byteSize, elemSize)
		out := make(map[string]Value, count)
		for i := int64(0); i < count; i++ {
			off := i * elemSize
			elemAddr := address.Add(off)
			elemData, err := sliceAt(data, off, elemSize)
			if err != nil {
				break
			}
			val, err := interpretComposite(tree, elemType, elemAddr, elemData, elemSize)
			if err != nil {
				return Value{}, err
			}
			out[fmt.Sprintf("%d", i)] = val
		}
		return Value{Kind: KindComposite, Composite: out, ByteSize: byteSize}, nil

	default:
		return interpretBytes(tree, typeSym, data, byteSize)
	}
}

func sliceAt(data []byte, offset, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > int64(len(data)) {
		return nil, fmt.Errorf("offset %d length %d out of range for %d bytes", offset, length, len(data))
	}
	return data[offset : offset+length], nil
}

func arrayCount(arrayType *dwarf.OwnedSymbol, byteSize, elemSize int64) int64 {
	if arrayType.ArrayCount != nil {
		return *arrayType.ArrayCount
	}
	if elemSize > 0 {
		return byteSize / elemSize
	}
	return 0
}

// interpretBytes handles the scalar kinds: base types (by encoding),
// pointers (as Address), enumerators (as Integer), and anything else as
// raw Bytes.
func interpretBytes(tree *dwarf.SymbolTree, typeSym *dwarf.OwnedSymbol, data []byte, byteSize int64) (Value, error) {
	concrete := resolveConcreteType(tree, typeSym)
	if concrete == nil {
		return Value{Kind: KindBytes, Bytes: data, ByteSize: byteSize}, nil
	}

	switch concrete.Kind {
	case dwarf.KindPointerType:
		return Value{Kind: KindAddress, Address: addr.FromUint64(leToUint64(data)), ByteSize: byteSize}, nil

	case dwarf.KindEnumerationType:
		return Value{Kind: KindInteger, Integer: int64(leToUint64(data)), ByteSize: byteSize}, nil

	case dwarf.KindBaseType:
		switch concrete.Encoding {
		case ateFloat:
			return Value{Kind: KindFloat, Float: decodeFloat(data), ByteSize: byteSize}, nil
		case ateSigned, ateSignedChar:
			return Value{Kind: KindInteger, Integer: signExtend(leToUint64(data), byteSize), ByteSize: byteSize}, nil
		case ateUnsigned, ateUnsignedChar, ateBoolean:
			return Value{Kind: KindInteger, Integer: int64(leToUint64(data)), Unsigned: true, ByteSize: byteSize}, nil
		default:
			return Value{Kind: KindInteger, Integer: signExtend(leToUint64(data), byteSize), ByteSize: byteSize}, nil
		}

	default:
		return Value{Kind: KindBytes, Bytes: data, ByteSize: byteSize}, nil
	}
}

func leToUint64(data []byte) uint64 {
	var v uint64
	for i := 0; i < len(data) && i < 8; i++ {
		v |= uint64(data[i]) << (8 * i)
	}
	return v
}

func signExtend(v uint64, byteSize int64) int64 {
	if byteSize <= 0 || byteSize >= 8 {
		return int64(v)
	}
	shift := uint(64 - byteSize*8)
	return int64(v<<shift) >> shift
}

func decodeFloat(data []byte) float64 {
	switch len(data) {
	case 4:
		return float64(math.Float32frombits(uint32(leToUint64(data))))
	default:
		return math.Float64frombits(leToUint64(data))
	}
}

// resolveConcreteType follows typedef/const/volatile wrappers to the
// first type DIE whose kind actually determines interpretation.
func resolveConcreteType(tree *dwarf.SymbolTree, typeSym *dwarf.OwnedSymbol) *dwarf.OwnedSymbol {
	seen := make(map[uint64]bool)
	cur := typeSym
	for cur != nil {
		switch cur.Kind {
		case dwarf.KindTypedef, dwarf.KindConstType, dwarf.KindVolatileType:
			if seen[uint64(cur.Offset)] {
				return cur
			}
			seen[uint64(cur.Offset)] = true
			next, ok := tree.TypeOf(cur)
			if !ok {
				return cur
			}
			cur = next
		default:
			return cur
		}
	}
	return cur
}

// concreteByteSize resolves a type's byte size, following typedef chains
// and defaulting pointer types to the platform word size when DWARF
// didn't record one explicitly.
func concreteByteSize(tree *dwarf.SymbolTree, typeSym *dwarf.OwnedSymbol) int64 {
	concrete := resolveConcreteType(tree, typeSym)
	if concrete == nil {
		return 0
	}
	if concrete.ByteSize != nil {
		return *concrete.ByteSize
	}
	if concrete.Kind == dwarf.KindPointerType {
		return int64(addr.Size)
	}
	return 0
}

// serialize renders value into exactly byteSize little-endian bytes for a
// write_variable call.
func serialize(value Value, byteSize int64) ([]byte, error) {
	if byteSize <= 0 {
		byteSize = 8
	}
	buf := make([]byte, byteSize)
	switch value.Kind {
	case KindInteger:
		putLE(buf, uint64(value.Integer))
	case KindAddress:
		putLE(buf, value.Address.Uint64())
	case KindFloat:
		switch byteSize {
		case 4:
			putLE(buf, uint64(math.Float32bits(float32(value.Float))))
		default:
			putLE(buf, math.Float64bits(value.Float))
		}
	case KindBytes:
		copy(buf, value.Bytes)
	case KindComposite:
		return nil, cmerr.New(cmerr.KindDwarf, "cannot serialize a composite value as a scalar write")
	default:
		return nil, cmerr.New(cmerr.KindDwarf, "unknown VariableValue kind")
	}
	return buf, nil
}

func putLE(buf []byte, v uint64) {
	for i := 0; i < len(buf) && i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}
