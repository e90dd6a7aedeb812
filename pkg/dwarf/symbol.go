// Package dwarf builds an owned symbol tree from an ELF binary's DWARF
// debug information, the same way go-delve/delve's pkg/dwarf/reader.Reader
// (a thin wrapper around debug/dwarf.Reader) and pkg/dwarf/godwarf build
// entirely on top of the stdlib debug/dwarf package rather than
// reimplementing section parsing. Type references between symbols are
// stored as DIE offsets rather than pointers, so the tree has no cycles
// even though DWARF type graphs do.
package dwarf

import (
	"debug/dwarf"

	"github.com/TalpaLabs/coreminer/pkg/addr"
)

// Kind classifies an OwnedSymbol by its originating DWARF tag.
type Kind string

const (
	KindCompileUnit     Kind = "compile_unit"
	KindSubprogram      Kind = "subprogram"
	KindVariable        Kind = "variable"
	KindParameter       Kind = "parameter"
	KindLexicalBlock    Kind = "lexical_block"
	KindBaseType        Kind = "base_type"
	KindPointerType     Kind = "pointer_type"
	KindArrayType       Kind = "array_type"
	KindStructType      Kind = "struct_type"
	KindUnionType       Kind = "union_type"
	KindMember          Kind = "member"
	KindTypedef         Kind = "typedef"
	KindEnumerationType Kind = "enumeration_type"
	KindEnumerator      Kind = "enumerator"
	KindConstType       Kind = "const_type"
	KindVolatileType    Kind = "volatile_type"
	KindSubroutineType  Kind = "subroutine_type"
	KindUnspecified     Kind = "unspecified"
)

// OwnedSymbol is one node of the symbol tree: a DWARF DIE reduced to the
// fields coreminer actually needs, with any reference to another DIE
// (its type, for instance) recorded as a bare offset rather than a
// pointer to the referenced node, so the tree stays acyclic and so
// children can be walked and freed independently of the types they
// mention.
type OwnedSymbol struct {
	Kind   Kind          `json:"kind"`
	Name   string        `json:"name,omitempty"`
	Offset dwarf.Offset  `json:"offset"`
	CUName string        `json:"cu_name,omitempty"`

	LowPC    *addr.Address `json:"low_pc,omitempty"`
	HighPC   *addr.Address `json:"high_pc,omitempty"`
	ByteSize *int64        `json:"byte_size,omitempty"`

	// TypeOffset is the DIE offset of this symbol's DW_AT_type, or nil if
	// it has none. Resolve via SymbolTree.ByOffset, never stored as a
	// child pointer.
	TypeOffset *dwarf.Offset `json:"type_offset,omitempty"`

	FrameBase []byte `json:"frame_base,omitempty"`
	Location  []byte `json:"location,omitempty"`

	// MemberOffset holds DW_AT_data_member_location's constant form, for
	// struct/union members laid out at a fixed offset from the
	// enclosing object's address.
	MemberOffset *int64 `json:"member_offset,omitempty"`

	// ArrayCount holds DW_AT_count or a derived element count for array
	// types, when known statically.
	ArrayCount *int64 `json:"array_count,omitempty"`

	// Encoding holds DW_AT_encoding (a dwarf.BasicType DW_ATE_* constant)
	// for base types, letting the variable reader distinguish a signed
	// integer from an unsigned one or a float of the same byte size.
	Encoding int64 `json:"encoding,omitempty"`

	External bool `json:"external,omitempty"`

	Children []*OwnedSymbol `json:"children,omitempty"`
}

// Contains reports whether pc falls within [LowPC, HighPC).
func (s *OwnedSymbol) Contains(pc addr.Address) bool {
	if s.LowPC == nil || s.HighPC == nil {
		return false
	}
	return pc.Uint64() >= s.LowPC.Uint64() && pc.Uint64() < s.HighPC.Uint64()
}

// IsType reports whether this symbol's kind denotes a type DIE rather than
// a variable, function, or scope.
func (s *OwnedSymbol) IsType() bool {
	switch s.Kind {
	case KindBaseType, KindPointerType, KindArrayType, KindStructType,
		KindUnionType, KindTypedef, KindEnumerationType, KindConstType,
		KindVolatileType, KindSubroutineType:
		return true
	}
	return false
}
