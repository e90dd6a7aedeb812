package unwind

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// CommonInformationEntry and FrameDescriptionEntry are trimmed ports of
// go-delve/delve's pkg/dwarf/frame.CommonInformationEntry/
// FrameDescriptionEntry: the .debug_frame section's shared prologue
// (CIE) and per-function range + unwind program (FDE). DWARF-expression
// CFA/register rules (DW_CFA_def_cfa_expression, DW_CFA_expression,
// DW_CFA_val_expression) are intentionally not interpreted -- a program
// that relies on them causes EstablishFrame to fail, and the unwinder
// falls back to frame-pointer chasing for that frame, per the "rbp-chain
// fallback" design note.
type CommonInformationEntry struct {
	CodeAlignmentFactor   uint64
	DataAlignmentFactor   int64
	ReturnAddressRegister uint64
	InitialInstructions   []byte
}

// FrameDescriptionEntry describes one function's unwind program.
type FrameDescriptionEntry struct {
	CIE          *CommonInformationEntry
	Instructions []byte
	begin, size  uint64
}

// Cover reports whether pc falls within this FDE's address range.
func (fde *FrameDescriptionEntry) Cover(pc uint64) bool { return pc-fde.begin < fde.size }

// Begin returns the first address covered by this FDE.
func (fde *FrameDescriptionEntry) Begin() uint64 { return fde.begin }

// Table is a sorted set of FDEs, queryable by PC.
type Table []*FrameDescriptionEntry

// ForPC returns the FDE covering pc, or ok=false if none does.
func (t Table) ForPC(pc uint64) (*FrameDescriptionEntry, bool) {
	idx := sort.Search(len(t), func(i int) bool {
		return t[i].Cover(pc) || t[i].Begin() >= pc
	})
	if idx == len(t) || !t[idx].Cover(pc) {
		return nil, false
	}
	return t[idx], true
}

// ParseDebugFrame parses the contents of a .debug_frame section,
// following go-delve/delve's pkg/dwarf/frame.Parse (a simplified
// DWARF-only, not eh_frame, producer-agnostic parse loop -- no
// augmentation pointer-encoding handling, since .debug_frame never
// carries eh_frame's vendor augmentation data). bias is added to every
// FDE's begin address, so the resulting Table's PC ranges live in the
// same address space as the *dwarf.SymbolTree passed to Backtrace as a
// SymbolResolver -- both must agree, or a PIE binary's runtime PCs would
// match neither consistently. Pass addr.Null for a non-PIE binary.
func ParseDebugFrame(data []byte, ptrSize int, bias addr.Address) (Table, error) {
	buf := bytes.NewBuffer(data)
	var table Table
	var cie *CommonInformationEntry

	for buf.Len() > 0 {
		var length uint32
		if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
			break
		}
		if length == 0 {
			continue
		}
		idField := buf.Next(4)
		length -= 4
		body := buf.Next(int(length))

		if bytes.Equal(idField, []byte{0xff, 0xff, 0xff, 0xff}) {
			c, err := parseCIE(body)
			if err != nil {
				return nil, err
			}
			cie = c
			continue
		}

		if cie == nil {
			return nil, cmerr.New(cmerr.KindDwarf, "FDE with no preceding CIE in .debug_frame")
		}
		r := bytes.NewReader(body)
		var beginRaw, sizeRaw uint64
		if err := readUint(r, ptrSize, &beginRaw); err != nil {
			return nil, err
		}
		if err := readUint(r, ptrSize, &sizeRaw); err != nil {
			return nil, err
		}
		instr := make([]byte, r.Len())
		_, _ = r.Read(instr)
		table = append(table, &FrameDescriptionEntry{CIE: cie, begin: beginRaw + bias.Uint64(), size: sizeRaw, Instructions: instr})
	}

	sort.Slice(table, func(i, j int) bool { return table[i].Begin() < table[j].Begin() })
	return table, nil
}

func readUint(r *bytes.Reader, size int, out *uint64) error {
	switch size {
	case 4:
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return cmerr.Wrap(cmerr.KindDwarf, "reading FDE address", err)
		}
		*out = uint64(v)
	default:
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return cmerr.Wrap(cmerr.KindDwarf, "reading FDE address", err)
		}
		*out = v
	}
	return nil
}

func parseCIE(data []byte) (*CommonInformationEntry, error) {
	buf := bytes.NewBuffer(data)
	if _, err := buf.ReadByte(); err != nil { // version
		return nil, cmerr.Wrap(cmerr.KindDwarf, "CIE version", err)
	}
	if _, err := readCString(buf); err != nil { // augmentation
		return nil, err
	}
	caf, err := readULEB128(buf)
	if err != nil {
		return nil, err
	}
	daf, err := readSLEB128(buf)
	if err != nil {
		return nil, err
	}
	raf, err := readULEB128(buf)
	if err != nil {
		return nil, err
	}
	return &CommonInformationEntry{
		CodeAlignmentFactor:   caf,
		DataAlignmentFactor:   daf,
		ReturnAddressRegister: raf,
		InitialInstructions:   buf.Bytes(),
	}, nil
}

func readCString(buf *bytes.Buffer) (string, error) {
	s, err := buf.ReadString(0)
	if err != nil {
		return "", cmerr.Wrap(cmerr.KindDwarf, "CIE augmentation string", err)
	}
	return s[:len(s)-1], nil
}
