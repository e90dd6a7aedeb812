// Package dwarftest builds minimal, well-formed DWARF debug_info/debug_abbrev
// sections in memory, so the symbol tree builder can be exercised against
// real debug/dwarf.Data without compiling a C fixture. Adapted from
// go-delve/delve's pkg/dwarf/dwarfbuilder, trimmed to the DIE shapes
// coreminer actually consumes (no Go-runtime-specific attribute
// extensions).
package dwarftest

import (
	"bytes"
	"debug/dwarf"
	"encoding/binary"
)

type tagDescr struct {
	tag      dwarf.Tag
	attr     []dwarf.Attr
	form     []form
	children bool
}

type tagState struct {
	off dwarf.Offset
	tagDescr
}

type form uint16

const (
	formString  form = 0x08
	formData1   form = 0x0b
	formData2   form = 0x05
	formAddr    form = 0x01
	formRefAddr form = 0x10
	formBlock4  form = 0x04
)

// Builder assembles debug_info/debug_abbrev byte streams one DIE at a
// time, mirroring the open/attr/close shape of DWARF producers.
type Builder struct {
	info     bytes.Buffer
	abbrevs  []tagDescr
	tagStack []*tagState
}

// New starts a builder with a single open compile unit DIE named name.
// Callers close the tags they open themselves via TagClose; Build closes
// the compile unit.
func New(cuName string) *Builder {
	b := &Builder{}
	b.info.Write([]byte{
		0, 0, 0, 0, // unit length, patched in Build
		4, 0, // version
		0, 0, 0, 0, // debug_abbrev_offset
		8, // address_size
	})
	b.TagOpen(dwarf.TagCompileUnit, cuName)
	return b
}

// Build closes the root compile unit and returns the finished sections in
// the order debug/dwarf.New expects them.
func (b *Builder) Build() (abbrev, info []byte) {
	b.TagClose()
	if len(b.tagStack) != 0 {
		panic("dwarftest: unbalanced TagOpen/TagClose")
	}
	abbrev = b.makeAbbrevTable()
	info = b.info.Bytes()
	binary.LittleEndian.PutUint32(info, uint32(len(info)-4))
	return abbrev, info
}

// Data is a convenience wrapper around Build and debug/dwarf.New.
func (b *Builder) Data() (*dwarf.Data, error) {
	abbrev, info := b.Build()
	return dwarf.New(abbrev, nil, nil, info, nil, nil, nil, nil)
}

// TagOpen starts a new DIE of the given tag and name, returning its
// offset (usable as a DW_AT_type reference target once closed).
func (b *Builder) TagOpen(tag dwarf.Tag, name string) dwarf.Offset {
	if len(b.tagStack) > 0 {
		b.tagStack[len(b.tagStack)-1].children = true
	}
	ts := &tagState{off: dwarf.Offset(b.info.Len())}
	ts.tag = tag
	b.info.WriteByte(0) // abbrev code placeholder, patched on TagClose
	b.tagStack = append(b.tagStack, ts)
	if name != "" {
		b.Attr(dwarf.AttrName, name)
	}
	return ts.off
}

// TagClose finishes the current DIE.
func (b *Builder) TagClose() {
	if len(b.tagStack) == 0 {
		panic("dwarftest: TagClose with no open tag")
	}
	tag := b.tagStack[len(b.tagStack)-1]
	b.info.Bytes()[tag.off] = b.abbrevFor(tag.tagDescr)
	if tag.children {
		b.info.WriteByte(0)
	}
	b.tagStack = b.tagStack[:len(b.tagStack)-1]
}

// Attr adds an attribute/value pair to the currently open DIE.
func (b *Builder) Attr(attr dwarf.Attr, val interface{}) {
	tag := b.tagStack[len(b.tagStack)-1]
	tag.attr = append(tag.attr, attr)

	switch v := val.(type) {
	case string:
		tag.form = append(tag.form, formString)
		b.info.WriteString(v)
		b.info.WriteByte(0)
	case uint8:
		tag.form = append(tag.form, formData1)
		b.info.WriteByte(v)
	case uint16:
		tag.form = append(tag.form, formData2)
		binary.Write(&b.info, binary.LittleEndian, v)
	case uint64:
		tag.form = append(tag.form, formAddr)
		binary.Write(&b.info, binary.LittleEndian, v)
	case dwarf.Offset:
		tag.form = append(tag.form, formRefAddr)
		binary.Write(&b.info, binary.LittleEndian, uint32(v))
	case []byte:
		tag.form = append(tag.form, formBlock4)
		binary.Write(&b.info, binary.LittleEndian, uint32(len(v)))
		b.info.Write(v)
	case int64:
		tag.form = append(tag.form, formData2)
		binary.Write(&b.info, binary.LittleEndian, uint16(v))
	default:
		panic("dwarftest: unsupported attribute value type")
	}
}

// Subprogram opens a DW_TAG_subprogram DIE with low/high PC attributes
// already written; call TagClose once any nested variables/parameters
// have been added.
func (b *Builder) Subprogram(name string, lowPC, highPC uint64) dwarf.Offset {
	off := b.TagOpen(dwarf.TagSubprogram, name)
	b.Attr(dwarf.AttrLowpc, lowPC)
	b.Attr(dwarf.AttrHighpc, highPC)
	return off
}

// Variable adds a complete (no children) DW_TAG_variable DIE.
func (b *Builder) Variable(name string, typ dwarf.Offset, location []byte) dwarf.Offset {
	off := b.TagOpen(dwarf.TagVariable, name)
	b.Attr(dwarf.AttrType, typ)
	if location != nil {
		b.Attr(dwarf.AttrLocation, location)
	}
	b.TagClose()
	return off
}

// BaseType adds a complete DW_TAG_base_type DIE.
func (b *Builder) BaseType(name string, byteSize uint16) dwarf.Offset {
	off := b.TagOpen(dwarf.TagBaseType, name)
	b.Attr(dwarf.AttrByteSize, byteSize)
	b.TagClose()
	return off
}

func sameTagDescr(a, b tagDescr) bool {
	if a.tag != b.tag || a.children != b.children || len(a.attr) != len(b.attr) {
		return false
	}
	for i := range a.attr {
		if a.attr[i] != b.attr[i] || a.form[i] != b.form[i] {
			return false
		}
	}
	return true
}

func (b *Builder) abbrevFor(tag tagDescr) byte {
	for i, d := range b.abbrevs {
		if sameTagDescr(d, tag) {
			return byte(i + 1)
		}
	}
	b.abbrevs = append(b.abbrevs, tag)
	return byte(len(b.abbrevs))
}

func (b *Builder) makeAbbrevTable() []byte {
	var out bytes.Buffer
	for i, a := range b.abbrevs {
		encodeULEB128(&out, uint64(i+1))
		encodeULEB128(&out, uint64(a.tag))
		if a.children {
			out.WriteByte(1)
		} else {
			out.WriteByte(0)
		}
		for j := range a.attr {
			encodeULEB128(&out, uint64(a.attr[j]))
			encodeULEB128(&out, uint64(a.form[j]))
		}
		encodeULEB128(&out, 0)
		encodeULEB128(&out, 0)
	}
	return out.Bytes()
}

func encodeULEB128(out *bytes.Buffer, x uint64) {
	for {
		b := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			b |= 0x80
		}
		out.WriteByte(b)
		if x == 0 {
			break
		}
	}
}
