package dwarf

import (
	"debug/dwarf"
	"debug/elf"
	"os"

	lru "github.com/hashicorp/golang-lru"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/procmap"
)

// treeCacheSize bounds how many parsed symbol trees Build keeps around at
// once. A coreminer session only ever needs one, but cmserve can outlive
// several Run/Quit cycles against the same binary (a client restarting
// its debuggee to retry a scenario), and re-walking DWARF for an
// unchanged executable on every restart is pure waste.
const treeCacheSize = 8

var treeCache, _ = lru.New(treeCacheSize)

type treeCacheKey struct {
	path  string
	mtime int64
	bias  addr.Address
}

// SymbolTree is a forest of compile units plus indices for the query
// operations symbol lookup needs: by-name (exact and prefix), by-offset,
// and by-PC.
type SymbolTree struct {
	Units []*OwnedSymbol

	byOffset map[dwarf.Offset]*OwnedSymbol
	names    *nameIndex

	// Bias is added to every DW_AT_low_pc/high_pc/location address value
	// read from the binary so lookups can be done in the tracee's
	// virtual address space rather than the link-time one, per
	// pkg/procmap.LoadBias.
	Bias addr.Address
}

var tagKind = map[dwarf.Tag]Kind{
	dwarf.TagCompileUnit:     KindCompileUnit,
	dwarf.TagSubprogram:      KindSubprogram,
	dwarf.TagVariable:        KindVariable,
	dwarf.TagFormalParameter: KindParameter,
	dwarf.TagLexDwarfBlock:   KindLexicalBlock,
	dwarf.TagBaseType:        KindBaseType,
	dwarf.TagPointerType:     KindPointerType,
	dwarf.TagArrayType:       KindArrayType,
	dwarf.TagStructType:      KindStructType,
	dwarf.TagUnionType:       KindUnionType,
	dwarf.TagMember:          KindMember,
	dwarf.TagTypedef:         KindTypedef,
	dwarf.TagEnumerationType: KindEnumerationType,
	dwarf.TagEnumerator:      KindEnumerator,
	dwarf.TagConstType:       KindConstType,
	dwarf.TagVolatileType:    KindVolatileType,
	dwarf.TagSubroutineType:  KindSubroutineType,
}

// Build opens path as an ELF binary, walks its DWARF info with the
// stdlib debug/dwarf.Reader, and returns the resulting symbol tree with
// every address already biased to match a process whose executable is
// loaded at the given load bias (pass addr.Null for a statically-linked
// or not-yet-relocated binary).
func Build(path string, bias addr.Address) (*SymbolTree, error) {
	key, cacheable := treeCacheKeyFor(path, bias)
	if cacheable {
		if cached, ok := treeCache.Get(key); ok {
			return cached.(*SymbolTree), nil
		}
	}

	f, err := elf.Open(path)
	if err != nil {
		return nil, cmerr.Wrap(cmerr.KindExecutable, "opening elf file", err)
	}
	defer f.Close()

	data, err := f.DWARF()
	if err != nil {
		return nil, cmerr.Wrap(cmerr.KindNoDebugInfo, path, err)
	}

	tree, err := build(data, bias)
	if err != nil {
		return nil, err
	}
	if cacheable {
		treeCache.Add(key, tree)
	}
	return tree, nil
}

// treeCacheKeyFor derives a cache key from path's current mtime, so an
// executable rebuilt in place (the common edit/compile/debug loop) misses
// the cache instead of serving stale DWARF. A stat failure just disables
// caching for this call rather than failing Build outright.
func treeCacheKeyFor(path string, bias addr.Address) (treeCacheKey, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return treeCacheKey{}, false
	}
	return treeCacheKey{path: path, mtime: info.ModTime().UnixNano(), bias: bias}, true
}

// BuildForPID loads the DWARF info of execPath and biases every address
// using the actual load address of execPath observed in pid's memory
// map, the same on-disk-to-in-memory mapping go-delve/delve's
// pkg/proc/native package derives from /proc/pid/maps.
func BuildForPID(pid int, execPath string) (*SymbolTree, error) {
	regions, err := procmap.Load(pid)
	if err != nil {
		return nil, err
	}
	bias := procmap.LoadBias(regions, execPath)
	return Build(execPath, bias)
}

// FromData builds a SymbolTree directly from already-parsed DWARF data,
// skipping the ELF-open step Build and BuildForPID both do. Exported so
// other packages' tests can build a tree from synthetic data (see
// pkg/dwarf/dwarftest) without a real compiled binary on disk.
func FromData(data *dwarf.Data, bias addr.Address) (*SymbolTree, error) {
	return build(data, bias)
}

func build(data *dwarf.Data, bias addr.Address) (*SymbolTree, error) {
	tree := &SymbolTree{
		byOffset: make(map[dwarf.Offset]*OwnedSymbol),
		names:    newNameIndex(),
		Bias:     bias,
	}

	r := data.Reader()
	var stack []*OwnedSymbol
	var cuName string

	for {
		entry, err := r.Next()
		if err != nil {
			return nil, cmerr.Wrap(cmerr.KindDwarf, "walking DWARF entries", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == 0 {
			// A null entry closes the most recent open sibling list.
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			continue
		}

		sym := tree.fromEntry(entry, bias)
		if entry.Tag == dwarf.TagCompileUnit {
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				cuName = name
			}
		}
		sym.CUName = cuName

		tree.byOffset[entry.Offset] = sym
		if sym.Name != "" {
			tree.names.insert(sym.Name, sym)
		}

		if len(stack) == 0 {
			tree.Units = append(tree.Units, sym)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, sym)
		}

		if entry.Children {
			stack = append(stack, sym)
		}
	}

	return tree, nil
}

func (t *SymbolTree) fromEntry(entry *dwarf.Entry, bias addr.Address) *OwnedSymbol {
	sym := &OwnedSymbol{
		Kind:   kindOf(entry.Tag),
		Offset: entry.Offset,
	}

	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		sym.Name = name
	}
	if ext, ok := entry.Val(dwarf.AttrExternal).(bool); ok {
		sym.External = ext
	}
	if lo, ok := entry.Val(dwarf.AttrLowpc).(uint64); ok {
		a := addr.FromUint64(lo).Add(int64(bias.Uint64()))
		sym.LowPC = &a
		if hi := highPC(entry, lo); hi != nil {
			h := addr.FromUint64(*hi).Add(int64(bias.Uint64()))
			sym.HighPC = &h
		}
	}
	if bs, ok := entry.Val(dwarf.AttrByteSize).(int64); ok {
		sym.ByteSize = &bs
	}
	if to, ok := entry.Val(dwarf.AttrType).(dwarf.Offset); ok {
		sym.TypeOffset = &to
	}
	if fb, ok := entry.Val(dwarf.AttrFrameBase).([]byte); ok {
		sym.FrameBase = fb
	}
	if loc, ok := entry.Val(dwarf.AttrLocation).([]byte); ok {
		sym.Location = loc
	}
	switch v := entry.Val(dwarf.AttrDataMemberLoc).(type) {
	case int64:
		sym.MemberOffset = &v
	case []byte:
		// A location-expression form (e.g. DW_OP_plus_uconst N) is left
		// for the expression evaluator; only the constant form is
		// surfaced directly on the symbol.
	}
	if c, ok := entry.Val(dwarf.AttrCount).(int64); ok {
		sym.ArrayCount = &c
	}
	if enc, ok := entry.Val(dwarf.AttrEncoding).(int64); ok {
		sym.Encoding = enc
	}

	return sym
}

// highPC resolves DW_AT_high_pc, which DWARF4+ producers may encode as
// either an absolute address (ClassAddress) or an offset from low_pc
// (ClassConstant).
func highPC(entry *dwarf.Entry, lowPC uint64) *uint64 {
	f := entry.AttrField(dwarf.AttrHighpc)
	if f == nil {
		return nil
	}
	switch f.Class {
	case dwarf.ClassAddress:
		v := f.Val.(uint64)
		return &v
	case dwarf.ClassConstant:
		v := lowPC + uint64(f.Val.(int64))
		return &v
	}
	return nil
}

func kindOf(tag dwarf.Tag) Kind {
	if k, ok := tagKind[tag]; ok {
		return k
	}
	return KindUnspecified
}
