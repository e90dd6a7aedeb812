package dwarf

import (
	"debug/dwarf"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
)

// ByName returns every symbol (across all compile units and scopes)
// registered under name. An ambiguous name (more than one match) is not
// an error here; callers that need a single result (e.g. "set a
// breakpoint at this function") use ByNameUnambiguous.
func (t *SymbolTree) ByName(name string) []*OwnedSymbol {
	return t.names.exact(name)
}

// ByNameUnambiguous is ByName, but fails with cmerr.KindAmbiguousSymbol
// if more than one symbol shares the name, and cmerr.KindNotFound if
// none do -- the common case for resolving a breakpoint location or a
// variable expression by name.
func (t *SymbolTree) ByNameUnambiguous(name string) (*OwnedSymbol, error) {
	matches := t.names.exact(name)
	switch len(matches) {
	case 0:
		return nil, cmerr.New(cmerr.KindNotFound, name)
	case 1:
		return matches[0], nil
	default:
		return nil, cmerr.New(cmerr.KindAmbiguousSymbol, name)
	}
}

// ByNamePrefix returns every symbol whose name begins with pre, ordered
// by name. Neither front-end calls it; GetSymbolsByName uses the
// exact-match ByName.
func (t *SymbolTree) ByNamePrefix(pre string) []*OwnedSymbol {
	return t.names.prefix(pre)
}

// ByOffset resolves a DIE offset captured elsewhere in the tree (most
// often an OwnedSymbol.TypeOffset) back to its node.
func (t *SymbolTree) ByOffset(off dwarf.Offset) (*OwnedSymbol, bool) {
	sym, ok := t.byOffset[off]
	return sym, ok
}

// TypeOf resolves sym's DW_AT_type reference, if it has one.
func (t *SymbolTree) TypeOf(sym *OwnedSymbol) (*OwnedSymbol, bool) {
	if sym.TypeOffset == nil {
		return nil, false
	}
	return t.ByOffset(*sym.TypeOffset)
}

// ByPC finds the innermost symbol whose [LowPC, HighPC) range contains
// pc: a lexical block nested inside the enclosing subprogram if one
// matches, otherwise the subprogram itself. Returns false if no
// subprogram in the tree covers pc.
func (t *SymbolTree) ByPC(pc addr.Address) (*OwnedSymbol, bool) {
	for _, cu := range t.Units {
		if sym := findByPC(cu, pc); sym != nil {
			return sym, true
		}
	}
	return nil, false
}

func findByPC(node *OwnedSymbol, pc addr.Address) *OwnedSymbol {
	if node.Kind != KindSubprogram && node.Kind != KindLexicalBlock && node.Kind != KindCompileUnit {
		return nil
	}
	if node.Kind != KindCompileUnit && !node.Contains(pc) {
		return nil
	}

	var best *OwnedSymbol
	if node.Kind == KindSubprogram || node.Kind == KindLexicalBlock {
		best = node
	}
	for _, child := range node.Children {
		if inner := findByPC(child, pc); inner != nil {
			best = inner
		}
	}
	return best
}

// FunctionAt returns the subprogram symbol covering pc, walking up from
// ByPC's result if it landed on a nested lexical block.
func (t *SymbolTree) FunctionAt(pc addr.Address) (*OwnedSymbol, bool) {
	for _, cu := range t.Units {
		if sym := findFunctionAt(cu, pc); sym != nil {
			return sym, true
		}
	}
	return nil, false
}

func findFunctionAt(node *OwnedSymbol, pc addr.Address) *OwnedSymbol {
	if node.Kind == KindSubprogram && node.Contains(pc) {
		// A function may still contain a nested (inlined) subprogram; the
		// outermost one found on this path wins as the reported frame.
		// Native frames here are never inlined across compile units, so
		// this simple containment check is sufficient.
		return node
	}
	for _, child := range node.Children {
		if found := findFunctionAt(child, pc); found != nil {
			return found
		}
	}
	return nil
}

// Variables returns the direct variable and parameter children of sym
// (a subprogram or lexical block), without descending into further
// nested blocks -- callers walk scopes outward themselves via the
// enclosing chain obtained from ByPC.
func Variables(sym *OwnedSymbol) []*OwnedSymbol {
	var out []*OwnedSymbol
	for _, c := range sym.Children {
		if c.Kind == KindVariable || c.Kind == KindParameter {
			out = append(out, c)
		}
	}
	return out
}

// Members returns the direct member children of a struct or union type.
func Members(sym *OwnedSymbol) []*OwnedSymbol {
	var out []*OwnedSymbol
	for _, c := range sym.Children {
		if c.Kind == KindMember {
			out = append(out, c)
		}
	}
	return out
}
