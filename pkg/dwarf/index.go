package dwarf

import (
	"sort"

	"github.com/derekparker/trie"
)

// nameIndex resolves symbol names to their (possibly several, across
// scopes and compile units) OwnedSymbol nodes, and supports prefix
// queries via an R-way trie -- the same github.com/derekparker/trie
// go-delve/delve uses for command-name completion in pkg/terminal. The
// trie only ever stores each distinct name once; the (commonly multiple)
// symbols sharing that name live in bySymbol, since the trie has no API
// to mutate a node's stored metadata once added.
type nameIndex struct {
	t        *trie.Trie
	bySymbol map[string][]*OwnedSymbol
}

func newNameIndex() *nameIndex {
	return &nameIndex{t: trie.New(), bySymbol: make(map[string][]*OwnedSymbol)}
}

func (n *nameIndex) insert(name string, sym *OwnedSymbol) {
	if _, ok := n.bySymbol[name]; !ok {
		n.t.Add(name, nil)
	}
	n.bySymbol[name] = append(n.bySymbol[name], sym)
}

// exact returns every symbol registered under name, in insertion order.
func (n *nameIndex) exact(name string) []*OwnedSymbol {
	return n.bySymbol[name]
}

// prefix returns every symbol whose name begins with pre, sorted by name
// so results are stable across runs.
func (n *nameIndex) prefix(pre string) []*OwnedSymbol {
	keys := n.t.PrefixSearch(pre)
	sort.Strings(keys)
	var out []*OwnedSymbol
	for _, k := range keys {
		out = append(out, n.bySymbol[k]...)
	}
	return out
}
