package dwarf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/dwarf/dwarftest"
)

func buildSampleTree(t *testing.T) *SymbolTree {
	b := dwarftest.New("sample.c")
	intType := b.BaseType("int", 4)
	b.Subprogram("main", 0x1000, 0x1040)
	b.Variable("counter", intType, nil)
	b.TagClose() // main

	b.Subprogram("helper", 0x2000, 0x2010)
	b.TagClose() // helper

	data, err := b.Data()
	require.NoError(t, err)

	tree, err := build(data, addr.Null)
	require.NoError(t, err)
	return tree
}

func TestBuildProducesCompileUnitWithFunctions(t *testing.T) {
	tree := buildSampleTree(t)
	require.Len(t, tree.Units, 1)
	cu := tree.Units[0]
	assert.Equal(t, KindCompileUnit, cu.Kind)
	assert.Equal(t, "sample.c", cu.Name)
	require.Len(t, cu.Children, 3) // int base type, main, helper
}

func TestByNameResolvesFunction(t *testing.T) {
	tree := buildSampleTree(t)
	sym, err := tree.ByNameUnambiguous("main")
	require.NoError(t, err)
	assert.Equal(t, KindSubprogram, sym.Kind)
	require.NotNil(t, sym.LowPC)
	assert.EqualValues(t, 0x1000, *sym.LowPC)
}

func TestByNameUnambiguousFailsWhenMissing(t *testing.T) {
	tree := buildSampleTree(t)
	_, err := tree.ByNameUnambiguous("nonexistent")
	assert.Error(t, err)
}

func TestByPCFindsEnclosingFunction(t *testing.T) {
	tree := buildSampleTree(t)
	sym, ok := tree.ByPC(0x1010)
	require.True(t, ok)
	assert.Equal(t, "main", sym.Name)

	_, ok = tree.ByPC(0x5000)
	assert.False(t, ok)
}

func TestByNamePrefixFindsBothFunctions(t *testing.T) {
	tree := buildSampleTree(t)
	matches := tree.ByNamePrefix("")
	names := map[string]bool{}
	for _, m := range matches {
		names[m.Name] = true
	}
	assert.True(t, names["main"])
	assert.True(t, names["helper"])
}

func TestTypeOfResolvesVariableType(t *testing.T) {
	tree := buildSampleTree(t)
	variable, err := tree.ByNameUnambiguous("counter")
	require.NoError(t, err)

	typ, ok := tree.TypeOf(variable)
	require.True(t, ok)
	assert.Equal(t, "int", typ.Name)
	assert.Equal(t, KindBaseType, typ.Kind)
}

func TestLoadBiasShiftsAddresses(t *testing.T) {
	b := dwarftest.New("biased.c")
	b.Subprogram("f", 0x100, 0x110)
	b.TagClose()
	data, err := b.Data()
	require.NoError(t, err)

	tree, err := build(data, addr.FromUint64(0x400000))
	require.NoError(t, err)

	sym, err := tree.ByNameUnambiguous("f")
	require.NoError(t, err)
	assert.EqualValues(t, 0x400100, *sym.LowPC)
}
