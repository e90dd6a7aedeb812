package main

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/debugger"
	"github.com/TalpaLabs/coreminer/pkg/plugins"
)

func newTestState() (*cmState, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &cmState{dbg: debugger.New(""), out: buf, bpColor: 31}, buf
}

func TestSplitFirstWordHandlesBareCommand(t *testing.T) {
	word, rest := splitFirstWord("plugins")
	assert.Equal(t, "plugins", word)
	assert.Equal(t, "", rest)
}

func TestSplitFirstWordSplitsArgs(t *testing.T) {
	word, rest := splitFirstWord("bp 0x1000")
	assert.Equal(t, "bp", word)
	assert.Equal(t, "0x1000", rest)
}

func TestFindReturnsNullCommandForEmptyInput(t *testing.T) {
	cmds := debugCommands()
	fn := cmds.Find("")
	require.NoError(t, fn(&cmState{}, ""))
}

func TestFindReturnsNoCmdAvailableForUnknownWord(t *testing.T) {
	cmds := debugCommands()
	fn := cmds.Find("bogus")
	require.Error(t, fn(&cmState{}, ""))
}

func TestAliasesResolveToTheSameCommand(t *testing.T) {
	cmds := debugCommands()
	assert.NotNil(t, cmds.Find("c"))
	assert.NotNil(t, cmds.Find("cont"))
	assert.Equal(t, reflect.ValueOf(cmds.Find("c")).Pointer(), reflect.ValueOf(cmds.Find("cont")).Pointer())
}

func TestMergeAddsConfiguredAliasWithoutDroppingBuiltins(t *testing.T) {
	cmds := debugCommands()
	cmds.Merge(map[string][]string{"cont": {"resume"}})

	found := false
	for _, cd := range cmds.cmds {
		if cd.match("cont") {
			assert.Contains(t, cd.aliases, "resume")
			assert.Contains(t, cd.aliases, "c")
			found = true
		}
	}
	assert.True(t, found)
}

func TestCallPluginsListsBuiltinGuard(t *testing.T) {
	cm, buf := newTestState()
	cmds := debugCommands()
	require.NoError(t, cmds.Call("plugins", cm))
	assert.Contains(t, buf.String(), plugins.SigtrapGuardID)
}

func TestCallBreakBeforeRunReportsError(t *testing.T) {
	cm, buf := newTestState()
	cmds := debugCommands()
	require.NoError(t, cmds.Call("bp 0x1000", cm))
	assert.Contains(t, buf.String(), "error:")
}

func TestCallBreakWithoutAddressReturnsUsageError(t *testing.T) {
	cm, _ := newTestState()
	cmds := debugCommands()
	err := cmds.Call("bp", cm)
	assert.Error(t, err)
}

func TestParseHexAddrAcceptsOptionalPrefix(t *testing.T) {
	a, err := parseHexAddr("0x1000")
	require.NoError(t, err)
	b, err := parseHexAddr("1000")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestQuitSetsQuitFlag(t *testing.T) {
	cm, _ := newTestState()
	cmds := debugCommands()
	require.NoError(t, cmds.Call("q", cm))
	assert.True(t, cm.quit)
}

func TestPluginTogglesEnabledState(t *testing.T) {
	cm, buf := newTestState()
	cmds := debugCommands()
	require.NoError(t, cmds.Call("plugin "+plugins.SigtrapGuardID+" off", cm))
	buf.Reset()
	require.NoError(t, cmds.Call("plugins", cm))
	assert.Contains(t, buf.String(), "disabled")
}

func TestSetStepperRejectsNonNumericArgument(t *testing.T) {
	cm, _ := newTestState()
	cmds := debugCommands()
	err := cmds.Call("set stepper abc", cm)
	assert.Error(t, err)
}

func TestHelpListsEveryCommand(t *testing.T) {
	cm, buf := newTestState()
	cmds := debugCommands()
	require.NoError(t, cmds.Call("help", cm))
	assert.Contains(t, buf.String(), "run")
	assert.Contains(t, buf.String(), "quit")
}
