package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/breakpoint"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
)

type fakeView struct {
	pc         addr.Address
	lastSignal string
	bps        map[addr.Address]breakpoint.Breakpoint
}

func (v *fakeView) PC() addr.Address        { return v.pc }
func (v *fakeView) LastSignal() string      { return v.lastSignal }
func (v *fakeView) BreakpointAt(a addr.Address) (breakpoint.Breakpoint, bool) {
	bp, ok := v.bps[a]
	return bp, ok
}

type fakeDispatcher struct {
	fb feedback.Feedback
}

func (d *fakeDispatcher) Dispatch(status feedback.Status) feedback.Feedback { return d.fb }

func TestSigtrapGuardLetsRealBreakpointsThrough(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSigtrapGuard())

	view := &fakeView{pc: 0x1000, bps: map[addr.Address]breakpoint.Breakpoint{
		0x1000: {Address: 0x1000, Enabled: true},
	}}

	fb, handled, err := r.Run(OnSigTrap, view, "SIGTRAP", &fakeDispatcher{})
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, feedback.FeedbackOk, fb.Tag)
}

func TestSigtrapGuardForwardsSelfInsertedTraps(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSigtrapGuard())

	view := &fakeView{pc: 0x2000, bps: map[addr.Address]breakpoint.Breakpoint{}}

	fb, handled, err := r.Run(OnSigTrap, view, "SIGTRAP", &fakeDispatcher{})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, feedback.FeedbackForwardSignal, fb.Tag)
	assert.Equal(t, "SIGTRAP", fb.Signal)
}

func TestSigtrapGuardDisabledIsSkipped(t *testing.T) {
	r := NewRegistry()
	r.Register(NewSigtrapGuard())
	require.NoError(t, r.SetEnabled(SigtrapGuardID, false))

	view := &fakeView{pc: 0x2000, bps: map[addr.Address]breakpoint.Breakpoint{}}
	fb, handled, err := r.Run(OnSigTrap, view, "SIGTRAP", &fakeDispatcher{})
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Equal(t, feedback.FeedbackOk, fb.Tag)
}

func TestSetEnabledUnknownPluginReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	err := r.SetEnabled("nonexistent", false)
	require.Error(t, err)
	kind, ok := cmerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerr.KindNotFound, kind)
}

func TestListReflectsRegistrationOrderAndEnabledState(t *testing.T) {
	r := NewRegistry()
	r.Register(New("first"))
	r.Register(New("second"))
	require.NoError(t, r.SetEnabled("second", false))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].ID)
	assert.True(t, list[0].Enabled)
	assert.Equal(t, "second", list[1].ID)
	assert.False(t, list[1].Enabled)
}

func TestHookLoopOverflowWhenAHookNeverSettles(t *testing.T) {
	r := NewRegistry()
	p := New("looper").On(PreSignalHandler, HookFunc(func(view SessionView, signal string, fb feedback.Feedback) (feedback.Status, feedback.Feedback, bool, error) {
		return feedback.Status{Tag: feedback.StatusRegsGet}, feedback.Feedback{}, true, nil
	}))
	r.Register(p)

	_, _, err := r.Run(PreSignalHandler, &fakeView{}, "SIGTRAP", &fakeDispatcher{fb: feedback.Feedback{}})
	require.Error(t, err)
	kind, ok := cmerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerr.KindHookLoopOverflow, kind)
}

func TestLoadDirSkipsMissingDirectory(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, LoadDir(r, filepath.Join(t.TempDir(), "does-not-exist")))
	assert.Empty(t, r.List())
}

func TestLoadDirLoadsStarlarkForwardingPlugin(t *testing.T) {
	dir := t.TempDir()
	script := `
def on_sigtrap(feedback, signal):
    return "forward_signal"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "myguard.star"), []byte(script), 0o644))

	r := NewRegistry()
	require.NoError(t, LoadDir(r, dir))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "myguard", list[0].ID)

	fb, handled, err := r.Run(OnSigTrap, &fakeView{}, "SIGTRAP", &fakeDispatcher{})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Equal(t, feedback.FeedbackForwardSignal, fb.Tag)
}
