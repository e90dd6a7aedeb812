package debuggee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/internal/fixtures"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/plugins"
)

// selfDispatcher answers every follow-up status with Ok; none of the
// hooks exercised in this file's tests issue one.
type selfDispatcher struct{}

func (selfDispatcher) Dispatch(feedback.Status) feedback.Feedback { return feedback.Ok() }

func TestControlOperationsBeforeRunFailWithNoDebuggee(t *testing.T) {
	s := New()

	_, err := s.Cont()
	require.Error(t, err)
	kind, ok := cmerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerr.KindNoDebuggee, kind)

	_, err = s.Step()
	kind, _ = cmerr.KindOf(err)
	assert.Equal(t, cmerr.KindNoDebuggee, kind)

	_, err = s.RegsGet()
	kind, _ = cmerr.KindOf(err)
	assert.Equal(t, cmerr.KindNoDebuggee, kind)
}

func TestControlOperationsAfterExitFailWithChildExited(t *testing.T) {
	s := New()
	s.state = StateExited

	_, err := s.Cont()
	kind, ok := cmerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerr.KindChildExited, kind)

	err = s.WriteMemory(0x1000, []byte{1})
	kind, _ = cmerr.KindOf(err)
	assert.Equal(t, cmerr.KindChildExited, kind)
}

func TestControlOperationsWhileRunningFailWithAlreadyRunning(t *testing.T) {
	s := New()
	s.state = StateRunning

	_, err := s.StepIn()
	kind, ok := cmerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cmerr.KindAlreadyRunning, kind)
}

func TestSetStepperDefaultClampsBelowOneToOne(t *testing.T) {
	s := New()
	s.SetStepperDefault(0)
	assert.Equal(t, 1, s.stepperDefault)
	s.SetStepperDefault(-5)
	assert.Equal(t, 1, s.stepperDefault)
	s.SetStepperDefault(4)
	assert.Equal(t, 4, s.stepperDefault)
}

func TestQuitOnUnstartedSessionIsANoOp(t *testing.T) {
	s := New()
	require.NoError(t, s.Quit())
	assert.Equal(t, StateNotStarted, s.state)
}

// TestRunBreakpointContRegsAndExit exercises the full ptrace-backed
// lifecycle against a real compiled fixture: run to the initial trap,
// resolve a function's address via DWARF, set a breakpoint on it,
// continue to the hit, inspect registers and PC, remove the breakpoint,
// and run to completion. Skipped wherever ptrace or a C compiler isn't
// available (e.g. a sandboxed CI container without CAP_SYS_PTRACE), the
// same accommodation go-delve/delve's own native-backend tests make when
// the platform can't support them.
func TestRunBreakpointContRegsAndExit(t *testing.T) {
	bin, err := fixtures.Build("simple")
	if err != nil {
		t.Skipf("skipping, could not build fixture: %v", err)
	}

	s := New()
	ev, err := s.Run(bin, nil)
	if err != nil {
		t.Skipf("skipping, ptrace unavailable in this environment: %v", err)
	}
	defer s.Quit()

	require.Equal(t, StateStopped, ev.State)

	syms, err := s.GetSymbolsByName("add")
	require.NoError(t, err)
	require.NotEmpty(t, syms)
	require.NotNil(t, syms[0].LowPC)
	addPC := *syms[0].LowPC

	_, err = s.SetBreakpoint(addPC)
	require.NoError(t, err)

	ev, err = s.Cont()
	require.NoError(t, err)
	require.Equal(t, StateStopped, ev.State)
	assert.Equal(t, addPC, ev.PC)

	regs, err := s.RegsGet()
	require.NoError(t, err)
	assert.Equal(t, addPC, regs.PC())

	require.NoError(t, s.DeleteBreakpoint(addPC))

	ev, err = s.Cont()
	require.NoError(t, err)
	assert.Equal(t, StateExited, ev.State)
	assert.Equal(t, 3, ev.ExitCode)
}

func TestReadMemoryIsTransparentAcrossABreakpoint(t *testing.T) {
	bin, err := fixtures.Build("simple")
	if err != nil {
		t.Skipf("skipping, could not build fixture: %v", err)
	}

	s := New()
	if _, err := s.Run(bin, nil); err != nil {
		t.Skipf("skipping, ptrace unavailable in this environment: %v", err)
	}
	defer s.Quit()

	syms, err := s.GetSymbolsByName("add")
	require.NoError(t, err)
	require.NotEmpty(t, syms)
	addPC := *syms[0].LowPC

	before, err := s.ReadMemory(addPC, 8)
	require.NoError(t, err)

	_, err = s.SetBreakpoint(addPC)
	require.NoError(t, err)

	after, err := s.ReadMemory(addPC, 8)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, s.DeleteBreakpoint(addPC))
}

// TestSigtrapGuardForwardsSelfInsertedInt3 exercises the exact scenario
// the sigtrapguard plugin exists for: a debuggee that installs its own
// int3 and SIGTRAP handler must actually see the trap, rather than losing
// it to the debugger's own breakpoint-hit machinery, when the guard is
// registered. Without it, waitSignal would still stop cleanly (nothing in
// coreminer's default handling crashes on a foreign SIGTRAP), but the
// child's own handler would never run and it would exit 1 instead of 0.
func TestSigtrapGuardForwardsSelfInsertedInt3(t *testing.T) {
	bin, err := fixtures.Build("sigtrap_self")
	if err != nil {
		t.Skipf("skipping, could not build fixture: %v", err)
	}

	s := New()
	registry := plugins.NewRegistry()
	registry.Register(plugins.NewSigtrapGuard())
	s.SetPlugins(registry, selfDispatcher{})

	if _, err := s.Run(bin, nil); err != nil {
		t.Skipf("skipping, ptrace unavailable in this environment: %v", err)
	}
	defer s.Quit()

	ev, err := s.Cont()
	require.NoError(t, err)
	require.Equal(t, StateExited, ev.State)
	assert.Equal(t, 0, ev.ExitCode)
}
