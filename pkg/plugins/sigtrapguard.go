package plugins

import (
	"github.com/TalpaLabs/coreminer/pkg/feedback"
)

// SigtrapGuardID is the unique id of the built-in sigtrapguard plugin.
const SigtrapGuardID = "sigtrap_guard"

// NewSigtrapGuard returns the built-in plugin that protects a debuggee
// which installs its own int3 instructions and handles SIGTRAP itself.
// Without this guard, the session's default wait_signal handling would
// treat every SIGTRAP as one of its own breakpoints and never let the
// trap reach the tracee's signal handler.
//
// On a SIGTRAP, the hook checks whether a breakpoint is installed at the
// current PC. If one is, this is an ordinary breakpoint hit and the guard
// answers feedback.Ok() (no opinion, default handling proceeds unmodified).
// If none is installed, the trap did not come from coreminer's own
// breakpoint table, so the debuggee must have executed its own int3; the
// guard answers with feedback.FeedbackForwardSignal so the session
// forwards the raw signal to the tracee instead of swallowing it as a
// breakpoint stop.
func NewSigtrapGuard() *Plugin {
	return New(SigtrapGuardID).On(OnSigTrap, HookFunc(func(view SessionView, signal string, fb feedback.Feedback) (feedback.Status, feedback.Feedback, bool, error) {
		if _, atBreakpoint := view.BreakpointAt(view.PC()); atBreakpoint {
			return feedback.Status{}, feedback.Ok(), false, nil
		}
		return feedback.Status{}, feedback.Feedback{Tag: feedback.FeedbackForwardSignal, Signal: signal}, false, nil
	}))
}
