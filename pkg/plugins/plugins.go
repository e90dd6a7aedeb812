// Package plugins implements coreminer's hook surface: a small registry of
// named, independently enable/disable-able plugins, each of which may
// subscribe to one or both of the named extension points and intercept the
// facade's default handling of a signal.
//
// A PluginManager-style registry holds named plugins, each exposing hooks
// for named extension points, dispatched in registration order with
// disabled plugins skipped. Rather than a per-extension-point trait and a
// Feedback/Status ping-pong to let a hook request more debugger state
// before answering, hooks here read a single SessionView synchronously
// (the session is always stopped while hooks run, so there is nothing to
// gain from a request/response protocol for state that is already sitting
// in memory), while still preserving a mechanism for a hook to push a
// follow-up Status back through the facade when it wants an operation
// only the facade can perform.
package plugins

import (
	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/breakpoint"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/logflags"
)

// maxHookLoopDepth bounds a single hook's follow-up loop with the facade;
// exceeding it fails with HookLoopOverflow rather than recursing forever.
const maxHookLoopDepth = 64

// ExtensionPoint names one of the points in the debugger's signal handling
// where plugins may intercept the default behavior.
type ExtensionPoint string

const (
	// PreSignalHandler fires between wait_signal observing any stop signal
	// and the session deciding what to do about it.
	PreSignalHandler ExtensionPoint = "pre_signal_handler"
	// OnSigTrap fires specifically for SIGTRAP stops, after the session
	// has found that the trap does not belong to one of its own
	// breakpoints.
	OnSigTrap ExtensionPoint = "on_sigtrap"
)

// SessionView is the read-only slice of debuggee session state a hook may
// consult while deciding how to answer.
type SessionView interface {
	PC() addr.Address
	LastSignal() string
	BreakpointAt(a addr.Address) (breakpoint.Breakpoint, bool)
}

// Dispatcher resolves a Status pushed by a hook mid-loop into a Feedback.
// Implemented by pkg/debugger's facade.
type Dispatcher interface {
	Dispatch(status feedback.Status) feedback.Feedback
}

// Hook implements one extension point of a Plugin. On each call it is
// given the session view, the name of the signal that triggered dispatch,
// and the Feedback resulting from its previous follow-up Status
// (feedback.Ok() on the first call for a given signal).
//
// If needsDispatch is true, status is dispatched through the facade and
// Handle is called again with the resulting Feedback in place of fb, up to
// maxHookLoopDepth times. If needsDispatch is false, final is this hook's
// answer: a final value of feedback.Ok() means "no opinion, let the next
// hook or the default handling decide"; anything else is a definitive
// override and stops iteration over the remaining hooks.
type Hook interface {
	Handle(view SessionView, signal string, fb feedback.Feedback) (status feedback.Status, final feedback.Feedback, needsDispatch bool, err error)
}

// HookFunc adapts a plain function to Hook.
type HookFunc func(view SessionView, signal string, fb feedback.Feedback) (feedback.Status, feedback.Feedback, bool, error)

// Handle implements Hook.
func (f HookFunc) Handle(view SessionView, signal string, fb feedback.Feedback) (feedback.Status, feedback.Feedback, bool, error) {
	return f(view, signal, fb)
}

// Plugin is a named, independently toggleable bundle of hooks.
type Plugin struct {
	ID      string
	Enabled bool

	hooks map[ExtensionPoint]Hook
}

// New creates a plugin with the given id, enabled by default.
func New(id string) *Plugin {
	return &Plugin{ID: id, Enabled: true, hooks: make(map[ExtensionPoint]Hook)}
}

// On registers h as this plugin's hook for ep, replacing any previous one.
func (p *Plugin) On(ep ExtensionPoint, h Hook) *Plugin {
	p.hooks[ep] = h
	return p
}

// Info is the public, copyable snapshot of a plugin's identity and state.
type Info struct {
	ID      string
	Enabled bool
}

// Registry holds the set of loaded plugins and dispatches hook calls in
// registration order. The zero value is not usable; use NewRegistry.
type Registry struct {
	plugins []*Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds p to the registry. Order of registration is the order
// hooks are invoked in.
func (r *Registry) Register(p *Plugin) {
	r.plugins = append(r.plugins, p)
}

// SetEnabled toggles the plugin with the given id.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	for _, p := range r.plugins {
		if p.ID == id {
			p.Enabled = enabled
			return nil
		}
	}
	return cmerr.New(cmerr.KindNotFound, "no plugin with id "+id)
}

// List returns a snapshot of every registered plugin's id and enabled flag,
// in registration order.
func (r *Registry) List() []Info {
	out := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, Info{ID: p.ID, Enabled: p.Enabled})
	}
	return out
}

// enabledHooks returns the hooks registered for ep among enabled plugins,
// in registration order, as a fresh slice. Its caller is Run (itself
// called from the debuggee session's signal handling); the registry holds
// no lock, so a hook is free to re-enter the facade.
func (r *Registry) enabledHooks(ep ExtensionPoint) []Hook {
	var out []Hook
	for _, p := range r.plugins {
		if !p.Enabled {
			continue
		}
		if h, ok := p.hooks[ep]; ok {
			out = append(out, h)
		}
	}
	return out
}

// Run invokes every enabled hook registered for ep in order. Each hook may
// loop with dispatch up to maxHookLoopDepth times before settling on a
// final Feedback; a hook whose final answer is anything other than
// feedback.Ok() is a definitive override and short-circuits the remaining
// hooks -- this is how the sigtrapguard plugin signals "this signal is
// handled, stop iterating". If every hook answers feedback.Ok(), Run
// returns it with handled=false so the caller falls back to its own
// default handling.
func (r *Registry) Run(ep ExtensionPoint, view SessionView, signal string, dispatch Dispatcher) (feedback.Feedback, bool, error) {
	hooks := r.enabledHooks(ep)
	log := logflags.PluginLogger()

	for _, h := range hooks {
		cur := feedback.Ok()
		for depth := 0; ; depth++ {
			if depth >= maxHookLoopDepth {
				return feedback.Feedback{}, false, cmerr.New(cmerr.KindHookLoopOverflow, "plugin hook exceeded max feedback loop depth")
			}
			status, final, needsDispatch, err := h.Handle(view, signal, cur)
			if err != nil {
				return feedback.Feedback{}, false, err
			}
			if !needsDispatch {
				if final.Tag == feedback.FeedbackOk {
					break
				}
				log.WithFields(map[string]interface{}{"extension_point": ep, "signal": signal}).Debug("hook handled signal")
				return final, true, nil
			}
			cur = dispatch.Dispatch(status)
		}
	}
	return feedback.Ok(), false, nil
}
