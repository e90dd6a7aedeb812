// Package debugger implements the facade: the single entry point that
// receives a Status, drives the underlying debuggee session, and returns
// a Feedback. It follows go-delve/delve's service/debugger package in
// spirit (a facade type wrapping the process-control backend behind a
// stable request/response API), though go-delve/delve's own Debugger is
// RPC-shaped rather than a single tagged-union dispatch function; the
// tagged Status/Feedback shape here instead mirrors coreminer's own JSON
// line protocol directly.
package debugger

import (
	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/debuggee"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/logflags"
	"github.com/TalpaLabs/coreminer/pkg/plugins"
)

// defaultBacktraceFrames and defaultStackWords are used when a Status
// doesn't specify a size (its MaxFrames or Len field is zero).
const (
	defaultBacktraceFrames = 64
	defaultStackWords      = 16
)

// Debugger is the facade: one Session, one plugin Registry, dispatched
// through synchronously in the order Statuses are submitted (a
// single-threaded cooperative scheduling model, so no locking is needed
// around Handle itself).
type Debugger struct {
	session *debuggee.Session
	plugins *plugins.Registry
}

// New creates a facade with a fresh, unstarted session and a plugin
// registry preloaded with the built-in sigtrapguard plugin plus any
// starlark scripts found in pluginDir (pluginDir may be empty, in which
// case only the built-in plugin is registered).
func New(pluginDir string) *Debugger {
	registry := plugins.NewRegistry()
	registry.Register(plugins.NewSigtrapGuard())

	d := &Debugger{session: debuggee.New(), plugins: registry}
	if pluginDir != "" {
		if err := plugins.LoadDir(registry, pluginDir); err != nil {
			logflags.PluginLogger().WithField("dir", pluginDir).Warnf("loading plugin directory: %v", err)
		}
	}
	d.session.SetPlugins(registry, d)
	return d
}

// Dispatch implements plugins.Dispatcher, letting a hook push a follow-up
// Status back through the very same facade that will eventually finish
// handling the signal that triggered it.
func (d *Debugger) Dispatch(status feedback.Status) feedback.Feedback {
	return d.Handle(status)
}

// Handle receives one Status and returns the corresponding Feedback. It
// never panics: any error surfaced by the session is translated into a
// FeedbackError.
func (d *Debugger) Handle(status feedback.Status) feedback.Feedback {
	switch status.Tag {
	case feedback.StatusRun:
		ev, err := d.session.Run(status.Path, status.Args)
		return eventFeedback(ev, err)

	case feedback.StatusContinue:
		return eventFeedback(d.session.Cont())

	case feedback.StatusStep:
		return eventFeedback(d.session.Step())

	case feedback.StatusStepIn:
		return eventFeedback(d.session.StepIn())

	case feedback.StatusStepOver:
		return eventFeedback(d.session.StepOver())

	case feedback.StatusStepOut:
		return eventFeedback(d.session.StepOut())

	case feedback.StatusSetBreakpoint:
		bp, err := d.session.SetBreakpoint(status.Addr)
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackBreakpoint, Breakpoint: &bp}

	case feedback.StatusDeleteBreakpoint:
		if err := d.session.DeleteBreakpoint(status.Addr); err != nil {
			return feedback.FromError(err)
		}
		return feedback.Ok()

	case feedback.StatusDisassemble:
		count := status.Len
		if count <= 0 {
			count = 1
		}
		dis, err := d.session.Disassemble(status.Addr, count, status.Literal)
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackDisassembly, Disassembly: &dis}

	case feedback.StatusBacktrace:
		maxFrames := status.MaxFrames
		if maxFrames <= 0 {
			maxFrames = defaultBacktraceFrames
		}
		frames, err := d.session.Backtrace(maxFrames)
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackBacktrace, Backtrace: frames}

	case feedback.StatusStack:
		words := status.Len
		if words <= 0 {
			words = defaultStackWords
		}
		return d.readStack(words)

	case feedback.StatusProcessMap:
		regions, err := d.session.ProcessMap()
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackProcessMap, ProcessMap: regions}

	case feedback.StatusRegsGet:
		regs, err := d.session.RegsGet()
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackRegisters, Registers: &regs}

	case feedback.StatusRegsSet:
		if err := d.session.RegsSet(status.Reg, status.Val); err != nil {
			return feedback.FromError(err)
		}
		return feedback.Ok()

	case feedback.StatusReadMem:
		data, err := d.session.ReadMemory(status.Addr, addr.Size)
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackWord, Word: addr.WordFromBytes(data)}

	case feedback.StatusWriteMem:
		valBytes := status.Val.Bytes()
		if err := d.session.WriteMemory(status.Addr, valBytes[:]); err != nil {
			return feedback.FromError(err)
		}
		return feedback.Ok()

	case feedback.StatusGetSymbolsByName:
		syms, err := d.session.GetSymbolsByName(status.Name)
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackSymbols, Symbols: syms}

	case feedback.StatusReadVariable:
		v, err := d.session.ReadVariable(status.Name)
		if err != nil {
			return feedback.FromError(err)
		}
		return feedback.Feedback{Tag: feedback.FeedbackVariable, Variable: &v}

	case feedback.StatusWriteVariable:
		if err := d.session.WriteVariable(status.Name, status.Variable); err != nil {
			return feedback.FromError(err)
		}
		return feedback.Ok()

	case feedback.StatusSetStepper:
		d.session.SetStepperDefault(status.N)
		return feedback.Ok()

	case feedback.StatusPluginSetEnabled:
		if err := d.plugins.SetEnabled(status.ID, status.Enabled); err != nil {
			return feedback.FromError(err)
		}
		return feedback.Ok()

	case feedback.StatusPluginList:
		list := d.plugins.List()
		out := make([]feedback.PluginInfo, len(list))
		for i, p := range list {
			out[i] = feedback.PluginInfo{ID: p.ID, Enabled: p.Enabled}
		}
		return feedback.Feedback{Tag: feedback.FeedbackPlugins, Plugins: out}

	case feedback.StatusQuit:
		if err := d.session.Quit(); err != nil {
			return feedback.FromError(err)
		}
		return feedback.Ok()

	default:
		return feedback.FromError(cmerr.New(cmerr.KindParse, "unknown status tag: "+string(status.Tag)))
	}
}

// eventFeedback translates a debuggee.Event into the Feedback the facade
// hands back to its caller: Exited events become FeedbackExit, everything
// else (Stopped, with its PC) becomes FeedbackAddr carrying the address the
// child is now stopped at.
func eventFeedback(ev *debuggee.Event, err error) feedback.Feedback {
	if err != nil {
		return feedback.FromError(err)
	}
	if ev.State == debuggee.StateExited {
		return feedback.Feedback{Tag: feedback.FeedbackExit, ExitCode: ev.ExitCode}
	}
	return feedback.Feedback{Tag: feedback.FeedbackAddr, Addr: ev.PC}
}

// readStack walks outward from the current stack pointer, reading `words`
// consecutive machine words, captured as a configurable window around the
// current stack pointer.
func (d *Debugger) readStack(words int) feedback.Feedback {
	regs, err := d.session.RegsGet()
	if err != nil {
		return feedback.FromError(err)
	}

	sp := regs.SP()
	stack := make(feedback.Stack, 0, words)
	for i := 0; i < words; i++ {
		a := sp.Add(int64(i * addr.Size))
		data, err := d.session.ReadMemory(a, addr.Size)
		if err != nil {
			break
		}
		stack = append(stack, feedback.StackWord{Address: a, Word: addr.WordFromBytes(data)})
	}
	return feedback.Feedback{Tag: feedback.FeedbackStack, Stack: stack}
}
