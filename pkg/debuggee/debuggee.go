// Package debuggee owns the traced child: launching it under ptrace,
// stepping it, reading and writing its memory and registers, and
// interpreting its DWARF debug info. The lifecycle and ptrace plumbing
// follow go-delve/delve's pkg/proc/native (proc_linux.go's Launch/wait,
// threads_linux.go's ptrace-based memory access, registers_linux_amd64.go's
// GETREGS/SETREGS), composed here with coreminer's own pkg/breakpoint,
// pkg/registers, pkg/dwarf, pkg/unwind, pkg/disasm, pkg/procmap and
// pkg/variable.
package debuggee

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/breakpoint"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/disasm"
	"github.com/TalpaLabs/coreminer/pkg/dwarf"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/logflags"
	"github.com/TalpaLabs/coreminer/pkg/plugins"
	"github.com/TalpaLabs/coreminer/pkg/procmap"
	"github.com/TalpaLabs/coreminer/pkg/registers"
	"github.com/TalpaLabs/coreminer/pkg/unwind"
	"github.com/TalpaLabs/coreminer/pkg/variable"
)

// State is the coarse run state of the traced child.
type State string

const (
	StateNotStarted State = "not_started"
	StateStopped    State = "stopped"
	StateRunning    State = "running"
	StateExited     State = "exited"
)

// Event is the outcome of a control operation: either the child stopped
// (with its last signal, if any, recorded) or it exited (with a code).
type Event struct {
	State      State        `json:"state"`
	PC         addr.Address `json:"pc,omitempty"`
	LastSignal string       `json:"last_signal,omitempty"`
	ExitCode   int          `json:"exit_code,omitempty"`
}

// ptraceMemory implements breakpoint.Memory directly against a ptrace
// PEEKDATA/POKEDATA-accessible tracee, the same primitives
// go-delve/delve's threads_linux.go ReadMemory/WriteMemory build on (which
// call sys.PtracePeekData/PtracePokeData in a loop for lengths larger than
// one word; coreminer's breakpoint.Table only ever asks for one word at a
// time, so no loop is needed here).
type ptraceMemory struct {
	pid int
}

func (m ptraceMemory) ReadWord(a addr.Address) (addr.Word, error) {
	buf := make([]byte, addr.Size)
	n, err := unix.PtracePeekData(m.pid, uintptr(a.Uint64()), buf)
	if err != nil {
		return 0, cmerr.Wrap(cmerr.KindMemoryRead, a.String(), err)
	}
	if n != addr.Size {
		return 0, cmerr.New(cmerr.KindMemoryRead, fmt.Sprintf("short read at %s", a))
	}
	return addr.WordFromBytes(buf), nil
}

func (m ptraceMemory) WriteWord(a addr.Address, w addr.Word) error {
	b := w.Bytes()
	n, err := unix.PtracePokeData(m.pid, uintptr(a.Uint64()), b[:])
	if err != nil {
		return cmerr.Wrap(cmerr.KindMemoryWrite, a.String(), err)
	}
	if n != addr.Size {
		return cmerr.New(cmerr.KindMemoryWrite, fmt.Sprintf("short write at %s", a))
	}
	return nil
}

// resumeMode records which ptrace primitive last resumed the child, so a
// signal that has to be swallowed and the child re-resumed (SIGWINCH, any
// other unhandled signal) can be re-armed the same way instead of always
// falling back to a full continue.
type resumeMode int

const (
	resumeCont resumeMode = iota
	resumeStep
)

// Session owns one traced child process end to end: its lifecycle, its
// breakpoint table, its symbol tree, and every control/query operation it
// exposes to the façade.
type Session struct {
	state State

	cmd *exec.Cmd
	pid int

	mem      ptraceMemory
	bps      *breakpoint.Table
	regsLast registers.Snapshot

	tree     *dwarf.SymbolTree
	cfiTable unwind.Table
	unwinder *unwind.Unwinder

	lastSignal     string
	ttyName        string
	ptyMaster      *os.File
	stepperDefault int
	resumeMode     resumeMode

	plugins *plugins.Registry
	dispatch plugins.Dispatcher
}

// noopDispatcher answers every follow-up Status with a NoDebuggee error, so
// a plugin hook that tries to dispatch before SetPlugins has wired a real
// dispatcher (the debugger façade) fails loudly instead of blocking or
// panicking.
type noopDispatcher struct{}

func (noopDispatcher) Dispatch(feedback.Status) feedback.Feedback {
	return feedback.FromError(cmerr.New(cmerr.KindNoDebuggee, "no dispatcher wired for plugin follow-up status"))
}

// New builds an unstarted session. Call Run to launch the child.
func New() *Session {
	return &Session{state: StateNotStarted, stepperDefault: 1, dispatch: noopDispatcher{}}
}

// SetPlugins wires the plugin registry and the dispatcher used to resolve
// a hook's follow-up statuses (normally the debugger façade) into the
// session. Hooks registered for OnSigTrap are consulted from waitSignal
// on every SIGTRAP that isn't one of the session's own breakpoints.
func (s *Session) SetPlugins(r *plugins.Registry, dispatch plugins.Dispatcher) {
	s.plugins = r
	if dispatch != nil {
		s.dispatch = dispatch
	}
}

// Pty, if enable is true, allocates a pseudo-terminal via
// github.com/creack/pty and arranges for the next Run to attach the
// child's controlling terminal to it, the same Config.TTY/
// attachProcessToTTY path go-delve/delve offers for interactive
// debuggees. Must be called before Run.
func (s *Session) Pty(enable bool) error {
	if !enable {
		if s.ptyMaster != nil {
			_ = s.ptyMaster.Close()
			s.ptyMaster = nil
		}
		s.ttyName = ""
		return nil
	}
	master, slave, err := pty.Open()
	if err != nil {
		return cmerr.Wrap(cmerr.KindExecFailed, "allocating pty", err)
	}
	s.ptyMaster = master
	s.ttyName = slave.Name()
	_ = slave.Close()
	return nil
}

// SetStepperDefault sets the instruction count a bare Step advances by,
// for the JSON/CLI front-ends' "SetStepper{n}" status.
func (s *Session) SetStepperDefault(n int) {
	if n < 1 {
		n = 1
	}
	s.stepperDefault = n
}

// State reports the session's current coarse state.
func (s *Session) State() State { return s.state }

// PID returns the traced child's process id, or 0 before Run.
func (s *Session) PID() int { return s.pid }

// PC returns the program counter recorded at the last stop. Part of
// plugins.SessionView.
func (s *Session) PC() addr.Address { return s.regsLast.PC() }

// LastSignal returns the name of the last fatal-class signal recorded by
// waitSignal, or the empty string if none has been observed yet. Part of
// plugins.SessionView.
func (s *Session) LastSignal() string { return s.lastSignal }

// BreakpointAt reports whether a breakpoint is installed at a. Part of
// plugins.SessionView.
func (s *Session) BreakpointAt(a addr.Address) (breakpoint.Breakpoint, bool) {
	return s.bps.Get(a)
}

// Run forks and execs path with args, attaches via PTRACE_TRACEME, waits
// for the initial post-exec SIGTRAP, then builds the DWARF symbol tree
// and CFI table from the now-mapped binary. Follows the same launch
// sequence as go-delve/delve's proc_linux.go Launch.
func (s *Session) Run(path string, args []string) (*Event, error) {
	if s.state != StateNotStarted {
		return nil, cmerr.New(cmerr.KindAlreadyRunning, "session already has a child")
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, cmerr.Wrap(cmerr.KindExecutable, path, err)
	}

	cmd := exec.Command(resolved, args...)
	cmd.Args = append([]string{resolved}, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}

	var ttyFile *os.File
	if s.ttyName != "" {
		f, err := os.OpenFile(s.ttyName, os.O_RDWR, 0)
		if err != nil {
			return nil, cmerr.Wrap(cmerr.KindExecFailed, "opening tty", err)
		}
		ttyFile = f
		cmd.Stdin, cmd.Stdout, cmd.Stderr = f, f, f
		cmd.SysProcAttr.Setctty = true
	} else {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	}

	if err := cmd.Start(); err != nil {
		if ttyFile != nil {
			_ = ttyFile.Close()
		}
		return nil, cmerr.Wrap(cmerr.KindExecFailed, path, err)
	}
	if ttyFile != nil {
		_ = ttyFile.Close()
	}

	pid := cmd.Process.Pid
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return nil, cmerr.Wrap(cmerr.KindPtrace, "waiting for initial trap", err)
	}
	if !ws.Stopped() {
		return nil, cmerr.New(cmerr.KindExecFailed, "child did not stop on exec")
	}

	s.cmd = cmd
	s.pid = pid
	s.mem = ptraceMemory{pid: pid}
	s.bps = breakpoint.NewTable(s.mem)
	s.state = StateStopped

	if logflags.Session() {
		logflags.SessionLogger().WithFields(map[string]interface{}{"pid": pid, "path": resolved}).Debug("child stopped at initial exec trap")
	}

	if err := s.loadDebugInfo(resolved); err != nil {
		// Debug info is optional: a stripped binary is still debuggable
		// at the register/memory/disassembly level. NoDebugInfo is only
		// returned when a caller asks for something DWARF-shaped, not a
		// reason to refuse to run at all.
		if logflags.Dwarf() {
			logflags.DwarfLogger().WithError(err).Debug("no usable debug info for this binary")
		}
	}

	regs, err := registers.Load(pid)
	if err != nil {
		return nil, err
	}
	s.regsLast = regs

	return &Event{State: s.state, PC: regs.PC()}, nil
}

func (s *Session) loadDebugInfo(execPath string) error {
	tree, err := dwarf.BuildForPID(s.pid, execPath)
	if err != nil {
		return err
	}
	s.tree = tree

	regions, err := procmap.Load(s.pid)
	if err != nil {
		return err
	}
	bias := procmap.LoadBias(regions, execPath)

	data, ferr := os.ReadFile(execPath)
	if ferr == nil {
		if table, perr := frameTableFromELF(data, bias); perr == nil {
			s.cfiTable = table
		}
	}
	s.unwinder = unwind.New(s.cfiTable)
	return nil
}

// frameTableFromELF extracts and parses .debug_frame, returning an empty
// table (not an error) if the section is absent -- plenty of binaries
// carry CFI only in .eh_frame, which this package intentionally does not
// parse (see pkg/unwind's rbp-chain fallback design note), so a missing
// .debug_frame just means every backtrace uses that fallback.
func frameTableFromELF(data []byte, bias addr.Address) (unwind.Table, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, cmerr.Wrap(cmerr.KindExecutable, "reading elf sections", err)
	}
	defer f.Close()
	sec := f.Section(".debug_frame")
	if sec == nil {
		return nil, nil
	}
	raw, err := sec.Data()
	if err != nil {
		return nil, err
	}
	return unwind.ParseDebugFrame(raw, addr.Size, bias)
}

// requireStopped is the guard every control/query operation in this file
// opens with: almost everything except Run and the various read-only
// queries that still make sense post-exit needs the child to be stopped
// under ptrace right now.
func (s *Session) requireStopped() error {
	switch s.state {
	case StateExited:
		return cmerr.New(cmerr.KindChildExited, "child has already exited")
	case StateNotStarted:
		return cmerr.New(cmerr.KindNoDebuggee, "no child has been launched")
	case StateRunning:
		return cmerr.New(cmerr.KindAlreadyRunning, "child is running")
	}
	return nil
}

// SingleStepAndWait implements breakpoint.Stepper: resume the child for
// exactly one instruction and wait for the resulting trap, without the
// signal-classification wait_signal performs (a single-step trap is
// always SIGTRAP and never worth logging).
func (s *Session) SingleStepAndWait() error {
	s.resumeMode = resumeStep
	if err := unix.PtraceSingleStep(s.pid); err != nil {
		return cmerr.Wrap(cmerr.KindPtrace, "PTRACE_SINGLESTEP", err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(s.pid, &ws, 0, nil); err != nil {
		return cmerr.Wrap(cmerr.KindPtrace, "waiting after single-step", err)
	}
	return nil
}

// Cont implements `cont`: step over a breakpoint at the current PC if
// there is one, PTRACE_CONT, then wait_signal.
func (s *Session) Cont() (*Event, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	if err := s.stepOverCurrentBreakpoint(); err != nil {
		return nil, err
	}
	s.state = StateRunning
	s.resumeMode = resumeCont
	if err := unix.PtraceCont(s.pid, 0); err != nil {
		return nil, cmerr.Wrap(cmerr.KindPtrace, "PTRACE_CONT", err)
	}
	return s.waitSignal()
}

// Step advances by the session's stepper default (set via
// SetStepperDefault / the "SetStepper{n}" status), one raw instruction
// per count, honoring installed breakpoints at each landing PC.
func (s *Session) Step() (*Event, error) {
	var ev *Event
	for i := 0; i < s.stepperDefault; i++ {
		if err := s.requireStopped(); err != nil {
			return nil, err
		}
		if err := s.stepOverCurrentBreakpoint(); err != nil {
			return nil, err
		}
		s.state = StateRunning
		s.resumeMode = resumeStep
		if err := unix.PtraceSingleStep(s.pid); err != nil {
			return nil, cmerr.Wrap(cmerr.KindPtrace, "PTRACE_SINGLESTEP", err)
		}
		e, err := s.waitSignal()
		if err != nil {
			return nil, err
		}
		ev = e
		if s.state != StateStopped {
			break
		}
	}
	return ev, nil
}

// StepIn single-steps until PC leaves the current subprogram's
// [LowPC, HighPC) range: a call instruction's first single-step lands
// inside the callee, which has a different (and non-overlapping) range,
// so this also happens to catch "stepped into a call" without
// special-casing the call opcode.
func (s *Session) StepIn() (*Event, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	startPC := s.regsLast.PC()
	var startSym *dwarf.OwnedSymbol
	if s.tree != nil {
		startSym, _ = s.tree.FunctionAt(startPC)
	}

	for {
		if err := s.stepOverCurrentBreakpoint(); err != nil {
			return nil, err
		}
		s.state = StateRunning
		s.resumeMode = resumeStep
		if err := unix.PtraceSingleStep(s.pid); err != nil {
			return nil, cmerr.Wrap(cmerr.KindPtrace, "PTRACE_SINGLESTEP", err)
		}
		ev, err := s.waitSignal()
		if err != nil {
			return nil, err
		}
		if s.state != StateStopped {
			return ev, nil
		}
		if startSym == nil || !startSym.Contains(s.regsLast.PC()) {
			return ev, nil
		}
	}
}

// StepOver sets a transient breakpoint on the instruction immediately
// following the current one (by disassembled length), continues, and
// removes the transient breakpoint on arrival.
func (s *Session) StepOver() (*Event, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	pc := s.regsLast.PC()
	code, err := s.bps.ReadMemoryTransparent(pc, 16)
	if err != nil {
		return nil, err
	}
	dis, err := disasm.Disassemble(code, pc, 1, true, nil)
	if err != nil || len(dis.Lines) == 0 {
		return nil, cmerr.Wrap(cmerr.KindMemoryRead, "disassembling current instruction", err)
	}
	next := pc.Add(int64(len(dis.Lines[0].Bytes)))
	return s.runToTransientBreakpoint(next)
}

// StepOut unwinds the current frame to find its return address, sets a
// transient breakpoint there, continues, and removes it on arrival.
func (s *Session) StepOut() (*Event, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	if s.unwinder == nil {
		return nil, cmerr.New(cmerr.KindNoDebugInfo, "no CFI or frame-pointer chain available to unwind")
	}
	var resolver unwind.SymbolResolver
	if s.tree != nil {
		resolver = s.tree
	}
	frames, err := s.unwinder.Backtrace(s.bps, resolver, s.regsLast.PC(), addr.Address(s.regsLast.Rbp), s.regsLast.SP(), 2)
	if err != nil {
		return nil, err
	}
	if len(frames) < 2 {
		return nil, cmerr.New(cmerr.KindEmptyStack, "no caller frame to step out to")
	}
	return s.runToTransientBreakpoint(frames[1].PC)
}

// runToTransientBreakpoint installs a breakpoint at target (unless one
// is already installed there, in which case it is left alone and never
// removed by this call), continues the child, and removes the
// transient breakpoint once the child stops again, so no operation ever
// leaves a breakpoint behind that its caller didn't ask for.
func (s *Session) runToTransientBreakpoint(target addr.Address) (*Event, error) {
	owned := !s.bps.IsAt(target)
	if owned {
		if _, err := s.bps.Set(target); err != nil {
			return nil, err
		}
	}

	ev, err := s.Cont()

	if owned {
		if s.state != StateExited {
			if rerr := s.bps.Remove(target); rerr != nil && err == nil {
				err = rerr
			}
		}
	}
	return ev, err
}

func (s *Session) stepOverCurrentBreakpoint() error {
	return s.bps.StepOverBreakpoint(s.regsLast.PC(), s)
}

// resume re-issues whichever ptrace primitive last resumed the child
// (PTRACE_CONT or PTRACE_SINGLESTEP), preserving step semantics when a
// signal has to be swallowed and the child resumed again mid-step.
func (s *Session) resume() error {
	if s.resumeMode == resumeStep {
		return unix.PtraceSingleStep(s.pid)
	}
	return unix.PtraceCont(s.pid, 0)
}

// waitSignal blocks on the child, classifies the stop, and loops for
// signals that aren't terminal.
func (s *Session) waitSignal() (*Event, error) {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(s.pid, &ws, 0, nil)
		if err != nil {
			return nil, cmerr.Wrap(cmerr.KindPtrace, "wait4", err)
		}
		if wpid != s.pid {
			continue
		}

		if ws.Exited() {
			s.state = StateExited
			return &Event{State: s.state, ExitCode: ws.ExitStatus()}, nil
		}
		if ws.Signaled() {
			s.state = StateExited
			return &Event{State: s.state, LastSignal: ws.Signal().String()}, nil
		}
		if !ws.Stopped() {
			continue
		}

		sig := ws.StopSignal()

		// PreSignalHandler fires for every observed stop signal, before the
		// session decides what to do about it.
		if s.plugins != nil {
			if regs, rerr := registers.Load(s.pid); rerr == nil {
				s.regsLast = regs
			}
			fb, handled, herr := s.plugins.Run(plugins.PreSignalHandler, s, sig.String(), s.dispatch)
			if herr != nil {
				return nil, herr
			}
			if handled && fb.Tag == feedback.FeedbackForwardSignal {
				if err := unix.PtraceCont(s.pid, int(sig)); err != nil {
					return nil, cmerr.Wrap(cmerr.KindPtrace, "PTRACE_CONT forwarding signal", err)
				}
				continue
			}
		}

		switch sig {
		case unix.SIGTRAP:
			regs, err := registers.Load(s.pid)
			if err != nil {
				return nil, err
			}
			candidate := regs.PC().Add(-1)
			if s.bps.IsAt(candidate) {
				regs.SetPC(candidate)
				if err := registers.Store(s.pid, regs); err != nil {
					return nil, err
				}
				s.regsLast = regs
				s.state = StateStopped
				return &Event{State: s.state, PC: candidate}, nil
			}

			// Not one of coreminer's own breakpoints. Unless this trap is
			// the end of a single-step, give the OnSigTrap hooks (e.g.
			// sigtrapguard) a chance to recognize a self-inserted int3
			// before treating this as a plain stop.
			if s.plugins != nil && s.resumeMode != resumeStep {
				probe := regs
				probe.SetPC(candidate)
				s.regsLast = probe
				fb, handled, herr := s.plugins.Run(plugins.OnSigTrap, s, "SIGTRAP", s.dispatch)
				if herr != nil {
					return nil, herr
				}
				if handled && fb.Tag == feedback.FeedbackForwardSignal {
					if err := unix.PtraceCont(s.pid, int(unix.SIGTRAP)); err != nil {
						return nil, cmerr.Wrap(cmerr.KindPtrace, "PTRACE_CONT forwarding SIGTRAP", err)
					}
					continue
				}
			}
			s.regsLast = regs
			s.state = StateStopped
			return &Event{State: s.state, PC: regs.PC()}, nil

		case unix.SIGWINCH:
			if err := s.resume(); err != nil {
				return nil, cmerr.Wrap(cmerr.KindPtrace, "resuming after SIGWINCH", err)
			}
			continue

		case unix.SIGTERM, unix.SIGINT, unix.SIGILL, unix.SIGSEGV,
			unix.SIGABRT, unix.SIGBUS, unix.SIGFPE:
			regs, rerr := registers.Load(s.pid)
			if rerr == nil {
				s.regsLast = regs
			}
			s.lastSignal = sig.String()
			s.state = StateStopped
			return &Event{State: s.state, PC: s.regsLast.PC(), LastSignal: s.lastSignal}, nil

		default:
			if logflags.Session() {
				logflags.SessionLogger().WithField("signal", sig.String()).Debug("unhandled stop signal, resuming")
			}
			if err := s.resume(); err != nil {
				return nil, cmerr.Wrap(cmerr.KindPtrace, "resuming after unhandled signal", err)
			}
			continue
		}
	}
}

// ReadMemory reads length bytes starting at a, through the breakpoint
// table's transparent substitution.
func (s *Session) ReadMemory(a addr.Address, length int) ([]byte, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	return s.bps.ReadMemoryTransparent(a, length)
}

// WriteMemory writes data starting at a, through the breakpoint table's
// transparent substitution.
func (s *Session) WriteMemory(a addr.Address, data []byte) error {
	if err := s.requireStopped(); err != nil {
		return err
	}
	return s.bps.WriteMemoryTransparent(a, data)
}

// RegsGet returns the most recently loaded register snapshot, refreshed
// from the kernel first.
func (s *Session) RegsGet() (registers.Snapshot, error) {
	if err := s.requireStopped(); err != nil {
		return registers.Snapshot{}, err
	}
	regs, err := registers.Load(s.pid)
	if err != nil {
		return registers.Snapshot{}, err
	}
	s.regsLast = regs
	return regs, nil
}

// RegsSet writes name=value into the child's register file.
func (s *Session) RegsSet(name string, value addr.Word) error {
	if err := s.requireStopped(); err != nil {
		return err
	}
	regs, err := registers.Load(s.pid)
	if err != nil {
		return err
	}
	if err := regs.Set(name, value); err != nil {
		return err
	}
	if err := registers.Store(s.pid, regs); err != nil {
		return err
	}
	s.regsLast = regs
	return nil
}

// Backtrace walks the stack from the current PC/frame pointer, up to
// maxFrames deep.
func (s *Session) Backtrace(maxFrames int) ([]unwind.Frame, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	if s.unwinder == nil {
		return nil, cmerr.New(cmerr.KindNoDebugInfo, "no CFI or frame-pointer chain available to unwind")
	}
	var resolver unwind.SymbolResolver
	if s.tree != nil {
		resolver = s.tree
	}
	return s.unwinder.Backtrace(s.bps, resolver, s.regsLast.PC(), addr.Address(s.regsLast.Rbp), s.regsLast.SP(), maxFrames)
}

// currentCFA returns the canonical frame address of the innermost frame,
// used as the frame-base anchor for DW_OP_call_frame_cfa expressions.
func (s *Session) currentCFA() (int64, error) {
	if s.unwinder == nil {
		return 0, cmerr.New(cmerr.KindFrameBaseMissing, "no unwinder available to compute the canonical frame address")
	}
	var resolver unwind.SymbolResolver
	if s.tree != nil {
		resolver = s.tree
	}
	frames, err := s.unwinder.Backtrace(s.bps, resolver, s.regsLast.PC(), addr.Address(s.regsLast.Rbp), s.regsLast.SP(), 1)
	if err != nil || len(frames) == 0 {
		return 0, cmerr.New(cmerr.KindFrameBaseMissing, "could not resolve current frame's canonical frame address")
	}
	return int64(frames[0].CFA.Uint64()), nil
}

func (s *Session) variableResolver() (*variable.Resolver, error) {
	if s.tree == nil {
		return nil, cmerr.New(cmerr.KindNoDebugInfo, "no debug info loaded")
	}
	cfa, err := s.currentCFA()
	if err != nil {
		return nil, err
	}
	return &variable.Resolver{
		Tree: s.tree,
		Regs: &s.regsLast,
		Mem:  s.bps,
		PC:   s.regsLast.PC(),
		CFA:  cfa,
	}, nil
}

// ReadVariable resolves name against the current frame and returns its
// live value.
func (s *Session) ReadVariable(name string) (variable.Value, error) {
	if err := s.requireStopped(); err != nil {
		return variable.Value{}, err
	}
	r, err := s.variableResolver()
	if err != nil {
		return variable.Value{}, err
	}
	return r.Read(name)
}

// WriteVariable resolves name against the current frame and writes v
// into its live storage.
func (s *Session) WriteVariable(name string, v variable.Value) error {
	if err := s.requireStopped(); err != nil {
		return err
	}
	r, err := s.variableResolver()
	if err != nil {
		return err
	}
	return r.Write(name, v)
}

// Disassemble decodes count instructions starting at a.
func (s *Session) Disassemble(a addr.Address, count int, literal bool) (disasm.Disassembly, error) {
	if err := s.requireStopped(); err != nil {
		return disasm.Disassembly{}, err
	}
	// x86-64 instructions are at most 15 bytes; 16 bytes per requested
	// line is always enough to decode the last instruction fully.
	length := count * 16
	if literal {
		raw, err := s.readRawMemory(a, length)
		if err != nil {
			return disasm.Disassembly{}, err
		}
		return disasm.Disassemble(raw, a, count, true, nil)
	}
	code, err := s.bps.ReadMemoryTransparent(a, length)
	if err != nil {
		return disasm.Disassembly{}, err
	}
	return disasm.Disassemble(code, a, count, false, s.bps)
}

// readRawMemory reads length bytes directly through ptrace, without the
// breakpoint table's saved-byte substitution -- used only by literal-mode
// disassembly, which by definition wants to see any installed 0xCC bytes.
func (s *Session) readRawMemory(a addr.Address, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	out := make([]byte, 0, length)
	cur := a
	for len(out) < length {
		w, err := s.mem.ReadWord(cur)
		if err != nil {
			return nil, err
		}
		wb := w.Bytes()
		for i := 0; i < addr.Size && len(out) < length; i++ {
			out = append(out, wb[i])
		}
		cur = cur.Add(addr.Size)
	}
	return out, nil
}

// ProcessMap returns the child's current /proc/<pid>/maps regions.
func (s *Session) ProcessMap() ([]procmap.Region, error) {
	if err := s.requireStopped(); err != nil {
		return nil, err
	}
	return procmap.Load(s.pid)
}

// SetBreakpoint installs a breakpoint at a.
func (s *Session) SetBreakpoint(a addr.Address) (breakpoint.Breakpoint, error) {
	if err := s.requireStopped(); err != nil {
		return breakpoint.Breakpoint{}, err
	}
	bp, err := s.bps.Set(a)
	if err != nil {
		return breakpoint.Breakpoint{}, err
	}
	return *bp, nil
}

// DeleteBreakpoint removes the breakpoint at a.
func (s *Session) DeleteBreakpoint(a addr.Address) error {
	if err := s.requireStopped(); err != nil {
		return err
	}
	return s.bps.Remove(a)
}

// Breakpoints lists every installed breakpoint.
func (s *Session) Breakpoints() []breakpoint.Breakpoint {
	if s.bps == nil {
		return nil
	}
	return s.bps.List()
}

// GetSymbolsByName returns every owned symbol sharing name (ambiguous on
// purpose -- callers that need uniqueness use ByNameUnambiguous
// indirectly through ReadVariable).
func (s *Session) GetSymbolsByName(name string) ([]*dwarf.OwnedSymbol, error) {
	if s.tree == nil {
		return nil, cmerr.New(cmerr.KindNoDebugInfo, "no debug info loaded")
	}
	return s.tree.ByName(name), nil
}

// Quit disables every breakpoint, detaches, and kills the child. Each
// error from an individual breakpoint disable is logged and the first one
// is returned; none of them prevents the detach/kill from being attempted.
func (s *Session) Quit() error {
	if s.state == StateNotStarted || s.state == StateExited {
		return nil
	}
	var errs []error
	if s.bps != nil {
		errs = append(errs, s.bps.DisableAll()...)
	}
	for _, err := range errs {
		logflags.SessionLogger().WithError(err).Warn("disabling breakpoint during teardown")
	}
	_ = unix.PtraceDetach(s.pid)
	_ = s.cmd.Process.Kill()
	s.state = StateExited
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

