// Package feedback defines the Status/Feedback vocabulary that flows
// between the outside world (cmserve's JSON line protocol, cmd/cm's REPL)
// and the debugger facade: the facade receives a Status, dispatches to
// the session, and returns a Feedback. The same two types double as the
// vocabulary a plugin hook uses to ask the facade for more session state
// mid-dispatch, in its own follow-up status loop.
//
// Both types are plain tagged structs rather than Go interfaces: the
// wire format is one JSON object per line with a "tag" field selecting
// which of the other fields are populated, which a flat struct encodes
// directly without a custom MarshalJSON.
package feedback

import (
	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/breakpoint"
	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/disasm"
	"github.com/TalpaLabs/coreminer/pkg/dwarf"
	"github.com/TalpaLabs/coreminer/pkg/procmap"
	"github.com/TalpaLabs/coreminer/pkg/registers"
	"github.com/TalpaLabs/coreminer/pkg/unwind"
	"github.com/TalpaLabs/coreminer/pkg/variable"
)

// StatusTag names one operation the facade knows how to dispatch.
type StatusTag string

const (
	StatusRun                StatusTag = "run"
	StatusContinue           StatusTag = "continue"
	StatusStep               StatusTag = "step"
	StatusStepIn             StatusTag = "step_in"
	StatusStepOver           StatusTag = "step_over"
	StatusStepOut            StatusTag = "step_out"
	StatusSetBreakpoint      StatusTag = "set_breakpoint"
	StatusDeleteBreakpoint   StatusTag = "delete_breakpoint"
	StatusDisassemble        StatusTag = "disassemble"
	StatusBacktrace          StatusTag = "backtrace"
	StatusStack              StatusTag = "stack"
	StatusProcessMap         StatusTag = "process_map"
	StatusRegsGet            StatusTag = "regs_get"
	StatusRegsSet            StatusTag = "regs_set"
	StatusReadMem            StatusTag = "read_mem"
	StatusWriteMem           StatusTag = "write_mem"
	StatusGetSymbolsByName   StatusTag = "get_symbols_by_name"
	StatusReadVariable       StatusTag = "read_variable"
	StatusWriteVariable      StatusTag = "write_variable"
	StatusSetStepper         StatusTag = "set_stepper"
	StatusPluginSetEnabled   StatusTag = "plugin_set_enabled"
	StatusPluginList         StatusTag = "plugin_list"
	StatusQuit               StatusTag = "quit"
)

// Status is one request submitted to the debugger facade. Only the fields
// relevant to Tag are populated; the rest are left at their zero value.
type Status struct {
	Tag StatusTag `json:"tag"`

	Path string   `json:"path,omitempty"`
	Args []string `json:"args,omitempty"`

	Addr    addr.Address `json:"addr,omitempty"`
	Len     int          `json:"len,omitempty"`
	Literal bool         `json:"literal,omitempty"`

	Reg string    `json:"reg,omitempty"`
	Val addr.Word `json:"val,omitempty"`

	Name string `json:"name,omitempty"`

	N int `json:"n,omitempty"`

	ID      string `json:"id,omitempty"`
	Enabled bool   `json:"enabled,omitempty"`

	Variable variable.Value `json:"variable,omitempty"`

	MaxFrames int `json:"max_frames,omitempty"`
}

// FeedbackTag names the shape of a Feedback's payload.
type FeedbackTag string

const (
	FeedbackOk            FeedbackTag = "ok"
	FeedbackError         FeedbackTag = "error"
	FeedbackExit          FeedbackTag = "exit"
	FeedbackWord          FeedbackTag = "word"
	FeedbackAddr          FeedbackTag = "addr"
	FeedbackRegisters     FeedbackTag = "registers"
	FeedbackDisassembly   FeedbackTag = "disassembly"
	FeedbackBacktrace     FeedbackTag = "backtrace"
	FeedbackSymbols       FeedbackTag = "symbols"
	FeedbackVariable      FeedbackTag = "variable"
	FeedbackProcessMap    FeedbackTag = "process_map"
	FeedbackPlugins       FeedbackTag = "plugins"
	FeedbackBreakpoint    FeedbackTag = "breakpoint"
	FeedbackStack         FeedbackTag = "stack"
	// FeedbackForwardSignal is not part of the wire protocol; it is the
	// internal answer a signal-handling hook gives the session to mean
	// "the trap was not one of your breakpoints, forward the raw signal
	// to the tracee instead of stopping on it".
	FeedbackForwardSignal FeedbackTag = "forward_signal"
)

// PluginInfo is the wire shape of one registered plugin, used by
// FeedbackPlugins.
type PluginInfo struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// StackWord is one entry of a Stack: the word stored at Address.
type StackWord struct {
	Address addr.Address `json:"address"`
	Word    addr.Word    `json:"word"`
}

// Stack is an ordered window of words and their addresses read outward
// from the current stack pointer.
type Stack []StackWord

// Feedback is the facade's answer to a Status, or a hook's answer within
// its own follow-up loop.
type Feedback struct {
	Tag FeedbackTag `json:"tag"`

	Err *cmerr.DebuggerError `json:"error,omitempty"`

	ExitCode int `json:"exit_code,omitempty"`

	Word addr.Word    `json:"word,omitempty"`
	Addr addr.Address `json:"addr,omitempty"`

	Registers *registers.Snapshot `json:"registers,omitempty"`

	Disassembly *disasm.Disassembly `json:"disassembly,omitempty"`
	Backtrace   []unwind.Frame      `json:"backtrace,omitempty"`
	Symbols     []*dwarf.OwnedSymbol `json:"symbols,omitempty"`
	Variable    *variable.Value     `json:"variable,omitempty"`
	ProcessMap  []procmap.Region    `json:"process_map,omitempty"`
	Plugins     []PluginInfo        `json:"plugins,omitempty"`
	Breakpoint  *breakpoint.Breakpoint `json:"breakpoint,omitempty"`
	Stack       Stack               `json:"stack,omitempty"`

	Signal string `json:"signal,omitempty"`
}

// Ok is the empty success feedback, the default a hook receives at the
// start of its follow-up loop and the answer a plugin gives to mean
// "no override, proceed with the default handling".
func Ok() Feedback { return Feedback{Tag: FeedbackOk} }

// FromError converts a Go error into an Error feedback, wrapping it as a
// cmerr.KindIO error if it is not already a *cmerr.DebuggerError.
func FromError(err error) Feedback {
	if err == nil {
		return Ok()
	}
	if de, ok := err.(*cmerr.DebuggerError); ok {
		return Feedback{Tag: FeedbackError, Err: de}
	}
	wrapped := cmerr.Wrap(cmerr.KindIO, err.Error(), err)
	return Feedback{Tag: FeedbackError, Err: wrapped}
}
