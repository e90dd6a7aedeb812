// Command cm is coreminer's interactive CLI front-end: a liner-backed
// REPL dispatching aliased commands through a single *debugger.Debugger,
// following the same cmd/dlv main/cmds split go-delve/delve uses (cobra
// for flags, a liner-driven REPL loop for interaction).
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-delve/liner"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/TalpaLabs/coreminer/pkg/config"
	"github.com/TalpaLabs/coreminer/pkg/debugger"
	"github.com/TalpaLabs/coreminer/pkg/disasm"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/logflags"
	"github.com/TalpaLabs/coreminer/pkg/variable"
)

const (
	terminalHighlightEscapeCode = "\033[%dm"
	terminalResetEscapeCode     = "\033[0m"
)

const historyFile = ".cm_history"

var (
	logFlag   bool
	logOutput string
	pluginDir string
)

func main() {
	root := &cobra.Command{
		Use:   "cm [path] [-- args...]",
		Short: "coreminer interactive debugger",
		Long:  "cm is coreminer's line-oriented REPL front-end.",
		RunE:  runRepl,
	}
	root.Flags().BoolVar(&logFlag, "log", false, "enable subsystem logging")
	root.Flags().StringVar(&logOutput, "log-output", "", "comma separated list of subsystems to log")
	root.Flags().StringVar(&pluginDir, "plugin-dir", "", "override the configured starlark plugin directory")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cmState is the mutable state threaded through every cmdfunc: the
// debugger facade, output stream, and whether the REPL should stop after
// the current command.
type cmState struct {
	dbg     *debugger.Debugger
	out     io.Writer
	quit    bool
	bpColor int
}

func runRepl(cmd *cobra.Command, args []string) error {
	logflags.Setup(logFlag, logOutput)

	cfg := config.LoadConfig()
	dir := pluginDir
	if dir == "" {
		dir = cfg.PluginDir
	}

	dbg := debugger.New(dir)
	for id, enabled := range cfg.PluginsEnabled {
		dbg.Handle(feedback.Status{Tag: feedback.StatusPluginSetEnabled, ID: id, Enabled: enabled})
	}
	if cfg.StepperDefault > 0 {
		dbg.Handle(feedback.Status{Tag: feedback.StatusSetStepper, N: cfg.StepperDefault})
	}

	var out io.Writer = os.Stdout
	if isatty.IsTerminal(os.Stdout.Fd()) {
		out = colorable.NewColorable(os.Stdout)
	}

	cm := &cmState{dbg: dbg, out: out, bpColor: cfg.BreakpointLineColor}
	cmds := debugCommands()
	cmds.Merge(cfg.Aliases)

	if len(args) > 0 {
		if err := cmds.Call("run "+strings.Join(args, " "), cm); err != nil {
			fmt.Fprintln(cm.out, err)
		}
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath, _ := config.FilePath(historyFile)
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	var lastLine string
	for !cm.quit {
		text, err := line.Prompt("(cm) ")
		if err != nil {
			break
		}
		if strings.TrimSpace(text) == "" {
			text = lastLine
		} else {
			line.AppendHistory(text)
			lastLine = text
		}
		if err := cmds.Call(text, cm); err != nil {
			fmt.Fprintln(cm.out, err)
		}
	}

	if histPath != "" {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}

// report renders one Feedback to cm.out, printing errors in-line and
// returning to the prompt rather than aborting the REPL.
func (cm *cmState) report(fb feedback.Feedback) error {
	switch fb.Tag {
	case feedback.FeedbackOk:
		return nil
	case feedback.FeedbackError:
		fmt.Fprintf(cm.out, "error: %s\n", fb.Err.Error())
		return nil
	case feedback.FeedbackExit:
		fmt.Fprintf(cm.out, "process exited with code %d\n", fb.ExitCode)
		return nil
	case feedback.FeedbackAddr:
		fmt.Fprintf(cm.out, "stopped at %s\n", fb.Addr)
		return nil
	case feedback.FeedbackWord:
		fmt.Fprintf(cm.out, "%s\n", fb.Word)
		return nil
	case feedback.FeedbackRegisters:
		fmt.Fprintf(cm.out, "pc=%s sp=%s\n", fb.Registers.PC(), fb.Registers.SP())
		return nil
	case feedback.FeedbackDisassembly:
		cm.reportDisassembly(fb.Disassembly.Lines)
		return nil
	case feedback.FeedbackBacktrace:
		for _, frame := range fb.Backtrace {
			fmt.Fprintf(cm.out, "#%-3d %s %s\n", frame.Index, frame.PC, frame.FunctionName)
		}
		return nil
	case feedback.FeedbackSymbols:
		for _, sym := range fb.Symbols {
			fmt.Fprintf(cm.out, "%s %s\n", sym.Kind, sym.Name)
		}
		return nil
	case feedback.FeedbackVariable:
		fmt.Fprintf(cm.out, "%s\n", renderVariable(*fb.Variable))
		return nil
	case feedback.FeedbackProcessMap:
		for _, r := range fb.ProcessMap {
			fmt.Fprintf(cm.out, "%s-%s %s%s%s %s\n", r.Start, r.End, permChar(r.Read, 'r'), permChar(r.Write, 'w'), permChar(r.Execute, 'x'), r.Path)
		}
		return nil
	case feedback.FeedbackPlugins:
		for _, p := range fb.Plugins {
			state := "disabled"
			if p.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(cm.out, "%s: %s\n", p.ID, state)
		}
		return nil
	case feedback.FeedbackBreakpoint:
		fmt.Fprintf(cm.out, "breakpoint set at %s\n", fb.Breakpoint.Address)
		return nil
	case feedback.FeedbackStack:
		for _, w := range fb.Stack {
			fmt.Fprintf(cm.out, "%s: %s\n", w.Address, w.Word)
		}
		return nil
	default:
		fmt.Fprintf(cm.out, "%+v\n", fb)
		return nil
	}
}

// reportDisassembly prints one line per decoded instruction, highlighting
// breakpointed lines in cm.bpColor by wrapping the line in
// terminalHighlightEscapeCode.
func (cm *cmState) reportDisassembly(lines []disasm.Line) {
	for _, l := range lines {
		text := fmt.Sprintf("%s  %-24x  %s", l.Address, l.Bytes, l.Mnemonic)
		if l.IsBreakpoint {
			fmt.Fprintf(cm.out, terminalHighlightEscapeCode+"%s"+terminalResetEscapeCode+"\n", cm.bpColor, text)
			continue
		}
		fmt.Fprintln(cm.out, text)
	}
}

// renderVariable formats one VariableValue for the REPL, dispatching on
// its Kind the same way the wire protocol tags it.
func renderVariable(v variable.Value) string {
	switch v.Kind {
	case variable.KindInteger:
		if v.Unsigned {
			return fmt.Sprintf("%d", uint64(v.Integer))
		}
		return fmt.Sprintf("%d", v.Integer)
	case variable.KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case variable.KindAddress:
		return v.Address.String()
	case variable.KindComposite:
		parts := make([]string, 0, len(v.Composite))
		for name, member := range v.Composite {
			parts = append(parts, fmt.Sprintf("%s: %s", name, renderVariable(member)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%x", v.Bytes)
	}
}

func permChar(has bool, c byte) string {
	if has {
		return string([]byte{c})
	}
	return "-"
}
