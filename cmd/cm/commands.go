// Command table for the cm REPL, following the same cmdfunc/command/
// Commands pattern go-delve/delve's pkg/terminal/command.go uses: a
// slice of aliased entries matched against the first whitespace-delimited
// token of a line, each wrapping a Status/Feedback round trip through a
// *debugger.Debugger.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TalpaLabs/coreminer/pkg/addr"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/variable"
)

// cmdfunc handles one parsed REPL line. args is everything after the
// command word, unparsed.
type cmdfunc func(cm *cmState, args string) error

type command struct {
	aliases []string
	cmdFn   cmdfunc
	helpMsg string
}

func (c command) match(cmdstr string) bool {
	for _, alias := range c.aliases {
		if alias == cmdstr {
			return true
		}
	}
	return false
}

// Commands is an ordered, aliased command table, mergeable with
// config-file aliases.
type Commands struct {
	cmds []command
}

func noCmdAvailable(cm *cmState, args string) error {
	return fmt.Errorf("command not available")
}

func nullCommand(cm *cmState, args string) error {
	return nil
}

func debugCommands() *Commands {
	c := &Commands{
		cmds: []command{
			{aliases: []string{"run"}, cmdFn: cmdRun, helpMsg: "run <path> [args...] -- start a new debuggee"},
			{aliases: []string{"c", "cont"}, cmdFn: cmdContinue, helpMsg: "c|cont -- resume until the next breakpoint or exit"},
			{aliases: []string{"s", "step"}, cmdFn: cmdStep, helpMsg: "s|step -- run the configured stepper"},
			{aliases: []string{"si"}, cmdFn: cmdStepIn, helpMsg: "si -- step into the next call"},
			{aliases: []string{"su", "sov"}, cmdFn: cmdStepOver, helpMsg: "su|sov -- step over the next call"},
			{aliases: []string{"so"}, cmdFn: cmdStepOut, helpMsg: "so -- step out of the current function"},
			{aliases: []string{"bp", "break"}, cmdFn: cmdBreak, helpMsg: "bp|break <addr> -- set a breakpoint"},
			{aliases: []string{"dbp", "delbreak"}, cmdFn: cmdDelBreak, helpMsg: "dbp|delbreak <addr> -- remove a breakpoint"},
			{aliases: []string{"d", "dis"}, cmdFn: cmdDisassemble, helpMsg: "d|dis <addr> [count] [--literal] -- disassemble"},
			{aliases: []string{"bt"}, cmdFn: cmdBacktrace, helpMsg: "bt [max] -- print a backtrace"},
			{aliases: []string{"stack"}, cmdFn: cmdStack, helpMsg: "stack [words] -- dump the stack"},
			{aliases: []string{"info"}, cmdFn: cmdInfo, helpMsg: "info -- print the current PC and stack pointer"},
			{aliases: []string{"pm"}, cmdFn: cmdProcessMap, helpMsg: "pm -- print the process memory map"},
			{aliases: []string{"regs"}, cmdFn: cmdRegs, helpMsg: "regs get | regs set <name> <value>"},
			{aliases: []string{"rmem"}, cmdFn: cmdReadMem, helpMsg: "rmem <addr> -- read one word of memory"},
			{aliases: []string{"wmem"}, cmdFn: cmdWriteMem, helpMsg: "wmem <addr> <value> -- write one word of memory"},
			{aliases: []string{"sym", "gsym"}, cmdFn: cmdSymbol, helpMsg: "sym|gsym <name> -- look up symbols by name"},
			{aliases: []string{"var"}, cmdFn: cmdVar, helpMsg: "var <name> [value] -- read or write a variable"},
			{aliases: []string{"vars"}, cmdFn: cmdVars, helpMsg: "vars -- not implemented, see sym/var"},
			{aliases: []string{"set"}, cmdFn: cmdSet, helpMsg: "set stepper <n> -- set the default step count"},
			{aliases: []string{"plugin"}, cmdFn: cmdPlugin, helpMsg: "plugin <id> on|off -- enable or disable a plugin"},
			{aliases: []string{"plugins"}, cmdFn: cmdPlugins, helpMsg: "plugins -- list registered plugins"},
			{aliases: []string{"q", "quit", "exit"}, cmdFn: cmdQuit, helpMsg: "q|quit|exit -- quit the debuggee and exit"},
			{aliases: []string{"help"}, cmdFn: nil, helpMsg: "help -- print this message"},
		},
	}
	c.cmds[len(c.cmds)-1].cmdFn = c.cmdHelp
	return c
}

func (c *Commands) cmdHelp(cm *cmState, args string) error {
	for _, cd := range c.cmds {
		fmt.Fprintf(cm.out, "%-24s %s\n", strings.Join(cd.aliases, "|"), cd.helpMsg)
	}
	return nil
}

// Merge adds config-file aliases to their matching built-in commands.
func (c *Commands) Merge(extra map[string][]string) {
	for canonical, aliases := range extra {
		for i := range c.cmds {
			if c.cmds[i].match(canonical) {
				c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
				break
			}
		}
	}
}

func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}
	for _, cd := range c.cmds {
		if cd.match(cmdstr) {
			return cd.cmdFn
		}
	}
	return noCmdAvailable
}

// Call splits line on its first space and dispatches to the matching
// cmdfunc.
func (c *Commands) Call(line string, cm *cmState) error {
	line = strings.TrimSpace(line)
	cmdstr, args := splitFirstWord(line)
	return c.Find(cmdstr)(cm, args)
}

func splitFirstWord(line string) (word, rest string) {
	fields := strings.SplitN(line, " ", 2)
	word = fields[0]
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}
	return word, rest
}

func parseHexAddr(s string) (addr.Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("expected an address")
	}
	return addr.ParseAddress(s)
}

func parseHexWord(s string) (addr.Word, error) {
	a, err := parseHexAddr(s)
	return addr.Word(a), err
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func cmdRun(cm *cmState, args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return fmt.Errorf("usage: run <path> [args...]")
	}
	fb := cm.dbg.Handle(feedback.Status{Tag: feedback.StatusRun, Path: fields[0], Args: fields[1:]})
	return cm.report(fb)
}

func cmdContinue(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusContinue}))
}

func cmdStep(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusStep}))
}

func cmdStepIn(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusStepIn}))
}

func cmdStepOver(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusStepOver}))
}

func cmdStepOut(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusStepOut}))
}

func cmdBreak(cm *cmState, args string) error {
	a, err := parseHexAddr(args)
	if err != nil {
		return err
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusSetBreakpoint, Addr: a}))
}

func cmdDelBreak(cm *cmState, args string) error {
	a, err := parseHexAddr(args)
	if err != nil {
		return err
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusDeleteBreakpoint, Addr: a}))
}

func cmdDisassemble(cm *cmState, args string) error {
	literal := false
	if strings.Contains(args, "--literal") {
		literal = true
		args = strings.ReplaceAll(args, "--literal", "")
	}
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return fmt.Errorf("usage: dis <addr> [count] [--literal]")
	}
	a, err := parseHexAddr(fields[0])
	if err != nil {
		return err
	}
	count := 1
	if len(fields) > 1 {
		count = parseInt(fields[1], 1)
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusDisassemble, Addr: a, Len: count, Literal: literal}))
}

func cmdBacktrace(cm *cmState, args string) error {
	max := parseInt(args, 0)
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusBacktrace, MaxFrames: max}))
}

func cmdStack(cm *cmState, args string) error {
	words := parseInt(args, 0)
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusStack, Len: words}))
}

func cmdInfo(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusRegsGet}))
}

func cmdProcessMap(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusProcessMap}))
}

func cmdRegs(cm *cmState, args string) error {
	sub, rest := splitFirstWord(args)
	switch sub {
	case "get", "":
		return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusRegsGet}))
	case "set":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return fmt.Errorf("usage: regs set <name> <value>")
		}
		v, err := parseHexWord(fields[1])
		if err != nil {
			return err
		}
		return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusRegsSet, Reg: fields[0], Val: v}))
	default:
		return fmt.Errorf("usage: regs get | regs set <name> <value>")
	}
}

func cmdReadMem(cm *cmState, args string) error {
	a, err := parseHexAddr(args)
	if err != nil {
		return err
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusReadMem, Addr: a}))
}

func cmdWriteMem(cm *cmState, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return fmt.Errorf("usage: wmem <addr> <value>")
	}
	a, err := parseHexAddr(fields[0])
	if err != nil {
		return err
	}
	v, err := parseHexWord(fields[1])
	if err != nil {
		return err
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusWriteMem, Addr: a, Val: v}))
}

func cmdSymbol(cm *cmState, args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		return fmt.Errorf("usage: sym <name>")
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusGetSymbolsByName, Name: name}))
}

func cmdVar(cm *cmState, args string) error {
	name, rest := splitFirstWord(args)
	if name == "" {
		return fmt.Errorf("usage: var <name> [value]")
	}
	if rest == "" {
		return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusReadVariable, Name: name}))
	}
	w, err := parseHexWord(rest)
	if err != nil {
		return err
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusWriteVariable, Name: name, Variable: variable.Value{Kind: variable.KindInteger, Integer: int64(w)}}))
}

func cmdVars(cm *cmState, args string) error {
	return fmt.Errorf("vars: listing every in-scope variable needs a symbol name; use sym <function> then var <name>")
}

func cmdSet(cm *cmState, args string) error {
	sub, rest := splitFirstWord(args)
	if sub != "stepper" {
		return fmt.Errorf("usage: set stepper <n>")
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return fmt.Errorf("invalid stepper count %q: %w", rest, err)
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusSetStepper, N: n}))
}

func cmdPlugin(cm *cmState, args string) error {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return fmt.Errorf("usage: plugin <id> on|off")
	}
	enabled := fields[1] == "on"
	if !enabled && fields[1] != "off" {
		return fmt.Errorf("usage: plugin <id> on|off")
	}
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusPluginSetEnabled, ID: fields[0], Enabled: enabled}))
}

func cmdPlugins(cm *cmState, args string) error {
	return cm.report(cm.dbg.Handle(feedback.Status{Tag: feedback.StatusPluginList}))
}

func cmdQuit(cm *cmState, args string) error {
	cm.dbg.Handle(feedback.Status{Tag: feedback.StatusQuit})
	cm.quit = true
	return nil
}
