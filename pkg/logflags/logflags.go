// Package logflags configures one logrus logger per subsystem, the same
// shape go-delve/delve's pkg/logflags/logflags.go uses: a package-level
// enabled flag per subsystem, a shared Setup(logFlag, logstr) entry point
// parsing a comma-separated --log-output value, and a *logrus.Entry
// constructor per subsystem that logs at PanicLevel (effectively silent)
// until enabled.
package logflags

import (
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	session    = false
	breakpoint = false
	dwarf      = false
	unwind     = false
	plugin     = false
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Session returns true if the debuggee session subsystem should log.
func Session() bool { return session }

// SessionLogger returns a logger for the debuggee session subsystem.
func SessionLogger() *logrus.Entry { return makeLogger(session, logrus.Fields{"layer": "session"}) }

// Breakpoint returns true if the breakpoint subsystem should log.
func Breakpoint() bool { return breakpoint }

// BreakpointLogger returns a logger for the breakpoint subsystem.
func BreakpointLogger() *logrus.Entry {
	return makeLogger(breakpoint, logrus.Fields{"layer": "breakpoint"})
}

// Dwarf returns true if the DWARF parsing subsystem should log.
func Dwarf() bool { return dwarf }

// DwarfLogger returns a logger for the DWARF parsing subsystem.
func DwarfLogger() *logrus.Entry { return makeLogger(dwarf, logrus.Fields{"layer": "dwarf"}) }

// Unwind returns true if the stack unwinder subsystem should log.
func Unwind() bool { return unwind }

// UnwindLogger returns a logger for the stack unwinder subsystem.
func UnwindLogger() *logrus.Entry { return makeLogger(unwind, logrus.Fields{"layer": "unwind"}) }

// Plugin returns true if the plugin hook subsystem should log.
func Plugin() bool { return plugin }

// PluginLogger returns a logger for the plugin hook subsystem.
func PluginLogger() *logrus.Entry { return makeLogger(plugin, logrus.Fields{"layer": "plugin"}) }

// Setup enables the subsystems named in logstr (comma-separated: session,
// breakpoint, dwarf, unwind, plugin) if logFlag is set, mirroring
// go-delve/delve's --log/--log-output flag pair. Called once from cmd/cm
// and cmd/cmserve's flag parsing.
func Setup(logFlag bool, logstr string) {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(os.Stderr)
		return
	}
	if logstr == "" {
		logstr = "session"
	}
	for _, name := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(name) {
		case "session":
			session = true
		case "breakpoint":
			breakpoint = true
		case "dwarf":
			dwarf = true
		case "unwind":
			unwind = true
		case "plugin":
			plugin = true
		}
	}
}
