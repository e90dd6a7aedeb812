// Command cmserve is coreminer's JSON line-protocol front-end: it reads
// one Status object per line from stdin and writes the matching Feedback
// object, one per line, to stdout, dispatching every request through a
// single *debugger.Debugger. Kept intentionally thin.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/config"
	"github.com/TalpaLabs/coreminer/pkg/debugger"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/logflags"
)

var (
	logFlag   bool
	logOutput string
	pluginDir string
)

func main() {
	root := &cobra.Command{
		Use:   "cmserve",
		Short: "coreminer JSON line-protocol server",
		Long:  "cmserve reads Status objects from stdin and writes Feedback objects to stdout, one per line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(os.Stdin, os.Stdout)
		},
	}
	root.Flags().BoolVar(&logFlag, "log", false, "enable subsystem logging")
	root.Flags().StringVar(&logOutput, "log-output", "", "comma separated list of subsystems to log")
	root.Flags().StringVar(&pluginDir, "plugin-dir", "", "override the configured starlark plugin directory")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve is the request/response loop proper, separated from main so it
// can be exercised against in-memory readers and writers in tests.
func serve(r io.Reader, w io.Writer) error {
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

	enc := json.NewEncoder(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var status feedback.Status
		if err := json.Unmarshal(line, &status); err != nil {
			fb := feedback.FromError(cmerr.Wrap(cmerr.KindJSON, "decoding status line", err))
			if err := enc.Encode(fb); err != nil {
				return err
			}
			continue
		}

		fb := dbg.Handle(status)
		if err := enc.Encode(fb); err != nil {
			return err
		}
		if status.Tag == feedback.StatusQuit {
			return nil
		}
	}
	return scanner.Err()
}
