package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/TalpaLabs/coreminer/pkg/cmerr"
	"github.com/TalpaLabs/coreminer/pkg/feedback"
	"github.com/TalpaLabs/coreminer/pkg/logflags"
)

// starlark function names a plugin script may define. Follows the same
// shape as go-delve/delve's pkg/terminal/starbind, which evaluates a
// script once with starlark.ExecFile and then calls named globals it
// finds in the resulting StringDict -- used here for the two named hook
// points: pre_signal_handler(feedback, signal) -> status_string and
// on_sigtrap(feedback, signal) -> status_string.
const (
	preSignalHandlerFuncName = "pre_signal_handler"
	onSigTrapFuncName        = "on_sigtrap"
)

// statusStringOk is what a starlark hook function returns to mean "no
// opinion, proceed with default handling", matching feedback.FeedbackOk.
const statusStringOk = "ok"

// statusStringForwardSignal is what a starlark hook function returns to
// request that the raw signal be forwarded to the tracee rather than
// treated as a breakpoint stop.
const statusStringForwardSignal = "forward_signal"

// scriptPlugin wraps one loaded starlark script as a Plugin.
type scriptPlugin struct {
	path   string
	thread *starlark.Thread
	globals starlark.StringDict
}

// LoadDir loads every *.star file in dir as a plugin, registering it under
// r keyed by its file name without extension. Scripts that fail to parse
// or execute are skipped with a logged warning rather than aborting the
// whole load, since one broken user script should not prevent the rest
// (and the built-in sigtrapguard) from loading.
func LoadDir(r *Registry, dir string) error {
	log := logflags.PluginLogger()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cmerr.Wrap(cmerr.KindIO, "reading plugin directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".star") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		p, err := loadScript(path)
		if err != nil {
			log.WithFields(map[string]interface{}{"path": path}).Warnf("skipping plugin script: %v", err)
			continue
		}
		r.Register(p)
	}
	return nil
}

func loadScript(path string) (*Plugin, error) {
	thread := &starlark.Thread{Name: path}
	globals, err := starlark.ExecFile(thread, path, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", path, err)
	}

	id := strings.TrimSuffix(filepath.Base(path), ".star")
	sp := &scriptPlugin{path: path, thread: thread, globals: globals}

	plugin := New(id)
	if fn, ok := globals[preSignalHandlerFuncName]; ok {
		plugin.On(PreSignalHandler, sp.hookFor(fn))
	}
	if fn, ok := globals[onSigTrapFuncName]; ok {
		plugin.On(OnSigTrap, sp.hookFor(fn))
	}
	return plugin, nil
}

// hookFor adapts a starlark callable of the shape fn(feedback, signal) ->
// string into a Hook. Script hooks are called at most once per dispatch
// (needsDispatch is always false): unlike the built-in guard, a script has
// no way to express "give me more state and call me again", since the
// facade's Dispatch is not exposed to starlark. A script that needs richer
// session state should be reconsidered as a Go plugin.
func (sp *scriptPlugin) hookFor(fn starlark.Value) Hook {
	return HookFunc(func(view SessionView, signal string, fb feedback.Feedback) (feedback.Status, feedback.Feedback, bool, error) {
		callable, ok := fn.(starlark.Callable)
		if !ok {
			return feedback.Status{}, feedback.Ok(), false, fmt.Errorf("%s is not callable in %s", fn.String(), sp.path)
		}

		args := starlark.Tuple{starlark.String(string(fb.Tag)), starlark.String(signal)}
		result, err := starlark.Call(sp.thread, callable, args, nil)
		if err != nil {
			return feedback.Status{}, feedback.Ok(), false, fmt.Errorf("running %s: %w", sp.path, err)
		}

		str, ok := starlark.AsString(result)
		if !ok {
			return feedback.Status{}, feedback.Ok(), false, fmt.Errorf("%s did not return a string", sp.path)
		}

		switch str {
		case statusStringOk, "":
			return feedback.Status{}, feedback.Ok(), false, nil
		case statusStringForwardSignal:
			return feedback.Status{}, feedback.Feedback{Tag: feedback.FeedbackForwardSignal, Signal: signal}, false, nil
		default:
			return feedback.Status{}, feedback.Ok(), false, fmt.Errorf("%s returned unknown status %q", sp.path, str)
		}
	})
}
