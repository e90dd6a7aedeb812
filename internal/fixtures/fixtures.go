// Package fixtures compiles the C sources under _fixtures/ into small,
// debug-info-carrying binaries for pkg/debuggee's (and later pkg/debugger's)
// integration tests. It follows the same "find _fixtures by walking up,
// compile once per process, cache by name" shape go-delve/delve's
// pkg/proc/test.BuildFixture uses, but invokes `cc` with `-g -O0` instead
// of `go build -gcflags=-N -l`, since coreminer's test subjects are C
// programs rather than Go ones.
package fixtures

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

var (
	mu    sync.Mutex
	built = make(map[string]string)
)

// FindDir walks up from the working directory looking for a "_fixtures"
// directory.
func FindDir() string {
	dir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(dir); err == nil {
			abs, err := filepath.Abs(dir)
			if err == nil {
				return abs
			}
			return dir
		}
		dir = filepath.Join("..", dir)
	}
	return "_fixtures"
}

// Build compiles _fixtures/<name>.c with cc -g -O0 -o <tmp>, caching the
// result for the lifetime of the process so repeated calls for the same
// fixture in different test functions don't recompile it. Returns the
// absolute path to the resulting executable.
func Build(name string) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if path, ok := built[name]; ok {
		return path, nil
	}

	src := filepath.Join(FindDir(), name+".c")
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("fixture source %s: %w", src, err)
	}

	cc, err := exec.LookPath("cc")
	if err != nil {
		return "", fmt.Errorf("no C compiler available to build fixtures: %w", err)
	}

	r := make([]byte, 4)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}
	out := filepath.Join(os.TempDir(), fmt.Sprintf("coreminer-fixture-%s-%s", name, hex.EncodeToString(r)))

	cmd := exec.Command(cc, "-g", "-O0", "-no-pie", "-o", out, src)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("compiling fixture %s: %w: %s", name, err, output)
	}

	built[name] = out
	return out, nil
}
