// Package config loads and saves coreminer's user configuration file,
// following the same shape as go-delve/delve's pkg/config/config.go: a
// YAML file under a per-user config directory, read with a set of
// documented, commented-out defaults written on first run. Of its fields,
// only the plugin directory can also be overridden by a CLI flag
// (--plugin-dir).
package config

import (
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDirName  = ".coreminer"
	configFileName = "config.yml"
)

// Config defines every option that persists across coreminer runs unless
// overridden by a CLI flag: command aliases, a breakpoint/source color
// scheme, the default stepper count, and per-plugin enabled defaults.
type Config struct {
	// Aliases maps a canonical command name to the extra spellings the CLI
	// front-end should accept for it, in addition to its built-in ones.
	Aliases map[string][]string `yaml:"aliases"`

	// BreakpointLineColor is the ANSI foreground color code (3/4-bit,
	// analogous to go-delve/delve's SourceListLineColor) used by cmd/cm
	// to highlight a disassembly or source line carrying a breakpoint.
	BreakpointLineColor int `yaml:"breakpoint-line-color"`

	// StepperDefault is the default step count SetStepper is seeded with
	// at startup, so a client can send SetStepper{n} once and Step
	// thereafter without repeating n.
	StepperDefault int `yaml:"stepper-default"`

	// PluginDir is the directory cmd/cm and cmd/cmserve load starlark
	// plugin scripts from.
	PluginDir string `yaml:"plugin-dir"`

	// PluginsEnabled maps a plugin id to whether it should start enabled;
	// a plugin absent from this map keeps its own default (the built-in
	// sigtrapguard defaults to enabled).
	PluginsEnabled map[string]bool `yaml:"plugins-enabled"`
}

// defaultConfig is what a fresh config file is populated with, and what
// LoadConfig falls back to on any read/parse failure.
func defaultConfig() *Config {
	return &Config{
		Aliases:             map[string][]string{},
		BreakpointLineColor: 31,
		StepperDefault:      1,
		PluginsEnabled:      map[string]bool{},
	}
}

// LoadConfig reads $HOME/.coreminer/config.yml, creating it (with commented
// defaults) if it doesn't exist yet. Any failure along the way is logged to
// stderr and a default Config is returned rather than aborting startup: a
// bad config file should never prevent the debugger from starting.
func LoadConfig() *Config {
	if err := createConfigDir(); err != nil {
		fmt.Fprintf(os.Stderr, "could not create config directory: %v\n", err)
		return defaultConfig()
	}

	fullPath, err := FilePath(configFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not resolve config file path: %v\n", err)
		return defaultConfig()
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if err := writeDefaultConfigFile(fullPath); err != nil {
			fmt.Fprintf(os.Stderr, "could not write default config file: %v\n", err)
		}
		return defaultConfig()
	}

	c := defaultConfig()
	if err := yaml.Unmarshal(data, c); err != nil {
		fmt.Fprintf(os.Stderr, "could not parse config file %s: %v\n", fullPath, err)
		return defaultConfig()
	}
	return c
}

// SaveConfig marshals c as YAML and writes it to $HOME/.coreminer/config.yml.
func SaveConfig(c *Config) error {
	if err := createConfigDir(); err != nil {
		return err
	}
	fullPath, err := FilePath(configFileName)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(*c)
	if err != nil {
		return err
	}
	return os.WriteFile(fullPath, out, 0o600)
}

// FilePath resolves name relative to the user's config directory.
func FilePath(name string) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return path.Join(dir, name), nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return path.Join(home, configDirName), nil
}

func createConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

func writeDefaultConfigFile(fullPath string) error {
	const contents = `# Configuration file for coreminer.
#
# Available options are provided below, commented out. Remove the leading
# hash mark to enable an item.

# Extra command aliases, added to each command's built-in ones.
aliases:
  # cont: ["c"]

# ANSI foreground color code used to highlight a breakpointed line.
# breakpoint-line-color: 31

# Number of single-steps a bare "step" command performs.
# stepper-default: 1

# Directory scanned for starlark plugin scripts (*.star).
# plugin-dir: ""

# Per-plugin enabled/disabled overrides.
plugins-enabled:
  # sigtrap_guard: true
`
	return os.WriteFile(fullPath, []byte(contents), 0o600)
}
