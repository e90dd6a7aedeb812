package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestDefaultConfigRoundTripsThroughYAML(t *testing.T) {
	c := defaultConfig()
	c.Aliases["cont"] = []string{"c", "continue"}
	c.PluginsEnabled["sigtrap_guard"] = false

	out, err := yaml.Marshal(*c)
	require.NoError(t, err)

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))

	assert.Equal(t, c.Aliases, back.Aliases)
	assert.Equal(t, c.StepperDefault, back.StepperDefault)
	assert.Equal(t, c.PluginsEnabled, back.PluginsEnabled)
}

func TestFilePathJoinsConfigDirAndName(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	p, err := FilePath("config.yml")
	require.NoError(t, err)
	assert.Contains(t, p, configDirName)
	assert.Contains(t, p, "config.yml")
}

func TestLoadConfigWritesDefaultFileOnFirstRun(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	c := LoadConfig()
	require.NotNil(t, c)
	assert.Equal(t, 1, c.StepperDefault)

	fullPath, err := FilePath(configFileName)
	require.NoError(t, err)
	_, err = os.Stat(fullPath)
	assert.NoError(t, err)
}

func TestSaveConfigThenLoadConfigRoundTrips(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	c := defaultConfig()
	c.StepperDefault = 7
	c.PluginDir = "/tmp/plugins"
	require.NoError(t, SaveConfig(c))

	loaded := LoadConfig()
	assert.Equal(t, 7, loaded.StepperDefault)
	assert.Equal(t, "/tmp/plugins", loaded.PluginDir)
}
