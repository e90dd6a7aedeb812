package procmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/dbus-daemon
00651000-00652000 r--p 00051000 08:02 173521      /usr/bin/dbus-daemon
00e03000-00e24000 rw-p 00000000 00:00 0           [heap]
7f1234560000-7f1234580000 rw-s 00000000 00:00 0
`

func TestParseOrderedAndFields(t *testing.T) {
	regions, err := Parse(sample)
	require.NoError(t, err)
	require.Len(t, regions, 4)

	first := regions[0]
	assert.EqualValues(t, 0x00400000, first.Start)
	assert.EqualValues(t, 0x00452000, first.End)
	assert.True(t, first.Read)
	assert.False(t, first.Write)
	assert.True(t, first.Execute)
	assert.Equal(t, "/usr/bin/dbus-daemon", first.Path)
	assert.False(t, first.Anonymous)

	heap := regions[2]
	assert.Equal(t, "[heap]", heap.Path)
	assert.False(t, heap.Anonymous) // "[heap]" is a synthetic tag, not a real path, but still printed

	anon := regions[3]
	assert.True(t, anon.Anonymous)
	assert.True(t, anon.Shared)
}

func TestParseMalformedLine(t *testing.T) {
	_, err := Parse("not a valid line\n")
	require.Error(t, err)
}

func TestLoadBiasMatchesExecPath(t *testing.T) {
	regions, err := Parse(sample)
	require.NoError(t, err)
	bias := LoadBias(regions, "/usr/bin/dbus-daemon")
	assert.EqualValues(t, 0x00400000, bias)
}

func TestContains(t *testing.T) {
	r := Region{Start: 0x1000, End: 0x2000}
	assert.True(t, r.Contains(0x1500))
	assert.False(t, r.Contains(0x2000))
	assert.False(t, r.Contains(0xfff))
}
