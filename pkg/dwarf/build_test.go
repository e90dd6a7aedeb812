package dwarf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TalpaLabs/coreminer/internal/fixtures"
	"github.com/TalpaLabs/coreminer/pkg/addr"
)

func TestBuildCachesParsedTreeForSamePathAndBias(t *testing.T) {
	bin, err := fixtures.Build("simple")
	if err != nil {
		t.Skipf("skipping, could not build fixture: %v", err)
	}

	first, err := Build(bin, addr.Null)
	require.NoError(t, err)

	second, err := Build(bin, addr.Null)
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestBuildTreatsDifferentBiasAsSeparateCacheEntries(t *testing.T) {
	bin, err := fixtures.Build("simple")
	if err != nil {
		t.Skipf("skipping, could not build fixture: %v", err)
	}

	first, err := Build(bin, addr.Null)
	require.NoError(t, err)

	second, err := Build(bin, addr.FromUint64(0x1000))
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}
