package addr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndSubRoundTrip(t *testing.T) {
	a := Address(0x1000)
	for _, n := range []int64{0, 1, -1, 0x7fff, -0x7fff} {
		got := a.Add(n).Sub(n)
		assert.Equal(t, a, got, "add/sub round-trip for n=%d", n)
	}
}

func TestAddressStringFormat(t *testing.T) {
	a := Address(0x1234)
	assert.Equal(t, "0x0000000000001234", a.String())
}

func TestAddressParseRoundTrip(t *testing.T) {
	for _, s := range []string{"0x1234", "1234", "0X1234"} {
		a, err := ParseAddress(s)
		require.NoError(t, err)
		assert.Equal(t, Address(0x1234), a)
	}
}

func TestAddressJSONRoundTrip(t *testing.T) {
	a := Address(0xdeadbeef)
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `"0x00000000deadbeef"`, string(data))

	var back Address
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)
}

func TestWordBytesRoundTrip(t *testing.T) {
	w := Word(0x0102030405060708)
	b := w.Bytes()
	assert.Equal(t, w, WordFromBytes(b[:]))
}

func TestIsNull(t *testing.T) {
	assert.True(t, Null.IsNull())
	assert.False(t, Address(1).IsNull())
}
