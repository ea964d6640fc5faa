package shortid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New("test salt")

	for _, nb := range []int64{0, 1, 7, 42, 1000, 99999, 1 << 40} {
		s := c.Encode(nb, 5)
		assert.GreaterOrEqual(t, len(s), 5)

		back, err := c.Decode(s)
		require.NoError(t, err)
		assert.Equal(t, nb, back, "round trip for %d via %q", nb, s)
	}
}

func TestEncodeStable(t *testing.T) {
	a := New("some salt")
	b := New("some salt")
	assert.Equal(t, a.Encode(1234, 5), b.Encode(1234, 5))
}

func TestEncodeSaltChangesOutput(t *testing.T) {
	a := New("salt one")
	b := New("salt two")
	assert.NotEqual(t, a.Encode(1234, 5), b.Encode(1234, 5))
}

func TestDecodeInvalidCharacter(t *testing.T) {
	c := New("test salt")

	// '1' and 'l' are not part of the alphabet
	_, err := c.Decode("ab1cd")
	assert.Error(t, err)
	_, err = c.Decode("ablcd")
	assert.Error(t, err)
}

func TestMultiCodecSequencesDiffer(t *testing.T) {
	m := NewMulti("deployment salt", 5)

	run := m.Encode("run", 77)
	upload := m.Encode("upload", 77)
	assert.NotEqual(t, run, upload)

	id, err := m.Decode("run", run)
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)

	id, err = m.Decode("upload", upload)
	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
}

func TestMultiCodecEmpty(t *testing.T) {
	m := NewMulti("deployment salt", 5)
	_, err := m.Decode("run", "")
	assert.Error(t, err)
}
