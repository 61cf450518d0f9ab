package ibpi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCaseInsensitive(t *testing.T) {
	for _, in := range []string{"locate", "LOCATE", "Locate", " locate "} {
		s, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, Locate, s)
	}
}

func TestParseAliases(t *testing.T) {
	cases := map[string]State{
		"off":         Off,
		"normal":      Normal,
		"locate_off":  Normal,
		"disk_failed": Failure,
		"failure":     Failure,
		"rebuild":     Rebuild,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("blink")
	assert.ErrorIs(t, err, ErrUnknownState)
	assert.Contains(t, err.Error(), "blink")
}

func TestStringCanonical(t *testing.T) {
	assert.Equal(t, "FAILURE", Failure.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
	for _, s := range BaseStates {
		assert.True(t, s.IsBase())
		parsed, err := Parse(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	assert.False(t, Unknown.IsBase())
}

func TestEquivalent(t *testing.T) {
	assert.True(t, Equivalent(Locate, Locate))
	assert.True(t, Equivalent(Off, Normal))
	assert.False(t, Equivalent(Normal, Off))
	assert.False(t, Equivalent(Rebuild, Normal))
}
