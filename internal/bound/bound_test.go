package bound

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateField(t *testing.T) {
	assert.Equal(t, "short", TruncateField("short"))

	exact := strings.Repeat("a", MaxFieldBytes)
	assert.Equal(t, exact, TruncateField(exact))

	over := strings.Repeat("b", MaxFieldBytes+100)
	got := TruncateField(over)
	assert.Len(t, got, MaxFieldBytes+len(TruncationMarker))
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.Equal(t, over[:MaxFieldBytes], got[:MaxFieldBytes])
}

func TestReadAll_UnderCap(t *testing.T) {
	data, err := ReadAll(strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestReadAll_AtCap(t *testing.T) {
	in := strings.Repeat("x", MaxBodyBytes)
	data, err := ReadAll(strings.NewReader(in))
	require.NoError(t, err)
	assert.Len(t, data, MaxBodyBytes)
}

func TestReadAll_OverCap(t *testing.T) {
	in := strings.Repeat("x", MaxBodyBytes+1)
	_, err := ReadAll(strings.NewReader(in))
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
