package pathsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "", true},
		{"relative", "foo/bar", "", true},
		{"dot relative", "./foo", "", true},
		{"absolute", "/tmp/foo", "/tmp/foo", false},
		{"absolute with dots", "/tmp/a/../b/./c", "/tmp/b/c", false},
		{"trailing slash", "/tmp/foo/", "/tmp/foo", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, p := range []string{"/tmp/foo", "/tmp/a/../b", "/x/y/z/"} {
		once, err := Normalize(p)
		require.NoError(t, err)
		twice, err := Normalize(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestWithin_Boundary(t *testing.T) {
	base := t.TempDir()

	inside := filepath.Join(base, "plans", "a.md")
	assert.True(t, Within(inside, base))
	assert.True(t, Within(base, base))

	// Sibling directory sharing the base name as a string prefix.
	sibling := base + "-other"
	require.NoError(t, os.MkdirAll(sibling, 0o755))
	assert.False(t, Within(filepath.Join(sibling, "x"), base))

	assert.False(t, Within("/etc/passwd", base))
	assert.False(t, Within("relative/path", base))
	assert.False(t, Within("", base))
}

func TestWithin_NonexistentTail(t *testing.T) {
	base := t.TempDir()
	// Deep path that does not exist yet still counts as inside.
	assert.True(t, Within(filepath.Join(base, "a", "b", "c.md"), base))
	// And outside stays outside.
	assert.False(t, Within(filepath.Join(base, "..", "escape"), base))
}

func TestWithin_SymlinkEscape(t *testing.T) {
	base := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(outside, link))

	// A path through the symlink resolves outside the base.
	assert.False(t, Within(filepath.Join(link, "x"), base))
	assert.False(t, Within(link, base))
}

func TestWithin_SymlinkInsideStaysInside(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "real")
	require.NoError(t, os.MkdirAll(target, 0o755))

	link := filepath.Join(base, "alias")
	require.NoError(t, os.Symlink(target, link))

	assert.True(t, Within(filepath.Join(link, "f.md"), base))
}

func TestWithinAny(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()

	assert.True(t, WithinAny(filepath.Join(b, "f"), a, b))
	assert.False(t, WithinAny("/nowhere/f", a, b))
	assert.False(t, WithinAny(filepath.Join(b, "f")))
}
