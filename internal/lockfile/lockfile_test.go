package lockfile_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.modpipe.dev/modpipe/internal/lockfile"
	"go.modpipe.dev/modpipe/lib/fsext"
)

func TestWriteModeAccumulatesAndSaves(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	l, err := lockfile.Load(fs, "/lock.json", lockfile.Write)
	require.NoError(t, err)

	require.NoError(t, l.Verify("https://example.com/a.ts", []byte("a")))
	require.NoError(t, l.Verify("https://example.com/b.ts", []byte("b")))
	require.NoError(t, l.Save(fs, "/lock.json"))

	entries := l.Entries()
	assert.Equal(t, lockfile.Hash([]byte("a")), entries["https://example.com/a.ts"])

	raw, err := fsext.ReadFile(fs, "/lock.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "https://example.com/a.ts")
}

func TestCheckModeDetectsMismatch(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	writer, err := lockfile.Load(fs, "/lock.json", lockfile.Write)
	require.NoError(t, err)
	require.NoError(t, writer.Verify("https://example.com/a.ts", []byte("original")))
	require.NoError(t, writer.Save(fs, "/lock.json"))

	checker, err := lockfile.Load(fs, "/lock.json", lockfile.Check)
	require.NoError(t, err)

	require.NoError(t, checker.Verify("https://example.com/a.ts", []byte("original")))

	err = checker.Verify("https://example.com/a.ts", []byte("tampered"))
	require.Error(t, err)
	var mismatch *lockfile.MismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestCheckModeIgnoresUnknownURL(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	checker, err := lockfile.Load(fs, "/missing.json", lockfile.Check)
	require.NoError(t, err)

	require.NoError(t, checker.Verify("https://example.com/new.ts", []byte("anything")))
}
