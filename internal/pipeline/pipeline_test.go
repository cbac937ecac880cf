package pipeline_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.modpipe.dev/modpipe/errext"
	"go.modpipe.dev/modpipe/errext/exitcodes"
	"go.modpipe.dev/modpipe/internal/fetch"
	"go.modpipe.dev/modpipe/internal/lockfile"
	"go.modpipe.dev/modpipe/internal/pipeline"
	"go.modpipe.dev/modpipe/lib/fsext"
)

type denyAllPermissions struct{}

func (denyAllPermissions) AllowNet(string) bool  { return false }
func (denyAllPermissions) AllowRead(string) bool { return false }

func fileURL(path string) *url.URL {
	return &url.URL{Scheme: "file", Path: path}
}

func TestNewRejectsWriteLockModeWithoutLockFile(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()

	_, err := pipeline.New(fs, pipeline.Config{
		CacheRoot: "/cache",
		LockMode:  lockfile.Write,
	})
	require.Error(t, err)

	var withCode errext.HasExitCode
	require.ErrorAs(t, err, &withCode)
	assert.Equal(t, exitcodes.InvalidConfig, withCode.ExitCode())
}

func TestBuildWalksGraphAndPopulatesRegistry(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	require.NoError(t, fsext.WriteFile(fs, "/src/entry.js", []byte(`import "./dep.js";
export const main = 1;
`), 0o644))
	require.NoError(t, fsext.WriteFile(fs, "/src/dep.js", []byte(`export const dep = 2;`), 0o644))

	p, err := pipeline.New(fs, pipeline.Config{CacheRoot: "/cache"})
	require.NoError(t, err)

	node, err := p.Build(context.Background(), fileURL("/src/entry.js"))
	require.NoError(t, err)
	require.Len(t, node.Deps, 1)
	assert.Contains(t, node.Deps[0].Handle.URL.Path, "dep.js")

	_, ok := p.Registry().Get(fileURL("/src/entry.js"))
	assert.True(t, ok)
}

func TestBuildInCheckModeFailsOnLockfileMismatch(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	require.NoError(t, fsext.WriteFile(fs, "/src/entry.js", []byte(`export const main = 1;`), 0o644))
	require.NoError(t, fsext.WriteFile(fs, "/lock.json", []byte(`{"file:///src/entry.js":"0000000000000000000000000000000000000000000000000000000000000000"}`), 0o644))

	p, err := pipeline.New(fs, pipeline.Config{
		CacheRoot: "/cache",
		LockFile:  "/lock.json",
		LockMode:  lockfile.Check,
	})
	require.NoError(t, err)

	_, err = p.Build(context.Background(), fileURL("/src/entry.js"))
	require.Error(t, err)

	var withCode errext.HasExitCode
	require.ErrorAs(t, err, &withCode)
	assert.Equal(t, exitcodes.LockfileMismatch, withCode.ExitCode())

	var mismatch *lockfile.MismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestBuildFailsWithFetchFailedOnPermissionDenied(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	require.NoError(t, fsext.WriteFile(fs, "/src/entry.js", []byte(`export const main = 1;`), 0o644))

	p, err := pipeline.New(fs, pipeline.Config{
		CacheRoot:   "/cache",
		Permissions: denyAllPermissions{},
	})
	require.NoError(t, err)

	_, err = p.Build(context.Background(), fileURL("/src/entry.js"))
	require.Error(t, err)

	var withCode errext.HasExitCode
	require.ErrorAs(t, err, &withCode)
	assert.Equal(t, exitcodes.FetchFailed, withCode.ExitCode())

	var permDenied *fetch.PermissionDeniedError
	require.ErrorAs(t, err, &permDenied)
}

func TestBuildFailsWithCompileFailedOnSyntaxError(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	require.NoError(t, fsext.WriteFile(fs, "/src/entry.ts", []byte(`const x: = ;`), 0o644))

	p, err := pipeline.New(fs, pipeline.Config{CacheRoot: "/cache"})
	require.NoError(t, err)

	_, err = p.Build(context.Background(), fileURL("/src/entry.ts"))
	require.Error(t, err)

	var withCode errext.HasExitCode
	require.ErrorAs(t, err, &withCode)
	assert.Equal(t, exitcodes.CompileFailed, withCode.ExitCode())
}

func TestBuildInWriteModeSavesLockfileOnSuccess(t *testing.T) {
	t.Parallel()
	fs := fsext.NewMemMapFs()
	require.NoError(t, fsext.WriteFile(fs, "/src/entry.js", []byte(`export const main = 1;`), 0o644))

	p, err := pipeline.New(fs, pipeline.Config{
		CacheRoot: "/cache",
		LockFile:  "/lock.json",
		LockMode:  lockfile.Write,
	})
	require.NoError(t, err)

	_, err = p.Build(context.Background(), fileURL("/src/entry.js"))
	require.NoError(t, err)

	ok, err := fsext.Exists(fs, "/lock.json")
	require.NoError(t, err)
	assert.True(t, ok)

	entries := p.Lockfile.Entries()
	assert.Contains(t, entries, "file:///src/entry.js")
}
