package cmd_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	rootcmd "go.modpipe.dev/modpipe/cmd"
	internalcmd "go.modpipe.dev/modpipe/internal/cmd"
	"go.modpipe.dev/modpipe/lib/fsext"
)

// TestMain fails the run if any subcommand leaks a goroutine past its
// RunE returning — the watcher's fsnotify loop and the engine's Loop are
// the two places a missed shutdown would show up.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestGlobalState(t *testing.T, args ...string) (*internalcmd.GlobalState, *bytes.Buffer) {
	t.Helper()
	fs := fsext.NewMemMapFs()
	var out bytes.Buffer
	gs := &internalcmd.GlobalState{
		Ctx:     context.Background(),
		FS:      fs,
		Getwd:   func() (string, error) { return "/", nil },
		CmdArgs: append([]string{"modpipe"}, args...),
		Env:     map[string]string{},
		Stdout:  &out,
		Stderr:  &out,
	}
	gs.Logger = &logrus.Logger{Out: io.Discard, Formatter: new(logrus.TextFormatter), Hooks: make(logrus.LevelHooks), Level: logrus.InfoLevel}
	return gs, &out
}

func TestRunCommandBuildsEntryAndPrintsSummary(t *testing.T) {
	t.Parallel()
	gs, out := newTestGlobalState(t, "run", "--cache-root", "/cache", "/src/entry.js")
	require.NoError(t, fsext.WriteFile(gs.FS, "/src/entry.js", []byte(`import "./dep.js";`), 0o644))
	require.NoError(t, fsext.WriteFile(gs.FS, "/src/dep.js", []byte(`export const dep = 1;`), 0o644))

	root := rootcmd.NewRootCommand(gs)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "built file:///src/entry.js")
	assert.Contains(t, out.String(), "1 direct dependencies")
}

func TestCacheInfoReportsEmptyCache(t *testing.T) {
	t.Parallel()
	gs, out := newTestGlobalState(t, "cache", "info", "--cache-root", "/cache")

	root := rootcmd.NewRootCommand(gs)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "cache root: /cache")
}

func TestCacheCleanRemovesCacheDir(t *testing.T) {
	t.Parallel()
	gs, out := newTestGlobalState(t, "cache", "clean", "--cache-root", "/cache")
	require.NoError(t, fsext.WriteFile(gs.FS, "/cache/deps/stale.bin", []byte("x"), 0o644))

	root := rootcmd.NewRootCommand(gs)
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "removed /cache")

	ok, err := fsext.Exists(gs.FS, "/cache/deps/stale.bin")
	require.NoError(t, err)
	assert.False(t, ok)
}
