package engine_test

import (
	"context"
	"errors"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.modpipe.dev/modpipe/internal/compiler"
	"go.modpipe.dev/modpipe/internal/engine"
	"go.modpipe.dev/modpipe/internal/fetch"
	"go.modpipe.dev/modpipe/internal/graph"
	"go.modpipe.dev/modpipe/internal/httpcache"
	"go.modpipe.dev/modpipe/internal/registry"
	"go.modpipe.dev/modpipe/lib/fsext"
)

func newGraphBuilder(t *testing.T) (*graph.Builder, fsext.Fs) {
	t.Helper()
	fs := fsext.NewMemMapFs()

	depsDisk, err := httpcache.NewDefaultDisk(fs, "/cache")
	require.NoError(t, err)
	genDisk, err := compiler.NewDefaultDisk(fs, "/cache")
	require.NoError(t, err)

	f := fetch.New(fs, httpcache.New(depsDisk))
	c := compiler.New(genDisk, compiler.Config{Target: api.ES2020})
	return &graph.Builder{Fetcher: f, Compiler: c}, fs
}

func fileURL(path string) *url.URL {
	return &url.URL{Scheme: "file", Path: path}
}

func TestRunEntryEvaluatesScript(t *testing.T) {
	t.Parallel()
	eng := engine.New(registry.New(func(ctx context.Context, u *url.URL) (*registry.Handle, error) {
		return &registry.Handle{URL: u}, nil
	}))

	v, err := eng.RunEntry(context.Background(), fileURL("/src/entry.js"), "1 + 2")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.ToInteger())
}

func TestRunEntryPropagatesScriptError(t *testing.T) {
	t.Parallel()
	eng := engine.New(registry.New(func(ctx context.Context, u *url.URL) (*registry.Handle, error) {
		return &registry.Handle{URL: u}, nil
	}))

	_, err := eng.RunEntry(context.Background(), fileURL("/src/entry.js"), "throw new Error('boom')")
	require.Error(t, err)
}

func TestRunEntryDrainsRegisteredCallbackBeforeReturning(t *testing.T) {
	t.Parallel()
	eng := engine.New(registry.New(func(ctx context.Context, u *url.URL) (*registry.Handle, error) {
		return &registry.Handle{URL: u}, nil
	}))

	var resumed int32
	resumer := eng.Loop.RegisterCallback()
	go func() {
		time.Sleep(20 * time.Millisecond)
		resumer(func() error {
			atomic.AddInt32(&resumed, 1)
			return nil
		})
	}()

	_, err := eng.RunEntry(context.Background(), fileURL("/src/entry.js"), "'ok'")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&resumed))
}

func TestRunEntryLeavesCallbackForWaitOnRegisteredAfterError(t *testing.T) {
	t.Parallel()
	eng := engine.New(registry.New(func(ctx context.Context, u *url.URL) (*registry.Handle, error) {
		return &registry.Handle{URL: u}, nil
	}))

	var resumed int32
	resumer := eng.Loop.RegisterCallback()
	go func() {
		resumer(func() error {
			atomic.AddInt32(&resumed, 1)
			return errors.New("ignored by WaitOnRegistered")
		})
	}()

	_, err := eng.RunEntry(context.Background(), fileURL("/src/entry.js"), "throw new Error('boom')")
	require.Error(t, err)

	eng.Loop.WaitOnRegistered()
	assert.Equal(t, int32(1), atomic.LoadInt32(&resumed))
}

func TestRegisterGraphStampsEveryNode(t *testing.T) {
	t.Parallel()
	b, fs := newGraphBuilder(t)

	require.NoError(t, fsext.WriteFile(fs, "/src/entry.js", []byte(`import "./dep.js";`), 0o644))
	require.NoError(t, fsext.WriteFile(fs, "/src/dep.js", []byte(`export const dep = 1;`), 0o644))

	node, err := b.Build(context.Background(), fileURL("/src/entry.js"))
	require.NoError(t, err)

	eng := engine.New(b.Registry)
	eng.RegisterGraph(node, "engine-1")

	entryHandle, ok := b.Registry.Get(fileURL("/src/entry.js"))
	require.True(t, ok)
	assert.Equal(t, "engine-1", entryHandle.EngineID)

	depHandle, ok := b.Registry.Get(fileURL("/src/dep.js"))
	require.True(t, ok)
	assert.Equal(t, "engine-1", depHandle.EngineID)
}
