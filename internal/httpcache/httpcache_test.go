package httpcache_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.modpipe.dev/modpipe/internal/cache"
	"go.modpipe.dev/modpipe/internal/httpcache"
	"go.modpipe.dev/modpipe/lib/fsext"
)

func newCache(t *testing.T) *httpcache.Cache {
	t.Helper()
	fs := fsext.NewMemMapFs()
	disk, err := cache.New(fs, "/cache/deps")
	require.NoError(t, err)
	return httpcache.New(disk)
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestLookupMiss(t *testing.T) {
	t.Parallel()
	c := newCache(t)
	_, ok, err := c.Lookup(mustURL(t, "https://example.com/mod.ts"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutFinalAndLookup(t *testing.T) {
	t.Parallel()
	c := newCache(t)
	u := mustURL(t, "https://example.com/mod.ts")

	require.NoError(t, c.PutFinal(u, []byte("export const x = 1;"), "application/typescript", map[string]string{"etag": "abc"}))

	entry, ok, err := c.Lookup(u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("export const x = 1;"), entry.Body)
	assert.Equal(t, "application/typescript", entry.Meta.MimeType)
	assert.Equal(t, "abc", entry.Meta.Headers["etag"])
	assert.Equal(t, u.String(), entry.FinalURL.String())
	assert.Empty(t, entry.Hops)
}

func TestLookupFollowsRedirectChain(t *testing.T) {
	t.Parallel()
	c := newCache(t)
	start := mustURL(t, "https://example.com/old.ts")
	middle := mustURL(t, "https://example.com/newer.ts")
	final := mustURL(t, "https://cdn.example.com/final.ts")

	require.NoError(t, c.PutRedirect(start, middle))
	require.NoError(t, c.PutRedirect(middle, final))
	require.NoError(t, c.PutFinal(final, []byte("body"), "application/typescript", nil))

	entry, ok, err := c.Lookup(start)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, final.String(), entry.FinalURL.String())
	assert.Equal(t, []byte("body"), entry.Body)
	require.Len(t, entry.Hops, 2)
	assert.Equal(t, start.String(), entry.Hops[0].String())
	assert.Equal(t, middle.String(), entry.Hops[1].String())
}

func TestLookupDetectsRedirectLoop(t *testing.T) {
	t.Parallel()
	c := newCache(t)
	a := mustURL(t, "https://example.com/a.ts")
	b := mustURL(t, "https://example.com/b.ts")

	require.NoError(t, c.PutRedirect(a, b))
	require.NoError(t, c.PutRedirect(b, a))

	_, _, err := c.Lookup(a)
	require.Error(t, err)
	var loopErr *httpcache.RedirectLoopError
	require.ErrorAs(t, err, &loopErr)
}

func TestPolicyShouldFetch(t *testing.T) {
	t.Parallel()

	use := httpcache.Policy{Mode: httpcache.Use}
	assert.False(t, use.ShouldFetch("https://example.com/a.ts"))

	reloadAll := httpcache.Policy{Mode: httpcache.ReloadAll}
	assert.True(t, reloadAll.ShouldFetch("https://example.com/a.ts"))

	selective := httpcache.Policy{
		Mode:   httpcache.ReloadSelective,
		Reload: map[string]bool{"https://example.com/a.ts": true},
	}
	assert.True(t, selective.ShouldFetch("https://example.com/a.ts"))
	assert.False(t, selective.ShouldFetch("https://example.com/b.ts"))
}
