package resolve_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.modpipe.dev/modpipe/internal/importmap"
	"go.modpipe.dev/modpipe/internal/resolve"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestResolveBlank(t *testing.T) {
	t.Parallel()
	_, err := resolve.Resolve(nil, "", nil)
	assert.ErrorIs(t, err, resolve.ErrBlank)
}

func TestResolveEntrypointRequiresScheme(t *testing.T) {
	t.Parallel()
	_, err := resolve.Resolve(nil, "example.com/html", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `couldn't be recognised as something this pipeline supports`)
}

func TestResolveProtocolNotSupported(t *testing.T) {
	t.Parallel()
	root := mustURL(t, "file:///")

	for _, specifier := range []string{"ws://example.com/html", "ftp://example.com/html"} {
		specifier := specifier
		t.Run(specifier, func(t *testing.T) {
			t.Parallel()
			_, err := resolve.Resolve(root, specifier, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "only supported schemes for imports are file, http, and https")
		})
	}
}

func TestResolveHTTPSupported(t *testing.T) {
	t.Parallel()
	root := mustURL(t, "file:///")
	resolved, err := resolve.Resolve(root, "http://localhost:8000/std/http/file_server.ts", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/std/http/file_server.ts", resolved.String())
}

func TestResolveHTTPSDowngradeToHTTPDenied(t *testing.T) {
	t.Parallel()
	pwd := mustURL(t, "https://example.com/")
	_, err := resolve.Resolve(pwd, "http://example.com/html", nil)
	require.Error(t, err)
	var secErr *resolve.SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestResolveRemoteLiftingDenied(t *testing.T) {
	t.Parallel()
	pwd := mustURL(t, "https://example.com/")
	_, err := resolve.Resolve(pwd, "file:///etc/shadow", nil)
	require.Error(t, err)
	var secErr *resolve.SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Equal(t, "origin (https://example.com/) not allowed to load local file: file:///etc/shadow", err.Error())
}

func TestResolveRemoteLiftingAllowedViaImportMap(t *testing.T) {
	t.Parallel()
	pwd := mustURL(t, "https://example.com/")
	im := importmap.New(map[string]string{"./local": "file:///etc/shadow"})
	resolved, err := resolve.Resolve(pwd, "./local", im)
	require.NoError(t, err)
	assert.Equal(t, "file:///etc/shadow", resolved.String())
}

func TestResolveFixesMissingSlashInPwd(t *testing.T) {
	t.Parallel()
	pwd := mustURL(t, "https://example.com/path/to")
	pwdCopy := *pwd

	resolved, err := resolve.Resolve(pwd, "./something", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path/to/something", resolved.String())

	// pwd itself must be left untouched by the resolution.
	assert.Equal(t, pwdCopy, *pwd)
}

func TestResolveAbsoluteSpecifierIgnoresPwd(t *testing.T) {
	t.Parallel()
	pwd := mustURL(t, "file:///path/")
	resolved, err := resolve.Resolve(pwd, "/path/to/file.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "file:///path/to/file.txt", resolved.String())
}

func TestResolveRelativeNoReferrer(t *testing.T) {
	t.Parallel()
	_, err := resolve.Resolve(nil, "./something", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `couldn't be recognised as something this pipeline supports`)
}

func TestResolveImportMapAppliesBeforeRelative(t *testing.T) {
	t.Parallel()
	pwd := mustURL(t, "https://example.com/src/")
	im := importmap.New(map[string]string{
		"lodash":  "https://cdn.example.com/lodash.js",
		"utils/":  "https://cdn.example.com/utils/",
	})

	resolved, err := resolve.Resolve(pwd, "lodash", im)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/lodash.js", resolved.String())

	resolved, err = resolve.Resolve(pwd, "utils/math.js", im)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/utils/math.js", resolved.String())
}

func TestDir(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   *url.URL
		want string
	}{
		{"stdin placeholder", &url.URL{Scheme: "file", Path: "-"}, "/"},
		{"regular file", &url.URL{Scheme: "file", Path: "/path/to/file.txt"}, "/path/to/"},
		{"already a directory", &url.URL{Scheme: "file", Path: "/path/to/"}, "/path/to/"},
		{"root file", &url.URL{Scheme: "file", Path: "/file.txt"}, "/"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := resolve.Dir(tc.in)
			assert.Equal(t, tc.want, got.Path)
		})
	}
}
