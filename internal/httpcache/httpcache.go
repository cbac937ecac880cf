// Package httpcache implements C3: the per-URL cache of remote module
// bodies and their metadata, layered on top of C2's deterministic
// filename mapping. It owns the reload policy (spec.md §4.3) and
// redirect-chain bookkeeping — the actual network fetch belongs to C4.
package httpcache

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"go.modpipe.dev/modpipe/internal/cache"
	"go.modpipe.dev/modpipe/lib/fsext"
)

// Metadata is the on-disk shape of a cache entry's companion
// "<name>.metadata.json" file (spec.md §6).
type Metadata struct {
	// URL is the entry's own final URL. For an intermediate redirect hop
	// this is the *next* hop, not the terminal one — Lookup follows the
	// chain by re-reading Metadata.URL until it lands on an entry that
	// also has a body.
	URL      string            `json:"url"`
	MimeType string            `json:"mime_type,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Mode selects the reload policy applied by Lookup (spec.md §4.3).
type Mode int

const (
	// Use serves a cache hit as-is; only a miss triggers a fetch.
	Use Mode = iota
	// ReloadAll always treats every URL as a miss.
	ReloadAll
	// ReloadSelective treats only the configured set of specifiers as a
	// miss, behaving as Use for everything else.
	ReloadSelective
)

// Policy bundles a Mode with the specifier set ReloadSelective applies
// to (ignored by the other two modes).
type Policy struct {
	Mode    Mode
	Reload  map[string]bool
}

// ShouldFetch reports whether specifier must be (re)fetched rather than
// served from cache, given p.
func (p Policy) ShouldFetch(specifier string) bool {
	switch p.Mode {
	case ReloadAll:
		return true
	case ReloadSelective:
		return p.Reload[specifier]
	default:
		return false
	}
}

// MaxRedirects bounds the redirect-chain walk Lookup performs (spec.md
// §4.3: "up to a configurable maximum, default 10").
const MaxRedirects = 10

// RedirectLoopError is returned when following cached redirect hops
// revisits a URL already seen in the current chain.
type RedirectLoopError struct {
	URL *url.URL
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("httpcache: redirect loop detected at %s", e.URL)
}

// Entry is a resolved cache hit: the terminal URL's body plus metadata,
// and the chain of intermediate hops walked to reach it (empty when u
// itself held the body).
type Entry struct {
	FinalURL *url.URL
	Body     []byte
	Meta     Metadata
	Hops     []*url.URL
}

// Cache is the HTTP cache proper, backed by a C2 disk cache.
type Cache struct {
	disk *cache.Cache
}

// New wraps disk (a C2 cache rooted at the pipeline's "deps/" directory)
// as an HTTP cache.
func New(disk *cache.Cache) *Cache {
	return &Cache{disk: disk}
}

// Lookup returns the cached entry for u, following any redirect hops
// recorded in metadata until it reaches an entry with a body, or
// (false, nil) on a clean miss. It does not consult Policy — callers
// check Policy.ShouldFetch(specifier) themselves before calling Lookup,
// since the policy is keyed on the original specifier text, not the
// resolved URL.
func (c *Cache) Lookup(u *url.URL) (*Entry, bool, error) {
	seen := map[string]bool{}
	hops := []*url.URL{}
	cur := u

	for i := 0; ; i++ {
		if i >= MaxRedirects {
			return nil, false, &RedirectLoopError{URL: cur}
		}
		key := cur.String()
		if seen[key] {
			return nil, false, &RedirectLoopError{URL: cur}
		}
		seen[key] = true

		meta, ok, err := c.readMetadata(cur)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}

		body, hasBody, err := c.readBody(cur)
		if err != nil {
			return nil, false, err
		}
		if hasBody {
			return &Entry{FinalURL: cur, Body: body, Meta: meta, Hops: hops}, true, nil
		}

		// A metadata-only entry: it's an intermediate redirect hop
		// pointing at meta.URL.
		hops = append(hops, cur)
		next, err := url.Parse(meta.URL)
		if err != nil {
			return nil, false, fmt.Errorf("httpcache: corrupt redirect metadata at %s: %w", cur, err)
		}
		cur = next
	}
}

// PutRedirect records that from redirects to to: a metadata-only entry
// with no body, carrying to as Metadata.URL (spec.md §4.3: "each
// intermediate URL's metadata records the next hop").
func (c *Cache) PutRedirect(from, to *url.URL) error {
	return c.writeMetadata(from, Metadata{URL: to.String()})
}

// PutFinal writes the terminal entry for u: its body and full metadata.
// headers is copied, not aliased.
func (c *Cache) PutFinal(u *url.URL, body []byte, mimeType string, headers map[string]string) error {
	hdrs := make(map[string]string, len(headers))
	for k, v := range headers {
		hdrs[k] = v
	}
	meta := Metadata{URL: u.String(), MimeType: mimeType, Headers: hdrs}
	if err := c.writeMetadata(u, meta); err != nil {
		return err
	}
	name, err := cache.Filename(u)
	if err != nil {
		return err
	}
	return c.disk.Put(name, body)
}

func (c *Cache) readMetadata(u *url.URL) (Metadata, bool, error) {
	name, err := cache.Filename(u)
	if err != nil {
		return Metadata{}, false, err
	}
	raw, err := c.disk.Get(name + ".metadata.json")
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, false, nil
		}
		return Metadata{}, false, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, false, fmt.Errorf("httpcache: corrupt metadata for %s: %w", u, err)
	}
	return meta, true, nil
}

func (c *Cache) writeMetadata(u *url.URL, meta Metadata) error {
	name, err := cache.Filename(u)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return c.disk.Put(name+".metadata.json", raw)
}

func (c *Cache) readBody(u *url.URL) ([]byte, bool, error) {
	name, err := cache.Filename(u)
	if err != nil {
		return nil, false, err
	}
	body, err := c.disk.Get(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return body, true, nil
}

// NewDefaultDisk returns the conventional "deps/" disk cache rooted
// under the pipeline's cache directory, matching the layout in
// spec.md §6.
func NewDefaultDisk(fs fsext.Fs, cacheRoot string) (*cache.Cache, error) {
	return cache.New(fs, cacheRoot+"/deps")
}
