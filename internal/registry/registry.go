// Package registry implements C6: the process-wide map from canonical
// module URL to its ModuleHandle, with at-most-once get_or_load
// coalescing so two concurrent imports of the same URL produce exactly
// one fetch, one compile, and one script-engine registration (spec.md
// §4.6).
package registry

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"go.modpipe.dev/modpipe/internal/fetch"
)

// Handle is everything the rest of the pipeline needs once a module has
// been resolved, fetched, and compiled.
type Handle struct {
	URL       *url.URL
	MediaType fetch.MediaType
	JS        []byte
	SourceMap []byte

	// TypesURL is the companion type declaration URL an
	// X-TypeScript-Types response header pointed at when this module was
	// fetched, or nil. C7 resolves it into a type-only graph edge
	// alongside any @deno-types pragma it finds in the source itself.
	TypesURL *url.URL

	// EngineID is set by Register once the script engine has
	// instantiated this module; zero until then.
	EngineID string

	mu sync.RWMutex
	// referrer is a weak diagnostic back-pointer to whatever first
	// imported this module: spec.md §4.6 is explicit that it "never
	// participates in liveness" — it exists purely so an error message
	// can say where an import chain started, not to keep anything
	// alive. Go's GC has no weak-reference primitive, so the intent is
	// enforced by convention: nothing in this package ever walks
	// Referrer to reach a Handle, only the reverse.
	referrer *url.URL
	deps     []*url.URL
}

// Referrer returns the diagnostic back-pointer recorded by the first
// get_or_load call that created this handle, or nil for a root module.
func (h *Handle) Referrer() *url.URL {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.referrer
}

// SetImports records this module's ordered dependency list, as produced
// by C7's graph walk.
func (h *Handle) SetImports(deps []*url.URL) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = deps
}

// Imports returns this module's ordered dependency list (spec.md §4.6:
// "imports_of(url) -> ordered sequence<url>").
func (h *Handle) Imports() []*url.URL {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*url.URL, len(h.deps))
	copy(out, h.deps)
	return out
}

// Loader resolves, fetches, and compiles a single module. The registry
// calls it at most once per URL, however many callers are waiting.
type Loader func(ctx context.Context, u *url.URL) (*Handle, error)

// Registry is C6's process-wide module map.
type Registry struct {
	load  Loader
	mu    sync.Mutex
	group singleflight.Group
	byURL map[string]*Handle
}

// New builds a Registry that calls load on a miss.
func New(load Loader) *Registry {
	return &Registry{load: load, byURL: map[string]*Handle{}}
}

// GetOrLoad returns the existing handle for u, or loads one, coalescing
// concurrent callers for the same URL into a single Loader invocation
// (spec.md §4.6, §5: "two concurrent get_or_load(url) calls observe the
// same ModuleHandle once either returns").
func (r *Registry) GetOrLoad(ctx context.Context, u *url.URL, referrer *url.URL) (*Handle, error) {
	key := u.String()

	r.mu.Lock()
	if h, ok := r.byURL[key]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		h, err := r.load(ctx, u)
		if err != nil {
			return nil, err
		}
		h.referrer = referrer

		r.mu.Lock()
		r.byURL[key] = h
		r.mu.Unlock()
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Register records the script engine's instantiation ID for an
// already-loaded module (spec.md §4.6: "called by the script engine
// after instantiation").
func (r *Registry) Register(u *url.URL, engineID string) {
	r.mu.Lock()
	h, ok := r.byURL[u.String()]
	r.mu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.EngineID = engineID
	h.mu.Unlock()
}

// Get returns the handle for u if already loaded.
func (r *Registry) Get(u *url.URL) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byURL[u.String()]
	return h, ok
}

// ImportsOf implements spec.md §4.6's imports_of: the ordered dependency
// list of an already-loaded module, or nil if it isn't loaded.
func (r *Registry) ImportsOf(u *url.URL) []*url.URL {
	h, ok := r.Get(u)
	if !ok {
		return nil
	}
	return h.Imports()
}

// Len returns the number of modules currently registered, mainly for
// tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byURL)
}
