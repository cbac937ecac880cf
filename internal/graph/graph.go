package graph

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.modpipe.dev/modpipe/internal/compiler"
	"go.modpipe.dev/modpipe/internal/fetch"
	"go.modpipe.dev/modpipe/internal/httpcache"
	"go.modpipe.dev/modpipe/internal/importmap"
	"go.modpipe.dev/modpipe/internal/registry"
	"go.modpipe.dev/modpipe/internal/resolve"
)

// Node is one module in the resolved graph: its handle plus the
// resolved dependency nodes in source order (spec.md §4.7 step 4).
type Node struct {
	Handle *registry.Handle
	Deps   []*Node

	// TypeDeps holds this module's type-only companions: the target of
	// an X-TypeScript-Types response header (Handle.TypesURL) and the
	// target of any @deno-types pragma found while scanning its source.
	// They're resolved and loaded the same way as Deps but never walked
	// by the script engine at runtime (spec.md §4.7: "the resolver later
	// adds as a type-only dependency").
	TypeDeps []*Node
}

// LoadError wraps a dependency's failure with the specifier that named
// it, so a graph walk can report exactly where resolution broke without
// losing the underlying error (spec.md §4.7 step 5: "causes the
// importer to fail with the same error bubbled up").
type LoadError struct {
	Specifier string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("graph: loading %q: %s", e.Specifier, e.Err)
}
func (e *LoadError) Unwrap() error { return e.Err }

// Builder wires C1 (resolve), C4 (fetch), C5 (compile), and C6
// (registry) into the breadth-first walk spec.md §4.7 describes.
type Builder struct {
	Registry *registry.Registry
	Fetcher  *fetch.Fetcher
	Compiler *compiler.Cache
	Policy   httpcache.Policy
	ImportMap *importmap.Map

	// OnSource, if set, is called with every module's raw fetched bytes
	// before compilation — C8's lockfile hooks in here.
	OnSource func(u *url.URL, source []byte) error
}

// NewLoader returns a registry.Loader that performs the fetch+compile
// half of get_or_load for a single URL; Build wires it into a
// registry.Registry before walking.
func (b *Builder) NewLoader() registry.Loader {
	return func(ctx context.Context, u *url.URL) (*registry.Handle, error) {
		rec, err := b.Fetcher.Fetch(ctx, u, b.Policy, u.String())
		if err != nil {
			return nil, err
		}
		if b.OnSource != nil {
			if err := b.OnSource(rec.URL, rec.Data); err != nil {
				return nil, err
			}
		}
		artifact, err := b.Compiler.Compile(rec.URL, rec.Data, rec.MediaType)
		if err != nil {
			return nil, err
		}
		return &registry.Handle{
			URL:       rec.URL,
			MediaType: rec.MediaType,
			JS:        artifact.JS,
			SourceMap: artifact.SourceMap,
			TypesURL:  rec.TypesURL,
		}, nil
	}
}

// Build resolves, fetches, compiles, and statically scans the graph
// rooted at entry, breadth-first, fanning each node's dependencies out
// in parallel but preserving their source order in Node.Deps (spec.md
// §4.7 steps 3-4, §5's ordering guarantee).
func (b *Builder) Build(ctx context.Context, entry *url.URL) (*Node, error) {
	if b.Registry == nil {
		b.Registry = registry.New(b.NewLoader())
	}

	handle, err := b.Registry.GetOrLoad(ctx, entry, nil)
	if err != nil {
		return nil, err
	}
	root := &Node{Handle: handle}

	visited := sync.Map{} // string URL -> *Node, breaks static cycles
	visited.Store(entry.String(), root)

	if err := b.expand(ctx, root, &visited); err != nil {
		return nil, err
	}
	return root, nil
}

func (b *Builder) expand(ctx context.Context, node *Node, visited *sync.Map) error {
	imports := ScanImports(string(node.Handle.JS))

	var specifiers, typeSpecifiers []string
	for _, imp := range imports {
		switch imp.Kind {
		case DynamicImport:
			// Deferred per spec.md §4.7 step 2: not part of the static
			// dependency list.
		case ReferenceTypes, DenoTypesPragma:
			typeSpecifiers = append(typeSpecifiers, imp.Specifier)
		default:
			specifiers = append(specifiers, imp.Specifier)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	firstErr := (*LoadError)(nil)
	record := func(specifier string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr != nil {
			return
		}
		if le, ok := err.(*LoadError); ok {
			firstErr = le
			return
		}
		firstErr = &LoadError{Specifier: specifier, Err: err}
	}

	// loadFrom resolves specifier against node (or uses resolved directly
	// when it's already an absolute URL, as Handle.TypesURL is), loads
	// and recursively expands it, and stores the result at out[i].
	loadFrom := func(out []*Node, i int, specifier string, resolved *url.URL) {
		defer wg.Done()

		var err error
		if resolved == nil {
			resolved, err = resolve.Resolve(resolve.Dir(node.Handle.URL), specifier, b.ImportMap)
			if err != nil {
				record(specifier, err)
				return
			}
		}

		key := resolved.String()
		if existing, ok := visited.Load(key); ok {
			out[i] = existing.(*Node)
			return
		}

		handle, err := b.Registry.GetOrLoad(ctx, resolved, node.Handle.URL)
		if err != nil {
			record(specifier, err)
			return
		}

		child := &Node{Handle: handle}
		actual, loaded := visited.LoadOrStore(key, child)
		if loaded {
			out[i] = actual.(*Node)
			return
		}
		out[i] = child

		if err := b.expand(ctx, child, visited); err != nil {
			record(specifier, err)
		}
	}

	deps := make([]*Node, len(specifiers))
	for i, spec := range specifiers {
		wg.Add(1)
		go loadFrom(deps, i, spec, nil)
	}

	typeDeps := make([]*Node, len(typeSpecifiers), len(typeSpecifiers)+1)
	for i, spec := range typeSpecifiers {
		wg.Add(1)
		go loadFrom(typeDeps, i, spec, nil)
	}
	if node.Handle.TypesURL != nil {
		typeDeps = append(typeDeps, nil)
		i := len(typeDeps) - 1
		wg.Add(1)
		go loadFrom(typeDeps, i, node.Handle.TypesURL.String(), node.Handle.TypesURL)
	}

	wg.Wait()

	compact := func(nodes []*Node) []*Node {
		out := make([]*Node, 0, len(nodes))
		for _, n := range nodes {
			if n != nil {
				out = append(out, n)
			}
		}
		return out
	}
	node.Deps = compact(deps)
	node.TypeDeps = compact(typeDeps)

	if firstErr != nil {
		return firstErr
	}
	return nil
}
