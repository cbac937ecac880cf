// Package engine is a minimal concrete script-engine adapter over
// dop251/goja. It is not itself part of the module pipeline spec.md
// describes; it exists to exercise C6's "Register is called by the
// script engine after instantiation" contract and to give C7's
// dependency graph something that actually runs a compiled module's
// code in tests.
package engine

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dop251/goja"

	"go.modpipe.dev/modpipe/internal/graph"
	"go.modpipe.dev/modpipe/internal/registry"
)

// Engine pairs a goja.Runtime with the cooperative Loop and the module
// Registry it reports engine ids into.
//
// It deliberately does not implement ECMAScript module linking across
// the dependency graph: dop251/goja's parser predates the corpus's
// sobek-fork ESM support, and building a full import/export linker is
// out of scope for what this adapter needs to prove. RegisterGraph
// handles the bookkeeping half of instantiation (stamping every
// resolved module with an engine id); RunEntry runs one module's
// already-transpiled source directly.
type Engine struct {
	Registry *registry.Registry
	Runtime  *goja.Runtime
	Loop     *Loop
}

// New builds an Engine with a fresh goja runtime and an idle Loop.
func New(reg *registry.Registry) *Engine {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("js", true))
	return &Engine{
		Registry: reg,
		Runtime:  rt,
		Loop:     NewLoop(),
	}
}

// RegisterGraph walks node's dependency tree and stamps every module's
// registry entry with engineID, depth-first, the way a real engine
// would after linking each module into one instantiation (spec.md
// §4.6).
func (e *Engine) RegisterGraph(node *graph.Node, engineID string) {
	visited := make(map[string]bool)
	var walk func(n *graph.Node)
	walk = func(n *graph.Node) {
		key := n.Handle.URL.String()
		if visited[key] {
			return
		}
		visited[key] = true
		e.Registry.Register(n.Handle.URL, engineID)
		for _, d := range n.Deps {
			walk(d)
		}
	}
	walk(node)
}

// RunEntry evaluates source — the entrypoint module's compiled JS,
// stripped of import/export by the caller — on the Loop, returning
// whatever the script's final expression produces. It does not resolve
// nested imports; callers needing that must pre-bundle or otherwise
// flatten the graph before calling RunEntry.
func (e *Engine) RunEntry(ctx context.Context, entry *url.URL, source string) (goja.Value, error) {
	var result goja.Value
	err := e.Loop.Start(func() error {
		v, err := e.Runtime.RunScript(entry.String(), source)
		if err != nil {
			return fmt.Errorf("engine: evaluating %s: %w", entry, err)
		}
		result = v
		return nil
	})
	return result, err
}
