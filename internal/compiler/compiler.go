// Package compiler implements C5: the transpiler cache. It compiles
// TypeScript/TSX/JSX sources to JavaScript with esbuild, fingerprints
// each input with xxhash, persists the result atomically alongside a
// source map and a sidecar build-info file, and coalesces concurrent
// compiles of the same fingerprint through a singleflight.Group so a
// stampede of importers triggers exactly one transpile (spec.md §4.5).
package compiler

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/cespare/xxhash/v2"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"go.modpipe.dev/modpipe/internal/cache"
	"go.modpipe.dev/modpipe/internal/fetch"
	"go.modpipe.dev/modpipe/lib/consts"
	"go.modpipe.dev/modpipe/lib/fsext"
)

// CheckMode selects how aggressively transpile runs CheckJS-style
// diagnostics over plain JavaScript, mirroring spec.md §6's `type_check`
// option one level below pipeline.TypeCheckMode (compiler can't import
// pipeline, so it carries its own copy of the same three-way enum).
type CheckMode int

const (
	CheckOff CheckMode = iota
	CheckOn
	CheckRemoteOnly
)

// Config summarizes the compiler settings folded into every fingerprint
// (spec.md §4.5: "target, JSX factory, strictness flags, and engine
// version").
type Config struct {
	Target      api.Target
	JSXFactory  string
	JSXFragment string
	TypeCheck   CheckMode
}

// Hash returns the config's contribution to a fingerprint.
func (c Config) Hash() uint64 {
	h := xxhash.New()
	fmt.Fprintf(h, "%d|%s|%s|%d|%s", c.Target, c.JSXFactory, c.JSXFragment, c.TypeCheck, consts.EngineVersion)
	return h.Sum64()
}

// checksFor reports whether CheckJS-style diagnostics should run for a
// module served from u, given mode. CheckOn checks every module;
// CheckRemoteOnly checks only modules fetched over http(s) — spec.md §6's
// rationale is that local-disk code is in the collaborator's own editor
// already, so the only modules worth spending the extra pass on are the
// ones pulled in from a registry the collaborator doesn't control.
func checksFor(mode CheckMode, u *url.URL) bool {
	switch mode {
	case CheckOn:
		return true
	case CheckRemoteOnly:
		return u.Scheme == "http" || u.Scheme == "https"
	default:
		return false
	}
}

// BuildInfo is the on-disk shape of a cache entry's ".buildinfo"
// sidecar (spec.md §6).
type BuildInfo struct {
	Version     string `json:"version"`
	ConfigHash  string `json:"config_hash"`
	SourceHash  string `json:"source_hash"`
}

// Artifact is a compiled module: its JavaScript, source map, and the
// fingerprint it was built under.
type Artifact struct {
	JS        []byte
	SourceMap []byte
	Fresh     bool // false when served from cache
}

// SyntaxError, TypeError and InternalError tag compile failures per
// spec.md §4.5's error taxonomy.
type SyntaxError struct{ Err error }

func (e *SyntaxError) Error() string { return fmt.Sprintf("SyntaxError: %s", e.Err) }
func (e *SyntaxError) Unwrap() error { return e.Err }

type TypeError struct{ Err error }

func (e *TypeError) Error() string { return fmt.Sprintf("TypeError: %s", e.Err) }
func (e *TypeError) Unwrap() error { return e.Err }

type InternalError struct{ Err error }

func (e *InternalError) Error() string { return fmt.Sprintf("InternalError: %s", e.Err) }
func (e *InternalError) Unwrap() error { return e.Err }

// Cache is the transpiler cache proper.
type Cache struct {
	disk   *cache.Cache
	config Config
	group  singleflight.Group
}

// New wraps disk (a C2 cache rooted at the pipeline's "gen/" directory)
// as a transpiler cache using config for every compile.
func New(disk *cache.Cache, config Config) *Cache {
	return &Cache{disk: disk, config: config}
}

// Compile implements the C5 contract: compile(source_file) ->
// CompiledArtifact, with the cache-hit fast path and at-most-once
// coalescing described in spec.md §4.5.
func (c *Cache) Compile(u *url.URL, source []byte, mediaType fetch.MediaType) (*Artifact, error) {
	fingerprint := c.fingerprint(source)
	key := fmt.Sprintf("%s#%x", u, fingerprint)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.compileOrLoad(u, source, mediaType, fingerprint)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifact), nil
}

func (c *Cache) fingerprint(source []byte) uint64 {
	h := xxhash.New()
	_, _ = h.Write(source)
	fmt.Fprintf(h, "|%x", c.config.Hash())
	return h.Sum64()
}

func (c *Cache) compileOrLoad(u *url.URL, source []byte, mediaType fetch.MediaType, fingerprint uint64) (*Artifact, error) {
	base, err := cache.Filename(u)
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	jsName := base + ".js"
	mapName := base + ".js.map"
	infoName := base + ".buildinfo"

	if info, ok := c.readBuildInfo(infoName); ok && info.SourceHash == fmt.Sprintf("%x", fingerprint) {
		js, errJS := c.disk.Get(jsName)
		sm, errMap := c.disk.Get(mapName)
		if errJS == nil && errMap == nil {
			return &Artifact{JS: js, SourceMap: sm, Fresh: false}, nil
		}
	}

	js, sm, err := c.transpile(u, source, mediaType)
	if err != nil {
		return nil, err
	}

	if err := c.disk.Put(jsName, js); err != nil {
		return nil, &InternalError{Err: err}
	}
	if err := c.disk.Put(mapName, sm); err != nil {
		return nil, &InternalError{Err: err}
	}
	info := BuildInfo{
		Version:    consts.EngineVersion,
		ConfigHash: fmt.Sprintf("%x", c.config.Hash()),
		SourceHash: fmt.Sprintf("%x", fingerprint),
	}
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, &InternalError{Err: err}
	}
	if err := c.disk.Put(infoName, raw); err != nil {
		return nil, &InternalError{Err: err}
	}

	return &Artifact{JS: js, SourceMap: sm, Fresh: true}, nil
}

func (c *Cache) readBuildInfo(name string) (BuildInfo, bool) {
	raw, err := c.disk.Get(name)
	if err != nil {
		return BuildInfo{}, false
	}
	var info BuildInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return BuildInfo{}, false
	}
	return info, true
}

// transpile invokes esbuild for TS/TSX/JSX inputs. JavaScript inputs are
// returned unmodified with an identity source map unless checksFor(mode, u)
// says this module should run through esbuild anyway (spec.md §4.5:
// "compilation is skipped unless a check-js flag is set").
func (c *Cache) transpile(u *url.URL, source []byte, mediaType fetch.MediaType) (js, sourceMap []byte, err error) {
	if mediaType == fetch.Unknown {
		logrus.WithField("url", u.String()).Warn("compiler: unknown media type, treating as JavaScript")
		mediaType = fetch.JavaScript
	}
	check := checksFor(c.config.TypeCheck, u)

	if mediaType == fetch.JavaScript && !check {
		return source, identitySourceMap(u, source), nil
	}
	if mediaType == fetch.JSON || mediaType == fetch.WebAssembly {
		return source, identitySourceMap(u, source), nil
	}

	loader, ok := loaderFor(mediaType)
	if !ok {
		return nil, nil, &InternalError{Err: fmt.Errorf("compiler: no loader for media type %s", mediaType)}
	}

	result := api.Transform(string(source), api.TransformOptions{
		Loader:      loader,
		Format:      api.FormatESModule,
		Target:      c.config.Target,
		JSXFactory:  c.config.JSXFactory,
		JSXFragment: c.config.JSXFragment,
		Sourcemap:   api.SourceMapExternal,
		Sourcefile:  u.String(),
	})

	if len(result.Errors) > 0 {
		return nil, nil, &SyntaxError{Err: esbuildError(result.Errors)}
	}

	// esbuild strips TS types without inferring them, so it can only ever
	// flag a malformed program, never a type mismatch — spec.md §4.5's
	// TypeError is reserved for whatever real type checker a collaborator
	// wires in ahead of Compile (see DESIGN.md: this pack carries no
	// grounded TS type-checking dependency). A TS/TSX input that asked for
	// checking but produced esbuild warnings still surfaces them, since
	// they're the only diagnostic signal this stack can produce.
	if check && len(result.Warnings) > 0 && isTypedMediaType(mediaType) {
		return nil, nil, &TypeError{Err: esbuildError(result.Warnings)}
	}

	return result.Code, result.Map, nil
}

func isTypedMediaType(mediaType fetch.MediaType) bool {
	switch mediaType {
	case fetch.TypeScript, fetch.TSX:
		return true
	default:
		return false
	}
}

func loaderFor(mediaType fetch.MediaType) (api.Loader, bool) {
	switch mediaType {
	case fetch.TypeScript:
		return api.LoaderTS, true
	case fetch.TSX:
		return api.LoaderTSX, true
	case fetch.JSX:
		return api.LoaderJSX, true
	case fetch.JavaScript:
		return api.LoaderJS, true
	default:
		return 0, false
	}
}

func esbuildError(msgs []api.Message) error {
	if len(msgs) == 0 {
		return fmt.Errorf("compiler: unknown transpile error")
	}
	m := msgs[0]
	if m.Location != nil {
		return fmt.Errorf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
	}
	return fmt.Errorf("%s", m.Text)
}

func identitySourceMap(u *url.URL, source []byte) []byte {
	doc := map[string]interface{}{
		"version":  3,
		"sources":  []string{u.String()},
		"mappings": "",
	}
	raw, _ := json.Marshal(doc)
	return raw
}

// NewDefaultDisk returns the conventional "gen/" disk cache rooted under
// the pipeline's cache directory, matching spec.md §6's layout.
func NewDefaultDisk(fs fsext.Fs, cacheRoot string) (*cache.Cache, error) {
	return cache.New(fs, cacheRoot+"/gen")
}
