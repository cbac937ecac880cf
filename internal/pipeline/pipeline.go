// Package pipeline wires C1 through C9 into the single entry point the
// CLI (and anything else embedding this module) drives: resolve, cache,
// fetch, compile, track in the registry, walk the dependency graph, and
// optionally watch for changes. It is the "CLI surface consumed from
// external collaborators" spec.md §6 describes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/sirupsen/logrus"

	"go.modpipe.dev/modpipe/errext"
	"go.modpipe.dev/modpipe/errext/exitcodes"
	"go.modpipe.dev/modpipe/internal/compiler"
	"go.modpipe.dev/modpipe/internal/fetch"
	"go.modpipe.dev/modpipe/internal/graph"
	"go.modpipe.dev/modpipe/internal/httpcache"
	"go.modpipe.dev/modpipe/internal/importmap"
	"go.modpipe.dev/modpipe/internal/lockfile"
	"go.modpipe.dev/modpipe/internal/registry"
	"go.modpipe.dev/modpipe/internal/watcher"
	"go.modpipe.dev/modpipe/lib/fsext"
)

// ReloadMode selects which modules C3 treats as stale on this run
// (spec.md §6's `reload` option).
type ReloadMode int

const (
	// ReloadNone serves every cache hit as-is.
	ReloadNone ReloadMode = iota
	// ReloadAll treats every URL as a miss.
	ReloadAll
	// ReloadSelected treats only Config.ReloadSpecifiers as a miss.
	ReloadSelected
)

// TypeCheckMode selects how aggressively C5 type-checks plain JS
// (spec.md §6's `type_check` option). The transpiler itself only ever
// transforms syntax; "on" additionally runs CheckJS diagnostics.
type TypeCheckMode int

const (
	TypeCheckOn TypeCheckMode = iota
	TypeCheckOff
	TypeCheckRemoteOnly
)

// Config is the configuration value spec.md §6 says external
// collaborators supply.
type Config struct {
	Reload           ReloadMode
	ReloadSpecifiers []string

	CacheRoot     string
	LockFile      string
	LockMode      lockfile.Mode
	ImportMapFile string

	TypeCheck   TypeCheckMode
	JSXFactory  string
	JSXFragment string
	Target      api.Target

	Permissions fetch.Permissions
	Logger      logrus.FieldLogger
}

// ConfigError reports a self-contradictory Config, mapped to
// exitcodes.InvalidConfig the way spec.md §6 requires for "lockfile-write
// requested without lockfile configured".
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("pipeline: invalid config: %s", e.Reason) }
func (e *ConfigError) ExitCode() exitcodes.ExitCode { return exitcodes.InvalidConfig }

// Pipeline is the wired-together C1-C9 stack for a single run.
type Pipeline struct {
	fs     fsext.Fs
	cfg    Config
	logger logrus.FieldLogger

	HTTPCache *httpcache.Cache
	Fetcher   *fetch.Fetcher
	Compiler  *compiler.Cache
	Lockfile  *lockfile.Lockfile
	ImportMap *importmap.Map
	Graph     *graph.Builder
}

// New validates cfg, opens the disk caches under cfg.CacheRoot, loads
// the import map and lockfile if configured, and wires C1-C8 into a
// graph.Builder ready for Build. It does not start a watcher; call
// WatchAndBuild for that once a Pipeline exists.
func New(fs fsext.Fs, cfg Config) (*Pipeline, error) {
	if cfg.LockMode == lockfile.Write && cfg.LockFile == "" {
		return nil, errext.WithExitCodeIfNone(
			&ConfigError{Reason: "lock_mode=write requires lock_file to be set"},
			exitcodes.InvalidConfig,
		)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	depsDisk, err := httpcache.NewDefaultDisk(fs, cfg.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening deps cache: %w", err)
	}
	genDisk, err := compiler.NewDefaultDisk(fs, cfg.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("pipeline: opening gen cache: %w", err)
	}

	var im *importmap.Map
	if cfg.ImportMapFile != "" {
		data, err := fsext.ReadFile(fs, cfg.ImportMapFile)
		if err != nil {
			return nil, fmt.Errorf("pipeline: reading import map %s: %w", cfg.ImportMapFile, err)
		}
		im, err = importmap.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("pipeline: parsing import map %s: %w", cfg.ImportMapFile, err)
		}
	}

	var lf *lockfile.Lockfile
	if cfg.LockFile != "" {
		lf, err = lockfile.Load(fs, cfg.LockFile, cfg.LockMode)
		if err != nil {
			return nil, fmt.Errorf("pipeline: loading lockfile %s: %w", cfg.LockFile, err)
		}
	}

	fetchOpts := []fetch.Option{}
	if cfg.Permissions != nil {
		fetchOpts = append(fetchOpts, fetch.WithPermissions(cfg.Permissions))
	}
	httpCache := httpcache.New(depsDisk)
	fetcher := fetch.New(fs, httpCache, fetchOpts...)

	target := cfg.Target
	if target == 0 {
		target = api.ESNext
	}
	comp := compiler.New(genDisk, compiler.Config{
		Target:      target,
		JSXFactory:  cfg.JSXFactory,
		JSXFragment: cfg.JSXFragment,
		TypeCheck:   compilerCheckMode(cfg.TypeCheck),
	})

	builder := &graph.Builder{
		Fetcher:   fetcher,
		Compiler:  comp,
		Policy:    reloadPolicy(cfg),
		ImportMap: im,
	}
	if lf != nil {
		builder.OnSource = func(u *url.URL, source []byte) error {
			return lf.Verify(u.String(), source)
		}
	}

	return &Pipeline{
		fs:        fs,
		cfg:       cfg,
		logger:    logger,
		HTTPCache: httpCache,
		Fetcher:   fetcher,
		Compiler:  comp,
		Lockfile:  lf,
		ImportMap: im,
		Graph:     builder,
	}, nil
}

// compilerCheckMode translates the public TypeCheckMode into C5's own copy
// of the same enum (compiler can't import pipeline without a cycle).
func compilerCheckMode(mode TypeCheckMode) compiler.CheckMode {
	switch mode {
	case TypeCheckOn:
		return compiler.CheckOn
	case TypeCheckRemoteOnly:
		return compiler.CheckRemoteOnly
	default:
		return compiler.CheckOff
	}
}

func reloadPolicy(cfg Config) httpcache.Policy {
	switch cfg.Reload {
	case ReloadAll:
		return httpcache.Policy{Mode: httpcache.ReloadAll}
	case ReloadSelected:
		set := make(map[string]bool, len(cfg.ReloadSpecifiers))
		for _, s := range cfg.ReloadSpecifiers {
			set[s] = true
		}
		return httpcache.Policy{Mode: httpcache.ReloadSelective, Reload: set}
	default:
		return httpcache.Policy{Mode: httpcache.Use}
	}
}

// Build resolves, fetches, compiles, and statically walks the graph
// rooted at entry (C1-C7), verifying every fetched module against the
// lockfile in Check mode (C8, via Graph.OnSource). In Write mode, the
// lockfile is saved once the walk completes successfully.
func (p *Pipeline) Build(ctx context.Context, entry *url.URL) (*graph.Node, error) {
	node, err := p.Graph.Build(ctx, entry)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, classifyBuildError(err))
	}

	if p.Lockfile != nil && p.cfg.LockMode == lockfile.Write {
		if err := p.Lockfile.Save(p.fs, p.cfg.LockFile); err != nil {
			return node, fmt.Errorf("pipeline: saving lockfile: %w", err)
		}
	}
	return node, nil
}

// classifyBuildError maps a graph.Build failure to the exitcodes taxonomy
// spec.md §6 describes: a lockfile disagreement is most specific, then a
// fetch-layer failure, then a compile-layer failure, falling back to the
// generic resolution-failed code for anything C1 itself rejected.
func classifyBuildError(err error) exitcodes.ExitCode {
	var mismatch *lockfile.MismatchError
	if errors.As(err, &mismatch) {
		return exitcodes.LockfileMismatch
	}

	var permDenied *fetch.PermissionDeniedError
	if errors.As(err, &permDenied) {
		return exitcodes.FetchFailed
	}
	var httpStatus *fetch.HTTPStatusError
	if errors.As(err, &httpStatus) {
		return exitcodes.FetchFailed
	}

	var syntaxErr *compiler.SyntaxError
	if errors.As(err, &syntaxErr) {
		return exitcodes.CompileFailed
	}
	var typeErr *compiler.TypeError
	if errors.As(err, &typeErr) {
		return exitcodes.CompileFailed
	}
	var internalErr *compiler.InternalError
	if errors.As(err, &internalErr) {
		return exitcodes.CompileFailed
	}

	return exitcodes.ResolutionFailed
}

// WatchAndBuild runs Build once, then restarts it on every debounced
// file change under watchPaths, printing a status line on both success
// and failure (C9, spec.md §4.9 and SPEC_FULL.md's supplemented
// "status lines on success and failure" feature).
func (p *Pipeline) WatchAndBuild(ctx context.Context, entry *url.URL, watchPaths []string) error {
	w := &watcher.Watcher[*url.URL]{
		JobName: "build",
		Logger:  logrus.NewEntry(logrus.StandardLogger()),
		Resolver: func(ctx context.Context, changed []string) watcher.Resolution[*url.URL] {
			return watcher.RestartOK[*url.URL](watchPaths, entry)
		},
		Operation: func(ctx context.Context, arg *url.URL) error {
			_, err := p.Build(ctx, arg)
			return err
		},
	}
	return w.Run(ctx)
}

// Registry returns the module registry C7's walk populated during
// Build, or nil if Build hasn't run yet.
func (p *Pipeline) Registry() *registry.Registry {
	return p.Graph.Registry
}

// CacheRootOrDefault returns cfg.CacheRoot, or the OS's user cache
// directory joined with "modpipe" when unset, matching spec.md §6's
// "default: platform cache dir".
func CacheRootOrDefault(cacheRoot string) (string, error) {
	if cacheRoot != "" {
		return cacheRoot, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("pipeline: resolving default cache root: %w", err)
	}
	return dir + string(os.PathSeparator) + "modpipe", nil
}
