// Package watcher implements C9, the debounced file watcher described in
// spec.md §4.9: idle until an OS event arrives, then a 200ms debounce
// window before calling the resolver, which decides whether to restart
// the operation or ignore the change.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fatih/color"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

// DefaultDebounce is the quiet period spec.md §4.9 requires before a
// batch of OS events is handed to the resolver.
const DefaultDebounce = 200 * time.Millisecond

// Resolution is what a Resolver returns: either "keep running, watch
// these paths" (Restart) or "nothing changed that matters" (Ignore).
// Paths is always populated, even on Ignore, since the watcher needs
// somewhere to look for the next change; this is a deliberate
// simplification of file_watcher.rs's ResolutionResult, which only
// carries paths on the Restart arm and leaves Ignore's watch set
// implicit in whatever OS watcher is already running.
type Resolution[T any] struct {
	Paths   []string
	Restart bool
	Arg     T
	Err     error
}

// Ignore builds a Resolution that keeps the watcher running unchanged.
func Ignore[T any](paths []string) Resolution[T] {
	return Resolution[T]{Paths: paths}
}

// RestartOK builds a Resolution that starts operation(arg) and watches paths.
func RestartOK[T any](paths []string, arg T) Resolution[T] {
	return Resolution[T]{Paths: paths, Restart: true, Arg: arg}
}

// RestartErr builds a Resolution whose resolution step itself failed
// (e.g. a module failed to resolve): the watcher still restarts the
// watch set but never calls operation, matching file_watcher.rs's
// `Err(error)` arm of `resolution_result`.
func RestartErr[T any](paths []string, err error) Resolution[T] {
	return Resolution[T]{Paths: paths, Restart: true, Err: err}
}

// Resolver recomputes what to watch and what to run, given the paths
// that changed since the last call (nil on the very first call).
type Resolver[T any] func(ctx context.Context, changed []string) Resolution[T]

// Operation is the long-running job the watcher restarts on every
// accepted file change, e.g. a full graph build and evaluation.
type Operation[T any] func(ctx context.Context, arg T) error

// Watcher drives Resolver and Operation through the Idle/Running/Waiting
// state machine of spec.md §4.9.
type Watcher[T any] struct {
	Resolver  Resolver[T]
	Operation Operation[T]
	JobName   string
	Logger    *logrus.Entry
	Debounce  time.Duration
	NoColor   bool
}

func (w *Watcher[T]) logger() *logrus.Entry {
	if w.Logger != nil {
		return w.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

func (w *Watcher[T]) debounceWindow() time.Duration {
	if w.Debounce > 0 {
		return w.Debounce
	}
	return DefaultDebounce
}

func (w *Watcher[T]) watcherTag() string {
	return w.color(color.FgBlue, color.Bold).Sprint("Watcher")
}

func (w *Watcher[T]) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if w.NoColor {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c
}

func (w *Watcher[T]) printStatus(msg string) {
	fmt.Printf("%s %s\n", w.watcherTag(), msg)
}

func (w *Watcher[T]) printError(err error) {
	tag := w.color(color.FgRed, color.Bold).Sprint("error")
	fmt.Printf("%s: %s\n", tag, err)
}

// printRule draws a full-width divider between watch cycles, the way a
// dev-server's watch mode marks where the previous run's output ends.
// It's a no-op when stdout isn't a terminal, since there's no sensible
// width to fill in a redirected log.
func (w *Watcher[T]) printRule() {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return
	}
	fmt.Println(w.color(color.FgBlue).Sprint(strings.Repeat("─", width)))
}

// Run executes the watch loop until ctx is cancelled or a fatal OS
// watcher error occurs, returning ctx.Err() or that error; it never
// returns nil. Failures inside a single build attempt are reported and
// swallowed so the watcher can continue (spec.md §"Propagation").
func (w *Watcher[T]) Run(ctx context.Context) error {
	res := w.Resolver(ctx, nil)
	if !res.Restart {
		w.printStatus("Waiting for file changes...")
		res = w.waitForRestart(ctx, res.Paths)
	}

	for {
		fw, events, err := startOSWatcher(res.Paths)
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}

		restartCh := make(chan Resolution[T], 1)
		go func(paths []string) {
			restartCh <- w.awaitRestart(ctx, paths, events)
		}(res.Paths)

		w.printRule()
		if res.Err != nil {
			w.printError(res.Err)
			w.printStatus(fmt.Sprintf("%s failed. Restarting on file change...", w.JobName))
		} else {
			opCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- w.Operation(opCtx, res.Arg) }()

			select {
			case next := <-restartCh:
				// The watcher is the only canceller (spec.md §5): drop the
				// operation future outright rather than waiting for it.
				cancel()
				_ = fw.Close()
				res = next
				continue
			case opErr := <-done:
				cancel()
				if opErr != nil {
					w.printError(opErr)
				}
				w.printStatus(fmt.Sprintf("%s finished. Restarting on file change...", w.JobName))
			}
		}

		res = <-restartCh
		_ = fw.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// waitForRestart loops the resolver over debounced OS events until it
// returns a Restart, used both before the first run and whenever
// Resolver keeps returning Ignore.
func (w *Watcher[T]) waitForRestart(ctx context.Context, paths []string) Resolution[T] {
	fw, events, err := startOSWatcher(paths)
	if err != nil {
		return Resolution[T]{Paths: paths, Restart: true, Err: fmt.Errorf("watcher: %w", err)}
	}
	defer fw.Close()
	return w.awaitRestart(ctx, paths, events)
}

// awaitRestart accumulates changed paths from events into a debounce
// buffer and calls Resolver after debounceWindow() of quiet (spec.md
// §4.9's `Running` -> debounce -> `resolver(Some(paths))` transition),
// looping past Ignore results the way file_watcher.rs's next_restart does.
func (w *Watcher[T]) awaitRestart(ctx context.Context, paths []string, events <-chan fsnotify.Event) Resolution[T] {
	changed := newChangeSet()
	fire := debounce.New(w.debounceWindow())
	resolved := make(chan Resolution[T], 1)

	for {
		select {
		case <-ctx.Done():
			return Resolution[T]{Paths: paths, Restart: true, Err: ctx.Err()}
		case ev, ok := <-events:
			if !ok {
				return Resolution[T]{Paths: paths, Restart: true, Err: errors.New("watcher: event stream closed")}
			}
			changed.add(ev.Name)
			fire(func() {
				resolved <- w.Resolver(ctx, changed.drain())
			})
		case next := <-resolved:
			if !next.Restart {
				w.logger().Debug("File change ignored")
				continue
			}
			return next
		}
	}
}

// startOSWatcher opens an fsnotify watcher on paths and forwards
// create/write/remove/rename events on a channel, filtering out chmod
// noise (spec.md §4.9 only cares about content changes).
func startOSWatcher(paths []string) (*fsnotify.Watcher, <-chan fsnotify.Event, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	for _, p := range paths {
		if err := fw.Add(p); err != nil {
			_ = fw.Close()
			return nil, nil, fmt.Errorf("watching %q: %w", p, err)
		}
	}

	out := make(chan fsnotify.Event)
	go func() {
		defer close(out)
		const interesting = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Op&interesting == 0 {
					continue
				}
				out <- ev
			case _, ok := <-fw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return fw, out, nil
}

// changeSet collects the distinct paths touched since the last debounce
// firing, mirroring file_watcher.rs's `Debounce.changed_paths` set.
type changeSet struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{paths: make(map[string]struct{})}
}

func (c *changeSet) add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[path] = struct{}{}
}

// drain empties the set and returns its contents sorted, so resolvers
// see a deterministic order regardless of OS event delivery order.
func (c *changeSet) drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.paths))
	for p := range c.paths {
		out = append(out, p)
		delete(c.paths, p)
	}
	sort.Strings(out)
	return out
}
