// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package listener watches plugin search directories and reports settled
// batches of added and removed plugin origins.
//
// Raw fsnotify events are debounced per path. Settled paths are collected by
// a single coordination goroutine for a short batch window, reconciled
// against the origins reported so far and dispatched to every handler,
// removals first. Handlers run on their own goroutines, so a slow handler
// never delays watching.
package listener

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/plugscan/plugscan/pkg/errutil"
	"github.com/plugscan/plugscan/pkg/plugin"
)

// Defaults applied to zero Config fields.
const (
	DefaultExtension   = ".plugin"
	DefaultDebounce    = 200 * time.Millisecond
	DefaultBatchWindow = 100 * time.Millisecond
	DefaultQueueSize   = 256
)

// ErrConfiguration is returned by Enable when the configuration is unusable.
var ErrConfiguration = errors.New("invalid listener configuration")

// Handler receives settled origin batches.
type Handler interface {
	Added(ctx context.Context, origins []plugin.Origin)
	Removed(ctx context.Context, origins []plugin.Origin)
}

// Metrics records listener activity.
type Metrics interface {
	ObserveFSEvent(op string)
	ObserveBatch(kind string)
}

// Config configures a Listener.
type Config struct {
	// SearchDirs are the root directories to watch recursively.
	SearchDirs []string
	// Extensions of plugin files. Defaults to DefaultExtension.
	Extensions []string
	// Ignore holds glob patterns matched against full paths and base names.
	Ignore []string
	// Debounce is how long a path must stay quiet before it settles.
	Debounce time.Duration
	// BatchWindow is how long settled paths are collected into one batch.
	BatchWindow time.Duration
	// QueueSize bounds the settled path queue.
	QueueSize int
	Logger    *slog.Logger
	Metrics   Metrics
}

func (c Config) withDefaults() Config {
	if len(c.Extensions) == 0 {
		c.Extensions = []string{DefaultExtension}
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Listener watches search directories for plugin changes.
type Listener struct {
	cfg    Config
	logger *slog.Logger
	sinks  []*sink

	mu       sync.Mutex
	enabled  bool
	roots    []string
	filter   *filter
	watcher  *fsnotify.Watcher
	debounce *debouncer
	cancel   context.CancelFunc
	synced   chan struct{}
	loops    sync.WaitGroup
	workers  sync.WaitGroup

	// known is owned by the coordination goroutine.
	known map[string]plugin.Origin
	now   func() time.Time
}

// New creates a disabled listener dispatching to handlers.
func New(cfg Config, handlers ...Handler) *Listener {
	cfg = cfg.withDefaults()
	l := &Listener{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "listener"),
		known:  make(map[string]plugin.Origin),
		now:    time.Now,
	}
	for _, h := range handlers {
		l.sinks = append(l.sinks, newSink(h))
	}
	return l
}

// Enable validates the configuration, starts watching and enumerates the
// existing files, which are reported like newly added ones. Calling Enable
// on an enabled listener is a no-op. The listener stops when ctx is done.
func (l *Listener) Enable(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.enabled {
		return nil
	}
	// Sinks from a previous Enable must stop before new ones start on the
	// same queues.
	l.workers.Wait()

	roots, err := resolveRoots(l.cfg.SearchDirs)
	if err != nil {
		return err
	}
	f, err := newFilter(l.cfg.Extensions, l.cfg.Ignore)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.Code("WATCH_FAILED").Wrapf(err, "create watcher")
	}

	l.roots = roots
	l.filter = f
	l.watcher = w
	for _, root := range roots {
		if err := l.watchTree(root); err != nil {
			_ = w.Close()
			return oops.Code("WATCH_FAILED").With("dir", root).Wrapf(err, "watch search directory")
		}
	}

	// Initial enumeration: the roots are reconciled like freshly created
	// directories before any event is processed.
	added, removed := l.reconcile(pathSet(roots))

	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	settled := make(chan string, l.cfg.QueueSize)
	l.debounce = newDebouncer(l.cfg.Debounce, func(path string) {
		select {
		case settled <- path:
		case <-ctx.Done():
		}
	})

	for _, s := range l.sinks {
		l.workers.Add(1)
		go s.run(ctx, &l.workers)
	}
	synced := make(chan struct{})
	l.synced = synced
	initial := &ack{}
	l.dispatch(added, removed, initial)
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()
		if initial.wait() {
			close(synced)
		}
	}()

	l.loops.Add(2)
	go l.watchLoop(ctx, w, l.debounce)
	go l.coordinate(ctx, settled)

	l.enabled = true
	l.logger.Info("listener enabled", "search_dirs", roots)
	return nil
}

func resolveRoots(dirs []string) ([]string, error) {
	if len(dirs) == 0 {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(ErrConfiguration, "no search directories configured")
	}
	roots := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("dir", d).Wrapf(ErrConfiguration, "resolve search directory: %v", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("dir", abs).Wrapf(ErrConfiguration, "search directory unavailable: %v", err)
		}
		if !info.IsDir() {
			return nil, oops.Code("CONFIG_INVALID").With("dir", abs).Wrapf(ErrConfiguration, "search directory is not a directory")
		}
		roots = append(roots, abs)
	}
	return roots, nil
}

// Disable stops watching and dispatching. Handler calls already running
// complete; use Wait to block until they have. Safe to call repeatedly.
func (l *Listener) Disable() error {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return nil
	}
	l.enabled = false
	l.cancel()
	l.debounce.stop()
	err := l.watcher.Close()
	l.mu.Unlock()

	l.loops.Wait()
	l.logger.Info("listener disabled")
	if err != nil {
		return oops.Code("WATCH_FAILED").Wrapf(err, "close watcher")
	}
	return nil
}

// Synced returns a channel closed once the initial enumeration has been
// delivered to every handler. It is nil before the first Enable. If the
// listener is disabled first, the channel stays open and the enumeration is
// delivered after the next Enable, which returns a new channel.
func (l *Listener) Synced() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.synced
}

// Wait blocks until every in-flight handler call has returned. It only
// returns once the listener has been disabled.
func (l *Listener) Wait() {
	l.workers.Wait()
}

// Close disables the listener and waits for in-flight handler calls.
func (l *Listener) Close() error {
	err := l.Disable()
	l.Wait()
	return err
}

// watchTree adds watches for dir and every non-ignored directory below it.
func (l *Listener) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && l.filter.ignored(p) {
			return filepath.SkipDir
		}
		if err := l.watcher.Add(p); err != nil {
			if p == dir {
				return err
			}
			l.logger.Warn("cannot watch directory", "dir", p, "error", err)
		}
		return nil
	})
}

// watchLoop turns raw fsnotify events into debouncer touches.
func (l *Listener) watchLoop(ctx context.Context, w *fsnotify.Watcher, deb *debouncer) {
	defer l.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			l.handleEvent(ev, deb)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.handleError(err, deb)
		}
	}
}

func (l *Listener) handleEvent(ev fsnotify.Event, deb *debouncer) {
	if ev.Op == fsnotify.Chmod {
		return
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.ObserveFSEvent(opName(ev.Op))
	}
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if root := l.rootOf(path); root == path {
			l.dropRoot(root)
		}
		deb.touch(path)
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if l.filter.ignored(path) {
				return
			}
			l.mu.Lock()
			if l.enabled {
				if err := l.watchTree(path); err != nil {
					l.logger.Warn("cannot watch new directory", "dir", path, "error", err)
				}
			}
			l.mu.Unlock()
			deb.touch(path)
			return
		}
	}

	if l.filter.candidate(path) {
		deb.touch(path)
	}
}

// handleError logs watcher errors. An overflow means events were lost, so
// every root is reconciled again.
func (l *Listener) handleError(err error, deb *debouncer) {
	errutil.LogWarn(l.logger, "watcher error", err)
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		for _, root := range l.roots {
			deb.touch(root)
		}
	}
}

// dropRoot removes every watch under a root that disappeared. Its known
// origins are reported removed once the root settles.
func (l *Listener) dropRoot(root string) {
	l.logger.Warn("search directory removed, no longer watching", "dir", root)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}
	for _, p := range l.watcher.WatchList() {
		if within(p, root) {
			_ = l.watcher.Remove(p)
		}
	}
}

func (l *Listener) rootOf(path string) string {
	for _, root := range l.roots {
		if within(path, root) {
			return root
		}
	}
	return ""
}

// coordinate collects settled paths into batches and dispatches them.
func (l *Listener) coordinate(ctx context.Context, settled <-chan string) {
	defer l.loops.Done()

	for {
		var first string
		select {
		case <-ctx.Done():
			return
		case first = <-settled:
		}

		paths := map[string]struct{}{first: {}}
		window := time.NewTimer(l.cfg.BatchWindow)
	collect:
		for {
			select {
			case <-ctx.Done():
				window.Stop()
				return
			case p := <-settled:
				paths[p] = struct{}{}
			case <-window.C:
				break collect
			}
		}

		added, removed := l.reconcile(paths)
		l.dispatch(added, removed, nil)
	}
}

// reconcile compares the settled paths with what is on disk and returns
// the origins to report. A settled directory reconciles its whole subtree; a
// missing path removes every known origin at or below it.
func (l *Listener) reconcile(paths map[string]struct{}) (added, removed []plugin.Origin) {
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	seen := make(map[string]struct{})
	classify := func(path string, info fs.FileInfo) {
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		a, r := l.classify(path, info)
		if r != nil {
			removed = append(removed, *r)
		}
		if a != nil {
			added = append(added, *a)
		}
	}
	forget := func(under string) {
		for _, k := range sortedKeys(l.known) {
			if _, ok := seen[k]; ok || !within(k, under) {
				continue
			}
			removed = append(removed, l.known[k])
			delete(l.known, k)
		}
	}

	for _, p := range sorted {
		info, err := os.Stat(p)
		switch {
		case err != nil:
			forget(p)
		case info.IsDir():
			if p != l.rootOf(p) && l.filter.ignored(p) {
				continue
			}
			_ = filepath.WalkDir(p, func(fp string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if fp != p && l.filter.ignored(fp) {
						return filepath.SkipDir
					}
					return nil
				}
				if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
					return nil
				}
				if !l.filter.candidate(fp) {
					return nil
				}
				fi, err := os.Stat(fp)
				if err != nil || !fi.Mode().IsRegular() {
					return nil
				}
				classify(fp, fi)
				return nil
			})
			forget(p)
		case l.filter.candidate(p) && info.Mode().IsRegular():
			classify(p, info)
		}
	}
	return added, removed
}

// classify returns the origin to add and the origin to remove for a file
// present on disk. Either may be nil.
func (l *Listener) classify(path string, info fs.FileInfo) (add, remove *plugin.Origin) {
	prev, known := l.known[path]
	if known && info.ModTime().Equal(prev.LastWriteAt) {
		return nil, nil
	}
	createdAt := l.now()
	if known {
		createdAt = prev.CreatedAt
	}
	o, err := plugin.OriginFromFileInfo(path, info, createdAt)
	if err != nil {
		errutil.LogWarn(l.logger, "skipping invalid origin", err, "path", path)
		return nil, nil
	}
	l.known[path] = o
	if known {
		return &o, &prev
	}
	return &o, nil
}

// dispatch queues a batch for every handler. When a is set, it is marked
// done once per handler after delivery.
func (l *Listener) dispatch(added, removed []plugin.Origin, a *ack) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	l.logger.Debug("dispatching batch", "added", len(added), "removed", len(removed))
	if l.cfg.Metrics != nil {
		if len(removed) > 0 {
			l.cfg.Metrics.ObserveBatch("removed")
		}
		if len(added) > 0 {
			l.cfg.Metrics.ObserveBatch("added")
		}
	}
	if a != nil {
		a.wg.Add(len(l.sinks))
	}
	for _, s := range l.sinks {
		s.push(batch{added: added, removed: removed, ack: a})
	}
}

// within reports whether path is dir or below it.
func within(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func sortedKeys(m map[string]plugin.Origin) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "chmod"
	}
}
