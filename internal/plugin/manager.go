// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package plugin wires plugin discovery together: a filesystem listener
// feeding an origin change processor, which scans new files into a shared
// repository.
package plugin

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/plugscan/plugscan/internal/observability"
	"github.com/plugscan/plugscan/internal/plugin/listener"
	"github.com/plugscan/plugscan/internal/plugin/origins"
	"github.com/plugscan/plugscan/internal/plugin/repository"
	"github.com/plugscan/plugscan/internal/plugin/scanner"
	pluginapi "github.com/plugscan/plugscan/pkg/plugin"
)

// Manager owns the discovery pipeline for a set of search directories.
type Manager struct {
	repo        *repository.Repository
	processor   *origins.Processor
	handler     *origins.Handler
	listener    *listener.Listener
	logger      *slog.Logger
	metrics     *observability.Metrics
	scannerOpts []scanner.Option

	mu       sync.RWMutex
	failures map[string]scanner.ScanFailure
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records listener and scanner activity.
func WithMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithScannerOptions passes options to every scanner the manager creates.
func WithScannerOptions(opts ...scanner.Option) ManagerOption {
	return func(m *Manager) {
		m.scannerOpts = append(m.scannerOpts, opts...)
	}
}

// NewManager creates a stopped manager watching cfg.SearchDirs.
func NewManager(cfg listener.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:     repository.New(),
		logger:   slog.Default(),
		failures: make(map[string]scanner.ScanFailure),
	}
	for _, opt := range opts {
		opt(m)
	}

	scanOpts := []scanner.Option{scanner.WithLogger(m.logger)}
	if m.metrics != nil {
		scanOpts = append(scanOpts, scanner.WithMetrics(m.metrics))
		cfg.Metrics = m.metrics
	}
	scanOpts = append(scanOpts, m.scannerOpts...)

	m.processor = origins.NewProcessor(m.repo, func() origins.BatchScanner {
		return scanner.New(m.repo, scanOpts...)
	}, origins.WithLogger(m.logger))
	m.handler = m.processor.Handler(m.record)

	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	m.listener = listener.New(cfg, m)
	return m
}

// Repository returns the repository the manager scans into.
func (m *Manager) Repository() *repository.Repository {
	return m.repo
}

// Start enables the listener. Existing files are scanned in the background;
// Ready reports when that has finished.
func (m *Manager) Start(ctx context.Context) error {
	return m.listener.Enable(ctx)
}

// Ready reports whether the initial scan of the search directories is done.
func (m *Manager) Ready() bool {
	synced := m.listener.Synced()
	if synced == nil {
		return false
	}
	select {
	case <-synced:
		return true
	default:
		return false
	}
}

// ScanOnce scans the search directories once without watching them
// afterwards. It blocks until every existing file has been processed.
func (m *Manager) ScanOnce(ctx context.Context) error {
	if err := m.listener.Enable(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.listener.Close(); err != nil {
			m.logger.Warn("failed to stop listener", "error", err)
		}
	}()

	select {
	case <-m.listener.Synced():
		return nil
	case <-ctx.Done():
		return oops.Code("SCAN_INTERRUPTED").Wrapf(ctx.Err(), "scan interrupted")
	}
}

// Failures returns the files whose latest scan failed, sorted by path.
func (m *Manager) Failures() []scanner.ScanFailure {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]scanner.ScanFailure, 0, len(m.failures))
	for _, f := range m.failures {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Close stops the listener and waits for in-flight scans.
func (m *Manager) Close() error {
	return m.listener.Close()
}

// Added implements listener.Handler.
func (m *Manager) Added(ctx context.Context, added []pluginapi.Origin) {
	m.handler.Added(ctx, added)
}

// Removed implements listener.Handler.
func (m *Manager) Removed(ctx context.Context, removed []pluginapi.Origin) {
	m.mu.Lock()
	for _, o := range removed {
		delete(m.failures, o.Key())
	}
	m.mu.Unlock()
	m.handler.Removed(ctx, removed)
}

func (m *Manager) record(result scanner.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range result.Scanned {
		delete(m.failures, o.Key())
	}
	for _, f := range result.Failures {
		m.failures[f.Path] = f
	}
}
