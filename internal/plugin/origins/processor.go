// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package origins turns batches of added and removed plugin origins into
// scans and repository removals. It performs no filesystem I/O itself.
package origins

import (
	"context"
	"log/slog"

	"github.com/plugscan/plugscan/internal/plugin/scanner"
	"github.com/plugscan/plugscan/pkg/errutil"
	"github.com/plugscan/plugscan/pkg/plugin"
)

// Repository is the part of the plugin repository the processor needs.
type Repository interface {
	KnownPluginOrigins() []plugin.Origin
	RemovePlugins(origins []plugin.Origin) error
}

// BatchScanner scans one batch of files.
type BatchScanner interface {
	Scan(ctx context.Context, origins map[string]plugin.Origin) scanner.Result
}

// ScannerFactory returns a fresh scanner for each added batch.
type ScannerFactory func() BatchScanner

// Processor reacts to origin changes.
type Processor struct {
	repo    Repository
	factory ScannerFactory
	logger  *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

// NewProcessor creates a processor.
// Panics if repo or factory is nil.
func NewProcessor(repo Repository, factory ScannerFactory, opts ...Option) *Processor {
	if repo == nil {
		panic("origins: repository cannot be nil")
	}
	if factory == nil {
		panic("origins: scanner factory cannot be nil")
	}
	p := &Processor{
		repo:    repo,
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Added scans every origin not yet known to the repository. Origins the
// repository already tracks are skipped with a warning.
func (p *Processor) Added(ctx context.Context, added []plugin.Origin) scanner.Result {
	known := plugin.NewOriginSet(p.repo.KnownPluginOrigins()...)
	batch := make(map[string]plugin.Origin, len(added))
	for _, o := range added {
		if known.Contains(o) {
			p.logger.WarnContext(ctx, "origin already known, skipping", "origin", o.Path)
			continue
		}
		batch[o.Key()] = o
	}
	if len(batch) == 0 {
		return scanner.Result{}
	}
	return p.factory().Scan(ctx, batch)
}

// Removed removes the removed origins the repository knows about. Unknown
// origins are ignored; the repository is not touched when none is known.
func (p *Processor) Removed(ctx context.Context, removed []plugin.Origin) error {
	if len(removed) == 0 {
		return nil
	}
	wanted := plugin.NewOriginSet(removed...)
	var known []plugin.Origin
	for _, o := range p.repo.KnownPluginOrigins() {
		if wanted.Contains(o) {
			known = append(known, o)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if err := p.repo.RemovePlugins(known); err != nil {
		return err
	}
	p.logger.InfoContext(ctx, "plugins removed", "count", len(known))
	return nil
}

// Handler adapts the processor to the filesystem listener's callbacks.
// Every observer sees the result of each scanned batch.
func (p *Processor) Handler(observers ...func(scanner.Result)) *Handler {
	return &Handler{p: p, observers: observers}
}

// Handler receives listener batches and logs their outcome.
type Handler struct {
	p         *Processor
	observers []func(scanner.Result)
}

// Added implements listener.Handler.
func (h *Handler) Added(ctx context.Context, origins []plugin.Origin) {
	result := h.p.Added(ctx, origins)
	if len(result.Scanned)+len(result.Failures) == 0 {
		return
	}
	for _, observe := range h.observers {
		observe(result)
	}
	h.p.logger.InfoContext(ctx, "added batch processed",
		"batch_id", result.BatchID.String(),
		"scanned", len(result.Scanned),
		"failed", len(result.Failures))
}

// Removed implements listener.Handler.
func (h *Handler) Removed(ctx context.Context, origins []plugin.Origin) {
	if err := h.p.Removed(ctx, origins); err != nil {
		errutil.LogError(h.p.logger, "failed to remove plugins", err)
	}
}
