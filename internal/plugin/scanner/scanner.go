// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package scanner extracts type and part metadata from plugin files without
// loading them into the host. Each batch runs in its own sandbox; every file
// is described by a separate child process and committed to the repository
// on its own, so one broken file never blocks the rest of the batch.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/plugscan/plugscan/internal/logging"
	"github.com/plugscan/plugscan/internal/plugin/goplugin"
	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
	"github.com/plugscan/plugscan/pkg/errutil"
	"github.com/plugscan/plugscan/pkg/plugin"
)

// Repository receives the metadata of each successfully scanned file.
type Repository interface {
	Commit(origin plugin.Origin, types []plugin.TypeDefinition, parts []plugin.PartDefinition) error
}

// Sandbox describes plugin files in an isolated context and kills every
// process it started when closed.
type Sandbox interface {
	Describe(ctx context.Context, path string) (*catalogv1.DescribeResponse, error)
	Close()
}

// Metrics records per-file scan outcomes.
type Metrics interface {
	ObserveScan(result string, elapsed time.Duration)
}

// Scan results reported to Metrics.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Scanner scans batches of plugin files into a repository.
type Scanner struct {
	repo         Repository
	newSandbox   func() Sandbox
	logger       *slog.Logger
	tracer       trace.Tracer
	metrics      Metrics
	constraint   *semver.Constraints
	concurrency  int
	startTimeout time.Duration
	retryBase    time.Duration
	retries      uint64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. Plugin output is forwarded to it too.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// WithConcurrency bounds how many files of a batch are described at once.
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithStartTimeout bounds the plugin handshake.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Scanner) { s.startTimeout = d }
}

// WithSandbox replaces the go-plugin sandbox, typically in tests.
func WithSandbox(newSandbox func() Sandbox) Option {
	return func(s *Scanner) { s.newSandbox = newSandbox }
}

// WithTracer sets the tracer. Defaults to the global tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scanner) { s.tracer = tracer }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Scanner) { s.metrics = m }
}

// WithSDKConstraint sets the accepted plugin SDK versions.
func WithSDKConstraint(c *semver.Constraints) Option {
	return func(s *Scanner) { s.constraint = c }
}

// WithRetry configures the backoff used while a file is busy being written.
func WithRetry(base time.Duration, retries uint64) Option {
	return func(s *Scanner) {
		s.retryBase = base
		s.retries = retries
	}
}

// New creates a scanner committing into repo.
// Panics if repo is nil.
func New(repo Repository, opts ...Option) *Scanner {
	if repo == nil {
		panic("scanner: repository cannot be nil")
	}
	s := &Scanner{
		repo:         repo,
		logger:       slog.Default(),
		constraint:   defaultConstraint,
		concurrency:  runtime.GOMAXPROCS(0),
		startTimeout: goplugin.DefaultStartTimeout,
		retryBase:    100 * time.Millisecond,
		retries:      5,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/plugscan/plugscan/internal/plugin/scanner")
	}
	if s.newSandbox == nil {
		factory := &goplugin.DefaultClientFactory{
			Logger:       logging.NewHCLogBridge(s.logger, "plugin"),
			StartTimeout: s.startTimeout,
		}
		s.newSandbox = func() Sandbox { return goplugin.NewSandbox(factory) }
	}
	return s
}

// Scan describes every file of the batch and commits each successfully
// described file to the repository. Keys are paths; values are the origins
// recorded for them.
func (s *Scanner) Scan(ctx context.Context, origins map[string]plugin.Origin) Result {
	result := Result{BatchID: ulid.Make()}
	logger := s.logger.With("batch_id", result.BatchID.String())

	ctx, span := s.tracer.Start(ctx, "Scanner.Scan", trace.WithAttributes(
		attribute.String("batch.id", result.BatchID.String()),
		attribute.Int("batch.files", len(origins)),
	))
	defer span.End()

	if len(origins) == 0 {
		return result
	}

	paths := make([]string, 0, len(origins))
	for p := range origins {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sandbox := s.newSandbox()
	defer sandbox.Close()

	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, p := range paths {
		origin := origins[p]
		if origin.Path == "" {
			origin.Path = p
		}
		g.Go(func() error {
			errs[i] = s.scanFile(ctx, sandbox, origin, logger)
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range paths {
		if errs[i] == nil {
			o := origins[p]
			if o.Path == "" {
				o.Path = p
			}
			result.Scanned = append(result.Scanned, o)
			continue
		}
		failure := ScanFailure{
			Path:  p,
			Cause: oops.Code("SCAN_FAILED").With("path", p).Wrapf(errs[i], "scan %s", p),
		}
		errutil.LogWarn(logger, "plugin scan failed", failure, "path", p)
		result.Failures = append(result.Failures, failure)
	}

	span.SetAttributes(
		attribute.Int("batch.scanned", len(result.Scanned)),
		attribute.Int("batch.failed", len(result.Failures)),
	)
	logger.Info("scan batch complete",
		"scanned", len(result.Scanned),
		"failed", len(result.Failures))
	return result
}

func (s *Scanner) scanFile(ctx context.Context, sandbox Sandbox, origin plugin.Origin, logger *slog.Logger) (err error) {
	ctx, span := s.tracer.Start(ctx, "Scanner.scanFile",
		trace.WithAttributes(attribute.String("plugin.path", origin.Path)))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while scanning: %v", r)
		}
		outcome := ResultOK
		if err != nil {
			outcome = ResultFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if s.metrics != nil {
			s.metrics.ObserveScan(outcome, time.Since(start))
		}
		span.End()
	}()

	resp, err := s.describe(ctx, sandbox, origin.Path)
	if err != nil {
		return err
	}
	if resp != nil {
		forward(ctx, logger.With("plugin", origin.Path), resp.Diagnostics)
	}
	if err := validate(resp, s.constraint); err != nil {
		return err
	}
	if err := s.repo.Commit(origin, resp.Types, resp.Parts); err != nil {
		return err
	}
	logger.Debug("plugin scanned",
		"plugin", origin.Path,
		"assembly", resp.Assembly,
		"types", len(resp.Types),
		"parts", len(resp.Parts))
	return nil
}

// describe asks the sandbox for the file's catalog, retrying while the file
// is still held open for writing.
func (s *Scanner) describe(ctx context.Context, sandbox Sandbox, path string) (*catalogv1.DescribeResponse, error) {
	var resp *catalogv1.DescribeResponse
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := sandbox.Describe(ctx, path)
		if err != nil {
			if errors.Is(err, syscall.ETXTBSY) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// forward re-emits diagnostics produced inside the plugin on the host logger.
func forward(ctx context.Context, logger *slog.Logger, diags []catalogv1.Diagnostic) {
	for _, d := range diags {
		args := make([]any, 0, 2*len(d.Attrs))
		keys := make([]string, 0, len(d.Attrs))
		for k := range d.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, k, d.Attrs[k])
		}
		logger.Log(ctx, diagnosticLevel(d.Level), d.Message, args...)
	}
}

func diagnosticLevel(l catalogv1.Level) slog.Level {
	switch l {
	case catalogv1.LevelDebug:
		return slog.LevelDebug
	case catalogv1.LevelWarn:
		return slog.LevelWarn
	case catalogv1.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
