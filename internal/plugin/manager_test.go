// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package plugin_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	plugins "github.com/plugscan/plugscan/internal/plugin"
	"github.com/plugscan/plugscan/internal/observability"
	"github.com/plugscan/plugscan/internal/plugin/listener"
	"github.com/plugscan/plugscan/internal/plugin/scanner"
	catalogv1 "github.com/plugscan/plugscan/internal/rpc/catalogv1"
	"github.com/plugscan/plugscan/pkg/errutil"
	"github.com/plugscan/plugscan/pkg/plugin"
	"github.com/plugscan/plugscan/pkg/pluginsdk"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// fileSandbox describes a file from its contents: "catalog:<name>" yields a
// catalog with one part named after the file, anything else fails.
type fileSandbox struct{}

func (fileSandbox) Describe(_ context.Context, path string) (*catalogv1.DescribeResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name, ok := strings.CutPrefix(string(data), "catalog:")
	if !ok {
		return nil, errors.New("not a plugin")
	}
	id := plugin.TypeIdentity{FullName: "example.com/" + name + ".Impl", Assembly: "example.com/" + name + "@v1.0.0"}
	return &catalogv1.DescribeResponse{
		SDKVersion: pluginsdk.Version,
		Assembly:   id.Assembly,
		Types:      []plugin.TypeDefinition{{Identity: id}},
		Parts:      []plugin.PartDefinition{{Type: id}},
	}, nil
}

func (fileSandbox) Close() {}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newManager(t *testing.T, dirs []string, opts ...plugins.ManagerOption) *plugins.Manager {
	t.Helper()
	cfg := listener.Config{
		SearchDirs:  dirs,
		Debounce:    20 * time.Millisecond,
		BatchWindow: 20 * time.Millisecond,
	}
	opts = append([]plugins.ManagerOption{
		plugins.WithLogger(slog.New(slog.DiscardHandler)),
		plugins.WithScannerOptions(
			scanner.WithSandbox(func() scanner.Sandbox { return fileSandbox{} }),
			scanner.WithTracer(noop.NewTracerProvider().Tracer("test")),
		),
	}, opts...)
	m := plugins.NewManager(cfg, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_ScanOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha.plugin"), "catalog:alpha")
	writeFile(t, filepath.Join(dir, "nested", "beta.plugin"), "catalog:beta")
	writeFile(t, filepath.Join(dir, "corrupt.plugin"), "garbage")
	writeFile(t, filepath.Join(dir, "readme.md"), "catalog:readme")

	m := newManager(t, []string{dir})
	require.NoError(t, m.ScanOnce(context.Background()))

	repo := m.Repository()
	assert.Len(t, repo.KnownPluginOrigins(), 2)
	assert.Len(t, repo.Parts(), 2)
	ok, err := repo.ContainsDefinitionForName("example.com/alpha.Impl")
	require.NoError(t, err)
	assert.True(t, ok)

	failures := m.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, filepath.Join(dir, "corrupt.plugin"), failures[0].Path)
	errutil.AssertErrorCode(t, failures[0].Cause, "SCAN_FAILED")
}

func TestManager_ScanOnceMissingDirectory(t *testing.T) {
	m := newManager(t, []string{filepath.Join(t.TempDir(), "missing")})

	err := m.ScanOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, listener.ErrConfiguration)
	assert.False(t, m.Ready())
}

func TestManager_WatchFollowsChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha.plugin"), "catalog:alpha")

	m := newManager(t, []string{dir})
	assert.False(t, m.Ready())
	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, m.Ready, waitFor, tick)
	assert.Len(t, m.Repository().KnownPluginOrigins(), 1)

	writeFile(t, filepath.Join(dir, "broken.plugin"), "garbage")
	assert.Eventually(t, func() bool { return len(m.Failures()) == 1 }, waitFor, tick)

	require.NoError(t, os.Remove(filepath.Join(dir, "broken.plugin")))
	assert.Eventually(t, func() bool { return len(m.Failures()) == 0 }, waitFor, tick)

	require.NoError(t, os.Remove(filepath.Join(dir, "alpha.plugin")))
	assert.Eventually(t, func() bool {
		return len(m.Repository().KnownPluginOrigins()) == 0
	}, waitFor, tick)
	assert.Empty(t, m.Repository().Types())
}

func TestManager_RecordsMetrics(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "alpha.plugin"), "catalog:alpha")
	writeFile(t, filepath.Join(dir, "corrupt.plugin"), "garbage")

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	m := newManager(t, []string{dir}, plugins.WithMetrics(metrics))
	require.NoError(t, m.ScanOnce(context.Background()))

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ScansTotal.WithLabelValues(scanner.ResultOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ScansTotal.WithLabelValues(scanner.ResultFailed)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.BatchesTotal.WithLabelValues("added")), 0)
}
