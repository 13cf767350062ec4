// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/plugscan/plugscan/internal/observability"
	plugins "github.com/plugscan/plugscan/internal/plugin"
)

// isolate points the XDG directories at a temporary home and resets globals.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	configFile = ""
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	isolate(t)
	output, _, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"watch", "scan", "schema"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
	assert.Contains(t, output, "--log-format")
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "config flag",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/plugscan.yaml", "--help"},
			wantFlag: "/etc/plugscan.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, _, err := execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestSchemaCommand(t *testing.T) {
	isolate(t)
	output, _, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &schema))
	assert.Contains(t, schema, "properties")
}

func TestScanCommand_EmptyDirectory(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	output, _, err := execute(t, "scan", "--log-level=error", dir)
	require.NoError(t, err)

	var report scanReport
	require.NoError(t, yaml.Unmarshal([]byte(output), &report))
	assert.Empty(t, report.Origins)
	assert.Empty(t, report.Failures)
}

func TestScanCommand_ReportsFailures(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.plugin")
	require.NoError(t, os.WriteFile(bad, []byte("not a program"), 0o600))

	output, _, err := execute(t, "scan", "-o", "json", "--log-level=error", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 plugin file(s) failed to scan")

	var report scanReport
	require.NoError(t, json.Unmarshal([]byte(output), &report))
	require.Len(t, report.Failures, 1)
	assert.Equal(t, bad, report.Failures[0].Path)
	assert.Empty(t, report.Origins)
}

func TestScanCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad output", []string{"scan", "-o", "xml"}, "output must be"},
		{"missing dir", []string{"scan", "/definitely/not/here"}, "scan failed"},
		{"bad log format", []string{"scan", "--log-format=xml"}, "invalid configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// fakeObsServer records how the watch command drives it.
type fakeObsServer struct {
	metrics  *observability.Metrics
	ready    observability.ReadinessChecker
	started  atomic.Bool
	stopped  atomic.Bool
	mu       sync.Mutex
	watching *plugins.Manager
}

func (f *fakeObsServer) Start() (<-chan error, error) {
	f.started.Store(true)
	return make(chan error), nil
}

func (f *fakeObsServer) Stop(context.Context) error {
	f.stopped.Store(true)
	return nil
}

func (f *fakeObsServer) Addr() string { return "fake" }

func (f *fakeObsServer) Metrics() *observability.Metrics { return f.metrics }

func (f *fakeObsServer) RegisterStats(mgr *plugins.Manager) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watching = mgr
}

func TestWatchCommand_RunsUntilCanceled(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	fake := &fakeObsServer{metrics: observability.NewMetrics(prometheus.NewRegistry())}
	deps := &WatchDeps{
		ObservabilityServerFactory: func(_ string, ready observability.ReadinessChecker, _ *slog.Logger) ObservabilityServer {
			fake.ready = ready
			return fake
		},
	}

	root := NewRootCmd()
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	watch, _, err := root.Find([]string{"watch"})
	require.NoError(t, err)
	watch.RunE = func(cmd *cobra.Command, _ []string) error {
		return runWatchWithDeps(cmd, deps)
	}
	root.SetArgs([]string{"watch", "--search-dirs", dir, "--metrics-addr", "127.0.0.1:0", "--log-level=error"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool {
		return fake.started.Load() && fake.ready()
	}, 5*time.Second, 10*time.Millisecond)
	fake.mu.Lock()
	assert.NotNil(t, fake.watching)
	fake.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
	assert.True(t, fake.stopped.Load())
}

func TestWatchCommand_MissingDirectory(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "watch", "--search-dirs", "/definitely/not/here", "--metrics-addr=", "--log-level=error")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to start watching"))
}
