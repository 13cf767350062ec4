// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package config_test

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugscan/plugscan/internal/config"
	"github.com/plugscan/plugscan/internal/plugin/listener"
	"github.com/plugscan/plugscan/pkg/errutil"
)

// isolate points the XDG directories at a temporary home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))
	return home
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func flagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterGlobalFlags(fs)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefault(t *testing.T) {
	home := isolate(t)

	cfg := config.Default()

	assert.Equal(t, []string{filepath.Join(home, "data", "plugscan", "plugins")}, cfg.SearchDirs)
	assert.Equal(t, []string{listener.DefaultExtension}, cfg.Extensions)
	assert.Equal(t, listener.DefaultDebounce, cfg.Debounce)
	assert.Equal(t, listener.DefaultBatchWindow, cfg.BatchWindow)
	assert.Equal(t, config.DefaultLogFormat, cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolate(t)

	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	want := config.Default()
	assert.Equal(t, want.SearchDirs, cfg.SearchDirs)
	assert.Equal(t, want.Debounce, cfg.Debounce)
	assert.Equal(t, want.StartTimeout, cfg.StartTimeout)
	assert.Equal(t, want.MetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, 0, cfg.ScanConcurrency)
}

func TestLoad_XDGConfigFile(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "config", "plugscan", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("log-level: debug\n"), 0o600))

	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	isolate(t)
	path := writeConfig(t, `
search-dirs:
  - /opt/plugins
  - /srv/plugins
extensions: [".so", ".plugin"]
ignore: ["*.tmp"]
debounce: 50ms
batch-window: 1s
scan-concurrency: 4
log-format: text
metrics-addr: ""
`)

	cfg, err := config.Load(path, flagSet(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/plugins", "/srv/plugins"}, cfg.SearchDirs)
	assert.Equal(t, []string{".so", ".plugin"}, cfg.Extensions)
	assert.Equal(t, []string{"*.tmp"}, cfg.Ignore)
	assert.Equal(t, 50*time.Millisecond, cfg.Debounce)
	assert.Equal(t, time.Second, cfg.BatchWindow)
	assert.Equal(t, 4, cfg.ScanConcurrency)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "unset keys keep flag defaults")
}

func TestLoad_ChangedFlagsOverrideFile(t *testing.T) {
	isolate(t)
	path := writeConfig(t, "debounce: 50ms\nlog-format: text\n")

	cfg, err := config.Load(path, flagSet(t, "--debounce=75ms", "--search-dirs=/a,/b"))
	require.NoError(t, err)

	assert.Equal(t, 75*time.Millisecond, cfg.Debounce)
	assert.Equal(t, []string{"/a", "/b"}, cfg.SearchDirs)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_Errors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"explicit file missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") }},
		{"unknown key", func(t *testing.T) string { return writeConfig(t, "colour: blue\n") }},
		{"wrong type", func(t *testing.T) string { return writeConfig(t, "scan-concurrency: many\n") }},
		{"bad enum", func(t *testing.T) string { return writeConfig(t, "log-format: xml\n") }},
		{"not yaml", func(t *testing.T) string { return writeConfig(t, "search-dirs: [\n") }},
		{"fails validation", func(t *testing.T) string { return writeConfig(t, "debounce: 0s\n") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.path(t), nil)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
	}{
		{"no search dirs", func(c *config.Config) { c.SearchDirs = nil }},
		{"empty search dir", func(c *config.Config) { c.SearchDirs = []string{" "} }},
		{"empty extension", func(c *config.Config) { c.Extensions = []string{"."} }},
		{"zero debounce", func(c *config.Config) { c.Debounce = 0 }},
		{"negative batch window", func(c *config.Config) { c.BatchWindow = -time.Second }},
		{"negative concurrency", func(c *config.Config) { c.ScanConcurrency = -1 }},
		{"zero start timeout", func(c *config.Config) { c.StartTimeout = 0 }},
		{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }},
		{"bad log level", func(c *config.Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.SearchDirs = []string{"/plugins"}
			tt.modify(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, config.ErrInvalid))
			errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		})
	}
}

func TestConfig_ComponentSettings(t *testing.T) {
	cfg := config.Default()
	cfg.SearchDirs = []string{"/plugins"}
	cfg.Ignore = []string{"*.bak"}
	logger := slog.New(slog.DiscardHandler)

	lc := cfg.ListenerConfig(logger)
	assert.Equal(t, cfg.SearchDirs, lc.SearchDirs)
	assert.Equal(t, cfg.Ignore, lc.Ignore)
	assert.Equal(t, cfg.Debounce, lc.Debounce)
	assert.Same(t, logger, lc.Logger)

	assert.Len(t, cfg.ScannerOptions(), 1)
	cfg.ScanConcurrency = 3
	assert.Len(t, cfg.ScannerOptions(), 2)
}

func TestGenerateSchema(t *testing.T) {
	data, err := config.GenerateSchema()
	require.NoError(t, err)

	var schema struct {
		Title                string                    `json:"title"`
		AdditionalProperties *bool                     `json:"additionalProperties"`
		Properties           map[string]map[string]any `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &schema))

	assert.Equal(t, "plugscan configuration", schema.Title)
	require.NotNil(t, schema.AdditionalProperties)
	assert.False(t, *schema.AdditionalProperties)
	for _, key := range []string{"search-dirs", "extensions", "ignore", "debounce", "batch-window", "scan-concurrency", "start-timeout", "log-format", "log-level", "metrics-addr"} {
		assert.Contains(t, schema.Properties, key)
	}
	assert.Equal(t, "string", schema.Properties["debounce"]["type"])
}

func TestValidateFile_EmptyDocument(t *testing.T) {
	assert.NoError(t, config.ValidateFile(nil))
	assert.NoError(t, config.ValidateFile([]byte("# nothing set\n")))
}
