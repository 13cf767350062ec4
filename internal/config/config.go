// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package config loads plugscan settings from flags and an optional YAML file.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/plugscan/plugscan/internal/logging"
	"github.com/plugscan/plugscan/internal/plugin/goplugin"
	"github.com/plugscan/plugscan/internal/plugin/listener"
	"github.com/plugscan/plugscan/internal/plugin/scanner"
	"github.com/plugscan/plugscan/internal/xdg"
)

// ErrInvalid is returned when the configuration cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Default values.
const (
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
	DefaultMetricsAddr = "127.0.0.1:9100"
)

// Config holds every plugscan setting. Keys are shared by flags and the file.
type Config struct {
	SearchDirs      []string      `koanf:"search-dirs" json:"search-dirs,omitempty" jsonschema:"description=Directories watched recursively for plugin files"`
	Extensions      []string      `koanf:"extensions" json:"extensions,omitempty" jsonschema:"description=File extensions treated as plugins"`
	Ignore          []string      `koanf:"ignore" json:"ignore,omitempty" jsonschema:"description=Glob patterns of paths to skip"`
	Debounce        time.Duration `koanf:"debounce" json:"debounce,omitempty" jsonschema:"type=string,description=Quiet period before a changed path settles"`
	BatchWindow     time.Duration `koanf:"batch-window" json:"batch-window,omitempty" jsonschema:"type=string,description=Window for collecting settled paths into one batch"`
	ScanConcurrency int           `koanf:"scan-concurrency" json:"scan-concurrency,omitempty" jsonschema:"minimum=0,description=Files described in parallel (0 uses GOMAXPROCS)"`
	StartTimeout    time.Duration `koanf:"start-timeout" json:"start-timeout,omitempty" jsonschema:"type=string,description=Plugin handshake timeout"`
	LogFormat       string        `koanf:"log-format" json:"log-format,omitempty" jsonschema:"enum=json,enum=text"`
	LogLevel        string        `koanf:"log-level" json:"log-level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	MetricsAddr     string        `koanf:"metrics-addr" json:"metrics-addr,omitempty" jsonschema:"description=Metrics and health HTTP address (empty disables it)"`
}

// Default returns the built-in configuration. The search directory is the
// XDG plugins directory when it can be resolved.
func Default() Config {
	cfg := Config{
		Extensions:   []string{listener.DefaultExtension},
		Debounce:     listener.DefaultDebounce,
		BatchWindow:  listener.DefaultBatchWindow,
		StartTimeout: goplugin.DefaultStartTimeout,
		LogFormat:    DefaultLogFormat,
		LogLevel:     DefaultLogLevel,
		MetricsAddr:  DefaultMetricsAddr,
	}
	if dir, err := xdg.PluginsDir(); err == nil {
		cfg.SearchDirs = []string{dir}
	}
	return cfg
}

// RegisterGlobalFlags adds the logging flags shared by every command.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "minimum log level (debug, info, warn, error)")
}

// RegisterFlags adds the discovery flags.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringSlice("search-dirs", d.SearchDirs, "directories watched for plugin files")
	fs.StringSlice("extensions", d.Extensions, "plugin file extensions")
	fs.StringSlice("ignore", nil, "glob patterns of paths to skip")
	fs.Duration("debounce", d.Debounce, "quiet period before a changed path settles")
	fs.Duration("batch-window", d.BatchWindow, "window for collecting settled paths into one batch")
	fs.Int("scan-concurrency", d.ScanConcurrency, "files described in parallel (0 uses GOMAXPROCS)")
	fs.Duration("start-timeout", d.StartTimeout, "plugin handshake timeout")
	fs.String("metrics-addr", d.MetricsAddr, "metrics/health HTTP address (empty = disabled)")
}

// Load builds the configuration from flag defaults, the YAML file at path
// and explicitly set flags, in increasing precedence. An empty path means the
// XDG config file, which may be absent. A nil flag set uses defaults only.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	if flags == nil {
		flags = pflag.NewFlagSet("plugscan", pflag.ContinueOnError)
		RegisterGlobalFlags(flags)
		RegisterFlags(flags)
	}

	optional := path == ""
	if optional {
		var err error
		if path, err = xdg.ConfigFile(); err != nil {
			optional, path = true, ""
		}
	}

	k := koanf.New(".")
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
		switch {
		case err == nil:
			if err := ValidateFile(data); err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
			}
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "load config file")
			}
		case optional && errors.Is(err, os.ErrNotExist):
		default:
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "read config file")
		}
	}

	// Unchanged flags only fill keys the file left unset.
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "load flags")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var problems []string
	if len(c.SearchDirs) == 0 {
		problems = append(problems, "search-dirs is required")
	}
	for _, d := range c.SearchDirs {
		if strings.TrimSpace(d) == "" {
			problems = append(problems, "search-dirs contains an empty entry")
			break
		}
	}
	for _, e := range c.Extensions {
		if strings.Trim(e, ". ") == "" {
			problems = append(problems, "extensions contains an empty entry")
			break
		}
	}
	if c.Debounce <= 0 {
		problems = append(problems, "debounce must be positive")
	}
	if c.BatchWindow <= 0 {
		problems = append(problems, "batch-window must be positive")
	}
	if c.ScanConcurrency < 0 {
		problems = append(problems, "scan-concurrency must not be negative")
	}
	if c.StartTimeout <= 0 {
		problems = append(problems, "start-timeout must be positive")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		problems = append(problems, "log-format must be 'json' or 'text', got \""+c.LogFormat+"\"")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, "log-level must be debug, info, warn or error, got \""+c.LogLevel+"\"")
	}
	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Wrapf(ErrInvalid, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// Level returns the parsed log level. Call Validate first.
func (c *Config) Level() slog.Level {
	level, _ := logging.ParseLevel(c.LogLevel)
	return level
}

// ListenerConfig returns the listener settings.
func (c *Config) ListenerConfig(logger *slog.Logger) listener.Config {
	return listener.Config{
		SearchDirs:  c.SearchDirs,
		Extensions:  c.Extensions,
		Ignore:      c.Ignore,
		Debounce:    c.Debounce,
		BatchWindow: c.BatchWindow,
		Logger:      logger,
	}
}

// ScannerOptions returns the scanner settings.
func (c *Config) ScannerOptions() []scanner.Option {
	opts := []scanner.Option{scanner.WithStartTimeout(c.StartTimeout)}
	if c.ScanConcurrency > 0 {
		opts = append(opts, scanner.WithConcurrency(c.ScanConcurrency))
	}
	return opts
}
