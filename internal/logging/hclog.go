// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/hashicorp/go-hclog"
)

// LevelTrace is the slog level hclog's trace level maps to.
const LevelTrace = slog.LevelDebug - 4

// NewHCLogBridge returns an hclog.Logger whose records are re-emitted on
// logger. go-plugin forwards each JSON line a plugin writes to stderr through
// its hclog logger, so plugin diagnostics end up as structured host records.
func NewHCLogBridge(logger *slog.Logger, name string) hclog.Logger {
	il := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   name,
		Level:  hclog.Trace,
		Output: io.Discard,
	})
	il.RegisterSink(&slogSink{logger: logger})
	return il
}

type slogSink struct {
	logger *slog.Logger
}

// Accept implements hclog.SinkAdapter.
func (s *slogSink) Accept(name string, level hclog.Level, msg string, args ...interface{}) {
	l := slogLevel(level)
	ctx := context.Background()
	if !s.logger.Enabled(ctx, l) {
		return
	}
	if name != "" {
		args = append([]interface{}{"logger", name}, args...)
	}
	s.logger.Log(ctx, l, msg, args...)
}

func slogLevel(level hclog.Level) slog.Level {
	switch level {
	case hclog.Trace:
		return LevelTrace
	case hclog.Debug:
		return slog.LevelDebug
	case hclog.Warn:
		return slog.LevelWarn
	case hclog.Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
