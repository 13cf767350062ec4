// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with its oops code and context attached.
// Extra args are appended as slog key/value pairs.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	Log(context.Background(), logger, slog.LevelError, msg, err, args...)
}

// LogWarn is LogError at warning level, for failures that were absorbed.
func LogWarn(logger *slog.Logger, msg string, err error, args ...any) {
	Log(context.Background(), logger, slog.LevelWarn, msg, err, args...)
}

// Log logs err at the given level. For oops errors the code and context are
// logged as separate attributes; other errors are logged as a string.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, args ...any) {
	attrs := make([]any, 0, len(args)+6)
	attrs = append(attrs, args...)
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil {
			attrs = append(attrs, "code", code)
		}
		if octx := oopsErr.Context(); len(octx) > 0 {
			attrs = append(attrs, "context", octx)
		}
	} else {
		attrs = append(attrs, "error", err)
	}
	logger.Log(ctx, level, msg, attrs...)
}

// Code returns the oops code of err, or "" when err carries none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
