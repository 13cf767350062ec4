// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), "line: %s", line)
		out = append(out, entry)
	}
	return out
}

func TestHCLogBridge_ForwardsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: LevelTrace}))

	bridge := NewHCLogBridge(logger, "scanner")
	bridge.With("path", "/plugins/a.plugin").Warn("catalog incomplete", "types", 3)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "catalog incomplete", entries[0]["msg"])
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, "scanner", entries[0]["logger"])
	assert.Equal(t, "/plugins/a.plugin", entries[0]["path"])
	assert.InDelta(t, 3, entries[0]["types"], 0)
}

func TestHCLogBridge_RespectsSlogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	bridge := NewHCLogBridge(logger, "")
	bridge.Trace("noise")
	bridge.Debug("noise")
	bridge.Error("failure")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "failure", entries[0]["msg"])
	assert.NotContains(t, entries[0], "logger")
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, LevelTrace, slogLevel(hclog.Trace))
	assert.Equal(t, slog.LevelDebug, slogLevel(hclog.Debug))
	assert.Equal(t, slog.LevelInfo, slogLevel(hclog.Info))
	assert.Equal(t, slog.LevelWarn, slogLevel(hclog.Warn))
	assert.Equal(t, slog.LevelError, slogLevel(hclog.Error))
	assert.Equal(t, slog.LevelInfo, slogLevel(hclog.NoLevel))
}
