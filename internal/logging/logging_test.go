// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/agentchat/internal/config"
)

func TestNewConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Logging
	cfg.Level = "warn"

	l, err := New(cfg, &buf)
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", zap.String("op", "checkAuth"))
	require.NoError(t, l.Close())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "checkAuth")
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default().Logging
	cfg.Level = "debug"
	cfg.Format = "json"

	l, err := New(cfg, &buf)
	require.NoError(t, err)
	l.Debug("request", zap.Int("status", 200))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "request", entry["message"])
	assert.Equal(t, "agentchat", entry["logger"])
	assert.Equal(t, float64(200), entry["status"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(config.Default().Logging, &buf)
	require.NoError(t, err)
	child := l.Named("transport")

	child.Debug("before")
	require.NoError(t, l.SetLevel("debug"))
	assert.Equal(t, zapcore.DebugLevel, l.Level())
	child.Debug("after")

	assert.NotContains(t, buf.String(), "before")
	assert.Contains(t, buf.String(), "after")
	assert.Error(t, l.SetLevel("loud"))
}

func TestNewRejectsBadLevel(t *testing.T) {
	cfg := config.Default().Logging
	cfg.Level = "loud"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agentchat.log")
	cfg := config.Default().Logging
	cfg.File = path
	cfg.Level = "info"

	l, err := New(cfg, nil)
	require.NoError(t, err)
	l.Info("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("ignored")
	assert.NoError(t, l.Close())
}
