// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/backend"
)

func openTemp(t *testing.T) *History {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "db", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRecordAndRecent(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, prompt := range []string{"first", "second", "third"} {
		id, err := h.Record(ctx, Exchange{
			Backend:   "http://localhost:5000",
			Username:  "ada",
			Prompt:    prompt,
			Reply:     "You said: " + prompt,
			Status:    200,
			Duration:  1500 * time.Millisecond,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	recent, err := h.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Prompt)
	assert.Equal(t, "second", recent[1].Prompt)
	assert.Equal(t, 1500*time.Millisecond, recent[0].Duration)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(2*time.Minute)))
	assert.True(t, recent[0].Succeeded())

	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecordFailure(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	_, err := h.Record(ctx, Exchange{Backend: "b", Prompt: "hi", Error: "Service unavailable", Status: 503})
	require.NoError(t, err)

	recent, err := h.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Succeeded())
	assert.Equal(t, 503, recent[0].Status)
	assert.False(t, recent[0].CreatedAt.IsZero())
}

func TestSearch(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()
	for _, p := range []string{"How do Goroutines work?", "channels vs mutexes", "100% coverage", "snake_case names"} {
		_, err := h.Record(ctx, Exchange{Backend: "b", Prompt: p, Reply: "ok"})
		require.NoError(t, err)
	}

	got, err := h.Search(ctx, "goroutines", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "How do Goroutines work?", got[0].Prompt)

	got, err = h.Search(ctx, "%", 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "LIKE wildcards are matched literally")
	assert.Equal(t, "100% coverage", got[0].Prompt)

	got, err = h.Search(ctx, "_", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = h.Search(ctx, "  ", 10)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	got, err = h.Search(ctx, "nothing here", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClear(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.Record(ctx, Exchange{Backend: "b", Prompt: "p"})
		require.NoError(t, err)
	}
	n, err := h.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	count, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	h, err := Open(path)
	require.NoError(t, err)
	_, err = h.Record(ctx, Exchange{Backend: "b", Prompt: "remember me"})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()
	recent, err := h.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "remember me", recent[0].Prompt)
}

func TestClosed(t *testing.T) {
	h := openTemp(t)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	_, err := h.Record(context.Background(), Exchange{Prompt: "x"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = h.Recent(context.Background(), 1)
	assert.ErrorIs(t, err, ErrClosed)

	var nilHistory *History
	_, err = nilHistory.Count(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func sampleChat() *backend.Chat {
	return &backend.Chat{
		ID:          "c1",
		UserID:      "user_1",
		Title:       "Goroutines",
		CreatedAt:   "2025-03-01T09:00:00",
		LastUpdated: "2025-03-01T09:05:00",
		Messages: []backend.Message{
			{Role: "user", Content: "How do goroutines work?", Timestamp: "09:00"},
			{Role: "assistant", Content: "They are scheduled by the runtime."},
			{Role: "tool", Content: "lookup"},
		},
	}
}

func TestExportMarkdown(t *testing.T) {
	md := ExportMarkdown(sampleChat())
	assert.True(t, strings.HasPrefix(md, "# Goroutines\n"))
	assert.Contains(t, md, "Chat: c1")
	assert.Contains(t, md, "**User** (09:00):\n\nHow do goroutines work?")
	assert.Contains(t, md, "**Assistant**:\n\nThey are scheduled by the runtime.")
	assert.Contains(t, md, "**Tool**:")

	untitled := ExportMarkdown(&backend.Chat{ID: "c2"})
	assert.True(t, strings.HasPrefix(untitled, "# "+backend.DefaultChatTitle))
}

func TestSaveChat(t *testing.T) {
	dir := t.TempDir()
	chat := sampleChat()

	jsonPath := filepath.Join(dir, "chat.json")
	require.Equal(t, FormatJSON, FormatForPath(jsonPath))
	require.NoError(t, SaveChat(chat, jsonPath, FormatForPath(jsonPath)))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded backend.Chat
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, chat.Title, decoded.Title)
	assert.Len(t, decoded.Messages, 3)

	mdPath := filepath.Join(dir, "chat.md")
	require.Equal(t, FormatMarkdown, FormatForPath(mdPath))
	require.NoError(t, SaveChat(chat, mdPath, FormatMarkdown))
	data, err = os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Goroutines")

	assert.Error(t, SaveChat(chat, mdPath, Format("pdf")))
}
