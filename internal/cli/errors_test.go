// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"usage", usagef("bad flag"), ExitUsageError},
		{"config", &ConfigError{Err: errors.New("bad file")}, ExitConfigError},
		{"validation errors", config.ValidateErrors{{Field: "cache.ttl", Message: "too long"}}, ExitConfigError},
		{"not signed in", ErrNotSignedIn, ExitAuthError},
		{"wrapped not signed in", fmt.Errorf("chats: %w", ErrNotSignedIn), ExitAuthError},
		{"unauthorized", apierr.FromStatus(http.StatusUnauthorized, "Invalid username or password"), ExitAuthError},
		{"forbidden", apierr.FromStatus(http.StatusForbidden, "Forbidden"), ExitAuthError},
		{"not found", apierr.FromStatus(http.StatusNotFound, "Chat not found"), ExitNotFoundError},
		{"server", apierr.FromStatus(http.StatusBadGateway, "Bad gateway"), ExitServerError},
		{"transport", apierr.New(apierr.KindTransport, "refused"), ExitNetworkError},
		{"timeout", apierr.New(apierr.KindTimeout, "slow"), ExitTimeoutError},
		{"canceled", apierr.New(apierr.KindCanceled, "stop"), ExitInterrupted},
		{"local validation", apierr.New(apierr.KindValidation, "Message is empty"), ExitUsageError},
		{"parse", apierr.New(apierr.KindParse, "garbled"), ExitServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayErrorText(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, "agentchat send", apierr.New(apierr.KindTimeout, "Request timed out"), false)
	out := buf.String()
	assert.Contains(t, out, "Request timed out")
	assert.Contains(t, out, "--timeout")
}

func TestDisplayErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, "agentchat chats show", apierr.FromStatus(http.StatusNotFound, "Chat not found"), true)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "Chat not found", *resp.Error)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "agentchat chats show", resp.Command)
	assert.NotEmpty(t, resp.Kind)
}

func TestWriteChatTable(t *testing.T) {
	chats := []backend.Chat{
		{ID: "c1", Title: "Trip", Preview: "pack the\ntent", LastUpdated: "2025-03-01T10:00:00.123456"},
		{ID: "c22", Title: strings.Repeat("long title ", 10)},
	}
	var buf bytes.Buffer
	writeChatTable(&buf, chats, 120)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "PREVIEW")
	assert.Contains(t, lines[1], "2025-03-01 10:00:00")
	assert.Contains(t, lines[1], "pack the tent")
	assert.Contains(t, lines[2], "...")
}

func TestWriteChatTableNarrowDropsPreview(t *testing.T) {
	var buf bytes.Buffer
	writeChatTable(&buf, []backend.Chat{{ID: "c1", Title: "Trip", Preview: "hidden"}}, 60)
	assert.NotContains(t, buf.String(), "hidden")
	assert.NotContains(t, buf.String(), "PREVIEW")
}

func TestRetryPolicyFromConfig(t *testing.T) {
	assert.Equal(t, 1, retryPolicy(config.RetryConfig{Disabled: true, MaxRetries: 2}).MaxAttempts())
	assert.Equal(t, 1, retryPolicy(config.RetryConfig{MaxRetries: 0}).MaxAttempts())
	p := retryPolicy(config.RetryConfig{MaxRetries: 2, BaseDelay: config.D(10)})
	assert.Equal(t, 3, p.MaxAttempts())
}

func TestMessageText(t *testing.T) {
	a := &app{}
	_, err := a.messageText([]string{"  "})
	var usage *UsageError
	assert.ErrorAs(t, err, &usage)

	_, a = newRootCommand(strings.NewReader("from stdin\n"), &bytes.Buffer{}, &bytes.Buffer{})
	text, err := a.messageText([]string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)
}
