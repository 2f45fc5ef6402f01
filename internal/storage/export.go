// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/util"
)

// Format is a chat export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// FormatForPath picks the format from a file extension. Anything other
// than .json is Markdown.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatMarkdown
}

// ExportMarkdown renders a chat as Markdown with role labels.
func ExportMarkdown(c *backend.Chat) string {
	var sb strings.Builder
	title := c.Title
	if title == "" {
		title = backend.DefaultChatTitle
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("Chat: " + c.ID + "\n")
	if c.CreatedAt != "" {
		sb.WriteString("Created: " + c.CreatedAt + "\n")
	}
	if c.LastUpdated != "" {
		sb.WriteString("Updated: " + c.LastUpdated + "\n")
	}
	sb.WriteString("\n---\n\n")

	for _, msg := range c.Messages {
		sb.WriteString(roleLabel(msg.Role))
		if msg.Timestamp != "" {
			sb.WriteString(" (" + msg.Timestamp + ")")
		}
		sb.WriteString(":\n\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "**User**"
	case "assistant":
		return "**Assistant**"
	case "system":
		return "**System**"
	case "":
		return "**Unknown**"
	default:
		return "**" + strings.ToUpper(role[:1]) + role[1:] + "**"
	}
}

// ExportJSON renders a chat as indented JSON.
func ExportJSON(c *backend.Chat) ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// SaveChat writes c to path in the given format with owner-only
// permissions.
func SaveChat(c *backend.Chat, path string, format Format) error {
	var data []byte
	switch format {
	case FormatJSON:
		b, err := ExportJSON(c)
		if err != nil {
			return fmt.Errorf("failed to encode chat: %w", err)
		}
		data = b
	case FormatMarkdown, "":
		data = []byte(ExportMarkdown(c))
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}
