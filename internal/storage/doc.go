// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for agentchat.
//
// History keeps every message sent through the CLI in a SQLite database
// (~/.agentchat/history.db) so it can be listed and searched offline.
// SaveChat writes a backend conversation to a Markdown or JSON file.
//
// # Usage
//
//	h, err := storage.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//	h.Record(ctx, storage.Exchange{Backend: url, Prompt: text, Reply: reply.Response})
package storage
