// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"strings"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/transport"
)

// Operation fallbacks for conversation storage.
const (
	MsgListChatsFailed  = "Failed to fetch chats"
	MsgGetChatFailed    = "Failed to fetch chat"
	MsgCreateChatFailed = "Failed to create chat"
	MsgUpdateChatFailed = "Failed to update chat"
	MsgRenameChatFailed = "Failed to update chat title"
	MsgDeleteChatFailed = "Failed to delete chat"
)

type chatList struct {
	Chats []Chat `json:"chats"`
}

type successResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// ListChats returns the user's conversations, most recent first, with
// previews instead of messages.
func (c *Client) ListChats(ctx context.Context, userID string) ([]Chat, error) {
	const op = "list_chats"
	if strings.TrimSpace(userID) == "" {
		return nil, validation(op, "User ID required")
	}
	resp, err := c.call(ctx, transport.Request{Endpoint: epListChats.Expand(userID)})
	if err != nil {
		return nil, normalize(op, MsgListChatsFailed, err)
	}
	var out chatList
	if err := decode(op, resp.Body, &out); err != nil {
		return nil, err
	}
	if out.Chats == nil {
		out.Chats = []Chat{}
	}
	return out.Chats, nil
}

// GetChat returns one conversation with its messages.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	const op = "get_chat"
	if strings.TrimSpace(chatID) == "" {
		return nil, validation(op, "Chat ID required")
	}
	resp, err := c.call(ctx, transport.Request{Endpoint: epGetChat.Expand(chatID)})
	if err != nil {
		return nil, normalize(op, MsgGetChatFailed, err)
	}
	var chat Chat
	if err := decode(op, resp.Body, &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

type createChatRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
}

// CreateChat starts an empty conversation. An empty title selects
// DefaultChatTitle.
func (c *Client) CreateChat(ctx context.Context, userID, title string) (*Chat, error) {
	const op = "create_chat"
	if strings.TrimSpace(userID) == "" {
		return nil, validation(op, "User ID required")
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultChatTitle
	}
	resp, err := c.call(ctx, transport.Request{
		Endpoint: epCreateChat,
		Body:     createChatRequest{UserID: userID, Title: title},
	})
	if err != nil {
		return nil, normalize(op, MsgCreateChatFailed, err)
	}
	var chat Chat
	if err := decode(op, resp.Body, &chat); err != nil {
		return nil, err
	}
	if chat.ID == "" {
		return nil, &apierr.Error{Kind: apierr.KindApplication, Message: MsgCreateChatFailed, Op: op, Status: resp.Status}
	}
	return &chat, nil
}

type updateChatRequest struct {
	Messages []Message `json:"messages"`
}

// UpdateChat replaces the conversation's messages.
func (c *Client) UpdateChat(ctx context.Context, chatID string, messages []Message) error {
	const op = "update_chat"
	if strings.TrimSpace(chatID) == "" {
		return validation(op, "Chat ID required")
	}
	if messages == nil {
		messages = []Message{}
	}
	return c.mutate(ctx, op, MsgUpdateChatFailed, transport.Request{
		Endpoint: epUpdateChat.Expand(chatID),
		Body:     updateChatRequest{Messages: messages},
	})
}

type renameChatRequest struct {
	Title string `json:"title"`
}

// UpdateChatTitle renames a conversation.
func (c *Client) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	const op = "rename_chat"
	if strings.TrimSpace(chatID) == "" {
		return validation(op, "Chat ID required")
	}
	if strings.TrimSpace(title) == "" {
		return validation(op, "Title required")
	}
	return c.mutate(ctx, op, MsgRenameChatFailed, transport.Request{
		Endpoint: epRenameChat.Expand(chatID),
		Body:     renameChatRequest{Title: title},
	})
}

// DeleteChat removes a conversation.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	const op = "delete_chat"
	if strings.TrimSpace(chatID) == "" {
		return validation(op, "Chat ID required")
	}
	return c.mutate(ctx, op, MsgDeleteChatFailed, transport.Request{Endpoint: epDeleteChat.Expand(chatID)})
}

// mutate issues a write whose reply is {"success": true}.
func (c *Client) mutate(ctx context.Context, op, fallback string, req transport.Request) error {
	resp, err := c.call(ctx, req)
	if err != nil {
		return normalize(op, fallback, err)
	}
	var out successResponse
	if err := decode(op, resp.Body, &out); err != nil {
		return err
	}
	if out.Success != nil && !*out.Success {
		msg := out.Error
		if msg == "" {
			msg = fallback
		}
		return &apierr.Error{Kind: apierr.KindApplication, Message: msg, Op: op, Status: resp.Status}
	}
	return nil
}
