// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"encoding/json"
	"time"
)

// ID is an identifier the backend may encode as a JSON string or number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// String returns the id.
func (id ID) String() string { return string(id) }

// =============================================================================
// AUTH
// =============================================================================

// User is the identity returned by the auth endpoints.
type User struct {
	ID       ID     `json:"id"`
	UID      string `json:"uid,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Key returns the identifier used in per-user routes: the uid when
// present, otherwise the id.
func (u *User) Key() string {
	if u == nil {
		return ""
	}
	if u.UID != "" {
		return u.UID
	}
	return string(u.ID)
}

// Credentials is the login payload.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the register payload.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Reasons reported by CheckAuth when Authenticated is false. The first
// three come from the backend; the rest are produced locally.
const (
	ReasonNoSession       = "no_session"
	ReasonSessionExpired  = "session_expired"
	ReasonUserNotFound    = "user_not_found"
	ReasonNetworkError    = "network_error"
	ReasonUnauthorized    = "unauthorized"
	ReasonServerError     = "server_error"
	ReasonInvalidResponse = "invalid_response"
)

// AuthStatus is the result of a session check.
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	User          *User  `json:"user,omitempty"`
	Reason        string `json:"reason,omitempty"`
	// Cached is set when the answer came from the response cache.
	Cached bool `json:"-"`
}

// =============================================================================
// CHAT
// =============================================================================

// Stage is an advisory progress marker for SendMessage.
type Stage string

const (
	StageSending    Stage = "sending"
	StageProcessing Stage = "processing"
	StageReceived   Stage = "received"
)

// SendOptions tunes a SendMessage call.
type SendOptions struct {
	// Timeout overrides the long-call default when positive.
	Timeout time.Duration
	// OnProgress receives advisory stage changes, serialized and in order.
	// It may run on a transport goroutine and must not block.
	OnProgress func(Stage)
}

// Reply is the assistant's answer to a message.
type Reply struct {
	Success   bool           `json:"success"`
	Response  string         `json:"response"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"-"`
	Duration  time.Duration  `json:"-"`
}

// SystemStatus describes the backend's agent system.
type SystemStatus struct {
	Status          string   `json:"status"`
	Agents          []string `json:"agents"`
	SessionRequests int      `json:"session_requests"`
	// Degraded is set when the value is a local fallback.
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Health is the backend liveness answer.
type Health struct {
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StatusDisconnected is reported by degraded status and health answers.
const StatusDisconnected = "disconnected"

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Message is one turn in a stored conversation.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Chat is a stored conversation. List views carry Preview instead of
// Messages.
type Chat struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages,omitempty"`
	Preview     string    `json:"preview,omitempty"`
	CreatedAt   string    `json:"createdAt,omitempty"`
	LastUpdated string    `json:"lastUpdated,omitempty"`
}

// DefaultChatTitle is used when CreateChat is given no title.
const DefaultChatTitle = "New Chat"
