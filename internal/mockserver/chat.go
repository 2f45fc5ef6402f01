// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockserver

import (
	"net/http"
	"sort"
	"strings"

	"github.com/google/uuid"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	u, _ := s.currentUser(r)
	if u == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req struct {
		Message *string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == nil {
		writeError(w, http.StatusBadRequest, `Invalid request body, "message" field is missing`)
		return
	}
	if strings.TrimSpace(*req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message content cannot be empty")
		return
	}

	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	reply, meta, err := s.opts.Responder(u.Username, *req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"response": reply,
		"metadata": meta,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := s.requests
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "active",
		"agents":           s.opts.Agents,
		"session_requests": n,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Server is running"})
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

type message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

type chat struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Messages    []message `json:"messages"`
	CreatedAt   string    `json:"createdAt"`
	LastUpdated string    `json:"lastUpdated"`
}

type chatSummary struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Preview     string `json:"preview,omitempty"`
	CreatedAt   string `json:"createdAt"`
	LastUpdated string `json:"lastUpdated"`
}

const (
	previewLen = 100
	titleLen   = 50
)

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (s *Server) now() string {
	return s.opts.Now().UTC().Format("2006-01-02T15:04:05.000000")
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	userID := muxVar(r, "userId")

	s.mu.Lock()
	out := make([]chatSummary, 0)
	for _, c := range s.chats {
		if c.UserID != userID {
			continue
		}
		sum := chatSummary{
			ID: c.ID, UserID: c.UserID, Title: c.Title,
			CreatedAt: c.CreatedAt, LastUpdated: c.LastUpdated,
		}
		if len(c.Messages) > 0 {
			sum.Preview = truncate(c.Messages[len(c.Messages)-1].Content, previewLen)
		}
		out = append(out, sum)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUpdated == out[j].LastUpdated {
			return out[i].ID < out[j].ID
		}
		return out[i].LastUpdated > out[j].LastUpdated
	})
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.chats[muxVar(r, "chatId")]
	var cp chat
	if ok {
		cp = *c
		cp.Messages = append([]message{}, c.Messages...)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Title  string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "User ID required")
		return
	}
	if req.Title == "" {
		req.Title = "New Chat"
	}

	now := s.now()
	c := &chat{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Title:       req.Title,
		Messages:    []message{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.mu.Lock()
	s.chats[c.ID] = c
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUpdateChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []message `json:"messages"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[muxVar(r, "chatId")]
	if !ok {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	c.Messages = append([]message{}, req.Messages...)
	c.LastUpdated = s.now()
	// The first message names the conversation.
	if len(req.Messages) == 1 {
		first := req.Messages[0].Content
		title := truncate(first, titleLen)
		if title != first {
			title += "..."
		}
		c.Title = title
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Title required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[muxVar(r, "chatId")]
	if !ok {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	c.Title = req.Title
	c.LastUpdated = s.now()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.chats, muxVar(r, "chatId"))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
