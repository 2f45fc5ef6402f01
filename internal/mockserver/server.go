// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mockserver is an in-memory stand-in for the chat backend.
//
// It serves the same routes and JSON shapes as the real service, keeps
// users, sessions and conversations in memory, and can inject faults
// (forced status codes and delays) per route. It backs the package tests
// and the `agentchat mock-server` command.
package mockserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Route names, usable with FailNext, SetDelay and Hits.
const (
	RouteRegister   = "register"
	RouteLogin      = "login"
	RouteLogout     = "logout"
	RouteCheckAuth  = "check_auth"
	RouteChat       = "send_message"
	RouteStatus     = "system_status"
	RouteHealth     = "health"
	RouteListChats  = "list_chats"
	RouteGetChat    = "get_chat"
	RouteCreateChat = "create_chat"
	RouteUpdateChat = "update_chat"
	RouteRenameChat = "rename_chat"
	RouteDeleteChat = "delete_chat"
)

// SessionCookie is the name of the session cookie.
const SessionCookie = "session"

// Responder produces the assistant's reply to a message.
type Responder func(user, message string) (string, map[string]any, error)

// EchoResponder answers with the message itself.
func EchoResponder(_ string, message string) (string, map[string]any, error) {
	return "You said: " + message, map[string]any{"agent": "echo"}, nil
}

// Options configures a Server.
type Options struct {
	// SessionTTL expires sessions after this long. Zero keeps them forever.
	SessionTTL time.Duration
	// Responder answers chat messages. Defaults to EchoResponder.
	Responder Responder
	// Agents is reported by the status route.
	Agents []string
	// Logger logs every request at debug level.
	Logger *zap.Logger
	// Now overrides the clock.
	Now func() time.Time
}

type fault struct {
	status    int
	remaining int
	body      string
}

// Server is the fake backend. It implements http.Handler.
type Server struct {
	router *mux.Router
	opts   Options
	log    *zap.Logger

	mu       sync.Mutex
	users    map[string]*user // by username
	sessions map[string]*session
	chats    map[string]*chat
	nextUser int
	requests int
	faults   map[string]*fault
	delays   map[string]time.Duration
	hits     map[string]int
}

// New creates a server with empty state.
func New(opts Options) *Server {
	if opts.Responder == nil {
		opts.Responder = EchoResponder
	}
	if opts.Agents == nil {
		opts.Agents = []string{"enhanced_orchestrator", "enhanced_coder", "researcher"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		users:    make(map[string]*user),
		sessions: make(map[string]*session),
		chats:    make(map[string]*chat),
		faults:   make(map[string]*fault),
		delays:   make(map[string]time.Duration),
		hits:     make(map[string]int),
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter().UseEncodedPath()
	r.Use(s.instrument)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost).Name(RouteRegister)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost).Name(RouteLogin)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost).Name(RouteLogout)
	api.HandleFunc("/auth/check-auth", s.handleCheckAuth).Methods(http.MethodGet).Name(RouteCheckAuth)

	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost).Name(RouteChat)
	api.HandleFunc("/chat/status", s.handleStatus).Methods(http.MethodGet).Name(RouteStatus)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet).Name(RouteHealth)

	api.HandleFunc("/chats/user/{userId}", s.handleListChats).Methods(http.MethodGet).Name(RouteListChats)
	api.HandleFunc("/chats", s.handleCreateChat).Methods(http.MethodPost).Name(RouteCreateChat)
	api.HandleFunc("/chats/{chatId}", s.handleGetChat).Methods(http.MethodGet).Name(RouteGetChat)
	api.HandleFunc("/chats/{chatId}", s.handleUpdateChat).Methods(http.MethodPut).Name(RouteUpdateChat)
	api.HandleFunc("/chats/{chatId}", s.handleDeleteChat).Methods(http.MethodDelete).Name(RouteDeleteChat)
	api.HandleFunc("/chats/{chatId}/title", s.handleRenameChat).Methods(http.MethodPatch).Name(RouteRenameChat)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// FailNext makes the next n requests to route answer with status and an
// {"error": message} body. An empty message sends "{}".
func (s *Server) FailNext(route string, status, n int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := "{}"
	if message != "" {
		data, _ := json.Marshal(map[string]string{"error": message})
		body = string(data)
	}
	s.faults[route] = &fault{status: status, remaining: n, body: body}
}

// SetDelay holds every request to route for d before handling it.
// Zero removes the delay.
func (s *Server) SetDelay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, route)
		return
	}
	s.delays[route] = d
}

// Hits returns how many requests reached route, including faulted ones.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Reset clears faults, delays and hit counters. Users, sessions and chats
// are kept.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*fault)
	s.delays = make(map[string]time.Duration)
	s.hits = make(map[string]int)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}

		s.mu.Lock()
		s.hits[name]++
		delay := s.delays[name]
		var forced *fault
		if f := s.faults[name]; f != nil && f.remaining > 0 {
			f.remaining--
			forced = &fault{status: f.status, body: f.body}
		}
		s.mu.Unlock()

		s.log.Debug("mock request",
			zap.String("route", name),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-r.Context().Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		if forced != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(forced.status)
			_, _ = w.Write([]byte(forced.body))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// JSON HELPERS
// =============================================================================

// muxVar returns the unescaped route variable.
func muxVar(r *http.Request, name string) string {
	v := mux.Vars(r)[name]
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody reads a JSON object into v. It returns false and writes a
// 400 when the body is not valid JSON.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
