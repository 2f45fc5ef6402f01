// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package mockserver

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type user struct {
	ID       string
	Username string
	Email    string
	Hash     []byte
}

type session struct {
	UserID   string
	Username string
	Created  time.Time
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func (u *user) view() userView {
	return userView{ID: u.ID, Username: u.Username, Email: u.Email}
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// validateRegistration applies the backend's account rules.
func validateRegistration(username, email, password string) string {
	switch {
	case username == "" || email == "" || password == "":
		return "All fields are required"
	case len(username) < 3:
		return "Username must be at least 3 characters long"
	case !emailPattern.MatchString(email):
		return "Invalid email format"
	case len(password) < 8:
		return "Password must be at least 8 characters long"
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return "Password must contain at least one letter and one number"
	}
	return ""
}

// AddUser registers an account directly, bypassing HTTP.
func (s *Server) AddUser(username, email, password string) error {
	if msg := validateRegistration(username, email, password); msg != "" {
		return fmt.Errorf("mockserver: %s", strings.ToLower(msg))
	}
	_, err := s.createUser(username, email, password)
	return err
}

var errUserExists = fmt.Errorf("mockserver: username already exists")

func (s *Server) createUser(username, email, password string) (*user, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return nil, errUserExists
	}
	s.nextUser++
	u := &user{
		ID:       fmt.Sprintf("user_%d", s.nextUser),
		Username: username,
		Email:    email,
		Hash:     hash,
	}
	s.users[username] = u
	return u, nil
}

func (s *Server) startSession(w http.ResponseWriter, u *user) {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = &session{UserID: u.ID, Username: u.Username, Created: s.opts.Now()}
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// currentUser resolves the request's session. reason is set when no user
// is found: no_session, session_expired or user_not_found.
func (s *Server) currentUser(r *http.Request) (u *user, reason string) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return nil, "no_session"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Value]
	if !ok {
		return nil, "no_session"
	}
	if s.opts.SessionTTL > 0 && s.opts.Now().Sub(sess.Created) > s.opts.SessionTTL {
		delete(s.sessions, c.Value)
		return nil, "session_expired"
	}
	u, ok = s.users[sess.Username]
	if !ok {
		delete(s.sessions, c.Value)
		return nil, "user_not_found"
	}
	return u, ""
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if msg := validateRegistration(req.Username, req.Email, req.Password); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	u, err := s.createUser(req.Username, req.Email, req.Password)
	if err == errUserExists {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}
	s.startSession(w, u)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    u.view(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	s.mu.Lock()
	u := s.users[strings.TrimSpace(req.Username)]
	s.mu.Unlock()
	if u == nil || bcrypt.CompareHashAndPassword(u.Hash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	s.startSession(w, u)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    u.view(),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, c.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	u, reason := s.currentUser(r)
	if u == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "reason": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": u.view()})
}
