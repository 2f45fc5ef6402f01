// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/util"
)

// FileVersion is the on-disk format version.
const FileVersion = 1

// =============================================================================
// STORE
// =============================================================================

// Store is a cookie jar that survives between invocations.
//
// It implements http.CookieJar for the transport and remembers every
// cookie the backend sets, with its expiry, so Save can write them out.
// Only cookies for the configured backend are persisted.
type Store struct {
	mu sync.Mutex

	path    string
	backend *url.URL
	jar     *cookiejar.Jar
	now     func() time.Time

	cookies      map[string]*http.Cookie // by name
	user         *backend.User
	lastActivity time.Time
	dirty        bool
}

// file is the JSON layout of the session file.
type file struct {
	Version      int           `json:"version"`
	Backend      string        `json:"backend"`
	SavedAt      time.Time     `json:"saved_at"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
	User         *backend.User `json:"user,omitempty"`
	Cookies      []cookie      `json:"cookies"`
}

type cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// Open creates a store for backendURL backed by path. A missing file is
// an empty session. A file written for a different backend is ignored.
func Open(path, backendURL string) (*Store, error) {
	return open(path, backendURL, time.Now)
}

func open(path, backendURL string, now func() time.Time) (*Store, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("session: invalid backend URL: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("session: cookie jar: %w", err)
	}
	s := &Store{
		path:    path,
		backend: u,
		jar:     jar,
		now:     now,
		cookies: make(map[string]*http.Cookie),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: read %s: %w", s.path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("session: parse %s: %w", s.path, err)
	}
	if f.Version != FileVersion || f.Backend != s.backend.String() {
		return nil
	}

	now := s.now()
	restored := make([]*http.Cookie, 0, len(f.Cookies))
	for _, c := range f.Cookies {
		if !c.Expires.IsZero() && !c.Expires.After(now) {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		s.cookies[c.Name] = hc
		restored = append(restored, hc)
	}
	s.jar.SetCookies(s.backend, restored)
	s.user = f.User
	s.lastActivity = f.LastActivity
	return nil
}

// SetCookies implements http.CookieJar.
func (s *Store) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar.SetCookies(u, cookies)
	if u.Host != s.backend.Host {
		return
	}

	now := s.now()
	for _, c := range cookies {
		cp := *c
		if cp.MaxAge > 0 {
			cp.Expires = now.Add(time.Duration(cp.MaxAge) * time.Second)
		}
		if cp.MaxAge < 0 || (!cp.Expires.IsZero() && !cp.Expires.After(now)) {
			delete(s.cookies, cp.Name)
		} else {
			s.cookies[cp.Name] = &cp
		}
	}
	s.dirty = true
}

// Cookies implements http.CookieJar.
func (s *Store) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jar.Cookies(u)
}

// =============================================================================
// SESSION STATE
// =============================================================================

// HasSession reports whether any unexpired backend cookie is held.
func (s *Store) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, c := range s.cookies {
		if c.Expires.IsZero() || c.Expires.After(now) {
			return true
		}
	}
	return false
}

// User returns the last user the backend confirmed, or nil.
func (s *Store) User() *backend.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// SetUser remembers the signed-in user. Nil forgets it.
func (s *Store) SetUser(u *backend.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u == nil {
		s.user = nil
	} else {
		cp := *u
		s.user = &cp
	}
	s.dirty = true
}

// RecordActivity marks the session as used now.
func (s *Store) RecordActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
	s.dirty = true
}

// LastActivity returns when the session was last used.
func (s *Store) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// IsDirty reports whether there are unsaved changes.
func (s *Store) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Clear forgets all cookies and the user. The jar is replaced so the
// next request carries no session.
func (s *Store) Clear() {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar = jar
	s.cookies = make(map[string]*http.Cookie)
	s.user = nil
	s.dirty = true
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Path returns the session file path.
func (s *Store) Path() string { return s.path }

// Save writes the session file with owner-only permissions. Clean stores
// are not rewritten.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty || s.path == "" {
		return nil
	}

	f := file{
		Version:      FileVersion,
		Backend:      s.backend.String(),
		SavedAt:      s.now().UTC(),
		LastActivity: s.lastActivity,
		User:         s.user,
		Cookies:      make([]cookie, 0, len(s.cookies)),
	}
	for _, c := range s.cookies {
		f.Cookies = append(f.Cookies, cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		})
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	if err := util.AtomicWriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	s.dirty = false
	return nil
}

// Remove deletes the session file and clears the store.
func (s *Store) Remove() error {
	s.Clear()
	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove: %w", err)
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// Status summarizes the stored session for display.
type Status struct {
	Backend      string        `json:"backend"`
	Path         string        `json:"path"`
	HasSession   bool          `json:"has_session"`
	User         *backend.User `json:"user,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
	Idle         time.Duration `json:"idle_ns,omitempty"`
}

// GetStatus returns the current session status.
func (s *Store) GetStatus() Status {
	st := Status{
		Backend:    s.backend.String(),
		Path:       s.path,
		HasSession: s.HasSession(),
		User:       s.User(),
	}
	st.LastActivity = s.LastActivity()
	if !st.LastActivity.IsZero() {
		st.Idle = s.now().Sub(st.LastActivity)
	}
	return st
}

// FormatDuration formats a duration for display, e.g. "2h 5m" or "42s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}
