// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/mockserver"
	"github.com/jeranaias/agentchat/internal/transport"
)

const testBackend = "http://chat.example.test"

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "session.json"), testBackend)
	require.NoError(t, err)
	assert.False(t, s.HasSession())
	assert.Nil(t, s.User())
	assert.False(t, s.IsDirty())
	require.NoError(t, s.Save())
	_, err = os.Stat(s.Path())
	assert.True(t, os.IsNotExist(err), "clean store is not written")
}

func TestSaveAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	u := mustURL(t, testBackend+"/api/auth/login")

	s, err := Open(path, testBackend)
	require.NoError(t, err)
	s.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc", Path: "/", HttpOnly: true}})
	s.SetUser(&backend.User{ID: "user_1", Username: "ada"})
	s.RecordActivity()
	require.True(t, s.IsDirty())
	require.NoError(t, s.Save())
	assert.False(t, s.IsDirty())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := Open(path, testBackend)
	require.NoError(t, err)
	assert.True(t, again.HasSession())
	require.NotNil(t, again.User())
	assert.Equal(t, "ada", again.User().Username)
	assert.False(t, again.LastActivity().IsZero())

	cookies := again.Cookies(mustURL(t, testBackend+"/api/chat"))
	require.Len(t, cookies, 1)
	assert.Equal(t, "abc", cookies[0].Value)
}

func TestOtherBackendIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path, testBackend)
	require.NoError(t, err)
	s.SetCookies(mustURL(t, testBackend), []*http.Cookie{{Name: "session", Value: "abc"}})
	require.NoError(t, s.Save())

	other, err := Open(path, "http://elsewhere.test")
	require.NoError(t, err)
	assert.False(t, other.HasSession())
}

func TestForeignHostCookiesNotPersisted(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "session.json"), testBackend)
	require.NoError(t, err)
	s.SetCookies(mustURL(t, "http://tracker.test/"), []*http.Cookie{{Name: "t", Value: "1"}})
	assert.False(t, s.HasSession())
}

func TestExpiredCookiesDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	s, err := open(path, testBackend, clock)
	require.NoError(t, err)
	s.SetCookies(mustURL(t, testBackend), []*http.Cookie{{Name: "session", Value: "abc", MaxAge: 60}})
	require.NoError(t, s.Save())

	now = now.Add(2 * time.Minute)
	again, err := open(path, testBackend, clock)
	require.NoError(t, err)
	assert.False(t, again.HasSession())
}

func TestDeletionCookieRemoves(t *testing.T) {
	s, err := Open("", testBackend)
	require.NoError(t, err)
	u := mustURL(t, testBackend)
	s.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc"}})
	require.True(t, s.HasSession())
	s.SetCookies(u, []*http.Cookie{{Name: "session", MaxAge: -1}})
	assert.False(t, s.HasSession())
	assert.Empty(t, s.Cookies(u))
}

func TestClearAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s, err := Open(path, testBackend)
	require.NoError(t, err)
	u := mustURL(t, testBackend)
	s.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc"}})
	s.SetUser(&backend.User{Username: "ada"})
	require.NoError(t, s.Save())

	require.NoError(t, s.Remove())
	assert.False(t, s.HasSession())
	assert.Nil(t, s.User())
	assert.Empty(t, s.Cookies(u))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Remove(), "removing twice is fine")
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0600))
	_, err := Open(path, testBackend)
	assert.Error(t, err)
}

func TestSessionSurvivesRestart(t *testing.T) {
	ms := mockserver.New(mockserver.Options{})
	require.NoError(t, ms.AddUser("ada", "ada@example.com", "secret123"))
	srv := httptest.NewServer(ms)
	defer srv.Close()
	path := filepath.Join(t.TempDir(), "session.json")
	ctx := context.Background()

	newClient := func() (*Store, *backend.Client) {
		store, err := Open(path, srv.URL)
		require.NoError(t, err)
		tc, err := transport.New(transport.Config{BaseURL: srv.URL}, transport.WithCookieJar(store))
		require.NoError(t, err)
		return store, backend.New(tc)
	}

	store, c := newClient()
	user, err := c.Login(ctx, backend.Credentials{Username: "ada", Password: "secret123"})
	require.NoError(t, err)
	store.SetUser(user)
	require.NoError(t, store.Save())

	store, c = newClient()
	assert.True(t, store.HasSession())
	status := c.CheckAuth(ctx)
	require.True(t, status.Authenticated)
	assert.Equal(t, "ada", status.User.Username)
}

func TestGetStatus(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s, err := open("", testBackend, func() time.Time { return now })
	require.NoError(t, err)
	s.RecordActivity()
	now = now.Add(90 * time.Second)

	st := s.GetStatus()
	assert.Equal(t, testBackend, st.Backend)
	assert.False(t, st.HasSession)
	assert.Equal(t, 90*time.Second, st.Idle)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
	}
}
