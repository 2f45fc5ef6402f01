// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/apierr"
)

var (
	getEndpoint  = Endpoint{Name: "status", Method: http.MethodGet, Path: "/api/chat/status", Credentials: true, Retryable: true}
	postEndpoint = Endpoint{Name: "send", Method: http.MethodPost, Path: "/api/chat", Credentials: true, Long: true}
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL}, opts...)
	require.NoError(t, err)
	return c
}

func TestNewValidatesBaseURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoBaseURL)

	_, err = New(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	c, err := New(Config{BaseURL: "http://localhost:5000/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", c.BaseURL())
	timeout, long := c.Timeouts()
	assert.Equal(t, DefaultTimeout, timeout)
	assert.Equal(t, DefaultLongTimeout, long)
}

func TestDoSendsStandardHeadersAndBody(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"response":"hi"}`))
	})

	resp, err := c.Do(context.Background(), Request{
		Endpoint: postEndpoint,
		Body:     map[string]string{"message": "hello"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/chat", got.URL.Path)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, DefaultUserAgent, got.Header.Get("User-Agent"))
	assert.NotEmpty(t, got.Header.Get(RequestIDHeader))
	assert.JSONEq(t, `{"message":"hello"}`, string(gotBody))

	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, got.Header.Get(RequestIDHeader), resp.RequestID)
	var body struct {
		Response string `json:"response"`
	}
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "hi", body.Response)

	_, err = c.Do(context.Background(), Request{Endpoint: getEndpoint})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Empty(t, gotBody)
}

func TestEmptyBodyIsEmptyObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	resp, err := c.Do(context.Background(), Request{Endpoint: getEndpoint})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(resp.Body))
}

func TestStatusErrorsCarryServerMessage(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    apierr.Kind
		message string
	}{
		{"401 error field", 401, `{"error":"invalid credentials"}`, apierr.KindClient, "invalid credentials"},
		{"403 message field", 403, `{"message":"forbidden"}`, apierr.KindClient, "forbidden"},
		{"404 plain text", 404, `Not Found`, apierr.KindClient, "Not Found"},
		{"500 no message", 500, `{}`, apierr.KindServer, ""},
		{"503 error field", 503, `{"error":"Database not available"}`, apierr.KindServer, "Database not available"},
		{"502 html", 502, `<html>bad gateway</html>`, apierr.KindServer, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Do(context.Background(), Request{Endpoint: getEndpoint})
			require.Error(t, err)
			assert.Equal(t, tt.kind, apierr.KindOf(err))
			assert.Equal(t, tt.status, apierr.StatusOf(err))

			var ae *apierr.Error
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.message, ae.Message)
			assert.Equal(t, "status", ae.Op)
		})
	}
}

func TestMalformedSuccessBodyIsParseError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<!doctype html>`))
	})
	_, err := c.Do(context.Background(), Request{Endpoint: getEndpoint})
	assert.Equal(t, apierr.KindParse, apierr.KindOf(err))
	assert.False(t, apierr.IsRetryable(err))
}

func TestOversizedBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`"` + strings.Repeat("a", 64) + `"`))
	}))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, MaxResponseSize: 16})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Endpoint: getEndpoint})
	assert.Equal(t, apierr.KindParse, apierr.KindOf(err))
}

func TestTimeoutIsClassified(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	_, err := c.Do(context.Background(), Request{Endpoint: getEndpoint, Timeout: 50 * time.Millisecond})
	assert.Equal(t, apierr.KindTimeout, apierr.KindOf(err))
	assert.True(t, apierr.IsRetryable(err))
}

func TestCallerCancelIsNotTimeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := c.Do(ctx, Request{Endpoint: getEndpoint})
	assert.Equal(t, apierr.KindCanceled, apierr.KindOf(err))
	assert.False(t, apierr.IsRetryable(err))
}

func TestConnectionRefusedIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url})
	require.NoError(t, err)
	_, err = c.Do(context.Background(), Request{Endpoint: getEndpoint})
	assert.Equal(t, apierr.KindTransport, apierr.KindOf(err))
	assert.True(t, apierr.IsRetryable(err))
}

func TestCredentialsControlCookies(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		}
		mu.Lock()
		if ck, err := r.Cookie("session"); err == nil {
			seen = append(seen, r.URL.Path+"="+ck.Value)
		} else {
			seen = append(seen, r.URL.Path+"=")
		}
		mu.Unlock()
		_, _ = w.Write([]byte(`{}`))
	})

	ctx := context.Background()
	_, err := c.Do(ctx, Request{Endpoint: Endpoint{Name: "login", Method: "POST", Path: "/login", Credentials: true}})
	require.NoError(t, err)
	_, err = c.Do(ctx, Request{Endpoint: Endpoint{Name: "a", Method: "GET", Path: "/a", Credentials: true}})
	require.NoError(t, err)
	_, err = c.Do(ctx, Request{Endpoint: Endpoint{Name: "b", Method: "GET", Path: "/b"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"/login=", "/a=abc", "/b="}, seen)
}

func TestOnWroteFiresOnce(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	calls := 0
	_, err := c.Do(context.Background(), Request{
		Endpoint: postEndpoint,
		Body:     map[string]string{"message": "x"},
		OnWrote:  func() { calls++ },
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

type captureObserver struct {
	mu    sync.Mutex
	infos []RequestInfo
}

func (o *captureObserver) ObserveRequest(info RequestInfo) {
	o.mu.Lock()
	o.infos = append(o.infos, info)
	o.mu.Unlock()
}

func TestObserverReceivesOutcome(t *testing.T) {
	obs := &captureObserver{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/chat" {
			w.WriteHeader(503)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}, WithObserver(obs))

	_, _ = c.Do(context.Background(), Request{Endpoint: getEndpoint})
	_, _ = c.Do(context.Background(), Request{Endpoint: postEndpoint})

	require.Len(t, obs.infos, 2)
	assert.Equal(t, 200, obs.infos[0].Status)
	assert.NoError(t, obs.infos[0].Err)
	assert.Equal(t, 503, obs.infos[1].Status)
	assert.Equal(t, "send", obs.infos[1].Endpoint)
	assert.Error(t, obs.infos[1].Err)
}

func TestRateLimitWaits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	c, err := New(Config{BaseURL: srv.URL, RateLimit: 20, RateBurst: 1})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Do(context.Background(), Request{Endpoint: getEndpoint})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestExpand(t *testing.T) {
	ep := Endpoint{Name: "rename", Method: "PATCH", Path: "/api/chats/{chatId}/title"}
	got := ep.Expand("a b/c")
	assert.Equal(t, "/api/chats/a%20b%2Fc/title", got.Path)
	assert.Equal(t, "/api/chats/{chatId}/title", ep.Path, "original must be unchanged")

	assert.Equal(t, "/api/chats//title", ep.Expand().Path)
	assert.Equal(t, "/api/health", Endpoint{Path: "/api/health"}.Expand("x").Path)
}

func TestServerMessage(t *testing.T) {
	assert.Equal(t, "boom", ServerMessage([]byte(`{"error":"boom","message":"other"}`)))
	assert.Equal(t, "other", ServerMessage([]byte(`{"error":"","message":"other"}`)))
	assert.Equal(t, "", ServerMessage([]byte(`{"error":{"code":1}}`)))
	assert.Equal(t, "", ServerMessage([]byte(` `)))
	assert.Equal(t, "", ServerMessage([]byte(strings.Repeat("x", 300))))

	raw, _ := json.Marshal(map[string]string{"error": "Chat not found"})
	assert.Equal(t, "Chat not found", ServerMessage(raw))
}
