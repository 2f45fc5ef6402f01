// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/cache"
	"github.com/jeranaias/agentchat/internal/retry"
	"github.com/jeranaias/agentchat/internal/transport"
)

// =============================================================================
// TEST HARNESS
// =============================================================================

// fakeServer routes "METHOD /path" to handlers and counts hits.
type fakeServer struct {
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
	bodies   map[string][]string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
		bodies:   make(map[string][]string),
	}
}

func (f *fakeServer) handle(route string, h http.HandlerFunc) {
	f.mu.Lock()
	f.handlers[route] = h
	f.mu.Unlock()
}

func (f *fakeServer) reply(route string, status int, body string) {
	f.handle(route, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func (f *fakeServer) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[route]
}

func (f *fakeServer) lastBody(route string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[route]
	if len(b) == 0 {
		return ""
	}
	return b[len(b)-1]
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + r.URL.EscapedPath()
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.hits[route]++
	f.bodies[route] = append(f.bodies[route], string(body))
	h := f.handlers[route]
	f.mu.Unlock()
	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

type harness struct {
	server *fakeServer
	client *Client
	clock  *cache.ManualClock
	sleeps *[]time.Duration
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	fs := newFakeServer()
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	tc, err := transport.New(transport.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	clock := cache.NewManualClock(time.Unix(1_700_000_000, 0))
	var sleeps []time.Duration
	policy := retry.Default()
	policy.Sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}

	opts = append([]Option{
		WithCache(cache.New(cache.DefaultTTL, cache.WithClock(clock), cache.WithScheduler(clock))),
		WithRetryPolicy(policy),
	}, opts...)
	return &harness{server: fs, client: New(tc, opts...), clock: clock, sleeps: &sleeps}
}

const (
	routeCheckAuth = "GET /api/auth/check-auth"
	routeLogin     = "POST /api/auth/login"
	routeRegister  = "POST /api/auth/register"
	routeLogout    = "POST /api/auth/logout"
	routeSend      = "POST /api/chat"
	routeStatus    = "GET /api/chat/status"
	routeHealth    = "GET /api/health"
)

// =============================================================================
// CHECK AUTH AND CACHE
// =============================================================================

func TestCheckAuthCachedWithinTTL(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeCheckAuth, 200, `{"authenticated":true,"user":{"id":1,"username":"ada"}}`)
	ctx := context.Background()

	first := h.client.CheckAuth(ctx)
	require.True(t, first.Authenticated)
	assert.False(t, first.Cached)
	assert.Equal(t, ID("1"), first.User.ID)

	h.clock.Advance(10 * time.Second)
	second := h.client.CheckAuth(ctx)
	assert.True(t, second.Cached)
	assert.Equal(t, first.User, second.User)
	assert.Equal(t, 1, h.server.count(routeCheckAuth))

	h.clock.Advance(21 * time.Second)
	third := h.client.CheckAuth(ctx)
	assert.True(t, third.Authenticated)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, h.server.count(routeCheckAuth))
}

func TestCheckAuthNeverFails(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		reason string
		calls  int
	}{
		{"unauthorized", 401, `{"error":"Authentication required"}`, ReasonUnauthorized, 1},
		{"forbidden", 403, `{}`, ReasonUnauthorized, 1},
		{"server error retried", 500, `{}`, ReasonServerError, 3},
		{"invalid json", 200, `not json`, ReasonInvalidResponse, 1},
		{"backend reason kept", 200, `{"authenticated":false,"reason":"session_expired"}`, ReasonSessionExpired, 1},
		{"missing reason", 200, `{"authenticated":false}`, ReasonNoSession, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.server.reply(routeCheckAuth, tt.status, tt.body)

			got := h.client.CheckAuth(context.Background())
			assert.False(t, got.Authenticated)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.calls, h.server.count(routeCheckAuth))
		})
	}
}

func TestCheckAuthNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tc, err := transport.New(transport.Config{BaseURL: url})
	require.NoError(t, err)
	var sleeps int
	policy := retry.Default()
	policy.Sleep = func(context.Context, time.Duration) error { sleeps++; return nil }
	c := New(tc, WithRetryPolicy(policy))

	got := c.CheckAuth(context.Background())
	assert.Equal(t, AuthStatus{Authenticated: false, Reason: ReasonNetworkError}, got)
	assert.Equal(t, 2, sleeps, "transport errors are retried twice")
}

func TestFailedCheckAuthIsNotCached(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeCheckAuth, 401, `{}`)
	h.client.CheckAuth(context.Background())

	h.server.reply(routeCheckAuth, 200, `{"authenticated":true}`)
	got := h.client.CheckAuth(context.Background())
	assert.True(t, got.Authenticated)
	assert.Equal(t, 2, h.server.count(routeCheckAuth))
}

func TestCoalescedAuthChecks(t *testing.T) {
	h := newHarness(t, WithCoalescedAuthChecks(true))
	release := make(chan struct{})
	var inflight atomic.Int32
	h.server.handle(routeCheckAuth, func(w http.ResponseWriter, r *http.Request) {
		inflight.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"authenticated":true}`)
	})

	var wg sync.WaitGroup
	results := make([]AuthStatus, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.client.CheckAuth(context.Background())
		}(i)
	}
	require.Eventually(t, func() bool { return inflight.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.True(t, r.Authenticated)
	}
	assert.Equal(t, 1, h.server.count(routeCheckAuth))
}

func TestCoalescedAuthCheckSurvivesFirstCallerCancel(t *testing.T) {
	h := newHarness(t, WithCoalescedAuthChecks(true))
	release := make(chan struct{})
	var inflight atomic.Int32
	h.server.handle(routeCheckAuth, func(w http.ResponseWriter, r *http.Request) {
		inflight.Add(1)
		<-release
		_, _ = io.WriteString(w, `{"authenticated":true}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan AuthStatus, 1)
	go func() { first <- h.client.CheckAuth(ctx) }()
	require.Eventually(t, func() bool { return inflight.Load() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan AuthStatus, 1)
	go func() { second <- h.client.CheckAuth(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case st := <-first:
		assert.False(t, st.Authenticated)
		assert.Equal(t, ReasonNetworkError, st.Reason)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(release)
	select {
	case st := <-second:
		assert.True(t, st.Authenticated)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller did not return")
	}
	assert.Equal(t, 1, h.server.count(routeCheckAuth))
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

func TestSendMessageInvalidatesAuthCache(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeCheckAuth, 200, `{"authenticated":true}`)
	h.server.reply(routeSend, 200, `{"success":true,"response":"hello back","metadata":{"agent":"coder"}}`)
	ctx := context.Background()

	h.client.CheckAuth(ctx)
	require.True(t, h.client.CheckAuth(ctx).Cached)

	reply, err := h.client.SendMessage(ctx, "hello", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply.Response)
	assert.Equal(t, "coder", reply.Metadata["agent"])
	assert.NotEmpty(t, reply.RequestID)
	assert.JSONEq(t, `{"message":"hello"}`, h.server.lastBody(routeSend))

	got := h.client.CheckAuth(ctx)
	assert.False(t, got.Cached)
	assert.Equal(t, 2, h.server.count(routeCheckAuth))
}

func TestSendMessageNeverRetried(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeSend, 503, `{}`)

	_, err := h.client.SendMessage(context.Background(), "hi", SendOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, h.server.count(routeSend))
	assert.Empty(t, *h.sleeps)
	assert.Equal(t, apierr.KindServer, apierr.KindOf(err))
	assert.Equal(t, MsgSendFailed, err.Error())
}

func TestSendMessageServerMessageWins(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeSend, 500, `{"error":"AI system is not ready. Please try again later."}`)

	_, err := h.client.SendMessage(context.Background(), "hi", SendOptions{})
	assert.EqualError(t, err, "AI system is not ready. Please try again later.")
}

func TestSendMessageTimeout(t *testing.T) {
	h := newHarness(t)
	h.server.handle(routeSend, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	_, err := h.client.SendMessage(context.Background(), "hi", SendOptions{Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, apierr.KindTimeout, apierr.KindOf(err))
	assert.Equal(t, MsgTimeout, err.Error())
	assert.Equal(t, 1, h.server.count(routeSend))
}

func TestSendMessageProgress(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeSend, 200, `{"success":true,"response":"ok"}`)

	var stages []Stage
	_, err := h.client.SendMessage(context.Background(), "hi", SendOptions{
		OnProgress: func(s Stage) { stages = append(stages, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageSending, StageProcessing, StageReceived}, stages)
}

func TestProgressReporterOrdersStages(t *testing.T) {
	var stages []Stage
	p := &progressReporter{fn: func(s Stage) { stages = append(stages, s) }}

	p.report(StageSending)
	p.report(StageReceived)
	p.report(StageProcessing) // written after the reply arrived
	p.report(StageSending)
	assert.Equal(t, []Stage{StageSending, StageProcessing, StageReceived}, stages)

	(&progressReporter{}).report(StageSending)
}

func TestProgressReporterSerializesCalls(t *testing.T) {
	var active, overlaps atomic.Int32
	var got []Stage
	p := &progressReporter{fn: func(s Stage) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		got = append(got, s)
		time.Sleep(time.Millisecond)
		active.Add(-1)
	}}

	var wg sync.WaitGroup
	for _, s := range []Stage{StageProcessing, StageReceived, StageProcessing, StageReceived} {
		wg.Add(1)
		go func(s Stage) {
			defer wg.Done()
			p.report(s)
		}(s)
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
	require.NotEmpty(t, got)
	assert.Equal(t, StageReceived, got[len(got)-1])
}

func TestSendMessageApplicationFailure(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeSend, 200, `{"success":false,"error":"AI system is not ready"}`)
	_, err := h.client.SendMessage(context.Background(), "hi", SendOptions{})
	assert.EqualError(t, err, "AI system is not ready")
	assert.Equal(t, apierr.KindApplication, apierr.KindOf(err))

	h.server.reply(routeSend, 200, `{"success":true}`)
	_, err = h.client.SendMessage(context.Background(), "hi", SendOptions{})
	assert.EqualError(t, err, MsgSendFailed)
}

func TestSendMessageRejectsEmptyText(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.SendMessage(context.Background(), "   ", SendOptions{})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Equal(t, 0, h.server.count(routeSend))
}

// =============================================================================
// LOGIN / REGISTER / LOGOUT
// =============================================================================

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeLogin, 401, `{"error":"invalid credentials"}`)

	user, err := h.client.Login(context.Background(), Credentials{Username: "ada", Password: "wrong"})
	assert.Nil(t, user)
	require.Error(t, err)
	assert.Equal(t, "invalid credentials", err.Error())
	assert.Equal(t, 1, h.server.count(routeLogin))
	assert.Empty(t, *h.sleeps)
	assert.True(t, apierr.IsAuthFailure(err))
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeCheckAuth, 200, `{"authenticated":false,"reason":"no_session"}`)
	h.server.reply(routeLogin, 200, `{"message":"Login successful","user":{"id":"user_1","username":"ada","email":"ada@example.com"}}`)
	ctx := context.Background()

	assert.False(t, h.client.CheckAuth(ctx).Authenticated)

	user, err := h.client.Login(ctx, Credentials{Username: "ada", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "user_1", user.Key())
	assert.JSONEq(t, `{"username":"ada","password":"secret123"}`, h.server.lastBody(routeLogin))

	h.client.CheckAuth(ctx)
	assert.Equal(t, 2, h.server.count(routeCheckAuth), "login must drop the cached session check")
}

func TestLoginFallbackMessages(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeLogin, 500, `{}`)
	_, err := h.client.Login(context.Background(), Credentials{Username: "a", Password: "b"})
	assert.EqualError(t, err, MsgLoginFailed)
	assert.Equal(t, 1, h.server.count(routeLogin), "login is never retried")

	h.server.reply(routeLogin, 200, `{"message":"ok"}`)
	_, err = h.client.Login(context.Background(), Credentials{Username: "a", Password: "b"})
	assert.EqualError(t, err, MsgLoginFailed)

	_, err = h.client.Login(context.Background(), Credentials{Username: "", Password: "b"})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}

func TestRegister(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeRegister, 409, `{"error":"Username already exists"}`)
	_, err := h.client.Register(context.Background(), Registration{Username: "ada", Email: "a@b.co", Password: "secret123"})
	assert.EqualError(t, err, "Username already exists")

	h.server.reply(routeRegister, 502, ``)
	_, err = h.client.Register(context.Background(), Registration{Username: "ada", Email: "a@b.co", Password: "secret123"})
	assert.EqualError(t, err, MsgRegistrationFailed)
	assert.Equal(t, 2, h.server.count(routeRegister))

	h.server.reply(routeRegister, 201, `{"message":"User registered successfully","user":{"id":"user_2","username":"ada","email":"a@b.co"}}`)
	user, err := h.client.Register(context.Background(), Registration{Username: "ada", Email: "a@b.co", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.co", user.Email)
}

func TestLogoutInvalidatesEvenOnFailure(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeCheckAuth, 200, `{"authenticated":true}`)
	h.server.reply(routeLogout, 500, `{}`)
	ctx := context.Background()

	h.client.CheckAuth(ctx)
	err := h.client.Logout(ctx)
	assert.EqualError(t, err, MsgLogoutFailed)
	assert.Equal(t, 1, h.server.count(routeLogout))
	assert.Equal(t, 0, h.client.Cache().Len())

	h.server.reply(routeLogout, 200, `{"message":"Logged out"}`)
	assert.NoError(t, h.client.Logout(ctx))
}

// =============================================================================
// STATUS AND HEALTH
// =============================================================================

func TestSystemStatus(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeStatus, 200, `{"status":"active","agents":["enhanced_orchestrator","researcher"],"session_requests":0}`)

	got := h.client.GetSystemStatus(context.Background())
	assert.Equal(t, "active", got.Status)
	assert.Equal(t, []string{"enhanced_orchestrator", "researcher"}, got.Agents)
	assert.False(t, got.Degraded)
}

func TestSystemStatusDegrades(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeStatus, 500, `{"error":"Failed to retrieve system status"}`)

	got := h.client.GetSystemStatus(context.Background())
	assert.Equal(t, StatusDisconnected, got.Status)
	assert.True(t, got.Degraded)
	assert.Equal(t, []string{}, got.Agents)
	assert.Equal(t, "Failed to retrieve system status", got.Error)
	assert.Equal(t, 3, h.server.count(routeStatus))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *h.sleeps)
}

func TestHealthCheck(t *testing.T) {
	h := newHarness(t)
	h.server.reply(routeHealth, 200, `{"status":"ok","message":"Server is running"}`)
	got := h.client.HealthCheck(context.Background())
	assert.Equal(t, Health{Status: "ok", Message: "Server is running"}, got)

	h.server.reply(routeHealth, 404, `{}`)
	got = h.client.HealthCheck(context.Background())
	assert.Equal(t, StatusDisconnected, got.Status)
	assert.True(t, got.Degraded)
}

func TestHealthRecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.server.handle(routeHealth, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})

	got := h.client.HealthCheck(context.Background())
	assert.Equal(t, "ok", got.Status)
	assert.Equal(t, 3, h.server.count(routeHealth))
}

// =============================================================================
// MISC
// =============================================================================

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var u struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":42,"b":"user_1","c":null}`), &u))
	assert.Equal(t, ID("42"), u.A)
	assert.Equal(t, ID("user_1"), u.B)
	assert.Equal(t, ID(""), u.C)
}

func TestEndpointFlags(t *testing.T) {
	for _, ep := range Endpoints() {
		if ep.Method != http.MethodGet {
			assert.False(t, ep.Retryable, "%s must not be retryable", ep)
		}
	}
	assert.True(t, epSendMessage.Long)
	assert.False(t, epSendMessage.Retryable)
	assert.True(t, epCheckAuth.Retryable)
}

func TestNormalizeNonAPIError(t *testing.T) {
	err := normalize("x", "fallback", context.DeadlineExceeded)
	assert.EqualError(t, err, MsgTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	err = normalize("x", "fallback", io.ErrUnexpectedEOF)
	assert.EqualError(t, err, "fallback")
	assert.Nil(t, normalize("x", "fallback", nil))
}
