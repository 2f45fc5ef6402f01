// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the domain façade over the chat backend's HTTP API.
//
// Each operation declares its endpoint once, decides whether it is cached
// or retried, and turns every failure into an *apierr.Error whose message
// is fit to show a user. Advisory calls (CheckAuth, GetSystemStatus,
// HealthCheck) never fail; they degrade to safe default values.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/cache"
	"github.com/jeranaias/agentchat/internal/retry"
	"github.com/jeranaias/agentchat/internal/transport"
)

// =============================================================================
// ENDPOINTS
// =============================================================================

var (
	epRegister    = transport.Endpoint{Name: "register", Method: http.MethodPost, Path: "/api/auth/register", Credentials: true}
	epLogin       = transport.Endpoint{Name: "login", Method: http.MethodPost, Path: "/api/auth/login", Credentials: true}
	epLogout      = transport.Endpoint{Name: "logout", Method: http.MethodPost, Path: "/api/auth/logout", Credentials: true}
	epCheckAuth   = transport.Endpoint{Name: "check_auth", Method: http.MethodGet, Path: cache.CheckAuthPath, Credentials: true, Retryable: true}
	epSendMessage = transport.Endpoint{Name: "send_message", Method: http.MethodPost, Path: "/api/chat", Credentials: true, Long: true}
	epStatus      = transport.Endpoint{Name: "system_status", Method: http.MethodGet, Path: "/api/chat/status", Credentials: true, Retryable: true}
	epHealth      = transport.Endpoint{Name: "health", Method: http.MethodGet, Path: "/api/health", Retryable: true}
	epListChats   = transport.Endpoint{Name: "list_chats", Method: http.MethodGet, Path: "/api/chats/user/{userId}", Credentials: true, Retryable: true}
	epGetChat     = transport.Endpoint{Name: "get_chat", Method: http.MethodGet, Path: "/api/chats/{chatId}", Credentials: true}
	epCreateChat  = transport.Endpoint{Name: "create_chat", Method: http.MethodPost, Path: "/api/chats", Credentials: true}
	epUpdateChat  = transport.Endpoint{Name: "update_chat", Method: http.MethodPut, Path: "/api/chats/{chatId}", Credentials: true}
	epRenameChat  = transport.Endpoint{Name: "rename_chat", Method: http.MethodPatch, Path: "/api/chats/{chatId}/title", Credentials: true}
	epDeleteChat  = transport.Endpoint{Name: "delete_chat", Method: http.MethodDelete, Path: "/api/chats/{chatId}", Credentials: true}
)

// Endpoints lists every operation the façade issues, in declaration order.
func Endpoints() []transport.Endpoint {
	return []transport.Endpoint{
		epRegister, epLogin, epLogout, epCheckAuth, epSendMessage, epStatus,
		epHealth, epListChats, epGetChat, epCreateChat, epUpdateChat,
		epRenameChat, epDeleteChat,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Recorder receives façade-level events. *telemetry.Metrics implements it.
type Recorder interface {
	ObserveRetry(operation string) func(attempt int, delay time.Duration, err error)
	ObserveDegraded(operation string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRetry(string) func(int, time.Duration, error) {
	return func(int, time.Duration, error) {}
}
func (nopRecorder) ObserveDegraded(string) {}

// Doer performs one HTTP call. *transport.Client implements it.
type Doer interface {
	Do(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Client is the backend façade. It is safe for concurrent use.
type Client struct {
	http     Doer
	cache    *cache.ResponseCache
	retry    retry.Policy
	log      *zap.Logger
	recorder Recorder
	coalesce bool
	group    singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithCache replaces the default response cache.
func WithCache(rc *cache.ResponseCache) Option {
	return func(c *Client) {
		if rc != nil {
			c.cache = rc
		}
	}
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithCoalescedAuthChecks makes concurrent CheckAuth misses share one
// network call. Off by default.
func WithCoalescedAuthChecks(on bool) Option {
	return func(c *Client) { c.coalesce = on }
}

// New creates a façade over doer.
func New(doer Doer, opts ...Option) *Client {
	c := &Client{
		http:     doer,
		cache:    cache.New(cache.DefaultTTL),
		retry:    retry.Default(),
		log:      zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cache returns the response cache.
func (c *Client) Cache() *cache.ResponseCache {
	return c.cache
}

// InvalidateAuth drops the cached session check.
func (c *Client) InvalidateAuth() {
	c.cache.Invalidate(cache.AuthCheckKey)
}

// =============================================================================
// CALL HELPERS
// =============================================================================

// call issues req, applying the retry policy only to retryable endpoints.
func (c *Client) call(ctx context.Context, req transport.Request) (*transport.Response, error) {
	if !req.Endpoint.Retryable {
		return c.http.Do(ctx, req)
	}

	policy := c.retry
	metricHook := c.recorder.ObserveRetry(req.Endpoint.Name)
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.log.Info("retrying request",
			zap.String("endpoint", req.Endpoint.Name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Stringer("kind", apierr.KindOf(err)),
			zap.Error(err),
		)
		metricHook(attempt, delay, err)
	}

	var resp *transport.Response
	err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		r, err := c.http.Do(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// cachedGet serves cacheable GETs from the cache and stores fresh
// successful bodies. The bool reports a cache hit.
func (c *Client) cachedGet(ctx context.Context, ep transport.Endpoint) (json.RawMessage, bool, error) {
	key := cache.Key{Method: ep.Method, Path: ep.Path}
	if body, ok := c.cache.Get(key); ok {
		return body, true, nil
	}
	resp, err := c.call(ctx, transport.Request{Endpoint: ep})
	if err != nil {
		return nil, false, err
	}
	c.cache.Put(key, resp.Body)
	return resp.Body, false, nil
}

// =============================================================================
// ERROR NORMALIZATION
// =============================================================================

// Kind-specific messages used when the server supplied none.
const (
	MsgUnreachable = "Unable to reach the server. Check your connection and try again."
	MsgTimeout     = "The request timed out. Please try again."
	MsgCanceled    = "The request was canceled."
	MsgBadResponse = "The server returned an invalid response."
)

// normalize produces the caller-facing error for op. The server's message
// wins; otherwise a kind-specific default, otherwise fallback.
func normalize(op, fallback string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		kind := apierr.KindOf(err)
		msg := fallback
		switch kind {
		case apierr.KindTimeout:
			msg = MsgTimeout
		case apierr.KindCanceled:
			msg = MsgCanceled
		}
		return &apierr.Error{Kind: kind, Message: msg, Op: op, Cause: err}
	}

	msg := ""
	switch ae.Kind {
	case apierr.KindClient, apierr.KindServer, apierr.KindApplication, apierr.KindValidation:
		msg = ae.Message
	}
	if msg == "" {
		switch ae.Kind {
		case apierr.KindTransport:
			msg = MsgUnreachable
		case apierr.KindTimeout:
			msg = MsgTimeout
		case apierr.KindCanceled:
			msg = MsgCanceled
		default:
			msg = fallback
		}
	}
	return &apierr.Error{Kind: ae.Kind, Status: ae.Status, Message: msg, Op: op, Cause: err}
}

func validation(op, msg string) error {
	return &apierr.Error{Kind: apierr.KindValidation, Message: msg, Op: op}
}

func decode(op string, body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &apierr.Error{Kind: apierr.KindParse, Message: MsgBadResponse, Op: op, Cause: err}
	}
	return nil
}
