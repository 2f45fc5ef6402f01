// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport is the HTTP request client for the chat backend.
//
// It binds calls to a base URL, attaches session cookies and standard
// headers, applies per-call timeouts and classifies every failure as an
// *apierr.Error. It never caches and never retries; those decisions belong
// to the caller.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/jeranaias/agentchat/internal/apierr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultTimeout bounds ordinary calls.
	DefaultTimeout = 30 * time.Second
	// DefaultLongTimeout bounds calls on Long endpoints (message send).
	DefaultLongTimeout = 60 * time.Second
	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 10 * 1024 * 1024
	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "agentchat"
	// RequestIDHeader carries the per-call correlation id.
	RequestIDHeader = "X-Request-ID"
)

// ErrNoBaseURL is returned by New when Config.BaseURL is empty.
var ErrNoBaseURL = errors.New("transport: base URL is required")

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds client settings. Zero values select defaults.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	LongTimeout     time.Duration
	UserAgent       string
	MaxResponseSize int64
	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

// RequestInfo describes a finished call for observers.
type RequestInfo struct {
	Endpoint  string
	Method    string
	Status    int
	Err       error
	Duration  time.Duration
	RequestID string
}

// Observer is notified after every call.
type Observer interface {
	ObserveRequest(info RequestInfo)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses hc's transport. The client's jar and timeout are
// ignored; the Client manages both.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil && hc.Transport != nil {
			c.roundTripper = hc.Transport
		}
	}
}

// WithCookieJar replaces the default in-memory jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver registers a call observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// =============================================================================
// CLIENT
// =============================================================================

// Client issues JSON requests to one backend. It is safe for concurrent use.
type Client struct {
	base         *url.URL
	userAgent    string
	maxBody      int64
	timeout      atomic.Int64
	longTimeout  atomic.Int64
	limiter      *rate.Limiter
	roundTripper http.RoundTripper
	jar          http.CookieJar
	withCreds    *http.Client
	noCreds      *http.Client
	observer     Observer
	log          *zap.Logger
}

// New creates a client for cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrNoBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: unsupported scheme %q", base.Scheme)
	}

	c := &Client{
		base:         base,
		userAgent:    cfg.UserAgent,
		maxBody:      cfg.MaxResponseSize,
		roundTripper: http.DefaultTransport,
		log:          zap.NewNop(),
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxBody <= 0 {
		c.maxBody = MaxResponseSize
	}
	c.SetTimeouts(cfg.Timeout, cfg.LongTimeout)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("transport: cookie jar: %w", err)
		}
		c.jar = jar
	}
	c.withCreds = &http.Client{Transport: c.roundTripper, Jar: c.jar}
	c.noCreds = &http.Client{Transport: c.roundTripper}
	return c, nil
}

// BaseURL returns the backend root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Jar returns the cookie jar used for credentialed calls.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// SetTimeouts changes the default and long-call timeouts. Non-positive
// values select the package defaults.
func (c *Client) SetTimeouts(timeout, long time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if long <= 0 {
		long = DefaultLongTimeout
	}
	c.timeout.Store(int64(timeout))
	c.longTimeout.Store(int64(long))
}

// Timeouts returns the current default and long-call timeouts.
func (c *Client) Timeouts() (timeout, long time.Duration) {
	return time.Duration(c.timeout.Load()), time.Duration(c.longTimeout.Load())
}

// =============================================================================
// REQUESTS
// =============================================================================

// Request is one call to an endpoint.
type Request struct {
	Endpoint Endpoint
	// Body is JSON-encoded when non-nil.
	Body any
	// Timeout overrides the endpoint's default when positive.
	Timeout time.Duration
	// OnWrote runs once after the request has been written to the wire.
	OnWrote func()
}

// Response is a successful (2xx) reply.
type Response struct {
	Status    int
	Header    http.Header
	Body      json.RawMessage
	Duration  time.Duration
	RequestID string
}

// Decode unmarshals the body into v. Failures are parse errors.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apierr.Wrap(apierr.KindParse, err, "")
	}
	return nil
}

// Do performs req. Non-2xx replies, transport failures, timeouts and
// unparseable bodies are returned as *apierr.Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ep := req.Endpoint
	requestID := uuid.NewString()
	start := time.Now()

	resp, err := c.do(ctx, req, requestID)
	duration := time.Since(start)
	if err != nil {
		var ae *apierr.Error
		if errors.As(err, &ae) && ae.Op == "" {
			ae.Op = ep.Name
		}
	}

	c.record(ep, resp, err, duration, requestID)
	if err != nil {
		return nil, err
	}
	resp.Duration = duration
	resp.RequestID = requestID
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request, requestID string) (*Response, error) {
	ep := req.Endpoint

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apierr.Wrap(apierr.KindValidation, err, "invalid request body")
		}
		body = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, apierr.Wrap(apierr.KindCanceled, err, "")
			}
			// Wait fails early when the deadline is shorter than the delay.
			return nil, apierr.Wrap(apierr.KindTimeout, err, "")
		}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		if ep.Long {
			timeout = time.Duration(c.longTimeout.Load())
		} else {
			timeout = time.Duration(c.timeout.Load())
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if req.OnWrote != nil {
		var once sync.Once
		trace := &httptrace.ClientTrace{
			WroteRequest: func(info httptrace.WroteRequestInfo) {
				if info.Err == nil {
					once.Do(req.OnWrote)
				}
			},
		}
		callCtx = httptrace.WithClientTrace(callCtx, trace)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, ep.Method, c.base.String()+ep.Path, body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "invalid request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(RequestIDHeader, requestID)

	hc := c.noCreds
	if ep.Credentials {
		hc = c.withCreds
	}

	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, callCtx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody+1))
	if err != nil {
		return nil, classify(ctx, callCtx, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, &apierr.Error{
			Kind:    apierr.KindParse,
			Status:  httpResp.StatusCode,
			Message: fmt.Sprintf("response exceeds %d bytes", c.maxBody),
		}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, apierr.FromStatus(httpResp.StatusCode, ServerMessage(data))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	} else if !json.Valid(data) {
		return nil, &apierr.Error{Kind: apierr.KindParse, Status: httpResp.StatusCode}
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   json.RawMessage(data),
	}, nil
}

// classify maps a client or body-read error to a kind. parent is the
// caller's context, call the derived per-call context.
func classify(parent, call context.Context, err error) *apierr.Error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return apierr.Wrap(apierr.KindCanceled, err, "")
	case parent.Err() != nil, errors.Is(call.Err(), context.DeadlineExceeded):
		return apierr.Wrap(apierr.KindTimeout, err, "")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.Wrap(apierr.KindTimeout, err, "")
	}
	return apierr.Wrap(apierr.KindTransport, err, "")
}

// ServerMessage extracts a human-readable message from an error body:
// the "error" field, then "message", then a short plain-text body.
func ServerMessage(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}
	var fields struct {
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if body[0] == '{' && json.Unmarshal(body, &fields) == nil {
		for _, raw := range []json.RawMessage{fields.Error, fields.Message} {
			var s string
			if len(raw) > 0 && json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
				return s
			}
		}
		return ""
	}
	if body[0] == '<' || body[0] == '[' || len(body) > 200 {
		return ""
	}
	return string(body)
}

func (c *Client) record(ep Endpoint, resp *Response, err error, d time.Duration, requestID string) {
	info := RequestInfo{
		Endpoint:  ep.Name,
		Method:    ep.Method,
		Err:       err,
		Duration:  d,
		RequestID: requestID,
	}
	if resp != nil {
		info.Status = resp.Status
	} else {
		info.Status = apierr.StatusOf(err)
	}

	fields := []zap.Field{
		zap.String("endpoint", ep.Name),
		zap.String("method", ep.Method),
		zap.String("path", ep.Path),
		zap.Int("status", info.Status),
		zap.Duration("duration", d),
		zap.String("request_id", requestID),
	}
	if err != nil {
		fields = append(fields, zap.Stringer("kind", apierr.KindOf(err)), zap.Error(err))
		c.log.Warn("request failed", fields...)
	} else {
		c.log.Debug("request completed", fields...)
	}

	if c.observer != nil {
		c.observer.ObserveRequest(info)
	}
}
