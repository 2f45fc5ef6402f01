// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/transport"
)

// Operation fallbacks for the auth endpoints.
const (
	MsgLoginFailed        = "Login failed"
	MsgRegistrationFailed = "Registration failed"
	MsgLogoutFailed       = "Logout failed"
)

type authResponse struct {
	Message string `json:"message"`
	User    *User  `json:"user"`
}

// Register creates an account. The backend logs the new user in, so the
// cached session check is dropped.
func (c *Client) Register(ctx context.Context, r Registration) (*User, error) {
	const op = "register"
	if strings.TrimSpace(r.Username) == "" || strings.TrimSpace(r.Email) == "" || r.Password == "" {
		return nil, validation(op, "All fields are required")
	}
	return c.authenticate(ctx, op, epRegister, r, MsgRegistrationFailed)
}

// Login opens a session with the given credentials.
func (c *Client) Login(ctx context.Context, creds Credentials) (*User, error) {
	const op = "login"
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, validation(op, "Username and password are required")
	}
	return c.authenticate(ctx, op, epLogin, creds, MsgLoginFailed)
}

func (c *Client) authenticate(ctx context.Context, op string, ep transport.Endpoint, body any, fallback string) (*User, error) {
	c.InvalidateAuth()
	resp, err := c.call(ctx, transport.Request{Endpoint: ep, Body: body})
	if err != nil {
		return nil, normalize(op, fallback, err)
	}

	var out authResponse
	if err := decode(op, resp.Body, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, &apierr.Error{Kind: apierr.KindApplication, Message: fallback, Op: op, Status: resp.Status}
	}
	c.log.Info("authenticated", zap.String("op", op), zap.String("username", out.User.Username))
	return out.User, nil
}

// Logout ends the session. The cached session check is dropped whether or
// not the call succeeds.
func (c *Client) Logout(ctx context.Context) error {
	c.InvalidateAuth()
	if _, err := c.call(ctx, transport.Request{Endpoint: epLogout}); err != nil {
		return normalize("logout", MsgLogoutFailed, err)
	}
	return nil
}

// CheckAuth reports whether the session is valid. It never fails: any
// error resolves to Authenticated=false with a Reason. Answers are cached
// for the cache TTL.
func (c *Client) CheckAuth(ctx context.Context) AuthStatus {
	if !c.coalesce {
		return c.checkAuth(ctx)
	}
	// The shared call must not die with whichever caller started it; the
	// transport timeout still bounds it.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(epCheckAuth.Path, func() (any, error) {
		return c.checkAuth(shared), nil
	})
	select {
	case res := <-ch:
		return res.Val.(AuthStatus)
	case <-ctx.Done():
		c.log.Debug("session check abandoned", zap.Error(ctx.Err()))
		return AuthStatus{Authenticated: false, Reason: ReasonNetworkError}
	}
}

func (c *Client) checkAuth(ctx context.Context) AuthStatus {
	body, hit, err := c.cachedGet(ctx, epCheckAuth)
	if err != nil {
		reason := authFailureReason(err)
		c.log.Debug("session check failed", zap.String("reason", reason), zap.Error(err))
		c.recorder.ObserveDegraded(epCheckAuth.Name)
		return AuthStatus{Authenticated: false, Reason: reason}
	}

	var status AuthStatus
	if err := json.Unmarshal(body, &status); err != nil {
		c.InvalidateAuth()
		c.recorder.ObserveDegraded(epCheckAuth.Name)
		return AuthStatus{Authenticated: false, Reason: ReasonInvalidResponse}
	}
	if !status.Authenticated && status.Reason == "" {
		status.Reason = ReasonNoSession
	}
	status.Cached = hit
	return status
}

func authFailureReason(err error) string {
	switch {
	case apierr.IsNetwork(err):
		return ReasonNetworkError
	case apierr.IsAuthFailure(err):
		return ReasonUnauthorized
	case apierr.KindOf(err) == apierr.KindServer:
		return ReasonServerError
	case apierr.KindOf(err) == apierr.KindParse:
		return ReasonInvalidResponse
	}
	return ReasonNetworkError
}
