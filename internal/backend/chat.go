// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/transport"
)

// MsgSendFailed is the fallback for SendMessage.
const MsgSendFailed = "Failed to send message"

type sendRequest struct {
	Message string `json:"message"`
}

type sendResponse struct {
	Success  *bool          `json:"success"`
	Response *string        `json:"response"`
	Metadata map[string]any `json:"metadata"`
	Error    string         `json:"error"`
}

// progressReporter delivers stages to the caller one at a time and never
// backwards. OnWrote fires on the transport's write goroutine and can race
// the reply.
type progressReporter struct {
	mu   sync.Mutex
	fn   func(Stage)
	last int
}

func stageRank(s Stage) int {
	switch s {
	case StageSending:
		return 1
	case StageProcessing:
		return 2
	case StageReceived:
		return 3
	}
	return 0
}

func (p *progressReporter) report(s Stage) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rank := stageRank(s)
	if rank <= p.last {
		return
	}
	// A reply means the request was written.
	if s == StageReceived && p.last < stageRank(StageProcessing) {
		p.fn(StageProcessing)
	}
	p.last = rank
	p.fn(s)
}

// SendMessage posts text to the assistant and waits for the reply.
//
// The call uses the long timeout, is never retried, and drops the cached
// session check before it is issued. opts.OnProgress, when set, receives
// StageSending, then StageProcessing once the request is on the wire, then
// StageReceived on success. Stages arrive one at a time and in that order.
func (c *Client) SendMessage(ctx context.Context, text string, opts SendOptions) (*Reply, error) {
	const op = "send_message"
	if strings.TrimSpace(text) == "" {
		return nil, validation(op, "Message content cannot be empty")
	}

	c.InvalidateAuth()

	progress := &progressReporter{fn: opts.OnProgress}
	progress.report(StageSending)

	resp, err := c.call(ctx, transport.Request{
		Endpoint: epSendMessage,
		Body:     sendRequest{Message: text},
		Timeout:  opts.Timeout,
		OnWrote:  func() { progress.report(StageProcessing) },
	})
	if err != nil {
		return nil, normalize(op, MsgSendFailed, err)
	}

	var out sendResponse
	if err := decode(op, resp.Body, &out); err != nil {
		return nil, err
	}
	if (out.Success != nil && !*out.Success) || out.Response == nil {
		msg := out.Error
		if msg == "" {
			msg = MsgSendFailed
		}
		return nil, &apierr.Error{Kind: apierr.KindApplication, Message: msg, Op: op, Status: resp.Status}
	}

	progress.report(StageReceived)
	c.log.Debug("message answered",
		zap.String("request_id", resp.RequestID),
		zap.Duration("duration", resp.Duration),
		zap.Int("reply_len", len(*out.Response)),
	)
	return &Reply{
		Success:   true,
		Response:  *out.Response,
		Metadata:  out.Metadata,
		RequestID: resp.RequestID,
		Duration:  resp.Duration,
	}, nil
}

// GetSystemStatus reports the agent system state. It never fails; errors
// yield a Degraded answer with Status "disconnected".
func (c *Client) GetSystemStatus(ctx context.Context) SystemStatus {
	resp, err := c.call(ctx, transport.Request{Endpoint: epStatus})
	if err == nil {
		var status SystemStatus
		if err = decode(epStatus.Name, resp.Body, &status); err == nil {
			if status.Agents == nil {
				status.Agents = []string{}
			}
			return status
		}
	}

	c.log.Debug("status check failed", zap.Error(err))
	c.recorder.ObserveDegraded(epStatus.Name)
	return SystemStatus{
		Status:   StatusDisconnected,
		Agents:   []string{},
		Degraded: true,
		Error:    normalize(epStatus.Name, "Failed to retrieve system status", err).Error(),
	}
}

// HealthCheck pings the backend. It never fails; errors yield a Degraded
// answer with Status "disconnected".
func (c *Client) HealthCheck(ctx context.Context) Health {
	resp, err := c.call(ctx, transport.Request{Endpoint: epHealth})
	if err == nil {
		var h Health
		if err = decode(epHealth.Name, resp.Body, &h); err == nil {
			return h
		}
	}

	c.log.Debug("health check failed", zap.Error(err))
	c.recorder.ObserveDegraded(epHealth.Name)
	return Health{
		Status:   StatusDisconnected,
		Degraded: true,
		Error:    normalize(epHealth.Name, "Health check failed", err).Error(),
	}
}
