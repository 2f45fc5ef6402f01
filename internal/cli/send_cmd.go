// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/storage"
)

type sendResult struct {
	Response  string         `json:"response"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Duration  string         `json:"duration"`
}

func newSendCmd(a *app) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send one message and print the reply",
		Long: "Send one message to the agent and print the reply. Use - to read the " +
			"message from stdin. Message sends are never retried.",
		Example: `  agentchat send "What is the weather in Oslo?"
  cat question.txt | agentchat send -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := a.messageText(args)
			if err != nil {
				return err
			}
			c, err := a.connect()
			if err != nil {
				return err
			}

			var progress func(backend.Stage)
			if !quiet && !a.jsonOut {
				progress = func(s backend.Stage) {
					fmt.Fprintln(a.stderr, DimStyle.Render(string(s)+"..."))
				}
			}
			reply, err := a.send(cmd.Context(), c, text, progress)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), sendResult{
					Response:  reply.Response,
					Metadata:  reply.Metadata,
					RequestID: reply.RequestID,
					Duration:  reply.Duration.Round(time.Millisecond).String(),
				}).Write(out)
			}
			fmt.Fprintln(out, reply.Response)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress to stderr")
	return cmd
}

// messageText joins args into the message, reading stdin for "-".
func (a *app) messageText(args []string) (string, error) {
	var text string
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(a.in)
		if err != nil {
			return "", fmt.Errorf("read message: %w", err)
		}
		text = string(data)
	} else {
		text = strings.Join(args, " ")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", usagef("message is empty")
	}
	return text, nil
}

// send delivers one message and records the exchange in the local history.
// A history failure is logged and never fails the send.
func (a *app) send(ctx context.Context, c *backend.Client, text string, progress func(backend.Stage)) (*backend.Reply, error) {
	start := time.Now()
	reply, err := c.SendMessage(ctx, text, backend.SendOptions{OnProgress: progress})
	a.session.RecordActivity()

	ex := storage.Exchange{
		Backend:   a.cfg.Backend.URL,
		Prompt:    text,
		Duration:  time.Since(start),
		CreatedAt: start,
	}
	if u := a.session.User(); u != nil {
		ex.Username = u.Username
	}
	if err != nil {
		ex.Error = err.Error()
		ex.Status = apierr.StatusOf(err)
	} else {
		ex.Reply = reply.Response
		ex.RequestID = reply.RequestID
		ex.Duration = reply.Duration
	}
	a.record(ctx, ex)
	return reply, err
}

func (a *app) record(ctx context.Context, ex storage.Exchange) {
	log := a.logger()
	h, err := a.openHistory()
	if err != nil {
		log.Warn("history unavailable", zap.Error(err))
		return
	}
	if h == nil {
		return
	}
	// The send context may already be canceled.
	ctx = context.WithoutCancel(ctx)
	if _, err := h.Record(ctx, ex); err != nil {
		log.Warn("failed to record message", zap.Error(err))
	}
}
