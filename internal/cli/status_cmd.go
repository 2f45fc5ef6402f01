// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/cache"
)

// statusReport is the combined answer of the status command.
type statusReport struct {
	Backend string               `json:"backend"`
	Health  backend.Health       `json:"health"`
	System  backend.SystemStatus `json:"system"`
	Auth    backend.AuthStatus   `json:"auth"`
	Cache   cache.Stats          `json:"cache"`
	Elapsed string               `json:"elapsed"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show backend health, agent status and the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}

			start := time.Now()
			rep := statusReport{Backend: a.cfg.Backend.URL}
			// The three checks never fail; they degrade to default values.
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				rep.Health = c.HealthCheck(ctx)
				return nil
			})
			g.Go(func() error {
				rep.System = c.GetSystemStatus(ctx)
				return nil
			})
			g.Go(func() error {
				rep.Auth = c.CheckAuth(ctx)
				return nil
			})
			_ = g.Wait()
			rep.Elapsed = time.Since(start).Round(time.Millisecond).String()
			rep.Cache = c.Cache().Stats()
			if rep.Auth.Authenticated {
				a.session.SetUser(rep.Auth.User)
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), rep).Write(out)
			}

			const w = 12
			fmt.Fprintln(out, TitleStyle.Render("agentchat status"))
			fmt.Fprintln(out, RenderSeparator(40))
			fmt.Fprintf(out, "%s%s\n", RenderLabel("Backend", w), rep.Backend)
			fmt.Fprintf(out, "%s%s %s\n", RenderLabel("Health", w), RenderStatus(healthWord(rep.Health)), describeHealth(rep.Health))
			fmt.Fprintf(out, "%s%s %s\n", RenderLabel("Agents", w), RenderStatus(rep.System.Status), rep.System.Status)
			if len(rep.System.Agents) > 0 {
				fmt.Fprintf(out, "%s%s\n", RenderLabel("", w), strings.Join(rep.System.Agents, ", "))
			}
			if !rep.System.Degraded {
				fmt.Fprintf(out, "%s%d\n", RenderLabel("Requests", w), rep.System.SessionRequests)
			}
			if rep.Auth.Authenticated {
				fmt.Fprintf(out, "%s%s %s\n", RenderLabel("Session", w), RenderStatus("authenticated"), rep.Auth.User.Username)
			} else {
				fmt.Fprintf(out, "%s%s %s\n", RenderLabel("Session", w), RenderStatus("signed out"), describeReason(rep.Auth.Reason))
			}
			fmt.Fprintf(out, "%s%d entries, %d hits, %d misses\n", RenderLabel("Cache", w),
				rep.Cache.Entries, rep.Cache.Hits, rep.Cache.Misses)
			fmt.Fprintln(out, DimStyle.Render("checked in "+rep.Elapsed))
			return nil
		},
	}
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is up",
		Long:  "Check that the backend is up. Exits non-zero when it cannot be reached.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			h := c.HealthCheck(cmd.Context())
			if h.Degraded {
				return apierr.New(apierr.KindTransport, "Backend unreachable: "+h.Error)
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), h).Write(out)
			}
			fmt.Fprintf(out, "%s %s\n", RenderStatus(healthWord(h)), describeHealth(h))
			return nil
		},
	}
}

func healthWord(h backend.Health) string {
	if h.Degraded {
		return backend.StatusDisconnected
	}
	return "ok"
}

func describeHealth(h backend.Health) string {
	switch {
	case h.Degraded:
		return h.Error
	case h.Message != "":
		return h.Message
	}
	return h.Status
}
