// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/mockserver"
)

func newMockServerCmd(a *app) *cobra.Command {
	var (
		addr       string
		seedUsers  []string
		sessionTTL time.Duration
		agents     []string
	)
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run an in-memory backend for local testing",
		Long: "Run an in-memory implementation of the chat backend. Replies echo the " +
			"message. State is lost on exit.",
		Example: `  agentchat mock-server --addr 127.0.0.1:5000 --seed-user ada:ada@example.com:secret`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := a.logger().Named("mockserver")
			srv := mockserver.New(mockserver.Options{
				SessionTTL: sessionTTL,
				Agents:     agents,
				Logger:     log,
			})
			for _, seed := range seedUsers {
				parts := strings.SplitN(seed, ":", 3)
				if len(parts) != 3 {
					return usagef("--seed-user wants username:email:password, got %q", seed)
				}
				if err := srv.AddUser(parts[0], parts[1], parts[2]); err != nil {
					return usagef("seed user %s: %v", parts[0], err)
				}
			}

			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			hs := &http.Server{
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s http://%s\n", SuccessStyle.Render("Mock backend listening on"), ln.Addr())
			log.Info("mock backend started", zap.String("addr", ln.Addr().String()), zap.Int("seeded_users", len(seedUsers)))

			errCh := make(chan error, 1)
			go func() { errCh <- hs.Serve(ln) }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			log.Info("mock backend stopping")
			return hs.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "listen address")
	cmd.Flags().StringArrayVar(&seedUsers, "seed-user", nil, "create a user, as username:email:password (repeatable)")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", 0, "expire sessions after this long (0 keeps them)")
	cmd.Flags().StringSliceVar(&agents, "agents", nil, "agent names reported by the status route")
	return cmd
}
