// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/storage"
	"github.com/jeranaias/agentchat/internal/util"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		search string
		limit  int
		clear  bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show messages sent from this machine",
		Example: `  agentchat history
  agentchat history --search invoice --limit 5
  agentchat history --clear`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Storage.DisableHistory {
				return usagef("history is disabled in the config")
			}
			h, err := a.openHistory()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if clear {
				n, err := h.Clear(ctx)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return NewJSONResponse(cmd.CommandPath(), map[string]int64{"deleted": n}).Write(out)
				}
				fmt.Fprintf(out, "%s %d entries\n", SuccessStyle.Render("Deleted"), n)
				return nil
			}

			var entries []storage.Exchange
			if search != "" {
				entries, err = h.Search(ctx, search, limit)
			} else {
				entries, err = h.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}

			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), entries).Write(out)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, DimStyle.Render("No history."))
				return nil
			}
			width := GetTerminalWidth() - 4
			for _, e := range entries {
				when := e.CreatedAt.Local().Format("2006-01-02 15:04")
				status := RenderStatus("ok")
				if !e.Succeeded() {
					status = RenderStatus("failed")
				}
				fmt.Fprintf(out, "%s %s %s\n", status, DimStyle.Render(when),
					DimStyle.Render(e.Duration.Round(time.Millisecond).String()))
				fmt.Fprintf(out, "  %s %s\n", RenderRole("user"), util.Preview(e.Prompt, width))
				if e.Succeeded() {
					fmt.Fprintf(out, "  %s %s\n", RenderRole("assistant"), util.Preview(e.Reply, width))
				} else {
					fmt.Fprintf(out, "  %s\n", ErrorStyle.Render(util.Preview(e.Error, width)))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&search, "search", "s", "", "only show messages containing this text")
	cmd.Flags().IntVarP(&limit, "limit", "n", storage.DefaultLimit, "maximum entries to show")
	cmd.Flags().BoolVar(&clear, "clear", false, "delete all local history")
	return cmd
}
