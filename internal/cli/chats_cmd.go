// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/storage"
	"github.com/jeranaias/agentchat/internal/util"
)

func newChatsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "chats",
		Aliases: []string{"conversations"},
		Short:   "Manage saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listChats(a, cmd)
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List your saved conversations, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return listChats(a, cmd)
			},
		},
		newChatsShowCmd(a),
		newChatsNewCmd(a),
		newChatsRenameCmd(a),
		newChatsDeleteCmd(a),
		newChatsExportCmd(a),
	)
	return cmd
}

func listChats(a *app, cmd *cobra.Command) error {
	user, err := a.currentUser(cmd.Context())
	if err != nil {
		return err
	}
	chats, err := a.client.ListChats(cmd.Context(), user.Key())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if a.jsonOut {
		return NewJSONResponse(cmd.CommandPath(), chats).Write(out)
	}
	if len(chats) == 0 {
		fmt.Fprintln(out, DimStyle.Render("No saved conversations."))
		return nil
	}
	writeChatTable(out, chats, GetTerminalWidth())
	return nil
}

// writeChatTable prints one row per chat, fitting previews to width.
func writeChatTable(w io.Writer, chats []backend.Chat, width int) {
	idw := len("ID")
	for _, c := range chats {
		if n := util.StringWidth(c.ID); n > idw {
			idw = n
		}
	}
	const (
		titleW   = 28
		updatedW = 20
	)
	previewW := width - idw - titleW - updatedW - 6
	if previewW < 10 {
		previewW = 0
	}

	header := util.PadRight("ID", idw) + "  " + util.PadRight("TITLE", titleW) + "  " + util.PadRight("UPDATED", updatedW)
	if previewW > 0 {
		header += "  PREVIEW"
	}
	fmt.Fprintln(w, LabelStyle.Render(header))
	for _, c := range chats {
		row := util.PadRight(c.ID, idw) + "  " +
			util.PadRight(util.Preview(c.Title, titleW), titleW) + "  " +
			util.PadRight(shortTime(c.LastUpdated), updatedW)
		if previewW > 0 && c.Preview != "" {
			row += "  " + DimStyle.Render(util.Preview(c.Preview, previewW))
		}
		fmt.Fprintln(w, strings.TrimRight(row, " "))
	}
}

// shortTime trims fractional seconds from a backend timestamp.
func shortTime(ts string) string {
	if i := strings.IndexByte(ts, '.'); i > 0 {
		ts = ts[:i]
	}
	return strings.Replace(ts, "T", " ", 1)
}

func newChatsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			chat, err := c.GetChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), chat).Write(out)
			}
			fmt.Fprintln(out, TitleStyle.Render(chat.Title))
			fmt.Fprintln(out, DimStyle.Render(fmt.Sprintf("%s  created %s  updated %s",
				chat.ID, shortTime(chat.CreatedAt), shortTime(chat.LastUpdated))))
			fmt.Fprintln(out, RenderSeparator(40))
			if len(chat.Messages) == 0 {
				fmt.Fprintln(out, DimStyle.Render("No messages."))
			}
			for _, m := range chat.Messages {
				fmt.Fprintf(out, "%s %s\n\n", RenderRole(m.Role), m.Content)
			}
			return nil
		},
	}
}

func newChatsNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create an empty conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.currentUser(cmd.Context())
			if err != nil {
				return err
			}
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			chat, err := a.client.CreateChat(cmd.Context(), user.Key(), title)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), chat).Write(out)
			}
			fmt.Fprintf(out, "%s %s %s\n", SuccessStyle.Render("Created"), chat.ID, ValueStyle.Render(chat.Title))
			return nil
		},
	}
}

func newChatsRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			if err := c.UpdateChatTitle(cmd.Context(), args[0], title); err != nil {
				return err
			}
			return a.printDone(cmd, "Renamed", map[string]string{"id": args[0], "title": title})
		},
	}
}

func newChatsDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				if !a.isInteractive() {
					return usagef("refusing to delete without --yes")
				}
				answer, err := promptLine(a.in, a.stderr, fmt.Sprintf("Delete chat %s? [y/N] ", args[0]))
				if err != nil {
					return err
				}
				if !strings.EqualFold(strings.TrimSpace(answer), "y") {
					return nil
				}
			}
			c, err := a.connect()
			if err != nil {
				return err
			}
			if err := c.DeleteChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.printDone(cmd, "Deleted", map[string]string{"id": args[0]})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newChatsExportCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <id> <path>",
		Short: "Save a conversation to a Markdown or JSON file",
		Example: `  agentchat chats export 42 trip.md
  agentchat chats export 42 trip.txt --format json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := storage.FormatForPath(args[1])
			switch strings.ToLower(format) {
			case "":
			case "md", "markdown":
				f = storage.FormatMarkdown
			case "json":
				f = storage.FormatJSON
			default:
				return usagef("unknown format %q (use markdown or json)", format)
			}

			c, err := a.connect()
			if err != nil {
				return err
			}
			chat, err := c.GetChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := storage.SaveChat(chat, args[1], f); err != nil {
				return err
			}
			return a.printDone(cmd, "Exported", map[string]string{"id": chat.ID, "path": args[1], "format": string(f)})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "markdown or json (default from the file extension)")
	return cmd
}

// printDone reports a completed mutation.
func (a *app) printDone(cmd *cobra.Command, verb string, data map[string]string) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		return NewJSONResponse(cmd.CommandPath(), data).Write(out)
	}
	fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render(verb), data["id"])
	return nil
}
