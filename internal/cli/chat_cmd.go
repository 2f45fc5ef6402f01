// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat_cmd.go - Interactive chat REPL.
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /status, /s         Show backend status and session statistics
//   /history            Show this conversation
//   /clear, /c          Start a fresh conversation
//   /title NAME         Rename the attached saved chat
//   /save PATH          Export this conversation to Markdown or JSON
//   /quit, /q           Exit chat
//   Ctrl+D              Exit chat

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/storage"
	"github.com/jeranaias/agentchat/internal/util"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of REPL input.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
	log         *zap.Logger
}

// NewChatCLI creates a ChatCLI that keeps its input history in historyFile.
func NewChatCLI(historyFile string, log *zap.Logger) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{
		line:        line,
		historyFile: historyFile,
		log:         log,
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory writes input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		c.log.Debug("cannot save input history", zap.Error(err))
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// plainInput reads lines from a non-terminal stdin.
type plainInput struct {
	r *bufio.Reader
}

func (p *plainInput) ReadInput(string) (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *plainInput) Close() {}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state of one interactive chat.
type ChatSession struct {
	app    *app
	client *backend.Client
	out    io.Writer
	input  lineReader

	// Chat is the attached saved conversation, if any.
	Chat     *backend.Chat
	Messages []backend.Message
	Persist  bool
	Title    string

	StartTime time.Time
	Sent      int
	Failed    int
	TotalTime time.Duration
}

func newChatCmd(a *app) *cobra.Command {
	var (
		chatID string
		save   bool
		title  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Example: `  agentchat chat
  agentchat chat --save --title "Trip planning"
  agentchat chat --resume 42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			s := &ChatSession{
				app:       a,
				client:    c,
				out:       cmd.OutOrStdout(),
				Persist:   save || chatID != "",
				Title:     title,
				StartTime: time.Now(),
			}
			if chatID != "" {
				chat, err := c.GetChat(cmd.Context(), chatID)
				if err != nil {
					return err
				}
				s.Chat = chat
				s.Messages = append(s.Messages, chat.Messages...)
			}

			if a.isInteractive() {
				s.input = NewChatCLI(config.ResolvePath(a.cfg.Storage.ReplHistory), a.logger())
			} else {
				s.input = &plainInput{r: a.in}
			}
			defer s.input.Close()

			if w := a.watchConfig(); w != nil {
				defer w.Close()
			}
			return s.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&chatID, "resume", "", "continue the saved chat with this id")
	cmd.Flags().BoolVar(&save, "save", false, "save the conversation to your account")
	cmd.Flags().StringVar(&title, "title", "", "title for a saved conversation")
	return cmd
}

// watchConfig follows the config file and applies log level changes to the
// running session.
func (a *app) watchConfig() *config.Watcher {
	path := a.configPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return nil
		}
		path = p
	}
	log := a.logger()
	w, err := config.NewWatcher(path, config.DefaultWatchDebounce,
		func(cfg *config.Config) {
			if a.logLevel != "" || cfg.Logging.Level == a.cfg.Logging.Level {
				return
			}
			if err := a.log.SetLevel(cfg.Logging.Level); err != nil {
				log.Warn("ignoring log level from config", zap.Error(err))
				return
			}
			a.cfg.Logging.Level = cfg.Logging.Level
			log.Info("log level changed", zap.String("level", cfg.Logging.Level))
		},
		func(err error) {
			log.Warn("config reload failed", zap.Error(err))
		},
	)
	if err != nil {
		log.Debug("not watching config", zap.Error(err))
		return nil
	}
	return w
}

// =============================================================================
// REPL
// =============================================================================

// Run reads input until /quit, EOF or cancellation.
func (s *ChatSession) Run(ctx context.Context) error {
	s.printWelcome()
	for {
		input, err := s.input.ReadInput(PromptStyle.Render("you> "))
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				return err
			}
			s.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			more, err := s.handleSlashCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !more {
				s.printExitSummary()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			s.printExitSummary()
			return nil
		}

		if err := s.processMessage(ctx, input); err != nil {
			if ctx.Err() != nil {
				s.printExitSummary()
				return err
			}
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			if hint := errorHint(err); hint != "" {
				fmt.Fprintln(s.out, DimStyle.Render(hint))
			}
		}
	}
}

// processMessage sends one message and, for saved conversations, writes
// the updated transcript back.
func (s *ChatSession) processMessage(ctx context.Context, text string) error {
	var progress func(backend.Stage)
	if s.app.isInteractive() {
		progress = func(st backend.Stage) {
			if st == backend.StageProcessing {
				fmt.Fprint(s.app.stderr, DimStyle.Render("thinking...")+"\r")
			}
		}
	}

	s.Sent++
	reply, err := s.app.send(ctx, s.client, text, progress)
	if err != nil {
		s.Failed++
		return err
	}
	s.TotalTime += reply.Duration

	now := time.Now().UTC().Format(time.RFC3339)
	s.Messages = append(s.Messages,
		backend.Message{Role: "user", Content: text, Timestamp: now},
		backend.Message{Role: "assistant", Content: reply.Response, Timestamp: now},
	)

	fmt.Fprintf(s.out, "\n%s %s\n\n", RenderRole("assistant"), reply.Response)

	if s.Persist {
		if err := s.persist(ctx); err != nil {
			return fmt.Errorf("reply received but not saved: %w", err)
		}
	}
	return nil
}

// persist creates the saved chat on first use, then replaces its messages.
func (s *ChatSession) persist(ctx context.Context) error {
	if s.Chat == nil {
		user, err := s.app.currentUser(ctx)
		if err != nil {
			return err
		}
		title := s.Title
		if title == "" && len(s.Messages) > 0 {
			title = chatTitleFrom(s.Messages[0].Content)
		}
		chat, err := s.client.CreateChat(ctx, user.Key(), title)
		if err != nil {
			return err
		}
		s.Chat = chat
		fmt.Fprintln(s.out, DimStyle.Render("Saved as chat "+chat.ID))
	}
	return s.client.UpdateChat(ctx, s.Chat.ID, s.Messages)
}

// chatTitleFrom derives a title from the first message.
func chatTitleFrom(text string) string {
	return util.Preview(text, 40)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *ChatSession) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return false, nil

	case "/help", "/h":
		s.printHelp()

	case "/clear", "/c":
		s.Messages = nil
		s.Chat = nil
		fmt.Fprintln(s.out, DimStyle.Render("Conversation cleared."))

	case "/history":
		if len(s.Messages) == 0 {
			fmt.Fprintln(s.out, DimStyle.Render("No messages yet."))
			break
		}
		for _, m := range s.Messages {
			fmt.Fprintf(s.out, "%s %s\n", RenderRole(m.Role), m.Content)
		}

	case "/status", "/s":
		s.printStatus(ctx)

	case "/title":
		if arg == "" {
			return true, usagef("usage: /title NAME")
		}
		s.Title = arg
		if s.Chat == nil {
			fmt.Fprintln(s.out, DimStyle.Render("Title will be used when the chat is saved."))
			break
		}
		if err := s.client.UpdateChatTitle(ctx, s.Chat.ID, arg); err != nil {
			return true, err
		}
		s.Chat.Title = arg
		fmt.Fprintln(s.out, SuccessStyle.Render("Renamed to "+arg))

	case "/save":
		if arg == "" {
			return true, usagef("usage: /save PATH")
		}
		chat := &backend.Chat{Title: s.Title, Messages: s.Messages}
		if s.Chat != nil {
			chat.ID = s.Chat.ID
			chat.Title = s.Chat.Title
		}
		if err := storage.SaveChat(chat, arg, storage.FormatForPath(arg)); err != nil {
			return true, err
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Exported to "+arg))

	default:
		return true, usagef("unknown command %s; type /help", name)
	}
	return true, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out, TitleStyle.Render("agentchat")+" "+DimStyle.Render(s.app.cfg.Backend.URL))
	if s.Chat != nil {
		fmt.Fprintf(s.out, "%s %s (%d messages)\n", DimStyle.Render("Resuming"), s.Chat.Title, len(s.Chat.Messages))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, /quit or Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	rows := [][2]string{
		{"/help, /h", "Show this help"},
		{"/status, /s", "Backend status and session statistics"},
		{"/history", "Show this conversation"},
		{"/clear, /c", "Start a fresh conversation"},
		{"/title NAME", "Rename the saved chat"},
		{"/save PATH", "Export to .md or .json"},
		{"/quit, /q", "Exit"},
	}
	for _, r := range rows {
		fmt.Fprintf(s.out, "  %s%s\n", RenderLabel(r[0], 14), r[1])
	}
}

func (s *ChatSession) printStatus(ctx context.Context) {
	st := s.client.GetSystemStatus(ctx)
	fmt.Fprintf(s.out, "%s%s %s\n", RenderLabel("Backend", 12), RenderStatus(st.Status), st.Status)
	if len(st.Agents) > 0 {
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Agents", 12), strings.Join(st.Agents, ", "))
	}
	fmt.Fprintf(s.out, "%s%d sent, %d failed\n", RenderLabel("Messages", 12), s.Sent, s.Failed)
	if s.Chat != nil {
		fmt.Fprintf(s.out, "%s%s (%s)\n", RenderLabel("Saved as", 12), s.Chat.Title, s.Chat.ID)
	}
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Elapsed", 12), time.Since(s.StartTime).Round(time.Second))
}

func (s *ChatSession) printExitSummary() {
	if s.Sent == 0 {
		return
	}
	avg := time.Duration(0)
	if ok := s.Sent - s.Failed; ok > 0 {
		avg = s.TotalTime / time.Duration(ok)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, RenderSeparator(40))
	fmt.Fprintf(s.out, "%s%d (%d failed)\n", RenderLabel("Messages", 12), s.Sent, s.Failed)
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Avg reply", 12), avg.Round(time.Millisecond))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Duration", 12), time.Since(s.StartTime).Round(time.Second))
}
