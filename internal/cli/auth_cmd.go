// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/session"
)

// readSecret returns the password from the prompt or, with fromStdin,
// the first line of stdin.
func (a *app) readSecret(prompt string, fromStdin bool) (string, error) {
	if fromStdin {
		return promptLine(a.in, a.stderr, "")
	}
	if !a.isInteractive() {
		return "", &TTYRequiredError{Operation: "read a password"}
	}
	return promptPassword(a.stdin, a.in, a.stderr, prompt)
}

// ask returns value when set, otherwise prompts for it.
func (a *app) ask(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}
	if !a.isInteractive() {
		return "", usagef("%s is required", strings.TrimSuffix(strings.ToLower(prompt), ": "))
	}
	return promptLine(a.in, a.stderr, prompt)
}

// =============================================================================
// LOGIN / REGISTER
// =============================================================================

func newLoginCmd(a *app) *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in to the backend",
		Example: `  agentchat login ada
  echo "$PASSWORD" | agentchat login ada --password-stdin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				username = args[0]
			}
			name, err := a.ask(username, "Username: ")
			if err != nil {
				return err
			}
			password, err := a.readSecret("Password: ", passwordStdin)
			if err != nil {
				return err
			}

			c, err := a.connect()
			if err != nil {
				return err
			}
			user, err := c.Login(cmd.Context(), backend.Credentials{Username: name, Password: password})
			if err != nil {
				return err
			}
			a.session.SetUser(user)
			a.session.RecordActivity()
			return a.printUser(cmd, "Signed in as", user)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var (
		username      string
		email         string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			name, err := a.ask(username, "Username: ")
			if err != nil {
				return err
			}
			mail, err := a.ask(email, "Email: ")
			if err != nil {
				return err
			}
			password, err := a.readSecret("Password: ", passwordStdin)
			if err != nil {
				return err
			}
			if !passwordStdin {
				confirm, err := a.readSecret("Confirm password: ", false)
				if err != nil {
					return err
				}
				if confirm != password {
					return usagef("passwords do not match")
				}
			}

			c, err := a.connect()
			if err != nil {
				return err
			}
			user, err := c.Register(cmd.Context(), backend.Registration{Username: name, Email: mail, Password: password})
			if err != nil {
				return err
			}
			a.session.SetUser(user)
			a.session.RecordActivity()
			return a.printUser(cmd, "Registered and signed in as", user)
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "email address")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (a *app) printUser(cmd *cobra.Command, verb string, user *backend.User) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		return NewJSONResponse(cmd.CommandPath(), user).Write(out)
	}
	fmt.Fprintf(out, "%s %s\n", SuccessStyle.Render(verb), ValueStyle.Render(user.Username))
	return nil
}

// =============================================================================
// LOGOUT
// =============================================================================

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			logoutErr := c.Logout(cmd.Context())
			// The local session is dropped even when the backend call fails.
			if err := a.session.Remove(); err != nil {
				return err
			}
			if logoutErr != nil {
				return logoutErr
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), map[string]bool{"signed_out": true}).Write(out)
			}
			fmt.Fprintln(out, SuccessStyle.Render("Signed out"))
			return nil
		},
	}
}

// =============================================================================
// WHOAMI
// =============================================================================

type whoamiResult struct {
	Authenticated bool           `json:"authenticated"`
	User          *backend.User  `json:"user,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Cached        bool           `json:"cached"`
	Session       session.Status `json:"session"`
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.connect()
			if err != nil {
				return err
			}
			st := c.CheckAuth(cmd.Context())
			if st.Authenticated {
				a.session.SetUser(st.User)
			}
			res := whoamiResult{
				Authenticated: st.Authenticated,
				User:          st.User,
				Reason:        st.Reason,
				Cached:        st.Cached,
				Session:       a.session.GetStatus(),
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return NewJSONResponse(cmd.CommandPath(), res).Write(out)
			}
			if !st.Authenticated {
				fmt.Fprintf(out, "%s %s\n", RenderStatus("signed out"), describeReason(st.Reason))
				return nil
			}
			fmt.Fprintf(out, "%s %s\n", RenderStatus("authenticated"), ValueStyle.Render(st.User.Username))
			if st.User.Email != "" {
				fmt.Fprintf(out, "%s%s\n", RenderLabel("Email", 12), st.User.Email)
			}
			fmt.Fprintf(out, "%s%s\n", RenderLabel("User ID", 12), st.User.Key())
			fmt.Fprintf(out, "%s%s\n", RenderLabel("Backend", 12), res.Session.Backend)
			if !res.Session.LastActivity.IsZero() {
				fmt.Fprintf(out, "%s%s ago\n", RenderLabel("Last used", 12),
					session.FormatDuration(res.Session.Idle.Truncate(time.Second)))
			}
			return nil
		},
	}
}

func describeReason(reason string) string {
	switch reason {
	case backend.ReasonNoSession:
		return "Not signed in."
	case backend.ReasonSessionExpired:
		return "Session expired. Run `agentchat login`."
	case backend.ReasonUserNotFound:
		return "The signed-in account no longer exists."
	case backend.ReasonNetworkError:
		return "Backend unreachable."
	case backend.ReasonUnauthorized:
		return "The backend rejected the session."
	case backend.ReasonServerError:
		return "The backend failed to check the session."
	case backend.ReasonInvalidResponse:
		return "The backend sent an unreadable answer."
	}
	return reason
}
