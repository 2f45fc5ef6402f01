// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for agentchat commands.
//
// Commands always return errors and never print-and-swallow them.
// Execute decides how to display them and which exit code to use.

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
	// ExitServerError indicates the backend answered with a failure
	ExitServerError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted indicates the user cancelled the operation
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid arguments or flags.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// usagef returns a UsageError.
func usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ConfigError reports a configuration problem.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrNotSignedIn is returned by commands that need a session when the
// backend reports none.
var ErrNotSignedIn = errors.New("not signed in; run `agentchat login` first")

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}
	var cfgErr *ConfigError
	var verrs config.ValidateErrors
	if errors.As(err, &cfgErr) || errors.As(err, &verrs) {
		return ExitConfigError
	}
	if errors.Is(err, ErrNotSignedIn) || apierr.IsAuthFailure(err) {
		return ExitAuthError
	}
	if apierr.IsNotFound(err) {
		return ExitNotFoundError
	}

	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		return ExitUsageError
	case apierr.KindTransport:
		return ExitNetworkError
	case apierr.KindTimeout:
		return ExitTimeoutError
	case apierr.KindCanceled:
		return ExitInterrupted
	case apierr.KindServer, apierr.KindClient, apierr.KindApplication, apierr.KindParse:
		return ExitServerError
	}
	return ExitGeneralError
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err for a human, or as a JSON envelope in JSON mode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Write(w)
		return
	}
	fmt.Fprintf(w, "%s %v\n", ErrorStyle.Render("Error:"), err)
	if hint := errorHint(err); hint != "" {
		fmt.Fprintln(w, DimStyle.Render(hint))
	}
}

func errorHint(err error) string {
	var usage *UsageError
	switch {
	case errors.As(err, &usage):
		return "Run with --help for usage."
	case errors.Is(err, ErrNotSignedIn):
		return ""
	case apierr.IsAuthFailure(err):
		return "Your session may have expired. Run `agentchat login`."
	case apierr.KindOf(err) == apierr.KindTransport:
		return "Check that the backend is running and --backend is correct."
	case apierr.KindOf(err) == apierr.KindTimeout:
		return "The backend did not answer in time. Try --timeout with a larger value."
	}
	return ""
}
