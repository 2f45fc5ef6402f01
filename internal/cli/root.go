// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/logging"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/storage"
	"github.com/jeranaias/agentchat/internal/telemetry"
	"github.com/jeranaias/agentchat/internal/transport"
)

// Version is set at build time.
var Version = "dev"

// app carries flags and the lazily built client stack for one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	in     *bufio.Reader

	// persistent flags
	configPath  string
	backendURL  string
	jsonOut     bool
	metricsAddr string
	logLevel    string
	timeout     time.Duration
	sendTimeout time.Duration
	noRetry     bool
	noHistory   bool

	cfg        *config.Config
	log        *logging.Logger
	metrics    *telemetry.Metrics
	metricsSrv *metricsServer
	session    *session.Store
	transport  *transport.Client
	client     *backend.Client
	history    *storage.History
}

// NewRootCommand builds the agentchat command tree.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	cmd, _ := newRootCommand(in, out, errOut)
	return cmd
}

func newRootCommand(in io.Reader, out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{
		stdin:  in,
		stdout: out,
		stderr: errOut,
		in:     bufio.NewReader(in),
	}

	cmd := &cobra.Command{
		Use:   "agentchat",
		Short: "Command-line client for the agent chat backend",
		Long: "agentchat signs in to an agent chat backend, sends messages, and manages " +
			"saved conversations. Session checks are cached briefly and idempotent reads " +
			"are retried on transient failures.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ~/.agentchat/config.toml)")
	pf.StringVar(&a.backendURL, "backend", "", "backend base URL, e.g. http://localhost:5000")
	pf.BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")
	pf.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.DurationVar(&a.timeout, "timeout", 0, "request timeout (message sends use --send-timeout)")
	pf.DurationVar(&a.sendTimeout, "send-timeout", 0, "message send timeout")
	pf.BoolVar(&a.noRetry, "no-retry", false, "do not retry failed reads")
	pf.BoolVar(&a.noHistory, "no-history", false, "do not record sent messages locally")

	cmd.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newSendCmd(a),
		newChatCmd(a),
		newStatusCmd(a),
		newHealthCmd(a),
		newChatsCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newMockServerCmd(a),
	)
	cmd.SetVersionTemplate("agentchat {{.Version}}\n")
	return cmd, a
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	root, a := newRootCommand(in, out, errOut)
	root.SetArgs(args)

	ran, err := root.ExecuteContextC(ctx)
	if closeErr := a.close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err == nil {
		return ExitSuccess
	}
	if isCobraUsageError(err) {
		err = &UsageError{Err: err}
	}

	name := "agentchat"
	if ran != nil {
		name = ran.CommandPath()
	}
	w := errOut
	if a.jsonOut {
		w = out
	}
	DisplayError(w, name, err, a.jsonOut)
	return GetExitCode(err)
}

func isCobraUsageError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "accepts ") ||
		strings.HasPrefix(msg, "requires at least") ||
		strings.HasPrefix(msg, "requires at most")
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// loadConfig reads the config file, applies flag overrides and builds the
// logger.
func (a *app) loadConfig(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return &ConfigError{Err: err}
	}

	flags := cmd.Flags()
	if a.backendURL != "" {
		cfg.Backend.URL = strings.TrimRight(a.backendURL, "/")
	}
	if flags.Changed("timeout") {
		cfg.Timeouts.Request = config.D(a.timeout)
	}
	if flags.Changed("send-timeout") {
		cfg.Timeouts.Send = config.D(a.sendTimeout)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if a.noRetry {
		cfg.Retry.Disabled = true
	}
	if a.noHistory {
		cfg.Storage.DisableHistory = true
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Err: err}
	}
	a.cfg = cfg

	log, err := logging.New(cfg.Logging, a.stderr)
	if err != nil {
		return &ConfigError{Err: err}
	}
	a.log = log
	return nil
}

// =============================================================================
// CLEANUP
// =============================================================================

// close saves the session and releases everything connect opened.
func (a *app) close() error {
	var errs []error
	if a.session != nil {
		if err := a.session.Save(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if a.log != nil {
		a.log.Debug("exiting")
		_ = a.log.Close()
	}
	return errors.Join(errs...)
}

// logger returns the configured logger, or a no-op one before config loads.
func (a *app) logger() *zap.Logger {
	if a.log == nil {
		return zap.NewNop()
	}
	return a.log.Logger
}

// isInteractive reports whether stdin is a terminal.
func (a *app) isInteractive() bool {
	return isTerminal(a.stdin)
}
