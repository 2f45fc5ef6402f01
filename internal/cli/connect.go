// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jeranaias/agentchat/internal/apierr"
	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/cache"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/retry"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/storage"
	"github.com/jeranaias/agentchat/internal/telemetry"
	"github.com/jeranaias/agentchat/internal/transport"
)

// connect builds the client stack once per invocation: session store,
// transport, response cache, retry policy and the backend client, all
// reporting to one metrics registry.
func (a *app) connect() (*backend.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	cfg := a.cfg
	log := a.logger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.New(reg)

	store, err := session.Open(config.ResolvePath(cfg.Storage.SessionFile), cfg.Backend.URL)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	a.session = store

	tc, err := transport.New(transport.Config{
		BaseURL:     cfg.Backend.URL,
		Timeout:     cfg.Timeouts.Request.Duration,
		LongTimeout: cfg.Timeouts.Send.Duration,
		UserAgent:   fmt.Sprintf("%s/%s", cfg.Backend.UserAgent, Version),
		RateLimit:   cfg.RateLimit.RequestsPerSecond,
		RateBurst:   cfg.RateLimit.Burst,
	},
		transport.WithCookieJar(store),
		transport.WithLogger(log.Named("transport")),
		transport.WithObserver(a.metrics),
	)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	a.transport = tc

	cacheOpts := []cache.Option{cache.WithObserver(a.metrics.ObserveCache)}
	if cfg.Cache.Disabled {
		cacheOpts = append(cacheOpts, cache.WithAllowList())
	}
	rc := cache.New(cfg.Cache.TTL.Duration, cacheOpts...)

	a.client = backend.New(tc,
		backend.WithCache(rc),
		backend.WithRetryPolicy(retryPolicy(cfg.Retry)),
		backend.WithLogger(log.Named("backend")),
		backend.WithRecorder(a.metrics),
		backend.WithCoalescedAuthChecks(cfg.Backend.CoalesceAuthChecks),
	)

	if cfg.Metrics.Addr != "" {
		srv, err := startMetricsServer(cfg.Metrics.Addr, reg, log)
		if err != nil {
			return nil, &ConfigError{Err: err}
		}
		a.metricsSrv = srv
	}

	log.Debug("client ready",
		zap.String("backend", cfg.Backend.URL),
		zap.Duration("timeout", cfg.Timeouts.Request.Duration),
		zap.Duration("send_timeout", cfg.Timeouts.Send.Duration),
		zap.Int("max_attempts", retryPolicy(cfg.Retry).MaxAttempts()),
		zap.Duration("cache_ttl", rc.TTL()),
	)
	return a.client, nil
}

// retryPolicy converts the retry config section to a policy.
func retryPolicy(rc config.RetryConfig) retry.Policy {
	if rc.Disabled || rc.MaxRetries <= 0 {
		return retry.None()
	}
	return retry.Policy{MaxRetries: rc.MaxRetries, BaseDelay: rc.BaseDelay.Duration}
}

// openHistory opens the local message history unless it is disabled.
// A nil History with a nil error means recording is off.
func (a *app) openHistory() (*storage.History, error) {
	if a.history != nil || a.cfg.Storage.DisableHistory {
		return a.history, nil
	}
	h, err := storage.Open(config.ResolvePath(a.cfg.Storage.HistoryDB))
	if err != nil {
		return nil, err
	}
	a.history = h
	return h, nil
}

// currentUser returns the signed-in user or ErrNotSignedIn. The confirmed
// user is remembered in the session file.
func (a *app) currentUser(ctx context.Context) (*backend.User, error) {
	c, err := a.connect()
	if err != nil {
		return nil, err
	}
	st := c.CheckAuth(ctx)
	if !st.Authenticated || st.User == nil {
		switch st.Reason {
		case backend.ReasonNetworkError:
			return nil, apierr.New(apierr.KindTransport, "Cannot reach the backend at "+a.cfg.Backend.URL)
		case backend.ReasonServerError, backend.ReasonInvalidResponse:
			return nil, apierr.New(apierr.KindServer, "Session check failed ("+st.Reason+")")
		}
		a.session.SetUser(nil)
		return nil, ErrNotSignedIn
	}
	a.session.SetUser(st.User)
	return st.User, nil
}

// =============================================================================
// METRICS ENDPOINT
// =============================================================================

// metricsServer serves /metrics for the lifetime of a command.
type metricsServer struct {
	*http.Server
	addr string
}

func startMetricsServer(addr string, reg *prometheus.Registry, log *zap.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &metricsServer{
		Server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: ln.Addr().String(),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", srv.addr))
	return srv, nil
}
