// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides Prometheus metrics for backend calls.
//
// Metrics follow the RED pattern for every endpoint the client talks to:
//
//   - Rate:     agentchat_client_requests_total{endpoint,method,outcome}
//   - Errors:   the non-"ok" outcome values of the above counter
//   - Duration: agentchat_client_request_duration_seconds{endpoint}
//
// Retries and response-cache events are counted separately.
//
// # Usage
//
//	m := telemetry.New(prometheus.NewRegistry())
//	tc, _ := transport.New(cfg, transport.WithObserver(m))
//	rc := cache.New(ttl, cache.WithObserver(m.ObserveCache))
//
// Metrics are local to the process. Nothing is exported unless the caller
// serves the registry, e.g. with promhttp.
package telemetry
