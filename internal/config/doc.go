// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for agentchat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Backend URL and client identity
//   - RetryConfig: Backoff policy for idempotent reads
//   - CacheConfig: Session-check cache behavior
//   - Watcher: Reloads the config file when it changes
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (AGENTCHAT_*)
//   - ~/.agentchat/config.toml
//   - ~/.agentchat/config.json
//   - Built-in defaults
//
// AGENTCHAT_HOME moves the whole directory.
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	url := cfg.Backend.URL
//	timeout := cfg.Timeouts.Request.Duration
package config
