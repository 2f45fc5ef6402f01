// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session keeps the backend session between agentchat invocations.
//
// The backend authenticates with a cookie. Store is the cookie jar handed
// to the transport; after each command the CLI saves it to
// ~/.agentchat/session.json so the next command is still signed in.
//
// # Key Types
//
//   - Store: persisted http.CookieJar plus the last confirmed user
//   - Status: summary shown by `agentchat whoami`
//
// # Usage
//
//	store, err := session.Open(path, cfg.Backend.URL)
//	if err != nil {
//	    return err
//	}
//	defer store.Save()
//	tc, err := transport.New(tcfg, transport.WithCookieJar(store))
package session
