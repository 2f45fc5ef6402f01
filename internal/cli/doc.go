// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the agentchat command line.
//
// Every command shares one lazily built client stack (session store,
// transport, response cache, retry policy, backend façade) and one exit
// code mapping. Errors are returned, never printed by commands; Execute
// renders them as text or, with --json, as a JSON envelope on stdout.
//
// # Key Types
//
//   - JSONResponse: Envelope for --json output
//   - ChatSession: State of the interactive chat REPL
//   - ChatCLI: Line editing and input history for the REPL
//
// # Usage
//
//	os.Exit(cli.Execute(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
//
// # Commands Overview
//
// Account:
//   - login, register, logout, whoami
//
// Messaging:
//   - send: One message, reply on stdout
//   - chat: Interactive session, optionally saved to the account
//   - history: Messages sent from this machine
//
// Conversations:
//   - chats list|show|new|rename|delete|export
//
// Backend:
//   - status: Health, agent status and session in one view
//   - health: Liveness check for scripts
//   - mock-server: In-memory backend for local testing
//
// Settings:
//   - config show|path|keys|get|set
package cli
