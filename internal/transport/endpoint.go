// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"net/url"
	"strings"
)

// Endpoint describes one backend operation. Endpoints are declared once
// and treated as immutable.
type Endpoint struct {
	// Name is a stable label for logs and metrics, e.g. "check_auth".
	Name   string
	Method string
	// Path is the route pattern; "{name}" segments are filled by Expand.
	Path string
	// Credentials sends and accepts session cookies.
	Credentials bool
	// Retryable marks the call as safe to repeat on transient failure.
	Retryable bool
	// Long selects the long-call timeout instead of the default.
	Long bool
}

// Expand returns a copy of e with each "{...}" placeholder in Path
// replaced, in order, by the path-escaped args. Extra args are ignored and
// missing args leave the placeholder empty.
func (e Endpoint) Expand(args ...string) Endpoint {
	if !strings.Contains(e.Path, "{") {
		return e
	}
	var b strings.Builder
	rest := e.Path
	i := 0
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		if i < len(args) {
			b.WriteString(url.PathEscape(args[i]))
		}
		i++
		rest = rest[open+end+1:]
	}
	out := e
	out.Path = b.String()
	return out
}

// String renders the endpoint as "METHOD path".
func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}
