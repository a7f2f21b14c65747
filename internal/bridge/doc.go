// Package bridge exposes the registry's tools to external agent hosts over
// the Model Context Protocol.
//
// A Bridge holds a snapshot of the eligible tools: tools with no platform
// restriction, tools that list the bridge's platform, and tools restricted
// to several platforms. A tool restricted to exactly one other platform is
// never exposed. Refresh rebuilds the snapshot after the registry changes.
//
// Every inbound call gets a fresh tool.Context tagged with the bridge's
// platform and user, or with the authenticated identity when the request
// carried a bearer token. Results are returned verbatim and never cached.
//
// # Transports
//
//   - stdio: newline-delimited JSON-RPC via the mcp-go stdio server.
//   - sse: the mcp-go event-stream server at /sse and /message.
//   - http: a stateless JSON-RPC endpoint at /mcp, always compiled in.
//
// Building with -tags nomcp removes the mcp-go transports; ServeStdio and
// SSEHandler then return tool.ErrProtocolUnavailable.
package bridge
