//go:build !nomcp

// ABOUTME: stdio and SSE transports built on the mcp-go server.
// ABOUTME: Keeps the mcp-go tool list in sync with the bridge snapshot on every refresh.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/2389/coven-tools/internal/auth"
	"github.com/2389/coven-tools/internal/convert"
)

// Available reports whether the mcp-go transports are compiled in.
func Available() bool { return true }

// newMCPServer builds an mcp-go server that follows the snapshot.
func (b *Bridge) newMCPServer() *server.MCPServer {
	s := server.NewMCPServer(b.name, b.version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	follow := func(snapshot []convert.ProtocolTool) {
		s.SetTools(b.serverTools(snapshot)...)
	}
	follow(b.Snapshot())
	b.onRefresh(follow)
	return s
}

func (b *Bridge) serverTools(snapshot []convert.ProtocolTool) []server.ServerTool {
	out := make([]server.ServerTool, 0, len(snapshot))
	for _, pt := range snapshot {
		schema, err := json.Marshal(pt.InputSchema)
		if err != nil {
			b.logger.Warn("skipping tool with unencodable schema", "tool", pt.Name, "error", err)
			continue
		}
		name := pt.Name
		out = append(out, server.ServerTool{
			Tool: mcp.NewToolWithRawSchema(name, pt.Description, schema),
			Handler: func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return b.handleCall(ctx, name, req.GetArguments()), nil
			},
		})
	}
	return out
}

func (b *Bridge) handleCall(ctx context.Context, name string, args map[string]any) *mcp.CallToolResult {
	text, failed, err := b.call(ctx, name, args)
	switch {
	case err != nil:
		return mcp.NewToolResultError(err.Error())
	case failed:
		return mcp.NewToolResultError(text)
	default:
		return mcp.NewToolResultText(text)
	}
}

// ServeStdio serves newline-delimited JSON-RPC on in/out until ctx is done
// or in is closed.
func (b *Bridge) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	b.logger.Info("=== BRIDGE SERVING ===", "transport", "stdio", "name", b.name, "tools", len(b.Snapshot()))

	err := server.NewStdioServer(b.newMCPServer()).Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// SSEHandler returns the event-stream transport, serving /sse and /message
// relative to baseURL.
func (b *Bridge) SSEHandler(baseURL string) (http.Handler, error) {
	sse := server.NewSSEServer(b.newMCPServer(),
		server.WithBaseURL(baseURL),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id := auth.FromContext(r.Context()); id != nil {
				return auth.WithIdentity(ctx, id)
			}
			return ctx
		}),
	)
	return b.protect(sse), nil
}
