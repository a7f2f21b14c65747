//go:build nomcp

// ABOUTME: Stand-ins for the mcp-go transports when built with the nomcp tag.
// ABOUTME: Both report the protocol as unavailable so the CLI can exit cleanly.

package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/2389/coven-tools/internal/tool"
)

// Available reports whether the mcp-go transports are compiled in.
func Available() bool { return false }

// ServeStdio reports the stdio transport as unavailable.
func (b *Bridge) ServeStdio(context.Context, io.Reader, io.Writer) error {
	return fmt.Errorf("%w: stdio transport not compiled in (built with nomcp)", tool.ErrProtocolUnavailable)
}

// SSEHandler reports the event-stream transport as unavailable.
func (b *Bridge) SSEHandler(string) (http.Handler, error) {
	return nil, fmt.Errorf("%w: sse transport not compiled in (built with nomcp)", tool.ErrProtocolUnavailable)
}
