//go:build nomcp

// ABOUTME: Stub remote connection for builds without the MCP client.
// ABOUTME: Manifests with an mcp block fail to load with ErrProtocolUnavailable.

package manifest

import (
	"context"
	"fmt"

	"github.com/2389/coven-tools/internal/tool"
)

func dialMCP(context.Context, MCPSpec) (remote, error) {
	return nil, fmt.Errorf("%w: built without MCP support", tool.ErrProtocolUnavailable)
}
