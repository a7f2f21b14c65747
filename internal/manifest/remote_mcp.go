//go:build !nomcp

// ABOUTME: MCP client connection used by manifests that proxy a remote MCP server.
// ABOUTME: Supports subprocess (stdio) and SSE servers through mark3labs/mcp-go.

package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

const clientName = "coven-tools"

// mcpRemote is a remote backed by an mcp-go client.
type mcpRemote struct {
	cli *client.Client
}

// dialMCP starts the configured server or connects to its URL and performs
// the initialize handshake.
func dialMCP(ctx context.Context, spec MCPSpec) (remote, error) {
	var (
		cli *client.Client
		err error
	)
	if spec.URL != "" {
		cli, err = client.NewSSEMCPClient(spec.URL)
		if err != nil {
			return nil, fmt.Errorf("creating SSE client: %w", err)
		}
		if err := cli.Start(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("starting SSE client: %w", err), cli.Close())
		}
	} else {
		cli, err = client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
		if err != nil {
			return nil, fmt.Errorf("starting %s: %w", spec.Command, err)
		}
	}
	return handshake(ctx, cli)
}

// handshake initializes an already started client.
func handshake(ctx context.Context, cli *client.Client) (remote, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		return nil, errors.Join(fmt.Errorf("initializing: %w", err), cli.Close())
	}
	return &mcpRemote{cli: cli}, nil
}

func (r *mcpRemote) tools(ctx context.Context) ([]remoteTool, error) {
	res, err := r.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	out := make([]remoteTool, 0, len(res.Tools))
	for _, t := range res.Tools {
		params, err := inputSchema(t)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		}
		out = append(out, remoteTool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out, nil
}

func (r *mcpRemote) call(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := r.cli.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, c := range res.Content {
		switch content := c.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

func (r *mcpRemote) ping(ctx context.Context) error {
	return r.cli.Ping(ctx)
}

func (r *mcpRemote) close() error {
	return r.cli.Close()
}

// inputSchema converts a remote tool's input schema into a generic map.
func inputSchema(t mcp.Tool) (map[string]any, error) {
	var raw []byte
	if len(t.RawInputSchema) > 0 {
		raw = t.RawInputSchema
	} else {
		encoded, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	if schema == nil {
		schema = map[string]any{}
	}
	if _, ok := schema["type"]; !ok {
		schema["type"] = "object"
	}
	if _, ok := schema["properties"]; !ok {
		schema["properties"] = map[string]any{}
	}
	return schema, nil
}
