//go:build !nomcp

// ABOUTME: Tests for the mcp-go transports using an in-process client and piped stdio.
// ABOUTME: Verifies listing, calling, error results and snapshot sync after Refresh.

package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-tools/internal/tool"
)

func newInProcessClient(t *testing.T, b *Bridge) *client.Client {
	t.Helper()
	cli, err := client.NewInProcessClient(b.newMCPServer())
	require.NoError(t, err)
	require.NoError(t, cli.Start(context.Background()))
	t.Cleanup(func() { _ = cli.Close() })

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "bridge-test", Version: "1.0.0"}
	_, err = cli.Initialize(context.Background(), req)
	require.NoError(t, err)
	return cli
}

func callText(t *testing.T, cli *client.Client, name string) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = map[string]any{}
	res, err := cli.CallTool(context.Background(), req)
	require.NoError(t, err)
	return res
}

func firstText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestMCPServerListAndCall(t *testing.T) {
	b, _ := newTestBridge(t, whoami("anywhere"), whoami("discord_only", "discord"), failing("broken"))
	require.True(t, Available())
	cli := newInProcessClient(t, b)

	listed, err := cli.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	names := make([]string, len(listed.Tools))
	for i, tl := range listed.Tools {
		names[i] = tl.Name
	}
	assert.ElementsMatch(t, []string{"anywhere", "broken"}, names)

	res := callText(t, cli, "anywhere")
	assert.False(t, res.IsError)
	assert.Equal(t, "mcp-user@mcp via clara-tools", firstText(t, res))

	res = callText(t, cli, "broken")
	assert.True(t, res.IsError)
	assert.Contains(t, firstText(t, res), "backend offline")
}

func TestMCPServerFollowsRefresh(t *testing.T) {
	b, reg := newTestBridge(t, whoami("first"))
	cli := newInProcessClient(t, b)

	require.NoError(t, reg.RegisterModule("later", []tool.Definition{whoami("second")}))
	b.Refresh()

	listed, err := cli.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, listed.Tools, 2)

	res := callText(t, cli, "second")
	assert.False(t, res.IsError)
}

func TestServeStdio(t *testing.T) {
	b, _ := newTestBridge(t, whoami("anywhere"))

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- b.ServeStdio(ctx, inR, outW)
		_ = outW.Close()
	}()

	lines := bufio.NewScanner(outR)
	send := func(msg string) map[string]any {
		_, err := io.WriteString(inW, msg+"\n")
		require.NoError(t, err)
		require.True(t, lines.Scan())
		var resp map[string]any
		require.NoError(t, json.Unmarshal(lines.Bytes(), &resp))
		return resp
	}

	resp := send(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"t","version":"1"}}}`)
	require.Contains(t, resp, "result")

	_, err := io.WriteString(inW, `{"jsonrpc":"2.0","method":"notifications/initialized"}`+"\n")
	require.NoError(t, err)

	resp = send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"anywhere","arguments":{}}}`)
	result := resp["result"].(map[string]any)
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "mcp-user@mcp via clara-tools", content["text"])

	cancel()
	_ = inW.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ServeStdio did not return")
	}
}
