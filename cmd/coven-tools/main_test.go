// ABOUTME: Tests for the coven-tools command tree against a temp config and modules directory
// ABOUTME: Covers list, call, modules, prompts, token, history, serve flag handling and exit codes

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-tools/internal/auth"
	"github.com/2389/coven-tools/internal/config"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/tool"
)

const greeterYAML = `name: greeter
version: 1.0.0
system_prompt: Greet people warmly.
tools:
  - name: greet
    description: Greet someone
    parameters: {type: object, properties: {name: {type: string}}, required: [name]}
    template: "Hello {{.name}}!"
  - name: discord_wave
    description: Wave on Discord
    platforms: [discord]
    template: "*waves*"
`

// executeCommand runs a fresh command tree with args and captures stdout/stderr.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var outBuf, errBuf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

// writeWorkspace creates a modules dir with the greeter manifest and a config
// pointing at it. It returns the config path.
func writeWorkspace(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	modules := filepath.Join(dir, "modules")
	require.NoError(t, os.MkdirAll(modules, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modules, "greeter.yaml"), []byte(greeterYAML), 0644))

	cfg := fmt.Sprintf("modules:\n  dir: %q\nlogging:\n  level: error\n%s", modules, extra)
	path := filepath.Join(dir, "coven-tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })
	return path
}

func TestListCommand(t *testing.T) {
	cfg := writeWorkspace(t, "")

	out, _, err := executeCommand(t, "list", "--config", cfg)
	require.NoError(t, err)

	var tools []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &tools))
	names := make([]string, 0, len(tools))
	for _, tl := range tools {
		names = append(names, tl["name"].(string))
		assert.Contains(t, tl, "inputSchema")
	}
	assert.Contains(t, names, "greet")
	assert.Contains(t, names, "list_tools")

	out, _, err = executeCommand(t, "list", "--config", cfg, "--format", "function", "--platform", "slack")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "function"`)
	assert.NotContains(t, out, "discord_wave")

	_, _, err = executeCommand(t, "list", "--config", cfg, "--format", "xml")
	assert.Error(t, err)
}

func TestCallCommand(t *testing.T) {
	cfg := writeWorkspace(t, "")

	out, _, err := executeCommand(t, "call", "--config", cfg, "greet", `{"name":"Ada"}`)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!\n", out)

	out, _, err = executeCommand(t, "call", "--config", cfg, "nope")
	require.NoError(t, err, "unknown tools come back as text")
	assert.Contains(t, out, "tool_not_found")

	_, _, err = executeCommand(t, "call", "--config", cfg, "greet", `not json`)
	assert.ErrorIs(t, err, tool.ErrMalformedToolCall)
}

func TestModulesAndPromptsCommands(t *testing.T) {
	cfg := writeWorkspace(t, "")
	modulesDir := filepath.Join(filepath.Dir(cfg), "modules")
	require.NoError(t, os.WriteFile(filepath.Join(modulesDir, "broken.yaml"), []byte("name: ["), 0644))

	out, _, err := executeCommand(t, "modules", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "greeter")
	assert.Contains(t, out, "runtime")
	assert.Contains(t, out, "broken.yaml")
	assert.Contains(t, out, "failed")

	out, _, err = executeCommand(t, "prompts", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "## greeter\n\nGreet people warmly.")
}

func TestTokenCommand(t *testing.T) {
	cfg := writeWorkspace(t, "bridge:\n  jwt_secret: cli-test-secret\n")

	out, _, err := executeCommand(t, "token", "--config", cfg, "--sub", "alice", "--platform", "slack", "--ttl", "1h")
	require.NoError(t, err)

	id, err := auth.NewJWTVerifier([]byte("cli-test-secret")).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.Subject)
	assert.Equal(t, "slack", id.Platform)

	_, _, err = executeCommand(t, "token", "--config", writeWorkspace(t, ""), "--sub", "alice")
	assert.Error(t, err, "no secret configured")
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tools.db")
	cfg := writeWorkspace(t, fmt.Sprintf("database:\n  path: %q\n", dbPath))

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.AppendModuleEvent(context.Background(), &store.ModuleEvent{
		Module:    "greeter",
		Version:   "1.0.0",
		Action:    store.EventLoad,
		Success:   true,
		Timestamp: time.Now(),
	}))
	require.NoError(t, st.Close())

	out, _, err := executeCommand(t, "history", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "greeter")
	assert.Contains(t, out, "load")

	_, _, err = executeCommand(t, "history", "--config", writeWorkspace(t, ""))
	assert.Error(t, err, "no database configured")
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--transport", "sse", "--port", "9100", "--hot-reload"}))

	cfg := config.Default()
	cfg.Bridge.Host = "from-config"
	require.NoError(t, applyServeFlags(cmd, cfg))

	assert.Equal(t, "sse", cfg.Bridge.Transport)
	assert.Equal(t, 9100, cfg.Bridge.Port)
	assert.Equal(t, "from-config", cfg.Bridge.Host, "unset flags keep the config value")
	assert.True(t, cfg.Modules.Watch)

	cmd = newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--transport", "pigeon"}))
	assert.Error(t, applyServeFlags(cmd, config.Default()))
}

func TestExitCode(t *testing.T) {
	var buf bytes.Buffer

	assert.Equal(t, 0, exitCode(nil, &buf))
	assert.Equal(t, 1, exitCode(errors.New("boom"), &buf))
	assert.Equal(t, 1, exitCode(exitError(1, "%v", tool.ErrProtocolUnavailable), &buf))
	assert.Equal(t, 3, exitCode(&ExitError{Code: 3, Message: "custom"}, &buf))
	assert.Contains(t, buf.String(), "protocol unavailable")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "loader").WithGroup("module").Info("loaded", "name", "greeter")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "loaded")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "module.name=")
	assert.Contains(t, out, "greeter")
}
