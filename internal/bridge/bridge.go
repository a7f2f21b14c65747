// ABOUTME: Exposes the registry's current tool set to external agent hosts.
// ABOUTME: Holds the eligible-tool snapshot and dispatches inbound calls with a fresh tool context.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-tools/internal/auth"
	"github.com/2389/coven-tools/internal/convert"
	"github.com/2389/coven-tools/internal/registry"
	"github.com/2389/coven-tools/internal/tool"
)

// Defaults applied by New.
const (
	DefaultName     = "clara-tools"
	DefaultVersion  = "1.0.0"
	DefaultPlatform = "mcp"
	DefaultUserID   = "mcp-user"
)

// Config holds configuration for the Bridge.
type Config struct {
	Registry *registry.Registry
	Name     string
	Version  string
	Platform string
	UserID   string

	// Verifier, when set, requires a bearer token on the networked transports.
	Verifier auth.TokenVerifier
	Logger   *slog.Logger
}

// Bridge serves a snapshot of the registry over the external tool protocol.
type Bridge struct {
	reg      *registry.Registry
	name     string
	version  string
	platform string
	userID   string
	verifier auth.TokenVerifier
	logger   *slog.Logger

	mu        sync.RWMutex
	tools     map[string]tool.Definition
	snapshot  []convert.ProtocolTool
	listeners []func([]convert.ProtocolTool)
}

// New creates a Bridge and takes the initial snapshot.
func New(cfg Config) (*Bridge, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		reg:      cfg.Registry,
		name:     orDefault(cfg.Name, DefaultName),
		version:  orDefault(cfg.Version, DefaultVersion),
		platform: orDefault(cfg.Platform, DefaultPlatform),
		userID:   orDefault(cfg.UserID, DefaultUserID),
		verifier: cfg.Verifier,
		logger:   logger.With("component", "bridge"),
	}
	b.Refresh()
	return b, nil
}

// Name returns the server name advertised to hosts.
func (b *Bridge) Name() string { return b.name }

// Platform returns the platform tag applied to inbound calls.
func (b *Bridge) Platform() string { return b.platform }

// Refresh rebuilds the snapshot from the registry and returns its size.
func (b *Bridge) Refresh() int {
	defs := b.reg.Definitions()

	tools := make(map[string]tool.Definition, len(defs))
	snapshot := make([]convert.ProtocolTool, 0, len(defs))
	for _, def := range defs {
		if !Eligible(def, b.platform) {
			continue
		}
		tools[def.Name] = def
		snapshot = append(snapshot, convert.ToProtocol(def))
	}

	b.mu.Lock()
	b.tools = tools
	b.snapshot = snapshot
	listeners := make([]func([]convert.ProtocolTool), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(cloneSnapshot(snapshot))
	}

	b.logger.Info("tool snapshot refreshed",
		"exposed", len(snapshot),
		"registered", len(defs),
	)
	return len(snapshot)
}

// Snapshot returns the exposed tools in registration order.
func (b *Bridge) Snapshot() []convert.ProtocolTool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneSnapshot(b.snapshot)
}

// Call executes a snapshot tool. Only names outside the snapshot are
// errors; handler failures come back as text.
func (b *Bridge) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	text, _, err := b.call(ctx, name, args)
	return text, err
}

// call is Call that also reports whether the text describes a failure.
func (b *Bridge) call(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	b.mu.RLock()
	_, ok := b.tools[name]
	b.mu.RUnlock()
	if !ok {
		return "", false, fmt.Errorf("%w: %q is not exposed by %s", tool.ErrToolNotFound, name, b.name)
	}

	tc := b.contextFor(ctx)
	tc.Extra["bridge"] = b.name
	out, err := b.reg.Invoke(ctx, name, args, tc)
	if err != nil {
		return registry.ErrorText(name, err), true, nil
	}
	return out, false, nil
}

// contextFor builds the per-call tool context, preferring an authenticated identity.
func (b *Bridge) contextFor(ctx context.Context) tool.Context {
	userID, platform := b.userID, b.platform
	if id := auth.FromContext(ctx); id != nil {
		userID = id.Subject
		if id.Platform != "" {
			platform = id.Platform
		}
	}
	return tool.NewContext(userID, platform)
}

// onRefresh registers fn to receive every new snapshot.
func (b *Bridge) onRefresh(fn func([]convert.ProtocolTool)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Eligible reports whether def is exposed on a bridge tagged platform.
// Unrestricted tools and tools listing the platform are exposed; a tool
// restricted to exactly one other platform is not.
func Eligible(def tool.Definition, platform string) bool {
	if len(def.Platforms) == 0 || def.AvailableOn(platform) {
		return true
	}
	return len(def.Platforms) > 1
}

func cloneSnapshot(in []convert.ProtocolTool) []convert.ProtocolTool {
	out := make([]convert.ProtocolTool, len(in))
	copy(out, in)
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
