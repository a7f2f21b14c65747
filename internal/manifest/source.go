// ABOUTME: File-backed module source that turns a manifest into a fresh module on every load.
// ABOUTME: The module fingerprint is the sha256 of the manifest bytes.

package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/2389/coven-tools/internal/module"
	"github.com/2389/coven-tools/internal/tool"
)

// FileSource loads a module from a manifest file.
type FileSource struct {
	path   string
	client *http.Client
	logger *slog.Logger
}

// SourceConfig configures a FileSource.
type SourceConfig struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewFileSource creates a source for the manifest at path.
func NewFileSource(path string, cfg SourceConfig) *FileSource {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		client: client,
		logger: logger.With("component", "manifest", "path", path),
	}
}

// ID implements module.Source.
func (s *FileSource) ID() string { return s.path }

// Path implements module.Source.
func (s *FileSource) Path() string { return s.path }

// Load implements module.Source. Each call re-reads the file.
func (s *FileSource) Load(ctx context.Context) (module.Module, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m, err := Parse(s.path, data)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	mod := &Module{
		manifest: m,
		hash:     hex.EncodeToString(sum[:]),
		logger:   s.logger.With("module", m.Name),
	}

	baseDir := filepath.Dir(s.path)
	for _, spec := range m.Tools {
		def, err := s.buildTool(m.Name, spec, baseDir)
		if err != nil {
			return nil, err
		}
		mod.defs = append(mod.defs, def)
	}

	if m.MCP != nil {
		if err := mod.attachRemote(ctx, *m.MCP); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("manifest parsed",
		"module", m.Name,
		"version", m.Version,
		"tools", len(mod.defs),
	)
	return mod, nil
}

func (s *FileSource) buildTool(moduleName string, spec ToolSpec, baseDir string) (tool.Definition, error) {
	handler, err := buildHandler(moduleName, spec, baseDir, s.client)
	if err != nil {
		return tool.Definition{}, err
	}

	schema, err := tool.CompileSchema(spec.Parameters)
	if err != nil {
		return tool.Definition{}, &tool.ContractViolation{Module: moduleName, Tool: spec.Name, Reason: err.Error()}
	}
	timeout, _ := parseTimeout(spec.Timeout)

	return tool.Definition{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  spec.Parameters,
		Handler:     guard(handler, schema, timeout),
		Platforms:   spec.Platforms,
		Requires:    spec.Requires,
	}, nil
}

// Module is a loaded manifest.
type Module struct {
	manifest *Manifest
	hash     string
	defs     []tool.Definition
	remote   remote
	logger   *slog.Logger
}

// Name implements module.Module.
func (m *Module) Name() string { return m.manifest.Name }

// Version implements module.Module.
func (m *Module) Version() string { return m.manifest.Version }

// Tools implements module.Module.
func (m *Module) Tools() []tool.Definition { return m.defs }

// SystemPrompt implements module.Prompter.
func (m *Module) SystemPrompt() string { return m.manifest.SystemPrompt }

// Fingerprint implements module.Fingerprinter.
func (m *Module) Fingerprint() string { return m.hash }

// Initialize implements module.Initializer. Modules proxying a remote
// server verify the connection is still alive.
func (m *Module) Initialize(ctx context.Context) error {
	if m.remote == nil {
		return nil
	}
	if err := m.remote.ping(ctx); err != nil {
		return fmt.Errorf("pinging MCP server: %w", err)
	}
	return nil
}

// Cleanup implements module.Cleaner.
func (m *Module) Cleanup(context.Context) error {
	if m.remote == nil {
		return nil
	}
	err := m.remote.close()
	m.remote = nil
	return err
}

// attachRemote connects to the module's MCP server and appends its tools.
func (m *Module) attachRemote(ctx context.Context, spec MCPSpec) error {
	r, err := dial(ctx, spec)
	if err != nil {
		return fmt.Errorf("connecting to MCP server for module %q: %w", m.manifest.Name, err)
	}

	listed, err := r.tools(ctx)
	if err != nil {
		return errors.Join(fmt.Errorf("listing MCP tools for module %q: %w", m.manifest.Name, err), r.close())
	}

	timeout, _ := parseTimeout(spec.Timeout)
	for _, rt := range listed {
		remoteName := rt.Name
		call := func(ctx context.Context, args map[string]any, _ tool.Context) (string, error) {
			return r.call(ctx, remoteName, args)
		}
		m.defs = append(m.defs, tool.Definition{
			Name:        spec.Prefix + rt.Name,
			Description: rt.Description,
			Parameters:  rt.Parameters,
			Handler:     guard(call, nil, timeout),
			Platforms:   spec.Platforms,
			Requires:    spec.Requires,
		})
	}

	m.remote = r
	m.logger.Info("MCP server attached", "tools", len(listed))
	return nil
}

// remoteTool is a tool advertised by a remote MCP server.
type remoteTool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// remote is a live connection to an MCP server.
type remote interface {
	tools(ctx context.Context) ([]remoteTool, error)
	call(ctx context.Context, name string, args map[string]any) (string, error)
	ping(ctx context.Context) error
	close() error
}

// dial opens remote connections; tests replace it.
var dial = dialMCP

var (
	_ module.Module        = (*Module)(nil)
	_ module.Initializer   = (*Module)(nil)
	_ module.Cleaner       = (*Module)(nil)
	_ module.Prompter      = (*Module)(nil)
	_ module.Fingerprinter = (*Module)(nil)
	_ module.Source        = (*FileSource)(nil)
)
