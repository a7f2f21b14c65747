// ABOUTME: Manifest file format, parsing and discovery for declarative modules.
// ABOUTME: YAML and TOML are both accepted; ${VAR} references are expanded before parsing.

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-tools/internal/tool"
)

// DefaultInclude are the globs used when no include patterns are configured.
var DefaultInclude = []string{"*.yaml", "*.yml", "*.toml"}

// Manifest is the on-disk description of a module.
type Manifest struct {
	Name         string     `yaml:"name" toml:"name"`
	Version      string     `yaml:"version" toml:"version"`
	SystemPrompt string     `yaml:"system_prompt" toml:"system_prompt"`
	MCP          *MCPSpec   `yaml:"mcp" toml:"mcp"`
	Tools        []ToolSpec `yaml:"tools" toml:"tools"`
}

// MCPSpec proxies every tool of a remote MCP server.
type MCPSpec struct {
	Command   string   `yaml:"command" toml:"command"`
	Args      []string `yaml:"args" toml:"args"`
	Env       []string `yaml:"env" toml:"env"`
	URL       string   `yaml:"url" toml:"url"`
	Prefix    string   `yaml:"prefix" toml:"prefix"`
	Platforms []string `yaml:"platforms" toml:"platforms"`
	Requires  []string `yaml:"requires" toml:"requires"`
	Timeout   string   `yaml:"timeout" toml:"timeout"`
}

// ToolSpec declares one tool and exactly one backend.
type ToolSpec struct {
	Name        string         `yaml:"name" toml:"name"`
	Description string         `yaml:"description" toml:"description"`
	Parameters  map[string]any `yaml:"parameters" toml:"parameters"`
	Platforms   []string       `yaml:"platforms" toml:"platforms"`
	Requires    []string       `yaml:"requires" toml:"requires"`
	Timeout     string         `yaml:"timeout" toml:"timeout"`

	Command  *CommandSpec `yaml:"command" toml:"command"`
	HTTP     *HTTPSpec    `yaml:"http" toml:"http"`
	Template string       `yaml:"template" toml:"template"`
}

// CommandSpec runs an executable with the JSON arguments on stdin.
type CommandSpec struct {
	Path string   `yaml:"path" toml:"path"`
	Args []string `yaml:"args" toml:"args"`
}

// HTTPSpec calls an HTTP endpoint with the arguments.
type HTTPSpec struct {
	URL     string            `yaml:"url" toml:"url"`
	Method  string            `yaml:"method" toml:"method"`
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// Parse decodes manifest bytes. The format is chosen by the file extension.
func Parse(filename string, data []byte) (*Manifest, error) {
	expanded := []byte(expandEnvVars(string(data)))

	var m Manifest
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(expanded), &m); err != nil {
			return nil, fmt.Errorf("parsing TOML manifest %s: %w", filename, err)
		}
	default:
		if err := yaml.Unmarshal(expanded, &m); err != nil {
			return nil, fmt.Errorf("parsing YAML manifest %s: %w", filename, err)
		}
	}

	for i := range m.Tools {
		params, err := normalizeSchema(m.Tools[i].Parameters)
		if err != nil {
			return nil, &tool.ContractViolation{Module: m.Name, Tool: m.Tools[i].Name, Reason: err.Error()}
		}
		m.Tools[i].Parameters = params
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks structural rules the module contract cannot see.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &tool.ContractViolation{Reason: "manifest has no name"}
	}
	if len(m.Tools) == 0 && m.MCP == nil {
		return &tool.ContractViolation{Module: m.Name, Reason: "manifest declares no tools"}
	}

	if m.MCP != nil {
		if (m.MCP.Command == "") == (m.MCP.URL == "") {
			return &tool.ContractViolation{Module: m.Name, Reason: "mcp block needs exactly one of command or url"}
		}
		if _, err := parseTimeout(m.MCP.Timeout); err != nil {
			return &tool.ContractViolation{Module: m.Name, Reason: err.Error()}
		}
	}

	for _, t := range m.Tools {
		backends := 0
		if t.Command != nil {
			backends++
			if t.Command.Path == "" {
				return &tool.ContractViolation{Module: m.Name, Tool: t.Name, Reason: "command backend has no path"}
			}
		}
		if t.HTTP != nil {
			backends++
			if t.HTTP.URL == "" {
				return &tool.ContractViolation{Module: m.Name, Tool: t.Name, Reason: "http backend has no url"}
			}
		}
		if t.Template != "" {
			backends++
		}
		if backends != 1 {
			return &tool.ContractViolation{
				Module: m.Name,
				Tool:   t.Name,
				Reason: fmt.Sprintf("tool must declare exactly one backend, found %d", backends),
			}
		}
		if _, err := parseTimeout(t.Timeout); err != nil {
			return &tool.ContractViolation{Module: m.Name, Tool: t.Name, Reason: err.Error()}
		}
	}
	return nil
}

// Discover returns the manifest files under dir matching any include glob,
// sorted and without duplicates. Files whose name starts with "_" are private
// and skipped.
func Discover(dir string, include []string) ([]string, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}

	fsys := os.DirFS(dir)
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range include {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("matching %q in %s: %w", pattern, dir, err)
		}
		for _, rel := range matches {
			if isPrivate(rel) {
				continue
			}
			full := filepath.Join(dir, filepath.FromSlash(rel))
			if _, ok := seen[full]; ok {
				continue
			}
			seen[full] = struct{}{}
			paths = append(paths, full)
		}
	}

	sort.Strings(paths)
	return paths, nil
}

// Eligible reports whether file, somewhere under dir, would be picked up by Discover.
func Eligible(dir, file string, include []string) bool {
	if len(include) == 0 {
		include = DefaultInclude
	}
	rel, err := filepath.Rel(dir, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	rel = filepath.ToSlash(rel)
	if isPrivate(rel) {
		return false
	}
	for _, pattern := range include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// isPrivate reports whether the base name marks the file as private.
func isPrivate(rel string) bool {
	return strings.HasPrefix(path.Base(rel), "_")
}

// envVarPattern matches ${VAR_NAME} references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} references with environment values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// normalizeSchema converts decoder-specific values into plain JSON values.
func normalizeSchema(params map[string]any) (map[string]any, error) {
	if len(params) == 0 {
		return tool.EmptySchema(), nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("parameter schema is not JSON-compatible: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parameter schema is not JSON-compatible: %w", err)
	}
	return out, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must not be negative", raw)
	}
	return d, nil
}
