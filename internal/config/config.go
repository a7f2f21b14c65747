// ABOUTME: Configuration loading and parsing for coven-tools
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and env toggles

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/coven-tools/internal/capability"
)

// Environment toggles read after the file is parsed.
const (
	EnvConfigPath = "COVEN_TOOLS_CONFIG"
	EnvHotReload  = "TOOL_HOT_RELOAD"
	EnvServerPort = "MCP_SERVER_PORT"
	EnvServerHost = "MCP_SERVER_HOST"
)

// DefaultPath is tried when neither a flag nor COVEN_TOOLS_CONFIG names a file.
const DefaultPath = "coven-tools.yaml"

// Config represents the complete coven-tools configuration
type Config struct {
	Modules      ModulesConfig      `yaml:"modules"`
	Bridge       BridgeConfig       `yaml:"bridge"`
	Capabilities []capability.Probe `yaml:"capabilities"`
	Database     DatabaseConfig     `yaml:"database"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ModulesConfig holds manifest discovery and hot reload settings
type ModulesConfig struct {
	Dir     string   `yaml:"dir"`
	Include []string `yaml:"include"`
	Watch   bool     `yaml:"watch"`

	Debounce    time.Duration `yaml:"-"`
	DebounceRaw string        `yaml:"debounce"`
}

// BridgeConfig holds protocol bridge settings
type BridgeConfig struct {
	Transport string `yaml:"transport"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Name      string `yaml:"name"`
	Platform  string `yaml:"platform"`
	UserID    string `yaml:"user_id"`
	BaseURL   string `yaml:"base_url"` // advertised SSE endpoint base; derived from host/port if empty
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds database configuration. An empty path disables the
// module journal and the notes module.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Modules: ModulesConfig{
			Dir:         "./modules",
			Include:     []string{"*.yaml", "*.yml", "*.toml"},
			Debounce:    500 * time.Millisecond,
			DebounceRaw: "500ms",
		},
		Bridge: BridgeConfig{
			Transport: "stdio",
			Host:      "localhost",
			Port:      8002,
			Name:      "clara-tools",
			Platform:  "mcp",
			UserID:    "mcp-user",
		},
		Capabilities: []capability.Probe{
			{Name: "notes", Always: true},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "coven-tools",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Unset fields keep their defaults. Environment variables in the format
// ${VAR_NAME} are expanded, then the environment toggles are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(cfg)
}

// Resolve loads the file named by path, COVEN_TOOLS_CONFIG or DefaultPath,
// in that order. When no path was named and DefaultPath does not exist the
// defaults are used. It returns the path actually read, or "".
func Resolve(path string) (*Config, string, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}

	if _, err := os.Stat(DefaultPath); err == nil {
		cfg, err := Load(DefaultPath)
		return cfg, DefaultPath, err
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("checking %s: %w", DefaultPath, err)
	}

	cfg, err := finish(Default())
	return cfg, "", err
}

func finish(cfg *Config) (*Config, error) {
	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overlays TOOL_HOT_RELOAD, MCP_SERVER_PORT and MCP_SERVER_HOST.
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvHotReload); v != "" {
		watch, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHotReload, err)
		}
		cfg.Modules.Watch = watch
	}

	if v := os.Getenv(EnvServerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s %q: not a number", EnvServerPort, v)
		}
		cfg.Bridge.Port = port
	}

	if v := os.Getenv(EnvServerHost); v != "" {
		cfg.Bridge.Host = v
	}
	return nil
}

// parseBool accepts the usual spellings plus yes/no and on/off.
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Bridge.Transport {
	case "stdio", "sse", "http":
	default:
		return fmt.Errorf("bridge.transport must be stdio, sse or http, got %q", c.Bridge.Transport)
	}

	if c.Bridge.Port < 1 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 1 and 65535, got %d", c.Bridge.Port)
	}

	if c.Modules.Debounce <= 0 {
		return fmt.Errorf("modules.debounce must be positive")
	}

	for _, p := range c.Capabilities {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("capabilities: %w", err)
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// Addr returns the host:port the networked transports listen on.
func (b BridgeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// SSEBaseURL returns BaseURL, or a URL derived from the listen address.
func (b BridgeConfig) SSEBaseURL() string {
	if b.BaseURL != "" {
		return strings.TrimRight(b.BaseURL, "/")
	}
	return "http://" + b.Addr()
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Modules.DebounceRaw != "" {
		d, err := time.ParseDuration(cfg.Modules.DebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing debounce %q: %w", cfg.Modules.DebounceRaw, err)
		}
		cfg.Modules.Debounce = d
	}
	return nil
}
