// Package config handles configuration loading for coven-tools.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from COVEN_TOOLS_CONFIG environment variable
//  3. ./coven-tools.yaml (current directory)
//
// When none of these names an existing file, Default() is used.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	bridge:
//	  jwt_secret: "${COVEN_TOOLS_JWT_SECRET}"
//
// # Configuration Sections
//
//	modules:
//	  dir: "./modules"
//	  include: ["*.yaml", "*.yml", "*.toml"]
//	  watch: false
//	  debounce: "500ms"
//
//	bridge:
//	  transport: "stdio"   # stdio, sse, http
//	  host: "localhost"
//	  port: 8002
//	  name: "clara-tools"
//	  platform: "mcp"
//	  base_url: ""
//	  jwt_secret: ""       # set to require bearer tokens on sse and http
//
//	capabilities:
//	  - { name: docker, command: docker }
//	  - { name: email, env: SMTP_HOST }
//	  - { name: notes, always: true }
//
//	database:
//	  path: ""             # empty disables the journal and the notes module
//
//	logging:
//	  level: "info"        # debug, info, warn, error
//	  format: "text"       # text, json
//
//	telemetry:
//	  enabled: false
//	  otlp_endpoint: ""
//	  service_name: "coven-tools"
//
// # Environment Toggles
//
// Applied after the file, before validation:
//
//   - TOOL_HOT_RELOAD sets modules.watch
//   - MCP_SERVER_PORT sets bridge.port
//   - MCP_SERVER_HOST sets bridge.host
//
// Command-line flags override both.
package config
