// Package manifest loads modules declared in YAML or TOML files.
//
// A manifest names a module, its version and optional system prompt, and
// lists tools backed by an external command, an HTTP endpoint, a text
// template, or the tools of a remote MCP server. Each Load re-reads the
// file and builds fresh handlers, so a manifest edit takes effect on the
// next reload.
package manifest
