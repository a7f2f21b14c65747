// ABOUTME: Tool definition and per-call context types used across the runtime.
// ABOUTME: Validates definitions against the module contract before they reach the registry.

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// Default context values applied by NewContext.
const (
	DefaultUserID   = "default"
	DefaultPlatform = "api"
)

// Handler executes a tool. It receives decoded arguments and the caller's context
// and returns the textual result handed back to the model.
type Handler func(ctx context.Context, args map[string]any, tc Context) (string, error)

// Definition is the identity and contract of one tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema, must be object-typed
	Handler     Handler
	Platforms   []string // nil means every platform
	Requires    []string // capability tags
}

// Context is created fresh for every call and never persisted.
type Context struct {
	UserID    string
	ChannelID string
	Platform  string
	Extra     map[string]any
}

// NewContext returns a Context with the default user and platform filled in.
func NewContext(userID, platform string) Context {
	if userID == "" {
		userID = DefaultUserID
	}
	if platform == "" {
		platform = DefaultPlatform
	}
	return Context{
		UserID:   userID,
		Platform: platform,
		Extra:    make(map[string]any),
	}
}

// Validate checks the definition against the module contract.
func (d Definition) Validate() error {
	if d.Name == "" {
		return &ContractViolation{Reason: "tool name is empty"}
	}
	if d.Handler == nil {
		return &ContractViolation{Tool: d.Name, Reason: "handler is nil"}
	}
	if !isObjectSchema(d.Parameters) {
		return &ContractViolation{Tool: d.Name, Reason: "parameter schema must be an object-typed JSON Schema"}
	}
	if _, err := CompileSchema(d.Parameters); err != nil {
		return &ContractViolation{Tool: d.Name, Reason: err.Error()}
	}
	return nil
}

// AvailableOn reports whether the tool is exposed on the given platform.
func (d Definition) AvailableOn(platform string) bool {
	return len(d.Platforms) == 0 || slices.Contains(d.Platforms, platform)
}

// CompileSchema resolves a JSON Schema held as a generic map.
func CompileSchema(params map[string]any) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decoding schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}
	return resolved, nil
}

// EmptySchema returns an object schema that accepts no declared properties.
func EmptySchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func isObjectSchema(params map[string]any) bool {
	if params == nil {
		return false
	}
	switch t := params["type"].(type) {
	case string:
		return t == "object"
	case nil:
		_, hasProps := params["properties"]
		return hasProps
	default:
		return false
	}
}
