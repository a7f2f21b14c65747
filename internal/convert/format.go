// ABOUTME: Closed set of tool wire formats and the converters that produce each shape.
// ABOUTME: Function-list, native-block and external-protocol exports of a tool definition.

package convert

import (
	"fmt"
	"strings"

	"github.com/2389/coven-tools/internal/tool"
)

// Format selects a tool wire shape.
type Format int

const (
	// FunctionList is {type:"function", function:{name, description, parameters}}.
	FunctionList Format = iota
	// NativeBlock is {name, description, input_schema}.
	NativeBlock
	// ExternalProtocol is {name, description, inputSchema}.
	ExternalProtocol
)

func (f Format) String() string {
	switch f {
	case FunctionList:
		return "function"
	case NativeBlock:
		return "native"
	case ExternalProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a user-facing name onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "function", "functions", "openai":
		return FunctionList, nil
	case "native", "claude", "anthropic":
		return NativeBlock, nil
	case "protocol", "mcp":
		return ExternalProtocol, nil
	default:
		return 0, fmt.Errorf("unknown tool format %q", s)
	}
}

// FunctionTool is a tool in the function-list convention.
type FunctionTool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the function body of a FunctionTool.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// NativeTool is a tool in the native-block convention.
type NativeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ProtocolTool is a tool in the external-protocol convention.
type ProtocolTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Converter exports a definition in one wire format.
type Converter interface {
	Format() Format
	Tool(def tool.Definition) any
}

type functionConverter struct{}

func (functionConverter) Format() Format { return FunctionList }

func (functionConverter) Tool(def tool.Definition) any {
	return FunctionTool{
		Type: "function",
		Function: FunctionSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaOrEmpty(def.Parameters),
		},
	}
}

type nativeConverter struct{}

func (nativeConverter) Format() Format { return NativeBlock }

func (nativeConverter) Tool(def tool.Definition) any {
	return NativeTool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schemaOrEmpty(def.Parameters),
	}
}

type protocolConverter struct{}

func (protocolConverter) Format() Format { return ExternalProtocol }

func (protocolConverter) Tool(def tool.Definition) any {
	return ToProtocol(def)
}

// For returns the converter for f.
func For(f Format) (Converter, bool) {
	switch f {
	case FunctionList:
		return functionConverter{}, true
	case NativeBlock:
		return nativeConverter{}, true
	case ExternalProtocol:
		return protocolConverter{}, true
	default:
		return nil, false
	}
}

// ToProtocol exports a single definition in the external-protocol shape.
func ToProtocol(def tool.Definition) ProtocolTool {
	return ProtocolTool{
		Name:        def.Name,
		Description: def.Description,
		InputSchema: schemaOrEmpty(def.Parameters),
	}
}

// FunctionToNative converts function-list tools to the native-block convention.
func FunctionToNative(tools []FunctionTool) ([]NativeTool, error) {
	out := make([]NativeTool, 0, len(tools))
	for i, t := range tools {
		if t.Type != "" && t.Type != "function" {
			return nil, fmt.Errorf("tool %d: unsupported tool type %q", i, t.Type)
		}
		out = append(out, NativeTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schemaOrEmpty(t.Function.Parameters),
		})
	}
	return out, nil
}

// NativeToFunction converts native-block tools to the function-list convention.
func NativeToFunction(tools []NativeTool) []FunctionTool {
	out := make([]FunctionTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, FunctionTool{
			Type: "function",
			Function: FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaOrEmpty(t.InputSchema),
			},
		})
	}
	return out
}

// schemaOrEmpty deep-copies a schema so exported shapes never alias registry state.
func schemaOrEmpty(schema map[string]any) map[string]any {
	if schema == nil {
		return tool.EmptySchema()
	}
	cp, _ := cloneValue(schema).(map[string]any)
	return cp
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(val))
		for k, inner := range val {
			cp[k] = cloneValue(inner)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, inner := range val {
			cp[i] = cloneValue(inner)
		}
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
