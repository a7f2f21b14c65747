// ABOUTME: Converts chat histories containing tool calls between function-list and native-block conventions.
// ABOUTME: Consecutive tool results are batched into a single user turn of tool_result blocks.

package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/coven-tools/internal/tool"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Block types in the native-block convention.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// FunctionMessage is one history entry in the function-list convention.
type FunctionMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is an assistant request to run a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MalformedToolCall reports tool call arguments that are not a JSON object.
type MalformedToolCall struct {
	ID   string
	Name string
	Err  error
}

func (e *MalformedToolCall) Error() string {
	return fmt.Sprintf("malformed tool call %q (%s): %v", e.ID, e.Name, e.Err)
}

func (e *MalformedToolCall) Unwrap() error { return e.Err }

// Is reports whether target is tool.ErrMalformedToolCall.
func (e *MalformedToolCall) Is(target error) bool {
	return target == tool.ErrMalformedToolCall
}

// MessagesToNative converts a function-list history into native-block turns.
// System messages are returned separately because the native convention carries
// the system prompt outside the message list.
func MessagesToNative(msgs []FunctionMessage) (string, []NativeMessage, error) {
	var (
		system  []string
		out     []NativeMessage
		pending []Block
	)

	flush := func() {
		if len(pending) == 0 {
			return
		}
		out = append(out, NativeMessage{Role: RoleUser, Content: pending})
		pending = nil
	}

	for _, m := range msgs {
		if m.Role == RoleTool {
			pending = append(pending, Block{
				Type:      BlockToolResult,
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			})
			continue
		}

		flush()

		switch m.Role {
		case RoleSystem:
			if m.Content != "" {
				system = append(system, m.Content)
			}
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				if m.Content != "" {
					out = append(out, NativeMessage{Role: RoleAssistant, Content: []Block{TextBlock(m.Content)}})
				}
				continue
			}
			blocks := make([]Block, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, TextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				input, err := parseArguments(call)
				if err != nil {
					return "", nil, err
				}
				blocks = append(blocks, Block{
					Type:  BlockToolUse,
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				})
			}
			out = append(out, NativeMessage{Role: RoleAssistant, Content: blocks})
		default:
			out = append(out, NativeMessage{Role: m.Role, Content: []Block{TextBlock(m.Content)}})
		}
	}
	flush()

	return strings.Join(system, "\n\n"), out, nil
}

// MessagesToFunction converts native-block turns into a function-list history.
// A user turn of tool_result blocks expands into one tool message per block.
func MessagesToFunction(system string, msgs []NativeMessage) ([]FunctionMessage, error) {
	out := make([]FunctionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, FunctionMessage{Role: RoleSystem, Content: system})
	}

	for _, m := range msgs {
		var (
			text  []string
			calls []ToolCall
		)
		for _, b := range m.Content {
			switch b.Type {
			case BlockText:
				text = append(text, b.Text)
			case BlockToolResult:
				out = append(out, FunctionMessage{
					Role:       RoleTool,
					ToolCallID: b.ToolUseID,
					Content:    b.Content,
				})
			case BlockToolUse:
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				args, err := json.Marshal(input)
				if err != nil {
					return nil, &MalformedToolCall{ID: b.ID, Name: b.Name, Err: err}
				}
				calls = append(calls, ToolCall{
					ID:       b.ID,
					Type:     "function",
					Function: FunctionCall{Name: b.Name, Arguments: string(args)},
				})
			}
		}

		if len(text) == 0 && len(calls) == 0 {
			continue
		}
		out = append(out, FunctionMessage{
			Role:      m.Role,
			Content:   strings.Join(text, "\n"),
			ToolCalls: calls,
		})
	}

	return out, nil
}

func parseArguments(call ToolCall) (map[string]any, error) {
	raw := strings.TrimSpace(call.Function.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, &MalformedToolCall{ID: call.ID, Name: call.Function.Name, Err: err}
	}
	if input == nil {
		return nil, &MalformedToolCall{ID: call.ID, Name: call.Function.Name, Err: fmt.Errorf("arguments are not a JSON object")}
	}
	return input, nil
}
