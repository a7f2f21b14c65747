// ABOUTME: Native-block message and content block types with their JSON encodings.
// ABOUTME: Content is a plain string for single text turns and a block array otherwise.

package convert

import (
	"encoding/json"
	"fmt"
)

// NativeMessage is one turn in the native-block convention.
type NativeMessage struct {
	Role    string
	Content []Block
}

// Block is one content block of a native-block turn.
type Block struct {
	Type      string
	Text      string
	ID        string
	Name      string
	Input     map[string]any
	ToolUseID string
	Content   string
	IsError   bool
}

// TextBlock returns a text content block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

type nativeMessageJSON struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes a single text block as a string and anything else as an array.
func (m NativeMessage) MarshalJSON() ([]byte, error) {
	var content any = m.Content
	if len(m.Content) == 1 && m.Content[0].Type == BlockText {
		content = m.Content[0].Text
	} else if m.Content == nil {
		content = []Block{}
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(nativeMessageJSON{Role: m.Role, Content: raw})
}

// UnmarshalJSON accepts either string or block-array content.
func (m *NativeMessage) UnmarshalJSON(data []byte) error {
	var wire nativeMessageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	m.Content = nil

	if len(wire.Content) == 0 || string(wire.Content) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		m.Content = []Block{TextBlock(text)}
		return nil
	}
	if err := json.Unmarshal(wire.Content, &m.Content); err != nil {
		return fmt.Errorf("decoding content blocks: %w", err)
	}
	return nil
}

// MarshalJSON emits only the fields that belong to the block's type.
func (b Block) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case BlockText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{b.Type, b.Text})
	case BlockToolUse:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return json.Marshal(struct {
			Type  string         `json:"type"`
			ID    string         `json:"id"`
			Name  string         `json:"name"`
			Input map[string]any `json:"input"`
		}{b.Type, b.ID, b.Name, input})
	case BlockToolResult:
		return json.Marshal(struct {
			Type      string `json:"type"`
			ToolUseID string `json:"tool_use_id"`
			Content   string `json:"content"`
			IsError   bool   `json:"is_error,omitempty"`
		}{b.Type, b.ToolUseID, b.Content, b.IsError})
	default:
		return nil, fmt.Errorf("unknown block type %q", b.Type)
	}
}

// UnmarshalJSON decodes any of the supported block types.
func (b *Block) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type      string          `json:"type"`
		Text      string          `json:"text"`
		ID        string          `json:"id"`
		Name      string          `json:"name"`
		Input     map[string]any  `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*b = Block{
		Type:      wire.Type,
		Text:      wire.Text,
		ID:        wire.ID,
		Name:      wire.Name,
		Input:     wire.Input,
		ToolUseID: wire.ToolUseID,
		IsError:   wire.IsError,
	}
	if len(wire.Content) == 0 || string(wire.Content) == "null" {
		return nil
	}
	// tool_result content may itself be a list of text blocks
	var text string
	if err := json.Unmarshal(wire.Content, &text); err == nil {
		b.Content = text
		return nil
	}
	var parts []Block
	if err := json.Unmarshal(wire.Content, &parts); err != nil {
		return fmt.Errorf("decoding tool_result content: %w", err)
	}
	for i, p := range parts {
		if i > 0 {
			b.Content += "\n"
		}
		b.Content += p.Text
	}
	return nil
}
