// ABOUTME: Notes module provides per-user key-value storage tools.
// ABOUTME: Requires the "notes" capability; notes are scoped by the caller's user id.

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/coven-tools/internal/module"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/tool"
)

// Version is reported by every builtin module.
const Version = "1.0.0"

// NotesSourceID identifies the notes module source.
const NotesSourceID = "builtin:notes"

const notesPrompt = "Use the note tools to remember facts about the user between conversations. " +
	"Keys are short identifiers; values are plain text."

// NotesModule returns a source for the notes module backed by s.
func NotesModule(s store.NoteStore) module.Source {
	return &module.FuncSource{
		SourceID: NotesSourceID,
		Factory: func(context.Context) (module.Module, error) {
			n := &notesHandlers{store: s}
			return &module.Static{
				ModuleName:    "notes",
				ModuleVersion: Version,
				Prompt:        notesPrompt,
				Defs: []tool.Definition{
					{
						Name:        "note_set",
						Description: "Store a note",
						Parameters:  mustSchema(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
						Requires:    []string{"notes"},
						Handler:     n.Set,
					},
					{
						Name:        "note_get",
						Description: "Retrieve a note",
						Parameters:  mustSchema(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
						Requires:    []string{"notes"},
						Handler:     n.Get,
					},
					{
						Name:        "note_list",
						Description: "List all note keys",
						Parameters:  tool.EmptySchema(),
						Requires:    []string{"notes"},
						Handler:     n.List,
					},
					{
						Name:        "note_delete",
						Description: "Delete a note",
						Parameters:  mustSchema(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
						Requires:    []string{"notes"},
						Handler:     n.Delete,
					},
				},
			}, nil
		},
	}
}

type notesHandlers struct {
	store store.NoteStore
}

type noteSetInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (n *notesHandlers) Set(ctx context.Context, args map[string]any, tc tool.Context) (string, error) {
	var in noteSetInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}
	if in.Key == "" {
		return "", errors.New("key is required")
	}

	note := &store.Note{
		UserID: tc.UserID,
		Key:    in.Key,
		Value:  in.Value,
	}
	if err := n.store.SetNote(ctx, note); err != nil {
		return "", err
	}

	return encode(map[string]string{"key": in.Key, "status": "saved"})
}

type noteKeyInput struct {
	Key string `json:"key"`
}

func (n *notesHandlers) Get(ctx context.Context, args map[string]any, tc tool.Context) (string, error) {
	var in noteKeyInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	note, err := n.store.GetNote(ctx, tc.UserID, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("no note with key %q", in.Key)
	}
	if err != nil {
		return "", err
	}

	return encode(map[string]string{"key": note.Key, "value": note.Value})
}

func (n *notesHandlers) List(ctx context.Context, _ map[string]any, tc tool.Context) (string, error) {
	notes, err := n.store.ListNotes(ctx, tc.UserID)
	if err != nil {
		return "", err
	}

	keys := make([]string, len(notes))
	for i, note := range notes {
		keys[i] = note.Key
	}

	return encode(map[string]any{"keys": keys, "count": len(keys)})
}

func (n *notesHandlers) Delete(ctx context.Context, args map[string]any, tc tool.Context) (string, error) {
	var in noteKeyInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	err := n.store.DeleteNote(ctx, tc.UserID, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("no note with key %q", in.Key)
	}
	if err != nil {
		return "", err
	}

	return encode(map[string]string{"key": in.Key, "status": "deleted"})
}

// decodeArgs maps loosely typed tool arguments onto a struct.
func decodeArgs(args map[string]any, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// mustSchema decodes a literal JSON Schema.
func mustSchema(raw string) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		panic(fmt.Sprintf("builtins: invalid schema literal: %v", err))
	}
	return schema
}
