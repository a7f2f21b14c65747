// ABOUTME: Tests for notes module tool handlers.
// ABOUTME: Uses real SQLite store for integration testing.

package builtins

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2389/coven-tools/internal/module"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/tool"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "notes.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// loadTools loads a builtin source and indexes its handlers by name.
func loadTools(t *testing.T, src module.Source) map[string]tool.Definition {
	t.Helper()
	m, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defs, err := module.Validate(m)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	out := make(map[string]tool.Definition, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

func call(t *testing.T, defs map[string]tool.Definition, name, userID string, args map[string]any) (map[string]any, error) {
	t.Helper()
	def, ok := defs[name]
	if !ok {
		t.Fatalf("%s handler not found", name)
	}
	out, err := def.Handler(context.Background(), args, tool.NewContext(userID, "api"))
	if err != nil {
		return nil, err
	}
	var resp map[string]any
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal result %q: %v", out, err)
	}
	return resp, nil
}

func TestNotesModuleContract(t *testing.T) {
	src := NotesModule(store.NewMockStore())
	if src.ID() != NotesSourceID {
		t.Errorf("unexpected source id: %s", src.ID())
	}

	defs := loadTools(t, src)
	for _, name := range []string{"note_set", "note_get", "note_list", "note_delete"} {
		def, ok := defs[name]
		if !ok {
			t.Fatalf("missing tool %s", name)
		}
		if len(def.Requires) != 1 || def.Requires[0] != "notes" {
			t.Errorf("%s requires %v, want [notes]", name, def.Requires)
		}
	}

	m, _ := src.Load(context.Background())
	if module.SystemPrompt(m) == "" {
		t.Error("notes module should contribute a system prompt")
	}
}

func TestNoteSet(t *testing.T) {
	defs := loadTools(t, NotesModule(newTestStore(t)))

	resp, err := call(t, defs, "note_set", "alice", map[string]any{"key": "mykey", "value": "myvalue"})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if resp["status"] != "saved" {
		t.Errorf("unexpected status: %v", resp["status"])
	}
	if resp["key"] != "mykey" {
		t.Errorf("unexpected key: %v", resp["key"])
	}

	if _, err := call(t, defs, "note_set", "alice", map[string]any{"value": "orphan"}); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestNoteGet(t *testing.T) {
	defs := loadTools(t, NotesModule(newTestStore(t)))

	if _, err := call(t, defs, "note_set", "alice", map[string]any{"key": "testkey", "value": "testvalue"}); err != nil {
		t.Fatalf("note_set: %v", err)
	}

	resp, err := call(t, defs, "note_get", "alice", map[string]any{"key": "testkey"})
	if err != nil {
		t.Fatalf("note_get: %v", err)
	}
	if resp["value"] != "testvalue" {
		t.Errorf("unexpected value: %v", resp["value"])
	}

	_, err = call(t, defs, "note_get", "alice", map[string]any{"key": "nope"})
	if err == nil || !strings.Contains(err.Error(), "no note") {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestNoteUpdateOverwrites(t *testing.T) {
	defs := loadTools(t, NotesModule(newTestStore(t)))

	for _, v := range []string{"first", "second"} {
		if _, err := call(t, defs, "note_set", "alice", map[string]any{"key": "k", "value": v}); err != nil {
			t.Fatalf("note_set: %v", err)
		}
	}

	resp, err := call(t, defs, "note_get", "alice", map[string]any{"key": "k"})
	if err != nil {
		t.Fatalf("note_get: %v", err)
	}
	if resp["value"] != "second" {
		t.Errorf("expected overwritten value, got %v", resp["value"])
	}
}

func TestNoteListIsScopedByUser(t *testing.T) {
	defs := loadTools(t, NotesModule(newTestStore(t)))

	for _, key := range []string{"b", "a"} {
		if _, err := call(t, defs, "note_set", "alice", map[string]any{"key": key, "value": "x"}); err != nil {
			t.Fatalf("note_set: %v", err)
		}
	}
	if _, err := call(t, defs, "note_set", "bob", map[string]any{"key": "secret", "value": "y"}); err != nil {
		t.Fatalf("note_set: %v", err)
	}

	resp, err := call(t, defs, "note_list", "alice", nil)
	if err != nil {
		t.Fatalf("note_list: %v", err)
	}
	if resp["count"] != float64(2) {
		t.Errorf("expected 2 notes, got %v", resp["count"])
	}
	keys, _ := resp["keys"].([]any)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("unexpected keys: %v", keys)
	}

	if _, err := call(t, defs, "note_get", "bob", map[string]any{"key": "a"}); err == nil {
		t.Error("bob should not see alice's notes")
	}
}

func TestNoteDelete(t *testing.T) {
	defs := loadTools(t, NotesModule(newTestStore(t)))

	if _, err := call(t, defs, "note_set", "alice", map[string]any{"key": "gone", "value": "soon"}); err != nil {
		t.Fatalf("note_set: %v", err)
	}

	resp, err := call(t, defs, "note_delete", "alice", map[string]any{"key": "gone"})
	if err != nil {
		t.Fatalf("note_delete: %v", err)
	}
	if resp["status"] != "deleted" {
		t.Errorf("unexpected status: %v", resp["status"])
	}

	if _, err := call(t, defs, "note_delete", "alice", map[string]any{"key": "gone"}); err == nil {
		t.Error("expected error deleting a missing note")
	}
}
