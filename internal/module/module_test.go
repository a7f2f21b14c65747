// ABOUTME: Tests for module contract validation and optional hook dispatch.
// ABOUTME: Uses Static modules and a bare module without hooks.

package module

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-tools/internal/tool"
)

type bareModule struct{}

func (bareModule) Name() string             { return "bare" }
func (bareModule) Version() string          { return "0.1.0" }
func (bareModule) Tools() []tool.Definition { return nil }

func validTool(name string) tool.Definition {
	return tool.Definition{
		Name:       name,
		Parameters: tool.EmptySchema(),
		Handler:    func(context.Context, map[string]any, tool.Context) (string, error) { return "", nil },
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid module", func(t *testing.T) {
		defs, err := Validate(&Static{ModuleName: "m", ModuleVersion: "1", Defs: []tool.Definition{validTool("a")}})
		require.NoError(t, err)
		assert.Len(t, defs, 1)
	})

	t.Run("module without tools is valid", func(t *testing.T) {
		defs, err := Validate(bareModule{})
		require.NoError(t, err)
		assert.Empty(t, defs)
	})

	tests := []struct {
		name string
		mod  Module
	}{
		{"nil module", nil},
		{"empty name", &Static{ModuleVersion: "1"}},
		{"empty version", &Static{ModuleName: "m"}},
		{"bad tool", &Static{ModuleName: "m", ModuleVersion: "1", Defs: []tool.Definition{validTool("a"), {Name: "b"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.mod)
			assert.ErrorIs(t, err, tool.ErrContractViolation)
		})
	}

	t.Run("violation names module and tool", func(t *testing.T) {
		_, err := Validate(&Static{ModuleName: "m", ModuleVersion: "1", Defs: []tool.Definition{{Name: "b", Parameters: tool.EmptySchema()}}})
		var cv *tool.ContractViolation
		require.True(t, errors.As(err, &cv))
		assert.Equal(t, "m", cv.Module)
		assert.Equal(t, "b", cv.Tool)
	})
}

func TestHooks(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, Initialize(ctx, bareModule{}))
	assert.NoError(t, Cleanup(ctx, bareModule{}))
	assert.Empty(t, SystemPrompt(bareModule{}))
	assert.Empty(t, Fingerprint(bareModule{}))

	var inits, cleanups int
	s := &Static{
		ModuleName:    "m",
		ModuleVersion: "1",
		Prompt:        "use m",
		OnInit:        func(context.Context) error { inits++; return nil },
		OnCleanup:     func(context.Context) error { cleanups++; return errors.New("leak") },
	}
	assert.NoError(t, Initialize(ctx, s))
	assert.EqualError(t, Cleanup(ctx, s), "leak")
	assert.Equal(t, "use m", SystemPrompt(s))
	assert.Equal(t, 1, inits)
	assert.Equal(t, 1, cleanups)
}

func TestFuncSource(t *testing.T) {
	calls := 0
	src := &FuncSource{SourceID: "builtin:test", Factory: func(context.Context) (Module, error) {
		calls++
		return &Static{ModuleName: "m", ModuleVersion: "1"}, nil
	}}

	first, err := src.Load(context.Background())
	require.NoError(t, err)
	second, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	assert.NotSame(t, first, second)
	assert.Equal(t, "builtin:test", src.ID())
	assert.Empty(t, src.Path())
}
