// ABOUTME: In-process module and source implementations for compiled-in tools and tests.
// ABOUTME: A FuncSource calls its factory on every load so each load gets fresh tool values.

package module

import (
	"context"

	"github.com/2389/coven-tools/internal/tool"
)

// Static is a Module assembled from plain values.
type Static struct {
	ModuleName    string
	ModuleVersion string
	Defs          []tool.Definition
	Prompt        string
	OnInit        func(ctx context.Context) error
	OnCleanup     func(ctx context.Context) error
}

// Name implements Module.
func (s *Static) Name() string { return s.ModuleName }

// Version implements Module.
func (s *Static) Version() string { return s.ModuleVersion }

// Tools implements Module.
func (s *Static) Tools() []tool.Definition { return s.Defs }

// SystemPrompt implements Prompter.
func (s *Static) SystemPrompt() string { return s.Prompt }

// Initialize implements Initializer.
func (s *Static) Initialize(ctx context.Context) error {
	if s.OnInit == nil {
		return nil
	}
	return s.OnInit(ctx)
}

// Cleanup implements Cleaner.
func (s *Static) Cleanup(ctx context.Context) error {
	if s.OnCleanup == nil {
		return nil
	}
	return s.OnCleanup(ctx)
}

// FuncSource is a Source backed by a factory function.
type FuncSource struct {
	SourceID string
	Factory  func(ctx context.Context) (Module, error)
}

// ID implements Source.
func (f *FuncSource) ID() string { return f.SourceID }

// Path implements Source. In-process sources have no file.
func (f *FuncSource) Path() string { return "" }

// Load implements Source.
func (f *FuncSource) Load(ctx context.Context) (Module, error) {
	return f.Factory(ctx)
}
