// ABOUTME: The module contract every tool-providing unit implements, plus optional lifecycle hooks.
// ABOUTME: Contract checks run once at load time and produce typed ContractViolation errors.

package module

import (
	"context"

	"github.com/2389/coven-tools/internal/tool"
)

// Module is a bundle of tools loaded and reloaded as a unit.
type Module interface {
	Name() string
	Version() string
	Tools() []tool.Definition
}

// Initializer is implemented by modules that need setup after registration.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by modules that release resources before unregistration.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Prompter is implemented by modules that contribute to the system prompt.
type Prompter interface {
	SystemPrompt() string
}

// Fingerprinter is implemented by modules that can identify the source bytes they were built from.
type Fingerprinter interface {
	Fingerprint() string
}

// Source produces a fresh Module on every Load. Implementations must not
// return values shared with a previous load.
type Source interface {
	ID() string
	Path() string
	Load(ctx context.Context) (Module, error)
}

// Validate checks m against the module contract and returns its tools.
func Validate(m Module) ([]tool.Definition, error) {
	if m == nil {
		return nil, &tool.ContractViolation{Reason: "source produced no module"}
	}
	name := m.Name()
	if name == "" {
		return nil, &tool.ContractViolation{Reason: "module name is empty"}
	}
	if m.Version() == "" {
		return nil, &tool.ContractViolation{Module: name, Reason: "module version is empty"}
	}

	defs := m.Tools()
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			if cv, ok := err.(*tool.ContractViolation); ok {
				return nil, &tool.ContractViolation{Module: name, Tool: cv.Tool, Reason: cv.Reason}
			}
			return nil, err
		}
	}
	return defs, nil
}

// Initialize runs m's Initialize hook if it has one.
func Initialize(ctx context.Context, m Module) error {
	if i, ok := m.(Initializer); ok {
		return i.Initialize(ctx)
	}
	return nil
}

// Cleanup runs m's Cleanup hook if it has one.
func Cleanup(ctx context.Context, m Module) error {
	if c, ok := m.(Cleaner); ok {
		return c.Cleanup(ctx)
	}
	return nil
}

// SystemPrompt returns m's prompt contribution, or "".
func SystemPrompt(m Module) string {
	if p, ok := m.(Prompter); ok {
		return p.SystemPrompt()
	}
	return ""
}

// Fingerprint returns m's source fingerprint, or "".
func Fingerprint(m Module) string {
	if f, ok := m.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}
