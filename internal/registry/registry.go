// ABOUTME: Thread-safe registry of tool definitions keyed by name and owned by modules.
// ABOUTME: Handles module registration, atomic module swaps, and platform/capability filtering.

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/2389/coven-tools/internal/capability"
	"github.com/2389/coven-tools/internal/convert"
	"github.com/2389/coven-tools/internal/tool"
)

// ErrModuleAlreadyRegistered indicates RegisterModule was called for a module that already owns tools.
var ErrModuleAlreadyRegistered = errors.New("module already registered")

// entry pairs a definition with its owning module.
type entry struct {
	def    tool.Definition
	module string
}

// Config contains configuration options for the Registry.
type Config struct {
	// Capabilities is the set present in the running environment. Execute
	// refuses tools whose requirements are not covered by it.
	Capabilities capability.Set
	Observer     Observer
	Logger       *slog.Logger
}

// Registry is the authoritative store of tool definitions.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	order   []string            // registration order
	modules map[string][]string // module ID -> owned names in registration order

	caps     capability.Set
	observer Observer
	logger   *slog.Logger
}

// New creates a new Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = NoopObserver{}
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = capability.NewSet()
	}

	return &Registry{
		tools:    make(map[string]*entry),
		modules:  make(map[string][]string),
		caps:     caps,
		observer: observer,
		logger:   logger.With("component", "registry"),
	}
}

// Register adds a single tool owned by moduleID. Re-registering a name the
// same module already owns replaces it in place.
func (r *Registry) Register(def tool.Definition, moduleID string) error {
	if err := def.Validate(); err != nil {
		return withModule(err, moduleID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tools[def.Name]; ok {
		if existing.module != moduleID {
			return fmt.Errorf("%w: tool %q already registered by module %q",
				tool.ErrDuplicateName, def.Name, existing.module)
		}
		r.tools[def.Name] = &entry{def: def, module: moduleID}
		return nil
	}

	r.tools[def.Name] = &entry{def: def, module: moduleID}
	r.order = append(r.order, def.Name)
	r.modules[moduleID] = append(r.modules[moduleID], def.Name)

	r.logger.Debug("tool registered", "tool", def.Name, "module", moduleID)
	return nil
}

// RegisterModule registers every definition of a module, or none of them.
func (r *Registry) RegisterModule(moduleID string, defs []tool.Definition) error {
	if err := validateAll(moduleID, defs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.modules[moduleID]) > 0 {
		return fmt.Errorf("%w: %s", ErrModuleAlreadyRegistered, moduleID)
	}
	if err := r.checkCollisionsLocked(moduleID, defs); err != nil {
		return err
	}

	r.swapLocked(moduleID, defs)

	r.logger.Info("=== MODULE REGISTERED ===",
		"module", moduleID,
		"tool_count", len(defs),
		"total_modules", len(r.modules),
		"total_tools", len(r.tools),
	)
	return nil
}

// ReplaceModule atomically swaps a module's tool set for defs. Readers see
// either the old set or the new set, never a mix. Names that survive the
// swap keep their position; new names are appended.
func (r *Registry) ReplaceModule(moduleID string, defs []tool.Definition) error {
	if err := validateAll(moduleID, defs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkCollisionsLocked(moduleID, defs); err != nil {
		return err
	}

	previous := len(r.modules[moduleID])
	r.swapLocked(moduleID, defs)

	r.logger.Info("=== MODULE SWAPPED ===",
		"module", moduleID,
		"previous_tools", previous,
		"tool_count", len(defs),
		"total_tools", len(r.tools),
	)
	return nil
}

// CheckModule reports whether defs could replace moduleID's tools without
// violating the contract or colliding with another module. It does not
// modify the registry.
func (r *Registry) CheckModule(moduleID string, defs []tool.Definition) error {
	if err := validateAll(moduleID, defs); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkCollisionsLocked(moduleID, defs)
}

// UnregisterModule removes every tool owned by moduleID and returns their names.
func (r *Registry) UnregisterModule(moduleID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.modules[moduleID]
	if len(owned) == 0 {
		delete(r.modules, moduleID)
		return nil
	}

	removed := make([]string, len(owned))
	copy(removed, owned)
	for _, name := range removed {
		delete(r.tools, name)
	}
	r.order = slices.DeleteFunc(r.order, func(name string) bool {
		return slices.Contains(removed, name)
	})
	delete(r.modules, moduleID)

	r.logger.Info("=== MODULE UNREGISTERED ===",
		"module", moduleID,
		"removed", len(removed),
		"total_modules", len(r.modules),
		"total_tools", len(r.tools),
	)
	return removed
}

// GetTools returns the tools visible on platform whose requirements are
// covered by available, exported in format, in registration order. An empty
// platform disables platform filtering; a nil available set means the
// environment's own capabilities.
func (r *Registry) GetTools(platform string, available capability.Set, format convert.Format) []any {
	conv, ok := convert.For(format)
	if !ok {
		r.logger.Warn("unknown tool format requested", "format", format)
		return nil
	}
	if available == nil {
		available = r.caps
	}

	defs := r.Definitions()
	out := make([]any, 0, len(defs))
	for _, def := range defs {
		if platform != "" && !def.AvailableOn(platform) {
			continue
		}
		if !available.Satisfies(def.Requires) {
			continue
		}
		out = append(out, conv.Tool(def))
	}
	return out
}

// Definitions returns a snapshot of every definition in registration order.
func (r *Registry) Definitions() []tool.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]tool.Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// ToolNames returns the registered names in registration order.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Tool returns the definition registered under name.
func (r *Registry) Tool(name string) (tool.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return tool.Definition{}, false
	}
	return e.def, true
}

// ModuleOf returns the module that owns name.
func (r *Registry) ModuleOf(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return "", false
	}
	return e.module, true
}

// ModuleTools returns the names owned by moduleID in registration order.
func (r *Registry) ModuleTools(moduleID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.modules[moduleID]))
	copy(names, r.modules[moduleID])
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Capabilities returns the environment capability set.
func (r *Registry) Capabilities() capability.Set {
	return r.caps
}

// checkCollisionsLocked rejects names owned by other modules and duplicates
// within defs. Must be called with mu held.
func (r *Registry) checkCollisionsLocked(moduleID string, defs []tool.Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("%w: tool %q declared twice by module %q",
				tool.ErrDuplicateName, def.Name, moduleID)
		}
		seen[def.Name] = struct{}{}

		if existing, ok := r.tools[def.Name]; ok && existing.module != moduleID {
			return fmt.Errorf("%w: tool %q already registered by module %q",
				tool.ErrDuplicateName, def.Name, existing.module)
		}
	}
	return nil
}

// swapLocked replaces moduleID's tool set with defs. Must be called with mu held.
func (r *Registry) swapLocked(moduleID string, defs []tool.Definition) {
	incoming := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		incoming[def.Name] = struct{}{}
	}

	// Drop names the module no longer provides.
	for _, name := range r.modules[moduleID] {
		if _, keep := incoming[name]; !keep {
			delete(r.tools, name)
		}
	}
	r.order = slices.DeleteFunc(r.order, func(name string) bool {
		_, exists := r.tools[name]
		return !exists
	})

	owned := make([]string, 0, len(defs))
	for _, def := range defs {
		if _, exists := r.tools[def.Name]; !exists {
			r.order = append(r.order, def.Name)
		}
		r.tools[def.Name] = &entry{def: def, module: moduleID}
		owned = append(owned, def.Name)
	}

	// Keep module ownership in registration order.
	slices.SortStableFunc(owned, func(a, b string) int {
		return slices.Index(r.order, a) - slices.Index(r.order, b)
	})

	if len(owned) == 0 {
		delete(r.modules, moduleID)
		return
	}
	r.modules[moduleID] = owned
}

func validateAll(moduleID string, defs []tool.Definition) error {
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return withModule(err, moduleID)
		}
	}
	return nil
}

func withModule(err error, moduleID string) error {
	var cv *tool.ContractViolation
	if errors.As(err, &cv) && cv.Module == "" {
		return &tool.ContractViolation{Module: moduleID, Tool: cv.Tool, Reason: cv.Reason}
	}
	return err
}
