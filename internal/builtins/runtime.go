// ABOUTME: Runtime module exposes read-only introspection of the tool runtime itself.
// ABOUTME: list_tools shows what the caller's platform can see; module_status shows loader records.

package builtins

import (
	"context"
	"time"

	"github.com/2389/coven-tools/internal/loader"
	"github.com/2389/coven-tools/internal/module"
	"github.com/2389/coven-tools/internal/registry"
	"github.com/2389/coven-tools/internal/tool"
)

// RuntimeSourceID identifies the runtime module source.
const RuntimeSourceID = "builtin:runtime"

// RecordLister reports module records.
type RecordLister interface {
	Records() []loader.ModuleRecord
}

// RuntimeModule returns a source for the runtime introspection module.
func RuntimeModule(reg *registry.Registry, records RecordLister) module.Source {
	return &module.FuncSource{
		SourceID: RuntimeSourceID,
		Factory: func(context.Context) (module.Module, error) {
			r := &runtimeHandlers{registry: reg, records: records}
			return &module.Static{
				ModuleName:    "runtime",
				ModuleVersion: Version,
				Defs: []tool.Definition{
					{
						Name:        "list_tools",
						Description: "List the tools available on the current platform",
						Parameters:  tool.EmptySchema(),
						Handler:     r.ListTools,
					},
					{
						Name:        "module_status",
						Description: "Show loaded modules, their versions and any load errors",
						Parameters:  mustSchema(`{"type":"object","properties":{"module":{"type":"string","description":"Only report this module"}}}`),
						Handler:     r.ModuleStatus,
					},
				},
			}, nil
		},
	}
}

type runtimeHandlers struct {
	registry *registry.Registry
	records  RecordLister
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Module      string `json:"module"`
}

func (r *runtimeHandlers) ListTools(_ context.Context, _ map[string]any, tc tool.Context) (string, error) {
	caps := r.registry.Capabilities()

	var tools []toolSummary
	for _, def := range r.registry.Definitions() {
		if !def.AvailableOn(tc.Platform) || !caps.Satisfies(def.Requires) {
			continue
		}
		owner, _ := r.registry.ModuleOf(def.Name)
		tools = append(tools, toolSummary{Name: def.Name, Description: def.Description, Module: owner})
	}

	return encode(map[string]any{"platform": tc.Platform, "tools": tools, "count": len(tools)})
}

type moduleStatusInput struct {
	Module string `json:"module"`
}

type moduleSummary struct {
	Name     string   `json:"name"`
	Version  string   `json:"version,omitempty"`
	Status   string   `json:"status"`
	Tools    []string `json:"tools,omitempty"`
	Error    string   `json:"error,omitempty"`
	LoadedAt string   `json:"loaded_at,omitempty"`
}

func (r *runtimeHandlers) ModuleStatus(_ context.Context, args map[string]any, _ tool.Context) (string, error) {
	var in moduleStatusInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	var modules []moduleSummary
	for _, rec := range r.records.Records() {
		if in.Module != "" && rec.Name != in.Module {
			continue
		}
		s := moduleSummary{
			Name:    rec.Name,
			Version: rec.Version,
			Status:  string(rec.Status),
			Tools:   rec.Tools,
			Error:   rec.Err,
		}
		if !rec.LoadedAt.IsZero() {
			s.LoadedAt = rec.LoadedAt.UTC().Format(time.RFC3339)
		}
		modules = append(modules, s)
	}

	return encode(map[string]any{"modules": modules, "count": len(modules)})
}
