// ABOUTME: Module records exposed to operators: what is loaded, from where, and in what state.
// ABOUTME: Records are returned by value so callers never see later mutations.

package loader

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a module record.
type Status string

const (
	StatusLoaded    Status = "loaded"
	StatusFailed    Status = "failed"
	StatusUnloading Status = "unloading"
)

// ModuleRecord describes one module known to the loader.
type ModuleRecord struct {
	Name       string
	Version    string
	Source     string // path or builtin id
	Hash       string // sha256 of the source bytes, empty for builtins
	Generation string // ULID assigned on each successful load
	Tools      []string
	Status     Status
	Err        string // load failure, or the last rejected reload of a loaded module
	LoadedAt   time.Time
}

func (r ModuleRecord) clone() ModuleRecord {
	r.Tools = slices.Clone(r.Tools)
	return r
}
