// ABOUTME: Capability tags describing what the runtime environment can do.
// ABOUTME: Probes environment variables, paths and commands to build the available set.

package capability

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sort"
)

// Set is an immutable-by-convention set of capability tags.
type Set map[string]struct{}

// NewSet builds a Set from tag names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// Has reports whether the set contains name.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Missing returns the required tags absent from the set, in the order given.
func (s Set) Missing(required []string) []string {
	var missing []string
	for _, r := range required {
		if !s.Has(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// Satisfies reports whether every required tag is present.
func (s Set) Satisfies(required []string) bool {
	for _, r := range required {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Names returns the tags in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Union returns a new set holding the tags of both sets.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for n := range s {
		out[n] = struct{}{}
	}
	for n := range other {
		out[n] = struct{}{}
	}
	return out
}

// Probe declares how to detect one capability. Exactly one of the
// detection fields should be set.
type Probe struct {
	Name    string `yaml:"name"`
	Always  bool   `yaml:"always"`
	Env     string `yaml:"env"`     // present when the variable is non-empty
	Path    string `yaml:"path"`    // present when the path exists
	Command string `yaml:"command"` // present when the command is on PATH
}

// Validate checks that the probe has a name and a single detection method.
func (p Probe) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("capability probe has no name")
	}
	methods := 0
	if p.Always {
		methods++
	}
	for _, v := range []string{p.Env, p.Path, p.Command} {
		if v != "" {
			methods++
		}
	}
	if methods != 1 {
		return fmt.Errorf("capability %q must declare exactly one of always, env, path, command", p.Name)
	}
	return nil
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Detect evaluates the probes and returns the capabilities present.
func Detect(probes []Probe, logger *slog.Logger) Set {
	if logger == nil {
		logger = slog.Default()
	}

	set := make(Set, len(probes))
	for _, p := range probes {
		ok, how := p.detect()
		if ok {
			set[p.Name] = struct{}{}
		}
		logger.Debug("capability probed", "capability", p.Name, "present", ok, "probe", how)
	}

	logger.Info("capabilities detected", "available", set.Names())
	return set
}

func (p Probe) detect() (bool, string) {
	switch {
	case p.Always:
		return true, "always"
	case p.Env != "":
		return os.Getenv(p.Env) != "", "env:" + p.Env
	case p.Path != "":
		_, err := os.Stat(p.Path)
		return err == nil, "path:" + p.Path
	case p.Command != "":
		_, err := lookPath(p.Command)
		return err == nil, "command:" + p.Command
	default:
		return false, "none"
	}
}

// Equal reports whether both sets hold the same tags.
func (s Set) Equal(other Set) bool {
	return slices.Equal(s.Names(), other.Names())
}
