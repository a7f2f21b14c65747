// ABOUTME: Tests for module loading, reloading, unloading and shutdown.
// ABOUTME: Uses in-process sources with scripted load results and a mock journal.

package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-tools/internal/module"
	"github.com/2389/coven-tools/internal/registry"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/tool"
)

// scriptedSource returns whatever build produces for the nth load.
type scriptedSource struct {
	id    string
	loads atomic.Int64
	build func(n int) (module.Module, error)
}

func (s *scriptedSource) ID() string   { return s.id }
func (s *scriptedSource) Path() string { return "" }

func (s *scriptedSource) Load(context.Context) (module.Module, error) {
	return s.build(int(s.loads.Add(1)))
}

func echoTool(name, reply string) tool.Definition {
	return tool.Definition{
		Name:        name,
		Description: "echo " + name,
		Parameters:  tool.EmptySchema(),
		Handler: func(context.Context, map[string]any, tool.Context) (string, error) {
			return reply, nil
		},
	}
}

// lifecycle counts hook calls across module values.
type lifecycle struct {
	inits    atomic.Int64
	cleanups atomic.Int64
}

func (lc *lifecycle) module(name, version string, defs ...tool.Definition) *module.Static {
	return &module.Static{
		ModuleName:    name,
		ModuleVersion: version,
		Defs:          defs,
		OnInit: func(context.Context) error {
			lc.inits.Add(1)
			return nil
		},
		OnCleanup: func(context.Context) error {
			lc.cleanups.Add(1)
			return nil
		},
	}
}

func fixed(m module.Module) func(int) (module.Module, error) {
	return func(int) (module.Module, error) { return m, nil }
}

type recordingObserver struct {
	mu  sync.Mutex
	ops []string
}

func (o *recordingObserver) ObserveModuleOperation(_ context.Context, action, module string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.ops = append(o.ops, action+":"+module+":"+status)
}

func newTestLoader(t *testing.T) (*Loader, *registry.Registry, *store.MockStore) {
	t.Helper()
	reg := registry.New(registry.Config{})
	journal := store.NewMockStore()
	l := New(Config{Registry: reg, Journal: journal})
	return l, reg, journal
}

func run(reg *registry.Registry, name string) string {
	return reg.Execute(context.Background(), name, nil, tool.NewContext("", ""))
}

func TestLoadAllIsolatesFailures(t *testing.T) {
	l, reg, journal := newTestLoader(t)
	obs := &recordingObserver{}
	l.observer = obs
	lc := &lifecycle{}

	l.AddSource(&scriptedSource{id: "builtin:alpha", build: fixed(lc.module("alpha", "1.0.0", echoTool("a1", "a"), echoTool("a2", "a")))})
	l.AddSource(&scriptedSource{id: "builtin:broken", build: fixed(lc.module("broken", "1.0.0", tool.Definition{Name: "nohandler", Parameters: tool.EmptySchema()}))})
	l.AddSource(&scriptedSource{id: "builtin:import", build: func(int) (module.Module, error) { return nil, errors.New("syntax error") }})
	l.AddSource(&scriptedSource{id: "builtin:clash", build: fixed(lc.module("clash", "1.0.0", echoTool("c1", "c"), echoTool("a1", "c")))})

	badInit := lc.module("coldstart", "1.0.0", echoTool("cold", "c"))
	badInit.OnInit = func(context.Context) error { return errors.New("no database") }
	l.AddSource(&scriptedSource{id: "builtin:coldstart", build: fixed(badInit)})

	results := l.LoadAll(context.Background())

	require.Len(t, results, 5)
	assert.NoError(t, results["alpha"])
	assert.ErrorIs(t, results["broken"], tool.ErrContractViolation)
	assert.ErrorContains(t, results["builtin:import"], "syntax error")
	assert.ErrorIs(t, results["clash"], tool.ErrDuplicateName)
	assert.ErrorContains(t, results["coldstart"], "no database")

	assert.Equal(t, []string{"a1", "a2"}, reg.ToolNames(), "failed modules register nothing")
	assert.Equal(t, "a", run(reg, "a1"))

	// alpha initialized; broken, clash and coldstart cleaned up after rejection.
	assert.Equal(t, int64(1), lc.inits.Load())
	assert.Equal(t, int64(3), lc.cleanups.Load())

	records := l.Records()
	require.Len(t, records, 5)
	statuses := map[string]Status{}
	for _, r := range records {
		statuses[r.Name] = r.Status
	}
	assert.Equal(t, map[string]Status{
		"alpha":          StatusLoaded,
		"broken":         StatusFailed,
		"builtin:import": StatusFailed,
		"clash":          StatusFailed,
		"coldstart":      StatusFailed,
	}, statuses)

	alpha, ok := l.Record("alpha")
	require.True(t, ok)
	assert.Equal(t, "builtin:alpha", alpha.Source)
	assert.Equal(t, []string{"a1", "a2"}, alpha.Tools)
	assert.NotEmpty(t, alpha.Generation)
	assert.Empty(t, alpha.Err)

	events, err := journal.ListModuleEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Len(t, obs.ops, 5)
}

func TestLoadRejectsDuplicateModuleName(t *testing.T) {
	l, reg, _ := newTestLoader(t)
	lc := &lifecycle{}

	l.AddSource(&scriptedSource{id: "one", build: fixed(lc.module("weather", "1.0.0", echoTool("forecast", "1")))})
	l.AddSource(&scriptedSource{id: "two", build: fixed(lc.module("weather", "2.0.0", echoTool("radar", "2")))})

	results := l.LoadAll(context.Background())
	assert.NoError(t, results["weather"])
	assert.ErrorIs(t, results["two"], tool.ErrContractViolation)
	assert.Equal(t, []string{"forecast"}, reg.ToolNames())

	rec, ok := l.Record("weather")
	require.True(t, ok)
	assert.Equal(t, "one", rec.Source)
}

func TestReload(t *testing.T) {
	l, reg, _ := newTestLoader(t)
	lc := &lifecycle{}

	src := &scriptedSource{id: "builtin:weather"}
	src.build = func(n int) (module.Module, error) {
		if n == 1 {
			return lc.module("weather", "1.0.0", echoTool("forecast", "v1"), echoTool("radar", "v1")), nil
		}
		return lc.module("weather", "2.0.0", echoTool("forecast", "v2"), echoTool("alerts", "v2")), nil
	}
	l.AddSource(src)
	require.NoError(t, l.LoadAll(context.Background())["weather"])
	before, _ := l.Record("weather")

	require.NoError(t, l.Reload(context.Background(), "weather"))

	assert.Equal(t, []string{"forecast", "alerts"}, reg.ToolNames())
	assert.Equal(t, "v2", run(reg, "forecast"))
	assert.Contains(t, run(reg, "radar"), "tool_not_found")

	after, _ := l.Record("weather")
	assert.Equal(t, "2.0.0", after.Version)
	assert.NotEqual(t, before.Generation, after.Generation)
	assert.Equal(t, int64(2), lc.inits.Load())
	assert.Equal(t, int64(1), lc.cleanups.Load(), "old version cleaned up")
}

func TestReloadFailureKeepsActiveVersion(t *testing.T) {
	tests := []struct {
		name    string
		second  func(lc *lifecycle) (module.Module, error)
		wantErr error
	}{
		{
			name:    "import error",
			second:  func(*lifecycle) (module.Module, error) { return nil, errors.New("parse error") },
			wantErr: tool.ErrReloadFailure,
		},
		{
			name: "contract violation",
			second: func(lc *lifecycle) (module.Module, error) {
				return lc.module("weather", "", echoTool("forecast", "v2")), nil
			},
			wantErr: tool.ErrContractViolation,
		},
		{
			name: "renamed module",
			second: func(lc *lifecycle) (module.Module, error) {
				return lc.module("climate", "2.0.0", echoTool("forecast", "v2")), nil
			},
			wantErr: tool.ErrContractViolation,
		},
		{
			name: "collision with another module",
			second: func(lc *lifecycle) (module.Module, error) {
				return lc.module("weather", "2.0.0", echoTool("forecast", "v2"), echoTool("note_get", "v2")), nil
			},
			wantErr: tool.ErrDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, reg, journal := newTestLoader(t)
			lc := &lifecycle{}

			l.AddSource(&scriptedSource{id: "builtin:notes", build: fixed(lc.module("notes", "1.0.0", echoTool("note_get", "n")))})
			src := &scriptedSource{id: "builtin:weather"}
			src.build = func(n int) (module.Module, error) {
				if n == 1 {
					return lc.module("weather", "1.0.0", echoTool("forecast", "v1")), nil
				}
				return tt.second(lc)
			}
			l.AddSource(src)
			for _, err := range l.LoadAll(context.Background()) {
				require.NoError(t, err)
			}
			cleanupsBefore := lc.cleanups.Load()

			err := l.Reload(context.Background(), "weather")
			require.Error(t, err)
			assert.ErrorIs(t, err, tool.ErrReloadFailure)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, "v1", run(reg, "forecast"), "old version still serves calls")
			assert.Equal(t, []string{"note_get", "forecast"}, reg.ToolNames())

			rec, _ := l.Record("weather")
			assert.Equal(t, StatusLoaded, rec.Status)
			assert.Equal(t, "1.0.0", rec.Version)
			assert.NotEmpty(t, rec.Err)

			// Only the rejected value may have been cleaned up; never the active one.
			assert.LessOrEqual(t, lc.cleanups.Load()-cleanupsBefore, int64(1))

			events, err := journal.ListModuleEvents(context.Background(), store.EventFilter{Module: "weather"})
			require.NoError(t, err)
			require.NotEmpty(t, events)
			assert.Equal(t, store.EventReload, events[0].Action)
			assert.False(t, events[0].Success)
		})
	}
}

func TestReloadInitializeFailure(t *testing.T) {
	l, reg, _ := newTestLoader(t)
	lc := &lifecycle{}

	src := &scriptedSource{id: "builtin:weather"}
	src.build = func(n int) (module.Module, error) {
		m := lc.module("weather", "1.0.0", echoTool("forecast", "v1"))
		if n > 1 {
			m.OnInit = func(context.Context) error { return errors.New("quota exceeded") }
		}
		return m, nil
	}
	l.AddSource(src)
	require.NoError(t, l.LoadAll(context.Background())["weather"])

	err := l.Reload(context.Background(), "weather")
	assert.ErrorIs(t, err, tool.ErrReloadFailure)
	assert.ErrorContains(t, err, "quota exceeded")

	assert.Zero(t, reg.Len(), "new tools are rolled back")
	rec, ok := l.Record("weather")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)

	// A later reload retries from scratch.
	src.build = fixed(lc.module("weather", "1.0.1", echoTool("forecast", "v3")))
	require.NoError(t, l.Reload(context.Background(), "weather"))
	assert.Equal(t, "v3", run(reg, "forecast"))
}

func TestReloadUnknownModule(t *testing.T) {
	l, _, _ := newTestLoader(t)
	err := l.Reload(context.Background(), "ghost")
	assert.ErrorIs(t, err, tool.ErrReloadFailure)
	assert.ErrorIs(t, err, ErrModuleNotFound)
}

func TestConcurrentReloads(t *testing.T) {
	l, reg, _ := newTestLoader(t)
	lc := &lifecycle{}

	src := &scriptedSource{id: "builtin:weather"}
	src.build = func(n int) (module.Module, error) {
		return lc.module("weather", "1.0.0", echoTool("forecast", "v")), nil
	}
	l.AddSource(src)
	require.NoError(t, l.LoadAll(context.Background())["weather"])

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Reload(context.Background(), "weather"))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"forecast"}, reg.ToolNames())
	assert.Equal(t, lc.inits.Load()-1, lc.cleanups.Load(), "every replaced version is cleaned up exactly once")
	assert.LessOrEqual(t, src.loads.Load(), int64(21))
}

func TestUnload(t *testing.T) {
	l, reg, journal := newTestLoader(t)
	lc := &lifecycle{}

	l.AddSource(&scriptedSource{id: "builtin:a", build: fixed(lc.module("a", "1.0.0", echoTool("a1", "a")))})
	l.AddSource(&scriptedSource{id: "builtin:b", build: fixed(lc.module("b", "1.0.0", echoTool("b1", "b")))})
	l.LoadAll(context.Background())

	require.NoError(t, l.Unload(context.Background(), "a"))
	assert.Equal(t, []string{"b1"}, reg.ToolNames())
	assert.Equal(t, int64(1), lc.cleanups.Load())
	_, ok := l.Record("a")
	assert.False(t, ok)

	assert.ErrorIs(t, l.Unload(context.Background(), "a"), ErrModuleNotFound)

	events, err := journal.ListModuleEvents(context.Background(), store.EventFilter{Module: "a"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, store.EventUnload, events[0].Action)
}

func TestShutdownContinuesPastCleanupErrors(t *testing.T) {
	l, reg, journal := newTestLoader(t)
	lc := &lifecycle{}

	failing := lc.module("a", "1.0.0", echoTool("a1", "a"))
	failing.OnCleanup = func(context.Context) error { return errors.New("socket already closed") }
	l.AddSource(&scriptedSource{id: "builtin:a", build: fixed(failing)})
	l.AddSource(&scriptedSource{id: "builtin:b", build: fixed(lc.module("b", "1.0.0", echoTool("b1", "b")))})
	l.LoadAll(context.Background())
	require.Equal(t, 2, reg.Len())

	l.Shutdown(context.Background())

	assert.Zero(t, reg.Len())
	assert.Empty(t, l.Records())
	assert.Equal(t, int64(1), lc.cleanups.Load(), "b cleaned up even though a failed")

	events, err := journal.ListModuleEvents(context.Background(), store.EventFilter{})
	require.NoError(t, err)
	var shutdowns int
	for _, e := range events {
		if e.Action == store.EventShutdown {
			shutdowns++
		}
	}
	assert.Equal(t, 2, shutdowns)
}

func TestShutdownCleansUpBeforeUnregistering(t *testing.T) {
	l, reg, _ := newTestLoader(t)
	var seen []int

	for _, name := range []string{"a", "b"} {
		m := &module.Static{ModuleName: name, ModuleVersion: "1.0.0", Defs: []tool.Definition{echoTool(name+"1", name)}}
		m.OnCleanup = func(context.Context) error {
			seen = append(seen, reg.Len())
			return nil
		}
		l.AddSource(&scriptedSource{id: "builtin:" + name, build: fixed(m)})
	}
	l.LoadAll(context.Background())

	l.Shutdown(context.Background())

	assert.Equal(t, []int{2, 2}, seen, "every cleanup runs while all tools are still registered")
	assert.Zero(t, reg.Len())
}

// gatedSource blocks its first Load until release is closed.
type gatedSource struct {
	id      string
	loads   atomic.Int64
	release chan struct{}
	lc      *lifecycle
}

func (g *gatedSource) ID() string   { return g.id }
func (g *gatedSource) Path() string { return g.id }

func (g *gatedSource) Load(ctx context.Context) (module.Module, error) {
	if g.loads.Add(1) == 1 {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.lc.module("weather", "1.0.0", echoTool("forecast", "sunny")), nil
}

func TestOverlappingLoadPathReloadsInstead(t *testing.T) {
	lc := &lifecycle{}
	src := &gatedSource{id: absPath("weather.yaml"), release: make(chan struct{}), lc: lc}

	reg := registry.New(registry.Config{})
	l := New(Config{
		Registry:  reg,
		NewSource: func(string) module.Source { return src },
	})

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = l.LoadPath(context.Background(), "weather.yaml")
	}()
	require.Eventually(t, func() bool { return src.loads.Load() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = l.LoadPath(context.Background(), "weather.yaml")
	}()
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int64(2), src.loads.Load())

	rec, ok := l.Record("weather")
	require.True(t, ok)
	assert.Equal(t, StatusLoaded, rec.Status)
	assert.Equal(t, []string{"forecast"}, rec.Tools)
	assert.Equal(t, []string{"forecast"}, reg.ToolNames())
	assert.Equal(t, int64(1), lc.cleanups.Load(), "the first version is cleaned up when replaced")

	require.NoError(t, l.Reload(context.Background(), "weather"))

	require.NoError(t, l.Unload(context.Background(), "weather"))
	assert.Zero(t, reg.Len(), "unload removes every tool the module contributed")
	assert.Empty(t, l.Records())
	assert.Equal(t, lc.inits.Load(), lc.cleanups.Load())
}

func TestFailedLoadKeepsActiveEntry(t *testing.T) {
	l, reg, _ := newTestLoader(t)
	lc := &lifecycle{}
	src := &scriptedSource{id: "builtin:weather", build: fixed(lc.module("weather", "1.0.0", echoTool("forecast", "sunny")))}
	l.AddSource(src)
	l.LoadAll(context.Background())

	l.opMu.Lock()
	_, err := l.loadLocked(context.Background(), src, store.EventLoad)
	l.opMu.Unlock()
	assert.ErrorIs(t, err, registry.ErrModuleAlreadyRegistered)

	rec, ok := l.Record("weather")
	require.True(t, ok)
	assert.Equal(t, StatusLoaded, rec.Status)

	require.NoError(t, l.Unload(context.Background(), "weather"))
	assert.Zero(t, reg.Len())
}

func TestSystemPrompts(t *testing.T) {
	l, _, _ := newTestLoader(t)

	withPrompt := &module.Static{ModuleName: "weather", ModuleVersion: "1.0.0", Defs: []tool.Definition{echoTool("forecast", "x")}, Prompt: "Check the weather first."}
	withoutPrompt := &module.Static{ModuleName: "math", ModuleVersion: "1.0.0", Defs: []tool.Definition{echoTool("add", "x")}}
	l.AddSource(&scriptedSource{id: "w", build: fixed(withPrompt)})
	l.AddSource(&scriptedSource{id: "m", build: fixed(withoutPrompt)})
	l.LoadAll(context.Background())

	assert.Equal(t, map[string]string{"weather": "Check the weather first."}, l.SystemPrompts())
}
