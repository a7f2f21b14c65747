// ABOUTME: Module loader: discovery, contract validation, load/reload/unload and shutdown.
// ABOUTME: One operation mutex serializes structural changes; concurrent reloads are coalesced.

package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-tools/internal/manifest"
	"github.com/2389/coven-tools/internal/module"
	"github.com/2389/coven-tools/internal/registry"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/tool"
)

// ErrModuleNotFound indicates the named module is not known to the loader.
var ErrModuleNotFound = errors.New("module not found")

// Observer receives one report per structural operation.
type Observer interface {
	ObserveModuleOperation(ctx context.Context, action, module string, err error)
}

// Config contains configuration options for the Loader.
type Config struct {
	Registry *registry.Registry

	// Dir is the modules directory. Empty disables manifest discovery and watching.
	Dir      string
	Include  []string
	Debounce time.Duration

	// NewSource builds the source for a manifest path. Defaults to a manifest.FileSource.
	NewSource func(path string) module.Source

	// Journal, when set, receives every structural outcome.
	Journal  store.EventStore
	Observer Observer

	// OnChange is called after each watcher-triggered operation.
	OnChange func()

	Logger *slog.Logger
}

// entry is the loader's view of one source.
type entry struct {
	source module.Source
	mod    module.Module // nil unless loaded
	record ModuleRecord
}

// Loader keeps the registry in step with the module sources.
type Loader struct {
	registry  *registry.Registry
	dir       string
	include   []string
	debounce  time.Duration
	newSource func(path string) module.Source
	journal   store.EventStore
	observer  Observer
	onChange  func()
	logger    *slog.Logger

	opMu   sync.Mutex
	flight singleflight.Group

	mu       sync.RWMutex
	builtins []module.Source
	entries  map[string]*entry // by module name, or source id when the name is unknown or taken
	bySource map[string]string // source id -> entries key

	watchMu sync.Mutex
	watch   *watchState
}

// New creates a Loader.
func New(cfg Config) *Loader {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "loader")

	dir := cfg.Dir
	if dir != "" {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}

	newSource := cfg.NewSource
	if newSource == nil {
		newSource = func(path string) module.Source {
			return manifest.NewFileSource(path, manifest.SourceConfig{Logger: logger})
		}
	}

	return &Loader{
		registry:  cfg.Registry,
		dir:       dir,
		include:   cfg.Include,
		debounce:  cfg.Debounce,
		newSource: newSource,
		journal:   cfg.Journal,
		observer:  cfg.Observer,
		onChange:  cfg.OnChange,
		logger:    logger,
		entries:   make(map[string]*entry),
		bySource:  make(map[string]string),
	}
}

// AddSource registers an in-process source to be loaded by LoadAll.
func (l *Loader) AddSource(src module.Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.builtins = append(l.builtins, src)
}

// LoadAll discovers and loads every module. The result maps each module
// name (or source id when no name was known) to its load error, nil on
// success. One failing module never prevents the others from loading.
func (l *Loader) LoadAll(ctx context.Context) map[string]error {
	results := make(map[string]error)

	l.mu.RLock()
	sources := append([]module.Source(nil), l.builtins...)
	l.mu.RUnlock()

	if l.dir != "" {
		paths, err := manifest.Discover(l.dir, l.include)
		if err != nil {
			l.logger.Error("module discovery failed", "dir", l.dir, "error", err)
			results[l.dir] = err
		}
		for _, p := range paths {
			if existing := l.sourceFor(p); existing != nil {
				sources = append(sources, existing)
				continue
			}
			sources = append(sources, l.newSource(p))
		}
	}

	for _, src := range sources {
		l.opMu.Lock()
		key, err := l.loadOrReloadLocked(ctx, src)
		l.opMu.Unlock()
		results[key] = err
	}

	loaded := 0
	for _, err := range results {
		if err == nil {
			loaded++
		}
	}
	l.logger.Info("modules loaded",
		"loaded", loaded,
		"failed", len(results)-loaded,
		"tools", l.registry.Len(),
	)
	return results
}

// Reload re-imports a module from its source and swaps its tools atomically.
// On failure the previous version stays active and the error wraps
// tool.ErrReloadFailure. Concurrent reloads of the same module share one run.
func (l *Loader) Reload(ctx context.Context, name string) error {
	_, err, _ := l.flight.Do(name, func() (any, error) {
		l.opMu.Lock()
		defer l.opMu.Unlock()
		return nil, l.reloadLocked(ctx, name)
	})
	return err
}

// LoadPath loads the manifest at path, or reloads it if it is already loaded.
func (l *Loader) LoadPath(ctx context.Context, path string) error {
	id := absPath(path)

	l.opMu.Lock()
	defer l.opMu.Unlock()

	src := l.sourceFor(id)
	if src == nil {
		src = l.newSource(id)
	}
	_, err := l.loadOrReloadLocked(ctx, src)
	return err
}

// UnloadPath unloads whatever module came from the manifest at path.
// Unknown paths are ignored.
func (l *Loader) UnloadPath(ctx context.Context, path string) error {
	id := absPath(path)

	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.RLock()
	key, ok := l.bySource[id]
	l.mu.RUnlock()
	if !ok {
		l.logger.Debug("unload of unknown path ignored", "path", id)
		return nil
	}
	return l.unloadLocked(ctx, key, store.EventUnload)
}

// Unload runs the module's cleanup hook, unregisters its tools and forgets it.
func (l *Loader) Unload(ctx context.Context, name string) error {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.unloadLocked(ctx, name, store.EventUnload)
}

// Shutdown stops watching, runs every loaded module's cleanup hook and only
// then unregisters all tools. Cleanup errors are logged, never returned.
func (l *Loader) Shutdown(ctx context.Context) {
	l.StopWatching()

	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.RLock()
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	l.mu.RUnlock()
	sort.Strings(keys)

	closing := make(map[string]*entry, len(keys))
	for _, key := range keys {
		if e, err := l.beginUnload(key); err == nil {
			closing[key] = e
		}
	}
	for _, key := range keys {
		if e, ok := closing[key]; ok {
			l.cleanupEntry(ctx, e)
		}
	}
	for _, key := range keys {
		if e, ok := closing[key]; ok {
			l.dropEntry(ctx, key, e, store.EventShutdown)
		}
	}
	l.logger.Info("loader shut down", "modules", len(closing))
}

// Records returns a snapshot of all module records, sorted by name.
func (l *Loader) Records() []ModuleRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ModuleRecord, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.record.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Source < out[j].Source
	})
	return out
}

// Record returns the record for a module name.
func (l *Loader) Record(name string) (ModuleRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[name]
	if !ok {
		return ModuleRecord{}, false
	}
	return e.record.clone(), true
}

// SystemPrompts returns the system prompt of every loaded module that has one.
func (l *Loader) SystemPrompts() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prompts := make(map[string]string)
	for name, e := range l.entries {
		if e.mod == nil {
			continue
		}
		if p := module.SystemPrompt(e.mod); p != "" {
			prompts[name] = p
		}
	}
	return prompts
}

// loadOrReloadLocked reloads src when it is already active and loads it
// otherwise. Callers hold opMu.
func (l *Loader) loadOrReloadLocked(ctx context.Context, src module.Source) (string, error) {
	if name, ok := l.loadedName(src.ID()); ok {
		return name, l.reloadLocked(ctx, name)
	}
	return l.loadLocked(ctx, src, store.EventLoad)
}

// loadLocked imports src and registers it. It returns the key the outcome
// was recorded under. Callers hold opMu.
func (l *Loader) loadLocked(ctx context.Context, src module.Source, action store.EventAction) (string, error) {
	key := l.keyFor(src.ID())

	mod, err := src.Load(ctx)
	if err != nil {
		return l.fail(ctx, src, key, "", action, err)
	}

	defs, err := module.Validate(mod)
	if err != nil {
		name := ""
		if mod != nil {
			name = mod.Name()
		}
		l.discard(ctx, mod)
		return l.fail(ctx, src, l.failKey(src, name), name, action, err)
	}
	name := mod.Name()

	l.mu.RLock()
	other, taken := l.entries[name]
	l.mu.RUnlock()
	if taken && other.source.ID() != src.ID() {
		l.discard(ctx, mod)
		err := &tool.ContractViolation{
			Module: name,
			Reason: fmt.Sprintf("module name already provided by %s", other.source.ID()),
		}
		return l.fail(ctx, src, src.ID(), name, action, err)
	}

	if err := l.registry.RegisterModule(name, defs); err != nil {
		l.discard(ctx, mod)
		return l.fail(ctx, src, name, name, action, err)
	}

	if err := module.Initialize(ctx, mod); err != nil {
		l.registry.UnregisterModule(name)
		l.discard(ctx, mod)
		return l.fail(ctx, src, name, name, action, fmt.Errorf("initializing module %q: %w", name, err))
	}

	l.commit(ctx, src, mod, defs, action)
	return name, nil
}

// reloadLocked swaps a loaded module for a fresh import. Callers hold opMu.
func (l *Loader) reloadLocked(ctx context.Context, name string) error {
	l.mu.RLock()
	e, ok := l.entries[name]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %w: %q", tool.ErrReloadFailure, ErrModuleNotFound, name)
	}

	if e.mod == nil {
		if _, err := l.loadLocked(ctx, e.source, store.EventReload); err != nil {
			return fmt.Errorf("%w: module %q: %w", tool.ErrReloadFailure, name, err)
		}
		return nil
	}

	fresh, err := e.source.Load(ctx)
	if err != nil {
		return l.rejectReload(ctx, e, nil, err)
	}
	defs, err := module.Validate(fresh)
	if err != nil {
		return l.rejectReload(ctx, e, fresh, err)
	}
	if fresh.Name() != name {
		return l.rejectReload(ctx, e, fresh, &tool.ContractViolation{
			Module: name,
			Reason: fmt.Sprintf("source now declares module %q", fresh.Name()),
		})
	}
	if err := l.registry.CheckModule(name, defs); err != nil {
		return l.rejectReload(ctx, e, fresh, err)
	}

	if err := module.Cleanup(ctx, e.mod); err != nil {
		l.logger.Warn("cleanup of previous module version failed", "module", name, "error", err)
	}

	if err := l.registry.ReplaceModule(name, defs); err != nil {
		l.registry.UnregisterModule(name)
		l.discard(ctx, fresh)
		_, err = l.fail(ctx, e.source, name, name, store.EventReload, err)
		return fmt.Errorf("%w: module %q: %w", tool.ErrReloadFailure, name, err)
	}

	if err := module.Initialize(ctx, fresh); err != nil {
		l.registry.UnregisterModule(name)
		l.discard(ctx, fresh)
		_, err = l.fail(ctx, e.source, name, name, store.EventReload, fmt.Errorf("initializing module %q: %w", name, err))
		return fmt.Errorf("%w: module %q: %w", tool.ErrReloadFailure, name, err)
	}

	l.commit(ctx, e.source, fresh, defs, store.EventReload)
	return nil
}

// rejectReload keeps the active version and notes why the new one was refused.
func (l *Loader) rejectReload(ctx context.Context, e *entry, fresh module.Module, cause error) error {
	if fresh != nil {
		l.discard(ctx, fresh)
	}

	l.mu.Lock()
	e.record.Err = cause.Error()
	rec := e.record.clone()
	l.mu.Unlock()

	l.logger.Warn("reload rejected, keeping active version",
		"module", rec.Name,
		"version", rec.Version,
		"error", cause,
	)
	l.report(ctx, store.EventReload, rec, cause)
	return fmt.Errorf("%w: module %q: %w", tool.ErrReloadFailure, rec.Name, cause)
}

// unloadLocked removes one entry. Callers hold opMu.
func (l *Loader) unloadLocked(ctx context.Context, key string, action store.EventAction) error {
	e, err := l.beginUnload(key)
	if err != nil {
		return err
	}
	l.cleanupEntry(ctx, e)
	l.dropEntry(ctx, key, e, action)
	return nil
}

// beginUnload marks the entry under key as unloading.
func (l *Loader) beginUnload(key string) (*entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, key)
	}
	e.record.Status = StatusUnloading
	return e, nil
}

func (l *Loader) cleanupEntry(ctx context.Context, e *entry) {
	if e.mod == nil {
		return
	}
	if err := module.Cleanup(ctx, e.mod); err != nil {
		l.logger.Warn("module cleanup failed", "module", e.record.Name, "error", err)
	}
}

// dropEntry unregisters the entry's tools and forgets it.
func (l *Loader) dropEntry(ctx context.Context, key string, e *entry, action store.EventAction) {
	if e.mod != nil {
		l.registry.UnregisterModule(e.record.Name)
	}

	l.mu.Lock()
	delete(l.entries, key)
	if l.bySource[e.source.ID()] == key {
		delete(l.bySource, e.source.ID())
	}
	rec := e.record.clone()
	l.mu.Unlock()

	rec.Tools = nil
	l.logger.Info("module unloaded", "module", rec.Name, "source", rec.Source, "action", action)
	l.report(ctx, action, rec, nil)
}

// commit records a successfully registered and initialized module.
func (l *Loader) commit(ctx context.Context, src module.Source, mod module.Module, defs []tool.Definition, action store.EventAction) {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}

	rec := ModuleRecord{
		Name:       mod.Name(),
		Version:    mod.Version(),
		Source:     src.ID(),
		Hash:       module.Fingerprint(mod),
		Generation: ulid.Make().String(),
		Tools:      names,
		Status:     StatusLoaded,
		LoadedAt:   time.Now(),
	}
	l.put(src, rec.Name, &entry{source: src, mod: mod, record: rec})

	l.logger.Info("=== MODULE LOADED ===",
		"module", rec.Name,
		"version", rec.Version,
		"source", rec.Source,
		"generation", rec.Generation,
		"tools", len(names),
		"action", action,
	)
	l.report(ctx, action, rec, nil)
}

// fail records a module that could not be loaded. It returns the key used
// and the cause.
func (l *Loader) fail(ctx context.Context, src module.Source, key, name string, action store.EventAction, cause error) (string, error) {
	if name == "" {
		name = key
	}
	rec := ModuleRecord{
		Name:   name,
		Source: src.ID(),
		Status: StatusFailed,
		Err:    cause.Error(),
	}
	if !l.putFailed(src, key, &entry{source: src, record: rec}) {
		l.logger.Warn("load failed, keeping active module", "module", name, "source", src.ID(), "error", cause)
		l.report(ctx, action, rec, cause)
		return key, cause
	}

	l.logger.Error("module failed to load",
		"module", name,
		"source", src.ID(),
		"action", action,
		"error", cause,
	)
	l.report(ctx, action, rec, cause)
	return key, cause
}

// put stores e under key, dropping any entry the same source held under another key.
func (l *Loader) put(src module.Source, key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.putLocked(src, key, e)
}

// putFailed stores a failed entry unless key already holds an active module.
func (l *Loader) putFailed(src module.Source, key string, e *entry) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.entries[key]; ok && cur.mod != nil {
		return false
	}
	l.putLocked(src, key, e)
	return true
}

func (l *Loader) putLocked(src module.Source, key string, e *entry) {

	if old, ok := l.bySource[src.ID()]; ok && old != key {
		if prev, ok := l.entries[old]; ok && prev.source.ID() == src.ID() {
			delete(l.entries, old)
		}
	}
	l.entries[key] = e
	l.bySource[src.ID()] = key
}

// discard releases a module value that was never made active.
func (l *Loader) discard(ctx context.Context, mod module.Module) {
	if mod == nil {
		return
	}
	if err := module.Cleanup(ctx, mod); err != nil {
		l.logger.Warn("cleanup of rejected module failed", "module", mod.Name(), "error", err)
	}
}

// report appends the outcome to the journal and the observer.
func (l *Loader) report(ctx context.Context, action store.EventAction, rec ModuleRecord, cause error) {
	if l.observer != nil {
		l.observer.ObserveModuleOperation(ctx, string(action), rec.Name, cause)
	}
	if l.journal == nil {
		return
	}

	ev := &store.ModuleEvent{
		Module:     rec.Name,
		Version:    rec.Version,
		Action:     action,
		Success:    cause == nil,
		Source:     rec.Source,
		Hash:       rec.Hash,
		Generation: rec.Generation,
		Tools:      rec.Tools,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := l.journal.AppendModuleEvent(context.WithoutCancel(ctx), ev); err != nil {
		l.logger.Warn("failed to journal module event", "module", rec.Name, "action", action, "error", err)
	}
}

// failKey picks where a failed load is recorded: under the module name when
// it is known and not held by another source, else under the source's key.
func (l *Loader) failKey(src module.Source, name string) string {
	if name == "" {
		return l.keyFor(src.ID())
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[name]; ok && e.source.ID() != src.ID() {
		return src.ID()
	}
	return name
}

// keyFor returns the key a source's outcome is currently recorded under,
// or the source id when it has none.
func (l *Loader) keyFor(id string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if key, ok := l.bySource[id]; ok {
		return key
	}
	return id
}

// loadedName returns the module name of a loaded source.
func (l *Loader) loadedName(id string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key, ok := l.bySource[id]
	if !ok {
		return "", false
	}
	e := l.entries[key]
	if e == nil || e.mod == nil {
		return "", false
	}
	return e.record.Name, true
}

// sourceFor returns the known source with the given id.
func (l *Loader) sourceFor(id string) module.Source {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if key, ok := l.bySource[id]; ok {
		if e := l.entries[key]; e != nil {
			return e.source
		}
	}
	return nil
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
