// ABOUTME: Runtime assembly shared by the subcommands
// ABOUTME: Builds config, logger, telemetry, store, registry, loader and builtin modules in order

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-tools/internal/bridge"
	"github.com/2389/coven-tools/internal/builtins"
	"github.com/2389/coven-tools/internal/capability"
	"github.com/2389/coven-tools/internal/config"
	"github.com/2389/coven-tools/internal/loader"
	"github.com/2389/coven-tools/internal/registry"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/telemetry"
)

// shutdownGrace bounds module cleanup and telemetry flush on exit.
const shutdownGrace = 5 * time.Second

// app is one assembled runtime.
type app struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger

	telemetry *telemetry.Provider
	store     *store.SQLiteStore // nil when database.path is empty
	registry  *registry.Registry
	loader    *loader.Loader
	bridge    *bridge.Bridge // set by serve before watching starts
}

// loadConfig resolves the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, used, err := config.Resolve(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}

	if dir, _ := cmd.Flags().GetString("modules"); dir != "" {
		cfg.Modules.Dir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, used, nil
}

// appOptions tunes newApp per command.
type appOptions struct {
	// journal records module lifecycle events in the store. Only the
	// long-running serve command enables it.
	journal bool
}

// newApp assembles the runtime from cfg. Modules are not loaded yet.
func newApp(ctx context.Context, cfg *config.Config, configPath string, logOut io.Writer, opts appOptions) (*app, error) {
	logger := setupLogger(cfg.Logging, logOut)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, configPath: configPath, logger: logger}

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a.telemetry = tp

	observer, err := tp.Observer()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("creating telemetry observer: %w", err)
	}

	if cfg.Database.Path != "" {
		st, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = st
	}

	a.registry = registry.New(registry.Config{
		Capabilities: capability.Detect(cfg.Capabilities, logger),
		Observer:     observer,
		Logger:       logger,
	})

	lcfg := loader.Config{
		Registry: a.registry,
		Dir:      cfg.Modules.Dir,
		Include:  cfg.Modules.Include,
		Debounce: cfg.Modules.Debounce,
		Observer: observer,
		OnChange: a.refreshBridge,
		Logger:   logger,
	}
	if a.store != nil && opts.journal {
		lcfg.Journal = a.store
	}
	a.loader = loader.New(lcfg)

	if a.store != nil {
		a.loader.AddSource(builtins.NotesModule(a.store))
	}
	a.loader.AddSource(builtins.RuntimeModule(a.registry, a.loader))

	return a, nil
}

// bootstrap loads config from the command flags and assembles the runtime.
func bootstrap(cmd *cobra.Command) (*app, error) {
	cfg, used, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, used, cmd.ErrOrStderr(), appOptions{})
}

// loadModules loads every source and logs the failures. Failures never
// stop the runtime.
func (a *app) loadModules(ctx context.Context) {
	for key, err := range a.loader.LoadAll(ctx) {
		if err != nil {
			a.logger.Warn("module failed to load", "module", key, "error", err)
		}
	}
}

func (a *app) refreshBridge() {
	if a.bridge != nil {
		a.bridge.Refresh()
	}
}

// close releases everything newApp acquired under a fresh deadline.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if a.loader != nil {
		a.loader.Shutdown(ctx)
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", "error", err)
		}
	}
}

// logInvocationSummary logs the per-tool invocation counts collected
// during this run.
func (a *app) logInvocationSummary(ctx context.Context) {
	counts, err := a.telemetry.InvocationCounts(ctx)
	if err != nil {
		a.logger.Warn("collecting invocation counts failed", "error", err)
		return
	}
	if len(counts) == 0 {
		return
	}

	var total int64
	for _, c := range counts {
		total += c.Count
		a.logger.Info("tool invocations", "tool", c.Tool, "outcome", c.Outcome, "count", c.Count)
	}
	a.logger.Info("=== INVOCATION SUMMARY ===", "total", total, "series", len(counts))
}
