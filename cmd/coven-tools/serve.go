// ABOUTME: The serve command: loads modules, starts the bridge and optionally watches for changes
// ABOUTME: Exits with code 1 when the selected transport is not compiled in

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-tools/internal/auth"
	"github.com/2389/coven-tools/internal/bridge"
	"github.com/2389/coven-tools/internal/config"
	"github.com/2389/coven-tools/internal/loader"
	"github.com/2389/coven-tools/internal/tool"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registered tools over MCP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().StringP("transport", "t", "stdio", "Transport: stdio, sse or http")
	cmd.Flags().IntP("port", "p", 8002, "Listen port for sse and http (env MCP_SERVER_PORT)")
	cmd.Flags().String("host", "localhost", "Listen host for sse and http (env MCP_SERVER_HOST)")
	cmd.Flags().Bool("hot-reload", false, "Watch the modules directory and reload on change (env TOOL_HOT_RELOAD)")

	return cmd
}

// applyServeFlags overlays explicitly set serve flags onto cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Bridge.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("port") {
		cfg.Bridge.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.Bridge.Host, _ = flags.GetString("host")
	}
	if flags.Changed("hot-reload") {
		cfg.Modules.Watch, _ = flags.GetBool("hot-reload")
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}

	transport := cfg.Bridge.Transport
	if transport != bridge.TransportHTTP && !bridge.Available() {
		return exitError(1, "%s transport unavailable: %v (rebuild without -tags nomcp or use --transport http)",
			transport, tool.ErrProtocolUnavailable)
	}

	printBanner(cfg, configPath)

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, configPath, cmd.ErrOrStderr(), appOptions{journal: true})
	if err != nil {
		return err
	}
	defer a.close()

	var verifier auth.TokenVerifier
	if cfg.Bridge.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Bridge.JWTSecret))
	}

	b, err := bridge.New(bridge.Config{
		Registry: a.registry,
		Name:     cfg.Bridge.Name,
		Version:  version,
		Platform: cfg.Bridge.Platform,
		UserID:   cfg.Bridge.UserID,
		Verifier: verifier,
		Logger:   a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	a.bridge = b

	a.loadModules(ctx)
	b.Refresh()

	if cfg.Modules.Watch {
		if err := a.loader.StartWatching(ctx); err != nil {
			if !errors.Is(err, loader.ErrNoModulesDir) {
				return fmt.Errorf("starting watcher: %w", err)
			}
			a.logger.Warn("hot reload requested but no modules directory configured")
		}
	}

	a.logger.Info("starting coven-tools",
		"transport", transport,
		"modules_dir", cfg.Modules.Dir,
		"hot_reload", cfg.Modules.Watch,
		"tools", a.registry.Len(),
	)

	err = serveTransport(ctx, b, cfg)
	a.logInvocationSummary(context.WithoutCancel(ctx))
	if errors.Is(err, tool.ErrProtocolUnavailable) {
		return exitError(1, "%v", err)
	}
	return err
}

func serveTransport(ctx context.Context, b *bridge.Bridge, cfg *config.Config) error {
	switch cfg.Bridge.Transport {
	case bridge.TransportStdio:
		return b.ServeStdio(ctx, os.Stdin, os.Stdout)
	default:
		mux, err := b.Routes(cfg.Bridge.Transport, cfg.Bridge.SSEBaseURL())
		if err != nil {
			return err
		}
		return b.ListenAndServe(ctx, cfg.Bridge.Addr(), mux)
	}
}

// printBanner writes the startup banner to stderr; stdout may carry protocol frames.
func printBanner(cfg *config.Config, configPath string) {
	w := os.Stderr
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Fprint(w, banner)
	gray.Fprintf(w, "    version: %s\n\n", version)

	if configPath == "" {
		configPath = "(defaults)"
	}
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Config:    %s\n", configPath)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Modules:   %s", cfg.Modules.Dir)
	if cfg.Modules.Watch {
		yellow.Fprint(w, " [hot reload]")
	}
	fmt.Fprintln(w)
	green.Fprint(w, "    ▶ ")
	fmt.Fprintf(w, "Transport: %s", cfg.Bridge.Transport)
	if cfg.Bridge.Transport != bridge.TransportStdio {
		gray.Fprintf(w, " (%s)", cfg.Bridge.Addr())
		if cfg.Bridge.JWTSecret != "" {
			yellow.Fprint(w, " [auth]")
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)
}
