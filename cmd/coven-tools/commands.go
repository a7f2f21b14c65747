// ABOUTME: One-shot subcommands: list, call, modules, prompts, history and token
// ABOUTME: Each assembles the runtime, does one thing and shuts the runtime down again

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-tools/internal/auth"
	"github.com/2389/coven-tools/internal/convert"
	"github.com/2389/coven-tools/internal/loader"
	"github.com/2389/coven-tools/internal/store"
	"github.com/2389/coven-tools/internal/tool"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the registered tools as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			platform, _ := cmd.Flags().GetString("platform")

			format, err := convert.ParseFormat(formatName)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.loadModules(cmd.Context())

			return writeJSON(cmd.OutOrStdout(), a.registry.GetTools(platform, nil, format))
		},
	}

	cmd.Flags().StringP("format", "f", "protocol", "Wire format: function, native or protocol")
	cmd.Flags().String("platform", "", "Only tools visible on this platform")
	return cmd
}

func newCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool> [json-args]",
		Short: "Execute a tool once and print its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			platform, _ := cmd.Flags().GetString("platform")

			input := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &input); err != nil {
					return fmt.Errorf("%w: arguments must be a JSON object: %v", tool.ErrMalformedToolCall, err)
				}
			}

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.loadModules(cmd.Context())

			out := a.registry.Execute(cmd.Context(), args[0], input, tool.NewContext(user, platform))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().String("user", "", "User ID passed to the tool (default \"default\")")
	cmd.Flags().String("platform", "", "Platform passed to the tool (default \"api\")")
	return cmd
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "Load every module and show its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.loadModules(cmd.Context())

			printModules(cmd.OutOrStdout(), a.loader.Records())
			return nil
		},
	}
}

func printModules(out io.Writer, records []loader.ModuleRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No modules found.")
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tVERSION\tSTATUS\tTOOLS\tSOURCE")
	fmt.Fprintln(w, "  ----\t-------\t------\t-----\t------")
	for _, r := range records {
		status := green.Sprint(string(r.Status))
		if r.Status == loader.StatusFailed {
			status = red.Sprint(string(r.Status))
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%d\t%s\n", r.Name, r.Version, status, len(r.Tools), r.Source)
	}
	_ = w.Flush()

	for _, r := range records {
		if r.Err != "" {
			red.Fprintf(out, "\n  %s: %s\n", displayName(r), r.Err)
		}
	}
}

func displayName(r loader.ModuleRecord) string {
	if r.Name != "" {
		return r.Name
	}
	return r.Source
}

func newPromptsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "Print the system prompts contributed by loaded modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			a.loadModules(cmd.Context())

			prompts := a.loader.SystemPrompts()
			names := make([]string, 0, len(prompts))
			for name := range prompts {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for i, name := range names {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "## %s\n\n%s\n", name, strings.TrimSpace(prompts[name]))
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the module lifecycle journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			module, _ := cmd.Flags().GetString("module")
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, used, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.Path == "" {
				return errors.New("history needs database.path to be configured")
			}

			a, err := newApp(cmd.Context(), cfg, used, cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer a.close()

			events, err := a.store.ListModuleEvents(cmd.Context(), store.EventFilter{Module: module, Limit: limit})
			if err != nil {
				return fmt.Errorf("listing events: %w", err)
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().String("module", "", "Only events for this module")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of events")
	return cmd
}

func printEvents(out io.Writer, events []*store.ModuleEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No events recorded.")
		return
	}

	red := color.New(color.FgRed)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tMODULE\tACTION\tVERSION\tRESULT")
	fmt.Fprintln(w, "  ----\t------\t------\t-------\t------")
	for _, e := range events {
		result := "ok"
		if !e.Success {
			result = red.Sprint(truncate(e.Error, 60))
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("Jan 02 15:04:05"), e.Module, e.Action, e.Version, result)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the sse and http transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			platform, _ := cmd.Flags().GetString("platform")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Bridge.JWTSecret == "" {
				return errors.New("bridge.jwt_secret is not configured")
			}

			verifier := auth.NewJWTVerifier([]byte(cfg.Bridge.JWTSecret))
			token, err := verifier.Generate(auth.Identity{Subject: sub, Platform: platform}, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("sub", "", "Subject; becomes the tool context user ID")
	cmd.Flags().String("platform", "", "Pin the caller's platform (default: the bridge platform)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
