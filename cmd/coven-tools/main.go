// ABOUTME: Entry point for coven-tools, the pluggable tool runtime and MCP bridge
// ABOUTME: Wires cobra subcommands and maps errors onto process exit codes

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                    _              _
  ___ _____   _____ _ __        | |_ ___   ___ | |___
 / __/ _ \ \ / / _ \ '_ \ _____ | __/ _ \ / _ \| / __|
| (_| (_) \ V /  __/ | | |_____|| || (_) | (_) | \__ \
 \___\___/ \_/ \___|_| |_|       \__\___/ \___/|_|___/
`

// ExitError is an error that carries a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	root := newRootCmd()
	err := root.ExecuteContext(ctx)
	cancel()

	os.Exit(exitCode(err, os.Stderr))
}

// newRootCmd builds the command tree. Each call returns an isolated tree.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coven-tools",
		Short:         "Pluggable tool runtime with hot reload and an MCP bridge",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to config file (default: $COVEN_TOOLS_CONFIG or ./coven-tools.yaml)")
	root.PersistentFlags().String("modules", "", "Modules directory (overrides modules.dir)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")

	root.AddCommand(
		newServeCmd(),
		newListCmd(),
		newCallCmd(),
		newModulesCmd(),
		newPromptsCmd(),
		newHistoryCmd(),
		newTokenCmd(),
	)
	return root
}

// exitCode reports err on w and returns the process exit code.
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return 0
	}

	red := color.New(color.FgRed)
	var ee *ExitError
	if errors.As(err, &ee) {
		red.Fprintf(w, "Error: %s\n", ee.Message)
		return ee.Code
	}
	red.Fprintf(w, "Error: %v\n", err)
	return 1
}
