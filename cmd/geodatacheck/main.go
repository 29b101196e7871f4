package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shpitdev/geodatacheck/internal/app"
	"github.com/shpitdev/geodatacheck/pkg/pipeline/redact"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// usageError marks bad invocations, which exit like configuration errors.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

// execute runs the CLI and maps failures to exit codes: 2 for configuration and usage
// errors, 1 for run failures.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	msg := redact.Secrets(err.Error())
	var ue usageError
	switch {
	case errors.As(err, &ue), app.IsConfigError(err), strings.HasPrefix(err.Error(), "unknown command"):
		_, _ = fmt.Fprintf(stderr, "config error: %s\n", msg)
		return 2
	default:
		_, _ = fmt.Fprintf(stderr, "run failed: %s\n", msg)
		return 1
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "geodatacheck",
		Short: "Validate building records against the Swiss building register",
		Long: `geodatacheck reads a table of buildings, looks every EGID up in the federal
building and dwelling register (GWR), and reports how well each row matches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	g := &globalFlags{}
	g.register(root)

	root.AddCommand(
		newRunCmd(g),
		newColumnsCmd(g),
		newRulesCmd(),
		newVersionCmd(),
	)
	return root
}
