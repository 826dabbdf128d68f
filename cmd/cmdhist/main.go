// Command cmdhist captures shell history into a searchable store, either the
// remote history server or a local store, and keeps it in sync.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/cmdhist/internal/config"
	"github.com/kuitang/cmdhist/internal/errs"
	"github.com/kuitang/cmdhist/internal/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "cmdhist: %v\n", err)
	return exitCode(err)
}

func exitCode(err error) int {
	if config.IsValidationError(err) {
		return 1
	}
	if errors.Is(err, context.Canceled) {
		return 4
	}
	return errs.ExitCode(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "cmdhist",
		Short:         "Store, search and sync shell history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if a.histFile != "" {
				cfg.HistFile = a.histFile
			}
			obs.Init(cfg.LogLevel)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&a.local, "local", false, "use the local store (CMDHIST_STORE) instead of the history server")
	root.PersistentFlags().StringVar(&a.histFile, "histfile", "", "shell history file (default $HISTFILE or ~/.bash_history)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Wrap(errs.InvalidArgument, "invalid flags", err)
	})

	root.AddCommand(
		syncCmd(a),
		importCmd(a),
		exportCmd(a),
		searchCmd(a),
		addCmd(a),
		getCmd(a),
		annotateCmd(a),
		deleteCmd(a),
		watchCmd(a),
	)
	return root
}

// exactArgs is cobra.ExactArgs with a usage-class error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return errs.Wrap(errs.InvalidArgument, "usage: "+cmd.UseLine(), err)
		}
		return nil
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MaximumNArgs(n)(cmd, args); err != nil {
			return errs.Wrap(errs.InvalidArgument, "usage: "+cmd.UseLine(), err)
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return errs.Wrap(errs.InvalidArgument, "usage: "+cmd.UseLine(), err)
		}
		return nil
	}
}
