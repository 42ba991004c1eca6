package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	logs "github.com/danmuck/steploop/internal/logging"
)

func newRootCommand(out io.Writer) *cobra.Command {
	var flags runFlags
	root := &cobra.Command{
		Use:   "steploop",
		Short: "Stress a debug adapter with a long stepping session",
		Long: `steploop drives a debug adapter (gdb --interpreter=dap by default) through
initialize, breakpoints, launch and a first stop, then issues step requests
in a tight loop while watching adapter memory, stop duplication and latency.

Without --program a small C++ loop is compiled into a temp dir and used as
the debuggee. The run ends with a one-line summary on stdout; the process
exits 0 on success and 2 on any error.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Flags(), &flags)
			if err != nil {
				return err
			}
			if flags.printConfig {
				return printConfig(out, cfg)
			}
			logs.SetVerbose(cfg.Verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			_, err = runHarness(ctx, cfg, out)
			return err
		},
	}
	bindRunFlags(root.Flags(), &flags)
	root.AddCommand(newConfigCommand(out))
	return root
}
