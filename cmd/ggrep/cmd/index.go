package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newIndexCmd is a deprecated alias for `sync`, kept for scripts still
// invoking the old verb. It carries none of the old pipeline's checkpoint
// or resume semantics: every sync is one atomic snapshot publish or a
// no-op, so there is nothing partial to resume from.
func newIndexCmd() *cobra.Command {
	var (
		offline       bool
		force         bool
		allowDegraded bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Alias for 'sync': detect changes and publish a new snapshot",
		Long: `Deprecated alias for 'ggrep sync'. Scans the directory, chunks and
embeds changed content, and publishes the result as one new immutable
snapshot generation.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runSync(ctx, path, offline, force, false, allowDegraded)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the deterministic static embedder instead of a live model")
	cmd.Flags().BoolVar(&force, "force", false, "Steal the writer lease if it is held but stale")
	cmd.Flags().BoolVar(&allowDegraded, "allow-degraded", false, "Publish past per-file indexing failures, recording them in the manifest")

	cmd.AddCommand(newIndexInfoCmd())

	return cmd
}
