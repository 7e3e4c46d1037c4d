package sync

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/remotesync/cmd/util"
	"github.com/sidkik/remotesync/pkg/sync"
)

// New creates a new `sync` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local and remote trees",
		Long: `Sync makes one side match the other, honouring the syncOption settings
of the profile: delete removes extraneous files, skipCreate only updates
existing files, ignoreExisting only creates missing files, and update only
overwrites files that are older than their source.`,
	}

	type direction struct {
		use, short string
		mode       sync.Mode
	}
	directions := []direction{
		{
			use:   "remote",
			short: "Make the remote match the local tree",
			mode:  sync.ModeSyncToRemote,
		},
		{
			use:   "local",
			short: "Make the local tree match the remote",
			mode:  sync.ModeSyncToLocal,
		},
	}

	for _, direction := range directions {
		direction := direction

		var flags util.WorkspaceFlags
		var dryRun bool
		subCmd := &cobra.Command{
			Use:   direction.use,
			Short: direction.short,
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				opts := util.RunOptions{Mode: direction.mode, DryRun: dryRun}
				if err := run(flags, opts); err != nil {
					util.HandleFatalError(err)
				}
			},
		}
		flags.Register(subCmd)
		subCmd.Flags().BoolVar(&dryRun, "dry-run", false,
			"Print the changes without making them.")
		cmd.AddCommand(subCmd)
	}
	return cmd
}

func run(flags util.WorkspaceFlags, opts util.RunOptions) error {
	c, err := flags.Load()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := util.SignalContext()
	defer cancel()
	return util.Run(ctx, c, opts, os.Stdout)
}
