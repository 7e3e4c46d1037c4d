package download

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/remotesync/cmd/util"
	"github.com/sidkik/remotesync/pkg/sync"
)

// New creates a new `download` command.
func New() *cobra.Command {
	var flags util.WorkspaceFlags
	var opts util.RunOptions
	cmd := &cobra.Command{
		Use:   "download [path]",
		Short: "Download remote files to the local disk",
		Long: `Download copies the remote files of the profile to the local disk. Files
that exist on both sides are overwritten, nothing is deleted, and local
permission bits are left alone.

If a path is given, only that file or folder is downloaded.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if len(args) == 1 {
				opts.Path = args[0]
			}
			opts.Mode = sync.ModeDownload
			if err := run(flags, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	flags.Register(cmd)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false,
		"Print what would be downloaded without changing anything.")
	cmd.Flags().BoolVar(&opts.SkipExisting, "skip-existing", false,
		"Don't overwrite files that already exist locally.")
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
