package upload

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sidkik/remotesync/cmd/util"
	"github.com/sidkik/remotesync/pkg/sync"
)

// New creates a new `upload` command.
func New() *cobra.Command {
	var flags util.WorkspaceFlags
	var opts util.RunOptions
	cmd := &cobra.Command{
		Use:   "upload [path]",
		Short: "Upload local files to the remote",
		Long: `Upload copies the local files of the profile to the remote. Files that
exist on both sides are overwritten, and nothing is deleted.

If a path is given, only that file or folder is uploaded.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if len(args) == 1 {
				opts.Path = args[0]
			}
			opts.Mode = sync.ModeUpload
			if err := run(flags, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	flags.Register(cmd)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false,
		"Print what would be uploaded without changing anything.")
	cmd.Flags().BoolVar(&opts.SkipExisting, "skip-existing", false,
		"Don't overwrite files that already exist on the remote.")
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
