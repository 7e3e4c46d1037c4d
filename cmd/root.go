package cmd

import (
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/remotesync/cmd/config"
	"github.com/sidkik/remotesync/cmd/download"
	syncCmd "github.com/sidkik/remotesync/cmd/sync"
	"github.com/sidkik/remotesync/cmd/upload"
	"github.com/sidkik/remotesync/cmd/util"
	"github.com/sidkik/remotesync/cmd/version"
	"github.com/sidkik/remotesync/cmd/watch"
)

// Execute runs the main CLI process.
func Execute() {
	util.SetupLogging("")

	if err := New().Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

// New creates the root command with every subcommand attached.
func New() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "remotesync",
		Short:        "Synchronize a local directory with a remote server",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		configCmd.New(),
		download.New(),
		syncCmd.New(),
		upload.New(),
		version.New(),
		watch.New(),
	)
	return rootCmd
}
