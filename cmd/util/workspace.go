package util

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/remotesync/pkg/app"
	"github.com/sidkik/remotesync/pkg/errors"
)

// Mocked for unit testing.
var getWorkingDirectory = os.Getwd

// WorkspaceFlags are shared by every command that operates on a workspace.
type WorkspaceFlags struct {
	Workspace string
	Profile   string
}

// Register adds the flags to cmd.
func (f *WorkspaceFlags) Register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Workspace, "workspace", "w", "",
		"The directory containing .remotesync.json. Defaults to the working directory.")
	cmd.Flags().StringVarP(&f.Profile, "profile", "p", "",
		"The profile to use. Defaults to the profile in ~/.remotesync.yaml, "+
			"or the first profile in the config.")
}

// GetWorkspace returns the absolute path of the workspace.
func (f WorkspaceFlags) GetWorkspace() (string, error) {
	if f.Workspace == "" {
		wd, err := getWorkingDirectory()
		if err != nil {
			return "", errors.WithContext(err, "get working directory")
		}
		return wd, nil
	}

	abs, err := filepath.Abs(f.Workspace)
	if err != nil {
		return "", errors.WithContext(err, "resolve workspace")
	}
	return abs, nil
}

// Load creates the app context for the selected workspace and profile.
func (f WorkspaceFlags) Load() (*app.Context, error) {
	workspace, err := f.GetWorkspace()
	if err != nil {
		return nil, err
	}
	return app.Load(workspace, f.Profile, log.StandardLogger())
}

// SignalContext returns a context that's cancelled when the process is
// interrupted.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
