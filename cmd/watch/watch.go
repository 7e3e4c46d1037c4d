package watch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/remotesync/cmd/util"
	"github.com/sidkik/remotesync/pkg/app"
	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/fswatch"
	"github.com/sidkik/remotesync/pkg/transfer"
	"github.com/sidkik/remotesync/pkg/watchlist"
)

// Mocked for unit testing.
var (
	stdout              io.Writer = os.Stdout
	getWorkingDirectory           = os.Getwd
)

// New creates a new `watch` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the watch list, and upload changes as they happen",
	}
	cmd.AddCommand(newEditCommand("add", "Add files or folders to the watch list",
		(*watchlist.List).Add))
	cmd.AddCommand(newEditCommand("remove", "Remove files or folders from the watch list",
		(*watchlist.List).Remove))
	cmd.AddCommand(newListCommand(), newRunCommand())
	return cmd
}

type editFn func(*watchlist.List, ...string) ([]string, error)

func newEditCommand(use, short string, edit editFn) *cobra.Command {
	var flags util.WorkspaceFlags
	var folder bool
	cmd := &cobra.Command{
		Use:   use + " path...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			if err := editList(flags, folder, args, edit); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&flags.Workspace, "workspace", "w", "",
		"The directory containing .remotesync.json. Defaults to the working directory.")
	cmd.Flags().BoolVar(&folder, "folder", false,
		"Treat the paths as folders, and match everything inside them.")
	return cmd
}

func editList(flags util.WorkspaceFlags, folder bool, paths []string, edit editFn) error {
	workspace, err := flags.GetWorkspace()
	if err != nil {
		return err
	}

	wd, err := getWorkingDirectory()
	if err != nil {
		return errors.WithContext(err, "get working directory")
	}

	var patterns []string
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(p) {
			abs = filepath.Join(wd, p)
			if strings.HasSuffix(p, "/") {
				abs += "/"
			}
		}

		pattern, err := watchlist.Pattern(workspace, abs, folder)
		if err != nil {
			return err
		}
		patterns = append(patterns, pattern)
	}

	files, err := edit(watchlist.New(workspace, nil), patterns...)
	if err != nil {
		return errors.WithContext(err, "update watch list")
	}
	printList(files)
	return nil
}

func newListCommand() *cobra.Command {
	var flags util.WorkspaceFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the watch list",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			workspace, err := flags.GetWorkspace()
			if err != nil {
				util.HandleFatalError(err)
			}

			files, err := watchlist.New(workspace, nil).Files()
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "read watch list"))
			}
			printList(files)
		},
	}
	cmd.Flags().StringVarP(&flags.Workspace, "workspace", "w", "",
		"The directory containing .remotesync.json. Defaults to the working directory.")
	return cmd
}

func printList(files []string) {
	if len(files) == 0 {
		fmt.Fprintln(stdout, "The watch list is empty.")
		return
	}
	for _, file := range files {
		fmt.Fprintln(stdout, file)
	}
}

func newRunCommand() *cobra.Command {
	var flags util.WorkspaceFlags
	var logFile, metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the local tree and upload changes as they happen",
		Long: `Run watches the local tree of the profile. Changed files are uploaded if
uploadOnSave is set, or if they're on the watch list and watcher.autoUpload
is set. Removed files on the watch list are deleted from the remote if
watcher.autoDelete is set.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			if err := runWatch(flags, logFile, metricsAddr); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	flags.Register(cmd)
	cmd.Flags().StringVar(&logFile, "log-file", "",
		"Write logs to this file instead of stderr. Defaults to logFile in ~/.remotesync.yaml.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"Serve prometheus metrics on this address, such as :9090.")
	return cmd
}

func runWatch(flags util.WorkspaceFlags, logFile, metricsAddr string) error {
	c, err := flags.Load()
	if err != nil {
		return err
	}
	defer c.Close()

	if logFile == "" {
		logFile = c.User.LogFile
	}
	defer util.SetupLogging(logFile).Close()

	if metricsAddr == "" {
		metricsAddr = c.User.MetricsAddr
	}
	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	d := newDaemon(c)
	if !d.enabled() {
		return errors.NewFriendlyError("Nothing to watch for profile %q.\n"+
			"Set uploadOnSave, watcher.autoUpload or watcher.autoDelete in %s.",
			c.Profile.Name, config.Path(c.Workspace))
	}

	ctx, cancel := util.SignalContext()
	defer cancel()

	localRoot := c.Profile.LocalRoot(c.Workspace)
	watcher, err := fswatch.New(localRoot, fswatch.Options{Filter: c.Filter, Log: c.Log})
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewFriendlyError("The local directory %q doesn't exist.", localRoot)
		}
		return errors.WithContext(err, "watch files")
	}

	c.Log.WithField("root", localRoot).Info("Watching for changes")
	if err := watcher.Run(ctx, d.handle); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", transfer.MetricsHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).WithField("addr", addr).Error("Metrics server stopped")
	}
}

// daemon uploads batches of changes for a profile.
type daemon struct {
	c    *app.Context
	list *watchlist.List

	// patterns is the last successfully read watch list.
	patterns fswatch.Patterns
}

func newDaemon(c *app.Context) *daemon {
	d := &daemon{c: c, list: watchlist.New(c.Workspace, c.Bus)}
	if err := d.setPatterns(c.Profile.Watcher.Files); err != nil {
		c.Log.WithError(err).Warn("Invalid watch list")
	}
	return d
}

// setPatterns compiles the watch list. The list is relative to the
// workspace, while changes are relative to the profile's local root, so
// patterns outside the local root are dropped.
func (d *daemon) setPatterns(files []string) error {
	prefix, err := filepath.Rel(d.c.Workspace, d.c.Profile.LocalRoot(d.c.Workspace))
	if err != nil {
		return errors.WithContext(err, "get local root")
	}

	patterns, err := fswatch.CompilePatterns(rebase(files, filepath.ToSlash(prefix)))
	if err != nil {
		return err
	}
	d.patterns = patterns
	return nil
}

func rebase(files []string, prefix string) []string {
	if prefix == "." {
		return files
	}

	var rebased []string
	for _, file := range files {
		file = strings.TrimPrefix(file, "./")
		if strings.HasPrefix(file, prefix+"/") {
			rebased = append(rebased, strings.TrimPrefix(file, prefix+"/"))
		}
	}
	return rebased
}

func (d *daemon) enabled() bool {
	return d.autoSync(nil).Enabled()
}

func (d *daemon) handle(ctx context.Context, changes []fswatch.Change) {
	// The watch list may have been edited by `remotesync watch add` since
	// the last batch.
	files, err := d.list.Files()
	if err == nil {
		err = d.setPatterns(files)
	}
	if err != nil {
		d.c.Log.WithError(err).Warn("Failed to reload watch list")
	}

	conn, err := d.c.Remote(ctx)
	if err != nil {
		d.c.Log.WithError(err).Error("Failed to connect to remote")
		return
	}

	result := d.autoSync(conn).Handle(ctx, changes)
	if len(result.Failed) != 0 {
		// The connection may have broken, so redial for the next batch.
		d.c.Remotes.Forget(d.c.Profile)
	}
	if result.Total() != 0 {
		fmt.Fprintln(stdout, d.c.State.Get().Text)
	}
}

func (d *daemon) autoSync(conn fs.FileSystem) fswatch.AutoSync {
	return fswatch.AutoSync{
		Local:      d.c.Local,
		LocalRoot:  filepath.ToSlash(d.c.Profile.LocalRoot(d.c.Workspace)),
		Remote:     conn,
		RemoteRoot: path.Clean(filepath.ToSlash(d.c.Profile.RemotePath)),
		Profile:    d.c.Profile,
		Patterns:   d.patterns,
		Bus:        d.c.Bus,
		Log:        d.c.Log,
	}
}
