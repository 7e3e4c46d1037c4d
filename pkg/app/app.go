// Package app ties together the state shared by a single CLI invocation:
// the selected profile, the remote connections, and the event bus.
package app

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/fs/remote"
	"github.com/sidkik/remotesync/pkg/ignore"
	"github.com/sidkik/remotesync/pkg/notify"
	"github.com/sidkik/remotesync/pkg/sync"
)

// Options configure New.
type Options struct {
	Workspace string
	User      config.User
	Profile   config.Profile

	// Local defaults to the local disk.
	Local *fs.Afero

	// Dial defaults to remote.Dial.
	Dial remote.Dialer

	Log log.FieldLogger
}

// Context is created once per command, and torn down with Close.
type Context struct {
	Workspace string
	User      config.User
	Profile   config.Profile
	Filter    *ignore.Filter

	Local   *fs.Afero
	Remotes *remote.Cache
	Bus     *notify.Bus
	State   *State
	Log     log.FieldLogger

	unsubscribe func()
}

// Load reads the user settings and the workspace config, and creates a
// Context for the named profile. If name is empty, the user's default
// profile is used, or the first profile in the config.
func Load(workspace, name string, logger log.FieldLogger) (*Context, error) {
	user, err := config.ParseUser()
	if err != nil {
		return nil, errors.WithContext(err, "parse user settings")
	}

	profiles, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = user.Profile
	}
	profile, err := config.Select(profiles, name)
	if err != nil {
		return nil, err
	}

	return New(Options{
		Workspace: workspace,
		User:      user,
		Profile:   profile,
		Log:       logger,
	})
}

// New creates a Context from already loaded configuration.
func New(opts Options) (*Context, error) {
	if opts.Local == nil {
		opts.Local = fs.NewLocal()
	}
	if opts.Dial == nil {
		opts.Dial = remote.Dial
	}
	if opts.Log == nil {
		opts.Log = log.StandardLogger()
	}
	logger := opts.Log.WithField("profile", opts.Profile.Name)

	filter, errs := ignore.Compile(opts.Profile.Ignore)
	for _, err := range errs {
		logger.WithError(err).Warn("Ignoring invalid ignore pattern")
	}

	if opts.Profile.IgnoreFile != "" {
		ignoreFile := opts.Profile.IgnoreFile
		if !filepath.IsAbs(ignoreFile) {
			ignoreFile = filepath.Join(opts.Workspace, ignoreFile)
		}

		var err error
		filter, err = filter.WithGitignore(opts.Local.Fs(), ignoreFile)
		if err != nil {
			return nil, errors.WithContext(err, "read ignore file")
		}
	}

	remotes, err := remote.NewCache(remote.DefaultCacheSize, opts.Dial)
	if err != nil {
		return nil, err
	}

	c := &Context{
		Workspace: opts.Workspace,
		User:      opts.User,
		Profile:   opts.Profile,
		Filter:    filter,
		Local:     opts.Local,
		Remotes:   remotes,
		Bus:       &notify.Bus{},
		State:     &State{},
		Log:       logger,
	}
	c.State.SetProfile(opts.Profile.Name)
	c.unsubscribe = c.Bus.Subscribe(c.updateStatus)
	return c, nil
}

func (c *Context) updateStatus(e notify.Event) {
	switch e := e.(type) {
	case notify.RunCompleted:
		c.State.SetText(fmt.Sprintf("%s finished: %d succeeded, %d failed",
			e.Mode, e.Result.Succeeded, len(e.Result.Failed)))
	case notify.WatchListChanged:
		c.State.SetText(fmt.Sprintf("Watching %d patterns", len(e.Files)))
	}
}

// Remote returns the connection for the active profile.
func (c *Context) Remote(ctx context.Context) (remote.FileSystem, error) {
	return c.Remotes.Get(ctx, c.Profile)
}

// Endpoints returns the local and remote roots of the active profile.
func (c *Context) Endpoints(ctx context.Context) (sync.Endpoints, error) {
	conn, err := c.Remote(ctx)
	if err != nil {
		return sync.Endpoints{}, err
	}

	return sync.Endpoints{
		Local:      c.Local,
		LocalPath:  filepath.ToSlash(c.Profile.LocalRoot(c.Workspace)),
		Remote:     conn,
		RemotePath: path.Clean(filepath.ToSlash(c.Profile.RemotePath)),
	}, nil
}

// Orchestrator returns an orchestrator configured for the active profile.
func (c *Context) Orchestrator() sync.Orchestrator {
	return sync.Orchestrator{
		Concurrency: c.Profile.Concurrency,
		Log:         c.Log,
		Bus:         c.Bus,
	}
}

// Options returns the run options for mode.
func (c *Context) Options(mode sync.Mode) sync.Options {
	return sync.Options{
		Policy: sync.PolicyFor(mode, c.Profile),
		Filter: c.Filter,
	}
}

// Close releases every remote connection.
func (c *Context) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	return c.Remotes.Close()
}
