package fswatch

import (
	"context"
	"path"
	"strings"

	"github.com/gobwas/glob"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
	rfs "github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/notify"
	"github.com/sidkik/remotesync/pkg/transfer"
)

// AutoSyncMode is the mode reported in the RunCompleted events of AutoSync.
const AutoSyncMode = "auto-sync"

// Patterns matches paths against the watch list.
type Patterns struct {
	globs []glob.Glob
}

// CompilePatterns parses a watch list. A `**` segment also matches zero
// directories, so `src/**/*` matches `src/main.go`.
func CompilePatterns(patterns []string) (Patterns, error) {
	var p Patterns
	for _, raw := range patterns {
		raw = strings.TrimPrefix(raw, "./")
		variants := []string{raw}
		if strings.HasPrefix(raw, "**/") {
			variants = append(variants, strings.TrimPrefix(raw, "**/"))
		}
		if strings.Contains(raw, "/**/") {
			variants = append(variants, strings.Replace(raw, "/**/", "/", -1))
		}

		for _, variant := range variants {
			g, err := glob.Compile(variant, '/')
			if err != nil {
				return Patterns{}, errors.WithContext(err, "compile watch pattern "+raw)
			}
			p.globs = append(p.globs, g)
		}
	}
	return p, nil
}

// Match returns whether the relative path is on the watch list.
func (p Patterns) Match(rel string) bool {
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// AutoSync mirrors local changes to the remote according to the profile's
// watcher settings:
//   - uploadOnSave uploads every changed file.
//   - watcher.autoUpload uploads changed files on the watch list.
//   - watcher.autoDelete deletes removed files on the watch list.
type AutoSync struct {
	Local      rfs.FileSystem
	LocalRoot  string
	Remote     rfs.FileSystem
	RemoteRoot string

	Profile  config.Profile
	Patterns Patterns

	Bus *notify.Bus
	Log log.FieldLogger
}

// Enabled returns whether the profile asks for any automatic transfers.
func (a AutoSync) Enabled() bool {
	return a.Profile.UploadOnSave || a.Profile.Watcher.AutoUpload || a.Profile.Watcher.AutoDelete
}

// Tasks converts a batch of changes into the transfers they require.
func (a AutoSync) Tasks(ctx context.Context, changes []Change) []transfer.Task {
	var tasks []transfer.Task
	for _, change := range changes {
		watched := a.Patterns.Match(change.Path)
		target := path.Join(a.RemoteRoot, change.Path)

		if change.Removed {
			if a.Profile.Watcher.AutoDelete && watched {
				tasks = append(tasks, transfer.Task{
					Kind:       transfer.Delete,
					TargetPath: target,
					Recursive:  true,
				})
			}
			continue
		}

		if !a.Profile.UploadOnSave && !(a.Profile.Watcher.AutoUpload && watched) {
			continue
		}

		source := path.Join(a.LocalRoot, change.Path)
		entry, err := a.Local.Stat(ctx, source)
		if err != nil {
			// The file was most likely removed again before the batch was
			// handled.
			a.logger().WithError(err).WithField("path", change.Path).Debug("Skipping changed file")
			continue
		}
		if entry.IsDir() {
			continue
		}

		task := transfer.Task{
			Kind:       transfer.Upload,
			SourcePath: source,
			TargetPath: target,
			SizeHint:   entry.Size,
			EnsureDirs: parents(a.RemoteRoot, change.Path),
		}
		if a.Profile.Protocol == config.ProtocolSFTP && entry.HasMode {
			task.Mode = entry.Mode
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// Handle transfers a batch of changes.
func (a AutoSync) Handle(ctx context.Context, changes []Change) transfer.BatchResult {
	tasks := a.Tasks(ctx, changes)
	if len(tasks) == 0 {
		return transfer.BatchResult{}
	}

	sched := transfer.New(a.Local, a.Remote, transfer.Options{
		Concurrency: a.Profile.Concurrency,
		Log:         a.logger(),
	})
	sched.Add(tasks...)
	result := sched.Run(ctx)

	for _, failure := range result.Failed {
		a.logger().WithError(failure.Err).WithField("task", failure.Task.String()).Warn("Transfer failed")
	}
	a.logger().WithField("succeeded", result.Succeeded).
		WithField("failed", len(result.Failed)).
		Info("Synced local changes")

	if a.Bus != nil {
		a.Bus.Publish(notify.RunCompleted{Mode: AutoSyncMode, RunID: result.RunID, Result: result})
	}
	return result
}

func (a AutoSync) logger() log.FieldLogger {
	if a.Log == nil {
		return log.StandardLogger()
	}
	return a.Log
}

// parents returns root and the directories between it and rel's parent, top
// down.
func parents(root, rel string) []string {
	var dirs []string
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		dirs = append([]string{path.Join(root, dir)}, dirs...)
	}
	if root != "." && root != "/" {
		dirs = append([]string{root}, dirs...)
	}
	return dirs
}
