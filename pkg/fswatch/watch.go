// Package fswatch watches the local tree and batches the changes, so that
// they can be uploaded shortly after they're saved.
package fswatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/ignore"
)

var fs = afero.NewOsFs()

// DefaultDebounce is how long the tree must be quiet before a batch of
// changes is handled.
const DefaultDebounce = 500 * time.Millisecond

// Change is a file that was written or removed.
type Change struct {
	// Path is slash separated and relative to the watched root.
	Path    string
	Removed bool
}

// Options configure a Watcher.
type Options struct {
	// Filter excludes paths from being watched or reported.
	Filter *ignore.Filter

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Clock defaults to the real clock.
	Clock clockwork.Clock

	Log log.FieldLogger
}

// Watcher reports changes under a root directory.
type Watcher struct {
	root     string
	filter   *ignore.Filter
	debounce time.Duration
	clock    clockwork.Clock
	log      log.FieldLogger

	// add starts watching a directory.
	add func(string) error

	fsw *fsnotify.Watcher
}

// New starts watching every directory under root that isn't ignored.
// fsnotify doesn't watch recursively, so directories created later are
// added as their events arrive.
func New(root string, opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	w := newWatcher(root, opts)
	w.fsw = fsw
	w.add = fsw.Add

	dirs, err := w.dirsToWatch(root)
	if err != nil {
		fsw.Close()
		return nil, errors.WithContext(err, "get paths")
	}

	for _, dir := range dirs {
		if err := w.add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := fsw.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			if strings.Contains(err.Error(), "too many open files") {
				return nil, errors.NewFriendlyError("Too many directories to watch for changes.\n"+
					"Raise the file watching limit (fs.inotify.max_user_watches on Linux), "+
					"or ignore large directories such as node_modules.")
			}
			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}
	return w, nil
}

func newWatcher(root string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Log == nil {
		opts.Log = log.StandardLogger()
	}
	return &Watcher{
		root:     filepath.Clean(root),
		filter:   opts.Filter,
		debounce: opts.Debounce,
		clock:    opts.Clock,
		log:      opts.Log,
		add:      func(string) error { return nil },
	}
}

// Run calls handle with every batch of changes until ctx is cancelled.
// Changes that arrive while handle runs are part of the next batch.
func (w *Watcher) Run(ctx context.Context, handle func(context.Context, []Change)) error {
	defer w.fsw.Close()
	return w.loop(ctx, w.fsw.Events, w.fsw.Errors, handle)
}

func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event,
	errs <-chan error, handle func(context.Context, []Change)) error {

	pending := map[string]Change{}
	var timer clockwork.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.WithError(err).Warn("File watcher error")

		case event, ok := <-events:
			if !ok {
				return errors.New("file watcher closed")
			}

			changes := w.changesFor(event)
			if len(changes) == 0 {
				continue
			}
			for _, change := range changes {
				pending[change.Path] = change
			}

			if timer == nil {
				timer = w.clock.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.Chan()

		case <-fire:
			fire = nil
			timer = nil

			batch := make([]Change, 0, len(pending))
			for _, change := range pending {
				batch = append(batch, change)
			}
			sort.Slice(batch, func(i, j int) bool {
				return batch[i].Path < batch[j].Path
			})
			pending = map[string]Change{}

			handle(ctx, batch)
		}
	}
}

// changesFor converts an event into the changes it implies. A new directory
// is watched, and all the files already in it are reported, since they may
// have been moved in before the watch started.
func (w *Watcher) changesFor(event fsnotify.Event) []Change {
	rel, ok := w.relative(event.Name)
	if !ok || w.filter.Match(rel) {
		return nil
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return []Change{{Path: rel, Removed: true}}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return nil
	}

	fi, err := fs.Stat(event.Name)
	if err != nil {
		if os.IsNotExist(err) {
			return []Change{{Path: rel, Removed: true}}
		}
		w.log.WithError(err).WithField("path", rel).Debug("Failed to stat changed file")
		return nil
	}

	if !fi.IsDir() {
		return []Change{{Path: rel}}
	}

	if !event.Has(fsnotify.Create) {
		return nil
	}

	dirs, err := w.dirsToWatch(event.Name)
	if err != nil {
		w.log.WithError(err).WithField("path", rel).Warn("Failed to watch new directory")
		return nil
	}
	for _, dir := range dirs {
		if err := w.add(dir); err != nil {
			w.log.WithError(err).WithField("path", dir).Warn("Failed to watch new directory")
		}
	}

	files, err := w.filesIn(event.Name)
	if err != nil {
		w.log.WithError(err).WithField("path", rel).Warn("Failed to list new directory")
	}
	return files
}

func (w *Watcher) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// dirsToWatch returns dir and every directory below it that isn't ignored.
func (w *Watcher) dirsToWatch(dir string) (paths []string, err error) {
	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return errors.FileNotFound{Path: path}
			}
			return errors.WithContext(err, "walk error")
		}

		if !fi.IsDir() {
			return nil
		}

		if rel, ok := w.relative(path); ok && w.filter.Match(rel) {
			return filepath.SkipDir
		}

		paths = append(paths, path)
		return nil
	})
	return paths, err
}

// filesIn returns a change for every file below dir that isn't ignored.
func (w *Watcher) filesIn(dir string) (changes []Change, err error) {
	err = afero.Walk(fs, dir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		rel, ok := w.relative(path)
		if !ok {
			return nil
		}
		if w.filter.Match(rel) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !fi.IsDir() {
			changes = append(changes, Change{Path: rel})
		}
		return nil
	})
	return changes, err
}
