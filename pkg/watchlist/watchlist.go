// Package watchlist edits the list of watched paths stored in the workspace
// config.
//
// Edits are read-modify-write cycles on a file that the user, or another
// remotesync process, may change at the same time. A List serializes its own
// edits, and only replaces the file if it's unchanged since it was read.
// Otherwise the edit is retried against the new contents.
package watchlist

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"path/filepath"
	"strings"
	goSync "sync"

	"github.com/ghodss/yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/notify"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// maxAttempts bounds how many times an edit is retried after a concurrent
// modification.
const maxAttempts = 5

// folderSuffix is appended to a folder to watch everything inside it.
const folderSuffix = "/**/*"

// List is the watch list of the first profile in a workspace config.
type List struct {
	workspace string
	bus       *notify.Bus

	lock goSync.Mutex

	// beforeWrite is called between computing an edit and checking whether
	// the file changed. It's only set in tests.
	beforeWrite func()
}

// New returns the watch list of the config in workspace. If bus is non-nil,
// it receives a WatchListChanged event after every edit.
func New(workspace string, bus *notify.Bus) *List {
	return &List{workspace: workspace, bus: bus}
}

// Pattern converts a path into a watch pattern relative to the workspace.
// Folders, or paths ending in a slash, watch everything below them.
func Pattern(workspace, path string, folder bool) (string, error) {
	folder = folder || strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator))

	rel := path
	if filepath.IsAbs(path) {
		var err error
		rel, err = filepath.Rel(workspace, path)
		if err != nil {
			return "", errors.WithContext(err, "make relative")
		}
	}

	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", errors.NewFriendlyError("%q is outside of the workspace %q.", path, workspace)
	}

	if !folder {
		return rel, nil
	}
	if rel == "." {
		return "**/*", nil
	}
	return rel + folderSuffix, nil
}

// Files returns the current watch list.
func (l *List) Files() ([]string, error) {
	contents, err := afero.ReadFile(fs, config.Path(l.workspace))
	if err != nil {
		return nil, errors.WithContext(err, "read config")
	}

	doc, err := decode(contents)
	if err != nil {
		return nil, err
	}

	_, files, err := watcherFiles(doc)
	return files, err
}

// Add appends patterns that aren't already watched, and returns the new
// list.
func (l *List) Add(patterns ...string) ([]string, error) {
	return l.edit(func(files []string) []string {
		for _, pattern := range patterns {
			if !contains(files, pattern) {
				files = append(files, pattern)
			}
		}
		return files
	})
}

// Remove drops patterns from the watch list, and returns the new list.
func (l *List) Remove(patterns ...string) ([]string, error) {
	return l.edit(func(files []string) []string {
		var kept []string
		for _, file := range files {
			if !contains(patterns, file) {
				kept = append(kept, file)
			}
		}
		return kept
	})
}

func (l *List) edit(update func([]string) []string) ([]string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	path := config.Path(l.workspace)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		original, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, errors.WithContext(err, "read config")
		}

		doc, err := decode(original)
		if err != nil {
			return nil, err
		}

		watcher, files, err := watcherFiles(doc)
		if err != nil {
			return nil, err
		}

		updated := update(append([]string(nil), files...))
		if equal(files, updated) {
			return files, nil
		}

		if updated == nil {
			updated = []string{}
		}
		watcher["files"] = updated

		contents, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, errors.WithContext(err, "marshal config")
		}

		if l.beforeWrite != nil {
			l.beforeWrite()
		}

		written, err := writeIfUnchanged(path, sha256.Sum256(original), append(contents, '\n'))
		if err != nil {
			return nil, err
		}
		if !written {
			log.WithField("attempt", attempt).Debug("Config changed during watch list edit. Retrying.")
			continue
		}

		if l.bus != nil {
			l.bus.Publish(notify.WatchListChanged{Files: updated})
		}
		return updated, nil
	}
	return nil, errors.NewFriendlyError("The config file %q kept changing while "+
		"the watch list was being updated. Please try again.", path)
}

// writeIfUnchanged replaces the file at path with contents, unless its
// digest no longer matches expDigest.
func writeIfUnchanged(path string, expDigest [sha256.Size]byte, contents []byte) (bool, error) {
	current, err := afero.ReadFile(fs, path)
	if err != nil {
		return false, errors.WithContext(err, "read config")
	}
	if sha256.Sum256(current) != expDigest {
		return false, nil
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(path), ".remotesync-*.json")
	if err != nil {
		return false, errors.WithContext(err, "create temp file")
	}

	_, err = tmp.Write(contents)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = fs.Rename(tmp.Name(), path)
	}
	if err != nil {
		fs.Remove(tmp.Name())
		return false, errors.WithContext(err, "write config")
	}
	return true, nil
}

// decode parses the config without applying a schema, so that fields this
// package doesn't know about survive the rewrite.
func decode(contents []byte) (interface{}, error) {
	var doc interface{}
	if err := yaml.Unmarshal(bytes.TrimSpace(contents), &doc); err != nil {
		return nil, errors.WithContext(err, "parse config")
	}
	return doc, nil
}

// watcherFiles finds the watcher section of the first profile. The section
// is created if it doesn't exist yet.
func watcherFiles(doc interface{}) (map[string]interface{}, []string, error) {
	profile, ok := doc.(map[string]interface{})
	if list, isList := doc.([]interface{}); isList && len(list) > 0 {
		profile, ok = list[0].(map[string]interface{})
	}
	if !ok {
		return nil, nil, errors.ConfigInvalid{Field: "profiles", Reason: "expected an object"}
	}

	watcher, ok := profile["watcher"].(map[string]interface{})
	if !ok {
		if profile["watcher"] != nil {
			return nil, nil, errors.ConfigInvalid{Field: "watcher", Reason: "expected an object"}
		}
		watcher = map[string]interface{}{}
		profile["watcher"] = watcher
	}

	var files []string
	switch raw := watcher["files"].(type) {
	case nil:
	case string:
		files = []string{raw}
	case []interface{}:
		for _, item := range raw {
			file, ok := item.(string)
			if !ok {
				return nil, nil, errors.ConfigInvalid{Field: "watcher.files", Reason: "expected strings"}
			}
			files = append(files, file)
		}
	default:
		return nil, nil, errors.ConfigInvalid{Field: "watcher.files",
			Reason: "expected a string or a list of strings"}
	}
	return watcher, files, nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
