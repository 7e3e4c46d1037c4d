package sync

import (
	"context"
	"fmt"
	"path"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/ignore"
)

// Differ compares a source tree with a target tree.
type Differ struct {
	Source     fs.FileSystem
	SourceRoot string
	Target     fs.FileSystem
	TargetRoot string

	Policy Policy

	// Filter decides which relative paths are ignored. If nil, it's compiled
	// from Policy.IgnorePatterns.
	Filter *ignore.Filter

	Log log.FieldLogger
}

// maxLinkedDirs bounds how many symlinked directories are followed below one
// another, so that a link to an ancestor doesn't recurse forever.
const maxLinkedDirs = 8

// walker holds the state of a single Diff.
type walker struct {
	Differ
	plan    Plan
	deletes []Decision

	// linkedDirs is the number of symlinked directories above the directory
	// being walked.
	linkedDirs int
}

// Diff walks the trees and returns a Decision for every visited path.
// It only fails if one of the roots can't be examined. Failures to list
// directories below the roots are reported in the Plan.
func (d Differ) Diff(ctx context.Context) (Plan, error) {
	if d.Filter == nil {
		var errs []error
		d.Filter, errs = ignore.Compile(d.Policy.IgnorePatterns)
		for _, err := range errs {
			d.logger().WithError(err).Warn("Ignoring invalid ignore pattern")
		}
	}

	srcRoot, err := d.Source.Stat(ctx, d.SourceRoot)
	if err != nil {
		return Plan{}, errors.WithContext(err, "stat source")
	}

	tgtRoot, err := d.Target.Stat(ctx, d.TargetRoot)
	tgtExists := err == nil
	if err != nil && !errors.IsNotFound(err) {
		return Plan{}, errors.WithContext(err, "stat target")
	}

	w := &walker{Differ: d}
	if !srcRoot.IsDir() {
		if err := w.diffFileRoot(ctx, srcRoot, tgtRoot, tgtExists); err != nil {
			return Plan{}, err
		}
		return w.plan, nil
	}

	var ensure []string
	if tgtExists {
		if !tgtRoot.IsDir() {
			return Plan{}, errors.IOError{Op: "sync", Path: d.TargetRoot,
				Err: errors.New("target is not a directory")}
		}
	} else {
		ensure, err = w.missingDirs(ctx, d.TargetRoot)
		if err != nil {
			return Plan{}, err
		}
	}

	w.walkDir(ctx, ".", d.SourceRoot, d.TargetRoot, tgtExists, ensure)
	w.plan.Decisions = append(w.plan.Decisions, w.deletes...)
	return w.plan, nil
}

func (d Differ) logger() log.FieldLogger {
	if d.Log == nil {
		return log.StandardLogger()
	}
	return d.Log
}

// diffFileRoot handles a run whose source is a single file.
func (w *walker) diffFileRoot(ctx context.Context, src, tgt fs.FileEntry, tgtExists bool) error {
	rel := path.Base(w.SourceRoot)
	if w.Filter.Match(rel) {
		w.decide(Decision{Action: Skip, RelativePath: rel, Source: &src,
			TargetPath: w.TargetRoot, Reason: ReasonIgnored})
		return nil
	}

	if tgtExists {
		w.decideExisting(rel, src, tgt, w.TargetRoot)
		return nil
	}

	ensure, err := w.missingDirs(ctx, path.Dir(w.TargetRoot))
	if err != nil {
		return err
	}
	w.decideMissing(rel, src, w.TargetRoot, ensure)
	return nil
}

// walkDir diffs the contents of one directory. It returns whether any
// Create or Update was decided inside it, which tells the caller whether a
// new directory will be created implicitly.
func (w *walker) walkDir(ctx context.Context, rel, srcDir, tgtDir string,
	tgtExists bool, ensure []string) bool {

	srcEntries, err := w.Source.List(ctx, srcDir)
	if err != nil {
		w.fail(rel, errors.WithContext(err, "list source"))
		return false
	}
	sort.Slice(srcEntries, func(i, j int) bool {
		return srcEntries[i].Name < srcEntries[j].Name
	})

	tgtEntries := map[string]fs.FileEntry{}
	if tgtExists {
		entries, err := w.Target.List(ctx, tgtDir)
		if err != nil {
			w.fail(rel, errors.WithContext(err, "list target"))
			return false
		}
		for _, entry := range entries {
			tgtEntries[entry.Name] = entry
		}
	}

	var transferred bool
	srcNames := map[string]struct{}{}
	for _, src := range srcEntries {
		src := src
		srcNames[src.Name] = struct{}{}
		childRel := joinRel(rel, src.Name)
		childTgt := fs.Join(tgtDir, src.Name)

		if w.Filter.Match(childRel) {
			w.decide(Decision{Action: Skip, RelativePath: childRel, Source: &src,
				TargetPath: childTgt, Reason: ReasonIgnored})
			continue
		}

		linked := src.Kind == fs.Symlink
		if linked {
			resolved, ok := w.resolveLink(ctx, childRel, src, childTgt)
			if !ok {
				continue
			}
			src = resolved
		}

		tgt, present := tgtEntries[src.Name]
		if present && src.IsDir() != tgt.IsDir() {
			tgt := tgt
			w.decide(Decision{Action: Skip, RelativePath: childRel, Source: &src,
				Target: &tgt, TargetPath: childTgt, Reason: ReasonTypeConflict})
			continue
		}

		if !src.IsDir() {
			if present {
				transferred = w.decideExisting(childRel, src, tgt, childTgt) || transferred
			} else {
				transferred = w.decideMissing(childRel, src, childTgt, ensure) || transferred
			}
			continue
		}

		if present {
			w.walkChild(ctx, linked, childRel, src.Path, childTgt, true, nil)
			continue
		}

		if w.Policy.SkipCreate {
			w.decide(Decision{Action: Skip, RelativePath: childRel, Source: &src,
				TargetPath: childTgt, Reason: ReasonSkipCreate})
			continue
		}

		childEnsure := append(append([]string(nil), ensure...), childTgt)
		if !w.walkChild(ctx, linked, childRel, src.Path, childTgt, false, childEnsure) {
			w.decide(Decision{Action: Create, RelativePath: childRel, Source: &src,
				TargetPath: childTgt, EnsureDirs: ensure})
		}
		transferred = true
	}

	if w.Policy.DeleteExtraneous && tgtExists {
		w.collectExtraneous(rel, srcNames, tgtEntries)
	}
	return transferred
}

// walkChild walks a subdirectory, counting it if it was reached through a
// symlink.
func (w *walker) walkChild(ctx context.Context, linked bool, rel, srcDir, tgtDir string,
	tgtExists bool, ensure []string) bool {

	if linked {
		w.linkedDirs++
		defer func() { w.linkedDirs-- }()
	}
	return w.walkDir(ctx, rel, srcDir, tgtDir, tgtExists, ensure)
}

// resolveLink follows a source symlink so that it's transferred as the file
// or directory it points to. Broken links, and links that nest too many
// symlinked directories, are skipped.
func (w *walker) resolveLink(ctx context.Context, rel string, link fs.FileEntry,
	tgtPath string) (fs.FileEntry, bool) {

	entry, err := w.Source.Stat(ctx, link.Path)
	if err != nil {
		w.logger().WithError(err).WithField("path", rel).Warn("Skipping unreadable symlink")
		w.decide(Decision{Action: Skip, RelativePath: rel, Source: &link,
			TargetPath: tgtPath, Reason: ReasonBrokenLink})
		return fs.FileEntry{}, false
	}

	if entry.IsDir() && w.linkedDirs >= maxLinkedDirs {
		w.logger().WithField("path", rel).Warn("Not following symlink, too many levels of symlinked directories")
		w.decide(Decision{Action: Skip, RelativePath: rel, Source: &link,
			TargetPath: tgtPath, Reason: ReasonLinkLoop})
		return fs.FileEntry{}, false
	}

	entry.Name = link.Name
	entry.Path = link.Path
	return entry, true
}

// decideExisting decides what to do with a file that exists on both sides.
// It returns whether the file will be transferred.
func (w *walker) decideExisting(rel string, src, tgt fs.FileEntry, tgtPath string) bool {
	decision := Decision{RelativePath: rel, Source: &src, Target: &tgt, TargetPath: tgtPath}
	switch {
	case src.IsDir() != tgt.IsDir():
		decision.Action, decision.Reason = Skip, ReasonTypeConflict
	case w.Policy.IgnoreExisting || w.Policy.SkipIfTargetExists:
		decision.Action, decision.Reason = Skip, ReasonExists
	case w.Policy.UpdateOnlyIfNewer && !src.ModTime.After(tgt.ModTime):
		decision.Action, decision.Reason = Skip, ReasonNotNewer
	default:
		decision.Action = Update
	}
	w.decide(decision)
	return decision.Action == Update
}

// decideMissing decides what to do with a file that only exists in the
// source. It returns whether the file will be transferred.
func (w *walker) decideMissing(rel string, src fs.FileEntry, tgtPath string, ensure []string) bool {
	if w.Policy.SkipCreate {
		w.decide(Decision{Action: Skip, RelativePath: rel, Source: &src,
			TargetPath: tgtPath, Reason: ReasonSkipCreate})
		return false
	}

	w.decide(Decision{Action: Create, RelativePath: rel, Source: &src,
		TargetPath: tgtPath, EnsureDirs: ensure})
	return true
}

// collectExtraneous queues deletes for target entries that aren't in the
// source. They're emitted after the walk, once every Create and Update has
// been decided.
func (w *walker) collectExtraneous(rel string, srcNames map[string]struct{},
	tgtEntries map[string]fs.FileEntry) {

	var extra []fs.FileEntry
	for name, entry := range tgtEntries {
		if _, ok := srcNames[name]; !ok {
			extra = append(extra, entry)
		}
	}
	sort.Slice(extra, func(i, j int) bool {
		return extra[i].Name < extra[j].Name
	})

	for _, entry := range extra {
		entry := entry
		childRel := joinRel(rel, entry.Name)
		if w.Filter.Match(childRel) {
			continue
		}
		w.deletes = append(w.deletes, Decision{
			Action:       Delete,
			RelativePath: childRel,
			Target:       &entry,
			TargetPath:   entry.Path,
		})
	}
}

// missingDirs returns dir and every ancestor of it that doesn't exist on the
// target, ordered from the top down.
func (w *walker) missingDirs(ctx context.Context, dir string) ([]string, error) {
	var missing []string
	for p := dir; ; p = path.Dir(p) {
		entry, err := w.Target.Stat(ctx, p)
		if err == nil {
			if !entry.IsDir() {
				return nil, errors.IOError{Op: "sync", Path: p,
					Err: errors.New("not a directory")}
			}
			break
		}
		if !errors.IsNotFound(err) {
			return nil, errors.WithContext(err, fmt.Sprintf("stat %s", p))
		}

		missing = append([]string{p}, missing...)
		if parent := path.Dir(p); parent == p {
			break
		}
	}
	return missing, nil
}

func (w *walker) decide(d Decision) {
	w.plan.Decisions = append(w.plan.Decisions, d)
}

func (w *walker) fail(rel string, err error) {
	w.logger().WithError(err).WithField("path", rel).Warn("Failed to walk directory")
	w.plan.Failures = append(w.plan.Failures, WalkFailure{RelativePath: rel, Err: err})
}

func joinRel(dir, name string) string {
	if dir == "." {
		return name
	}
	return dir + "/" + name
}
