package sync

import (
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/ignore"
)

var (
	older = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	newer = time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
)

type mockFile struct {
	path     string
	contents string
	mode     os.FileMode
	modTime  time.Time
	dir      bool
}

func (f mockFile) writeToFs(t *testing.T, mem afero.Fs) {
	if f.dir {
		require.NoError(t, mem.MkdirAll(f.path, 0755))
		return
	}

	mode := f.mode
	if mode == 0 {
		mode = 0644
	}
	require.NoError(t, mem.MkdirAll(path.Dir(f.path), 0755))
	require.NoError(t, afero.WriteFile(mem, f.path, []byte(f.contents), mode))
	require.NoError(t, mem.Chmod(f.path, mode))

	modTime := f.modTime
	if modTime.IsZero() {
		modTime = older
	}
	require.NoError(t, mem.Chtimes(f.path, modTime, modTime))
}

func newTree(t *testing.T, files ...mockFile) *fs.Afero {
	mem := afero.NewMemMapFs()
	for _, f := range files {
		f.writeToFs(t, mem)
	}
	return fs.NewAfero(mem)
}

type summary struct {
	Action Action
	Path   string
	Reason Reason
}

func summarize(plan Plan) []summary {
	var summaries []summary
	for _, d := range plan.Decisions {
		summaries = append(summaries, summary{d.Action, d.RelativePath, d.Reason})
	}
	return summaries
}

func diff(t *testing.T, src, tgt fs.FileSystem, policy Policy) Plan {
	plan, err := Differ{
		Source:     src,
		SourceRoot: "/src",
		Target:     tgt,
		TargetRoot: "/dst",
		Policy:     policy,
	}.Diff(context.Background())
	require.NoError(t, err)
	return plan
}

func TestIdenticalTrees(t *testing.T) {
	files := []mockFile{
		{path: "/src/a.txt", contents: "a"},
		{path: "/src/dir/b.txt", contents: "b"},
		{path: "/src/dir/nested/c.txt", contents: "c"},
	}
	var copies []mockFile
	for _, f := range files {
		f.path = "/dst" + f.path[len("/src"):]
		copies = append(copies, f)
	}

	src := newTree(t, files...)
	tgt := newTree(t, copies...)

	plan := diff(t, src, tgt, Policy{})
	assert.Equal(t, []summary{
		{Update, "a.txt", ""},
		{Update, "dir/b.txt", ""},
		{Update, "dir/nested/c.txt", ""},
	}, summarize(plan))

	plan = diff(t, src, tgt, Policy{UpdateOnlyIfNewer: true})
	assert.Equal(t, []summary{
		{Skip, "a.txt", ReasonNotNewer},
		{Skip, "dir/b.txt", ReasonNotNewer},
		{Skip, "dir/nested/c.txt", ReasonNotNewer},
	}, summarize(plan))

	plan = diff(t, src, tgt, Policy{IgnoreExisting: true, DeleteExtraneous: true})
	assert.Equal(t, []summary{
		{Skip, "a.txt", ReasonExists},
		{Skip, "dir/b.txt", ReasonExists},
		{Skip, "dir/nested/c.txt", ReasonExists},
	}, summarize(plan))
}

func TestConcreteScenario(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/a.txt", contents: "a"},
		mockFile{path: "/src/b.txt", contents: "new b", modTime: newer},
		mockFile{path: "/src/c.txt", contents: "c"},
	)
	tgt := newTree(t,
		mockFile{path: "/dst/b.txt", contents: "old b"},
		mockFile{path: "/dst/c.txt", contents: "c"},
		mockFile{path: "/dst/d.txt", contents: "d"},
	)

	plan := diff(t, src, tgt, Policy{DeleteExtraneous: true, UpdateOnlyIfNewer: true})
	assert.Equal(t, []summary{
		{Create, "a.txt", ""},
		{Update, "b.txt", ""},
		{Skip, "c.txt", ReasonNotNewer},
		{Delete, "d.txt", ""},
	}, summarize(plan))
	assert.Empty(t, plan.Failures)
	assert.Equal(t, "/dst/d.txt", plan.Decisions[3].TargetPath)
}

func TestIgnoredPaths(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/main.go", contents: "package main"},
		mockFile{path: "/src/debug.log", contents: "log"},
		mockFile{path: "/src/node_modules/dep/index.js", contents: "js"},
		mockFile{path: "/src/lib/.git/HEAD", contents: "ref"},
	)
	tgt := newTree(t,
		mockFile{path: "/dst/old.log", contents: "old log"},
		mockFile{path: "/dst/stale.go", contents: "stale"},
	)

	policy := Policy{
		DeleteExtraneous: true,
		IgnorePatterns:   []string{"*.log", "node_modules", ".git"},
	}
	recorder := &recordingFS{FileSystem: src}
	plan := diff(t, recorder, tgt, policy)
	assert.Equal(t, []summary{
		{Skip, "debug.log", ReasonIgnored},
		{Skip, "lib/.git", ReasonIgnored},
		// lib only holds ignored files, so it's created on its own.
		{Create, "lib", ""},
		{Create, "main.go", ""},
		{Skip, "node_modules", ReasonIgnored},
		{Delete, "stale.go", ""},
	}, summarize(plan))

	// Ignored directories are never descended into.
	assert.Equal(t, []string{"/src", "/src/lib"}, recorder.lists)
}

func TestMissingTargetDirectories(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/top.txt", contents: "top"},
		mockFile{path: "/src/a/b/deep.txt", contents: "deep"},
		mockFile{path: "/src/a/b/deeper.txt", contents: "deeper"},
		mockFile{path: "/src/empty", dir: true},
	)
	tgt := newTree(t, mockFile{path: "/", dir: true})

	plan, err := Differ{
		Source:     src,
		SourceRoot: "/src",
		Target:     tgt,
		TargetRoot: "/remote/site",
	}.Diff(context.Background())
	require.NoError(t, err)

	byPath := map[string]Decision{}
	for _, d := range plan.Decisions {
		byPath[d.RelativePath] = d
	}

	assert.Equal(t, Create, byPath["top.txt"].Action)
	assert.Equal(t, []string{"/remote", "/remote/site"}, byPath["top.txt"].EnsureDirs)
	assert.Equal(t, "/remote/site/top.txt", byPath["top.txt"].TargetPath)

	assert.Equal(t, []string{"/remote", "/remote/site", "/remote/site/a", "/remote/site/a/b"},
		byPath["a/b/deep.txt"].EnsureDirs)

	assert.Equal(t, Create, byPath["empty"].Action)
	assert.True(t, byPath["empty"].Source.IsDir())
	assert.Equal(t, "/remote/site/empty", byPath["empty"].TargetPath)

	_, hasA := byPath["a"]
	assert.False(t, hasA, "directories with files aren't decided on their own")
}

func TestTypeConflict(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/x/inner.txt", contents: "inner"},
		mockFile{path: "/src/y", contents: "file"},
	)
	tgt := newTree(t,
		mockFile{path: "/dst/x", contents: "file"},
		mockFile{path: "/dst/y/inner.txt", contents: "inner"},
	)

	plan := diff(t, src, tgt, Policy{DeleteExtraneous: true})
	assert.Equal(t, []summary{
		{Skip, "x", ReasonTypeConflict},
		{Skip, "y", ReasonTypeConflict},
	}, summarize(plan))
}

func TestSkipCreate(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/new.txt", contents: "new"},
		mockFile{path: "/src/newdir/f.txt", contents: "f"},
		mockFile{path: "/src/old.txt", contents: "old"},
	)
	tgt := newTree(t, mockFile{path: "/dst/old.txt", contents: "older"})

	plan := diff(t, src, tgt, Policy{SkipCreate: true})
	assert.Equal(t, []summary{
		{Skip, "new.txt", ReasonSkipCreate},
		{Skip, "newdir", ReasonSkipCreate},
		{Update, "old.txt", ""},
	}, summarize(plan))
}

func TestExtraneousDirectory(t *testing.T) {
	src := newTree(t, mockFile{path: "/src/keep.txt", contents: "keep"})
	tgt := newTree(t,
		mockFile{path: "/dst/keep.txt", contents: "keep"},
		mockFile{path: "/dst/gone/a/b.txt", contents: "b"},
		mockFile{path: "/dst/gone/c.txt", contents: "c"},
	)

	plan := diff(t, src, tgt, Policy{DeleteExtraneous: true})
	assert.Equal(t, []summary{
		{Update, "keep.txt", ""},
		{Delete, "gone", ""},
	}, summarize(plan))
	assert.True(t, plan.Decisions[1].Target.IsDir())
}

func TestFileRoot(t *testing.T) {
	src := newTree(t, mockFile{path: "/src/index.html", contents: "<html>"})

	plan, err := Differ{
		Source:     src,
		SourceRoot: "/src/index.html",
		Target:     newTree(t, mockFile{path: "/", dir: true}),
		TargetRoot: "/site/index.html",
	}.Diff(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Decisions, 1)
	assert.Equal(t, Create, plan.Decisions[0].Action)
	assert.Equal(t, "index.html", plan.Decisions[0].RelativePath)
	assert.Equal(t, []string{"/site"}, plan.Decisions[0].EnsureDirs)

	plan, err = Differ{
		Source:     src,
		SourceRoot: "/src/index.html",
		Target:     newTree(t, mockFile{path: "/site/index.html", contents: "old"}),
		TargetRoot: "/site/index.html",
	}.Diff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []summary{{Update, "index.html", ""}}, summarize(plan))
}

// failingFS fails List for one directory.
type failingFS struct {
	fs.FileSystem
	failList string
	failStat string
}

func (f failingFS) List(ctx context.Context, dir string) ([]fs.FileEntry, error) {
	if dir == f.failList {
		return nil, errors.PermissionDenied{Path: dir}
	}
	return f.FileSystem.List(ctx, dir)
}

func (f failingFS) Stat(ctx context.Context, p string) (fs.FileEntry, error) {
	if p == f.failStat {
		return fs.FileEntry{}, errors.IOError{Op: "stat", Path: p, Err: errors.New("connection reset")}
	}
	return f.FileSystem.Stat(ctx, p)
}

func TestWalkFailure(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/a/1.txt", contents: "1"},
		mockFile{path: "/src/b/2.txt", contents: "2"},
		mockFile{path: "/src/c.txt", contents: "c"},
	)
	tgt := newTree(t, mockFile{path: "/dst", dir: true})

	plan := diff(t, failingFS{FileSystem: src, failList: "/src/a"}, tgt, Policy{})
	require.Len(t, plan.Failures, 1)
	assert.Equal(t, "a", plan.Failures[0].RelativePath)
	assert.True(t, errors.IsPermissionDenied(plan.Failures[0].Err))

	assert.Equal(t, []summary{
		{Create, "a", ""},
		{Create, "b/2.txt", ""},
		{Create, "c.txt", ""},
	}, summarize(plan))
}

func TestFatalErrors(t *testing.T) {
	src := newTree(t, mockFile{path: "/src/a.txt", contents: "a"})
	tgt := newTree(t, mockFile{path: "/dst", dir: true})
	ctx := context.Background()

	_, err := Differ{Source: src, SourceRoot: "/missing", Target: tgt, TargetRoot: "/dst"}.Diff(ctx)
	assert.True(t, errors.IsNotFound(err))

	_, err = Differ{
		Source:     src,
		SourceRoot: "/src",
		Target:     failingFS{FileSystem: tgt, failStat: "/dst"},
		TargetRoot: "/dst",
	}.Diff(ctx)
	assert.Error(t, err)

	fileTarget := newTree(t, mockFile{path: "/dst", contents: "file"})
	_, err = Differ{Source: src, SourceRoot: "/src", Target: fileTarget, TargetRoot: "/dst"}.Diff(ctx)
	assert.Error(t, err)
}

func TestExplicitFilter(t *testing.T) {
	src := newTree(t,
		mockFile{path: "/src/a.tmp", contents: "a"},
		mockFile{path: "/src/b.txt", contents: "b"},
	)
	tgt := newTree(t, mockFile{path: "/dst", dir: true})

	filter, errs := ignore.Compile([]string{"*.tmp"})
	require.Empty(t, errs)

	plan, err := Differ{
		Source:     src,
		SourceRoot: "/src",
		Target:     tgt,
		TargetRoot: "/dst",
		Filter:     filter,
	}.Diff(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []summary{
		{Skip, "a.tmp", ReasonIgnored},
		{Create, "b.txt", ""},
	}, summarize(plan))
}
