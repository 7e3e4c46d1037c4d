// Package fs defines the filesystem abstraction that the sync engine is
// written against. Both the local disk and the remote stores implement
// FileSystem, so the differ and the scheduler never know which side they're
// talking to.
package fs

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

// Kind is the type of a filesystem entry.
type Kind int

const (
	// File is a regular file.
	File Kind = iota
	// Directory is a directory.
	Directory
	// Symlink is a symbolic link. The differ follows it and transfers what it
	// points to.
	Symlink
)

func (k Kind) String() string {
	switch k {
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	default:
		return "file"
	}
}

// FileEntry describes one node of a filesystem tree. It's produced by List
// and Stat, and isn't persisted.
type FileEntry struct {
	// Name is the base name of the entry.
	Name string

	// Path is the slash separated path of the entry within its FileSystem.
	Path string

	Kind    Kind
	Size    int64
	ModTime time.Time

	// Mode holds the permission bits. It's only meaningful if HasMode is
	// set, since some backends don't expose permissions.
	Mode    os.FileMode
	HasMode bool
}

// IsDir returns whether the entry is a directory.
func (e FileEntry) IsDir() bool {
	return e.Kind == Directory
}

// FileSystem is the set of operations the sync engine needs from a
// filesystem. Implementations must be safe for concurrent use by the
// scheduler's workers.
type FileSystem interface {
	// List returns the entries directly inside dir.
	// It fails with FileNotFound if dir doesn't exist, and PermissionDenied
	// if it can't be read.
	List(ctx context.Context, dir string) ([]FileEntry, error)

	// Stat returns the entry at path, following symlinks.
	Stat(ctx context.Context, path string) (FileEntry, error)

	// ReadFile opens path for streaming. The caller must close the reader.
	ReadFile(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteFile streams r into path, replacing any existing file. A non-zero
	// mode is used for newly created files. It fails with FileNotFound if the
	// parent directory doesn't exist.
	WriteFile(ctx context.Context, path string, r io.Reader, mode os.FileMode) error

	// Mkdir creates the directory at path. It succeeds if the directory
	// already exists.
	Mkdir(ctx context.Context, path string) error

	// Remove deletes path. Directories require recursive to be set unless
	// they're empty. It fails with FileNotFound if path doesn't exist.
	Remove(ctx context.Context, path string, recursive bool) error

	// SetMode changes the permission bits of path. Backends without
	// permission support ignore it.
	SetMode(ctx context.Context, path string, mode os.FileMode) error
}

// Join joins slash separated path elements.
func Join(elem ...string) string {
	return path.Join(elem...)
}

// Dir returns the parent of a slash separated path.
func Dir(p string) string {
	return path.Dir(p)
}

// Rel returns target relative to base, both slash separated. It returns
// false if target isn't inside base.
func Rel(base, target string) (string, bool) {
	base = path.Clean(base)
	target = path.Clean(target)
	if base == target {
		return ".", true
	}

	prefix := base
	if prefix != "/" {
		prefix += "/"
	}
	if base == "." {
		if path.IsAbs(target) || target == ".." || strings.HasPrefix(target, "../") {
			return "", false
		}
		return target, true
	}
	if !strings.HasPrefix(target, prefix) {
		return "", false
	}
	return strings.TrimPrefix(target, prefix), true
}

// EntryFromInfo converts an os.FileInfo returned by a backend into a
// FileEntry at path p.
func EntryFromInfo(p string, fi os.FileInfo, hasMode bool) FileEntry {
	kind := File
	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		kind = Symlink
	case fi.IsDir():
		kind = Directory
	}

	return FileEntry{
		Name:    path.Base(p),
		Path:    p,
		Kind:    kind,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    fi.Mode().Perm(),
		HasMode: hasMode,
	}
}
