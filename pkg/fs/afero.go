package fs

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/sidkik/remotesync/pkg/errors"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Afero implements FileSystem on top of an afero.Fs. It backs the local disk
// as well as the `local` protocol, and an afero.MemMapFs in tests.
type Afero struct {
	fs afero.Fs
}

// NewAfero returns a FileSystem backed by fs.
func NewAfero(fs afero.Fs) *Afero {
	return &Afero{fs: fs}
}

// NewLocal returns a FileSystem for the local disk.
func NewLocal() *Afero {
	return NewAfero(afero.NewOsFs())
}

// Fs returns the underlying afero filesystem.
func (a *Afero) Fs() afero.Fs {
	return a.fs
}

func (a *Afero) List(ctx context.Context, dir string) ([]FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := afero.ReadDir(a.fs, filepath.FromSlash(dir))
	if err != nil {
		return nil, Classify("list", dir, err)
	}

	entries := make([]FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, EntryFromInfo(path.Join(dir, fi.Name()), fi, true))
	}
	return entries, nil
}

func (a *Afero) Stat(ctx context.Context, p string) (FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return FileEntry{}, err
	}

	fi, err := a.fs.Stat(filepath.FromSlash(p))
	if err != nil {
		return FileEntry{}, Classify("stat", p, err)
	}
	return EntryFromInfo(p, fi, true), nil
}

func (a *Afero) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := a.fs.Open(filepath.FromSlash(p))
	if err != nil {
		return nil, Classify("open", p, err)
	}
	return f, nil
}

func (a *Afero) WriteFile(ctx context.Context, p string, r io.Reader, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// afero.MemMapFs silently creates missing parents, so check explicitly
	// to behave the same as the other backends.
	parent := path.Dir(p)
	fi, err := a.fs.Stat(filepath.FromSlash(parent))
	if err != nil {
		return Classify("stat parent", parent, err)
	}
	if !fi.IsDir() {
		return errors.IOError{Op: "write", Path: p, Err: errors.New("parent is not a directory")}
	}

	perm := mode
	if perm == 0 {
		perm = defaultFileMode
	}

	name := filepath.FromSlash(p)
	f, err := a.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return Classify("open", p, err)
	}

	if _, err := io.Copy(f, NewContextReader(ctx, r)); err != nil {
		f.Close()
		return Classify("write", p, err)
	}

	if err := f.Close(); err != nil {
		return Classify("close", p, err)
	}

	// The permission passed to OpenFile only applies to new files.
	if mode != 0 {
		if err := a.fs.Chmod(name, mode); err != nil {
			return Classify("chmod", p, err)
		}
	}
	return nil
}

func (a *Afero) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := filepath.FromSlash(p)
	if err := a.fs.Mkdir(name, defaultDirMode); err != nil {
		if fi, statErr := a.fs.Stat(name); statErr == nil && fi.IsDir() {
			return nil
		}
		return Classify("mkdir", p, err)
	}
	return nil
}

func (a *Afero) Remove(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := filepath.FromSlash(p)
	if _, err := a.fs.Stat(name); err != nil {
		return Classify("stat", p, err)
	}

	if recursive {
		return Classify("remove", p, a.fs.RemoveAll(name))
	}
	return Classify("remove", p, a.fs.Remove(name))
}

func (a *Afero) SetMode(ctx context.Context, p string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return Classify("chmod", p, a.fs.Chmod(filepath.FromSlash(p), mode))
}
