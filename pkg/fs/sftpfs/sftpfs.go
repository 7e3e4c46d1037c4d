package sftpfs

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
)

// FS is an fs.FileSystem backed by an SFTP session. The underlying
// sftp.Client multiplexes requests, so FS is safe for concurrent use.
type FS struct {
	client    *sftp.Client
	closeConn func() error
}

// New wraps an established SFTP client.
func New(client *sftp.Client) *FS {
	return &FS{client: client}
}

// Close ends the SFTP session and the connection carrying it.
func (s *FS) Close() error {
	err := s.client.Close()
	if s.closeConn != nil {
		if connErr := s.closeConn(); err == nil {
			err = connErr
		}
	}
	return err
}

func (s *FS) List(ctx context.Context, dir string) ([]fs.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := s.client.ReadDir(dir)
	if err != nil {
		return nil, fs.Classify("list", dir, err)
	}

	entries := make([]fs.FileEntry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, fs.EntryFromInfo(path.Join(dir, fi.Name()), fi, true))
	}
	return entries, nil
}

func (s *FS) Stat(ctx context.Context, p string) (fs.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return fs.FileEntry{}, err
	}

	fi, err := s.client.Stat(p)
	if err != nil {
		return fs.FileEntry{}, fs.Classify("stat", p, err)
	}
	return fs.EntryFromInfo(p, fi, true), nil
}

func (s *FS) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.client.Open(p)
	if err != nil {
		return nil, fs.Classify("open", p, err)
	}
	return f, nil
}

func (s *FS) WriteFile(ctx context.Context, p string, r io.Reader, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	parent := path.Dir(p)
	fi, err := s.client.Stat(parent)
	if err != nil {
		return fs.Classify("stat parent", parent, err)
	}
	if !fi.IsDir() {
		return errors.IOError{Op: "write", Path: p, Err: errors.New("parent is not a directory")}
	}

	f, err := s.client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fs.Classify("open", p, err)
	}

	if _, err := io.Copy(f, fs.NewContextReader(ctx, r)); err != nil {
		f.Close()
		return fs.Classify("write", p, err)
	}

	if err := f.Close(); err != nil {
		return fs.Classify("close", p, err)
	}

	if mode != 0 {
		if err := s.client.Chmod(p, mode); err != nil {
			return fs.Classify("chmod", p, err)
		}
	}
	return nil
}

func (s *FS) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.client.Mkdir(p); err != nil {
		// Servers report an existing directory as a generic failure.
		if fi, statErr := s.client.Stat(p); statErr == nil && fi.IsDir() {
			return nil
		}
		return fs.Classify("mkdir", p, err)
	}
	return nil
}

func (s *FS) Remove(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fi, err := s.client.Lstat(p)
	if err != nil {
		return fs.Classify("stat", p, err)
	}

	if !fi.IsDir() {
		return fs.Classify("remove", p, s.client.Remove(p))
	}

	if recursive {
		children, err := s.client.ReadDir(p)
		if err != nil {
			return fs.Classify("list", p, err)
		}

		for _, child := range children {
			if err := s.Remove(ctx, path.Join(p, child.Name()), true); err != nil {
				return err
			}
		}
	}
	return fs.Classify("rmdir", p, s.client.RemoveDirectory(p))
}

func (s *FS) SetMode(ctx context.Context, p string, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fs.Classify("chmod", p, s.client.Chmod(p, mode))
}
