// Package ftpfs implements fs.FileSystem over FTP.
//
// FTP has a single control connection per session, and a data transfer must
// finish before the next command is sent. FS therefore serializes every call
// with a mutex. A reader returned by ReadFile holds the lock until it's
// closed.
package ftpfs

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
)

// Secure selects how TLS is negotiated.
type Secure string

const (
	// Plain disables TLS.
	Plain Secure = ""
	// Control upgrades the control connection with AUTH TLS.
	Control Secure = "control"
	// Implicit connects with TLS from the start.
	Implicit Secure = "implicit"
)

// Options describe how to reach the FTP server.
type Options struct {
	Host           string
	Port           int
	Username       string
	Password       string
	Secure         Secure
	ConnectTimeout time.Duration
}

// conn is the subset of *ftp.ServerConn used by FS.
type conn interface {
	List(path string) ([]*ftp.Entry, error)
	Retr(path string) (*ftp.Response, error)
	Stor(path string, r io.Reader) error
	MakeDir(path string) error
	Delete(path string) error
	RemoveDir(path string) error
	RemoveDirRecur(path string) error
	Quit() error
}

// FS is an fs.FileSystem backed by one FTP session.
type FS struct {
	lock sync.Mutex
	conn conn
}

// Dial connects and logs in to the FTP server described by opts.
func Dial(ctx context.Context, opts Options) (*FS, error) {
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	dialOpts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(opts.ConnectTimeout),
	}

	tlsConfig := &tls.Config{ServerName: opts.Host}
	switch opts.Secure {
	case Control:
		dialOpts = append(dialOpts, ftp.DialWithExplicitTLS(tlsConfig))
	case Implicit:
		dialOpts = append(dialOpts, ftp.DialWithTLS(tlsConfig))
	}

	c, err := ftp.Dial(addr, dialOpts...)
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("connect to %s", addr))
	}

	if err := c.Login(opts.Username, opts.Password); err != nil {
		c.Quit()
		return nil, errors.WithContext(err, "login")
	}
	return &FS{conn: c}, nil
}

// Close ends the FTP session.
func (f *FS) Close() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.conn.Quit()
}

func (f *FS) List(ctx context.Context, dir string) ([]fs.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	return f.list(dir)
}

func (f *FS) list(dir string) ([]fs.FileEntry, error) {
	raw, err := f.conn.List(dir)
	if err != nil {
		return nil, classify("list", dir, err)
	}

	var entries []fs.FileEntry
	for _, e := range raw {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, toEntry(path.Join(dir, e.Name), e))
	}
	return entries, nil
}

func (f *FS) Stat(ctx context.Context, p string) (fs.FileEntry, error) {
	if err := ctx.Err(); err != nil {
		return fs.FileEntry{}, err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	return f.stat(p)
}

// stat finds p in the listing of its parent, since MLST isn't universally
// supported.
func (f *FS) stat(p string) (fs.FileEntry, error) {
	p = path.Clean(p)
	if p == "/" || p == "." {
		return fs.FileEntry{Name: p, Path: p, Kind: fs.Directory}, nil
	}

	siblings, err := f.list(path.Dir(p))
	if err != nil {
		if errors.IsNotFound(err) {
			return fs.FileEntry{}, errors.FileNotFound{Path: p}
		}
		return fs.FileEntry{}, err
	}

	for _, entry := range siblings {
		if entry.Name == path.Base(p) {
			return entry, nil
		}
	}
	return fs.FileEntry{}, errors.FileNotFound{Path: p}
}

// lockedReader releases the session lock once the transfer is closed.
type lockedReader struct {
	*ftp.Response
	unlock func()
	once   sync.Once
}

func (r *lockedReader) Close() error {
	err := r.Response.Close()
	r.once.Do(r.unlock)
	return err
}

func (f *FS) ReadFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.lock.Lock()
	resp, err := f.conn.Retr(p)
	if err != nil {
		f.lock.Unlock()
		return nil, classify("retr", p, err)
	}
	return &lockedReader{Response: resp, unlock: f.lock.Unlock}, nil
}

func (f *FS) WriteFile(ctx context.Context, p string, r io.Reader, _ os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	parent, err := f.stat(path.Dir(p))
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return errors.IOError{Op: "write", Path: p, Err: errors.New("parent is not a directory")}
	}

	return classify("stor", p, f.conn.Stor(p, fs.NewContextReader(ctx, r)))
}

func (f *FS) Mkdir(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.conn.MakeDir(p); err != nil {
		if entry, statErr := f.stat(p); statErr == nil && entry.IsDir() {
			return nil
		}
		return classify("mkdir", p, err)
	}
	return nil
}

func (f *FS) Remove(ctx context.Context, p string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	entry, err := f.stat(p)
	if err != nil {
		return err
	}

	switch {
	case !entry.IsDir():
		return classify("delete", p, f.conn.Delete(p))
	case recursive:
		return classify("rmdir", p, f.conn.RemoveDirRecur(p))
	default:
		return classify("rmdir", p, f.conn.RemoveDir(p))
	}
}

// SetMode is a no-op: FTP has no portable way to change permissions.
func (f *FS) SetMode(ctx context.Context, _ string, _ os.FileMode) error {
	return ctx.Err()
}

func toEntry(p string, e *ftp.Entry) fs.FileEntry {
	kind := fs.File
	switch e.Type {
	case ftp.EntryTypeFolder:
		kind = fs.Directory
	case ftp.EntryTypeLink:
		kind = fs.Symlink
	}

	return fs.FileEntry{
		Name:    e.Name,
		Path:    p,
		Kind:    kind,
		Size:    int64(e.Size),
		ModTime: e.Time,
	}
}

// classify maps FTP reply codes onto the error taxonomy. Servers answer 550
// for both missing and forbidden paths; it's treated as missing.
func classify(op, p string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case ftp.StatusFileUnavailable:
			return errors.FileNotFound{Path: p}
		case ftp.StatusNotLoggedIn, ftp.StatusFileActionIgnored:
			return errors.PermissionDenied{Path: p}
		}
	}
	return fs.Classify(op, p, err)
}
