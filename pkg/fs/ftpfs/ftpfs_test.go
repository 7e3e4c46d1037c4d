package ftpfs

import (
	"context"
	"io"
	"io/ioutil"
	"net/textproto"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
)

var notFound = &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"}

// mockConn is an in-memory FTP server keyed by absolute path.
type mockConn struct {
	dirs  map[string]bool
	files map[string]string
	mtime time.Time
}

func newMockConn() *mockConn {
	return &mockConn{
		dirs:  map[string]bool{"/": true},
		files: map[string]string{},
		mtime: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (c *mockConn) List(dir string) ([]*ftp.Entry, error) {
	if !c.dirs[dir] {
		return nil, notFound
	}

	var entries []*ftp.Entry
	for d := range c.dirs {
		if d != "/" && path.Dir(d) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(d), Type: ftp.EntryTypeFolder, Time: c.mtime})
		}
	}
	for f, contents := range c.files {
		if path.Dir(f) == dir {
			entries = append(entries, &ftp.Entry{Name: path.Base(f), Type: ftp.EntryTypeFile,
				Size: uint64(len(contents)), Time: c.mtime})
		}
	}
	return entries, nil
}

func (c *mockConn) Retr(string) (*ftp.Response, error) {
	return nil, notFound
}

func (c *mockConn) Stor(p string, r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	c.files[p] = string(b)
	return nil
}

func (c *mockConn) MakeDir(p string) error {
	if c.dirs[p] || !c.dirs[path.Dir(p)] {
		return notFound
	}
	c.dirs[p] = true
	return nil
}

func (c *mockConn) Delete(p string) error {
	if _, ok := c.files[p]; !ok {
		return notFound
	}
	delete(c.files, p)
	return nil
}

func (c *mockConn) RemoveDir(p string) error {
	delete(c.dirs, p)
	return nil
}

func (c *mockConn) RemoveDirRecur(p string) error {
	for d := range c.dirs {
		if d == p || strings.HasPrefix(d, p+"/") {
			delete(c.dirs, d)
		}
	}
	for f := range c.files {
		if strings.HasPrefix(f, p+"/") {
			delete(c.files, f)
		}
	}
	return nil
}

func (c *mockConn) Quit() error { return nil }

func TestStat(t *testing.T) {
	conn := newMockConn()
	conn.dirs["/site"] = true
	conn.files["/site/index.html"] = "<html>"
	f := &FS{conn: conn}
	ctx := context.Background()

	entry, err := f.Stat(ctx, "/site/index.html")
	assert.NoError(t, err)
	assert.Equal(t, fs.File, entry.Kind)
	assert.Equal(t, int64(6), entry.Size)
	assert.False(t, entry.HasMode)

	entry, err = f.Stat(ctx, "/site")
	assert.NoError(t, err)
	assert.True(t, entry.IsDir())

	_, err = f.Stat(ctx, "/site/missing")
	assert.Equal(t, errors.FileNotFound{Path: "/site/missing"}, err)

	_, err = f.Stat(ctx, "/nowhere/missing")
	assert.Equal(t, errors.FileNotFound{Path: "/nowhere/missing"}, err)
}

func TestWriteAndMkdir(t *testing.T) {
	conn := newMockConn()
	f := &FS{conn: conn}
	ctx := context.Background()

	err := f.WriteFile(ctx, "/a/b.txt", strings.NewReader("b"), 0)
	assert.True(t, errors.IsNotFound(err))

	assert.NoError(t, f.Mkdir(ctx, "/a"))
	assert.NoError(t, f.Mkdir(ctx, "/a"), "mkdir should be idempotent")

	assert.NoError(t, f.WriteFile(ctx, "/a/b.txt", strings.NewReader("b"), 0644))
	assert.Equal(t, "b", conn.files["/a/b.txt"])

	entries, err := f.List(ctx, "/a")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "/a/b.txt", entries[0].Path)
}

func TestRemove(t *testing.T) {
	conn := newMockConn()
	conn.dirs["/a"] = true
	conn.dirs["/a/b"] = true
	conn.files["/a/b/c.txt"] = "c"
	conn.files["/top.txt"] = "top"
	f := &FS{conn: conn}
	ctx := context.Background()

	assert.NoError(t, f.Remove(ctx, "/top.txt", false))
	assert.NotContains(t, conn.files, "/top.txt")

	assert.NoError(t, f.Remove(ctx, "/a", true))
	assert.Empty(t, conn.files)
	assert.Equal(t, map[string]bool{"/": true}, conn.dirs)

	assert.True(t, errors.IsNotFound(f.Remove(ctx, "/a", true)))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exp  error
	}{
		{
			name: "Unavailable",
			err:  notFound,
			exp:  errors.FileNotFound{Path: "/x"},
		},
		{
			name: "NotLoggedIn",
			err:  &textproto.Error{Code: ftp.StatusNotLoggedIn},
			exp:  errors.PermissionDenied{Path: "/x"},
		},
		{
			name: "Nil",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, classify("op", "/x", test.err))
		})
	}
}
