package fs

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/remotesync/pkg/errors"
)

func TestAferoList(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/root/sub", 0755))
	require.NoError(t, afero.WriteFile(mem, "/root/b.txt", []byte("bb"), 0600))
	require.NoError(t, afero.WriteFile(mem, "/root/a.txt", []byte("a"), 0644))

	ctx := context.Background()
	entries, err := NewAfero(mem).List(ctx, "/root")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, "/root/a.txt", entries[0].Path)
	assert.Equal(t, File, entries[0].Kind)
	assert.Equal(t, int64(1), entries[0].Size)

	assert.Equal(t, "b.txt", entries[1].Name)
	assert.Equal(t, os.FileMode(0600), entries[1].Mode)
	assert.True(t, entries[1].HasMode)

	assert.Equal(t, "sub", entries[2].Name)
	assert.True(t, entries[2].IsDir())

	_, err = NewAfero(mem).List(ctx, "/missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestAferoWriteFile(t *testing.T) {
	mem := afero.NewMemMapFs()
	require.NoError(t, mem.MkdirAll("/dst", 0755))
	fs := NewAfero(mem)
	ctx := context.Background()

	err := fs.WriteFile(ctx, "/dst/new/file", bytes.NewBufferString("x"), 0)
	assert.Equal(t, errors.FileNotFound{Path: "/dst/new"}, err)

	require.NoError(t, fs.WriteFile(ctx, "/dst/file", bytes.NewBufferString("contents"), 0))
	contents, err := afero.ReadFile(mem, "/dst/file")
	require.NoError(t, err)
	assert.Equal(t, "contents", string(contents))

	require.NoError(t, fs.WriteFile(ctx, "/dst/file", bytes.NewBufferString("new"), 0755))
	entry, err := fs.Stat(ctx, "/dst/file")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), entry.Mode)
	assert.Equal(t, int64(3), entry.Size)

	r, err := fs.ReadFile(ctx, "/dst/file")
	require.NoError(t, err)
	read, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "new", string(read))
}

func TestAferoMkdirAndRemove(t *testing.T) {
	mem := afero.NewMemMapFs()
	fs := NewAfero(mem)
	ctx := context.Background()

	require.NoError(t, fs.Mkdir(ctx, "/dir"))
	assert.NoError(t, fs.Mkdir(ctx, "/dir"), "mkdir should be idempotent")
	require.NoError(t, afero.WriteFile(mem, "/dir/f", []byte("f"), 0644))

	err := fs.Remove(ctx, "/nope", false)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, fs.Remove(ctx, "/dir", true))
	exists, err := afero.Exists(mem, "/dir/f")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAferoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAfero(afero.NewMemMapFs()).List(ctx, "/")
	assert.Equal(t, context.Canceled, err)
}

func TestRel(t *testing.T) {
	tests := []struct {
		base, target string
		exp          string
		expOK        bool
	}{
		{"/a", "/a/b/c", "b/c", true},
		{"/a", "/a", ".", true},
		{"/a", "/ab", "", false},
		{"/", "/x", "x", true},
		{".", "x/y", "x/y", true},
		{".", "../x", "", false},
	}

	for _, test := range tests {
		rel, ok := Rel(test.base, test.target)
		assert.Equal(t, test.expOK, ok, "%s in %s", test.target, test.base)
		assert.Equal(t, test.exp, rel, "%s in %s", test.target, test.base)
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("op", "p", nil))
	assert.Equal(t, errors.FileNotFound{Path: "p"},
		Classify("op", "p", &os.PathError{Op: "open", Path: "p", Err: os.ErrNotExist}))
	assert.Equal(t, errors.PermissionDenied{Path: "p"}, Classify("op", "p", os.ErrPermission))
	assert.Equal(t, errors.IOError{Op: "op", Path: "p", Err: os.ErrClosed},
		Classify("op", "p", os.ErrClosed))
	assert.Equal(t, context.Canceled, Classify("op", "p", context.Canceled))
}
