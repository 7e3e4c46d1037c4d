package watchlist

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/notify"
)

const workspace = "/workspace"

const starter = `{
  "name": "My Server",
  "host": "localhost",
  "protocol": "sftp",
  "port": 22,
  "username": "username",
  "remotePath": "/",
  "uploadOnSave": true
}`

func setup(t *testing.T, contents string) {
	fs = afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, config.Path(workspace), []byte(contents), 0644))
}

func readConfig(t *testing.T) map[string]interface{} {
	contents, err := afero.ReadFile(fs, config.Path(workspace))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(contents, &doc))
	return doc
}

func TestPattern(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		folder bool
		exp    string
		expErr bool
	}{
		{name: "Relative file", path: "src/main.go", exp: "src/main.go"},
		{name: "Trailing slash", path: "src/", exp: "src/**/*"},
		{name: "Folder flag", path: "src", folder: true, exp: "src/**/*"},
		{name: "Absolute", path: "/workspace/src/app.js", exp: "src/app.js"},
		{name: "Absolute folder", path: "/workspace/src", folder: true, exp: "src/**/*"},
		{name: "Workspace root", path: "/workspace", folder: true, exp: "**/*"},
		{name: "Outside workspace", path: "/etc/passwd", expErr: true},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			pattern, err := Pattern(workspace, test.path, test.folder)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.exp, pattern)
		})
	}
}

func TestAddAndRemove(t *testing.T) {
	setup(t, starter)

	var events []notify.Event
	bus := &notify.Bus{}
	bus.Subscribe(func(e notify.Event) { events = append(events, e) })
	list := New(workspace, bus)

	pattern, err := Pattern(workspace, "src/", false)
	require.NoError(t, err)

	files, err := list.Add(pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/**/*"}, files)

	doc := readConfig(t)
	assert.Equal(t, map[string]interface{}{"files": []interface{}{"src/**/*"}}, doc["watcher"])
	assert.Equal(t, "My Server", doc["name"])
	assert.Equal(t, true, doc["uploadOnSave"])

	// Adding the same pattern again doesn't change the file.
	before, err := afero.ReadFile(fs, config.Path(workspace))
	require.NoError(t, err)
	files, err = list.Add(pattern)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/**/*"}, files)
	after, err := afero.ReadFile(fs, config.Path(workspace))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	files, err = list.Remove(pattern)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = list.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.Equal(t, []notify.Event{
		notify.WatchListChanged{Files: []string{"src/**/*"}},
		notify.WatchListChanged{Files: []string{}},
	}, events)
}

func TestPreservesOrder(t *testing.T) {
	setup(t, `{"host": "h", "watcher": {"files": ["b", "a"], "autoUpload": true}}`)
	list := New(workspace, nil)

	files, err := list.Add("c", "a", "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c", "d"}, files)

	files, err = list.Remove("a", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, files)

	watcher := readConfig(t)["watcher"].(map[string]interface{})
	assert.Equal(t, true, watcher["autoUpload"])
}

func TestProfileList(t *testing.T) {
	setup(t, `[{"name": "first", "host": "a"}, {"name": "second", "host": "b"}]`)
	list := New(workspace, nil)

	_, err := list.Add("src/**/*")
	require.NoError(t, err)

	contents, err := afero.ReadFile(fs, config.Path(workspace))
	require.NoError(t, err)

	var profiles []map[string]interface{}
	require.NoError(t, json.Unmarshal(contents, &profiles))
	require.Len(t, profiles, 2)
	assert.Equal(t, map[string]interface{}{"files": []interface{}{"src/**/*"}}, profiles[0]["watcher"])
	assert.Nil(t, profiles[1]["watcher"])
}

func TestConcurrentModification(t *testing.T) {
	setup(t, starter)
	list := New(workspace, nil)

	// Simulate the user editing the config after it was read, but before
	// the edit was written.
	modified := false
	list.beforeWrite = func() {
		if modified {
			return
		}
		modified = true
		require.NoError(t, afero.WriteFile(fs, config.Path(workspace),
			[]byte(`{"name": "Renamed", "host": "localhost", "watcher": {"files": ["lib/**/*"]}}`), 0644))
	}

	files, err := list.Add("src/**/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/**/*", "src/**/*"}, files)

	doc := readConfig(t)
	assert.Equal(t, "Renamed", doc["name"])
	assert.Equal(t, map[string]interface{}{"files": []interface{}{"lib/**/*", "src/**/*"}}, doc["watcher"])
}

func TestKeepsChanging(t *testing.T) {
	setup(t, starter)
	list := New(workspace, nil)

	n := 0
	list.beforeWrite = func() {
		n++
		require.NoError(t, afero.WriteFile(fs, config.Path(workspace),
			[]byte(`{"host": "localhost", "port": `+string(rune('0'+n))+`}`), 0644))
	}

	_, err := list.Add("src/**/*")
	assert.Error(t, err)
	assert.Equal(t, maxAttempts, n)
}

func TestSingleFile(t *testing.T) {
	setup(t, `{"host": "h", "watcher": {"files": "**/*.js"}}`)
	list := New(workspace, nil)

	files, err := list.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"**/*.js"}, files)

	files, err = list.Add("src/**/*")
	require.NoError(t, err)
	assert.Equal(t, []string{"**/*.js", "src/**/*"}, files)

	doc := readConfig(t)
	assert.Equal(t, []interface{}{"**/*.js", "src/**/*"},
		doc["watcher"].(map[string]interface{})["files"])
}

func TestMalformed(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "Not an object", contents: `"string"`},
		{name: "Watcher not an object", contents: `{"watcher": ["a"]}`},
		{name: "Files not strings", contents: `{"watcher": {"files": [1]}}`},
		{name: "Files not a list", contents: `{"watcher": {"files": {"src": true}}}`},
		{name: "Invalid JSON", contents: `{`},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			setup(t, test.contents)
			_, err := New(workspace, nil).Add("a")
			assert.Error(t, err)
		})
	}
}
