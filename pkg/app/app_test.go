package app

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/remotesync/pkg/config"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/fs/remote"
	"github.com/sidkik/remotesync/pkg/notify"
	"github.com/sidkik/remotesync/pkg/sync"
	"github.com/sidkik/remotesync/pkg/transfer"
)

type mockRemote struct {
	*fs.Afero
	closed bool
}

func (m *mockRemote) Close() error {
	m.closed = true
	return nil
}

func newContext(t *testing.T, profile config.Profile) (*Context, *mockRemote, *int) {
	local := afero.NewMemMapFs()
	require.NoError(t, local.MkdirAll("/ws/site", 0755))
	require.NoError(t, afero.WriteFile(local, "/ws/.gitignore", []byte("*.log\r\n"), 0644))
	require.NoError(t, afero.WriteFile(local, "/ws/site/index.html", []byte("<html>"), 0644))

	conn := &mockRemote{Afero: fs.NewAfero(afero.NewMemMapFs())}
	require.NoError(t, conn.Fs().MkdirAll("/srv", 0755))

	dials := 0
	c, err := New(Options{
		Workspace: "/ws",
		Profile:   profile,
		Local:     fs.NewAfero(local),
		Dial: func(context.Context, config.Profile) (remote.FileSystem, error) {
			dials++
			return conn, nil
		},
	})
	require.NoError(t, err)
	return c, conn, &dials
}

func TestFilter(t *testing.T) {
	c, _, _ := newContext(t, config.Profile{
		Name:       "dev",
		Ignore:     []string{".git"},
		IgnoreFile: ".gitignore",
	})
	defer c.Close()

	assert.True(t, c.Filter.Match(".git"))
	assert.True(t, c.Filter.Match("logs/debug.log"))
	assert.False(t, c.Filter.Match("index.html"))
	assert.Equal(t, "dev", c.State.Get().Profile)
}

func TestEndpoints(t *testing.T) {
	c, conn, dials := newContext(t, config.Profile{
		Name:       "dev",
		Context:    "site",
		RemotePath: "/srv/",
	})

	ep, err := c.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/ws/site", ep.LocalPath)
	assert.Equal(t, "/srv", ep.RemotePath)

	_, err = c.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *dials)

	assert.NoError(t, c.Close())
	assert.True(t, conn.closed)
}

func TestRunUpdatesStatus(t *testing.T) {
	c, conn, _ := newContext(t, config.Profile{
		Name:        "dev",
		Protocol:    config.ProtocolFTP,
		Context:     "site",
		RemotePath:  "/srv",
		Concurrency: 2,
	})
	defer c.Close()

	var statuses []Status
	unsubscribe := c.State.Subscribe(func(s Status) { statuses = append(statuses, s) })

	ep, err := c.Endpoints(context.Background())
	require.NoError(t, err)

	result, err := c.Orchestrator().Upload(context.Background(), ep, c.Options(sync.ModeUpload))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Empty(t, result.Failed)

	contents, err := afero.ReadFile(conn.Fs(), "/srv/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(contents))

	c.Bus.Publish(notify.WatchListChanged{Files: []string{"a", "b"}})

	unsubscribe()
	c.Bus.Publish(notify.RunCompleted{Mode: "download", Result: transfer.BatchResult{}})

	assert.Equal(t, []Status{
		{Text: "upload finished: 1 succeeded, 0 failed", Profile: "dev"},
		{Text: "Watching 2 patterns", Profile: "dev"},
	}, statuses)
	assert.Equal(t, "download finished: 0 succeeded, 0 failed", c.State.Get().Text)
}

func TestStateSubscribe(t *testing.T) {
	var state State
	var got []string
	unsubscribe := state.Subscribe(func(s Status) { got = append(got, s.Text) })

	state.SetText("one")
	state.SetText("two")
	unsubscribe()
	unsubscribe()
	state.SetText("three")

	assert.Equal(t, []string{"one", "two"}, got)
	assert.Equal(t, "three", state.Get().Text)
}
