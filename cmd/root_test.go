package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	root := New()
	assert.Equal(t, "remotesync", root.Name())

	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"config", "download", "sync", "upload", "version", "watch"}, names)

	for _, path := range [][]string{
		{"sync", "remote"},
		{"sync", "local"},
		{"watch", "add"},
		{"watch", "remove"},
		{"watch", "list"},
		{"watch", "run"},
		{"config", "init"},
	} {
		found, _, err := root.Find(path)
		if assert.NoError(t, err, path) {
			assert.Equal(t, path[len(path)-1], found.Name())
		}
	}
}
