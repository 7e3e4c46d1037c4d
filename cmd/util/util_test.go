package util

import (
	"bytes"
	"os"
	"testing"

	"github.com/buger/goterm"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/transfer"
)

func TestPrintSummary(t *testing.T) {
	tests := []struct {
		name   string
		result transfer.BatchResult
		exp    string
	}{
		{
			name: "Success",
			result: transfer.BatchResult{
				Succeeded: 2,
			},
			exp: "upload " + goterm.Color("done", goterm.GREEN) + ": 2 succeeded, 0 failed\n",
		},
		{
			name: "Failure",
			result: transfer.BatchResult{
				Succeeded: 1,
				Failed: []transfer.Failure{{
					Task: transfer.Task{Kind: transfer.Delete, TargetPath: "/srv/a"},
					Err:  errors.New("permission denied"),
				}},
			},
			exp: "upload " + goterm.Color("failed", goterm.RED) + ": 1 succeeded, 1 failed\n" +
				"  " + goterm.Color("✗", goterm.RED) + " delete /srv/a: permission denied\n",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var out bytes.Buffer
			PrintSummary(&out, "upload", test.result)
			assert.Equal(t, test.exp, out.String())
		})
	}
}

func TestHandleFatalError(t *testing.T) {
	var exitCode int
	exit = func(code int) { exitCode = code }
	defer func() { exit = os.Exit }()

	HandleFatalError(errors.WithContext(errors.NewFriendlyError("friendly"), "context"))
	assert.Equal(t, 1, exitCode)

	exitCode = 0
	HandleFatalError(errors.New("unfriendly"))
	assert.Equal(t, 1, exitCode)
}

func TestSetupLogging(t *testing.T) {
	closer := SetupLogging("")
	assert.NoError(t, closer.Close())
}
