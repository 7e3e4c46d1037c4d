package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/transfer"
)

// VerboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const VerboseLogKey = "REMOTESYNC_LOG_VERBOSE"

// Mocked for unit testing.
var exit = os.Exit

type friendlyError interface {
	FriendlyMessage() string
}

// HandleFatalError handles errors that are severe enough to terminate the
// program. Errors with a friendly message are printed as-is, and everything
// else is logged with its context.
func HandleFatalError(err error) {
	var friendly friendlyError
	if errors.As(err, &friendly) {
		fmt.Fprintln(os.Stderr, friendly.FriendlyMessage())
	} else {
		log.WithError(err).Error("Fatal error")
	}
	exit(1)
}

// HandlePanic logs panics before exiting, so that they end up in the log
// file of long running commands.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("Panic: %v", r)
		exit(1)
	}
}

// SetupLogging configures the standard logger. If logFile is non-empty, logs
// are written to it and rotated once they grow large. The returned closer
// should be closed before the program exits.
func SetupLogging(logFile string) io.Closer {
	if os.Getenv(VerboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	if logFile == "" {
		return noopCloser{}
	}

	log.SetFormatter(&log.TextFormatter{
		// Show the full timestamp rather than the time elapsed since the
		// process started.
		FullTimestamp: true,

		// Disable colors since we'll be logging to a file.
		DisableColors: true,
	})

	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 3,
		Compress:   true,
	}
	log.SetOutput(rotator)
	return rotator
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// PrintSummary prints the outcome of a run, listing every failed task.
func PrintSummary(w io.Writer, name string, result transfer.BatchResult) {
	status := goterm.Color("done", goterm.GREEN)
	if len(result.Failed) != 0 {
		status = goterm.Color("failed", goterm.RED)
	}

	fmt.Fprintf(w, "%s %s: %d succeeded, %d failed\n", name, status,
		result.Succeeded, len(result.Failed))

	for _, failure := range result.Failed {
		fmt.Fprintf(w, "  %s %s: %s\n", goterm.Color("✗", goterm.RED), failure.Task, failure.Err)
	}
}
