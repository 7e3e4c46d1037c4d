// Package transfer executes file operations between two filesystems with
// bounded concurrency. Each task succeeds or fails on its own: a failed
// upload never cancels its siblings, and every task's outcome is reported in
// the BatchResult.
package transfer

import (
	"fmt"
	"os"
	"strings"
)

// Kind is the type of operation performed by a Task.
type Kind int

const (
	// Upload copies a file from the local filesystem to the remote.
	Upload Kind = iota
	// Download copies a file from the remote filesystem to the local one.
	Download
	// Delete removes a path from the target.
	Delete
	// Mkdir creates a directory on the target.
	Mkdir
	// Scan marks a failure to walk a directory. It's never executed, and
	// only appears in BatchResult failures.
	Scan
)

func (k Kind) String() string {
	switch k {
	case Upload:
		return "upload"
	case Download:
		return "download"
	case Delete:
		return "delete"
	case Mkdir:
		return "mkdir"
	case Scan:
		return "scan"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Task is a single operation. Tasks are independent of each other once
// they've been enqueued.
type Task struct {
	Kind       Kind
	SourcePath string
	TargetPath string
	SizeHint   int64

	// Mode, if non-zero, is applied to the target after the copy.
	Mode os.FileMode

	// EnsureDirs are target directories, ordered from the top down, that
	// must exist before the task runs.
	EnsureDirs []string

	// Recursive is set for deletes of directories.
	Recursive bool
}

func (t Task) String() string {
	if t.Kind == Upload || t.Kind == Download {
		return fmt.Sprintf("%s %s -> %s", t.Kind, t.SourcePath, t.TargetPath)
	}
	if t.TargetPath == "" {
		return fmt.Sprintf("%s %s", t.Kind, t.SourcePath)
	}
	return fmt.Sprintf("%s %s", t.Kind, t.TargetPath)
}

// Status is the result of executing a Task.
type Status int

const (
	// Succeeded means the task completed.
	Succeeded Status = iota
	// Failed means the task returned an error, or never ran because the run
	// was cancelled.
	Failed
)

func (s Status) String() string {
	if s == Succeeded {
		return "succeeded"
	}
	return "failed"
}

// Failure is a task that didn't complete, and why.
type Failure struct {
	Task Task
	Err  error
}

// BatchResult summarizes a run. Failures are ordered by when their task was
// enqueued.
type BatchResult struct {
	RunID     string
	Succeeded int
	Failed    []Failure
}

// Total returns the number of tasks in the run.
func (r BatchResult) Total() int {
	return r.Succeeded + len(r.Failed)
}

// Err combines all failures into one error. It returns nil if every task
// succeeded.
func (r BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return BatchError{Failed: r.Failed, Total: r.Total()}
}

// BatchError is returned by BatchResult.Err.
type BatchError struct {
	Failed []Failure
	Total  int
}

func (err BatchError) Error() string {
	var msgs []string
	for _, f := range err.Failed {
		msgs = append(msgs, fmt.Sprintf("%s: %s", f.Task, f.Err))
	}
	return fmt.Sprintf("%d of %d tasks failed:\n%s",
		len(err.Failed), err.Total, strings.Join(msgs, "\n"))
}
