package sync

import (
	"github.com/sidkik/remotesync/pkg/fs"
)

// Action is what should happen to a path.
type Action int

const (
	// Create copies an entry that's missing on the target.
	Create Action = iota
	// Update overwrites an entry that exists on the target.
	Update
	// Delete removes an entry that only exists on the target.
	Delete
	// Skip leaves the target untouched.
	Skip
)

func (a Action) String() string {
	switch a {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return "skip"
	}
}

// Reason explains a Skip.
type Reason string

const (
	ReasonIgnored      Reason = "ignored"
	ReasonExists       Reason = "exists"
	ReasonNotNewer     Reason = "not-newer"
	ReasonSkipCreate   Reason = "skip-create"
	ReasonTypeConflict Reason = "type-conflict"
	ReasonBrokenLink   Reason = "broken-link"
	ReasonLinkLoop     Reason = "link-loop"
)

// Decision is the Differ's verdict for one path.
type Decision struct {
	Action Action

	// RelativePath is the slash separated path relative to the sync roots.
	RelativePath string

	// Source and Target are the entries on each side, or nil if the entry
	// doesn't exist there.
	Source *fs.FileEntry
	Target *fs.FileEntry

	// TargetPath is where the action applies on the target.
	TargetPath string

	Reason Reason

	// EnsureDirs are the target directories, from the top down, that must
	// be created before the action.
	EnsureDirs []string
}

// WalkFailure records a directory that couldn't be walked. The rest of the
// tree is still diffed.
type WalkFailure struct {
	RelativePath string
	Err          error
}

// Plan is the output of a Differ.
type Plan struct {
	Decisions []Decision
	Failures  []WalkFailure
}

// Count returns the number of decisions with the given action.
func (p Plan) Count(action Action) int {
	var n int
	for _, d := range p.Decisions {
		if d.Action == action {
			n++
		}
	}
	return n
}
