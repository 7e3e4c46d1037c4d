package sync

import (
	"github.com/sidkik/remotesync/pkg/config"
)

// Mode is the direction and style of a run.
type Mode int

const (
	// ModeUpload copies local files to the remote.
	ModeUpload Mode = iota
	// ModeDownload copies remote files to the local disk.
	ModeDownload
	// ModeSyncToRemote reconciles the remote with the local tree.
	ModeSyncToRemote
	// ModeSyncToLocal reconciles the local tree with the remote.
	ModeSyncToLocal
)

func (m Mode) String() string {
	switch m {
	case ModeUpload:
		return "upload"
	case ModeDownload:
		return "download"
	case ModeSyncToRemote:
		return "sync-to-remote"
	case ModeSyncToLocal:
		return "sync-to-local"
	default:
		return "unknown"
	}
}

// Policy controls how the Differ treats differences between the trees. It's
// fixed for the duration of a run.
type Policy struct {
	// DeleteExtraneous deletes target entries that don't exist in the
	// source.
	DeleteExtraneous bool

	// SkipCreate skips entries that are missing on the target, so only
	// existing entries are updated.
	SkipCreate bool

	// SkipIfTargetExists and IgnoreExisting both skip entries that already
	// exist on the target.
	SkipIfTargetExists bool
	IgnoreExisting     bool

	// UpdateOnlyIfNewer skips entries whose source isn't strictly newer
	// than the target.
	UpdateOnlyIfNewer bool

	// PreserveTargetMode applies the target's existing permission bits to
	// updated files, and the source's bits to created ones.
	PreserveTargetMode bool

	IgnorePatterns []string
}

// PolicyFor builds the policy used by mode for a profile.
func PolicyFor(mode Mode, profile config.Profile) Policy {
	policy := Policy{IgnorePatterns: profile.Ignore}
	switch mode {
	case ModeUpload:
		policy.PreserveTargetMode = preservesMode(profile)
	case ModeSyncToRemote:
		policy.PreserveTargetMode = preservesMode(profile)
		applySyncOption(&policy, profile.SyncOption)
	case ModeSyncToLocal:
		applySyncOption(&policy, profile.SyncOption)
	}
	return policy
}

// preservesMode returns whether the remote keeps permission bits that are
// worth preserving. Only SFTP does.
func preservesMode(profile config.Profile) bool {
	return profile.Protocol == config.ProtocolSFTP
}

func applySyncOption(policy *Policy, opt config.SyncOption) {
	policy.DeleteExtraneous = opt.Delete
	policy.SkipCreate = opt.SkipCreate
	policy.IgnoreExisting = opt.IgnoreExisting
	policy.UpdateOnlyIfNewer = opt.Update
}
