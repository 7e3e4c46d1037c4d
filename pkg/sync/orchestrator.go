package sync

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/fs"
	"github.com/sidkik/remotesync/pkg/ignore"
	"github.com/sidkik/remotesync/pkg/notify"
	"github.com/sidkik/remotesync/pkg/transfer"
)

// Endpoints are the two sides of a run.
type Endpoints struct {
	Local      fs.FileSystem
	LocalPath  string
	Remote     fs.FileSystem
	RemotePath string
}

// Options adjust a single run.
type Options struct {
	Policy Policy

	// Filter overrides the filter compiled from Policy.IgnorePatterns, so
	// that gitignore style files can be included.
	Filter *ignore.Filter

	// RunID is generated if empty.
	RunID string
}

// Orchestrator runs uploads, downloads and syncs.
type Orchestrator struct {
	Concurrency int
	Log         log.FieldLogger

	// Bus, if set, receives a RunCompleted event after every run that
	// reaches the transfer phase.
	Bus *notify.Bus
}

// Upload copies the local tree to the remote. Nothing is deleted, and every
// file that exists on both sides is overwritten.
func (o Orchestrator) Upload(ctx context.Context, ep Endpoints, opts Options) (transfer.BatchResult, error) {
	return o.run(ctx, ModeUpload, ep, opts)
}

// Download copies the remote tree to the local disk. Nothing is deleted, and
// local permission bits are left alone.
func (o Orchestrator) Download(ctx context.Context, ep Endpoints, opts Options) (transfer.BatchResult, error) {
	return o.run(ctx, ModeDownload, ep, opts)
}

// SyncToRemote reconciles the remote tree with the local one.
func (o Orchestrator) SyncToRemote(ctx context.Context, ep Endpoints, opts Options) (transfer.BatchResult, error) {
	return o.run(ctx, ModeSyncToRemote, ep, opts)
}

// SyncToLocal reconciles the local tree with the remote one.
func (o Orchestrator) SyncToLocal(ctx context.Context, ep Endpoints, opts Options) (transfer.BatchResult, error) {
	return o.run(ctx, ModeSyncToLocal, ep, opts)
}

// Plan returns the Decisions that a run would make, without changing
// anything.
func (o Orchestrator) Plan(ctx context.Context, mode Mode, ep Endpoints, opts Options) (Plan, error) {
	opts.Policy = restrict(mode, opts.Policy)
	return o.differ(mode, ep, opts).Diff(ctx)
}

// restrict drops the parts of a policy that don't apply to mode. Uploads and
// downloads never delete and always overwrite, and local permission bits are
// never changed.
func restrict(mode Mode, policy Policy) Policy {
	switch mode {
	case ModeUpload, ModeDownload:
		policy.DeleteExtraneous = false
		policy.IgnoreExisting = false
		policy.UpdateOnlyIfNewer = false
	}
	if isDownload(mode) {
		policy.PreserveTargetMode = false
	}
	return policy
}

func (o Orchestrator) run(ctx context.Context, mode Mode, ep Endpoints, opts Options) (transfer.BatchResult, error) {
	opts.Policy = restrict(mode, opts.Policy)
	runLog := o.logger().WithField("mode", mode.String())
	plan, err := o.differ(mode, ep, opts).Diff(ctx)
	if err != nil {
		return transfer.BatchResult{}, errors.WithContext(err, "diff")
	}

	source, target := ep.Local, ep.Remote
	if isDownload(mode) {
		source, target = ep.Remote, ep.Local
	}

	sched := transfer.New(source, target, transfer.Options{
		Concurrency: o.Concurrency,
		RunID:       opts.RunID,
		Log:         runLog,
	})
	runLog = runLog.WithField("run", sched.RunID())

	for _, decision := range plan.Decisions {
		if task, ok := toTask(mode, decision, opts.Policy); ok {
			sched.Add(task)
		}
	}

	result := sched.Run(ctx)

	// Walk failures come first, since they were found before any task ran.
	var walkFailures []transfer.Failure
	for _, failure := range plan.Failures {
		walkFailures = append(walkFailures, transfer.Failure{
			Task: transfer.Task{Kind: transfer.Scan, SourcePath: failure.RelativePath},
			Err:  failure.Err,
		})
	}
	result.Failed = append(walkFailures, result.Failed...)

	runLog.WithField("succeeded", result.Succeeded).
		WithField("failed", len(result.Failed)).
		Info("Run completed")

	if o.Bus != nil {
		o.Bus.Publish(notify.RunCompleted{Mode: mode.String(), RunID: result.RunID, Result: result})
	}
	return result, nil
}

func (o Orchestrator) differ(mode Mode, ep Endpoints, opts Options) Differ {
	d := Differ{
		Source:     ep.Local,
		SourceRoot: ep.LocalPath,
		Target:     ep.Remote,
		TargetRoot: ep.RemotePath,
		Policy:     opts.Policy,
		Filter:     opts.Filter,
		Log:        o.logger(),
	}
	if isDownload(mode) {
		d.Source, d.SourceRoot = ep.Remote, ep.RemotePath
		d.Target, d.TargetRoot = ep.Local, ep.LocalPath
	}
	return d
}

func (o Orchestrator) logger() log.FieldLogger {
	if o.Log == nil {
		return log.StandardLogger()
	}
	return o.Log
}

func isDownload(mode Mode) bool {
	return mode == ModeDownload || mode == ModeSyncToLocal
}

// toTask converts a Decision into the Task that carries it out. Skips have no
// task.
func toTask(mode Mode, d Decision, policy Policy) (transfer.Task, bool) {
	switch d.Action {
	case Delete:
		return transfer.Task{
			Kind:       transfer.Delete,
			TargetPath: d.TargetPath,
			Recursive:  d.Target != nil && d.Target.IsDir(),
		}, true
	case Create, Update:
		if d.Source.IsDir() {
			return transfer.Task{
				Kind:       transfer.Mkdir,
				TargetPath: d.TargetPath,
				EnsureDirs: d.EnsureDirs,
			}, true
		}

		kind := transfer.Upload
		if isDownload(mode) {
			kind = transfer.Download
		}
		return transfer.Task{
			Kind:       kind,
			SourcePath: d.Source.Path,
			TargetPath: d.TargetPath,
			SizeHint:   d.Source.Size,
			Mode:       targetMode(d, policy),
			EnsureDirs: d.EnsureDirs,
		}, true
	default:
		return transfer.Task{}, false
	}
}

// targetMode returns the permission bits to apply after copying, or zero to
// leave the target's mode to the filesystem.
func targetMode(d Decision, policy Policy) os.FileMode {
	if !policy.PreserveTargetMode {
		return 0
	}
	if d.Target != nil && d.Target.HasMode {
		return d.Target.Mode
	}
	if d.Target == nil && d.Source.HasMode {
		return d.Source.Mode
	}
	return 0
}
