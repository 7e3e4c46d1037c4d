package util

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/remotesync/pkg/app"
	"github.com/sidkik/remotesync/pkg/errors"
	"github.com/sidkik/remotesync/pkg/sync"
	"github.com/sidkik/remotesync/pkg/transfer"
)

// RunOptions configure Run.
type RunOptions struct {
	Mode sync.Mode

	// Path limits the run to a single file or folder. Relative paths are
	// resolved against the working directory.
	Path string

	// DryRun prints the plan instead of executing it.
	DryRun bool

	// SkipExisting skips files that already exist on the target.
	SkipExisting bool
}

// Run executes an upload, download or sync for the context's profile, and
// prints a summary to out. It returns an error if any task failed.
func Run(ctx context.Context, c *app.Context, opts RunOptions, out io.Writer) error {
	ep, err := c.Endpoints(ctx)
	if err != nil {
		return errors.WithContext(err, "connect")
	}

	if opts.Path != "" {
		rel, err := relativeToRoot(c.Profile.LocalRoot(c.Workspace), opts.Path)
		if err != nil {
			return err
		}
		ep.LocalPath = path.Join(ep.LocalPath, rel)
		ep.RemotePath = path.Join(ep.RemotePath, rel)
	}

	runOpts := c.Options(opts.Mode)
	runOpts.Policy.SkipIfTargetExists = opts.SkipExisting

	orch := c.Orchestrator()
	if opts.DryRun {
		plan, err := orch.Plan(ctx, opts.Mode, ep, runOpts)
		if err != nil {
			return err
		}
		PrintPlan(out, plan)
		return nil
	}

	var result transfer.BatchResult
	switch opts.Mode {
	case sync.ModeUpload:
		result, err = orch.Upload(ctx, ep, runOpts)
	case sync.ModeDownload:
		result, err = orch.Download(ctx, ep, runOpts)
	case sync.ModeSyncToRemote:
		result, err = orch.SyncToRemote(ctx, ep, runOpts)
	case sync.ModeSyncToLocal:
		result, err = orch.SyncToLocal(ctx, ep, runOpts)
	default:
		return errors.New(fmt.Sprintf("unknown mode %s", opts.Mode))
	}
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewFriendlyError("Nothing to %s: %s", opts.Mode, errors.RootCause(err))
		}
		return err
	}

	if len(result.Failed) != 0 {
		// The connection may have broken, so don't reuse it.
		c.Remotes.Forget(c.Profile)
	}

	PrintSummary(out, opts.Mode.String(), result)
	return result.Err()
}

// relativeToRoot converts p into a slash separated path relative to root.
func relativeToRoot(root, p string) (string, error) {
	if !filepath.IsAbs(p) {
		wd, err := getWorkingDirectory()
		if err != nil {
			return "", errors.WithContext(err, "get working directory")
		}
		p = filepath.Join(wd, p)
	}

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewFriendlyError("%q is outside of the synced directory %q.", p, root)
	}
	return filepath.ToSlash(rel), nil
}

var actionColors = map[sync.Action]int{
	sync.Create: goterm.GREEN,
	sync.Update: goterm.YELLOW,
	sync.Delete: goterm.RED,
}

// PrintPlan prints the decisions that a run would carry out. Skips are only
// printed at the debug log level.
func PrintPlan(out io.Writer, plan sync.Plan) {
	for _, d := range plan.Decisions {
		if d.Action == sync.Skip {
			log.WithField("path", d.RelativePath).
				WithField("reason", d.Reason).
				Debug("Skip")
			continue
		}

		name := d.RelativePath
		if name == "" {
			name = d.TargetPath
		}
		fmt.Fprintf(out, "%s %s\n", goterm.Color(fmt.Sprintf("%-6s", d.Action), actionColors[d.Action]), name)
	}

	for _, failure := range plan.Failures {
		fmt.Fprintf(out, "%s %s: %s\n", goterm.Color("error ", goterm.RED), failure.RelativePath, failure.Err)
	}

	fmt.Fprintf(out, "%d to create, %d to update, %d to delete, %d skipped\n",
		plan.Count(sync.Create), plan.Count(sync.Update),
		plan.Count(sync.Delete), plan.Count(sync.Skip))
}
