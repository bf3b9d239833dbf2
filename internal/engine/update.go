package engine

import (
	"context"

	"github.com/git-pkgs/hkg/internal/core"
)

// All selects every installed package as the update target.
const All = "all"

// UpdateOptions configures Update.
type UpdateOptions struct {
	// NoPreserve discards the previous etc tree instead of keeping its files
	// as .hkg_old copies.
	NoPreserve bool
}

// Update brings target, or every installed package when target is All, to
// the highest version offered by the configured repositories. Packages are
// processed one at a time and a failure does not stop the batch. Having no
// newer version is reported in the summary, not as an error. The returned
// error joins the errors of all failed packages.
func (e *Engine) Update(ctx context.Context, target string, opts UpdateOptions) (*Summary, error) {
	summary := &Summary{}
	if target != All {
		if err := core.ValidateName(target); err != nil {
			return summary, err
		}
	}

	err := e.mutate(ctx, func() error {
		names := []string{target}
		if target == All {
			installed, err := e.state.CurrentlyInstalled()
			if err != nil {
				return err
			}
			names = names[:0]
			for _, entry := range installed {
				names = append(names, entry.Name)
			}
		}

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			summary.Results = append(summary.Results, e.updateOne(ctx, name, opts))
		}
		return summary.Err()
	})
	return summary, err
}

func (e *Engine) updateOne(ctx context.Context, name string, opts UpdateOptions) Result {
	o := e.begin("update", name)

	current, ok, err := e.state.Version(name)
	if err != nil {
		return o.failed(err)
	}
	if !ok {
		return o.failed(core.ErrNotInstalled)
	}

	repos, err := e.repos.Repositories()
	if err != nil {
		return o.failed(err)
	}
	c, err := e.resolveBest(ctx, name, repos)
	if err != nil {
		return o.failed(err)
	}
	o.repo = c.repo.URL

	if status := compareVersions(o, current, c.version); status != "" {
		o.enter(core.PhaseDone)
		res := o.result(status, c.version)
		res.Previous = &current
		return res
	}

	res := e.fetchAndCommit(ctx, o, c, e.preserveEtc && !opts.NoPreserve, func(staged core.Version) Status {
		return compareVersions(o, current, staged)
	})
	res.Previous = &current
	if res.Status == "" {
		res.Status = StatusUpdated
	}
	return res
}

// compareVersions returns the status ending an update that would not move
// forward, or the empty status when offered is newer than installed.
func compareVersions(o *operation, installed, offered core.Version) Status {
	switch installed.Compare(offered) {
	case 0:
		o.logger.Info("already up to date", "version", installed.String())
		return StatusUpToDate
	case 1:
		o.logger.Warn("refusing to downgrade", "installed", installed.String(), "offered", offered.String(), "repository", o.repo)
		return StatusDowngradeRefused
	}
	return ""
}

