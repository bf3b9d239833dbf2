package engine

import (
	"context"

	"github.com/git-pkgs/hkg/internal/core"
)

// Install installs a package that is not yet installed. target is a package
// name or a pkg:hkg package URL; a repository_url qualifier restricts
// resolution to that repository and a version pins the offered version.
func (e *Engine) Install(ctx context.Context, target string) (Result, error) {
	t, err := parseTarget(target)
	if err != nil {
		return Result{Package: target, Status: StatusFailed, Phase: core.PhaseFailed, Err: err}, err
	}

	var res Result
	err = e.mutate(ctx, func() error {
		o := e.begin("install", t.Name)

		if _, ok, err := e.state.Version(t.Name); err != nil {
			res = o.failed(err)
			return res.Err
		} else if ok {
			res = o.failed(core.ErrAlreadyInstalled)
			return res.Err
		}

		repos, err := e.repositoriesFor(t)
		if err != nil {
			res = o.failed(err)
			return res.Err
		}
		c, err := e.resolveFirst(ctx, t, repos)
		if err != nil {
			res = o.failed(err)
			return res.Err
		}
		o.repo = c.repo.URL

		res = e.fetchAndCommit(ctx, o, c, false, nil)
		if res.Status == StatusFailed {
			return res.Err
		}
		res.Status = StatusInstalled
		return nil
	})
	if err != nil && res.Status == "" {
		res = Result{Package: t.Name, Status: StatusFailed, Phase: core.PhaseFailed, Err: err}
	}
	return res, err
}

// fetchAndCommit runs FETCHING, STAGING and COMMITTING for a resolved
// candidate. A non-nil accept sees the staged version before COMMITTING and
// may stop the operation by returning a status. The returned result has no
// status when the commit happened; the staged version is reported in Version.
func (e *Engine) fetchAndCommit(ctx context.Context, o *operation, c candidate, preserve bool, accept func(core.Version) Status) Result {
	o.enter(core.PhaseFetching)
	data, err := e.client.FetchPackageArchive(ctx, c.repo, o.name)
	if err != nil {
		return o.failed(err)
	}

	o.enter(core.PhaseStaging)
	s, err := e.stage(o, data, preserve)
	if err != nil {
		return o.failed(err)
	}
	defer s.cleanup()
	if s.meta.Version != c.version {
		o.logger.Warn("archive version differs from repository database", "database", c.version.String(), "archive", s.meta.Version.String())
	}
	if accept != nil {
		if status := accept(s.meta.Version); status != "" {
			o.enter(core.PhaseDone)
			return o.result(status, s.meta.Version)
		}
	}

	o.enter(core.PhaseCommitting)
	if err := e.commit(o, s); err != nil {
		return o.failed(err)
	}

	o.enter(core.PhaseDone)
	res := o.result("", s.meta.Version)
	res.Preserved = s.preserved
	return res
}
