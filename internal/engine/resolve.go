package engine

import (
	"context"
	"fmt"

	"github.com/git-pkgs/hkg/client"
	"github.com/git-pkgs/hkg/internal/config"
	"github.com/git-pkgs/hkg/internal/core"
)

// candidate is a repository offering a package at a version.
type candidate struct {
	repo    core.Repository
	version core.Version
}

// repositoriesFor returns the repositories to search for t: the one its
// package URL names, or every configured repository.
func (e *Engine) repositoriesFor(t client.Target) ([]core.Repository, error) {
	configured, err := e.repos.Repositories()
	if err != nil {
		return nil, err
	}
	if t.RepositoryURL == "" {
		return configured, nil
	}

	url, err := config.NormalizeURL(t.RepositoryURL)
	if err != nil {
		return nil, err
	}
	for _, r := range configured {
		if r.URL == url {
			return []core.Repository{r}, nil
		}
	}
	return []core.Repository{{URL: url}}, nil
}

// resolveFirst returns the first repository whose database lists t.Name,
// honoring a pinned version. Repositories that cannot be read are skipped
// and reported with the not-found error.
func (e *Engine) resolveFirst(ctx context.Context, t client.Target, repos []core.Repository) (candidate, error) {
	var pinned *core.Version
	if t.Version != "" {
		v, err := core.ParseVersion(t.Version)
		if err != nil {
			return candidate{}, err
		}
		pinned = &v
	}

	notFound := &core.PackageNotFoundError{Name: t.Name}
	for _, repo := range repos {
		notFound.Searched = append(notFound.Searched, repo.URL)
		db, err := e.client.FetchDatabase(ctx, repo)
		if err != nil {
			if ctx.Err() != nil {
				return candidate{}, err
			}
			e.logger.Warn("skipping repository", "repository", repo.URL, "error", err)
			notFound.Failures = append(notFound.Failures, err)
			continue
		}
		v, ok := db.Available.Get(t.Name)
		if !ok {
			continue
		}
		if pinned != nil && v != *pinned {
			e.logger.Debug("repository offers another version", "repository", repo.URL, "package", t.Name, "version", v.String(), "want", pinned.String())
			continue
		}
		return candidate{repo: repo, version: v}, nil
	}
	return candidate{}, notFound
}

// resolveBest returns the repository offering the highest version of name.
// Ties go to the repository registered first.
func (e *Engine) resolveBest(ctx context.Context, name string, repos []core.Repository) (candidate, error) {
	var best *candidate
	notFound := &core.PackageNotFoundError{Name: name}
	for _, repo := range repos {
		notFound.Searched = append(notFound.Searched, repo.URL)
		db, err := e.client.FetchDatabase(ctx, repo)
		if err != nil {
			if ctx.Err() != nil {
				return candidate{}, err
			}
			e.logger.Warn("skipping repository", "repository", repo.URL, "error", err)
			notFound.Failures = append(notFound.Failures, err)
			continue
		}
		v, ok := db.Available.Get(name)
		if !ok {
			continue
		}
		if best == nil || best.version.Less(v) {
			best = &candidate{repo: repo, version: v}
		}
	}
	if best == nil {
		return candidate{}, notFound
	}
	return *best, nil
}

func parseTarget(s string) (client.Target, error) {
	t, err := client.ParseTarget(s)
	if err != nil {
		return client.Target{}, fmt.Errorf("invalid package %q: %w", s, err)
	}
	return t, nil
}
