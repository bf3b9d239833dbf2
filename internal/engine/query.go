package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/git-pkgs/hkg/client"
	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/config"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
	"github.com/git-pkgs/hkg/internal/metadata"
)

// SelfName is the package name hkg itself is distributed under.
const SelfName = "hkg"

// ReadmePath is the location of the readme inside the hkg package tree.
const ReadmePath = "lib/readme.md"

// PackageInfo describes a package and where it comes from.
type PackageInfo struct {
	// Repository is zero for an installed package read locally.
	Repository core.Repository
	Metadata   *metadata.Record
	PURL       string
	// URLs maps "database", "archive" and "purl" to where the package was
	// resolved. Empty for an installed package read locally.
	URLs map[string]string
	// Installed is the locally installed version, if any.
	Installed *core.Version
}

// Info resolves target like Install and reads the metadata of its archive
// without extracting anything.
func (e *Engine) Info(ctx context.Context, target string) (*PackageInfo, error) {
	t, err := parseTarget(target)
	if err != nil {
		return nil, err
	}
	o := e.begin("info", t.Name)

	repos, err := e.repositoriesFor(t)
	if err != nil {
		return nil, o.fail(err)
	}
	c, err := e.resolveFirst(ctx, t, repos)
	if err != nil {
		return nil, o.fail(err)
	}
	o.repo = c.repo.URL

	o.enter(core.PhaseFetching)
	data, err := e.client.FetchPackageArchive(ctx, c.repo, t.Name)
	if err != nil {
		return nil, o.fail(err)
	}
	rec, err := archive.ReadMetadata(data)
	if err != nil {
		return nil, o.fail(err)
	}
	if rec.Name != t.Name {
		return nil, o.fail(fmt.Errorf("%w: archive holds package %q", core.ErrCorruptArchive, rec.Name))
	}
	o.enter(core.PhaseDone)

	urls := client.BuildURLs(client.NewRepoURLs(c.repo.URL), rec.Name, rec.Version.String())
	info := &PackageInfo{
		Repository: c.repo,
		Metadata:   rec,
		PURL:       urls["purl"],
		URLs:       urls,
	}
	if v, ok, err := e.state.Version(t.Name); err == nil && ok {
		info.Installed = &v
	}
	return info, nil
}

// LocalInfo reads the metadata of an installed package.
func (e *Engine) LocalInfo(name string) (*PackageInfo, error) {
	v, ok, err := e.InstalledVersion(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, core.ErrNotInstalled)
	}
	rec, err := e.state.ReadMetadata(name)
	if err != nil {
		return nil, fmt.Errorf("reading installed metadata of %s: %w", name, err)
	}
	return &PackageInfo{
		Metadata:  rec,
		PURL:      client.PURL("", rec.Name, rec.Version.String()),
		Installed: &v,
	}, nil
}

// InstalledVersion returns the installed version of name.
func (e *Engine) InstalledVersion(name string) (core.Version, bool, error) {
	if err := core.ValidateName(name); err != nil {
		return core.Version{}, false, err
	}
	return e.state.Version(name)
}

// ListInstalled returns the installed packages.
func (e *Engine) ListInstalled() ([]hdb.Entry, error) {
	return e.state.CurrentlyInstalled()
}

// Listing is the package list of one repository.
type Listing struct {
	Repository core.Repository
	Packages   []hdb.Entry
	Err        error
}

// ListAvailable lists the packages of the configured repository url, or of
// every configured repository when url is All. For All, a repository that
// cannot be read is reported in its Listing and the walk goes on.
func (e *Engine) ListAvailable(ctx context.Context, url string) ([]Listing, error) {
	configured, err := e.repos.Repositories()
	if err != nil {
		return nil, err
	}

	if url != All {
		repo, err := findRepository(configured, url)
		if err != nil {
			return nil, err
		}
		db, err := e.client.FetchDatabase(ctx, repo)
		if err != nil {
			return nil, err
		}
		return []Listing{{Repository: repo, Packages: db.Available}}, nil
	}

	listings := make([]Listing, 0, len(configured))
	for _, repo := range configured {
		if err := ctx.Err(); err != nil {
			return listings, err
		}
		db, err := e.client.FetchDatabase(ctx, repo)
		if err != nil {
			e.logger.Warn("listing repository", "repository", repo.URL, "error", err)
		}
		listings = append(listings, Listing{Repository: repo, Packages: db.Available, Err: err})
	}
	return listings, nil
}

func findRepository(configured []core.Repository, raw string) (core.Repository, error) {
	url, err := config.NormalizeURL(raw)
	if err != nil {
		return core.Repository{}, err
	}
	for _, r := range configured {
		if r.URL == url {
			return r, nil
		}
	}
	return core.Repository{}, fmt.Errorf("%w: %s", core.ErrRepositoryNotConfigured, url)
}

// Readme returns the readme shipped with the installed hkg package.
func (e *Engine) Readme() ([]byte, error) {
	_, ok, err := e.state.Version(SelfName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", SelfName, core.ErrNotInstalled)
	}
	data, err := os.ReadFile(filepath.Join(e.paths.Package(SelfName), filepath.FromSlash(ReadmePath)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s has no readme: %w", SelfName, core.ErrNotFound)
	}
	return data, err
}
