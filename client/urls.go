// Package client builds the URLs of a package repository: its database, its
// package archives, and package URLs identifying a package in it.
package client

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"

	"github.com/git-pkgs/hkg/internal/core"
)

// DatabasePath is the database location relative to a repository root.
const DatabasePath = "packages.hdb"

// PURLType is the package URL type of hkg packages.
const PURLType = "hkg"

// RepositoryQualifier pins a package URL to one repository.
const RepositoryQualifier = "repository_url"

// ArchiveRelPath returns the archive location of name relative to a
// repository root.
func ArchiveRelPath(name string) string {
	return "files/packages/" + name + "/" + name + ".hkg"
}

// URLBuilder constructs URLs for packages in a repository.
type URLBuilder interface {
	Database() string
	Archive(name string) string
	PURL(name, version string) string
}

// RepoURLs is the URLBuilder for a repository root URL.
type RepoURLs struct {
	Base string
}

// NewRepoURLs returns a builder rooted at base.
func NewRepoURLs(base string) *RepoURLs {
	return &RepoURLs{Base: strings.TrimRight(base, "/")}
}

func (r *RepoURLs) Database() string {
	return r.Base + "/" + DatabasePath
}

func (r *RepoURLs) Archive(name string) string {
	return r.Base + "/" + ArchiveRelPath(name)
}

func (r *RepoURLs) PURL(name, version string) string {
	return PURL(r.Base, name, version)
}

// BuildURLs returns a map of all non-empty URLs for a package.
// Keys are "database", "archive", and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	result := make(map[string]string)
	if v := urls.Database(); v != "" {
		result["database"] = v
	}
	if v := urls.Archive(name); v != "" {
		result["archive"] = v
	}
	if v := urls.PURL(name, version); v != "" {
		result["purl"] = v
	}
	return result
}

// PURL renders pkg:hkg/<name>[@<version>][?repository_url=<repo>].
func PURL(repoURL, name, version string) string {
	var qualifiers packageurl.Qualifiers
	if repoURL != "" {
		qualifiers = packageurl.QualifiersFromMap(map[string]string{RepositoryQualifier: repoURL})
	}
	return packageurl.NewPackageURL(PURLType, "", name, version, qualifiers, "").ToString()
}

// Target names a package to act on, optionally pinned to a version and a
// repository.
type Target struct {
	Name          string
	Version       string
	RepositoryURL string
}

// ParseTarget accepts a bare package name or a pkg:hkg package URL.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "pkg:") {
		if err := core.ValidateName(s); err != nil {
			return Target{}, err
		}
		return Target{Name: s}, nil
	}

	p, err := packageurl.FromString(s)
	if err != nil {
		return Target{}, fmt.Errorf("parsing package URL %q: %w", s, err)
	}
	if p.Type != PURLType {
		return Target{}, fmt.Errorf("package URL %q has type %q, want %q", s, p.Type, PURLType)
	}
	if p.Namespace != "" || p.Subpath != "" {
		return Target{}, fmt.Errorf("package URL %q: hkg packages have no namespace or subpath", s)
	}
	if err := core.ValidateName(p.Name); err != nil {
		return Target{}, err
	}
	if p.Version != "" {
		if _, err := core.ParseVersion(p.Version); err != nil {
			return Target{}, err
		}
	}
	return Target{
		Name:          p.Name,
		Version:       p.Version,
		RepositoryURL: p.Qualifiers.Map()[RepositoryQualifier],
	}, nil
}
