package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/git-pkgs/hkg/client"
	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
)

// packagesDir is where archives live inside a repository.
const packagesDir = "files/packages"

// InitRepository creates an empty repository at root: a database with empty
// [INSTALLED] and [AVAILABLE] sections and the archive directory.
func (b *Builder) InitRepository(root string) error {
	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	dbPath := filepath.Join(root, client.DatabasePath)
	if _, err := os.Stat(dbPath); err == nil {
		return fmt.Errorf("%s: %w", dbPath, fs.ErrExist)
	}
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(packagesDir)), 0o755); err != nil {
		return err
	}
	if err := hdb.WriteFile(dbPath, hdb.Database{}); err != nil {
		return err
	}
	b.logger.Info("initialized repository", "path", root)
	return nil
}

// StaleArchive is an archive older than the version its repository lists.
type StaleArchive struct {
	Name    string
	Listed  core.Version
	Archive core.Version
}

// InvalidArchive is an archive whose metadata could not be read.
type InvalidArchive struct {
	Path string
	Err  error
}

// RepositoryReport lists what UpdateRepository found.
type RepositoryReport struct {
	Added   []hdb.Entry
	Updated []hdb.Entry
	Removed []string
	// Stale archives are reported but never listed at the lower version.
	Stale   []StaleArchive
	Invalid []InvalidArchive
}

// UpdateRepository brings the [AVAILABLE] section of the repository at root
// in line with its archives. New packages are appended, higher versions
// replace lower ones in place and entries whose archive disappeared are
// deleted. An archive older than its listed version leaves the entry as is.
func (b *Builder) UpdateRepository(root string) (*RepositoryReport, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	dbPath := filepath.Join(root, client.DatabasePath)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("%s is not a repository: %w", root, err)
	}
	db, err := hdb.ReadFile(dbPath)
	if err != nil {
		return nil, err
	}

	report := &RepositoryReport{}
	present := make(map[string]bool)

	dirs, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(packagesDir)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, d := range dirs {
		name := d.Name()
		if !d.IsDir() || core.ValidateName(name) != nil {
			continue
		}
		path := filepath.Join(root, filepath.FromSlash(client.ArchiveRelPath(name)))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		present[name] = true
		if err != nil {
			report.Invalid = append(report.Invalid, InvalidArchive{Path: path, Err: err})
			continue
		}
		rec, err := archive.ReadMetadata(data)
		if err == nil && rec.Name != name {
			err = fmt.Errorf("%w: archive holds package %q", core.ErrCorruptArchive, rec.Name)
		}
		if err != nil {
			b.logger.Warn("skipping unreadable archive", "path", path, "error", err)
			report.Invalid = append(report.Invalid, InvalidArchive{Path: path, Err: err})
			continue
		}

		listed, ok := db.Available.Get(name)
		entry := hdb.Entry{Name: name, Version: rec.Version}
		switch {
		case !ok:
			report.Added = append(report.Added, entry)
		case listed.Less(rec.Version):
			report.Updated = append(report.Updated, entry)
		case rec.Version.Less(listed):
			report.Stale = append(report.Stale, StaleArchive{Name: name, Listed: listed, Archive: rec.Version})
			b.logger.Warn("archive is older than its listed version", "package", name, "listed", listed.String(), "archive", rec.Version.String())
			continue
		default:
			continue
		}
		if db, err = hdb.Upsert(db, hdb.Available, name, rec.Version); err != nil {
			return nil, err
		}
	}

	for _, name := range db.Available.Names() {
		if present[name] {
			continue
		}
		report.Removed = append(report.Removed, name)
		if db, err = hdb.Delete(db, hdb.Available, name); err != nil {
			return nil, err
		}
	}

	if err := hdb.WriteFile(dbPath, db); err != nil {
		return nil, err
	}
	b.logger.Info("updated repository database", "path", dbPath,
		"added", len(report.Added), "updated", len(report.Updated), "removed", len(report.Removed))
	return report, nil
}

// Publish copies a built archive into the repository at root under the
// path clients fetch it from. The database is not touched; run
// UpdateRepository afterwards.
func (b *Builder) Publish(root string, a *Artifact) (string, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(root, filepath.FromSlash(client.ArchiveRelPath(a.Metadata.Name)))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	if err := writeFileAtomic(dest, data, 0o644); err != nil {
		return "", err
	}
	return dest, nil
}
