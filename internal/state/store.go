// Package state records which packages are installed locally. The record is
// a package database whose [INSTALLED] section lists every live package tree.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
	"github.com/git-pkgs/hkg/internal/logging"
	"github.com/git-pkgs/hkg/internal/metadata"
)

// Store reads and writes the local package database. Every call re-reads
// the file, so no in-memory copy outlives a single operation.
type Store struct {
	path     string
	packages string
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New returns a store backed by the database at dbPath, describing the live
// package trees under packagesDir.
func New(dbPath, packagesDir string, opts ...Option) *Store {
	s := &Store{path: dbPath, packages: packagesDir}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrDiscard(s.logger)
	return s
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the local database. A missing file is an empty database.
func (s *Store) Load() (hdb.Database, error) {
	return hdb.ReadFile(s.path)
}

// CurrentlyInstalled returns the installed packages in the order they were
// first recorded.
func (s *Store) CurrentlyInstalled() ([]hdb.Entry, error) {
	db, err := s.Load()
	if err != nil {
		return nil, err
	}
	return append([]hdb.Entry(nil), db.Installed...), nil
}

// Version returns the installed version of name.
func (s *Store) Version(name string) (core.Version, bool, error) {
	db, err := s.Load()
	if err != nil {
		return core.Version{}, false, err
	}
	v, ok := db.Installed.Get(name)
	return v, ok, nil
}

// RecordInstall sets the installed version of name. Recording the same name
// again replaces its entry.
func (s *Store) RecordInstall(name string, v core.Version) error {
	db, err := s.Load()
	if err != nil {
		return err
	}
	db, err = hdb.Upsert(db, hdb.Installed, name, v)
	if err != nil {
		return err
	}
	if err := hdb.WriteFile(s.path, db); err != nil {
		return err
	}
	s.logger.Debug("recorded install", "package", name, "version", v.String())
	return nil
}

// RecordRemoval drops name from the installed set. Removing an absent name
// is not an error.
func (s *Store) RecordRemoval(name string) error {
	db, err := s.Load()
	if err != nil {
		return err
	}
	if !db.Installed.Has(name) {
		return nil
	}
	db, err = hdb.Delete(db, hdb.Installed, name)
	if err != nil {
		return err
	}
	if err := hdb.WriteFile(s.path, db); err != nil {
		return err
	}
	s.logger.Debug("recorded removal", "package", name)
	return nil
}

// Report lists the changes Reconcile made.
type Report struct {
	// Dropped entries had no live tree.
	Dropped []string
	// Adopted live trees were missing from the database.
	Adopted []hdb.Entry
	// Corrected entries disagreed with their tree's metadata.
	Corrected []hdb.Entry
}

// Changed reports whether Reconcile rewrote the database.
func (r Report) Changed() bool {
	return len(r.Dropped) > 0 || len(r.Adopted) > 0 || len(r.Corrected) > 0
}

// Reconcile makes the database agree with the live package trees. Entries
// without a tree are dropped. Trees with valid metadata are adopted or have
// their entry set to the metadata version. Trees whose metadata cannot be
// read are left as they are.
func (s *Store) Reconcile() (Report, error) {
	var report Report

	db, err := s.Load()
	if err != nil {
		return report, err
	}

	for _, e := range db.Installed {
		if _, err := os.Stat(filepath.Join(s.packages, e.Name)); errors.Is(err, fs.ErrNotExist) {
			report.Dropped = append(report.Dropped, e.Name)
			db.Installed = db.Installed.Delete(e.Name)
			s.logger.Warn("dropping package with no installed files", "package", e.Name)
		} else if err != nil {
			return report, fmt.Errorf("checking %s: %w", e.Name, err)
		}
	}

	entries, err := os.ReadDir(s.packages)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return report, fmt.Errorf("reading %s: %w", s.packages, err)
	}
	for _, de := range entries {
		name := de.Name()
		if !de.IsDir() || core.ValidateName(name) != nil {
			continue
		}
		rec, err := readTreeMetadata(filepath.Join(s.packages, name))
		if err != nil {
			s.logger.Warn("skipping package tree with unreadable metadata", "package", name, "error", err)
			continue
		}
		if rec.Name != name {
			s.logger.Warn("skipping package tree whose metadata names another package", "package", name, "metadata_name", rec.Name)
			continue
		}

		recorded, ok := db.Installed.Get(name)
		switch {
		case !ok:
			report.Adopted = append(report.Adopted, hdb.Entry{Name: name, Version: rec.Version})
			s.logger.Warn("adopting installed package missing from the database", "package", name, "version", rec.Version.String())
		case recorded != rec.Version:
			report.Corrected = append(report.Corrected, hdb.Entry{Name: name, Version: rec.Version})
			s.logger.Warn("correcting recorded version", "package", name, "recorded", recorded.String(), "installed", rec.Version.String())
		default:
			continue
		}
		db.Installed = db.Installed.Upsert(name, rec.Version)
	}

	if !report.Changed() {
		return report, nil
	}
	return report, hdb.WriteFile(s.path, db)
}

// ReadMetadata reads the metadata of the installed tree of name.
func (s *Store) ReadMetadata(name string) (*metadata.Record, error) {
	if err := core.ValidateName(name); err != nil {
		return nil, err
	}
	return readTreeMetadata(filepath.Join(s.packages, name))
}

func readTreeMetadata(dir string) (*metadata.Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadata.FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, core.ErrMissingMetadata)
	}
	if err != nil {
		return nil, err
	}
	return metadata.Parse(data)
}
