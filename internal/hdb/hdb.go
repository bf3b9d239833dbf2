// Package hdb reads and writes package databases: the flat two-section
// record listing installed and available packages with their versions.
//
// A Database is a value. Mutating helpers return a modified copy and never
// touch the receiver, so a snapshot handed to one caller cannot change under
// another.
package hdb

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/hkg/internal/core"
)

// FileName is the well-known database file name, both at a repository root
// and in the local data root.
const FileName = "packages.hdb"

// SectionName names one of the two database sections.
type SectionName string

const (
	Installed SectionName = "INSTALLED"
	Available SectionName = "AVAILABLE"
)

// Entry is one name = version line.
type Entry struct {
	Name    string
	Version core.Version
}

// Section is an ordered set of entries with unique names.
type Section []Entry

// Get returns the version recorded for name.
func (s Section) Get(name string) (core.Version, bool) {
	for _, e := range s {
		if e.Name == name {
			return e.Version, true
		}
	}
	return core.Version{}, false
}

// Has reports whether name is present.
func (s Section) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns entry names in order.
func (s Section) Names() []string {
	names := make([]string, len(s))
	for i, e := range s {
		names[i] = e.Name
	}
	return names
}

// Upsert returns a copy with name set to v. An existing entry keeps its
// position; a new one is appended.
func (s Section) Upsert(name string, v core.Version) Section {
	out := make(Section, len(s), len(s)+1)
	copy(out, s)
	for i := range out {
		if out[i].Name == name {
			out[i].Version = v
			return out
		}
	}
	return append(out, Entry{Name: name, Version: v})
}

// Delete returns a copy without name.
func (s Section) Delete(name string) Section {
	out := make(Section, 0, len(s))
	for _, e := range s {
		if e.Name != name {
			out = append(out, e)
		}
	}
	return out
}

// Database is a parsed package database.
type Database struct {
	Installed Section
	Available Section
}

// Section returns the named section.
func (db Database) Section(name SectionName) (Section, error) {
	switch name {
	case Installed:
		return db.Installed, nil
	case Available:
		return db.Available, nil
	}
	return nil, fmt.Errorf("%w: unknown section [%s]", core.ErrMalformedDatabase, name)
}

func (db Database) with(name SectionName, s Section) (Database, error) {
	switch name {
	case Installed:
		db.Installed = s
	case Available:
		db.Available = s
	default:
		return Database{}, fmt.Errorf("%w: unknown section [%s]", core.ErrMalformedDatabase, name)
	}
	return db, nil
}

// Upsert returns a copy of db with name set to v in section, replacing an
// existing entry in place or appending a new one.
func Upsert(db Database, section SectionName, name string, v core.Version) (Database, error) {
	if err := core.ValidateName(name); err != nil {
		return Database{}, err
	}
	s, err := db.Section(section)
	if err != nil {
		return Database{}, err
	}
	return db.with(section, s.Upsert(name, v))
}

// Delete returns a copy of db without name in section.
func Delete(db Database, section SectionName, name string) (Database, error) {
	s, err := db.Section(section)
	if err != nil {
		return Database{}, err
	}
	return db.with(section, s.Delete(name))
}

// Parse reads a database. Either section may be absent; an empty input is an
// empty database.
func Parse(data []byte) (Database, error) {
	var db Database
	var current SectionName
	seenSection := make(map[SectionName]bool)
	lineNo := 0

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := SectionName(strings.TrimSpace(line[1 : len(line)-1]))
			if name != Installed && name != Available {
				return Database{}, fmt.Errorf("%w: line %d: unknown section [%s]", core.ErrMalformedDatabase, lineNo, name)
			}
			if seenSection[name] {
				return Database{}, fmt.Errorf("%w: line %d: duplicate section [%s]", core.ErrMalformedDatabase, lineNo, name)
			}
			seenSection[name] = true
			current = name
			continue
		}

		if current == "" {
			return Database{}, fmt.Errorf("%w: line %d: entry outside a section", core.ErrMalformedDatabase, lineNo)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return Database{}, fmt.Errorf("%w: line %d: expected name = version", core.ErrMalformedDatabase, lineNo)
		}
		name := strings.TrimSpace(key)
		if err := core.ValidateName(name); err != nil {
			return Database{}, fmt.Errorf("%w: line %d: %w", core.ErrMalformedDatabase, lineNo, err)
		}
		version, err := core.ParseVersion(value)
		if err != nil {
			return Database{}, fmt.Errorf("%w: line %d: %w", core.ErrMalformedDatabase, lineNo, err)
		}

		section, _ := db.Section(current)
		if section.Has(name) {
			return Database{}, fmt.Errorf("%w: line %d: duplicate entry %q in [%s]", core.ErrMalformedDatabase, lineNo, name, current)
		}
		db, _ = db.with(current, append(section, Entry{Name: name, Version: version}))
	}
	if err := scanner.Err(); err != nil {
		return Database{}, fmt.Errorf("%w: %w", core.ErrMalformedDatabase, err)
	}
	return db, nil
}

// Marshal serializes db. Both section headers are always written.
func (db Database) Marshal() []byte {
	var b bytes.Buffer
	writeSection(&b, Installed, db.Installed)
	b.WriteString("\n")
	writeSection(&b, Available, db.Available)
	return b.Bytes()
}

func writeSection(b *bytes.Buffer, name SectionName, s Section) {
	fmt.Fprintf(b, "[%s]\n", name)
	for _, e := range s {
		fmt.Fprintf(b, "%s = %s\n", e.Name, e.Version)
	}
}

// ReadFile parses the database at path. A missing file is an empty database.
func ReadFile(path string) (Database, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Database{}, nil
	}
	if err != nil {
		return Database{}, fmt.Errorf("reading %s: %w", path, err)
	}
	db, err := Parse(data)
	if err != nil {
		return Database{}, fmt.Errorf("%s: %w", path, err)
	}
	return db, nil
}

// WriteFile replaces the database at path. The new content is written to a
// temporary sibling and renamed over the target, so readers see either the
// old or the new database.
func WriteFile(path string, db Database) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp database: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(db.Marshal()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp database: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp database: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp database: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp database: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
