// Package core provides shared types and the error taxonomy.
package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a package version of the form MAJOR.MINOR.
type Version struct {
	Major int
	Minor int
}

// ParseVersion parses a MAJOR.MINOR version string. Both components must be
// non-negative decimal integers.
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	mj, err := parseComponent(major)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	mn, err := parseComponent(minor)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return Version{Major: mj, Minor: mn}, nil
}

func parseComponent(s string) (int, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	return strconv.Atoi(s)
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// Compare returns -1, 0 or +1 comparing (major, minor) lexicographically.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major < o.Major:
		return -1
	case v.Major > o.Major:
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// ValidateName checks that name is a non-empty run of lowercase ASCII letters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	for _, r := range name {
		if r < 'a' || r > 'z' {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// Repository references a remote package repository. Label is opaque.
type Repository struct {
	URL   string `toml:"url"`
	Label string `toml:"label,omitempty"`
}

func (r Repository) String() string {
	if r.Label != "" && r.Label != r.URL {
		return r.Label + " (" + r.URL + ")"
	}
	return r.URL
}

// Phase is a step of a package lifecycle operation.
type Phase string

const (
	PhaseResolving  Phase = "RESOLVING"
	PhaseFetching   Phase = "FETCHING"
	PhaseStaging    Phase = "STAGING"
	PhaseCommitting Phase = "COMMITTING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// Terminal reports whether no further transition can follow p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}
