package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPackageNotFound   = errors.New("package not found")
	ErrAlreadyInstalled  = errors.New("package already installed")
	ErrNotInstalled      = errors.New("package not installed")
	ErrCorruptArchive    = errors.New("corrupt archive")
	ErrMissingMetadata   = errors.New("missing metadata")
	ErrMalformedMetadata = errors.New("malformed metadata")
	ErrInvalidVersion    = errors.New("invalid version")
	ErrUnreachable       = errors.New("repository unreachable")
	ErrBadResponse       = errors.New("bad repository response")
	ErrInvalidSourceTree = errors.New("invalid package source tree")

	// ErrNotFound is returned when a repository lists no archive at the
	// expected path.
	ErrNotFound = errors.New("not found")

	ErrMalformedDatabase       = errors.New("malformed package database")
	ErrInvalidName             = errors.New("invalid package name")
	ErrRepositoryExists        = errors.New("repository already configured")
	ErrRepositoryNotConfigured = errors.New("repository not configured")
	ErrSymlinkConflict         = errors.New("executable path already taken")
	ErrLocked                  = errors.New("package data root is locked by another process")
)

// OperationError describes a failed lifecycle operation on one package.
type OperationError struct {
	Op         string
	Package    string
	Repository string
	Phase      Phase
	Err        error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Package != "" {
		b.WriteString(" ")
		b.WriteString(e.Package)
	}
	if e.Phase != "" {
		fmt.Fprintf(&b, " (%s", e.Phase)
		if e.Repository != "" {
			fmt.Fprintf(&b, " via %s", e.Repository)
		}
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// RepositoryError wraps a failure talking to one repository.
type RepositoryError struct {
	URL string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.URL, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// PackageNotFoundError is returned when no configured repository lists a
// package. Failures reaching individual repositories are kept so callers can
// tell "absent" from "could not ask".
type PackageNotFoundError struct {
	Name     string
	Searched []string
	Failures []error
}

func (e *PackageNotFoundError) Error() string {
	msg := fmt.Sprintf("package %s not found in %d configured repositories", e.Name, len(e.Searched))
	if len(e.Searched) == 0 {
		msg = fmt.Sprintf("package %s not found: no repositories configured", e.Name)
	}
	if len(e.Failures) > 0 {
		msg += fmt.Sprintf(" (%d unreachable: %v)", len(e.Failures), errors.Join(e.Failures...))
	}
	return msg
}

func (e *PackageNotFoundError) Unwrap() []error {
	return append([]error{ErrPackageNotFound}, e.Failures...)
}

// MetadataError locates a problem in a metadata record.
type MetadataError struct {
	Line int // 0 when not tied to a line
	Key  string
	Msg  string
	Err  error
}

func (e *MetadataError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.Line > 0 {
		fmt.Fprintf(&b, " at line %d", e.Line)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key %q)", e.Key)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}
