// Package builder turns package source trees into archives and maintains
// repository directories.
//
// A package source tree looks like this:
//
//	spam/metadata
//	spam/spam/bin/...
//	spam/spam/etc/...
//	spam/spam/lib/...
//
// Build writes the archive next to the source tree, as spam.hkg.
package builder

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/logging"
	"github.com/git-pkgs/hkg/internal/metadata"
)

// KeyLicense is the optional metadata key holding an SPDX license
// expression.
const KeyLicense = "license"

// Builder builds package archives.
type Builder struct {
	compression archive.Compression
	logger      *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompression sets the archive compression.
func WithCompression(c archive.Compression) Option {
	return func(b *Builder) {
		b.compression = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// New creates a builder.
func New(opts ...Option) *Builder {
	b := &Builder{compression: archive.DefaultCompression}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrDiscard(b.logger)
	return b
}

// Artifact is a built package archive.
type Artifact struct {
	Path     string
	Metadata *metadata.Record
	Size     int64
}

// Build validates the source tree at sourceDir and writes its archive to
// <parent>/<name>.hkg, replacing any previous build.
func (b *Builder) Build(sourceDir string) (*Artifact, error) {
	sourceDir, err := filepath.Abs(sourceDir)
	if err != nil {
		return nil, err
	}
	rec, err := ReadSourceMetadata(sourceDir)
	if err != nil {
		return nil, err
	}
	if err := validateSourceTree(sourceDir, rec.Name); err != nil {
		return nil, err
	}

	data, err := archive.PackBytes(filepath.Join(sourceDir, rec.Name), rec, archive.WithCompression(b.compression))
	if err != nil {
		return nil, err
	}

	out := filepath.Join(filepath.Dir(sourceDir), rec.Name+archive.Extension)
	if err := writeFileAtomic(out, data, 0o644); err != nil {
		return nil, err
	}
	b.logger.Info("built package", "package", rec.Name, "version", rec.Version.String(), "path", out, "compression", b.compression)
	return &Artifact{Path: out, Metadata: rec, Size: int64(len(data))}, nil
}

// ReadSourceMetadata reads and validates the metadata file of a source tree.
func ReadSourceMetadata(sourceDir string) (*metadata.Record, error) {
	path := filepath.Join(sourceDir, metadata.FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, core.ErrMissingMetadata)
	}
	if err != nil {
		return nil, err
	}
	rec, err := metadata.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := validateLicense(rec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

func validateLicense(rec *metadata.Record) error {
	license, ok := rec.Get(KeyLicense)
	if !ok {
		return nil
	}
	if valid, invalid := spdxexp.ValidateLicenses([]string{license}); !valid {
		return &core.MetadataError{
			Key: KeyLicense,
			Msg: fmt.Sprintf("not a valid SPDX license expression: %v", invalid),
			Err: core.ErrMalformedMetadata,
		}
	}
	return nil
}

// validateSourceTree checks that sourceDir holds only the metadata file and
// the package directory, and that the package directory holds only bin, etc
// and lib directories.
func validateSourceTree(sourceDir, name string) error {
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return err
	}
	foundPkg := false
	for _, e := range entries {
		switch {
		case e.Name() == metadata.FileName:
		case e.Name() == name && e.IsDir():
			foundPkg = true
		default:
			return fmt.Errorf("%w: unexpected %s next to metadata", core.ErrInvalidSourceTree, e.Name())
		}
	}
	if !foundPkg {
		return fmt.Errorf("%w: no %s directory matching the package name", core.ErrInvalidSourceTree, name)
	}

	entries, err = os.ReadDir(filepath.Join(sourceDir, name))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || !slices.Contains(archive.Subtrees, e.Name()) {
			return fmt.Errorf("%w: unexpected %s/%s (only bin, etc and lib directories are packaged)", core.ErrInvalidSourceTree, name, e.Name())
		}
	}
	return nil
}

const stubScript = `#!/bin/sh
# Replace this stub with the %s executable.
echo "%s is not implemented yet" >&2
exit 1
`

// Init creates a skeleton source tree at destDir named after its last path
// element: a template metadata file, empty etc and lib directories and an
// executable stub in bin.
func (b *Builder) Init(destDir string) (*metadata.Record, error) {
	destDir, err := filepath.Abs(destDir)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(destDir)
	if err := core.ValidateName(name); err != nil {
		return nil, fmt.Errorf("package directory %s: %w", destDir, err)
	}

	metaPath := filepath.Join(destDir, metadata.FileName)
	if _, err := os.Stat(metaPath); err == nil {
		return nil, fmt.Errorf("%s: %w", metaPath, fs.ErrExist)
	}

	pkgDir := filepath.Join(destDir, name)
	for _, sub := range archive.Subtrees {
		if err := os.MkdirAll(filepath.Join(pkgDir, sub), 0o755); err != nil {
			return nil, err
		}
	}

	stub := filepath.Join(pkgDir, "bin", name)
	if _, err := os.Stat(stub); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(stub, fmt.Appendf(nil, stubScript, name, name), 0o755); err != nil {
			return nil, err
		}
	}

	rec := metadata.Template(name)
	if err := os.WriteFile(metaPath, rec.Marshal(), 0o644); err != nil {
		return nil, err
	}
	b.logger.Info("created package skeleton", "package", name, "path", destDir)
	return rec, nil
}

func writeFileAtomic(path string, data []byte, perm fs.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
