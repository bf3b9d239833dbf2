package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/metadata"
)

// PreservedSuffix marks the previous copy of an etc file kept by an update.
const PreservedSuffix = ".hkg_old"

// staged is a complete package tree in a private staging directory.
type staged struct {
	dir       string
	root      string
	meta      *metadata.Record
	bins      []string
	preserved []string
}

func (s *staged) cleanup() {
	_ = os.RemoveAll(s.dir)
}

// stage unpacks data into a fresh staging directory and checks that the tree
// can be committed without taking over executables owned by anything else.
// With preserve set, the etc files of the live tree are copied into the
// staged etc with PreservedSuffix.
func (e *Engine) stage(o *operation, data []byte, preserve bool) (_ *staged, err error) {
	if err := os.MkdirAll(e.paths.Staging(), 0o755); err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}
	dir, err := os.MkdirTemp(e.paths.Staging(), o.name+".")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	s := &staged{dir: dir}
	defer func() {
		if err != nil {
			s.cleanup()
		}
	}()

	o.logger.Debug("unpacking archive", "staging", dir)
	pkg, err := archive.Unpack(data, dir, archive.WithMaxSize(e.maxSize))
	if err != nil {
		return nil, err
	}
	if pkg.Metadata.Name != o.name {
		return nil, fmt.Errorf("%w: archive holds package %q", core.ErrCorruptArchive, pkg.Metadata.Name)
	}
	s.root = pkg.Root
	s.meta = pkg.Metadata

	for _, sub := range archive.Subtrees {
		if err := os.MkdirAll(filepath.Join(s.root, sub), 0o755); err != nil {
			return nil, err
		}
	}

	if s.bins, err = binNames(s.root); err != nil {
		return nil, err
	}
	for _, b := range s.bins {
		if err := e.checkLink(o.name, b); err != nil {
			return nil, err
		}
	}

	if preserve {
		if s.preserved, err = preserveEtc(e.paths.Package(o.name), s.root); err != nil {
			return nil, fmt.Errorf("preserving etc: %w", err)
		}
		if len(s.preserved) > 0 {
			o.logger.Debug("preserved configuration", "files", s.preserved)
		}
	}
	return s, nil
}

// binNames lists the executables of the package tree at root.
func binNames(root string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, "bin"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range entries {
		if !de.IsDir() {
			names = append(names, de.Name())
		}
	}
	return names, nil
}

// checkLink fails if the executable path for bin is taken by anything but a
// symlink into the live tree of name.
func (e *Engine) checkLink(name, bin string) error {
	link := filepath.Join(e.paths.Bin, bin)
	fi, err := os.Lstat(link)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSymlink != 0 && e.ownsLink(name, link) {
		return nil
	}
	return fmt.Errorf("%w: %s", core.ErrSymlinkConflict, link)
}

// ownsLink reports whether link points into the live tree of name.
func (e *Engine) ownsLink(name, link string) bool {
	target, err := os.Readlink(link)
	if err != nil {
		return false
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(link), target)
	}
	rel, err := filepath.Rel(e.paths.Package(name), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// preserveEtc copies every file of the live etc into the staged etc. Files
// already carrying PreservedSuffix keep their name; every other file gets the
// suffix appended. It returns the new suffixed paths relative to the tree.
func preserveEtc(live, stagedRoot string) ([]string, error) {
	liveEtc := filepath.Join(live, "etc")
	stagedEtc := filepath.Join(stagedRoot, "etc")

	var carried, fresh []string
	err := filepath.WalkDir(liveEtc, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == liveEtc && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(liveEtc, path)
		if err != nil {
			return err
		}
		if strings.HasSuffix(rel, PreservedSuffix) {
			carried = append(carried, rel)
		} else {
			fresh = append(fresh, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, rel := range carried {
		if err := copyEntry(filepath.Join(liveEtc, rel), filepath.Join(stagedEtc, rel)); err != nil {
			return nil, err
		}
	}
	preserved := make([]string, 0, len(fresh))
	for _, rel := range fresh {
		if err := copyEntry(filepath.Join(liveEtc, rel), filepath.Join(stagedEtc, rel+PreservedSuffix)); err != nil {
			return nil, err
		}
		preserved = append(preserved, filepath.ToSlash(filepath.Join("etc", rel+PreservedSuffix)))
	}
	return preserved, nil
}

// copyEntry copies a regular file or symlink from src to dst, replacing dst.
func copyEntry(src, dst string) error {
	fi, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case fi.Mode().IsRegular():
		return copyFile(src, dst, fi.Mode().Perm())
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
