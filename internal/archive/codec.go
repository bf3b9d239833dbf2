// Package archive packs and unpacks package archives.
//
// An archive is a tar stream, optionally compressed, holding a single
// top-level directory named after the package:
//
//	spam/metadata
//	spam/bin/...
//	spam/etc/...
//	spam/lib/...
//
// Unpacking only ever creates directories, regular files and symlinks that
// resolve inside the package directory. Nothing extracted is executed.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/metadata"
)

// Extension is the archive file suffix.
const Extension = ".hkg"

// DefaultMaxSize bounds the total size of regular files in an archive.
const DefaultMaxSize int64 = 512 << 20

const maxMetadataSize = 64 << 10

// Subtrees lists the directories a package may carry next to its metadata.
var Subtrees = []string{"bin", "etc", "lib"}

type options struct {
	compression Compression
	maxSize     int64
}

// Option configures Pack and Unpack.
type Option func(*options)

// WithCompression sets the compression used by Pack.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMaxSize bounds the total extracted size accepted by Unpack.
func WithMaxSize(n int64) Option {
	return func(o *options) {
		o.maxSize = n
	}
}

func newOptions(opts []Option) options {
	o := options{compression: DefaultCompression, maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Package is the result of unpacking an archive.
type Package struct {
	Metadata *metadata.Record
	// Root is the extracted package directory, <destDir>/<name>.
	Root string
}

// Pack writes an archive of the bin, etc and lib subtrees of srcDir with
// rec as its metadata. Missing subtrees are archived as empty directories.
func Pack(w io.Writer, srcDir string, rec *metadata.Record, opts ...Option) (err error) {
	o := newOptions(opts)
	if err := rec.Validate(); err != nil {
		return err
	}

	cw, err := compressor(w, o.compression)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := cw.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	tw := tar.NewWriter(cw)
	defer func() {
		if closeErr := tw.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	top := rec.Name
	now := time.Now()
	if err := tw.WriteHeader(dirHeader(top, now)); err != nil {
		return err
	}

	meta := rec.Marshal()
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     top + "/" + metadata.FileName,
		Mode:     0o644,
		Size:     int64(len(meta)),
		ModTime:  now,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(meta); err != nil {
		return err
	}

	links := &linkSet{symlinks: make(map[string]bool)}
	for _, sub := range Subtrees {
		root := filepath.Join(srcDir, sub)
		if _, statErr := os.Lstat(root); errors.Is(statErr, fs.ErrNotExist) {
			if err := tw.WriteHeader(dirHeader(top+"/"+sub, now)); err != nil {
				return err
			}
			continue
		}
		if err := packTree(tw, srcDir, root, top, sub == "bin", links); err != nil {
			return err
		}
	}
	if err := links.check(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSourceTree, err)
	}
	return nil
}

// PackBytes is Pack into memory.
func PackBytes(srcDir string, rec *metadata.Record, opts ...Option) ([]byte, error) {
	var buf bytes.Buffer
	if err := Pack(&buf, srcDir, rec, opts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dirHeader(name string, mtime time.Time) *tar.Header {
	return &tar.Header{Typeflag: tar.TypeDir, Name: name + "/", Mode: 0o755, ModTime: mtime}
}

// packTree archives one subtree. Executables are linked from bin by name,
// so bin must not contain directories.
func packTree(tw *tar.Writer, srcDir, root, top string, flat bool, links *linkSet) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		switch {
		case p == root && !d.IsDir():
			return fmt.Errorf("%w: %s is not a directory", core.ErrInvalidSourceTree, p)
		case p != root && flat && d.IsDir():
			return fmt.Errorf("%w: %s: bin must not contain directories", core.ErrInvalidSourceTree, p)
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		name := top + "/" + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		switch {
		case info.Mode().IsDir(), info.Mode().IsRegular():
		case info.Mode()&fs.ModeSymlink != 0:
			if link, err = os.Readlink(p); err != nil {
				return err
			}
			links.add(name, link)
		default:
			return fmt.Errorf("%w: %s: unsupported file type %s", core.ErrInvalidSourceTree, p, info.Mode().Type())
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		hdr.Mode = int64(info.Mode().Perm())
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "", ""
		hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.CopyN(tw, f, hdr.Size); err != nil {
			return fmt.Errorf("archiving %s: %w", p, err)
		}
		return nil
	})
}

// Unpack extracts data into destDir, creating <destDir>/<name>. The created
// directory is removed again if extraction fails.
func Unpack(data []byte, destDir string, opts ...Option) (_ *Package, err error) {
	o := newOptions(opts)

	var root string
	defer func() {
		if err != nil && root != "" {
			_ = os.RemoveAll(root)
		}
	}()

	var meta []byte
	top, err := scan(data, o.maxSize, func(top string, e entry, r io.Reader) error {
		if root == "" {
			if err := os.Mkdir(filepath.Join(destDir, top), 0o755); err != nil {
				return err
			}
			root = filepath.Join(destDir, top)
		}
		if e.rel == metadata.FileName {
			b, err := readMetadata(r)
			if err != nil {
				return err
			}
			meta = b
			r = bytes.NewReader(b)
		}
		return extract(root, e, r)
	})
	if err != nil {
		return nil, err
	}

	rec, err := parseMetadata(top, meta)
	if err != nil {
		return nil, err
	}
	return &Package{Metadata: rec, Root: root}, nil
}

// ReadMetadata validates the archive structure and returns its metadata
// without extracting anything.
func ReadMetadata(data []byte, opts ...Option) (*metadata.Record, error) {
	o := newOptions(opts)
	var meta []byte
	top, err := scan(data, o.maxSize, func(_ string, e entry, r io.Reader) error {
		if e.rel != metadata.FileName {
			return nil
		}
		b, err := readMetadata(r)
		meta = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return parseMetadata(top, meta)
}

func readMetadata(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxMetadataSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading metadata: %w", core.ErrCorruptArchive, err)
	}
	if len(b) > maxMetadataSize {
		return nil, fmt.Errorf("%w: metadata exceeds %d bytes", core.ErrCorruptArchive, maxMetadataSize)
	}
	return b, nil
}

func parseMetadata(top string, meta []byte) (*metadata.Record, error) {
	if meta == nil {
		return nil, core.ErrMissingMetadata
	}
	rec, err := metadata.Parse(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCorruptArchive, err)
	}
	if rec.Name != top {
		return nil, fmt.Errorf("%w: top directory %q does not match package name %q", core.ErrCorruptArchive, top, rec.Name)
	}
	return rec, nil
}

type entry struct {
	hdr *tar.Header
	// rel is the slash-separated path below the top directory, "" for the
	// top directory itself.
	rel string
}

type pendingLink struct {
	name, target string
}

// linkSet collects the symlinks of one archive so every target can be
// checked once all of them are known.
type linkSet struct {
	links    []pendingLink
	symlinks map[string]bool
}

func (s *linkSet) add(name, target string) {
	s.links = append(s.links, pendingLink{name: name, target: target})
	s.symlinks[name] = true
}

func (s *linkSet) check() error {
	for _, l := range s.links {
		if err := checkLink(l.name, l.target, s.symlinks); err != nil {
			return err
		}
	}
	return nil
}

// scan walks every entry of the archive, validating structure and calling
// fn for each accepted one. It returns the name of the top directory.
func scan(data []byte, maxSize int64, fn func(top string, e entry, r io.Reader) error) (string, error) {
	src, release, err := decompressor(data)
	if err != nil {
		return "", err
	}
	defer release()

	var (
		top   string
		total int64
		links = &linkSet{symlinks: make(map[string]bool)}
	)

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %w", core.ErrCorruptArchive, err)
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		parts, err := splitName(hdr.Name)
		if err != nil {
			return "", err
		}
		if top == "" {
			top = parts[0]
		} else if parts[0] != top {
			return "", fmt.Errorf("%w: entries under both %q and %q", core.ErrCorruptArchive, top, parts[0])
		}
		if err := checkEntry(parts, hdr); err != nil {
			return "", err
		}

		clean := strings.Join(parts, "/")
		for i := 1; i < len(parts); i++ {
			if links.symlinks[strings.Join(parts[:i], "/")] {
				return "", fmt.Errorf("%w: %s: path traverses a symlink", core.ErrCorruptArchive, hdr.Name)
			}
		}

		switch hdr.Typeflag {
		case tar.TypeReg:
			if hdr.Size < 0 {
				return "", fmt.Errorf("%w: %s: negative size", core.ErrCorruptArchive, hdr.Name)
			}
			total += hdr.Size
			if total > maxSize {
				return "", fmt.Errorf("%w: contents exceed %d bytes", core.ErrCorruptArchive, maxSize)
			}
		case tar.TypeSymlink:
			if err := checkLink(clean, hdr.Linkname, links.symlinks); err != nil {
				return "", fmt.Errorf("%w: %w", core.ErrCorruptArchive, err)
			}
			links.add(clean, hdr.Linkname)
		}

		if err := fn(top, entry{hdr: hdr, rel: strings.Join(parts[1:], "/")}, corruptReader{tr}); err != nil {
			return "", err
		}
	}

	// A link accepted early may traverse a symlink defined after it.
	if err := links.check(); err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrCorruptArchive, err)
	}
	return top, nil
}

func splitName(name string) ([]string, error) {
	if name == "" || path.IsAbs(name) {
		return nil, fmt.Errorf("%w: absolute or empty path %q", core.ErrCorruptArchive, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return nil, fmt.Errorf("%w: path %q escapes the package", core.ErrCorruptArchive, name)
		}
	}
	clean := path.Clean(name)
	if clean == "." {
		return nil, fmt.Errorf("%w: empty path %q", core.ErrCorruptArchive, name)
	}
	return strings.Split(clean, "/"), nil
}

func checkEntry(parts []string, hdr *tar.Header) error {
	switch hdr.Typeflag {
	case tar.TypeDir, tar.TypeReg, tar.TypeSymlink:
	default:
		return fmt.Errorf("%w: %s: unsupported entry type %q", core.ErrCorruptArchive, hdr.Name, hdr.Typeflag)
	}

	isDir := hdr.Typeflag == tar.TypeDir
	switch {
	case len(parts) == 1:
		if !isDir {
			return fmt.Errorf("%w: top-level entry %s is not a directory", core.ErrCorruptArchive, hdr.Name)
		}
	case parts[1] == metadata.FileName:
		if len(parts) != 2 || hdr.Typeflag != tar.TypeReg {
			return fmt.Errorf("%w: %s: metadata must be a regular file", core.ErrCorruptArchive, hdr.Name)
		}
	case parts[1] == "bin":
		if len(parts) == 2 && !isDir {
			return fmt.Errorf("%w: %s is not a directory", core.ErrCorruptArchive, hdr.Name)
		}
		if len(parts) > 3 || (len(parts) == 3 && isDir) {
			return fmt.Errorf("%w: %s: bin must be flat", core.ErrCorruptArchive, hdr.Name)
		}
	case parts[1] == "etc", parts[1] == "lib":
		if len(parts) == 2 && !isDir {
			return fmt.Errorf("%w: %s is not a directory", core.ErrCorruptArchive, hdr.Name)
		}
	default:
		return fmt.Errorf("%w: unexpected entry %s", core.ErrCorruptArchive, hdr.Name)
	}
	return nil
}

// checkLink resolves target relative to the link at name, one component at
// a time, and fails if it leaves the top directory or passes through another
// symlink.
func checkLink(name, target string, symlinks map[string]bool) error {
	if target == "" || path.IsAbs(target) {
		return fmt.Errorf("symlink %s has absolute or empty target %q", name, target)
	}
	parts := strings.Split(name, "/")
	cur := append([]string(nil), parts[:len(parts)-1]...)
	components := strings.Split(target, "/")
	for i, c := range components {
		switch c {
		case "", ".":
			continue
		case "..":
			if len(cur) <= 1 {
				return fmt.Errorf("symlink %s -> %s escapes the package", name, target)
			}
			cur = cur[:len(cur)-1]
		default:
			cur = append(cur, c)
			if i < len(components)-1 && symlinks[strings.Join(cur, "/")] {
				return fmt.Errorf("symlink %s -> %s traverses another symlink", name, target)
			}
		}
	}
	return nil
}

func extract(root string, e entry, r io.Reader) error {
	target := filepath.Join(root, filepath.FromSlash(e.rel))
	mode := fs.FileMode(e.hdr.Mode).Perm()

	switch e.hdr.Typeflag {
	case tar.TypeDir:
		if e.rel == "" {
			return nil
		}
		return os.MkdirAll(target, mode|0o700)
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(e.hdr.Linkname, target); err != nil {
			return duplicate(e.hdr.Name, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return writeFile(target, r, mode|0o600, e.hdr)
}

func writeFile(target string, r io.Reader, mode fs.FileMode, hdr *tar.Header) (err error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return duplicate(hdr.Name, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(f, io.LimitReader(r, hdr.Size)); err != nil {
		return fmt.Errorf("extracting %s: %w", hdr.Name, err)
	}
	return nil
}

// corruptReader marks read failures of the archive stream as corruption, so
// they can be told apart from failures writing the extracted files.
type corruptReader struct {
	r io.Reader
}

func (c corruptReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %w", core.ErrCorruptArchive, err)
	}
	return n, err
}

func duplicate(name string, err error) error {
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: duplicate entry %s", core.ErrCorruptArchive, name)
	}
	return fmt.Errorf("extracting %s: %w", name, err)
}
