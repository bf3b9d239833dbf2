package engine

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/git-pkgs/hkg/client"
	"github.com/git-pkgs/hkg/fetch"
	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/config"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
	"github.com/git-pkgs/hkg/internal/metadata"
	repoclient "github.com/git-pkgs/hkg/internal/repo"
)

type staticRepos []core.Repository

func (s staticRepos) Repositories() ([]core.Repository, error) {
	return s, nil
}

// testRepo is a package repository served over HTTP from a temp directory.
type testRepo struct {
	t      *testing.T
	root   string
	server *httptest.Server
	db     hdb.Database
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	root := t.TempDir()
	r := &testRepo{t: t, root: root}
	r.server = httptest.NewServer(http.FileServer(http.Dir(root)))
	t.Cleanup(r.server.Close)
	r.saveDB()
	return r
}

func (r *testRepo) repo() core.Repository {
	return core.Repository{URL: r.server.URL, Label: "test"}
}

func (r *testRepo) saveDB() {
	r.t.Helper()
	if err := hdb.WriteFile(filepath.Join(r.root, client.DatabasePath), r.db); err != nil {
		r.t.Fatal(err)
	}
}

// publish packs files as package name at version and lists it.
func (r *testRepo) publish(name, version string, files map[string]string) {
	r.t.Helper()
	src := r.t.TempDir()
	writeTree(r.t, src, files)
	rec := metadata.Template(name)
	rec.Version = core.MustParseVersion(version)
	data, err := archive.PackBytes(src, rec)
	if err != nil {
		r.t.Fatalf("packing %s: %v", name, err)
	}
	r.publishRaw(name, version, data)
}

// publishRaw stores data as the archive of name and lists it at version.
func (r *testRepo) publishRaw(name, version string, data []byte) {
	r.t.Helper()
	p := filepath.Join(r.root, filepath.FromSlash(client.ArchiveRelPath(name)))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		r.t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		r.t.Fatal(err)
	}
	db, err := hdb.Upsert(r.db, hdb.Available, name, core.MustParseVersion(version))
	if err != nil {
		r.t.Fatal(err)
	}
	r.db = db
	r.saveDB()
}

func newTestEngine(t *testing.T, repos ...core.Repository) (*Engine, config.Paths) {
	t.Helper()
	paths := config.NewPaths(t.TempDir())
	f := fetch.NewFetcher()
	t.Cleanup(func() { _ = f.Close() })
	c := repoclient.New(fetch.NewDefaultTransport(f, 0))
	return New(paths, staticRepos(repos), c), paths
}

// writeTree creates files under dir. Values starting with "-> " are
// symlink targets; files under bin are executable.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if target, ok := strings.CutPrefix(content, "-> "); ok {
			if err := os.Symlink(target, p); err != nil {
				t.Fatal(err)
			}
			continue
		}
		mode := fs.FileMode(0o644)
		if strings.HasPrefix(name, "bin/") {
			mode = 0o755
		}
		if err := os.WriteFile(p, []byte(content), mode); err != nil {
			t.Fatal(err)
		}
	}
}

// snapshot records every path under dir with its content or link target,
// skipping the lock file and the staging and trash areas.
func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	got := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		switch d.Name() {
		case ".lock":
			return nil
		case ".staging", ".trash":
			return filepath.SkipDir
		}
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			got[rel] = "-> " + target
		case d.IsDir():
			got[rel] = "/"
		default:
			b, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			got[rel] = string(b)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(b)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func assertMissing(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Lstat(path); !os.IsNotExist(err) {
		t.Errorf("%s exists (err = %v), want missing", path, err)
	}
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		t.Errorf("%s holds %v, want empty", dir, names)
	}
}

func installedVersion(t *testing.T, e *Engine, name string) (string, bool) {
	t.Helper()
	v, ok, err := e.InstalledVersion(name)
	if err != nil {
		t.Fatalf("InstalledVersion(%s) failed: %v", name, err)
	}
	if !ok {
		return "", false
	}
	return v.String(), true
}

var spamFiles = map[string]string{
	"bin/spam":          "#!/bin/sh\necho spam\n",
	"bin/spamd":         "#!/bin/sh\necho daemon\n",
	"etc/settings.conf": "colour = green\n",
	"lib/data.txt":      "data",
}
