package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/git-pkgs/hkg/internal/core"
)

func withFile(files map[string]string, name, content string) map[string]string {
	out := make(map[string]string, len(files)+1)
	for k, v := range files {
		out[k] = v
	}
	out[name] = content
	return out
}

func installForUpdate(t *testing.T) (*testRepo, *Engine, string) {
	t.Helper()
	r := newTestRepo(t)
	r.publish("spam", "1.0", spamFiles)
	e, paths := newTestEngine(t, r.repo())
	if _, err := e.Install(context.Background(), "spam"); err != nil {
		t.Fatal(err)
	}
	etc := filepath.Join(paths.Package("spam"), "etc")
	writeFile(t, filepath.Join(etc, "settings.conf"), "colour = blue\n")
	return r, e, etc
}

func TestUpdatePreservesEtc(t *testing.T) {
	r, e, etc := installForUpdate(t)
	r.publish("spam", "1.2", withFile(spamFiles, "etc/settings.conf", "colour = red\n"))

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(summary.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(summary.Results))
	}
	res := summary.Results[0]
	if res.Status != StatusUpdated {
		t.Errorf("Status = %q, want updated", res.Status)
	}
	if res.Previous == nil || res.Previous.String() != "1.0" || res.Version.String() != "1.2" {
		t.Errorf("Update = %v -> %s, want 1.0 -> 1.2", res.Previous, res.Version)
	}
	if want := []string{"etc/settings.conf.hkg_old"}; !reflect.DeepEqual(res.Preserved, want) {
		t.Errorf("Preserved = %v, want %v", res.Preserved, want)
	}

	if v, _ := installedVersion(t, e, "spam"); v != "1.2" {
		t.Errorf("installed version = %q, want 1.2", v)
	}
	if got := readFile(t, filepath.Join(etc, "settings.conf")); got != "colour = red\n" {
		t.Errorf("settings.conf = %q, want the new version", got)
	}
	if got := readFile(t, filepath.Join(etc, "settings.conf.hkg_old")); got != "colour = blue\n" {
		t.Errorf("settings.conf.hkg_old = %q, want the user's edit", got)
	}
	assertEmptyDir(t, e.Paths().Trash())
}

func TestUpdateNoPreserve(t *testing.T) {
	r, e, etc := installForUpdate(t)
	r.publish("spam", "1.2", spamFiles)

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{NoPreserve: true})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(summary.Results[0].Preserved) != 0 {
		t.Errorf("Preserved = %v, want none", summary.Results[0].Preserved)
	}
	assertMissing(t, filepath.Join(etc, "settings.conf.hkg_old"))
	if got := readFile(t, filepath.Join(etc, "settings.conf")); got != spamFiles["etc/settings.conf"] {
		t.Errorf("settings.conf = %q, want the packaged file", got)
	}
}

func TestUpdatePreserveDisabledBySetting(t *testing.T) {
	r, e, etc := installForUpdate(t)
	WithPreserveEtc(false)(e)
	r.publish("spam", "1.2", spamFiles)

	if _, err := e.Update(context.Background(), "spam", UpdateOptions{}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	assertMissing(t, filepath.Join(etc, "settings.conf.hkg_old"))
}

func TestUpdateCarriesPreservedFilesForward(t *testing.T) {
	r, e, etc := installForUpdate(t)
	writeFile(t, filepath.Join(etc, "notes.hkg_old"), "kept")
	if err := os.MkdirAll(filepath.Join(etc, "conf.d"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(etc, "conf.d", "local.conf"), "local")

	r.publish("spam", "1.1", spamFiles)
	if _, err := e.Update(context.Background(), "spam", UpdateOptions{}); err != nil {
		t.Fatalf("first Update failed: %v", err)
	}
	writeFile(t, filepath.Join(etc, "settings.conf"), "colour = purple\n")

	r.publish("spam", "1.2", spamFiles)
	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if err != nil {
		t.Fatalf("second Update failed: %v", err)
	}

	checks := map[string]string{
		"settings.conf":             spamFiles["etc/settings.conf"],
		"settings.conf.hkg_old":     "colour = purple\n",
		"notes.hkg_old":             "kept",
		"conf.d/local.conf.hkg_old": "local",
	}
	for name, want := range checks {
		if got := readFile(t, filepath.Join(etc, filepath.FromSlash(name))); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	assertMissing(t, filepath.Join(etc, "conf.d", "local.conf.hkg_old.hkg_old"))
	assertMissing(t, filepath.Join(etc, "notes.hkg_old.hkg_old"))
	assertMissing(t, filepath.Join(etc, "conf.d", "local.conf"))

	want := []string{"etc/settings.conf.hkg_old"}
	if got := summary.Results[0].Preserved; !reflect.DeepEqual(got, want) {
		t.Errorf("Preserved = %v, want %v", got, want)
	}
}

func TestUpdateUpToDate(t *testing.T) {
	_, e, etc := installForUpdate(t)

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if err != nil {
		t.Fatalf("Update error = %v, want nil", err)
	}
	if got := summary.Results[0].Status; got != StatusUpToDate {
		t.Errorf("Status = %q, want up-to-date", got)
	}
	assertMissing(t, filepath.Join(etc, "settings.conf.hkg_old"))
	if got := readFile(t, filepath.Join(etc, "settings.conf")); got != "colour = blue\n" {
		t.Errorf("settings.conf = %q, want untouched", got)
	}
}

func TestUpdateRefusesDowngrade(t *testing.T) {
	r, e, etc := installForUpdate(t)
	r.publish("spam", "0.9", spamFiles)

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if err != nil {
		t.Fatalf("Update error = %v, want nil", err)
	}
	res := summary.Results[0]
	if res.Status != StatusDowngradeRefused {
		t.Errorf("Status = %q, want downgrade-refused", res.Status)
	}
	if res.Version.String() != "0.9" || res.Previous.String() != "1.0" {
		t.Errorf("Result = %v -> %s, want 1.0 -> 0.9", res.Previous, res.Version)
	}
	if v, _ := installedVersion(t, e, "spam"); v != "1.0" {
		t.Errorf("installed version = %q, want 1.0", v)
	}
	assertMissing(t, filepath.Join(etc, "settings.conf.hkg_old"))
}

func TestUpdateRechecksArchiveVersion(t *testing.T) {
	r, e, etc := installForUpdate(t)
	// The database claims 1.5 but the archive still carries 1.0.
	data := readFile(t, filepath.Join(r.root, "files", "packages", "spam", "spam.hkg"))
	r.publishRaw("spam", "1.5", []byte(data))

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if err != nil {
		t.Fatalf("Update error = %v", err)
	}
	if got := summary.Results[0].Status; got != StatusUpToDate {
		t.Errorf("Status = %q, want up-to-date", got)
	}
	if got := readFile(t, filepath.Join(etc, "settings.conf")); got != "colour = blue\n" {
		t.Errorf("settings.conf = %q, want untouched", got)
	}
	assertEmptyDir(t, e.Paths().Staging())
}

func TestUpdatePicksHighestVersion(t *testing.T) {
	first := newTestRepo(t)
	first.publish("spam", "1.0", spamFiles)
	e, _ := newTestEngine(t, first.repo())
	if _, err := e.Install(context.Background(), "spam"); err != nil {
		t.Fatal(err)
	}

	second := newTestRepo(t)
	second.publish("spam", "1.3", spamFiles)
	third := newTestRepo(t)
	third.publish("spam", "1.3", spamFiles)
	first.publish("spam", "1.1", spamFiles)
	e.repos = staticRepos{first.repo(), second.repo(), third.repo()}

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	res := summary.Results[0]
	if res.Version.String() != "1.3" || res.Repository != second.repo().URL {
		t.Errorf("updated to %s from %s, want 1.3 from %s", res.Version, res.Repository, second.repo().URL)
	}
}

func TestUpdateRemovesDroppedExecutables(t *testing.T) {
	r, e, _ := installForUpdate(t)
	paths := e.Paths()
	r.publish("spam", "2.0", map[string]string{"bin/spam": "new"})

	if _, err := e.Update(context.Background(), "spam", UpdateOptions{}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	assertMissing(t, filepath.Join(paths.Bin, "spamd"))
	if got := readFile(t, filepath.Join(paths.Bin, "spam")); got != "new" {
		t.Errorf("bin/spam = %q, want new", got)
	}
	assertMissing(t, filepath.Join(paths.Package("spam"), "lib", "data.txt"))
}

func TestUpdateNotInstalled(t *testing.T) {
	r := newTestRepo(t)
	r.publish("spam", "1.0", spamFiles)
	e, _ := newTestEngine(t, r.repo())

	summary, err := e.Update(context.Background(), "spam", UpdateOptions{})
	if !errors.Is(err, core.ErrNotInstalled) {
		t.Fatalf("Update error = %v, want ErrNotInstalled", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].Status != StatusFailed {
		t.Errorf("Results = %+v, want one failure", summary.Results)
	}
}

func TestUpdateAllContinuesPastFailures(t *testing.T) {
	r := newTestRepo(t)
	r.publish("eggs", "1.0", map[string]string{"bin/eggs": "eggs", "etc/eggs.conf": "x"})
	r.publish("spam", "1.0", spamFiles)
	r.publish("ham", "1.0", nil)
	e, _ := newTestEngine(t, r.repo())
	for _, name := range []string{"eggs", "spam", "ham"} {
		if _, err := e.Install(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}

	r.publishRaw("eggs", "1.1", []byte("broken"))
	r.publish("spam", "1.1", spamFiles)

	summary, err := e.Update(context.Background(), All, UpdateOptions{})
	if !errors.Is(err, core.ErrCorruptArchive) {
		t.Fatalf("Update error = %v, want ErrCorruptArchive", err)
	}

	got := make(map[string]Status)
	var order []string
	for _, res := range summary.Results {
		got[res.Package] = res.Status
		order = append(order, res.Package)
	}
	if want := []string{"eggs", "spam", "ham"}; !reflect.DeepEqual(order, want) {
		t.Errorf("processed %v, want %v", order, want)
	}
	want := map[string]Status{"eggs": StatusFailed, "spam": StatusUpdated, "ham": StatusUpToDate}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if failed := summary.Failed(); len(failed) != 1 || failed[0].Package != "eggs" {
		t.Errorf("Failed = %+v, want eggs", failed)
	}

	if v, _ := installedVersion(t, e, "eggs"); v != "1.0" {
		t.Errorf("eggs version = %q, want 1.0", v)
	}
	if v, _ := installedVersion(t, e, "spam"); v != "1.1" {
		t.Errorf("spam version = %q, want 1.1", v)
	}
	if got := readFile(t, filepath.Join(e.Paths().Package("eggs"), "etc", "eggs.conf")); got != "x" {
		t.Errorf("eggs.conf = %q, want untouched", got)
	}
}

func TestUpdateAllNothingInstalled(t *testing.T) {
	e, _ := newTestEngine(t)
	summary, err := e.Update(context.Background(), All, UpdateOptions{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if len(summary.Results) != 0 {
		t.Errorf("Results = %+v, want none", summary.Results)
	}
}
