package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
)

func TestInfo(t *testing.T) {
	r := newTestRepo(t)
	r.publish("spam", "1.0", spamFiles)
	e, _ := newTestEngine(t, r.repo())

	info, err := e.Info(context.Background(), "spam")
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.Metadata.Name != "spam" || info.Metadata.Version.String() != "1.0" {
		t.Errorf("Metadata = %s %s, want spam 1.0", info.Metadata.Name, info.Metadata.Version)
	}
	if info.Repository.URL != r.repo().URL {
		t.Errorf("Repository = %q, want %q", info.Repository.URL, r.repo().URL)
	}
	if !strings.HasPrefix(info.PURL, "pkg:hkg/spam@1.0?repository_url=") {
		t.Errorf("PURL = %q", info.PURL)
	}
	wantURLs := map[string]string{
		"database": r.repo().URL + "/packages.hdb",
		"archive":  r.repo().URL + "/files/packages/spam/spam.hkg",
		"purl":     info.PURL,
	}
	if !reflect.DeepEqual(info.URLs, wantURLs) {
		t.Errorf("URLs = %v, want %v", info.URLs, wantURLs)
	}
	if info.Installed != nil {
		t.Errorf("Installed = %v, want nil", info.Installed)
	}
	if _, ok := installedVersion(t, e, "spam"); ok {
		t.Error("Info installed the package")
	}

	if _, err := e.Install(context.Background(), "spam"); err != nil {
		t.Fatal(err)
	}
	info, err = e.Info(context.Background(), "spam")
	if err != nil {
		t.Fatal(err)
	}
	if info.Installed == nil || info.Installed.String() != "1.0" {
		t.Errorf("Installed = %v, want 1.0", info.Installed)
	}
}

func TestInfoNotFound(t *testing.T) {
	r := newTestRepo(t)
	e, _ := newTestEngine(t, r.repo())
	if _, err := e.Info(context.Background(), "spam"); !errors.Is(err, core.ErrPackageNotFound) {
		t.Errorf("Info error = %v, want ErrPackageNotFound", err)
	}
}

func TestLocalInfo(t *testing.T) {
	r := newTestRepo(t)
	r.publish("spam", "1.0", spamFiles)
	e, _ := newTestEngine(t, r.repo())

	if _, err := e.LocalInfo("spam"); !errors.Is(err, core.ErrNotInstalled) {
		t.Errorf("LocalInfo error = %v, want ErrNotInstalled", err)
	}
	if _, err := e.Install(context.Background(), "spam"); err != nil {
		t.Fatal(err)
	}
	info, err := e.LocalInfo("spam")
	if err != nil {
		t.Fatalf("LocalInfo failed: %v", err)
	}
	if info.Metadata.Description == "" || info.PURL != "pkg:hkg/spam@1.0" {
		t.Errorf("LocalInfo = %+v", info)
	}
}

func TestListAvailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	r := newTestRepo(t)
	r.publish("spam", "1.0", nil)
	r.publish("eggs", "0.4", nil)
	e, _ := newTestEngine(t, r.repo(), core.Repository{URL: down.URL})

	listings, err := e.ListAvailable(context.Background(), All)
	if err != nil {
		t.Fatalf("ListAvailable(all) failed: %v", err)
	}
	if len(listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(listings))
	}
	want := []hdb.Entry{
		{Name: "spam", Version: core.MustParseVersion("1.0")},
		{Name: "eggs", Version: core.MustParseVersion("0.4")},
	}
	if listings[0].Err != nil || !reflect.DeepEqual(listings[0].Packages, want) {
		t.Errorf("listing 0 = %+v, want %v", listings[0], want)
	}
	if !errors.Is(listings[1].Err, core.ErrUnreachable) {
		t.Errorf("listing 1 error = %v, want ErrUnreachable", listings[1].Err)
	}

	one, err := e.ListAvailable(context.Background(), r.repo().URL+"/")
	if err != nil {
		t.Fatalf("ListAvailable(url) failed: %v", err)
	}
	if len(one) != 1 || len(one[0].Packages) != 2 {
		t.Errorf("ListAvailable(url) = %+v", one)
	}

	if _, err := e.ListAvailable(context.Background(), "https://elsewhere.example"); !errors.Is(err, core.ErrRepositoryNotConfigured) {
		t.Errorf("ListAvailable(unknown) error = %v, want ErrRepositoryNotConfigured", err)
	}
	if _, err := e.ListAvailable(context.Background(), down.URL); !errors.Is(err, core.ErrUnreachable) {
		t.Errorf("ListAvailable(down) error = %v, want ErrUnreachable", err)
	}
}

func TestListInstalled(t *testing.T) {
	r := newTestRepo(t)
	r.publish("spam", "1.0", nil)
	r.publish("eggs", "0.4", nil)
	e, _ := newTestEngine(t, r.repo())
	for _, name := range []string{"eggs", "spam"} {
		if _, err := e.Install(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}

	got, err := e.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled failed: %v", err)
	}
	want := []hdb.Entry{
		{Name: "eggs", Version: core.MustParseVersion("0.4")},
		{Name: "spam", Version: core.MustParseVersion("1.0")},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListInstalled = %v, want %v", got, want)
	}
}

func TestReadme(t *testing.T) {
	r := newTestRepo(t)
	r.publish(SelfName, "3.1", map[string]string{
		"bin/hkg":       "#!/bin/sh\n",
		"lib/readme.md": "# hkg\n",
	})
	e, _ := newTestEngine(t, r.repo())

	if _, err := e.Readme(); !errors.Is(err, core.ErrNotInstalled) {
		t.Errorf("Readme error = %v, want ErrNotInstalled", err)
	}
	if _, err := e.Install(context.Background(), SelfName); err != nil {
		t.Fatal(err)
	}
	got, err := e.Readme()
	if err != nil {
		t.Fatalf("Readme failed: %v", err)
	}
	if string(got) != "# hkg\n" {
		t.Errorf("Readme = %q", got)
	}
}
