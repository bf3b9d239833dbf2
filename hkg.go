// Package hkg manages packages installed into a single user's home directory.
//
// Packages come from one or more remote repositories reachable over HTTP(S)
// or file URLs. Each is a versioned bundle of bin, etc and lib trees; bin
// entries are linked into ~/bin.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/hkg"
//	)
//
//	rt, err := hkg.LoadRuntime(nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	m, err := hkg.Open(rt, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//
//	res, err := m.Engine.Install(context.Background(), "spam")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Package, res.Version)
package hkg

import (
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/git-pkgs/hkg/client"
	"github.com/git-pkgs/hkg/fetch"
	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/builder"
	"github.com/git-pkgs/hkg/internal/config"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/engine"
	"github.com/git-pkgs/hkg/internal/logging"
	"github.com/git-pkgs/hkg/internal/repo"
)

// Version is the build version, set via -ldflags.
var Version = "dev"

// Re-export types from internal packages
type (
	// Engine installs, updates and removes packages.
	Engine = engine.Engine

	// Builder builds package archives and maintains repository directories.
	Builder = builder.Builder

	// SettingsStore reads and writes settings.toml.
	SettingsStore = config.Store

	// Runtime holds flag and environment settings.
	Runtime = config.Runtime

	// Paths is the local directory layout.
	Paths = config.Paths

	// PackageVersion is a MAJOR.MINOR package version.
	PackageVersion = core.Version

	// Repository references a remote package repository.
	Repository = core.Repository

	// Phase is a step of a lifecycle operation.
	Phase = core.Phase

	// Result reports one package operation.
	Result = engine.Result

	// Summary collects per-package update results.
	Summary = engine.Summary

	// Status is the outcome of one package operation.
	Status = engine.Status

	// UpdateOptions configures an update.
	UpdateOptions = engine.UpdateOptions

	// PackageInfo describes a package and where it comes from.
	PackageInfo = engine.PackageInfo

	// Listing is the package list of one repository.
	Listing = engine.Listing

	// Artifact is a built package archive.
	Artifact = builder.Artifact

	// RepositoryReport lists what a repository update found.
	RepositoryReport = builder.RepositoryReport

	// Target names a package, optionally pinned to a version and repository.
	Target = client.Target
)

// Re-export errors
var (
	ErrPackageNotFound         = core.ErrPackageNotFound
	ErrAlreadyInstalled        = core.ErrAlreadyInstalled
	ErrNotInstalled            = core.ErrNotInstalled
	ErrCorruptArchive          = core.ErrCorruptArchive
	ErrMissingMetadata         = core.ErrMissingMetadata
	ErrMalformedMetadata       = core.ErrMalformedMetadata
	ErrInvalidVersion          = core.ErrInvalidVersion
	ErrUnreachable             = core.ErrUnreachable
	ErrBadResponse             = core.ErrBadResponse
	ErrInvalidSourceTree       = core.ErrInvalidSourceTree
	ErrNotFound                = core.ErrNotFound
	ErrMalformedDatabase       = core.ErrMalformedDatabase
	ErrInvalidName             = core.ErrInvalidName
	ErrRepositoryExists        = core.ErrRepositoryExists
	ErrRepositoryNotConfigured = core.ErrRepositoryNotConfigured
	ErrSymlinkConflict         = core.ErrSymlinkConflict
	ErrLocked                  = core.ErrLocked
)

// Error types
type (
	OperationError       = core.OperationError
	RepositoryError      = core.RepositoryError
	PackageNotFoundError = core.PackageNotFoundError
	MetadataError        = core.MetadataError
)

// Re-export constants
const (
	All = engine.All

	StatusInstalled        = engine.StatusInstalled
	StatusUpdated          = engine.StatusUpdated
	StatusUpToDate         = engine.StatusUpToDate
	StatusDowngradeRefused = engine.StatusDowngradeRefused
	StatusRemoved          = engine.StatusRemoved
	StatusFailed           = engine.StatusFailed
)

// ParseVersion parses a MAJOR.MINOR version.
func ParseVersion(s string) (PackageVersion, error) {
	return core.ParseVersion(s)
}

// ParseTarget parses a package name or pkg:hkg package URL.
func ParseTarget(s string) (Target, error) {
	return client.ParseTarget(s)
}

// PURL returns the package URL of name at version in the repository repoURL.
func PURL(repoURL, name, version string) string {
	return client.PURL(repoURL, name, version)
}

// LoadRuntime reads HKG_* environment variables, the optional env file in
// the hkg config directory and, when flags is not nil, its overrides.
func LoadRuntime(flags *pflag.FlagSet) (Runtime, error) {
	v := config.NewViper()
	if flags != nil {
		if err := config.BindFlags(v, flags); err != nil {
			return Runtime{}, err
		}
	}
	rt, err := config.ReadRuntime(v)
	if err != nil {
		return Runtime{}, err
	}
	if err := config.LoadEnvFile(config.NewPaths(rt.Home).EnvFile()); err != nil {
		return Runtime{}, err
	}
	return config.ReadRuntime(v)
}

// Manager bundles everything a front end needs for one home directory.
type Manager struct {
	Paths    Paths
	Settings *SettingsStore
	Engine   *Engine
	Builder  *Builder

	fetcher *fetch.Fetcher
	breaker *fetch.CircuitBreakerFetcher
}

// Open wires the engine, builder and settings for rt. A nil logger discards
// all logging. Close releases the fetcher.
func Open(rt Runtime, logger *slog.Logger) (*Manager, error) {
	logger = logging.OrDiscard(logger)
	paths := config.NewPaths(rt.Home)
	store := config.NewStore(paths.Settings())

	settings, err := store.Load()
	if err != nil {
		return nil, err
	}
	compressionName := settings.Options.Compression
	if rt.Compression != "" {
		compressionName = rt.Compression
	}
	compression, err := archive.ParseCompression(compressionName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.KeyCompression, err)
	}

	maxSize := rt.MaxArchiveSize
	if maxSize <= 0 {
		maxSize = archive.DefaultMaxSize
	}

	fetchOpts := []fetch.Option{
		fetch.WithUserAgent("hkg/" + Version),
		fetch.WithMaxRetries(rt.FetchRetries),
		fetch.WithMaxSize(maxSize),
	}
	if rt.FetchTimeout > 0 {
		fetchOpts = append(fetchOpts, fetch.WithTimeout(rt.FetchTimeout))
	}
	fetcher := fetch.NewFetcher(fetchOpts...)
	breaker := fetch.NewCircuitBreakerFetcher(fetcher)
	transport := fetch.NewDefaultTransport(breaker, maxSize)
	repoClient := repo.New(transport, repo.WithLogger(logger))

	return &Manager{
		Paths:    paths,
		Settings: store,
		Engine: engine.New(paths, store, repoClient,
			engine.WithLogger(logger),
			engine.WithMaxArchiveSize(maxSize),
			engine.WithPreserveEtc(settings.Options.PreserveEtc),
			engine.WithLockTimeout(rt.LockTimeout),
		),
		Builder: builder.New(
			builder.WithCompression(compression),
			builder.WithLogger(logger),
		),
		fetcher: fetcher,
		breaker: breaker,
	}, nil
}

// BreakerStates reports the circuit breaker state of every repository host
// contacted so far.
func (m *Manager) BreakerStates() map[string]string {
	return m.breaker.BreakerStates()
}

// Close stops background work started by Open.
func (m *Manager) Close() error {
	return m.fetcher.Close()
}
