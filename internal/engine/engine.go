// Package engine installs, updates and removes packages in a home directory.
//
// Every operation walks RESOLVING, FETCHING, STAGING and COMMITTING before
// reaching DONE, or stops in FAILED. Nothing outside the private staging area
// changes before COMMITTING. The commit itself swaps whole package trees with
// renames, parking the replaced tree in a trash box until the new one is
// recorded, so an interrupted commit leaves one complete tree that the next
// run puts back in place.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/git-pkgs/hkg/internal/archive"
	"github.com/git-pkgs/hkg/internal/config"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
	"github.com/git-pkgs/hkg/internal/lock"
	"github.com/git-pkgs/hkg/internal/logging"
	"github.com/git-pkgs/hkg/internal/state"
)

// RepositorySource lists the configured repositories in registration order.
type RepositorySource interface {
	Repositories() ([]core.Repository, error)
}

// Client fetches from remote repositories.
type Client interface {
	FetchDatabase(ctx context.Context, repo core.Repository) (hdb.Database, error)
	FetchPackageArchive(ctx context.Context, repo core.Repository, name string) ([]byte, error)
}

// Status is the outcome of one package operation.
type Status string

const (
	StatusInstalled        Status = "installed"
	StatusUpdated          Status = "updated"
	StatusUpToDate         Status = "up-to-date"
	StatusDowngradeRefused Status = "downgrade-refused"
	StatusRemoved          Status = "removed"
	StatusFailed           Status = "failed"
)

// Result reports one package operation.
type Result struct {
	Package    string
	Repository string
	// Previous is the version installed before an update.
	Previous *core.Version
	// Version is the version installed, offered or removed.
	Version core.Version
	Status  Status
	// Phase is the last phase entered; FAILED results keep the phase that
	// failed in Err.
	Phase core.Phase
	Err   error
	// Preserved lists the .hkg_old files written by an update, relative to
	// the package tree.
	Preserved []string
}

// Summary collects per-package results of an update.
type Summary struct {
	Results []Result
}

// Failed returns the failed results.
func (s *Summary) Failed() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// Err joins the errors of all failed results.
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Failed() {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

// Engine runs package lifecycle operations against one home directory.
type Engine struct {
	paths       config.Paths
	repos       RepositorySource
	client      Client
	state       *state.Store
	logger      *slog.Logger
	maxSize     int64
	preserveEtc bool
	lockTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMaxArchiveSize bounds the extracted size of a package archive.
func WithMaxArchiveSize(n int64) Option {
	return func(e *Engine) {
		e.maxSize = n
	}
}

// WithPreserveEtc sets whether updates keep the previous etc files as
// .hkg_old copies when UpdateOptions does not say otherwise. The default is
// true.
func WithPreserveEtc(preserve bool) Option {
	return func(e *Engine) {
		e.preserveEtc = preserve
	}
}

// WithLockTimeout bounds how long a mutating operation waits for another
// process to release the data root lock before failing with core.ErrLocked.
// Zero, the default, waits until the context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.lockTimeout = d
	}
}

// New returns an engine for the layout paths.
func New(paths config.Paths, repos RepositorySource, client Client, opts ...Option) *Engine {
	e := &Engine{
		paths:       paths,
		repos:       repos,
		client:      client,
		maxSize:     archive.DefaultMaxSize,
		preserveEtc: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrDiscard(e.logger)
	e.state = state.New(paths.Database(), paths.Packages(), state.WithLogger(e.logger))
	return e
}

// Paths returns the local layout the engine manages.
func (e *Engine) Paths() config.Paths {
	return e.paths
}

// mutate runs fn holding the data root lock, after recovering from any
// interrupted earlier run.
func (e *Engine) mutate(ctx context.Context, fn func() error) error {
	wait := ctx
	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}
	l, err := lock.Acquire(wait, e.paths.Lock(), e.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Release(); err != nil {
			e.logger.Warn("releasing lock", "lock", e.paths.Lock(), "error", err)
		}
	}()

	if err := e.prepare(); err != nil {
		return err
	}
	return fn()
}

// prepare restores trees parked by an interrupted commit, clears stale
// staging directories and reconciles the local database with the live trees.
func (e *Engine) prepare() error {
	if err := e.recoverTrash(); err != nil {
		return err
	}
	if err := os.RemoveAll(e.paths.Staging()); err != nil {
		return fmt.Errorf("clearing staging area: %w", err)
	}
	if _, err := e.state.Reconcile(); err != nil {
		return fmt.Errorf("reconciling local state: %w", err)
	}
	return nil
}

// recoverTrash walks the trash boxes. A parked tree whose live tree is
// missing while the local database still records the package was displaced
// by a commit that never finished; it is moved back and its missing
// executable links are recreated. Any other box is garbage, including the
// remains of a removal that was already recorded.
func (e *Engine) recoverTrash() error {
	boxes, err := os.ReadDir(e.paths.Trash())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading trash: %w", err)
	}
	if len(boxes) == 0 {
		return nil
	}

	db, err := e.state.Load()
	if err != nil {
		return err
	}

	for _, b := range boxes {
		box := filepath.Join(e.paths.Trash(), b.Name())
		name, _, _ := strings.Cut(b.Name(), ".")
		parked := filepath.Join(box, trashTree)
		live := e.paths.Package(name)

		if core.ValidateName(name) == nil && db.Installed.Has(name) && exists(parked) && !exists(live) {
			e.logger.Warn("restoring package tree from interrupted commit", "package", name, "from", parked, "to", live)
			if err := os.MkdirAll(e.paths.Packages(), 0o755); err != nil {
				return err
			}
			if err := os.Rename(parked, live); err != nil {
				return fmt.Errorf("restoring %s: %w", name, err)
			}
			if err := e.relink(name); err != nil {
				return fmt.Errorf("restoring executable links of %s: %w", name, err)
			}
		}
		if err := os.RemoveAll(box); err != nil {
			return fmt.Errorf("emptying trash box %s: %w", box, err)
		}
	}
	return nil
}

// relink recreates executable links of name that are missing. Paths taken by
// anything else are left alone.
func (e *Engine) relink(name string) error {
	live := e.paths.Package(name)
	bins, err := binNames(live)
	if err != nil {
		return err
	}
	for _, b := range bins {
		link := filepath.Join(e.paths.Bin, b)
		if exists(link) {
			continue
		}
		if err := e.link(filepath.Join(live, "bin", b), link); err != nil {
			return err
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// operation tracks the phase of one package operation for logging and error
// reporting.
type operation struct {
	op     string
	name   string
	repo   string
	phase  core.Phase
	logger *slog.Logger
}

func (e *Engine) begin(op, name string) *operation {
	o := &operation{op: op, name: name, logger: e.logger.With("op", op, "package", name)}
	o.enter(core.PhaseResolving)
	return o
}

// enter moves the operation to p. DONE and FAILED are final.
func (o *operation) enter(p core.Phase) {
	if o.phase.Terminal() {
		return
	}
	o.phase = p
	if p.Terminal() {
		o.logger.Info("phase", "phase", p, "repository", o.repo)
		return
	}
	o.logger.Debug("phase", "phase", p, "repository", o.repo)
}

// fail ends the operation in FAILED and wraps err with its context.
func (o *operation) fail(err error) error {
	failed := &core.OperationError{Op: o.op, Package: o.name, Repository: o.repo, Phase: o.phase, Err: err}
	o.logger.Error("phase", "phase", core.PhaseFailed, "failed_in", o.phase, "repository", o.repo, "error", err)
	o.phase = core.PhaseFailed
	return failed
}

func (o *operation) result(status Status, v core.Version) Result {
	return Result{Package: o.name, Repository: o.repo, Version: v, Status: status, Phase: o.phase}
}

func (o *operation) failed(err error) Result {
	err = o.fail(err)
	return Result{Package: o.name, Repository: o.repo, Status: StatusFailed, Phase: o.phase, Err: err}
}
