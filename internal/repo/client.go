// Package repo is the read-only client for remote package repositories.
// Every call fetches afresh; nothing is cached between calls.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/git-pkgs/hkg/client"
	"github.com/git-pkgs/hkg/fetch"
	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/hdb"
	"github.com/git-pkgs/hkg/internal/logging"
)

// Client fetches repository databases and package archives.
type Client struct {
	getter fetch.Getter
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New returns a client fetching through g.
func New(g fetch.Getter, opts ...Option) *Client {
	c := &Client{getter: g}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// FetchDatabase downloads and parses the repository database. Transport
// failures and 5xx answers are core.ErrUnreachable; a missing or unparsable
// database is core.ErrBadResponse.
func (c *Client) FetchDatabase(ctx context.Context, repo core.Repository) (hdb.Database, error) {
	url := client.NewRepoURLs(repo.URL).Database()
	c.logger.Debug("fetching package database", "repository", repo.URL, "url", url)

	body, err := c.getter.Get(ctx, url)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) || errors.Is(err, fetch.ErrBadStatus) || errors.Is(err, fetch.ErrTooLarge) {
			err = fmt.Errorf("%w: %w", core.ErrBadResponse, err)
		} else {
			err = unreachable(ctx, err)
		}
		return hdb.Database{}, &core.RepositoryError{URL: repo.URL, Err: err}
	}

	db, err := hdb.Parse(body)
	if err != nil {
		return hdb.Database{}, &core.RepositoryError{URL: repo.URL, Err: fmt.Errorf("%w: %w", core.ErrBadResponse, err)}
	}
	return db, nil
}

// FetchPackageArchive downloads the archive of name. A missing archive is
// core.ErrNotFound; everything else is core.ErrUnreachable.
func (c *Client) FetchPackageArchive(ctx context.Context, repo core.Repository, name string) ([]byte, error) {
	if err := core.ValidateName(name); err != nil {
		return nil, err
	}
	url := client.NewRepoURLs(repo.URL).Archive(name)
	c.logger.Debug("fetching package archive", "repository", repo.URL, "package", name, "url", url)

	body, err := c.getter.Get(ctx, url)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			err = fmt.Errorf("%w: %w", core.ErrNotFound, err)
		} else {
			err = unreachable(ctx, err)
		}
		return nil, &core.RepositoryError{URL: repo.URL, Err: err}
	}
	return body, nil
}

// unreachable tags err as core.ErrUnreachable. Cancellation is left alone so
// callers can tell an interrupted walk from a dead repository.
func unreachable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrUnreachable, err)
}
