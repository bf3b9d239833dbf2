// Package lock serializes mutating operations on the package data root with
// an exclusive advisory lock on a well-known file.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenk/backoff"

	"github.com/git-pkgs/hkg/internal/core"
	"github.com/git-pkgs/hkg/internal/logging"
)

// Acquire blocks until the lock at path is held or ctx is done. While another
// process holds the lock, acquisition is retried on an exponential schedule.
func Acquire(ctx context.Context, path string, logger *slog.Logger) (*Lock, error) {
	logger = logging.OrDiscard(logger)

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 50 * time.Millisecond
	wait.MaxInterval = time.Second
	wait.MaxElapsedTime = 0
	wait.Reset()

	logged := false
	for {
		l, err := TryAcquire(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, core.ErrLocked) {
			return nil, err
		}
		if !logged {
			logger.Info("waiting for another hkg process to finish", "lock", path)
			logged = true
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(wait.NextBackOff()):
		}
	}
}
