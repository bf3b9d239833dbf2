package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/git-pkgs/hkg/internal/core"
)

// Remove deletes an installed package: its tree, including etc, and the
// executable links pointing into it. Removing a package that is not
// installed fails with core.ErrNotInstalled and changes nothing.
func (e *Engine) Remove(ctx context.Context, name string) (Result, error) {
	if err := core.ValidateName(name); err != nil {
		return Result{Package: name, Status: StatusFailed, Phase: core.PhaseFailed, Err: err}, err
	}

	var res Result
	err := e.mutate(ctx, func() error {
		o := e.begin("remove", name)

		v, ok, err := e.state.Version(name)
		if err != nil {
			res = o.failed(err)
			return res.Err
		}
		if !ok {
			res = o.failed(core.ErrNotInstalled)
			return res.Err
		}

		o.enter(core.PhaseCommitting)
		if err := e.removeTree(o); err != nil {
			res = o.failed(err)
			return res.Err
		}

		o.enter(core.PhaseDone)
		res = o.result(StatusRemoved, v)
		return nil
	})
	if err != nil && res.Status == "" {
		res = Result{Package: name, Status: StatusFailed, Phase: core.PhaseFailed, Err: err}
	}
	return res, err
}

// removeTree parks the live tree in the trash, drops the executable links and
// the database entry, then deletes the parked tree.
func (e *Engine) removeTree(o *operation) error {
	live := e.paths.Package(o.name)
	bins, err := binNames(live)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(e.paths.Trash(), 0o755); err != nil {
		return err
	}
	box, err := os.MkdirTemp(e.paths.Trash(), o.name+".")
	if err != nil {
		return fmt.Errorf("creating trash box: %w", err)
	}
	parked := filepath.Join(box, trashTree)
	o.logger.Info("parking live tree", "from", live, "to", parked)
	if err := os.Rename(live, parked); err != nil {
		_ = os.Remove(box)
		return fmt.Errorf("parking %s: %w", live, err)
	}

	var unlinked []string
	undo := func() {
		e.restore(o, parked, live)
		if exists(parked) {
			return
		}
		_ = os.RemoveAll(box)
		for _, b := range unlinked {
			if err := e.link(filepath.Join(live, "bin", b), filepath.Join(e.paths.Bin, b)); err != nil {
				o.logger.Error("restoring executable link", "link", b, "error", err)
			}
		}
	}

	for _, b := range bins {
		removed, err := e.unlink(o.name, b)
		if err != nil {
			undo()
			return fmt.Errorf("removing executable link %s: %w", b, err)
		}
		if removed {
			unlinked = append(unlinked, b)
		}
	}

	if err := e.state.RecordRemoval(o.name); err != nil {
		undo()
		return fmt.Errorf("recording removal: %w", err)
	}

	if err := os.RemoveAll(box); err != nil {
		o.logger.Warn("emptying trash box", "box", box, "error", err)
	}
	return nil
}
