package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// trashTree is the name of the parked tree inside a trash box.
const trashTree = "tree"

// commit makes the staged tree live. The previous tree, if any, is parked in
// a trash box first and only deleted once the new version is recorded. A
// failure before that point moves the previous tree back.
func (e *Engine) commit(o *operation, s *staged) (err error) {
	name := o.name
	live := e.paths.Package(name)

	previousBins, err := binNames(live)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.paths.Packages(), 0o755); err != nil {
		return err
	}

	var box, parked string
	if exists(live) {
		if err := os.MkdirAll(e.paths.Trash(), 0o755); err != nil {
			return err
		}
		if box, err = os.MkdirTemp(e.paths.Trash(), name+"."); err != nil {
			return fmt.Errorf("creating trash box: %w", err)
		}
		parked = filepath.Join(box, trashTree)
		o.logger.Info("parking live tree", "from", live, "to", parked)
		if err := os.Rename(live, parked); err != nil {
			_ = os.Remove(box)
			return fmt.Errorf("parking %s: %w", live, err)
		}
	}
	defer func() {
		// A failed commit keeps the box only while it still holds the parked tree.
		if box != "" && (err == nil || !exists(parked)) {
			if rmErr := os.RemoveAll(box); rmErr != nil {
				o.logger.Warn("emptying trash box", "box", box, "error", rmErr)
			}
		}
	}()

	o.logger.Info("moving staged tree into place", "from", s.root, "to", live)
	if err := os.Rename(s.root, live); err != nil {
		e.restore(o, parked, live)
		return fmt.Errorf("moving %s into place: %w", s.root, err)
	}

	var created []string
	rollback := func() {
		for _, link := range created {
			_ = os.Remove(link)
		}
		if err := os.Rename(live, s.root); err != nil {
			o.logger.Error("moving new tree back to staging", "from", live, "to", s.root, "error", err)
			return
		}
		e.restore(o, parked, live)
	}

	for _, b := range s.bins {
		link := filepath.Join(e.paths.Bin, b)
		fresh := !exists(link)
		if err := e.link(filepath.Join(live, "bin", b), link); err != nil {
			rollback()
			return err
		}
		if fresh {
			created = append(created, link)
		}
	}

	if err := e.state.RecordInstall(name, s.meta.Version); err != nil {
		rollback()
		return fmt.Errorf("recording %s: %w", name, err)
	}

	for _, b := range previousBins {
		if slices.Contains(s.bins, b) {
			continue
		}
		if _, err := e.unlink(name, b); err != nil {
			o.logger.Warn("removing stale executable link", "link", filepath.Join(e.paths.Bin, b), "error", err)
		}
	}
	return nil
}

// restore moves a parked tree back to live after a failed commit.
func (e *Engine) restore(o *operation, parked, live string) {
	if parked == "" {
		return
	}
	o.logger.Warn("restoring previous tree", "from", parked, "to", live)
	if err := os.Rename(parked, live); err != nil {
		o.logger.Error("restoring previous tree failed; recover it by hand", "from", parked, "to", live, "error", err)
	}
}

// link points the executable link at target, replacing an existing link in
// one rename.
func (e *Engine) link(target, link string) error {
	if err := os.MkdirAll(filepath.Dir(link), 0o755); err != nil {
		return err
	}
	tmp := link + ".hkg-new"
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("linking %s: %w", link, err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("linking %s: %w", link, err)
	}
	return nil
}

// unlink removes the executable link for bin if it belongs to name and
// reports whether it did.
func (e *Engine) unlink(name, bin string) (bool, error) {
	link := filepath.Join(e.paths.Bin, bin)
	fi, err := os.Lstat(link)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if fi.Mode()&fs.ModeSymlink == 0 || !e.ownsLink(name, link) {
		e.logger.Debug("leaving executable path owned by something else", "link", link)
		return false, nil
	}
	if err := os.Remove(link); err != nil {
		return false, err
	}
	return true, nil
}
