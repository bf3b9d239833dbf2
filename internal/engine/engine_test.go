package engine

import (
	"errors"
	"testing"

	"github.com/git-pkgs/hkg/internal/core"
)

func TestOperationPhases(t *testing.T) {
	e, _ := newTestEngine(t)
	o := e.begin("install", "spam")
	if o.phase != core.PhaseResolving {
		t.Fatalf("phase = %s, want RESOLVING", o.phase)
	}
	o.enter(core.PhaseFetching)

	err := o.fail(core.ErrNotFound)
	var opErr *core.OperationError
	if !errors.As(err, &opErr) || opErr.Phase != core.PhaseFetching {
		t.Errorf("fail = %v, want an OperationError in FETCHING", err)
	}
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("fail = %v, want it to wrap ErrNotFound", err)
	}
	if o.phase != core.PhaseFailed {
		t.Errorf("phase after fail = %s, want FAILED", o.phase)
	}

	o.enter(core.PhaseStaging)
	if o.phase != core.PhaseFailed {
		t.Errorf("phase = %s after entering STAGING from FAILED, want FAILED", o.phase)
	}
}

func TestOperationDoneIsFinal(t *testing.T) {
	e, _ := newTestEngine(t)
	o := e.begin("update", "spam")
	o.enter(core.PhaseDone)
	o.enter(core.PhaseCommitting)

	res := o.result(StatusUpToDate, core.MustParseVersion("1.0"))
	if res.Phase != core.PhaseDone {
		t.Errorf("Phase = %s, want DONE", res.Phase)
	}
}
