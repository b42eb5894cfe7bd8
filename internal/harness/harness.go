package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/vmstate/internal/engine"
	"github.com/roach88/vmstate/internal/layout"
	"github.com/roach88/vmstate/internal/store"
	"github.com/roach88/vmstate/internal/testutil"
)

// Harness is the scenario execution engine.
// It drives a real session with a pinned id and a silent logger.
type Harness struct {
	session *engine.Session
	logger  *slog.Logger
	result  *Result
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Load the scenario's layout (or the default one)
//  2. Dispatch every event through a fresh session, recording mutations
//  3. Stop at the first fatal error; dropped events are counted and skipped
//  4. Optionally seal the history at close_at
//  5. Persist the history to an in-memory store and check that the stored
//     copy fingerprints the same as the live one
//  6. Evaluate assertions
//
// The returned error covers harness failures only. Scenario failures are
// reported through Result.Pass and Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	lay := layout.Default()
	if scenario.Layout != "" {
		l, err := layout.Load(scenario.Layout)
		if err != nil {
			return nil, fmt.Errorf("failed to load layout: %w", err)
		}
		lay = l
	}

	result := NewResult()
	h := &Harness{
		logger: testutil.DiscardLogger(),
		result: result,
	}
	h.session = engine.NewSession(
		engine.WithLayout(lay),
		engine.WithLogger(h.logger),
		engine.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.SessionID)),
		engine.WithObserver(result.addTrace),
	)

	if err := h.dispatch(scenario.Events); err != nil {
		return nil, err
	}
	if scenario.CloseAt != nil {
		h.session.Close(*scenario.CloseAt)
	}

	result.Summary = h.session.Summary()
	fp, err := h.session.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint session: %w", err)
	}
	result.Fingerprint = fp

	ctx := context.Background()
	if err := h.checkPersisted(ctx); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(h.session, result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// dispatch feeds events to the session in order.
func (h *Harness) dispatch(steps []EventStep) error {
	for i, step := range steps {
		ev, err := step.Event()
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}

		err = h.session.HandleEvent(ev)
		if err == nil {
			continue
		}

		var re *engine.RuntimeError
		if !errors.As(err, &re) {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if re.Fatal() {
			h.result.Fatal = re
			h.logger.Info("scenario aborted", "event", i, "error", err)
			return nil
		}
		h.logger.Info("event dropped", "event", i, "error", err)
	}
	return nil
}

// checkPersisted writes the session to a throwaway store and compares the
// fingerprint recomputed from disk with the live one.
func (h *Harness) checkPersisted(ctx context.Context) error {
	st, err := store.Open(":memory:")
	if err != nil {
		return fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	rec := store.NewSessionRecord("scenario", h.result.Fingerprint, h.result.Summary)
	if err := st.WriteSession(ctx, rec, h.session.Tree(), h.session.History()); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	recorded, computed, err := st.VerifySession(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to verify persisted session: %w", err)
	}
	if recorded != computed {
		h.result.AddError(fmt.Sprintf("persisted history fingerprint %s differs from live %s", computed, recorded))
	}
	return nil
}
