package survey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tally-ai/tally/internal/logger"
	"github.com/tally-ai/tally/internal/utils"
)

// Options tune the navigation policy of the flow.
type Options struct {
	// TransitionDelay is a cosmetic pause before moving to the next step. Zero disables it.
	TransitionDelay time.Duration
	// AllowBackFromDone permits navigating back once the survey has been completed.
	AllowBackFromDone bool
	// RequireEmailForLinkedin forbids jumping to step 2 without a stored email.
	RequireEmailForLinkedin bool
}

// DefaultOptions returns the strict policy: no way back from Done, step 2 needs an email.
func DefaultOptions() Options {
	return Options{
		RequireEmailForLinkedin: true,
	}
}

// Machine drives a single user through the onboarding survey.
// It is safe for concurrent use; the lock is never held across backend calls.
type Machine struct {
	store   Store
	backend Backend
	log     *zap.Logger
	opts    Options

	mu         sync.Mutex
	progress   Progress
	inFlight   bool
	generation uint64
}

// New restores progress from store. A record that cannot be decoded or breaks
// an invariant is discarded and the flow restarts at the email step.
func New(store Store, backend Backend, log *zap.Logger, opts Options) (*Machine, error) {
	if store == nil {
		return nil, errors.New("survey store is required")
	}
	if backend == nil {
		return nil, errors.New("survey backend is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Machine{
		store:    store,
		backend:  backend,
		log:      log,
		opts:     opts,
		progress: NewProgress(),
	}

	restored, ok, err := store.Load()
	switch {
	case errors.Is(err, ErrCorruptState):
		log.Warn("discarding unreadable survey state", zap.Error(err))
		if err := store.Clear(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("loading survey state: %w", err)
	case ok:
		if err := restored.Check(); err != nil {
			log.Warn("discarding invalid survey state", zap.Error(err))
			if err := store.Clear(); err != nil {
				return nil, err
			}
			break
		}
		m.progress = restored
		log.Debug("survey state restored",
			zap.Stringer("step", restored.CurrentStep),
			zap.Bool("completed", restored.IsCompleted),
		)
	}

	return m, nil
}

// Progress returns a snapshot of the current record.
func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Current returns the step the user is on.
func (m *Machine) Current() Step {
	return m.Progress().CurrentStep
}

// Submitting reports whether a submission is in flight.
func (m *Machine) Submitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// SubmitEmail validates and sends the email, then moves to the LinkedIn step.
func (m *Machine) SubmitEmail(ctx context.Context, candidate string) error {
	return m.submit(ctx, emailStep{}, candidate)
}

// SubmitLinkedin validates and sends the profile URL keyed by the stored email,
// then completes the survey.
func (m *Machine) SubmitLinkedin(ctx context.Context, candidate string) error {
	return m.submit(ctx, linkedinStep{}, candidate)
}

// Submit dispatches candidate to whichever step is current.
func (m *Machine) Submit(ctx context.Context, candidate string) error {
	return m.submit(ctx, handlerFor(m.Current()), candidate)
}

func (m *Machine) submit(ctx context.Context, h stepHandler, candidate string) error {
	if err := h.Validate(candidate); err != nil {
		m.log.Debug("survey input rejected", zap.Stringer("step", h.Step()), zap.Error(err))
		return err
	}

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return ErrSubmitInFlight
	}
	if m.progress.CurrentStep != h.Step() {
		step := m.progress.CurrentStep
		m.mu.Unlock()
		return &StateError{Op: "submit " + h.Step().String(), Step: step, Reason: "not the current step"}
	}
	if h.Step() == StepLinkedin && m.progress.Email == "" {
		m.mu.Unlock()
		return &StateError{Op: "submit " + h.Step().String(), Step: StepLinkedin, Reason: "no email has been submitted"}
	}
	snapshot := m.progress
	generation := m.generation
	m.inFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	if err := h.Submit(ctx, m.backend, snapshot, candidate); err != nil {
		var stateErr *StateError
		if errors.As(err, &stateErr) {
			return err
		}
		netErr := newNetworkError("submit "+h.Step().String(), err)
		m.log.Warn("survey submission failed", zap.Stringer("step", h.Step()), zap.Error(err))
		return netErr
	}

	if err := utils.WaitFor(ctx, m.opts.TransitionDelay); err != nil {
		m.log.Debug("transition delay interrupted", zap.Error(err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.generation != generation {
		return ErrStale
	}

	next := m.progress
	h.Apply(&next, candidate)
	next.CurrentStep = h.Next()

	if err := m.commit(next); err != nil {
		return err
	}

	m.log.Info("survey step accepted",
		zap.Stringer("step", h.Step()),
		zap.Stringer("next", next.CurrentStep),
		logger.Email(next.Email),
	)

	return nil
}

// TransitionTo navigates between the two input steps without resubmitting.
func (m *Machine) TransitionTo(step Step) error {
	if step != StepEmail && step != StepLinkedin {
		return &StateError{Op: "transition", Step: step, Reason: "only steps 1 and 2 can be navigated to"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return ErrSubmitInFlight
	}

	current := m.progress.CurrentStep
	if current == step {
		return nil
	}

	if current == StepDone && !m.opts.AllowBackFromDone {
		return &StateError{Op: "transition to " + step.String(), Step: current, Reason: "survey is already complete"}
	}

	if step == StepLinkedin && m.opts.RequireEmailForLinkedin && m.progress.Email == "" {
		return &StateError{Op: "transition to " + step.String(), Step: current, Reason: "no email has been submitted"}
	}

	next := m.progress
	next.CurrentStep = step
	next.IsCompleted = false

	if err := m.commit(next); err != nil {
		return err
	}
	m.generation++

	m.log.Debug("survey navigated", zap.Stringer("from", current), zap.Stringer("to", step))
	return nil
}

// Reset clears every answer and the persisted record.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return err
	}

	m.progress = NewProgress()
	m.generation++

	m.log.Debug("survey reset")
	return nil
}

// commit persists next and only then makes it current. Callers hold m.mu.
func (m *Machine) commit(next Progress) error {
	if err := next.Check(); err != nil {
		return fmt.Errorf("refusing to store survey state: %w", err)
	}

	if err := m.store.Save(next); err != nil {
		return fmt.Errorf("persisting survey state: %w", err)
	}

	m.progress = next
	return nil
}
