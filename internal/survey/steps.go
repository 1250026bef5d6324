package survey

import "context"

// Backend persists accepted answers. Implementations are expected to upsert,
// so a duplicated submission is harmless.
type Backend interface {
	SubmitEmail(ctx context.Context, email string) error
	SubmitLinkedin(ctx context.Context, email, linkedinURL string) error
}

// stepHandler is implemented by every screen of the flow.
type stepHandler interface {
	Step() Step
	Validate(candidate string) error
	Submit(ctx context.Context, backend Backend, current Progress, candidate string) error
	Apply(p *Progress, candidate string)
	Next() Step
}

type emailStep struct{}

func (emailStep) Step() Step { return StepEmail }

func (emailStep) Validate(candidate string) error { return ValidateEmail(candidate) }

func (emailStep) Submit(ctx context.Context, backend Backend, _ Progress, candidate string) error {
	return backend.SubmitEmail(ctx, candidate)
}

func (emailStep) Apply(p *Progress, candidate string) {
	p.Email = candidate
}

func (emailStep) Next() Step { return StepLinkedin }

type linkedinStep struct{}

func (linkedinStep) Step() Step { return StepLinkedin }

func (linkedinStep) Validate(candidate string) error { return ValidateLinkedin(candidate) }

func (linkedinStep) Submit(ctx context.Context, backend Backend, current Progress, candidate string) error {
	return backend.SubmitLinkedin(ctx, current.Email, candidate)
}

func (linkedinStep) Apply(p *Progress, candidate string) {
	p.LinkedinURL = candidate
	p.IsCompleted = true
}

func (linkedinStep) Next() Step { return StepDone }

// doneStep is terminal: nothing can be submitted from it.
type doneStep struct{}

func (doneStep) Step() Step { return StepDone }

func (doneStep) Validate(string) error { return nil }

func (doneStep) Submit(context.Context, Backend, Progress, string) error {
	return &StateError{Op: "submit", Step: StepDone, Reason: "survey is already complete"}
}

func (doneStep) Apply(*Progress, string) {}

func (doneStep) Next() Step { return StepDone }

// handlerFor returns the variant serving step s.
func handlerFor(s Step) stepHandler {
	switch s {
	case StepEmail:
		return emailStep{}
	case StepLinkedin:
		return linkedinStep{}
	default:
		return doneStep{}
	}
}
