package survey

import (
	"fmt"
	"strings"
)

// Step identifies a screen of the onboarding flow.
type Step int

const (
	StepEmail    Step = 1
	StepLinkedin Step = 2
	StepDone     Step = 3
)

func (s Step) String() string {
	switch s {
	case StepEmail:
		return "collecting_email"
	case StepLinkedin:
		return "collecting_linkedin"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	return s >= StepEmail && s <= StepDone
}

// Progress is the persisted survey record.
type Progress struct {
	Email       string `json:"email,omitempty"`
	LinkedinURL string `json:"linkedinUrl,omitempty"`
	CurrentStep Step   `json:"currentStep"`
	IsCompleted bool   `json:"isCompleted"`
}

// NewProgress returns the empty record a first visit starts with.
func NewProgress() Progress {
	return Progress{CurrentStep: StepEmail}
}

// Percent mirrors the progress bar shown next to the flow.
func (p Progress) Percent() int {
	if p.IsCompleted {
		return 100
	}

	switch p.CurrentStep {
	case StepEmail:
		return 33
	case StepLinkedin:
		return 66
	default:
		return 100
	}
}

// Check verifies the record invariants. Restored records failing it are discarded.
func (p Progress) Check() error {
	if !p.CurrentStep.Valid() {
		return fmt.Errorf("current step %d is out of range", int(p.CurrentStep))
	}

	if p.IsCompleted {
		if p.CurrentStep != StepDone {
			return fmt.Errorf("completed survey must be at step %d, got %d", StepDone, p.CurrentStep)
		}
		if strings.TrimSpace(p.Email) == "" {
			return fmt.Errorf("completed survey has no email")
		}
	}

	if p.Email != "" {
		if err := ValidateEmail(p.Email); err != nil {
			return fmt.Errorf("stored email: %w", err)
		}
	}

	if p.LinkedinURL != "" {
		if err := ValidateLinkedin(p.LinkedinURL); err != nil {
			return fmt.Errorf("stored linkedin url: %w", err)
		}
	}

	return nil
}
