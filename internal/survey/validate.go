package survey

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

const linkedinHost = "linkedin.com"

var validate = validator.New()

// ValidateEmail checks the candidate against the email grammar.
func ValidateEmail(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return &ValidationError{Field: FieldEmail, Message: "email is required"}
	}

	if err := validate.Var(candidate, "email"); err != nil {
		return &ValidationError{Field: FieldEmail, Message: "invalid email"}
	}

	return nil
}

// ValidateLinkedin accepts well-formed URLs containing linkedin.com.
func ValidateLinkedin(candidate string) error {
	if strings.TrimSpace(candidate) == "" {
		return &ValidationError{Field: FieldLinkedin, Message: "linkedin is required"}
	}

	if err := validate.Var(candidate, "url"); err != nil || !strings.Contains(candidate, linkedinHost) {
		return &ValidationError{Field: FieldLinkedin, Message: "must be a LinkedIn URL"}
	}

	return nil
}
