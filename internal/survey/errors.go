package survey

import (
	"errors"
	"fmt"
	"strings"
)

const (
	FieldEmail    = "email"
	FieldLinkedin = "linkedin"

	defaultNetworkMessage = "submission failed, please retry"
)

var (
	// ErrSubmitInFlight is returned while another submission has not finished yet.
	ErrSubmitInFlight = errors.New("a submission is already in progress")
	// ErrStale is returned when the flow was reset or navigated while a submission was in flight.
	// The backend result is discarded.
	ErrStale = errors.New("survey changed while the submission was in flight")
	// ErrCorruptState marks a persisted record that cannot be decoded.
	ErrCorruptState = errors.New("corrupt survey state")
)

// ValidationError is a local, field-level input error. It never reaches the backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NetworkError wraps a backend failure. The survey state is left untouched.
type NetworkError struct {
	Op      string
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	return e.Message
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StateError reports an operation that is not allowed from the current step.
type StateError struct {
	Op     string
	Step   Step
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed at %s: %s", e.Op, e.Step, e.Reason)
}

// backendMessenger is implemented by backend errors that carry a user facing message.
type backendMessenger interface {
	BackendMessage() string
}

func newNetworkError(op string, err error) *NetworkError {
	message := ""

	var messenger backendMessenger
	if errors.As(err, &messenger) {
		message = strings.TrimSpace(messenger.BackendMessage())
	}
	if message == "" && err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = defaultNetworkMessage
	}

	return &NetworkError{Op: op, Message: message, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}
