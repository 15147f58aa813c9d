package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrQuizNotFound indicates the quiz could not be loaded by id or code.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAttemptNotFound is returned when an attempt id is unknown.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrUserNotFound is returned when a user record does not exist yet.
	ErrUserNotFound = errors.New("user not found")
	// ErrStudentNotFound indicates the roster has no entry for a class and seat.
	ErrStudentNotFound = errors.New("student not found in roster")
	// ErrQuizInactive is returned when a student tries to begin a closed quiz.
	ErrQuizInactive = errors.New("quiz is not active")
	// ErrInvalidState is returned when an attempt session operation is not allowed in its current state.
	ErrInvalidState = errors.New("operation not allowed in current session state")
	// ErrOptionOutOfRange indicates a submitted option index is outside the question's options.
	ErrOptionOutOfRange = errors.New("option index out of range")
	// ErrRoleAlreadySet is returned when a user tries to switch to a different role.
	ErrRoleAlreadySet = errors.New("role already chosen")
	// ErrNotStudent is returned when a student-only operation is attempted by another role.
	ErrNotStudent = errors.New("user is not a student")
	// ErrAlreadyBound is returned when a student binds a second time.
	ErrAlreadyBound = errors.New("student identity already bound")
	// ErrIncompleteBinding indicates class or seat were missing from a binding request.
	ErrIncompleteBinding = errors.New("class and seat number are required")
	// ErrNameMismatch indicates the supplied name does not match the roster entry.
	ErrNameMismatch = errors.New("name does not match roster")
	// ErrSeatTaken is returned when a seat is already bound to a different user.
	ErrSeatTaken = errors.New("seat already claimed by another user")
	// ErrDuplicateRosterEntry is returned when class and seat already exist in the roster.
	ErrDuplicateRosterEntry = errors.New("roster already has this class and seat")
	// ErrForbidden indicates the caller does not own or may not access the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrQuestionNotFound indicates a question id is not part of the draft.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrCodeTaken is returned by storage when a share code is already in use.
	ErrCodeTaken = errors.New("share code already in use")
	// ErrGeneratorUnavailable is returned when no question generator is configured.
	ErrGeneratorUnavailable = errors.New("question generator unavailable")
)

// Problem is a single validation failure.
type Problem struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

func (p Problem) String() string {
	return p.Field + ": " + p.Rule
}

// ValidationError rejects malformed quizzes, questions or roster entries before use.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.String())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// WriteError reports a failed append. Nothing was partially written, so the
// same record may be sent again.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// SubscriptionError reports a disrupted live feed. Subscribers recover by resubscribing.
type SubscriptionError struct {
	Err error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription disrupted: %v", e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// GenerationError reports that question generation produced nothing usable.
type GenerationError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("no usable questions generated for %q: %s", e.Topic, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// UserMessage is the text shown to the author; manual authoring is never blocked.
func (e *GenerationError) UserMessage() string {
	return "Could not generate questions. Try a different topic or retry."
}

// IdentityError rejects role or binding changes. Err carries the sentinel cause.
type IdentityError struct {
	Err error
}

func (e *IdentityError) Error() string {
	return "identity: " + e.Err.Error()
}

func (e *IdentityError) Unwrap() error { return e.Err }

// NewIdentityError wraps cause so both errors.As and errors.Is work for callers.
func NewIdentityError(cause error) error {
	return &IdentityError{Err: cause}
}
