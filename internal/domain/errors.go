package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAssessmentNotFound is returned when a session does not exist or belongs to another client.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrAssessmentNotAnswerable is returned when a session is not IN_PROGRESS.
	ErrAssessmentNotAnswerable = errors.New("assessment is not in progress")
	// ErrUnknownQuestion indicates a submitted question ID is not in the catalog.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrQuestionNotActive indicates the answer targets a question other than the active one.
	ErrQuestionNotActive = errors.New("question is not the active question")
	// ErrInvalidAnswer indicates the value does not fit the question's answer type.
	ErrInvalidAnswer = errors.New("invalid answer value")
	// ErrDuplicateResponse is returned when a question was already answered in the session.
	ErrDuplicateResponse = errors.New("question already answered")
	// ErrSessionBusy is returned when another request holds the session lock.
	ErrSessionBusy = errors.New("assessment is being updated by another request")
	// ErrConcurrentUpdate is returned when the session changed underneath a write.
	ErrConcurrentUpdate = errors.New("assessment was modified concurrently")
	// ErrNothingToUndo is returned by "previous" on a session without responses.
	ErrNothingToUndo = errors.New("no previous question")
	// ErrInvalidTransition is returned for pause/resume from the wrong status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrUnauthenticated is returned when no client identity is attached to the request.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrCatalogNotFound indicates the catalog version could not be loaded.
	ErrCatalogNotFound = errors.New("catalog not found")
	// ErrInvalidDecision indicates the AI decision payload was malformed or unreachable.
	ErrInvalidDecision = errors.New("invalid next-step decision")
)

// InputError carries client-correctable detail for a sentinel error.
type InputError struct {
	Err    error
	Field  string
	Detail string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.Field, e.Detail)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError builds an InputError.
func NewInputError(err error, field, detail string) *InputError {
	return &InputError{Err: err, Field: field, Detail: detail}
}

// IsClientError reports whether err is caused by the request rather than a dependency.
func IsClientError(err error) bool {
	var input *InputError
	if errors.As(err, &input) {
		return true
	}
	for _, target := range []error{
		ErrAssessmentNotFound, ErrAssessmentNotAnswerable, ErrUnknownQuestion, ErrQuestionNotActive,
		ErrInvalidAnswer, ErrDuplicateResponse, ErrSessionBusy, ErrConcurrentUpdate,
		ErrNothingToUndo, ErrInvalidTransition, ErrUnauthenticated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
