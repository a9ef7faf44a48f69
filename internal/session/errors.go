package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Sentinel errors returned by the controller.
var (
	ErrNotEligible        = errors.New("not eligible to take this exam")
	ErrAlreadyStarted     = errors.New("session already started")
	ErrNotInProgress      = errors.New("session is not in progress")
	ErrWarningPending     = errors.New("a proctoring warning must be dismissed first")
	ErrUnknownQuestion    = errors.New("question is not part of this exam")
	ErrNotLocked          = errors.New("session is not locked")
	ErrUnlockPending      = errors.New("an unlock request is already pending")
	ErrEmptyReason        = errors.New("unlock reason is required")
	ErrEmptySource        = errors.New("source code is empty")
	ErrSubmissionInFlight = errors.New("submission already in flight")
	ErrResultDiscarded    = errors.New("session ended before the run completed")
	ErrAlreadySubmitted   = errors.New("attempt already submitted")
)

// AttemptStateError reports that the server considers the attempt already
// locked or submitted. The controller reflects that state instead of retrying.
type AttemptStateError struct {
	Status model.AttemptStatus
}

func (e *AttemptStateError) Error() string {
	return fmt.Sprintf("attempt is %s", e.Status)
}

// FatalStartupError means no session could be established.
type FatalStartupError struct {
	ExamID uuid.UUID
	Err    error
}

func (e *FatalStartupError) Error() string {
	return fmt.Sprintf("start exam %s: %v", e.ExamID, e.Err)
}

func (e *FatalStartupError) Unwrap() error { return e.Err }

// TransientSaveError means an answer flush failed; the draft stays dirty.
type TransientSaveError struct {
	QuestionID uuid.UUID
	Err        error
}

func (e *TransientSaveError) Error() string {
	return fmt.Sprintf("save answer %s: %v", e.QuestionID, e.Err)
}

func (e *TransientSaveError) Unwrap() error { return e.Err }

// TransientViolationLogError means a violation report did not reach the
// backend; it is queued and retried in order.
type TransientViolationLogError struct {
	Type model.ViolationType
	Err  error
}

func (e *TransientViolationLogError) Error() string {
	return fmt.Sprintf("log %s violation: %v", e.Type, e.Err)
}

func (e *TransientViolationLogError) Unwrap() error { return e.Err }

// SubmissionError means the final submit failed; the guard is released so
// the student can retry.
type SubmissionError struct {
	Automatic bool
	Err       error
}

func (e *SubmissionError) Error() string {
	kind := "manual"
	if e.Automatic {
		kind = "automatic"
	}
	return fmt.Sprintf("%s submission: %v", kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ExecutionError is a failed code run, shown inline next to the editor.
type ExecutionError struct {
	Mode string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s run: %v", e.Mode, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
