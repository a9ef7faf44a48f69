package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Backend is the authoritative exam service as seen by one attempt.
//
// Implementations return *AttemptStateError when the server rejects a call
// because the attempt is already locked or submitted, and an error wrapping
// ErrNotEligible when Start is refused.
type Backend interface {
	Start(ctx context.Context, examID uuid.UUID) (*model.StartResult, error)
	State(ctx context.Context, examID uuid.UUID) (*model.AttemptState, error)
	SaveAnswer(ctx context.Context, examID uuid.UUID, answer model.Answer) error
	Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error)
	LogViolation(ctx context.Context, examID uuid.UUID, report model.ViolationReport) (*model.ViolationOutcome, error)
	RequestUnlock(ctx context.Context, examID uuid.UUID, reason string) (*model.UnlockRequest, error)
	RunCode(ctx context.Context, examID uuid.UUID, req model.RunRequest) (*model.ExecutionResult, error)
	RunTests(ctx context.Context, examID uuid.UUID, req model.TestRunRequest) (*model.TestRunResult, error)
}

// SignalKind is an environment change the monitor may classify.
type SignalKind string

const (
	SignalHidden          SignalKind = "visibility-hidden"
	SignalVisible         SignalKind = "visibility-visible"
	SignalBlur            SignalKind = "window-blur"
	SignalFocus           SignalKind = "window-focus"
	SignalFullscreenExit  SignalKind = "fullscreen-exit"
	SignalFullscreenEnter SignalKind = "fullscreen-enter"
)

// Signal is one raw environment event.
type Signal struct {
	Kind   SignalKind
	Detail string
	At     time.Time
}

// Environment delivers page-visibility, focus and fullscreen changes.
// Subscribe returns a function that removes the subscription.
type Environment interface {
	Subscribe(fn func(Signal)) (unsubscribe func())
}

// FullscreenRequester is implemented by environments that can put the exam
// back into fullscreen when a warning is dismissed.
type FullscreenRequester interface {
	RequestFullscreen() error
}

// StatusObserver reports server-side attempt state changes until ctx is done.
type StatusObserver interface {
	Watch(ctx context.Context, examID uuid.UUID, fn func(model.AttemptState)) error
}
