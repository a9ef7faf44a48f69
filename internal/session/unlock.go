package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// PollingObserver fetches the attempt state on a fixed interval. It stands
// in for a push channel and satisfies the same StatusObserver contract.
type PollingObserver struct {
	Fetch    func(ctx context.Context, examID uuid.UUID) (*model.AttemptState, error)
	Interval time.Duration
	Log      zerolog.Logger
}

// Watch polls until ctx is done. Fetch errors are logged and the next tick
// tries again.
func (p *PollingObserver) Watch(ctx context.Context, examID uuid.UUID, fn func(model.AttemptState)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			state, err := p.Fetch(ctx, examID)
			if err != nil {
				if ctx.Err() == nil {
					p.Log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Unlock poll failed")
				}
				continue
			}
			fn(*state)
		}
	}
}

// UnlockWorkflow runs the request → review sub-flow while a session is
// locked. It only observes the attempt while a request is pending.
type UnlockWorkflow struct {
	backend  Backend
	observer StatusObserver
	examID   uuid.UUID
	log      zerolog.Logger

	onApproved  func(model.AttemptState)
	onRejected  func(model.UnlockRequest)
	onSubmitted func(model.AttemptState)

	mu      sync.Mutex
	parent  context.Context
	active  bool
	request *model.UnlockRequest
	cancel  context.CancelFunc
}

func newUnlockWorkflow(backend Backend, observer StatusObserver, examID uuid.UUID, log zerolog.Logger) *UnlockWorkflow {
	return &UnlockWorkflow{
		backend:  backend,
		observer: observer,
		examID:   examID,
		log:      log.With().Str("component", "unlock_workflow").Logger(),
	}
}

// Activate arms the workflow after a lock. A pending request carried over
// from the server resumes observation immediately.
func (w *UnlockWorkflow) Activate(ctx context.Context, existing *model.UnlockRequest) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.parent = ctx
	w.active = true
	w.request = nil
	if existing != nil {
		req := *existing
		w.request = &req
		if req.Status == model.UnlockStatusPending {
			w.watchLocked()
		}
	}
}

// Deactivate stops observation; called whenever the session leaves locked.
func (w *UnlockWorkflow) Deactivate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = false
	w.stopLocked()
}

// Current returns a copy of the latest request, if any.
func (w *UnlockWorkflow) Current() *model.UnlockRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.request == nil {
		return nil
	}
	req := *w.request
	return &req
}

// Watching reports whether the attempt status is being observed.
func (w *UnlockWorkflow) Watching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Request posts a new unlock reason. Only one request may be pending.
func (w *UnlockWorkflow) Request(ctx context.Context, reason string) (*model.UnlockRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return nil, ErrNotLocked
	}
	if w.request != nil && w.request.Status == model.UnlockStatusPending {
		w.mu.Unlock()
		return nil, ErrUnlockPending
	}
	w.mu.Unlock()

	created, err := w.backend.RequestUnlock(ctx, w.examID, reason)
	if err != nil {
		return nil, err
	}

	req := model.UnlockRequest{
		Reason:      reason,
		Status:      model.UnlockStatusPending,
		RequestedAt: time.Now(),
	}
	if created != nil {
		req = *created
		req.Status = model.UnlockStatusPending
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active {
		return nil, ErrNotLocked
	}
	w.request = &req
	w.watchLocked()

	w.log.Info().Str("request_id", req.ID.String()).Msg("Unlock requested")
	out := req
	return &out, nil
}

func (w *UnlockWorkflow) watchLocked() {
	if w.cancel != nil || w.parent == nil {
		return
	}
	ctx, cancel := context.WithCancel(w.parent)
	w.cancel = cancel

	go func() {
		if err := w.observer.Watch(ctx, w.examID, w.observe); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Status observer stopped")
		}
	}()
}

func (w *UnlockWorkflow) stopLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *UnlockWorkflow) observe(state model.AttemptState) {
	w.mu.Lock()
	if !w.active || w.request == nil || w.request.Status != model.UnlockStatusPending {
		w.mu.Unlock()
		return
	}

	var notify func()
	switch state.Status {
	case model.AttemptStatusInProgress:
		w.request.Status = model.UnlockStatusApproved
		w.active = false
		w.stopLocked()
		if w.onApproved != nil {
			notify = func() { w.onApproved(state) }
		}

	case model.AttemptStatusSubmitted:
		w.active = false
		w.stopLocked()
		if w.onSubmitted != nil {
			notify = func() { w.onSubmitted(state) }
		}

	case model.AttemptStatusLocked:
		if state.UnlockRequest == nil || state.UnlockRequest.Status != model.UnlockStatusRejected {
			break
		}
		if w.request.ID != uuid.Nil && state.UnlockRequest.ID != w.request.ID {
			break
		}
		rejected := *state.UnlockRequest
		w.request = &rejected
		w.stopLocked()
		if w.onRejected != nil {
			notify = func() { w.onRejected(rejected) }
		}
	}
	w.mu.Unlock()

	if notify != nil {
		notify()
	}
}
