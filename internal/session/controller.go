// Package session drives one student's exam attempt: countdown, answer
// autosave, proctoring violations, the lock/unlock cycle and code runs.
//
// The backend is authoritative for status, violation counts and actions.
// The controller keeps a local projection, reconciles it after every round
// trip and never reports an action as applied before the server confirms it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/policy"
)

// EventKind identifies a controller notification.
type EventKind string

const (
	EventStarted          EventKind = "started"
	EventTick             EventKind = "tick"
	EventCountersUpdated  EventKind = "counters_updated"
	EventWarning          EventKind = "warning"
	EventLocked           EventKind = "locked"
	EventUnlockPending    EventKind = "unlock_pending"
	EventUnlockRejected   EventKind = "unlock_rejected"
	EventResumed          EventKind = "resumed"
	EventSubmitted        EventKind = "submitted"
	EventSubmissionFailed EventKind = "submission_failed"
	EventSaveFailed       EventKind = "save_failed"
)

// Event is delivered to Options.OnEvent outside the controller lock.
type Event struct {
	Kind    EventKind
	Session ExamSession
	Message string
	Err     error
}

// Options tunes a Controller. Zero values take the defaults below.
type Options struct {
	TickInterval       time.Duration
	AutosaveInterval   time.Duration
	UnlockPollInterval time.Duration
	// Observer reports attempt status while an unlock request is pending.
	// Nil polls Backend.State every UnlockPollInterval.
	Observer StatusObserver
	OnEvent  func(Event)
}

const (
	DefaultTickInterval       = time.Second
	DefaultAutosaveInterval   = 30 * time.Second
	DefaultUnlockPollInterval = 5 * time.Second
)

// ExamSession is a point-in-time view of the attempt.
type ExamSession struct {
	ExamID              uuid.UUID
	AttemptID           uuid.UUID
	Title               string
	Status              model.AttemptStatus
	RemainingSeconds    int
	TabSwitchCount      int
	FullscreenExitCount int
	Violations          []model.Violation
	UnlockRequest       *model.UnlockRequest
	CurrentQuestion     int
	QuestionCount       int
	WarningPending      bool
	WarningMessage      string
	Result              *model.SubmitResult
}

// Controller is the attempt state machine:
//
//	NOT_STARTED → IN_PROGRESS ⇄ LOCKED
//	IN_PROGRESS → SUBMITTED (terminal)
//
// It is safe for concurrent use. State changes happen under mu; network
// calls never do.
type Controller struct {
	backend Backend
	env     Environment
	opts    Options
	log     zerolog.Logger

	// Serializes violation reports so the backend sees them in order.
	reportMu sync.Mutex

	mu          sync.Mutex
	examID      uuid.UUID
	attemptID   uuid.UUID
	def         *model.ExamDefinition
	status      model.AttemptStatus
	tabSwitches int
	fsExits     int
	violations  []model.Violation
	pending     []model.Violation
	current     int
	starting    bool
	warning     bool
	warningMsg  string
	submitting  bool
	autoDue     bool
	result      *model.SubmitResult

	clock   *Clock
	buffer  *AnswerBuffer
	monitor *ViolationMonitor
	unlock  *UnlockWorkflow
	runner  *CodeRunner

	lifetime context.Context
	cancel   context.CancelFunc
}

// New creates a controller for a single attempt. env may be nil when the
// caller feeds violations through OnViolation.
func New(backend Backend, env Environment, log zerolog.Logger, opts Options) *Controller {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultAutosaveInterval
	}
	if opts.UnlockPollInterval <= 0 {
		opts.UnlockPollInterval = DefaultUnlockPollInterval
	}
	return &Controller{
		backend: backend,
		env:     env,
		opts:    opts,
		log:     log.With().Str("component", "session").Logger(),
		status:  model.AttemptStatusNotStarted,
	}
}

// Start fetches the exam and attempt from the backend and enters the
// server's status. Any failure returns *FatalStartupError and leaves the
// controller unstarted. ctx bounds the whole session lifetime.
func (c *Controller) Start(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	c.mu.Lock()
	if c.status != model.AttemptStatusNotStarted || c.starting {
		c.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.starting = true
	c.mu.Unlock()

	res, err := c.backend.Start(ctx, examID)
	if err == nil && res.Attempt.Status == model.AttemptStatusSubmitted {
		err = ErrAlreadySubmitted
	}
	if err != nil {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
		c.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to start exam")
		return nil, &FatalStartupError{ExamID: examID, Err: err}
	}

	def := res.Exam
	log := c.log.With().Str("exam_id", examID.String()).Str("attempt_id", res.Attempt.ID.String()).Logger()

	c.mu.Lock()
	c.log = log
	c.examID = examID
	c.attemptID = res.Attempt.ID
	c.def = &def
	c.tabSwitches = res.Attempt.TabSwitchCount
	c.fsExits = res.Attempt.FullscreenExitCount
	c.starting = false
	c.lifetime, c.cancel = context.WithCancel(ctx)

	c.clock = NewClock(c.opts.TickInterval, c.onTick, c.onClockExpiry)
	c.clock.Reset(res.RemainingSeconds)

	c.buffer = NewAnswerBuffer(func(ctx context.Context, a model.Answer) error {
		err := c.backend.SaveAnswer(ctx, examID, a)
		var stateErr *AttemptStateError
		if errors.As(err, &stateErr) {
			c.reflectStatus(stateErr.Status)
		}
		return err
	}, log)
	c.buffer.Seed(res.Answers)

	c.runner = NewCodeRunner(c.backend, examID, log)

	observer := c.opts.Observer
	if observer == nil {
		observer = &PollingObserver{Fetch: c.backend.State, Interval: c.opts.UnlockPollInterval, Log: log}
	}
	c.unlock = newUnlockWorkflow(c.backend, observer, examID, log)
	c.unlock.onApproved = c.onUnlockApproved
	c.unlock.onRejected = c.onUnlockRejected
	c.unlock.onSubmitted = c.onRemoteSubmitted

	if c.env != nil && def.Proctoring.ProctoringEnabled() {
		c.monitor = NewViolationMonitor(c.env, def.Proctoring, c.handleViolation, log)
	}

	var kind EventKind
	if res.Attempt.Status == model.AttemptStatusLocked {
		c.enterLockedLocked(res.UnlockRequest)
		kind = EventLocked
	} else {
		c.status = model.AttemptStatusInProgress
		c.clock.Start(c.lifetime)
		if c.monitor != nil {
			c.monitor.Start(c.lifetime)
		}
		kind = EventStarted
	}
	lifetime := c.lifetime
	snap := c.snapshotLocked()
	c.mu.Unlock()

	go c.buffer.Run(lifetime, c.opts.AutosaveInterval, c.onAutosaveCycle)

	log.Info().
		Str("status", string(snap.Status)).
		Int("remaining_seconds", snap.RemainingSeconds).
		Bool("proctoring", def.Proctoring.ProctoringEnabled()).
		Msg("Exam session started")
	c.emit(Event{Kind: kind, Session: snap})
	return &def, nil
}

// RecordAnswer stores a draft for a selected-option or free-text question.
// It never blocks on the network.
func (c *Controller) RecordAnswer(questionID uuid.UUID, value string) error {
	return c.record(questionID, value, "")
}

// RecordCode stores a source-code draft with its language tag.
func (c *Controller) RecordCode(questionID uuid.UUID, source, language string) error {
	return c.record(questionID, source, language)
}

func (c *Controller) record(questionID uuid.UUID, value, language string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.interactiveLocked(); err != nil {
		return err
	}
	q := c.def.Question(questionID)
	if q == nil {
		return ErrUnknownQuestion
	}
	c.buffer.Record(model.Answer{
		QuestionID:  questionID,
		Kind:        q.Kind,
		Value:       value,
		LanguageTag: language,
	})
	return nil
}

// Advance flushes the current question's draft in the background and moves
// the question pointer by dir, clamped to the exam. The flush result never
// blocks navigation.
func (c *Controller) Advance(dir int) (int, error) {
	c.mu.Lock()
	if err := c.interactiveLocked(); err != nil {
		current := c.current
		c.mu.Unlock()
		return current, err
	}
	var questionID uuid.UUID
	if n := len(c.def.Questions); n > 0 {
		questionID = c.def.Questions[c.current].ID
		c.current = clamp(c.current+dir, 0, n-1)
	}
	current, lifetime, buffer := c.current, c.lifetime, c.buffer
	c.mu.Unlock()

	if questionID != uuid.Nil {
		go func() {
			err := buffer.FlushOne(lifetime, questionID)
			var stateErr *AttemptStateError
			if err != nil && lifetime.Err() == nil && !errors.As(err, &stateErr) {
				c.log.Warn().Err(err).Msg("Navigation flush failed, draft kept for autosave")
				c.emit(Event{Kind: EventSaveFailed, Session: c.Snapshot(), Err: err})
			}
		}()
	}
	return current, nil
}

// Submit collects every answer and sends one submission. Concurrent calls
// make exactly one network request: while one is in flight the others get
// ErrSubmissionInFlight, and after success every call returns the stored
// result. A failure releases the guard so the caller can retry.
func (c *Controller) Submit(ctx context.Context, automatic bool) (*model.SubmitResult, error) {
	c.mu.Lock()
	switch {
	case c.result != nil:
		res := *c.result
		c.mu.Unlock()
		return &res, nil
	case c.submitting:
		c.mu.Unlock()
		return nil, ErrSubmissionInFlight
	case c.status != model.AttemptStatusInProgress:
		c.mu.Unlock()
		return nil, ErrNotInProgress
	}
	c.submitting = true
	if automatic {
		c.autoDue = true
	}
	req := model.SubmitRequest{
		Answers:        c.buffer.Collect(),
		ViolationCount: c.tabSwitches + c.fsExits,
		Automatic:      automatic,
	}
	examID, log := c.examID, c.log
	c.mu.Unlock()

	res, err := c.backend.Submit(ctx, examID, req)
	var stateErr *AttemptStateError
	if errors.As(err, &stateErr) {
		if stateErr.Status == model.AttemptStatusSubmitted {
			res, err = &model.SubmitResult{Status: model.AttemptStatusSubmitted}, nil
		} else {
			c.mu.Lock()
			c.submitting = false
			c.mu.Unlock()

			log.Warn().Str("status", string(stateErr.Status)).Bool("automatic", automatic).Msg("Submission refused, adopting server status")
			c.reflectStatus(stateErr.Status)
			return nil, &SubmissionError{Automatic: automatic, Err: err}
		}
	}
	if err != nil {
		c.mu.Lock()
		c.submitting = false
		snap := c.snapshotLocked()
		c.mu.Unlock()

		serr := &SubmissionError{Automatic: automatic, Err: err}
		log.Error().Err(err).Bool("automatic", automatic).Msg("Submission failed")
		c.emit(Event{Kind: EventSubmissionFailed, Session: snap, Err: serr})
		return nil, serr
	}

	log.Info().Bool("automatic", automatic).Int("answers", len(req.Answers)).Msg("Exam submitted")
	out := *res
	c.finish(res)
	return &out, nil
}

// OnViolation feeds a violation directly, for callers without an
// Environment. Types the exam does not monitor are ignored.
func (c *Controller) OnViolation(ctx context.Context, t model.ViolationType, detail string) {
	c.mu.Lock()
	if c.def == nil {
		c.mu.Unlock()
		return
	}
	_, monitored := policy.Limit(t, c.def.Proctoring)
	c.mu.Unlock()
	if !monitored {
		return
	}
	c.handleViolation(ctx, model.Violation{Type: t, Detail: detail, Timestamp: time.Now()})
}

func (c *Controller) handleViolation(ctx context.Context, v model.Violation) {
	c.mu.Lock()
	if c.status != model.AttemptStatusInProgress || c.result != nil {
		c.mu.Unlock()
		return
	}
	c.violations = append(c.violations, v)
	// Provisional until the server answers.
	if v.Type == model.ViolationTabSwitch {
		c.tabSwitches++
	} else {
		c.fsExits++
	}
	c.pending = append(c.pending, v)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(Event{Kind: EventCountersUpdated, Session: snap})
	c.drainReports(ctx)
}

// drainReports sends queued violations oldest first and stops at the first
// transient failure so a newer report never overtakes an older one.
func (c *Controller) drainReports(ctx context.Context) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.pending) == 0 || c.status != model.AttemptStatusInProgress {
			c.mu.Unlock()
			return
		}
		v, examID := c.pending[0], c.examID
		c.mu.Unlock()

		out, err := c.backend.LogViolation(ctx, examID, model.ViolationReport{Type: v.Type, Detail: v.Detail})
		if err != nil {
			var stateErr *AttemptStateError
			if errors.As(err, &stateErr) {
				c.reflectStatus(stateErr.Status)
				return
			}
			verr := &TransientViolationLogError{Type: v.Type, Err: err}
			c.log.Warn().Err(verr).Msg("Violation report queued for retry")
			return
		}

		c.mu.Lock()
		if len(c.pending) > 0 {
			c.pending = c.pending[1:]
		}
		c.mu.Unlock()
		c.applyOutcome(v.Type, out)
	}
}

// applyOutcome reconciles counters with the server and applies its action.
func (c *Controller) applyOutcome(t model.ViolationType, out *model.ViolationOutcome) {
	c.mu.Lock()
	if c.status != model.AttemptStatusInProgress || c.result != nil {
		c.mu.Unlock()
		return
	}
	cfg := c.def.Proctoring
	if !policy.Plausible(t, out.ActionTaken, cfg) {
		c.log.Warn().
			Str("type", string(t)).
			Str("action", string(out.ActionTaken)).
			Msg("Server action not derivable from exam configuration, applying anyway")
	}

	c.tabSwitches = out.TabSwitchCount
	c.fsExits = out.FullscreenExitCount
	msg := policy.Describe(t, *out, cfg)

	action := out.ActionTaken
	switch out.Status {
	case model.AttemptStatusLocked:
		action = model.ActionLock
	case model.AttemptStatusSubmitted:
		c.mu.Unlock()
		c.finish(&model.SubmitResult{Status: model.AttemptStatusSubmitted})
		return
	}

	var events []Event
	switch action {
	case model.ActionWarn:
		c.warning = true
		c.warningMsg = msg
		events = append(events, Event{Kind: EventWarning, Session: c.snapshotLocked(), Message: msg})
	case model.ActionLock:
		c.warningMsg = msg
		c.enterLockedLocked(nil)
		events = append(events, Event{Kind: EventLocked, Session: c.snapshotLocked(), Message: msg})
	case model.ActionAutoSubmit:
		c.autoDue = true
		c.warningMsg = msg
		events = append(events, Event{Kind: EventCountersUpdated, Session: c.snapshotLocked(), Message: msg})
	default:
		events = append(events, Event{Kind: EventCountersUpdated, Session: c.snapshotLocked()})
	}
	lifetime := c.lifetime
	c.mu.Unlock()

	for _, ev := range events {
		c.emit(ev)
	}
	if action == model.ActionAutoSubmit {
		c.submitDue(lifetime)
	}
}

// reflectStatus adopts a status the server reported through a conflict.
func (c *Controller) reflectStatus(status model.AttemptStatus) {
	switch status {
	case model.AttemptStatusSubmitted:
		c.finish(&model.SubmitResult{Status: model.AttemptStatusSubmitted})
	case model.AttemptStatusLocked:
		c.mu.Lock()
		if c.status != model.AttemptStatusInProgress {
			c.mu.Unlock()
			return
		}
		c.enterLockedLocked(nil)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.emit(Event{Kind: EventLocked, Session: snap})
	}
}

// enterLockedLocked stops the clock and monitor and hands off to the unlock
// workflow. Queued violation reports are dropped: the server has already
// decided the lock. Callers hold mu.
func (c *Controller) enterLockedLocked(existing *model.UnlockRequest) {
	c.status = model.AttemptStatusLocked
	c.warning = false
	c.clock.Stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.buffer.Pause()
	if n := len(c.pending); n > 0 {
		c.log.Warn().Int("dropped", n).Msg("Dropping unsent violation reports on lock")
		c.pending = nil
	}
	c.unlock.Activate(c.lifetime, existing)
	c.log.Warn().Int("tab_switches", c.tabSwitches).Int("fullscreen_exits", c.fsExits).Msg("Session locked")
}

// RequestUnlock posts a reason for review while locked.
func (c *Controller) RequestUnlock(ctx context.Context, reason string) (*model.UnlockRequest, error) {
	c.mu.Lock()
	if c.status != model.AttemptStatusLocked {
		c.mu.Unlock()
		return nil, ErrNotLocked
	}
	unlock := c.unlock
	c.mu.Unlock()

	req, err := unlock.Request(ctx, reason)
	if err != nil {
		return nil, err
	}
	c.emit(Event{Kind: EventUnlockPending, Session: c.Snapshot()})
	return req, nil
}

func (c *Controller) onUnlockApproved(state model.AttemptState) {
	c.mu.Lock()
	if c.status != model.AttemptStatusLocked {
		c.mu.Unlock()
		return
	}
	c.status = model.AttemptStatusInProgress
	if state.RemainingSeconds > 0 {
		c.autoDue = false
	}
	c.tabSwitches = state.TabSwitchCount
	c.fsExits = state.FullscreenExitCount
	c.warningMsg = ""
	c.clock.Reset(state.RemainingSeconds)
	c.clock.Start(c.lifetime)
	if c.monitor != nil {
		c.monitor.Start(c.lifetime)
	}
	c.buffer.Resume()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.log.Info().Int("remaining_seconds", state.RemainingSeconds).Msg("Unlock approved, session resumed")
	c.emit(Event{Kind: EventResumed, Session: snap})
}

func (c *Controller) onUnlockRejected(req model.UnlockRequest) {
	msg := "Unlock request rejected"
	if req.ReviewerNote != nil && *req.ReviewerNote != "" {
		msg += ": " + *req.ReviewerNote
	}
	c.log.Info().Str("request_id", req.ID.String()).Msg("Unlock rejected")
	c.emit(Event{Kind: EventUnlockRejected, Session: c.Snapshot(), Message: msg})
}

func (c *Controller) onRemoteSubmitted(model.AttemptState) {
	c.finish(&model.SubmitResult{Status: model.AttemptStatusSubmitted})
}

// finish moves to SUBMITTED and releases every background activity.
func (c *Controller) finish(res *model.SubmitResult) {
	c.mu.Lock()
	if c.result != nil {
		c.mu.Unlock()
		return
	}
	c.status = model.AttemptStatusSubmitted
	c.result = res
	c.submitting = false
	c.autoDue = false
	c.warning = false
	c.pending = nil
	c.clock.Stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.unlock.Deactivate()
	c.cancel()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(Event{Kind: EventSubmitted, Session: snap})
}

func (c *Controller) onTick(remaining int) {
	c.emit(Event{Kind: EventTick, Session: c.Snapshot()})
}

func (c *Controller) onClockExpiry() {
	c.mu.Lock()
	c.autoDue = true
	lifetime := c.lifetime
	c.mu.Unlock()

	c.log.Info().Msg("Time is up, submitting")
	c.submitDue(lifetime)
}

// submitDue sends the automatic submission owed by expiry or an
// auto-submit action.
func (c *Controller) submitDue(ctx context.Context) {
	if _, err := c.Submit(ctx, true); err != nil && !errors.Is(err, ErrSubmissionInFlight) {
		c.log.Warn().Err(err).Msg("Automatic submission will be retried")
	}
}

func (c *Controller) onAutosaveCycle(ctx context.Context) {
	c.drainReports(ctx)

	c.mu.Lock()
	due := c.autoDue && !c.submitting && c.result == nil && c.status == model.AttemptStatusInProgress
	c.mu.Unlock()
	if due {
		c.submitDue(ctx)
	}
}

// DismissWarning closes the warning modal, re-entering fullscreen when the
// exam enforces it.
func (c *Controller) DismissWarning() error {
	c.mu.Lock()
	if !c.warning {
		c.mu.Unlock()
		return nil
	}
	c.warning = false
	enforce := c.def.Proctoring.EnforceFullscreen
	c.mu.Unlock()

	if enforce {
		if fr, ok := c.env.(FullscreenRequester); ok {
			return fr.RequestFullscreen()
		}
	}
	return nil
}

// Run executes code for a coding question. A result that completes after
// the session stopped accepting work is discarded with ErrResultDiscarded.
func (c *Controller) Run(ctx context.Context, questionID uuid.UUID, code, language string, input *string, withTests bool) (*RunOutcome, error) {
	c.mu.Lock()
	if err := c.interactiveLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	q := c.def.Question(questionID)
	if q == nil || q.Kind != model.QuestionKindSourceCode {
		c.mu.Unlock()
		return nil, ErrUnknownQuestion
	}
	runner := c.runner
	c.mu.Unlock()

	out, err := runner.Run(ctx, RunOptions{
		Code:     code,
		Language: language,
		Input:    input,
		Question: q,
		RunTests: withTests,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != model.AttemptStatusInProgress || c.autoDue || c.submitting {
		c.log.Debug().Msg("Discarding code run result")
		return nil, ErrResultDiscarded
	}
	return out, nil
}

// Answer returns the latest known value for a question.
func (c *Controller) Answer(questionID uuid.UUID) (model.Answer, bool) {
	c.mu.Lock()
	buffer := c.buffer
	c.mu.Unlock()
	if buffer == nil {
		return model.Answer{}, false
	}
	return buffer.Get(questionID)
}

// Definition returns the exam as sent to the student, or nil before Start.
func (c *Controller) Definition() *model.ExamDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.def
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() ExamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close flushes outstanding drafts and stops every background activity
// without submitting. The attempt can be resumed later with Start on a new
// controller.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	flush := c.status == model.AttemptStatusInProgress
	buffer := c.buffer
	c.clock.Stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.unlock.Deactivate()
	c.mu.Unlock()

	var err error
	if flush {
		err = buffer.Flush(ctx)
	}

	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	return err
}

func (c *Controller) interactiveLocked() error {
	switch {
	case c.status == model.AttemptStatusSubmitted:
		return ErrAlreadySubmitted
	case c.status != model.AttemptStatusInProgress, c.autoDue:
		return ErrNotInProgress
	case c.warning:
		return ErrWarningPending
	}
	return nil
}

func (c *Controller) snapshotLocked() ExamSession {
	s := ExamSession{
		ExamID:              c.examID,
		AttemptID:           c.attemptID,
		Status:              c.status,
		TabSwitchCount:      c.tabSwitches,
		FullscreenExitCount: c.fsExits,
		Violations:          append([]model.Violation(nil), c.violations...),
		CurrentQuestion:     c.current,
		WarningPending:      c.warning,
		WarningMessage:      c.warningMsg,
	}
	if c.def != nil {
		s.Title = c.def.Title
		s.QuestionCount = len(c.def.Questions)
	}
	if c.clock != nil {
		s.RemainingSeconds = c.clock.Remaining()
	}
	if c.unlock != nil {
		s.UnlockRequest = c.unlock.Current()
	}
	if c.result != nil {
		res := *c.result
		s.Result = &res
	}
	return s
}

func (c *Controller) emit(ev Event) {
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(ev)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
