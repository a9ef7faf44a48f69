package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	lockAtZero = model.ThresholdConfig{MaxTabSwitches: 0, ActionOnLimit: model.ActionLock}
	warnAtOne  = model.ThresholdConfig{MaxTabSwitches: 1, ActionOnLimit: model.ActionWarn}
)

func TestStartFailureIsFatal(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.startErr = errNetwork
	c := New(b, nil, zerolog.Nop(), Options{})

	_, err := c.Start(context.Background(), examID)

	var fatal *FatalStartupError
	if !errors.As(err, &fatal) || !errors.Is(err, errNetwork) {
		t.Fatalf("Start error = %v, want FatalStartupError wrapping the cause", err)
	}
	if s := c.Snapshot(); s.Status != model.AttemptStatusNotStarted {
		t.Fatalf("status = %s, no partial session may exist", s.Status)
	}
	if err := c.RecordAnswer(freeTextQ, "x"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("RecordAnswer after failed start = %v", err)
	}
}

func TestStartNotEligible(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.startErr = ErrNotEligible
	c := New(b, nil, zerolog.Nop(), Options{})

	if _, err := c.Start(context.Background(), examID); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("Start error = %v, want ErrNotEligible", err)
	}
}

func TestStartInProgressSeedsAndRunsClock(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.remaining = 321
	b.answers = []model.Answer{{QuestionID: optionQ, Kind: model.QuestionKindSelectedOption, Value: "C"}}
	env := newFakeEnv()
	c := startController(t, b, env, nil)

	s := c.Snapshot()
	if s.Status != model.AttemptStatusInProgress || s.RemainingSeconds != 321 {
		t.Fatalf("snapshot = %+v", s)
	}
	if !c.clock.Running() {
		t.Fatal("clock should run while in progress")
	}
	if env.subscribers() != 1 {
		t.Fatal("proctoring enabled, monitor should be subscribed")
	}
	if a, ok := c.Answer(optionQ); !ok || a.Value != "C" {
		t.Fatalf("seeded answer = %+v", a)
	}
	if _, err := c.Start(context.Background(), examID); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start = %v", err)
	}
}

func TestStartWithoutProctoringSkipsMonitor(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{TabSwitchingAllowed: true})
	env := newFakeEnv()
	startController(t, b, env, nil)

	if env.subscribers() != 0 {
		t.Fatal("monitor must stay off when proctoring is disabled")
	}
}

func TestStartLockedEntersUnlockFlow(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	b.status = model.AttemptStatusLocked
	env := newFakeEnv()
	c := startController(t, b, env, newFakeObserver())

	if s := c.Snapshot(); s.Status != model.AttemptStatusLocked {
		t.Fatalf("status = %s, want LOCKED", s.Status)
	}
	if c.clock.Running() || env.subscribers() != 0 {
		t.Fatal("locked start must not activate clock or monitor")
	}
	if err := c.RecordAnswer(freeTextQ, "x"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("RecordAnswer while locked = %v", err)
	}
	if c.unlock.Watching() {
		t.Fatal("no request pending, nothing to observe")
	}
}

func TestStartLockedWithPendingRequestResumesObservation(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	b.status = model.AttemptStatusLocked
	b.pending = &model.UnlockRequest{Reason: "wifi dropped", Status: model.UnlockStatusPending}
	obs := newFakeObserver()
	c := startController(t, b, nil, obs)

	obs.next(t)
	if _, err := c.RequestUnlock(context.Background(), "again"); !errors.Is(err, ErrUnlockPending) {
		t.Fatalf("RequestUnlock with one pending = %v", err)
	}
}

func TestStartSubmittedAttemptIsFatal(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.status = model.AttemptStatusSubmitted
	c := New(b, nil, zerolog.Nop(), Options{})

	if _, err := c.Start(context.Background(), examID); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("Start = %v, want ErrAlreadySubmitted", err)
	}
}

func TestRecordAnswerRejectsUnknownQuestion(t *testing.T) {
	c := startController(t, newFakeBackend(warnAtOne), nil, nil)
	if err := c.RecordAnswer(attemptID, "x"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("RecordAnswer = %v", err)
	}
}

func TestAdvanceFlushesCurrentDraft(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	c := startController(t, b, nil, nil)

	if err := c.RecordAnswer(freeTextQ, "a complete binary tree"); err != nil {
		t.Fatal(err)
	}
	idx, err := c.Advance(1)
	if err != nil || idx != 1 {
		t.Fatalf("Advance = %d, %v", idx, err)
	}
	eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.saves) == 1 && b.saves[0].Value == "a complete binary tree"
	}, "navigation did not flush the draft")

	if idx, _ := c.Advance(10); idx != 2 {
		t.Fatalf("Advance past the end = %d, want 2", idx)
	}
	if idx, _ := c.Advance(-10); idx != 0 {
		t.Fatalf("Advance before the start = %d, want 0", idx)
	}
}

func TestAdvanceWhileLockedKeepsPosition(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	c := startController(t, b, nil, newFakeObserver())

	if _, err := c.Advance(1); err != nil {
		t.Fatal(err)
	}
	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	if c.Snapshot().Status != model.AttemptStatusLocked {
		t.Fatal("expected lock")
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if idx, err := c.Advance(1); !errors.Is(err, ErrNotInProgress) || idx != 1 {
				t.Errorf("Advance while locked = %d, %v", idx, err)
			}
		}()
	}
	wg.Wait()
}

func TestAdvanceFlushFailureKeepsDraft(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.saveErr = errNetwork
	failed := make(chan error, 1)
	c := New(b, nil, zerolog.Nop(), Options{
		TickInterval:     1 << 40,
		AutosaveInterval: 1 << 40,
		OnEvent: func(ev Event) {
			if ev.Kind == EventSaveFailed {
				failed <- ev.Err
			}
		},
	})
	if _, err := c.Start(context.Background(), examID); err != nil {
		t.Fatal(err)
	}
	defer c.Close(context.Background())

	_ = c.RecordAnswer(freeTextQ, "draft")
	if _, err := c.Advance(1); err != nil {
		t.Fatalf("navigation must not be blocked by the flush: %v", err)
	}
	err := <-failed
	var saveErr *TransientSaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("event error = %v", err)
	}
	if len(c.buffer.Dirty()) != 1 {
		t.Fatal("draft must remain queued for autosave")
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	gate := make(chan struct{})
	b.submitGate = gate
	c := startController(t, b, nil, nil)
	_ = c.RecordAnswer(freeTextQ, "final")

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), false)
		done <- err
	}()
	waitEntered(t, b, "submit")

	if _, err := c.Submit(context.Background(), false); !errors.Is(err, ErrSubmissionInFlight) {
		t.Fatalf("concurrent Submit = %v, want ErrSubmissionInFlight", err)
	}
	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("Submit: %v", err)
	}

	res, err := c.Submit(context.Background(), false)
	if err != nil || res.Status != model.AttemptStatusSubmitted {
		t.Fatalf("Submit after success = %+v, %v", res, err)
	}
	if n := b.submitCount(); n != 1 {
		t.Fatalf("network submissions = %d, want 1", n)
	}
	if got := b.submits[0].Answers; len(got) != 1 || got[0].Value != "final" {
		t.Fatalf("submitted answers = %+v", got)
	}
	if c.clock.Running() {
		t.Fatal("clock must stop after submission")
	}
	if err := c.RecordAnswer(freeTextQ, "late"); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("RecordAnswer after submit = %v", err)
	}
}

func TestExpiryRacingManualSubmitSendsOnce(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.remaining = 1
	gate := make(chan struct{})
	b.submitGate = gate
	c := startController(t, b, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), false)
		done <- err
	}()
	waitEntered(t, b, "submit")

	c.clock.Tick()
	close(gate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := b.submitCount(); n != 1 {
		t.Fatalf("network submissions = %d, want 1", n)
	}
	if b.submits[0].Automatic {
		t.Fatal("the manual submission won the guard")
	}
}

func TestExpirySubmitsAutomatically(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.remaining = 2
	c := startController(t, b, nil, nil)

	c.clock.Tick()
	if c.Snapshot().Status != model.AttemptStatusInProgress {
		t.Fatal("submitted before time ran out")
	}
	c.clock.Tick()
	waitEntered(t, b, "submit")

	s := c.Snapshot()
	if s.Status != model.AttemptStatusSubmitted || s.RemainingSeconds != 0 {
		t.Fatalf("snapshot after expiry = %+v", s)
	}
	if _, err := c.Submit(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if n := b.submitCount(); n != 1 || !b.submits[0].Automatic {
		t.Fatalf("submissions = %d (automatic=%v), want one automatic", n, n > 0 && b.submits[0].Automatic)
	}
}

func TestSubmitFailureReleasesGuard(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.submitErr = errNetwork
	c := startController(t, b, nil, nil)

	_, err := c.Submit(context.Background(), false)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) || subErr.Automatic {
		t.Fatalf("Submit = %v, want manual SubmissionError", err)
	}
	if c.Snapshot().Status != model.AttemptStatusInProgress {
		t.Fatal("failed submission must not change status")
	}

	b.set(func(f *fakeBackend) { f.submitErr = nil })
	if _, err := c.Submit(context.Background(), false); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := b.submitCount(); n != 2 {
		t.Fatalf("network submissions = %d, want 2", n)
	}
}

func TestFailedAutoSubmitRetriedOnCycle(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.remaining = 1
	b.submitErr = errNetwork
	c := startController(t, b, nil, nil)

	c.clock.Tick()
	waitEntered(t, b, "submit")
	if err := c.RecordAnswer(freeTextQ, "x"); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("answers accepted after time ran out: %v", err)
	}

	b.set(func(f *fakeBackend) { f.submitErr = nil })
	c.onAutosaveCycle(context.Background())
	if c.Snapshot().Status != model.AttemptStatusSubmitted {
		t.Fatal("owed automatic submission was not retried")
	}
}

func TestSubmitConflictTreatedAsSubmitted(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.submitErr = &AttemptStateError{Status: model.AttemptStatusSubmitted}
	c := startController(t, b, nil, nil)

	res, err := c.Submit(context.Background(), false)
	if err != nil || res.Status != model.AttemptStatusSubmitted {
		t.Fatalf("Submit = %+v, %v", res, err)
	}
}

func TestZeroLimitLocksOnFirstTabSwitch(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	env := newFakeEnv()
	c := startController(t, b, env, newFakeObserver())

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "alt-tab")

	s := c.Snapshot()
	if s.Status != model.AttemptStatusLocked {
		t.Fatalf("status = %s, want LOCKED", s.Status)
	}
	if s.TabSwitchCount != 1 || len(s.Violations) != 1 {
		t.Fatalf("counts = %d, violations = %d", s.TabSwitchCount, len(s.Violations))
	}
	if c.clock.Running() || env.subscribers() != 0 {
		t.Fatal("lock must stop clock and monitor")
	}
}

func TestWarnDoesNotEscalate(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	env := newFakeEnv()
	c := startController(t, b, env, nil)

	if err := c.RecordAnswer(freeTextQ, "q1 answer"); err != nil {
		t.Fatal(err)
	}

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	s := c.Snapshot()
	if s.TabSwitchCount != 1 || !s.WarningPending {
		t.Fatalf("after first switch: %+v", s)
	}
	if err := c.RecordAnswer(freeTextQ, "blocked"); !errors.Is(err, ErrWarningPending) {
		t.Fatalf("RecordAnswer during warning = %v", err)
	}
	if err := c.DismissWarning(); err != nil {
		t.Fatal(err)
	}

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	s = c.Snapshot()
	if s.TabSwitchCount != 2 {
		t.Fatalf("tab switches = %d, want 2", s.TabSwitchCount)
	}
	if s.Status != model.AttemptStatusInProgress || !s.WarningPending {
		t.Fatalf("second breach must still warn, got status %s warning %v", s.Status, s.WarningPending)
	}
	if b.submitCount() != 0 {
		t.Fatal("warn must not submit")
	}
}

func TestDismissWarningRequestsFullscreen(t *testing.T) {
	cfg := model.ThresholdConfig{EnforceFullscreen: true, TabSwitchingAllowed: true, MaxFullscreenExits: 3, ActionOnLimit: model.ActionLock}
	env := newFakeEnv()
	c := startController(t, newFakeBackend(cfg), env, nil)

	c.OnViolation(context.Background(), model.ViolationFullscreenExit, "")
	if err := c.DismissWarning(); err != nil {
		t.Fatal(err)
	}
	if env.fullscreens != 1 {
		t.Fatalf("fullscreen requests = %d, want 1", env.fullscreens)
	}
	if c.Snapshot().WarningPending {
		t.Fatal("warning should be dismissed")
	}
}

func TestCountsReconcileWithServer(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{MaxTabSwitches: 10, ActionOnLimit: model.ActionLock})
	c := startController(t, b, nil, nil)

	// Another device raised violations the client never saw.
	b.set(func(f *fakeBackend) { f.tab = 4 })

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	if got := c.Snapshot().TabSwitchCount; got != 5 {
		t.Fatalf("tab switches = %d, want server value 5", got)
	}
}

func TestTransientViolationRetriedInOrder(t *testing.T) {
	cfg := model.ThresholdConfig{EnforceFullscreen: true, MaxTabSwitches: 5, MaxFullscreenExits: 5, ActionOnLimit: model.ActionLock}
	b := newFakeBackend(cfg)
	b.logErr = errNetwork
	c := startController(t, b, nil, nil)

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "first")
	c.OnViolation(context.Background(), model.ViolationFullscreenExit, "second")
	c.OnViolation(context.Background(), model.ViolationTabSwitch, "third")

	s := c.Snapshot()
	if s.TabSwitchCount != 2 || s.FullscreenExitCount != 1 {
		t.Fatalf("provisional counts = %d/%d", s.TabSwitchCount, s.FullscreenExitCount)
	}

	b.set(func(f *fakeBackend) { f.logErr = nil })
	c.onAutosaveCycle(context.Background())

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.reports) != 3 {
		t.Fatalf("reports = %d, want 3", len(b.reports))
	}
	for i, want := range []string{"first", "second", "third"} {
		if b.reports[i].Detail != want {
			t.Fatalf("report %d = %q, want %q", i, b.reports[i].Detail, want)
		}
	}
}

func TestViolationConflictReflectsLock(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	c := startController(t, b, nil, newFakeObserver())

	b.set(func(f *fakeBackend) { f.status = model.AttemptStatusLocked })
	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")

	if s := c.Snapshot(); s.Status != model.AttemptStatusLocked {
		t.Fatalf("status = %s, want LOCKED", s.Status)
	}
}

func TestSubmitLockedConflictLocks(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.submitErr = &AttemptStateError{Status: model.AttemptStatusLocked}
	obs := newFakeObserver()
	c := startController(t, b, nil, obs)

	_, err := c.Submit(context.Background(), false)
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("Submit error = %v, want *SubmissionError", err)
	}
	if s := c.Snapshot(); s.Status != model.AttemptStatusLocked {
		t.Fatalf("status = %s, want LOCKED", s.Status)
	}
	if c.clock.Running() {
		t.Fatal("clock must stop once the server reports LOCKED")
	}
	if err := c.RecordAnswer(freeTextQ, "x"); err == nil {
		t.Fatal("answers must be refused while locked")
	}

	// Unlocked by a reviewer, the student can submit again.
	if _, err := c.RequestUnlock(context.Background(), "window lost focus"); err != nil {
		t.Fatal(err)
	}
	b.set(func(f *fakeBackend) { f.submitErr = nil })
	obs.next(t)(model.AttemptState{Status: model.AttemptStatusInProgress, RemainingSeconds: 300})
	if _, err := c.Submit(context.Background(), false); err != nil {
		t.Fatalf("Submit after unlock: %v", err)
	}
	if s := c.Snapshot(); s.Status != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", s.Status)
	}
}

func TestSaveLockedConflictLocks(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.saveErr = &AttemptStateError{Status: model.AttemptStatusLocked}
	c := startController(t, b, nil, newFakeObserver())

	if err := c.RecordAnswer(freeTextQ, "draft"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Advance(1); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return c.Snapshot().Status == model.AttemptStatusLocked }, "save conflict should lock the session")
	if c.clock.Running() {
		t.Fatal("clock must stop once the server reports LOCKED")
	}
	if len(c.buffer.Dirty()) != 1 {
		t.Fatal("the refused draft must stay buffered for after the unlock")
	}
}

func TestAutoSubmitAction(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{MaxTabSwitches: 0, ActionOnLimit: model.ActionAutoSubmit})
	c := startController(t, b, nil, nil)

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")

	if s := c.Snapshot(); s.Status != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", s.Status)
	}
	if n := b.submitCount(); n != 1 || !b.submits[0].Automatic {
		t.Fatal("auto-submit should send one automatic submission")
	}
}

func TestMonitorSignalLocksSession(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	env := newFakeEnv()
	c := startController(t, b, env, newFakeObserver())

	env.Emit(SignalBlur)

	eventually(t, func() bool {
		return c.Snapshot().Status == model.AttemptStatusLocked
	}, "blur did not lock the session")
}

func TestLockUnlockRoundTrip(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	b.remaining = 500
	env := newFakeEnv()
	obs := newFakeObserver()
	c := startController(t, b, env, obs)

	c.clock.Tick()
	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	if c.Snapshot().Status != model.AttemptStatusLocked {
		t.Fatal("expected lock")
	}

	if _, err := c.RequestUnlock(context.Background(), "  "); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("empty reason = %v", err)
	}
	req, err := c.RequestUnlock(context.Background(), "my cat walked on the keyboard")
	if err != nil {
		t.Fatal(err)
	}
	if req.Status != model.UnlockStatusPending {
		t.Fatalf("request status = %s", req.Status)
	}
	if _, err := c.RequestUnlock(context.Background(), "again"); !errors.Is(err, ErrUnlockPending) {
		t.Fatalf("second request = %v", err)
	}

	observe := obs.next(t)
	observe(model.AttemptState{Status: model.AttemptStatusLocked, RemainingSeconds: 499, TabSwitchCount: 1})
	if c.Snapshot().Status != model.AttemptStatusLocked {
		t.Fatal("still locked on the server")
	}

	// Reviewer reset the counter and the server extended the deadline.
	observe(model.AttemptState{Status: model.AttemptStatusInProgress, RemainingSeconds: 450, TabSwitchCount: 0})

	s := c.Snapshot()
	if s.Status != model.AttemptStatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", s.Status)
	}
	if s.RemainingSeconds != 450 {
		t.Fatalf("remaining = %d, want the server's 450", s.RemainingSeconds)
	}
	if s.TabSwitchCount != 0 {
		t.Fatalf("tab switches = %d, want reviewer value 0", s.TabSwitchCount)
	}
	if !c.clock.Running() || env.subscribers() != 1 {
		t.Fatal("clock and monitor must resume")
	}
	if c.unlock.Watching() {
		t.Fatal("observation must stop once the session leaves LOCKED")
	}
	if err := c.RecordAnswer(freeTextQ, "back"); err != nil {
		t.Fatal(err)
	}
}

func TestUnlockRejectedAllowsNewRequest(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	obs := newFakeObserver()
	rejected := make(chan string, 1)
	c := New(b, nil, zerolog.Nop(), Options{
		TickInterval:     1 << 40,
		AutosaveInterval: 1 << 40,
		Observer:         obs,
		OnEvent: func(ev Event) {
			if ev.Kind == EventUnlockRejected {
				rejected <- ev.Message
			}
		},
	})
	if _, err := c.Start(context.Background(), examID); err != nil {
		t.Fatal(err)
	}
	defer c.Close(context.Background())

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	req, err := c.RequestUnlock(context.Background(), "first reason")
	if err != nil {
		t.Fatal(err)
	}

	note := "not convincing"
	resolved := *req
	resolved.Status = model.UnlockStatusRejected
	resolved.ReviewerNote = &note
	obs.next(t)(model.AttemptState{Status: model.AttemptStatusLocked, UnlockRequest: &resolved})

	if msg := <-rejected; msg != "Unlock request rejected: not convincing" {
		t.Fatalf("message = %q", msg)
	}
	s := c.Snapshot()
	if s.Status != model.AttemptStatusLocked || s.UnlockRequest.Status != model.UnlockStatusRejected {
		t.Fatalf("snapshot = %+v", s)
	}
	if c.unlock.Watching() {
		t.Fatal("observation must stop after rejection")
	}

	if _, err := c.RequestUnlock(context.Background(), "second reason"); err != nil {
		t.Fatalf("new request after rejection: %v", err)
	}
	obs.next(t)
	if len(b.unlocks) != 2 {
		t.Fatalf("unlock requests = %d, want 2", len(b.unlocks))
	}
}

func TestRemoteSubmitWhileLocked(t *testing.T) {
	b := newFakeBackend(lockAtZero)
	obs := newFakeObserver()
	c := startController(t, b, nil, obs)

	c.OnViolation(context.Background(), model.ViolationTabSwitch, "")
	if _, err := c.RequestUnlock(context.Background(), "please"); err != nil {
		t.Fatal(err)
	}
	obs.next(t)(model.AttemptState{Status: model.AttemptStatusSubmitted})

	if s := c.Snapshot(); s.Status != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s, want SUBMITTED", s.Status)
	}
	if b.submitCount() != 0 {
		t.Fatal("client must not submit an attempt the server already closed")
	}
	if _, err := c.RequestUnlock(context.Background(), "late"); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("RequestUnlock after submit = %v", err)
	}
}

func TestRunDiscardedWhenTimeRunsOut(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	b.remaining = 1
	gate := make(chan struct{})
	b.runGate = gate
	c := startController(t, b, nil, nil)
	_ = c.RecordCode(codeQ, "print(1+2)", "python")

	done := make(chan error, 1)
	go func() {
		input := "1 2"
		_, err := c.Run(context.Background(), codeQ, "print(1+2)", "python", &input, false)
		done <- err
	}()
	waitEntered(t, b, "run")

	c.clock.Tick()
	waitEntered(t, b, "submit")
	close(gate)

	if err := <-done; !errors.Is(err, ErrResultDiscarded) {
		t.Fatalf("Run = %v, want ErrResultDiscarded", err)
	}
	if s := c.Snapshot(); s.Status != model.AttemptStatusSubmitted {
		t.Fatalf("status = %s", s.Status)
	}
	if got := b.submits[0].Answers; len(got) != 1 || got[0].Value != "print(1+2)" || got[0].LanguageTag != "python" {
		t.Fatalf("submitted answers = %+v", got)
	}
}

func TestRunRejectsNonCodingQuestion(t *testing.T) {
	c := startController(t, newFakeBackend(warnAtOne), nil, nil)
	if _, err := c.Run(context.Background(), freeTextQ, "x", "go", nil, false); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("Run = %v", err)
	}
}

func TestCloseFlushesDrafts(t *testing.T) {
	b := newFakeBackend(warnAtOne)
	c := New(b, nil, zerolog.Nop(), Options{TickInterval: 1 << 40, AutosaveInterval: 1 << 40})
	if _, err := c.Start(context.Background(), examID); err != nil {
		t.Fatal(err)
	}
	_ = c.RecordAnswer(freeTextQ, "unsaved")

	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(b.saves) != 1 || b.submitCount() != 0 {
		t.Fatalf("saves = %d, submits = %d", len(b.saves), b.submitCount())
	}
	if c.clock.Running() {
		t.Fatal("clock must stop on close")
	}
}
