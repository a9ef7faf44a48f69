package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/policy"
)

var errNetwork = errors.New("connection reset")

var (
	examID     = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c001")
	attemptID  = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c002")
	freeTextQ  = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c101")
	codeQ      = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c102")
	optionQ    = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c103")
	visibleTC  = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c201")
	visibleTC2 = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c202")
	hiddenTC   = uuid.MustParse("7d1f6b4e-3a53-4f0c-9a0e-5b2f41f0c203")
)

func testDefinition(cfg model.ThresholdConfig) model.ExamDefinition {
	return model.ExamDefinition{
		ExamID:          examID,
		Title:           "Algorithms midterm",
		DurationMinutes: 10,
		Proctoring:      cfg,
		Questions: []model.QuestionForStudent{
			{ID: freeTextQ, Kind: model.QuestionKindFreeText, QuestionText: "Define a heap.", OrderNum: 1},
			{
				ID:           codeQ,
				Kind:         model.QuestionKindSourceCode,
				QuestionText: "Sum two integers.",
				Languages:    []string{"python", "go"},
				OrderNum:     2,
				TestCases: []model.TestCase{
					{ID: visibleTC, QuestionID: codeQ, Input: "1 2", ExpectedOutput: "3"},
					{ID: visibleTC2, QuestionID: codeQ, Input: "5 5", ExpectedOutput: "10"},
					{ID: hiddenTC, QuestionID: codeQ, IsHidden: true},
				},
			},
			{ID: optionQ, Kind: model.QuestionKindSelectedOption, QuestionText: "Pick one.", OrderNum: 3},
		},
	}
}

// fakeBackend emulates the server: it owns counts and status and decides
// violation actions with the real policy.
type fakeBackend struct {
	mu sync.Mutex

	cfg       model.ThresholdConfig
	status    model.AttemptStatus
	tab, fs   int
	remaining int
	answers   []model.Answer
	pending   *model.UnlockRequest

	startErr  error
	saveErr   error
	submitErr error
	logErr    error
	runErr    error

	saves      []model.Answer
	submits    []model.SubmitRequest
	reports    []model.ViolationReport
	unlocks    []string
	runs       []model.RunRequest
	testRuns   []model.TestRunRequest
	testReply  *model.TestRunResult
	submitGate chan struct{}
	runGate    chan struct{}
	entered    chan string
}

func newFakeBackend(cfg model.ThresholdConfig) *fakeBackend {
	return &fakeBackend{
		cfg:       cfg,
		status:    model.AttemptStatusInProgress,
		remaining: 600,
		entered:   make(chan string, 16),
	}
}

func (f *fakeBackend) Start(ctx context.Context, id uuid.UUID) (*model.StartResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &model.StartResult{
		Exam: testDefinition(f.cfg),
		Attempt: model.Attempt{
			ID:                  attemptID,
			ExamID:              id,
			Status:              f.status,
			TabSwitchCount:      f.tab,
			FullscreenExitCount: f.fs,
		},
		RemainingSeconds: f.remaining,
		Answers:          f.answers,
		UnlockRequest:    f.pending,
	}, nil
}

func (f *fakeBackend) State(ctx context.Context, id uuid.UUID) (*model.AttemptState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.AttemptState{
		ExamID:              id,
		AttemptID:           attemptID,
		Status:              f.status,
		RemainingSeconds:    f.remaining,
		TabSwitchCount:      f.tab,
		FullscreenExitCount: f.fs,
		UnlockRequest:       f.pending,
	}, nil
}

func (f *fakeBackend) SaveAnswer(ctx context.Context, id uuid.UUID, a model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, a)
	return nil
}

func (f *fakeBackend) Submit(ctx context.Context, id uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	gate := f.submitGate
	f.mu.Unlock()

	f.entered <- "submit"
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.status = model.AttemptStatusSubmitted
	score := 80.0
	return &model.SubmitResult{Status: model.AttemptStatusSubmitted, Score: &score}, nil
}

func (f *fakeBackend) LogViolation(ctx context.Context, id uuid.UUID, r model.ViolationReport) (*model.ViolationOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return nil, f.logErr
	}
	if f.status != model.AttemptStatusInProgress {
		return nil, &AttemptStateError{Status: f.status}
	}
	f.reports = append(f.reports, r)

	count := 0
	if r.Type == model.ViolationTabSwitch {
		f.tab++
		count = f.tab
	} else {
		f.fs++
		count = f.fs
	}
	action := policy.Evaluate(r.Type, count, f.cfg)
	if action == model.ActionLock {
		f.status = model.AttemptStatusLocked
	}
	return &model.ViolationOutcome{
		ActionTaken:         action,
		TabSwitchCount:      f.tab,
		FullscreenExitCount: f.fs,
		Status:              f.status,
	}, nil
}

func (f *fakeBackend) RequestUnlock(ctx context.Context, id uuid.UUID, reason string) (*model.UnlockRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks = append(f.unlocks, reason)
	f.pending = &model.UnlockRequest{
		ID:          uuid.New(),
		AttemptID:   attemptID,
		Reason:      reason,
		Status:      model.UnlockStatusPending,
		RequestedAt: time.Now(),
	}
	req := *f.pending
	return &req, nil
}

func (f *fakeBackend) RunCode(ctx context.Context, id uuid.UUID, req model.RunRequest) (*model.ExecutionResult, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	gate, err := f.runGate, f.runErr
	f.mu.Unlock()

	f.entered <- "run"
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &model.ExecutionResult{Stdout: "3\n", StatusDescription: "Accepted"}, nil
}

func (f *fakeBackend) RunTests(ctx context.Context, id uuid.UUID, req model.TestRunRequest) (*model.TestRunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testRuns = append(f.testRuns, req)
	if f.testReply != nil {
		return f.testReply, nil
	}
	res := &model.TestRunResult{}
	for _, tcID := range req.TestCaseIDs {
		res.Results = append(res.Results, model.TestCaseResult{TestCaseID: tcID, Passed: true})
	}
	res.Summarize()
	return res, nil
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// fakeEnv delivers signals synchronously to every subscriber.
type fakeEnv struct {
	mu          sync.Mutex
	next        int
	subs        map[int]func(Signal)
	fullscreens int
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{subs: make(map[int]func(Signal))}
}

func (e *fakeEnv) Subscribe(fn func(Signal)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *fakeEnv) Emit(kind SignalKind) {
	e.mu.Lock()
	subs := make([]func(Signal), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(Signal{Kind: kind, At: time.Now()})
	}
}

func (e *fakeEnv) RequestFullscreen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fullscreens++
	return nil
}

func (e *fakeEnv) subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// fakeObserver hands the watch callback to the test.
type fakeObserver struct {
	watches chan func(model.AttemptState)
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{watches: make(chan func(model.AttemptState), 4)}
}

func (o *fakeObserver) Watch(ctx context.Context, id uuid.UUID, fn func(model.AttemptState)) error {
	o.watches <- fn
	<-ctx.Done()
	return ctx.Err()
}

func (o *fakeObserver) next(t *testing.T) func(model.AttemptState) {
	t.Helper()
	select {
	case fn := <-o.watches:
		return fn
	case <-time.After(2 * time.Second):
		t.Fatal("status observer was not started")
		return nil
	}
}

func waitEntered(t *testing.T, f *fakeBackend, want string) {
	t.Helper()
	select {
	case got := <-f.entered:
		if got != want {
			t.Fatalf("backend entered %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backend %s was not called", want)
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// startController starts a controller whose clock and autosave never fire
// on their own; tests drive them with Tick and onAutosaveCycle.
func startController(t *testing.T, b *fakeBackend, env Environment, obs StatusObserver) *Controller {
	t.Helper()
	c := New(b, env, zerolog.Nop(), Options{
		TickInterval:     time.Hour,
		AutosaveInterval: time.Hour,
		Observer:         obs,
	})
	if _, err := c.Start(context.Background(), examID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}
