package session

import (
	"context"
	"errors"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	modeCustom = "custom"
	modeTests  = "tests"
)

// RunOptions describes one CodeRunner invocation. Custom input and the
// test-case batch are independent; either or both may be requested.
type RunOptions struct {
	Code     string
	Language string
	// Input runs the code once against custom stdin. Nil skips the custom
	// run unless RunTests is also false.
	Input    *string
	Question *model.QuestionForStudent
	RunTests bool
}

// RunOutcome carries the result of each requested mode. A failed mode has
// its error set and a nil result; the other mode is unaffected.
type RunOutcome struct {
	Custom    *model.ExecutionResult
	Tests     *model.TestRunResult
	CustomErr error
	TestsErr  error
}

// Err joins the per-mode failures.
func (o *RunOutcome) Err() error {
	return errors.Join(o.CustomErr, o.TestsErr)
}

// CodeRunner executes source code for coding questions through the backend.
type CodeRunner struct {
	backend Backend
	examID  uuid.UUID
	log     zerolog.Logger
}

// NewCodeRunner creates a runner bound to one exam.
func NewCodeRunner(backend Backend, examID uuid.UUID, log zerolog.Logger) *CodeRunner {
	return &CodeRunner{
		backend: backend,
		examID:  examID,
		log:     log.With().Str("component", "code_runner").Logger(),
	}
}

// Run executes the requested modes concurrently. Empty source is rejected
// before any network call. Only test cases the question exposes as visible
// are requested, and any hidden result in the reply is dropped.
func (r *CodeRunner) Run(ctx context.Context, opts RunOptions) (*RunOutcome, error) {
	if strings.TrimSpace(opts.Code) == "" {
		return nil, ErrEmptySource
	}

	var visible mapset.Set[uuid.UUID]
	if opts.RunTests {
		if opts.Question == nil {
			return nil, ErrUnknownQuestion
		}
		visible = mapset.NewThreadUnsafeSet[uuid.UUID]()
		for _, tc := range model.VisibleTestCases(opts.Question.TestCases) {
			visible.Add(tc.ID)
		}
	}

	out := &RunOutcome{}
	var g errgroup.Group

	if opts.Input != nil || !opts.RunTests {
		g.Go(func() error {
			out.Custom, out.CustomErr = r.runCustom(ctx, opts)
			return nil
		})
	}
	if opts.RunTests {
		g.Go(func() error {
			out.Tests, out.TestsErr = r.runTests(ctx, opts, visible)
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

func (r *CodeRunner) runCustom(ctx context.Context, opts RunOptions) (*model.ExecutionResult, error) {
	input := ""
	if opts.Input != nil {
		input = *opts.Input
	}
	res, err := r.backend.RunCode(ctx, r.examID, model.RunRequest{
		Code:     opts.Code,
		Language: opts.Language,
		Input:    &input,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("language", opts.Language).Msg("Custom run failed")
		return nil, &ExecutionError{Mode: modeCustom, Err: err}
	}
	return res, nil
}

func (r *CodeRunner) runTests(ctx context.Context, opts RunOptions, visible mapset.Set[uuid.UUID]) (*model.TestRunResult, error) {
	if visible.Cardinality() == 0 {
		return &model.TestRunResult{Results: []model.TestCaseResult{}}, nil
	}

	ids := visible.ToSlice()
	sortIDs(ids)

	res, err := r.backend.RunTests(ctx, r.examID, model.TestRunRequest{
		Code:        opts.Code,
		Language:    opts.Language,
		QuestionID:  opts.Question.ID,
		TestCaseIDs: ids,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("question_id", opts.Question.ID.String()).Msg("Test run failed")
		return nil, &ExecutionError{Mode: modeTests, Err: err}
	}

	shown := &model.TestRunResult{Results: make([]model.TestCaseResult, 0, len(res.Results))}
	for _, tc := range res.Results {
		if tc.IsHidden || !visible.Contains(tc.TestCaseID) {
			continue
		}
		shown.Results = append(shown.Results, tc)
	}
	shown.Summarize()
	return shown, nil
}
