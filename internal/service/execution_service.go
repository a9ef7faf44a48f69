package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/sync/errgroup"
)

// Execution errors.
var (
	ErrHiddenTestCase     = errors.New("hidden test cases cannot be run before grading")
	ErrUnknownTestCase    = errors.New("test case does not belong to the question")
	ErrNotCodingQuestion  = errors.New("question does not accept source code")
	ErrUnsupportedLang    = errors.New("language is not allowed for this question")
	ErrExecutionTimeout   = errors.New("code execution timed out")
	ErrExecutionFailed    = errors.New("code execution failed")
	ErrExecutorMalformed  = errors.New("executor returned a malformed reply")
	errExecutorNoResponse = errors.New("no executor is listening")
)

const caseParallelism = 4

// Requester is the request/reply half of a NATS connection.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type activeAttempts interface {
	ActiveAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
}

type gradingSource interface {
	Grading(ctx context.Context, examID uuid.UUID) (*ExamGrading, error)
}

// ExecutionService sends code to the sandboxed executor over NATS and
// judges the output against test cases.
type ExecutionService struct {
	nc        Requester
	subject   string
	timeout   time.Duration
	timeLimit time.Duration
	attempts  activeAttempts
	exams     gradingSource
	log       zerolog.Logger
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(
	nc Requester,
	subject string,
	timeout, timeLimit time.Duration,
	attempts activeAttempts,
	exams gradingSource,
	log zerolog.Logger,
) *ExecutionService {
	return &ExecutionService{
		nc:        nc,
		subject:   subject,
		timeout:   timeout,
		timeLimit: timeLimit,
		attempts:  attempts,
		exams:     exams,
		log:       log.With().Str("component", "execution_service").Logger(),
	}
}

// Run executes code once against the student's custom input.
func (s *ExecutionService) Run(ctx context.Context, examID uuid.UUID, studentID int, req model.RunRequest) (*model.ExecutionResult, error) {
	if _, err := s.attempts.ActiveAttempt(ctx, examID, studentID); err != nil {
		return nil, err
	}
	stdin := ""
	if req.Input != nil {
		stdin = *req.Input
	}
	reply, err := s.Execute(ctx, req.Language, req.Code, stdin)
	if err != nil {
		return nil, err
	}
	return &model.ExecutionResult{
		Stdout:            reply.Stdout,
		Stderr:            reply.Stderr,
		CompileOutput:     reply.CompileOutput,
		StatusDescription: describeStatus(reply.Status),
	}, nil
}

// RunTests executes code against the requested visible test cases of a
// question, or all of them when none are named.
func (s *ExecutionService) RunTests(ctx context.Context, examID uuid.UUID, studentID int, req model.TestRunRequest) (*model.TestRunResult, error) {
	if _, err := s.attempts.ActiveAttempt(ctx, examID, studentID); err != nil {
		return nil, err
	}
	grading, err := s.exams.Grading(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load grading: %w", err)
	}
	q := grading.Question(req.QuestionID)
	if q == nil {
		return nil, ErrQuestionNotInExam
	}
	if q.Kind != model.QuestionKindSourceCode {
		return nil, ErrNotCodingQuestion
	}
	if len(q.Languages) > 0 && !slices.Contains(q.Languages, req.Language) {
		return nil, ErrUnsupportedLang
	}
	cases, err := selectVisibleCases(q.TestCases, req.TestCaseIDs)
	if err != nil {
		return nil, err
	}

	results, err := s.RunCases(ctx, req.Language, req.Code, cases)
	if err != nil {
		return nil, err
	}
	res := &model.TestRunResult{Results: results}
	res.Summarize()
	return res, nil
}

// selectVisibleCases resolves requested IDs against a question's cases.
// Asking for a hidden case is an error, not a silent skip.
func selectVisibleCases(all []model.TestCase, requested []uuid.UUID) ([]model.TestCase, error) {
	if len(requested) == 0 {
		return model.VisibleTestCases(all), nil
	}

	hidden := mapset.NewSet[uuid.UUID]()
	byID := make(map[uuid.UUID]model.TestCase, len(all))
	for _, tc := range all {
		if tc.IsHidden {
			hidden.Add(tc.ID)
			continue
		}
		byID[tc.ID] = tc
	}

	seen := mapset.NewThreadUnsafeSet[uuid.UUID]()
	selected := make([]model.TestCase, 0, len(requested))
	for _, id := range requested {
		if hidden.Contains(id) {
			return nil, ErrHiddenTestCase
		}
		tc, ok := byID[id]
		if !ok {
			return nil, ErrUnknownTestCase
		}
		if seen.Add(id) {
			selected = append(selected, tc)
		}
	}
	return selected, nil
}

// RunCases executes code once per case, a few cases at a time, and keeps
// the results in case order. Hidden cases are judged but keep IsHidden so
// callers can strip them.
func (s *ExecutionService) RunCases(ctx context.Context, language, code string, cases []model.TestCase) ([]model.TestCaseResult, error) {
	results := make([]model.TestCaseResult, len(cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(caseParallelism)
	for i, tc := range cases {
		g.Go(func() error {
			reply, err := s.Execute(gctx, language, code, tc.Input)
			if err != nil {
				return err
			}
			results[i] = model.TestCaseResult{
				TestCaseID:     tc.ID,
				Input:          tc.Input,
				ExpectedOutput: tc.ExpectedOutput,
				ActualOutput:   actualOutput(reply),
				Passed:         reply.Status == model.ExecStatusSuccess && outputsMatch(reply.Stdout, tc.ExpectedOutput),
				IsHidden:       tc.IsHidden,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Execute sends one job to the executor and waits for its reply.
func (s *ExecutionService) Execute(ctx context.Context, language, code, stdin string) (*model.ExecReply, error) {
	job := model.ExecJob{
		JobID:       uuid.NewString(),
		Language:    language,
		Code:        code,
		Stdin:       stdin,
		TimeLimitMs: int(s.timeLimit / time.Millisecond),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	msg, err := s.nc.RequestWithContext(ctx, s.subject, data)
	if err != nil {
		metrics.ExecutionDuration.WithLabelValues(language, "transport_error").Observe(time.Since(started).Seconds())
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
			return nil, ErrExecutionTimeout
		case errors.Is(err, nats.ErrNoResponders):
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, errExecutorNoResponse)
		default:
			return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		}
	}

	var reply model.ExecReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutorMalformed, err)
	}
	if reply.JobID != "" && reply.JobID != job.JobID {
		return nil, fmt.Errorf("%w: reply for job %s", ErrExecutorMalformed, reply.JobID)
	}
	metrics.ExecutionDuration.WithLabelValues(language, string(reply.Status)).Observe(time.Since(started).Seconds())

	if reply.Status == model.ExecStatusInternalError {
		s.log.Warn().
			Str("job_id", job.JobID).
			Str("language", language).
			Str("stderr", reply.Stderr).
			Msg("Executor internal error")
		return nil, ErrExecutionFailed
	}
	return &reply, nil
}

// outputsMatch compares program output with the expected output, ignoring
// surrounding whitespace and trailing spaces on each line.
func outputsMatch(actual, expected string) bool {
	return normalizeOutput(actual) == normalizeOutput(expected)
}

func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}

func actualOutput(r *model.ExecReply) string {
	switch r.Status {
	case model.ExecStatusCompileError:
		return r.CompileOutput
	case model.ExecStatusRuntimeError, model.ExecStatusTimeLimitExceeded:
		if r.Stderr != "" {
			return r.Stderr
		}
	}
	return r.Stdout
}

func describeStatus(st model.ExecStatus) string {
	switch st {
	case model.ExecStatusSuccess:
		return "Accepted"
	case model.ExecStatusCompileError:
		return "Compilation Error"
	case model.ExecStatusRuntimeError:
		return "Runtime Error"
	case model.ExecStatusTimeLimitExceeded:
		return "Time Limit Exceeded"
	default:
		return "Internal Error"
	}
}
