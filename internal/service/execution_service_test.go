package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// fakeExecutor answers every job with the reply chosen by respond.
type fakeExecutor struct {
	mu      sync.Mutex
	jobs    []model.ExecJob
	respond func(job model.ExecJob) ([]byte, error)
}

func (f *fakeExecutor) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	var job model.ExecJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()

	out, err := f.respond(job)
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Subject: subj, Data: out}, nil
}

// echoSum replies with the sum of the two integers on stdin, or "0".
func echoSum(job model.ExecJob) ([]byte, error) {
	var a, b int
	fields := strings.Fields(job.Stdin)
	if len(fields) == 2 {
		a, _ = strconv.Atoi(fields[0])
		b, _ = strconv.Atoi(fields[1])
	}
	return json.Marshal(model.ExecReply{
		JobID:  job.JobID,
		Status: model.ExecStatusSuccess,
		Stdout: strconv.Itoa(a+b) + "\n",
	})
}

type fakeAttempts struct{ err error }

func (f fakeAttempts) ActiveAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Attempt{ExamID: examID, StudentID: studentID, Status: model.AttemptStatusInProgress}, nil
}

type fakeGrading struct{ g *ExamGrading }

func (f fakeGrading) Grading(ctx context.Context, examID uuid.UUID) (*ExamGrading, error) {
	return f.g, nil
}

var (
	codeQuestion = uuid.MustParse("0b6c1c8e-52a4-4b71-9e3f-000000000001")
	textQuestion = uuid.MustParse("0b6c1c8e-52a4-4b71-9e3f-000000000002")
	optQuestion  = uuid.MustParse("0b6c1c8e-52a4-4b71-9e3f-000000000003")
	caseA        = uuid.MustParse("0b6c1c8e-52a4-4b71-9e3f-0000000000a1")
	caseB        = uuid.MustParse("0b6c1c8e-52a4-4b71-9e3f-0000000000a2")
	caseHidden   = uuid.MustParse("0b6c1c8e-52a4-4b71-9e3f-0000000000a3")
)

func testGrading() *ExamGrading {
	correct := "B"
	return &ExamGrading{
		Questions: []GradedQuestion{
			{
				ID:         codeQuestion,
				Kind:       model.QuestionKindSourceCode,
				ScoreValue: 30,
				Languages:  []string{"python", "go"},
				TestCases: []model.TestCase{
					{ID: caseA, QuestionID: codeQuestion, Input: "1 2", ExpectedOutput: "3"},
					{ID: caseB, QuestionID: codeQuestion, Input: "5 5", ExpectedOutput: "10"},
					{ID: caseHidden, QuestionID: codeQuestion, Input: "20 22", ExpectedOutput: "42", IsHidden: true},
				},
			},
			{ID: textQuestion, Kind: model.QuestionKindFreeText, ScoreValue: 10},
			{ID: optQuestion, Kind: model.QuestionKindSelectedOption, ScoreValue: 5, CorrectOption: &correct},
		},
	}
}

func newTestExecution(exec *fakeExecutor, attempts activeAttempts) *ExecutionService {
	return NewExecutionService(exec, "exec.jobs", time.Second, 2*time.Second, attempts, fakeGrading{testGrading()}, zerolog.Nop())
}

func TestExecute_MapsTransportErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"timeout", nats.ErrTimeout, ErrExecutionTimeout},
		{"deadline", context.DeadlineExceeded, ErrExecutionTimeout},
		{"no responders", nats.ErrNoResponders, ErrExecutionFailed},
		{"connection closed", nats.ErrConnectionClosed, ErrExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{respond: func(model.ExecJob) ([]byte, error) { return nil, tt.err }}
			_, err := newTestExecution(exec, fakeAttempts{}).Execute(context.Background(), "go", "package main", "")
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExecute_RejectsMalformedReplies(t *testing.T) {
	replies := map[string]func(model.ExecJob) ([]byte, error){
		"not json": func(model.ExecJob) ([]byte, error) { return []byte("{oops"), nil },
		"foreign job": func(model.ExecJob) ([]byte, error) {
			return json.Marshal(model.ExecReply{JobID: "someone-else", Status: model.ExecStatusSuccess})
		},
	}
	for name, respond := range replies {
		t.Run(name, func(t *testing.T) {
			exec := &fakeExecutor{respond: respond}
			_, err := newTestExecution(exec, fakeAttempts{}).Execute(context.Background(), "go", "", "")
			if !errors.Is(err, ErrExecutorMalformed) {
				t.Fatalf("got %v, want ErrExecutorMalformed", err)
			}
		})
	}
}

func TestExecute_InternalErrorFails(t *testing.T) {
	exec := &fakeExecutor{respond: func(job model.ExecJob) ([]byte, error) {
		return json.Marshal(model.ExecReply{JobID: job.JobID, Status: model.ExecStatusInternalError, Stderr: "sandbox down"})
	}}
	_, err := newTestExecution(exec, fakeAttempts{}).Execute(context.Background(), "python", "print(1)", "")
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("got %v, want ErrExecutionFailed", err)
	}
}

func TestExecute_SendsTimeLimit(t *testing.T) {
	exec := &fakeExecutor{respond: echoSum}
	if _, err := newTestExecution(exec, fakeAttempts{}).Execute(context.Background(), "go", "x", "1 1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(exec.jobs) != 1 || exec.jobs[0].TimeLimitMs != 2000 || exec.jobs[0].Stdin != "1 1" {
		t.Fatalf("unexpected job %+v", exec.jobs)
	}
}

func TestSelectVisibleCases(t *testing.T) {
	all := testGrading().Questions[0].TestCases

	got, err := selectVisibleCases(all, nil)
	if err != nil || len(got) != 2 {
		t.Fatalf("empty request: got %d cases, err %v; want the 2 visible ones", len(got), err)
	}

	got, err = selectVisibleCases(all, []uuid.UUID{caseB, caseA, caseB})
	if err != nil {
		t.Fatalf("duplicates: %v", err)
	}
	if len(got) != 2 || got[0].ID != caseB || got[1].ID != caseA {
		t.Fatalf("want [B A] in request order without duplicates, got %+v", got)
	}

	if _, err := selectVisibleCases(all, []uuid.UUID{caseA, caseHidden}); !errors.Is(err, ErrHiddenTestCase) {
		t.Fatalf("hidden: got %v", err)
	}
	if _, err := selectVisibleCases(all, []uuid.UUID{uuid.New()}); !errors.Is(err, ErrUnknownTestCase) {
		t.Fatalf("unknown: got %v", err)
	}
}

func TestRunTests_JudgesVisibleCases(t *testing.T) {
	exec := &fakeExecutor{respond: echoSum}
	svc := newTestExecution(exec, fakeAttempts{})

	res, err := svc.RunTests(context.Background(), uuid.New(), 7, model.TestRunRequest{
		Code: "print(sum)", Language: "python", QuestionID: codeQuestion,
	})
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if res.Summary.Total != 2 || res.Summary.Passed != 2 {
		t.Fatalf("summary = %+v, want 2/2 passed", res.Summary)
	}
	if res.Results[0].TestCaseID != caseA || res.Results[1].TestCaseID != caseB {
		t.Fatalf("results out of case order: %+v", res.Results)
	}
	for _, r := range res.Results {
		if r.IsHidden {
			t.Fatalf("hidden case leaked: %+v", r)
		}
	}
}

func TestRunTests_Rejections(t *testing.T) {
	locked := fakeAttempts{err: ErrAttemptLocked}
	exec := &fakeExecutor{respond: echoSum}

	tests := []struct {
		name     string
		attempts activeAttempts
		req      model.TestRunRequest
		want     error
	}{
		{"locked attempt", locked, model.TestRunRequest{QuestionID: codeQuestion, Language: "go"}, ErrAttemptLocked},
		{"foreign question", fakeAttempts{}, model.TestRunRequest{QuestionID: uuid.New(), Language: "go"}, ErrQuestionNotInExam},
		{"text question", fakeAttempts{}, model.TestRunRequest{QuestionID: textQuestion, Language: "go"}, ErrNotCodingQuestion},
		{"language", fakeAttempts{}, model.TestRunRequest{QuestionID: codeQuestion, Language: "cobol"}, ErrUnsupportedLang},
		{"hidden case", fakeAttempts{}, model.TestRunRequest{QuestionID: codeQuestion, Language: "go", TestCaseIDs: []uuid.UUID{caseHidden}}, ErrHiddenTestCase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestExecution(exec, tt.attempts).RunTests(context.Background(), uuid.New(), 1, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
	if len(exec.jobs) != 0 {
		t.Fatalf("rejected requests reached the executor: %d jobs", len(exec.jobs))
	}
}

func TestRun_DescribesStatus(t *testing.T) {
	exec := &fakeExecutor{respond: func(job model.ExecJob) ([]byte, error) {
		return json.Marshal(model.ExecReply{JobID: job.JobID, Status: model.ExecStatusCompileError, CompileOutput: "syntax error"})
	}}
	res, err := newTestExecution(exec, fakeAttempts{}).Run(context.Background(), uuid.New(), 1, model.RunRequest{Code: "x", Language: "go"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.StatusDescription != "Compilation Error" || res.CompileOutput != "syntax error" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOutputsMatch(t *testing.T) {
	tests := []struct {
		actual, expected string
		want             bool
	}{
		{"3\n", "3", true},
		{"1 2  \r\n3\t\r\n", "1 2\n3", true},
		{"\n\n42\n", "42", true},
		{"4 2", "42", false},
		{"a\n\nb", "a\nb", false},
	}
	for _, tt := range tests {
		if got := outputsMatch(tt.actual, tt.expected); got != tt.want {
			t.Errorf("outputsMatch(%q, %q) = %v, want %v", tt.actual, tt.expected, got, tt.want)
		}
	}
}
