package session

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func codeQuestion() *model.QuestionForStudent {
	def := testDefinition(model.ThresholdConfig{})
	return def.Question(codeQ)
}

func TestCodeRunnerRejectsEmptySource(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{})
	r := NewCodeRunner(b, examID, zerolog.Nop())

	for _, code := range []string{"", "   \n\t"} {
		if _, err := r.Run(context.Background(), RunOptions{Code: code, Language: "go", RunTests: true, Question: codeQuestion()}); !errors.Is(err, ErrEmptySource) {
			t.Fatalf("Run(%q) = %v, want ErrEmptySource", code, err)
		}
	}
	if len(b.runs) != 0 || len(b.testRuns) != 0 {
		t.Fatal("empty source must not reach the backend")
	}
}

func TestCodeRunnerNeverRequestsHiddenCases(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{})
	b.testReply = &model.TestRunResult{Results: []model.TestCaseResult{
		{TestCaseID: visibleTC, Passed: true},
		{TestCaseID: visibleTC2, Passed: false},
		{TestCaseID: hiddenTC, Passed: true, IsHidden: true},
	}}
	r := NewCodeRunner(b, examID, zerolog.Nop())

	out, err := r.Run(context.Background(), RunOptions{Code: "package main", Language: "go", Question: codeQuestion(), RunTests: true})
	if err != nil {
		t.Fatal(err)
	}

	req := b.testRuns[0]
	if len(req.TestCaseIDs) != 2 {
		t.Fatalf("requested %d cases, want 2 visible", len(req.TestCaseIDs))
	}
	for _, id := range req.TestCaseIDs {
		if id == hiddenTC {
			t.Fatal("hidden test case was requested")
		}
	}
	if out.Tests.Summary != (model.TestRunSummary{Passed: 1, Failed: 1, Total: 2}) {
		t.Fatalf("summary = %+v", out.Tests.Summary)
	}
	if out.Custom != nil || len(b.runs) != 0 {
		t.Fatal("custom run was not requested")
	}
}

func TestCodeRunnerModesAreIndependent(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{})
	b.runErr = errNetwork
	r := NewCodeRunner(b, examID, zerolog.Nop())
	input := "1 2"

	out, err := r.Run(context.Background(), RunOptions{
		Code:     "print(sum(map(int, input().split())))",
		Language: "python",
		Input:    &input,
		Question: codeQuestion(),
		RunTests: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	<-b.entered

	var execErr *ExecutionError
	if !errors.As(out.CustomErr, &execErr) || execErr.Mode != modeCustom {
		t.Fatalf("custom error = %v", out.CustomErr)
	}
	if out.TestsErr != nil || out.Tests == nil || out.Tests.Summary.Total != 2 {
		t.Fatalf("tests should succeed independently: %+v, %v", out.Tests, out.TestsErr)
	}
	if !errors.Is(out.Err(), errNetwork) {
		t.Fatal("Err should join the failed mode")
	}
}

func TestCodeRunnerCustomInputDefaultsToEmpty(t *testing.T) {
	b := newFakeBackend(model.ThresholdConfig{})
	r := NewCodeRunner(b, examID, zerolog.Nop())

	out, err := r.Run(context.Background(), RunOptions{Code: "print(3)", Language: "python"})
	if err != nil || out.Custom == nil || out.Custom.Stdout != "3\n" {
		t.Fatalf("Run = %+v, %v", out, err)
	}
	if in := b.runs[0].Input; in == nil || *in != "" {
		t.Fatalf("input = %v, want empty string", in)
	}
}

func TestCodeRunnerTestsNeedQuestion(t *testing.T) {
	r := NewCodeRunner(newFakeBackend(model.ThresholdConfig{}), examID, zerolog.Nop())
	if _, err := r.Run(context.Background(), RunOptions{Code: "x", RunTests: true}); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("Run = %v", err)
	}
}
