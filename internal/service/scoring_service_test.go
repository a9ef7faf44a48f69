package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type fakeAnswers []model.Answer

func (f fakeAnswers) AnswersAsOf(ctx context.Context, attemptID uuid.UUID, cutoff *time.Time) ([]model.Answer, error) {
	return f, nil
}

// passFirst passes only the first case it is given.
type passFirst struct{ calls int }

func (p *passFirst) RunCases(ctx context.Context, language, code string, cases []model.TestCase) ([]model.TestCaseResult, error) {
	p.calls++
	out := make([]model.TestCaseResult, len(cases))
	for i, tc := range cases {
		out[i] = model.TestCaseResult{TestCaseID: tc.ID, Passed: i == 0, IsHidden: tc.IsHidden}
	}
	return out, nil
}

func TestScore(t *testing.T) {
	runner := &passFirst{}
	answers := fakeAnswers{
		{QuestionID: optQuestion, Kind: model.QuestionKindSelectedOption, Value: "B"},
		{QuestionID: textQuestion, Kind: model.QuestionKindFreeText, Value: "essay"},
		{QuestionID: codeQuestion, Kind: model.QuestionKindSourceCode, Value: "print()", LanguageTag: "python"},
	}
	svc := NewScoringService(answers, fakeGrading{testGrading()}, runner, zerolog.Nop())

	got, err := svc.Score(context.Background(), model.ScoreJob{AttemptID: uuid.New(), ExamID: uuid.New()})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// 5 for the option, 30 * 1/3 for the code, nothing for free text.
	if got != 15 {
		t.Fatalf("score = %v, want 15", got)
	}
	if runner.calls != 1 {
		t.Fatalf("runner called %d times, want 1", runner.calls)
	}
}

func TestScore_SkipsBlankAndWrongAnswers(t *testing.T) {
	runner := &passFirst{}
	answers := fakeAnswers{
		{QuestionID: optQuestion, Value: "A"},
		{QuestionID: codeQuestion, Value: "   ", LanguageTag: "go"},
	}
	svc := NewScoringService(answers, fakeGrading{testGrading()}, runner, zerolog.Nop())

	got, err := svc.Score(context.Background(), model.ScoreJob{})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got != 0 || runner.calls != 0 {
		t.Fatalf("score = %v with %d runs, want 0 and no runs", got, runner.calls)
	}
}

func TestMergeAnswers_KeepsNewest(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	older := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	stored := []model.Answer{
		{QuestionID: q1, Value: "db-new", LastSavedAt: &newer},
		{QuestionID: q2, Value: "db-old", LastSavedAt: &older},
	}
	buffered := []model.Answer{
		{QuestionID: q1, Value: "cache-old", LastSavedAt: &older},
		{QuestionID: q2, Value: "cache-new", LastSavedAt: &newer},
	}

	got := mergeAnswers(stored, buffered)
	if len(got) != 2 {
		t.Fatalf("got %d answers, want 2", len(got))
	}
	values := map[uuid.UUID]string{}
	for _, a := range got {
		values[a.QuestionID] = a.Value
	}
	if values[q1] != "db-new" || values[q2] != "cache-new" {
		t.Fatalf("merged values = %v", values)
	}
	if got[0].QuestionID.String() > got[1].QuestionID.String() {
		t.Fatal("answers not ordered by question id")
	}
}

func TestSavedBy_DropsValuesAfterSubmission(t *testing.T) {
	q1, q2 := uuid.New(), uuid.New()
	submitted := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	before := submitted.Add(-time.Minute)
	after := submitted.Add(time.Second)

	stored := []model.Answer{
		{QuestionID: q1, Value: "final", LastSavedAt: &submitted},
		{QuestionID: q2, Value: "kept", LastSavedAt: &before},
	}
	buffered := []model.Answer{
		{QuestionID: q1, Value: "late-draft", LastSavedAt: &after},
		{QuestionID: q2, Value: "unsaved"},
	}

	got := mergeAnswers(savedBy(stored, &submitted), savedBy(buffered, &submitted))
	values := map[uuid.UUID]string{}
	for _, a := range got {
		values[a.QuestionID] = a.Value
	}
	if values[q1] != "final" || values[q2] != "kept" {
		t.Fatalf("values = %v, want the submitted ones", values)
	}

	if all := savedBy(buffered, nil); len(all) != 2 {
		t.Fatalf("nil cutoff kept %d answers, want 2", len(all))
	}
}
