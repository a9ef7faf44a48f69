package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type answerSource interface {
	AnswersAsOf(ctx context.Context, attemptID uuid.UUID, cutoff *time.Time) ([]model.Answer, error)
}

type caseRunner interface {
	RunCases(ctx context.Context, language, code string, cases []model.TestCase) ([]model.TestCaseResult, error)
}

// ScoringService grades a submitted attempt. Selected options are compared
// with the stored key, source code is run against every test case (hidden
// ones included) and earns a share of the question's points per passed
// case. Free-text answers are left for manual review and score zero here.
type ScoringService struct {
	answers answerSource
	exams   gradingSource
	runner  caseRunner
	log     zerolog.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(answers answerSource, exams gradingSource, runner caseRunner, log zerolog.Logger) *ScoringService {
	return &ScoringService{
		answers: answers,
		exams:   exams,
		runner:  runner,
		log:     log.With().Str("component", "scoring_service").Logger(),
	}
}

// Score computes the points earned by one attempt.
func (s *ScoringService) Score(ctx context.Context, job model.ScoreJob) (float64, error) {
	grading, err := s.exams.Grading(ctx, job.ExamID)
	if err != nil {
		return 0, fmt.Errorf("load grading: %w", err)
	}
	answers, err := s.answers.AnswersAsOf(ctx, job.AttemptID, job.SubmittedAt)
	if err != nil {
		return 0, fmt.Errorf("load answers: %w", err)
	}
	byQuestion := make(map[uuid.UUID]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}

	var total float64
	for i := range grading.Questions {
		q := &grading.Questions[i]
		a, ok := byQuestion[q.ID]
		if !ok || strings.TrimSpace(a.Value) == "" {
			continue
		}
		points, err := s.scoreQuestion(ctx, q, a)
		if err != nil {
			return 0, fmt.Errorf("score question %s: %w", q.ID, err)
		}
		total += points
	}
	return total, nil
}

func (s *ScoringService) scoreQuestion(ctx context.Context, q *GradedQuestion, a model.Answer) (float64, error) {
	switch q.Kind {
	case model.QuestionKindSelectedOption:
		if q.CorrectOption != nil && strings.TrimSpace(a.Value) == strings.TrimSpace(*q.CorrectOption) {
			return q.ScoreValue, nil
		}
		return 0, nil
	case model.QuestionKindSourceCode:
		if len(q.TestCases) == 0 || a.LanguageTag == "" {
			return 0, nil
		}
		results, err := s.runner.RunCases(ctx, a.LanguageTag, a.Value, q.TestCases)
		if err != nil {
			return 0, err
		}
		passed := 0
		for _, r := range results {
			if r.Passed {
				passed++
			}
		}
		return q.ScoreValue * float64(passed) / float64(len(results)), nil
	default:
		return 0, nil
	}
}
