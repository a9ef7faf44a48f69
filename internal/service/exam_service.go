package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// Exam errors.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam is not published")
)

const examCacheTTL = 12 * time.Hour

// GradedQuestion carries the server-only grading data of one question.
type GradedQuestion struct {
	ID            uuid.UUID          `json:"id"`
	Kind          model.QuestionKind `json:"kind"`
	ScoreValue    float64            `json:"score_value"`
	CorrectOption *string            `json:"correct_option,omitempty"`
	Languages     []string           `json:"languages,omitempty"`
	TestCases     []model.TestCase   `json:"test_cases,omitempty"`
}

// ExamGrading is the cached grading view of an exam, hidden test cases included.
type ExamGrading struct {
	ExamID    uuid.UUID        `json:"exam_id"`
	Questions []GradedQuestion `json:"questions"`
}

// Question returns the graded question with the given ID, or nil.
func (g *ExamGrading) Question(id uuid.UUID) *GradedQuestion {
	for i := range g.Questions {
		if g.Questions[i].ID == id {
			return &g.Questions[i]
		}
	}
	return nil
}

// QuestionDraft is a question with its test cases, used when authoring an exam.
type QuestionDraft struct {
	Question  model.Question
	TestCases []model.TestCase
}

// ExamService handles exam lookups and the Redis cache of exam payloads.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	targetRepo   *repository.ExamTargetRuleRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	targetRepo *repository.ExamTargetRuleRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		targetRepo:   targetRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return exam, err
}

// Targets reports whether a student's class may take the exam.
func (s *ExamService) Targets(ctx context.Context, examID uuid.UUID, classID int) (bool, error) {
	return s.targetRepo.Targets(ctx, examID, classID)
}

// Lobby lists the open exams a class may take.
func (s *ExamService) Lobby(ctx context.Context, classID int) ([]model.Exam, error) {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Exam, 0, len(exams))
	for _, e := range exams {
		ok, err := s.targetRepo.Targets(ctx, e.ID, classID)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Create stores a DRAFT exam with its questions, test cases and target classes.
func (s *ExamService) Create(ctx context.Context, exam *model.Exam, questions []QuestionDraft, classIDs []int) error {
	exam.Status = model.ExamStatusDraft
	if err := s.examRepo.Create(ctx, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	for i := range questions {
		q := &questions[i].Question
		q.ExamID = exam.ID
		if err := s.questionRepo.Create(ctx, q); err != nil {
			return fmt.Errorf("create question %d: %w", q.OrderNum, err)
		}
		for j := range questions[i].TestCases {
			tc := &questions[i].TestCases[j]
			tc.QuestionID = q.ID
			if err := s.questionRepo.CreateTestCase(ctx, tc, j+1); err != nil {
				return fmt.Errorf("create test case: %w", err)
			}
		}
	}
	for _, classID := range classIDs {
		rule := &model.ExamTargetRule{ExamID: exam.ID, ClassID: classID}
		if err := s.targetRepo.Create(ctx, rule); err != nil {
			return fmt.Errorf("create target rule: %w", err)
		}
	}
	return nil
}

// Publish opens a DRAFT exam to students and warms its cache.
func (s *ExamService) Publish(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}
	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID.String()).Msg("Exam published")
	return nil
}

// WarmExamCache loads an exam's student payload and grading data into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	def, grading, err := s.build(ctx, exam)
	if err != nil {
		return err
	}

	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	gradingJSON, err := json.Marshal(grading)
	if err != nil {
		return fmt.Errorf("marshal grading: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.ExamDefinitionKey(exam.ID.String()), defJSON, examCacheTTL)
	pipe.Set(ctx, config.CacheKey.ExamGradingKey(exam.ID.String()), gradingJSON, examCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(def.Questions)).
		Msg("Cache warmed")
	return nil
}

func (s *ExamService) build(ctx context.Context, exam *model.Exam) (*model.ExamDefinition, *ExamGrading, error) {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}
	cases, err := s.questionRepo.ListTestCasesByExam(ctx, exam.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list test cases: %w", err)
	}

	def := &model.ExamDefinition{
		ExamID:          exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Proctoring:      exam.Proctoring,
		Questions:       make([]model.QuestionForStudent, len(questions)),
	}
	grading := &ExamGrading{ExamID: exam.ID, Questions: make([]GradedQuestion, len(questions))}

	for i := range questions {
		q := &questions[i]
		def.Questions[i] = q.ForStudent(cases[q.ID])
		grading.Questions[i] = GradedQuestion{
			ID:            q.ID,
			Kind:          q.Kind,
			ScoreValue:    q.ScoreValue,
			CorrectOption: q.CorrectOption,
			Languages:     q.Languages,
			TestCases:     cases[q.ID],
		}
	}
	return def, grading, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// Definition returns the student-facing payload, warming the cache on a miss.
func (s *ExamService) Definition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	var def model.ExamDefinition
	if err := s.cached(ctx, examID, config.CacheKey.ExamDefinitionKey(examID.String()), &def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Grading returns the cached grading view, warming the cache on a miss.
func (s *ExamService) Grading(ctx context.Context, examID uuid.UUID) (*ExamGrading, error) {
	var g ExamGrading
	if err := s.cached(ctx, examID, config.CacheKey.ExamGradingKey(examID.String()), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *ExamService) cached(ctx context.Context, examID uuid.UUID, key string, dst any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		exam, err := s.GetByID(ctx, examID)
		if err != nil {
			return err
		}
		if exam.Status == model.ExamStatusDraft {
			return ErrExamNotPublished
		}
		if err := s.WarmExamCache(ctx, exam); err != nil {
			return err
		}
		data, err = s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			return fmt.Errorf("read warmed cache: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get cache: %w", err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal cache: %w", err)
	}
	return nil
}
