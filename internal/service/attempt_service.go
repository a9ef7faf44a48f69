package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/policy"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

const (
	// AutoSubmitGrace is how long a client has to deliver its final answers
	// after an AUTO_SUBMIT decision before the deadline sweeper closes the attempt.
	AutoSubmitGrace = 30 * time.Second

	answersCacheTTL = 24 * time.Hour
)

// AttemptService owns the authoritative attempt state machine.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	answerRepo  *repository.AnswerRepository
	unlockRepo  *repository.UnlockRepository
	examSvc     *ExamService
	events      *EventPublisher
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	answerRepo *repository.AnswerRepository,
	unlockRepo *repository.UnlockRepository,
	examSvc *ExamService,
	events *EventPublisher,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		answerRepo:  answerRepo,
		unlockRepo:  unlockRepo,
		examSvc:     examSvc,
		events:      events,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start creates the student's attempt, or returns the existing one when the
// student re-enters. A submitted attempt cannot be started again.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID, classID int) (*model.StartResult, error) {
	attempt, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	switch {
	case err == nil:
		if attempt.Status == model.AttemptStatusSubmitted {
			return nil, ErrNotEligible
		}
		metrics.AttemptsStarted.WithLabelValues("reentry").Inc()
	case errors.Is(err, pgx.ErrNoRows):
		attempt, err = s.create(ctx, examID, studentID, classID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	def, err := s.examSvc.Definition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	answers, err := s.Answers(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}

	res := &model.StartResult{
		Exam:             *def,
		Attempt:          *attempt,
		RemainingSeconds: attempt.RemainingSeconds(time.Now()),
		Answers:          answers,
	}
	if attempt.Status == model.AttemptStatusLocked {
		res.UnlockRequest = s.latestUnlock(ctx, attempt.ID)
	}
	return res, nil
}

func (s *AttemptService) create(ctx context.Context, examID uuid.UUID, studentID, classID int) (*model.Attempt, error) {
	exam, err := s.examSvc.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if exam.Status != model.ExamStatusPublished && exam.Status != model.ExamStatusInProgress {
		return nil, ErrNotEligible
	}
	if !exam.WindowOpen(now) {
		return nil, ErrNotEligible
	}
	ok, err := s.examSvc.Targets(ctx, examID, classID)
	if err != nil {
		return nil, fmt.Errorf("check eligibility: %w", err)
	}
	if !ok {
		return nil, ErrNotEligible
	}

	a := &model.Attempt{
		ExamID:     examID,
		StudentID:  studentID,
		Status:     model.AttemptStatusInProgress,
		StartedAt:  now,
		DeadlineAt: now.Add(time.Duration(exam.DurationMinutes) * time.Minute),
	}
	if err := s.attemptRepo.Create(ctx, a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Concurrent start from a second tab.
			return s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	metrics.AttemptsStarted.WithLabelValues("first").Inc()
	s.events.Monitor(ctx, examID, model.MonitorEvent{
		Kind:      model.MonitorStarted,
		AttemptID: a.ID,
		StudentID: studentID,
		Status:    a.Status,
	})
	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Time("deadline", a.DeadlineAt).
		Msg("Attempt started")
	return a, nil
}

// Attempt returns the student's attempt for an exam.
func (s *AttemptService) Attempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.attemptRepo.GetByExamAndStudent(ctx, examID, studentID)
	if err != nil {
		return nil, notFound(err, ErrAttemptNotFound)
	}
	return a, nil
}

// ActiveAttempt returns the attempt only while it is IN_PROGRESS.
func (s *AttemptService) ActiveAttempt(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	a, err := s.Attempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if err := statusErr(a.Status); err != nil {
		return nil, err
	}
	return a, nil
}

// State is the status snapshot polled by a locked client.
func (s *AttemptService) State(ctx context.Context, examID uuid.UUID, studentID int) (*model.AttemptState, error) {
	a, err := s.Attempt(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	state := stateOf(a, s.latestUnlock(ctx, a.ID), time.Now())
	return &state, nil
}

func (s *AttemptService) latestUnlock(ctx context.Context, attemptID uuid.UUID) *model.UnlockRequest {
	u, err := s.unlockRepo.LatestFor(ctx, attemptID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Load unlock request")
		}
		return nil
	}
	return u
}

// SaveAnswer records the latest value for one question. The value lands in
// the Redis hash at once and reaches PostgreSQL through the autosave worker.
func (s *AttemptService) SaveAnswer(ctx context.Context, examID uuid.UUID, studentID int, a model.Answer) error {
	attempt, err := s.ActiveAttempt(ctx, examID, studentID)
	if err != nil {
		return err
	}
	def, err := s.examSvc.Definition(ctx, examID)
	if err != nil {
		return fmt.Errorf("load exam: %w", err)
	}
	if err := normalizeAnswer(def, &a); err != nil {
		return err
	}
	now := time.Now()
	a.LastSavedAt = &now

	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	job, err := json.Marshal(model.AnswerJob{AttemptID: attempt.ID, Answer: a})
	if err != nil {
		return fmt.Errorf("marshal answer job: %w", err)
	}

	key := config.CacheKey.AttemptAnswersKey(attempt.ID.String())
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, a.QuestionID.String(), raw)
	pipe.Expire(ctx, key, answersCacheTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer answer: %w", err)
	}
	return nil
}

func normalizeAnswer(def *model.ExamDefinition, a *model.Answer) error {
	q := def.Question(a.QuestionID)
	if q == nil {
		return ErrQuestionNotInExam
	}
	a.Kind = q.Kind
	if q.Kind != model.QuestionKindSourceCode {
		a.LanguageTag = ""
	}
	return nil
}

// Answers returns the latest value per question, preferring whichever of the
// Redis buffer and PostgreSQL holds the newer save.
func (s *AttemptService) Answers(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	return s.AnswersAsOf(ctx, attemptID, nil)
}

// AnswersAsOf is Answers restricted to values saved no later than cutoff.
// A nil cutoff keeps everything.
func (s *AttemptService) AnswersAsOf(ctx context.Context, attemptID uuid.UUID, cutoff *time.Time) ([]model.Answer, error) {
	stored, err := s.answerRepo.ListByAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	buffered, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("read answer buffer: %w", err)
	}

	var cached []model.Answer
	for qid, raw := range buffered {
		var a model.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			s.log.Warn().Err(err).Str("question_id", qid).Msg("Corrupt buffered answer")
			continue
		}
		cached = append(cached, a)
	}
	return mergeAnswers(savedBy(stored, cutoff), savedBy(cached, cutoff)), nil
}

func savedBy(set []model.Answer, cutoff *time.Time) []model.Answer {
	if cutoff == nil {
		return set
	}
	kept := set[:0:0]
	for _, a := range set {
		if !a.SavedAfter(*cutoff) {
			kept = append(kept, a)
		}
	}
	return kept
}

// ClearBufferedAnswers drops the Redis answer hashes of finished attempts.
func (s *AttemptService) ClearBufferedAnswers(ctx context.Context, attemptIDs ...uuid.UUID) error {
	if len(attemptIDs) == 0 {
		return nil
	}
	keys := make([]string, len(attemptIDs))
	for i, id := range attemptIDs {
		keys[i] = config.CacheKey.AttemptAnswersKey(id.String())
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// mergeAnswers keeps the newer value per question, ordered by question ID.
func mergeAnswers(sets ...[]model.Answer) []model.Answer {
	latest := make(map[uuid.UUID]model.Answer)
	for _, set := range sets {
		for _, a := range set {
			if cur, ok := latest[a.QuestionID]; !ok || a.Newer(cur) {
				latest[a.QuestionID] = a
			}
		}
	}
	out := make([]model.Answer, 0, len(latest))
	for _, a := range latest {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QuestionID.String() < out[j].QuestionID.String()
	})
	return out
}

// Submit finalizes the attempt. Submitting twice returns the stored result.
func (s *AttemptService) Submit(ctx context.Context, examID uuid.UUID, studentID int, req model.SubmitRequest) (*model.SubmitResult, error) {
	def, err := s.examSvc.Definition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}

	var (
		attempt *model.Attempt
		result  *model.SubmitResult
		fresh   bool
	)
	err = s.attemptRepo.InTx(ctx, func(tx pgx.Tx) error {
		a, err := s.attemptRepo.LockByExamAndStudent(ctx, tx, examID, studentID)
		if err != nil {
			return notFound(err, ErrAttemptNotFound)
		}
		attempt = a

		switch a.Status {
		case model.AttemptStatusSubmitted:
			result = &model.SubmitResult{Status: a.Status, Score: a.FinalScore}
			return nil
		case model.AttemptStatusLocked:
			return ErrAttemptLocked
		}

		now := time.Now()
		for _, ans := range req.Answers {
			if normalizeAnswer(def, &ans) != nil {
				continue
			}
			ans.LastSavedAt = &now
			if err := s.answerRepo.Upsert(ctx, tx, a.ID, ans); err != nil {
				return fmt.Errorf("save final answer: %w", err)
			}
		}

		a.Status = model.AttemptStatusSubmitted
		a.SubmittedAt = &now
		a.AutoSubmitted = req.Automatic
		if err := s.attemptRepo.Save(ctx, tx, a); err != nil {
			return fmt.Errorf("save attempt: %w", err)
		}
		fresh = true
		result = &model.SubmitResult{Status: a.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fresh {
		if req.ViolationCount != attempt.TabSwitchCount+attempt.FullscreenExitCount {
			s.log.Debug().
				Str("attempt_id", attempt.ID.String()).
				Int("client_count", req.ViolationCount).
				Int("server_count", attempt.TabSwitchCount+attempt.FullscreenExitCount).
				Msg("Client violation count differs")
		}
		s.Finalized(ctx, attempt, req.Automatic)
	}
	return result, nil
}

// Finalized queues scoring and announces a freshly submitted attempt.
func (s *AttemptService) Finalized(ctx context.Context, a *model.Attempt, automatic bool) {
	trigger := "manual"
	if automatic {
		trigger = "automatic"
	}
	metrics.Submissions.WithLabelValues(trigger).Inc()

	job, _ := json.Marshal(model.ScoreJob{AttemptID: a.ID, ExamID: a.ExamID, SubmittedAt: a.SubmittedAt})
	if err := s.rdb.RPush(ctx, config.WorkerKey.ScoreAttemptsQueue, job).Err(); err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Queue scoring")
	}

	s.events.AttemptState(ctx, stateOf(a, nil, time.Now()))
	s.events.Monitor(ctx, a.ExamID, model.MonitorEvent{
		Kind:      model.MonitorSubmitted,
		AttemptID: a.ID,
		StudentID: a.StudentID,
		Status:    a.Status,
	})
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("trigger", trigger).
		Msg("Attempt submitted")
}

// LogViolation counts a violation and decides its action under a row lock,
// so concurrent reports from one attempt are evaluated one after another.
func (s *AttemptService) LogViolation(ctx context.Context, examID uuid.UUID, studentID int, report model.ViolationReport) (*model.ViolationOutcome, error) {
	def, err := s.examSvc.Definition(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	cfg := def.Proctoring

	var (
		attempt *model.Attempt
		outcome *model.ViolationOutcome
		counted bool
	)
	now := time.Now()
	err = s.attemptRepo.InTx(ctx, func(tx pgx.Tx) error {
		a, err := s.attemptRepo.LockByExamAndStudent(ctx, tx, examID, studentID)
		if err != nil {
			return notFound(err, ErrAttemptNotFound)
		}
		if err := statusErr(a.Status); err != nil {
			return err
		}
		attempt = a

		if _, monitored := policy.Limit(report.Type, cfg); !monitored {
			outcome = outcomeOf(a, model.ActionNone)
			return nil
		}

		count := 0
		switch report.Type {
		case model.ViolationTabSwitch:
			a.TabSwitchCount++
			count = a.TabSwitchCount
		case model.ViolationFullscreenExit:
			a.FullscreenExitCount++
			count = a.FullscreenExitCount
		}

		action := policy.Evaluate(report.Type, count, cfg)
		switch action {
		case model.ActionLock:
			a.Status = model.AttemptStatusLocked
			a.LockedAt = &now
		case model.ActionAutoSubmit:
			if due := now.Add(AutoSubmitGrace); due.Before(a.DeadlineAt) {
				a.DeadlineAt = due
			}
		}
		if err := s.attemptRepo.Save(ctx, tx, a); err != nil {
			return fmt.Errorf("save attempt: %w", err)
		}
		counted = true
		outcome = outcomeOf(a, action)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if counted {
		s.afterViolation(ctx, attempt, report, outcome.ActionTaken, now)
	}
	return outcome, nil
}

func outcomeOf(a *model.Attempt, action model.ViolationAction) *model.ViolationOutcome {
	return &model.ViolationOutcome{
		ActionTaken:         action,
		TabSwitchCount:      a.TabSwitchCount,
		FullscreenExitCount: a.FullscreenExitCount,
		Status:              a.Status,
	}
}

func (s *AttemptService) afterViolation(ctx context.Context, a *model.Attempt, report model.ViolationReport, action model.ViolationAction, at time.Time) {
	metrics.Violations.WithLabelValues(string(report.Type), string(action)).Inc()

	record := model.ViolationRecord{
		AttemptID:   a.ID,
		ExamID:      a.ExamID,
		StudentID:   a.StudentID,
		Type:        report.Type,
		Detail:      report.Detail,
		ActionTaken: action,
		OccurredAt:  at,
	}
	if raw, err := json.Marshal(record); err == nil {
		if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, raw).Err(); err != nil {
			s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Queue violation record")
		}
	}

	s.events.Monitor(ctx, a.ExamID, model.MonitorEvent{
		Kind:      model.MonitorViolation,
		AttemptID: a.ID,
		StudentID: a.StudentID,
		Status:    a.Status,
		Violation: &record,
	})
	if action == model.ActionLock {
		s.events.AttemptState(ctx, stateOf(a, nil, at))
		s.events.Monitor(ctx, a.ExamID, model.MonitorEvent{
			Kind:      model.MonitorLocked,
			AttemptID: a.ID,
			StudentID: a.StudentID,
			Status:    a.Status,
		})
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("type", string(report.Type)).
		Str("action", string(action)).
		Int("tab_switches", a.TabSwitchCount).
		Int("fullscreen_exits", a.FullscreenExitCount).
		Msg("Violation recorded")
}

// CloseOverdue force-submits attempts whose deadline passed more than grace
// ago and queues them for scoring.
func (s *AttemptService) CloseOverdue(ctx context.Context, grace time.Duration) (int, error) {
	expired, err := s.attemptRepo.SubmitOverdue(ctx, int(grace/time.Second))
	if err != nil {
		return 0, fmt.Errorf("submit overdue: %w", err)
	}
	for _, e := range expired {
		submittedAt := e.SubmittedAt
		s.Finalized(ctx, &model.Attempt{
			ID:          e.ID,
			ExamID:      e.ExamID,
			StudentID:   e.StudentID,
			Status:      model.AttemptStatusSubmitted,
			SubmittedAt: &submittedAt,
		}, true)
	}
	return len(expired), nil
}
