package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrAttemptClosed is returned when an answer was saved after its attempt
// had been submitted.
var ErrAttemptClosed = errors.New("attempt is already submitted")

// AnswerRepository persists the latest answer per (attempt, question).
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert creates or replaces an answer. Saving the same value twice leaves
// one row, and a redelivered older value never overwrites a newer one.
func (r *AnswerRepository) Upsert(ctx context.Context, q Querier, attemptID uuid.UUID, a model.Answer) error {
	_, err := q.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, kind, value, language_tag, last_saved_at)
		 VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET kind = EXCLUDED.kind,
		     value = EXCLUDED.value,
		     language_tag = EXCLUDED.language_tag,
		     last_saved_at = EXCLUDED.last_saved_at
		 WHERE attempt_answers.last_saved_at <= EXCLUDED.last_saved_at`,
		attemptID, a.QuestionID, a.Kind, a.Value, a.LanguageTag, a.LastSavedAt,
	)
	return err
}

// Save upserts a queued answer. Once the attempt is submitted only answers
// saved at or before the submission are still accepted. The attempt row is
// held FOR SHARE so a concurrent submit, which locks it FOR UPDATE, is
// ordered against this write.
func (r *AnswerRepository) Save(ctx context.Context, attemptID uuid.UUID, a model.Answer) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			status      model.AttemptStatus
			submittedAt *time.Time
		)
		err := tx.QueryRow(ctx,
			`SELECT status, submitted_at FROM exam_attempts WHERE id = $1 FOR SHARE`, attemptID,
		).Scan(&status, &submittedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAttemptClosed
		}
		if err != nil {
			return err
		}
		if status == model.AttemptStatusSubmitted && (submittedAt == nil || a.SavedAfter(*submittedAt)) {
			return ErrAttemptClosed
		}
		return r.Upsert(ctx, tx, attemptID, a)
	})
}

// ListByAttempt returns every stored answer of an attempt.
func (r *AnswerRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, kind, value, language_tag, last_saved_at
		 FROM attempt_answers WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.QuestionID, &a.Kind, &a.Value, &a.LanguageTag, &a.LastSavedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
