package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository handles exam attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, student_id, status, started_at, deadline_at, locked_at,
	submitted_at, tab_switch_count, fullscreen_exit_count, auto_submitted, final_score`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := row.Scan(&a.ID, &a.ExamID, &a.StudentID, &a.Status, &a.StartedAt, &a.DeadlineAt, &a.LockedAt,
		&a.SubmittedAt, &a.TabSwitchCount, &a.FullscreenExitCount, &a.AutoSubmitted, &a.FinalScore)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// InTx runs fn inside a transaction that commits when fn returns nil.
func (r *AttemptRepository) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// GetByExamAndStudent retrieves the attempt for a specific exam-student combination.
func (r *AttemptRepository) GetByExamAndStudent(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2`, examID, studentID))
}

// LockByExamAndStudent selects the attempt row FOR UPDATE inside tx.
func (r *AttemptRepository) LockByExamAndStudent(ctx context.Context, tx pgx.Tx, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts
		 WHERE exam_id = $1 AND student_id = $2
		 FOR UPDATE`, examID, studentID))
}

// LockByID selects the attempt row FOR UPDATE inside tx.
func (r *AttemptRepository) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.Attempt, error) {
	return scanAttempt(tx.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1 FOR UPDATE`, id))
}

// Create inserts a new attempt. It returns pgx.ErrNoRows when a concurrent
// start already created the row.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (exam_id, student_id, status, started_at, deadline_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (exam_id, student_id) DO NOTHING
		 RETURNING id`,
		a.ExamID, a.StudentID, a.Status, a.StartedAt, a.DeadlineAt,
	).Scan(&a.ID)
}

// Save writes the mutable state of a locked attempt row.
func (r *AttemptRepository) Save(ctx context.Context, tx pgx.Tx, a *model.Attempt) error {
	_, err := tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, deadline_at = $2, locked_at = $3, submitted_at = $4,
		     tab_switch_count = $5, fullscreen_exit_count = $6, auto_submitted = $7
		 WHERE id = $8`,
		a.Status, a.DeadlineAt, a.LockedAt, a.SubmittedAt,
		a.TabSwitchCount, a.FullscreenExitCount, a.AutoSubmitted, a.ID)
	return err
}

// ExpiredAttempt identifies an attempt closed by SubmitOverdue.
type ExpiredAttempt struct {
	ID          uuid.UUID
	ExamID      uuid.UUID
	StudentID   int
	SubmittedAt time.Time
}

// SubmitOverdue force-submits every in-progress attempt whose deadline passed
// more than grace ago. Locked attempts keep their frozen clock.
func (r *AttemptRepository) SubmitOverdue(ctx context.Context, graceSeconds int) ([]ExpiredAttempt, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE exam_attempts
		 SET status = $1, submitted_at = NOW(), auto_submitted = TRUE
		 WHERE status = $2 AND deadline_at < NOW() - $3::int * INTERVAL '1 second'
		 RETURNING id, exam_id, student_id, submitted_at`,
		model.AttemptStatusSubmitted, model.AttemptStatusInProgress, graceSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExpiredAttempt, error) {
		var e ExpiredAttempt
		err := row.Scan(&e.ID, &e.ExamID, &e.StudentID, &e.SubmittedAt)
		return e, err
	})
}

// SetScores stores final scores for many attempts in one statement.
func (r *AttemptRepository) SetScores(ctx context.Context, ids []uuid.UUID, scores []float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts AS a
		 SET final_score = t.score, scored_at = NOW()
		 FROM UNNEST($1::uuid[], $2::float8[]) AS t (id, score)
		 WHERE a.id = t.id AND a.status = $3`,
		ids, scores, model.AttemptStatusSubmitted)
	return err
}

// SetScore stores the final score of one attempt.
func (r *AttemptRepository) SetScore(ctx context.Context, id uuid.UUID, score float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts SET final_score = $1, scored_at = NOW()
		 WHERE id = $2 AND status = $3`,
		score, id, model.AttemptStatusSubmitted)
	return err
}
