package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ErrDuplicatePendingUnlock is returned when the one-pending-request index rejects an insert.
var ErrDuplicatePendingUnlock = errors.New("attempt already has a pending unlock request")

// UnlockRepository handles unlock request data access.
type UnlockRepository struct {
	pool *pgxpool.Pool
}

// NewUnlockRepository creates a new UnlockRepository.
func NewUnlockRepository(pool *pgxpool.Pool) *UnlockRepository {
	return &UnlockRepository{pool: pool}
}

const unlockColumns = `id, attempt_id, reason, status, requested_at, resolved_at, reviewer_id, reviewer_note`

func scanUnlock(row pgx.Row) (*model.UnlockRequest, error) {
	u := &model.UnlockRequest{}
	err := row.Scan(&u.ID, &u.AttemptID, &u.Reason, &u.Status, &u.RequestedAt,
		&u.ResolvedAt, &u.ReviewerID, &u.ReviewerNote)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts a PENDING request.
func (r *UnlockRepository) Create(ctx context.Context, q Querier, u *model.UnlockRequest) error {
	err := q.QueryRow(ctx,
		`INSERT INTO unlock_requests (attempt_id, reason, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, requested_at`,
		u.AttemptID, u.Reason, model.UnlockStatusPending,
	).Scan(&u.ID, &u.RequestedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicatePendingUnlock
	}
	if err == nil {
		u.Status = model.UnlockStatusPending
	}
	return err
}

// Latest returns the most recent request of an attempt, or pgx.ErrNoRows.
func (r *UnlockRepository) Latest(ctx context.Context, q Querier, attemptID uuid.UUID) (*model.UnlockRequest, error) {
	return scanUnlock(q.QueryRow(ctx,
		`SELECT `+unlockColumns+` FROM unlock_requests
		 WHERE attempt_id = $1
		 ORDER BY requested_at DESC
		 LIMIT 1`, attemptID))
}

// LatestFor is Latest outside any transaction.
func (r *UnlockRepository) LatestFor(ctx context.Context, attemptID uuid.UUID) (*model.UnlockRequest, error) {
	return r.Latest(ctx, r.pool, attemptID)
}

// LockByID selects a request FOR UPDATE inside tx.
func (r *UnlockRepository) LockByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*model.UnlockRequest, error) {
	return scanUnlock(tx.QueryRow(ctx,
		`SELECT `+unlockColumns+` FROM unlock_requests WHERE id = $1 FOR UPDATE`, id))
}

// Resolve stores the reviewer's decision.
func (r *UnlockRepository) Resolve(ctx context.Context, tx pgx.Tx, u *model.UnlockRequest) error {
	_, err := tx.Exec(ctx,
		`UPDATE unlock_requests
		 SET status = $1, resolved_at = $2, reviewer_id = $3, reviewer_note = $4
		 WHERE id = $5`,
		u.Status, u.ResolvedAt, u.ReviewerID, u.ReviewerNote, u.ID)
	return err
}

// ListByExam returns reviewer-facing rows for an exam, newest first.
// An empty status lists every request.
func (r *UnlockRepository) ListByExam(ctx context.Context, examID uuid.UUID, status model.UnlockStatus) ([]model.PendingUnlock, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.attempt_id, u.reason, u.status, u.requested_at, u.resolved_at,
		        u.reviewer_id, u.reviewer_note,
		        a.exam_id, a.student_id, s.name, a.tab_switch_count, a.fullscreen_exit_count
		 FROM unlock_requests u
		 JOIN exam_attempts a ON a.id = u.attempt_id
		 JOIN students s ON s.id = a.student_id
		 WHERE a.exam_id = $1 AND ($2::text = '' OR u.status = $2::text)
		 ORDER BY u.requested_at DESC`,
		examID, string(status),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []model.PendingUnlock
	for rows.Next() {
		var p model.PendingUnlock
		if err := rows.Scan(&p.ID, &p.AttemptID, &p.Reason, &p.Status, &p.RequestedAt, &p.ResolvedAt,
			&p.ReviewerID, &p.ReviewerNote,
			&p.ExamID, &p.StudentID, &p.StudentName, &p.TabSwitchCount, &p.FullscreenExitCount); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}
