package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var violationColumns = []string{
	"attempt_id", "exam_id", "student_id", "type", "detail", "action_taken", "occurred_at",
}

// ViolationRepository stores the immutable violation log.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// InsertBatch copies many records in one round trip.
func (r *ViolationRepository) InsertBatch(ctx context.Context, batch []model.ViolationRecord) (int64, error) {
	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"exam_violations"},
		violationColumns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			v := batch[i]
			return []any{v.AttemptID, v.ExamID, v.StudentID, string(v.Type), v.Detail, string(v.ActionTaken), v.OccurredAt}, nil
		}),
	)
}

// Insert stores one record.
func (r *ViolationRepository) Insert(ctx context.Context, v model.ViolationRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_violations (attempt_id, exam_id, student_id, type, detail, action_taken, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.AttemptID, v.ExamID, v.StudentID, v.Type, v.Detail, v.ActionTaken, v.OccurredAt)
	return err
}
