package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptProgress is one row of the reviewer's live board.
type AttemptProgress struct {
	AttemptID           uuid.UUID           `json:"attempt_id"`
	StudentID           int                 `json:"student_id"`
	StudentName         string              `json:"student_name"`
	Status              model.AttemptStatus `json:"status"`
	TabSwitchCount      int                 `json:"tab_switch_count"`
	FullscreenExitCount int                 `json:"fullscreen_exit_count"`
	AnsweredCount       int64               `json:"answered_count"`
	ViolationCount      int64               `json:"violation_count"`
}

// MonitorRepository provides data access for the live exam monitoring feature.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListAttempts returns every attempt of the exam with its answered count.
func (r *MonitorRepository) ListAttempts(ctx context.Context, examID uuid.UUID) ([]AttemptProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, s.name, a.status, a.tab_switch_count, a.fullscreen_exit_count,
		        (SELECT COUNT(*) FROM attempt_answers aa WHERE aa.attempt_id = a.id)
		 FROM exam_attempts a
		 JOIN students s ON s.id = a.student_id
		 WHERE a.exam_id = $1
		 ORDER BY s.name`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AttemptProgress, error) {
		var p AttemptProgress
		err := row.Scan(&p.AttemptID, &p.StudentID, &p.StudentName, &p.Status,
			&p.TabSwitchCount, &p.FullscreenExitCount, &p.AnsweredCount)
		return p, err
	})
}

// GetViolationCounts returns the number of persisted violation rows per student.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[int]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id, COUNT(*)
		 FROM exam_violations
		 WHERE exam_id = $1
		 GROUP BY student_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int64)
	for rows.Next() {
		var sid int
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}

// RecentViolations returns the newest violation rows of an exam.
func (r *MonitorRepository) RecentViolations(ctx context.Context, examID uuid.UUID, limit int) ([]model.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, student_id, type, detail, action_taken, occurred_at
		 FROM exam_violations
		 WHERE exam_id = $1
		 ORDER BY occurred_at DESC
		 LIMIT $2`,
		examID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ViolationRecord, error) {
		var v model.ViolationRecord
		v.ExamID = examID
		err := row.Scan(&v.AttemptID, &v.StudentID, &v.Type, &v.Detail, &v.ActionTaken, &v.OccurredAt)
		return v, err
	})
}
