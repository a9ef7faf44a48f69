package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

const examColumns = `id, title, scheduled_start, scheduled_end, duration_minutes,
	enforce_fullscreen, tab_switching_allowed, max_tab_switches, max_fullscreen_exits,
	action_on_limit, status, created_at, updated_at`

func scanExam(row interface{ Scan(...any) error }) (*model.Exam, error) {
	e := &model.Exam{}
	p := &e.Proctoring
	err := row.Scan(&e.ID, &e.Title, &e.ScheduledStart, &e.ScheduledEnd, &e.DurationMinutes,
		&p.EnforceFullscreen, &p.TabSwitchingAllowed, &p.MaxTabSwitches, &p.MaxFullscreenExits,
		&p.ActionOnLimit, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return scanExam(r.pool.QueryRow(ctx,
		`SELECT `+examColumns+` FROM exams WHERE id = $1`, id))
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	p := e.Proctoring
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (title, scheduled_start, scheduled_end, duration_minutes,
		                    enforce_fullscreen, tab_switching_allowed, max_tab_switches,
		                    max_fullscreen_exits, action_on_limit, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id, created_at, updated_at`,
		e.Title, e.ScheduledStart, e.ScheduledEnd, e.DurationMinutes,
		p.EnforceFullscreen, p.TabSwitchingAllowed, p.MaxTabSwitches,
		p.MaxFullscreenExits, p.ActionOnLimit, e.Status,
	).Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// UpdateStatus updates an exam's status.
func (r *ExamRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ExamStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exams SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// ListPublished returns all exams students may currently open.
// Used for cache prewarming on application startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+examColumns+` FROM exams WHERE status IN ($1, $2)
		 ORDER BY scheduled_start NULLS FIRST`,
		model.ExamStatusPublished, model.ExamStatusInProgress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, err
		}
		exams = append(exams, *e)
	}
	return exams, rows.Err()
}
