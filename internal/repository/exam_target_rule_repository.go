package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ExamTargetRuleRepository handles exam target rule data access.
type ExamTargetRuleRepository struct {
	pool *pgxpool.Pool
}

// NewExamTargetRuleRepository creates a new ExamTargetRuleRepository.
func NewExamTargetRuleRepository(pool *pgxpool.Pool) *ExamTargetRuleRepository {
	return &ExamTargetRuleRepository{pool: pool}
}

// ListByExam retrieves all target rules for a given exam.
func (r *ExamTargetRuleRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamTargetRule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, class_id FROM exam_target_rules WHERE exam_id = $1`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ExamTargetRule, error) {
		var rule model.ExamTargetRule
		err := row.Scan(&rule.ID, &rule.ExamID, &rule.ClassID)
		return rule, err
	})
}

// Create inserts a new target rule.
func (r *ExamTargetRuleRepository) Create(ctx context.Context, rule *model.ExamTargetRule) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_target_rules (exam_id, class_id) VALUES ($1, $2)
		 RETURNING id`,
		rule.ExamID, rule.ClassID,
	).Scan(&rule.ID)
}

// Targets reports whether the exam is open to the given class. An exam with
// no rules targets everyone.
func (r *ExamTargetRuleRepository) Targets(ctx context.Context, examID uuid.UUID, classID int) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT NOT EXISTS (SELECT 1 FROM exam_target_rules WHERE exam_id = $1)
		     OR EXISTS (SELECT 1 FROM exam_target_rules WHERE exam_id = $1 AND class_id = $2)`,
		examID, classID,
	).Scan(&ok)
	return ok, err
}
