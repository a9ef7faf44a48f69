package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository handles questions and their test cases.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, kind, question_text, options, languages, correct_option, order_num, score_value
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Kind, &q.QuestionText, &q.Options, &q.Languages,
			&q.CorrectOption, &q.OrderNum, &q.ScoreValue); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// ListTestCasesByExam returns every test case of the exam's coding questions,
// hidden ones included, keyed by question ID.
func (r *QuestionRepository) ListTestCasesByExam(ctx context.Context, examID uuid.UUID) (map[uuid.UUID][]model.TestCase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT tc.id, tc.question_id, tc.input, tc.expected_output, tc.is_hidden
		 FROM test_cases tc
		 JOIN questions q ON q.id = tc.question_id
		 WHERE q.exam_id = $1
		 ORDER BY tc.question_id, tc.order_num`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cases := make(map[uuid.UUID][]model.TestCase)
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.QuestionID, &tc.Input, &tc.ExpectedOutput, &tc.IsHidden); err != nil {
			return nil, err
		}
		cases[tc.QuestionID] = append(cases[tc.QuestionID], tc)
	}
	return cases, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.Question) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, kind, question_text, options, languages, correct_option, order_num, score_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		q.ExamID, q.Kind, q.QuestionText, q.Options, q.Languages, q.CorrectOption, q.OrderNum, q.ScoreValue,
	).Scan(&q.ID)
}

// CreateTestCase attaches a test case to a coding question.
func (r *QuestionRepository) CreateTestCase(ctx context.Context, tc *model.TestCase, orderNum int) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO test_cases (question_id, input, expected_output, is_hidden, order_num)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		tc.QuestionID, tc.Input, tc.ExpectedOutput, tc.IsHidden, orderNum,
	).Scan(&tc.ID)
}
