package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionKind determines how an answer to the question is captured.
type QuestionKind string

const (
	QuestionKindSelectedOption QuestionKind = "SELECTED_OPTION"
	QuestionKindFreeText       QuestionKind = "FREE_TEXT"
	QuestionKindSourceCode     QuestionKind = "SOURCE_CODE"
)

// Valid reports whether k is a known question kind.
func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionKindSelectedOption, QuestionKindFreeText, QuestionKindSourceCode:
		return true
	}
	return false
}

// Question represents a single exam question.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	ExamID       uuid.UUID       `json:"exam_id"`
	Kind         QuestionKind    `json:"kind"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	Languages    []string        `json:"languages,omitempty"`
	OrderNum     int             `json:"order_num"`
	ScoreValue   float64         `json:"score_value"`

	// CorrectOption is the expected selection for SELECTED_OPTION questions.
	CorrectOption *string `json:"-"`
}

// ForStudent strips grading data and hidden test cases.
func (q *Question) ForStudent(cases []TestCase) QuestionForStudent {
	return QuestionForStudent{
		ID:           q.ID,
		Kind:         q.Kind,
		QuestionText: q.QuestionText,
		Options:      q.Options,
		Languages:    q.Languages,
		OrderNum:     q.OrderNum,
		TestCases:    VisibleTestCases(cases),
	}
}

// TestCase is one input/expected-output pair attached to a coding question.
// Hidden cases are used for grading only and never leave the server.
type TestCase struct {
	ID             uuid.UUID `json:"id"`
	QuestionID     uuid.UUID `json:"question_id"`
	Input          string    `json:"input"`
	ExpectedOutput string    `json:"expected_output"`
	IsHidden       bool      `json:"is_hidden"`
}

// VisibleTestCases filters out hidden cases.
func VisibleTestCases(cases []TestCase) []TestCase {
	visible := make([]TestCase, 0, len(cases))
	for _, tc := range cases {
		if !tc.IsHidden {
			visible = append(visible, tc)
		}
	}
	return visible
}
