package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft      ExamStatus = "DRAFT"
	ExamStatusPublished  ExamStatus = "PUBLISHED"
	ExamStatusInProgress ExamStatus = "IN_PROGRESS"
	ExamStatusCompleted  ExamStatus = "COMPLETED"
	ExamStatusArchived   ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity.
type Exam struct {
	ID              uuid.UUID       `json:"id"`
	Title           string          `json:"title"`
	ScheduledStart  *time.Time      `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time      `json:"scheduled_end,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
	Proctoring      ThresholdConfig `json:"proctoring"`
	Status          ExamStatus      `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WindowOpen reports whether now falls inside the exam's scheduled window.
// A missing bound is treated as open on that side.
func (e *Exam) WindowOpen(now time.Time) bool {
	if e.ScheduledStart != nil && now.Before(*e.ScheduledStart) {
		return false
	}
	if e.ScheduledEnd != nil && !now.Before(*e.ScheduledEnd) {
		return false
	}
	return true
}

// ExamTargetRule restricts an exam to one class. An exam without rules is
// open to every student.
type ExamTargetRule struct {
	ID      int       `json:"id"`
	ExamID  uuid.UUID `json:"exam_id"`
	ClassID int       `json:"class_id"`
}

// ExamDefinition is the payload sent to students (no hidden test cases).
type ExamDefinition struct {
	ExamID          uuid.UUID            `json:"exam_id"`
	Title           string               `json:"title"`
	DurationMinutes int                  `json:"duration_minutes"`
	Proctoring      ThresholdConfig      `json:"proctoring"`
	Questions       []QuestionForStudent `json:"questions"`
}

// Question returns the question with the given ID, or nil.
func (d *ExamDefinition) Question(id uuid.UUID) *QuestionForStudent {
	for i := range d.Questions {
		if d.Questions[i].ID == id {
			return &d.Questions[i]
		}
	}
	return nil
}

// QuestionForStudent is a question without grading data, sent to students.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	Kind         QuestionKind    `json:"kind"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	Languages    []string        `json:"languages,omitempty"`
	OrderNum     int             `json:"order_num"`
	TestCases    []TestCase      `json:"test_cases,omitempty"`
}
