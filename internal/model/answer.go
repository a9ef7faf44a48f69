package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the student's latest value for one question.
type Answer struct {
	QuestionID  uuid.UUID    `json:"question_id" binding:"required"`
	Kind        QuestionKind `json:"kind" binding:"omitempty,enum"`
	Value       string       `json:"value" binding:"max=65536"`
	LanguageTag string       `json:"language_tag,omitempty" binding:"max=32"`
	LastSavedAt *time.Time   `json:"last_saved_at,omitempty"`
}

// AnswerJob is queued for the autosave worker.
type AnswerJob struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Answer    Answer    `json:"answer"`
}

// ScoreJob is queued for the scoring worker once an attempt is submitted.
type ScoreJob struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	ExamID    uuid.UUID `json:"exam_id"`
	// SubmittedAt bounds which answers count. Values saved later are ignored.
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	// Retries counts failed scoring rounds; the job is dropped past a limit.
	Retries int `json:"retries,omitempty"`
}

// SavedAfter reports whether a was saved after t. An unsaved value counts
// as later than any submission.
func (a Answer) SavedAfter(t time.Time) bool {
	return a.LastSavedAt == nil || a.LastSavedAt.After(t)
}

// Newer reports whether a was saved after b. An unsaved value is never newer.
func (a Answer) Newer(b Answer) bool {
	if a.LastSavedAt == nil {
		return false
	}
	return b.LastSavedAt == nil || a.LastSavedAt.After(*b.LastSavedAt)
}
