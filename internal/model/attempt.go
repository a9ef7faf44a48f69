package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusLocked     AttemptStatus = "LOCKED"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// Attempt is one student's instance of taking one exam.
type Attempt struct {
	ID                  uuid.UUID     `json:"id"`
	ExamID              uuid.UUID     `json:"exam_id"`
	StudentID           int           `json:"student_id"`
	Status              AttemptStatus `json:"status"`
	StartedAt           time.Time     `json:"started_at"`
	DeadlineAt          time.Time     `json:"deadline_at"`
	LockedAt            *time.Time    `json:"locked_at,omitempty"`
	SubmittedAt         *time.Time    `json:"submitted_at,omitempty"`
	TabSwitchCount      int           `json:"tab_switch_count"`
	FullscreenExitCount int           `json:"fullscreen_exit_count"`
	AutoSubmitted       bool          `json:"auto_submitted"`
	FinalScore          *float64      `json:"final_score,omitempty"`
}

// RemainingSeconds returns the whole seconds left before the deadline.
// While locked the clock is frozen at the moment the lock was applied.
func (a *Attempt) RemainingSeconds(now time.Time) int {
	ref := now
	if a.Status == AttemptStatusLocked && a.LockedAt != nil {
		ref = *a.LockedAt
	}
	left := a.DeadlineAt.Sub(ref)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// AttemptState is the status snapshot a client polls while locked.
type AttemptState struct {
	ExamID              uuid.UUID      `json:"exam_id"`
	AttemptID           uuid.UUID      `json:"attempt_id"`
	Status              AttemptStatus  `json:"status"`
	RemainingSeconds    int            `json:"remaining_seconds"`
	TabSwitchCount      int            `json:"tab_switch_count"`
	FullscreenExitCount int            `json:"fullscreen_exit_count"`
	UnlockRequest       *UnlockRequest `json:"unlock_request,omitempty"`
}

// StartResult is returned when a student starts (or re-enters) an exam.
type StartResult struct {
	Exam             ExamDefinition `json:"exam"`
	Attempt          Attempt        `json:"attempt"`
	RemainingSeconds int            `json:"remaining_seconds"`
	Answers          []Answer       `json:"answers"`
	UnlockRequest    *UnlockRequest `json:"unlock_request,omitempty"`
}

// SubmitRequest is the payload for the final submission.
type SubmitRequest struct {
	Answers        []Answer `json:"answers" binding:"dive"`
	ViolationCount int      `json:"violation_count" binding:"min=0"`
	Automatic      bool     `json:"automatic"`
}

// SubmitResult is returned after a successful submission.
type SubmitResult struct {
	Status AttemptStatus `json:"status"`
	Score  *float64      `json:"score,omitempty"`
}
