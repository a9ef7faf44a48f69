package model

import (
	"time"

	"github.com/google/uuid"
)

// UnlockStatus enumerates unlock request states.
type UnlockStatus string

const (
	UnlockStatusPending  UnlockStatus = "PENDING"
	UnlockStatusApproved UnlockStatus = "APPROVED"
	UnlockStatusRejected UnlockStatus = "REJECTED"
)

// UnlockRequest asks a reviewer to return a locked attempt to IN_PROGRESS.
type UnlockRequest struct {
	ID           uuid.UUID    `json:"id"`
	AttemptID    uuid.UUID    `json:"attempt_id"`
	Reason       string       `json:"reason"`
	Status       UnlockStatus `json:"status"`
	RequestedAt  time.Time    `json:"requested_at"`
	ResolvedAt   *time.Time   `json:"resolved_at,omitempty"`
	ReviewerID   *int         `json:"reviewer_id,omitempty"`
	ReviewerNote *string      `json:"reviewer_note,omitempty"`
}

// CreateUnlockRequest is the student's payload.
type CreateUnlockRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// ApproveUnlockRequest lets the reviewer adjust the violation counters.
type ApproveUnlockRequest struct {
	TabSwitchCount      *int   `json:"tab_switch_count" binding:"omitempty,min=0"`
	FullscreenExitCount *int   `json:"fullscreen_exit_count" binding:"omitempty,min=0"`
	Note                string `json:"note" binding:"max=500"`
}

// RejectUnlockRequest is the reviewer's rejection payload.
type RejectUnlockRequest struct {
	Note string `json:"note" binding:"max=500"`
}

// PendingUnlock is a reviewer-facing row.
type PendingUnlock struct {
	UnlockRequest
	ExamID              uuid.UUID `json:"exam_id"`
	StudentID           int       `json:"student_id"`
	StudentName         string    `json:"student_name"`
	TabSwitchCount      int       `json:"tab_switch_count"`
	FullscreenExitCount int       `json:"fullscreen_exit_count"`
}
