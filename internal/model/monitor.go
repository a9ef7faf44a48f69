package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorEventKind names an entry in the reviewer's live feed.
type MonitorEventKind string

const (
	MonitorStarted         MonitorEventKind = "attempt_started"
	MonitorViolation       MonitorEventKind = "violation"
	MonitorLocked          MonitorEventKind = "attempt_locked"
	MonitorUnlockRequested MonitorEventKind = "unlock_requested"
	MonitorUnlockResolved  MonitorEventKind = "unlock_resolved"
	MonitorSubmitted       MonitorEventKind = "attempt_submitted"
)

// MonitorEvent is published on the exam monitor channel.
type MonitorEvent struct {
	Kind          MonitorEventKind `json:"kind"`
	AttemptID     uuid.UUID        `json:"attempt_id"`
	StudentID     int              `json:"student_id"`
	Status        AttemptStatus    `json:"status"`
	Violation     *ViolationRecord `json:"violation,omitempty"`
	UnlockRequest *UnlockRequest   `json:"unlock_request,omitempty"`
	At            time.Time        `json:"at"`
}
