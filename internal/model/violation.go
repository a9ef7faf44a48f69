package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType classifies an integrity violation.
type ViolationType string

const (
	ViolationTabSwitch      ViolationType = "TAB_SWITCH"
	ViolationFullscreenExit ViolationType = "FULLSCREEN_EXIT"
)

func (t ViolationType) Valid() bool {
	return t == ViolationTabSwitch || t == ViolationFullscreenExit
}

// ViolationAction is the enforcement decided for a violation.
type ViolationAction string

const (
	ActionNone       ViolationAction = "NONE"
	ActionWarn       ViolationAction = "WARN"
	ActionAutoSubmit ViolationAction = "AUTO_SUBMIT"
	ActionLock       ViolationAction = "LOCK"
)

// Violation is an immutable record of one integrity event.
type Violation struct {
	Type      ViolationType `json:"type"`
	Detail    string        `json:"detail"`
	Timestamp time.Time     `json:"timestamp"`
}

// ViolationReport is what the client sends for each classified event.
type ViolationReport struct {
	Type   ViolationType `json:"type" binding:"required,enum"`
	Detail string        `json:"detail" binding:"max=500"`
}

// ViolationOutcome is the server's authoritative answer to a report.
type ViolationOutcome struct {
	ActionTaken         ViolationAction `json:"action_taken"`
	TabSwitchCount      int             `json:"tab_switch_count"`
	FullscreenExitCount int             `json:"fullscreen_exit_count"`
	Status              AttemptStatus   `json:"status"`
}

// ThresholdConfig is the per-exam proctoring configuration.
type ThresholdConfig struct {
	EnforceFullscreen   bool            `json:"enforce_fullscreen"`
	TabSwitchingAllowed bool            `json:"tab_switching_allowed"`
	MaxTabSwitches      int             `json:"max_tab_switches"`
	MaxFullscreenExits  int             `json:"max_fullscreen_exits"`
	ActionOnLimit       ViolationAction `json:"action_on_limit"`
}

// ProctoringEnabled reports whether any violation type is monitored.
func (c ThresholdConfig) ProctoringEnabled() bool {
	return c.EnforceFullscreen || !c.TabSwitchingAllowed
}

// ViolationRecord is one persisted violation row. It is also the payload of
// the violation persistence queue and the monitor feed.
type ViolationRecord struct {
	AttemptID   uuid.UUID       `json:"attempt_id"`
	ExamID      uuid.UUID       `json:"exam_id"`
	StudentID   int             `json:"student_id"`
	Type        ViolationType   `json:"type"`
	Detail      string          `json:"detail"`
	ActionTaken ViolationAction `json:"action_taken"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
