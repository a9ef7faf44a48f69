// Package policy maps integrity violations to enforcement actions.
//
// The backend is the only place an action is decided. Clients use the same
// package to describe the server's decision and to check that a reported
// action is one the exam's configuration can produce.
package policy

import (
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Limit returns the configured allowance for a violation type and whether
// that type is monitored at all under cfg.
func Limit(t model.ViolationType, cfg model.ThresholdConfig) (int, bool) {
	switch t {
	case model.ViolationTabSwitch:
		return cfg.MaxTabSwitches, !cfg.TabSwitchingAllowed
	case model.ViolationFullscreenExit:
		return cfg.MaxFullscreenExits, cfg.EnforceFullscreen
	default:
		return 0, false
	}
}

// Evaluate returns the action for a violation whose cumulative count,
// including this occurrence, is newCount.
//
// Occurrences within the allowance produce a warning. Any occurrence past
// it produces cfg.ActionOnLimit, every time: repeated breaches never
// escalate beyond the configured action. A limit of zero means the first
// occurrence is already a breach.
func Evaluate(t model.ViolationType, newCount int, cfg model.ThresholdConfig) model.ViolationAction {
	limit, monitored := Limit(t, cfg)
	if !monitored || newCount <= 0 {
		return model.ActionNone
	}
	if newCount > limit {
		return OnLimit(cfg)
	}
	return model.ActionWarn
}

// OnLimit returns the configured breach action, defaulting to a warning.
func OnLimit(cfg model.ThresholdConfig) model.ViolationAction {
	switch cfg.ActionOnLimit {
	case model.ActionWarn, model.ActionAutoSubmit, model.ActionLock:
		return cfg.ActionOnLimit
	default:
		return model.ActionWarn
	}
}

// Plausible reports whether action is one Evaluate could have produced for
// type t under cfg, for any count.
func Plausible(t model.ViolationType, action model.ViolationAction, cfg model.ThresholdConfig) bool {
	if action == model.ActionNone {
		return true
	}
	if _, monitored := Limit(t, cfg); !monitored {
		return false
	}
	return action == model.ActionWarn || action == OnLimit(cfg)
}

// Remaining returns how many more occurrences of t are tolerated before
// the limit action applies. It never returns a negative number.
func Remaining(t model.ViolationType, count int, cfg model.ThresholdConfig) int {
	limit, _ := Limit(t, cfg)
	if left := limit - count; left > 0 {
		return left
	}
	return 0
}

// Describe renders the student-facing message for a server decision.
func Describe(t model.ViolationType, out model.ViolationOutcome, cfg model.ThresholdConfig) string {
	count := out.TabSwitchCount
	noun := "tab switch"
	if t == model.ViolationFullscreenExit {
		count = out.FullscreenExitCount
		noun = "fullscreen exit"
	}
	limit, _ := Limit(t, cfg)

	switch out.ActionTaken {
	case model.ActionWarn:
		if count > limit {
			return fmt.Sprintf("Warning: %s recorded (%d, limit %d). Further violations are logged for review.", noun, count, limit)
		}
		return fmt.Sprintf("Warning: %s recorded (%d of %d allowed).", noun, count, limit)
	case model.ActionAutoSubmit:
		return fmt.Sprintf("Limit of %d exceeded for %s. Your exam has been submitted automatically.", limit, noun)
	case model.ActionLock:
		return fmt.Sprintf("Limit of %d exceeded for %s. Your exam is locked until a reviewer unlocks it.", limit, noun)
	default:
		return ""
	}
}
