package policy

import (
	"strings"
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestEvaluate(t *testing.T) {
	lockAtZero := model.ThresholdConfig{MaxTabSwitches: 0, ActionOnLimit: model.ActionLock}
	warnAtOne := model.ThresholdConfig{MaxTabSwitches: 1, ActionOnLimit: model.ActionWarn}
	fullscreen := model.ThresholdConfig{
		EnforceFullscreen:   true,
		TabSwitchingAllowed: true,
		MaxFullscreenExits:  2,
		ActionOnLimit:       model.ActionAutoSubmit,
	}

	tests := []struct {
		name  string
		typ   model.ViolationType
		count int
		cfg   model.ThresholdConfig
		want  model.ViolationAction
	}{
		{"zero limit locks on first", model.ViolationTabSwitch, 1, lockAtZero, model.ActionLock},
		{"within allowance warns", model.ViolationTabSwitch, 1, warnAtOne, model.ActionWarn},
		{"breach keeps configured warn", model.ViolationTabSwitch, 2, warnAtOne, model.ActionWarn},
		{"repeated breach never escalates", model.ViolationTabSwitch, 9, warnAtOne, model.ActionWarn},
		{"tab switching allowed", model.ViolationTabSwitch, 5, fullscreen, model.ActionNone},
		{"fullscreen within allowance", model.ViolationFullscreenExit, 2, fullscreen, model.ActionWarn},
		{"fullscreen breach", model.ViolationFullscreenExit, 3, fullscreen, model.ActionAutoSubmit},
		{"fullscreen not enforced", model.ViolationFullscreenExit, 1, warnAtOne, model.ActionNone},
		{"missing action defaults to warn", model.ViolationTabSwitch, 1, model.ThresholdConfig{}, model.ActionWarn},
		{"zero count", model.ViolationTabSwitch, 0, lockAtZero, model.ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.typ, tt.count, tt.cfg); got != tt.want {
				t.Errorf("Evaluate(%s, %d) = %s, want %s", tt.typ, tt.count, got, tt.want)
			}
		})
	}
}

func TestPlausible(t *testing.T) {
	cfg := model.ThresholdConfig{MaxTabSwitches: 3, ActionOnLimit: model.ActionLock}

	if !Plausible(model.ViolationTabSwitch, model.ActionLock, cfg) {
		t.Error("lock should be plausible for a monitored type")
	}
	if Plausible(model.ViolationTabSwitch, model.ActionAutoSubmit, cfg) {
		t.Error("auto-submit is not configured, should not be plausible")
	}
	if Plausible(model.ViolationFullscreenExit, model.ActionWarn, cfg) {
		t.Error("fullscreen is not enforced, warn should not be plausible")
	}
}

func TestRemainingAndDescribe(t *testing.T) {
	cfg := model.ThresholdConfig{MaxTabSwitches: 2, ActionOnLimit: model.ActionLock}

	if got := Remaining(model.ViolationTabSwitch, 1, cfg); got != 1 {
		t.Errorf("Remaining = %d, want 1", got)
	}
	if got := Remaining(model.ViolationTabSwitch, 5, cfg); got != 0 {
		t.Errorf("Remaining = %d, want 0", got)
	}

	msg := Describe(model.ViolationTabSwitch, model.ViolationOutcome{
		ActionTaken:    model.ActionLock,
		TabSwitchCount: 3,
	}, cfg)
	if !strings.Contains(msg, "locked") {
		t.Errorf("unexpected lock message %q", msg)
	}
	if Describe(model.ViolationTabSwitch, model.ViolationOutcome{ActionTaken: model.ActionNone}, cfg) != "" {
		t.Error("none should have no message")
	}
}
