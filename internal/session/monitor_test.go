package session

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func TestClassify(t *testing.T) {
	strict := model.ThresholdConfig{EnforceFullscreen: true}
	lenient := model.ThresholdConfig{TabSwitchingAllowed: true}

	tests := []struct {
		name string
		kind SignalKind
		cfg  model.ThresholdConfig
		want model.ViolationType
		ok   bool
	}{
		{"hidden is tab switch", SignalHidden, strict, model.ViolationTabSwitch, true},
		{"blur is tab switch", SignalBlur, strict, model.ViolationTabSwitch, true},
		{"fullscreen exit enforced", SignalFullscreenExit, strict, model.ViolationFullscreenExit, true},
		{"visible is ignored", SignalVisible, strict, "", false},
		{"focus is ignored", SignalFocus, strict, "", false},
		{"tab switching allowed", SignalHidden, lenient, "", false},
		{"fullscreen not enforced", SignalFullscreenExit, lenient, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(Signal{Kind: tt.kind}, tt.cfg)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Classify(%s) = %q, %v; want %q, %v", tt.kind, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestViolationMonitorKeepsOrder(t *testing.T) {
	env := newFakeEnv()
	var mu sync.Mutex
	var got []model.ViolationType
	m := NewViolationMonitor(env, model.ThresholdConfig{EnforceFullscreen: true}, func(ctx context.Context, v model.Violation) {
		mu.Lock()
		got = append(got, v.Type)
		mu.Unlock()
	}, zerolog.Nop())

	m.Start(context.Background())
	defer m.Stop()

	env.Emit(SignalHidden)
	env.Emit(SignalFullscreenExit)
	env.Emit(SignalFocus)
	env.Emit(SignalBlur)
	env.Emit(SignalHidden)

	want := []model.ViolationType{
		model.ViolationTabSwitch,
		model.ViolationFullscreenExit,
		model.ViolationTabSwitch,
		model.ViolationTabSwitch,
	}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, "violations were not all delivered")

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("violation %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestViolationMonitorStopUnsubscribes(t *testing.T) {
	env := newFakeEnv()
	calls := 0
	m := NewViolationMonitor(env, model.ThresholdConfig{}, func(context.Context, model.Violation) { calls++ }, zerolog.Nop())

	m.Start(context.Background())
	if env.subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", env.subscribers())
	}
	m.Stop()
	m.Stop()
	if env.subscribers() != 0 || m.Running() {
		t.Fatal("Stop must remove the listener")
	}
	env.Emit(SignalHidden)
	if calls != 0 {
		t.Fatal("stopped monitor delivered a violation")
	}

	m.Start(context.Background())
	defer m.Stop()
	if env.subscribers() != 1 {
		t.Fatal("monitor should resubscribe on restart")
	}
}
