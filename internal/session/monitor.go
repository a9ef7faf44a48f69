package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Classify maps a raw environment signal to a violation type under cfg.
func Classify(sig Signal, cfg model.ThresholdConfig) (model.ViolationType, bool) {
	switch sig.Kind {
	case SignalHidden, SignalBlur:
		if !cfg.TabSwitchingAllowed {
			return model.ViolationTabSwitch, true
		}
	case SignalFullscreenExit:
		if cfg.EnforceFullscreen {
			return model.ViolationFullscreenExit, true
		}
	}
	return "", false
}

// ViolationHandler receives classified violations one at a time.
type ViolationHandler func(ctx context.Context, v model.Violation)

// ViolationMonitor subscribes to the environment and delivers classified
// violations to its handler strictly in the order they were raised. Two
// events are never merged, even when they arrive together.
type ViolationMonitor struct {
	env    Environment
	cfg    model.ThresholdConfig
	handle ViolationHandler
	now    func() time.Time
	log    zerolog.Logger

	mu          sync.Mutex
	queue       []model.Violation
	wake        chan struct{}
	gen         uint64
	unsubscribe func()
	cancel      context.CancelFunc
}

// NewViolationMonitor creates a stopped monitor.
func NewViolationMonitor(env Environment, cfg model.ThresholdConfig, handle ViolationHandler, log zerolog.Logger) *ViolationMonitor {
	return &ViolationMonitor{
		env:    env,
		cfg:    cfg,
		handle: handle,
		now:    time.Now,
		log:    log.With().Str("component", "violation_monitor").Logger(),
	}
}

// Start subscribes to the environment. Starting a running monitor is a no-op.
func (m *ViolationMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	wake := make(chan struct{}, 1)
	m.cancel = cancel
	m.wake = wake
	m.queue = nil
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.run(ctx, gen, wake)

	unsubscribe := m.env.Subscribe(m.onSignal)

	m.mu.Lock()
	if m.cancel == nil {
		// Stopped while subscribing.
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	m.log.Debug().Msg("Monitor started")
}

// Stop removes the environment listener and drops queued events. It is safe
// to call from inside the handler.
func (m *ViolationMonitor) Stop() {
	m.mu.Lock()
	cancel, unsubscribe := m.cancel, m.unsubscribe
	m.cancel, m.unsubscribe = nil, nil
	m.queue = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
		m.log.Debug().Msg("Monitor stopped")
	}
}

// Running reports whether the monitor is subscribed.
func (m *ViolationMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *ViolationMonitor) onSignal(sig Signal) {
	vt, ok := Classify(sig, m.cfg)
	if !ok {
		return
	}
	at := sig.At
	if at.IsZero() {
		at = m.now()
	}
	detail := sig.Detail
	if detail == "" {
		detail = string(sig.Kind)
	}

	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, model.Violation{Type: vt, Detail: detail, Timestamp: at})
	wake := m.wake
	m.mu.Unlock()

	select {
	case wake <- struct{}{}:
	default:
	}
}

func (m *ViolationMonitor) next(gen uint64) (model.Violation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || len(m.queue) == 0 {
		return model.Violation{}, false
	}
	v := m.queue[0]
	m.queue = m.queue[1:]
	return v, true
}

func (m *ViolationMonitor) run(ctx context.Context, gen uint64, wake <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		}
		for ctx.Err() == nil {
			v, ok := m.next(gen)
			if !ok {
				break
			}
			m.handle(ctx, v)
		}
	}
}
