package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestClockExpiresExactlyOnce(t *testing.T) {
	var ticks []int
	expiries := 0
	c := NewClock(time.Hour, func(r int) { ticks = append(ticks, r) }, func() { expiries++ })
	c.Reset(3)

	for i := 0; i < 6; i++ {
		c.Tick()
	}

	if want := []int{2, 1, 0}; len(ticks) != len(want) || ticks[0] != 2 || ticks[2] != 0 {
		t.Fatalf("ticks = %v, want %v", ticks, want)
	}
	if expiries != 1 {
		t.Fatalf("expiries = %d, want 1", expiries)
	}

	c.Reset(10)
	c.Tick()
	if expiries != 1 {
		t.Fatalf("reset after expiry fired again: %d", expiries)
	}
	if !c.Expired() {
		t.Fatal("expiry should be sticky")
	}
}

func TestClockDecrementsByOne(t *testing.T) {
	c := NewClock(time.Hour, nil, nil)
	c.Reset(600)
	for want := 599; want >= 590; want-- {
		if got := c.Tick(); got != want {
			t.Fatalf("Tick() = %d, want %d", got, want)
		}
	}
}

func TestClockStartStop(t *testing.T) {
	var mu sync.Mutex
	ticked := 0
	c := NewClock(2*time.Millisecond, func(int) {
		mu.Lock()
		ticked++
		mu.Unlock()
	}, nil)
	c.Reset(100000)

	c.Start(context.Background())
	c.Start(context.Background())
	if !c.Running() {
		t.Fatal("clock should be running")
	}
	eventually(t, func() bool { return c.Remaining() < 100000 }, "clock never ticked")

	c.Stop()
	if c.Running() {
		t.Fatal("clock should be stopped")
	}
	time.Sleep(10 * time.Millisecond)
	frozen := c.Remaining()
	time.Sleep(20 * time.Millisecond)
	if got := c.Remaining(); got != frozen {
		t.Fatalf("stopped clock moved from %d to %d", frozen, got)
	}
}

func TestClockDoesNotStartWhenExpired(t *testing.T) {
	c := NewClock(time.Millisecond, nil, nil)
	c.Reset(1)
	c.Tick()
	c.Start(context.Background())
	if c.Running() {
		t.Fatal("expired clock must not restart")
	}
}
