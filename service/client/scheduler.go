package client

import (
	"fmt"
	"sync"
	"time"
)

// DefaultFrameDuration approximates a 60Hz display refresh.
const DefaultFrameDuration = 16 * time.Millisecond

type (
	// Timer is a cancelable deferred callback handle.
	Timer interface {
		Stop()
	}

	// Ticker is a cancelable periodic callback handle.
	Ticker interface {
		Stop()
	}

	// Scheduler is the timer/frame capability every component defers through,
	// so a session teardown can cancel all outstanding callbacks in one place
	// and tests can substitute a virtual clock.
	Scheduler interface {
		// Now returns the scheduler time.
		Now() time.Time
		// After runs fn once after d.
		After(d time.Duration, fn func()) Timer
		// Every runs fn on each d period until stopped.
		Every(d time.Duration, fn func()) Ticker
		// RequestFrame runs fn on the next frame boundary.
		RequestFrame(fn func()) Timer
	}
)

// clockScheduler implements Scheduler over the wall clock.
type clockScheduler struct {
	frameDur time.Duration
}

// NewClockScheduler creates a wall clock backed Scheduler.
func NewClockScheduler(frameDur time.Duration) (Scheduler, error) {
	if frameDur <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "frameDur")
	}

	return clockScheduler{frameDur: frameDur}, nil
}

// Now implements the Scheduler interface.
func (s clockScheduler) Now() time.Time {
	return time.Now()
}

// After implements the Scheduler interface.
func (s clockScheduler) After(d time.Duration, fn func()) Timer {
	return clockTimer{timer: time.AfterFunc(d, fn)}
}

// Every implements the Scheduler interface.
func (s clockScheduler) Every(d time.Duration, fn func()) Ticker {
	t := &clockTicker{
		ticker: time.NewTicker(d),
		stopCh: make(chan struct{}),
	}
	go t.worker(fn)

	return t
}

// RequestFrame implements the Scheduler interface.
func (s clockScheduler) RequestFrame(fn func()) Timer {
	return s.After(s.frameDur, fn)
}

// clockTimer wraps time.Timer into the Timer interface.
type clockTimer struct {
	timer *time.Timer
}

// Stop implements the Timer interface.
func (t clockTimer) Stop() {
	t.timer.Stop()
}

// clockTicker wraps time.Ticker into the Ticker interface.
type clockTicker struct {
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Stop implements the Ticker interface.
func (t *clockTicker) Stop() {
	t.stopOnce.Do(func() {
		t.ticker.Stop()
		close(t.stopCh)
	})
}

// worker does the actual job.
func (t *clockTicker) worker(fn func()) {
	for {
		select {
		case <-t.stopCh:
			return
		case <-t.ticker.C:
			fn()
		}
	}
}
