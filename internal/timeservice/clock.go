// Package timeservice provides a monotonic clock and a per-bout round timer
// (spec §4.8). The Round Manager and Validator do not read them: event
// timestamps used in hashing and validation are the timestamp_ms each
// inbound payload carries.
package timeservice

import (
	"sync"
	"time"
)

// Clock exposes a monotonic now_ms(). The default implementation wraps
// time.Now(); tests substitute a fixed/stepped clock.
type Clock interface {
	NowMs() int64
}

// SystemClock is the production Clock, grounded on the epoch used
// throughout the teacher's timestamp handling (time.Now() at the point of
// action, never a library wrapper — no clock abstraction appears anywhere
// in the retrieval pack, so this stays stdlib).
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock whose now_ms() is milliseconds since the
// clock was constructed (bout-relative, matching the spec's "milliseconds
// from bout-clock zero" timestamp convention).
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() int64 {
	return time.Since(c.start).Milliseconds()
}

// TimerState is the round timer's observable state.
type TimerState struct {
	Running   bool  `json:"running"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// RoundTimer is a per-bout start/pause/reset timer (spec §4.8).
type RoundTimer struct {
	mu sync.Mutex

	clock     Clock
	running   bool
	elapsedMs int64
	startedAt int64 // clock.NowMs() at last Start call, valid only while running
}

// NewRoundTimer creates a stopped timer at zero elapsed.
func NewRoundTimer(clock Clock) *RoundTimer {
	return &RoundTimer{clock: clock}
}

// Start resumes the timer from its current paused elapsed value. A Start on
// an already-running timer is a no-op.
func (t *RoundTimer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.startedAt = t.clock.NowMs()
}

// Pause freezes the timer, folding the elapsed run into the stored total.
func (t *RoundTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.elapsedMs += t.clock.NowMs() - t.startedAt
	t.running = false
}

// Reset sets elapsed to 0 and stops the timer.
func (t *RoundTimer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	t.elapsedMs = 0
	t.startedAt = 0
}

// State returns the timer's current running/elapsed snapshot.
func (t *RoundTimer) State() TimerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := t.elapsedMs
	if t.running {
		elapsed += t.clock.NowMs() - t.startedAt
	}
	return TimerState{Running: t.running, ElapsedMs: elapsed}
}
