// Package ratelimit tracks removal throughput: a trailing-hour completion
// count, the overall hourly rate since the run started, and a completion
// estimate derived from both.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Window is the trailing period used for the recent rate.
const Window = time.Hour

// Rate is a throughput reading.
type Rate struct {
	// Recent is the number of completions within the trailing Window.
	Recent int `json:"recent"`
	// Overall is completions per hour since Start, rounded to one decimal.
	Overall float64 `json:"overall"`
}

// RemovalTracker records completion timestamps. History older than Window
// is pruned lazily by CurrentRate.
type RemovalTracker struct {
	mu      sync.Mutex
	start   time.Time
	total   int
	history []time.Time
}

// NewRemovalTracker creates a tracker whose overall rate is measured from start.
func NewRemovalTracker(start time.Time) *RemovalTracker {
	return &RemovalTracker{start: start}
}

// RecordCompletion records one successful removal at ts.
func (t *RemovalTracker) RecordCompletion(ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.history = append(t.history, ts)
}

// CurrentRate returns the rate as of now and discards history entries that
// have aged out of the window.
func (t *RemovalTracker) CurrentRate(now time.Time) Rate {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.history[:0]
	for _, ts := range t.history {
		if now.Sub(ts) < Window {
			kept = append(kept, ts)
		}
	}
	// Zero the tail so pruned entries don't pin the backing array.
	for i := len(kept); i < len(t.history); i++ {
		t.history[i] = time.Time{}
	}
	t.history = kept

	recent := len(kept)
	elapsed := now.Sub(t.start)
	if elapsed <= 0 {
		return Rate{Recent: recent, Overall: float64(recent)}
	}

	hours := float64(elapsed) / float64(time.Hour)
	return Rate{
		Recent:  recent,
		Overall: math.Round(float64(t.total)/hours*10) / 10,
	}
}

// EstimateCompletion projects when pending removals will finish, assuming
// the average time per completion so far holds. It returns now when there
// is nothing left or nothing to extrapolate from.
func (t *RemovalTracker) EstimateCompletion(now time.Time, pending int) time.Time {
	t.mu.Lock()
	total := t.total
	start := t.start
	t.mu.Unlock()

	if pending <= 0 || total == 0 {
		return now
	}
	elapsed := now.Sub(start).Seconds()
	if elapsed <= 0 {
		return now
	}
	remaining := math.Floor(elapsed / float64(total) * float64(pending))
	return now.Add(time.Duration(remaining) * time.Second)
}

// Total returns the number of completions recorded.
func (t *RemovalTracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// Start returns the time the overall rate is measured from.
func (t *RemovalTracker) Start() time.Time {
	return t.start
}

// HistoryLen returns the number of retained timestamps.
func (t *RemovalTracker) HistoryLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

