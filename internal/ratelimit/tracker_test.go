package ratelimit

import (
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewRemovalTracker(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	if tracker == nil {
		t.Fatal("NewRemovalTracker returned nil")
	}
	if !tracker.Start().Equal(t0) {
		t.Errorf("Start() = %v, want %v", tracker.Start(), t0)
	}
	if tracker.Total() != 0 {
		t.Errorf("Total() = %d, want 0", tracker.Total())
	}
}

func TestCurrentRate_TrailingHour(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	tracker.RecordCompletion(t0)
	tracker.RecordCompletion(t0.Add(30 * time.Minute))
	tracker.RecordCompletion(t0.Add(90 * time.Minute))

	rate := tracker.CurrentRate(t0.Add(95 * time.Minute))

	// Only t0+90m is less than an hour old at t0+95m.
	if rate.Recent != 1 {
		t.Errorf("Recent = %d, want 1", rate.Recent)
	}
	if rate.Overall != 1.9 {
		t.Errorf("Overall = %v, want 1.9", rate.Overall)
	}
	if tracker.HistoryLen() != 1 {
		t.Errorf("HistoryLen() = %d, want 1 after pruning", tracker.HistoryLen())
	}
	if tracker.Total() != 3 {
		t.Errorf("Total() = %d, want 3; pruning must not affect the total", tracker.Total())
	}
}

func TestCurrentRate_TwoWithinWindow(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	tracker.RecordCompletion(t0)
	tracker.RecordCompletion(t0.Add(40 * time.Minute))
	tracker.RecordCompletion(t0.Add(90 * time.Minute))

	rate := tracker.CurrentRate(t0.Add(95 * time.Minute))
	if rate.Recent != 2 {
		t.Errorf("Recent = %d, want 2", rate.Recent)
	}
}

func TestCurrentRate_BoundaryIsExclusive(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	tracker.RecordCompletion(t0)

	if got := tracker.CurrentRate(t0.Add(Window - time.Nanosecond)).Recent; got != 1 {
		t.Errorf("Recent just inside window = %d, want 1", got)
	}
	if got := tracker.CurrentRate(t0.Add(Window)).Recent; got != 0 {
		t.Errorf("Recent at exactly one hour = %d, want 0", got)
	}
}

func TestCurrentRate_ZeroElapsed(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	tracker.RecordCompletion(t0)

	rate := tracker.CurrentRate(t0)
	if rate.Recent != 1 {
		t.Errorf("Recent = %d, want 1", rate.Recent)
	}
	if rate.Overall != 1 {
		t.Errorf("Overall = %v, want recent count when no time has elapsed", rate.Overall)
	}
}

func TestCurrentRate_Empty(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	rate := tracker.CurrentRate(t0.Add(time.Hour))
	if rate.Recent != 0 || rate.Overall != 0 {
		t.Errorf("rate = %+v, want zero", rate)
	}
}

func TestEstimateCompletion(t *testing.T) {
	tests := []struct {
		name    string
		done    int
		elapsed time.Duration
		pending int
		want    time.Duration
	}{
		{"nothing pending", 5, time.Minute, 0, 0},
		{"nothing done", 0, time.Minute, 5, 0},
		{"linear", 2, 10 * time.Second, 4, 20 * time.Second},
		{"floors fractional seconds", 3, 10 * time.Second, 1, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewRemovalTracker(t0)
			for i := 0; i < tt.done; i++ {
				tracker.RecordCompletion(t0)
			}
			now := t0.Add(tt.elapsed)
			got := tracker.EstimateCompletion(now, tt.pending)
			if want := now.Add(tt.want); !got.Equal(want) {
				t.Errorf("EstimateCompletion() = %v, want %v", got, want)
			}
		})
	}
}

func TestConcurrentRecord(t *testing.T) {
	tracker := NewRemovalTracker(t0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordCompletion(t0.Add(time.Minute))
			tracker.CurrentRate(t0.Add(2 * time.Minute))
		}()
	}
	wg.Wait()

	if tracker.Total() != 50 {
		t.Errorf("Total() = %d, want 50", tracker.Total())
	}
}

