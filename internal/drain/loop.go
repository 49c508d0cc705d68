// Package drain removes a queue of identifiers one request at a time against
// a throttled endpoint. Successes advance the queue, throttling puts the
// loop into a timed cooldown, and any other failure requeues the identifier
// and retries after the normal delay.
package drain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Dicklesworthstone/licrm/internal/clock"
	"github.com/Dicklesworthstone/licrm/internal/events"
	"github.com/Dicklesworthstone/licrm/internal/queue"
	"github.com/Dicklesworthstone/licrm/internal/ratelimit"
	"github.com/Dicklesworthstone/licrm/internal/scheduler"
)

// Response is the parsed payload of a removal request.
type Response struct {
	// Success is the endpoint's status field.
	Success int `json:"success"`
}

// Credential is the session token the transport authenticates with. The
// loop passes it through untouched.
type Credential string

// Transport issues a single removal request.
type Transport interface {
	SubmitRemoval(ctx context.Context, id string, cred Credential) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, id string, cred Credential) (Response, error)

func (f TransportFunc) SubmitRemoval(ctx context.Context, id string, cred Credential) (Response, error) {
	return f(ctx, id, cred)
}

// State is the loop's position in the removal state machine.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateCooldown
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateCooldown:
		return "cooldown"
	case StateDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// Policy holds the response codes and timing the loop follows.
type Policy struct {
	SuccessCodes []int
	ThrottleCode int
	Cooldown     time.Duration
	TickInterval time.Duration
	Retry        scheduler.RetryConfig
}

// DefaultPolicy returns the codes and timings of the Steam removelicense endpoint.
func DefaultPolicy() Policy {
	return Policy{
		SuccessCodes: []int{1, 8},
		ThrottleCode: 84,
		Cooldown:     10 * time.Minute,
		TickInterval: scheduler.DefaultTickInterval,
		Retry:        scheduler.DefaultRetryConfig(),
	}
}

// Options configures a Loop.
type Options struct {
	Transport  Transport
	Credential Credential
	Policy     Policy
	// Clock defaults to the real clock.
	Clock clock.Clock
	// Sink receives progress events. It must not block.
	Sink events.Sink
}

// Snapshot is a read-only view of progress.
type Snapshot struct {
	State       State
	Removed     int
	Total       int
	Pending     int
	Abandoned   int
	RecentRate  int
	OverallRate float64
	ETA         time.Time
	Cooldown    time.Duration
}

// Summary describes a finished (or interrupted) run.
type Summary struct {
	State      State
	Removed    int
	Total      int
	Pending    []string
	Abandoned  []string
	Dispatches int
	Throttles  int
	Retries    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ErrAlreadyStarted is returned by Start when the loop is already running.
var ErrAlreadyStarted = errors.New("drain loop already started")

// Loop is the single-flight removal state machine. All queue and state
// mutation happens under mu; the transport call runs unlocked while the
// state is StateDispatching, which keeps every other dispatch out.
type Loop struct {
	mu sync.Mutex

	transport  Transport
	credential Credential
	policy     Policy
	classifier Classifier
	retry      *scheduler.RetryPolicy
	clock      clock.Clock
	sink       events.Sink

	queue     *queue.Stack[string]
	total     int
	state     State
	inFlight  string
	failures  map[string]int
	abandoned []string

	tracker  *ratelimit.RemovalTracker
	cooldown *scheduler.Cooldown
	next     clock.Timer

	ctx      context.Context
	started  bool
	stopped  bool
	done     chan struct{}
	doneOnce sync.Once

	startedAt  time.Time
	finishedAt time.Time
	dispatches int
	throttles  int
	retries    int
}

// New creates a loop over ids. The last id is processed first. Repeated
// ids are kept once, at their first position.
func New(ids []string, opts Options) (*Loop, error) {
	if opts.Transport == nil {
		return nil, errors.New("drain: transport is required")
	}
	pol := opts.Policy
	if len(pol.SuccessCodes) == 0 {
		pol.SuccessCodes = DefaultPolicy().SuccessCodes
	}
	if pol.Cooldown <= 0 {
		pol.Cooldown = DefaultPolicy().Cooldown
	}
	for _, c := range pol.SuccessCodes {
		if c == pol.ThrottleCode {
			return nil, errors.New("drain: throttle code must differ from success codes")
		}
	}

	ids = uniqueIDs(ids)

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.Discard
	}

	l := &Loop{
		transport:  opts.Transport,
		credential: opts.Credential,
		policy:     pol,
		classifier: NewClassifier(pol.SuccessCodes, pol.ThrottleCode),
		retry:      scheduler.NewRetryPolicy(pol.Retry),
		clock:      clk,
		sink:       sink,
		queue:      queue.NewStack(ids),
		total:      len(ids),
		failures:   make(map[string]int),
		cooldown:   scheduler.NewCooldown(clk, pol.TickInterval),
		done:       make(chan struct{}),
		ctx:        context.Background(),
	}
	l.cooldown.SetTickHook(l.onCooldownTick)
	return l, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Run starts the loop and blocks until the queue is drained or ctx is done.
// On cancellation pending timers are released and ctx.Err() is returned
// along with the progress so far.
func (l *Loop) Run(ctx context.Context) (Summary, error) {
	if err := l.begin(ctx); err != nil {
		return l.Summary(), err
	}
	go l.Dispatch()
	select {
	case <-l.done:
		return l.Summary(), nil
	case <-ctx.Done():
		l.Stop()
		return l.Summary(), ctx.Err()
	}
}

// Start performs the first dispatch on the calling goroutine; later
// attempts run from timers. Use Done to wait for drainage.
func (l *Loop) Start(ctx context.Context) error {
	if err := l.begin(ctx); err != nil {
		return err
	}
	l.Dispatch()
	return nil
}

func (l *Loop) begin(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.ctx = ctx
	l.startedAt = l.clock.Now()
	l.tracker = ratelimit.NewRemovalTracker(l.startedAt)
	l.mu.Unlock()

	slog.Info("starting removal", "total", l.total)
	return nil
}

// Done is closed once the loop reaches StateDrained.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stop releases pending timers and prevents further dispatches. An
// in-flight request is allowed to finish and its identifier is requeued or
// retired as usual, but nothing new is scheduled.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	if l.next != nil {
		l.next.Stop()
		l.next = nil
	}
	l.cooldown.Stop()
	if l.state == StateCooldown {
		l.state = StateIdle
	}
	if l.finishedAt.IsZero() {
		l.finishedAt = l.clock.Now()
	}
}

// Dispatch attempts to issue the next removal. It is a no-op while a
// request is in flight, during cooldown, after drainage, or once stopped.
func (l *Loop) Dispatch() {
	l.mu.Lock()
	if l.stopped || !l.started {
		l.mu.Unlock()
		return
	}
	switch {
	case l.state == StateDispatching:
		l.mu.Unlock()
		slog.Warn("already processing an item, skipping dispatch")
		return
	case l.state == StateCooldown || l.cooldown.Active():
		l.mu.Unlock()
		slog.Warn("in cooldown period, skipping dispatch")
		return
	case l.state == StateDrained:
		l.mu.Unlock()
		return
	}
	if l.next != nil {
		// An early external call supersedes the scheduled attempt.
		l.next.Stop()
		l.next = nil
	}

	id, ok := l.queue.Pop()
	if !ok {
		ev := l.drainLocked()
		l.mu.Unlock()
		l.sink.Emit(ev)
		l.doneOnce.Do(func() { close(l.done) })
		return
	}

	l.state = StateDispatching
	l.inFlight = id
	l.dispatches++
	ctx := l.ctx
	l.mu.Unlock()

	slog.Debug("submitting removal", "id", id)
	resp, err := l.transport.SubmitRemoval(ctx, id, l.credential)

	l.mu.Lock()
	ev, ok := l.settleLocked(id, resp, err)
	l.mu.Unlock()

	if ok {
		l.sink.Emit(ev)
	}
}

// settleLocked applies the outcome for id and schedules what comes next.
// The bool is false when there is nothing to report.
func (l *Loop) settleLocked(id string, resp Response, err error) (events.Event, bool) {
	now := l.clock.Now()
	l.inFlight = ""

	rerr := l.classifier.Classify(id, resp, err)
	if rerr == nil {
		l.state = StateIdle
		delete(l.failures, id)
		l.tracker.RecordCompletion(now)
		ev := l.progressEventLocked(events.KindSuccess, now)
		ev.ID = id
		ev.Code = resp.Success
		l.scheduleLocked(l.retry.NextDelay(0))
		return ev, true
	}

	if rerr.Class == ClassThrottled {
		l.queue.Push(id)
		l.throttles++
		if l.stopped {
			l.state = StateIdle
		} else {
			l.state = StateCooldown
			l.cooldown.Activate(l.policy.Cooldown, l.resumeAfterCooldown)
		}
		slog.Warn("cooldown detected, pausing removals",
			"id", id,
			"code", rerr.Code,
			"cooldown", l.policy.Cooldown,
		)
		ev := l.progressEventLocked(events.KindCooldownStart, now)
		ev.ID = id
		ev.Code = rerr.Code
		ev.CooldownRemaining = l.policy.Cooldown
		return ev, true
	}

	l.state = StateIdle
	if l.stopped || (rerr.Reason == ReasonCanceled && l.ctx.Err() != nil) {
		// The run was interrupted: the id stays pending with its streak intact.
		l.queue.Push(id)
		slog.Info("removal interrupted, requeued", "id", id, "error", rerr)
		return events.Event{}, false
	}
	l.failures[id]++
	attempt := l.failures[id]

	if l.retry.Exhausted(attempt) {
		delete(l.failures, id)
		l.abandoned = append(l.abandoned, id)
		slog.Error("giving up on identifier",
			"id", id,
			"attempts", attempt,
			"reason", rerr.Reason,
			"error", rerr,
		)
		ev := l.progressEventLocked(events.KindAbandoned, now)
		ev.ID = id
		ev.Code = rerr.Code
		ev.Attempt = attempt
		ev.Error = rerr.Error()
		l.scheduleLocked(l.retry.NextDelay(0))
		return ev, true
	}

	l.queue.Push(id)
	l.retries++
	delay := l.retry.NextDelay(attempt)
	slog.Warn("removal failed, requeued",
		"id", id,
		"attempt", attempt,
		"reason", rerr.Reason,
		"retry_in", delay,
		"error", rerr,
	)
	ev := l.progressEventLocked(events.KindRetry, now)
	ev.ID = id
	ev.Code = rerr.Code
	ev.Attempt = attempt
	ev.Error = rerr.Error()
	l.scheduleLocked(delay)
	return ev, true
}

func (l *Loop) scheduleLocked(delay time.Duration) {
	if l.stopped {
		return
	}
	if l.next != nil {
		l.next.Stop()
	}
	l.next = l.clock.AfterFunc(delay, l.Dispatch)
}

func (l *Loop) resumeAfterCooldown() {
	l.mu.Lock()
	if l.stopped || l.state != StateCooldown {
		l.mu.Unlock()
		return
	}
	l.state = StateIdle
	ev := l.progressEventLocked(events.KindCooldownEnd, l.clock.Now())
	l.mu.Unlock()

	slog.Info("cooldown finished, resuming removals")
	l.sink.Emit(ev)
	l.Dispatch()
}

func (l *Loop) onCooldownTick(remaining time.Duration) {
	l.mu.Lock()
	ev := l.progressEventLocked(events.KindCooldownTick, l.clock.Now())
	l.mu.Unlock()

	ev.CooldownRemaining = remaining
	l.sink.Emit(ev)
}

func (l *Loop) drainLocked() events.Event {
	l.state = StateDrained
	now := l.clock.Now()
	l.finishedAt = now
	slog.Info("all licenses processed",
		"removed", l.tracker.Total(),
		"total", l.total,
		"abandoned", len(l.abandoned),
	)
	ev := l.progressEventLocked(events.KindDrained, now)
	ev.Abandoned = append([]string(nil), l.abandoned...)
	return ev
}

func (l *Loop) progressEventLocked(kind events.Kind, now time.Time) events.Event {
	snap := l.snapshotLocked(now)
	return events.Event{
		Kind:        kind,
		Time:        now,
		Removed:     snap.Removed,
		Total:       snap.Total,
		Pending:     snap.Pending,
		RecentRate:  snap.RecentRate,
		OverallRate: snap.OverallRate,
		ETA:         snap.ETA,
	}
}

func (l *Loop) snapshotLocked(now time.Time) Snapshot {
	snap := Snapshot{
		State:     l.state,
		Total:     l.total,
		Pending:   l.queue.Len(),
		Abandoned: len(l.abandoned),
		Cooldown:  l.cooldown.Remaining(),
		ETA:       now,
	}
	if l.inFlight != "" {
		snap.Pending++
	}
	if l.tracker != nil {
		rate := l.tracker.CurrentRate(now)
		snap.Removed = l.tracker.Total()
		snap.RecentRate = rate.Recent
		snap.OverallRate = rate.Overall
		snap.ETA = l.tracker.EstimateCompletion(now, snap.Pending)
	}
	return snap
}

// Snapshot returns current progress.
func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked(l.clock.Now())
}

// State returns the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Pending returns a copy of the queued identifiers, including one in flight.
func (l *Loop) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.queue.Items()
	if l.inFlight != "" {
		out = append(out, l.inFlight)
	}
	return out
}

// Summary reports the run's outcome so far.
func (l *Loop) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		State:      l.state,
		Total:      l.total,
		Pending:    l.queue.Items(),
		Abandoned:  append([]string(nil), l.abandoned...),
		Dispatches: l.dispatches,
		Throttles:  l.throttles,
		Retries:    l.retries,
		StartedAt:  l.startedAt,
		FinishedAt: l.finishedAt,
	}
	if l.inFlight != "" {
		s.Pending = append(s.Pending, l.inFlight)
	}
	if l.tracker != nil {
		s.Removed = l.tracker.Total()
	}
	return s
}
