package progress

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Dicklesworthstone/licrm/internal/events"
)

// DefaultBufferSize bounds how many undelivered events a Reporter holds.
const DefaultBufferSize = 256

// Reporter delivers events to sinks on a background goroutine. Emit never
// blocks: when the buffer is full the oldest undelivered event is dropped.
type Reporter struct {
	mu      sync.Mutex
	buf     []events.Event
	size    int
	closed  bool
	sinks   []events.Sink
	dropped atomic.Int64

	notify chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewReporter starts a reporter delivering to sinks. A non-positive
// bufferSize uses DefaultBufferSize.
func NewReporter(bufferSize int, sinks ...events.Sink) *Reporter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	r := &Reporter{
		size:   bufferSize,
		sinks:  sinks,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Emit queues e for delivery.
func (r *Reporter) Emit(e events.Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if len(r.buf) >= r.size {
		r.buf = r.buf[1:]
		r.dropped.Add(1)
	}
	r.buf = append(r.buf, e)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Reporter) Dropped() int64 {
	return r.dropped.Load()
}

// Close delivers whatever is queued and stops the worker. Later Emits are ignored.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	r.wg.Wait()

	if n := r.Dropped(); n > 0 {
		slog.Warn("progress events dropped", "count", n)
	}
}

func (r *Reporter) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.notify:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *Reporter) flush() {
	for {
		r.mu.Lock()
		if len(r.buf) == 0 {
			r.mu.Unlock()
			return
		}
		batch := r.buf
		r.buf = nil
		r.mu.Unlock()

		for _, e := range batch {
			for _, s := range r.sinks {
				r.deliver(s, e)
			}
		}
	}
}

func (r *Reporter) deliver(s events.Sink, e events.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("progress sink panicked", "kind", e.Kind, "panic", rec)
		}
	}()
	s.Emit(e)
}
