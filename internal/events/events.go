// Package events defines the structured progress events emitted by the
// removal loop.
package events

import "time"

// Kind identifies the state transition an Event reports.
type Kind string

const (
	KindSuccess       Kind = "success"
	KindCooldownStart Kind = "cooldown-start"
	KindCooldownTick  Kind = "cooldown-tick"
	KindCooldownEnd   Kind = "cooldown-end"
	KindRetry         Kind = "retry"
	KindAbandoned     Kind = "abandoned"
	KindDrained       Kind = "drained"
)

// AllKinds lists every kind in a stable order.
var AllKinds = []Kind{
	KindSuccess,
	KindCooldownStart,
	KindCooldownTick,
	KindCooldownEnd,
	KindRetry,
	KindAbandoned,
	KindDrained,
}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, bool) {
	for _, k := range AllKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Event is one progress report. Fields not relevant to Kind are zero.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	// ID is the identifier the event concerns, if any.
	ID string `json:"id,omitempty"`
	// Code is the response status code, when one was received.
	Code int `json:"code,omitempty"`

	Removed int `json:"removed"`
	Total   int `json:"total"`
	Pending int `json:"pending"`

	RecentRate  int       `json:"recent_rate,omitempty"`
	OverallRate float64   `json:"overall_rate,omitempty"`
	ETA         time.Time `json:"eta,omitempty"`

	CooldownRemaining time.Duration `json:"cooldown_remaining,omitempty"`

	// Attempt is the consecutive failure count for ID on retry/abandoned.
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`

	// Abandoned lists identifiers given up on, reported with KindDrained.
	Abandoned []string `json:"abandoned,omitempty"`
}

// Sink receives events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi emits each event to every sink in order.
func Multi(sinks ...Sink) Sink {
	return SinkFunc(func(e Event) {
		for _, s := range sinks {
			s.Emit(e)
		}
	})
}

// Severity grades a kind for presentation.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Severity returns how prominently k should be shown.
func (k Kind) Severity() Severity {
	switch k {
	case KindSuccess, KindDrained:
		return SeveritySuccess
	case KindCooldownStart, KindRetry:
		return SeverityWarning
	case KindAbandoned:
		return SeverityError
	default:
		return SeverityInfo
	}
}
