package drain

import (
	"context"
	"errors"
	"fmt"
)

// Class is the recovery class of a non-success outcome.
type Class string

const (
	// ClassThrottled means the endpoint imposed a lockout; wait out the cooldown.
	ClassThrottled Class = "throttled"
	// ClassTransient covers everything else; requeue and retry after the normal delay.
	ClassTransient Class = "transient"
)

// Reason narrows a transient failure for reporting.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTransport   Reason = "transport"
	ReasonHTTPStatus  Reason = "http_status"
	ReasonPayload     Reason = "malformed_payload"
	ReasonUnknownCode Reason = "unknown_code"
	ReasonCanceled    Reason = "canceled"
)

// Sentinel errors a Transport wraps so the loop can tell failures apart.
var (
	// ErrHTTPStatus marks a non-2xx response with no usable payload.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrMalformedPayload marks a response body that could not be parsed.
	ErrMalformedPayload = errors.New("malformed response payload")
)

// RemovalError describes why an identifier was not removed.
type RemovalError struct {
	ID     string
	Class  Class
	Reason Reason
	Code   int
	Err    error
}

func (e *RemovalError) Error() string {
	switch {
	case e.Class == ClassThrottled:
		return fmt.Sprintf("remove %s: throttled (code %d)", e.ID, e.Code)
	case e.Reason == ReasonUnknownCode:
		return fmt.Sprintf("remove %s: unknown response code %d", e.ID, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("remove %s: %v", e.ID, e.Err)
	default:
		return fmt.Sprintf("remove %s: %s", e.ID, e.Reason)
	}
}

func (e *RemovalError) Unwrap() error {
	return e.Err
}

// Classifier maps response codes onto outcome classes.
type Classifier struct {
	successCodes map[int]bool
	throttleCode int
}

// NewClassifier builds a classifier for the given codes.
func NewClassifier(successCodes []int, throttleCode int) Classifier {
	m := make(map[int]bool, len(successCodes))
	for _, c := range successCodes {
		m[c] = true
	}
	return Classifier{successCodes: m, throttleCode: throttleCode}
}

// Classify returns nil when the removal succeeded, otherwise a *RemovalError.
func (c Classifier) Classify(id string, resp Response, err error) *RemovalError {
	if err != nil {
		re := &RemovalError{ID: id, Class: ClassTransient, Reason: ReasonTransport, Err: err}
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			re.Reason = ReasonCanceled
		case errors.Is(err, ErrHTTPStatus):
			re.Reason = ReasonHTTPStatus
		case errors.Is(err, ErrMalformedPayload):
			re.Reason = ReasonPayload
		}
		return re
	}

	switch {
	case resp.Success == c.throttleCode:
		return &RemovalError{ID: id, Class: ClassThrottled, Code: resp.Success}
	case c.successCodes[resp.Success]:
		return nil
	default:
		return &RemovalError{ID: id, Class: ClassTransient, Reason: ReasonUnknownCode, Code: resp.Success}
	}
}
