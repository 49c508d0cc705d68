// Package webhook posts selected progress events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/Dicklesworthstone/licrm/internal/events"
)

// DefaultKinds are posted when Config.Kinds is empty.
var DefaultKinds = []events.Kind{events.KindCooldownStart, events.KindAbandoned, events.KindDrained}

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 10 * time.Second

// Config configures a Sink.
type Config struct {
	URL        string
	Format     string
	Kinds      []string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Stats counts delivery outcomes.
type Stats struct {
	Delivered int64
	Failed    int64
	Skipped   int64
}

// Sink posts matching events synchronously. Wrap it in a progress.Reporter
// so the loop never waits on the network.
type Sink struct {
	url    string
	format Format
	kinds  map[events.Kind]bool
	client *http.Client

	delivered atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

// New validates cfg and builds a sink.
func New(cfg Config) (*Sink, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url %q must be http or https", cfg.URL)
	}

	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	kinds := make(map[events.Kind]bool)
	if len(cfg.Kinds) == 0 {
		for _, k := range DefaultKinds {
			kinds[k] = true
		}
	}
	for _, name := range cfg.Kinds {
		k, ok := events.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("webhook: unknown event kind %q", name)
		}
		kinds[k] = true
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Sink{url: cfg.URL, format: format, kinds: kinds, client: client}, nil
}

// Wants reports whether events of kind k are posted.
func (s *Sink) Wants(k events.Kind) bool {
	return s.kinds[k]
}

func (s *Sink) Emit(e events.Event) {
	if !s.kinds[e.Kind] {
		s.skipped.Add(1)
		return
	}
	if err := s.Send(context.Background(), e); err != nil {
		s.failed.Add(1)
		slog.Warn("webhook delivery failed", "kind", e.Kind, "error", err)
		return
	}
	s.delivered.Add(1)
}

// Send posts e regardless of the kind filter.
func (s *Sink) Send(ctx context.Context, e events.Event) error {
	payload, err := buildPayload(e, s.format)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "licrm-webhook")
	req.Header.Set("X-Licrm-Event", string(e.Kind))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Stats returns delivery counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
	}
}

// StatusError is returned for a non-2xx webhook response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
