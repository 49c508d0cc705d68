package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/Dicklesworthstone/licrm/internal/events"
)

// LogSink writes each event as a structured log record.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(e events.Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	switch e.Kind.Severity() {
	case events.SeverityWarning:
		level = slog.LevelWarn
	case events.SeverityError:
		level = slog.LevelError
	}
	if e.Kind == events.KindCooldownTick {
		level = slog.LevelDebug
	}

	attrs := []any{
		"kind", e.Kind,
		"removed", e.Removed,
		"total", e.Total,
		"pending", e.Pending,
	}
	if e.ID != "" {
		attrs = append(attrs, "id", e.ID)
	}
	if e.Code != 0 {
		attrs = append(attrs, "code", e.Code)
	}
	if e.CooldownRemaining > 0 {
		attrs = append(attrs, "cooldown_remaining", e.CooldownRemaining)
	}
	if e.Error != "" {
		attrs = append(attrs, "error", e.Error)
	}
	logger.Log(context.Background(), level, Format(e), attrs...)
}

// TextSink writes styled lines to a terminal or plain lines elsewhere.
type TextSink struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location

	stamp  lipgloss.Style
	styles map[events.Severity]lipgloss.Style
}

// NewTextSink creates a sink writing to w. When color is false, or w is not
// a terminal, output carries no escape sequences.
func NewTextSink(w io.Writer, color bool) *TextSink {
	var r *lipgloss.Renderer
	if color {
		r = lipgloss.NewRenderer(w)
	} else {
		r = lipgloss.NewRenderer(w, termenv.WithProfile(termenv.Ascii))
	}
	return &TextSink{
		w:     w,
		loc:   time.Local,
		stamp: r.NewStyle().Foreground(lipgloss.Color("#6B7280")),
		styles: map[events.Severity]lipgloss.Style{
			events.SeverityInfo:    r.NewStyle().Foreground(lipgloss.Color("#06B6D4")),
			events.SeveritySuccess: r.NewStyle().Foreground(lipgloss.Color("#10B981")),
			events.SeverityWarning: r.NewStyle().Foreground(lipgloss.Color("#F59E0B")),
			events.SeverityError:   r.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
		},
	}
}

func (s *TextSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	line := FormatIn(e, s.loc)
	fmt.Fprintf(s.w, "%s %s\n",
		s.stamp.Render("["+ts.In(s.loc).Format(time.TimeOnly)+"]"),
		s.styles[e.Kind.Severity()].Render(line),
	)
}

// JSONSink writes one JSON object per event.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONSink creates a sink writing JSON lines to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

type jsonEvent struct {
	events.Event
	Message string `json:"message"`
}

func (s *JSONSink) Emit(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(jsonEvent{Event: e, Message: Format(e)}); err != nil {
		slog.Debug("json sink write failed", "error", err)
	}
}
