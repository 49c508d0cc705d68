package output

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrorResponse is the standard JSON error format
type ErrorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// NewError creates a new error response
func NewError(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}

// NewErrorWithHint creates a new error response with a hint
func NewErrorWithHint(msg, hint string) ErrorResponse {
	return ErrorResponse{Error: msg, Hint: hint}
}

// TimestampedResponse adds a timestamp to any response
type TimestampedResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
}

// NewTimestamped creates a timestamped response base
func NewTimestamped() TimestampedResponse {
	return TimestampedResponse{GeneratedAt: Timestamp()}
}

// ScanResponse is the output format for the scan command
type ScanResponse struct {
	TimestampedResponse
	Source string   `json:"source"`
	IDs    []string `json:"ids"`
	Count  int      `json:"count"`
}

func (r ScanResponse) JSON() interface{} { return r }

func (r ScanResponse) Text(w io.Writer) error {
	for _, id := range r.IDs {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return err
		}
	}
	return nil
}

// RunSummaryResponse is the final report of the run command
type RunSummaryResponse struct {
	TimestampedResponse
	Outcome     string   `json:"outcome"` // drained, canceled
	Total       int      `json:"total"`
	Removed     int      `json:"removed"`
	Pending     []string `json:"pending,omitempty"`
	Abandoned   []string `json:"abandoned,omitempty"`
	Dispatches  int      `json:"dispatches"`
	Throttles   int      `json:"throttles"`
	Retries     int      `json:"retries"`
	Elapsed     string   `json:"elapsed"`
	OverallRate float64  `json:"overall_rate"`
}

func (r RunSummaryResponse) JSON() interface{} { return r }

func (r RunSummaryResponse) Text(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Outcome:    %s\n", r.Outcome)
	fmt.Fprintf(&sb, "Removed:    %d of %d\n", r.Removed, r.Total)
	fmt.Fprintf(&sb, "Requests:   %d (%d throttled, %d failed)\n", r.Dispatches, r.Throttles, r.Retries)
	fmt.Fprintf(&sb, "Elapsed:    %s\n", r.Elapsed)
	fmt.Fprintf(&sb, "Rate:       %g/hour\n", r.OverallRate)
	if len(r.Abandoned) > 0 {
		fmt.Fprintf(&sb, "Abandoned:  %s\n", strings.Join(r.Abandoned, ", "))
	}
	if len(r.Pending) > 0 {
		fmt.Fprintf(&sb, "Pending:    %s\n", strings.Join(r.Pending, ", "))
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// VersionResponse is the output format for the version command
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	BuiltBy   string `json:"built_by"`
	GoVersion string `json:"go_version"`
}

func (r VersionResponse) JSON() interface{} { return r }

func (r VersionResponse) Text(w io.Writer) error {
	_, err := fmt.Fprintf(w, "licrm %s (commit %s, built %s by %s, %s)\n", r.Version, r.Commit, r.Date, r.BuiltBy, r.GoVersion)
	return err
}
