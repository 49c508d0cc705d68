package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// mockResult implements the Result interface for testing Formatter.Output.
type mockResult struct {
	textOut string
	textErr error
	jsonOut interface{}
}

func (m *mockResult) Text(w io.Writer) error {
	if m.textErr != nil {
		return m.textErr
	}
	_, err := fmt.Fprint(w, m.textOut)
	return err
}
func (m *mockResult) JSON() interface{} { return m.jsonOut }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatterOutput_JSONMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := New(WithJSON(true), WithWriter(&buf))

	r := &mockResult{jsonOut: map[string]string{"status": "ok"}}
	if err := f.Output(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if decoded["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", decoded["status"])
	}
}

func TestFormatterOutput_TextMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := New(WithWriter(&buf))

	r := &mockResult{textOut: "hello world"}
	if err := f.Output(r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "hello world" {
		t.Errorf("expected 'hello world', got %q", buf.String())
	}
}

func TestFormatterOutput_TextError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := New(WithWriter(&buf))

	r := &mockResult{textErr: fmt.Errorf("render failed")}
	err := f.Output(r)
	if err == nil || err.Error() != "render failed" {
		t.Errorf("expected 'render failed' error, got %v", err)
	}
}

func TestFormatterOutput_YAMLUsesJSONKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := New(WithFormat(FormatYAML), WithWriter(&buf))

	resp := ScanResponse{Source: "page", IDs: []string{"10", "20"}, Count: 2}
	if err := f.Output(resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid YAML: %v\n%s", err, buf.String())
	}
	if decoded["source"] != "page" {
		t.Errorf("source = %v", decoded["source"])
	}
	if _, ok := decoded["generated_at"]; !ok {
		t.Errorf("embedded timestamp key missing:\n%s", buf.String())
	}
	ids, _ := decoded["ids"].([]interface{})
	if len(ids) != 2 || ids[0] != "10" {
		t.Errorf("ids = %v", decoded["ids"])
	}
}

func TestFormatterErrorWithHint_JSONMode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	f := New(WithJSON(true), WithWriter(&buf))

	if err := f.ErrorWithHint("no session id", "set LICRM_SESSION_ID"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["error"] != "no session id" || decoded["hint"] != "set LICRM_SESSION_ID" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestFprintError(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	if err := FprintError(&stdout, &stderr, errors.New("boom"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stdout.Len() != 0 || stderr.String() != "Error: boom\n" {
		t.Errorf("text mode wrote stdout=%q stderr=%q", stdout.String(), stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	if err := FprintError(&stdout, &stderr, errors.New("boom"), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stderr.Len() != 0 || !strings.Contains(stdout.String(), `"error": "boom"`) {
		t.Errorf("json mode wrote stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

func TestScanResponse_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := (ScanResponse{IDs: []string{"1", "2"}}).Text(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1\n2\n" {
		t.Errorf("Text() = %q", buf.String())
	}
}

func TestRunSummaryResponse_Text(t *testing.T) {
	t.Parallel()

	r := RunSummaryResponse{
		Outcome: "drained", Total: 3, Removed: 2, Abandoned: []string{"9"},
		Dispatches: 5, Throttles: 1, Retries: 2, Elapsed: "12m4s", OverallRate: 9.9,
	}
	var buf bytes.Buffer
	if err := r.Text(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Removed:    2 of 3", "5 (1 throttled, 2 failed)", "Abandoned:  9", "9.9/hour"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Pending:") {
		t.Errorf("empty pending list should be omitted:\n%s", out)
	}
}
