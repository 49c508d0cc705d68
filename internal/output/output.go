// Package output renders command results as text, JSON or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Format selects how results are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (supported: text, json, yaml)", s)
	}
}

// Result is something a command can print in every format.
type Result interface {
	// Text writes the human-readable form.
	Text(w io.Writer) error
	// JSON returns the value encoded for json and yaml output.
	JSON() interface{}
}

// Formatter writes results in the selected format.
type Formatter struct {
	format Format
	w      io.Writer
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithFormat selects the output format.
func WithFormat(f Format) Option {
	return func(fm *Formatter) { fm.format = f }
}

// WithJSON is shorthand for WithFormat(FormatJSON) when on is true.
func WithJSON(on bool) Option {
	return func(fm *Formatter) {
		if on {
			fm.format = FormatJSON
		}
	}
}

// WithWriter redirects output, stdout by default.
func WithWriter(w io.Writer) Option {
	return func(fm *Formatter) { fm.w = w }
}

// New creates a formatter.
func New(opts ...Option) *Formatter {
	f := &Formatter{format: FormatText, w: os.Stdout}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Format returns the selected format.
func (f *Formatter) Format() Format { return f.format }

// IsJSON reports whether output is machine-readable JSON.
func (f *Formatter) IsJSON() bool { return f.format == FormatJSON }

// Writer returns the destination writer.
func (f *Formatter) Writer() io.Writer { return f.w }

// Output renders r in the selected format.
func (f *Formatter) Output(r Result) error {
	switch f.format {
	case FormatJSON:
		return f.JSON(r.JSON())
	case FormatYAML:
		return WriteYAML(f.w, r.JSON())
	default:
		return r.Text(f.w)
	}
}

// JSON writes v as indented JSON.
func (f *Formatter) JSON(v interface{}) error {
	return WriteJSON(f.w, v, true)
}

// Print writes its arguments verbatim.
func (f *Formatter) Print(a ...interface{}) {
	fmt.Fprint(f.w, a...)
}

// Println writes its arguments followed by a newline.
func (f *Formatter) Println(a ...interface{}) {
	fmt.Fprintln(f.w, a...)
}

// WriteJSON encodes v to w.
func WriteJSON(w io.Writer, v interface{}, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// WriteYAML encodes v to w as YAML. Values go through JSON first so the json
// tags define the keys in both formats.
func WriteYAML(w io.Writer, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// Timestamp returns the current time in UTC, truncated to the second.
func Timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
