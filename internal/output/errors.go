package output

import (
	"fmt"
	"io"
	"os"
)

// Error outputs an error in the appropriate format
func (f *Formatter) Error(err error) error {
	if f.IsJSON() {
		return f.JSON(NewError(err.Error()))
	}
	return err
}

// ErrorWithHint outputs an error with a suggested fix
func (f *Formatter) ErrorWithHint(msg, hint string) error {
	if f.IsJSON() {
		return f.JSON(NewErrorWithHint(msg, hint))
	}
	fmt.Fprintf(os.Stderr, "Error: %s\nHint: %s\n", msg, hint)
	return fmt.Errorf("%s", msg)
}

// PrintError writes err to stderr, or to stdout as a JSON envelope in JSON mode.
func PrintError(err error, jsonMode bool) error {
	return FprintError(os.Stdout, os.Stderr, err, jsonMode)
}

// FprintError is PrintError with explicit writers.
func FprintError(stdout, stderr io.Writer, err error, jsonMode bool) error {
	if jsonMode {
		return WriteJSON(stdout, NewError(err.Error()), true)
	}
	_, werr := fmt.Fprintf(stderr, "Error: %v\n", err)
	return werr
}
