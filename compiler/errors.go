package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Diagnostic is one compile error.
type Diagnostic struct {
	Pos     Position
	Where   string // " at 'x'", " at end", or empty for lexical errors
	Message string
	Length  int // runes covered by the offending token; 0 at end and for lexical errors
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("[line %d] Error%s: %s", d.Pos.Line, d.Where, d.Message)
}

// CompileError collects every diagnostic reported while compiling one
// source. No function is produced when a CompileError is returned.
type CompileError struct {
	errs *multierror.Error
}

func (e *CompileError) Error() string {
	if e.errs == nil {
		return "compile error"
	}
	return e.errs.Error()
}

// Unwrap exposes the individual diagnostics to errors.Is and errors.As.
func (e *CompileError) Unwrap() []error {
	if e.errs == nil {
		return nil
	}
	return e.errs.WrappedErrors()
}

// Diagnostics returns the reported errors in source order.
func (e *CompileError) Diagnostics() []*Diagnostic {
	var out []*Diagnostic
	for _, err := range e.Unwrap() {
		var d *Diagnostic
		if errors.As(err, &d) {
			out = append(out, d)
		}
	}
	return out
}

// formatDiagnostics is the multierror format: one diagnostic per line.
func formatDiagnostics(errs []error) string {
	lines := make([]string, len(errs))
	for i, err := range errs {
		lines[i] = err.Error()
	}
	return strings.Join(lines, "\n")
}

// IsCompileError reports whether err is or wraps a *CompileError.
func IsCompileError(err error) bool {
	var ce *CompileError
	return errors.As(err, &ce)
}
