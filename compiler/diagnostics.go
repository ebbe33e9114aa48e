package compiler

import (
	"fmt"
	"strings"
)

// Severity classifies a non-fatal diagnostic.
type Severity int

const (
	// SeverityWarning does not affect the correctness of the output.
	SeverityWarning Severity = iota
	// SeverityError is a recoverable error: compilation continues but the
	// output may be invalid.
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is one recorded warning or recoverable error.
type Diagnostic struct {
	Severity Severity
	File     string
	Pos      Position
	Message  string
}

func (d Diagnostic) String() string {
	return formatLocated(d.File, d.Pos, d.Severity.String(), d.Message)
}

// Error is a fatal compile error. It aborts the compilation.
type Error struct {
	File    string
	Pos     Position
	Message string
}

func (e *Error) Error() string {
	return formatLocated(e.File, e.Pos, "error", e.Message)
}

// formatLocated renders file:line:col: kind: message, dropping the parts
// of the location that are unknown.
func formatLocated(file string, pos Position, kind, msg string) string {
	var sb strings.Builder
	if file != "" {
		sb.WriteString(file)
		sb.WriteString(":")
	}
	if pos.Line > 0 {
		fmt.Fprintf(&sb, "%d:", pos.Line)
		if pos.Column > 0 {
			fmt.Fprintf(&sb, "%d:", pos.Column)
		}
	}
	if sb.Len() > 0 {
		sb.WriteString(" ")
	}
	fmt.Fprintf(&sb, "%s: %s", kind, msg)
	return sb.String()
}

// Diagnostics collects warnings and recoverable errors for one
// compilation unit.
type Diagnostics struct {
	File  string
	items []Diagnostic
}

// NewDiagnostics creates an empty collector for file.
func NewDiagnostics(file string) *Diagnostics {
	return &Diagnostics{File: file}
}

// Warnf records a warning at pos.
func (d *Diagnostics) Warnf(pos Position, format string, args ...interface{}) {
	d.add(SeverityWarning, pos, fmt.Sprintf(format, args...))
}

// Errorf records a recoverable error at pos.
func (d *Diagnostics) Errorf(pos Position, format string, args ...interface{}) {
	d.add(SeverityError, pos, fmt.Sprintf(format, args...))
}

func (d *Diagnostics) add(sev Severity, pos Position, msg string) {
	d.items = append(d.items, Diagnostic{Severity: sev, File: d.File, Pos: pos, Message: msg})
}

// Fatal builds the fatal error for pos in this unit.
func (d *Diagnostics) Fatal(pos Position, format string, args ...interface{}) *Error {
	return &Error{File: d.File, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// Items returns every diagnostic in the order recorded.
func (d *Diagnostics) Items() []Diagnostic {
	return d.items
}

// Count returns the number of diagnostics of the given severity.
func (d *Diagnostics) Count(sev Severity) int {
	n := 0
	for _, item := range d.items {
		if item.Severity == sev {
			n++
		}
	}
	return n
}

// MayBeInvalid reports whether a recoverable error was recorded, in which
// case the output must not be presented as a clean success.
func (d *Diagnostics) MayBeInvalid() bool {
	return d.Count(SeverityError) > 0
}

// Summary renders the end-of-run itemized list.
func (d *Diagnostics) Summary() string {
	if len(d.items) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, item := range d.items {
		sb.WriteString(item.String())
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "%d warning(s), %d error(s)", d.Count(SeverityWarning), d.Count(SeverityError))
	if d.MayBeInvalid() {
		sb.WriteString("; output may be invalid")
	}
	sb.WriteString("\n")
	return sb.String()
}
