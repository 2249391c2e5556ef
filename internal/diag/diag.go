// Package diag holds the compiler's error taxonomy. Every fatal condition
// of the back end is reported as a single *Error carrying its Kind.
package diag

import (
	"fmt"
	"io"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
)

// Level indicates the severity of a diagnostic
type Level int

const (
	LevelWarning Level = iota
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelFatal:
		return "fatal error"
	default:
		return "unknown"
	}
}

// Kind classifies which stage rejected the input.
type Kind int

const (
	KindVerify Kind = iota
	KindEncode
	KindRelocation
	KindAlloc
	KindEmit
	KindConfig
	KindFrontend
)

func (k Kind) String() string {
	switch k {
	case KindVerify:
		return "ir-verification"
	case KindEncode:
		return "encoding"
	case KindRelocation:
		return "relocation"
	case KindAlloc:
		return "allocator"
	case KindEmit:
		return "emission"
	case KindConfig:
		return "config"
	case KindFrontend:
		return "frontend"
	default:
		return "unknown"
	}
}

// Fatal reports whether diagnostics of the kind stop the pipeline.
// Every kind does; non-fatal conditions are reported with Warn.
func (k Kind) Fatal() bool { return k >= KindVerify && k <= KindFrontend }

// Where is the IR position a diagnostic refers to. Zero fields are omitted.
type Where struct {
	Func  string
	Block string
	Instr string // printed form of the offending instruction
}

func (w Where) String() string {
	var parts []string

	if w.Func != "" {
		parts = append(parts, "func "+w.Func)
	}
	if w.Block != "" {
		parts = append(parts, "block "+w.Block)
	}
	if w.Instr != "" {
		parts = append(parts, "at `"+w.Instr+"`")
	}

	return strings.Join(parts, ", ")
}

// Error is a single structured diagnostic.
type Error struct {
	Level   Level
	Kind    Kind
	Message string
	Where   Where
	Help    string

	From loc.PC
	Err  error
}

// New creates a fatal diagnostic of the given kind.
func New(kind Kind, where Where, format string, args ...any) *Error {
	return &Error{
		Level:   LevelFatal,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Where:   where,
		From:    loc.Caller(1),
	}
}

// Wrap creates a fatal diagnostic caused by err, such as an OS error.
func Wrap(kind Kind, err error, where Where, format string, args ...any) *Error {
	return &Error{
		Level:   LevelFatal,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Where:   where,
		From:    loc.Caller(1),
		Err:     err,
	}
}

// Warn creates a non-fatal diagnostic.
func Warn(kind Kind, where Where, format string, args ...any) *Error {
	return &Error{
		Level:   LevelWarning,
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Where:   where,
		From:    loc.Caller(1),
	}
}

// WithHelp attaches a "help:" line.
func (e *Error) WithHelp(format string, args ...any) *Error {
	e.Help = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%v error: %s", e.Kind, e.Message)

	if w := e.Where.String(); w != "" {
		fmt.Fprintf(&b, " (%s)", w)
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}

	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Format renders the diagnostic for a terminal.
func (e *Error) Format(useColor bool) string {
	var sb strings.Builder

	paint := func(code, s string) {
		if useColor {
			sb.WriteString(code)
		}
		sb.WriteString(s)
		if useColor {
			sb.WriteString("\033[0m")
		}
	}

	head := "\033[1;31m"
	if e.Level == LevelWarning {
		head = "\033[1;33m"
	}

	paint(head, e.Level.String()+"["+e.Kind.String()+"]: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if w := e.Where.String(); w != "" {
		paint("\033[1;34m", "  --> ")
		sb.WriteString(w)
		sb.WriteString("\n")
	}

	if e.Err != nil {
		paint("\033[1;36m", "  cause: ")
		sb.WriteString(e.Err.Error())
		sb.WriteString("\n")
	}

	if e.Help != "" {
		paint("\033[1;32m", "   help: ")
		sb.WriteString(e.Help)
		sb.WriteString("\n")
	}

	return sb.String()
}

// KindOf extracts the diagnostic kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var d *Error
	if !errors.As(err, &d) {
		return 0, false
	}

	return d.Kind, true
}

// Is reports whether err carries a diagnostic of kind k.
func Is(err error, k Kind) bool {
	got, ok := KindOf(err)
	return ok && got == k
}

// Fail panics with a diagnostic. It is reserved for API misuse that
// indicates a bug in the caller, like building IR without an insertion point.
func Fail(kind Kind, where Where, format string, args ...any) {
	e := New(kind, where, format, args...)
	e.From = loc.Caller(1)

	panic(e)
}

// List accumulates warnings during a compilation.
type List struct {
	items []*Error
}

func (l *List) Add(e *Error) {
	l.items = append(l.items, e)
}

func (l *List) Items() []*Error { return l.items }

func (l *List) Len() int { return len(l.items) }

// Strings returns the one-line form of every diagnostic.
func (l *List) Strings() []string {
	r := make([]string, len(l.items))
	for i, e := range l.items {
		r[i] = e.Error()
	}

	return r
}

// Report writes all collected diagnostics.
func (l *List) Report(w io.Writer, useColor bool) {
	for _, e := range l.items {
		fmt.Fprint(w, e.Format(useColor))
	}
}
