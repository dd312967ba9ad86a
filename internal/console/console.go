// Package console prints user-facing status lines.
//
// Diagnostics go to the slog logger on stderr; the lines printed here are
// the exporters' output proper. Styling is applied only when the
// destination is a color-capable terminal.
package console

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// Printer writes status lines.
type Printer struct {
	out *termenv.Output
}

// New returns a Printer on w that styles output when w is a terminal.
func New(w io.Writer) *Printer {
	return &Printer{out: termenv.NewOutput(w)}
}

// NewPlain returns a Printer that never emits escape codes.
func NewPlain(w io.Writer) *Printer {
	return &Printer{out: termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))}
}

// Status prints an unstyled line.
func (p *Printer) Status(format string, args ...any) {
	p.println(p.out.String(fmt.Sprintf(format, args...)))
}

// Success prints a green line.
func (p *Printer) Success(format string, args ...any) {
	p.println(p.out.String(fmt.Sprintf(format, args...)).Foreground(p.out.Color("2")))
}

// Warning prints a yellow line.
func (p *Printer) Warning(format string, args ...any) {
	p.println(p.out.String(fmt.Sprintf(format, args...)).Foreground(p.out.Color("3")))
}

// Error prints a bold red line.
func (p *Printer) Error(format string, args ...any) {
	p.println(p.out.String(fmt.Sprintf(format, args...)).Foreground(p.out.Color("1")).Bold())
}

// Detail prints a faint, indented line.
func (p *Printer) Detail(format string, args ...any) {
	p.println(p.out.String("  " + fmt.Sprintf(format, args...)).Faint())
}

func (p *Printer) println(s termenv.Style) {
	_, _ = fmt.Fprintln(p.out, s)
}
