package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// progress prints a run's status message whenever it changes. On a
// terminal the line is rewritten in place and clipped to the width.
type progress struct {
	out   io.Writer
	tty   bool
	width int
	last  string
}

func newProgress(w io.Writer) *progress {
	p := &progress{out: w}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			p.width = width
		}
	}
	return p
}

func (p *progress) update(msg string) {
	if msg == "" || msg == p.last {
		return
	}
	p.last = msg
	if !p.tty {
		fmt.Fprintln(p.out, msg)
		return
	}
	if p.width > 1 && len(msg) >= p.width {
		msg = msg[:p.width-1]
	}
	fmt.Fprintf(p.out, "\r\033[K%s", msg)
}

// done ends an in-place line.
func (p *progress) done() {
	if p.tty && p.last != "" {
		fmt.Fprintln(p.out)
	}
	p.last = ""
}
