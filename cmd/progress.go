package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// progress prints engine progress to a terminal. On a TTY item counts are
// rewritten in place; otherwise only the final count of each action is
// printed. Lines of parallel targets are prefixed with their name.
type progress struct {
	mu     *sync.Mutex
	w      io.Writer
	prefix string
	tty    bool
	open   bool
}

func newProgress(f *os.File, mu *sync.Mutex, prefix string) *progress {
	return &progress{
		mu:     mu,
		w:      f,
		prefix: prefix,
		tty:    isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

func (p *progress) endLine() {
	if p.open {
		fmt.Fprintln(p.w)
		p.open = false
	}
}

func (p *progress) Phase(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	fmt.Fprintf(p.w, "%s%s...\n", p.prefix, name)
}

func (p *progress) Item(action string, n, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.tty:
		fmt.Fprintf(p.w, "\r%s  %s: %d/%d", p.prefix, action, n, total)
		p.open = true
	case n == total:
		fmt.Fprintf(p.w, "%s  %s: %d/%d\n", p.prefix, action, n, total)
	}
}

func (p *progress) Warn(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	fmt.Fprintf(p.w, "%sWARNING: %s\n", p.prefix, msg)
}
