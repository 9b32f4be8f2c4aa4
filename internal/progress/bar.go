package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

type BarOptions struct {
	// Interactive redraws a single line in place. Otherwise a line is printed
	// each time the completed count changes.
	Interactive bool
	Width       int
}

// Bar is a single-line terminal progress bar. It finishes itself once the
// completed count reaches the total.
type Bar struct {
	dst   io.Writer
	opts  BarOptions
	state *State
	now   func() time.Time

	mu            sync.Mutex
	activeLine    string
	lastCompleted int
	finished      bool
}

func NewBar(dst io.Writer, opts BarOptions) *Bar {
	if opts.Width <= 0 {
		opts.Width = 30
	}
	return &Bar{dst: dst, opts: opts, state: NewState(), now: time.Now, lastCompleted: -1}
}

// SupportsInPlaceUpdates reports whether dst is a terminal that handles
// carriage-return redraws.
func SupportsInPlaceUpdates(dst io.Writer) bool {
	file, ok := dst.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd())
}

// IsCygwinTerminal reports a Cygwin/MSYS pty, where the terminal width is not
// available and the bar cannot be drawn in place.
func IsCygwinTerminal(dst io.Writer) bool {
	file, ok := dst.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsCygwinTerminal(file.Fd())
}

func (b *Bar) Start(total int, fields Fields) {
	snap := b.state.Start(total, fields)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = false
	b.lastCompleted = -1
	_ = b.renderLocked(snap)
}

func (b *Bar) Update(completed int, fields Fields) {
	snap := b.state.Update(completed, fields)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	_ = b.renderLocked(snap)
	if snap.Total > 0 && snap.Completed >= snap.Total {
		_ = b.finishLocked()
	}
}

func (b *Bar) Finish() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishLocked()
}

func (b *Bar) Snapshot() Snapshot {
	return b.state.Snapshot()
}

func (b *Bar) renderLocked(snap Snapshot) error {
	line := RenderLine(snap, b.opts.Width, b.now())
	if !b.opts.Interactive {
		if snap.Completed == b.lastCompleted {
			return nil
		}
		b.lastCompleted = snap.Completed
		_, err := fmt.Fprintln(b.dst, line)
		return err
	}

	if line == b.activeLine {
		return nil
	}
	b.activeLine = line
	_, err := fmt.Fprintf(b.dst, "\r\033[2K%s", line)
	return err
}

func (b *Bar) finishLocked() error {
	if b.finished {
		return nil
	}
	b.finished = true
	if !b.opts.Interactive || b.activeLine == "" {
		return nil
	}
	b.activeLine = ""
	_, err := fmt.Fprintln(b.dst)
	return err
}
