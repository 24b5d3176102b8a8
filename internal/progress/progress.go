// Package progress renders per-file download progress on the console.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// Reporter receives the cumulative byte count of one file at a time.
// total is 0 when the size is unknown.
type Reporter interface {
	Start(name string, total int64)
	Update(written int64)
	Finish(ok bool)
}

// Nop discards progress.
type Nop struct{}

func (Nop) Start(string, int64) {}
func (Nop) Update(int64)        {}
func (Nop) Finish(bool)         {}

const (
	defaultWidth = 80
	minBarWidth  = 10
)

// New picks a reporter for mode: "bar", "lines", "off", or "auto" (bar when out is a
// terminal, lines otherwise).
func New(mode string, out *os.File) Reporter {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "off", "none":
		return Nop{}
	case "lines":
		return &Lines{W: out, Interval: 5 * time.Second}
	case "bar":
		return &Bar{W: out, Width: terminalWidth(out)}
	}
	if term.IsTerminal(int(out.Fd())) {
		return &Bar{W: out, Width: terminalWidth(out)}
	}
	return &Lines{W: out, Interval: 5 * time.Second}
}

func terminalWidth(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Bar redraws a single line with carriage returns.
type Bar struct {
	W     io.Writer
	Width int

	name     string
	total    int64
	written  int64
	lastDraw time.Time
	now      func() time.Time
	start    time.Time
}

func (b *Bar) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

func (b *Bar) Start(name string, total int64) {
	b.name = filepath.Base(name)
	b.total = total
	b.written = 0
	b.start = b.clock()
	b.lastDraw = time.Time{}
	b.draw()
}

func (b *Bar) Update(written int64) {
	b.written = written
	if t := b.clock(); t.Sub(b.lastDraw) >= 100*time.Millisecond {
		b.draw()
	}
}

func (b *Bar) Finish(ok bool) {
	b.draw()
	if ok {
		fmt.Fprintln(b.W)
		return
	}
	fmt.Fprintln(b.W, " failed")
}

func (b *Bar) draw() {
	b.lastDraw = b.clock()
	fmt.Fprint(b.W, "\r"+b.line())
}

// line formats "name [####    ]  42% 1.2 MiB/3.0 MiB 512 KiB/s" fitted to Width.
func (b *Bar) line() string {
	width := b.Width
	if width <= 0 {
		width = defaultWidth
	}
	stats := humanize.IBytes(uint64(b.written))
	if b.total > 0 {
		stats += "/" + humanize.IBytes(uint64(b.total))
	}
	if el := b.clock().Sub(b.start).Seconds(); el > 0 {
		stats += " " + humanize.IBytes(uint64(float64(b.written)/el)) + "/s"
	}
	name := b.name
	if b.total <= 0 {
		return fit(name+" "+stats, width)
	}
	pct := float64(b.written) / float64(b.total)
	if pct > 1 {
		pct = 1
	}
	pctStr := fmt.Sprintf("%3.0f%%", pct*100)
	barWidth := width - len(stats) - len(pctStr) - 6 - min(len(name), width/3)
	if barWidth < minBarWidth {
		return fit(name+" "+pctStr+" "+stats, width)
	}
	filled := int(pct * float64(barWidth))
	bar := strings.Repeat("#", filled) + strings.Repeat(" ", barWidth-filled)
	return fit(truncate(name, width/3)+" ["+bar+"] "+pctStr+" "+stats, width)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "~"
}

// fit truncates s to width-1 runes and pads the rest so a shorter redraw clears the old line.
func fit(s string, width int) string {
	s = truncate(s, width-1)
	if pad := width - 1 - len([]rune(s)); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}

// Lines prints a status line at most once per Interval, suitable for logs.
type Lines struct {
	W        io.Writer
	Interval time.Duration

	name    string
	total   int64
	written int64
	last    time.Time
	now     func() time.Time
}

func (l *Lines) clock() time.Time {
	if l.now != nil {
		return l.now()
	}
	return time.Now()
}

func (l *Lines) Start(name string, total int64) {
	l.name = name
	l.total = total
	l.written = 0
	l.last = l.clock()
}

func (l *Lines) Update(written int64) {
	l.written = written
	if t := l.clock(); t.Sub(l.last) >= l.Interval {
		l.last = t
		fmt.Fprintln(l.W, l.status())
	}
}

func (l *Lines) Finish(ok bool) {
	state := "done"
	if !ok {
		state = "failed"
	}
	fmt.Fprintf(l.W, "%s %s\n", l.status(), state)
}

func (l *Lines) status() string {
	if l.total > 0 {
		return fmt.Sprintf("%s: %s of %s (%.0f%%)", l.name, humanize.IBytes(uint64(l.written)),
			humanize.IBytes(uint64(l.total)), 100*float64(l.written)/float64(l.total))
	}
	return fmt.Sprintf("%s: %s", l.name, humanize.IBytes(uint64(l.written)))
}
