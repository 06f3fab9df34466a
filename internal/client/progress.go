package client

import (
	"fmt"
	"io"
	"sync"

	"github.com/docker/go-units"
)

// ProgressBar renders a single-line transfer progress indicator. One bar can be reused
// for consecutive transfers.
type ProgressBar struct {
	mu    sync.Mutex
	out   io.Writer
	name  string
	size  int64
	done  int64
	width int
}

// NewProgressBar creates a bar writing to out.
func NewProgressBar(out io.Writer) *ProgressBar {
	return &ProgressBar{out: out, width: 30}
}

// Begin starts a new transfer. size may be -1 when the server sends no length.
func (p *ProgressBar) Begin(name string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	p.size = size
	p.done = 0
	p.render()
}

func (p *ProgressBar) Advance(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	p.render()
}

func (p *ProgressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	fmt.Fprintln(p.out)
}

func (p *ProgressBar) render() {
	if p.size <= 0 {
		fmt.Fprintf(p.out, "\r%s %s", p.name, formatBytes(p.done))
		return
	}
	filled := int(float64(p.width) * float64(p.done) / float64(p.size))
	if filled > p.width {
		filled = p.width
	}
	bar := make([]byte, p.width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '-'
		}
	}
	fmt.Fprintf(p.out, "\r%s [%s] %s/%s", p.name, bar, formatBytes(p.done), formatBytes(p.size))
}

func formatBytes(n int64) string {
	return units.BytesSize(float64(n))
}
