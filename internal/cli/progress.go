package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progressReporter draws a progress bar fed by the driver's progress callback
type progressReporter struct {
	mu    sync.Mutex
	out   io.Writer
	quiet bool
	label string
	bar   *progressbar.ProgressBar
	shown int
	total int
}

func newProgressReporter(out io.Writer, label string, quiet bool) *progressReporter {
	return &progressReporter{out: out, label: label, quiet: quiet}
}

// Update moves the bar to done of total texts. The bar is created on first call.
func (p *progressReporter) Update(done, total int) {
	if p.quiet {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || total != p.total {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription(p.label),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("texts/s"),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(p.out)
			}),
		)
		p.total = total
		p.shown = 0
	}

	if delta := done - p.shown; delta > 0 {
		_ = p.bar.Add(delta)
		p.shown = done
	}
}

// Finish completes the bar if one is drawn
func (p *progressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil && p.shown < p.total {
		_ = p.bar.Finish()
	}
}
