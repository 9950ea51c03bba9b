// Package progress draws a progress bar for long running batch loops.
package progress

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/johndauphine/pgslice/internal/logging"
)

// Tracker tracks completed batches
type Tracker struct {
	bar       *progressbar.ProgressBar
	what      string
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker that draws to w. A negative total draws a spinner,
// for loops whose batch count is unknown up front.
func New(w io.Writer, description string, total int64) *Tracker {
	t := &Tracker{
		what:      description,
		total:     total,
		startTime: time.Now(),
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
	return t
}

// Add increments the progress counter
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		_ = t.bar.Add64(n)
	}
}

// Current returns the current count
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish clears the bar and logs a summary
func (t *Tracker) Finish() {
	if t.bar != nil {
		_ = t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	logging.Info("%s: %s batches in %s", t.what,
		humanize.Comma(t.current.Load()), elapsed.Round(time.Millisecond))
}
