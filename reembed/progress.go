package reembed

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/inkwell/core"
)

// ProgressTracker counts finished documents by status and periodically
// writes a progress line.
type ProgressTracker struct {
	mu             sync.Mutex
	writer         io.Writer
	total          int
	done           int
	tally          map[core.Status]int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
}

// NewProgressTracker creates a tracker expecting total documents that writes
// a line to writer every reportInterval documents.
func NewProgressTracker(writer io.Writer, total, reportInterval int) *ProgressTracker {
	return &ProgressTracker{
		writer:         writer,
		total:          total,
		reportInterval: max(reportInterval, 1),
		tally:          make(map[core.Status]int),
	}
}

// Start resets the counters and starts the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.done = 0
	p.lastReported = 0
	clear(p.tally)
}

// Record counts one finished document. Calls before Start are ignored.
func (p *ProgressTracker) Record(status core.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.tally[status]++
	p.done = min(p.done+1, p.total)
	if p.done-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.done
	}
}

// Tally returns how many recorded documents ended with status.
func (p *ProgressTracker) Tally(status core.Status) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tally[status]
}

// Done returns how many documents have been recorded.
func (p *ProgressTracker) Done() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Finish writes the final progress line. Documents never recorded, for
// example after cancellation, are not counted.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}
	return time.Since(p.startTime)
}

// report must be called with mu held.
func (p *ProgressTracker) report() {
	rate := 0.0
	if secs := time.Since(p.startTime).Seconds(); secs > 0 {
		rate = float64(p.done) / secs
	}
	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.done) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rProgress: %d/%d (%.1f%%) - %.1f documents/s [embedded %d, skipped %d, failed %d]",
		p.done, p.total, percentage, rate,
		p.tally[core.StatusEmbedded], p.tally[core.StatusSkipped], p.tally[core.StatusFailed])
}
