// Package diagnostics is the seam to an external crash/diagnostics service.
// The collector reports non-fatal failures here so they can be triaged
// without stopping collection. Reports carry short relative paths only.
package diagnostics

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/studykeeper/internal/logging"
)

// Reporter receives non-fatal failure reports.
type Reporter interface {
	Report(ctx context.Context, event string, err error, args ...any)
}

// LogReporter forwards reports to a logger at error level.
type LogReporter struct {
	log logging.Logger
}

func NewLogReporter(log logging.Logger) *LogReporter {
	return &LogReporter{log: log.With("component", "diagnostics")}
}

func (r *LogReporter) Report(ctx context.Context, event string, err error, args ...any) {
	r.log.Error(ctx, event, append([]any{"error", err}, args...)...)
}

// Report is a single captured report.
type Report struct {
	Event string
	Err   error
	Args  []any
}

// Recorder keeps reports in memory. It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) Report(_ context.Context, event string, err error, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Event: event, Err: err, Args: args})
}

// Reports returns a copy of everything reported so far.
func (r *Recorder) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

// Count returns how many reports carry the given event name.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rep := range r.reports {
		if rep.Event == event {
			n++
		}
	}
	return n
}
