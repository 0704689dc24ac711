package sync

import (
	"log"
	"os"
)

// Counts tracks how many entities one session has committed.
//
// Counters increment on every commit event, not per distinct entity, so a
// re-delivered remote id counts twice. This matches the totals the desktop
// reports, keeping the progress bar honest during a resumed sync.
type Counts struct {
	Categories int `json:"categories"`
	Tasks      int `json:"tasks"`
	Efforts    int `json:"efforts"`

	// Done counts tasks committed with a completion date.
	Done int `json:"done"`
}

// Committed returns the total number of commit events across all kinds.
func (c Counts) Committed() int {
	return c.Categories + c.Tasks + c.Efforts
}

// Reporter receives progress and terminal notifications for one session.
//
// Progress is called after every committed entity. Exactly one of Complete
// or Failure is called, once; after a terminal callback no further
// callbacks occur for that session.
type Reporter interface {
	Progress(counts Counts, total int)
	Complete(counts Counts)
	Failure(err *Error)
}

// NopReporter discards all notifications.
type NopReporter struct{}

// Progress implements Reporter.
func (NopReporter) Progress(Counts, int) {}

// Complete implements Reporter.
func (NopReporter) Complete(Counts) {}

// Failure implements Reporter.
func (NopReporter) Failure(*Error) {}

// LogReporter writes progress and terminal notifications to a logger.
type LogReporter struct {
	logger *log.Logger
}

// NewLogReporter creates a LogReporter. If logger is nil, a default logger
// writing to stderr is used.
func NewLogReporter(logger *log.Logger) *LogReporter {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &LogReporter{logger: logger}
}

// Progress implements Reporter.
func (r *LogReporter) Progress(counts Counts, total int) {
	r.logger.Printf("progress: %d/%d (categories=%d tasks=%d efforts=%d done=%d)",
		counts.Committed(), total, counts.Categories, counts.Tasks, counts.Efforts, counts.Done)
}

// Complete implements Reporter.
func (r *LogReporter) Complete(counts Counts) {
	r.logger.Printf("complete: categories=%d tasks=%d efforts=%d done=%d",
		counts.Categories, counts.Tasks, counts.Efforts, counts.Done)
}

// Failure implements Reporter.
func (r *LogReporter) Failure(err *Error) {
	r.logger.Printf("failed: %v", err)
}
