package batch

import (
	"sync/atomic"
	"time"
)

// Progress is a point-in-time snapshot of a running batch.
type Progress struct {
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	StartedAt  time.Time `json:"started_at"`
}

// Tracker accumulates outcome counts across goroutines. Wire Observe into
// Options.OnProgress to expose live progress from a status endpoint.
type Tracker struct {
	total      int
	successful atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	startedAt  time.Time
}

// NewTracker returns a Tracker for a run over total items.
func NewTracker(total int) *Tracker {
	return &Tracker{total: total, startedAt: time.Now().UTC()}
}

// Observe records one finalized outcome status.
func (t *Tracker) Observe(s Status) {
	switch s {
	case StatusSuccess:
		t.successful.Add(1)
	case StatusFailed:
		t.failed.Add(1)
	default:
		t.skipped.Add(1)
	}
}

// Snapshot returns the counts seen so far.
func (t *Tracker) Snapshot() Progress {
	s := int(t.successful.Load())
	f := int(t.failed.Load())
	k := int(t.skipped.Load())
	return Progress{
		Total:      t.total,
		Completed:  s + f + k,
		Successful: s,
		Failed:     f,
		Skipped:    k,
		StartedAt:  t.startedAt,
	}
}
