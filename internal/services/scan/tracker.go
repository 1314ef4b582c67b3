// Package scan walks a ticker universe through both detectors and tracks scan jobs.
package scan

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// Tracker is the live state of one scan job.
// Counters are atomic so workers can report progress without the job lock.
type Tracker struct {
	id        string
	preset    string
	startedAt time.Time

	total     atomic.Int64
	processed atomic.Int64
	skipped   atomic.Int64
	handled   atomic.Int64
	current   atomic.Value // string

	mu          sync.Mutex
	state       models.ScanState
	message     string
	errText     string
	completedAt time.Time
	result      *Result

	cancel func()
	done   chan struct{}
}

// NewTracker creates a running tracker with no tickers counted yet.
func NewTracker(id, preset string, startedAt time.Time) *Tracker {
	t := &Tracker{
		id:        id,
		preset:    preset,
		startedAt: startedAt,
		state:     models.ScanStateRunning,
		cancel:    func() {},
		done:      make(chan struct{}),
	}
	t.current.Store("")
	return t
}

// ID returns the job id
func (t *Tracker) ID() string { return t.id }

// SetTotal records the universe size once it is known
func (t *Tracker) SetTotal(n int) { t.total.Store(int64(n)) }

// Processed counts a ticker whose snapshot was fetched and sets it as current.
// It returns the handled count this call produced, unique across workers.
func (t *Tracker) Processed(ticker models.Ticker) int {
	t.current.Store(string(ticker))
	t.processed.Add(1)
	return int(t.handled.Add(1))
}

// Skipped counts a ticker with no usable snapshot and returns the handled count it produced.
func (t *Tracker) Skipped() int {
	t.skipped.Add(1)
	return int(t.handled.Add(1))
}

// Handled returns processed plus skipped
func (t *Tracker) Handled() int {
	return int(t.handled.Load())
}

// State returns the job state
func (t *Tracker) State() models.ScanState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// finish moves the job to a terminal state. Only the first call wins.
func (t *Tracker) finish(state models.ScanState, message string, err error, result *Result, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.IsTerminal() {
		return false
	}
	t.state = state
	t.completedAt = now
	if message != "" {
		t.message = message
	}
	if err != nil {
		t.errText = err.Error()
	}
	if result != nil {
		t.result = result
	}
	t.current.Store("")
	return true
}

// supersede records why a preempted job is about to fail
func (t *Tracker) supersede(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.IsTerminal() {
		t.message = message
	}
}

func (t *Tracker) supersededMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// Done is closed once the job's goroutine has exited
func (t *Tracker) Done() <-chan struct{} { return t.done }

// Snapshot returns a point-in-time copy of the job.
func (t *Tracker) Snapshot() *models.ScanJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	job := &models.ScanJob{
		ID:               t.id,
		State:            t.state,
		Preset:           t.preset,
		TotalTickers:     int(t.total.Load()),
		ProcessedTickers: int(t.processed.Load()),
		SkippedTickers:   int(t.skipped.Load()),
		CurrentTicker:    t.current.Load().(string),
		StartedAt:        t.startedAt,
		CompletedAt:      t.completedAt,
		Message:          t.message,
		Error:            t.errText,
	}
	if t.result != nil {
		job.MatchesFound = t.result.MatchesFound
		job.Candidates = t.result.Candidates
		job.NearMisses = t.result.NearMisses
		job.DetectedA = t.result.DetectedA
		job.DetectedB = t.result.DetectedB
	}
	return job
}
