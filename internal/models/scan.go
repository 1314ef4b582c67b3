package models

import "time"

// ScanState is the lifecycle state of a scan job.
type ScanState string

const (
	ScanStateIdle      ScanState = "idle"
	ScanStateRunning   ScanState = "running"
	ScanStateCompleted ScanState = "completed"
	ScanStateFailed    ScanState = "failed"
)

// IsTerminal reports whether the state is completed or failed.
func (s ScanState) IsTerminal() bool {
	return s == ScanStateCompleted || s == ScanStateFailed
}

// Job messages shared by the registry and the stores
const (
	MessageNoScan      = "no scan yet"
	MessageInterrupted = "interrupted by restart"
)

// ScanJob is one screening run over a ticker universe.
type ScanJob struct {
	ID               string              `json:"id"`
	State            ScanState           `json:"state"`
	Preset           string              `json:"preset"`
	TotalTickers     int                 `json:"total_tickers"`
	ProcessedTickers int                 `json:"processed_tickers"`
	SkippedTickers   int                 `json:"skipped_tickers"`
	CurrentTicker    string              `json:"current_ticker,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	CompletedAt      time.Time           `json:"completed_at,omitempty"`
	Message          string              `json:"message,omitempty"`
	Error            string              `json:"error,omitempty"`
	MatchesFound     int                 `json:"matches_found"`
	Candidates       []CombinedCandidate `json:"candidates,omitempty"`
	NearMisses       []CombinedCandidate `json:"near_misses,omitempty"`
	DetectedA        []DetectionVerdict  `json:"detected_a,omitempty"`
	DetectedB        []DetectionVerdict  `json:"detected_b,omitempty"`
}

// Progress returns the share of the universe handled so far, in percent.
func (j *ScanJob) Progress() float64 {
	if j.TotalTickers <= 0 {
		if j.State == ScanStateCompleted {
			return 100
		}
		return 0
	}
	p := float64(j.ProcessedTickers+j.SkippedTickers) / float64(j.TotalTickers) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Interrupt marks a job that was running when the process stopped.
func (j *ScanJob) Interrupt(now time.Time) {
	j.State = ScanStateFailed
	j.Message = MessageInterrupted
	j.CurrentTicker = ""
	if j.CompletedAt.IsZero() {
		j.CompletedAt = now
	}
}

// ScanStatus answers a status poll.
type ScanStatus struct {
	JobID            string    `json:"job_id,omitempty"`
	State            ScanState `json:"state"`
	Progress         float64   `json:"progress"`
	TotalTickers     int       `json:"total_tickers"`
	ProcessedTickers int       `json:"processed_tickers"`
	SkippedTickers   int       `json:"skipped_tickers"`
	CurrentTicker    string    `json:"current_ticker,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	Message          string    `json:"message"`
}

// DetectorResults lists one detector's firing verdicts.
type DetectorResults struct {
	Detected   int                `json:"detected"`
	Candidates []DetectionVerdict `json:"candidates"`
}

// ScanResults answers a results query.
type ScanResults struct {
	JobID          string              `json:"job_id,omitempty"`
	State          ScanState           `json:"state"`
	TotalProcessed int                 `json:"total_processed"`
	MatchesFound   int                 `json:"matches_found"`
	DetectorA      DetectorResults     `json:"detector_a"`
	DetectorB      DetectorResults     `json:"detector_b"`
	Combined       []CombinedCandidate `json:"combined"`
	NearMisses     []CombinedCandidate `json:"near_misses"`
	Message        string              `json:"message,omitempty"`
}

// Scan event types
const (
	ScanEventStarted   = "scan_started"
	ScanEventProgress  = "scan_progress"
	ScanEventCompleted = "scan_completed"
	ScanEventFailed    = "scan_failed"
)

// ScanEvent is pushed to WebSocket subscribers.
type ScanEvent struct {
	Type             string    `json:"type"`
	JobID            string    `json:"job_id"`
	State            ScanState `json:"state"`
	Progress         float64   `json:"progress"`
	ProcessedTickers int       `json:"processed_tickers"`
	TotalTickers     int       `json:"total_tickers"`
	CurrentTicker    string    `json:"current_ticker,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}
