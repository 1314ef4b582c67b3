// Package interfaces defines service contracts for vire-screen
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// StorageManager coordinates the persisted stores of one backend
type StorageManager interface {
	HistoryStore() HistoryStore
	ScanJobStore() ScanJobStore

	// Backend returns the backend name ("badger", "surrealdb", "sqlite")
	Backend() string

	Close() error
}

// HistoryStore records the last detection per (ticker, detector) for cooldown suppression.
type HistoryStore interface {
	// GetLastDetection returns nil, nil when the pair has never fired
	GetLastDetection(ctx context.Context, ticker models.Ticker, detector models.DetectorID) (*models.DetectionHistoryRecord, error)
	RecordDetection(ctx context.Context, record models.DetectionHistoryRecord) error
	// ListDetections returns records for a detector detected at or after since, newest first.
	// An empty detector lists both.
	ListDetections(ctx context.Context, detector models.DetectorID, since time.Time) ([]models.DetectionHistoryRecord, error)
	// PurgeBefore deletes records older than cutoff and returns the count
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ScanJobStore persists scan jobs keyed by job id.
type ScanJobStore interface {
	SaveJob(ctx context.Context, job *models.ScanJob) error
	// GetJob returns nil, nil when the job does not exist
	GetJob(ctx context.Context, id string) (*models.ScanJob, error)
	// ListJobs returns the most recent jobs first
	ListJobs(ctx context.Context, limit int) ([]*models.ScanJob, error)
	// MarkInterrupted flips persisted running jobs to failed. Called on startup.
	MarkInterrupted(ctx context.Context) (int, error)
}
