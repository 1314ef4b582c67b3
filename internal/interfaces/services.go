// Package interfaces defines service contracts for vire-screen
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// Detector evaluates one rule set against a snapshot
type Detector interface {
	ID() models.DetectorID
	Evaluate(ctx context.Context, snap *models.MarketSnapshot, now time.Time) models.DetectionVerdict
}

// ScanService is the scan control surface consumed by the HTTP layer
type ScanService interface {
	// StartScan validates the universe, preempts any running scan and returns the new job id.
	// An empty universe enumerates the configured universe source.
	StartScan(ctx context.Context, universe []string) (string, error)

	// GetStatus resolves "" or "latest" to the most recent job
	GetStatus(ctx context.Context, jobID string) (*models.ScanStatus, error)

	// GetResults resolves "" or "latest" to the most recent job
	GetResults(ctx context.Context, jobID string) (*models.ScanResults, error)

	// ListJobs returns recent jobs, newest first
	ListJobs(ctx context.Context, limit int) ([]*models.ScanJob, error)
}

// EventPublisher receives scan lifecycle events
type EventPublisher interface {
	Publish(event models.ScanEvent)
}
