package app

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
)

// scanRunner is the part of the registry the scheduler drives
type scanRunner interface {
	StartScan(ctx context.Context, universe []string) (string, error)
	Running() bool
}

// startScanScheduler runs a full-universe scan on a fixed interval.
// A tick is skipped while a scan is still running so scheduled runs never preempt each other.
func startScanScheduler(ctx context.Context, runner scanRunner, interval time.Duration, logger *common.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Scan scheduler: stopped")
			return
		case <-ticker.C:
			runScheduledScan(ctx, runner, logger)
		}
	}
}

func runScheduledScan(ctx context.Context, runner scanRunner, logger *common.Logger) {
	if runner.Running() {
		logger.Info().Msg("Scan scheduler: previous scan still running, skipping tick")
		return
	}
	id, err := runner.StartScan(ctx, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("Scan scheduler: failed to start scan")
		return
	}
	logger.Info().Str("job_id", id).Msg("Scan scheduler: scan started")
}
