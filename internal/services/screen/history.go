package screen

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// suppressed reports whether the pair is still inside its cooldown.
// A history read failure is logged and treated as not suppressed.
func suppressed(ctx context.Context, store interfaces.HistoryStore, logger *common.Logger, ticker models.Ticker, detector models.DetectorID, now time.Time, window time.Duration) bool {
	if store == nil {
		return false
	}
	last, err := store.GetLastDetection(ctx, ticker, detector)
	if err != nil {
		logger.Warn().Err(err).Str("ticker", string(ticker)).Str("detector", string(detector)).Msg("History lookup failed, skipping cooldown check")
		return false
	}
	if last == nil {
		return false
	}
	return common.InCooldown(last.DetectedAt, now, window)
}

// CommitDetections writes a history record for every firing verdict and
// returns how many were stored. Call it only for a scan that completed, so a
// cancelled run never starts a cooldown for results nobody received.
// Write failures are logged and skipped.
func CommitDetections(ctx context.Context, store interfaces.HistoryStore, logger *common.Logger, verdicts ...[]models.DetectionVerdict) int {
	if store == nil {
		return 0
	}
	written := 0
	for _, group := range verdicts {
		for _, v := range group {
			if !v.Detected {
				continue
			}
			rec := models.DetectionHistoryRecord{
				Ticker:     v.Ticker,
				Detector:   v.Detector,
				DetectedAt: v.EvaluatedAt,
				Score:      v.Score,
			}
			if err := store.RecordDetection(ctx, rec); err != nil {
				logger.Warn().Err(err).Str("ticker", string(rec.Ticker)).Str("detector", string(rec.Detector)).Msg("Failed to record detection")
				continue
			}
			written++
		}
	}
	return written
}
