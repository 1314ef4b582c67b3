// Package storetest holds behaviour tests shared by every storage backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// base is truncated to the microsecond so every backend round-trips it exactly
var base = time.Date(2025, 3, 10, 6, 30, 0, 0, time.UTC)

// RunHistoryStore exercises a HistoryStore. newStore must return an empty store.
func RunHistoryStore(t *testing.T, newStore func(t *testing.T) interfaces.HistoryStore) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.GetLastDetection(ctx, "1234.TSE", models.DetectorSpike)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("record_and_overwrite", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.RecordDetection(ctx, models.DetectionHistoryRecord{
			Ticker: "1234.TSE", Detector: models.DetectorSpike, DetectedAt: base.AddDate(0, 0, -30), Score: 50,
		}))
		require.NoError(t, s.RecordDetection(ctx, models.DetectionHistoryRecord{
			Ticker: "1234.TSE", Detector: models.DetectorSpike, DetectedAt: base, Score: 65,
		}))

		rec, err := s.GetLastDetection(ctx, "1234.TSE", models.DetectorSpike)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, models.Ticker("1234.TSE"), rec.Ticker)
		assert.Equal(t, models.DetectorSpike, rec.Detector)
		assert.WithinDuration(t, base, rec.DetectedAt, time.Millisecond)
		assert.Equal(t, 65, rec.Score)
	})

	t.Run("detectors_are_independent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.RecordDetection(ctx, models.DetectionHistoryRecord{
			Ticker: "1234.TSE", Detector: models.DetectorTurnaround, DetectedAt: base, Score: 80,
		}))

		rec, err := s.GetLastDetection(ctx, "1234.TSE", models.DetectorSpike)
		require.NoError(t, err)
		assert.Nil(t, rec)

		rec, err = s.GetLastDetection(ctx, "1234.TSE", models.DetectorTurnaround)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, 80, rec.Score)
	})

	t.Run("list_and_purge", func(t *testing.T) {
		s := newStore(t)
		seed := []models.DetectionHistoryRecord{
			{Ticker: "1111.TSE", Detector: models.DetectorSpike, DetectedAt: base.AddDate(0, 0, -200), Score: 40},
			{Ticker: "2222.TSE", Detector: models.DetectorSpike, DetectedAt: base.AddDate(0, 0, -10), Score: 45},
			{Ticker: "3333.TSE", Detector: models.DetectorTurnaround, DetectedAt: base.AddDate(0, 0, -5), Score: 70},
			{Ticker: "4444.TSE", Detector: models.DetectorSpike, DetectedAt: base.AddDate(0, 0, -1), Score: 60},
		}
		for _, rec := range seed {
			require.NoError(t, s.RecordDetection(ctx, rec))
		}

		since := base.AddDate(0, 0, -180)
		spikes, err := s.ListDetections(ctx, models.DetectorSpike, since)
		require.NoError(t, err)
		require.Len(t, spikes, 2)
		assert.Equal(t, models.Ticker("4444.TSE"), spikes[0].Ticker, "newest first")
		assert.Equal(t, models.Ticker("2222.TSE"), spikes[1].Ticker)

		all, err := s.ListDetections(ctx, "", since)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, models.Ticker("3333.TSE"), all[1].Ticker)

		n, err := s.PurgeBefore(ctx, since)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		rec, err := s.GetLastDetection(ctx, "1111.TSE", models.DetectorSpike)
		require.NoError(t, err)
		assert.Nil(t, rec)

		all, err = s.ListDetections(ctx, "", time.Time{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func sampleJob(id string, state models.ScanState, started time.Time) *models.ScanJob {
	a := &models.DetectionVerdict{
		Detector: models.DetectorSpike, Ticker: "1234.TSE", Detected: true, Score: 65, Reason: models.ReasonDetected,
		Spike:  &models.SpikeDetails{LimitUpPrice: 480, LimitRate: 0.2, Threshold: 456, Sticking: true, ChangePct: 15},
		Signal: &models.TradeSignal{EntryPrice: 460, TargetPrice: 506, StopLossPrice: 437, MaxHoldDays: 3, RiskTier: models.RiskHigh},
	}
	return &models.ScanJob{
		ID:               id,
		State:            state,
		Preset:           "strict",
		TotalTickers:     10,
		ProcessedTickers: 8,
		SkippedTickers:   2,
		StartedAt:        started,
		MatchesFound:     1,
		Candidates: []models.CombinedCandidate{{
			Ticker: "1234.TSE", TotalScore: 90, ScoreA: 65, DetectorA: a, PriorityTier: models.TierPriority,
			Bonuses: []models.Bonus{{Reason: "limit_sticking", Points: 15}, {Reason: "high_volume", Points: 10}},
		}},
		DetectedA: []models.DetectionVerdict{*a},
	}
}

// RunScanJobStore exercises a ScanJobStore. newStore must return an empty store.
func RunScanJobStore(t *testing.T, newStore func(t *testing.T) interfaces.ScanJobStore) {
	ctx := context.Background()

	t.Run("absent", func(t *testing.T) {
		s := newStore(t)
		job, err := s.GetJob(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("save_get_update", func(t *testing.T) {
		s := newStore(t)
		job := sampleJob("job-1", models.ScanStateRunning, base)
		require.NoError(t, s.SaveJob(ctx, job))

		got, err := s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.ScanStateRunning, got.State)
		assert.Equal(t, 8, got.ProcessedTickers)
		assert.WithinDuration(t, base, got.StartedAt, time.Millisecond)
		require.Len(t, got.Candidates, 1)
		assert.Equal(t, 90, got.Candidates[0].TotalScore)
		require.NotNil(t, got.Candidates[0].DetectorA)
		require.NotNil(t, got.Candidates[0].DetectorA.Spike)
		assert.True(t, got.Candidates[0].DetectorA.Spike.Sticking)
		assert.Len(t, got.Candidates[0].Bonuses, 2)
		require.Len(t, got.DetectedA, 1)
		assert.Equal(t, 506.0, got.DetectedA[0].Signal.TargetPrice)

		job.State = models.ScanStateCompleted
		job.ProcessedTickers = 10
		job.CompletedAt = base.Add(time.Minute)
		require.NoError(t, s.SaveJob(ctx, job))

		got, err = s.GetJob(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, models.ScanStateCompleted, got.State)
		assert.Equal(t, 10, got.ProcessedTickers)
	})

	t.Run("list_newest_first", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveJob(ctx, sampleJob("old", models.ScanStateCompleted, base.Add(-2*time.Hour))))
		require.NoError(t, s.SaveJob(ctx, sampleJob("new", models.ScanStateCompleted, base)))
		require.NoError(t, s.SaveJob(ctx, sampleJob("mid", models.ScanStateFailed, base.Add(-time.Hour))))

		jobs, err := s.ListJobs(ctx, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, "new", jobs[0].ID)
		assert.Equal(t, "mid", jobs[1].ID)
		assert.Equal(t, "old", jobs[2].ID)

		jobs, err = s.ListJobs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "new", jobs[0].ID)
	})

	t.Run("mark_interrupted", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveJob(ctx, sampleJob("running", models.ScanStateRunning, base)))
		require.NoError(t, s.SaveJob(ctx, sampleJob("done", models.ScanStateCompleted, base.Add(-time.Hour))))

		n, err := s.MarkInterrupted(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetJob(ctx, "running")
		require.NoError(t, err)
		assert.Equal(t, models.ScanStateFailed, got.State)
		assert.Equal(t, models.MessageInterrupted, got.Message)
		assert.False(t, got.CompletedAt.IsZero())

		got, err = s.GetJob(ctx, "done")
		require.NoError(t, err)
		assert.Equal(t, models.ScanStateCompleted, got.State)

		n, err = s.MarkInterrupted(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})
}
