package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// historySep separates ticker and detector in the record key
const historySep = "|"

type historyStorage struct {
	store  *Store
	logger *common.Logger
}

func newHistoryStorage(store *Store, logger *common.Logger) *historyStorage {
	return &historyStorage{store: store, logger: logger}
}

func historyKey(ticker models.Ticker, detector models.DetectorID) string {
	return string(ticker) + historySep + string(detector)
}

func (s *historyStorage) GetLastDetection(_ context.Context, ticker models.Ticker, detector models.DetectorID) (*models.DetectionHistoryRecord, error) {
	var rec models.DetectionHistoryRecord
	if err := s.store.db.Get(historyKey(ticker, detector), &rec); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get detection history for %s/%s: %w", ticker, detector, err)
	}
	return &rec, nil
}

func (s *historyStorage) RecordDetection(_ context.Context, rec models.DetectionHistoryRecord) error {
	if err := s.store.db.Upsert(historyKey(rec.Ticker, rec.Detector), &rec); err != nil {
		return fmt.Errorf("failed to record detection for %s/%s: %w", rec.Ticker, rec.Detector, err)
	}
	s.logger.Debug().Str("ticker", string(rec.Ticker)).Str("detector", string(rec.Detector)).Msg("Detection recorded")
	return nil
}

func (s *historyStorage) ListDetections(_ context.Context, detector models.DetectorID, since time.Time) ([]models.DetectionHistoryRecord, error) {
	var query *badgerhold.Query
	if detector != "" {
		query = badgerhold.Where("Detector").Eq(detector)
	}

	var recs []models.DetectionHistoryRecord
	if err := s.store.db.Find(&recs, query); err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}

	out := recs[:0]
	for _, r := range recs {
		if !r.DetectedAt.Before(since) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (s *historyStorage) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	var recs []models.DetectionHistoryRecord
	if err := s.store.db.Find(&recs, nil); err != nil {
		return 0, fmt.Errorf("failed to scan detection history: %w", err)
	}

	count := 0
	for _, r := range recs {
		if !r.DetectedAt.Before(cutoff) {
			continue
		}
		if err := s.store.db.Delete(historyKey(r.Ticker, r.Detector), models.DetectionHistoryRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return count, fmt.Errorf("failed to purge %s/%s: %w", r.Ticker, r.Detector, err)
		}
		count++
	}
	if count > 0 {
		s.logger.Info().Int("count", count).Time("cutoff", cutoff).Msg("Detection history purged")
	}
	return count, nil
}
