package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

const historySelectFields = "ticker, detector, detected_at, score"

// HistoryStore implements interfaces.HistoryStore using SurrealDB.
type HistoryStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(db *surrealdb.DB, logger *common.Logger) *HistoryStore {
	return &HistoryStore{db: db, logger: logger}
}

// historyID is one record per (ticker, detector); a newer detection overwrites the older
func historyID(ticker models.Ticker, detector models.DetectorID) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(tableHistory, string(ticker)+"_"+string(detector))
}

func (s *HistoryStore) GetLastDetection(ctx context.Context, ticker models.Ticker, detector models.DetectorID) (*models.DetectionHistoryRecord, error) {
	sql := "SELECT " + historySelectFields + " FROM $rid"
	vars := map[string]any{"rid": historyID(ticker, detector)}

	results, err := surrealdb.Query[[]models.DetectionHistoryRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get detection history for %s/%s: %w", ticker, detector, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	rec := (*results)[0].Result[0]
	return &rec, nil
}

func (s *HistoryStore) RecordDetection(ctx context.Context, rec models.DetectionHistoryRecord) error {
	sql := `UPSERT $rid SET ticker = $ticker, detector = $detector, detected_at = $detected_at, score = $score`
	vars := map[string]any{
		"rid":         historyID(rec.Ticker, rec.Detector),
		"ticker":      string(rec.Ticker),
		"detector":    string(rec.Detector),
		"detected_at": rec.DetectedAt,
		"score":       rec.Score,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to record detection for %s/%s: %w", rec.Ticker, rec.Detector, err)
	}
	return nil
}

func (s *HistoryStore) ListDetections(ctx context.Context, detector models.DetectorID, since time.Time) ([]models.DetectionHistoryRecord, error) {
	sql := "SELECT " + historySelectFields + " FROM " + tableHistory
	vars := map[string]any{}

	var where []string
	if !since.IsZero() {
		where = append(where, "detected_at >= $since")
		vars["since"] = since
	}
	if detector != "" {
		where = append(where, "detector = $detector")
		vars["detector"] = string(detector)
	}
	for i, clause := range where {
		if i == 0 {
			sql += " WHERE " + clause
		} else {
			sql += " AND " + clause
		}
	}
	sql += " ORDER BY detected_at DESC"

	results, err := surrealdb.Query[[]models.DetectionHistoryRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.DetectionHistoryRecord{}, nil
	}
	return (*results)[0].Result, nil
}

func (s *HistoryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sql := "DELETE " + tableHistory + " WHERE detected_at < $cutoff RETURN BEFORE"
	vars := map[string]any{"cutoff": cutoff}

	results, err := surrealdb.Query[[]models.DetectionHistoryRecord](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to purge detection history: %w", err)
	}
	count := 0
	if results != nil && len(*results) > 0 {
		count = len((*results)[0].Result)
	}
	if count > 0 {
		s.logger.Info().Int("count", count).Time("cutoff", cutoff).Msg("Detection history purged")
	}
	return count, nil
}

var _ interfaces.HistoryStore = (*HistoryStore)(nil)
