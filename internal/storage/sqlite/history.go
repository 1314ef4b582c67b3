package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/models"
)

type historyStore struct {
	db     *sql.DB
	logger *common.Logger
}

func (s *historyStore) GetLastDetection(ctx context.Context, ticker models.Ticker, detector models.DetectorID) (*models.DetectionHistoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ticker, detector, detected_at, score FROM detection_history WHERE ticker = ? AND detector = ?`,
		string(ticker), string(detector))
	rec, err := scanHistory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection history for %s/%s: %w", ticker, detector, err)
	}
	return rec, nil
}

func (s *historyStore) RecordDetection(ctx context.Context, rec models.DetectionHistoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_history (ticker, detector, detected_at, score)
		VALUES (?,?,?,?)
		ON CONFLICT(ticker, detector) DO UPDATE SET
			detected_at = excluded.detected_at,
			score = excluded.score`,
		string(rec.Ticker), string(rec.Detector), rec.DetectedAt.UnixNano(), rec.Score)
	if err != nil {
		return fmt.Errorf("failed to record detection for %s/%s: %w", rec.Ticker, rec.Detector, err)
	}
	return nil
}

func (s *historyStore) ListDetections(ctx context.Context, detector models.DetectorID, since time.Time) ([]models.DetectionHistoryRecord, error) {
	query := `SELECT ticker, detector, detected_at, score FROM detection_history WHERE detected_at >= ?`
	args := []any{sinceNano(since)}
	if detector != "" {
		query += ` AND detector = ?`
		args = append(args, string(detector))
	}
	query += ` ORDER BY detected_at DESC, ticker ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	recs := []models.DetectionHistoryRecord{}
	for rows.Next() {
		rec, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *historyStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM detection_history WHERE detected_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge detection history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("count", n).Time("cutoff", cutoff).Msg("Detection history purged")
	}
	return int(n), nil
}

// sinceNano maps the zero time to the smallest timestamp so it matches every row
func sinceNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func scanHistory(scan func(dest ...any) error) (*models.DetectionHistoryRecord, error) {
	var (
		rec        models.DetectionHistoryRecord
		ticker     string
		detector   string
		detectedAt int64
	)
	if err := scan(&ticker, &detector, &detectedAt, &rec.Score); err != nil {
		return nil, err
	}
	rec.Ticker = models.Ticker(ticker)
	rec.Detector = models.DetectorID(detector)
	rec.DetectedAt = time.Unix(0, detectedAt).UTC()
	return &rec, nil
}
