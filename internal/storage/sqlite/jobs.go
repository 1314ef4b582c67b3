package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// jobStore keeps the full job as a JSON payload with state and start time
// broken out for filtering and ordering.
type jobStore struct {
	db     *sql.DB
	logger *common.Logger
}

func (s *jobStore) SaveJob(ctx context.Context, job *models.ScanJob) error {
	if job.ID == "" {
		return fmt.Errorf("scan job has no id")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal scan job %s: %w", job.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_jobs (id, state, started_at, payload)
		VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			payload = excluded.payload`,
		job.ID, string(job.State), job.StartedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to save scan job %s: %w", job.ID, err)
	}
	return nil
}

func (s *jobStore) GetJob(ctx context.Context, id string) (*models.ScanJob, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM scan_jobs WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan job %s: %w", id, err)
	}
	return decodeJob(payload)
}

func (s *jobStore) ListJobs(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	query := `SELECT payload FROM scan_jobs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryJobs(ctx, query, args...)
}

func (s *jobStore) MarkInterrupted(ctx context.Context) (int, error) {
	running, err := s.queryJobs(ctx, `SELECT payload FROM scan_jobs WHERE state = ?`, string(models.ScanStateRunning))
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for i, job := range running {
		job.Interrupt(now)
		if err := s.SaveJob(ctx, job); err != nil {
			return i, err
		}
	}
	if len(running) > 0 {
		s.logger.Warn().Int("count", len(running)).Msg("Marked interrupted scan jobs as failed")
	}
	return len(running), nil
}

func (s *jobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*models.ScanJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.ScanJob{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func decodeJob(payload string) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode scan job: %w", err)
	}
	return &job, nil
}
