package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// jobSelectFields aliases job_id to id for struct mapping; started_at is selected for ORDER BY.
const jobSelectFields = "job_id as id, state, started_at, payload"

// jobRow keeps the full job as JSON with the filter and sort fields broken out
type jobRow struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Payload   string    `json:"payload"`
}

// JobStore implements interfaces.ScanJobStore using SurrealDB.
type JobStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) SaveJob(ctx context.Context, job *models.ScanJob) error {
	if job.ID == "" {
		return fmt.Errorf("scan job has no id")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal scan job %s: %w", job.ID, err)
	}

	sql := `UPSERT $rid SET job_id = $job_id, state = $state, started_at = $started_at, payload = $payload`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID(tableJobs, job.ID),
		"job_id":     job.ID,
		"state":      string(job.State),
		"started_at": job.StartedAt,
		"payload":    string(payload),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save scan job %s: %w", job.ID, err)
	}
	return nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*models.ScanJob, error) {
	sql := "SELECT " + jobSelectFields + " FROM $rid"
	vars := map[string]any{"rid": surrealmodels.NewRecordID(tableJobs, id)}

	jobs, err := s.query(ctx, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get scan job %s: %w", id, err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	sql := "SELECT " + jobSelectFields + " FROM " + tableJobs + " ORDER BY started_at DESC"
	vars := map[string]any{}
	if limit > 0 {
		sql += " LIMIT $limit"
		vars["limit"] = limit
	}
	jobs, err := s.query(ctx, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}
	return jobs, nil
}

// MarkInterrupted flips jobs persisted as running to failed.
// Called on startup to settle jobs that were in flight when the process stopped.
func (s *JobStore) MarkInterrupted(ctx context.Context) (int, error) {
	sql := "SELECT " + jobSelectFields + " FROM " + tableJobs + " WHERE state = $running"
	running, err := s.query(ctx, sql, map[string]any{"running": string(models.ScanStateRunning)})
	if err != nil {
		return 0, fmt.Errorf("failed to find running scan jobs: %w", err)
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

func (s *JobStore) query(ctx context.Context, sql string, vars map[string]any) ([]*models.ScanJob, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, err
	}
	jobs := []*models.ScanJob{}
	if results == nil || len(*results) == 0 {
		return jobs, nil
	}
	for _, row := range (*results)[0].Result {
		var job models.ScanJob
		if err := json.Unmarshal([]byte(row.Payload), &job); err != nil {
			return nil, fmt.Errorf("failed to decode scan job %s: %w", row.ID, err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

var _ interfaces.ScanJobStore = (*JobStore)(nil)
