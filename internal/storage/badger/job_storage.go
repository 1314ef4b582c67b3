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

type jobStorage struct {
	store  *Store
	logger *common.Logger
}

func newJobStorage(store *Store, logger *common.Logger) *jobStorage {
	return &jobStorage{store: store, logger: logger}
}

func (s *jobStorage) SaveJob(_ context.Context, job *models.ScanJob) error {
	if job.ID == "" {
		return fmt.Errorf("scan job has no id")
	}
	if err := s.store.db.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save scan job %s: %w", job.ID, err)
	}
	return nil
}

func (s *jobStorage) GetJob(_ context.Context, id string) (*models.ScanJob, error) {
	var job models.ScanJob
	if err := s.store.db.Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scan job %s: %w", id, err)
	}
	return &job, nil
}

func (s *jobStorage) ListJobs(_ context.Context, limit int) ([]*models.ScanJob, error) {
	var jobs []models.ScanJob
	if err := s.store.db.Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].StartedAt.After(jobs[j].StartedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}

	out := make([]*models.ScanJob, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

// MarkInterrupted flips jobs persisted as running to failed.
func (s *jobStorage) MarkInterrupted(ctx context.Context) (int, error) {
	var running []models.ScanJob
	if err := s.store.db.Find(&running, badgerhold.Where("State").Eq(models.ScanStateRunning)); err != nil {
		return 0, fmt.Errorf("failed to find running scan jobs: %w", err)
	}

	now := time.Now()
	for i := range running {
		running[i].Interrupt(now)
		if err := s.SaveJob(ctx, &running[i]); err != nil {
			return i, err
		}
	}
	if len(running) > 0 {
		s.logger.Warn().Int("count", len(running)).Msg("Marked interrupted scan jobs as failed")
	}
	return len(running), nil
}
