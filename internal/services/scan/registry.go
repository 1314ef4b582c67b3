package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

var (
	// ErrJobNotFound is returned for an id that neither memory nor the store knows
	ErrJobNotFound = errors.New("scan job not found")
	// ErrInvalidUniverse is returned when a requested universe fails validation
	ErrInvalidUniverse = errors.New("invalid universe")
)

const (
	latestAlias      = "latest"
	messageRunning   = "scan in progress"
	messageStopped   = "stopped by shutdown"
	messageCancelled = "cancelled"
)

// RegistryConfig names the preset jobs run under and how often progress is saved
type RegistryConfig struct {
	Preset         string
	ExchangeSuffix string
	ProgressEvery  int // tickers between progress saves and events; 0 disables
}

// Registry owns scan job lifecycles. Starting a scan preempts the running one.
type Registry struct {
	store        interfaces.ScanJobStore
	hub          interfaces.EventPublisher
	orchestrator *Orchestrator
	universe     interfaces.UniverseSource
	cfg          RegistryConfig
	logger       *common.Logger

	mu       sync.Mutex
	jobs     map[string]*Tracker
	latestID string
	wg       sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// NewRegistry creates a registry. hub and universe may be nil.
func NewRegistry(store interfaces.ScanJobStore, hub interfaces.EventPublisher, orchestrator *Orchestrator, universe interfaces.UniverseSource, cfg RegistryConfig, logger *common.Logger) *Registry {
	return &Registry{
		store:        store,
		hub:          hub,
		orchestrator: orchestrator,
		universe:     universe,
		cfg:          cfg,
		logger:       logger,
		jobs:         make(map[string]*Tracker),
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
}

// StartScan validates the universe, preempts any running scan and launches a new one.
// An empty universe is enumerated from the configured source when the job runs.
func (r *Registry) StartScan(ctx context.Context, universe []string) (string, error) {
	var tickers []models.Ticker
	if len(universe) > 0 {
		var err error
		if tickers, err = r.normalize(universe); err != nil {
			return "", err
		}
	} else if r.universe == nil {
		return "", fmt.Errorf("%w: no tickers given and no universe source configured", ErrInvalidUniverse)
	}

	id := r.newID()
	tracker := NewTracker(id, r.cfg.Preset, r.now())
	jobCtx, cancel := context.WithCancel(context.Background())
	tracker.cancel = cancel

	r.mu.Lock()
	for otherID, other := range r.jobs {
		if other.State() == models.ScanStateRunning {
			other.supersede("superseded by " + id)
			other.cancel()
			r.logger.Info().Str("job_id", otherID).Str("superseded_by", id).Msg("Preempting running scan")
			continue
		}
		if otherID != r.latestID {
			// Terminal jobs stay readable through the store
			delete(r.jobs, otherID)
		}
	}
	r.jobs[id] = tracker
	r.latestID = id
	r.wg.Add(1)
	r.mu.Unlock()

	r.persist(ctx, tracker)
	r.publish(models.ScanEventStarted, tracker)

	r.logger.Info().
		Str("job_id", id).
		Str("preset", r.cfg.Preset).
		Int("tickers", len(tickers)).
		Msg("Scan started")

	go r.run(jobCtx, tracker, tickers)
	return id, nil
}

func (r *Registry) normalize(raw []string) ([]models.Ticker, error) {
	seen := make(map[models.Ticker]bool, len(raw))
	out := make([]models.Ticker, 0, len(raw))
	var invalid []string
	for _, code := range raw {
		t, err := models.NormalizeTicker(code, r.cfg.ExchangeSuffix)
		if err != nil {
			invalid = append(invalid, code)
			continue
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: malformed tickers %s", ErrInvalidUniverse, strings.Join(invalid, ", "))
	}
	return out, nil
}

// enumerate pulls the default universe; malformed entries are dropped
func (r *Registry) enumerate(ctx context.Context) ([]models.Ticker, error) {
	raw, err := r.universe.Tickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate universe: %w", err)
	}
	seen := make(map[models.Ticker]bool, len(raw))
	out := make([]models.Ticker, 0, len(raw))
	for _, code := range raw {
		t, err := models.NormalizeTicker(code, r.cfg.ExchangeSuffix)
		if err != nil {
			r.logger.Warn().Str("ticker", code).Msg("Dropping malformed universe entry")
			continue
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("universe is empty")
	}
	return out, nil
}

func (r *Registry) run(ctx context.Context, tracker *Tracker, tickers []models.Ticker) {
	defer r.wg.Done()
	defer close(tracker.done)
	defer tracker.cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("job_id", tracker.ID()).
				Str("panic", fmt.Sprintf("%v", rec)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in scan job")
			r.complete(tracker, nil, fmt.Errorf("panic: %v", rec))
		}
	}()

	if len(tickers) == 0 {
		var err error
		if tickers, err = r.enumerate(ctx); err != nil {
			r.complete(tracker, nil, err)
			return
		}
	}

	// handled is unique per worker, so each multiple of ProgressEvery fires once
	onTicker := func(handled int) {
		if r.cfg.ProgressEvery > 0 && handled%r.cfg.ProgressEvery == 0 {
			r.persist(ctx, tracker)
			r.publish(models.ScanEventProgress, tracker)
		}
	}

	result, err := r.orchestrator.Run(ctx, tracker, tickers, onTicker)
	r.complete(tracker, result, err)
}

// complete settles the job and saves its final state.
// Detection history is written only once the job is recorded as completed.
func (r *Registry) complete(tracker *Tracker, result *Result, err error) {
	now := r.now()
	event := models.ScanEventCompleted

	// The job context is already cancelled on preemption, so save with a fresh one
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case err == nil:
		msg := fmt.Sprintf("found %d candidates", result.MatchesFound)
		if !tracker.finish(models.ScanStateCompleted, msg, nil, result, now) {
			break
		}
		committed := r.orchestrator.Commit(saveCtx, result)
		r.logger.Info().
			Str("job_id", tracker.ID()).
			Int("processed", result.Processed).
			Int("skipped", result.Skipped).
			Int("matches", result.MatchesFound).
			Int("history_written", committed).
			Msg("Scan completed")

	case errors.Is(err, context.Canceled):
		event = models.ScanEventFailed
		msg := tracker.supersededMessage()
		if msg == "" {
			msg = messageCancelled
		}
		tracker.finish(models.ScanStateFailed, msg, nil, nil, now)
		r.logger.Info().Str("job_id", tracker.ID()).Str("reason", msg).Msg("Scan cancelled")

	default:
		event = models.ScanEventFailed
		tracker.finish(models.ScanStateFailed, "scan failed", err, nil, now)
		r.logger.Error().Err(err).Str("job_id", tracker.ID()).Msg("Scan failed")
	}

	r.persist(saveCtx, tracker)
	r.publish(event, tracker)
}

func (r *Registry) persist(ctx context.Context, tracker *Tracker) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveJob(ctx, tracker.Snapshot()); err != nil {
		r.logger.Warn().Err(err).Str("job_id", tracker.ID()).Msg("Failed to persist scan job")
	}
}

func (r *Registry) publish(eventType string, tracker *Tracker) {
	if r.hub == nil {
		return
	}
	job := tracker.Snapshot()
	r.hub.Publish(models.ScanEvent{
		Type:             eventType,
		JobID:            job.ID,
		State:            job.State,
		Progress:         job.Progress(),
		ProcessedTickers: job.ProcessedTickers,
		TotalTickers:     job.TotalTickers,
		CurrentTicker:    job.CurrentTicker,
		Timestamp:        r.now(),
	})
}

// lookup resolves an id to a job snapshot. nil, nil means no scan has ever run.
func (r *Registry) lookup(ctx context.Context, id string) (*models.ScanJob, error) {
	latest := id == "" || id == latestAlias

	r.mu.Lock()
	if latest {
		id = r.latestID
	}
	tracker := r.jobs[id]
	r.mu.Unlock()

	if tracker != nil {
		return tracker.Snapshot(), nil
	}
	if r.store == nil {
		if latest {
			return nil, nil
		}
		return nil, ErrJobNotFound
	}

	if latest && id == "" {
		// Nothing started in this process; fall back to the newest persisted job
		jobs, err := r.store.ListJobs(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(jobs) == 0 {
			return nil, nil
		}
		return jobs[0], nil
	}

	job, err := r.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// GetStatus answers a status poll. "" and "latest" resolve to the most recent job.
func (r *Registry) GetStatus(ctx context.Context, id string) (*models.ScanStatus, error) {
	job, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return &models.ScanStatus{State: models.ScanStateIdle, Message: models.MessageNoScan}, nil
	}

	msg := job.Message
	if msg == "" && job.State == models.ScanStateRunning {
		msg = messageRunning
	}
	return &models.ScanStatus{
		JobID:            job.ID,
		State:            job.State,
		Progress:         job.Progress(),
		TotalTickers:     job.TotalTickers,
		ProcessedTickers: job.ProcessedTickers,
		SkippedTickers:   job.SkippedTickers,
		CurrentTicker:    job.CurrentTicker,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		Message:          msg,
	}, nil
}

// GetResults returns the job's ranked output. Before any scan it returns an empty result.
func (r *Registry) GetResults(ctx context.Context, id string) (*models.ScanResults, error) {
	job, err := r.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &models.ScanResults{
		State:      models.ScanStateIdle,
		DetectorA:  models.DetectorResults{Candidates: []models.DetectionVerdict{}},
		DetectorB:  models.DetectorResults{Candidates: []models.DetectionVerdict{}},
		Combined:   []models.CombinedCandidate{},
		NearMisses: []models.CombinedCandidate{},
		Message:    models.MessageNoScan,
	}
	if job == nil {
		return res, nil
	}

	res.JobID = job.ID
	res.State = job.State
	res.TotalProcessed = job.ProcessedTickers
	res.MatchesFound = job.MatchesFound
	res.Message = job.Message
	if job.State == models.ScanStateRunning && res.Message == "" {
		res.Message = messageRunning
	}
	if job.DetectedA != nil {
		res.DetectorA.Candidates = job.DetectedA
	}
	res.DetectorA.Detected = len(res.DetectorA.Candidates)
	if job.DetectedB != nil {
		res.DetectorB.Candidates = job.DetectedB
	}
	res.DetectorB.Detected = len(res.DetectorB.Candidates)
	if job.Candidates != nil {
		res.Combined = job.Candidates
	}
	if job.NearMisses != nil {
		res.NearMisses = job.NearMisses
	}
	return res, nil
}

// ListJobs returns recent jobs from the store, newest first
func (r *Registry) ListJobs(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	if r.store == nil {
		return []*models.ScanJob{}, nil
	}
	return r.store.ListJobs(ctx, limit)
}

// Running reports whether any job is still running
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.jobs {
		if t.State() == models.ScanStateRunning {
			return true
		}
	}
	return false
}

// Stop cancels every running job and waits for them to settle.
func (r *Registry) Stop() {
	r.mu.Lock()
	for _, t := range r.jobs {
		if t.State() == models.ScanStateRunning {
			t.supersede(messageStopped)
			t.cancel()
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
	r.logger.Info().Msg("Scan registry stopped")
}

// Compile-time check
var _ interfaces.ScanService = (*Registry)(nil)
