package scan

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
	"github.com/bobmcallan/vire-screen/internal/services/screen"
)

// Prescreener is a detector that can rule a ticker out before its earnings are fetched
type Prescreener interface {
	interfaces.Detector
	Prescreen(snap *models.MarketSnapshot, now time.Time) (models.Reason, bool)
}

// OrchestratorConfig bounds one scan run
type OrchestratorConfig struct {
	Concurrency       int
	MaxProcessed      int // 0 = unlimited
	MinCandidateScore int
	NearMissMin       int // 0 disables near misses
	NearMissMax       int
	ResultLimit       int // 0 keeps all
}

// Result is the ranked outcome of a scan
type Result struct {
	MatchesFound int                        `json:"matches_found"`
	Candidates   []models.CombinedCandidate `json:"candidates"`
	NearMisses   []models.CombinedCandidate `json:"near_misses"`
	DetectedA    []models.DetectionVerdict  `json:"detected_a"`
	DetectedB    []models.DetectionVerdict  `json:"detected_b"`
	Processed    int                        `json:"processed"`
	Skipped      int                        `json:"skipped"`
}

// Orchestrator fans a universe out over a bounded worker set.
type Orchestrator struct {
	client     interfaces.MarketSnapshotClient
	spike      interfaces.Detector
	turnaround Prescreener
	history    interfaces.HistoryStore
	cfg        OrchestratorConfig
	logger     *common.Logger
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator. Concurrency below 1 runs sequentially.
// history receives committed detections and may be nil.
func NewOrchestrator(client interfaces.MarketSnapshotClient, spike interfaces.Detector, turnaround Prescreener, history interfaces.HistoryStore, cfg OrchestratorConfig, logger *common.Logger) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Orchestrator{
		client:     client,
		spike:      spike,
		turnaround: turnaround,
		history:    history,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Config returns the run limits
func (o *Orchestrator) Config() OrchestratorConfig { return o.cfg }

// accumulator collects per-ticker outcomes from concurrent workers
type accumulator struct {
	mu         sync.Mutex
	candidates []models.CombinedCandidate
	nearMisses []models.CombinedCandidate
	detectedA  []models.DetectionVerdict
	detectedB  []models.DetectionVerdict
}

// Run evaluates every ticker and returns the ranked result.
// A ticker that fails to fetch or panics never fails the run. Cancellation stops
// dispatch; tickers already in flight finish and the error is ctx.Err().
// Run writes no detection history; see Commit.
func (o *Orchestrator) Run(ctx context.Context, tracker *Tracker, universe []models.Ticker, onTicker func(handled int)) (*Result, error) {
	if onTicker == nil {
		onTicker = func(int) {}
	}
	tracker.SetTotal(len(universe))

	acc := &accumulator{}
	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup
	var stopErr error

	for i, ticker := range universe {
		if o.cfg.MaxProcessed > 0 && i >= o.cfg.MaxProcessed {
			o.logger.Info().
				Str("job_id", tracker.ID()).
				Int("max_processed", o.cfg.MaxProcessed).
				Msg("Scan reached processed cap, stopping dispatch")
			break
		}
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			stopErr = ctx.Err()
		}
		if stopErr != nil {
			break
		}

		wg.Add(1)
		go func(ticker models.Ticker) {
			defer wg.Done()
			defer func() { <-sem }()
			onTicker(o.safeEvaluate(ctx, tracker, ticker, acc))
		}(ticker)
	}
	wg.Wait()

	// A cancel that lands after the last dispatch still voids the run
	if stopErr == nil {
		stopErr = ctx.Err()
	}
	if stopErr != nil {
		return nil, stopErr
	}

	res := &Result{
		MatchesFound: len(acc.candidates),
		Candidates:   screen.Rank(acc.candidates, o.cfg.ResultLimit),
		NearMisses:   screen.Order(acc.nearMisses, o.cfg.ResultLimit),
		DetectedA:    screen.RankVerdicts(acc.detectedA),
		DetectedB:    screen.RankVerdicts(acc.detectedB),
	}
	snap := tracker.Snapshot()
	res.Processed = snap.ProcessedTickers
	res.Skipped = snap.SkippedTickers
	return res, nil
}

// Commit starts the cooldown for every detection in a delivered result and
// returns how many records were written. Results from a cancelled run are never committed.
func (o *Orchestrator) Commit(ctx context.Context, res *Result) int {
	if res == nil {
		return 0
	}
	return screen.CommitDetections(ctx, o.history, o.logger, res.DetectedA, res.DetectedB)
}

// safeEvaluate isolates one ticker and returns the handled count its tracker update produced.
// A panic is logged and counts as no detection.
func (o *Orchestrator) safeEvaluate(ctx context.Context, tracker *Tracker, ticker models.Ticker, acc *accumulator) (handled int) {
	counted := false
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("job_id", tracker.ID()).
				Str("ticker", string(ticker)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic evaluating ticker")
			if !counted {
				handled = tracker.Skipped()
			}
		}
	}()

	snap, err := o.client.FetchSnapshot(ctx, ticker)
	if err != nil || snap == nil || snap.NoData {
		handled = tracker.Skipped()
		counted = true
		if err != nil {
			o.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("Snapshot fetch failed, skipping ticker")
		} else {
			o.logger.Debug().Str("ticker", string(ticker)).Msg("No market data, skipping ticker")
		}
		return handled
	}
	handled = tracker.Processed(ticker)
	counted = true

	now := o.now()
	a := o.spike.Evaluate(ctx, snap, now)

	if reason, ok := o.turnaround.Prescreen(snap, now); ok {
		netIncome, err := o.client.FetchEarningsHistory(ctx, ticker)
		if err != nil {
			o.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("Earnings fetch failed")
		}
		snap.NetIncome = netIncome
	} else {
		o.logger.Debug().Str("ticker", string(ticker)).Str("reason", string(reason)).Msg("Turnaround prescreen rejected ticker")
	}
	b := o.turnaround.Evaluate(ctx, snap, now)

	combined := screen.Combine(ticker, snap.Name, snap.Volume, &a, &b)
	isCandidate := screen.IsCandidate(&a, &b, o.cfg.MinCandidateScore)
	isNearMiss := screen.IsNearMiss(&a, &b, o.cfg.MinCandidateScore, o.cfg.NearMissMin, o.cfg.NearMissMax)

	acc.mu.Lock()
	defer acc.mu.Unlock()
	if a.Detected {
		acc.detectedA = append(acc.detectedA, a)
	}
	if b.Detected {
		acc.detectedB = append(acc.detectedB, b)
	}
	switch {
	case isCandidate:
		acc.candidates = append(acc.candidates, combined)
	case isNearMiss:
		acc.nearMisses = append(acc.nearMisses, combined)
	}
	return handled
}
