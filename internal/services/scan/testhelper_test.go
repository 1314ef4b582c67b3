package scan

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// --- mocks ---

// stubClient serves snapshots keyed by ticker; unknown tickers have no data
type stubClient struct {
	prices    map[models.Ticker]float64
	earnings  map[models.Ticker][]float64
	fail      map[models.Ticker]bool
	panics    map[models.Ticker]bool
	blocked   map[models.Ticker]bool // fetch waits for ctx cancellation
	delay     time.Duration

	mu     sync.Mutex
	stalls map[models.Ticker]chan struct{}

	inFlight  atomic.Int32
	maxFlight atomic.Int32
	fetches   atomic.Int32
	earnCalls atomic.Int32
}

func newStubClient() *stubClient {
	return &stubClient{
		prices:   make(map[models.Ticker]float64),
		earnings: make(map[models.Ticker][]float64),
		fail:     make(map[models.Ticker]bool),
		panics:   make(map[models.Ticker]bool),
		blocked:  make(map[models.Ticker]bool),
		stalls:   make(map[models.Ticker]chan struct{}),
	}
}

// stall makes the next fetch of ticker close the returned channel, wait for
// its context to be cancelled and then return data anyway, like an upstream
// call that was already on the wire.
func (c *stubClient) stall(ticker models.Ticker) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	arrived := make(chan struct{})
	c.stalls[ticker] = arrived
	return arrived
}

func (c *stubClient) takeStall(ticker models.Ticker) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	arrived := c.stalls[ticker]
	delete(c.stalls, ticker)
	return arrived
}

func (c *stubClient) FetchSnapshot(ctx context.Context, ticker models.Ticker) (*models.MarketSnapshot, error) {
	c.fetches.Add(1)
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.maxFlight.Load()
		if n <= peak || c.maxFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if arrived := c.takeStall(ticker); arrived != nil {
		close(arrived)
		<-ctx.Done()
	}
	if c.blocked[ticker] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.panics[ticker] {
		panic("boom " + string(ticker))
	}
	if c.fail[ticker] {
		return nil, errors.New("upstream unavailable")
	}
	price, ok := c.prices[ticker]
	if !ok {
		return &models.MarketSnapshot{Ticker: ticker, NoData: true}, nil
	}
	return &models.MarketSnapshot{
		Ticker:        ticker,
		Name:          "Company " + string(ticker),
		Open:          price,
		High:          price,
		Low:           price,
		Close:         price,
		PreviousClose: price,
		Volume:        1000,
	}, nil
}

func (c *stubClient) FetchEarningsHistory(_ context.Context, ticker models.Ticker) ([]float64, error) {
	c.earnCalls.Add(1)
	return c.earnings[ticker], nil
}

// stubSpike fires with score = close / 10 when close >= 100; panics on close 666.
// With history set, any earlier record suppresses the ticker.
type stubSpike struct {
	history interfaces.HistoryStore
}

func (stubSpike) ID() models.DetectorID { return models.DetectorSpike }

func (s stubSpike) Evaluate(ctx context.Context, snap *models.MarketSnapshot, now time.Time) models.DetectionVerdict {
	if snap.Close == 666 {
		panic("detector bug")
	}
	v := models.DetectionVerdict{Detector: models.DetectorSpike, Ticker: snap.Ticker, EvaluatedAt: now}
	v.Score = int(snap.Close / 10)
	if s.history != nil {
		if last, err := s.history.GetLastDetection(ctx, snap.Ticker, models.DetectorSpike); err == nil && last != nil {
			v.Reason = models.ReasonCooldown
			return v
		}
	}
	if snap.Close >= 100 {
		v.Detected = true
		v.Reason = models.ReasonDetected
	} else {
		v.Reason = models.ReasonNotSticking
	}
	return v
}

// stubTurnaround fires with score 30 when earnings are present
type stubTurnaround struct {
	prescreenOK bool
}

func (stubTurnaround) ID() models.DetectorID { return models.DetectorTurnaround }

func (s stubTurnaround) Prescreen(_ *models.MarketSnapshot, _ time.Time) (models.Reason, bool) {
	if !s.prescreenOK {
		return models.ReasonOutOfWindow, false
	}
	return "", true
}

func (stubTurnaround) Evaluate(_ context.Context, snap *models.MarketSnapshot, now time.Time) models.DetectionVerdict {
	v := models.DetectionVerdict{Detector: models.DetectorTurnaround, Ticker: snap.Ticker, EvaluatedAt: now}
	if len(snap.NetIncome) == 0 {
		v.Reason = models.ReasonNoEarningsData
		return v
	}
	v.Detected = true
	v.Reason = models.ReasonDetected
	v.Score = 30
	return v
}

// memJobStore is an in-memory ScanJobStore
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.ScanJob
	err  error
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]models.ScanJob)}
}

func (s *memJobStore) SaveJob(_ context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *memJobStore) GetJob(_ context.Context, id string) (*models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *memJobStore) ListJobs(_ context.Context, limit int) ([]*models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ScanJob, 0, len(s.jobs))
	for id := range s.jobs {
		job := s.jobs[id]
		out = append(out, &job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memJobStore) MarkInterrupted(_ context.Context) (int, error) {
	return 0, nil
}

// memHistory is an in-memory HistoryStore
type memHistory struct {
	mu      sync.Mutex
	records map[string]models.DetectionHistoryRecord
	writes  []models.DetectionHistoryRecord
}

func newMemHistory() *memHistory {
	return &memHistory{records: make(map[string]models.DetectionHistoryRecord)}
}

func historyKey(t models.Ticker, d models.DetectorID) string { return string(t) + "|" + string(d) }

func (m *memHistory) GetLastDetection(_ context.Context, t models.Ticker, d models.DetectorID) (*models.DetectionHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[historyKey(t, d)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memHistory) RecordDetection(_ context.Context, rec models.DetectionHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[historyKey(rec.Ticker, rec.Detector)] = rec
	m.writes = append(m.writes, rec)
	return nil
}

func (m *memHistory) ListDetections(_ context.Context, d models.DetectorID, since time.Time) ([]models.DetectionHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DetectionHistoryRecord
	for _, rec := range m.writes {
		if (d == "" || rec.Detector == d) && !rec.DetectedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memHistory) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func (m *memHistory) written() []models.DetectionHistoryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DetectionHistoryRecord(nil), m.writes...)
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ScanEvent
}

func (p *recordingPublisher) Publish(event models.ScanEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// staticUniverse returns fixed tickers or an error
type staticUniverse struct {
	tickers []string
	err     error
}

func (u staticUniverse) Tickers(context.Context) ([]string, error) {
	return u.tickers, u.err
}

// --- helpers ---

func testLogger() *common.Logger {
	return common.NewSilentLogger()
}

func newTestOrchestrator(client *stubClient, cfg OrchestratorConfig) *Orchestrator {
	return NewOrchestrator(client, stubSpike{}, stubTurnaround{prescreenOK: true}, nil, cfg, testLogger())
}

// newHistoryOrchestrator wires a cooldown-aware spike stub to history
func newHistoryOrchestrator(client *stubClient, history *memHistory, cfg OrchestratorConfig) *Orchestrator {
	return NewOrchestrator(client, stubSpike{history: history}, stubTurnaround{prescreenOK: true}, history, cfg, testLogger())
}

// waitClosed fails the test if ch is not closed within a few seconds
func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// waitDone blocks until the job's goroutine exits
func waitDone(t *testing.T, r *Registry, id string) {
	t.Helper()
	r.mu.Lock()
	tracker := r.jobs[id]
	r.mu.Unlock()
	if tracker == nil {
		t.Fatalf("job %s not tracked", id)
	}
	select {
	case <-tracker.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", id)
	}
}

func tickers(codes ...string) []models.Ticker {
	out := make([]models.Ticker, len(codes))
	for i, c := range codes {
		out[i] = models.Ticker(c)
	}
	return out
}
