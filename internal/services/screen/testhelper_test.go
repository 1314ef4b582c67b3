package screen

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/models"
)

// scanDay is inside the default earnings windows (day 10)
var scanDay = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

// memHistory is an in-memory HistoryStore
type memHistory struct {
	mu       sync.Mutex
	records  map[string]models.DetectionHistoryRecord
	writes   []models.DetectionHistoryRecord
	readErr  error
	writeErr error
}

func newMemHistory() *memHistory {
	return &memHistory{records: make(map[string]models.DetectionHistoryRecord)}
}

func historyKey(t models.Ticker, d models.DetectorID) string { return string(t) + "|" + string(d) }

func (m *memHistory) GetLastDetection(_ context.Context, t models.Ticker, d models.DetectorID) (*models.DetectionHistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	rec, ok := m.records[historyKey(t, d)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *memHistory) RecordDetection(_ context.Context, rec models.DetectionHistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.records[historyKey(rec.Ticker, rec.Detector)] = rec
	m.writes = append(m.writes, rec)
	return nil
}

func (m *memHistory) ListDetections(_ context.Context, d models.DetectorID, since time.Time) ([]models.DetectionHistoryRecord, error) {
	return nil, errors.New("not implemented")
}

func (m *memHistory) PurgeBefore(_ context.Context, cutoff time.Time) (int, error) {
	return 0, errors.New("not implemented")
}

func testLogger() *common.Logger {
	return common.NewSilentLogger()
}

// flatBars builds n newest-first daily bars ending at scanDay with a constant close and volume
func flatBars(n int, close float64, volume int64) []models.Bar {
	bars := make([]models.Bar, n)
	for i := 0; i < n; i++ {
		bars[i] = models.Bar{
			Date:   scanDay.AddDate(0, 0, -i),
			Open:   close,
			High:   close,
			Low:    close,
			Close:  close,
			Volume: volume,
		}
	}
	return bars
}

// withLatest replaces bars[0] and rebuilds the snapshot's session fields
func withLatest(ticker models.Ticker, bars []models.Bar, latest models.Bar) *models.MarketSnapshot {
	latest.Date = bars[0].Date
	bars[0] = latest
	return models.SnapshotFromBars(ticker, bars)
}

// stickingSnap: open 400, limit 480 (20% tier), close 460 >= 456, 15M shares
func stickingSnap() *models.MarketSnapshot {
	bars := flatBars(60, 400, 2_000_000)
	snap := withLatest("1234.TSE", bars, models.Bar{Open: 400, High: 480, Low: 395, Close: 460, Volume: 15_000_000})
	listed := scanDay.AddDate(-1, 0, 0)
	snap.ListingDate = &listed
	return snap
}

// breakoutSnap: prior five closes at 100, latest 105 on 500k shares, turnaround earnings
func breakoutSnap() *models.MarketSnapshot {
	bars := flatBars(30, 100, 200_000)
	snap := withLatest("5678.TSE", bars, models.Bar{Open: 100, High: 106, Low: 99.5, Close: 105, Volume: 500_000})
	snap.NetIncome = []float64{12, 8, -5, -10}
	return snap
}

func strictSpike(t interface{ Fatalf(string, ...any) }) SpikeConfig {
	p, err := LookupPreset("strict")
	if err != nil {
		t.Fatalf("LookupPreset: %v", err)
	}
	return p.Spike
}

func strictTurnaround(t interface{ Fatalf(string, ...any) }) TurnaroundConfig {
	p, err := LookupPreset("strict")
	if err != nil {
		t.Fatalf("LookupPreset: %v", err)
	}
	return p.Turnaround
}
