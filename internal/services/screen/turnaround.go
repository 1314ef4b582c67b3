package screen

import (
	"context"
	"math"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
	"github.com/bobmcallan/vire-screen/internal/signals"
)

// flipFromZeroRate is the improvement rate reported when the past baseline is exactly zero.
const flipFromZeroRate = 100.0

// TurnaroundDetector flags profitability turnarounds confirmed by an MA breakout.
type TurnaroundDetector struct {
	cfg     TurnaroundConfig
	history interfaces.HistoryStore
	logger  *common.Logger
}

// NewTurnaroundDetector creates Detector B. history may be nil to disable cooldown tracking.
func NewTurnaroundDetector(cfg TurnaroundConfig, history interfaces.HistoryStore, logger *common.Logger) *TurnaroundDetector {
	return &TurnaroundDetector{cfg: cfg, history: history, logger: logger}
}

// ID returns DetectorTurnaround
func (d *TurnaroundDetector) ID() models.DetectorID { return models.DetectorTurnaround }

// Config returns the detector's settings
func (d *TurnaroundDetector) Config() TurnaroundConfig { return d.cfg }

// Prescreen runs the stages that need no earnings data, so callers can skip
// the earnings fetch for tickers that cannot fire.
func (d *TurnaroundDetector) Prescreen(snap *models.MarketSnapshot, now time.Time) (models.Reason, bool) {
	if reason, ok := applyFilters(d.cfg.Filters, snap); !ok {
		return reason, false
	}
	if !inWindow(d.cfg.EarningsWindows, now) {
		return models.ReasonOutOfWindow, false
	}
	return "", true
}

// TurnaroundResult is the outcome of the profitability check
type TurnaroundResult struct {
	RecentAvg           float64
	PastAvg             float64
	ImprovementRate     float64
	ConsecutivePositive int
	Turnaround          bool
}

// CheckTurnaround evaluates quarterly net income ordered newest first.
// The second return is false when fewer than minQuarters figures are available.
func CheckTurnaround(netIncome []float64, minQuarters int, minImprovementPct float64, minConsecutive int) (TurnaroundResult, bool) {
	var r TurnaroundResult
	if len(netIncome) < minQuarters || len(netIncome) < 4 {
		return r, false
	}

	recent := netIncome[0:2]
	past := netIncome[2:4]
	r.RecentAvg = (recent[0] + recent[1]) / 2
	r.PastAvg = (past[0] + past[1]) / 2

	if r.PastAvg == 0 {
		r.ImprovementRate = flipFromZeroRate
	} else {
		r.ImprovementRate = (r.RecentAvg - r.PastAvg) / math.Abs(r.PastAvg) * 100
	}

	for _, ni := range netIncome {
		if ni <= 0 {
			break
		}
		r.ConsecutivePositive++
	}

	recentPositive := recent[0] > 0 && recent[1] > 0
	pastLoss := past[0] <= 0 || past[1] <= 0
	r.Turnaround = recentPositive && pastLoss &&
		r.ImprovementRate >= minImprovementPct &&
		r.ConsecutivePositive >= minConsecutive

	return r, true
}

// Evaluate runs the stage pipeline against a snapshot whose NetIncome is populated.
func (d *TurnaroundDetector) Evaluate(ctx context.Context, snap *models.MarketSnapshot, now time.Time) models.DetectionVerdict {
	v := models.DetectionVerdict{Detector: models.DetectorTurnaround, EvaluatedAt: now}
	if snap != nil {
		v.Ticker = snap.Ticker
	}

	// 1-2. Common filters and earnings window
	if reason, ok := d.Prescreen(snap, now); !ok {
		v.Reason = reason
		return v
	}

	details := &models.TurnaroundDetails{}
	v.Turnaround = details

	// 3. Profitability turnaround
	tr, ok := CheckTurnaround(snap.NetIncome, d.cfg.MinQuarters, d.cfg.MinImprovementPct, d.cfg.MinConsecutivePositive)
	if !ok {
		v.Reason = models.ReasonNoEarningsData
		return v
	}
	details.RecentAvg = tr.RecentAvg
	details.PastAvg = tr.PastAvg
	details.ImprovementRate = tr.ImprovementRate
	details.ConsecutivePositive = tr.ConsecutivePositive
	details.Turnaround = tr.Turnaround

	// 4. Moving-average breakout
	crossed, ma, prevMA := signals.DetectCrossover(snap.Bars, d.cfg.MAPeriod, d.cfg.CrossoverThreshold)
	details.MA5 = ma
	details.PrevMA5 = prevMA
	details.Breakout = crossed && snap.Volume >= d.cfg.MinBreakoutVolume
	details.ChangePct = snap.ChangePct()
	details.VolumeRatio = signals.VolumeRatio(snap.Bars, volumeAvgPeriod)

	inBand := details.ChangePct >= d.cfg.ChangeMinPct && details.ChangePct <= d.cfg.ChangeMaxPct
	v.Score = d.score(details, inBand)

	if !details.Turnaround {
		v.Reason = models.ReasonNoTurnaround
		return v
	}
	if d.cfg.RequireBreakout && !details.Breakout {
		v.Reason = models.ReasonNoBreakout
		return v
	}

	// 5. Entry-condition band
	if !inBand {
		v.Reason = models.ReasonChangeOutOfBand
		return v
	}

	// 6. Structural decline
	if yc, ok := signals.YearChangePct(snap.Bars); ok {
		details.YearChangePct = &yc
		if yc < d.cfg.MaxYearDeclinePct {
			v.Exclusions = append(v.Exclusions, models.ReasonStructuralDecline)
			v.Reason = models.ReasonStructuralDecline
			return v
		}
	}

	// 7. Cooldown and signal generation
	if suppressed(ctx, d.history, d.logger, snap.Ticker, models.DetectorTurnaround, now, d.cfg.Cooldown) {
		v.Reason = models.ReasonCooldown
		return v
	}

	v.Detected = true
	v.Reason = models.ReasonDetected
	v.Signal = buildSignal(d.cfg.Signal, riskInputs{
		price:       snap.Close,
		high:        snap.High,
		low:         snap.Low,
		volumeRatio: details.VolumeRatio,
		changePct:   details.ChangePct,
	})

	return v
}

func (d *TurnaroundDetector) score(details *models.TurnaroundDetails, inBand bool) int {
	score := 0
	if details.Turnaround {
		score += 30
		switch {
		case details.ImprovementRate >= 100:
			score += 15
		case details.ImprovementRate >= 50:
			score += 10
		case details.ImprovementRate >= 10:
			score += 5
		}
		if details.ConsecutivePositive >= 3 {
			score += 5
		}
	}
	if details.Breakout {
		score += 20
		switch {
		case details.VolumeRatio >= 2:
			score += 10
		case details.VolumeRatio >= 1.5:
			score += 5
		}
	}
	if inBand {
		score += 5
	}
	return score
}

var _ interfaces.Detector = (*TurnaroundDetector)(nil)
