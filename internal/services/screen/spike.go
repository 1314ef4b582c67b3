package screen

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
	"github.com/bobmcallan/vire-screen/internal/interfaces"
	"github.com/bobmcallan/vire-screen/internal/models"
	"github.com/bobmcallan/vire-screen/internal/signals"
)

const volumeAvgPeriod = 20

// SpikeDetector flags sessions that closed pinned near the daily limit-up price.
type SpikeDetector struct {
	cfg     SpikeConfig
	history interfaces.HistoryStore
	logger  *common.Logger
}

// NewSpikeDetector creates Detector A. history may be nil to disable cooldown tracking.
func NewSpikeDetector(cfg SpikeConfig, history interfaces.HistoryStore, logger *common.Logger) *SpikeDetector {
	return &SpikeDetector{cfg: cfg, history: history, logger: logger}
}

// ID returns DetectorSpike
func (d *SpikeDetector) ID() models.DetectorID { return models.DetectorSpike }

// Config returns the detector's settings
func (d *SpikeDetector) Config() SpikeConfig { return d.cfg }

// Evaluate runs the stage pipeline. Stages that depend on optional data
// (listing date, earnings window, exclusion history) pass when the data is missing;
// the price gates and the sticking computation fail closed.
// History is only read here; firing verdicts are persisted by CommitDetections.
func (d *SpikeDetector) Evaluate(ctx context.Context, snap *models.MarketSnapshot, now time.Time) models.DetectionVerdict {
	v := models.DetectionVerdict{Detector: models.DetectorSpike, EvaluatedAt: now}
	if snap != nil {
		v.Ticker = snap.Ticker
	}

	// 1. Common filters
	if reason, ok := applyFilters(d.cfg.Filters, snap); !ok {
		v.Reason = reason
		return v
	}

	details := &models.SpikeDetails{}
	v.Spike = details

	// 2. Listing age
	if snap.ListingDate != nil && !snap.ListingDate.IsZero() {
		years := now.Sub(*snap.ListingDate).Hours() / 24 / 365.25
		details.ListingYears = &years
		if d.cfg.MaxListingYears > 0 && years > d.cfg.MaxListingYears {
			v.Reason = models.ReasonListingAge
			return v
		}
	}

	// 3. Limit-up price from the session open
	details.LimitRate = LimitRate(d.cfg.LimitTiers, snap.Open)
	details.LimitUpPrice = snap.Open * (1 + details.LimitRate)
	details.Threshold = details.LimitUpPrice * d.cfg.StickingRatio
	details.ChangePct = snap.ChangePct()
	details.VolumeRatio = signals.VolumeRatio(snap.Bars, volumeAvgPeriod)
	details.LowerShadowRatio = signals.LowerShadowRatio(models.Bar{Open: snap.Open, Low: snap.Low})

	// 4. Sticking verdict
	details.Sticking = snap.Close >= details.Threshold &&
		snap.High >= details.Threshold &&
		snap.Volume >= d.cfg.MinStickingVolume
	v.Score = d.score(snap, details)
	if !details.Sticking {
		v.Reason = models.ReasonNotSticking
		return v
	}

	// 5. Earnings window
	if !inWindow(d.cfg.EarningsWindows, now) {
		v.Reason = models.ReasonOutOfWindow
		return v
	}

	// 6. Exclusions
	if c0, ok0 := signals.ChangePct(snap.Bars, 0); ok0 {
		if c1, ok1 := signals.ChangePct(snap.Bars, 1); ok1 &&
			c0 >= d.cfg.ConsecutiveRisePct && c1 >= d.cfg.ConsecutiveRisePct {
			v.Exclusions = append(v.Exclusions, models.ReasonConsecutiveSurge)
		}
	}
	if details.LowerShadowRatio > d.cfg.MaxLowerShadow {
		v.Exclusions = append(v.Exclusions, models.ReasonLowerShadow)
	}
	if len(v.Exclusions) > 0 {
		v.Reason = v.Exclusions[0]
		return v
	}

	// 7. Cooldown
	if suppressed(ctx, d.history, d.logger, snap.Ticker, models.DetectorSpike, now, d.cfg.Cooldown) {
		v.Reason = models.ReasonCooldown
		return v
	}

	// 8. Signal generation
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

func (d *SpikeDetector) score(snap *models.MarketSnapshot, details *models.SpikeDetails) int {
	score := 0
	switch {
	case details.Sticking:
		score += 40
	case snap.Close >= details.LimitUpPrice*d.cfg.NearLimitRatio:
		score += 10
	}
	switch {
	case details.ChangePct >= 20:
		score += 20
	case details.ChangePct >= 10:
		score += 10
	case details.ChangePct >= 5:
		score += 5
	}
	switch {
	case details.VolumeRatio >= 3:
		score += 15
	case details.VolumeRatio >= 2:
		score += 10
	case details.VolumeRatio >= 1.5:
		score += 5
	}
	if snap.Close >= snap.High {
		score += 5
	}
	return score
}

// applyFilters runs the shared price, cap and liquidity gates.
// Missing prices or liquidity history fail closed; a missing market cap passes.
func applyFilters(f Filters, snap *models.MarketSnapshot) (models.Reason, bool) {
	if !snap.HasPrice() || len(snap.Bars) == 0 {
		return models.ReasonNoPriceData, false
	}
	if snap.Close > f.PriceCeiling {
		return models.ReasonPriceCeiling, false
	}
	if snap.MarketCap != nil && *snap.MarketCap > f.MarketCapCeiling {
		return models.ReasonMarketCapCeiling, false
	}
	since := snap.Bars[0].Date.AddDate(0, 0, -f.LiquidityLookbackDays)
	lowest, ok := signals.MinVolumeSince(snap.Bars, since)
	if !ok || lowest < f.MinDailyVolume {
		return models.ReasonLowLiquidity, false
	}
	return "", true
}

var _ interfaces.Detector = (*SpikeDetector)(nil)
