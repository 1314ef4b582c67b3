package models

import "time"

// DetectorID identifies a rule set.
type DetectorID string

const (
	DetectorSpike      DetectorID = "A" // spike / limit-sticking
	DetectorTurnaround DetectorID = "B" // earnings turnaround + MA5 breakout
)

// Reason explains why a detector stopped, or "detected" when it fired.
type Reason string

const (
	ReasonDetected            Reason = "detected"
	ReasonNoPriceData         Reason = "no_price_data"
	ReasonInsufficientHistory Reason = "insufficient_history"
	ReasonPriceCeiling        Reason = "price_ceiling"
	ReasonMarketCapCeiling    Reason = "market_cap_ceiling"
	ReasonLowLiquidity        Reason = "low_liquidity"
	ReasonListingAge          Reason = "listing_age"
	ReasonNotSticking         Reason = "not_sticking"
	ReasonOutOfWindow         Reason = "out_of_window"
	ReasonConsecutiveSurge    Reason = "consecutive_surge"
	ReasonLowerShadow         Reason = "lower_shadow"
	ReasonNoEarningsData      Reason = "no_earnings_data"
	ReasonNoTurnaround        Reason = "no_turnaround"
	ReasonNoBreakout          Reason = "no_breakout"
	ReasonChangeOutOfBand     Reason = "change_out_of_band"
	ReasonStructuralDecline   Reason = "structural_decline"
	ReasonCooldown            Reason = "cooldown"
	ReasonEvaluationError     Reason = "evaluation_error"
)

// IsSignalStage reports whether the reason comes from the scoring stage rather
// than a hard filter. Only these verdicts feed the near-miss bucket.
func (r Reason) IsSignalStage() bool {
	switch r {
	case ReasonNotSticking, ReasonNoTurnaround, ReasonNoBreakout, ReasonChangeOutOfBand:
		return true
	}
	return false
}

// DetectionVerdict is one detector's outcome for one ticker in one scan.
// Exactly one of Spike or Turnaround is set, matching Detector.
type DetectionVerdict struct {
	Detector    DetectorID         `json:"detector"`
	Ticker      Ticker             `json:"ticker"`
	Detected    bool               `json:"detected"`
	Score       int                `json:"score"`
	Reason      Reason             `json:"reason"`
	Exclusions  []Reason           `json:"exclusions,omitempty"`
	Spike       *SpikeDetails      `json:"spike,omitempty"`
	Turnaround  *TurnaroundDetails `json:"turnaround,omitempty"`
	Signal      *TradeSignal       `json:"signal,omitempty"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

// ShouldExclude reports whether any exclusion rule matched.
func (v *DetectionVerdict) ShouldExclude() bool {
	return v != nil && len(v.Exclusions) > 0
}

// SpikeDetails carries Detector A's intermediate values.
type SpikeDetails struct {
	LimitUpPrice     float64  `json:"limit_up_price"`
	LimitRate        float64  `json:"limit_rate"`
	Threshold        float64  `json:"threshold"`
	Sticking         bool     `json:"sticking"`
	ChangePct        float64  `json:"change_pct"`
	VolumeRatio      float64  `json:"volume_ratio"`
	LowerShadowRatio float64  `json:"lower_shadow_ratio"`
	ListingYears     *float64 `json:"listing_years,omitempty"`
}

// TurnaroundDetails carries Detector B's intermediate values.
type TurnaroundDetails struct {
	RecentAvg           float64  `json:"recent_avg"`
	PastAvg             float64  `json:"past_avg"`
	ImprovementRate     float64  `json:"improvement_rate"`
	ConsecutivePositive int      `json:"consecutive_positive"`
	Turnaround          bool     `json:"turnaround"`
	MA5                 float64  `json:"ma5"`
	PrevMA5             float64  `json:"prev_ma5"`
	Breakout            bool     `json:"breakout"`
	ChangePct           float64  `json:"change_pct"`
	VolumeRatio         float64  `json:"volume_ratio"`
	YearChangePct       *float64 `json:"year_change_pct,omitempty"`
}

// RiskTier is the qualitative risk of a trade signal.
type RiskTier string

const (
	RiskLow    RiskTier = "Low"
	RiskMedium RiskTier = "Medium"
	RiskHigh   RiskTier = "High"
)

// TradeSignal holds the entry parameters generated for a firing verdict.
type TradeSignal struct {
	EntryPrice     float64  `json:"entry_price"`
	TargetPrice    float64  `json:"target_price"`
	StopLossPrice  float64  `json:"stop_loss_price"`
	MaxHoldDays    int      `json:"max_hold_days"`
	RiskScore      int      `json:"risk_score"`
	RiskTier       RiskTier `json:"risk_tier"`
	Recommendation string   `json:"recommendation"`
}

// DetectionHistoryRecord is the last time a ticker fired for a detector.
type DetectionHistoryRecord struct {
	Ticker     Ticker     `json:"ticker"`
	Detector   DetectorID `json:"detector"`
	DetectedAt time.Time  `json:"detected_at"`
	Score      int        `json:"score"`
}

// PriorityTier is a display annotation for the top ranked candidates.
type PriorityTier string

const (
	TierTop      PriorityTier = "Top"
	TierPriority PriorityTier = "Priority"
	TierWatch    PriorityTier = "Watch"
)

// Bonus is one applied score bonus.
type Bonus struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

// CombinedCandidate merges both detectors' verdicts for one ticker.
type CombinedCandidate struct {
	Ticker       Ticker            `json:"ticker"`
	Name         string            `json:"name,omitempty"`
	TotalScore   int               `json:"total_score"`
	ScoreA       int               `json:"score_a"`
	ScoreB       int               `json:"score_b"`
	Bonuses      []Bonus           `json:"bonuses,omitempty"`
	DetectorA    *DetectionVerdict `json:"detector_a,omitempty"`
	DetectorB    *DetectionVerdict `json:"detector_b,omitempty"`
	PriorityTier PriorityTier      `json:"priority_tier,omitempty"`
}
