// Package screen implements the spike and turnaround detectors and the combined scorer.
package screen

import (
	"fmt"
	"sort"
	"time"

	"github.com/bobmcallan/vire-screen/internal/common"
)

// Filters are the price, market-cap and liquidity gates shared by both detectors.
type Filters struct {
	PriceCeiling          float64 `json:"price_ceiling"`
	MarketCapCeiling      float64 `json:"market_cap_ceiling"`
	MinDailyVolume        int64   `json:"min_daily_volume"`
	LiquidityLookbackDays int     `json:"liquidity_lookback_days"`
}

// LimitTier applies Rate to reference prices below Below. Below == 0 marks the final catch-all tier.
type LimitTier struct {
	Below float64 `json:"below"`
	Rate  float64 `json:"rate"`
}

// DayWindow is an inclusive day-of-month range.
type DayWindow struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Contains reports whether day falls inside the window
func (w DayWindow) Contains(day int) bool {
	return day >= w.From && day <= w.To
}

// SignalParams drive entry, target and stop generation.
type SignalParams struct {
	TargetRate  float64 `json:"target_rate"`
	StopRate    float64 `json:"stop_rate"`
	MaxHoldDays int     `json:"max_hold_days"`
	TickSize    float64 `json:"tick_size"`
}

// SpikeConfig parameterises Detector A.
type SpikeConfig struct {
	Filters            Filters       `json:"filters"`
	MaxListingYears    float64       `json:"max_listing_years"` // 0 disables the listing-age stage
	LimitTiers         []LimitTier   `json:"limit_tiers"`
	StickingRatio      float64       `json:"sticking_ratio"`
	NearLimitRatio     float64       `json:"near_limit_ratio"`
	MinStickingVolume  int64         `json:"min_sticking_volume"`
	EarningsWindows    []DayWindow   `json:"earnings_windows"` // empty means always open
	ConsecutiveRisePct float64       `json:"consecutive_rise_pct"`
	MaxLowerShadow     float64       `json:"max_lower_shadow"`
	Cooldown           time.Duration `json:"cooldown"`
	Signal             SignalParams  `json:"signal"`
}

// TurnaroundConfig parameterises Detector B.
type TurnaroundConfig struct {
	Filters                Filters       `json:"filters"`
	EarningsWindows        []DayWindow   `json:"earnings_windows"`
	MinQuarters            int           `json:"min_quarters"`
	MinImprovementPct      float64       `json:"min_improvement_pct"`
	MinConsecutivePositive int           `json:"min_consecutive_positive"`
	MAPeriod               int           `json:"ma_period"`
	CrossoverThreshold     float64       `json:"crossover_threshold"`
	MinBreakoutVolume      int64         `json:"min_breakout_volume"`
	RequireBreakout        bool          `json:"require_breakout"`
	ChangeMinPct           float64       `json:"change_min_pct"`
	ChangeMaxPct           float64       `json:"change_max_pct"`
	MaxYearDeclinePct      float64       `json:"max_year_decline_pct"` // negative, e.g. -50
	Cooldown               time.Duration `json:"cooldown"`
	Signal                 SignalParams  `json:"signal"`
}

// ScanLimits control candidacy and result size.
type ScanLimits struct {
	MinCandidateScore int `json:"min_candidate_score"`
	NearMissMin       int `json:"near_miss_min"` // 0 disables the near-miss bucket
	NearMissMax       int `json:"near_miss_max"`
	ResultLimit       int `json:"result_limit"`
}

// Preset bundles both detector configs and scan limits under one name.
type Preset struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Spike       SpikeConfig      `json:"spike"`
	Turnaround  TurnaroundConfig `json:"turnaround"`
	Scan        ScanLimits       `json:"scan"`
}

var defaultFilters = Filters{
	PriceCeiling:          5000,
	MarketCapCeiling:      50_000_000_000,
	MinDailyVolume:        1000,
	LiquidityLookbackDays: 30,
}

// DefaultLimitTiers are the exchange-style daily limit bands by reference price.
var DefaultLimitTiers = []LimitTier{
	{Below: 100, Rate: 0.30},
	{Below: 200, Rate: 0.25},
	{Below: 500, Rate: 0.20},
	{Below: 1000, Rate: 0.15},
	{Below: 5000, Rate: 0.10},
	{Below: 0, Rate: 0.05},
}

var earningsSeason = []DayWindow{{From: 8, To: 17}, {From: 28, To: 31}}

func strictPreset() Preset {
	return Preset{
		Name:        "strict",
		Description: "High-volume limit sticking and confirmed MA5 breakouts on young listings",
		Spike: SpikeConfig{
			Filters:            defaultFilters,
			MaxListingYears:    2.5,
			LimitTiers:         append([]LimitTier(nil), DefaultLimitTiers...),
			StickingRatio:      0.95,
			NearLimitRatio:     0.90,
			MinStickingVolume:  10_000_000,
			EarningsWindows:    append([]DayWindow(nil), earningsSeason...),
			ConsecutiveRisePct: 15,
			MaxLowerShadow:     0.15,
			Cooldown:           common.DefaultCooldown,
			Signal:             SignalParams{TargetRate: 0.10, StopRate: -0.05, MaxHoldDays: 3, TickSize: 0.1},
		},
		Turnaround: TurnaroundConfig{
			Filters:                defaultFilters,
			EarningsWindows:        append([]DayWindow(nil), earningsSeason...),
			MinQuarters:            4,
			MinImprovementPct:      10,
			MinConsecutivePositive: 2,
			MAPeriod:               5,
			CrossoverThreshold:     0.02,
			MinBreakoutVolume:      100_000,
			RequireBreakout:        true,
			ChangeMinPct:           1,
			ChangeMaxPct:           8,
			MaxYearDeclinePct:      -50,
			Cooldown:               common.DefaultCooldown,
			Signal:                 SignalParams{TargetRate: 0.15, StopRate: -0.07, MaxHoldDays: 20, TickSize: 0.1},
		},
		Scan: ScanLimits{MinCandidateScore: 20, ResultLimit: 8},
	}
}

func standardPreset() Preset {
	p := strictPreset()
	p.Name = "standard"
	p.Description = "Wider listing-age band and lower volume floors"
	p.Spike.MaxListingYears = 5.0
	p.Spike.MinStickingVolume = 1_000_000
	p.Turnaround.ChangeMaxPct = 15
	p.Turnaround.MinBreakoutVolume = 50_000
	p.Scan.ResultLimit = 20
	return p
}

func broadPreset() Preset {
	p := standardPreset()
	p.Name = "broad"
	p.Description = "Recall-oriented: lower candidacy threshold, turnaround without breakout, near-miss list"
	p.Turnaround.RequireBreakout = false
	p.Scan = ScanLimits{MinCandidateScore: 10, NearMissMin: 5, NearMissMax: 19, ResultLimit: 20}
	return p
}

func growthPreset() Preset {
	p := standardPreset()
	p.Name = "growth"
	p.Description = "Growth-sector bands: tighter limit tiers and a shorter hold"
	p.Spike.LimitTiers = []LimitTier{
		{Below: 100, Rate: 0.20},
		{Below: 200, Rate: 0.15},
		{Below: 500, Rate: 0.12},
		{Below: 1000, Rate: 0.10},
		{Below: 5000, Rate: 0.08},
		{Below: 0, Rate: 0.05},
	}
	p.Spike.Signal.MaxHoldDays = 2
	p.Scan.ResultLimit = 12
	return p
}

var presets = map[string]func() Preset{
	"strict":   strictPreset,
	"standard": standardPreset,
	"broad":    broadPreset,
	"growth":   growthPreset,
}

// LookupPreset returns a fresh copy of the named preset
func LookupPreset(name string) (Preset, error) {
	build, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q (available: %v)", name, PresetNames())
	}
	return build(), nil
}

// PresetNames lists available preset names in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllPresets returns every preset in name order
func AllPresets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, name := range PresetNames() {
		out = append(out, presets[name]())
	}
	return out
}

func windowsFromConfig(in []common.DayWindowConfig) []DayWindow {
	out := make([]DayWindow, len(in))
	for i, w := range in {
		out[i] = DayWindow{From: w.From, To: w.To}
	}
	return out
}

// Apply layers config overrides onto the preset and validates the result.
func (p *Preset) Apply(scan common.ScanConfig, a common.SpikeOverrides, b common.TurnaroundOverrides) error {
	if scan.ResultLimit > 0 {
		p.Scan.ResultLimit = scan.ResultLimit
	}
	if scan.MinCandidateScore > 0 {
		p.Scan.MinCandidateScore = scan.MinCandidateScore
	}

	s := &p.Spike
	setFloat(&s.Filters.PriceCeiling, a.PriceCeiling)
	setFloat(&s.Filters.MarketCapCeiling, a.MarketCapCeiling)
	setInt64(&s.Filters.MinDailyVolume, a.MinDailyVolume)
	setFloat(&s.MaxListingYears, a.MaxListingYears)
	setFloat(&s.StickingRatio, a.StickingRatio)
	setInt64(&s.MinStickingVolume, a.MinStickingVolume)
	if a.EarningsWindows != nil {
		s.EarningsWindows = windowsFromConfig(a.EarningsWindows)
	}
	s.Cooldown = common.ParseCooldown(a.Cooldown, s.Cooldown)
	setFloat(&s.Signal.TargetRate, a.TargetRate)
	setFloat(&s.Signal.StopRate, a.StopRate)
	setInt(&s.Signal.MaxHoldDays, a.MaxHoldDays)

	t := &p.Turnaround
	setFloat(&t.Filters.PriceCeiling, b.PriceCeiling)
	setFloat(&t.Filters.MarketCapCeiling, b.MarketCapCeiling)
	setInt64(&t.Filters.MinDailyVolume, b.MinDailyVolume)
	setFloat(&t.MinImprovementPct, b.MinImprovementPct)
	setFloat(&t.CrossoverThreshold, b.CrossoverThreshold)
	setInt64(&t.MinBreakoutVolume, b.MinBreakoutVolume)
	setFloat(&t.ChangeMinPct, b.ChangeMinPct)
	setFloat(&t.ChangeMaxPct, b.ChangeMaxPct)
	setFloat(&t.MaxYearDeclinePct, b.MaxYearDeclinePct)
	if b.RequireBreakout != nil {
		t.RequireBreakout = *b.RequireBreakout
	}
	if b.EarningsWindows != nil {
		t.EarningsWindows = windowsFromConfig(b.EarningsWindows)
	}
	t.Cooldown = common.ParseCooldown(b.Cooldown, t.Cooldown)
	setFloat(&t.Signal.TargetRate, b.TargetRate)
	setFloat(&t.Signal.StopRate, b.StopRate)
	setInt(&t.Signal.MaxHoldDays, b.MaxHoldDays)

	return p.Validate()
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt64(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Validate rejects configurations the pipelines cannot evaluate.
func (p *Preset) Validate() error {
	if err := p.Spike.Validate(); err != nil {
		return fmt.Errorf("preset %s detector A: %w", p.Name, err)
	}
	if err := p.Turnaround.Validate(); err != nil {
		return fmt.Errorf("preset %s detector B: %w", p.Name, err)
	}
	if p.Scan.ResultLimit < 1 {
		return fmt.Errorf("preset %s: result limit must be positive", p.Name)
	}
	if p.Scan.MinCandidateScore < 1 {
		return fmt.Errorf("preset %s: min candidate score must be positive", p.Name)
	}
	if p.Scan.NearMissMin > 0 && p.Scan.NearMissMax < p.Scan.NearMissMin {
		return fmt.Errorf("preset %s: near-miss range %d-%d is empty", p.Name, p.Scan.NearMissMin, p.Scan.NearMissMax)
	}
	return nil
}

func (f Filters) validate() error {
	if f.PriceCeiling <= 0 || f.MarketCapCeiling <= 0 {
		return fmt.Errorf("price and market cap ceilings must be positive")
	}
	if f.MinDailyVolume < 0 || f.LiquidityLookbackDays < 1 {
		return fmt.Errorf("liquidity floor must not be negative and lookback must be at least one day")
	}
	return nil
}

func validateWindows(windows []DayWindow) error {
	for _, w := range windows {
		if w.From < 1 || w.To > 31 || w.From > w.To {
			return fmt.Errorf("invalid earnings window %d-%d", w.From, w.To)
		}
	}
	return nil
}

func (sp SignalParams) validate() error {
	if sp.TargetRate <= 0 || sp.StopRate >= 0 || sp.StopRate <= -1 {
		return fmt.Errorf("target rate must be positive and stop rate in (-1, 0)")
	}
	if sp.MaxHoldDays < 1 || sp.TickSize <= 0 {
		return fmt.Errorf("max hold days and tick size must be positive")
	}
	return nil
}

// Validate checks Detector A settings
func (c SpikeConfig) Validate() error {
	if err := c.Filters.validate(); err != nil {
		return err
	}
	if len(c.LimitTiers) == 0 || c.LimitTiers[len(c.LimitTiers)-1].Below != 0 {
		return fmt.Errorf("limit tiers must end with a catch-all tier")
	}
	prev := 0.0
	for i, tier := range c.LimitTiers[:len(c.LimitTiers)-1] {
		if tier.Below <= prev {
			return fmt.Errorf("limit tier %d boundary %.2f is not ascending", i, tier.Below)
		}
		prev = tier.Below
	}
	for _, tier := range c.LimitTiers {
		if tier.Rate <= 0 {
			return fmt.Errorf("limit tier rates must be positive")
		}
	}
	if c.StickingRatio <= 0 || c.StickingRatio > 1 || c.NearLimitRatio <= 0 || c.NearLimitRatio > c.StickingRatio {
		return fmt.Errorf("sticking ratio must be in (0,1] and near-limit ratio in (0, sticking]")
	}
	if c.MaxListingYears < 0 || c.MaxLowerShadow <= 0 || c.ConsecutiveRisePct <= 0 || c.Cooldown < 0 {
		return fmt.Errorf("listing age, exclusion thresholds and cooldown must not be negative")
	}
	if err := validateWindows(c.EarningsWindows); err != nil {
		return err
	}
	return c.Signal.validate()
}

// Validate checks Detector B settings
func (c TurnaroundConfig) Validate() error {
	if err := c.Filters.validate(); err != nil {
		return err
	}
	if c.MinQuarters < 4 {
		return fmt.Errorf("turnaround needs at least 4 quarters, got %d", c.MinQuarters)
	}
	if c.MAPeriod < 2 || c.MinConsecutivePositive < 1 {
		return fmt.Errorf("MA period must be at least 2 and consecutive quarters at least 1")
	}
	if c.ChangeMinPct > c.ChangeMaxPct {
		return fmt.Errorf("change band %.1f-%.1f is empty", c.ChangeMinPct, c.ChangeMaxPct)
	}
	if c.MaxYearDeclinePct >= 0 || c.CrossoverThreshold < 0 || c.Cooldown < 0 {
		return fmt.Errorf("year decline must be negative; crossover threshold and cooldown must not be negative")
	}
	if err := validateWindows(c.EarningsWindows); err != nil {
		return err
	}
	return c.Signal.validate()
}

// LimitRate returns the daily limit percentage for a reference price.
// A price equal to a boundary takes the following tier's smaller rate.
func LimitRate(tiers []LimitTier, price float64) float64 {
	for _, tier := range tiers {
		if tier.Below == 0 || price < tier.Below {
			return tier.Rate
		}
	}
	return 0
}

func inWindow(windows []DayWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}
	day := now.Day()
	for _, w := range windows {
		if w.Contains(day) {
			return true
		}
	}
	return false
}
