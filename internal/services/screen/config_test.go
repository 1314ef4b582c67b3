package screen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-screen/internal/common"
)

func TestPresets_AllValidate(t *testing.T) {
	names := PresetNames()
	assert.Equal(t, []string{"broad", "growth", "standard", "strict"}, names)

	for _, p := range AllPresets() {
		assert.NoError(t, p.Validate(), "preset %s", p.Name)
		assert.NotEmpty(t, p.Description)
	}
}

func TestLookupPreset_Unknown(t *testing.T) {
	_, err := LookupPreset("aggressive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggressive")
	assert.Contains(t, err.Error(), "strict")
}

func TestLookupPreset_ReturnsCopies(t *testing.T) {
	a, err := LookupPreset("strict")
	require.NoError(t, err)
	a.Spike.LimitTiers[0].Rate = 0.99
	a.Spike.EarningsWindows[0].From = 1

	b, err := LookupPreset("strict")
	require.NoError(t, err)
	assert.Equal(t, 0.30, b.Spike.LimitTiers[0].Rate)
	assert.Equal(t, 8, b.Spike.EarningsWindows[0].From)
	assert.Equal(t, 0.30, DefaultLimitTiers[0].Rate)
}

func TestPresets_Differences(t *testing.T) {
	strict, _ := LookupPreset("strict")
	broad, _ := LookupPreset("broad")
	growth, _ := LookupPreset("growth")

	assert.True(t, strict.Turnaround.RequireBreakout)
	assert.False(t, broad.Turnaround.RequireBreakout)
	assert.Equal(t, 0, strict.Scan.NearMissMin)
	assert.Equal(t, 5, broad.Scan.NearMissMin)
	assert.Less(t, LimitRate(growth.Spike.LimitTiers, 50), LimitRate(strict.Spike.LimitTiers, 50))
	assert.Equal(t, 2, growth.Spike.Signal.MaxHoldDays)
}

func TestPresetApply_Overrides(t *testing.T) {
	p, err := LookupPreset("strict")
	require.NoError(t, err)

	years := 4.0
	hold := 5
	requireBreakout := false
	err = p.Apply(
		common.ScanConfig{ResultLimit: 12, MinCandidateScore: 25},
		common.SpikeOverrides{
			MaxListingYears: &years,
			MaxHoldDays:     &hold,
			EarningsWindows: []common.DayWindowConfig{{From: 1, To: 10}},
			Cooldown:        "90d",
		},
		common.TurnaroundOverrides{RequireBreakout: &requireBreakout, Cooldown: "720h"},
	)
	require.NoError(t, err)

	assert.Equal(t, 12, p.Scan.ResultLimit)
	assert.Equal(t, 25, p.Scan.MinCandidateScore)
	assert.Equal(t, 4.0, p.Spike.MaxListingYears)
	assert.Equal(t, 5, p.Spike.Signal.MaxHoldDays)
	assert.Equal(t, []DayWindow{{From: 1, To: 10}}, p.Spike.EarningsWindows)
	assert.Equal(t, 90*24*time.Hour, p.Spike.Cooldown)
	assert.False(t, p.Turnaround.RequireBreakout)
	assert.Equal(t, 30*24*time.Hour, p.Turnaround.Cooldown)

	// Untouched fields keep preset values
	assert.Equal(t, 0.95, p.Spike.StickingRatio)
	assert.Equal(t, earningsSeason, p.Turnaround.EarningsWindows)
}

func TestPresetApply_EmptyWindowsMeanAlwaysOpen(t *testing.T) {
	p, _ := LookupPreset("strict")
	require.NoError(t, p.Apply(common.ScanConfig{}, common.SpikeOverrides{EarningsWindows: []common.DayWindowConfig{}}, common.TurnaroundOverrides{}))
	assert.Empty(t, p.Spike.EarningsWindows)
	assert.True(t, inWindow(p.Spike.EarningsWindows, time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)))
}

func TestPresetApply_RejectsInvalid(t *testing.T) {
	p, _ := LookupPreset("strict")
	ratio := 1.5
	err := p.Apply(common.ScanConfig{}, common.SpikeOverrides{StickingRatio: &ratio}, common.TurnaroundOverrides{})
	assert.Error(t, err)

	p, _ = LookupPreset("strict")
	lo, hi := 10.0, 5.0
	err = p.Apply(common.ScanConfig{}, common.SpikeOverrides{}, common.TurnaroundOverrides{ChangeMinPct: &lo, ChangeMaxPct: &hi})
	assert.Error(t, err)

	p, _ = LookupPreset("strict")
	err = p.Apply(common.ScanConfig{}, common.SpikeOverrides{EarningsWindows: []common.DayWindowConfig{{From: 20, To: 10}}}, common.TurnaroundOverrides{})
	assert.Error(t, err)
}

func TestSpikeConfig_ValidateTiers(t *testing.T) {
	c := strictSpike(t)
	c.LimitTiers = []LimitTier{{Below: 100, Rate: 0.3}}
	assert.Error(t, c.Validate(), "missing catch-all")

	c = strictSpike(t)
	c.LimitTiers = []LimitTier{{Below: 200, Rate: 0.3}, {Below: 100, Rate: 0.2}, {Rate: 0.1}}
	assert.Error(t, c.Validate(), "descending boundaries")
}

func TestInWindow(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 1, d, 12, 0, 0, 0, time.UTC) }
	assert.True(t, inWindow(earningsSeason, day(8)))
	assert.True(t, inWindow(earningsSeason, day(17)))
	assert.False(t, inWindow(earningsSeason, day(18)))
	assert.False(t, inWindow(earningsSeason, day(7)))
	assert.True(t, inWindow(earningsSeason, day(31)))
	assert.True(t, inWindow(nil, day(1)))
}
