package screen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-screen/internal/models"
)

func verdict(d models.DetectorID, ticker models.Ticker, score int, detected bool) *models.DetectionVerdict {
	v := &models.DetectionVerdict{Detector: d, Ticker: ticker, Score: score, Detected: detected}
	if detected {
		v.Reason = models.ReasonDetected
	}
	return v
}

func bonusPoints(c models.CombinedCandidate, reason string) (int, bool) {
	for _, b := range c.Bonuses {
		if b.Reason == reason {
			return b.Points, true
		}
	}
	return 0, false
}

func TestCombine_BothDetectorsTop(t *testing.T) {
	a := verdict(models.DetectorSpike, "1234.TSE", 40, true)
	b := verdict(models.DetectorTurnaround, "1234.TSE", 40, true)

	c := Combine("1234.TSE", "Example", 0, a, b)
	assert.Equal(t, 40, c.ScoreA)
	assert.Equal(t, 40, c.ScoreB)
	assert.Equal(t, 110, c.TotalScore)
	pts, ok := bonusPoints(c, BonusBothDetectors)
	require.True(t, ok)
	assert.Equal(t, 30, pts)
	assert.Equal(t, models.TierTop, TierFor(c.TotalScore))
}

func TestCombine_BothBonusSteps(t *testing.T) {
	tests := []struct {
		a, b int
		want int
	}{
		{31, 31, 30},
		{30, 31, 20},
		{16, 16, 20},
		{16, 15, 10},
		{5, 90, 10},
	}
	for _, tt := range tests {
		c := Combine("X", "", 0,
			verdict(models.DetectorSpike, "X", tt.a, true),
			verdict(models.DetectorTurnaround, "X", tt.b, true))
		pts, ok := bonusPoints(c, BonusBothDetectors)
		require.True(t, ok)
		assert.Equal(t, tt.want, pts, "scores %d/%d", tt.a, tt.b)
		assert.Equal(t, tt.a+tt.b+tt.want, c.TotalScore)
	}
}

func TestCombine_DetailBonuses(t *testing.T) {
	a := verdict(models.DetectorSpike, "1234.TSE", 65, true)
	a.Spike = &models.SpikeDetails{Sticking: true, ChangePct: 18}
	b := verdict(models.DetectorTurnaround, "1234.TSE", 0, false)

	c := Combine("1234.TSE", "", 2_000_000, a, b)
	// 65 + sticking 15 + change 10 + volume 10
	assert.Equal(t, 100, c.TotalScore)
	assert.Equal(t, 0, c.ScoreB)
	_, ok := bonusPoints(c, BonusBothDetectors)
	assert.False(t, ok)
	assert.Len(t, c.Bonuses, 3)

	a2 := verdict(models.DetectorSpike, "1234.TSE", 0, false)
	b2 := verdict(models.DetectorTurnaround, "1234.TSE", 80, true)
	b2.Turnaround = &models.TurnaroundDetails{Turnaround: true, Breakout: true}
	c = Combine("1234.TSE", "", 500_000, a2, b2)
	// 80 + turnaround 15 + breakout 10, volume 500k earns nothing
	assert.Equal(t, 105, c.TotalScore)
}

func TestCombine_NonFiringVerdictsContributeNothing(t *testing.T) {
	a := verdict(models.DetectorSpike, "1234.TSE", 35, false)
	a.Spike = &models.SpikeDetails{Sticking: false, ChangePct: 30}
	b := verdict(models.DetectorTurnaround, "1234.TSE", 35, false)
	b.Turnaround = &models.TurnaroundDetails{Breakout: true}

	c := Combine("1234.TSE", "", 5_000_000, a, b)
	assert.Equal(t, 0, c.TotalScore)
	assert.Empty(t, c.Bonuses)

	c = Combine("1234.TSE", "", 5_000_000, nil, nil)
	assert.Equal(t, 0, c.TotalScore)
}

func TestCombine_RemovingADetectorDropsExactlyItsContribution(t *testing.T) {
	a := verdict(models.DetectorSpike, "1234.TSE", 45, true)
	a.Spike = &models.SpikeDetails{Sticking: true, ChangePct: 20}
	b := verdict(models.DetectorTurnaround, "1234.TSE", 55, true)
	b.Turnaround = &models.TurnaroundDetails{Turnaround: true, Breakout: true}

	both := Combine("1234.TSE", "", 3_000_000, a, b)
	onlyA := Combine("1234.TSE", "", 3_000_000, a, nil)
	onlyB := Combine("1234.TSE", "", 3_000_000, nil, b)
	none := Combine("1234.TSE", "", 3_000_000, nil, nil)

	// high_volume stays in every total that has a firing detector
	for _, c := range []models.CombinedCandidate{both, onlyA, onlyB} {
		pts, ok := bonusPoints(c, BonusHighVolume)
		require.True(t, ok)
		assert.Equal(t, 10, pts)
	}
	_, ok := bonusPoints(none, BonusHighVolume)
	assert.False(t, ok)

	bothPts, ok := bonusPoints(both, BonusBothDetectors)
	require.True(t, ok)
	assert.Equal(t, 30, bothPts)

	// Dropping A removes its score, its detail bonuses and the cross-confirmation bonus
	assert.Equal(t, 45+15+10+30, both.TotalScore-onlyB.TotalScore)
	// Dropping B removes the symmetric set
	assert.Equal(t, 55+15+10+30, both.TotalScore-onlyA.TotalScore)

	assert.Equal(t, 190, both.TotalScore)
	assert.Equal(t, 45+15+10+10, onlyA.TotalScore)
	assert.Equal(t, 55+15+10+10, onlyB.TotalScore)
	assert.Equal(t, 0, none.TotalScore)
}

func TestIsCandidate(t *testing.T) {
	assert.True(t, IsCandidate(verdict(models.DetectorSpike, "X", 20, true), nil, 20))
	assert.False(t, IsCandidate(verdict(models.DetectorSpike, "X", 19, true), nil, 20))
	assert.False(t, IsCandidate(verdict(models.DetectorSpike, "X", 60, false), nil, 20))
	assert.True(t, IsCandidate(nil, verdict(models.DetectorTurnaround, "X", 25, true), 20))
	assert.False(t, IsCandidate(nil, nil, 20))
}

func TestIsNearMiss(t *testing.T) {
	signalStage := &models.DetectionVerdict{Detector: models.DetectorSpike, Ticker: "X", Score: 15, Reason: models.ReasonNotSticking}
	assert.True(t, IsNearMiss(signalStage, nil, 10, 5, 19))

	// Disabled bucket
	assert.False(t, IsNearMiss(signalStage, nil, 10, 0, 0))

	// Gate failures never count as near misses
	gate := &models.DetectionVerdict{Detector: models.DetectorSpike, Ticker: "X", Score: 15, Reason: models.ReasonLowLiquidity}
	assert.False(t, IsNearMiss(gate, nil, 10, 5, 19))

	// Out of range
	low := &models.DetectionVerdict{Detector: models.DetectorTurnaround, Ticker: "X", Score: 4, Reason: models.ReasonNoBreakout}
	assert.False(t, IsNearMiss(nil, low, 10, 5, 19))

	// Candidates are not near misses
	cand := verdict(models.DetectorSpike, "X", 12, true)
	assert.False(t, IsNearMiss(cand, nil, 10, 5, 19))
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, models.TierTop, TierFor(100))
	assert.Equal(t, models.TierPriority, TierFor(99))
	assert.Equal(t, models.TierPriority, TierFor(70))
	assert.Equal(t, models.TierWatch, TierFor(69))
	assert.Equal(t, models.TierWatch, TierFor(0))
}

func TestRank(t *testing.T) {
	cands := []models.CombinedCandidate{
		{Ticker: "5000.TSE", TotalScore: 50},
		{Ticker: "3000.TSE", TotalScore: 120},
		{Ticker: "2000.TSE", TotalScore: 80},
		{Ticker: "1000.TSE", TotalScore: 80},
		{Ticker: "4000.TSE", TotalScore: 30, PriorityTier: models.TierTop},
	}

	ranked := Rank(cands, 0)
	require.Len(t, ranked, 5)
	assert.Equal(t, models.Ticker("3000.TSE"), ranked[0].Ticker)
	assert.Equal(t, models.Ticker("1000.TSE"), ranked[1].Ticker, "ties break by ticker")
	assert.Equal(t, models.Ticker("2000.TSE"), ranked[2].Ticker)
	assert.Equal(t, models.Ticker("5000.TSE"), ranked[3].Ticker)

	assert.Equal(t, models.TierTop, ranked[0].PriorityTier)
	assert.Equal(t, models.TierPriority, ranked[1].PriorityTier)
	assert.Equal(t, models.TierPriority, ranked[2].PriorityTier)
	assert.Empty(t, ranked[3].PriorityTier)
	assert.Empty(t, ranked[4].PriorityTier, "stale tiers are cleared")

	// Input is not reordered
	assert.Equal(t, models.Ticker("5000.TSE"), cands[0].Ticker)
}

func TestRank_Limit(t *testing.T) {
	cands := []models.CombinedCandidate{
		{Ticker: "A", TotalScore: 10},
		{Ticker: "B", TotalScore: 30},
		{Ticker: "C", TotalScore: 20},
	}
	ranked := Rank(cands, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, models.Ticker("B"), ranked[0].Ticker)
	assert.Equal(t, models.Ticker("C"), ranked[1].Ticker)

	assert.Empty(t, Rank(nil, 5))
}

func TestOrder_NeverTiers(t *testing.T) {
	cands := []models.CombinedCandidate{
		{Ticker: "2000.TSE", TotalScore: 18},
		{Ticker: "1000.TSE", TotalScore: 19, PriorityTier: models.TierWatch},
		{Ticker: "3000.TSE", TotalScore: 18},
	}

	ordered := Order(cands, 0)
	require.Len(t, ordered, 3)
	assert.Equal(t, models.Ticker("1000.TSE"), ordered[0].Ticker)
	assert.Equal(t, models.Ticker("2000.TSE"), ordered[1].Ticker)
	assert.Equal(t, models.Ticker("3000.TSE"), ordered[2].Ticker)
	for _, c := range ordered {
		assert.Empty(t, c.PriorityTier, "ticker %s", c.Ticker)
	}

	assert.Len(t, Order(cands, 2), 2)
	assert.Empty(t, Order(nil, 0))
}

func TestRankVerdicts(t *testing.T) {
	in := []models.DetectionVerdict{
		*verdict(models.DetectorSpike, "B", 40, true),
		*verdict(models.DetectorSpike, "C", 65, true),
		*verdict(models.DetectorSpike, "A", 40, true),
	}
	out := RankVerdicts(in)
	require.Len(t, out, 3)
	assert.Equal(t, models.Ticker("C"), out[0].Ticker)
	assert.Equal(t, models.Ticker("A"), out[1].Ticker)
	assert.Equal(t, models.Ticker("B"), out[2].Ticker)
}
