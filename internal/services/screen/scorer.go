package screen

import (
	"sort"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// Bonus reasons, in the order they are applied
const (
	BonusBothDetectors = "both_detectors"
	BonusLimitSticking = "limit_sticking"
	BonusSpikeChange   = "spike_change"
	BonusTurnaround    = "turnaround"
	BonusMABreakout    = "ma_breakout"
	BonusHighVolume    = "high_volume"
)

const (
	// TieredCount is how many top-ranked candidates receive a priority tier
	TieredCount = 3

	highVolumeShares = 1_000_000
)

func fired(v *models.DetectionVerdict) bool {
	return v != nil && v.Detected
}

// bothBonus rewards cross-confirmation in discrete steps
func bothBonus(scoreA, scoreB int) int {
	switch {
	case scoreA > 30 && scoreB > 30:
		return 30
	case scoreA > 15 && scoreB > 15:
		return 20
	default:
		return 10
	}
}

// Combine merges one ticker's verdicts. Only firing verdicts contribute score or bonuses.
// volume is the latest session volume used for the high-volume bonus.
func Combine(ticker models.Ticker, name string, volume int64, a, b *models.DetectionVerdict) models.CombinedCandidate {
	c := models.CombinedCandidate{Ticker: ticker, Name: name, DetectorA: a, DetectorB: b}

	add := func(reason string, points int) {
		c.Bonuses = append(c.Bonuses, models.Bonus{Reason: reason, Points: points})
		c.TotalScore += points
	}

	if fired(a) {
		c.ScoreA = a.Score
	}
	if fired(b) {
		c.ScoreB = b.Score
	}
	c.TotalScore = c.ScoreA + c.ScoreB

	if fired(a) && fired(b) {
		add(BonusBothDetectors, bothBonus(c.ScoreA, c.ScoreB))
	}
	if fired(a) && a.Spike != nil {
		if a.Spike.Sticking {
			add(BonusLimitSticking, 15)
		}
		if a.Spike.ChangePct > 15 {
			add(BonusSpikeChange, 10)
		}
	}
	if fired(b) && b.Turnaround != nil {
		if b.Turnaround.Turnaround {
			add(BonusTurnaround, 15)
		}
		if b.Turnaround.Breakout {
			add(BonusMABreakout, 10)
		}
	}
	if (fired(a) || fired(b)) && volume > highVolumeShares {
		add(BonusHighVolume, 10)
	}

	return c
}

// IsCandidate reports whether any firing verdict reaches the candidacy threshold
func IsCandidate(a, b *models.DetectionVerdict, minScore int) bool {
	return (fired(a) && a.Score >= minScore) || (fired(b) && b.Score >= minScore)
}

// IsNearMiss reports whether a non-candidate scored in [lo, hi] at a signal stage.
// lo == 0 disables the bucket.
func IsNearMiss(a, b *models.DetectionVerdict, minScore, lo, hi int) bool {
	if lo <= 0 || IsCandidate(a, b, minScore) {
		return false
	}
	best := -1
	for _, v := range []*models.DetectionVerdict{a, b} {
		if v != nil && (v.Reason.IsSignalStage() || v.Detected) && v.Score > best {
			best = v.Score
		}
	}
	return best >= lo && best <= hi
}

// TierFor maps a combined score to a priority tier
func TierFor(score int) models.PriorityTier {
	switch {
	case score >= 100:
		return models.TierTop
	case score >= 70:
		return models.TierPriority
	default:
		return models.TierWatch
	}
}

// Order sorts candidates by total score descending then ticker ascending and
// truncates to limit (0 keeps all). Every returned candidate has an empty PriorityTier.
func Order(cands []models.CombinedCandidate, limit int) []models.CombinedCandidate {
	out := make([]models.CombinedCandidate, len(cands))
	copy(out, cands)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].Ticker < out[j].Ticker
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].PriorityTier = ""
	}
	return out
}

// Rank orders candidates like Order and tiers the top TieredCount.
func Rank(cands []models.CombinedCandidate, limit int) []models.CombinedCandidate {
	out := Order(cands, limit)
	for i := range out[:min(len(out), TieredCount)] {
		out[i].PriorityTier = TierFor(out[i].TotalScore)
	}
	return out
}

// RankVerdicts orders firing verdicts by score descending then ticker ascending
func RankVerdicts(verdicts []models.DetectionVerdict) []models.DetectionVerdict {
	out := make([]models.DetectionVerdict, len(verdicts))
	copy(out, verdicts)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}
