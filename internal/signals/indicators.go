// Package signals provides technical indicator calculations over newest-first bars
package signals

import (
	"time"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// SMA calculates Simple Moving Average of closes over bars[0:period]
func SMA(bars []models.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// AverageVolume calculates average volume over bars[0:period]
func AverageVolume(bars []models.Bar, period int) int64 {
	if period <= 0 || len(bars) < period {
		return 0
	}

	var sum int64
	for i := 0; i < period; i++ {
		sum += bars[i].Volume
	}
	return sum / int64(period)
}

// VolumeRatio compares the latest volume to the average of the preceding period sessions.
// Returns 1.0 when there is not enough history.
func VolumeRatio(bars []models.Bar, period int) float64 {
	if len(bars) < 2 {
		return 1.0
	}
	prior := bars[1:]
	if len(prior) < period {
		period = len(prior)
	}

	avg := AverageVolume(prior, period)
	if avg == 0 {
		return 1.0
	}

	return float64(bars[0].Volume) / float64(avg)
}

// ChangePct returns the close-to-close change of bars[i] versus bars[i+1], in percent.
// The second return is false when either bar is missing or the base is not positive.
func ChangePct(bars []models.Bar, i int) (float64, bool) {
	if i < 0 || i+1 >= len(bars) || bars[i+1].Close <= 0 {
		return 0, false
	}
	return (bars[i].Close - bars[i+1].Close) / bars[i+1].Close * 100, true
}

// MinVolumeSince returns the smallest daily volume among bars dated on or after since.
// The second return is false when no bar falls in the range.
func MinVolumeSince(bars []models.Bar, since time.Time) (int64, bool) {
	var lowest int64
	found := false
	for _, b := range bars {
		if b.Date.Before(since) {
			break
		}
		if !found || b.Volume < lowest {
			lowest = b.Volume
			found = true
		}
	}
	return lowest, found
}

// YearChangePct compares the latest close to the close nearest one year before the latest bar.
// The second return is false when history does not reach back far enough.
func YearChangePct(bars []models.Bar) (float64, bool) {
	if len(bars) < 2 {
		return 0, false
	}
	target := bars[0].Date.AddDate(-1, 0, 0)
	oldest := bars[len(bars)-1]
	// Tolerate a short gap at the far end (holidays, listing date)
	if oldest.Date.After(target.AddDate(0, 0, 7)) {
		return 0, false
	}
	base := oldest
	for _, b := range bars {
		if !b.Date.After(target) {
			base = b
			break
		}
	}
	if base.Close <= 0 {
		return 0, false
	}
	return (bars[0].Close - base.Close) / base.Close * 100, true
}

// LowerShadowRatio returns (open-low)/open for a bar, 0 when open is not positive
func LowerShadowRatio(b models.Bar) float64 {
	if b.Open <= 0 || b.Low >= b.Open {
		return 0
	}
	return (b.Open - b.Low) / b.Open
}

// DetectCrossover reports a close crossing above its SMA on the latest bar:
// the previous close sat at or below the previous SMA and the latest close
// clears the current SMA by at least threshold (0.02 = 2%).
func DetectCrossover(bars []models.Bar, period int, threshold float64) (crossed bool, sma, prevSMA float64) {
	if len(bars) < period+1 {
		return false, 0, 0
	}

	sma = SMA(bars, period)
	prevSMA = SMA(bars[1:], period)

	crossed = bars[1].Close <= prevSMA && bars[0].Close > sma*(1+threshold)
	return crossed, sma, prevSMA
}
