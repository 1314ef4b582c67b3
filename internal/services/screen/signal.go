package screen

import (
	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-screen/internal/models"
)

// riskInputs are the heuristics feeding the risk score
type riskInputs struct {
	price       float64
	high        float64
	low         float64
	volumeRatio float64
	changePct   float64
}

var recommendations = map[models.RiskTier]string{
	models.RiskLow:    "Conditions favourable. Standard position size with the stop-loss in place.",
	models.RiskMedium: "Reduce position size and honour the stop-loss.",
	models.RiskHigh:   "Speculative. Small size only, or wait for a pullback to confirm.",
}

// roundToTick rounds a price to the nearest tick
func roundToTick(price, tick float64) float64 {
	t := decimal.NewFromFloat(tick)
	if t.Sign() <= 0 {
		return price
	}
	return decimal.NewFromFloat(price).Div(t).Round(0).Mul(t).InexactFloat64()
}

// scaleRate returns entry * (1 + rate) computed in decimal
func scaleRate(entry, rate float64) float64 {
	return decimal.NewFromFloat(entry).Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(rate))).InexactFloat64()
}

// riskScore maps price band, intraday range, volume and move size to points
func riskScore(in riskInputs) int {
	score := 0
	switch {
	case in.price < 100:
		score += 2
	case in.price < 500:
		score++
	}
	if in.low > 0 {
		rng := (in.high - in.low) / in.low
		switch {
		case rng >= 0.20:
			score += 2
		case rng >= 0.10:
			score++
		}
	}
	switch {
	case in.volumeRatio >= 5:
		score += 2
	case in.volumeRatio < 1.5:
		score++
	}
	if in.changePct >= 20 {
		score++
	}
	return score
}

func riskTier(score int) models.RiskTier {
	switch {
	case score >= 5:
		return models.RiskHigh
	case score >= 3:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// buildSignal derives entry, target and stop for a firing verdict
func buildSignal(params SignalParams, in riskInputs) *models.TradeSignal {
	entry := roundToTick(in.price, params.TickSize)
	score := riskScore(in)
	tier := riskTier(score)
	return &models.TradeSignal{
		EntryPrice:     entry,
		TargetPrice:    roundToTick(scaleRate(entry, params.TargetRate), params.TickSize),
		StopLossPrice:  roundToTick(scaleRate(entry, params.StopRate), params.TickSize),
		MaxHoldDays:    params.MaxHoldDays,
		RiskScore:      score,
		RiskTier:       tier,
		Recommendation: recommendations[tier],
	}
}
