package discovery

import (
	"context"
	"math"

	"coinsim-api/pkg/market"
)

// ScoredCandidate is an instrument that passed every filter, with the
// composite score and its sub-metrics kept for reporting.
type ScoredCandidate struct {
	Instrument market.Instrument `json:"instrument"`
	Score      float64           `json:"score"`
	Momentum   float64           `json:"momentum"`
	Sentiment  float64           `json:"sentiment"`
}

// SentimentSource supplies an externally produced sentiment signal in
// [-1, 1] for an instrument. The pipeline only consumes the number; how
// it is produced is someone else's problem.
type SentimentSource interface {
	Sentiment(ctx context.Context, ref market.InstrumentRef) (float64, error)
}

// NeutralSentiment reports zero sentiment for everything.
type NeutralSentiment struct{}

func (NeutralSentiment) Sentiment(context.Context, market.InstrumentRef) (float64, error) {
	return 0, nil
}

// capScore maps market capitalisation onto [0, 1]. A trillion-dollar cap
// saturates the scale.
func capScore(marketCap float64) float64 {
	if marketCap <= 0 {
		return 0
	}
	return clamp01(math.Log10(marketCap) / 12)
}

// volumeScore maps 24h traded volume onto [0, 1], saturating at $10B.
func volumeScore(volume float64) float64 {
	if volume <= 0 {
		return 0
	}
	return clamp01(math.Log10(volume) / 10)
}

// momentum returns the fractional close-to-close move across the candle
// window, clamped to [-1, 1].
func momentum(candles []market.Candle) float64 {
	if len(candles) < 2 {
		return 0
	}
	first := candles[0].Close
	last := candles[len(candles)-1].Close
	if first <= 0 {
		return 0
	}
	move := (last - first) / first
	if move > 1 {
		return 1
	}
	if move < -1 {
		return -1
	}
	return move
}

// compositeScore folds the sub-metrics into a single [0, 1] ranking.
// Momentum and sentiment arrive in [-1, 1] and are shifted to [0, 1]
// before weighting, so a flat instrument scores mid-scale on both.
func compositeScore(w ScoreWeights, cap, volume, momentum, sentiment float64) float64 {
	total := w.MarketCap + w.Volume + w.Momentum + w.Sentiment
	if total <= 0 {
		return 0
	}
	weighted := w.MarketCap*clamp01(cap) +
		w.Volume*clamp01(volume) +
		w.Momentum*clamp01((momentum+1)/2) +
		w.Sentiment*clamp01((sentiment+1)/2)
	return weighted / total
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
