package backtest

import (
	"context"

	"coinsim-api/pkg/market"
	"coinsim-api/pkg/portfolio"
)

// Signal is a requested entry with its protective stops attached. Exits
// are never signalled; the engine closes positions through the same
// stop-loss/take-profit comparison the live monitor applies.
type Signal struct {
	Side            portfolio.Side
	Quantity        float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// Strategy maps the latest candle into at most one entry signal.
type Strategy interface {
	Decide(ctx context.Context, candle *market.Candle) (*Signal, error)
}

// ThresholdStrategy enters on bar-over-bar momentum: a close up by
// ThresholdPct opens a long, down by ThresholdPct opens a short. Stops
// are placed a fixed fraction away from the entry.
type ThresholdStrategy struct {
	ThresholdPct float64 // entry trigger, in percent
	Quantity     float64
	StopPct      float64 // distance to the stop, fraction of entry; 0 means 5%
	TakePct      float64 // distance to the target, fraction of entry; 0 means 10%

	lastClose float64
}

func (s *ThresholdStrategy) Decide(_ context.Context, candle *market.Candle) (*Signal, error) {
	px := candle.Close
	if s.lastClose == 0 {
		s.lastClose = px
		return nil, nil
	}
	pct := (px - s.lastClose) / s.lastClose * 100
	s.lastClose = px

	stop := s.StopPct
	if stop <= 0 {
		stop = 0.05
	}
	take := s.TakePct
	if take <= 0 {
		take = 0.10
	}

	switch {
	case pct >= s.ThresholdPct:
		return &Signal{
			Side:            portfolio.SideLong,
			Quantity:        s.Quantity,
			StopLossPrice:   px * (1 - stop),
			TakeProfitPrice: px * (1 + take),
		}, nil
	case pct <= -s.ThresholdPct:
		return &Signal{
			Side:            portfolio.SideShort,
			Quantity:        s.Quantity,
			StopLossPrice:   px * (1 + stop),
			TakeProfitPrice: px * (1 - take),
		}, nil
	default:
		return nil, nil
	}
}
