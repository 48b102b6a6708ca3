package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"coinsim-api/pkg/portfolio"
)

func TestEngine_StopAndTargetExits(t *testing.T) {
	// 100 -> 102 triggers a long entry at 102 (stop 91.8, target 112.2).
	// 113 settles the take-profit; the next rally opens a fresh position.
	feeder := NewPriceFeeder([]float64{100, 102, 105, 113, 113, 113})
	strat := &ThresholdStrategy{ThresholdPct: 1.0, Quantity: 10}
	e := &Engine{Feeder: feeder, Strategy: strat, Symbol: "BTC", InitialEquity: 100000}

	res, err := e.Run(context.Background())
	assert.NoError(t, err, "run should succeed")
	assert.Equal(t, 6, res.Steps, "every candle should be stepped")
	assert.GreaterOrEqual(t, res.Opens, 1, "the rally should open at least one position")
	assert.GreaterOrEqual(t, res.Trades, 1, "the target should settle at least one trade")
	if assert.NotEmpty(t, res.Details, "settled trades should be detailed") {
		first := res.Details[0]
		assert.Equal(t, string(portfolio.SideLong), first.Side, "the rally entry is a long")
		assert.Equal(t, string(portfolio.CloseTakeProfit), first.Reason, "the rally exit is the target")
		assert.Greater(t, first.Realized, 0.0, "the target exit realizes a profit")
	}
	assert.Equal(t, 1, res.Wins, "the profitable exit should count as a win")
	assert.Len(t, res.EquityCurve, res.Steps, "equity curve length should match steps")
	assert.False(t, math.IsNaN(res.Sharpe), "sharpe should be a number")
	assert.GreaterOrEqual(t, res.MaxDDPct, 0.0, "drawdown should be non-negative")
}

func TestEngine_StopLossExit(t *testing.T) {
	// 100 -> 102 opens a long at 102 with the stop at 102*0.95 = 96.9;
	// the slide to 95 settles it at a loss.
	feeder := NewPriceFeeder([]float64{100, 102, 95})
	strat := &ThresholdStrategy{ThresholdPct: 1.0, Quantity: 10}
	e := &Engine{Feeder: feeder, Strategy: strat, Symbol: "BTC"}

	res, err := e.Run(context.Background())
	assert.NoError(t, err, "run should succeed")
	if assert.Equal(t, 1, res.Trades, "the slide should settle exactly one trade") {
		assert.Equal(t, string(portfolio.CloseStopLoss), res.Details[0].Reason, "the exit is the stop")
		assert.Less(t, res.Details[0].Realized, 0.0, "the stop exit realizes a loss")
	}
	assert.Equal(t, 0, res.Wins, "a losing trade is not a win")
	assert.InDelta(t, (95.0-102.0)*10, res.RealizedPNL, 1e-9, "realized P&L should match the losing trade")
}

func TestEngine_SinglePositionAtATime(t *testing.T) {
	// Every bar rallies, but only one position may be open at once and
	// nothing ever reaches the 10% target.
	feeder := NewPriceFeeder([]float64{100, 102, 104, 106, 108})
	strat := &ThresholdStrategy{ThresholdPct: 1.0, Quantity: 1}
	e := &Engine{Feeder: feeder, Strategy: strat, Symbol: "BTC"}

	res, err := e.Run(context.Background())
	assert.NoError(t, err, "run should succeed")
	assert.Equal(t, 1, res.Opens, "a held position blocks further entries")
	assert.Equal(t, 0, res.Trades, "nothing should settle inside the band")
	assert.Greater(t, res.UnrealPNL, 0.0, "the held long should be marked at a gain")
}

func TestThresholdStrategy_Sides(t *testing.T) {
	strat := &ThresholdStrategy{ThresholdPct: 1.0, Quantity: 5}

	signal, err := strat.Decide(context.Background(), candleAt(100))
	assert.NoError(t, err, "the first candle should not error")
	assert.Nil(t, signal, "the first candle only seeds the reference close")

	signal, err = strat.Decide(context.Background(), candleAt(102))
	assert.NoError(t, err, "a rally should not error")
	if assert.NotNil(t, signal, "a 2% rally should signal") {
		assert.Equal(t, portfolio.SideLong, signal.Side, "a rally signals a long")
		assert.Less(t, signal.StopLossPrice, 102.0, "a long stop sits below entry")
		assert.Greater(t, signal.TakeProfitPrice, 102.0, "a long target sits above entry")
	}

	signal, err = strat.Decide(context.Background(), candleAt(99))
	assert.NoError(t, err, "a slide should not error")
	if assert.NotNil(t, signal, "a ~3% slide should signal") {
		assert.Equal(t, portfolio.SideShort, signal.Side, "a slide signals a short")
		assert.Greater(t, signal.StopLossPrice, 99.0, "a short stop sits above entry")
		assert.Less(t, signal.TakeProfitPrice, 99.0, "a short target sits below entry")
	}

	signal, err = strat.Decide(context.Background(), candleAt(99.1))
	assert.NoError(t, err, "a flat bar should not error")
	assert.Nil(t, signal, "a sub-threshold move stays flat")
}
