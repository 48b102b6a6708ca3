package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"coinsim-api/pkg/portfolio"
)

// Engine replays a candle series through a memory-only portfolio ledger:
// the strategy decides entries, the engine settles exits with the same
// side-aware stop-loss/take-profit comparison the live monitor uses.
type Engine struct {
	Feeder   Feeder
	Strategy Strategy
	Symbol   string

	InitialEquity float64 // defaults to 100000 if zero
	MaxPositions  int     // concurrent open positions; defaults to 1

	// Optional: write JSON report to this path
	OutputPath string
}

// Result summarizes a simulation run.
type Result struct {
	Steps       int           `json:"steps"`
	Opens       int           `json:"opens"`
	Skipped     int           `json:"skipped"` // entries refused by the ledger
	Trades      int           `json:"trades"`
	Wins        int           `json:"wins"`
	WinRate     float64       `json:"win_rate"`
	RealizedPNL float64       `json:"realized_pnl"`
	UnrealPNL   float64       `json:"unreal_pnl"`
	TotalPNL    float64       `json:"total_pnl"`
	MaxDDPct    float64       `json:"max_dd_pct"`
	Sharpe      float64       `json:"sharpe"`
	EquityCurve []float64     `json:"equity_curve"`
	Details     []TradeDetail `json:"details,omitempty"`
}

// TradeDetail records one settled position for analysis.
type TradeDetail struct {
	Step       int     `json:"step"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	ClosePrice float64 `json:"close_price"`
	Qty        float64 `json:"qty"`
	Reason     string  `json:"reason"`
	Realized   float64 `json:"realized"`
}

func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if e.Feeder == nil || e.Strategy == nil || e.Symbol == "" {
		return nil, fmt.Errorf("backtest: engine not fully configured")
	}
	eq0 := e.InitialEquity
	if eq0 <= 0 {
		eq0 = 100000
	}
	maxPositions := e.MaxPositions
	if maxPositions <= 0 {
		maxPositions = 1
	}

	// Risk guards stay out of the way in a replay; the ledger is only the
	// bookkeeper here.
	book, err := portfolio.NewLedger(ctx, &portfolio.Config{
		InitialBalance:       eq0,
		MaxPositionFraction:  1,
		MaxDailyLossFraction: 1,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("backtest: seed ledger: %w", err)
	}

	res := &Result{}
	for {
		candle, ok, err := e.Feeder.Next(ctx, e.Symbol)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		res.Steps++
		px := candle.Close

		for _, pos := range book.OpenPositions() {
			reason, triggered := exitReason(&pos, px)
			if !triggered {
				continue
			}
			closed, err := book.ClosePosition(ctx, pos.ID, reason, px)
			if err != nil {
				return nil, fmt.Errorf("backtest: close %s: %w", pos.ID, err)
			}
			realized := closed.PnL(px)
			res.Trades++
			if realized > 0 {
				res.Wins++
			}
			res.Details = append(res.Details, TradeDetail{
				Step:       res.Steps,
				Side:       string(closed.Side),
				EntryPrice: closed.EntryPrice,
				ClosePrice: px,
				Qty:        closed.Quantity,
				Reason:     string(closed.CloseReason),
				Realized:   realized,
			})
		}

		signal, err := e.Strategy.Decide(ctx, candle)
		if err != nil {
			return nil, err
		}
		if signal != nil && len(book.OpenPositions()) < maxPositions {
			_, err := book.OpenPosition(ctx, portfolio.OpenSpec{
				Symbol:          e.Symbol,
				InstrumentID:    e.Symbol,
				Side:            signal.Side,
				Quantity:        signal.Quantity,
				EntryPrice:      px,
				StopLossPrice:   signal.StopLossPrice,
				TakeProfitPrice: signal.TakeProfitPrice,
			})
			switch {
			case err == nil:
				res.Opens++
			case errors.Is(err, portfolio.ErrInsufficientFunds),
				errors.Is(err, portfolio.ErrLimitExceeded),
				errors.Is(err, portfolio.ErrTradingSuspended):
				res.Skipped++
			default:
				return nil, fmt.Errorf("backtest: open: %w", err)
			}
		}

		res.EquityCurve = append(res.EquityCurve, markedEquity(book, px))
	}

	state := book.GetState()
	res.RealizedPNL = state.RealizedPnL
	if n := len(res.EquityCurve); n > 0 {
		res.UnrealPNL = res.EquityCurve[n-1] - eq0 - res.RealizedPNL
	}
	res.TotalPNL = res.RealizedPNL + res.UnrealPNL
	if res.Trades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.Trades)
	}
	res.MaxDDPct = maxDrawdownPct(append([]float64{eq0}, res.EquityCurve...))
	res.Sharpe = sharpe(res.EquityCurve)

	if e.OutputPath != "" {
		if err := writeReport(e.OutputPath, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// exitReason mirrors the live monitor's trigger comparison.
func exitReason(pos *portfolio.Position, px float64) (portfolio.CloseReason, bool) {
	if pos.Side == portfolio.SideShort {
		if px >= pos.StopLossPrice {
			return portfolio.CloseStopLoss, true
		}
		if px <= pos.TakeProfitPrice {
			return portfolio.CloseTakeProfit, true
		}
		return "", false
	}
	if px <= pos.StopLossPrice {
		return portfolio.CloseStopLoss, true
	}
	if px >= pos.TakeProfitPrice {
		return portfolio.CloseTakeProfit, true
	}
	return "", false
}

// markedEquity is cash plus open exposure marked to the given price.
func markedEquity(book *portfolio.Ledger, px float64) float64 {
	state := book.GetState()
	equity := state.CashBalance
	for i := range state.OpenPositions {
		pos := &state.OpenPositions[i]
		equity += pos.Cost() + pos.PnL(px)
	}
	return equity
}

func maxDrawdownPct(series []float64) float64 {
	peak := series[0]
	mdd := 0.0
	for _, v := range series {
		if v > peak {
			peak = v
		}
		dd := (peak - v) / peak
		if dd > mdd {
			mdd = dd
		}
	}
	return mdd * 100
}

func sharpe(equity []float64) float64 {
	if len(equity) < 2 {
		return 0
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		if equity[i-1] == 0 {
			continue
		}
		rets = append(rets, equity[i]/equity[i-1]-1)
	}
	if len(rets) == 0 {
		return 0
	}
	m := 0.0
	for _, r := range rets {
		m += r
	}
	m /= float64(len(rets))
	v := 0.0
	for _, r := range rets {
		d := r - m
		v += d * d
	}
	v /= float64(len(rets))
	sd := math.Sqrt(v)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(float64(len(rets)))
}

func writeReport(path string, r *Result) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
