package portfolio

import "time"

// Side is the direction of a simulated position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the known directions.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Status tracks the position lifecycle. The only transition is
// OPEN -> CLOSED, exactly once.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// CloseReason records why a position left the book.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "STOP_LOSS"
	CloseTakeProfit CloseReason = "TAKE_PROFIT"
	CloseManual     CloseReason = "MANUAL"
	CloseRiskLimit  CloseReason = "RISK_LIMIT"
)

// Position is a simulated holding. Stop and take-profit prices are fixed
// at open time and never drift. InstrumentID pins the upstream
// instrument the position was opened against; price checks always
// address it directly, never the symbol.
type Position struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	InstrumentID    string      `json:"instrumentId"`
	Side            Side        `json:"side"`
	EntryPrice      float64     `json:"entryPrice"`
	Quantity        float64     `json:"quantity"`
	StopLossPrice   float64     `json:"stopLossPrice"`
	TakeProfitPrice float64     `json:"takeProfitPrice"`
	OpenedAt        time.Time   `json:"openedAt"`
	Status          Status      `json:"status"`
	CloseReason     CloseReason `json:"closeReason,omitempty"`
	ClosedAt        *time.Time  `json:"closedAt,omitempty"`
	ClosePrice      *float64    `json:"closePrice,omitempty"`
}

// Cost is the cash reserved when the position was opened.
func (p *Position) Cost() float64 { return p.EntryPrice * p.Quantity }

// PnL returns the side-adjusted profit of closing at price.
func (p *Position) PnL(price float64) float64 {
	diff := price - p.EntryPrice
	if p.Side == SideShort {
		diff = -diff
	}
	return diff * p.Quantity
}

// State is a read-only snapshot of the portfolio.
type State struct {
	CashBalance          float64    `json:"cashBalance"`
	OpenPositions        []Position `json:"openPositions"`
	RealizedPnL          float64    `json:"realizedPnL"`
	DailyLossAccumulator float64    `json:"dailyLossAccumulator"`
	DailyLossResetAt     time.Time  `json:"dailyLossResetAt"`
	TradingSuspended     bool       `json:"tradingSuspended"`
}

// Value is the cash balance plus capital committed to open positions.
func (s *State) Value() float64 {
	value := s.CashBalance
	for i := range s.OpenPositions {
		value += s.OpenPositions[i].Cost()
	}
	return value
}
