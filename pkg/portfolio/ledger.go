package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
)

// Store persists ledger mutations. Each call is one atomic unit: a close
// that updates the position row and the portfolio row must commit both
// or neither.
type Store interface {
	// Load returns the persisted portfolio row and all OPEN positions,
	// or (nil, nil, nil) when nothing has been persisted yet.
	Load(ctx context.Context) (*State, []Position, error)
	// CreatePosition inserts the position and the portfolio row it debits.
	CreatePosition(ctx context.Context, position *Position, state *State) error
	// ClosePosition updates the position row and the portfolio row together.
	ClosePosition(ctx context.Context, position *Position, state *State) error
	// SaveState persists the portfolio row alone (daily reset bookkeeping).
	SaveState(ctx context.Context, state *State) error
}

// NopStore keeps the ledger memory-only.
type NopStore struct{}

func (NopStore) Load(context.Context) (*State, []Position, error)        { return nil, nil, nil }
func (NopStore) CreatePosition(context.Context, *Position, *State) error { return nil }
func (NopStore) ClosePosition(context.Context, *Position, *State) error  { return nil }
func (NopStore) SaveState(context.Context, *State) error                 { return nil }

// OpenSpec describes a requested position open. EntryPrice is supplied
// by the caller from a fresh quote.
type OpenSpec struct {
	Symbol          string
	InstrumentID    string
	Side            Side
	Quantity        float64
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// Ledger is the authoritative record of cash, open positions and closed
// trade history. Every mutation runs under one mutex so concurrent
// opens and closes serialize; readers get copies, never live state.
type Ledger struct {
	mu    sync.Mutex
	cfg   *Config
	store Store
	now   func() time.Time

	cash         float64
	realized     float64
	dailyLoss    float64
	dailyResetAt time.Time
	open         map[string]*Position
}

// NewLedger restores the ledger from the store, or seeds a fresh one
// from config when nothing is persisted yet.
func NewLedger(ctx context.Context, cfg *Config, store Store) (*Ledger, error) {
	if store == nil {
		store = NopStore{}
	}
	ledger := &Ledger{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		open:  make(map[string]*Position),
	}

	state, positions, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("portfolio: restore: %w", err)
	}
	if state == nil {
		ledger.cash = cfg.InitialBalance
		ledger.dailyResetAt = nextDailyBoundary(ledger.now())
		seed := ledger.snapshotLocked()
		if err := store.SaveState(ctx, &seed); err != nil {
			return nil, fmt.Errorf("portfolio: seed state: %w", err)
		}
		return ledger, nil
	}

	ledger.cash = state.CashBalance
	ledger.realized = state.RealizedPnL
	ledger.dailyLoss = state.DailyLossAccumulator
	ledger.dailyResetAt = state.DailyLossResetAt
	if ledger.dailyResetAt.IsZero() {
		ledger.dailyResetAt = nextDailyBoundary(ledger.now())
	}
	for i := range positions {
		pos := positions[i]
		ledger.open[pos.ID] = &pos
	}
	return ledger, nil
}

// nextDailyBoundary returns the UTC midnight following t.
func nextDailyBoundary(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// maybeResetDailyLocked zeroes the loss accumulator once the boundary
// passes. Persistence of the reset rides on the next mutation.
func (l *Ledger) maybeResetDailyLocked() {
	now := l.now()
	if now.Before(l.dailyResetAt) {
		return
	}
	l.dailyLoss = 0
	l.dailyResetAt = nextDailyBoundary(now)
}

func (l *Ledger) valueLocked() float64 {
	value := l.cash
	for _, pos := range l.open {
		value += pos.Cost()
	}
	return value
}

func (l *Ledger) suspendedLocked() bool {
	return l.dailyLoss > l.cfg.MaxDailyLossFraction*l.valueLocked()
}

func validateSpec(spec OpenSpec) error {
	if spec.Symbol == "" || spec.InstrumentID == "" {
		return fmt.Errorf("%w: symbol and instrument id are required", ErrInvalidSpec)
	}
	if !spec.Side.Valid() {
		return fmt.Errorf("%w: side must be long or short", ErrInvalidSpec)
	}
	if spec.Quantity <= 0 || spec.EntryPrice <= 0 {
		return fmt.Errorf("%w: quantity and entry price must be positive", ErrInvalidSpec)
	}
	if spec.StopLossPrice <= 0 || spec.TakeProfitPrice <= 0 {
		return fmt.Errorf("%w: stop loss and take profit must be positive", ErrInvalidSpec)
	}
	if spec.Side == SideLong {
		if spec.StopLossPrice >= spec.EntryPrice || spec.TakeProfitPrice <= spec.EntryPrice {
			return fmt.Errorf("%w: long requires stop < entry < take profit", ErrInvalidSpec)
		}
	} else {
		if spec.StopLossPrice <= spec.EntryPrice || spec.TakeProfitPrice >= spec.EntryPrice {
			return fmt.Errorf("%w: short requires take profit < entry < stop", ErrInvalidSpec)
		}
	}
	return nil
}

// OpenPosition reserves cash and books a new OPEN position. The open is
// rejected, portfolio untouched, when trading is suspended, the size
// breaches the max position fraction, or cash cannot cover the cost.
func (l *Ledger) OpenPosition(ctx context.Context, spec OpenSpec) (*Position, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetDailyLocked()

	if l.suspendedLocked() {
		return nil, ErrTradingSuspended
	}
	cost := spec.EntryPrice * spec.Quantity
	if cost > l.cfg.MaxPositionFraction*l.valueLocked() {
		return nil, fmt.Errorf("%w: cost %.2f exceeds %.0f%% of portfolio value",
			ErrLimitExceeded, cost, l.cfg.MaxPositionFraction*100)
	}
	if cost > l.cash {
		return nil, fmt.Errorf("%w: cost %.2f exceeds cash balance %.2f",
			ErrInsufficientFunds, cost, l.cash)
	}

	position := &Position{
		ID:              uuid.NewString(),
		Symbol:          spec.Symbol,
		InstrumentID:    spec.InstrumentID,
		Side:            spec.Side,
		EntryPrice:      spec.EntryPrice,
		Quantity:        spec.Quantity,
		StopLossPrice:   spec.StopLossPrice,
		TakeProfitPrice: spec.TakeProfitPrice,
		OpenedAt:        l.now(),
		Status:          StatusOpen,
	}

	newCash := l.cash - cost
	pending := l.pendingStateLocked(newCash)
	pending.OpenPositions = append(pending.OpenPositions, *position)
	if err := l.store.CreatePosition(ctx, position, &pending); err != nil {
		return nil, fmt.Errorf("portfolio: persist open: %w", err)
	}

	l.cash = newCash
	l.open[position.ID] = position
	logx.WithContext(ctx).Infof("portfolio: opened %s %s %s qty=%f entry=%f",
		position.ID, position.Side, position.Symbol, position.Quantity, position.EntryPrice)
	out := *position
	return &out, nil
}

// ClosePosition settles the position at price. Cash, realized P&L and
// the daily loss accumulator update together with the position row in
// one atomic store write; a closed position can never close again.
func (l *Ledger) ClosePosition(ctx context.Context, id string, reason CloseReason, price float64) (*Position, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: close price must be positive", ErrInvalidSpec)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetDailyLocked()

	position, ok := l.open[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if position.Status != StatusOpen {
		return nil, fmt.Errorf("%w: %s", ErrPositionClosed, id)
	}

	pnl := position.PnL(price)
	// A short gapping far through its stop can lose more than the cash
	// on hand plus the reserved cost. Cash never goes negative: the
	// loss settles at the available funds and the excess is absorbed.
	if floor := -(l.cash + position.Cost()); pnl < floor {
		logx.WithContext(ctx).Errorf("portfolio: close %s loss %.2f exceeds available funds %.2f, settling at floor",
			id, -pnl, -floor)
		pnl = floor
	}
	closedAt := l.now()
	closePrice := price

	closed := *position
	closed.Status = StatusClosed
	closed.CloseReason = reason
	closed.ClosedAt = &closedAt
	closed.ClosePrice = &closePrice

	newCash := l.cash + position.Cost() + pnl
	newRealized := l.realized + pnl
	newDailyLoss := l.dailyLoss
	if pnl < 0 {
		newDailyLoss -= pnl
	}

	pending := l.pendingStateLocked(newCash)
	pending.RealizedPnL = newRealized
	pending.DailyLossAccumulator = newDailyLoss
	for i := range pending.OpenPositions {
		if pending.OpenPositions[i].ID == id {
			pending.OpenPositions = append(pending.OpenPositions[:i], pending.OpenPositions[i+1:]...)
			break
		}
	}
	if err := l.store.ClosePosition(ctx, &closed, &pending); err != nil {
		return nil, fmt.Errorf("portfolio: persist close: %w", err)
	}

	*position = closed
	delete(l.open, id)
	l.cash = newCash
	l.realized = newRealized
	l.dailyLoss = newDailyLoss
	logx.WithContext(ctx).Infof("portfolio: closed %s %s at %f reason=%s pnl=%f",
		closed.ID, closed.Symbol, price, reason, pnl)
	out := closed
	return &out, nil
}

// pendingStateLocked builds the state snapshot a mutation intends to
// commit, with the given cash balance substituted in.
func (l *Ledger) pendingStateLocked(cash float64) State {
	state := l.snapshotLocked()
	state.CashBalance = cash
	return state
}

func (l *Ledger) snapshotLocked() State {
	positions := make([]Position, 0, len(l.open))
	for _, pos := range l.open {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	return State{
		CashBalance:          l.cash,
		OpenPositions:        positions,
		RealizedPnL:          l.realized,
		DailyLossAccumulator: l.dailyLoss,
		DailyLossResetAt:     l.dailyResetAt,
		TradingSuspended:     l.suspendedLocked(),
	}
}

// GetState returns a read-only snapshot. Open positions come back
// sorted by id.
func (l *Ledger) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetDailyLocked()
	return l.snapshotLocked()
}

// OpenPositions returns copies of the OPEN positions in stable id order.
func (l *Ledger) OpenPositions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	positions := make([]Position, 0, len(l.open))
	for _, pos := range l.open {
		positions = append(positions, *pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	return positions
}

// RiskLimitBreached reports whether realized daily losses exceed the
// configured fraction of portfolio value.
func (l *Ledger) RiskLimitBreached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maybeResetDailyLocked()
	return l.suspendedLocked()
}
