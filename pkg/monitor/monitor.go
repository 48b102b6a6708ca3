package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/pkg/journal"
	"coinsim-api/pkg/market"
	"coinsim-api/pkg/portfolio"
)

// ErrCycleInFlight reports that an evaluation cycle was still running
// when another was requested. Cycles never overlap.
var ErrCycleInFlight = errors.New("monitor: evaluation cycle already in flight")

// PriceSource is the slice of the data service the monitor consumes.
type PriceSource interface {
	GetPrice(ctx context.Context, ref market.InstrumentRef) (float64, error)
}

// Book is the ledger surface the monitor drives.
type Book interface {
	OpenPositions() []portfolio.Position
	ClosePosition(ctx context.Context, id string, reason portfolio.CloseReason, price float64) (*portfolio.Position, error)
	RiskLimitBreached() bool
	GetState() portfolio.State
}

// CycleReport summarises one evaluation cycle.
type CycleReport struct {
	StartedAt   time.Time
	Evaluated   int
	Closed      []portfolio.Position
	FetchErrors int
	Stale       []string
	RiskSweep   bool
}

// Monitor owns the stop-loss/take-profit state machine. Each cycle it
// walks the open positions in id order, prices them through the data
// service, and executes any triggered close against the ledger.
type Monitor struct {
	cfg     *Config
	prices  PriceSource
	book    Book
	journal *journal.Writer

	busy int32

	mu         sync.Mutex
	staleSince map[string]time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMonitor constructs a Monitor. A nil journal writer disables cycle
// journaling.
func NewMonitor(cfg *Config, prices PriceSource, book Book, jw *journal.Writer) *Monitor {
	return &Monitor{
		cfg:        cfg,
		prices:     prices,
		book:       book,
		journal:    jw,
		staleSince: make(map[string]time.Time),
		stopChan:   make(chan struct{}),
	}
}

// Run drives evaluation cycles on the configured interval until the
// context is cancelled or Stop is called. A decided close always
// finishes its ledger write before the loop observes cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopChan:
			return nil
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInFlight) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logx.WithContext(ctx).Errorf("monitor: cycle failed: %v", err)
			}
		}
	}
}

// Stop signals the loop to exit.
func (m *Monitor) Stop() { m.stopOnce.Do(func() { close(m.stopChan) }) }

// RunCycle executes one evaluation cycle. Only one cycle runs at a
// time; a caller that finds one in flight gets ErrCycleInFlight
// instead of a second concurrent walk over the ledger.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !atomic.CompareAndSwapInt32(&m.busy, 0, 1) {
		return nil, ErrCycleInFlight
	}
	defer atomic.StoreInt32(&m.busy, 0)

	report := &CycleReport{StartedAt: time.Now()}

	if m.book.RiskLimitBreached() {
		report.RiskSweep = true
		if err := m.forceCloseAll(ctx, report); err != nil {
			return report, err
		}
		m.finishCycle(ctx, report)
		return report, nil
	}

	for _, pos := range m.book.OpenPositions() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Evaluated++
		m.evaluate(ctx, pos, report)
	}

	// Losses realized this cycle can tip the daily limit; sweep whatever
	// is still open before the cycle ends rather than waiting a tick.
	if m.book.RiskLimitBreached() {
		report.RiskSweep = true
		if err := m.forceCloseAll(ctx, report); err != nil {
			return report, err
		}
	}

	m.finishCycle(ctx, report)
	return report, nil
}

// evaluate prices one position and executes a triggered close. A fetch
// failure never blocks the rest of the cycle: the position stays OPEN
// with protections intact and is retried next cycle.
func (m *Monitor) evaluate(ctx context.Context, pos portfolio.Position, report *CycleReport) {
	price, err := m.prices.GetPrice(ctx, market.InstrumentRef{ID: pos.InstrumentID, Symbol: pos.Symbol})
	if err != nil {
		report.FetchErrors++
		m.markStale(pos.ID, report)
		logx.WithContext(ctx).Errorf("monitor: price fetch for %s (%s): %v", pos.Symbol, pos.InstrumentID, err)
		return
	}
	m.clearStale(pos.ID)

	reason, triggered := triggerReason(&pos, price)
	if !triggered {
		return
	}
	closed, err := m.book.ClosePosition(ctx, pos.ID, reason, price)
	if err != nil {
		logx.WithContext(ctx).Errorf("monitor: close %s reason=%s: %v", pos.ID, reason, err)
		return
	}
	report.Closed = append(report.Closed, *closed)
}

// forceCloseAll closes every remaining open position with RISK_LIMIT.
// A position whose price cannot be fetched stays OPEN and is retried
// next cycle.
func (m *Monitor) forceCloseAll(ctx context.Context, report *CycleReport) error {
	for _, pos := range m.book.OpenPositions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		price, err := m.prices.GetPrice(ctx, market.InstrumentRef{ID: pos.InstrumentID, Symbol: pos.Symbol})
		if err != nil {
			report.FetchErrors++
			m.markStale(pos.ID, report)
			logx.WithContext(ctx).Errorf("monitor: risk sweep price fetch for %s: %v", pos.Symbol, err)
			continue
		}
		m.clearStale(pos.ID)
		closed, err := m.book.ClosePosition(ctx, pos.ID, portfolio.CloseRiskLimit, price)
		if err != nil {
			logx.WithContext(ctx).Errorf("monitor: risk sweep close %s: %v", pos.ID, err)
			continue
		}
		report.Closed = append(report.Closed, *closed)
	}
	return nil
}

// triggerReason applies the side-aware stop/take-profit comparison.
func triggerReason(pos *portfolio.Position, price float64) (portfolio.CloseReason, bool) {
	if pos.Side == portfolio.SideShort {
		if price >= pos.StopLossPrice {
			return portfolio.CloseStopLoss, true
		}
		if price <= pos.TakeProfitPrice {
			return portfolio.CloseTakeProfit, true
		}
		return "", false
	}
	if price <= pos.StopLossPrice {
		return portfolio.CloseStopLoss, true
	}
	if price >= pos.TakeProfitPrice {
		return portfolio.CloseTakeProfit, true
	}
	return "", false
}

func (m *Monitor) markStale(id string, report *CycleReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	since, ok := m.staleSince[id]
	if !ok {
		since = time.Now()
		m.staleSince[id] = since
	}
	if time.Since(since) >= m.cfg.StaleAfter {
		report.Stale = append(report.Stale, id)
	}
}

func (m *Monitor) clearStale(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staleSince, id)
}

// StalePositions returns, per open position id, when its price feed
// went dark. Positions pricing normally are absent.
func (m *Monitor) StalePositions() map[string]time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]time.Time, len(m.staleSince))
	for id, since := range m.staleSince {
		out[id] = since
	}
	return out
}

// finishCycle prunes stale markers for positions no longer open and
// journals the cycle when a writer is configured.
func (m *Monitor) finishCycle(ctx context.Context, report *CycleReport) {
	open := make(map[string]struct{})
	for _, pos := range m.book.OpenPositions() {
		open[pos.ID] = struct{}{}
	}
	m.mu.Lock()
	for id := range m.staleSince {
		if _, ok := open[id]; !ok {
			delete(m.staleSince, id)
		}
	}
	m.mu.Unlock()

	if m.journal == nil {
		return
	}
	state := m.book.GetState()
	rec := &journal.CycleRecord{
		Timestamp:   report.StartedAt,
		Evaluated:   report.Evaluated,
		Stale:       report.Stale,
		FetchErrors: report.FetchErrors,
		RiskSweep:   report.RiskSweep,
		CashBalance: state.CashBalance,
		RealizedPnL: state.RealizedPnL,
	}
	for _, closed := range report.Closed {
		pnl := 0.0
		if closed.ClosePrice != nil {
			pnl = closed.PnL(*closed.ClosePrice)
		}
		price := 0.0
		if closed.ClosePrice != nil {
			price = *closed.ClosePrice
		}
		rec.Closed = append(rec.Closed, journal.ClosedPosition{
			PositionID: closed.ID,
			Symbol:     closed.Symbol,
			Reason:     string(closed.CloseReason),
			ClosePrice: price,
			PnL:        pnl,
		})
	}
	if _, err := m.journal.WriteCycle(rec); err != nil {
		logx.WithContext(ctx).Errorf("monitor: journal cycle: %v", err)
	}
}
