package logic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"coinsim-api/internal/svc"
	"coinsim-api/pkg/market"
	"coinsim-api/pkg/monitor"
	"coinsim-api/pkg/portfolio"
)

// stubUpstream serves a fixed universe and per-instrument prices so the
// logic layer runs against a real Service/Resolver/Ledger wiring.
type stubUpstream struct {
	universe []market.Instrument
	prices   map[string]float64
	failing  map[string]bool
}

func (s *stubUpstream) Name() string { return "stub" }

func (s *stubUpstream) GetTicker(_ context.Context, ref market.InstrumentRef) (*market.Quote, error) {
	if s.failing[ref.ID] {
		return nil, market.ErrUpstreamUnavailable
	}
	price, ok := s.prices[ref.ID]
	if !ok {
		return nil, market.ErrInstrumentNotFound
	}
	return &market.Quote{InstrumentID: ref.ID, Price: price, At: time.Now()}, nil
}

func (s *stubUpstream) GetCandles(context.Context, market.InstrumentRef, string, int) ([]market.Candle, error) {
	return nil, market.ErrNoData
}

func (s *stubUpstream) GetOrderBook(context.Context, market.InstrumentRef) (*market.OrderBook, error) {
	return nil, market.ErrNoData
}

func (s *stubUpstream) ListInstruments(_ context.Context, symbol string) ([]market.Instrument, error) {
	var out []market.Instrument
	for _, inst := range s.universe {
		if inst.Symbol == symbol {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *stubUpstream) TopInstruments(context.Context, int) ([]market.Instrument, error) {
	return s.universe, nil
}

func testServiceContext(t *testing.T, up *stubUpstream) *svc.ServiceContext {
	t.Helper()
	route := []string{"stub"}
	svcMarket := market.NewService(
		map[string]market.Upstream{"stub": up},
		market.Routes{Price: route, Candles: route, OrderBook: route, Instruments: route},
		nil, nil)
	ledger, err := portfolio.NewLedger(context.Background(), &portfolio.Config{
		InitialBalance:       100_000,
		MaxPositionFraction:  0.2,
		MaxDailyLossFraction: 0.05,
	}, nil)
	assert.NoError(t, err, "ledger construction should succeed")
	return &svc.ServiceContext{
		Market:   svcMarket,
		Resolver: market.NewResolver(svcMarket, nil, nil),
		Ledger:   ledger,
	}
}

func xUniverse() []market.Instrument {
	return []market.Instrument{
		{ID: "official-x", Symbol: "X", Name: "X Protocol", MarketCapRank: 70},
		{ID: "decoy-x", Symbol: "X", Name: "X Inu", MarketCapRank: 4000},
	}
}

func TestOpenPositionLogic_PinsResolvedInstrument(t *testing.T) {
	up := &stubUpstream{
		universe: xUniverse(),
		prices:   map[string]float64{"official-x": 100, "decoy-x": 5},
	}
	svcCtx := testServiceContext(t, up)
	ctx := context.Background()

	position, err := NewOpenPositionLogic(ctx, svcCtx).OpenPosition(OpenPositionRequest{
		Symbol:          "x",
		Side:            portfolio.SideLong,
		Quantity:        10,
		StopLossPrice:   90,
		TakeProfitPrice: 120,
	})
	assert.NoError(t, err, "open should succeed")
	assert.Equal(t, "official-x", position.InstrumentID, "the best-ranked candidate should be pinned")
	assert.Equal(t, "X", position.Symbol, "the symbol should be canonicalized")
	assert.Equal(t, 100.0, position.EntryPrice, "entry should come from the pinned instrument's quote")

	// The decoy climbs the rankings and an operator remaps the symbol.
	// The open position must keep its original price source.
	up.universe[0].MarketCapRank = 4000
	up.universe[1].MarketCapRank = 3
	mapping, err := NewResolveLogic(ctx, svcCtx).ResolveAndInvalidate("X")
	assert.NoError(t, err, "re-resolution should succeed")
	assert.Equal(t, "decoy-x", mapping.InstrumentID, "the fresh mapping should follow the new rankings")

	open := svcCtx.Ledger.OpenPositions()
	if assert.Len(t, open, 1, "the position should still be on the book") {
		assert.Equal(t, "official-x", open[0].InstrumentID, "a remap must not move an open position's price feed")
	}

	up.prices["official-x"] = 110
	closed, err := NewClosePositionLogic(ctx, svcCtx).ClosePosition(position.ID)
	assert.NoError(t, err, "manual close should succeed")
	if assert.NotNil(t, closed.ClosePrice, "close price should be recorded") {
		assert.Equal(t, 110.0, *closed.ClosePrice, "the close must price the pinned instrument, not the remapped one")
	}
	assert.Equal(t, 100.0, svcCtx.Ledger.GetState().RealizedPnL, "P&L follows the pinned feed")
}

func TestOpenPositionLogic_UnknownSymbol(t *testing.T) {
	svcCtx := testServiceContext(t, &stubUpstream{})

	_, err := NewOpenPositionLogic(context.Background(), svcCtx).OpenPosition(OpenPositionRequest{
		Symbol:          "GHOST",
		Side:            portfolio.SideLong,
		Quantity:        1,
		StopLossPrice:   90,
		TakeProfitPrice: 120,
	})
	assert.ErrorIs(t, err, market.ErrInstrumentNotFound, "an unresolvable symbol must not open anything")
	assert.Empty(t, svcCtx.Ledger.OpenPositions(), "a failed open must leave the book untouched")
}

func TestClosePositionLogic_Rejections(t *testing.T) {
	up := &stubUpstream{
		universe: xUniverse(),
		prices:   map[string]float64{"official-x": 100, "decoy-x": 5},
	}
	svcCtx := testServiceContext(t, up)
	ctx := context.Background()

	_, err := NewClosePositionLogic(ctx, svcCtx).ClosePosition("no-such-id")
	assert.ErrorIs(t, err, portfolio.ErrPositionNotFound, "closing an unknown id should fail")

	position, err := NewOpenPositionLogic(ctx, svcCtx).OpenPosition(OpenPositionRequest{
		Symbol:          "X",
		Side:            portfolio.SideLong,
		Quantity:        10,
		StopLossPrice:   90,
		TakeProfitPrice: 120,
	})
	assert.NoError(t, err, "open should succeed")

	up.failing = map[string]bool{"official-x": true}
	_, err = NewClosePositionLogic(ctx, svcCtx).ClosePosition(position.ID)
	assert.Error(t, err, "a close without a fresh price must fail")
	assert.Len(t, svcCtx.Ledger.OpenPositions(), 1, "a failed close must leave the position open")
}

func TestPortfolioStateLogic_FlagsStalePositions(t *testing.T) {
	up := &stubUpstream{
		universe: []market.Instrument{
			{ID: "aaa-coin", Symbol: "AAA", MarketCapRank: 1},
			{ID: "bbb-coin", Symbol: "BBB", MarketCapRank: 2},
		},
		prices: map[string]float64{"aaa-coin": 100, "bbb-coin": 100},
	}
	svcCtx := testServiceContext(t, up)
	ctx := context.Background()

	openLogic := NewOpenPositionLogic(ctx, svcCtx)
	for _, symbol := range []string{"AAA", "BBB"} {
		_, err := openLogic.OpenPosition(OpenPositionRequest{
			Symbol:          symbol,
			Side:            portfolio.SideLong,
			Quantity:        10,
			StopLossPrice:   90,
			TakeProfitPrice: 120,
		})
		assert.NoError(t, err, "open %s should succeed", symbol)
	}

	svcCtx.Monitor = monitor.NewMonitor(&monitor.Config{
		PollInterval: time.Minute,
		StaleAfter:   0,
	}, svcCtx.Market, svcCtx.Ledger, nil)

	view := NewPortfolioStateLogic(ctx, svcCtx).GetPortfolioState()
	assert.Empty(t, view.StalePositionIDs, "nothing is stale before a failing cycle")

	up.failing = map[string]bool{"aaa-coin": true, "bbb-coin": true}
	_, err := svcCtx.Monitor.RunCycle(ctx)
	assert.NoError(t, err, "the cycle itself should complete")

	view = NewPortfolioStateLogic(ctx, svcCtx).GetPortfolioState()
	open := svcCtx.Ledger.OpenPositions()
	if assert.Len(t, view.StalePositionIDs, 2, "both positions lost their price feed") {
		assert.Equal(t, open[0].ID, view.StalePositionIDs[0], "stale ids should come back sorted")
		assert.Equal(t, open[1].ID, view.StalePositionIDs[1], "stale ids should come back sorted")
	}
	assert.Len(t, view.OpenPositions, 2, "stale positions stay on the book")
}

func TestDiscoveryLogic_RequiresPipeline(t *testing.T) {
	svcCtx := testServiceContext(t, &stubUpstream{})

	_, err := NewDiscoveryLogic(context.Background(), svcCtx).RunDiscovery(10)
	assert.Error(t, err, "discovery without a configured pipeline should fail")
}
