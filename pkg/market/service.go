package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/pkg/ratelimit"
)

// fetchOutcome classifies one upstream attempt so fallback is a pure
// decision over the result instead of nested error handling.
type fetchOutcome int

const (
	outcomeOK fetchOutcome = iota
	outcomeRetryable
	outcomeFatal
)

func classify(err error) fetchOutcome {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrInstrumentNotFound), errors.Is(err, ErrNoData):
		// Confirmed absence: a fallback provider cannot conjure the data.
		return outcomeFatal
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeFatal
	default:
		// Transport errors, non-2xx, malformed payloads, exhausted budgets.
		return outcomeRetryable
	}
}

// Service is the multi-source data provider: cache-first, rate-limited, with
// per-capability ordered fallback across upstreams.
type Service struct {
	upstreams map[string]Upstream
	routes    Routes
	cache     Cache
	limiter   *ratelimit.Limiter
}

// NewService wires upstream clients, capability routes, the shared cache and
// the per-provider rate limiter.
func NewService(upstreams map[string]Upstream, routes Routes, cache Cache, limiter *ratelimit.Limiter) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{
		upstreams: upstreams,
		routes:    routes,
		cache:     cache,
		limiter:   limiter,
	}
}

func priceKey(instrumentID string) string { return "price:latest:" + instrumentID }
func bookKey(instrumentID string) string { return "book:" + instrumentID }
func candlesKey(instrumentID, interval string, limit int) string {
	return fmt.Sprintf("candles:%s:%s:%d", instrumentID, interval, limit)
}
func symbolKey(symbol string) string { return "instruments:symbol:" + symbol }
func topKey(limit int) string        { return fmt.Sprintf("instruments:top:%d", limit) }

// GetPrice returns the latest price for the resolved instrument.
func (s *Service) GetPrice(ctx context.Context, ref InstrumentRef) (float64, error) {
	key := priceKey(ref.ID)
	if v, ok := s.cache.Get(key, CategoryPrice); ok {
		if quote, ok := v.(*Quote); ok {
			return quote.Price, nil
		}
	}
	quote, err := fetchVia(ctx, s, s.routes.Price, func(u Upstream) (*Quote, error) {
		return u.GetTicker(ctx, ref)
	})
	if err != nil {
		return 0, err
	}
	s.cache.Set(key, CategoryPrice, quote)
	return quote.Price, nil
}

// GetCandles returns up to limit OHLC bars, oldest first.
func (s *Service) GetCandles(ctx context.Context, ref InstrumentRef, interval string, limit int) ([]Candle, error) {
	key := candlesKey(ref.ID, interval, limit)
	if v, ok := s.cache.Get(key, CategoryCandles); ok {
		if candles, ok := v.([]Candle); ok {
			return candles, nil
		}
	}
	candles, err := fetchVia(ctx, s, s.routes.Candles, func(u Upstream) ([]Candle, error) {
		return u.GetCandles(ctx, ref, interval, limit)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, CategoryCandles, candles)
	return candles, nil
}

// GetOrderBook returns the current bid/ask ladder.
func (s *Service) GetOrderBook(ctx context.Context, ref InstrumentRef) (*OrderBook, error) {
	key := bookKey(ref.ID)
	if v, ok := s.cache.Get(key, CategoryPrice); ok {
		if book, ok := v.(*OrderBook); ok {
			return book, nil
		}
	}
	book, err := fetchVia(ctx, s, s.routes.OrderBook, func(u Upstream) (*OrderBook, error) {
		return u.GetOrderBook(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, CategoryPrice, book)
	return book, nil
}

// EstimateSlippage walks the order-book ladder and reports the expected
// execution-price deviation, as a fraction of the best quote, for filling
// quantity against the asks.
func (s *Service) EstimateSlippage(ctx context.Context, ref InstrumentRef, quantity float64) (float64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("market: slippage quantity must be positive")
	}
	book, err := s.GetOrderBook(ctx, ref)
	if err != nil {
		return 0, err
	}
	if len(book.Asks) == 0 {
		return 0, fmt.Errorf("%w: empty ask ladder for %s", ErrNoData, ref.ID)
	}
	best := book.Asks[0].Price
	remaining := quantity
	cost := 0.0
	for _, level := range book.Asks {
		take := level.Quantity
		if take > remaining {
			take = remaining
		}
		cost += take * level.Price
		remaining -= take
		if remaining <= 0 {
			break
		}
	}
	filled := quantity - remaining
	if filled <= 0 {
		return 0, fmt.Errorf("%w: no depth for %s", ErrNoData, ref.ID)
	}
	vwap := cost / filled
	return (vwap - best) / best, nil
}

// ListInstruments returns every instrument matching the symbol, decoys
// included, for the resolver to disambiguate.
func (s *Service) ListInstruments(ctx context.Context, symbol string) ([]Instrument, error) {
	key := symbolKey(symbol)
	if v, ok := s.cache.Get(key, CategoryMarketMeta); ok {
		if instruments, ok := v.([]Instrument); ok {
			return instruments, nil
		}
	}
	instruments, err := fetchVia(ctx, s, s.routes.Instruments, func(u Upstream) ([]Instrument, error) {
		return u.ListInstruments(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, CategoryMarketMeta, instruments)
	return instruments, nil
}

// TopInstruments returns the discovery universe ordered by market cap.
func (s *Service) TopInstruments(ctx context.Context, limit int) ([]Instrument, error) {
	key := topKey(limit)
	if v, ok := s.cache.Get(key, CategoryMarketMeta); ok {
		if instruments, ok := v.([]Instrument); ok {
			return instruments, nil
		}
	}
	instruments, err := fetchVia(ctx, s, s.routes.Instruments, func(u Upstream) ([]Instrument, error) {
		return u.TopInstruments(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, CategoryMarketMeta, instruments)
	return instruments, nil
}

// InvalidateKey drops one cache entry, for operator remediation.
func (s *Service) InvalidateKey(key string) { s.cache.Invalidate(key) }

// fetchVia tries each provider on the route in order. Retryable failures
// move to the next provider; fatal ones surface immediately.
func fetchVia[T any](ctx context.Context, s *Service, route []string, call func(Upstream) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for _, name := range route {
		u, ok := s.upstreams[name]
		if !ok {
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Acquire(ctx, name); err != nil {
				if ctx.Err() != nil {
					return zero, ctx.Err()
				}
				logx.WithContext(ctx).Errorf("market: provider %s rate limited: %v", name, err)
				lastErr = err
				continue
			}
		}
		v, err := call(u)
		switch classify(err) {
		case outcomeOK:
			return v, nil
		case outcomeFatal:
			return zero, err
		default:
			logx.WithContext(ctx).Errorf("market: provider %s failed, trying next: %v", name, err)
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no provider configured")
	}
	return zero, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}
