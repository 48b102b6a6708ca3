package market

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// Resolver maps a human-facing ticker symbol to exactly one upstream
// instrument. A resolved mapping is cached and persisted, and is reused for
// every downstream price/candle call until explicitly invalidated, so an
// open position keeps addressing the same instrument even if upstream
// rankings shift mid-session.
type Resolver struct {
	svc   *Service
	cache Cache
	store MappingStore
	now   func() time.Time
}

// NewResolver constructs a Resolver. store may be nil for cache-only
// operation (tests, ephemeral runs).
func NewResolver(svc *Service, cache Cache, store MappingStore) *Resolver {
	if cache == nil {
		cache = NopCache{}
	}
	return &Resolver{svc: svc, cache: cache, store: store, now: time.Now}
}

func mappingKey(symbol string) string { return "mapping:" + symbol }

func canonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Resolve returns the active mapping for symbol, creating one on first miss.
// Fails with ErrInstrumentNotFound when the upstream universe has no match.
func (r *Resolver) Resolve(ctx context.Context, symbol string) (*InstrumentMapping, error) {
	sym := canonicalSymbol(symbol)
	if sym == "" {
		return nil, fmt.Errorf("%w: empty symbol", ErrInstrumentNotFound)
	}

	if v, ok := r.cache.Get(mappingKey(sym), CategoryMarketMeta); ok {
		if mapping, ok := v.(*InstrumentMapping); ok {
			return mapping, nil
		}
	}

	if r.store != nil {
		mapping, err := r.store.Get(ctx, sym)
		if err != nil {
			return nil, fmt.Errorf("resolver: load mapping for %s: %w", sym, err)
		}
		if mapping != nil {
			r.cache.Set(mappingKey(sym), CategoryMarketMeta, mapping)
			return mapping, nil
		}
	}

	candidates, err := r.svc.ListInstruments(ctx, sym)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: symbol %s", ErrInstrumentNotFound, sym)
	}

	chosen := selectInstrument(candidates)
	if len(candidates) > 1 {
		logCollision(ctx, sym, candidates, chosen)
	}

	mapping := &InstrumentMapping{
		Symbol:       sym,
		InstrumentID: chosen.ID,
		ResolvedAt:   r.now(),
	}
	if chosen.MarketCapRank > 0 {
		rank := chosen.MarketCapRank
		mapping.MarketCapRank = &rank
	}

	if r.store != nil {
		if err := r.store.Put(ctx, mapping); err != nil {
			return nil, fmt.Errorf("resolver: persist mapping for %s: %w", sym, err)
		}
	}
	r.cache.Set(mappingKey(sym), CategoryMarketMeta, mapping)
	return mapping, nil
}

// Invalidate removes the symbol's mapping from cache and store so the next
// Resolve runs afresh. Operator remediation path for a known bad mapping.
func (r *Resolver) Invalidate(ctx context.Context, symbol string) error {
	sym := canonicalSymbol(symbol)
	r.cache.Invalidate(mappingKey(sym))
	if r.store != nil {
		if err := r.store.Delete(ctx, sym); err != nil {
			return fmt.Errorf("resolver: delete mapping for %s: %w", sym, err)
		}
	}
	return nil
}

// selectInstrument applies the collision policy as a total order: smallest
// market-cap rank wins, instruments with no rank sort last, remaining ties
// break on lexicographic instrument id. The result never depends on the
// upstream response ordering.
func selectInstrument(candidates []Instrument) Instrument {
	sorted := make([]Instrument, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		ri, rj := sorted[i].MarketCapRank, sorted[j].MarketCapRank
		iKnown, jKnown := ri > 0, rj > 0
		switch {
		case iKnown && jKnown && ri != rj:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		default:
			return sorted[i].ID < sorted[j].ID
		}
	})
	return sorted[0]
}

func logCollision(ctx context.Context, symbol string, candidates []Instrument, chosen Instrument) {
	set := make([]string, 0, len(candidates))
	for _, c := range candidates {
		set = append(set, fmt.Sprintf("%s(rank=%d)", c.ID, c.MarketCapRank))
	}
	logx.WithContext(ctx).Infow("resolver: symbol collision",
		logx.Field("symbol", symbol),
		logx.Field("candidates", strings.Join(set, ",")),
		logx.Field("chosen", chosen.ID),
	)
}
