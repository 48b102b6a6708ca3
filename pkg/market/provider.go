package market

import "context"

// Upstream is a single market data source. Implementations translate the
// neutral contract onto one provider's REST API and distinguish transport
// failures (ErrUpstreamUnavailable) from confirmed absence
// (ErrInstrumentNotFound, ErrNoData).
type Upstream interface {
	// Name returns the provider key used for rate limiting and routing.
	Name() string
	// GetTicker returns the latest price for the instrument.
	GetTicker(ctx context.Context, ref InstrumentRef) (*Quote, error)
	// GetCandles returns up to limit OHLC bars for the interval, oldest first.
	GetCandles(ctx context.Context, ref InstrumentRef, interval string, limit int) ([]Candle, error)
	// GetOrderBook returns the current bid/ask ladder.
	GetOrderBook(ctx context.Context, ref InstrumentRef) (*OrderBook, error)
	// ListInstruments returns every instrument whose ticker matches symbol,
	// including decoys; disambiguation is the resolver's job.
	ListInstruments(ctx context.Context, symbol string) ([]Instrument, error)
	// TopInstruments returns the top instruments by market cap, for the
	// discovery universe.
	TopInstruments(ctx context.Context, limit int) ([]Instrument, error)
}

// Category buckets cache entries so each class of data ages independently.
type Category string

const (
	CategoryPrice      Category = "price"
	CategoryCandles    Category = "candles"
	CategoryMarketMeta Category = "marketMeta"
	CategoryNews       Category = "news"
)

// Cache fronts every upstream call. A miss is never an error; the caller
// falls through to a live fetch.
type Cache interface {
	Get(key string, category Category) (any, bool)
	Set(key string, category Category, value any)
	Invalidate(key string)
}

// NopCache satisfies Cache with permanent misses.
type NopCache struct{}

func (NopCache) Get(string, Category) (any, bool) { return nil, false }
func (NopCache) Set(string, Category, any)        {}
func (NopCache) Invalidate(string)                {}

// MappingStore persists resolver decisions across restarts.
type MappingStore interface {
	// Get returns the active mapping for symbol, or nil when none exists.
	Get(ctx context.Context, symbol string) (*InstrumentMapping, error)
	// Put stores the mapping, replacing any previous row for the symbol.
	Put(ctx context.Context, mapping *InstrumentMapping) error
	// Delete removes the active mapping for symbol.
	Delete(ctx context.Context, symbol string) error
}
