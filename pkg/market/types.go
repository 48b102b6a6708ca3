package market

import "time"

// Instrument is an upstream-native listing for a tradable asset. The ID is
// the upstream identifier (e.g. a CoinGecko coin id), distinct from the
// human-facing ticker symbol, which may collide across instruments.
type Instrument struct {
	ID            string
	Symbol        string
	Name          string
	MarketCapRank int // 0 means the upstream reported no rank
	MarketCap     float64
	Volume24h     float64
	Price         float64
}

// InstrumentRef addresses one resolved instrument on an upstream call. ID is
// authoritative; Symbol rides along for upstreams whose native key is the
// ticker.
type InstrumentRef struct {
	ID     string
	Symbol string
}

// InstrumentMapping records the resolver's choice for a symbol. At most one
// active mapping exists per symbol; it is replaced only by explicit
// invalidation, never silently.
type InstrumentMapping struct {
	Symbol        string
	InstrumentID  string
	MarketCapRank *int
	ResolvedAt    time.Time
}

// Ref converts the mapping into an upstream address.
func (m *InstrumentMapping) Ref() InstrumentRef {
	return InstrumentRef{ID: m.InstrumentID, Symbol: m.Symbol}
}

// Quote is a point-in-time price observation.
type Quote struct {
	InstrumentID string
	Price        float64
	At           time.Time
}

// Candle is one OHLC bar. Candle sequences are ordered oldest to newest.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// BookLevel is one rung of the order-book ladder.
type BookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a bid/ask ladder, bids descending and asks ascending by price.
type OrderBook struct {
	InstrumentID string
	Bids         []BookLevel
	Asks         []BookLevel
	At           time.Time
}
