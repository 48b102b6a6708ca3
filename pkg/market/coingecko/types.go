package coingecko

// coinListEntry is one row of /coins/list.
type coinListEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// marketRow is one row of /coins/markets.
type marketRow struct {
	ID            string  `json:"id"`
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	CurrentPrice  float64 `json:"current_price"`
	MarketCap     float64 `json:"market_cap"`
	MarketCapRank int     `json:"market_cap_rank"`
	TotalVolume   float64 `json:"total_volume"`
}

// ohlcRow is one /coins/{id}/ohlc bar: [timestamp_ms, open, high, low, close].
type ohlcRow = [5]float64

// tickerRow is one exchange ticker from /coins/{id}/tickers.
type tickerRow struct {
	Base                   string             `json:"base"`
	Target                 string             `json:"target"`
	Last                   float64            `json:"last"`
	Volume                 float64            `json:"volume"`
	ConvertedLast          map[string]float64 `json:"converted_last"`
	ConvertedVolume        map[string]float64 `json:"converted_volume"`
	BidAskSpreadPercentage float64            `json:"bid_ask_spread_percentage"`
	IsAnomaly              bool               `json:"is_anomaly"`
	IsStale                bool               `json:"is_stale"`
}

type tickersResponse struct {
	Name    string      `json:"name"`
	Tickers []tickerRow `json:"tickers"`
}
