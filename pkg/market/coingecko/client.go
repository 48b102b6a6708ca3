package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"coinsim-api/pkg/market"
)

const (
	defaultBaseURL          = "https://api.coingecko.com/api/v3"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 3
	defaultRetryBackoffBase = 150 * time.Millisecond

	quoteCurrency = "usd"
)

// Client talks to the CoinGecko REST API. Instrument IDs are CoinGecko coin
// ids ("bitcoin", "official-trump"); a given ticker symbol may map to many
// of them.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int

	directoryMu        sync.RWMutex
	directoryBySymbol  map[string][]coinListEntry
	directoryFetchedAt time.Time
}

// Option configures a new Client.
type Option func(*Client)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the default API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithAPIKey sets the pro API key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithMaxRetries adjusts the retry budget.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
	}
}

// NewClient constructs a CoinGecko API client.
func NewClient(name string, opts ...Option) *Client {
	client := &Client{
		name:       name,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return client
}

// Name implements market.Upstream.
func (c *Client) Name() string { return c.name }

// doRequest issues a GET and decodes the JSON body into result.
func (c *Client) doRequest(ctx context.Context, path string, params url.Values, result interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("coingecko: build request: %w", err)
		}
		httpReq.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("x-cg-pro-api-key", c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("%w: %v", market.ErrUpstreamUnavailable, err)
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("%w: read response: %v", market.ErrUpstreamUnavailable, readErr)
			case resp.StatusCode == http.StatusNotFound:
				return fmt.Errorf("%w: %s", market.ErrInstrumentNotFound, path)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				lastErr = fmt.Errorf("%w: http status %d: %s", market.ErrUpstreamUnavailable, resp.StatusCode, string(body))
			default:
				if result != nil {
					if err := json.Unmarshal(body, result); err != nil {
						lastErr = fmt.Errorf("%w: decode response: %v", market.ErrUpstreamUnavailable, err)
						break
					}
				}
				return nil
			}
		}

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("%w: request failed without error detail", market.ErrUpstreamUnavailable)
}

const directoryMaxAge = 12 * time.Hour

func (c *Client) directoryFor(ctx context.Context, symbol string) ([]coinListEntry, error) {
	key := strings.ToLower(strings.TrimSpace(symbol))
	c.directoryMu.RLock()
	entries, ok := c.directoryBySymbol[key]
	fresh := time.Since(c.directoryFetchedAt) < directoryMaxAge
	c.directoryMu.RUnlock()
	if ok && fresh {
		return entries, nil
	}

	var list []coinListEntry
	if err := c.doRequest(ctx, "/coins/list", nil, &list); err != nil {
		// Serve a stale directory rather than failing the lookup outright.
		if ok {
			return entries, nil
		}
		return nil, err
	}

	bySymbol := make(map[string][]coinListEntry, len(list))
	for _, entry := range list {
		s := strings.ToLower(strings.TrimSpace(entry.Symbol))
		if s == "" || entry.ID == "" {
			continue
		}
		bySymbol[s] = append(bySymbol[s], entry)
	}
	c.directoryMu.Lock()
	c.directoryBySymbol = bySymbol
	c.directoryFetchedAt = time.Now()
	c.directoryMu.Unlock()
	return bySymbol[key], nil
}

// ListInstruments returns every coin whose ticker matches symbol, with
// market-cap rank and volume populated from /coins/markets.
func (c *Client) ListInstruments(ctx context.Context, symbol string) ([]market.Instrument, error) {
	entries, err := c.directoryFor(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: symbol %s", market.ErrInstrumentNotFound, symbol)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)
	}
	params := url.Values{}
	params.Set("vs_currency", quoteCurrency)
	params.Set("ids", strings.Join(ids, ","))
	params.Set("per_page", strconv.Itoa(len(ids)))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	var rows []marketRow
	if err := c.doRequest(ctx, "/coins/markets", params, &rows); err != nil {
		return nil, err
	}

	ranked := make(map[string]marketRow, len(rows))
	for _, row := range rows {
		ranked[row.ID] = row
	}
	instruments := make([]market.Instrument, 0, len(entries))
	for _, entry := range entries {
		inst := market.Instrument{
			ID:     entry.ID,
			Symbol: strings.ToUpper(entry.Symbol),
			Name:   entry.Name,
		}
		if row, ok := ranked[entry.ID]; ok {
			inst.MarketCapRank = row.MarketCapRank
			inst.MarketCap = row.MarketCap
			inst.Volume24h = row.TotalVolume
			inst.Price = row.CurrentPrice
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// TopInstruments returns the top instruments by market capitalisation.
func (c *Client) TopInstruments(ctx context.Context, limit int) ([]market.Instrument, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("vs_currency", quoteCurrency)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("page", "1")
	params.Set("sparkline", "false")

	var rows []marketRow
	if err := c.doRequest(ctx, "/coins/markets", params, &rows); err != nil {
		return nil, err
	}
	instruments := make([]market.Instrument, 0, len(rows))
	for _, row := range rows {
		instruments = append(instruments, market.Instrument{
			ID:            row.ID,
			Symbol:        strings.ToUpper(row.Symbol),
			Name:          row.Name,
			MarketCapRank: row.MarketCapRank,
			MarketCap:     row.MarketCap,
			Volume24h:     row.TotalVolume,
			Price:         row.CurrentPrice,
		})
	}
	return instruments, nil
}

// GetTicker returns the latest USD price for the coin id.
func (c *Client) GetTicker(ctx context.Context, ref market.InstrumentRef) (*market.Quote, error) {
	params := url.Values{}
	params.Set("ids", ref.ID)
	params.Set("vs_currencies", quoteCurrency)

	var payload map[string]map[string]float64
	if err := c.doRequest(ctx, "/simple/price", params, &payload); err != nil {
		return nil, err
	}
	prices, ok := payload[ref.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", market.ErrInstrumentNotFound, ref.ID)
	}
	price, ok := prices[quoteCurrency]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%w: no %s quote for %s", market.ErrNoData, quoteCurrency, ref.ID)
	}
	return &market.Quote{InstrumentID: ref.ID, Price: price, At: time.Now()}, nil
}

// GetCandles returns up to limit OHLC bars for the coin id, oldest first.
// CoinGecko fixes bar granularity by the requested day span, so the span is
// derived from interval*limit.
func (c *Client) GetCandles(ctx context.Context, ref market.InstrumentRef, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("vs_currency", quoteCurrency)
	params.Set("days", strconv.Itoa(daySpan(interval, limit)))

	var rows []ohlcRow
	if err := c.doRequest(ctx, "/coins/"+url.PathEscape(ref.ID)+"/ohlc", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", market.ErrNoData, ref.ID)
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	candles := make([]market.Candle, 0, len(rows))
	for _, row := range rows {
		candles = append(candles, market.Candle{
			OpenTime: time.UnixMilli(int64(row[0])),
			Open:     row[1],
			High:     row[2],
			Low:      row[3],
			Close:    row[4],
		})
	}
	return candles, nil
}

func daySpan(interval string, limit int) int {
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		d = time.Hour
	}
	days := int((d*time.Duration(limit) + 24*time.Hour - 1) / (24 * time.Hour))
	// Snap to the spans the /ohlc endpoint accepts.
	for _, span := range []int{1, 7, 14, 30, 90, 180, 365} {
		if days <= span {
			return span
		}
	}
	return 365
}

// GetOrderBook approximates a bid/ask ladder from per-exchange tickers:
// each venue contributes one level on both sides around its last trade,
// spread by its reported bid/ask spread.
func (c *Client) GetOrderBook(ctx context.Context, ref market.InstrumentRef) (*market.OrderBook, error) {
	var payload tickersResponse
	if err := c.doRequest(ctx, "/coins/"+url.PathEscape(ref.ID)+"/tickers", nil, &payload); err != nil {
		return nil, err
	}

	book := &market.OrderBook{InstrumentID: ref.ID, At: time.Now()}
	for _, t := range payload.Tickers {
		if t.IsAnomaly || t.IsStale {
			continue
		}
		last := t.ConvertedLast[quoteCurrency]
		if last <= 0 {
			last = t.Last
		}
		if last <= 0 {
			continue
		}
		qty := t.Volume
		if usdVol := t.ConvertedVolume[quoteCurrency]; usdVol > 0 {
			qty = usdVol / last
		}
		if qty <= 0 {
			continue
		}
		half := t.BidAskSpreadPercentage / 100 / 2
		book.Bids = append(book.Bids, market.BookLevel{Price: last * (1 - half), Quantity: qty})
		book.Asks = append(book.Asks, market.BookLevel{Price: last * (1 + half), Quantity: qty})
	}
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return nil, fmt.Errorf("%w: no tickers for %s", market.ErrNoData, ref.ID)
	}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
	return book, nil
}

// Registry hook for market.Config.
func init() {
	market.RegisterUpstream("coingecko", func(name string, cfg *market.ProviderConfig) (market.Upstream, error) {
		opts := []Option{}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		if cfg.APIKey != "" {
			opts = append(opts, WithAPIKey(cfg.APIKey))
		}
		if cfg.MaxRetries > 0 {
			opts = append(opts, WithMaxRetries(cfg.MaxRetries))
		}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
		}
		return NewClient(name, opts...), nil
	})
}
