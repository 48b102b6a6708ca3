package cryptocompare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinsim-api/pkg/market"
)

const (
	defaultBaseURL          = "https://min-api.cryptocompare.com"
	defaultHTTPTimeout      = 10 * time.Second
	defaultMaxRetries       = 2
	defaultRetryBackoffBase = 150 * time.Millisecond

	quoteCurrency = "USD"
)

// Client talks to the CryptoCompare min-api. Its native instrument key is
// the ticker symbol, so calls address ref.Symbol; the resolver guarantees
// the symbol already names a single authoritative instrument.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
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

// WithAPIKey sets the API key passed on every request.
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

// NewClient constructs a CryptoCompare API client.
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

// errEnvelope catches CryptoCompare's 200-with-error convention.
type errEnvelope struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
}

func (c *Client) doRequest(ctx context.Context, path string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	backoff := defaultRetryBackoffBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("cryptocompare: build request: %w", err)
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
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				lastErr = fmt.Errorf("%w: http status %d: %s", market.ErrUpstreamUnavailable, resp.StatusCode, string(body))
			default:
				var envelope errEnvelope
				if json.Unmarshal(body, &envelope) == nil && strings.EqualFold(envelope.Response, "Error") {
					return mapAPIError(envelope.Message)
				}
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

func mapAPIError(message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "does not exist"), strings.Contains(lower, "no data"):
		return fmt.Errorf("%w: %s", market.ErrInstrumentNotFound, message)
	default:
		return fmt.Errorf("%w: %s", market.ErrUpstreamUnavailable, message)
	}
}

func symbolFor(ref market.InstrumentRef) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(ref.Symbol))
	if sym == "" {
		return "", fmt.Errorf("%w: cryptocompare requires a symbol", market.ErrInstrumentNotFound)
	}
	return sym, nil
}

// GetTicker returns the latest USD price for the instrument's symbol.
func (c *Client) GetTicker(ctx context.Context, ref market.InstrumentRef) (*market.Quote, error) {
	sym, err := symbolFor(ref)
	if err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("fsym", sym)
	params.Set("tsyms", quoteCurrency)

	var payload map[string]float64
	if err := c.doRequest(ctx, "/data/price", params, &payload); err != nil {
		return nil, err
	}
	price, ok := payload[quoteCurrency]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("%w: no %s quote for %s", market.ErrNoData, quoteCurrency, sym)
	}
	return &market.Quote{InstrumentID: ref.ID, Price: price, At: time.Now()}, nil
}

type histoBar struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	VolumeFrom float64 `json:"volumefrom"`
}

type histoResponse struct {
	Data struct {
		Data []histoBar `json:"Data"`
	} `json:"Data"`
}

func histoPath(interval string) string {
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		d = time.Hour
	}
	switch {
	case d < time.Hour:
		return "/data/v2/histominute"
	case d < 24*time.Hour:
		return "/data/v2/histohour"
	default:
		return "/data/v2/histoday"
	}
}

// GetCandles returns up to limit OHLC bars, oldest first.
func (c *Client) GetCandles(ctx context.Context, ref market.InstrumentRef, interval string, limit int) ([]market.Candle, error) {
	sym, err := symbolFor(ref)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("fsym", sym)
	params.Set("tsym", quoteCurrency)
	params.Set("limit", strconv.Itoa(limit))

	var payload histoResponse
	if err := c.doRequest(ctx, histoPath(interval), params, &payload); err != nil {
		return nil, err
	}
	bars := payload.Data.Data
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", market.ErrNoData, sym)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	candles := make([]market.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, market.Candle{
			OpenTime: time.Unix(bar.Time, 0),
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   bar.VolumeFrom,
		})
	}
	return candles, nil
}

// GetOrderBook is not served by the min-api; configure the orderbook route
// on a provider that has depth data.
func (c *Client) GetOrderBook(ctx context.Context, ref market.InstrumentRef) (*market.OrderBook, error) {
	return nil, fmt.Errorf("%w: cryptocompare has no order book endpoint", market.ErrUpstreamUnavailable)
}

type coinListResponse struct {
	Data map[string]struct {
		ID        string `json:"Id"`
		Symbol    string `json:"Symbol"`
		CoinName  string `json:"CoinName"`
		SortOrder string `json:"SortOrder"`
	} `json:"Data"`
}

// ListInstruments returns the single CryptoCompare listing for the symbol;
// the min-api keeps one coin per ticker, so collisions never appear here.
func (c *Client) ListInstruments(ctx context.Context, symbol string) ([]market.Instrument, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	params := url.Values{}
	params.Set("fsym", sym)

	var payload coinListResponse
	if err := c.doRequest(ctx, "/data/all/coinlist", params, &payload); err != nil {
		return nil, err
	}
	entry, ok := payload.Data[sym]
	if !ok {
		return nil, fmt.Errorf("%w: symbol %s", market.ErrInstrumentNotFound, sym)
	}
	rank, _ := strconv.Atoi(entry.SortOrder)
	return []market.Instrument{{
		ID:            entry.ID,
		Symbol:        sym,
		Name:          entry.CoinName,
		MarketCapRank: rank,
	}}, nil
}

type topResponse struct {
	Data []struct {
		CoinInfo struct {
			Name     string `json:"Name"`
			FullName string `json:"FullName"`
			Internal string `json:"Internal"`
		} `json:"CoinInfo"`
		Raw map[string]struct {
			Price       float64 `json:"PRICE"`
			MarketCap   float64 `json:"MKTCAP"`
			TotalVolume float64 `json:"TOTALVOLUME24HTO"`
		} `json:"RAW"`
	} `json:"Data"`
}

// TopInstruments returns the top instruments by market capitalisation.
func (c *Client) TopInstruments(ctx context.Context, limit int) ([]market.Instrument, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("tsym", quoteCurrency)

	var payload topResponse
	if err := c.doRequest(ctx, "/data/top/mktcapfull", params, &payload); err != nil {
		return nil, err
	}
	instruments := make([]market.Instrument, 0, len(payload.Data))
	for i, row := range payload.Data {
		inst := market.Instrument{
			ID:            row.CoinInfo.Name,
			Symbol:        strings.ToUpper(row.CoinInfo.Internal),
			Name:          row.CoinInfo.FullName,
			MarketCapRank: i + 1,
		}
		if raw, ok := row.Raw[quoteCurrency]; ok {
			inst.Price = raw.Price
			inst.MarketCap = raw.MarketCap
			inst.Volume24h = raw.TotalVolume
		}
		instruments = append(instruments, inst)
	}
	return instruments, nil
}

// Registry hook for market.Config.
func init() {
	market.RegisterUpstream("cryptocompare", func(name string, cfg *market.ProviderConfig) (market.Upstream, error) {
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
