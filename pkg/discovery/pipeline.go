package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/pkg/market"
	"coinsim-api/pkg/ratelimit"
)

// Rejection reason buckets. Reasons are stable strings so counts
// aggregate across runs.
const (
	ReasonCapBelowFloor   = "Market cap below floor"
	ReasonCapAboveCeiling = "Market cap above ceiling"
	ReasonVolumeBelow     = "24h volume below floor"
	ReasonScoreBelow      = "Composite score below threshold"

	reasonErrorPrefix = "Error during analysis: "
)

// RejectionLedger counts every instrument a scan rejected, by reason.
// For any run, the reason counts plus the accepted candidates must
// reconcile exactly to the number of instruments scanned.
type RejectionLedger struct {
	ReasonCounts map[string]int `json:"reasonCounts"`
	Total        int            `json:"total"`
}

func newLedger() RejectionLedger {
	return RejectionLedger{ReasonCounts: make(map[string]int)}
}

func (l *RejectionLedger) record(reason string) {
	l.ReasonCounts[reason]++
	l.Total++
}

// Sum returns the total rejections across all reasons.
func (l *RejectionLedger) Sum() int {
	sum := 0
	for _, count := range l.ReasonCounts {
		sum += count
	}
	return sum
}

// Result is the outcome of one discovery scan.
type Result struct {
	Candidates []ScoredCandidate `json:"candidates"`
	Rejections RejectionLedger   `json:"rejections"`
	Scanned    int               `json:"scanned"`
}

// MarketData is the slice of the data service the pipeline consumes.
type MarketData interface {
	TopInstruments(ctx context.Context, limit int) ([]market.Instrument, error)
	GetCandles(ctx context.Context, ref market.InstrumentRef, interval string, limit int) ([]market.Candle, error)
}

// Pipeline filters and ranks an instrument universe into scored
// candidates plus an exhaustive rejection ledger.
type Pipeline struct {
	svc       MarketData
	cfg       *Config
	sentiment SentimentSource
}

// NewPipeline builds a Pipeline. A nil sentiment source degrades to
// neutral sentiment for every instrument.
func NewPipeline(svc MarketData, cfg *Config, sentiment SentimentSource) *Pipeline {
	if sentiment == nil {
		sentiment = NeutralSentiment{}
	}
	return &Pipeline{svc: svc, cfg: cfg, sentiment: sentiment}
}

// Discover pulls the top universeSize instruments by market cap and runs
// one scan over them. A non-positive universeSize falls back to the
// configured default.
func (p *Pipeline) Discover(ctx context.Context, universeSize int) (*Result, error) {
	if universeSize <= 0 {
		universeSize = p.cfg.UniverseSize
	}
	universe, err := p.svc.TopInstruments(ctx, universeSize)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch universe: %w", err)
	}
	return p.Run(ctx, universe), nil
}

// Run evaluates every instrument in the universe. Filters short-circuit
// in a fixed order: cap floor, cap ceiling, volume floor, composite
// score. An instrument whose evaluation fails is never dropped silently;
// it lands in an error bucket so the ledger still reconciles.
func (p *Pipeline) Run(ctx context.Context, universe []market.Instrument) *Result {
	result := &Result{
		Rejections: newLedger(),
		Scanned:    len(universe),
	}

	for _, inst := range universe {
		if ctx.Err() != nil {
			result.Rejections.record(reasonErrorPrefix + "scan cancelled")
			continue
		}
		candidate, reason, err := p.evaluate(ctx, inst)
		switch {
		case err != nil:
			result.Rejections.record(reasonErrorPrefix + causeLabel(err))
			logx.WithContext(ctx).Errorf("discovery: evaluate %s (%s): %v", inst.Symbol, inst.ID, err)
		case reason != "":
			result.Rejections.record(reason)
		default:
			result.Candidates = append(result.Candidates, *candidate)
		}
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		if result.Candidates[i].Score != result.Candidates[j].Score {
			return result.Candidates[i].Score > result.Candidates[j].Score
		}
		return result.Candidates[i].Instrument.ID < result.Candidates[j].Instrument.ID
	})

	if got := result.Rejections.Sum() + len(result.Candidates); got != result.Scanned {
		logx.WithContext(ctx).Errorw("discovery: rejection ledger does not reconcile",
			logx.Field("scanned", result.Scanned),
			logx.Field("accounted", got),
			logx.Field("candidates", len(result.Candidates)),
			logx.Field("rejected", result.Rejections.Sum()),
		)
	}
	return result
}

// evaluate returns exactly one of: a scored candidate, a rejection
// reason, or an error.
func (p *Pipeline) evaluate(ctx context.Context, inst market.Instrument) (*ScoredCandidate, string, error) {
	if inst.MarketCap < p.cfg.MarketCapFloor {
		return nil, ReasonCapBelowFloor, nil
	}
	if p.cfg.MarketCapCeiling > 0 && inst.MarketCap > p.cfg.MarketCapCeiling {
		return nil, ReasonCapAboveCeiling, nil
	}
	if inst.Volume24h < p.cfg.VolumeFloor {
		return nil, ReasonVolumeBelow, nil
	}

	ref := market.InstrumentRef{ID: inst.ID, Symbol: inst.Symbol}
	candles, err := p.svc.GetCandles(ctx, ref, p.cfg.CandleInterval, p.cfg.CandleLimit)
	if err != nil {
		return nil, "", fmt.Errorf("candles: %w", err)
	}
	sentiment, err := p.sentiment.Sentiment(ctx, ref)
	if err != nil {
		return nil, "", fmt.Errorf("sentiment: %w", err)
	}

	mom := momentum(candles)
	score := compositeScore(p.cfg.Weights,
		capScore(inst.MarketCap), volumeScore(inst.Volume24h), mom, sentiment)
	if score < p.cfg.ScoreThreshold {
		return nil, ReasonScoreBelow, nil
	}
	return &ScoredCandidate{Instrument: inst, Score: score, Momentum: mom, Sentiment: sentiment}, "", nil
}

// causeLabel collapses evaluation errors into a small set of bucket
// labels so ledger cardinality stays bounded.
func causeLabel(err error) string {
	switch {
	case errors.Is(err, market.ErrInstrumentNotFound):
		return "instrument not found"
	case errors.Is(err, market.ErrNoData):
		return "no data"
	case errors.Is(err, ratelimit.ErrRateLimited):
		return "rate limited"
	case errors.Is(err, market.ErrUpstreamUnavailable), errors.Is(err, market.ErrAllProvidersFailed):
		return "upstream unavailable"
	default:
		return "internal error"
	}
}
