package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// memStore is an in-memory MappingStore counting writes.
type memStore struct {
	mappings map[string]*InstrumentMapping
	puts     int
}

func newMemStore() *memStore {
	return &memStore{mappings: make(map[string]*InstrumentMapping)}
}

func (s *memStore) Get(_ context.Context, symbol string) (*InstrumentMapping, error) {
	return s.mappings[symbol], nil
}

func (s *memStore) Put(_ context.Context, mapping *InstrumentMapping) error {
	s.puts++
	s.mappings[mapping.Symbol] = mapping
	return nil
}

func (s *memStore) Delete(_ context.Context, symbol string) error {
	delete(s.mappings, symbol)
	return nil
}

func listingService(upstream *stubUpstream) *Service {
	return NewService(
		map[string]Upstream{upstream.name: upstream},
		Routes{Instruments: []string{upstream.name}},
		nil, nil)
}

func TestSelectInstrument_SmallestRankWins(t *testing.T) {
	candidates := []Instrument{
		{ID: "decoy-x", Symbol: "X", MarketCapRank: 4000},
		{ID: "official-x", Symbol: "X", MarketCapRank: 70},
	}
	chosen := selectInstrument(candidates)
	assert.Equal(t, "official-x", chosen.ID, "the better-ranked listing should win")

	// Order independence: the decision must not track upstream ordering.
	reversed := []Instrument{candidates[1], candidates[0]}
	assert.Equal(t, chosen.ID, selectInstrument(reversed).ID, "selection should not depend on response order")
}

func TestSelectInstrument_UnknownRankSortsLast(t *testing.T) {
	candidates := []Instrument{
		{ID: "aaa-mystery", Symbol: "Y", MarketCapRank: 0},
		{ID: "zzz-ranked", Symbol: "Y", MarketCapRank: 900},
	}
	assert.Equal(t, "zzz-ranked", selectInstrument(candidates).ID,
		"any known rank should beat an unknown one")
}

func TestSelectInstrument_LexicographicTiebreak(t *testing.T) {
	candidates := []Instrument{
		{ID: "beta-token", Symbol: "Z", MarketCapRank: 150},
		{ID: "alpha-token", Symbol: "Z", MarketCapRank: 150},
	}
	assert.Equal(t, "alpha-token", selectInstrument(candidates).ID,
		"equal ranks should break on instrument id")
}

func TestResolver_ResolvesAndPersists(t *testing.T) {
	upstream := newStub("primary")
	upstream.list = func(string) ([]Instrument, error) {
		return []Instrument{
			{ID: "decoy-x", Symbol: "X", MarketCapRank: 4000},
			{ID: "official-x", Symbol: "X", MarketCapRank: 70},
		}, nil
	}
	store := newMemStore()
	resolver := NewResolver(listingService(upstream), newMapCache(), store)

	mapping, err := resolver.Resolve(context.Background(), "x")
	assert.NoError(t, err, "resolution should succeed")
	assert.Equal(t, "X", mapping.Symbol, "symbol should be canonicalized")
	assert.Equal(t, "official-x", mapping.InstrumentID, "collision policy should pick the real listing")
	if assert.NotNil(t, mapping.MarketCapRank, "known rank should be recorded") {
		assert.Equal(t, 70, *mapping.MarketCapRank, "recorded rank should match the chosen listing")
	}
	assert.Equal(t, 1, store.puts, "the mapping should be persisted")

	// Repeat resolutions reuse the mapping without another upstream listing.
	again, err := resolver.Resolve(context.Background(), "X")
	assert.NoError(t, err, "cached resolution should succeed")
	assert.Equal(t, mapping.InstrumentID, again.InstrumentID, "resolution must be stable across calls")
	assert.Equal(t, 1, upstream.calls["list"], "the upstream should be listed exactly once")
}

func TestResolver_UsesStoreAcrossRestarts(t *testing.T) {
	store := newMemStore()
	rank := 70
	store.mappings["X"] = &InstrumentMapping{Symbol: "X", InstrumentID: "official-x", MarketCapRank: &rank}

	upstream := newStub("primary")
	resolver := NewResolver(listingService(upstream), newMapCache(), store)

	mapping, err := resolver.Resolve(context.Background(), "X")
	assert.NoError(t, err, "a stored mapping should satisfy the resolve")
	assert.Equal(t, "official-x", mapping.InstrumentID, "stored mapping should be reused")
	assert.Equal(t, 0, upstream.calls["list"], "a stored mapping must not trigger an upstream listing")
}

func TestResolver_InvalidateForcesReresolution(t *testing.T) {
	listings := []Instrument{
		{ID: "decoy-x", Symbol: "X", MarketCapRank: 4000},
		{ID: "official-x", Symbol: "X", MarketCapRank: 70},
	}
	upstream := newStub("primary")
	upstream.list = func(string) ([]Instrument, error) { return listings, nil }
	store := newMemStore()
	resolver := NewResolver(listingService(upstream), newMapCache(), store)

	first, err := resolver.Resolve(context.Background(), "X")
	assert.NoError(t, err, "initial resolution should succeed")
	assert.Equal(t, "official-x", first.InstrumentID, "initial resolution should pick official-x")

	// The universe shifts: the former decoy overtakes. Only an explicit
	// invalidation may change the active mapping.
	listings = []Instrument{
		{ID: "decoy-x", Symbol: "X", MarketCapRank: 30},
		{ID: "official-x", Symbol: "X", MarketCapRank: 70},
	}
	unchanged, err := resolver.Resolve(context.Background(), "X")
	assert.NoError(t, err, "resolution after the shift should still succeed")
	assert.Equal(t, "official-x", unchanged.InstrumentID, "an active mapping must not drift")

	assert.NoError(t, resolver.Invalidate(context.Background(), "X"), "invalidation should succeed")
	second, err := resolver.Resolve(context.Background(), "X")
	assert.NoError(t, err, "re-resolution should succeed")
	assert.Equal(t, "decoy-x", second.InstrumentID, "re-resolution should see the new ranking")
	assert.Equal(t, 2, upstream.calls["list"], "invalidation should trigger exactly one more listing")
}

func TestResolver_UnknownSymbol(t *testing.T) {
	upstream := newStub("primary")
	upstream.list = func(string) ([]Instrument, error) { return nil, nil }
	resolver := NewResolver(listingService(upstream), nil, nil)

	_, err := resolver.Resolve(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrInstrumentNotFound, "an empty universe should report not found")

	_, err = resolver.Resolve(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInstrumentNotFound, "a blank symbol should report not found")
	assert.Equal(t, 1, upstream.calls["list"], "a blank symbol must not hit the upstream")
}
