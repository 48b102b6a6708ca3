package store

import (
	"context"
	"database/sql"
	"errors"

	"coinsim-api/internal/model"
	"coinsim-api/pkg/market"
)

var _ market.MappingStore = (*MappingStore)(nil)

// MappingStore persists resolver decisions in the instrument_mappings
// table, one active row per symbol.
type MappingStore struct {
	mappings model.InstrumentMappingsModel
}

// NewMappingStore builds a MappingStore over the mappings model.
func NewMappingStore(mappings model.InstrumentMappingsModel) *MappingStore {
	return &MappingStore{mappings: mappings}
}

// Get returns the active mapping for symbol, or nil when none exists.
func (s *MappingStore) Get(ctx context.Context, symbol string) (*market.InstrumentMapping, error) {
	row, err := s.mappings.FindOne(ctx, symbol)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	mapping := &market.InstrumentMapping{
		Symbol:       row.Symbol,
		InstrumentID: row.InstrumentId,
		ResolvedAt:   row.ResolvedAt,
	}
	if row.MarketCapRank.Valid {
		rank := int(row.MarketCapRank.Int64)
		mapping.MarketCapRank = &rank
	}
	return mapping, nil
}

// Put stores the mapping, replacing any previous row for the symbol.
func (s *MappingStore) Put(ctx context.Context, mapping *market.InstrumentMapping) error {
	row := &model.InstrumentMappings{
		Symbol:       mapping.Symbol,
		InstrumentId: mapping.InstrumentID,
		ResolvedAt:   mapping.ResolvedAt,
	}
	if mapping.MarketCapRank != nil {
		row.MarketCapRank = sql.NullInt64{Int64: int64(*mapping.MarketCapRank), Valid: true}
	}
	return s.mappings.Upsert(ctx, row)
}

// Delete removes the active mapping for symbol.
func (s *MappingStore) Delete(ctx context.Context, symbol string) error {
	return s.mappings.Delete(ctx, symbol)
}
