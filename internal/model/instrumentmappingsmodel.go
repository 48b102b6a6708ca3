package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ InstrumentMappingsModel = (*defaultInstrumentMappingsModel)(nil)

// InstrumentMappings mirrors a row of the instrument_mappings table. The
// table holds at most one active row per symbol; an upsert replaces the
// previous mapping whole.
type InstrumentMappings struct {
	Symbol        string        `db:"symbol"`
	InstrumentId  string        `db:"instrument_id"`
	MarketCapRank sql.NullInt64 `db:"market_cap_rank"`
	ResolvedAt    time.Time     `db:"resolved_at"`
}

type (
	// InstrumentMappingsModel is an interface to be customized, add more
	// methods here, and implement them in defaultInstrumentMappingsModel.
	InstrumentMappingsModel interface {
		FindOne(ctx context.Context, symbol string) (*InstrumentMappings, error)
		Upsert(ctx context.Context, data *InstrumentMappings) error
		Delete(ctx context.Context, symbol string) error
	}

	defaultInstrumentMappingsModel struct {
		conn sqlx.SqlConn
	}
)

// NewInstrumentMappingsModel returns a model for the database table.
func NewInstrumentMappingsModel(conn sqlx.SqlConn) InstrumentMappingsModel {
	return &defaultInstrumentMappingsModel{conn: conn}
}

func (m *defaultInstrumentMappingsModel) FindOne(ctx context.Context, symbol string) (*InstrumentMappings, error) {
	const query = `
SELECT symbol, instrument_id, market_cap_rank, resolved_at
FROM public.instrument_mappings
WHERE symbol = $1`

	var row InstrumentMappings
	if err := m.conn.QueryRowCtx(ctx, &row, query, symbol); err != nil {
		return nil, err
	}
	return &row, nil
}

func (m *defaultInstrumentMappingsModel) Upsert(ctx context.Context, data *InstrumentMappings) error {
	const query = `
INSERT INTO public.instrument_mappings (symbol, instrument_id, market_cap_rank, resolved_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (symbol) DO UPDATE SET
    instrument_id = EXCLUDED.instrument_id,
    market_cap_rank = EXCLUDED.market_cap_rank,
    resolved_at = EXCLUDED.resolved_at`

	if _, err := m.conn.ExecCtx(ctx, query, data.Symbol, data.InstrumentId, data.MarketCapRank, data.ResolvedAt); err != nil {
		return fmt.Errorf("instrument_mappings.Upsert %s: %w", data.Symbol, err)
	}
	return nil
}

func (m *defaultInstrumentMappingsModel) Delete(ctx context.Context, symbol string) error {
	const query = `DELETE FROM public.instrument_mappings WHERE symbol = $1`
	if _, err := m.conn.ExecCtx(ctx, query, symbol); err != nil {
		return fmt.Errorf("instrument_mappings.Delete %s: %w", symbol, err)
	}
	return nil
}
