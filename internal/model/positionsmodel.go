package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ PositionsModel = (*defaultPositionsModel)(nil)

// Positions mirrors a row of the positions table. Close fields are
// nullable and set together in the same update that flips status.
type Positions struct {
	Id              string          `db:"id"`
	Symbol          string          `db:"symbol"`
	InstrumentId    string          `db:"instrument_id"`
	Side            string          `db:"side"`
	Status          string          `db:"status"`
	EntryPrice      float64         `db:"entry_price"`
	Quantity        float64         `db:"quantity"`
	StopLossPrice   float64         `db:"stop_loss_price"`
	TakeProfitPrice float64         `db:"take_profit_price"`
	OpenedAt        time.Time       `db:"opened_at"`
	CloseReason     sql.NullString  `db:"close_reason"`
	ClosedAt        sql.NullTime    `db:"closed_at"`
	ClosePrice      sql.NullFloat64 `db:"close_price"`
}

type (
	// PositionsModel is an interface to be customized, add more methods
	// here, and implement them in defaultPositionsModel.
	PositionsModel interface {
		Insert(ctx context.Context, session sqlx.Session, data *Positions) error
		FindOne(ctx context.Context, id string) (*Positions, error)
		FindOpen(ctx context.Context) ([]Positions, error)
		MarkClosed(ctx context.Context, session sqlx.Session, data *Positions) error
		RecentClosed(ctx context.Context, symbols []string, limit int) ([]Positions, error)
	}

	defaultPositionsModel struct {
		conn sqlx.SqlConn
	}
)

// NewPositionsModel returns a model for the database table.
func NewPositionsModel(conn sqlx.SqlConn) PositionsModel {
	return &defaultPositionsModel{conn: conn}
}

const positionColumns = `
    id,
    symbol,
    instrument_id,
    side,
    status,
    entry_price,
    quantity,
    stop_loss_price,
    take_profit_price,
    opened_at,
    close_reason,
    closed_at,
    close_price`

// Insert writes a new OPEN position. It takes a session so the caller
// can bundle it with the portfolio debit in one transaction.
func (m *defaultPositionsModel) Insert(ctx context.Context, session sqlx.Session, data *Positions) error {
	const query = `
INSERT INTO public.positions
    (id, symbol, instrument_id, side, status, entry_price, quantity,
     stop_loss_price, take_profit_price, opened_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if session == nil {
		session = m.conn
	}
	if _, err := session.ExecCtx(ctx, query,
		data.Id, data.Symbol, data.InstrumentId, data.Side, data.Status,
		data.EntryPrice, data.Quantity, data.StopLossPrice, data.TakeProfitPrice, data.OpenedAt,
	); err != nil {
		return fmt.Errorf("positions.Insert %s: %w", data.Id, err)
	}
	return nil
}

func (m *defaultPositionsModel) FindOne(ctx context.Context, id string) (*Positions, error) {
	query := fmt.Sprintf(`SELECT %s FROM public.positions WHERE id = $1`, positionColumns)
	var row Positions
	if err := m.conn.QueryRowCtx(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// FindOpen returns every OPEN position in id order.
func (m *defaultPositionsModel) FindOpen(ctx context.Context) ([]Positions, error) {
	query := fmt.Sprintf(`
SELECT %s FROM public.positions
WHERE status = 'OPEN'
ORDER BY id`, positionColumns)

	var rows []Positions
	if err := m.conn.QueryRowsCtx(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("positions.FindOpen query: %w", err)
	}
	return rows, nil
}

// MarkClosed flips the row to CLOSED with its close fields, guarded so a
// row only transitions once.
func (m *defaultPositionsModel) MarkClosed(ctx context.Context, session sqlx.Session, data *Positions) error {
	const query = `
UPDATE public.positions SET
    status = $2,
    close_reason = $3,
    closed_at = $4,
    close_price = $5
WHERE id = $1 AND status = 'OPEN'`

	if session == nil {
		session = m.conn
	}
	result, err := session.ExecCtx(ctx, query,
		data.Id, data.Status, data.CloseReason, data.ClosedAt, data.ClosePrice)
	if err != nil {
		return fmt.Errorf("positions.MarkClosed %s: %w", data.Id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("positions.MarkClosed %s rows affected: %w", data.Id, err)
	}
	if affected == 0 {
		return fmt.Errorf("positions.MarkClosed %s: %w", data.Id, ErrNotFound)
	}
	return nil
}

// RecentClosed returns closed positions, newest first, optionally
// filtered to a symbol set.
func (m *defaultPositionsModel) RecentClosed(ctx context.Context, symbols []string, limit int) ([]Positions, error) {
	baseQuery := fmt.Sprintf(`
SELECT %s FROM public.positions
WHERE status = 'CLOSED'
%%s
ORDER BY closed_at DESC
LIMIT %%d`, positionColumns)

	var (
		args   []any
		clause string
	)
	if len(symbols) > 0 {
		clause = "AND symbol = ANY($1)"
		args = append(args, pq.Array(symbols))
	}
	if limit <= 0 {
		limit = 50
	}
	finalQuery := fmt.Sprintf(baseQuery, clause, limit)

	var rows []Positions
	if err := m.conn.QueryRowsCtx(ctx, &rows, finalQuery, args...); err != nil {
		return nil, fmt.Errorf("positions.RecentClosed query: %w", err)
	}
	return rows, nil
}
