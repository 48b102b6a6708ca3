package model

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ PortfolioModel = (*defaultPortfolioModel)(nil)

// portfolioRowID pins the singleton row.
const portfolioRowID = 1

// Portfolio mirrors the singleton portfolio row holding balances and
// the daily loss accumulator.
type Portfolio struct {
	Id           int64     `db:"id"`
	CashBalance  float64   `db:"cash_balance"`
	RealizedPnl  float64   `db:"realized_pnl"`
	DailyLoss    float64   `db:"daily_loss"`
	DailyResetAt time.Time `db:"daily_reset_at"`
}

type (
	// PortfolioModel is an interface to be customized, add more methods
	// here, and implement them in defaultPortfolioModel.
	PortfolioModel interface {
		FindOne(ctx context.Context) (*Portfolio, error)
		Upsert(ctx context.Context, session sqlx.Session, data *Portfolio) error
	}

	defaultPortfolioModel struct {
		conn sqlx.SqlConn
	}
)

// NewPortfolioModel returns a model for the database table.
func NewPortfolioModel(conn sqlx.SqlConn) PortfolioModel {
	return &defaultPortfolioModel{conn: conn}
}

func (m *defaultPortfolioModel) FindOne(ctx context.Context) (*Portfolio, error) {
	const query = `
SELECT id, cash_balance, realized_pnl, daily_loss, daily_reset_at
FROM public.portfolio
WHERE id = $1`

	var row Portfolio
	if err := m.conn.QueryRowCtx(ctx, &row, query, portfolioRowID); err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert writes the singleton row. It takes a session so position
// mutations can commit their balance update in the same transaction.
func (m *defaultPortfolioModel) Upsert(ctx context.Context, session sqlx.Session, data *Portfolio) error {
	const query = `
INSERT INTO public.portfolio (id, cash_balance, realized_pnl, daily_loss, daily_reset_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    cash_balance = EXCLUDED.cash_balance,
    realized_pnl = EXCLUDED.realized_pnl,
    daily_loss = EXCLUDED.daily_loss,
    daily_reset_at = EXCLUDED.daily_reset_at`

	if session == nil {
		session = m.conn
	}
	if _, err := session.ExecCtx(ctx, query,
		portfolioRowID, data.CashBalance, data.RealizedPnl, data.DailyLoss, data.DailyResetAt,
	); err != nil {
		return fmt.Errorf("portfolio.Upsert: %w", err)
	}
	return nil
}
