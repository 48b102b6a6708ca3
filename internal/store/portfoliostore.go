package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"coinsim-api/internal/model"
	"coinsim-api/pkg/portfolio"
)

var _ portfolio.Store = (*PortfolioStore)(nil)

// PortfolioStore persists the ledger in Postgres. Position mutations and
// the portfolio row they touch commit inside a single transaction, so a
// crash mid-close never leaves a position half-closed.
type PortfolioStore struct {
	conn      sqlx.SqlConn
	positions model.PositionsModel
	state     model.PortfolioModel
}

// NewPortfolioStore builds a PortfolioStore over the given connection.
func NewPortfolioStore(conn sqlx.SqlConn) *PortfolioStore {
	return &PortfolioStore{
		conn:      conn,
		positions: model.NewPositionsModel(conn),
		state:     model.NewPortfolioModel(conn),
	}
}

// Load returns the persisted portfolio state and every OPEN position,
// or (nil, nil, nil) when the portfolio row has never been written.
func (s *PortfolioStore) Load(ctx context.Context) (*portfolio.State, []portfolio.Position, error) {
	row, err := s.state.FindOne(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("load portfolio row: %w", err)
	}

	openRows, err := s.positions.FindOpen(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load open positions: %w", err)
	}
	positions := make([]portfolio.Position, 0, len(openRows))
	for i := range openRows {
		positions = append(positions, positionFromRow(&openRows[i]))
	}

	state := &portfolio.State{
		CashBalance:          row.CashBalance,
		RealizedPnL:          row.RealizedPnl,
		DailyLossAccumulator: row.DailyLoss,
		DailyLossResetAt:     row.DailyResetAt,
		OpenPositions:        positions,
	}
	return state, positions, nil
}

// CreatePosition inserts the position and updates the portfolio row in
// one transaction.
func (s *PortfolioStore) CreatePosition(ctx context.Context, position *portfolio.Position, state *portfolio.State) error {
	row := rowFromPosition(position)
	stateRow := rowFromState(state)
	return s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		if err := s.positions.Insert(ctx, session, row); err != nil {
			return err
		}
		return s.state.Upsert(ctx, session, stateRow)
	})
}

// ClosePosition flips the position row to CLOSED and updates the
// portfolio row in one transaction.
func (s *PortfolioStore) ClosePosition(ctx context.Context, position *portfolio.Position, state *portfolio.State) error {
	row := rowFromPosition(position)
	stateRow := rowFromState(state)
	return s.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		if err := s.positions.MarkClosed(ctx, session, row); err != nil {
			return err
		}
		return s.state.Upsert(ctx, session, stateRow)
	})
}

// SaveState persists the portfolio row alone.
func (s *PortfolioStore) SaveState(ctx context.Context, state *portfolio.State) error {
	return s.state.Upsert(ctx, nil, rowFromState(state))
}

// RecentClosed exposes closed trade history for reporting surfaces.
func (s *PortfolioStore) RecentClosed(ctx context.Context, symbols []string, limit int) ([]portfolio.Position, error) {
	rows, err := s.positions.RecentClosed(ctx, symbols, limit)
	if err != nil {
		return nil, err
	}
	out := make([]portfolio.Position, 0, len(rows))
	for i := range rows {
		out = append(out, positionFromRow(&rows[i]))
	}
	return out, nil
}

func rowFromState(state *portfolio.State) *model.Portfolio {
	return &model.Portfolio{
		CashBalance:  state.CashBalance,
		RealizedPnl:  state.RealizedPnL,
		DailyLoss:    state.DailyLossAccumulator,
		DailyResetAt: state.DailyLossResetAt,
	}
}

func rowFromPosition(position *portfolio.Position) *model.Positions {
	row := &model.Positions{
		Id:              position.ID,
		Symbol:          position.Symbol,
		InstrumentId:    position.InstrumentID,
		Side:            string(position.Side),
		Status:          string(position.Status),
		EntryPrice:      position.EntryPrice,
		Quantity:        position.Quantity,
		StopLossPrice:   position.StopLossPrice,
		TakeProfitPrice: position.TakeProfitPrice,
		OpenedAt:        position.OpenedAt,
	}
	if position.CloseReason != "" {
		row.CloseReason = sql.NullString{String: string(position.CloseReason), Valid: true}
	}
	if position.ClosedAt != nil {
		row.ClosedAt = sql.NullTime{Time: *position.ClosedAt, Valid: true}
	}
	if position.ClosePrice != nil {
		row.ClosePrice = sql.NullFloat64{Float64: *position.ClosePrice, Valid: true}
	}
	return row
}

func positionFromRow(row *model.Positions) portfolio.Position {
	position := portfolio.Position{
		ID:              row.Id,
		Symbol:          row.Symbol,
		InstrumentID:    row.InstrumentId,
		Side:            portfolio.Side(row.Side),
		Status:          portfolio.Status(row.Status),
		EntryPrice:      row.EntryPrice,
		Quantity:        row.Quantity,
		StopLossPrice:   row.StopLossPrice,
		TakeProfitPrice: row.TakeProfitPrice,
		OpenedAt:        row.OpenedAt,
	}
	if row.CloseReason.Valid {
		position.CloseReason = portfolio.CloseReason(row.CloseReason.String)
	}
	if row.ClosedAt.Valid {
		closedAt := row.ClosedAt.Time
		position.ClosedAt = &closedAt
	}
	if row.ClosePrice.Valid {
		closePrice := row.ClosePrice.Float64
		position.ClosePrice = &closePrice
	}
	return position
}
