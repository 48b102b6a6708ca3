package logic

import (
	"context"
	"fmt"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/internal/svc"
	"coinsim-api/pkg/market"
	"coinsim-api/pkg/portfolio"
)

type ClosePositionLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewClosePositionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ClosePositionLogic {
	return &ClosePositionLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// ClosePosition settles an open position at the current market price
// with reason MANUAL.
func (l *ClosePositionLogic) ClosePosition(id string) (*portfolio.Position, error) {
	var target *portfolio.Position
	for _, pos := range l.svcCtx.Ledger.OpenPositions() {
		if pos.ID == id {
			p := pos
			target = &p
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", portfolio.ErrPositionNotFound, id)
	}

	price, err := l.svcCtx.Market.GetPrice(l.ctx, market.InstrumentRef{
		ID:     target.InstrumentID,
		Symbol: target.Symbol,
	})
	if err != nil {
		return nil, fmt.Errorf("price %s for manual close: %w", target.Symbol, err)
	}
	return l.svcCtx.Ledger.ClosePosition(l.ctx, id, portfolio.CloseManual, price)
}
