package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/internal/svc"
	"coinsim-api/pkg/portfolio"
)

type OpenPositionLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewOpenPositionLogic(ctx context.Context, svcCtx *svc.ServiceContext) *OpenPositionLogic {
	return &OpenPositionLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// OpenPositionRequest carries a trade-open request from the API layer.
type OpenPositionRequest struct {
	Symbol          string
	Side            portfolio.Side
	Quantity        float64
	StopLossPrice   float64
	TakeProfitPrice float64
}

// OpenPosition resolves the symbol, prices it, and books the position.
// The resolved instrument id is pinned on the position, so later
// re-mappings can never change an open position's price source.
func (l *OpenPositionLogic) OpenPosition(req OpenPositionRequest) (*portfolio.Position, error) {
	mapping, err := l.svcCtx.Resolver.Resolve(l.ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	price, err := l.svcCtx.Market.GetPrice(l.ctx, mapping.Ref())
	if err != nil {
		return nil, err
	}

	position, err := l.svcCtx.Ledger.OpenPosition(l.ctx, portfolio.OpenSpec{
		Symbol:          mapping.Symbol,
		InstrumentID:    mapping.InstrumentID,
		Side:            req.Side,
		Quantity:        req.Quantity,
		EntryPrice:      price,
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
	})
	if err != nil {
		return nil, err
	}
	return position, nil
}
