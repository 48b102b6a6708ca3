package logic

import (
	"context"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/internal/svc"
	"coinsim-api/pkg/market"
)

type ResolveLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewResolveLogic(ctx context.Context, svcCtx *svc.ServiceContext) *ResolveLogic {
	return &ResolveLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// ResolveAndInvalidate clears any cached mapping for the symbol and runs
// a fresh resolution. Operator remediation path for a known bad mapping.
func (l *ResolveLogic) ResolveAndInvalidate(symbol string) (*market.InstrumentMapping, error) {
	if err := l.svcCtx.Resolver.Invalidate(l.ctx, symbol); err != nil {
		return nil, err
	}
	mapping, err := l.svcCtx.Resolver.Resolve(l.ctx, symbol)
	if err != nil {
		return nil, err
	}
	l.Infof("re-resolved %s -> %s", mapping.Symbol, mapping.InstrumentID)
	return mapping, nil
}
