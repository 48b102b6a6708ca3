package logic

import (
	"context"
	"sort"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/internal/svc"
	"coinsim-api/pkg/portfolio"
)

type PortfolioStateLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewPortfolioStateLogic(ctx context.Context, svcCtx *svc.ServiceContext) *PortfolioStateLogic {
	return &PortfolioStateLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// GetPortfolioState returns a read-only snapshot of the ledger, with any
// positions running on stale price data flagged.
type PortfolioStateView struct {
	portfolio.State
	StalePositionIDs []string `json:"stalePositionIds,omitempty"`
}

func (l *PortfolioStateLogic) GetPortfolioState() *PortfolioStateView {
	view := &PortfolioStateView{State: l.svcCtx.Ledger.GetState()}
	if l.svcCtx.Monitor != nil {
		for id := range l.svcCtx.Monitor.StalePositions() {
			view.StalePositionIDs = append(view.StalePositionIDs, id)
		}
		sort.Strings(view.StalePositionIDs)
	}
	return view
}
