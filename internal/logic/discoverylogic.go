package logic

import (
	"context"
	"errors"

	"github.com/zeromicro/go-zero/core/logx"

	"coinsim-api/internal/svc"
	"coinsim-api/pkg/discovery"
)

type DiscoveryLogic struct {
	logx.Logger
	ctx    context.Context
	svcCtx *svc.ServiceContext
}

func NewDiscoveryLogic(ctx context.Context, svcCtx *svc.ServiceContext) *DiscoveryLogic {
	return &DiscoveryLogic{
		Logger: logx.WithContext(ctx),
		ctx:    ctx,
		svcCtx: svcCtx,
	}
}

// RunDiscovery executes one discovery scan synchronously and returns its
// scored candidates plus the rejection ledger.
func (l *DiscoveryLogic) RunDiscovery(universeSize int) (*discovery.Result, error) {
	if l.svcCtx.Pipeline == nil {
		return nil, errors.New("discovery is not configured")
	}
	result, err := l.svcCtx.Pipeline.Discover(l.ctx, universeSize)
	if err != nil {
		return nil, err
	}
	l.Infof("discovery scanned %d: %d candidates, %d rejected",
		result.Scanned, len(result.Candidates), result.Rejections.Sum())
	return result, nil
}
