package svc

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"coinsim-api/internal/cache"
	"coinsim-api/internal/config"
	"coinsim-api/internal/model"
	"coinsim-api/internal/store"
	discoverypkg "coinsim-api/pkg/discovery"
	"coinsim-api/pkg/journal"
	marketpkg "coinsim-api/pkg/market"
	_ "coinsim-api/pkg/market/coingecko"
	_ "coinsim-api/pkg/market/cryptocompare"
	monitorpkg "coinsim-api/pkg/monitor"
	portfoliopkg "coinsim-api/pkg/portfolio"
	"coinsim-api/pkg/ratelimit"
)

type ServiceContext struct {
	Config config.Config

	Cache     *cache.Store
	Limiter   *ratelimit.Limiter
	Upstreams map[string]marketpkg.Upstream
	Market    *marketpkg.Service
	Resolver  *marketpkg.Resolver
	Pipeline  *discoverypkg.Pipeline
	Ledger    *portfoliopkg.Ledger
	Monitor   *monitorpkg.Monitor

	// DB handles; nil / zero-valued when no DSN is configured, in which
	// case the ledger runs memory-only and mappings live in cache alone.
	DBConn                  sqlx.SqlConn
	InstrumentMappingsModel model.InstrumentMappingsModel
	PositionsModel          model.PositionsModel
	PortfolioModel          model.PortfolioModel
}

func NewServiceContext(c config.Config) *ServiceContext {
	svc := &ServiceContext{Config: c}

	cacheStore, err := cache.NewStore(cache.NewTTLSet(c.TTL))
	if err != nil {
		log.Fatalf("failed to build cache store: %v", err)
	}
	svc.Cache = cacheStore

	if c.Market.Value == nil {
		log.Fatal("market config section is required")
	}
	marketCfg := c.Market.Value

	upstreams, err := marketCfg.BuildUpstreams()
	if err != nil {
		log.Fatalf("failed to build market upstreams: %v", err)
	}
	limiter, err := marketCfg.BuildLimiter()
	if err != nil {
		log.Fatalf("failed to build rate limiter: %v", err)
	}
	svc.Upstreams = upstreams
	svc.Limiter = limiter
	svc.Market = marketpkg.NewService(upstreams, marketCfg.Routes, cacheStore, limiter)

	var (
		mappingStore   marketpkg.MappingStore
		portfolioStore portfoliopkg.Store
	)
	if c.Postgres.DSN != "" {
		db, err := sql.Open("pgx", c.Postgres.DSN)
		if err != nil {
			log.Fatalf("failed to open postgres connection: %v", err)
		}
		db.SetMaxOpenConns(c.Postgres.MaxOpen)
		db.SetMaxIdleConns(c.Postgres.MaxIdle)
		conn := sqlx.NewSqlConnFromDB(db)
		svc.DBConn = conn
		svc.InstrumentMappingsModel = model.NewInstrumentMappingsModel(conn)
		svc.PositionsModel = model.NewPositionsModel(conn)
		svc.PortfolioModel = model.NewPortfolioModel(conn)
		mappingStore = store.NewMappingStore(svc.InstrumentMappingsModel)
		portfolioStore = store.NewPortfolioStore(conn)
	}
	svc.Resolver = marketpkg.NewResolver(svc.Market, cacheStore, mappingStore)

	if c.Discovery.Value != nil {
		svc.Pipeline = discoverypkg.NewPipeline(svc.Market, c.Discovery.Value, nil)
	}

	if c.Portfolio.Value != nil {
		ledger, err := portfoliopkg.NewLedger(context.Background(), c.Portfolio.Value, portfolioStore)
		if err != nil {
			log.Fatalf("failed to restore portfolio ledger: %v", err)
		}
		svc.Ledger = ledger
	}

	if c.Monitor.Value != nil && svc.Ledger != nil {
		var jw *journal.Writer
		if dir := c.Monitor.Value.JournalDir; dir != "" {
			jw = journal.NewWriter(dir)
		}
		svc.Monitor = monitorpkg.NewMonitor(c.Monitor.Value, svc.Market, svc.Ledger, jw)
	}

	return svc
}
