// Command coordinator runs the trading loop end to end: it wires the
// exchange client shell (rate limiter, cache, circuit breaker, token
// manager) around a concrete Adapter, builds one Pipeline per asset
// domain, and drives sessions through the Coordinator, auto-approving
// proposals the way a fully-automated deployment would (a human-approval
// UI would instead call Coordinator.OnTradeApproved from its own
// handler; cmd/api is exactly that).
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yoonsoo-han/autotrader/internal/audit"
	"github.com/yoonsoo-han/autotrader/internal/cache"
	"github.com/yoonsoo-han/autotrader/internal/circuitbreaker"
	"github.com/yoonsoo-han/autotrader/internal/config"
	"github.com/yoonsoo-han/autotrader/internal/coordinator"
	"github.com/yoonsoo-han/autotrader/internal/db"
	"github.com/yoonsoo-han/autotrader/internal/exchange"
	"github.com/yoonsoo-han/autotrader/internal/holiday"
	"github.com/yoonsoo-han/autotrader/internal/llm"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
	"github.com/yoonsoo-han/autotrader/internal/orderagent"
	"github.com/yoonsoo-han/autotrader/internal/pipeline"
	"github.com/yoonsoo-han/autotrader/internal/portfolio"
	"github.com/yoonsoo-han/autotrader/internal/ratelimiter"
	"github.com/yoonsoo-han/autotrader/internal/riskmonitor"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	interval := flag.Duration("interval", 5*time.Minute, "how often each watched asset runs through the pipeline")
	dbDSN := flag.String("db-dsn", "", "Postgres DSN for position/queue/watchlist/holiday persistence (leave empty to run in-memory only)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Monitoring.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Warn().Err(err).Msg("metrics server failed to start")
		} else {
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = metricsServer.Shutdown(shutdownCtx)
			}()
		}
	}

	appCache := buildCache(cfg, log.Logger)
	stopSweeper := appCache.StartSweeper(ctx, 0)
	defer stopSweeper()

	client, sim := buildExchangeClient(cfg, appCache, log.Logger)
	seedSimulatorPrices(sim, cfg.Trading.Symbols)

	var store *db.Store
	var auditLogger *audit.Logger
	var holidayStore holiday.Store = noopHolidayStore{}
	if *dbDSN != "" {
		database, err := db.New(ctx, *dbDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close()
		store = db.NewStore(database)
		holidayStore = store
		auditLogger = audit.NewLogger(database.Pool(), true)
		updater := metrics.NewUpdater(database.Pool(), time.Minute)
		go updater.Start(ctx)
		log.Info().Msg("persisting positions, queued trades, and the watchlist to Postgres")
	} else {
		log.Info().Msg("no -db-dsn given, running with in-memory state only")
	}

	fetcher, err := holiday.NewStaticFetcher()
	if err != nil {
		log.Fatal().Err(err).Msg("bundled holiday table is malformed")
	}
	cal := holiday.New(holidayStore, fetcher, log.Logger)
	if err := cal.Refresh(ctx, time.Now().Year()); err != nil {
		log.Warn().Err(err).Msg("holiday calendar refresh failed, trading-day checks will treat every weekday as open")
	}

	reasoner := buildReasoner(cfg.LLM)

	slots := pipeline.NewSlots(cfg.Pipeline.MaxConcurrent, 60*time.Second)
	pipelineDeps := pipeline.Deps{Exchange: client, Reasoner: reasoner, Slots: slots, Log: log.Logger}
	stockPipeline := pipeline.New(pipeline.StockDomain(), pipelineDeps)
	cryptoPipeline := pipeline.New(pipeline.CryptoDomain(), pipelineDeps)

	orders := orderagent.New(client, log.Logger)

	var coord *coordinator.Coordinator
	monitor := riskmonitor.New(
		riskmonitor.DefaultConfig(cfg.Risk.SuddenMoveThresholdPct),
		func(ctx context.Context, assetID string) (float64, bool) {
			a, err := client.GetAsset(ctx, assetID)
			if err != nil {
				return 0, false
			}
			return a.LastPrice, true
		},
		func(alert types.Alert) {
			if coord != nil {
				coord.RegisterAlert(alert)
			}
		},
		func(ctx context.Context, assetID string, quantity float64, reason string) {
			if coord != nil {
				coord.AutoSell(ctx, assetID, quantity, reason)
			}
		},
		log.Logger,
	)

	limits := portfolio.Limits{
		MinCashRatio:         cfg.Risk.MinCashRatio,
		MaxTotalStockPct:     cfg.Risk.MaxTotalStockPct,
		MaxSinglePositionPct: cfg.Risk.MaxSinglePositionPct,
	}

	coordDeps := coordinator.Deps{
		Exchange:       client,
		Orders:         orders,
		Monitor:        monitor,
		Limits:         limits,
		MaxDailyTrades: cfg.Risk.MaxDailyTrades,
		Log:            log.Logger,
		MarketHours:    cal,
		IsCrypto:       isCryptoSymbol,
	}
	if store != nil {
		coordDeps.Store = store
		coordDeps.Audit = auditLogger
	}
	coord = coordinator.New(coordDeps)

	if err := coord.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start coordinator")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	log.Info().Dur("interval", *interval).Strs("symbols", cfg.Trading.Symbols).Msg("coordinator running")

	runSymbols(ctx, cfg.Trading.Symbols, cal, stockPipeline, cryptoPipeline, coord)

	for {
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			coord.Stop()
			return
		case <-ticker.C:
			randomWalkPrices(sim, cfg.Trading.Symbols)
			if cal.IsMarketOpen(time.Now()) {
				coord.DrainQueue(ctx)
			}
			runSymbols(ctx, cfg.Trading.Symbols, cal, stockPipeline, cryptoPipeline, coord)
		}
	}
}

// runSymbols starts one pipeline session per symbol and, once it reaches
// the approval interrupt, auto-approves any non-hold/avoid proposal
// (watch/avoid routes still go through WatchAsset).
func runSymbols(ctx context.Context, symbols []string, cal *holiday.Calendar, stock, crypto *pipeline.Pipeline, coord *coordinator.Coordinator) {
	for _, symbol := range symbols {
		p := crypto
		if !isCryptoSymbol(symbol) {
			if !cal.IsTradingDay(time.Now()) {
				log.Debug().Str("asset_id", symbol).Msg("market closed, skipping")
				continue
			}
			p = stock
		}

		s := &types.Session{ID: uuid.NewString(), AssetID: symbol, Stage: types.StageDataCollection, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := coord.StartPipelineSession(ctx, p, s); err != nil {
			log.Warn().Err(err).Str("asset_id", symbol).Msg("pipeline session failed")
			continue
		}
		for _, line := range s.ReasoningLog {
			log.Debug().Str("asset_id", symbol).Msg(line)
		}

		if s.Proposal == nil {
			continue
		}

		switch s.Proposal.Action {
		case types.ActionWatch, types.ActionAvoid:
			coord.WatchAsset(ctx, types.WatchedStock{
				AssetID:      symbol,
				Signal:       consensusSignalOf(s.Proposal),
				CurrentPrice: s.Proposal.EntryPrice,
				Summary:      s.Proposal.Rationale,
				Status:       types.WatchActive,
				AddedAt:      time.Now(),
			})
		case types.ActionHold:
			// nothing to do
		default:
			s.ApprovalStatus = types.ApprovalApproved
			plan, err := coord.OnTradeApproved(ctx, *s.Proposal, nil)
			if err != nil {
				log.Warn().Err(err).Str("asset_id", symbol).Msg("trade approval failed")
				continue
			}
			log.Info().Str("asset_id", symbol).Str("action", string(s.Proposal.Action)).
				Float64("quantity", plan.Quantity).Str("rationale", plan.Rationale).Msg("trade executed")
		}
	}
}

func consensusSignalOf(p *types.TradeProposal) types.Signal {
	if len(p.Analyses) == 0 {
		return types.SignalHold
	}
	return p.Analyses[len(p.Analyses)-1].Signal
}

func isCryptoSymbol(symbol string) bool {
	return strings.HasSuffix(symbol, "USDT") || strings.HasSuffix(symbol, "BTC") || strings.HasSuffix(symbol, "USD")
}

// buildCache assembles the three-tier cache from config: L1 always, the
// Redis L2 tier when redis.enabled, and the sqlite L3 tier when
// cache.disk_path is set.
func buildCache(cfg *config.Config, logger zerolog.Logger) *cache.Cache {
	var l2 cache.L2
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		l2 = cache.NewRedisTier(rdb, "autotrader")
	}
	var l3 cache.L3
	if cfg.CacheConf.DiskPath != "" {
		tier, err := cache.OpenSqliteTier(cfg.CacheConf.DiskPath)
		if err != nil {
			logger.Warn().Err(err).Str("path", cfg.CacheConf.DiskPath).Msg("disk cache tier disabled")
		} else {
			l3 = tier
		}
	}
	return cache.New(cfg.CacheConf.L1MaxSize, l2, l3, logger)
}

// buildExchangeClient wires the rate limiter, cache, and circuit breaker
// around either the in-process Simulator (paper trading, the default) or
// a live BinanceAdapter, selected per the "binance" entry's mock/api_key
// fields in config. sim is nil when running against the live adapter,
// since there's no reference price table to seed or random-walk.
func buildExchangeClient(cfg *config.Config, c *cache.Cache, logger zerolog.Logger) (exchange.Client, *exchange.Simulator) {
	queryCfg := ratelimiter.Config{Capacity: 5, RefillPerSecond: cfg.Rate.QueryPerSec, MinInterval: time.Duration(cfg.Rate.MinIntervalSec * float64(time.Second))}
	orderCfg := ratelimiter.Config{Capacity: 5, RefillPerSecond: cfg.Rate.OrderPerSec, MinInterval: time.Duration(cfg.Rate.MinIntervalSec * float64(time.Second))}
	limiter := ratelimiter.New(queryCfg, orderCfg, ratelimiter.DefaultClassifier, logger)

	breaker := circuitbreaker.NewManager(nil, nil, nil)

	binCfg := cfg.Exchanges["binance"]
	if !binCfg.Mock && binCfg.APIKey != "" {
		adapter := exchange.NewBinanceAdapter(exchange.BinanceConfig{
			APIKey: binCfg.APIKey, SecretKey: binCfg.SecretKey, Testnet: binCfg.Testnet,
		}, logger)
		tokens := exchange.NewTokenManager(adapter, 5*time.Minute, 3, logger)
		wrapper := exchange.NewRequestWrapper(adapter, limiter, tokens, c, breaker, logger)
		return wrapper, nil
	}

	simCfg := exchange.SimulatorConfig{
		Maker: binCfg.Fees.Maker, Taker: binCfg.Fees.Taker,
		BaseSlippage: binCfg.Fees.BaseSlippage, MarketImpact: binCfg.Fees.MarketImpact,
		MaxSlippage: binCfg.Fees.MaxSlippage,
	}
	if simCfg.Maker == 0 && simCfg.Taker == 0 {
		simCfg = exchange.DefaultSimulatorConfig()
	}
	sim := exchange.NewSimulator(simCfg, cfg.Trading.InitialCapital, logger)

	tokens := exchange.NewTokenManager(sim, 5*time.Minute, 3, logger)
	wrapper := exchange.NewRequestWrapper(sim, limiter, tokens, c, breaker, logger)
	return wrapper, sim
}

// seedSimulatorPrices gives every configured symbol an initial reference
// price so the first pipeline pass has something to analyze. No-op
// against a live adapter (sim is nil).
func seedSimulatorPrices(sim *exchange.Simulator, symbols []string) {
	if sim == nil {
		return
	}
	for _, s := range symbols {
		price := 50000.0
		if isCryptoSymbol(s) {
			price = 40000.0 + rand.Float64()*20000
		}
		sim.SetMarketPrice(s, price)
	}
}

// randomWalkPrices nudges the simulator's reference prices between
// pipeline passes, standing in for the live market data a real adapter
// would stream. No-op against a live adapter (sim is nil).
func randomWalkPrices(sim *exchange.Simulator, symbols []string) {
	if sim == nil {
		return
	}
	for _, s := range symbols {
		a, err := sim.GetAsset(context.Background(), "", s)
		if err != nil {
			continue
		}
		drift := (rand.Float64() - 0.5) * 0.02
		sim.SetMarketPrice(s, a.LastPrice*(1+drift))
	}
}

func buildReasoner(cfg config.LLMConfig) llm.Reasoner {
	if cfg.Endpoint == "" {
		return llm.NoopReasoner{}
	}
	client := llm.NewClient(llm.ClientConfig{
		Endpoint:    cfg.Endpoint,
		Model:       cfg.PrimaryModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.GetTimeout(),
	})
	return llm.NewClientReasoner(client)
}

// noopHolidayStore backs the holiday Calendar when no database is
// configured: nothing is persisted, and the calendar holds only what
// Refresh fetched into memory (the bundled StaticFetcher table).
type noopHolidayStore struct{}

func (noopHolidayStore) ListHolidays(ctx context.Context, year int) ([]holiday.Holiday, error) {
	return nil, nil
}

func (noopHolidayStore) ReplaceHolidays(ctx context.Context, year int, holidays []holiday.Holiday) error {
	return nil
}
