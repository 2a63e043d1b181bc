// Command api runs the session control surface as a
// standalone HTTP service: the same Coordinator/Pipeline shell
// cmd/coordinator auto-drives is instead exposed for a human reviewer
// (or a UI) to start, inspect, approve, reject, and cancel sessions
// explicitly. Both commands share one Coordinator type -- running both
// against the same Coordinator instance in one process, rather than
// splitting them across two processes, is what keeps TradingState's
// single mutex the sole source of truth.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yoonsoo-han/autotrader/internal/alerts"
	"github.com/yoonsoo-han/autotrader/internal/api"
	"github.com/yoonsoo-han/autotrader/internal/audit"
	"github.com/yoonsoo-han/autotrader/internal/cache"
	"github.com/yoonsoo-han/autotrader/internal/circuitbreaker"
	"github.com/yoonsoo-han/autotrader/internal/config"
	"github.com/yoonsoo-han/autotrader/internal/coordinator"
	"github.com/yoonsoo-han/autotrader/internal/exchange"
	"github.com/yoonsoo-han/autotrader/internal/llm"
	"github.com/yoonsoo-han/autotrader/internal/orderagent"
	"github.com/yoonsoo-han/autotrader/internal/pipeline"
	"github.com/yoonsoo-han/autotrader/internal/portfolio"
	"github.com/yoonsoo-han/autotrader/internal/ratelimiter"
	"github.com/yoonsoo-han/autotrader/internal/riskmonitor"
	"github.com/yoonsoo-han/autotrader/internal/sessionmgr"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appCache := buildCache(cfg, log.Logger)
	stopSweeper := appCache.StartSweeper(ctx, 0)
	defer stopSweeper()

	client, sim := buildExchangeClient(cfg, appCache, log.Logger)
	if sim != nil {
		for _, sym := range cfg.Trading.Symbols {
			sim.SetMarketPrice(sym, 100)
		}
	}

	reasoner := buildReasoner(cfg.LLM)
	slots := pipeline.NewSlots(cfg.Pipeline.MaxConcurrent, 60*time.Second)
	pipelineDeps := pipeline.Deps{Exchange: client, Reasoner: reasoner, Slots: slots, Log: log.Logger}
	stockPipeline := pipeline.New(pipeline.StockDomain(), pipelineDeps)
	cryptoPipeline := pipeline.New(pipeline.CryptoDomain(), pipelineDeps)

	orders := orderagent.New(client, log.Logger)

	var coord *coordinator.Coordinator
	var sess *sessionmgr.Manager
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

	hub := api.NewHub(log.Logger)
	go hub.Run(ctx)

	notifiers := []coordinator.Notifier{hub}
	var listener *alerts.CommandListener
	if cfg.Notify.BotToken != "" {
		telegramAlerter, err := alerts.NewTelegramAlerter(cfg.Notify.BotToken, cfg.Notify.ChatIDs)
		if err != nil {
			log.Warn().Err(err).Msg("telegram alerter disabled")
		} else {
			notifiers = append(notifiers, alerts.NewSessionNotifier(alerts.NewManager(telegramAlerter, alerts.NewLogAlerter())))
		}
	}
	notifier := fanoutNotifier(notifiers)

	auditLogger := audit.NewLogger(nil, false) // no database wired here; enabled=false keeps it a no-op

	coord = coordinator.New(coordinator.Deps{
		Exchange:       client,
		Orders:         orders,
		Monitor:        monitor,
		Limits:         limits,
		MaxDailyTrades: cfg.Risk.MaxDailyTrades,
		Notifier:       notifier,
		Audit:          auditLogger,
		Log:            log.Logger,
	})
	if err := coord.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start coordinator")
	}

	isCrypto := func(assetID string) bool {
		return strings.HasSuffix(assetID, "USDT") || strings.HasSuffix(assetID, "BTC") || strings.HasSuffix(assetID, "USD")
	}
	sess = sessionmgr.New(coord, stockPipeline, cryptoPipeline, isCrypto, log.Logger)

	if cfg.Notify.BotToken != "" {
		listener, err = alerts.NewCommandListener(cfg.Notify.BotToken, sess, coord, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("telegram command listener disabled")
		} else {
			go listener.Listen(ctx)
		}
	}

	addr := cfg.API.Host + ":" + strconv.Itoa(cfg.API.Port)
	server := api.New(addr, sess, coord, hub, log.Logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", addr).Msg("session control API listening")
		if err := server.ListenAndServe(); err != nil {
			log.Warn().Err(err).Msg("api server stopped")
		}
	}()

	<-sigCh
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	coord.Stop()
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
// fields in config. sim is nil when running against the live adapter.
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

// fanoutNotifier pushes each alert to every configured sink; a failing
// sink never blocks the others (the Notifier contract is best-effort).
type fanoutNotifier []coordinator.Notifier

func (f fanoutNotifier) Notify(ctx context.Context, alert types.Alert) error {
	var firstErr error
	for _, n := range f {
		if err := n.Notify(ctx, alert); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
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
