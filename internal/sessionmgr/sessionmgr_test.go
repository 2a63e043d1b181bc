package sessionmgr

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yoonsoo-han/autotrader/internal/cache"
	"github.com/yoonsoo-han/autotrader/internal/circuitbreaker"
	"github.com/yoonsoo-han/autotrader/internal/coordinator"
	"github.com/yoonsoo-han/autotrader/internal/exchange"
	"github.com/yoonsoo-han/autotrader/internal/llm"
	"github.com/yoonsoo-han/autotrader/internal/orderagent"
	"github.com/yoonsoo-han/autotrader/internal/pipeline"
	"github.com/yoonsoo-han/autotrader/internal/portfolio"
	"github.com/yoonsoo-han/autotrader/internal/ratelimiter"
	"github.com/yoonsoo-han/autotrader/internal/riskmonitor"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// newTestManager wires the same shell cmd/coordinator builds -- rate
// limiter, cache, circuit breaker, token manager around a Simulator --
// so sessionmgr is exercised against realistic fills rather than a stub.
func newTestManager(t *testing.T) (*Manager, *exchange.Simulator) {
	t.Helper()
	log := zerolog.Nop()

	limiter := ratelimiter.New(
		ratelimiter.Config{Capacity: 50, RefillPerSecond: 50, MinInterval: time.Millisecond},
		ratelimiter.Config{Capacity: 50, RefillPerSecond: 50, MinInterval: time.Millisecond},
		ratelimiter.DefaultClassifier, log,
	)
	c := cache.New(64, nil, nil, log)
	breaker := circuitbreaker.NewManager(nil, nil, nil)
	sim := exchange.NewSimulator(exchange.DefaultSimulatorConfig(), 1_000_000, log)
	sim.SetMarketPrice("AAPL", 150)
	sim.SetMarketPrice("BTCUSDT", 50000)

	tokens := exchange.NewTokenManager(sim, 5*time.Minute, 3, log)
	client := exchange.NewRequestWrapper(sim, limiter, tokens, c, breaker, log)

	slots := pipeline.NewSlots(4, 5*time.Second)
	deps := pipeline.Deps{Exchange: client, Reasoner: llm.NoopReasoner{}, Slots: slots, Log: log}
	stock := pipeline.New(pipeline.StockDomain(), deps)
	crypto := pipeline.New(pipeline.CryptoDomain(), deps)

	orders := orderagent.New(client, log)
	monitor := riskmonitor.New(
		riskmonitor.DefaultConfig(5),
		func(ctx context.Context, assetID string) (float64, bool) {
			a, err := client.GetAsset(ctx, assetID)
			if err != nil {
				return 0, false
			}
			return a.LastPrice, true
		},
		func(alert types.Alert) {},
		func(ctx context.Context, assetID string, quantity float64, reason string) {},
		log,
	)

	coord := coordinator.New(coordinator.Deps{
		Exchange:       client,
		Orders:         orders,
		Monitor:        monitor,
		Limits:         portfolio.Limits{MinCashRatio: 0.1, MaxTotalStockPct: 0.9, MaxSinglePositionPct: 0.5},
		MaxDailyTrades: 20,
		Log:            log,
	})
	require.NoError(t, coord.Start(context.Background()))

	isCrypto := func(assetID string) bool { return strings.HasSuffix(assetID, "USDT") }
	return New(coord, stock, crypto, isCrypto, log), sim
}

func waitForStage(t *testing.T, m *Manager, id string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s, ok := m.GetStatus(id)
		require.True(t, ok)
		if s.Stage != "" && s.Stage != "data-collection" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never left data-collection within %s", id, timeout)
}

func TestStartAnalysisReachesApprovalOrComplete(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.StartAnalysis("AAPL")
	require.NotEmpty(t, id)

	waitForStage(t, m, id, 2*time.Second)
	s, ok := m.GetStatus(id)
	require.True(t, ok)
	require.NotEmpty(t, s.ReasoningLog)
}

func TestGetStatusUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	_, ok := m.GetStatus("does-not-exist")
	require.False(t, ok)
}

func TestCancelBeforeSynthesisSucceeds(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.StartAnalysis("AAPL")
	// Racy by nature: a fast pipeline may already be complete by the time
	// Cancel runs, which Cancel correctly rejects. Accept either outcome.
	err := m.Cancel(id)
	if err != nil {
		require.Contains(t, err.Error(), "can no longer be cancelled")
	}
}

func TestApproveUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Approve(context.Background(), "nope", nil)
	require.Error(t, err)
}

func TestRejectRequiresAwaitingApproval(t *testing.T) {
	m, _ := newTestManager(t)
	id := m.StartAnalysis("AAPL")
	// Immediately after StartAnalysis the session is still running in the
	// background goroutine (holding e.mu), so it cannot be awaiting
	// approval yet.
	err := m.Reject(id, "too risky")
	require.Error(t, err)
}
