package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/yoonsoo-han/autotrader/internal/sessionmgr"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

func newTestServer(t *testing.T) *Server {
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
	sess := sessionmgr.New(coord, stock, crypto, isCrypto, log)

	return New("127.0.0.1:0", sess, coord, nil, log)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartAnalysisAndGetSession(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"asset_id": "AAPL"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec2 := httptest.NewRecorder()
		req2 := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+resp.SessionID, nil)
		s.router.ServeHTTP(rec2, req2)
		require.Equal(t, http.StatusOK, rec2.Code)

		var session types.Session
		require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &session))
		if session.Stage != types.StageDataCollection {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never progressed past data-collection")
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/nope", nil)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseResumeStatus(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/trading/pause", bytes.NewReader([]byte(`{"reason":"test"}`)))
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	s.router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &status))
	require.Equal(t, "paused", status["mode"])
}
