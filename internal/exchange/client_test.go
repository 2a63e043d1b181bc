package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoonsoo-han/autotrader/internal/cache"
	"github.com/yoonsoo-han/autotrader/internal/circuitbreaker"
	"github.com/yoonsoo-han/autotrader/internal/ratelimiter"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// scriptedAdapter pops one error per call from its script (nil = success)
// and counts calls per operation.
type scriptedAdapter struct {
	issued     int
	assetCalls int
	cashCalls  int
	buyCalls   int
	script     []error
}

func (a *scriptedAdapter) nextErr() error {
	if len(a.script) == 0 {
		return nil
	}
	err := a.script[0]
	a.script = a.script[1:]
	return err
}

func (a *scriptedAdapter) IssueToken(ctx context.Context) (string, time.Duration, error) {
	a.issued++
	return "tok", time.Hour, nil
}

func (a *scriptedAdapter) GetAsset(ctx context.Context, token, assetID string) (Asset, error) {
	a.assetCalls++
	if err := a.nextErr(); err != nil {
		return Asset{}, err
	}
	return Asset{ID: assetID, LastPrice: 50000}, nil
}

func (a *scriptedAdapter) GetOrderBook(ctx context.Context, token, assetID string) (OrderBook, error) {
	return OrderBook{AssetID: assetID}, a.nextErr()
}

func (a *scriptedAdapter) GetChart(ctx context.Context, token, assetID, interval string, limit int) (Chart, error) {
	return Chart{AssetID: assetID}, a.nextErr()
}

func (a *scriptedAdapter) GetCashBalance(ctx context.Context, token string) (CashBalance, error) {
	a.cashCalls++
	if err := a.nextErr(); err != nil {
		return CashBalance{}, err
	}
	return CashBalance{Available: 1_000_000}, nil
}

func (a *scriptedAdapter) GetAccountBalance(ctx context.Context, token string) (AccountBalance, error) {
	return AccountBalance{TotalEquity: 1_000_000}, a.nextErr()
}

func (a *scriptedAdapter) GetPendingOrders(ctx context.Context, token string) ([]PendingOrder, error) {
	return nil, a.nextErr()
}

func (a *scriptedAdapter) GetFilledOrders(ctx context.Context, token string, since time.Time) ([]FilledOrder, error) {
	return nil, a.nextErr()
}

func (a *scriptedAdapter) PlaceBuy(ctx context.Context, token string, req PlaceOrderRequest) (OrderResult, error) {
	a.buyCalls++
	if err := a.nextErr(); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: "o1", Status: StatusFilled, FilledQty: req.Quantity, AvgFillPrice: 50000}, nil
}

func (a *scriptedAdapter) PlaceSell(ctx context.Context, token string, req PlaceOrderRequest) (OrderResult, error) {
	return OrderResult{Status: StatusFilled, FilledQty: req.Quantity}, a.nextErr()
}

func (a *scriptedAdapter) Modify(ctx context.Context, token string, req ModifyOrderRequest) (OrderResult, error) {
	return OrderResult{}, a.nextErr()
}

func (a *scriptedAdapter) Cancel(ctx context.Context, token, orderID string) (OrderResult, error) {
	return OrderResult{}, a.nextErr()
}

func newTestWrapper(t *testing.T, adapter Adapter) (*RequestWrapper, *cache.Cache) {
	t.Helper()
	log := zerolog.Nop()
	limiter := ratelimiter.New(
		ratelimiter.Config{Capacity: 100, RefillPerSecond: 100, MinInterval: time.Microsecond},
		ratelimiter.Config{Capacity: 100, RefillPerSecond: 100, MinInterval: time.Microsecond},
		ratelimiter.DefaultClassifier, log,
	)
	c := cache.New(64, nil, nil, log)
	tokens := NewTokenManager(adapter, 5*time.Minute, 3, log)
	w := NewRequestWrapper(adapter, limiter, tokens, c, circuitbreaker.NewPassthroughManager(), log)
	w.backoffBase = time.Millisecond
	return w, c
}

func TestQueryReadsThroughCache(t *testing.T) {
	adapter := &scriptedAdapter{}
	w, _ := newTestWrapper(t, adapter)
	ctx := context.Background()

	a1, err := w.GetAsset(ctx, "005930")
	require.NoError(t, err)
	a2, err := w.GetAsset(ctx, "005930")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.Equal(t, 1, adapter.assetCalls, "second read is served from cache")
}

func TestOrderInvalidatesAccountCache(t *testing.T) {
	adapter := &scriptedAdapter{}
	w, _ := newTestWrapper(t, adapter)
	ctx := context.Background()

	_, err := w.GetCashBalance(ctx)
	require.NoError(t, err)
	_, err = w.GetCashBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.cashCalls, "cash balance cached between reads")

	_, err = w.PlaceBuy(ctx, PlaceOrderRequest{AssetID: "005930", Kind: KindMarket, Quantity: 1})
	require.NoError(t, err)

	_, err = w.GetCashBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.cashCalls, "successful order invalidates account-class keys")
}

func TestTransientErrorRetriesWithBackoff(t *testing.T) {
	adapter := &scriptedAdapter{script: []error{
		NewUpstreamError(UpstreamNetwork, "gateway timeout"),
		NewUpstreamError(UpstreamNetwork, "gateway timeout"),
		nil,
	}}
	w, _ := newTestWrapper(t, adapter)

	a, err := w.GetAsset(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", a.ID)
	assert.Equal(t, 3, adapter.assetCalls, "two transient failures then success")
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	adapter := &scriptedAdapter{script: []error{
		NewUpstreamError(UpstreamRateLimited, "429"),
		NewUpstreamError(UpstreamRateLimited, "429"),
		NewUpstreamError(UpstreamRateLimited, "429"),
		NewUpstreamError(UpstreamRateLimited, "429"),
	}}
	w, _ := newTestWrapper(t, adapter)

	_, err := w.GetAsset(context.Background(), "005930")
	require.Error(t, err)
	te, ok := err.(types.TradingError)
	require.True(t, ok)
	assert.Equal(t, types.CodeRateLimitExceeded, te.Code())
	assert.Equal(t, 4, adapter.assetCalls, "initial attempt plus three retries")
}

func TestAuthErrorForcesSingleRefresh(t *testing.T) {
	adapter := &scriptedAdapter{script: []error{
		NewUpstreamError(UpstreamAuthExpired, "token expired"),
		nil,
	}}
	w, _ := newTestWrapper(t, adapter)

	_, err := w.GetAsset(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 2, adapter.assetCalls, "one retry after forced refresh")
	assert.Equal(t, 2, adapter.issued, "initial token plus the forced refresh")
}

func TestAuthErrorTwiceSurfaces(t *testing.T) {
	adapter := &scriptedAdapter{script: []error{
		NewUpstreamError(UpstreamAuthExpired, "token expired"),
		NewUpstreamError(UpstreamAuthExpired, "still expired"),
	}}
	w, _ := newTestWrapper(t, adapter)

	_, err := w.GetAsset(context.Background(), "005930")
	require.Error(t, err)
	te, ok := err.(types.TradingError)
	require.True(t, ok)
	assert.Equal(t, types.CodeAuthentication, te.Code())
	assert.Equal(t, 2, adapter.assetCalls, "exactly one forced-refresh retry, never a loop")
}

func TestDomainErrorNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{script: []error{
		NewUpstreamError(UpstreamDomain, "invalid asset"),
	}}
	w, _ := newTestWrapper(t, adapter)

	_, err := w.GetAsset(context.Background(), "BOGUS")
	require.Error(t, err)
	te, ok := err.(types.TradingError)
	require.True(t, ok)
	assert.Equal(t, types.CodeDomain, te.Code())
	assert.Equal(t, 1, adapter.assetCalls, "domain errors surface immediately")
}
