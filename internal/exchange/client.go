package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/cache"
	"github.com/yoonsoo-han/autotrader/internal/circuitbreaker"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
	"github.com/yoonsoo-han/autotrader/internal/ratelimiter"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// Client is the typed facade the Pipeline and Coordinator depend on.
// Every method funnels through a RequestWrapper's rate-limiting, caching,
// retry, and token-refresh logic before reaching an Adapter.
type Client interface {
	GetAsset(ctx context.Context, assetID string) (Asset, error)
	GetOrderBook(ctx context.Context, assetID string) (OrderBook, error)
	GetChart(ctx context.Context, assetID, interval string, limit int) (Chart, error)
	GetCashBalance(ctx context.Context) (CashBalance, error)
	GetAccountBalance(ctx context.Context) (AccountBalance, error)
	GetPendingOrders(ctx context.Context) ([]PendingOrder, error)
	GetFilledOrders(ctx context.Context, since time.Time) ([]FilledOrder, error)
	PlaceBuy(ctx context.Context, req PlaceOrderRequest) (OrderResult, error)
	PlaceSell(ctx context.Context, req PlaceOrderRequest) (OrderResult, error)
	Modify(ctx context.Context, req ModifyOrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, orderID string) (OrderResult, error)
}

// Adapter is the narrow per-vendor surface a concrete transport
// implements: raw operations against a bearer token, with no
// rate-limiting, caching, or retry of its own. RequestWrapper supplies
// all of that uniformly so every adapter (simulator, KR broker, crypto
// exchange) gets it for free.
type Adapter interface {
	Issuer

	GetAsset(ctx context.Context, token, assetID string) (Asset, error)
	GetOrderBook(ctx context.Context, token, assetID string) (OrderBook, error)
	GetChart(ctx context.Context, token, assetID, interval string, limit int) (Chart, error)
	GetCashBalance(ctx context.Context, token string) (CashBalance, error)
	GetAccountBalance(ctx context.Context, token string) (AccountBalance, error)
	GetPendingOrders(ctx context.Context, token string) ([]PendingOrder, error)
	GetFilledOrders(ctx context.Context, token string, since time.Time) ([]FilledOrder, error)
	PlaceBuy(ctx context.Context, token string, req PlaceOrderRequest) (OrderResult, error)
	PlaceSell(ctx context.Context, token string, req PlaceOrderRequest) (OrderResult, error)
	Modify(ctx context.Context, token string, req ModifyOrderRequest) (OrderResult, error)
	Cancel(ctx context.Context, token, orderID string) (OrderResult, error)
}

// RequestWrapper is the Client implementation shared by every adapter:
// it acquires a RateLimiter token of the right kind, applies the bearer
// token from a TokenManager, retries transient/rate-limit failures with
// exponential backoff, forces one token refresh on an authentication
// error, runs every call through the exchange circuit breaker, and
// read-through/invalidates Cache around query and order operations
// respectively.
type RequestWrapper struct {
	adapter Adapter
	limiter *ratelimiter.RateLimiter
	tokens  *TokenManager
	cache   *cache.Cache
	breaker *circuitbreaker.Manager
	log     zerolog.Logger

	backoffBase  time.Duration
	backoffTries int
}

// NewRequestWrapper constructs the shared Client implementation around a
// concrete Adapter.
func NewRequestWrapper(adapter Adapter, limiter *ratelimiter.RateLimiter, tokens *TokenManager, c *cache.Cache, breaker *circuitbreaker.Manager, log zerolog.Logger) *RequestWrapper {
	return &RequestWrapper{
		adapter:      adapter,
		limiter:      limiter,
		tokens:       tokens,
		cache:        c,
		breaker:      breaker,
		log:          log.With().Str("component", "exchange_client").Logger(),
		backoffBase:  time.Second,
		backoffTries: 3,
	}
}

// call runs fn (one adapter operation) through rate-limiting, the token
// manager, the circuit breaker, and the retry/refresh policy:
// transient and rate-limit errors retry with exponential backoff
// (1s, 2s, 4s) up to 3 times; an authentication error forces exactly one
// token refresh and one retry; anything else surfaces immediately.
func (w *RequestWrapper) call(ctx context.Context, opID string, fn func(ctx context.Context, tok string) error) error {
	// The rate-limit slot is waited for at most 30s; a miss fails with
	// types.ErrRateLimitExceeded.
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, 30*time.Second)
	err := w.limiter.Acquire(acquireCtx, opID)
	cancelAcquire()
	if err != nil {
		return err
	}

	tok, err := w.tokens.Token(ctx)
	if err != nil {
		return err
	}

	authRetried := false
	backoff := w.backoffBase
	var lastErr error
	for attempt := 0; attempt <= w.backoffTries; attempt++ {
		started := time.Now()
		err := w.breaker.Execute(ctx, w.breaker.Exchange(), "exchange", func(ctx context.Context) error {
			return fn(ctx, tok)
		})
		metrics.RecordExchangeAPICall("upstream", opID, float64(time.Since(started).Milliseconds()), err)
		if err == nil {
			return nil
		}
		lastErr = err

		te := classify(err)
		switch te.Code() {
		case types.CodeAuthentication:
			if authRetried {
				return te
			}
			authRetried = true
			newTok, rerr := w.tokens.ForceRefresh(ctx)
			if rerr != nil {
				return rerr
			}
			tok = newTok
			continue
		case types.CodeTransientUpstream, types.CodeRateLimitExceeded:
			if attempt == w.backoffTries {
				return types.NewError(types.ErrRateLimitExceeded, types.CodeRateLimitExceeded,
					fmt.Sprintf("%s failed after %d attempts: %v", opID, attempt+1, err))
			}
			w.log.Warn().Str("op", opID).Int("attempt", attempt+1).Dur("backoff", backoff).Err(err).Msg("exchange call failed, retrying")
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
			backoff *= 2
		default:
			return te
		}
	}
	return lastErr
}

func cacheGet[T any](ctx context.Context, w *RequestWrapper, key string, out *T) bool {
	raw, ok := w.cache.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

func cacheSet(ctx context.Context, w *RequestWrapper, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	w.cache.Set(ctx, key, raw, cache.DefaultTTL(key, 3*time.Second))
}

func (w *RequestWrapper) GetAsset(ctx context.Context, assetID string) (Asset, error) {
	key := "stock_info:" + assetID
	var out Asset
	if cacheGet(ctx, w, key, &out) {
		return out, nil
	}
	err := w.call(ctx, "get-asset", func(ctx context.Context, tok string) error {
		a, err := w.adapter.GetAsset(ctx, tok, assetID)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Asset{}, err
	}
	cacheSet(ctx, w, key, out)
	return out, nil
}

func (w *RequestWrapper) GetOrderBook(ctx context.Context, assetID string) (OrderBook, error) {
	key := "orderbook:" + assetID
	var out OrderBook
	if cacheGet(ctx, w, key, &out) {
		return out, nil
	}
	err := w.call(ctx, "get-orderbook", func(ctx context.Context, tok string) error {
		ob, err := w.adapter.GetOrderBook(ctx, tok, assetID)
		if err != nil {
			return err
		}
		out = ob
		return nil
	})
	if err != nil {
		return OrderBook{}, err
	}
	cacheSet(ctx, w, key, out)
	return out, nil
}

func (w *RequestWrapper) GetChart(ctx context.Context, assetID, interval string, limit int) (Chart, error) {
	key := fmt.Sprintf("daily_chart:%s:%s:%d", assetID, interval, limit)
	var out Chart
	if cacheGet(ctx, w, key, &out) {
		return out, nil
	}
	err := w.call(ctx, "get-chart", func(ctx context.Context, tok string) error {
		c, err := w.adapter.GetChart(ctx, tok, assetID, interval, limit)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Chart{}, err
	}
	cacheSet(ctx, w, key, out)
	return out, nil
}

func (w *RequestWrapper) GetCashBalance(ctx context.Context) (CashBalance, error) {
	key := "cash_balance:self"
	var out CashBalance
	if cacheGet(ctx, w, key, &out) {
		return out, nil
	}
	err := w.call(ctx, "get-cash-balance", func(ctx context.Context, tok string) error {
		b, err := w.adapter.GetCashBalance(ctx, tok)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return CashBalance{}, err
	}
	cacheSet(ctx, w, key, out)
	return out, nil
}

func (w *RequestWrapper) GetAccountBalance(ctx context.Context) (AccountBalance, error) {
	key := "account_balance:self"
	var out AccountBalance
	if cacheGet(ctx, w, key, &out) {
		return out, nil
	}
	err := w.call(ctx, "get-account-balance", func(ctx context.Context, tok string) error {
		b, err := w.adapter.GetAccountBalance(ctx, tok)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return AccountBalance{}, err
	}
	cacheSet(ctx, w, key, out)
	return out, nil
}

func (w *RequestWrapper) GetPendingOrders(ctx context.Context) ([]PendingOrder, error) {
	key := "pending_orders:self"
	var out []PendingOrder
	if cacheGet(ctx, w, key, &out) {
		return out, nil
	}
	err := w.call(ctx, "get-pending-orders", func(ctx context.Context, tok string) error {
		o, err := w.adapter.GetPendingOrders(ctx, tok)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	cacheSet(ctx, w, key, out)
	return out, nil
}

func (w *RequestWrapper) GetFilledOrders(ctx context.Context, since time.Time) ([]FilledOrder, error) {
	var out []FilledOrder
	err := w.call(ctx, "get-filled-orders", func(ctx context.Context, tok string) error {
		o, err := w.adapter.GetFilledOrders(ctx, tok, since)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (w *RequestWrapper) PlaceBuy(ctx context.Context, req PlaceOrderRequest) (OrderResult, error) {
	req.Side = SideBuy
	return w.placeOrder(ctx, "place-buy", req)
}

func (w *RequestWrapper) PlaceSell(ctx context.Context, req PlaceOrderRequest) (OrderResult, error) {
	req.Side = SideSell
	return w.placeOrder(ctx, "place-sell", req)
}

func (w *RequestWrapper) placeOrder(ctx context.Context, opID string, req PlaceOrderRequest) (OrderResult, error) {
	var out OrderResult
	err := w.call(ctx, opID, func(ctx context.Context, tok string) error {
		var adapterErr error
		if opID == "place-buy" {
			out, adapterErr = w.adapter.PlaceBuy(ctx, tok, req)
		} else {
			out, adapterErr = w.adapter.PlaceSell(ctx, tok, req)
		}
		return adapterErr
	})
	if err != nil {
		return OrderResult{}, err
	}
	w.cache.InvalidateAccount(ctx)
	return out, nil
}

func (w *RequestWrapper) Modify(ctx context.Context, req ModifyOrderRequest) (OrderResult, error) {
	var out OrderResult
	err := w.call(ctx, "modify", func(ctx context.Context, tok string) error {
		o, err := w.adapter.Modify(ctx, tok, req)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	w.cache.InvalidateAccount(ctx)
	return out, nil
}

func (w *RequestWrapper) Cancel(ctx context.Context, orderID string) (OrderResult, error) {
	var out OrderResult
	err := w.call(ctx, "cancel", func(ctx context.Context, tok string) error {
		o, err := w.adapter.Cancel(ctx, tok, orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return OrderResult{}, err
	}
	w.cache.InvalidateAccount(ctx)
	return out, nil
}
