// Package orderagent wraps exchange.Client's order operations with
// rate-limit-aware split execution and KRX tick-size rounding. It never
// decides whether to trade -- only how to place what the Coordinator
// already approved.
package orderagent

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/exchange"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
)

// SplitThreshold is the default quantity above which execute_order
// divides an order into three sub-orders.
const SplitThreshold = 100

// SplitPause is the pause between sub-orders of a split execution.
const SplitPause = 1500 * time.Millisecond

// RateLimitWaitDeadline bounds how long a single sub-order waits for a
// rate-limit slot before giving up ("deadline default 30s"
// -- enforced inside exchange.Client's RequestWrapper, this constant
// documents the contract OrderAgent relies on).
const RateLimitWaitDeadline = 30 * time.Second

// ResultStatus mirrors OrderResult.status enumeration.
type ResultStatus string

const (
	StatusPending   ResultStatus = "pending"
	StatusPartial   ResultStatus = "partial"
	StatusFilled    ResultStatus = "filled"
	StatusRejected  ResultStatus = "rejected"
	StatusCancelled ResultStatus = "cancelled"
)

// OrderResult is execute_order's aggregate result across however many
// sub-orders split execution produced.
type OrderResult struct {
	Status          ResultStatus
	FilledQuantity  float64
	AvgPrice        float64
	SubOrderResults []exchange.OrderResult
	ErrorMessage    string
}

// Agent wraps an exchange.Client with split execution and tick-size
// rounding.
type Agent struct {
	client exchange.Client
	log    zerolog.Logger
	sleep  func(time.Duration) // overridable for tests
}

// New constructs an Agent.
func New(client exchange.Client, log zerolog.Logger) *Agent {
	return &Agent{client: client, log: log, sleep: time.Sleep}
}

// SetSleep overrides the inter-sub-order pause function, letting tests
// exercise split execution without waiting out SplitPause in real time.
func (a *Agent) SetSleep(sleep func(time.Duration)) {
	a.sleep = sleep
}

// ExecuteOrder places req, optionally splitting it into three sub-orders
// when split is true and the quantity exceeds SplitThreshold. Network or
// upstream failures never propagate as an error: they come back as a
// StatusRejected OrderResult.
func (a *Agent) ExecuteOrder(ctx context.Context, req exchange.PlaceOrderRequest, split bool) OrderResult {
	if req.Kind == exchange.KindLimit {
		req.Price = roundToTick(req.Price, req.Side)
	}

	if !split || req.Quantity <= SplitThreshold {
		return a.executeSingle(ctx, req)
	}

	third := req.Quantity / 3
	// Integer-unit assets floor the quotient; fractional assets (crypto)
	// keep it as-is. OrderAgent doesn't know the domain, so it floors only
	// when the quantity is already a whole number, matching the common
	// KRX-stock case while leaving fractional crypto quantities untouched.
	q1 := third
	q2 := third
	q3 := req.Quantity - q1 - q2
	if isWhole(req.Quantity) {
		q1 = float64(int64(third))
		q2 = float64(int64(third))
		q3 = req.Quantity - q1 - q2
	}

	subReqs := []exchange.PlaceOrderRequest{req, req, req}
	subReqs[0].Quantity, subReqs[1].Quantity, subReqs[2].Quantity = q1, q2, q3

	var results []exchange.OrderResult
	var totalFilled, totalValue float64
	for i, sr := range subReqs {
		res := a.placeOne(ctx, sr)
		results = append(results, res)
		totalFilled += res.FilledQty
		totalValue += res.FilledQty * res.AvgFillPrice
		if i < len(subReqs)-1 {
			a.sleep(SplitPause)
		}
	}

	avgPrice := 0.0
	if totalFilled > 0 {
		avgPrice = totalValue / totalFilled
	}

	return OrderResult{
		Status:          aggregateStatus(results, req.Quantity, totalFilled),
		FilledQuantity:  totalFilled,
		AvgPrice:        avgPrice,
		SubOrderResults: results,
	}
}

func (a *Agent) executeSingle(ctx context.Context, req exchange.PlaceOrderRequest) OrderResult {
	res := a.placeOne(ctx, req)
	return OrderResult{
		Status:          singleStatus(res, req.Quantity),
		FilledQuantity:  res.FilledQty,
		AvgPrice:        res.AvgFillPrice,
		SubOrderResults: []exchange.OrderResult{res},
		ErrorMessage:    res.Message,
	}
}

// placeOne calls the exchange for one order; upstream errors are folded
// into a rejected exchange.OrderResult rather than returned, so execute
// paths never need to branch on error.
func (a *Agent) placeOne(ctx context.Context, req exchange.PlaceOrderRequest) exchange.OrderResult {
	started := time.Now()
	var res exchange.OrderResult
	var err error
	if req.Side == exchange.SideBuy {
		res, err = a.client.PlaceBuy(ctx, req)
	} else {
		res, err = a.client.PlaceSell(ctx, req)
	}
	metrics.RecordOrderExecution(float64(time.Since(started).Milliseconds()))
	if err != nil {
		a.log.Warn().Err(err).Str("asset_id", req.AssetID).Str("side", string(req.Side)).Msg("order placement failed")
		return exchange.OrderResult{Status: exchange.StatusRejected, Message: err.Error()}
	}
	return res
}

func singleStatus(res exchange.OrderResult, requested float64) ResultStatus {
	switch res.Status {
	case exchange.StatusRejected, exchange.StatusCancelled:
		return ResultStatus(res.Status)
	}
	if res.FilledQty <= 0 {
		return StatusPending
	}
	if res.FilledQty < requested {
		return StatusPartial
	}
	return StatusFilled
}

func aggregateStatus(results []exchange.OrderResult, requested, filled float64) ResultStatus {
	allRejected := true
	for _, r := range results {
		if r.Status != exchange.StatusRejected {
			allRejected = false
			break
		}
	}
	if allRejected {
		return StatusRejected
	}
	if filled <= 0 {
		return StatusPending
	}
	if filled < requested {
		return StatusPartial
	}
	return StatusFilled
}

func isWhole(q float64) bool {
	return q == float64(int64(q))
}

// tickBands is the KRX price-band tick-size table: the
// step size widens as price increases.
var tickBands = []struct {
	maxPrice float64
	step     float64
}{
	{2000, 1},
	{5000, 5},
	{20000, 10},
	{50000, 50},
	{200000, 100},
	{500000, 500},
	{math.MaxFloat64, 1000},
}

// roundToTick rounds price to the valid KRX tick size for its band,
// rounding up for buys and down for sells so the order stays competitive
// but valid.
func roundToTick(price float64, side exchange.Side) float64 {
	if price <= 0 {
		return price
	}
	step := tickStepFor(price)
	quotient := price / step
	switch side {
	case exchange.SideBuy:
		return ceilTo(quotient) * step
	default:
		return floorTo(quotient) * step
	}
}

func tickStepFor(price float64) float64 {
	for _, band := range tickBands {
		if price <= band.maxPrice {
			return band.step
		}
	}
	return tickBands[len(tickBands)-1].step
}

func ceilTo(x float64) float64 {
	i := int64(x)
	if float64(i) < x {
		i++
	}
	return float64(i)
}

func floorTo(x float64) float64 {
	return float64(int64(x))
}
