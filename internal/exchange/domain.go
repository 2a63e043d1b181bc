// Package exchange is the unified typed facade the rest of the system
// depends on: every upstream call funnels through a Client, so the
// Pipeline and Coordinator never see vendor transport details.
//
// The facade covers the full typed operation surface a trading session
// needs: asset lookup, orderbook, chart, balances, and pending/filled
// order queries, alongside order placement.
package exchange

import "time"

// Side is an order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind distinguishes market and limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "market"
	KindLimit  OrderKind = "limit"
)

// OrderStatus is the lifecycle state of a placed order.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
	StatusRejected  OrderStatus = "rejected"
)

// Asset is the get-asset response: current snapshot of one tradable
// instrument.
type Asset struct {
	ID            string
	Name          string
	LastPrice     float64
	Change24hPct  float64
	Volume24h     float64
	PER           float64 // stocks only; zero for crypto
	PBR           float64 // stocks only
	EPS           float64 // stocks only
	MarketCap     float64
	TradingHalted bool
}

// OrderBookLevel is one price/quantity level of the book.
type OrderBookLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is the get-orderbook response.
type OrderBook struct {
	AssetID string
	Bids    []OrderBookLevel // best bid first
	Asks    []OrderBookLevel // best ask first
	AsOf    time.Time
}

// BestBidAskRatio returns the top-of-book bid/ask size ratio used by the
// technical-signal scorer; returns 0 if either side is empty.
func (b OrderBook) BestBidAskRatio() float64 {
	if len(b.Bids) == 0 || len(b.Asks) == 0 || b.Asks[0].Quantity == 0 {
		return 0
	}
	return b.Bids[0].Quantity / b.Asks[0].Quantity
}

// Candle is one bar of a chart series.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Chart is the get-chart response: an ordered (oldest-first) candle series.
type Chart struct {
	AssetID  string
	Interval string
	Candles  []Candle
}

// CashBalance is the get-cash-balance response (crypto: quote-currency
// free balance; stocks: orderable cash).
type CashBalance struct {
	Currency       string
	Available      float64
	OrderableCash  float64
	WithdrawableAt float64
}

// AccountBalance is the get-account-balance response: the full set of
// held positions as the upstream reports them, independent of this
// system's own position ledger.
type AccountBalance struct {
	CashBalance CashBalance
	Holdings    []Holding
	TotalEquity float64
}

// Holding is one line of an AccountBalance.
type Holding struct {
	AssetID      string
	Quantity     float64
	AverageCost  float64
	CurrentPrice float64
}

// PendingOrder is one row of the get-pending-orders response.
type PendingOrder struct {
	OrderID   string
	AssetID   string
	Side      Side
	Kind      OrderKind
	Price     float64
	Quantity  float64
	FilledQty float64
	Status    OrderStatus
	PlacedAt  time.Time
}

// FilledOrder is one row of the get-filled-orders response.
type FilledOrder struct {
	OrderID      string
	AssetID      string
	Side         Side
	Quantity     float64
	AvgFillPrice float64
	Fee          float64
	FilledAt     time.Time
}

// PlaceOrderRequest is the place-buy / place-sell request.
type PlaceOrderRequest struct {
	AssetID  string
	Side     Side
	Kind     OrderKind
	Quantity float64
	Price    float64 // required for limit orders
}

// ModifyOrderRequest changes the price and/or quantity of a resting order.
type ModifyOrderRequest struct {
	OrderID  string
	Price    float64
	Quantity float64
}

// OrderResult is the response common to place-buy, place-sell, and modify.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    float64
	AvgFillPrice float64
	Fee          float64
	Message      string
}
