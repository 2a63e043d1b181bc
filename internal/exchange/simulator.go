package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SimulatorConfig carries the fee/slippage knobs driving the paper-trade
// fill simulation, matching config.FeeConfig field for field.
type SimulatorConfig struct {
	Maker        float64
	Taker        float64
	BaseSlippage float64
	MarketImpact float64
	MaxSlippage  float64
}

// DefaultSimulatorConfig returns Binance-like default fees.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{Maker: 0.001, Taker: 0.001, BaseSlippage: 0.0005, MarketImpact: 0.0001, MaxSlippage: 0.003}
}

// Simulator is the exchange.mock adapter: a paper-trading transport that
// fills market orders against a configured reference price with
// order-size-scaled slippage. Persistence of placed orders to the trade
// ledger is the Coordinator's and Store's job, not the adapter's, so this
// type holds no database handle.
type Simulator struct {
	cfg SimulatorConfig
	log zerolog.Logger

	mu            sync.Mutex
	prices        map[string]float64
	cashBalance   float64
	holdings      map[string]Holding
	pendingOrders map[string]*PendingOrder
	filledOrders  []FilledOrder
}

// NewSimulator constructs a paper-trading adapter seeded with startingCash.
func NewSimulator(cfg SimulatorConfig, startingCash float64, log zerolog.Logger) *Simulator {
	return &Simulator{
		cfg:           cfg,
		log:           log.With().Str("component", "exchange_simulator").Logger(),
		prices:        make(map[string]float64),
		cashBalance:   startingCash,
		holdings:      make(map[string]Holding),
		pendingOrders: make(map[string]*PendingOrder),
	}
}

// SetMarketPrice seeds the reference price a market order fills against.
func (s *Simulator) SetMarketPrice(assetID string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[assetID] = price
}

// IssueToken never expires for the simulator; there is no real auth
// server behind paper trading.
func (s *Simulator) IssueToken(ctx context.Context) (string, time.Duration, error) {
	return "simulator-token", 24 * time.Hour, nil
}

func (s *Simulator) GetAsset(ctx context.Context, _ string, assetID string) (Asset, error) {
	s.mu.Lock()
	price, ok := s.prices[assetID]
	s.mu.Unlock()
	if !ok {
		return Asset{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("unknown asset %s", assetID))
	}
	return Asset{ID: assetID, Name: assetID, LastPrice: price}, nil
}

func (s *Simulator) GetOrderBook(ctx context.Context, _ string, assetID string) (OrderBook, error) {
	s.mu.Lock()
	price, ok := s.prices[assetID]
	s.mu.Unlock()
	if !ok {
		return OrderBook{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("unknown asset %s", assetID))
	}
	spread := price * 0.0005
	return OrderBook{
		AssetID: assetID,
		Bids:    []OrderBookLevel{{Price: price - spread, Quantity: 10}},
		Asks:    []OrderBookLevel{{Price: price + spread, Quantity: 10}},
		AsOf:    time.Now(),
	}, nil
}

func (s *Simulator) GetChart(ctx context.Context, _ string, assetID, interval string, limit int) (Chart, error) {
	s.mu.Lock()
	price, ok := s.prices[assetID]
	s.mu.Unlock()
	if !ok {
		return Chart{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("unknown asset %s", assetID))
	}
	if limit <= 0 {
		limit = 30
	}
	candles := make([]Candle, limit)
	now := time.Now()
	walk := price
	for i := limit - 1; i >= 0; i-- {
		drift := (rand.Float64() - 0.5) * price * 0.01
		open := walk
		close := walk + drift
		high := max(open, close) + price*0.002
		low := min(open, close) - price*0.002
		candles[i] = Candle{OpenTime: now.Add(-time.Duration(i) * 24 * time.Hour), Open: open, High: high, Low: low, Close: close, Volume: 1000 + rand.Float64()*500}
		walk = close
	}
	return Chart{AssetID: assetID, Interval: interval, Candles: candles}, nil
}

func (s *Simulator) GetCashBalance(ctx context.Context, _ string) (CashBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CashBalance{Currency: "KRW", Available: s.cashBalance, OrderableCash: s.cashBalance}, nil
}

func (s *Simulator) GetAccountBalance(ctx context.Context, _ string) (AccountBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	holdings := make([]Holding, 0, len(s.holdings))
	equity := s.cashBalance
	for _, h := range s.holdings {
		h.CurrentPrice = s.prices[h.AssetID]
		holdings = append(holdings, h)
		equity += h.Quantity * h.CurrentPrice
	}
	return AccountBalance{
		CashBalance: CashBalance{Currency: "KRW", Available: s.cashBalance, OrderableCash: s.cashBalance},
		Holdings:    holdings,
		TotalEquity: equity,
	}, nil
}

func (s *Simulator) GetPendingOrders(ctx context.Context, _ string) ([]PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOrder, 0, len(s.pendingOrders))
	for _, o := range s.pendingOrders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *Simulator) GetFilledOrders(ctx context.Context, _ string, since time.Time) ([]FilledOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FilledOrder, 0)
	for _, f := range s.filledOrders {
		if f.FilledAt.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Simulator) PlaceBuy(ctx context.Context, tok string, req PlaceOrderRequest) (OrderResult, error) {
	return s.placeOrder(ctx, req)
}

func (s *Simulator) PlaceSell(ctx context.Context, tok string, req PlaceOrderRequest) (OrderResult, error) {
	return s.placeOrder(ctx, req)
}

func (s *Simulator) placeOrder(_ context.Context, req PlaceOrderRequest) (OrderResult, error) {
	if req.Quantity <= 0 {
		return OrderResult{}, NewUpstreamError(UpstreamDomain, "quantity must be positive")
	}
	if req.Kind == KindLimit && req.Price <= 0 {
		return OrderResult{}, NewUpstreamError(UpstreamDomain, "limit orders require a positive price")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mid, ok := s.prices[req.AssetID]
	if !ok {
		return OrderResult{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("unknown asset %s", req.AssetID))
	}

	orderID := uuid.New().String()

	if req.Kind == KindLimit {
		s.pendingOrders[orderID] = &PendingOrder{
			OrderID: orderID, AssetID: req.AssetID, Side: req.Side, Kind: req.Kind,
			Price: req.Price, Quantity: req.Quantity, Status: StatusOpen, PlacedAt: time.Now(),
		}
		return OrderResult{OrderID: orderID, Status: StatusOpen, Message: "limit order resting"}, nil
	}

	fillPrice := s.fillPrice(req.Side, req.Quantity, mid)
	notional := fillPrice * req.Quantity
	fee := notional * s.cfg.Taker

	if req.Side == SideBuy {
		cost := notional + fee
		if cost > s.cashBalance {
			return OrderResult{OrderID: orderID, Status: StatusRejected, Message: "insufficient cash"},
				NewUpstreamError(UpstreamDomain, "insufficient cash balance")
		}
		s.cashBalance -= cost
		h := s.holdings[req.AssetID]
		totalQty := h.Quantity + req.Quantity
		h.AverageCost = (h.AverageCost*h.Quantity + fillPrice*req.Quantity) / totalQty
		h.Quantity = totalQty
		h.AssetID = req.AssetID
		s.holdings[req.AssetID] = h
	} else {
		h, held := s.holdings[req.AssetID]
		if !held || h.Quantity < req.Quantity {
			return OrderResult{OrderID: orderID, Status: StatusRejected, Message: "position not held"},
				NewUpstreamError(UpstreamDomain, "insufficient position to sell")
		}
		h.Quantity -= req.Quantity
		if h.Quantity <= 0 {
			delete(s.holdings, req.AssetID)
		} else {
			s.holdings[req.AssetID] = h
		}
		s.cashBalance += notional - fee
	}

	now := time.Now()
	s.filledOrders = append(s.filledOrders, FilledOrder{
		OrderID: orderID, AssetID: req.AssetID, Side: req.Side, Quantity: req.Quantity,
		AvgFillPrice: fillPrice, Fee: fee, FilledAt: now,
	})

	return OrderResult{OrderID: orderID, Status: StatusFilled, FilledQty: req.Quantity, AvgFillPrice: fillPrice, Fee: fee}, nil
}

// fillPrice applies size-scaled slippage: a base slippage plus a
// market-impact term proportional to notional size, capped at
// MaxSlippage, against the bid for sells and the ask for buys.
func (s *Simulator) fillPrice(side Side, quantity, mid float64) float64 {
	notional := quantity * mid
	impact := s.cfg.MarketImpact * (notional / 1_000_000)
	slippage := s.cfg.BaseSlippage + impact
	if slippage > s.cfg.MaxSlippage {
		slippage = s.cfg.MaxSlippage
	}
	if side == SideBuy {
		return mid * (1 + slippage)
	}
	return mid * (1 - slippage)
}

func (s *Simulator) Modify(ctx context.Context, _ string, req ModifyOrderRequest) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.pendingOrders[req.OrderID]
	if !ok {
		return OrderResult{}, NewUpstreamError(UpstreamDomain, "order not found")
	}
	o.Price = req.Price
	o.Quantity = req.Quantity
	return OrderResult{OrderID: o.OrderID, Status: o.Status}, nil
}

func (s *Simulator) Cancel(ctx context.Context, _ string, orderID string) (OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.pendingOrders[orderID]
	if !ok {
		return OrderResult{}, NewUpstreamError(UpstreamDomain, "order not found")
	}
	delete(s.pendingOrders, orderID)
	return OrderResult{OrderID: o.OrderID, Status: StatusCancelled}, nil
}
