package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
)

// BinanceConfig holds the credentials and the testnet switch for a live
// Binance adapter.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	Testnet   bool
}

// BinanceAdapter is the live-trading Adapter for crypto assets: a thin
// translation layer between exchange.Client's domain types and the
// go-binance/v2 spot REST client. It holds no order book of its own --
// PendingOrder/FilledOrder views are always re-queried from Binance, so
// there's nothing to reconcile after a restart.
type BinanceAdapter struct {
	client *binance.Client
	log    zerolog.Logger
}

// NewBinanceAdapter constructs a BinanceAdapter. Testnet routes every
// request at the shared binance.Client package level, matching how the
// go-binance SDK itself scopes the flag.
func NewBinanceAdapter(cfg BinanceConfig, log zerolog.Logger) *BinanceAdapter {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	return &BinanceAdapter{
		client: binance.NewClient(cfg.APIKey, cfg.SecretKey),
		log:    log.With().Str("component", "exchange_binance").Logger(),
	}
}

// IssueToken has no real token to refresh -- Binance authenticates every
// REST call with an HMAC signature derived from the API/secret key pair
// baked into the client at construction. The wrapper still calls this on
// its normal schedule, so it returns a long-lived placeholder value.
func (b *BinanceAdapter) IssueToken(ctx context.Context) (string, time.Duration, error) {
	return "binance-hmac", 24 * time.Hour, nil
}

func (b *BinanceAdapter) GetAsset(ctx context.Context, _ string, assetID string) (Asset, error) {
	prices, err := b.client.NewListPricesService().Symbol(assetID).Do(ctx)
	if err != nil {
		return Asset{}, b.classify(err)
	}
	if len(prices) == 0 {
		return Asset{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("unknown symbol %s", assetID))
	}
	last, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return Asset{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("bad price for %s: %v", assetID, err))
	}

	stats, err := b.client.NewListPriceChangeStatsService().Symbol(assetID).Do(ctx)
	if err != nil || len(stats) == 0 {
		return Asset{ID: assetID, Name: assetID, LastPrice: last}, nil
	}
	changePct, _ := strconv.ParseFloat(stats[0].PriceChangePercent, 64)
	volume, _ := strconv.ParseFloat(stats[0].Volume, 64)
	return Asset{ID: assetID, Name: assetID, LastPrice: last, Change24hPct: changePct, Volume24h: volume}, nil
}

func (b *BinanceAdapter) GetOrderBook(ctx context.Context, _ string, assetID string) (OrderBook, error) {
	depth, err := b.client.NewDepthService().Symbol(assetID).Limit(20).Do(ctx)
	if err != nil {
		return OrderBook{}, b.classify(err)
	}
	return OrderBook{
		AssetID: assetID,
		Bids:    levelsFromBinance(depth.Bids),
		Asks:    levelsFromBinance(depth.Asks),
		AsOf:    time.Now(),
	}, nil
}

func levelsFromBinance(side []binance.Bid) []OrderBookLevel {
	out := make([]OrderBookLevel, 0, len(side))
	for _, lvl := range side {
		price, _ := strconv.ParseFloat(lvl.Price, 64)
		qty, _ := strconv.ParseFloat(lvl.Quantity, 64)
		out = append(out, OrderBookLevel{Price: price, Quantity: qty})
	}
	return out
}

func (b *BinanceAdapter) GetChart(ctx context.Context, _ string, assetID, interval string, limit int) (Chart, error) {
	if limit <= 0 {
		limit = 100
	}
	klines, err := b.client.NewKlinesService().Symbol(assetID).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return Chart{}, b.classify(err)
	}
	candles := make([]Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		close, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)
		candles = append(candles, Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			Open:     open, High: high, Low: low, Close: close, Volume: volume,
		})
	}
	return Chart{AssetID: assetID, Interval: interval, Candles: candles}, nil
}

func (b *BinanceAdapter) GetCashBalance(ctx context.Context, _ string) (CashBalance, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return CashBalance{}, b.classify(err)
	}
	for _, bal := range acct.Balances {
		if bal.Asset == "USDT" {
			free, _ := strconv.ParseFloat(bal.Free, 64)
			return CashBalance{Currency: "USDT", Available: free, OrderableCash: free}, nil
		}
	}
	return CashBalance{Currency: "USDT"}, nil
}

func (b *BinanceAdapter) GetAccountBalance(ctx context.Context, _ string) (AccountBalance, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return AccountBalance{}, b.classify(err)
	}

	cash := CashBalance{Currency: "USDT"}
	holdings := make([]Holding, 0, len(acct.Balances))
	equity := 0.0
	for _, bal := range acct.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		total := free + locked
		if total <= 0 {
			continue
		}
		if bal.Asset == "USDT" {
			cash = CashBalance{Currency: "USDT", Available: free, OrderableCash: free}
			equity += total
			continue
		}
		holdings = append(holdings, Holding{AssetID: bal.Asset, Quantity: total})
	}
	return AccountBalance{CashBalance: cash, Holdings: holdings, TotalEquity: equity}, nil
}

func (b *BinanceAdapter) GetPendingOrders(ctx context.Context, _ string) ([]PendingOrder, error) {
	orders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, b.classify(err)
	}
	out := make([]PendingOrder, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
		out = append(out, PendingOrder{
			OrderID:   strconv.FormatInt(o.OrderID, 10),
			AssetID:   o.Symbol,
			Side:      sideFromBinance(o.Side),
			Kind:      kindFromBinance(o.Type),
			Price:     price,
			Quantity:  qty,
			FilledQty: filled,
			Status:    statusFromBinance(o.Status),
			PlacedAt:  time.UnixMilli(o.Time),
		})
	}
	return out, nil
}

func (b *BinanceAdapter) GetFilledOrders(ctx context.Context, _ string, since time.Time) ([]FilledOrder, error) {
	trades, err := b.client.NewListTradesService().StartTime(since.UnixMilli()).Do(ctx)
	if err != nil {
		return nil, b.classify(err)
	}
	out := make([]FilledOrder, 0, len(trades))
	for _, t := range trades {
		qty, _ := strconv.ParseFloat(t.Quantity, 64)
		price, _ := strconv.ParseFloat(t.Price, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		side := SideBuy
		if !t.IsBuyer {
			side = SideSell
		}
		out = append(out, FilledOrder{
			OrderID:      strconv.FormatInt(t.OrderID, 10),
			AssetID:      t.Symbol,
			Side:         side,
			Quantity:     qty,
			AvgFillPrice: price,
			Fee:          fee,
			FilledAt:     time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func (b *BinanceAdapter) PlaceBuy(ctx context.Context, tok string, req PlaceOrderRequest) (OrderResult, error) {
	return b.placeOrder(ctx, binance.SideTypeBuy, req)
}

func (b *BinanceAdapter) PlaceSell(ctx context.Context, tok string, req PlaceOrderRequest) (OrderResult, error) {
	return b.placeOrder(ctx, binance.SideTypeSell, req)
}

func (b *BinanceAdapter) placeOrder(ctx context.Context, side binance.SideType, req PlaceOrderRequest) (OrderResult, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.AssetID).
		Side(side).
		Quantity(fmt.Sprintf("%.8f", req.Quantity))

	if req.Kind == KindLimit {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(fmt.Sprintf("%.8f", req.Price))
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		b.log.Warn().Err(err).Str("asset_id", req.AssetID).Str("side", string(req.Side)).Msg("binance order placement failed")
		return OrderResult{Status: StatusRejected, Message: err.Error()}, b.classify(err)
	}

	filled, avg := fillSummary(resp.Fills)
	return OrderResult{
		OrderID:      strconv.FormatInt(resp.OrderID, 10),
		Status:       statusFromBinance(resp.Status),
		FilledQty:    filled,
		AvgFillPrice: avg,
	}, nil
}

func fillSummary(fills []*binance.Fill) (filled, avgPrice float64) {
	var notional float64
	for _, f := range fills {
		qty, _ := strconv.ParseFloat(f.Quantity, 64)
		price, _ := strconv.ParseFloat(f.Price, 64)
		filled += qty
		notional += qty * price
	}
	if filled > 0 {
		avgPrice = notional / filled
	}
	return filled, avgPrice
}

// Modify has no native Binance equivalent; spot orders are replaced via
// cancel-then-recreate, which the Coordinator already drives as two
// separate calls, so this only cancels the resting order.
func (b *BinanceAdapter) Modify(ctx context.Context, _ string, req ModifyOrderRequest) (OrderResult, error) {
	return b.Cancel(ctx, "", req.OrderID)
}

func (b *BinanceAdapter) Cancel(ctx context.Context, _ string, orderID string) (OrderResult, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return OrderResult{}, NewUpstreamError(UpstreamDomain, fmt.Sprintf("invalid order id %s", orderID))
	}
	resp, err := b.client.NewCancelOrderService().OrderID(id).Do(ctx)
	if err != nil {
		return OrderResult{}, b.classify(err)
	}
	return OrderResult{OrderID: orderID, Status: statusFromBinance(resp.Status)}, nil
}

func (b *BinanceAdapter) classify(err error) error {
	return NewUpstreamError(UpstreamNetwork, err.Error())
}

func sideFromBinance(s binance.SideType) Side {
	if s == binance.SideTypeSell {
		return SideSell
	}
	return SideBuy
}

func kindFromBinance(t binance.OrderType) OrderKind {
	if t == binance.OrderTypeLimit {
		return KindLimit
	}
	return KindMarket
}

func statusFromBinance(s binance.OrderStatusType) OrderStatus {
	switch s {
	case binance.OrderStatusTypeFilled:
		return StatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		return StatusOpen
	case binance.OrderStatusTypeCanceled:
		return StatusCancelled
	case binance.OrderStatusTypeRejected, binance.OrderStatusTypeExpired:
		return StatusRejected
	default:
		return StatusPending
	}
}
