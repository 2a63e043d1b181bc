// Package coordinator owns TradingState: mode, account snapshot,
// positions, queue, watch list, activity log, and pending alerts.
// It is the only component allowed to mutate a Position,
// and the only one that calls PortfolioAgent/OrderAgent together, so
// those two packages' outputs are always reconciled against one
// authoritative book.
//
// One owner of shared mutable trading state, guarded by one mutex, with
// serialized entry points. The entry points are direct method calls, not
// message-bus events, so no broker sits between the components.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/audit"
	"github.com/yoonsoo-han/autotrader/internal/exchange"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
	"github.com/yoonsoo-han/autotrader/internal/orderagent"
	"github.com/yoonsoo-han/autotrader/internal/pipeline"
	"github.com/yoonsoo-han/autotrader/internal/portfolio"
	"github.com/yoonsoo-han/autotrader/internal/riskmonitor"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// TradingMode is the Coordinator's own lifecycle mode,
// distinct from riskmonitor.Mode which only tracks the monitor loop.
type TradingMode string

const (
	ModeStopped TradingMode = "stopped"
	ModeActive  TradingMode = "active"
	ModePaused  TradingMode = "paused"
)

// Store is the opaque persistence collaborator. The Coordinator reads/writes
// through this narrow interface and never assumes a particular backing
// database; internal/db.Store is the pgx-backed implementation wired in by
// cmd/coordinator when a DSN is configured. A nil Store keeps everything
// in-memory.
type Store interface {
	SavePosition(ctx context.Context, p types.Position) error
	DeletePosition(ctx context.Context, assetID string) error
	SaveQueuedTrade(ctx context.Context, q types.QueuedTrade) error
	SaveWatchedStock(ctx context.Context, w types.WatchedStock) error
	SaveTrade(ctx context.Context, t types.Trade) error
}

// Notifier is the opaque outbound-alert collaborator;
// alerts.SessionNotifier or api.Hub can back this.
type Notifier interface {
	Notify(ctx context.Context, alert types.Alert) error
}

// MarketHours reports whether assetID's home market is open at t. Backed
// by holiday.Calendar for KRW-stock assets in production; crypto
// assets never consult it (IsCrypto routes around the gate).
type MarketHours interface {
	IsMarketOpen(t time.Time) bool
}

// TradingState is the data TradingState owns. Exported
// fields are read-only outside this package; mutation always goes through
// a Coordinator method so the mutex and invariants stay intact.
type TradingState struct {
	Mode            TradingMode
	Account         exchange.AccountBalance
	Positions       map[string]*types.Position
	Queue           []types.QueuedTrade
	WatchList       map[string]*types.WatchedStock
	ActivityLog     []string
	PendingAlerts   map[string]*types.Alert
	DailyTradeCount int
	dailyCountDate  time.Time
}

// Deps bundles the Coordinator's collaborators.
type Deps struct {
	Exchange       exchange.Client
	Orders         *orderagent.Agent
	Monitor        *riskmonitor.Monitor
	Limits         portfolio.Limits
	MaxDailyTrades int
	Store          Store         // optional; nil is valid, mutations are then in-memory only
	Notifier       Notifier      // optional
	Audit          *audit.Logger // optional; nil disables audit trail
	Log            zerolog.Logger

	// MarketHours gates order submission for KRW-stock assets (the
	// "market closed" scenario). Nil means every asset is always tradeable
	// (suitable for a crypto-only deployment).
	MarketHours MarketHours
	// IsCrypto classifies an asset id so MarketHours is only consulted
	// for stock assets. Nil treats every asset as a stock, so MarketHours
	// (when set) is consulted for all of them, matching the stock-only
	// default.
	IsCrypto func(assetID string) bool
}

// Coordinator serializes all mutation of TradingState behind one mutex.
type Coordinator struct {
	mu    sync.Mutex
	state TradingState
	deps  Deps
}

// New constructs a Coordinator in the stopped mode.
func New(deps Deps) *Coordinator {
	return &Coordinator{
		state: TradingState{
			Mode:          ModeStopped,
			Positions:     make(map[string]*types.Position),
			WatchList:     make(map[string]*types.WatchedStock),
			PendingAlerts: make(map[string]*types.Alert),
		},
		deps: deps,
	}
}

// Snapshot returns a shallow copy of the current TradingState for
// read-only callers (an API handler rendering a dashboard, say).
func (c *Coordinator) Snapshot() TradingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start refreshes the account snapshot, starts RiskMonitor, and
// transitions to active mode.
func (c *Coordinator) Start(ctx context.Context) error {
	bal, err := c.deps.Exchange.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("start: refresh account snapshot: %w", err)
	}

	c.mu.Lock()
	c.state.Account = bal
	c.state.Mode = ModeActive
	c.log("trading started")
	c.mu.Unlock()

	if c.deps.Monitor != nil {
		c.deps.Monitor.Start(ctx)
		c.deps.Monitor.Resume()
	}
	return nil
}

// Stop tears down RiskMonitor and transitions to stopped.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.state.Mode = ModeStopped
	c.log("trading stopped")
	c.mu.Unlock()

	if c.deps.Monitor != nil {
		c.deps.Monitor.Stop()
	}
}

// Pause transitions to paused without tearing down the monitor (it keeps
// ticking so sudden-move detection still works while paused).
func (c *Coordinator) Pause(reason string) {
	c.mu.Lock()
	c.state.Mode = ModePaused
	c.log("trading paused: " + reason)
	c.mu.Unlock()

	if c.deps.Monitor != nil {
		c.deps.Monitor.Pause(reason)
	}
}

// Resume transitions back to active.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.state.Mode = ModeActive
	c.log("trading resumed")
	c.mu.Unlock()

	if c.deps.Monitor != nil {
		c.deps.Monitor.Resume()
	}
}

// log appends to the activity log. Caller must hold c.mu.
func (c *Coordinator) log(line string) {
	c.state.ActivityLog = append(c.state.ActivityLog, time.Now().Format(time.RFC3339)+" "+line)
	if len(c.state.ActivityLog) > 500 {
		c.state.ActivityLog = c.state.ActivityLog[len(c.state.ActivityLog)-500:]
	}
}

// resetDailyCountIfNeeded resets DailyTradeCount at local midnight.
// Caller must hold c.mu.
func (c *Coordinator) resetDailyCountIfNeeded() {
	now := time.Now()
	if c.state.dailyCountDate.IsZero() || now.YearDay() != c.state.dailyCountDate.YearDay() || now.Year() != c.state.dailyCountDate.Year() {
		c.state.DailyTradeCount = 0
		c.state.dailyCountDate = now
	}
}

// OnTradeApproved runs PortfolioAgent, executes
// any rebalance sells first, then the primary order; on a successful buy
// creates or merges a Position and hands it to RiskMonitor.
func (c *Coordinator) OnTradeApproved(ctx context.Context, proposal types.TradeProposal, quantityOverride *float64) (portfolio.AllocationPlan, error) {
	return c.onTradeApproved(ctx, proposal, quantityOverride, true)
}

// onTradeApproved is OnTradeApproved's implementation. allowEnqueue is
// false when called from DrainQueue: a still-closed market there must
// not spawn a second QueuedTrade on top of the one already being
// drained, it just leaves the existing entry pending.
func (c *Coordinator) onTradeApproved(ctx context.Context, proposal types.TradeProposal, quantityOverride *float64, allowEnqueue bool) (portfolio.AllocationPlan, error) {
	c.mu.Lock()
	c.resetDailyCountIfNeeded()
	if c.state.Mode != ModeActive {
		plan := portfolio.AllocationPlan{Rationale: fmt.Sprintf("trading mode is %s, not active", c.state.Mode)}
		c.mu.Unlock()
		return plan, nil
	}
	if c.state.DailyTradeCount >= c.deps.MaxDailyTrades {
		plan := portfolio.AllocationPlan{Rationale: "daily trade limit reached"}
		c.mu.Unlock()
		return plan, nil
	}
	if c.deps.MarketHours != nil && !c.isCrypto(proposal.AssetID) && !c.deps.MarketHours.IsMarketOpen(time.Now()) {
		c.mu.Unlock()
		if allowEnqueue {
			c.EnqueueTrade(ctx, types.QueuedTrade{Proposal: proposal, Reason: "market closed at approval time"})
		}
		return portfolio.AllocationPlan{Rationale: "market closed, trade queued for next session"}, nil
	}

	account := portfolio.AccountSnapshot{
		Equity:            c.state.Account.TotalEquity,
		AvailableCash:     c.state.Account.CashBalance.Available,
		CurrentStockValue: c.currentStockValueLocked(),
	}
	existing := c.state.Positions[proposal.AssetID]
	var existingCopy *types.Position
	if existing != nil {
		cp := *existing
		existingCopy = &cp
	}
	others := make([]types.Position, 0, len(c.state.Positions))
	for id, p := range c.state.Positions {
		if id == proposal.AssetID {
			continue
		}
		others = append(others, *p)
	}
	c.mu.Unlock()

	plan := portfolio.CalculateAllocation(
		account, c.deps.Limits, proposal.Action, proposal.AssetID, proposal.EntryPrice,
		proposal.RiskScore*10, existingCopy, others, proposal.StopLoss, proposal.TakeProfit,
	)
	if quantityOverride != nil {
		plan.Quantity = *quantityOverride
	}
	if plan.Quantity <= 0 {
		return plan, nil
	}

	for _, rb := range plan.RebalanceOrders {
		c.executeSell(ctx, rb.AssetID, rb.Quantity, rb.Reason)
	}

	side := exchange.SideBuy
	if proposal.Action == types.ActionSell || proposal.Action == types.ActionReduce {
		side = exchange.SideSell
	}

	res := c.deps.Orders.ExecuteOrder(ctx, exchange.PlaceOrderRequest{
		AssetID:  proposal.AssetID,
		Side:     side,
		Kind:     exchange.KindMarket,
		Quantity: plan.Quantity,
	}, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if res.FilledQuantity > 0 {
		c.state.DailyTradeCount++
	}

	switch side {
	case exchange.SideBuy:
		if res.FilledQuantity > 0 {
			c.mergePositionLocked(proposal, res)
			c.persistPositionLocked(ctx, proposal.AssetID)
		}
	case exchange.SideSell:
		c.applySellLocked(proposal.AssetID, res)
		c.persistPositionLocked(ctx, proposal.AssetID)
	}

	c.log(fmt.Sprintf("trade approved: %s %s qty=%.4f filled=%.4f status=%s", proposal.AssetID, side, plan.Quantity, res.FilledQuantity, res.Status))
	c.auditOrder(ctx, proposal.AssetID, side, res.FilledQuantity > 0)
	c.recordTrade(ctx, proposal.SessionID, proposal.AssetID, side, proposal.EntryPrice, plan.Quantity, res)
	return plan, nil
}

// recordTrade persists one executed (or rejected) order as a Trade row.
// Skipped when no Store is wired; in-memory deployments keep only the
// activity log.
func (c *Coordinator) recordTrade(ctx context.Context, sessionID, assetID string, side exchange.Side, requestedPrice, requestedQty float64, res orderagent.OrderResult) {
	if c.deps.Store == nil {
		return
	}
	var fee float64
	upstreamID := ""
	for _, sub := range res.SubOrderResults {
		fee += sub.Fee
		if upstreamID == "" {
			upstreamID = sub.OrderID
		}
	}
	t := types.Trade{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		AssetID:           assetID,
		Side:              string(side),
		OrderType:         string(exchange.KindMarket),
		RequestedPrice:    requestedPrice,
		ExecutedPrice:     res.AvgPrice,
		RequestedQuantity: requestedQty,
		ExecutedQuantity:  res.FilledQuantity,
		Fee:               fee,
		TotalValue:        res.FilledQuantity * res.AvgPrice,
		State:             tradeState(res),
		UpstreamOrderID:   upstreamID,
		CreatedAt:         time.Now(),
	}
	if err := c.deps.Store.SaveTrade(ctx, t); err != nil {
		c.deps.Log.Warn().Err(err).Str("asset_id", assetID).Msg("failed to persist trade")
	}
}

func tradeState(res orderagent.OrderResult) types.TradeState {
	switch res.Status {
	case orderagent.StatusFilled:
		return types.TradeFilled
	case orderagent.StatusPartial:
		return types.TradePartial
	case orderagent.StatusRejected:
		return types.TradeRejected
	case orderagent.StatusCancelled:
		return types.TradeCancelled
	default:
		return types.TradeSubmitted
	}
}

// auditOrder records a trade execution to the audit trail. A nil
// Deps.Audit (the default for an in-memory/simulator deployment) makes
// this a no-op.
func (c *Coordinator) auditOrder(ctx context.Context, assetID string, side exchange.Side, filled bool) {
	if c.deps.Audit == nil {
		return
	}
	eventType := audit.EventTypeOrderPlaced
	if !filled {
		eventType = audit.EventTypeOrderCanceled
	}
	_ = c.deps.Audit.LogOrderAction(ctx, eventType, "coordinator", "", assetID, map[string]interface{}{"side": string(side)}, filled, "")
}

// persistPositionLocked writes the current state of assetID's position
// through Store (saving it, or deleting it if the position was fully
// closed). A nil Store is valid: the Coordinator then keeps positions
// in-memory only. Caller must hold c.mu.
func (c *Coordinator) persistPositionLocked(ctx context.Context, assetID string) {
	if c.deps.Store == nil {
		return
	}
	if p, ok := c.state.Positions[assetID]; ok {
		if err := c.deps.Store.SavePosition(ctx, *p); err != nil {
			c.deps.Log.Warn().Err(err).Str("asset_id", assetID).Msg("failed to persist position")
		}
		return
	}
	if err := c.deps.Store.DeletePosition(ctx, assetID); err != nil {
		c.deps.Log.Warn().Err(err).Str("asset_id", assetID).Msg("failed to delete persisted position")
	}
}

func (c *Coordinator) currentStockValueLocked() float64 {
	var total float64
	for _, p := range c.state.Positions {
		total += p.MarketValue()
	}
	return total
}

// mergePositionLocked creates a new Position or merges into an existing
// one (weighted-average cost on repeated buys). Caller must hold c.mu.
func (c *Coordinator) mergePositionLocked(proposal types.TradeProposal, res orderagent.OrderResult) {
	existing := c.state.Positions[proposal.AssetID]
	now := time.Now()

	if existing == nil {
		p := &types.Position{
			AssetID:      proposal.AssetID,
			Quantity:     res.FilledQuantity,
			AvgCost:      res.AvgPrice,
			CurrentPrice: res.AvgPrice,
			StopLoss:     proposal.StopLoss,
			TakeProfit:   proposal.TakeProfit,
			StopLossMode: types.StopLossUserApproval,
			Status:       types.PositionFilled,
			RiskScore:    proposal.RiskScore,
			OpenedAt:     now,
			UpdatedAt:    now,
		}
		if res.FilledQuantity < plannedQuantityFallback(proposal) {
			p.Status = types.PositionPartial
		}
		c.state.Positions[proposal.AssetID] = p
		if c.deps.Monitor != nil {
			c.watchPositionLocked(p)
		}
		return
	}

	totalQty := existing.Quantity + res.FilledQuantity
	weightedCost := existing.AvgCost*existing.Quantity + res.AvgPrice*res.FilledQuantity
	existing.AvgCost = weightedCost / totalQty
	existing.Quantity = totalQty
	existing.CurrentPrice = res.AvgPrice
	existing.UpdatedAt = now
	if proposal.StopLoss != nil {
		existing.StopLoss = proposal.StopLoss
	}
	if proposal.TakeProfit != nil {
		existing.TakeProfit = proposal.TakeProfit
	}
	if c.deps.Monitor != nil {
		c.watchPositionLocked(existing)
	}
}

func plannedQuantityFallback(proposal types.TradeProposal) float64 {
	return proposal.Quantity
}

func (c *Coordinator) watchPositionLocked(p *types.Position) {
	entry := riskmonitor.WatchEntry{
		AssetID:      p.AssetID,
		EntryPrice:   p.AvgCost,
		Quantity:     p.Quantity,
		StopLossMode: p.StopLossMode,
	}
	if p.StopLoss != nil {
		entry.StopLoss = *p.StopLoss
	}
	if p.TakeProfit != nil {
		entry.TakeProfit = *p.TakeProfit
	}
	c.deps.Monitor.Watch(entry)
}

func (c *Coordinator) applySellLocked(assetID string, res orderagent.OrderResult) {
	p := c.state.Positions[assetID]
	if p == nil {
		return
	}
	if res.FilledQuantity > 0 {
		metrics.RecordTrade((res.AvgPrice - p.AvgCost) * res.FilledQuantity)
	}
	p.Quantity -= res.FilledQuantity
	if p.Quantity <= 0 {
		delete(c.state.Positions, assetID)
		if c.deps.Monitor != nil {
			c.deps.Monitor.Unwatch(assetID)
		}
		return
	}
	p.Status = types.PositionPartial
	p.UpdatedAt = time.Now()
}

// executeSell places a market sell for a rebalance order and applies the
// result to the position book.
func (c *Coordinator) executeSell(ctx context.Context, assetID string, quantity float64, reason string) {
	res := c.deps.Orders.ExecuteOrder(ctx, exchange.PlaceOrderRequest{
		AssetID:  assetID,
		Side:     exchange.SideSell,
		Kind:     exchange.KindMarket,
		Quantity: quantity,
	}, true)

	c.mu.Lock()
	defer c.mu.Unlock()
	if res.FilledQuantity > 0 {
		c.state.DailyTradeCount++
	}
	c.applySellLocked(assetID, res)
	c.persistPositionLocked(ctx, assetID)
	c.log(fmt.Sprintf("rebalance sell: %s qty=%.4f filled=%.4f (%s)", assetID, quantity, res.FilledQuantity, reason))
	c.recordTrade(ctx, "", assetID, exchange.SideSell, 0, quantity, res)
}

// HandleAlertAction dispatches a user decision on a pending alert.
func (c *Coordinator) HandleAlertAction(ctx context.Context, alertID string, action types.AlertAction, data map[string]any) error {
	c.mu.Lock()
	alert, ok := c.state.PendingAlerts[alertID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: unknown alert %s", alertID)
	}

	switch action {
	case types.ActionResume:
		c.Resume()
	case types.ActionClosePosition:
		c.closePosition(ctx, alert.AssetID, "user requested close-position")
	case types.ActionAdjustStopLoss:
		if c.deps.Monitor != nil {
			if sl, ok := data["stop_loss"].(float64); ok {
				c.deps.Monitor.AdjustStopLoss(alert.AssetID, sl)
			}
		}
		c.adjustPositionStopLoss(alert.AssetID, data)
	case types.ActionExecuteStopLoss, types.ActionExecuteTakeProfit:
		reason := "stop-loss executed by user"
		if action == types.ActionExecuteTakeProfit {
			reason = "take-profit executed by user"
		}
		c.closePosition(ctx, alert.AssetID, reason)
	case types.AlertActionHold:
		// no-op
	}

	c.mu.Lock()
	alert.Acknowledged = true
	alert.Resolved = true
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) adjustPositionStopLoss(assetID string, data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.state.Positions[assetID]
	if p == nil {
		return
	}
	if sl, ok := data["stop_loss"].(float64); ok {
		p.StopLoss = &sl
	}
}

func (c *Coordinator) closePosition(ctx context.Context, assetID, reason string) {
	c.mu.Lock()
	p := c.state.Positions[assetID]
	c.mu.Unlock()
	if p == nil {
		return
	}
	c.executeSell(ctx, assetID, p.Quantity, reason)
}

// RegisterAlert is called by whatever AlertSender callback the Coordinator
// wires into its RiskMonitor, so pending alerts stay queryable and
// resolvable via HandleAlertAction.
func (c *Coordinator) RegisterAlert(alert types.Alert) {
	c.mu.Lock()
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	c.state.PendingAlerts[alert.ID] = &alert
	c.mu.Unlock()

	if c.deps.Notifier != nil {
		_ = c.deps.Notifier.Notify(context.Background(), alert)
	}
}

// AutoSell is the AutoSeller callback wired into RiskMonitor for auto
// stop-loss-mode positions.
func (c *Coordinator) AutoSell(ctx context.Context, assetID string, quantity float64, reason string) {
	c.executeSell(ctx, assetID, quantity, "auto: "+reason)
}

// WatchAsset records a watch/avoid recommendation from the pipeline.
func (c *Coordinator) WatchAsset(ctx context.Context, w types.WatchedStock) {
	c.mu.Lock()
	c.state.WatchList[w.AssetID] = &w
	c.mu.Unlock()

	if c.deps.Store != nil {
		if err := c.deps.Store.SaveWatchedStock(ctx, w); err != nil {
			c.deps.Log.Warn().Err(err).Str("asset_id", w.AssetID).Msg("failed to persist watched stock")
		}
	}
}

// isCrypto reports whether assetID is a crypto asset per Deps.IsCrypto. A
// nil classifier treats every asset as subject to the market-hours gate.
func (c *Coordinator) isCrypto(assetID string) bool {
	if c.deps.IsCrypto == nil {
		return false
	}
	return c.deps.IsCrypto(assetID)
}

// EnqueueTrade defers an approved proposal (e.g. the market was closed at
// approval time) until it can be retried.
func (c *Coordinator) EnqueueTrade(ctx context.Context, q types.QueuedTrade) {
	c.mu.Lock()
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	q.Status = types.QueuePending
	now := time.Now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	c.state.Queue = append(c.state.Queue, q)
	c.mu.Unlock()

	if c.deps.Store != nil {
		if err := c.deps.Store.SaveQueuedTrade(ctx, q); err != nil {
			c.deps.Log.Warn().Err(err).Str("asset_id", q.Proposal.AssetID).Msg("failed to persist queued trade")
		}
	}
}

// StartPipelineSession starts a fresh Pipeline run for assetID, looking
// up any existing position to pass as pipeline context.
func (c *Coordinator) StartPipelineSession(ctx context.Context, p *pipeline.Pipeline, s *types.Session) error {
	c.mu.Lock()
	existing := c.state.Positions[s.AssetID]
	var existingCopy *types.Position
	if existing != nil {
		cp := *existing
		existingCopy = &cp
	}
	c.mu.Unlock()
	return p.Start(ctx, s, existingCopy)
}

// ReanalyzeSession re-runs s through the pipeline's reject edge (the
// approval stage's rejected -> re-analyze transition), looking up any
// existing position the same way StartPipelineSession does.
func (c *Coordinator) ReanalyzeSession(ctx context.Context, p *pipeline.Pipeline, s *types.Session) error {
	c.mu.Lock()
	existing := c.state.Positions[s.AssetID]
	var existingCopy *types.Position
	if existing != nil {
		cp := *existing
		existingCopy = &cp
	}
	c.mu.Unlock()
	return p.Reanalyze(ctx, s, existingCopy)
}

// DrainQueue processes every QueuedTrade in FIFO order by re-entering it
// through OnTradeApproved ("on drain, each entry
// re-enters on_trade_approved"). Call this on a market-open transition
// (or any time it's safe for queued orders to execute again); entries
// that are still gated (e.g. the market is still closed, or an earlier
// entry in the same batch exhausted the daily trade limit) are left
// pending and retried on the next drain.
func (c *Coordinator) DrainQueue(ctx context.Context) {
	c.mu.Lock()
	pending := make([]types.QueuedTrade, 0, len(c.state.Queue))
	for _, q := range c.state.Queue {
		if q.Status == types.QueuePending {
			pending = append(pending, q)
		}
	}
	c.mu.Unlock()

	for _, q := range pending {
		c.mu.Lock()
		c.markQueueStatusLocked(q.ID, types.QueueProcessing, "")
		c.mu.Unlock()

		plan, err := c.onTradeApproved(ctx, q.Proposal, nil, false)
		switch {
		case err != nil:
			c.mu.Lock()
			c.markQueueStatusLocked(q.ID, types.QueueFailed, err.Error())
			c.mu.Unlock()
		case plan.Quantity <= 0:
			// Still gated (market closed again, mode inactive, daily
			// limit reached) -- leave it pending for the next drain.
			c.mu.Lock()
			c.markQueueStatusLocked(q.ID, types.QueuePending, plan.Rationale)
			c.mu.Unlock()
		default:
			c.mu.Lock()
			c.markQueueStatusLocked(q.ID, types.QueueCompleted, "")
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	remaining := make([]types.QueuedTrade, 0, len(c.state.Queue))
	for _, q := range c.state.Queue {
		if q.Status == types.QueuePending {
			remaining = append(remaining, q)
		}
	}
	c.state.Queue = remaining
	c.mu.Unlock()
}

// markQueueStatusLocked updates the in-memory and (if Store is wired)
// persisted status of a queued trade. Caller must hold c.mu.
func (c *Coordinator) markQueueStatusLocked(id string, status types.QueueStatus, reason string) {
	for i := range c.state.Queue {
		if c.state.Queue[i].ID == id {
			c.state.Queue[i].Status = status
			if reason != "" {
				c.state.Queue[i].Reason = reason
			}
			c.state.Queue[i].UpdatedAt = time.Now()
			if c.deps.Store != nil {
				_ = c.deps.Store.SaveQueuedTrade(context.Background(), c.state.Queue[i])
			}
			return
		}
	}
}
