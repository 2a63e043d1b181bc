// Package riskmonitor owns a set of watch-entries and a single
// second-ticking monitor loop that raises sudden-move/stop-loss/
// take-profit alerts and, in auto mode, hands sell requests back to the
// Coordinator.
//
// The monitor owns a single ticker loop with external pause/resume;
// whoever starts it is responsible for stopping it.
package riskmonitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// Mode is the monitor loop's own run state, independent of the
// Coordinator's TradingState.Mode (the monitor can be paused by a
// sudden-move detection without the Coordinator itself stopping).
type Mode string

const (
	ModeActive Mode = "active"
	ModePaused Mode = "paused"
)

// WatchEntry is one position RiskMonitor is watching.
type WatchEntry struct {
	AssetID      string
	EntryPrice   float64
	Quantity     float64
	StopLoss     float64
	TakeProfit   float64
	StopLossMode types.StopLossMode
	LastPrice    float64
}

// PriceFetcher retrieves the current price for an asset. If the price is
// unavailable the tick for that entry is skipped.
type PriceFetcher func(ctx context.Context, assetID string) (float64, bool)

// AlertSender dispatches an Alert asynchronously; RiskMonitor never blocks
// the tick loop waiting for delivery to complete.
type AlertSender func(alert types.Alert)

// AutoSeller is called when stop-loss/take-profit mode is auto and a
// breach fires; it flows back through the Coordinator so the position
// book and trade counters stay authoritative.
type AutoSeller func(ctx context.Context, assetID string, quantity float64, reason string)

// Config bundles RiskMonitor's tunables.
type Config struct {
	TickInterval           time.Duration // default 1s
	SuddenMoveThresholdPct float64       // percentage, e.g. 10.0 for 10% (config range 1.0-30.0)
}

// DefaultConfig returns this package's default tick interval with the given
// sudden-move threshold.
func DefaultConfig(suddenMoveThresholdPct float64) Config {
	return Config{TickInterval: time.Second, SuddenMoveThresholdPct: suddenMoveThresholdPct}
}

// Monitor is the watch-entry set plus the single tick loop.
type Monitor struct {
	cfg      Config
	price    PriceFetcher
	alert    AlertSender
	autoSell AutoSeller
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]*WatchEntry
	mode    Mode

	stop chan struct{}
	done chan struct{}
}

// New constructs a Monitor in paused mode; call Start to begin ticking.
func New(cfg Config, price PriceFetcher, alert AlertSender, autoSell AutoSeller, log zerolog.Logger) *Monitor {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Monitor{
		cfg:      cfg,
		price:    price,
		alert:    alert,
		autoSell: autoSell,
		log:      log,
		entries:  make(map[string]*WatchEntry),
		mode:     ModePaused,
	}
}

// Watch adds or replaces a watch entry.
func (m *Monitor) Watch(e WatchEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.LastPrice == 0 {
		e.LastPrice = e.EntryPrice
	}
	entry := e
	m.entries[e.AssetID] = &entry
}

// Unwatch removes a watch entry (position closed).
func (m *Monitor) Unwatch(assetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, assetID)
}

// AdjustStopLoss mutates a watch entry's stop-loss level (the
// adjust-stop-loss alert action, ).
func (m *Monitor) AdjustStopLoss(assetID string, stopLoss float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[assetID]
	if !ok {
		return false
	}
	e.StopLoss = stopLoss
	return true
}

// Start begins the tick loop in a background goroutine and transitions
// to active mode.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return // already running
	}
	m.mode = ModeActive
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop tears down the tick loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stopCh := m.stop
	m.stop = nil
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-m.done
}

// Pause suspends auto-execution and stop/take-profit evaluation (a tick
// still runs and still checks for sudden moves, but stop/TP evaluation is
// skipped while paused) and raises a trading-paused alert.
func (m *Monitor) Pause(reason string) {
	m.mu.Lock()
	already := m.mode == ModePaused
	m.mode = ModePaused
	m.mu.Unlock()
	if already {
		return
	}
	m.alert(types.Alert{
		Kind:      types.AlertTradingPaused,
		Title:     "Trading paused",
		Message:   reason,
		CreatedAt: time.Now(),
	})
}

// Resume re-activates the monitor and raises a trading-resumed alert.
func (m *Monitor) Resume() {
	m.mu.Lock()
	already := m.mode == ModeActive
	m.mode = ModeActive
	m.mu.Unlock()
	if already {
		return
	}
	m.alert(types.Alert{
		Kind:      types.AlertTradingResumed,
		Title:     "Trading resumed",
		CreatedAt: time.Now(),
	})
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.mu.Lock()
	mode := m.mode
	snapshot := make([]WatchEntry, 0, len(m.entries))
	for _, e := range m.entries {
		snapshot = append(snapshot, *e)
	}
	m.mu.Unlock()

	for _, e := range snapshot {
		m.tickOne(ctx, e, mode)
	}
}

func (m *Monitor) tickOne(ctx context.Context, e WatchEntry, mode Mode) {
	price, ok := m.price(ctx, e.AssetID)
	if !ok {
		return // step 1: price unavailable, skip this tick
	}

	if e.LastPrice > 0 {
		// SuddenMoveThresholdPct is a percentage (e.g. 10.0 for 10%, per
		// config's risk.sudden_move_threshold_pct range 1.0-30.0); the
		// observed change must be converted to the same unit before the
		// inclusive ("moves of exactly the threshold fire") comparison.
		changePct := (price - e.LastPrice) / e.LastPrice * 100
		if absFloat(changePct) >= m.cfg.SuddenMoveThresholdPct {
			kind := types.AlertSuddenMove
			direction := "up"
			if changePct < 0 {
				direction = "down"
			}
			m.Pause("sudden price move detected on " + e.AssetID)
			m.alert(types.Alert{
				Kind:           kind,
				AssetID:        e.AssetID,
				Title:          "Sudden move " + direction,
				Message:        e.AssetID + " moved " + direction,
				Payload:        map[string]any{"change_pct": changePct, "price": price},
				ActionRequired: false,
				CreatedAt:      time.Now(),
			})
			m.updateLastPrice(e.AssetID, price)
			return
		}
	}

	if mode == ModeActive {
		switch {
		case e.StopLoss > 0 && price <= e.StopLoss:
			m.handleBreach(ctx, e, price, true)
		case e.TakeProfit > 0 && price >= e.TakeProfit:
			m.handleBreach(ctx, e, price, false)
		}
	}

	m.updateLastPrice(e.AssetID, price)
}

func (m *Monitor) handleBreach(ctx context.Context, e WatchEntry, price float64, stopLoss bool) {
	kind := types.AlertTakeProfitTriggered
	reason := "take-profit reached"
	if stopLoss {
		kind = types.AlertStopLossTriggered
		reason = "stop-loss reached"
	}

	if e.StopLossMode == types.StopLossAuto {
		if m.autoSell != nil {
			m.autoSell(ctx, e.AssetID, e.Quantity, reason)
		}
		return
	}

	options := []types.AlertAction{types.AlertActionHold}
	if stopLoss {
		options = []types.AlertAction{types.ActionExecuteStopLoss, types.ActionAdjustStopLoss, types.AlertActionHold}
	} else {
		options = []types.AlertAction{types.ActionExecuteTakeProfit, types.AlertActionHold}
	}

	m.alert(types.Alert{
		Kind:           kind,
		AssetID:        e.AssetID,
		Title:          reason,
		Message:        e.AssetID + ": " + reason + " at " + formatPrice(price),
		Payload:        map[string]any{"price": price, "quantity": e.Quantity},
		ActionRequired: true,
		Options:        options,
		CreatedAt:      time.Now(),
	})
}

func (m *Monitor) updateLastPrice(assetID string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[assetID]; ok {
		e.LastPrice = price
	}
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func formatPrice(p float64) string {
	whole := int64(p)
	frac := int64((p-float64(whole))*100 + 0.5)
	if frac >= 100 {
		whole++
		frac -= 100
	}
	digits := func(n int64) string {
		if n == 0 {
			return "0"
		}
		s := ""
		for n > 0 {
			s = string(rune('0'+n%10)) + s
			n /= 10
		}
		return s
	}
	fracStr := digits(frac)
	if len(fracStr) < 2 {
		fracStr = "0" + fracStr
	}
	return digits(whole) + "." + fracStr
}
