// Package portfolio sizes and rebalances positions given an account
// snapshot and a proposed trade. It is a pure-function layer: it never
// touches ExchangeClient and never issues orders itself, returning an
// AllocationPlan for the Coordinator to execute.
//
// Plain float64 arithmetic over a passed-in snapshot, no hidden state;
// small single-purpose helpers feed one public entry point.
package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// AccountSnapshot is the minimal account state CalculateAllocation needs.
// A narrower read than exchange.AccountBalance so this package never
// depends on the exchange package.
type AccountSnapshot struct {
	Equity            float64
	AvailableCash     float64
	CurrentStockValue float64
}

// Limits are the risk-configured ceilings the allocator enforces
// (sourced from config's risk.* fields).
type Limits struct {
	MinCashRatio         float64 // e.g. 0.1: at least 10% of equity held as cash
	MaxTotalStockPct     float64 // e.g. 0.8: at most 80% of equity in stocks
	MaxSinglePositionPct float64 // e.g. 0.15: at most 15% of equity in one position
}

// RebalanceOrder is a sell the allocator requires before (or alongside)
// the primary order so the resulting portfolio respects Limits.
type RebalanceOrder struct {
	AssetID  string
	Quantity float64
	Reason   string
}

// AllocationPlan is CalculateAllocation's result.
type AllocationPlan struct {
	Quantity        float64
	EstimatedAmount float64
	PositionPct     float64
	StopLoss        *float64
	TakeProfit      *float64
	Rationale       string
	RebalanceOrders []RebalanceOrder
}

// riskFactor scales the maximum position size down as risk score rises:
// 1.0 for scores <= 3, 0.7 for 4-6, 0.5 for 7-10. RiskScore
// here is on the pipeline's 0-10 raw scale, not the 0-1 normalized scale
// riskScore() in internal/pipeline produces -- callers multiply the
// pipeline's [0,1] score by 10 before calling CalculateAllocation.
func riskFactor(riskScore float64) float64 {
	switch {
	case riskScore <= 3:
		return 1.0
	case riskScore <= 6:
		return 0.7
	default:
		return 0.5
	}
}

// CalculateAllocation sizes a buy under the configured limits, or
// returns the trivial full-quantity sell plan for a sell.
func CalculateAllocation(
	account AccountSnapshot,
	limits Limits,
	side types.TradeAction, // ActionBuy, ActionAdd, or ActionSell/ActionReduce
	assetID string,
	entryPrice float64,
	riskScore float64,
	existingPosition *types.Position,
	otherPositions []types.Position,
	stopLoss, takeProfit *float64,
) AllocationPlan {
	switch side {
	case types.ActionSell:
		if existingPosition == nil {
			return AllocationPlan{Rationale: "no existing position to sell"}
		}
		return AllocationPlan{
			Quantity:        existingPosition.Quantity,
			EstimatedAmount: existingPosition.Quantity * entryPrice,
			PositionPct:     percentOfEquity(existingPosition.Quantity*entryPrice, account.Equity),
			StopLoss:        stopLoss,
			TakeProfit:      takeProfit,
			Rationale:       "full exit of held position",
		}
	case types.ActionReduce:
		if existingPosition == nil {
			return AllocationPlan{Rationale: "no existing position to reduce"}
		}
		half := existingPosition.Quantity / 2
		return AllocationPlan{
			Quantity:        half,
			EstimatedAmount: half * entryPrice,
			PositionPct:     percentOfEquity(half*entryPrice, account.Equity),
			StopLoss:        stopLoss,
			TakeProfit:      takeProfit,
			Rationale:       "partial exit: half of held position",
		}
	}

	if entryPrice <= 0 {
		return AllocationPlan{Rationale: "invalid entry price"}
	}

	// Step 1: available_for_trade.
	cashHeadroom := account.AvailableCash - account.Equity*limits.MinCashRatio
	stockHeadroom := account.Equity*limits.MaxTotalStockPct - account.CurrentStockValue
	availableForTrade := math.Min(cashHeadroom, stockHeadroom)
	if availableForTrade < 0 {
		availableForTrade = 0
	}
	if availableForTrade <= 0 {
		return AllocationPlan{Rationale: "no headroom: cash reserve or total-stock cap would be breached"}
	}

	// Step 2: max_position_value.
	maxPositionValue := account.Equity * limits.MaxSinglePositionPct * riskFactor(riskScore)

	// Step 3: subtract existing exposure in this asset.
	if existingPosition != nil {
		maxPositionValue -= existingPosition.MarketValue()
		if maxPositionValue <= 0 {
			return AllocationPlan{Rationale: "existing position already at or above the single-position cap"}
		}
	}

	// Step 4: position_value / quantity.
	positionValue := math.Min(availableForTrade, maxPositionValue)
	quantity := math.Floor(positionValue / entryPrice)
	if quantity <= 0 {
		return AllocationPlan{Rationale: "computed quantity rounds to zero at current price"}
	}

	plan := AllocationPlan{
		Quantity:        quantity,
		EstimatedAmount: quantity * entryPrice,
		PositionPct:     percentOfEquity(quantity*entryPrice, account.Equity),
		StopLoss:        stopLoss,
		TakeProfit:      takeProfit,
		Rationale:       fmt.Sprintf("sized to %.0f%% of equity at risk factor %.2f", limits.MaxSinglePositionPct*100, riskFactor(riskScore)),
	}

	// Step 5: if the projected stock total would breach the total cap,
	// synthesize rebalance sells ranked worst-P&L-first.
	projectedStockTotal := account.CurrentStockValue + plan.EstimatedAmount
	cap := account.Equity * limits.MaxTotalStockPct
	if projectedStockTotal > cap {
		excess := projectedStockTotal - cap
		plan.RebalanceOrders = synthesizeRebalanceSells(otherPositions, assetID, excess)
	}

	return plan
}

// synthesizeRebalanceSells ranks otherPositions by unrealized P&L%
// ascending (worst first) and sells enough of each, in order, to cover
// excess.
func synthesizeRebalanceSells(otherPositions []types.Position, skipAssetID string, excess float64) []RebalanceOrder {
	candidates := make([]types.Position, 0, len(otherPositions))
	for _, p := range otherPositions {
		if p.AssetID == skipAssetID {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UnrealizedPnLPct() < candidates[j].UnrealizedPnLPct()
	})

	var orders []RebalanceOrder
	remaining := excess
	for _, p := range candidates {
		if remaining <= 0 {
			break
		}
		value := p.MarketValue()
		sellValue := math.Min(value, remaining)
		if p.CurrentPrice <= 0 {
			continue
		}
		qty := sellValue / p.CurrentPrice
		if qty <= 0 {
			continue
		}
		orders = append(orders, RebalanceOrder{
			AssetID:  p.AssetID,
			Quantity: qty,
			Reason:   fmt.Sprintf("rebalance: total-stock cap exceeded, selling worst performer (P&L %.1f%%)", p.UnrealizedPnLPct()),
		})
		remaining -= sellValue
	}
	return orders
}

// SuggestRebalancing is the tolerance-band rebalance suggestion: any
// position whose weight exceeds max_single_position_pct * 1.1 is trimmed
// back to the cap.
func SuggestRebalancing(equity float64, limits Limits, positions []types.Position) []RebalanceOrder {
	if equity <= 0 {
		return nil
	}
	tolerance := limits.MaxSinglePositionPct * 1.1
	var orders []RebalanceOrder
	for _, p := range positions {
		weight := p.MarketValue() / equity
		if weight <= tolerance {
			continue
		}
		targetValue := equity * limits.MaxSinglePositionPct
		excessValue := p.MarketValue() - targetValue
		if excessValue <= 0 || p.CurrentPrice <= 0 {
			continue
		}
		qty := excessValue / p.CurrentPrice
		orders = append(orders, RebalanceOrder{
			AssetID:  p.AssetID,
			Quantity: qty,
			Reason:   fmt.Sprintf("position weight %.1f%% exceeds tolerance band (cap %.1f%%)", weight*100, limits.MaxSinglePositionPct*100),
		})
	}
	return orders
}

func percentOfEquity(value, equity float64) float64 {
	if equity <= 0 {
		return 0
	}
	return value / equity * 100
}
