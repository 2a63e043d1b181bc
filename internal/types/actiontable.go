package types

// ResolveAction maps (consensus signal, held position?, unrealized P&L%)
// onto the fixed TradeAction table. It is a total function: every input
// triple produces exactly one of the seven TradeAction values, never an
// error and never a default "zero value" fallthrough.
func ResolveAction(signal Signal, held bool, pnlPct float64) TradeAction {
	if !held {
		switch signal {
		case SignalStrongBuy, SignalBuy:
			return ActionBuy
		case SignalStrongSell:
			return ActionAvoid
		case SignalSell:
			return ActionWatch
		default: // hold
			return ActionWatch
		}
	}

	switch signal {
	case SignalStrongBuy, SignalBuy:
		if pnlPct <= 20 {
			return ActionAdd
		}
		return ActionHold
	case SignalStrongSell:
		return ActionSell
	case SignalSell:
		return ActionReduce
	default: // hold
		return ActionHold
	}
}
