// Package types holds the domain records shared across the pipeline,
// portfolio, order and risk-monitor packages. They are plain tagged structs,
// not duck-typed maps: each pipeline stage returns a delta of one of these
// that the coordinator merges into session state.
package types

// Signal is the enumerated output of a single analysis or of consensus.
type Signal string

const (
	SignalStrongBuy  Signal = "strong-buy"
	SignalBuy        Signal = "buy"
	SignalHold       Signal = "hold"
	SignalSell       Signal = "sell"
	SignalStrongSell Signal = "strong-sell"
)

// Valid reports whether s is one of the five enumerated signals.
func (s Signal) Valid() bool {
	switch s {
	case SignalStrongBuy, SignalBuy, SignalHold, SignalSell, SignalStrongSell:
		return true
	}
	return false
}

// Score returns the signed weight used by confidence-weighted consensus
// voting: positive for buy-class signals, negative for sell-class.
func (s Signal) Score() float64 {
	switch s {
	case SignalStrongBuy:
		return 2
	case SignalBuy:
		return 1
	case SignalSell:
		return -1
	case SignalStrongSell:
		return -2
	default:
		return 0
	}
}

// TradeAction is the enumerated decision a session resolves to, derived from
// (Signal, held-position-state) through the fixed table in actiontable.go.
type TradeAction string

const (
	ActionBuy    TradeAction = "buy"
	ActionSell   TradeAction = "sell"
	ActionHold   TradeAction = "hold"
	ActionAdd    TradeAction = "add"
	ActionReduce TradeAction = "reduce"
	ActionWatch  TradeAction = "watch"
	ActionAvoid  TradeAction = "avoid"
)

// AgentKind identifies which of the pipeline's analyses produced a result.
type AgentKind string

const (
	AgentTechnical   AgentKind = "technical"
	AgentFundamental AgentKind = "fundamental"
	AgentMarket      AgentKind = "market"
	AgentSentiment   AgentKind = "sentiment"
	AgentRisk        AgentKind = "risk"
)
