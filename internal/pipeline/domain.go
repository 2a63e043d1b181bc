// Package pipeline implements the six-stage per-asset analysis state
// machine: data-collection, parallel-analysis, risk,
// synthesis, approval, execution. One Pipeline runs per Session; the
// Coordinator starts sessions and resumes them across the approval
// interrupt.
//
// An earlier architecture ran one OS process per analysis type voting
// over NATS; that collapsed into this single Domain-parameterized engine:
// one Pipeline, not a duplicated stock/crypto file family and not a
// population of standalone agent processes.
package pipeline

// Domain distinguishes the two asset classes the pipeline analyzes. Each
// supplies its own fundamental-analysis applicability, default stop-loss/
// take-profit percentages, risk-score constants, and quantity rounding.
type Domain string

const (
	DomainStock  Domain = "stock"
	DomainCrypto Domain = "crypto"
)

// AssetDomainConfig is the strategy table a Pipeline is parameterized
// by: one engine plus this small per-domain knob set, instead of parallel
// stock and crypto pipeline implementations.
type AssetDomainConfig struct {
	Domain Domain

	// HasFundamental selects whether the second parallel analysis is
	// "fundamental" (stocks, PER/PBR/EPS-driven) or "market" (crypto,
	// momentum/volume-driven). Exactly one of the two ever runs.
	HasFundamental bool

	// StopLossBasePct / TakeProfitBasePct are the risk-assessment
	// stage's percentage-offset bases; the actual offset magnitude grows
	// with risk score (see computeStopTakeProfit).
	StopLossBasePct   float64
	TakeProfitBasePct float64

	// RiskBaseScore is the additive constant in the risk-score
	// formula (0.3 stocks, 0.4 crypto).
	RiskBaseScore float64

	// ChangeDivisor is the divisor applied to |24h change %| in the
	// risk-score formula (15 stocks, 20 crypto), before the 0.3 cap.
	ChangeDivisor float64

	// FractionalQuantity selects whether computed order quantities are
	// floored to whole units (stocks: integer shares) or may carry
	// fractional precision (crypto: fractional coins, rounded to 6
	// decimal places instead of floored to an integer).
	FractionalQuantity bool
}

// StockDomain returns the KR-stock asset-domain configuration.
func StockDomain() AssetDomainConfig {
	return AssetDomainConfig{
		Domain:            DomainStock,
		HasFundamental:    true,
		StopLossBasePct:   0.05,
		TakeProfitBasePct: 0.08,
		RiskBaseScore:     0.3,
		ChangeDivisor:     15,
	}
}

// CryptoDomain returns the crypto asset-domain configuration.
func CryptoDomain() AssetDomainConfig {
	return AssetDomainConfig{
		Domain:             DomainCrypto,
		HasFundamental:     false,
		StopLossBasePct:    0.08,
		TakeProfitBasePct:  0.12,
		RiskBaseScore:      0.4,
		ChangeDivisor:      20,
		FractionalQuantity: true,
	}
}

// SecondAnalysisAgent returns which AgentKind runs as the domain's second
// parallel analysis, alongside technical and sentiment.
func (c AssetDomainConfig) SecondAnalysisAgent() string {
	if c.HasFundamental {
		return "fundamental"
	}
	return "market"
}
