package pipeline

import (
	"math"
	"strings"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

// clampConfidence enforces the determinism rule that every confidence
// value this package produces lies in [0.30, 0.95].
func clampConfidence(c float64) float64 {
	if c < 0.30 {
		return 0.30
	}
	if c > 0.95 {
		return 0.95
	}
	return c
}

// scoreTechnical is the canonical technical-signal scorer:
// RSI < 30 +2, < 40 +1, > 70 -2, > 60 -1; trend bullish +1, bearish -1;
// golden-cross +2, dead-cross -2; bid/ask ratio > 1.3 +1, < 0.7 -1;
// volume ratio > 2x +1.
func scoreTechnical(in TechnicalInputs) int {
	score := 0
	switch {
	case in.RSI < 30:
		score += 2
	case in.RSI < 40:
		score += 1
	case in.RSI > 70:
		score -= 2
	case in.RSI > 60:
		score -= 1
	}
	if in.TrendBullish {
		score++
	}
	if in.TrendBearish {
		score--
	}
	if in.GoldenCross {
		score += 2
	}
	if in.DeadCross {
		score -= 2
	}
	switch {
	case in.BidAskRatio > 1.3:
		score++
	case in.BidAskRatio > 0 && in.BidAskRatio < 0.7:
		score--
	}
	if in.VolumeRatio > 2 {
		score++
	}
	return score
}

// signalFromScore maps an integer score onto the five-value Signal
// enumeration: >= +4 strong-buy, >= +2 buy, <= -4 strong-sell, <= -2
// sell, else hold.
func signalFromScore(score int) types.Signal {
	switch {
	case score >= 4:
		return types.SignalStrongBuy
	case score >= 2:
		return types.SignalBuy
	case score <= -4:
		return types.SignalStrongSell
	case score <= -2:
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

// detectedSignals is the keyword-extracted count of strong/weak buy and
// sell phrases the Reasoner's free text uses. adjustWithDetectedSignals
// uses it to adjust a deterministic base signal's magnitude, never to
// invent a direction the numeric score disagrees with; the sentiment
// analysis, which has no numeric score, takes its signal from it directly.
type detectedSignals struct {
	StrongBuy  int
	WeakBuy    int
	StrongSell int
	WeakSell   int
}

var (
	strongBuyPhrases  = []string{"strong buy", "breakout", "surging", "strongly bullish"}
	weakBuyPhrases    = []string{"buy", "bullish", "uptrend", "accumulate"}
	strongSellPhrases = []string{"strong sell", "crash", "breakdown", "strongly bearish"}
	weakSellPhrases   = []string{"sell", "bearish", "downtrend", "distribute"}
)

func extractDetectedSignals(text string) detectedSignals {
	lower := strings.ToLower(text)
	var d detectedSignals
	for _, p := range strongBuyPhrases {
		d.StrongBuy += strings.Count(lower, p)
	}
	for _, p := range weakBuyPhrases {
		d.WeakBuy += strings.Count(lower, p)
	}
	for _, p := range strongSellPhrases {
		d.StrongSell += strings.Count(lower, p)
	}
	for _, p := range weakSellPhrases {
		d.WeakSell += strings.Count(lower, p)
	}
	return d
}

// adjustWithDetectedSignals applies the detected-signal list to a
// deterministic base signal: it may upgrade a buy into a strong-buy (or a
// sell into a strong-sell) when the text corroborates strongly, but it
// never upgrades a signal whose direction the text disagrees with --
// disagreement instead downgrades the result to hold.
func adjustWithDetectedSignals(base types.Signal, d detectedSignals) types.Signal {
	buyWeight := d.StrongBuy*2 + d.WeakBuy
	sellWeight := d.StrongSell*2 + d.WeakSell

	switch base {
	case types.SignalBuy, types.SignalStrongBuy:
		if sellWeight > buyWeight {
			return types.SignalHold
		}
		if base == types.SignalBuy && d.StrongBuy >= 2 {
			return types.SignalStrongBuy
		}
		return base
	case types.SignalSell, types.SignalStrongSell:
		if buyWeight > sellWeight {
			return types.SignalHold
		}
		if base == types.SignalSell && d.StrongSell >= 2 {
			return types.SignalStrongSell
		}
		return base
	default:
		return types.SignalHold
	}
}

// FundamentalInputs are the stock-only valuation ratios the fundamental
// scorer consumes.
type FundamentalInputs struct {
	PER    float64
	PBR    float64
	EPS    float64
	HasPER bool
	HasPBR bool
	HasEPS bool
}

// scoreFundamental is the canonical fundamental-signal scorer
// (stocks only): PER/PBR/EPS-weighted score plus a confidence that
// grows with the number of available data points and the score's
// magnitude, capped at 0.9 before the package-wide [0.30, 0.95] clamp.
func scoreFundamental(in FundamentalInputs) (score, confidence float64) {
	dataPoints := 0
	if in.HasPER {
		dataPoints++
		switch {
		case in.PER < 8:
			score += 2.5
		case in.PER < 10:
			score += 2
		case in.PER < 15:
			score += 1
		case in.PER > 50:
			score -= 2
		case in.PER > 30:
			score -= 1
		}
	}
	if in.HasPBR {
		dataPoints++
		switch {
		case in.PBR < 0.5:
			score += 2
		case in.PBR < 0.7:
			score += 1.5
		case in.PBR < 1:
			score += 0.5
		case in.PBR > 5:
			score -= 2
		case in.PBR > 3:
			score -= 1
		}
	}
	if in.HasEPS {
		dataPoints++
		if in.EPS > 0 {
			score += 0.5
		} else if in.EPS < 0 {
			score -= 1
		}
	}

	if dataPoints > 3 {
		dataPoints = 3
	}
	confidence = 0.5 + 0.1*float64(dataPoints) + 0.05*math.Abs(score)
	if confidence > 0.9 {
		confidence = 0.9
	}
	return score, confidence
}

// fundamentalSignalFromScore maps the wider-ranging fundamental score onto
// the Signal enumeration. The technical scorer's thresholds assume an
// integer range of [-6, +7]; the fundamental score's [-5, +5]
// range uses the same shape scaled down by one step since no single
// factor here swings as far as a golden-cross does.
func fundamentalSignalFromScore(score float64) types.Signal {
	switch {
	case score >= 3:
		return types.SignalStrongBuy
	case score >= 1:
		return types.SignalBuy
	case score <= -3:
		return types.SignalStrongSell
	case score <= -1:
		return types.SignalSell
	default:
		return types.SignalHold
	}
}

// MarketInputs are the crypto-only momentum/volume inputs the "market"
// analysis (crypto's fundamental-analysis substitute, )
// consumes in place of PER/PBR/EPS.
type MarketInputs struct {
	Change24hPct float64
	VolumeRatio  float64
}

// scoreMarket applies the same "technical-like" scoring shape as
// scoreTechnical to momentum/volume instead of RSI/trend/cross, since
// crypto assets carry no PER/PBR/EPS to value them by.
func scoreMarket(in MarketInputs) int {
	score := 0
	switch {
	case in.Change24hPct > 10:
		score += 2
	case in.Change24hPct > 5:
		score += 1
	case in.Change24hPct < -10:
		score -= 2
	case in.Change24hPct < -5:
		score -= 1
	}
	if in.VolumeRatio > 2 {
		score++
	} else if in.VolumeRatio < 0.5 {
		score--
	}
	return score
}

// riskScore is base (0.3 stock, 0.4 crypto) + min(|24h change| /
// divisor, 0.3) + 0.1 * (distinct signal values among the non-risk
// analyses - 1), clamped to [0, 1].
func riskScore(domain AssetDomainConfig, change24hPct float64, nonRiskSignals []types.Signal) float64 {
	base := domain.RiskBaseScore
	volatilityTerm := math.Abs(change24hPct) / domain.ChangeDivisor
	if volatilityTerm > 0.3 {
		volatilityTerm = 0.3
	}

	distinct := map[types.Signal]struct{}{}
	for _, s := range nonRiskSignals {
		distinct[s] = struct{}{}
	}
	dispersionTerm := 0.0
	if len(distinct) > 0 {
		dispersionTerm = 0.1 * float64(len(distinct)-1)
	}

	score := base + volatilityTerm + dispersionTerm
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// computeStopTakeProfit derives suggested stop-loss/take-profit prices
// whose offset magnitude grows with risk score: the domain base
// percentage scales linearly up to double at risk score 1.0.
func computeStopTakeProfit(domain AssetDomainConfig, entryPrice, risk float64) (stopLoss, takeProfit float64) {
	slPct := domain.StopLossBasePct * (1 + risk)
	tpPct := domain.TakeProfitBasePct * (1 + risk)
	return entryPrice * (1 - slPct), entryPrice * (1 + tpPct)
}

// majoritySignal returns the plurality signal among xs, breaking ties
// toward hold. Used by the risk-assessment stage to give its own
// AnalysisResult a signal consistent with the three prior ones rather
// than an independent vote.
func majoritySignal(xs []types.Signal) types.Signal {
	counts := map[types.Signal]int{}
	for _, s := range xs {
		counts[s]++
	}
	best := types.SignalHold
	bestCount := 0
	tie := false
	for s, c := range counts {
		switch {
		case c > bestCount:
			best, bestCount, tie = s, c, false
		case c == bestCount && s != best:
			tie = true
		}
	}
	if tie || bestCount == 0 {
		return types.SignalHold
	}
	return best
}

// consensusWeight is the signed weight of one AnalysisResult in the
// confidence-weighted consensus vote: confidence * |Signal.Score()|,
// attributed to the buy or sell side by the signal's sign.
func consensusWeight(r types.AnalysisResult) (buy, sell float64) {
	w := r.Confidence * math.Abs(r.Signal.Score())
	if r.Signal.Score() > 0 {
		return w, 0
	}
	if r.Signal.Score() < 0 {
		return 0, w
	}
	return 0, 0
}

// strongConsensusThreshold is the net weighted-score magnitude above which
// a buy/sell consensus is promoted to strong-buy/strong-sell. Derived from
// a single analysis at max confidence (0.95) agreeing at the "buy" level
// (score 1) plus modest reinforcement from a second -- picked so that
// near-unanimous strong-signal agreement crosses it but a single
// lukewarm "buy" does not.
const strongConsensusThreshold = 1.2

// consensusSignal computes the confidence-weighted-vote consensus signal
// over the session's AnalysisResults: ties between the
// buy-side and sell-side weighted scores resolve to hold.
func consensusSignal(results []types.AnalysisResult) (types.Signal, float64) {
	var buyScore, sellScore, confSum float64
	for _, r := range results {
		b, s := consensusWeight(r)
		buyScore += b
		sellScore += s
		confSum += r.Confidence
	}

	avgConfidence := 0.0
	if len(results) > 0 {
		avgConfidence = confSum / float64(len(results))
	}
	avgConfidence = clampConfidence(avgConfidence)

	if buyScore == sellScore {
		return types.SignalHold, avgConfidence
	}
	if buyScore > sellScore {
		if buyScore-sellScore >= strongConsensusThreshold {
			return types.SignalStrongBuy, avgConfidence
		}
		return types.SignalBuy, avgConfidence
	}
	if sellScore-buyScore >= strongConsensusThreshold {
		return types.SignalStrongSell, avgConfidence
	}
	return types.SignalSell, avgConfidence
}
