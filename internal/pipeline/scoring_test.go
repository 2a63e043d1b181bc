package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

func TestScoreTechnical(t *testing.T) {
	tests := []struct {
		name string
		in   TechnicalInputs
		want int
	}{
		{"neutral", TechnicalInputs{RSI: 50, BidAskRatio: 1.0, VolumeRatio: 1.0}, 0},
		{"deeply oversold", TechnicalInputs{RSI: 25, BidAskRatio: 1.0}, 2},
		{"mildly oversold", TechnicalInputs{RSI: 35, BidAskRatio: 1.0}, 1},
		{"overbought", TechnicalInputs{RSI: 75, BidAskRatio: 1.0}, -2},
		{"mildly overbought", TechnicalInputs{RSI: 65, BidAskRatio: 1.0}, -1},
		{
			"everything bullish",
			TechnicalInputs{RSI: 25, TrendBullish: true, GoldenCross: true, BidAskRatio: 1.5, VolumeRatio: 2.5},
			7, // +2 RSI, +1 trend, +2 cross, +1 bid/ask, +1 volume
		},
		{
			"everything bearish",
			TechnicalInputs{RSI: 75, TrendBearish: true, DeadCross: true, BidAskRatio: 0.5, VolumeRatio: 1},
			-6,
		},
		{"zero bid/ask ratio is no signal", TechnicalInputs{RSI: 50, BidAskRatio: 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scoreTechnical(tt.in))
		})
	}
}

func TestSignalFromScore(t *testing.T) {
	assert.Equal(t, types.SignalStrongBuy, signalFromScore(4))
	assert.Equal(t, types.SignalStrongBuy, signalFromScore(7))
	assert.Equal(t, types.SignalBuy, signalFromScore(2))
	assert.Equal(t, types.SignalBuy, signalFromScore(3))
	assert.Equal(t, types.SignalHold, signalFromScore(1))
	assert.Equal(t, types.SignalHold, signalFromScore(0))
	assert.Equal(t, types.SignalHold, signalFromScore(-1))
	assert.Equal(t, types.SignalSell, signalFromScore(-2))
	assert.Equal(t, types.SignalSell, signalFromScore(-3))
	assert.Equal(t, types.SignalStrongSell, signalFromScore(-4))
}

func TestScoreFundamental(t *testing.T) {
	// Deep value: PER 7 (+2.5), PBR 0.4 (+2), EPS positive (+0.5).
	score, conf := scoreFundamental(FundamentalInputs{
		PER: 7, HasPER: true, PBR: 0.4, HasPBR: true, EPS: 1200, HasEPS: true,
	})
	assert.InDelta(t, 5.0, score, 1e-9)
	assert.InDelta(t, 0.9, conf, 1e-9, "0.5 + 0.3 + 0.25 caps at 0.9")
	assert.Equal(t, types.SignalStrongBuy, fundamentalSignalFromScore(score))

	// Expensive and loss-making: PER 60 (-2), PBR 6 (-2), EPS negative (-1).
	score, conf = scoreFundamental(FundamentalInputs{
		PER: 60, HasPER: true, PBR: 6, HasPBR: true, EPS: -500, HasEPS: true,
	})
	assert.InDelta(t, -5.0, score, 1e-9)
	assert.Equal(t, types.SignalStrongSell, fundamentalSignalFromScore(score))
	assert.LessOrEqual(t, conf, 0.9)

	// No data at all: score 0, confidence floor 0.5.
	score, conf = scoreFundamental(FundamentalInputs{})
	assert.Zero(t, score)
	assert.InDelta(t, 0.5, conf, 1e-9)
	assert.Equal(t, types.SignalHold, fundamentalSignalFromScore(score))
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.30, clampConfidence(0.1))
	assert.Equal(t, 0.30, clampConfidence(0.30))
	assert.Equal(t, 0.62, clampConfidence(0.62))
	assert.Equal(t, 0.95, clampConfidence(0.95))
	assert.Equal(t, 0.95, clampConfidence(1.4))
}

func TestAdjustWithDetectedSignals(t *testing.T) {
	// Corroborating strong text upgrades buy to strong-buy.
	got := adjustWithDetectedSignals(types.SignalBuy, detectedSignals{StrongBuy: 2})
	assert.Equal(t, types.SignalStrongBuy, got)

	// One strong mention is not enough to upgrade.
	got = adjustWithDetectedSignals(types.SignalBuy, detectedSignals{StrongBuy: 1})
	assert.Equal(t, types.SignalBuy, got)

	// Disagreeing text downgrades to hold, never flips direction.
	got = adjustWithDetectedSignals(types.SignalBuy, detectedSignals{StrongSell: 3})
	assert.Equal(t, types.SignalHold, got)
	got = adjustWithDetectedSignals(types.SignalSell, detectedSignals{StrongBuy: 3})
	assert.Equal(t, types.SignalHold, got)

	// Sell-side upgrade mirrors the buy side.
	got = adjustWithDetectedSignals(types.SignalSell, detectedSignals{StrongSell: 2})
	assert.Equal(t, types.SignalStrongSell, got)

	// A hold base never becomes directional from text alone.
	got = adjustWithDetectedSignals(types.SignalHold, detectedSignals{StrongBuy: 5})
	assert.Equal(t, types.SignalHold, got)
}

func TestExtractDetectedSignals(t *testing.T) {
	d := extractDetectedSignals("Strong buy on the breakout; the uptrend should continue.")
	assert.Equal(t, 2, d.StrongBuy, `"strong buy" + "breakout"`)
	assert.GreaterOrEqual(t, d.WeakBuy, 1, `"uptrend" and the "buy" inside "strong buy"`)
	assert.Zero(t, d.StrongSell)

	d = extractDetectedSignals("")
	assert.Zero(t, d.StrongBuy+d.WeakBuy+d.StrongSell+d.WeakSell)
}

func TestRiskScore(t *testing.T) {
	stock := StockDomain()
	crypto := CryptoDomain()

	// Calm stock, unanimous signals: base only.
	got := riskScore(stock, 0, []types.Signal{types.SignalBuy, types.SignalBuy, types.SignalBuy})
	assert.InDelta(t, 0.3, got, 1e-9)

	// Volatility term caps at 0.3 no matter how large the move.
	got = riskScore(stock, 90, []types.Signal{types.SignalBuy, types.SignalBuy, types.SignalBuy})
	assert.InDelta(t, 0.6, got, 1e-9)

	// Signal dispersion adds 0.1 per extra distinct value.
	got = riskScore(stock, 0, []types.Signal{types.SignalBuy, types.SignalSell, types.SignalHold})
	assert.InDelta(t, 0.5, got, 1e-9)

	// Crypto base is higher; 10/20 = 0.5 is capped at 0.3.
	got = riskScore(crypto, 10, []types.Signal{types.SignalBuy, types.SignalBuy})
	assert.InDelta(t, 0.4+0.3, got, 1e-9)

	// Clamped to 1 at the top.
	got = riskScore(crypto, 100, []types.Signal{
		types.SignalStrongBuy, types.SignalBuy, types.SignalHold, types.SignalSell, types.SignalStrongSell,
	})
	assert.LessOrEqual(t, got, 1.0)
}

func TestComputeStopTakeProfit(t *testing.T) {
	stock := StockDomain()
	sl, tp := computeStopTakeProfit(stock, 50000, 0)
	assert.InDelta(t, 47500, sl, 1e-6, "5% base at zero risk")
	assert.InDelta(t, 54000, tp, 1e-6, "8% base at zero risk")

	sl, tp = computeStopTakeProfit(stock, 50000, 1)
	assert.InDelta(t, 45000, sl, 1e-6, "offset doubles at max risk")
	assert.InDelta(t, 58000, tp, 1e-6)

	crypto := CryptoDomain()
	sl, tp = computeStopTakeProfit(crypto, 40000, 0)
	assert.InDelta(t, 36800, sl, 1e-6, "8% crypto base")
	assert.InDelta(t, 44800, tp, 1e-6, "12% crypto base")
}

func TestConsensusSignal(t *testing.T) {
	r := func(s types.Signal, conf float64) types.AnalysisResult {
		return types.AnalysisResult{Signal: s, Confidence: conf}
	}

	// Tie-break: equal weighted buy and sell scores resolve to hold.
	sig, conf := consensusSignal([]types.AnalysisResult{
		r(types.SignalBuy, 0.6), r(types.SignalSell, 0.6),
	})
	assert.Equal(t, types.SignalHold, sig)
	assert.InDelta(t, 0.6, conf, 1e-9)

	// Unanimous strong agreement crosses the strong threshold.
	sig, _ = consensusSignal([]types.AnalysisResult{
		r(types.SignalStrongBuy, 0.9), r(types.SignalBuy, 0.8), r(types.SignalBuy, 0.7),
	})
	assert.Equal(t, types.SignalStrongBuy, sig)

	// A single lukewarm buy stays a plain buy.
	sig, _ = consensusSignal([]types.AnalysisResult{
		r(types.SignalBuy, 0.5), r(types.SignalHold, 0.7), r(types.SignalHold, 0.7),
	})
	assert.Equal(t, types.SignalBuy, sig)

	// Sell side mirror.
	sig, _ = consensusSignal([]types.AnalysisResult{
		r(types.SignalStrongSell, 0.9), r(types.SignalSell, 0.8),
	})
	assert.Equal(t, types.SignalStrongSell, sig)

	// No results: hold at the confidence floor.
	sig, conf = consensusSignal(nil)
	assert.Equal(t, types.SignalHold, sig)
	assert.InDelta(t, 0.30, conf, 1e-9)
}

func TestMajoritySignal(t *testing.T) {
	assert.Equal(t, types.SignalBuy, majoritySignal([]types.Signal{
		types.SignalBuy, types.SignalBuy, types.SignalHold,
	}))
	assert.Equal(t, types.SignalHold, majoritySignal([]types.Signal{
		types.SignalBuy, types.SignalSell,
	}), "tie resolves to hold")
	assert.Equal(t, types.SignalHold, majoritySignal(nil))
}

func TestScoreMarket(t *testing.T) {
	assert.Equal(t, 0, scoreMarket(MarketInputs{Change24hPct: 0, VolumeRatio: 1}))
	assert.Equal(t, 3, scoreMarket(MarketInputs{Change24hPct: 12, VolumeRatio: 3}))
	assert.Equal(t, -3, scoreMarket(MarketInputs{Change24hPct: -12, VolumeRatio: 0.2}))
	assert.Equal(t, 1, scoreMarket(MarketInputs{Change24hPct: 6, VolumeRatio: 1}))
}
