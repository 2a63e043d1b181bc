package pipeline

import (
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"

	"github.com/yoonsoo-han/autotrader/internal/exchange"
)

// TechnicalInputs are the deterministic numeric inputs the technical
// scorer (scoring.go) consumes. Computed from a Chart/OrderBook pair,
// never from the Reasoner's free text, per determinism
// rule.
type TechnicalInputs struct {
	RSI          float64
	TrendBullish bool
	TrendBearish bool
	GoldenCross  bool
	DeadCross    bool
	BidAskRatio  float64
	VolumeRatio  float64
}

// computeTechnicalInputs derives TechnicalInputs from a candle series and
// the current order book, using the cinar/indicator/v2 momentum/trend
// packages for RSI and EMA.
func computeTechnicalInputs(chart exchange.Chart, book exchange.OrderBook) TechnicalInputs {
	closes := closePrices(chart)
	in := TechnicalInputs{RSI: 50, BidAskRatio: book.BestBidAskRatio()}

	if len(closes) >= 15 {
		in.RSI = lastValue(rsiSeries(closes, 14))
	}

	if len(closes) >= 26 {
		fast := emaSeries(closes, 12)
		slow := emaSeries(closes, 26)
		in.GoldenCross, in.DeadCross = detectCross(fast, slow)
	}

	if len(closes) >= 50 {
		ema50 := emaSeries(closes, 50)
		last := closes[len(closes)-1]
		lastEMA := lastValue(ema50)
		in.TrendBullish = last > lastEMA
		in.TrendBearish = last < lastEMA
	}

	in.VolumeRatio = volumeRatio(chart)
	return in
}

func closePrices(chart exchange.Chart) []float64 {
	out := make([]float64, len(chart.Candles))
	for i, c := range chart.Candles {
		out[i] = c.Close
	}
	return out
}

func volumeRatio(chart exchange.Chart) float64 {
	n := len(chart.Candles)
	if n < 2 {
		return 1
	}
	last := chart.Candles[n-1].Volume
	lookback := n - 1
	if lookback > 20 {
		lookback = 20
	}
	var sum float64
	for i := n - 1 - lookback; i < n-1; i++ {
		sum += chart.Candles[i].Volume
	}
	if lookback == 0 || sum == 0 {
		return 1
	}
	avg := sum / float64(lookback)
	if avg == 0 {
		return 1
	}
	return last / avg
}

func rsiSeries(closes []float64, period int) []float64 {
	ch := make(chan float64, len(closes))
	for _, p := range closes {
		ch <- p
	}
	close(ch)
	out := momentum.NewRsiWithPeriod[float64](period).Compute(ch)
	return drain(out)
}

func emaSeries(closes []float64, period int) []float64 {
	ch := make(chan float64, len(closes))
	for _, p := range closes {
		ch <- p
	}
	close(ch)
	out := trend.NewEmaWithPeriod[float64](period).Compute(ch)
	return drain(out)
}

func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

func lastValue(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[len(xs)-1]
}

// detectCross reports whether fast crossed above (golden) or below (dead)
// slow on the most recent bar the two series overlap on.
func detectCross(fast, slow []float64) (golden, dead bool) {
	n := len(fast)
	if len(slow) < n {
		n = len(slow)
	}
	if n < 2 {
		return false, false
	}
	fPrev, fCur := fast[len(fast)-2], fast[len(fast)-1]
	sPrev, sCur := slow[len(slow)-2], slow[len(slow)-1]
	golden = fPrev <= sPrev && fCur > sCur
	dead = fPrev >= sPrev && fCur < sCur
	return golden, dead
}
