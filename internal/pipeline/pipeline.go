package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yoonsoo-han/autotrader/internal/exchange"
	"github.com/yoonsoo-han/autotrader/internal/llm"
	"github.com/yoonsoo-han/autotrader/internal/metrics"
	"github.com/yoonsoo-han/autotrader/internal/types"
)

// Slots is the process-wide analysis-slot semaphore: it bounds how many
// Pipeline.Start/Reanalyze calls may run their analysis concurrently,
// reified as an injected capability rather than a module-level singleton.
type Slots struct {
	sem          *semaphore.Weighted
	waitDeadline time.Duration
}

// NewSlots constructs a Slots limiter with n concurrent slots (default 3
// if n <= 0) and a wait deadline (default 60s if <= 0).
func NewSlots(n int, waitDeadline time.Duration) *Slots {
	if n <= 0 {
		n = 3
	}
	if waitDeadline <= 0 {
		waitDeadline = 60 * time.Second
	}
	return &Slots{sem: semaphore.NewWeighted(int64(n)), waitDeadline: waitDeadline}
}

// Acquire blocks until a slot is free or the configured deadline elapses.
func (s *Slots) Acquire(ctx context.Context) (release func(), err error) {
	wctx, cancel := context.WithTimeout(ctx, s.waitDeadline)
	defer cancel()
	if err := s.sem.Acquire(wctx, 1); err != nil {
		return nil, fmt.Errorf("analysis slot not acquired within deadline: %w", err)
	}
	return func() { s.sem.Release(1) }, nil
}

// Deps bundles the Pipeline's collaborators, constructed explicitly by the
// Coordinator and injected here rather than reached through module-level
// singletons.
type Deps struct {
	Exchange exchange.Client
	Reasoner llm.Reasoner
	Slots    *Slots
	Log      zerolog.Logger
}

// Pipeline runs the six-stage per-asset state machine for one
// AssetDomainConfig: one engine parameterized by domain instead of
// parallel stock and crypto implementations.
type Pipeline struct {
	domain AssetDomainConfig
	deps   Deps
}

// New constructs a Pipeline for the given domain.
func New(domain AssetDomainConfig, deps Deps) *Pipeline {
	return &Pipeline{domain: domain, deps: deps}
}

// snapshot holds the data-collection stage's output: a concrete, typed
// record passed by pointer to later stages rather than round-tripped
// through session fields that don't belong there.
type snapshot struct {
	asset            exchange.Asset
	chart            exchange.Chart
	orderBook        exchange.OrderBook
	existingPosition *types.Position
	availableCash    float64
}

// Start runs a brand-new session through data-collection, parallel
// analysis, risk-assessment, and synthesis, where it suspends awaiting
// approval. Returns an error only for an unacquired analysis slot or
// context cancellation; stage-local failures are recorded into the
// session itself.
func (p *Pipeline) Start(ctx context.Context, s *types.Session, existingPosition *types.Position) error {
	release, err := p.deps.Slots.Acquire(ctx)
	if err != nil {
		s.Stage = types.StageComplete
		s.Error = err.Error()
		s.LogError(err.Error())
		return err
	}
	defer release()

	return p.runStages(ctx, s, existingPosition)
}

// Reanalyze resets s back to data-collection -- clearing its prior
// analyses and proposal, incrementing ReanalysisCount -- and runs it
// again. This is the pipeline's reject edge (the approval stage's
// "re-analyze" invariant).
func (p *Pipeline) Reanalyze(ctx context.Context, s *types.Session, existingPosition *types.Position) error {
	s.Stage = types.StageDataCollection
	s.Analyses = nil
	s.Proposal = nil
	s.AwaitingApproval = false
	s.ApprovalStatus = types.ApprovalNone
	s.ReanalysisCount++
	s.Log(fmt.Sprintf("re-analyzing (attempt %d): %s", s.ReanalysisCount, s.UserFeedback))
	return p.Start(ctx, s, existingPosition)
}

func (p *Pipeline) runStages(ctx context.Context, s *types.Session, existingPosition *types.Position) error {
	started := time.Now()
	defer func() {
		metrics.RecordPipelineLatency(float64(time.Since(started).Milliseconds()))
	}()

	data, err := p.collectData(ctx, s, existingPosition)
	if err != nil {
		s.Stage = types.StageComplete
		s.Error = err.Error()
		s.LogError(fmt.Sprintf("data-collection failed: %v", err))
		return nil
	}

	s.Stage = types.StageParallelAnalysis
	results := p.parallelAnalysis(ctx, s, data)
	s.Analyses = append(s.Analyses, results...)

	s.Stage = types.StageRisk
	riskResult := p.riskAssessment(ctx, s, data, results)
	s.Analyses = append(s.Analyses, riskResult)

	s.Stage = types.StageSynthesis
	p.synthesize(ctx, s, data, s.Analyses, riskResult)

	s.Stage = types.StageApproval
	s.AwaitingApproval = true
	s.ApprovalStatus = types.ApprovalPending
	return nil
}

// collectData is stage 1: one call each to get-asset, get-chart,
// get-orderbook, and then get-account-balance (stocks) or
// get-cash-balance (crypto) for the available cash. Any already-held
// position is passed in by the caller, not looked up here. Any failure
// here aborts the session.
func (p *Pipeline) collectData(ctx context.Context, s *types.Session, existingPosition *types.Position) (*snapshot, error) {
	asset, err := p.deps.Exchange.GetAsset(ctx, s.AssetID)
	if err != nil {
		return nil, fmt.Errorf("get-asset: %w", err)
	}

	chart, err := p.deps.Exchange.GetChart(ctx, s.AssetID, "1d", 90)
	if err != nil {
		return nil, fmt.Errorf("get-chart: %w", err)
	}

	book, err := p.deps.Exchange.GetOrderBook(ctx, s.AssetID)
	if err != nil {
		return nil, fmt.Errorf("get-orderbook: %w", err)
	}

	data := &snapshot{asset: asset, chart: chart, orderBook: book, existingPosition: existingPosition}

	if p.domain.Domain == DomainStock {
		bal, err := p.deps.Exchange.GetAccountBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("get-account-balance: %w", err)
		}
		data.availableCash = bal.CashBalance.OrderableCash
	} else {
		cash, err := p.deps.Exchange.GetCashBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("get-cash-balance: %w", err)
		}
		data.availableCash = cash.Available
	}

	s.Log(fmt.Sprintf("data-collection: %s last=%.2f change24h=%.2f%%", s.AssetID, asset.LastPrice, asset.Change24hPct))
	return data, nil
}

// parallelAnalysis is stage 2: technical, fundamental-or-market, and
// sentiment run concurrently and must all settle (join) before stage 3
// begins. A failure in one is logged and does not abort the others or
// the session.
func (p *Pipeline) parallelAnalysis(ctx context.Context, s *types.Session, data *snapshot) []types.AnalysisResult {
	type job struct {
		name string
		fn   func(context.Context, *snapshot) (types.AnalysisResult, error)
	}
	jobs := []job{
		{"technical", p.analyzeTechnical},
		{"sentiment", p.analyzeSentiment},
	}
	if p.domain.HasFundamental {
		jobs = append(jobs, job{"fundamental", p.analyzeFundamental})
	} else {
		jobs = append(jobs, job{"market", p.analyzeMarket})
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var results []types.AnalysisResult

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			jobStart := time.Now()
			res, err := j.fn(gctx, data)
			metrics.RecordAgentProcessing(j.name, float64(time.Since(jobStart).Milliseconds()))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.LogError(fmt.Sprintf("%s analysis failed: %v", j.name, err))
				return nil // one failing analysis never aborts the join
			}
			results = append(results, res)
			metrics.RecordAgentSignal(string(res.Agent), string(res.Signal), res.Confidence)
			s.Log(fmt.Sprintf("%s analysis: %s (confidence %.2f)", j.name, res.Signal, res.Confidence))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) askReasoner(ctx context.Context, system, user string) string {
	text, err := p.deps.Reasoner.Generate(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		p.deps.Log.Warn().Err(err).Msg("reasoner call failed; continuing with numeric scoring only")
		return ""
	}
	return text
}

func (p *Pipeline) analyzeTechnical(ctx context.Context, data *snapshot) (types.AnalysisResult, error) {
	in := computeTechnicalInputs(data.chart, data.orderBook)
	score := scoreTechnical(in)
	base := signalFromScore(score)

	pb := llm.NewPromptBuilder(llm.AgentTypeTechnical)
	prompt := pb.BuildTechnicalPrompt(data.asset.ID, in.RSI, in.BidAskRatio, in.VolumeRatio, in.TrendBullish, in.TrendBearish, in.GoldenCross, in.DeadCross)
	text := p.askReasoner(ctx, pb.GetSystemPrompt(), prompt)

	signal := adjustWithDetectedSignals(base, extractDetectedSignals(text))
	confidence := clampConfidence(0.5 + 0.05*float64(abs(score)))

	return types.AnalysisResult{
		Agent:      types.AgentTechnical,
		Signal:     signal,
		Confidence: confidence,
		Summary:    fmt.Sprintf("technical score %d -> %s", score, signal),
		Reasoning:  text,
		KeyFactors: technicalKeyFactors(in),
		Indicators: map[string]float64{
			"rsi": in.RSI, "bid_ask_ratio": in.BidAskRatio, "volume_ratio": in.VolumeRatio,
		},
		CreatedAt: time.Now(),
	}, nil
}

func technicalKeyFactors(in TechnicalInputs) []string {
	var f []string
	if in.RSI < 30 || in.RSI > 70 {
		f = append(f, fmt.Sprintf("RSI %.1f", in.RSI))
	}
	if in.GoldenCross {
		f = append(f, "golden cross")
	}
	if in.DeadCross {
		f = append(f, "dead cross")
	}
	if in.TrendBullish {
		f = append(f, "bullish trend")
	}
	if in.TrendBearish {
		f = append(f, "bearish trend")
	}
	if len(f) > 5 {
		f = f[:5]
	}
	return f
}

func (p *Pipeline) analyzeFundamental(ctx context.Context, data *snapshot) (types.AnalysisResult, error) {
	in := FundamentalInputs{
		PER: data.asset.PER, HasPER: data.asset.PER > 0,
		PBR: data.asset.PBR, HasPBR: data.asset.PBR > 0,
		EPS: data.asset.EPS, HasEPS: data.asset.EPS != 0,
	}
	score, confidence := scoreFundamental(in)
	base := fundamentalSignalFromScore(score)

	pb := llm.NewPromptBuilder(llm.AgentTypeFundamental)
	prompt := pb.BuildFundamentalPrompt(data.asset.ID, in.PER, in.PBR, in.EPS)
	text := p.askReasoner(ctx, pb.GetSystemPrompt(), prompt)

	signal := adjustWithDetectedSignals(base, extractDetectedSignals(text))

	return types.AnalysisResult{
		Agent:      types.AgentFundamental,
		Signal:     signal,
		Confidence: clampConfidence(confidence),
		Summary:    fmt.Sprintf("fundamental score %.2f -> %s", score, signal),
		Reasoning:  text,
		KeyFactors: []string{fmt.Sprintf("PER %.2f", in.PER), fmt.Sprintf("PBR %.2f", in.PBR)},
		Indicators: map[string]float64{"per": in.PER, "pbr": in.PBR, "eps": in.EPS},
		CreatedAt:  time.Now(),
	}, nil
}

func (p *Pipeline) analyzeMarket(ctx context.Context, data *snapshot) (types.AnalysisResult, error) {
	in := MarketInputs{Change24hPct: data.asset.Change24hPct, VolumeRatio: volumeRatio(data.chart)}
	score := scoreMarket(in)
	base := signalFromScore(score)

	pb := llm.NewPromptBuilder(llm.AgentTypeMarket)
	prompt := pb.BuildMarketPrompt(data.asset.ID, in.Change24hPct, in.VolumeRatio)
	text := p.askReasoner(ctx, pb.GetSystemPrompt(), prompt)

	signal := adjustWithDetectedSignals(base, extractDetectedSignals(text))
	confidence := clampConfidence(0.5 + 0.05*float64(abs(score)))

	return types.AnalysisResult{
		Agent:      types.AgentMarket,
		Signal:     signal,
		Confidence: confidence,
		Summary:    fmt.Sprintf("market score %d -> %s", score, signal),
		Reasoning:  text,
		KeyFactors: []string{fmt.Sprintf("24h change %.2f%%", in.Change24hPct)},
		Indicators: map[string]float64{"change_24h_pct": in.Change24hPct, "volume_ratio": in.VolumeRatio},
		CreatedAt:  time.Now(),
	}, nil
}

func (p *Pipeline) analyzeSentiment(ctx context.Context, data *snapshot) (types.AnalysisResult, error) {
	pb := llm.NewPromptBuilder(llm.AgentTypeSentiment)
	prompt := pb.BuildSentimentPrompt(data.asset.ID, data.asset.LastPrice, data.asset.Change24hPct)
	text := p.askReasoner(ctx, pb.GetSystemPrompt(), prompt)

	d := extractDetectedSignals(text)
	buyWeight := d.StrongBuy*2 + d.WeakBuy
	sellWeight := d.StrongSell*2 + d.WeakSell

	var signal types.Signal
	switch {
	case buyWeight == 0 && sellWeight == 0:
		signal = types.SignalHold
	case buyWeight > sellWeight:
		if d.StrongBuy >= 2 {
			signal = types.SignalStrongBuy
		} else {
			signal = types.SignalBuy
		}
	case sellWeight > buyWeight:
		if d.StrongSell >= 2 {
			signal = types.SignalStrongSell
		} else {
			signal = types.SignalSell
		}
	default:
		signal = types.SignalHold
	}

	confidence := clampConfidence(0.5 + 0.05*float64(buyWeight+sellWeight))
	if text == "" {
		// No Reasoner commentary available (e.g. a failed/noop call): fall
		// back to a neutral, low-confidence sentiment reading rather than
		// hold-with-high-confidence.
		signal = types.SignalHold
		confidence = 0.30
	}

	return types.AnalysisResult{
		Agent:      types.AgentSentiment,
		Signal:     signal,
		Confidence: confidence,
		Summary:    fmt.Sprintf("sentiment -> %s", signal),
		Reasoning:  text,
		KeyFactors: nil,
		Indicators: map[string]float64{"buy_weight": float64(buyWeight), "sell_weight": float64(sellWeight)},
		CreatedAt:  time.Now(),
	}, nil
}

// riskAssessment is stage 3: sequential, reads the three prior results,
// computes a deterministic risk score, and fills in stop-loss/take-profit
// suggestions.
func (p *Pipeline) riskAssessment(ctx context.Context, s *types.Session, data *snapshot, prior []types.AnalysisResult) types.AnalysisResult {
	signals := make([]types.Signal, len(prior))
	for i, r := range prior {
		signals[i] = r.Signal
	}

	risk := riskScore(p.domain, data.asset.Change24hPct, signals)
	entry := data.asset.LastPrice
	sl, tp := computeStopTakeProfit(p.domain, entry, risk)

	pb := llm.NewPromptBuilder(llm.AgentTypeRisk)
	prompt := pb.BuildRiskPrompt(data.asset.ID, risk, data.asset.Change24hPct)
	text := p.askReasoner(ctx, pb.GetSystemPrompt(), prompt)

	s.Log(fmt.Sprintf("risk-assessment: score=%.2f stop-loss=%.2f take-profit=%.2f", risk, sl, tp))

	return types.AnalysisResult{
		Agent:      types.AgentRisk,
		Signal:     majoritySignal(signals),
		Confidence: clampConfidence(0.9 - risk*0.4),
		Summary:    fmt.Sprintf("risk score %.2f", risk),
		Reasoning:  text,
		KeyFactors: []string{fmt.Sprintf("suggested stop-loss %.2f", sl), fmt.Sprintf("suggested take-profit %.2f", tp)},
		Indicators: map[string]float64{"risk_score": risk, "suggested_stop_loss": sl, "suggested_take_profit": tp},
		CreatedAt:  time.Now(),
	}
}

// synthesize is stage 4: combines all AnalysisResults into a consensus
// signal, maps (consensus, held-position-state) into a TradeAction via
// the action-resolution table, computes quantity, and publishes the TradeProposal.
func (p *Pipeline) synthesize(ctx context.Context, s *types.Session, data *snapshot, all []types.AnalysisResult, risk types.AnalysisResult) {
	consensus, confidence := consensusSignal(all)

	held := data.existingPosition != nil
	pnlPct := 0.0
	if held {
		pnlPct = data.existingPosition.UnrealizedPnLPct()
	}
	action := types.ResolveAction(consensus, held, pnlPct)

	riskScoreVal := risk.Indicators["risk_score"]
	entry := data.asset.LastPrice
	sl, tp := computeStopTakeProfit(p.domain, entry, riskScoreVal)
	slPtr, tpPtr := &sl, &tp

	positionSizePct := positionSizePctFor(riskScoreVal)
	qty := p.computeQuantity(action, data, entry, positionSizePct)

	pb := llm.NewPromptBuilder(llm.AgentTypeSynthesis)
	prompt := pb.BuildSynthesisPrompt(data.asset.ID, string(consensus), string(action), riskScoreVal)
	rationale := p.askReasoner(ctx, pb.GetSystemPrompt(), prompt)

	proposal := &types.TradeProposal{
		SessionID:       s.ID,
		AssetID:         s.AssetID,
		Action:          action,
		Quantity:        qty,
		EntryPrice:      entry,
		StopLoss:        slPtr,
		TakeProfit:      tpPtr,
		RiskScore:       riskScoreVal,
		PositionSizePct: positionSizePct,
		Rationale:       rationale,
		BullSummary:     bullBearSummary(all, true),
		BearSummary:     bullBearSummary(all, false),
		Analyses:        append([]types.AnalysisResult(nil), all...),
		CreatedAt:       time.Now(),
	}
	s.Proposal = proposal
	s.Log(fmt.Sprintf("synthesis: consensus=%s confidence=%.2f action=%s quantity=%.4f", consensus, confidence, action, qty))
}

// positionSizePctFor is the risk-adjusted position-size percentage the
// synthesis stage quotes on the proposal (the default single-position cap
// of 15%, scaled down as risk score grows, mirroring PortfolioAgent's own
// risk_factor so the proposal's stated size is consistent with what
// PortfolioAgent will actually allocate).
func positionSizePctFor(riskScoreVal float64) float64 {
	base := 15.0
	switch {
	case riskScoreVal <= 0.3:
		return base
	case riskScoreVal <= 0.6:
		return base * 0.7
	default:
		return base * 0.5
	}
}

func (p *Pipeline) computeQuantity(action types.TradeAction, data *snapshot, entryPrice, positionSizePct float64) float64 {
	switch action {
	case types.ActionBuy, types.ActionAdd:
		if entryPrice <= 0 {
			return 0
		}
		raw := data.availableCash * positionSizePct / 100 / entryPrice
		if p.domain.FractionalQuantity {
			return roundTo(raw, 6)
		}
		return float64(int64(raw))
	case types.ActionSell:
		if data.existingPosition == nil {
			return 0
		}
		return data.existingPosition.Quantity
	case types.ActionReduce:
		if data.existingPosition == nil {
			return 0
		}
		half := data.existingPosition.Quantity / 2
		if p.domain.FractionalQuantity {
			if half <= 0 {
				return 0
			}
			return roundTo(half, 6)
		}
		q := int64(half)
		if q < 1 {
			q = 1
		}
		return float64(q)
	default:
		return 0
	}
}

func roundTo(v float64, decimals int) float64 {
	mul := 1.0
	for i := 0; i < decimals; i++ {
		mul *= 10
	}
	return float64(int64(v*mul)) / mul
}

func bullBearSummary(results []types.AnalysisResult, bull bool) string {
	var out string
	for _, r := range results {
		score := r.Signal.Score()
		if (bull && score > 0) || (!bull && score < 0) {
			if out != "" {
				out += "; "
			}
			out += fmt.Sprintf("%s: %s", r.Agent, r.Summary)
		}
	}
	return out
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
