package llm

import "fmt"

// PromptBuilder builds the system/user prompt pair for one pipeline analysis
// stage. Every Build*Prompt method returns free-text commentary requests,
// never a JSON-response instruction: the pipeline scores technical,
// fundamental and market signals from numeric thresholds and reads the
// Reasoner's text back only through internal/pipeline/scoring.go's
// extractDetectedSignals, which counts bullish/bearish keywords rather
// than parsing JSON. Those counts can adjust a numeric signal and are the
// whole input of the sentiment signal.
type PromptBuilder struct {
	agentType AgentType
}

// NewPromptBuilder creates a new prompt builder
func NewPromptBuilder(agentType AgentType) *PromptBuilder {
	return &PromptBuilder{
		agentType: agentType,
	}
}

// GetSystemPrompt returns the system prompt for the agent type
func (pb *PromptBuilder) GetSystemPrompt() string {
	switch pb.agentType {
	case AgentTypeTechnical:
		return technicalAnalysisSystemPrompt
	case AgentTypeFundamental:
		return fundamentalAnalysisSystemPrompt
	case AgentTypeMarket:
		return marketMomentumSystemPrompt
	case AgentTypeSentiment:
		return sentimentAnalysisSystemPrompt
	case AgentTypeRisk:
		return riskAssessmentSystemPrompt
	case AgentTypeSynthesis:
		return synthesisSystemPrompt
	default:
		return defaultSystemPrompt
	}
}

// BuildTechnicalPrompt builds the user prompt for the technical-analysis stage.
func (pb *PromptBuilder) BuildTechnicalPrompt(assetID string, rsi, bidAskRatio, volumeRatio float64, trendBullish, trendBearish, goldenCross, deadCross bool) string {
	return fmt.Sprintf(
		"Asset %s: RSI=%.1f bullish=%v bearish=%v goldenCross=%v deadCross=%v bidAsk=%.2f volRatio=%.2f. Comment on the technical picture.",
		assetID, rsi, trendBullish, trendBearish, goldenCross, deadCross, bidAskRatio, volumeRatio,
	)
}

// BuildFundamentalPrompt builds the user prompt for the fundamental-analysis stage.
func (pb *PromptBuilder) BuildFundamentalPrompt(assetID string, per, pbr, eps float64) string {
	return fmt.Sprintf("Asset %s: PER=%.2f PBR=%.2f EPS=%.2f. Comment on the valuation.", assetID, per, pbr, eps)
}

// BuildMarketPrompt builds the user prompt for the market-momentum stage.
func (pb *PromptBuilder) BuildMarketPrompt(assetID string, change24hPct, volumeRatio float64) string {
	return fmt.Sprintf("Asset %s: 24h change=%.2f%% volRatio=%.2f. Comment on market momentum.", assetID, change24hPct, volumeRatio)
}

// BuildSentimentPrompt builds the user prompt for the sentiment stage.
func (pb *PromptBuilder) BuildSentimentPrompt(assetID string, lastPrice, change24hPct float64) string {
	return fmt.Sprintf("Asset %s is currently trading at %.2f, 24h change %.2f%%. Summarize prevailing market sentiment.",
		assetID, lastPrice, change24hPct)
}

// BuildRiskPrompt builds the user prompt for the risk-assessment stage.
func (pb *PromptBuilder) BuildRiskPrompt(assetID string, riskScore, change24hPct float64) string {
	return fmt.Sprintf("Asset %s: risk score %.2f, 24h change %.2f%%. Comment on risk factors.", assetID, riskScore, change24hPct)
}

// BuildSynthesisPrompt builds the user prompt for the final synthesis stage.
func (pb *PromptBuilder) BuildSynthesisPrompt(assetID, consensus, action string, riskScore float64) string {
	return fmt.Sprintf("Asset %s: consensus=%s action=%s risk=%.2f. Provide a short rationale and bull/bear summary.",
		assetID, consensus, action, riskScore)
}

// System prompts for each analysis stage. Commentary is advisory only, so
// none of these ask for a particular response format.

const technicalAnalysisSystemPrompt = `You are a technical-analysis assistant for a stock and crypto trading pipeline.

Your job is to comment on price action, volume, and technical indicators
(RSI, moving-average crossovers, order-book imbalance) supplied to you.
Signals are decided numerically by the pipeline; your commentary is
advisory only and is stored alongside the numeric result for review.

Keep your answer short and specific to the numbers given. Mention
conflicting signals when you see them.`

const fundamentalAnalysisSystemPrompt = `You are a fundamental-analysis assistant for a stock trading pipeline.

Your job is to comment on valuation metrics (PER, PBR, EPS) supplied to
you. Signals are decided numerically by the pipeline; your commentary is
advisory only.

Keep your answer short and note whether the valuation looks rich or cheap
relative to typical ranges for the sector.`

const marketMomentumSystemPrompt = `You are a market-momentum assistant for a trading pipeline.

Your job is to comment on 24h price change and volume ratio supplied to
you. Signals are decided numerically by the pipeline; your commentary is
advisory only.

Keep your answer short and flag whether the move looks like a breakout or
a fade.`

const sentimentAnalysisSystemPrompt = `You are a market-sentiment assistant monitoring news and social chatter for a trading pipeline.

Summarize the prevailing sentiment for the asset described to you in a
couple of sentences. Use the words "bullish" or "bearish" plainly when
you believe the evidence supports them, since the pipeline scans your
text for those cues; stay neutral otherwise.`

const riskAssessmentSystemPrompt = `You are a risk-assessment assistant for a trading pipeline.

Comment on the risk score and recent volatility supplied to you. The
pipeline computes stop-loss and take-profit levels numerically; your
commentary is advisory only and should call out anything that the
numeric risk score alone might miss (thin liquidity, earnings date,
correlated exposure).`

const synthesisSystemPrompt = `You are a trading-desk synthesis assistant producing a final rationale.

Given the consensus signal, the action chosen, and the risk score, write
a short rationale plus a one-line bull case and a one-line bear case.
Do not second-guess the action: it has already been decided by the
pipeline's numeric consensus and action-resolution rules.`

const defaultSystemPrompt = `You are an AI trading-analysis assistant.

Provide brief, specific commentary on the data given to you.`
