package llm

import (
	"strings"
	"testing"
)

func TestPromptBuilder_GetSystemPrompt(t *testing.T) {
	tests := []struct {
		name          string
		agentType     AgentType
		wantSubstring string
	}{
		{
			name:          "Technical Analysis Agent",
			agentType:     AgentTypeTechnical,
			wantSubstring: "technical",
		},
		{
			name:          "Fundamental Analysis Agent",
			agentType:     AgentTypeFundamental,
			wantSubstring: "valuation",
		},
		{
			name:          "Market Momentum Agent",
			agentType:     AgentTypeMarket,
			wantSubstring: "momentum",
		},
		{
			name:          "Sentiment Analysis Agent",
			agentType:     AgentTypeSentiment,
			wantSubstring: "sentiment",
		},
		{
			name:          "Risk Assessment Agent",
			agentType:     AgentTypeRisk,
			wantSubstring: "risk",
		},
		{
			name:          "Synthesis Agent",
			agentType:     AgentTypeSynthesis,
			wantSubstring: "rationale",
		},
		{
			name:          "Default Agent",
			agentType:     "unknown",
			wantSubstring: "trading-analysis",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := NewPromptBuilder(tt.agentType)
			prompt := pb.GetSystemPrompt()

			if prompt == "" {
				t.Error("Expected non-empty system prompt")
			}
			if !strings.Contains(strings.ToLower(prompt), strings.ToLower(tt.wantSubstring)) {
				t.Errorf("GetSystemPrompt() = %q, want substring %q", prompt, tt.wantSubstring)
			}
		})
	}
}

func TestPromptBuilder_BuildTechnicalPrompt(t *testing.T) {
	pb := NewPromptBuilder(AgentTypeTechnical)
	prompt := pb.BuildTechnicalPrompt("005930", 72.5, 1.2, 1.1, true, false, true, false)

	for _, want := range []string{"005930", "RSI=72.5", "bullish=true", "goldenCross=true"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildTechnicalPrompt() missing %q, got: %s", want, prompt)
		}
	}
}

func TestPromptBuilder_BuildFundamentalPrompt(t *testing.T) {
	pb := NewPromptBuilder(AgentTypeFundamental)
	prompt := pb.BuildFundamentalPrompt("005930", 12.5, 1.3, 4200)

	for _, want := range []string{"005930", "PER=12.50", "PBR=1.30", "EPS=4200.00"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildFundamentalPrompt() missing %q, got: %s", want, prompt)
		}
	}
}

func TestPromptBuilder_BuildMarketPrompt(t *testing.T) {
	pb := NewPromptBuilder(AgentTypeMarket)
	prompt := pb.BuildMarketPrompt("BTC-USD", 3.4, 1.8)

	for _, want := range []string{"BTC-USD", "3.40%", "volRatio=1.80"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildMarketPrompt() missing %q, got: %s", want, prompt)
		}
	}
}

func TestPromptBuilder_BuildSentimentPrompt(t *testing.T) {
	pb := NewPromptBuilder(AgentTypeSentiment)
	prompt := pb.BuildSentimentPrompt("BTC-USD", 65000, -2.1)

	for _, want := range []string{"BTC-USD", "65000.00", "-2.10%"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildSentimentPrompt() missing %q, got: %s", want, prompt)
		}
	}
}

func TestPromptBuilder_BuildRiskPrompt(t *testing.T) {
	pb := NewPromptBuilder(AgentTypeRisk)
	prompt := pb.BuildRiskPrompt("005930", 0.45, 1.2)

	for _, want := range []string{"005930", "risk score 0.45", "1.20%"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildRiskPrompt() missing %q, got: %s", want, prompt)
		}
	}
}

func TestPromptBuilder_BuildSynthesisPrompt(t *testing.T) {
	pb := NewPromptBuilder(AgentTypeSynthesis)
	prompt := pb.BuildSynthesisPrompt("005930", "buy", "BUY", 0.3)

	for _, want := range []string{"005930", "consensus=buy", "action=BUY", "risk=0.30"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("BuildSynthesisPrompt() missing %q, got: %s", want, prompt)
		}
	}
}
