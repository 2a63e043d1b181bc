package llm

import (
	"context"
	"errors"
	"time"

	"github.com/yoonsoo-han/autotrader/internal/metrics"
)

// Message is one (role, content) pair in a Reasoner prompt. Role is one of
// "system", "user", "assistant" — the same vocabulary ChatMessage uses, kept
// as its own type so callers outside this package (the pipeline's analysis
// stages) don't need to depend on the gateway wire format.
type Message struct {
	Role    string
	Content string
}

// Reasoner is the opaque LLM-inference collaborator: the pipeline calls
// Generate for a free-text answer and never parses it as structured data.
// Technical, fundamental and market signals come from numeric thresholds
// (internal/pipeline/scoring.go); keyword counts taken from the text can
// upgrade such a signal or downgrade it to hold, and the sentiment signal
// comes from those keyword counts alone. The text itself is stored in
// AnalysisResult.Reasoning for the UI/audit trail.
type Reasoner interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// ClientReasoner adapts the gateway-backed LLMClient to the Reasoner
// interface.
type ClientReasoner struct {
	client LLMClient
}

// NewClientReasoner wraps client as a Reasoner.
func NewClientReasoner(client LLMClient) *ClientReasoner {
	return &ClientReasoner{client: client}
}

// Generate sends messages through the wrapped LLMClient and returns the
// first choice's message content.
func (r *ClientReasoner) Generate(ctx context.Context, messages []Message) (string, error) {
	chatMsgs := make([]ChatMessage, len(messages))
	for i, m := range messages {
		chatMsgs[i] = ChatMessage{Role: m.Role, Content: m.Content}
	}

	started := time.Now()
	resp, err := r.client.CompleteWithRetry(ctx, chatMsgs, 2)
	if err != nil {
		return "", err
	}
	metrics.RecordLLMDecision(resp.Model, "analysis", float64(time.Since(started).Milliseconds()))
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: empty response, no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// NoopReasoner always returns an empty advisory string without calling any
// upstream — useful for tests and for operating the pipeline with
// Reasoner commentary disabled. With no text, numeric signals pass through
// unadjusted and the sentiment analysis falls back to hold at 0.30
// confidence.
type NoopReasoner struct{}

func (NoopReasoner) Generate(ctx context.Context, messages []Message) (string, error) {
	return "", nil
}
