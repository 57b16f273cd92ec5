package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Model            string
}

// AgentMeta holds operational metadata for one generator call made on behalf
// of a planner operation.
type AgentMeta struct {
	AgentName string
	UserID    string
	Usage     TokenUsage
	Latency   time.Duration
	Success   bool
}
