package agent

import (
	"time"
)

// StepType identifies the kind of step in a trace.
type StepType string

const (
	StepPrompt     StepType = "prompt"
	StepResponse   StepType = "response"
	StepApproval   StepType = "approval"
	StepRevision   StepType = "revision"
	StepJSONFormat StepType = "json_format"
)

// ThinkingChain records the trace of one agent or team execution.
type ThinkingChain struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	Steps     []ThinkStep   `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// ThinkStep is a single step in the thinking chain.
type ThinkStep struct {
	Type       StepType  `json:"type"`
	AgentID    string    `json:"agent_id,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokensUsed int       `json:"tokens_used"`
}

func (c *ThinkingChain) add(t StepType, agentID, content string, tokens int) {
	c.Steps = append(c.Steps, ThinkStep{
		Type:       t,
		AgentID:    agentID,
		Content:    content,
		Timestamp:  time.Now(),
		TokensUsed: tokens,
	})
}

// TotalTokens sums token usage over all steps.
func (c *ThinkingChain) TotalTokens() int {
	n := 0
	for _, s := range c.Steps {
		n += s.TokensUsed
	}
	return n
}
