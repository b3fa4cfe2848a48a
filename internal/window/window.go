// Package window fits the messages of one LLM call into a token budget.
package window

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/provider"
)

// Priority orders blocks for compression; lower is compressed first.
type Priority int

const (
	PriorityHistory Priority = 1
	PriorityFacts   Priority = 2
	PriorityTask    Priority = 3 // never compressed
)

// Block is a labeled group of messages.
type Block struct {
	Name     string
	Priority Priority
	Messages []provider.Message
	Tokens   int
	Fixed    bool // never compressed
}

// NewBlock builds a block and estimates its size.
func NewBlock(name string, p Priority, msgs ...provider.Message) *Block {
	return &Block{Name: name, Priority: p, Messages: msgs, Tokens: EstimateTokens(msgs), Fixed: p >= PriorityTask}
}

// Config holds the budget settings.
type Config struct {
	MaxTokens    int     // model context window
	ReserveRatio float64 // fraction kept free for the answer
}

// DefaultConfig suits the smallest context of the offered models.
func DefaultConfig() Config {
	return Config{MaxTokens: 16000, ReserveRatio: 0.25}
}

// Summarizer condenses old conversation turns.
type Summarizer func(ctx context.Context, text string) (string, error)

// Manager compresses blocks until they fit.
type Manager struct {
	config    Config
	summarize Summarizer
	logger    *zap.Logger
}

// NewManager creates a manager. A nil summarizer drops old turns instead of
// summarising them.
func NewManager(cfg Config, summarize Summarizer, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ReserveRatio <= 0 || cfg.ReserveRatio >= 1 {
		cfg.ReserveRatio = def.ReserveRatio
	}
	return &Manager{config: cfg, summarize: summarize, logger: logger}
}

// Budget returns the tokens available for the request.
func (m *Manager) Budget() int {
	return int(float64(m.config.MaxTokens) * (1 - m.config.ReserveRatio))
}

// Fit compresses the blocks in place, lowest priority first, and returns the
// resulting total. The total may still exceed the budget when only fixed
// content remains.
func (m *Manager) Fit(ctx context.Context, blocks ...*Block) int {
	total := 0
	for _, b := range blocks {
		total += b.Tokens
	}
	budget := m.Budget()
	if total <= budget {
		return total
	}
	m.logger.Info("context exceeds budget, compressing", zap.Int("total", total), zap.Int("budget", budget))

	for p := PriorityHistory; p < PriorityTask; p++ {
		for _, b := range blocks {
			if b.Fixed || b.Priority != p || total <= budget {
				continue
			}
			before := b.Tokens
			switch b.Priority {
			case PriorityHistory:
				m.compressHistory(ctx, b, total-budget)
			case PriorityFacts:
				trimTail(b, total-budget)
			}
			total -= before - b.Tokens
			m.logger.Debug("compressed block", zap.String("block", b.Name), zap.Int("freed", before-b.Tokens))
		}
	}
	return total
}

// compressHistory replaces the older half of the conversation with a
// summary, or drops it when no summary can be made. Turns are kept in pairs.
func (m *Manager) compressHistory(ctx context.Context, b *Block, overflow int) {
	for overflow > 0 && len(b.Messages) >= 2 {
		cut := len(b.Messages) / 2
		cut -= cut % 2
		if cut == 0 {
			cut = 2
		}
		old := b.Messages[:cut]
		rest := append([]provider.Message(nil), b.Messages[cut:]...)
		before := b.Tokens

		b.Messages = rest
		if summary, ok := m.summary(ctx, old); ok {
			msg := provider.Message{Role: provider.RoleSystem, Content: "Summary of the earlier conversation:\n" + summary}
			if EstimateTokensStr(msg.Content) < EstimateTokens(old) {
				b.Messages = append([]provider.Message{msg}, rest...)
			}
		}
		b.Tokens = EstimateTokens(b.Messages)
		overflow -= before - b.Tokens
		if b.Tokens >= before {
			return
		}
	}
}

func (m *Manager) summary(ctx context.Context, msgs []provider.Message) (string, bool) {
	if m.summarize == nil {
		return "", false
	}
	var sb strings.Builder
	for _, msg := range msgs {
		fmt.Fprintf(&sb, "[%s]: %s\n", msg.Role, msg.Content)
	}
	s, err := m.summarize(ctx, sb.String())
	if err != nil {
		m.logger.Warn("history summarization failed, truncating", zap.Error(err))
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// trimTail drops the least relevant messages from the end, keeping one.
func trimTail(b *Block, overflow int) {
	for overflow > 0 && len(b.Messages) > 1 {
		last := b.Messages[len(b.Messages)-1]
		b.Messages = b.Messages[:len(b.Messages)-1]
		overflow -= EstimateTokensStr(last.Content)
	}
	b.Tokens = EstimateTokens(b.Messages)
}

// EstimateTokens estimates the tokens of a message slice.
func EstimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokensStr(m.Content)
	}
	return total
}

// EstimateTokensStr uses the rough ~4 characters per token heuristic.
func EstimateTokensStr(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}
