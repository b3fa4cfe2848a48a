package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/provider"
)

// ChatRouter sends a chat request to the currently selected provider.
type ChatRouter interface {
	Route(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// ErrAgentNotFound is returned when an agent ID doesn't exist.
var ErrAgentNotFound = errors.New("agent not found")

// ErrNoJSON is returned when a response holds no JSON object.
var ErrNoJSON = errors.New("response contains no JSON object")

// Engine manages agent execution.
type Engine struct {
	agents     map[string]*Agent
	router     ChatRouter
	promptsDir string
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewEngine creates a new agent engine.
func NewEngine(router ChatRouter, logger *zap.Logger) *Engine {
	return &Engine{
		agents: make(map[string]*Agent),
		router: router,
		logger: logger,
	}
}

// SetPromptsDir enables per-agent system prompt overrides.
func (e *Engine) SetPromptsDir(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promptsDir = dir
}

// Register adds an agent to the engine.
func (e *Engine) Register(a *Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a.Persona.ID == "" {
		a.Persona.ID = uuid.New().String()
	}
	if override := LoadPromptOverride(e.promptsDir, a.Persona.ID); override != "" {
		a.Persona.SystemPrompt = override
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	a.Status = StatusIdle
	e.agents[a.Persona.ID] = a
	e.logger.Debug("registered agent",
		zap.String("id", a.Persona.ID),
		zap.String("name", a.Persona.Name))
}

// Get returns an agent by ID.
func (e *Engine) Get(id string) (*Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	return a, ok
}

// ExecuteResult holds the output of an agent execution.
type ExecuteResult struct {
	Content string         `json:"content"`
	Chain   *ThinkingChain `json:"chain"`
	Usage   provider.Usage `json:"usage"`
}

// Execute sends one message to an agent, with optional prior conversation,
// and records the exchange in a thinking chain.
func (e *Engine) Execute(ctx context.Context, agentID, userMsg string, history ...provider.Message) (*ExecuteResult, error) {
	a, ok := e.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	chain := &ThinkingChain{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		StartedAt: time.Now(),
	}

	e.setStatus(agentID, StatusThinking)
	defer e.setStatus(agentID, StatusIdle)

	chain.add(StepPrompt, agentID, truncateStr(userMsg, 200), 0)
	req := &provider.ChatRequest{
		Model:       a.Model,
		Messages:    e.buildMessages(a, userMsg, history),
		Temperature: a.Temperature,
		JSON:        a.Persona.JSON,
	}
	resp, err := e.router.Route(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.Persona.Name, err)
	}
	chain.add(StepResponse, agentID, resp.Content, resp.Usage.TotalTokens)
	chain.Duration = time.Since(chain.StartedAt)

	e.logger.Debug("agent executed",
		zap.String("agent", agentID),
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("took", chain.Duration))

	return &ExecuteResult{
		Content: resp.Content,
		Chain:   chain,
		Usage:   resp.Usage,
	}, nil
}

// ExecuteJSON runs an agent and decodes the first JSON object of its answer into out.
func (e *Engine) ExecuteJSON(ctx context.Context, agentID, userMsg string, out any) (*ExecuteResult, error) {
	res, err := e.Execute(ctx, agentID, userMsg)
	if err != nil {
		return nil, err
	}
	if err := DecodeJSON(res.Content, out); err != nil {
		return res, fmt.Errorf("agent %s: %w", agentID, err)
	}
	return res, nil
}

func (e *Engine) setStatus(agentID string, s Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.agents[agentID]; ok {
		a.Status = s
		a.UpdatedAt = time.Now()
	}
}

func (e *Engine) buildMessages(a *Agent, userMsg string, history []provider.Message) []provider.Message {
	msgs := make([]provider.Message, 0, len(history)+2)
	if a.Persona.SystemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: a.Persona.SystemPrompt})
	}
	msgs = append(msgs, history...)
	return append(msgs, provider.Message{Role: provider.RoleUser, Content: userMsg})
}

// DecodeJSON extracts the outermost JSON object from an LLM answer, which
// may be wrapped in a markdown fence or surrounded by prose.
func DecodeJSON(content string, out any) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
