package agent

import (
	"time"
)

// Persona defines an agent's role and instructions.
type Persona struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
	// JSON constrains every answer of this agent to one JSON object.
	JSON bool `json:"json"`
}

// Status represents an agent's current state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
)

// Agent is one LLM-backed worker of an ingestion team.
type Agent struct {
	Persona     Persona   `json:"persona"`
	Status      Status    `json:"status"`
	Model       string    `json:"model,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
