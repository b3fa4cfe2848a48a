package agent

import (
	"os"
	"path/filepath"
	"strings"
)

// LoadPromptOverride reads <dir>/<agentID>.md. A non-empty file replaces
// the built-in system prompt of that agent.
func LoadPromptOverride(dir, agentID string) string {
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, agentID+".md"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
