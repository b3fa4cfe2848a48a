package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultApprovalToken is what a reviewer answers to end a team loop.
const DefaultApprovalToken = "APPROVED"

// Team runs its members round-robin over one task. When a reviewer is set,
// the loop ends as soon as the reviewer approves or MaxRounds is reached;
// the reviewer's feedback is handed to the next round.
type Team struct {
	Name          string
	Members       []string
	Reviewer      string
	ApprovalToken string
	MaxRounds     int
}

// Turn is one member contribution.
type Turn struct {
	AgentID string
	Name    string
	Round   int
	Content string
}

// TeamResult is the outcome of a team run.
type TeamResult struct {
	// Output holds the last round's non-reviewer contributions.
	Output     string
	Approved   bool
	Rounds     int
	Feedback   string
	Transcript []Turn
	Chain      *ThinkingChain
}

// RunTeam executes a team on task.
func (e *Engine) RunTeam(ctx context.Context, t Team, task string) (*TeamResult, error) {
	if len(t.Members) == 0 {
		return nil, fmt.Errorf("team %s has no members", t.Name)
	}
	maxRounds := t.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}
	token := t.ApprovalToken
	if token == "" {
		token = DefaultApprovalToken
	}

	res := &TeamResult{Chain: &ThinkingChain{ID: uuid.New().String(), AgentID: t.Name, StartedAt: time.Now()}}
	for round := 1; round <= maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Rounds = round

		var current []Turn
		for _, id := range t.Members {
			a, ok := e.Get(id)
			if !ok {
				return nil, fmt.Errorf("team %s: %w: %s", t.Name, ErrAgentNotFound, id)
			}
			prompt := teamPrompt(task, current, res.Feedback, id == t.Reviewer)
			out, err := e.Execute(ctx, id, prompt)
			if err != nil {
				return nil, fmt.Errorf("team %s round %d: %w", t.Name, round, err)
			}
			turn := Turn{AgentID: id, Name: a.Persona.Name, Round: round, Content: strings.TrimSpace(out.Content)}
			current = append(current, turn)
			res.Transcript = append(res.Transcript, turn)
			res.Chain.Steps = append(res.Chain.Steps, out.Chain.Steps...)
		}

		res.Output = joinContributions(current, t.Reviewer)
		if t.Reviewer == "" {
			break
		}
		feedback := reviewerTurn(current, t.Reviewer)
		res.Feedback = feedback
		if IsApproval(feedback, token) {
			res.Approved = true
			res.Chain.add(StepApproval, t.Reviewer, "approved in round "+fmt.Sprint(round), 0)
			break
		}
		res.Chain.add(StepRevision, t.Reviewer, truncateStr(feedback, 200), 0)
	}
	res.Chain.Duration = time.Since(res.Chain.StartedAt)

	e.logger.Info("team finished",
		zap.String("team", t.Name),
		zap.Int("rounds", res.Rounds),
		zap.Bool("approved", res.Approved),
		zap.Int("tokens", res.Chain.TotalTokens()))
	return res, nil
}

// IsApproval reports whether a reviewer answer approves the draft.
func IsApproval(feedback, token string) bool {
	upper := strings.ToUpper(feedback)
	token = strings.ToUpper(token)
	return strings.Contains(upper, token) && !strings.Contains(upper, "NOT "+token)
}

func teamPrompt(task string, current []Turn, feedback string, reviewer bool) string {
	var b strings.Builder
	b.WriteString("## Task\n\n")
	b.WriteString(task)
	if feedback != "" {
		b.WriteString("\n\n## Reviewer feedback from the previous round\n\n")
		b.WriteString(feedback)
	}
	for _, turn := range current {
		fmt.Fprintf(&b, "\n\n## Contribution from %s\n\n%s", turn.Name, turn.Content)
	}
	if reviewer {
		b.WriteString("\n\nReview the contributions above. Reply APPROVED if they are complete and correct, otherwise list the required changes.")
	}
	return b.String()
}

func joinContributions(turns []Turn, reviewer string) string {
	var parts []Turn
	for _, t := range turns {
		if t.AgentID != reviewer {
			parts = append(parts, t)
		}
	}
	if len(parts) == 1 {
		return parts[0].Content
	}
	var b strings.Builder
	for i, t := range parts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n\n%s", t.Name, t.Content)
	}
	return b.String()
}

func reviewerTurn(turns []Turn, reviewer string) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].AgentID == reviewer {
			return turns[i].Content
		}
	}
	return ""
}
