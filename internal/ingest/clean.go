package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
)

// Cleaned is the structured answer of the cleaning workflow.
type Cleaned struct {
	Markdown string `json:"formatted_resume"`
	Valid    bool   `json:"validation_status"`
	Message  string `json:"validation_message"`
	Rounds   int    `json:"-"`
}

// Clean runs the formatter and validator until the validator approves or
// rounds run out, then has the JSON formatter extract the final resume.
func (p *Pipeline) Clean(ctx context.Context, raw string) (*Cleaned, error) {
	task := "Here is the raw resume content to be cleaned:\n\n" + raw
	res, err := p.engine.RunTeam(ctx, agent.Team{
		Name:      cleaningTeamName,
		Members:   []string{FormatterID, ValidatorID},
		Reviewer:  ValidatorID,
		MaxRounds: p.cfg.CleanRounds,
	}, task)
	if err != nil {
		return nil, err
	}

	var out Cleaned
	if jr, err := p.engine.ExecuteJSON(ctx, CleanJSONID, teamLog(res), &out); err != nil {
		if jr == nil {
			return nil, err
		}
		// An unparseable summary still leaves the formatter's draft usable.
		p.logger.Warn("cleaning summary not parsed", zap.Error(err))
		out = Cleaned{Valid: res.Approved, Message: "formatter output used as is"}
	}
	out.Markdown = strings.TrimSpace(out.Markdown)
	if out.Markdown == "" {
		out.Markdown = strings.TrimSpace(res.Output)
	}
	if out.Markdown == "" {
		return nil, errors.New("cleaning produced no content")
	}
	out.Rounds = res.Rounds
	return &out, nil
}

// teamLog renders a team transcript for the JSON formatter agents.
func teamLog(res *agent.TeamResult) string {
	var b strings.Builder
	for _, t := range res.Transcript {
		fmt.Fprintf(&b, "## %s (round %d)\n\n%s\n\n", t.Name, t.Round, t.Content)
	}
	fmt.Fprintf(&b, "## Outcome\n\napproved: %t after %d round(s)\n\n## Final draft\n\n%s\n", res.Approved, res.Rounds, res.Output)
	return b.String()
}
