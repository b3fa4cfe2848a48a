package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/graph"
)

func extractionTask(s Section, resumeContext string) string {
	return fmt.Sprintf(`Extract graph triplets from the following resume section.
Convert all relevant information into a knowledge graph structure.

Beginning of the resume, for identifying the candidate:
%s

Section:
%s

Instructions:
- Extract all entities (people, companies, skills, technologies, etc.)
- Identify meaningful relationships between entities, using the candidate's name as subject where it applies
- Create graph triplets in (subject, predicate, object) format
- Ensure all triplets are factually grounded in the resume content`, resumeContext, s.Markdown())
}

// ExtractSection runs the extraction team on one section and returns the
// normalized extraction with the number of dropped items.
func (p *Pipeline) ExtractSection(ctx context.Context, s Section, resumeContext string) (*graph.Extraction, int, error) {
	res, err := p.engine.RunTeam(ctx, agent.Team{
		Name:    extractionTeamName,
		Members: []string{EntityExtractorID, RelationshipID, GraphValidatorID},
	}, extractionTask(s, resumeContext))
	if err != nil {
		return nil, 0, err
	}
	x := graph.NewExtraction()
	if _, err := p.engine.ExecuteJSON(ctx, ExtractionJSONID, res.Output, x); err != nil {
		return nil, 0, fmt.Errorf("section %q: %w", s.Title, err)
	}
	dropped := x.Normalize()
	return x, dropped, nil
}

// Extract runs ExtractSection over every section and merges the results.
func (p *Pipeline) Extract(ctx context.Context, sections []Section, resumeContext string) (*graph.Extraction, int, error) {
	merged := graph.NewExtraction()
	merged.Valid = true
	dropped := 0
	for i, s := range sections {
		x, n, err := p.ExtractSection(ctx, s, resumeContext)
		if err != nil {
			return nil, 0, err
		}
		p.logger.Debug("section extracted",
			zap.Int("section", i+1),
			zap.String("title", s.Title),
			zap.Int("entities", len(x.Entities)),
			zap.Int("triples", len(x.Triples)),
			zap.Int("dropped", n))
		merged.Valid = merged.Valid && x.Valid
		merged.Merge(x)
		dropped += n
	}
	merged.Message = strings.TrimSpace(merged.Message)
	return merged, dropped, nil
}
