package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/rag"
	"github.com/nidhogg/resumemind/internal/store"
)

var errNoGraph = errors.New("no graph backend is configured")

func (a *App) listResumesCommand(ctx context.Context) (*CommandResult, error) {
	list, err := a.showResumes(ctx, "")
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return &CommandResult{Content: "No resumes ingested yet."}, nil
	}
	return &CommandResult{}, nil
}

func (a *App) showResumes(ctx context.Context, status string) ([]*store.ResumeRecord, error) {
	list, err := a.store.ListResumes(ctx, status, 0)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	rows := make([][]string, len(list))
	for i, r := range list {
		ingested := "-"
		if r.IngestedAt != nil {
			ingested = r.IngestedAt.Local().Format("2006-01-02 15:04")
		}
		rows[i] = []string{
			strconv.Itoa(i + 1), r.ResumeID, r.FileName, r.FileType, r.Status, ingested, orDash(truncate(r.ErrorMessage, 40)),
		}
	}
	a.con.Table([]string{"#", "Resume ID", "File", "Type", "Status", "Ingested", "Error"}, rows)
	return list, nil
}

func (a *App) pickResume(ctx context.Context, status, label string) (*store.ResumeRecord, error) {
	list, err := a.showResumes(ctx, status)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	n, err := a.con.Choose(label, len(list), 0)
	if err != nil {
		return nil, err
	}
	return list[n-1], nil
}

func (a *App) deleteResumeCommand(ctx context.Context) (*CommandResult, error) {
	rec, err := a.pickResume(ctx, "", "Resume to delete")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &CommandResult{Content: "No resumes ingested yet."}, nil
	}
	ok, err := a.con.Confirm(fmt.Sprintf("Delete %s (%s) from the graph, the index and the history?", rec.FileName, rec.ResumeID), false)
	if err != nil || !ok {
		return &CommandResult{Content: "Nothing deleted."}, err
	}

	if a.graph != nil {
		if err := a.graph.DeleteResume(ctx, rec.ResumeID); err != nil {
			return nil, fmt.Errorf("delete graph data: %w", err)
		}
	}
	// Index removal needs no embedder, so it works without an active provider.
	if err := rag.NewOrchestrator(nil, a.index, a.graph, a.collection(), a.logger).DeleteResume(ctx, rec.ResumeID); err != nil {
		return nil, fmt.Errorf("delete indexed relationships: %w", err)
	}
	if err := a.store.DeleteResume(ctx, rec.ResumeID); err != nil {
		return nil, err
	}
	a.logger.Info("resume deleted", zap.String("resume_id", rec.ResumeID))
	return &CommandResult{Content: fmt.Sprintf("Deleted %s.", rec.FileName)}, nil
}

func (a *App) askCommand(ctx context.Context) (*CommandResult, error) {
	if a.qa == nil {
		return nil, provider.ErrNoProvider
	}
	if a.embedder == nil {
		return nil, fmt.Errorf("questions need an embedding model; configure one for %s", a.current.Name)
	}
	if a.index == nil && a.graph == nil {
		return nil, rag.ErrNoRetriever
	}

	list, err := a.store.ListResumes(ctx, store.StatusCompleted, 0)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return &CommandResult{Content: "No resumes ingested yet."}, nil
	}
	items := []string{"All resumes"}
	for _, r := range list {
		items = append(items, fmt.Sprintf("%s (%s)", r.FileName, r.ResumeID))
	}
	a.con.Menu("Ask about", items)
	n, err := a.con.Choose("Select", len(items), 1)
	if err != nil {
		return nil, err
	}
	resumeID := ""
	if n > 1 {
		resumeID = list[n-2].ResumeID
	}
	return &CommandResult{}, a.chat(ctx, resumeID)
}

// chat reads questions until the user goes back.
func (a *App) chat(ctx context.Context, resumeID string) error {
	a.con.Muted("Type a question. \"summary\" summarises the resume, \"new\" starts a fresh conversation, \"back\" returns.")
	for {
		q, err := a.con.Ask("Question", "")
		if err != nil {
			return err
		}
		var ans *rag.Answer
		switch strings.ToLower(q) {
		case "":
			continue
		case "back", "exit", "quit":
			return nil
		case "new":
			if err := a.qa.Reset(ctx, resumeID); err != nil {
				return err
			}
			a.con.Info("Started a new conversation.")
			continue
		case "summary":
			if resumeID == "" {
				a.con.Warn("Pick a single resume for a summary.")
				continue
			}
			ans, err = a.qa.Summary(ctx, resumeID)
		default:
			ans, err = a.qa.Ask(ctx, resumeID, q)
		}
		if err != nil {
			if fatal(err) {
				return err
			}
			a.report(err)
			continue
		}
		a.con.Section("Answer")
		a.con.Println(ans.Text)
		if len(ans.Context) > 0 {
			a.con.Muted("Based on %d retrieved facts.", len(ans.Context))
		}
	}
}

func (a *App) exploreCommand(ctx context.Context) (*CommandResult, error) {
	if a.graph == nil {
		return nil, errNoGraph
	}
	return &CommandResult{}, a.loop(ctx, "Explore the knowledge graph", a.exploreMenu())
}

func (a *App) exploreMenu() *Registry {
	reg := NewRegistry()
	reg.Register(&Command{Name: "skill", Description: "Candidates with a skill", Handler: func(ctx context.Context) (*CommandResult, error) {
		return a.candidates(ctx, "Skill", a.graph.CandidatesWithSkill)
	}})
	reg.Register(&Command{Name: "company", Description: "Candidates who worked at a company", Handler: func(ctx context.Context) (*CommandResult, error) {
		return a.candidates(ctx, "Company", a.graph.CandidatesByCompany)
	}})
	reg.Register(&Command{Name: "related", Description: "Skills seen together with a skill", Handler: a.cooccurrenceCommand})
	reg.Register(&Command{Name: "entities", Description: "Entities and relationships of a resume", Handler: a.resumeGraphCommand})
	reg.Register(&Command{Name: "back", Description: "Back", Handler: func(context.Context) (*CommandResult, error) {
		return &CommandResult{Exit: true}, nil
	}})
	return reg
}

func (a *App) candidates(ctx context.Context, label string, find func(context.Context, string) ([]graph.Candidate, error)) (*CommandResult, error) {
	name, err := a.con.AskValid(label, "", notEmpty(strings.ToLower(label)))
	if err != nil {
		return nil, err
	}
	found, err := find(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return &CommandResult{Content: "No candidates found."}, nil
	}
	rows := make([][]string, len(found))
	for i, c := range found {
		rows[i] = []string{c.Name, c.ResumeID}
	}
	a.con.Table([]string{"Candidate", "Resume ID"}, rows)
	return &CommandResult{}, nil
}

func (a *App) cooccurrenceCommand(ctx context.Context) (*CommandResult, error) {
	skill, err := a.con.AskValid("Skill", "", notEmpty("skill"))
	if err != nil {
		return nil, err
	}
	counts, err := a.graph.SkillCooccurrence(ctx, skill, 10)
	if err != nil {
		return nil, err
	}
	if len(counts) == 0 {
		return &CommandResult{Content: "No related skills found."}, nil
	}
	rows := make([][]string, len(counts))
	for i, c := range counts {
		rows[i] = []string{c.Skill, strconv.FormatInt(c.Frequency, 10)}
	}
	a.con.Table([]string{"Skill", "Candidates"}, rows)
	return &CommandResult{}, nil
}

func (a *App) resumeGraphCommand(ctx context.Context) (*CommandResult, error) {
	rec, err := a.pickResume(ctx, store.StatusCompleted, "Resume")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return &CommandResult{Content: "No resumes ingested yet."}, nil
	}
	entities, err := a.graph.Entities(ctx, rec.ResumeID, "")
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(entities))
	for i, e := range entities {
		rows[i] = []string{e.Name, e.Type, truncate(e.Description, 60)}
	}
	a.con.Table([]string{"Entity", "Type", "Description"}, rows)

	rels, err := a.graph.Relationships(ctx, rec.ResumeID)
	if err != nil {
		return nil, err
	}
	rows = make([][]string, len(rels))
	for i, r := range rels {
		rows[i] = []string{r.Subject, r.Predicate, r.Object}
	}
	a.con.Table([]string{"Subject", "Relationship", "Object"}, rows)
	return &CommandResult{}, nil
}

func notEmpty(field string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s: must not be empty", field)
		}
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
