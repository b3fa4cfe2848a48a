package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/document"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/ingest"
	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/ui"
)

var stageLabels = map[ingest.Stage]string{
	ingest.StageParse:   "Parsing document",
	ingest.StagePersist: "Saving resume record",
	ingest.StageClean:   "Cleaning with the structuring team",
	ingest.StageSplit:   "Splitting sections",
	ingest.StageExtract: "Extracting entities and relationships",
	ingest.StageReview:  "Reviewing relationships",
	ingest.StageEmbed:   "Generating embeddings",
	ingest.StageGraph:   "Writing the knowledge graph",
	ingest.StageIndex:   "Indexing relationships",
}

func stageLabel(s ingest.Stage) string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

func (a *App) ingestCommand(ctx context.Context) (*CommandResult, error) {
	if a.pipeline == nil {
		return nil, provider.ErrNoProvider
	}
	a.con.Muted("Supported formats: %s", strings.Join(document.Supported(), ", "))
	path, err := a.con.AskValid("Path to the resume", "", validResumePath)
	if err != nil {
		return nil, err
	}
	path = cleanPath(path)

	res, err := a.pipeline.Run(ctx, path, ingest.Options{})
	if err == nil && res.Duplicate {
		again, cerr := a.con.Confirm(fmt.Sprintf("%s was already ingested as %s. Ingest it again?", res.FileName, res.ResumeID), false)
		if cerr != nil {
			return nil, cerr
		}
		if !again {
			return &CommandResult{Content: "Skipped."}, nil
		}
		res, err = a.pipeline.Run(ctx, path, ingest.Options{Force: true})
	}
	if errors.Is(err, ingest.ErrCancelled) {
		return &CommandResult{Content: "Ingestion cancelled. Nothing was written to the graph."}, nil
	}
	if errors.Is(err, ingest.ErrNoRelationships) {
		return &CommandResult{Content: "No relationships were found in this resume. Nothing was written to the graph."}, nil
	}
	if err != nil {
		return nil, err
	}

	a.con.KeyValues("Ingestion complete", [][2]string{
		{"Resume ID", res.ResumeID},
		{"File", res.FileName},
		{"Sections", strconv.Itoa(len(res.Sections))},
		{"Entities", strconv.Itoa(len(res.Extraction.Entities))},
		{"Relationships", strconv.Itoa(len(res.Extraction.Triples))},
		{"Rejected", strconv.Itoa(res.Review.Rejected)},
		{"Embeddings", strconv.Itoa(res.Embedded)},
		{"Indexed", strconv.Itoa(res.Indexed)},
		{"Took", res.Duration.Round(time.Millisecond).String()},
	})
	if !res.GraphWrite {
		a.con.Warn("No graph backend is configured. The graph was not written.")
	} else if res.Replaced {
		a.con.Muted("The graph of the earlier ingestion was replaced.")
	}
	return &CommandResult{}, nil
}

func validResumePath(raw string) error {
	p := cleanPath(raw)
	if p == "" {
		return fmt.Errorf("path: must not be empty")
	}
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("path: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path: %s is a directory", p)
	}
	if !document.IsSupported(p) {
		return fmt.Errorf("path: %w: %s", document.ErrUnsupportedFormat, filepath.Ext(p))
	}
	return nil
}

// cleanPath strips the quotes a terminal adds to dropped files and expands ~.
func cleanPath(raw string) string {
	p := strings.Trim(strings.TrimSpace(raw), `"'`)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// consoleReviewer asks the user about every extracted triple.
type consoleReviewer struct {
	con *ui.Console
}

var reviewActions = []ingest.Action{ingest.Accept, ingest.Reject, ingest.Edit, ingest.AcceptAll, ingest.Cancel}

func (r *consoleReviewer) Review(_ context.Context, item ingest.ReviewItem) (ingest.Decision, error) {
	if item.Index == 0 && item.Problem == "" {
		r.con.Section(fmt.Sprintf("Review pass %d: %d relationships", item.Pass, item.Total))
	}
	if item.Problem != "" {
		r.con.Error("Edit refused: %s", item.Problem)
	}

	t := item.Triple
	status := ""
	if item.Pass > 1 && !item.Accepted {
		status = " (rejected)"
	}
	r.con.Printf("[%d/%d] %s (%s) --[%s]--> %s (%s)%s\n",
		item.Index+1, item.Total, t.Subject, t.SubjectType, t.Predicate, t.Object, t.ObjectType, status)
	if t.RelationshipDescription != "" {
		r.con.Muted("  %s", t.RelationshipDescription)
	}
	r.con.Muted("  1 accept  2 reject  3 edit  4 accept all remaining  5 cancel ingestion")

	def := 1
	if item.Pass > 1 && !item.Accepted {
		def = 2
	}
	n, err := r.con.Choose("Action", len(reviewActions), def)
	if err != nil {
		return ingest.Decision{}, err
	}
	d := ingest.Decision{Action: reviewActions[n-1]}
	if d.Action != ingest.Edit {
		return d, nil
	}

	r.con.Muted("  Press Enter to keep a value.")
	if d.Triple.Subject, err = r.con.Ask("Subject", t.Subject); err != nil {
		return d, err
	}
	if d.Triple.Predicate, err = r.con.Ask("Relationship", t.Predicate); err != nil {
		return d, err
	}
	if d.Triple.Object, err = r.con.Ask("Object", t.Object); err != nil {
		return d, err
	}
	return d, nil
}

func (r *consoleReviewer) Approve(_ context.Context, accepted []graph.Triple, rejected int) (bool, error) {
	r.con.Section("Review summary")
	if len(accepted) > 0 {
		rows := make([][]string, len(accepted))
		for i, t := range accepted {
			rows[i] = []string{strconv.Itoa(i + 1), t.Subject, t.Predicate, t.Object}
		}
		r.con.Table([]string{"#", "Subject", "Relationship", "Object"}, rows)
	}
	r.con.Info("%d accepted, %d rejected", len(accepted), rejected)
	ok, err := r.con.Confirm("Write these relationships to the graph?", true)
	if err == nil && !ok {
		r.con.Info("Starting another review pass.")
	}
	return ok, err
}

// consoleObserver reports stages and offers to retry a failed one.
type consoleObserver struct {
	con    *ui.Console
	logger *zap.Logger
}

func (o *consoleObserver) StageStarted(s ingest.Stage) {
	o.con.Info("%s...", stageLabel(s))
}

func (o *consoleObserver) StageFinished(s ingest.Stage, detail string) {
	if detail == "" {
		o.con.Success("%s", stageLabel(s))
		return
	}
	o.con.Success("%s: %s", stageLabel(s), detail)
}

func (o *consoleObserver) StageFailed(s ingest.Stage, err error) bool {
	o.logger.Warn("ingestion stage failed", zap.String("stage", string(s)), zap.Error(err))
	o.con.Error("%s failed: %v", stageLabel(s), err)
	retry, cerr := o.con.Confirm("Retry this step?", false)
	return cerr == nil && retry
}
