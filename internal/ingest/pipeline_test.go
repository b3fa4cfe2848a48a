package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/config"
	"github.com/nidhogg/resumemind/internal/document"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/store"
)

const cleanedResume = `# Jane Doe

Backend engineer.

## Experience

- Senior Engineer at Acme (2019-2024)

## Skills

- Go`

// fakeLLM answers each agent by its system prompt.
type fakeLLM struct {
	mu        sync.Mutex
	calls     int
	cleanJSON string
}

func (f *fakeLLM) Route(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	sys := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content
	reply := "ok"
	switch {
	case strings.HasPrefix(sys, "You are an expert resume formatter"):
		reply = cleanedResume
	case strings.HasPrefix(sys, "You are a markdown resume validator"):
		reply = "APPROVED"
	case strings.HasPrefix(sys, "You convert the log of a resume formatting team"):
		reply = f.cleanJSON
	case strings.HasPrefix(sys, "You are an expert entity extractor"):
		if i := strings.Index(user, "Section:\n"); i >= 0 {
			reply = user[i:]
		}
	case strings.HasPrefix(sys, "You convert the output of a graph extraction team"):
		reply = sectionExtraction(user)
	}
	return &provider.ChatResponse{Content: reply, Usage: provider.Usage{TotalTokens: 1}}, nil
}

func (f *fakeLLM) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sectionExtraction(teamOutput string) string {
	switch {
	case strings.Contains(teamOutput, "## Experience"):
		return `{"triplets": [
			{"subject": "Jane Doe", "predicate": "WORKED_AT", "object": "Acme", "subject_type": "PERSON", "object_type": "COMPANY",
			 "relationship_description": "Jane worked at Acme from 2019 to 2024"},
			{"subject": "Jane Doe", "predicate": "HAS_POSITION", "object": "Senior Engineer", "subject_type": "PERSON", "object_type": "POSITION"}],
			"entities": {"Acme": "COMPANY"}, "entity_descriptions": {"Acme": "employer"},
			"validation_status": true, "validation_message": "experience"}`
	case strings.Contains(teamOutput, "## Skills"):
		return "```json\n" + `{"triplets": [
			{"subject": "Jane Doe", "predicate": "has skill", "object": "Go", "subject_type": "person", "object_type": "skill"},
			{"subject": "Jane Doe", "predicate": "LIKES", "object": "Go", "subject_type": "PERSON", "object_type": "SKILL"}],
			"entities": {"Go": "skill"}, "validation_status": true, "validation_message": "skills"}` + "\n```"
	default:
		return `{"triplets": [], "entities": {"Jane Doe": "PERSON"}, "entity_descriptions": {"Jane Doe": "Backend engineer"},
			"validation_status": true, "validation_message": "profile"}`
	}
}

type fakeEmbedder struct {
	failures int
	texts    []string
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding service unavailable")
	}
	f.texts = append(f.texts, texts...)
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

// fakeGraph records writes; other methods are unused here.
type fakeGraph struct {
	graph.Store
	writes  map[string]*graph.Extraction
	deletes []string
}

func (f *fakeGraph) DeleteResume(_ context.Context, resumeID string) error {
	f.deletes = append(f.deletes, resumeID)
	delete(f.writes, resumeID)
	return nil
}

func (f *fakeGraph) WriteResume(_ context.Context, resumeID string, x *graph.Extraction) error {
	if f.writes == nil {
		f.writes = map[string]*graph.Extraction{}
	}
	f.writes[resumeID] = x
	return nil
}

type fakeIndexer struct {
	points  int
	deletes []string
}

func (f *fakeIndexer) DeleteResume(_ context.Context, resumeID string) error {
	f.deletes = append(f.deletes, resumeID)
	return nil
}

func (f *fakeIndexer) IndexResume(_ context.Context, _ string, x *graph.Extraction) (int, error) {
	n := 0
	for _, t := range x.Triples {
		if len(t.RelationshipEmbedding) > 0 {
			n++
		}
	}
	f.points += n
	return n, nil
}

type recordingObserver struct {
	started  []Stage
	finished []Stage
	failed   []Stage
	retries  int
}

func (o *recordingObserver) StageStarted(s Stage) { o.started = append(o.started, s) }
func (o *recordingObserver) StageFinished(s Stage, _ string) { o.finished = append(o.finished, s) }
func (o *recordingObserver) StageFailed(s Stage, _ error) bool {
	o.failed = append(o.failed, s)
	if o.retries > 0 {
		o.retries--
		return true
	}
	return false
}

type fixture struct {
	llm      *fakeLLM
	store    *store.Store
	pipeline *Pipeline
	path     string
}

func newFixture(t *testing.T, d Deps) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"), store.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	path := filepath.Join(dir, "jane.txt")
	if err := os.WriteFile(path, []byte("JANE DOE\r\nbackend  engineer\r\nACME 2019-2024 senior engineer\r\nskills: go"), 0o644); err != nil {
		t.Fatal(err)
	}

	cleanJSON, _ := json.Marshal(map[string]any{
		"formatted_resume":   cleanedResume,
		"validation_status":  true,
		"validation_message": "clean",
	})
	llm := &fakeLLM{cleanJSON: string(cleanJSON)}
	d.Parser = document.NewConverter(zap.NewNop())
	d.Records = st
	d.Engine = agent.NewEngine(llm, zap.NewNop())
	cfg := config.Default().Ingest
	return &fixture{llm: llm, store: st, pipeline: New(d, cfg, zap.NewNop()), path: path}
}

func TestRunIngestsResume(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{}
	g := &fakeGraph{}
	idx := &fakeIndexer{}
	obs := &recordingObserver{}
	rev := &scriptedReviewer{decisions: []Decision{{Action: Accept}, {Action: Reject}, {Action: Accept}}}
	f := newFixture(t, Deps{Embedder: emb, Graph: g, Index: idx, Reviewer: rev, Observer: obs})

	res, err := f.pipeline.Run(ctx, f.path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate || !res.GraphWrite {
		t.Errorf("unexpected result %+v", res)
	}
	if len(res.Sections) != 3 || res.Sections[0].Title != "Jane Doe" {
		t.Errorf("unexpected sections %+v", res.Sections)
	}
	if res.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", res.Dropped)
	}

	x := g.writes[res.ResumeID]
	if x == nil {
		t.Fatal("graph not written")
	}
	if len(x.Triples) != 2 || x.Triples[1].Predicate != "HAS_SKILL" || x.Triples[1].ObjectType != "SKILL" {
		t.Errorf("unexpected triples %+v", x.Triples)
	}
	if len(x.Entities) != 3 || x.Entities["Go"] != "SKILL" || x.EntityDescriptions["Jane Doe"] != "Backend engineer" {
		t.Errorf("unexpected entities %v %v", x.Entities, x.EntityDescriptions)
	}
	if !x.Valid || x.Message != "profile; experience; skills" {
		t.Errorf("validation = %t %q", x.Valid, x.Message)
	}

	// 3 entities plus subject, object and relationship per triple.
	if res.Embedded != 9 || len(emb.texts) != 9 {
		t.Errorf("embedded %d vectors from %d texts", res.Embedded, len(emb.texts))
	}
	if !strings.HasPrefix(emb.texts[0], "Entity: Acme\nType: COMPANY\nDescription: employer\nContext: # Jane Doe") {
		t.Errorf("unexpected entity text %q", emb.texts[0])
	}
	if !strings.HasPrefix(emb.texts[5], "Relationship: WORKED_AT\nSubject: Jane Doe (PERSON)\nObject: Acme (COMPANY)\nDescription: Jane worked at Acme") {
		t.Errorf("unexpected relationship text %q", emb.texts[5])
	}
	if len(x.EntityEmbeddings) != 3 || len(x.Triples[0].RelationshipEmbedding) != 2 {
		t.Error("embeddings not attached")
	}
	if res.Indexed != 2 || idx.points != 2 {
		t.Errorf("indexed %d points", res.Indexed)
	}

	want := []Stage{StageParse, StagePersist, StageClean, StageSplit, StageExtract, StageReview, StageEmbed, StageGraph, StageIndex}
	if len(obs.finished) != len(want) {
		t.Fatalf("finished stages %v, want %v", obs.finished, want)
	}
	for i := range want {
		if obs.finished[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, obs.finished[i], want[i])
		}
	}

	rec, err := f.store.GetResume(ctx, res.ResumeID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusCompleted || !rec.GraphIngested || rec.CleanedContent != cleanedResume {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.FileType != ".txt" || !strings.Contains(rec.RawContent, "JANE DOE\nbackend") {
		t.Errorf("raw content not stored: %+v", rec)
	}
}

func TestRunSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Deps{})

	first, err := f.pipeline.Run(ctx, f.path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.GraphWrite || first.Embedded != 0 {
		t.Errorf("graph and embedding stages should be skipped: %+v", first)
	}
	calls := f.llm.count()

	again, err := f.pipeline.Run(ctx, f.path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Duplicate || again.ResumeID != first.ResumeID {
		t.Errorf("expected duplicate of %s, got %+v", first.ResumeID, again)
	}
	if f.llm.count() != calls {
		t.Error("duplicate run should not call the model")
	}

	forced, err := f.pipeline.Run(ctx, f.path, Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if forced.Duplicate || forced.ResumeID != first.ResumeID || f.llm.count() == calls {
		t.Errorf("forced run should reprocess the same record: %+v", forced)
	}
	n, err := f.store.CountResumes(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("got %d records, want 1", n)
	}
}

func TestForcedRunReplacesEarlierGraph(t *testing.T) {
	ctx := context.Background()
	g := &fakeGraph{}
	idx := &fakeIndexer{}
	rev := &scriptedReviewer{}
	f := newFixture(t, Deps{Graph: g, Index: idx, Embedder: &fakeEmbedder{}, Reviewer: rev})

	first, err := f.pipeline.Run(ctx, f.path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first.Replaced || len(g.deletes) != 0 || len(idx.deletes) != 0 {
		t.Fatalf("first run should not delete anything: %+v", first)
	}

	// Reject the first triple this time; it must not survive from the first run.
	rev.decisions = []Decision{{Action: Reject}}
	forced, err := f.pipeline.Run(ctx, f.path, Options{Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if !forced.Replaced {
		t.Error("forced run should replace the earlier ingestion")
	}
	if len(g.deletes) != 1 || g.deletes[0] != first.ResumeID || len(idx.deletes) != 1 {
		t.Errorf("graph deletes %v, index deletes %v", g.deletes, idx.deletes)
	}
	written := g.writes[first.ResumeID]
	if written == nil || len(written.Triples) != len(first.Extraction.Triples)-1 {
		t.Errorf("graph should hold only the triples approved by the forced run")
	}
}

func TestRunCancelledReview(t *testing.T) {
	ctx := context.Background()
	g := &fakeGraph{}
	rev := &scriptedReviewer{decisions: []Decision{{Action: Cancel}}}
	f := newFixture(t, Deps{Graph: g, Reviewer: rev})

	res, err := f.pipeline.Run(ctx, f.path, Options{})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageReview {
		t.Errorf("expected review stage error, got %v", err)
	}
	if len(g.writes) != 0 {
		t.Error("cancelled ingestion must not write the graph")
	}
	rec, err := f.store.GetResume(ctx, res.ResumeID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusFailed || rec.ErrorMessage != "cancelled by user" {
		t.Errorf("unexpected record state %s %q", rec.Status, rec.ErrorMessage)
	}
}

func TestRunWithoutRelationships(t *testing.T) {
	ctx := context.Background()
	g := &fakeGraph{}
	rev := &scriptedReviewer{approvals: []bool{false}}
	f := newFixture(t, Deps{Graph: g, Reviewer: rev})
	cleanJSON, _ := json.Marshal(map[string]any{
		"formatted_resume":  "# Jane Doe\n\nBackend engineer.",
		"validation_status": true,
	})
	f.llm.cleanJSON = string(cleanJSON)

	res, err := f.pipeline.Run(ctx, f.path, Options{})
	if !errors.Is(err, ErrNoRelationships) {
		t.Fatalf("got %v, want ErrNoRelationships", err)
	}
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageExtract {
		t.Errorf("expected extract stage error, got %v", err)
	}
	if len(rev.items) != 0 || len(rev.approved) != 0 || len(g.writes) != 0 {
		t.Error("nothing should reach review or the graph")
	}
	rec, err := f.store.GetResume(ctx, res.ResumeID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusFailed {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestRunRetriesFailedStage(t *testing.T) {
	emb := &fakeEmbedder{failures: 1}
	obs := &recordingObserver{retries: 1}
	f := newFixture(t, Deps{Embedder: emb, Observer: obs})

	res, err := f.pipeline.Run(context.Background(), f.path, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(obs.failed) != 1 || obs.failed[0] != StageEmbed {
		t.Errorf("failed stages %v", obs.failed)
	}
	if res.Embedded == 0 {
		t.Error("embedding should succeed on retry")
	}
}

func TestRunFailureMarksRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Deps{Embedder: &fakeEmbedder{failures: 5}})

	res, err := f.pipeline.Run(ctx, f.path, Options{})
	if err == nil || !strings.Contains(err.Error(), "embedding service unavailable") {
		t.Fatalf("unexpected error %v", err)
	}
	rec, err := f.store.GetResume(ctx, res.ResumeID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.StatusFailed || !strings.Contains(rec.ErrorMessage, "embed") {
		t.Errorf("unexpected record state %s %q", rec.Status, rec.ErrorMessage)
	}
}

func TestRunUnsupportedFile(t *testing.T) {
	f := newFixture(t, Deps{})
	path := filepath.Join(t.TempDir(), "resume.odt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := f.pipeline.Run(context.Background(), path, Options{})
	if !errors.Is(err, document.ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestCleanFallsBackToDraft(t *testing.T) {
	f := newFixture(t, Deps{})
	f.llm.cleanJSON = "sorry, no json today"
	out, err := f.pipeline.Clean(context.Background(), "raw")
	if err != nil {
		t.Fatal(err)
	}
	if out.Markdown != cleanedResume || !out.Valid || out.Rounds != 1 {
		t.Errorf("unexpected cleaned result %+v", out)
	}
}

func TestContext(t *testing.T) {
	if got := Context("héllo world", 5); got != "héllo" {
		t.Errorf("got %q", got)
	}
	if got := Context("short", 500); got != "short" {
		t.Errorf("got %q", got)
	}
}
