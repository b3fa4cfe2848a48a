package rag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/provider"
	"github.com/nidhogg/resumemind/internal/store"
	"github.com/nidhogg/resumemind/internal/vectorstore"
	"github.com/nidhogg/resumemind/internal/window"
)

type fakeEmbedder struct{ calls [][]string }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type fakeIndex struct {
	points     map[string]vectorstore.Point
	collection string
	dim        uint64
	filters    []map[string]string
	searchErr  error
}

func newFakeIndex() *fakeIndex { return &fakeIndex{points: map[string]vectorstore.Point{}} }

func (f *fakeIndex) EnsureCollection(_ context.Context, name string, dim uint64) error {
	f.collection, f.dim = name, dim
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ []float32, topK uint64, filter map[string]string) ([]*vectorstore.SearchResult, error) {
	f.filters = append(f.filters, filter)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []*vectorstore.SearchResult
	for id, p := range f.points {
		if filter != nil && p.Payload["resume_id"] != filter["resume_id"] {
			continue
		}
		out = append(out, &vectorstore.SearchResult{ID: id, Score: 0.9, Payload: p.Payload})
		if uint64(len(out)) == topK {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) DeleteWhere(_ context.Context, _ string, filter map[string]string) error {
	for id, p := range f.points {
		if p.Payload["resume_id"] == filter["resume_id"] {
			delete(f.points, id)
		}
	}
	return nil
}

func (f *fakeIndex) Close() error { return nil }

// fakeGraph answers similarity queries; other methods are unused here.
type fakeGraph struct {
	graph.Store
	rels []graph.ScoredRelationship
	ents []graph.ScoredEntity
}

func (f *fakeGraph) SimilarRelationships(context.Context, graph.SimilarityQuery) ([]graph.ScoredRelationship, error) {
	return f.rels, nil
}

func (f *fakeGraph) SimilarEntities(context.Context, graph.SimilarityQuery) ([]graph.ScoredEntity, error) {
	return f.ents, nil
}

func sampleExtraction() *graph.Extraction {
	x := graph.NewExtraction()
	x.Entities = map[string]string{"Jane": "PERSON", "Go": "SKILL", "Acme": "COMPANY"}
	x.EntityDescriptions["Go"] = "programming language"
	x.Triples = []graph.Triple{
		{Subject: "Jane", Predicate: "HAS_SKILL", Object: "Go", SubjectType: "PERSON", ObjectType: "SKILL",
			RelationshipDescription: "Jane writes Go daily", RelationshipEmbedding: []float32{1, 0}},
		{Subject: "Jane", Predicate: "WORKED_AT", Object: "Acme", SubjectType: "PERSON", ObjectType: "COMPANY"},
	}
	return x
}

func TestIndexAndQuery(t *testing.T) {
	ctx := context.Background()
	idx := newFakeIndex()
	o := NewOrchestrator(&fakeEmbedder{}, idx, nil, "", zap.NewNop())
	if err := o.InitCollection(ctx); err != nil {
		t.Fatal(err)
	}
	if idx.collection != DefaultCollection || idx.dim != 2 {
		t.Errorf("collection %s dim %d", idx.collection, idx.dim)
	}

	n, err := o.IndexResume(ctx, "r1", sampleExtraction())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("indexed %d points, want 1 (only embedded relationships)", n)
	}
	// Re-indexing overwrites the same point.
	if _, err := o.IndexResume(ctx, "r1", sampleExtraction()); err != nil {
		t.Fatal(err)
	}
	if len(idx.points) != 1 {
		t.Errorf("got %d points after re-index", len(idx.points))
	}

	results, err := o.Query(ctx, "r1", "what languages?", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Object != "Go" || results[0].ObjectDescription != "programming language" {
		t.Errorf("unexpected results %+v", results)
	}
	if idx.filters[0]["resume_id"] != "r1" {
		t.Errorf("search not filtered by resume: %v", idx.filters[0])
	}

	if _, err := o.Query(ctx, "", "anything", 5); err != nil {
		t.Fatal(err)
	}
	if idx.filters[1] != nil {
		t.Errorf("all-resume search should not filter, got %v", idx.filters[1])
	}

	if err := o.DeleteResume(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if len(idx.points) != 0 {
		t.Errorf("points left after delete: %d", len(idx.points))
	}
}

func TestQueryFallsBackToGraph(t *testing.T) {
	idx := newFakeIndex()
	idx.searchErr = errors.New("qdrant unavailable")
	g := &fakeGraph{
		rels: []graph.ScoredRelationship{{Relationship: graph.Relationship{Subject: "Jane", Predicate: "HAS_SKILL", Object: "Go"}, Similarity: 0.4}},
		ents: []graph.ScoredEntity{{Entity: graph.Entity{Name: "Go", Type: "SKILL", Description: "language"}, Similarity: 0.8}},
	}
	o := NewOrchestrator(&fakeEmbedder{}, idx, g, "", zap.NewNop())
	results, err := o.Query(context.Background(), "r1", "skills", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Source != "graph:entity" || results[1].Predicate != "HAS_SKILL" {
		t.Errorf("unexpected results %+v", results)
	}

	none := NewOrchestrator(&fakeEmbedder{}, nil, nil, "", zap.NewNop())
	if _, err := none.Query(context.Background(), "r1", "skills", 5); !errors.Is(err, ErrNoRetriever) {
		t.Errorf("got %v, want ErrNoRetriever", err)
	}
	if n, err := none.IndexResume(context.Background(), "r1", sampleExtraction()); n != 0 || err != nil {
		t.Errorf("index without qdrant: n=%d err=%v", n, err)
	}
}

func TestFormatContext(t *testing.T) {
	if FormatContext(nil) != "" {
		t.Error("empty context should be empty")
	}
	got := FormatContext([]Result{{Subject: "Jane", Predicate: "HAS_SKILL", Object: "Go", ObjectDescription: "language", RelationshipDescription: "daily"}})
	want := "1. Jane --[HAS_SKILL]--> Go\n   Object: language\n   Relationship: daily\n\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

type echoRouter struct{ reqs []*provider.ChatRequest }

func (r *echoRouter) Route(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	r.reqs = append(r.reqs, req)
	return &provider.ChatResponse{Content: " Jane knows Go. "}, nil
}

func TestAskKeepsHistory(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "qa.db"), store.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	idx := newFakeIndex()
	emb := &fakeEmbedder{}
	o := NewOrchestrator(emb, idx, nil, "", zap.NewNop())
	if _, err := o.IndexResume(ctx, "r1", sampleExtraction()); err != nil {
		t.Fatal(err)
	}
	router := &echoRouter{}
	qa := NewQA(o, agent.NewEngine(router, zap.NewNop()), st, zap.NewNop())

	ans, err := qa.Ask(ctx, "r1", "What languages does Jane know?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != "Jane knows Go." || len(ans.Context) != 1 {
		t.Errorf("unexpected answer %+v", ans)
	}
	first := router.reqs[0]
	if len(first.Messages) != 2 || !strings.Contains(first.Messages[1].Content, "Jane --[HAS_SKILL]--> Go") {
		t.Errorf("unexpected first request %+v", first.Messages)
	}

	if _, err := qa.Ask(ctx, "r1", "How long?"); err != nil {
		t.Fatal(err)
	}
	second := router.reqs[1]
	// system + previous question + previous answer + new prompt
	if len(second.Messages) != 4 || second.Messages[1].Content != "What languages does Jane know?" {
		t.Errorf("history not replayed: %+v", second.Messages)
	}
	if got := emb.calls[len(emb.calls)-1][0]; got != "What languages does Jane know? How long?" {
		t.Errorf("follow-up search query = %q", got)
	}

	if err := qa.Reset(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := qa.Ask(ctx, "r1", "Again?"); err != nil {
		t.Fatal(err)
	}
	if len(router.reqs[2].Messages) != 2 {
		t.Errorf("reset should drop history, got %d messages", len(router.reqs[2].Messages))
	}
}

func TestAskWithoutContextSkipsModel(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "qa.db"), store.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	router := &echoRouter{}
	qa := NewQA(NewOrchestrator(&fakeEmbedder{}, newFakeIndex(), nil, "", zap.NewNop()),
		agent.NewEngine(router, zap.NewNop()), st, zap.NewNop())
	ans, err := qa.Ask(ctx, "", "Who knows Rust?")
	if err != nil {
		t.Fatal(err)
	}
	if ans.Text != NoContextAnswer || len(router.reqs) != 0 {
		t.Errorf("unexpected answer %q with %d model calls", ans.Text, len(router.reqs))
	}
	if _, err := qa.Ask(ctx, "r1", "   "); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestAskFitsWindow(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "qa.db"), store.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	o := NewOrchestrator(&fakeEmbedder{}, newFakeIndex(), nil, "", zap.NewNop())
	if _, err := o.IndexResume(ctx, "r1", sampleExtraction()); err != nil {
		t.Fatal(err)
	}
	router := &echoRouter{}
	qa := NewQA(o, agent.NewEngine(router, zap.NewNop()), st, zap.NewNop())
	qa.SetWindow(window.Config{MaxTokens: 200, ReserveRatio: 0.5})

	if _, err := qa.Ask(ctx, "r1", "What languages does Jane know?"); err != nil {
		t.Fatal(err)
	}
	ans, err := qa.Ask(ctx, "r1", "How long?")
	if err != nil {
		t.Fatal(err)
	}
	if len(ans.Context) != 1 {
		t.Errorf("the best fact must survive trimming, got %d", len(ans.Context))
	}
	last := router.reqs[len(router.reqs)-1]
	if len(last.Messages) != 2 {
		t.Errorf("history should not fit the window, got %d messages", len(last.Messages))
	}
	if len(router.reqs) != 3 {
		t.Errorf("expected a summarization attempt between questions, got %d calls", len(router.reqs))
	}
}
