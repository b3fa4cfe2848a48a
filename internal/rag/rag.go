package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/embedding"
	"github.com/nidhogg/resumemind/internal/graph"
	"github.com/nidhogg/resumemind/internal/vectorstore"
)

// DefaultCollection holds one point per stored relationship.
const DefaultCollection = "resume_relationships"

// ErrNoRetriever is returned when neither the vector index nor the graph is available.
var ErrNoRetriever = errors.New("no vector index or graph configured")

// Orchestrator indexes relationship embeddings in Qdrant and retrieves them
// for questions, falling back to graph similarity when Qdrant is unavailable.
type Orchestrator struct {
	embedder   embedding.Provider
	index      vectorstore.Index
	graph      graph.Store
	collection string
	logger     *zap.Logger
}

// NewOrchestrator creates a new RAG orchestrator. index and graph may be nil.
func NewOrchestrator(embedder embedding.Provider, index vectorstore.Index, g graph.Store, collection string, logger *zap.Logger) *Orchestrator {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Orchestrator{embedder: embedder, index: index, graph: g, collection: collection, logger: logger}
}

// HasIndex reports whether a vector index is configured.
func (o *Orchestrator) HasIndex() bool { return o.index != nil }

// InitCollection ensures the relationship collection exists.
func (o *Orchestrator) InitCollection(ctx context.Context) error {
	if o.index == nil {
		return nil
	}
	dim := uint64(o.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := o.index.EnsureCollection(ctx, o.collection, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", o.collection, err)
	}
	return nil
}

// Result is one retrieved fact.
type Result struct {
	Subject                 string
	Predicate               string
	Object                  string
	SubjectDescription      string
	ObjectDescription       string
	RelationshipDescription string
	ResumeID                string
	Source                  string
	Score                   float32
}

// PointID derives a stable point ID so re-indexing a resume overwrites its points.
func PointID(resumeID string, t graph.Triple) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(resumeID+"\x00"+t.Key())).String()
}

// IndexResume upserts every embedded relationship of x. It returns the number
// of points written; without an index it does nothing.
func (o *Orchestrator) IndexResume(ctx context.Context, resumeID string, x *graph.Extraction) (int, error) {
	if o.index == nil || x == nil {
		return 0, nil
	}
	indexedAt := time.Now().UTC().Format(time.RFC3339)
	points := make([]vectorstore.Point, 0, len(x.Triples))
	for _, t := range x.Triples {
		if len(t.RelationshipEmbedding) == 0 {
			continue
		}
		points = append(points, vectorstore.Point{
			ID:     PointID(resumeID, t),
			Vector: t.RelationshipEmbedding,
			Payload: map[string]string{
				"resume_id":                resumeID,
				"subject":                  t.Subject,
				"predicate":                t.Predicate,
				"object":                   t.Object,
				"subject_type":             t.SubjectType,
				"object_type":              t.ObjectType,
				"subject_description":      descriptionOf(x, t.Subject, t.SubjectDescription),
				"object_description":       descriptionOf(x, t.Object, t.ObjectDescription),
				"relationship_description": t.RelationshipDescription,
				"indexed_at":               indexedAt,
			},
		})
	}
	if len(points) == 0 {
		return 0, nil
	}
	if err := o.index.EnsureCollection(ctx, o.collection, uint64(len(points[0].Vector))); err != nil {
		return 0, fmt.Errorf("init collection %s: %w", o.collection, err)
	}
	if err := o.index.Upsert(ctx, o.collection, points); err != nil {
		return 0, err
	}
	o.logger.Debug("relationships indexed", zap.String("resume_id", resumeID), zap.Int("points", len(points)))
	return len(points), nil
}

func descriptionOf(x *graph.Extraction, name, fallback string) string {
	if fallback != "" {
		return fallback
	}
	return x.EntityDescriptions[name]
}

// DeleteResume removes a resume's points from the index.
func (o *Orchestrator) DeleteResume(ctx context.Context, resumeID string) error {
	if o.index == nil {
		return nil
	}
	return o.index.DeleteWhere(ctx, o.collection, map[string]string{"resume_id": resumeID})
}

// Query embeds the query and returns the top-K facts, restricted to one resume
// unless resumeID is empty.
func (o *Orchestrator) Query(ctx context.Context, resumeID, query string, topK int) ([]Result, error) {
	vectors, err := o.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	qvec := vectors[0]

	if o.index != nil {
		var filter map[string]string
		if resumeID != "" {
			filter = map[string]string{"resume_id": resumeID}
		}
		hits, err := o.index.Search(ctx, o.collection, qvec, uint64(topK), filter)
		if err == nil {
			return fromHits(hits, o.collection), nil
		}
		if o.graph == nil {
			return nil, err
		}
		o.logger.Warn("vector search failed, using graph similarity", zap.Error(err))
	}
	if o.graph == nil {
		return nil, ErrNoRetriever
	}
	return o.fromGraph(ctx, resumeID, qvec, topK)
}

func fromHits(hits []*vectorstore.SearchResult, collection string) []Result {
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, Result{
			Subject:                 h.Payload["subject"],
			Predicate:               h.Payload["predicate"],
			Object:                  h.Payload["object"],
			SubjectDescription:      h.Payload["subject_description"],
			ObjectDescription:       h.Payload["object_description"],
			RelationshipDescription: h.Payload["relationship_description"],
			ResumeID:                h.Payload["resume_id"],
			Source:                  collection + ":" + h.ID,
			Score:                   h.Score,
		})
	}
	return out
}

func (o *Orchestrator) fromGraph(ctx context.Context, resumeID string, qvec []float32, topK int) ([]Result, error) {
	q := graph.SimilarityQuery{Vector: qvec, ResumeID: resumeID, TopK: topK}
	rels, err := o.graph.SimilarRelationships(ctx, q)
	if err != nil {
		return nil, err
	}
	ents, err := o.graph.SimilarEntities(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(rels)+len(ents))
	for _, r := range rels {
		out = append(out, Result{
			Subject:                 r.Subject,
			Predicate:               r.Predicate,
			Object:                  r.Object,
			RelationshipDescription: r.Description,
			ResumeID:                r.ResumeID,
			Source:                  "graph:relationship",
			Score:                   float32(r.Similarity),
		})
	}
	for _, e := range ents {
		out = append(out, Result{
			Subject:            e.Name,
			Predicate:          "IS_A",
			Object:             e.Type,
			SubjectDescription: e.Description,
			ResumeID:           e.ResumeID,
			Source:             "graph:entity",
			Score:              float32(e.Similarity),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// FormatContext renders retrieved facts into a prompt-friendly string.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s --[%s]--> %s\n", i+1, r.Subject, r.Predicate, r.Object)
		if r.SubjectDescription != "" {
			fmt.Fprintf(&b, "   Subject: %s\n", r.SubjectDescription)
		}
		if r.ObjectDescription != "" {
			fmt.Fprintf(&b, "   Object: %s\n", r.ObjectDescription)
		}
		if r.RelationshipDescription != "" {
			fmt.Fprintf(&b, "   Relationship: %s\n", r.RelationshipDescription)
		}
		b.WriteString("\n")
	}
	return b.String()
}
