package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/config"
	"github.com/nidhogg/resumemind/internal/embedding"
)

// ErrDisabled is returned by Open when no graph backend is configured.
var ErrDisabled = errors.New("graph backend disabled")

// Store is a resume knowledge graph.
type Store interface {
	Ping(ctx context.Context) error
	EnsureIndexes(ctx context.Context) error
	WriteResume(ctx context.Context, resumeID string, x *Extraction) error
	Entities(ctx context.Context, resumeID, entityType string) ([]Entity, error)
	Relationships(ctx context.Context, resumeID string) ([]Relationship, error)
	CandidatesWithSkill(ctx context.Context, skill string) ([]Candidate, error)
	CandidatesByCompany(ctx context.Context, company string) ([]Candidate, error)
	SkillCooccurrence(ctx context.Context, skill string, limit int) ([]SkillCount, error)
	SimilarEntities(ctx context.Context, q SimilarityQuery) ([]ScoredEntity, error)
	SimilarRelationships(ctx context.Context, q SimilarityQuery) ([]ScoredRelationship, error)
	DeleteResume(ctx context.Context, resumeID string) error
	Close(ctx context.Context) error
}

// Open connects to the configured backend.
func Open(cfg config.GraphConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendNeo4j:
		return NewNeo4j(cfg.Neo4j, logger)
	case config.BackendFalkorDB:
		return NewFalkorDB(cfg.FalkorDB, logger), nil
	case config.BackendNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
}

type statement struct {
	cypher string
	params map[string]any
}

type row map[string]any

// runner executes Cypher against one backend.
type runner interface {
	// write runs statements in order; backends with transactions run them atomically.
	write(ctx context.Context, stmts []statement) error
	read(ctx context.Context, st statement) ([]row, error)
	// createIndex runs an index statement, tolerating an existing index.
	createIndex(ctx context.Context, label, property string) error
	ping(ctx context.Context) error
	close(ctx context.Context) error
}

// cypherStore implements Store with openCypher shared by every backend.
type cypherStore struct {
	r       runner
	backend string
	logger  *zap.Logger
}

func (s *cypherStore) Ping(ctx context.Context) error {
	if err := s.r.ping(ctx); err != nil {
		return fmt.Errorf("%s ping: %w", s.backend, err)
	}
	return nil
}

func (s *cypherStore) Close(ctx context.Context) error {
	return s.r.close(ctx)
}

func (s *cypherStore) EnsureIndexes(ctx context.Context) error {
	for _, label := range EntityTypes {
		for _, prop := range []string{"name", "resume_id"} {
			if err := s.r.createIndex(ctx, label, prop); err != nil {
				return fmt.Errorf("create index %s.%s: %w", label, prop, err)
			}
		}
	}
	if err := s.r.createIndex(ctx, "Resume", "id"); err != nil {
		return fmt.Errorf("create index Resume.id: %w", err)
	}
	s.logger.Debug("graph indexes ensured", zap.String("backend", s.backend))
	return nil
}

func (s *cypherStore) WriteResume(ctx context.Context, resumeID string, x *Extraction) error {
	stmts, err := writeStatements(resumeID, x)
	if err != nil {
		return err
	}
	if err := s.r.write(ctx, stmts); err != nil {
		return fmt.Errorf("write resume %s: %w", resumeID, err)
	}
	s.logger.Info("resume graph written",
		zap.String("backend", s.backend),
		zap.String("resume_id", resumeID),
		zap.Int("entities", len(x.Entities)),
		zap.Int("triples", len(x.Triples)))
	return nil
}

// writeStatements builds the MERGE statements for one resume. Entities are
// merged on (name, resume_id) so re-ingestion updates them in place.
func writeStatements(resumeID string, x *Extraction) ([]statement, error) {
	if resumeID == "" {
		return nil, errors.New("resume id is required")
	}
	// Nodes and relationship endpoints share one label per name.
	labels := make(map[string]string, len(x.Entities))
	for name, typ := range x.Entities {
		labels[name] = typ
	}
	for _, t := range x.Triples {
		if labels[t.Subject] == "" {
			labels[t.Subject] = t.SubjectType
		}
		if labels[t.Object] == "" {
			labels[t.Object] = t.ObjectType
		}
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	stmts := make([]statement, 0, len(names)+len(x.Triples)+1)
	for _, name := range names {
		label := Sanitize(labels[name])
		if label == "" {
			return nil, fmt.Errorf("entity %q has no usable type", name)
		}
		stmts = append(stmts, statement{
			cypher: `MERGE (e:` + label + ` {name: $name, resume_id: $resume_id})
				SET e.type = $type, e.description = $description, e.embedding = $embedding`,
			params: map[string]any{
				"name":        name,
				"resume_id":   resumeID,
				"type":        label,
				"description": x.EntityDescriptions[name],
				"embedding":   floatParam(x.EntityEmbeddings[name]),
			},
		})
	}

	for _, t := range x.Triples {
		sl, ol, rel := Sanitize(labels[t.Subject]), Sanitize(labels[t.Object]), Sanitize(t.Predicate)
		if sl == "" || ol == "" || rel == "" {
			return nil, fmt.Errorf("triple %s-%s-%s has an unusable type", t.Subject, t.Predicate, t.Object)
		}
		stmts = append(stmts, statement{
			cypher: `MATCH (s:` + sl + ` {name: $subject, resume_id: $resume_id})
				MATCH (o:` + ol + ` {name: $object, resume_id: $resume_id})
				MERGE (s)-[r:` + rel + ` {resume_id: $resume_id}]->(o)
				SET r.description = $description, r.embedding = $embedding`,
			params: map[string]any{
				"subject":     t.Subject,
				"object":      t.Object,
				"resume_id":   resumeID,
				"description": t.RelationshipDescription,
				"embedding":   floatParam(t.RelationshipEmbedding),
			},
		})
	}

	stmts = append(stmts, statement{
		cypher: `MERGE (r:Resume {id: $resume_id})
			SET r.entity_count = $entities, r.triplet_count = $triples,
				r.validation_status = $valid, r.validation_message = $message`,
		params: map[string]any{
			"resume_id": resumeID,
			"entities":  int64(len(labels)),
			"triples":   int64(len(x.Triples)),
			"valid":     x.Valid,
			"message":   x.Message,
		},
	})
	return stmts, nil
}

func (s *cypherStore) Entities(ctx context.Context, resumeID, entityType string) ([]Entity, error) {
	match := `MATCH (e {resume_id: $resume_id})`
	if entityType != "" {
		label := Sanitize(entityType)
		if label == "" {
			return nil, fmt.Errorf("invalid entity type %q", entityType)
		}
		match = `MATCH (e:` + label + ` {resume_id: $resume_id})`
	}
	rows, err := s.r.read(ctx, statement{
		cypher: match + ` RETURN e.name AS name, e.type AS type, e.description AS description,
			e.resume_id AS resume_id, labels(e) AS labels ORDER BY name`,
		params: map[string]any{"resume_id": resumeID},
	})
	if err != nil {
		return nil, fmt.Errorf("get entities: %w", err)
	}
	out := make([]Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entity())
	}
	return out, nil
}

func (s *cypherStore) Relationships(ctx context.Context, resumeID string) ([]Relationship, error) {
	rows, err := s.r.read(ctx, statement{
		cypher: `MATCH (s)-[r {resume_id: $resume_id}]->(o)
			RETURN s.name AS subject, type(r) AS predicate, o.name AS object,
				r.description AS description, r.resume_id AS resume_id,
				labels(s) AS subject_labels, labels(o) AS object_labels
			ORDER BY subject, predicate, object`,
		params: map[string]any{"resume_id": resumeID},
	})
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	out := make([]Relationship, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.relationship())
	}
	return out, nil
}

func (s *cypherStore) candidates(ctx context.Context, rel, label, name string) ([]Candidate, error) {
	rows, err := s.r.read(ctx, statement{
		cypher: `MATCH (p:PERSON)-[:` + rel + `]->(x:` + label + `)
			WHERE toLower(x.name) = toLower($name)
			RETURN DISTINCT p.name AS name, p.resume_id AS resume_id ORDER BY name`,
		params: map[string]any{"name": name},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, Candidate{Name: r.str("name"), ResumeID: r.str("resume_id")})
	}
	return out, nil
}

func (s *cypherStore) CandidatesWithSkill(ctx context.Context, skill string) ([]Candidate, error) {
	out, err := s.candidates(ctx, "HAS_SKILL", "SKILL", skill)
	if err != nil {
		return nil, fmt.Errorf("find candidates with skill: %w", err)
	}
	return out, nil
}

func (s *cypherStore) CandidatesByCompany(ctx context.Context, company string) ([]Candidate, error) {
	out, err := s.candidates(ctx, "WORKED_AT", "COMPANY", company)
	if err != nil {
		return nil, fmt.Errorf("find candidates by company: %w", err)
	}
	return out, nil
}

func (s *cypherStore) SkillCooccurrence(ctx context.Context, skill string, limit int) ([]SkillCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.r.read(ctx, statement{
		cypher: fmt.Sprintf(`MATCH (p:PERSON)-[:HAS_SKILL]->(s1:SKILL)
			WHERE toLower(s1.name) = toLower($skill)
			MATCH (p)-[:HAS_SKILL]->(s2:SKILL)
			WHERE s2.name <> s1.name
			RETURN s2.name AS skill, count(*) AS frequency
			ORDER BY frequency DESC, skill LIMIT %d`, limit),
		params: map[string]any{"skill": skill},
	})
	if err != nil {
		return nil, fmt.Errorf("skill co-occurrence: %w", err)
	}
	out := make([]SkillCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, SkillCount{Skill: r.str("skill"), Frequency: r.num("frequency")})
	}
	return out, nil
}

// SimilarEntities ranks stored entity embeddings against q.Vector by cosine similarity.
func (s *cypherStore) SimilarEntities(ctx context.Context, q SimilarityQuery) ([]ScoredEntity, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	match := `MATCH (e)`
	if q.Type != "" {
		match = `MATCH (e:` + Sanitize(q.Type) + `)`
	}
	rows, err := s.r.read(ctx, statement{
		cypher: match + ` WHERE e.embedding IS NOT NULL AND ($resume_id = '' OR e.resume_id = $resume_id)
			RETURN e.name AS name, e.type AS type, e.description AS description,
				e.resume_id AS resume_id, labels(e) AS labels, e.embedding AS embedding`,
		params: map[string]any{"resume_id": q.ResumeID},
	})
	if err != nil {
		return nil, fmt.Errorf("similar entities: %w", err)
	}
	out := make([]ScoredEntity, 0, len(rows))
	for _, r := range rows {
		vec := r.floats("embedding")
		if len(vec) == 0 {
			continue
		}
		out = append(out, ScoredEntity{Entity: r.entity(), Similarity: embedding.Cosine(q.Vector, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return topK(out, q.TopK), nil
}

// SimilarRelationships ranks stored relationship embeddings against q.Vector.
func (s *cypherStore) SimilarRelationships(ctx context.Context, q SimilarityQuery) ([]ScoredRelationship, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}
	pattern := `MATCH (s)-[r]->(o)`
	if q.Type != "" {
		pattern = `MATCH (s)-[r:` + Sanitize(q.Type) + `]->(o)`
	}
	rows, err := s.r.read(ctx, statement{
		cypher: pattern + ` WHERE r.embedding IS NOT NULL AND ($resume_id = '' OR r.resume_id = $resume_id)
			RETURN s.name AS subject, type(r) AS predicate, o.name AS object,
				r.description AS description, r.resume_id AS resume_id,
				labels(s) AS subject_labels, labels(o) AS object_labels, r.embedding AS embedding`,
		params: map[string]any{"resume_id": q.ResumeID},
	})
	if err != nil {
		return nil, fmt.Errorf("similar relationships: %w", err)
	}
	out := make([]ScoredRelationship, 0, len(rows))
	for _, r := range rows {
		vec := r.floats("embedding")
		if len(vec) == 0 {
			continue
		}
		out = append(out, ScoredRelationship{Relationship: r.relationship(), Similarity: embedding.Cosine(q.Vector, vec)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return topK(out, q.TopK), nil
}

func (s *cypherStore) DeleteResume(ctx context.Context, resumeID string) error {
	err := s.r.write(ctx, []statement{
		{cypher: `MATCH (n {resume_id: $resume_id}) DETACH DELETE n`, params: map[string]any{"resume_id": resumeID}},
		{cypher: `MATCH (r:Resume {id: $resume_id}) DETACH DELETE r`, params: map[string]any{"resume_id": resumeID}},
	})
	if err != nil {
		return fmt.Errorf("delete resume graph %s: %w", resumeID, err)
	}
	s.logger.Info("resume graph deleted", zap.String("backend", s.backend), zap.String("resume_id", resumeID))
	return nil
}

func topK[T any](items []T, k int) []T {
	if k <= 0 {
		k = 5
	}
	if len(items) > k {
		return items[:k]
	}
	return items
}
