//go:build integration

package graph

import (
	"context"
	"testing"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/config"
)

// startNeo4j starts a Neo4j testcontainer and returns a store on it.
func startNeo4j(t *testing.T, ctx context.Context) Store {
	t.Helper()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	if err != nil {
		t.Fatalf("start neo4j: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		t.Fatalf("neo4j bolt url: %v", err)
	}
	s, err := NewNeo4j(config.Neo4jConfig{URI: uri}, zap.NewNop())
	if err != nil {
		t.Fatalf("open neo4j: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// startFalkorDB starts FalkorDB through the Redis module, which only needs a
// Redis-compatible image.
func startFalkorDB(t *testing.T, ctx context.Context) Store {
	t.Helper()
	container, err := tcredis.Run(ctx, "falkordb/falkordb:latest")
	if err != nil {
		t.Fatalf("start falkordb: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("falkordb endpoint: %v", err)
	}
	s := NewFalkorDB(config.FalkorDBConfig{Addr: endpoint, Graph: "resumemind_test"}, zap.NewNop())
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func sampleExtraction() *Extraction {
	x := NewExtraction()
	x.Entities = map[string]string{"Jane Doe": "PERSON", "Go": "SKILL", "Docker": "SKILL", "Acme": "COMPANY"}
	x.EntityDescriptions["Go"] = "programming language"
	x.EntityEmbeddings["Go"] = []float32{1, 0}
	x.EntityEmbeddings["Docker"] = []float32{0, 1}
	x.Triples = []Triple{
		{Subject: "Jane Doe", Predicate: "HAS_SKILL", Object: "Go", SubjectType: "PERSON", ObjectType: "SKILL",
			RelationshipDescription: "Jane writes Go", RelationshipEmbedding: []float32{1, 0}},
		{Subject: "Jane Doe", Predicate: "HAS_SKILL", Object: "Docker", SubjectType: "PERSON", ObjectType: "SKILL"},
		{Subject: "Jane Doe", Predicate: "WORKED_AT", Object: "Acme", SubjectType: "PERSON", ObjectType: "COMPANY"},
	}
	x.Valid = true
	return x
}

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}
	// Twice, to check indexes and writes are idempotent.
	if err := s.EnsureIndexes(ctx); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.WriteResume(ctx, "r1", sampleExtraction()); err != nil {
			t.Fatal(err)
		}
	}

	entities, err := s.Entities(ctx, "r1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 4 {
		t.Errorf("got %d entities: %+v", len(entities), entities)
	}
	skills, err := s.Entities(ctx, "r1", "SKILL")
	if err != nil {
		t.Fatal(err)
	}
	if len(skills) != 2 || skills[0].Name != "Docker" {
		t.Errorf("unexpected skills %+v", skills)
	}

	rels, err := s.Relationships(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 3 {
		t.Errorf("got %d relationships: %+v", len(rels), rels)
	}

	cands, err := s.CandidatesWithSkill(ctx, "go")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Name != "Jane Doe" || cands[0].ResumeID != "r1" {
		t.Errorf("unexpected candidates %+v", cands)
	}
	byCompany, err := s.CandidatesByCompany(ctx, "Acme")
	if err != nil {
		t.Fatal(err)
	}
	if len(byCompany) != 1 {
		t.Errorf("unexpected candidates %+v", byCompany)
	}

	co, err := s.SkillCooccurrence(ctx, "Go", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(co) != 1 || co[0].Skill != "Docker" || co[0].Frequency != 1 {
		t.Errorf("unexpected co-occurrence %+v", co)
	}

	similar, err := s.SimilarEntities(ctx, SimilarityQuery{Vector: []float32{0.9, 0.1}, ResumeID: "r1", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(similar) != 1 || similar[0].Name != "Go" {
		t.Errorf("unexpected similar entities %+v", similar)
	}
	simRels, err := s.SimilarRelationships(ctx, SimilarityQuery{Vector: []float32{1, 0}, ResumeID: "r1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(simRels) != 1 || simRels[0].Object != "Go" {
		t.Errorf("unexpected similar relationships %+v", simRels)
	}

	if err := s.DeleteResume(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	entities, err = s.Entities(ctx, "r1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entities) != 0 {
		t.Errorf("entities left after delete: %+v", entities)
	}
}

func TestNeo4jStore(t *testing.T) {
	exerciseStore(t, startNeo4j(t, context.Background()))
}

func TestFalkorDBStore(t *testing.T) {
	exerciseStore(t, startFalkorDB(t, context.Background()))
}
