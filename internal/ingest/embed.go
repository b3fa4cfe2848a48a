package ingest

import (
	"context"
	"fmt"
	"sort"

	"github.com/nidhogg/resumemind/internal/embedding"
	"github.com/nidhogg/resumemind/internal/graph"
)

// Context returns the first n characters of the resume, used as shared
// context in prompts and embedding texts.
func Context(resume string, n int) string {
	r := []rune(resume)
	if n <= 0 || len(r) <= n {
		return resume
	}
	return string(r[:n])
}

func entityText(name, typ, desc, ctx string) string {
	return fmt.Sprintf("Entity: %s\nType: %s\nDescription: %s\nContext: %s", name, typ, desc, ctx)
}

func relationshipText(t graph.Triple, ctx string) string {
	return fmt.Sprintf("Relationship: %s\nSubject: %s (%s)\nObject: %s (%s)\nDescription: %s\nContext: %s",
		t.Predicate, t.Subject, t.SubjectType, t.Object, t.ObjectType, t.RelationshipDescription, ctx)
}

// EmbedExtraction embeds every entity and, for each triple, its subject,
// object and relationship in a single batch. It returns the number of vectors.
func EmbedExtraction(ctx context.Context, e embedding.Provider, x *graph.Extraction, resumeContext string) (int, error) {
	names := make([]string, 0, len(x.Entities))
	for name := range x.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	texts := make([]string, 0, len(names)+3*len(x.Triples))
	for _, name := range names {
		texts = append(texts, entityText(name, x.Entities[name], x.EntityDescriptions[name], resumeContext))
	}
	for _, t := range x.Triples {
		texts = append(texts,
			entityText(t.Subject, t.SubjectType, descriptionOr(t.SubjectDescription, x.EntityDescriptions[t.Subject]), resumeContext),
			entityText(t.Object, t.ObjectType, descriptionOr(t.ObjectDescription, x.EntityDescriptions[t.Object]), resumeContext),
			relationshipText(t, resumeContext))
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("embedding returned %d vectors for %d texts", len(vecs), len(texts))
	}

	if x.EntityEmbeddings == nil {
		x.EntityEmbeddings = make(map[string][]float32, len(names))
	}
	for i, name := range names {
		x.EntityEmbeddings[name] = vecs[i]
	}
	off := len(names)
	for i := range x.Triples {
		x.Triples[i].SubjectEmbedding = vecs[off]
		x.Triples[i].ObjectEmbedding = vecs[off+1]
		x.Triples[i].RelationshipEmbedding = vecs[off+2]
		off += 3
	}
	return len(vecs), nil
}

func descriptionOr(d, fallback string) string {
	if d != "" {
		return d
	}
	return fallback
}
