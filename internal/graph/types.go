// Package graph stores extracted resume knowledge graphs in a Cypher database.
package graph

import (
	"strings"
)

// Entity types the extraction agents may emit.
var EntityTypes = []string{
	"PERSON", "SKILL", "COMPANY", "POSITION", "EDUCATION", "INSTITUTION", "PROJECT",
	"TECHNOLOGY", "LOCATION", "DATE", "ACHIEVEMENT", "INDUSTRY", "DEPARTMENT",
}

// Relationship types the extraction agents may emit.
var RelationshipTypes = []string{
	"WORKED_AT", "HAS_POSITION", "HAS_SKILL", "WORKED_ON", "USES_TECHNOLOGY",
	"LOCATED_IN", "STUDIED_AT", "HAS_DEGREE", "ACHIEVED", "DURING_PERIOD", "PART_OF",
	"REQUIRES_SKILL", "IN_INDUSTRY", "COLLABORATED_WITH", "MANAGED", "CERTIFIED_IN",
}

// Triple is one subject-predicate-object fact.
type Triple struct {
	Subject                 string    `json:"subject"`
	Predicate               string    `json:"predicate"`
	Object                  string    `json:"object"`
	SubjectType             string    `json:"subject_type"`
	ObjectType              string    `json:"object_type"`
	SubjectDescription      string    `json:"subject_description,omitempty"`
	ObjectDescription       string    `json:"object_description,omitempty"`
	RelationshipDescription string    `json:"relationship_description,omitempty"`
	SubjectEmbedding        []float32 `json:"-"`
	ObjectEmbedding         []float32 `json:"-"`
	RelationshipEmbedding   []float32 `json:"-"`
}

// Key identifies a triple for deduplication.
func (t Triple) Key() string {
	return strings.ToLower(strings.TrimSpace(t.Subject)) + "\x00" +
		Sanitize(t.Predicate) + "\x00" +
		strings.ToLower(strings.TrimSpace(t.Object))
}

// Extraction is the graph extracted from one resume.
type Extraction struct {
	Triples            []Triple             `json:"triplets"`
	Entities           map[string]string    `json:"entities"`
	EntityDescriptions map[string]string    `json:"entity_descriptions"`
	EntityEmbeddings   map[string][]float32 `json:"-"`
	Valid              bool                 `json:"validation_status"`
	Message            string               `json:"validation_message"`
}

// NewExtraction returns an empty extraction with initialised maps.
func NewExtraction() *Extraction {
	return &Extraction{
		Entities:           map[string]string{},
		EntityDescriptions: map[string]string{},
		EntityEmbeddings:   map[string][]float32{},
	}
}

// Normalize upper-cases types, drops entities and triples whose types are not
// known and fills in entities referenced only by triples. It reports how many
// items were dropped.
func (x *Extraction) Normalize() int {
	if x.Entities == nil {
		x.Entities = map[string]string{}
	}
	if x.EntityDescriptions == nil {
		x.EntityDescriptions = map[string]string{}
	}
	if x.EntityEmbeddings == nil {
		x.EntityEmbeddings = map[string][]float32{}
	}
	dropped := 0
	for name, typ := range x.Entities {
		clean := strings.TrimSpace(name)
		typ = Sanitize(typ)
		if clean == "" || !IsEntityType(typ) {
			delete(x.Entities, name)
			delete(x.EntityDescriptions, name)
			dropped++
			continue
		}
		if clean != name {
			delete(x.Entities, name)
			if d, ok := x.EntityDescriptions[name]; ok {
				delete(x.EntityDescriptions, name)
				x.EntityDescriptions[clean] = d
			}
		}
		x.Entities[clean] = typ
	}

	seen := map[string]bool{}
	kept := x.Triples[:0]
	for _, t := range x.Triples {
		t.Subject = strings.TrimSpace(t.Subject)
		t.Object = strings.TrimSpace(t.Object)
		t.Predicate = Sanitize(t.Predicate)
		// The entity map decides the label a node is stored with.
		t.SubjectType = Sanitize(t.SubjectType)
		t.ObjectType = Sanitize(t.ObjectType)
		if typ, ok := x.Entities[t.Subject]; ok {
			t.SubjectType = typ
		}
		if typ, ok := x.Entities[t.Object]; ok {
			t.ObjectType = typ
		}
		if t.Subject == "" || t.Object == "" || !IsRelationshipType(t.Predicate) ||
			!IsEntityType(t.SubjectType) || !IsEntityType(t.ObjectType) || seen[t.Key()] {
			dropped++
			continue
		}
		seen[t.Key()] = true
		if _, ok := x.Entities[t.Subject]; !ok {
			x.Entities[t.Subject] = t.SubjectType
		}
		if _, ok := x.Entities[t.Object]; !ok {
			x.Entities[t.Object] = t.ObjectType
		}
		if t.SubjectDescription != "" && x.EntityDescriptions[t.Subject] == "" {
			x.EntityDescriptions[t.Subject] = t.SubjectDescription
		}
		if t.ObjectDescription != "" && x.EntityDescriptions[t.Object] == "" {
			x.EntityDescriptions[t.Object] = t.ObjectDescription
		}
		kept = append(kept, t)
	}
	x.Triples = kept
	return dropped
}

// Merge folds other into x. Entities keep their first type and the longest
// description; triples are deduplicated by Key.
func (x *Extraction) Merge(other *Extraction) {
	if other == nil {
		return
	}
	if x.Entities == nil {
		x.Entities = map[string]string{}
	}
	if x.EntityDescriptions == nil {
		x.EntityDescriptions = map[string]string{}
	}
	for name, typ := range other.Entities {
		if _, ok := x.Entities[name]; !ok {
			x.Entities[name] = typ
		}
	}
	for name, d := range other.EntityDescriptions {
		if len(d) > len(x.EntityDescriptions[name]) {
			x.EntityDescriptions[name] = d
		}
	}
	seen := make(map[string]bool, len(x.Triples))
	for _, t := range x.Triples {
		seen[t.Key()] = true
	}
	for _, t := range other.Triples {
		if !seen[t.Key()] {
			seen[t.Key()] = true
			x.Triples = append(x.Triples, t)
		}
	}
	x.AlignTypes()
	switch {
	case other.Message == "":
	case x.Message == "":
		x.Message = other.Message
	default:
		x.Message += "; " + other.Message
	}
}

// AlignTypes gives every triple endpoint the type of its entity, so the
// relationship matches the node it was stored as. Endpoints missing from
// Entities are added with the triple's type.
func (x *Extraction) AlignTypes() {
	if x.Entities == nil {
		x.Entities = map[string]string{}
	}
	for i := range x.Triples {
		t := &x.Triples[i]
		t.SubjectType = x.alignType(t.Subject, t.SubjectType)
		t.ObjectType = x.alignType(t.Object, t.ObjectType)
	}
}

func (x *Extraction) alignType(name, typ string) string {
	if known := x.Entities[name]; known != "" {
		return known
	}
	if typ != "" {
		x.Entities[name] = typ
	}
	return typ
}

// Entity is a stored node.
type Entity struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	ResumeID    string   `json:"resume_id"`
	Labels      []string `json:"labels,omitempty"`
}

// Relationship is a stored edge with its endpoint names.
type Relationship struct {
	Subject     string `json:"subject"`
	Predicate   string `json:"predicate"`
	Object      string `json:"object"`
	SubjectType string `json:"subject_type"`
	ObjectType  string `json:"object_type"`
	Description string `json:"description,omitempty"`
	ResumeID    string `json:"resume_id"`
}

// Candidate is a person matched by a query.
type Candidate struct {
	Name     string `json:"name"`
	ResumeID string `json:"resume_id"`
}

// SkillCount is a skill seen together with another one.
type SkillCount struct {
	Skill     string `json:"skill"`
	Frequency int64  `json:"frequency"`
}

// SimilarityQuery selects stored items by embedding similarity.
type SimilarityQuery struct {
	Vector []float32
	// Type filters entities by label or relationships by type.
	Type     string
	ResumeID string
	TopK     int
}

// ScoredEntity is an entity with its cosine similarity to a query.
type ScoredEntity struct {
	Entity
	Similarity float64 `json:"similarity"`
}

// ScoredRelationship is a relationship with its cosine similarity to a query.
type ScoredRelationship struct {
	Relationship
	Similarity float64 `json:"similarity"`
}

// Sanitize upper-cases s and maps it to [A-Z_][A-Z0-9_]* so it can be used
// as a label or relationship type. It returns "" when nothing usable remains.
func Sanitize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '/':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}

// IsEntityType reports whether t is a known entity type.
func IsEntityType(t string) bool {
	return contains(EntityTypes, t)
}

// IsRelationshipType reports whether t is a known relationship type.
func IsRelationshipType(t string) bool {
	return contains(RelationshipTypes, t)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
