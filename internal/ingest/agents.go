package ingest

import (
	"strings"

	"github.com/nidhogg/resumemind/internal/agent"
	"github.com/nidhogg/resumemind/internal/graph"
)

// Agent IDs. Each can be overridden with <prompts_dir>/<id>.md.
const (
	FormatterID        = "resume_formatter"
	ValidatorID        = "resume_validator"
	CleanJSONID        = "resume_json_formatter"
	EntityExtractorID  = "entity_extractor"
	RelationshipID     = "relationship_mapper"
	GraphValidatorID   = "graph_validator"
	ExtractionJSONID   = "graph_json_formatter"
	cleaningTeamName   = "Resume Structuring Team"
	extractionTeamName = "Resume Graph Extraction Team"
)

const formatterPrompt = `You are an expert resume formatter.
Your task is to take raw resume content and format it into clean, professional markdown.

Guidelines:
- Fix encoding, spacing and formatting problems left by document conversion
- Use "#" for the candidate name and "##" for sections such as Experience, Education and Skills
- Keep every fact from the original: do not add, invent or summarise content
- Use bullet lists for responsibilities, achievements and skills
- Keep dates, company names and titles exactly as written

Return only the formatted markdown resume.`

const validatorPrompt = `You are a markdown resume validator.
Your task is to check the formatted resume for markdown syntax, consistent style and a clear structure.

Check that:
- Headings are well formed and sections are in a sensible order
- Lists and emphasis are valid markdown
- No content from the raw resume is missing and nothing was invented

Reply APPROVED when the formatted resume needs no changes. Otherwise list the exact changes required.`

const cleanJSONPrompt = `You convert the log of a resume formatting team into JSON.
Take the final formatted resume from the log and answer with exactly one JSON object:

{"formatted_resume": "<markdown>", "validation_status": true|false, "validation_message": "<summary>"}

validation_status is true when the validator approved the resume.`

func entityPrompt() string {
	return `You are an expert entity extractor for resume data.
Identify every relevant entity in the resume section.

Entity types:
- ` + strings.Join(graph.EntityTypes, "\n- ") + `

Guidelines:
- Extract specific, concrete entities and avoid generic terms
- Normalize entity names (e.g. "JavaScript" not "javascript")
- Include quantifiable achievements and metrics
- Use the candidate's full name for the PERSON entity

List each entity with its type, one per line, e.g. "Python (TECHNOLOGY)".`
}

func relationshipPrompt() string {
	return `You are an expert relationship mapper for resume graph data.
Identify meaningful relationships between the extracted entities.

Relationship types:
- ` + strings.Join(graph.RelationshipTypes, "\n- ") + `

Guidelines:
- Only factual relationships supported by the resume
- Include temporal relationships with DURING_PERIOD
- Connect projects to the technologies and skills they used

List relationships as triplets, e.g. "Jane Doe, WORKED_AT, Acme".`
}

const graphValidatorPrompt = `You are a graph data validator for resume knowledge graphs.
Validate, clean and consolidate the entities and relationships proposed above.

- Merge duplicates (e.g. "JS" and "JavaScript") and standardize names and types
- Remove relationships that the resume does not support
- Make sure no entity is left without a relationship

Output the final entities and triplets with a short note on every change.`

func extractionJSONPrompt() string {
	return `You convert the output of a graph extraction team into JSON.
Answer with exactly one JSON object of this shape:

{
  "triplets": [{"subject": "", "predicate": "", "object": "", "subject_type": "", "object_type": "",
    "subject_description": "", "object_description": "", "relationship_description": ""}],
  "entities": {"<name>": "<TYPE>"},
  "entity_descriptions": {"<name>": "<description>"},
  "validation_status": true,
  "validation_message": "<summary>"
}

Entity types must be one of: ` + strings.Join(graph.EntityTypes, ", ") + `.
Predicates must be one of: ` + strings.Join(graph.RelationshipTypes, ", ") + `.
Descriptions give rich context from the resume, e.g. "Jane Doe worked as a Senior Engineer at Acme from 2019 to 2024".`
}

// RegisterAgents adds the cleaning and extraction agents to engine.
func RegisterAgents(engine *agent.Engine) {
	personas := []agent.Persona{
		{ID: FormatterID, Name: "Resume Formatter", Role: "Format raw resume content into clean markdown", SystemPrompt: formatterPrompt},
		{ID: ValidatorID, Name: "Resume Validator", Role: "Validate markdown syntax, style and structure", SystemPrompt: validatorPrompt},
		{ID: CleanJSONID, Name: "JSON Formatter", Role: "Convert the formatting log into structured JSON", SystemPrompt: cleanJSONPrompt, JSON: true},
		{ID: EntityExtractorID, Name: "Entity Extractor", Role: "Extract entities and their types from resume content", SystemPrompt: entityPrompt()},
		{ID: RelationshipID, Name: "Relationship Mapper", Role: "Identify relationships between extracted entities", SystemPrompt: relationshipPrompt()},
		{ID: GraphValidatorID, Name: "Graph Validator", Role: "Validate and refine the extracted graph structure", SystemPrompt: graphValidatorPrompt},
		{ID: ExtractionJSONID, Name: "Graph JSON Formatter", Role: "Convert graph extraction results into JSON", SystemPrompt: extractionJSONPrompt(), JSON: true},
	}
	for _, p := range personas {
		engine.Register(&agent.Agent{Persona: p})
	}
}
