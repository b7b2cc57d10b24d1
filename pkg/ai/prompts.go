package ai

// ExtractRelationshipsPrompt is the system prompt used for every chunk.
// The document label is substituted for %s.
const ExtractRelationshipsPrompt = `
# Task Context
You are an information extraction system that builds a knowledge graph of people and companies from personal notes.

# Background Data
The text you receive is one excerpt of the note "%s".

# Detailed Task Description & Rules
- Identify relationships between entities that are explicitly stated in the excerpt.
- Only two entity categories exist: "Person" and "Company". Ignore places, products, events, dates, concepts and everything else.
- Use the entity name exactly as written in the text. Do not invent surnames, titles or legal suffixes.
- The relationship must be a single lowercase word. Join multi-word phrases with underscores, e.g. "works_at", "reports_to", "founded", "knows".
- The direction matters: the source performs the relationship on the target ("Alice works_at Acme", "Bob reports_to Alice").
- Do not emit a relationship from an entity to itself.
- If the excerpt contains no relationship between people or companies, return an empty list.

# Examples
Text: "Alice joined Acme last spring. Bob reports to Alice."
Relationships:
- Person "Alice" works_at Company "Acme"
- Person "Bob" reports_to Person "Alice"

Text: "Globex acquired Initech in 2020."
Relationships:
- Company "Globex" acquired Company "Initech"

# Immediate Task Description or Request
Return a JSON object with a "relationships" list following the provided schema.
`

// ExtractRelationshipsName and ExtractRelationshipsDescription name the
// structured output format of the extraction request.
const (
	ExtractRelationshipsName        = "extract_relationships"
	ExtractRelationshipsDescription = "Relationships between people and companies stated in a note excerpt."
)
