// Package knowledge implements the path-addressed document store and
// hybrid lexical/vector search over an agent directory's skills,
// solutions, aliases, and imported capability files.
package knowledge

import "time"

// DocumentType classifies a stored document for filtering and indexing.
type DocumentType string

const (
	DocTypeSkill    DocumentType = "skill"
	DocTypeSolution DocumentType = "solution"
	DocTypeAlias    DocumentType = "alias"
	DocTypeNote     DocumentType = "note"
)

// Document is one file under the agent directory, read back from the
// store with its parsed header and raw body.
type Document struct {
	Path     string
	Type     DocumentType
	Header   map[string]string
	Body     string
	Raw      string
	Platform string
	Tags     []string
	ModTime  time.Time
}

// ParamSpec declares one Skill parameter (spec §4.3.1).
type ParamSpec struct {
	Name     string
	Type     string
	Required bool
}

// Step is one command or API call in a Skill's per-platform sequence, as
// written in the skill document's fenced step blocks.
type Step struct {
	Kind        string // "command" | "api"
	Text        string
	Method      string
	Path        string
	Body        string
	Independent bool
	Parse       bool
}

// Rule is one acceptance-criteria clause, as written in the skill
// document's acceptance section.
type Rule struct {
	Field string
	Expr  string
	Tier  string
	Note  string
}

// SkillDoc is the full knowledge-store Skill document: header metadata,
// per-platform steps, and acceptance rules, along with the raw Markdown
// body. It is richer than the orchestrator's execution-ready Skill type
// (internal/inspection.Skill) — that type is the compiled subset this
// document reduces to via ToExecutable.
type SkillDoc struct {
	ID               string
	Name             string
	Enabled          bool
	Parameters       []ParamSpec
	Platforms        map[string][]Step
	AcceptanceRules  []Rule
	EstimatedRuntime time.Duration
	Path             string
	Raw              string
}

// Solution is one saved episodic-memory record (spec §4.4.2 save_solution).
type Solution struct {
	Slug      string
	Title     string
	Problem   string
	Process   string
	RootCause string
	Fix       string
	Commands  []string
	Tags      []string
	Path      string
}

// AliasType distinguishes what an alias resolves to.
type AliasType string

const (
	AliasDevice AliasType = "device"
	AliasGroup  AliasType = "group"
	AliasOther  AliasType = "other"
)

// Alias is one row of the append-only aliases table (spec §4.4.2
// update_alias): rows are keyed by (Alias, Type).
type Alias struct {
	Alias    string
	Value    string
	Type     AliasType
	Platform string
	Notes    string
}

// SearchFilters narrows a search call (spec §4.4.3).
type SearchFilters struct {
	Category DocumentType
	Platform string
	Tags     []string
}

// SearchHit is one ranked search result (spec §4.4.3).
type SearchHit struct {
	DocID   string
	Path    string
	Score   float64
	Snippet string
}

// Embedder produces a vector embedding for a chunk of text (spec §6:
// "Embedder & Reranker ... both optional").
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Reranker reorders candidate hits by pairwise relevance to a query
// (spec §6). A reranker failure never fails the search (spec §4.4.3).
type Reranker interface {
	Rerank(query string, hits []SearchHit) ([]SearchHit, error)
}
