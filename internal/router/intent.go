// Package router implements the query router (C6): deterministic synonym
// expansion, best-effort LLM query rewrite, and best-effort LLM decomposition
// and intent classification, followed by a static intent -> RetrievalConfig
// lookup (design notes §9: "do not embed a dynamic dispatch table in the hot
// path").
package router

// Intent is the coarse classification of a user question.
type Intent string

const (
	IntentFactual        Intent = "factual"
	IntentProcedural     Intent = "procedural"
	IntentRecommendation Intent = "recommendation"
	IntentExploratory    Intent = "exploratory"
	IntentComparison     Intent = "comparison"
	IntentDocumentLookup Intent = "document_lookup"
	IntentContact        Intent = "contact"
	IntentSchedule       Intent = "schedule"
	IntentNavigational   Intent = "navigational"
)

// RetrievalConfig is the per-intent retrieval profile consumed by hybrid
// search (spec.md §4.5 step 9, §4.6).
type RetrievalConfig struct {
	SimilarityThreshold float64
	ResultCount         int
	SourceFilter        string
	RecencyWeight       float64
	AuthorityWeight     float64
	SourceTypeBoosts    map[string]float64 // additive boosts; hybrid search looks up "document" for every chunk and the category for content items
	SiblingExpansion    bool
	SiblingExpansionCount int
}

// intentConfigs is the static table computed once at package init, matching
// the representative overrides in spec.md §4.6.
var intentConfigs = map[Intent]RetrievalConfig{
	IntentFactual: {
		SimilarityThreshold: 0.75, ResultCount: 5, RecencyWeight: 0.05, AuthorityWeight: 0.20,
	},
	IntentProcedural: {
		SimilarityThreshold: 0.70, ResultCount: 8, RecencyWeight: 0.05, AuthorityWeight: 0.15,
		SiblingExpansion: true, SiblingExpansionCount: 3,
	},
	IntentRecommendation: {
		SimilarityThreshold: 0.65, ResultCount: 10, RecencyWeight: 0.10, AuthorityWeight: 0.05,
		SourceTypeBoosts: map[string]float64{"local_business": 0.20},
	},
	IntentExploratory: {
		SimilarityThreshold: 0.65, ResultCount: 12, RecencyWeight: 0.25, AuthorityWeight: 0.05,
		SourceTypeBoosts: map[string]float64{"news": 0.10, "community": 0.10},
	},
	IntentComparison: {
		SimilarityThreshold: 0.67, ResultCount: 8, RecencyWeight: 0.10, AuthorityWeight: 0.10,
	},
	IntentDocumentLookup: {
		SimilarityThreshold: 0.73, ResultCount: 3, RecencyWeight: 0.05, AuthorityWeight: 0.25,
		SourceFilter: "documents", SiblingExpansion: true, SiblingExpansionCount: 5,
	},
	IntentContact: {
		SimilarityThreshold: 0.75, ResultCount: 3, RecencyWeight: 0.05, AuthorityWeight: 0.20,
		SourceTypeBoosts: map[string]float64{"municipal": 0.15},
	},
	IntentSchedule: {
		SimilarityThreshold: 0.75, ResultCount: 5, RecencyWeight: 0.20, AuthorityWeight: 0.10,
		SourceTypeBoosts: map[string]float64{"municipal": 0.10},
	},
	IntentNavigational: {
		SimilarityThreshold: 0.75, ResultCount: 3, RecencyWeight: 0.05, AuthorityWeight: 0.15,
		SourceTypeBoosts: map[string]float64{"municipal": 0.10},
	},
}

// ConfigFor looks up the static RetrievalConfig for an intent, falling back
// to the factual profile for unrecognized values.
func ConfigFor(i Intent) RetrievalConfig {
	if cfg, ok := intentConfigs[i]; ok {
		return cloneConfig(cfg)
	}
	return cloneConfig(intentConfigs[IntentFactual])
}

func cloneConfig(c RetrievalConfig) RetrievalConfig {
	if c.SourceTypeBoosts == nil {
		return c
	}
	boosts := make(map[string]float64, len(c.SourceTypeBoosts))
	for k, v := range c.SourceTypeBoosts {
		boosts[k] = v
	}
	c.SourceTypeBoosts = boosts
	return c
}
