package router

import (
	"regexp"
	"strings"
)

// SynonymDict is the two-tier (universal + per-tenant) expansion dictionary
// described in spec.md §4.6 step 1. Single-word triggers require a
// word-boundary match; multi-word triggers use substring matching.
type SynonymDict struct {
	Universal map[string][]string
	PerTenant map[string]map[string][]string // tenantID -> trigger -> expansions
}

// DefaultUniversal is a small starter dictionary of municipal synonyms.
// Per-tenant entries come only from SynonymDict.PerTenant as the caller fills
// it in; nothing loads them from SourceConfig.Config or a table.
var DefaultUniversal = map[string][]string{
	"trash":        {"garbage", "refuse", "waste"},
	"garbage":      {"trash", "refuse"},
	"dump":         {"transfer station"},
	"town hall":    {"municipal building", "town offices"},
	"dmv":          {"registry of motor vehicles", "rmv"},
	"parking ticket": {"parking violation", "citation"},
}

// Expand returns the original query concatenated with any unique expansion
// terms not already present in it, matched case-insensitively.
func (d SynonymDict) Expand(query, tenantID string) string {
	lower := strings.ToLower(query)
	seen := map[string]bool{}
	var additions []string

	addFrom := func(dict map[string][]string) {
		for trigger, expansions := range dict {
			var matched bool
			if strings.Contains(trigger, " ") {
				matched = strings.Contains(lower, strings.ToLower(trigger))
			} else {
				matched = wordBoundaryMatch(lower, strings.ToLower(trigger))
			}
			if !matched {
				continue
			}
			for _, exp := range expansions {
				le := strings.ToLower(exp)
				if strings.Contains(lower, le) || seen[le] {
					continue
				}
				seen[le] = true
				additions = append(additions, exp)
			}
		}
	}

	addFrom(d.Universal)
	if tenantDict, ok := d.PerTenant[tenantID]; ok {
		addFrom(tenantDict)
	}
	if len(additions) == 0 {
		return query
	}
	return query + " " + strings.Join(additions, " ")
}

func wordBoundaryMatch(text, word string) bool {
	pattern := `\b` + regexp.QuoteMeta(word) + `\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(text, word)
	}
	return re.MatchString(text)
}
