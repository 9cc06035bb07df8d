// Package extract turns a parsed page's chunks into candidate
// FieldFact rows for the Evidence Index, matching a chunk's key (for
// kv/table chunks) against a contract field's name and display name —
// the glue between internal/parsing's source-agnostic chunking and
// the tier-aware pipeline, which only ever reasons about FieldFacts.
package extract

import (
	"strings"

	"github.com/CdubVentures/spec-harvester-sub001/internal/contract"
	"github.com/CdubVentures/spec-harvester-sub001/internal/evidence"
	"github.com/CdubVentures/spec-harvester-sub001/internal/parsing"
)

// exactMatchScore and aliasMatchScore are the two confidence levels a
// kv/table chunk match can produce; an exact key/name match is worth
// more than an alias token overlap.
const (
	exactMatchScore = 0.9
	aliasMatchScore = 0.55
)

// FromDocument matches every kv/table chunk in doc against fields,
// returning one FieldFact per match. Prose chunks never produce a
// fact directly — the LLM extraction path (Round-dispatched
// separately by the scheduler) is what turns prose into candidates.
func FromDocument(doc evidence.Document, chunks []parsing.Chunk, fields []contract.FieldContract, snippetIDFor func(chunkIdx int) string) []evidence.FieldFact {
	var facts []evidence.FieldFact
	for _, chunk := range chunks {
		if chunk.Kind != parsing.ChunkKV {
			continue
		}
		key := normalizeKey(chunk.Key)
		if key == "" {
			continue
		}
		for _, f := range fields {
			score, matched := matchScore(key, f)
			if !matched {
				continue
			}
			facts = append(facts, evidence.FieldFact{
				Field:            f.Name,
				RawValue:         strings.TrimSpace(chunk.Value),
				SnippetID:        snippetIDFor(chunk.Index),
				DocID:            doc.DocID,
				URL:              doc.URL,
				Tier:             doc.Tier,
				ExtractionMethod: "kv",
				Score:            score,
			})
		}
	}
	return facts
}

// matchScore reports whether key (already normalized) identifies
// field f, and at what confidence: an exact match against the field's
// own name or display name, or a looser token-overlap alias match.
func matchScore(key string, f contract.FieldContract) (float64, bool) {
	name := normalizeKey(f.Name)
	display := normalizeKey(f.DisplayName)
	if key == name || (display != "" && key == display) {
		return exactMatchScore, true
	}
	if aliasOverlap(key, name) || (display != "" && aliasOverlap(key, display)) {
		return aliasMatchScore, true
	}
	return 0, false
}

// aliasOverlap reports whether the two normalized, underscore-joined
// token sets share every token of the shorter one — "battery_wh"
// matches a field named "battery_capacity_wh" but not
// "battery_life_hours"; a single-token key such as "battery" matches
// any field whose name contains that token.
func aliasOverlap(a, b string) bool {
	ta := strings.Split(a, "_")
	tb := strings.Split(b, "_")
	shorter, longer := ta, tb
	if len(tb) < len(ta) {
		shorter, longer = tb, ta
	}
	if len(shorter) == 0 {
		return false
	}
	longSet := map[string]bool{}
	for _, t := range longer {
		longSet[t] = true
	}
	for _, t := range shorter {
		if !longSet[t] {
			return false
		}
	}
	return true
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ' || r == '-' || r == '_' || r == ':':
			return '_'
		default:
			return -1
		}
	}, s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}
