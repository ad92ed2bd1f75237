package resolve

import (
	"strings"
	"unicode"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// genericWords mark catalog entries that are safe to show for anything.
var genericWords = []string{"default", "generic", "neutral", "placeholder"}

// Fallback returns an existing entry to show in place of value while a real
// asset is unavailable. It prefers a scored match, then the entry sharing the
// most words with value, then a generic entry, then the first entry. ok is
// false only when the category is empty.
func (r *Resolver) Fallback(cat catalog.Category, value string) (Match, bool) {
	if m, ok := r.Resolve(cat, value); ok {
		return m, true
	}

	entries := r.index.Entries(cat)
	if len(entries) == 0 {
		return Match{}, false
	}

	queryWords := words(value)
	var best Match
	for _, e := range entries {
		overlap := 0
		entryWords := words(e.Path + " " + e.Description)
		for w := range queryWords {
			if entryWords[w] {
				overlap++
			}
		}
		if overlap > best.Score {
			best = Match{Entry: e, Score: overlap, Heuristic: "overlap"}
		}
	}
	if best.Score > 0 {
		return best, true
	}

	for _, e := range entries {
		entryWords := words(e.Path + " " + e.Description)
		for _, g := range genericWords {
			if entryWords[g] {
				return Match{Entry: e, Heuristic: "generic"}, true
			}
		}
	}

	return Match{Entry: entries[0], Heuristic: "first"}, true
}

// words splits s into folded tokens of three or more letters.
func words(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(catalog.Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 3 {
			out[w] = true
		}
	}
	return out
}
