package resolve

import (
	"regexp"
	"strings"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// Scores assigned by FindBestSprite.
const (
	MoodParenthesized = 100
	MoodPath          = 90
	MoodWord          = 80
	MoodSubstring     = 50
	MoodDefault       = 10
)

// SpriteMatch is the outcome of resolving a sprite directive. Weak is set
// when the entry was picked as a character default rather than by name.
type SpriteMatch struct {
	Match
	Character catalog.CharacterID `json:"character"`
	Mood      string              `json:"mood,omitempty"`
	Weak      bool                `json:"weak"`
}

// ResolveSprite resolves a sprite value such as "Jessica/Happy". A direct
// catalog match wins; otherwise the value is narrowed to a character and the
// best sprite for the requested mood is chosen. ok is false only when the
// character has no sprites at all.
func (r *Resolver) ResolveSprite(value string) (SpriteMatch, bool) {
	if m, ok := r.Resolve(catalog.Sprite, value); ok {
		return SpriteMatch{
			Match:     m,
			Character: catalog.CharacterIDFromPath(m.Entry.Path),
			Mood:      catalog.MoodFromPath(m.Entry.Path),
		}, true
	}

	for _, c := range characterCandidates(value) {
		if sm, ok := r.FindBestSprite(c.id, c.mood); ok {
			return sm, true
		}
	}
	return SpriteMatch{}, false
}

type characterCandidate struct {
	id   catalog.CharacterID
	mood string
}

// characterCandidates lists the (character, mood) readings of a sprite value,
// most literal first. "Jessica/Happy" reads as jessica+happy; "Old Man Angry"
// reads as old_man_angry, then old_man+angry.
func characterCandidates(value string) []characterCandidate {
	id := catalog.CharacterIDFromName(value)
	if id == "" {
		return nil
	}

	var mood string
	if _, after, found := strings.Cut(strings.ReplaceAll(value, "\\", "/"), "/"); found {
		mood = catalog.Fold(after)
	}
	out := []characterCandidate{{id: id, mood: mood}}

	if mood == "" {
		tokens := strings.Split(string(id), "_")
		if len(tokens) > 1 {
			out = append(out, characterCandidate{
				id:   catalog.CharacterID(strings.Join(tokens[:len(tokens)-1], "_")),
				mood: tokens[len(tokens)-1],
			})
		}
	}
	return out
}

// FindBestSprite picks the sprite for a character that best fits mood, judged
// by the entry descriptions. When nothing fits the first sprite is returned
// so a known character always resolves. ok is false only when the character
// has no sprites.
func (r *Resolver) FindBestSprite(id catalog.CharacterID, mood string) (SpriteMatch, bool) {
	entries := r.index.CharacterEntries(id)
	if len(entries) == 0 {
		return SpriteMatch{}, false
	}

	mood = catalog.Fold(mood)
	var word *regexp.Regexp
	if mood != "" {
		word = regexp.MustCompile(`\b` + regexp.QuoteMeta(mood) + `\b`)
	}

	best := Match{Entry: entries[0], Heuristic: "first"}
	for _, e := range entries {
		score, name := moodScore(e, mood, word)
		if score > best.Score {
			best = Match{Entry: e, Score: score, Heuristic: name}
		}
	}

	return SpriteMatch{
		Match:     best,
		Character: id,
		Mood:      catalog.MoodFromPath(best.Entry.Path),
		Weak:      best.Score <= MoodDefault,
	}, true
}

var defaultWord = regexp.MustCompile(`\bdefault\b`)

func moodScore(e catalog.Entry, mood string, word *regexp.Regexp) (int, string) {
	desc := catalog.Fold(e.Description)
	if mood != "" {
		switch {
		case strings.Contains(desc, "("+mood+")"):
			return MoodParenthesized, "mood-tag"
		case catalog.MoodFromPath(e.Path) == mood:
			return MoodPath, "mood-path"
		case word.MatchString(desc):
			return MoodWord, "mood-word"
		case strings.Contains(desc, mood):
			return MoodSubstring, "mood-substring"
		}
	}
	if defaultWord.MatchString(desc) || catalog.MoodFromPath(e.Path) == "default" {
		return MoodDefault, "default"
	}
	return 0, ""
}
