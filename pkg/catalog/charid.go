package catalog

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CharacterID is the normalized key joining sprite entries, portraits and
// hide directives, e.g. "jessica" or "old_man".
type CharacterID string

// rootFolders are leading path segments that never name a character.
var rootFolders = map[string]bool{
	"assets":     true,
	"images":     true,
	"img":        true,
	"sprites":    true,
	"characters": true,
	"chars":      true,
	"portraits":  true,
}

// CharacterIDFromPath derives the character id from a sprite path.
// "sprites/jessica/happy.png" -> "jessica", "sprites/old_man_angry.png" -> "old_man".
func CharacterIDFromPath(p string) CharacterID {
	segments := splitPath(p)
	for len(segments) > 0 && rootFolders[segments[0]] {
		segments = segments[1:]
	}
	switch len(segments) {
	case 0:
		return ""
	case 1:
		tokens := tokenize(StripExt(segments[0]))
		if len(tokens) > 1 {
			// trailing token is the mood
			tokens = tokens[:len(tokens)-1]
		}
		return CharacterID(strings.Join(tokens, "_"))
	default:
		return CharacterID(strings.Join(tokenize(segments[0]), "_"))
	}
}

// CharacterIDFromName derives the character id from free text such as a
// directive value. "Jessica/Happy" -> "jessica", "Jessica Smith" -> "jessica_smith".
// No mood suffix is dropped; names are not paths.
func CharacterIDFromName(name string) CharacterID {
	segments := splitPath(name)
	for len(segments) > 1 && rootFolders[segments[0]] {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return ""
	}
	return CharacterID(strings.Join(tokenize(segments[0]), "_"))
}

// MoodFromPath returns the mood encoded in a sprite path, if any.
// "sprites/jessica/happy.png" -> "happy", "sprites/jessica_sad.png" -> "sad".
func MoodFromPath(p string) string {
	segments := splitPath(p)
	for len(segments) > 0 && rootFolders[segments[0]] {
		segments = segments[1:]
	}
	switch len(segments) {
	case 0:
		return ""
	case 1:
		tokens := tokenize(StripExt(segments[0]))
		if len(tokens) > 1 {
			return tokens[len(tokens)-1]
		}
		return ""
	default:
		return strings.Join(tokenize(StripExt(segments[len(segments)-1])), "_")
	}
}

// Fold lowercases s and strips diacritics so "Zoë" and "zoe" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

func splitPath(p string) []string {
	p = strings.ReplaceAll(Fold(p), "\\", "/")
	var out []string
	for _, seg := range strings.Split(path.Clean("/"+p), "/") {
		if seg != "" && seg != "." {
			out = append(out, seg)
		}
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
}
