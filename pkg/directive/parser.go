package directive

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

type tagPattern struct {
	typ Type
	re  *regexp.Regexp
}

// patterns holds one pre-compiled expression per tag, in tag order.
var patterns = compilePatterns()

var excessNewlines = regexp.MustCompile(`\n{3,}`)

func compilePatterns() []tagPattern {
	out := make([]tagPattern, 0, len(tags))
	for _, tag := range tags {
		// The value may not contain brackets or newlines; anything else is
		// left for cleanValue to tidy.
		pattern := `(?i)\[\s*` + regexp.QuoteMeta(tag.name) + `\s*:\s*([^\[\]\n]*?)\s*\]`
		out = append(out, tagPattern{typ: tag.typ, re: regexp.MustCompile(pattern)})
	}
	return out
}

// Parse extracts every recognized directive from text, ordered by position,
// along with the stripped prose. Unrecognized or malformed brackets are
// ignored. Parse never fails.
func Parse(text string) Parsed {
	var directives []Directive
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			directives = append(directives, build(p.typ, text[m[2]:m[3]], m[0], text[m[0]:m[1]]))
		}
	}

	sort.SliceStable(directives, func(i, j int) bool {
		return directives[i].Position < directives[j].Position
	})

	return Parsed{
		Directives: directives,
		Text:       Strip(text),
	}
}

// Strip removes every recognized directive from text, collapses runs of
// three or more newlines to two and trims the result. Strip(Strip(x)) == Strip(x).
func Strip(text string) string {
	out := text
	for {
		next := removeTags(out)
		if next == out {
			break
		}
		out = next
	}

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	out = strings.Join(lines, "\n")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func removeTags(text string) string {
	for _, p := range patterns {
		text = p.re.ReplaceAllString(text, "")
	}
	return text
}

func build(typ Type, rawValue string, pos int, raw string) Directive {
	d := Directive{
		Type:     typ,
		Position: pos,
		Raw:      raw,
	}
	if typ == Camera {
		action, target, _ := strings.Cut(cleanValue(rawValue), ",")
		d.Value = cleanValue(action)
		d.Secondary = cleanValue(target)
		return d
	}
	d.Value = cleanValue(rawValue)
	return d
}

const quoteChars = "\"'`“”‘’"

// cleanValue decodes percent escapes, then trims whitespace, quotes and
// separator noise, so encoded quotes are stripped too. Undecodable escapes
// are kept verbatim.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if decoded, err := url.PathUnescape(v); err == nil {
		v = decoded
	}
	v = strings.TrimSpace(v)
	v = strings.Trim(v, quoteChars)
	v = strings.Trim(v, " \t/\\")
	return strings.TrimSpace(v)
}
