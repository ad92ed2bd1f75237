package resolve

import (
	"path"
	"sort"
	"strings"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

// Scores assigned by the built-in heuristics.
const (
	ScoreExactPath = 100
	ScorePathNoExt = 90
	ScoreFilename  = 88
	ScoreSuffix    = 80
	ScoreGrouped   = 70
)

// Index is the read side of the catalog the resolver scores against.
type Index interface {
	Entries(cat catalog.Category) []catalog.Entry
	CharacterEntries(id catalog.CharacterID) []catalog.Entry
}

// Match is a catalog entry that scored above zero for a query.
type Match struct {
	Entry     catalog.Entry `json:"entry"`
	Score     int           `json:"score"`
	Heuristic string        `json:"heuristic"`
}

// Heuristic scores one way a query can address an entry. Heuristics are
// evaluated in order and the first that matches decides the score, so they
// must be listed from strongest to weakest.
type Heuristic struct {
	Name  string
	Score int
	Match func(q Query, c Candidate) bool
}

// Query is a normalized free-text value.
type Query struct {
	Full     string // cleaned, lowercase
	NoExt    string
	HasSlash bool
	Group    string // second-to-last segment when HasSlash
	Item     string // last segment when HasSlash
}

// Candidate is a normalized catalog path.
type Candidate struct {
	Full     string
	NoExt    string
	Filename string // last segment, no extension
	Dirs     []string
}

// DefaultHeuristics is the scoring ladder used by New.
var DefaultHeuristics = []Heuristic{
	{Name: "exact", Score: ScoreExactPath, Match: func(q Query, c Candidate) bool {
		return q.Full == c.Full
	}},
	{Name: "no-extension", Score: ScorePathNoExt, Match: func(q Query, c Candidate) bool {
		return q.NoExt == c.NoExt
	}},
	{Name: "filename", Score: ScoreFilename, Match: func(q Query, c Candidate) bool {
		return !q.HasSlash && q.NoExt == c.Filename
	}},
	{Name: "suffix", Score: ScoreSuffix, Match: func(q Query, c Candidate) bool {
		return boundaryMatch(c.NoExt, q.NoExt)
	}},
	{Name: "grouped", Score: ScoreGrouped, Match: func(q Query, c Candidate) bool {
		if !q.HasSlash || q.Group == "" || q.Item == "" {
			return false
		}
		for _, dir := range c.Dirs {
			if dir == q.Group {
				return strings.Contains(c.Filename, q.Item)
			}
		}
		return false
	}},
}

// Resolver maps free-text directive values to catalog entries.
type Resolver struct {
	index      Index
	heuristics []Heuristic
}

// New creates a resolver using DefaultHeuristics.
func New(index Index) *Resolver {
	return &Resolver{index: index, heuristics: DefaultHeuristics}
}

// WithHeuristics replaces the scoring ladder. Returns the Resolver for chaining.
func (r *Resolver) WithHeuristics(h []Heuristic) *Resolver {
	r.heuristics = h
	return r
}

// Resolve returns the best match for value in a category. ok is false when
// no entry scores above zero.
func (r *Resolver) Resolve(cat catalog.Category, value string) (m Match, ok bool) {
	ranked := r.Rank(cat, value)
	if len(ranked) == 0 {
		return Match{}, false
	}
	return ranked[0], true
}

// Rank scores every entry of a category and returns those above zero,
// best first. Ties go to the shorter path, then lexical order.
func (r *Resolver) Rank(cat catalog.Category, value string) []Match {
	q := NewQuery(value)
	if q.Full == "" {
		return nil
	}

	var matches []Match
	for _, e := range r.index.Entries(cat) {
		if score, name := r.score(q, NewCandidate(e.Path)); score > 0 {
			matches = append(matches, Match{Entry: e, Score: score, Heuristic: name})
		}
	}
	sortMatches(matches)
	return matches
}

func (r *Resolver) score(q Query, c Candidate) (int, string) {
	for _, h := range r.heuristics {
		if h.Match(q, c) {
			return h.Score, h.Name
		}
	}
	return 0, ""
}

// NewQuery normalizes a directive value for scoring.
func NewQuery(value string) Query {
	full := catalog.CleanPath(value)
	noExt := catalog.StripExt(full)
	q := Query{Full: full, NoExt: noExt, HasSlash: strings.Contains(noExt, "/")}
	if q.HasSlash {
		segments := strings.Split(noExt, "/")
		q.Item = segments[len(segments)-1]
		q.Group = segments[len(segments)-2]
	}
	return q
}

// NewCandidate normalizes a catalog path for scoring.
func NewCandidate(p string) Candidate {
	full := catalog.CleanPath(p)
	noExt := catalog.StripExt(full)
	c := Candidate{Full: full, NoExt: noExt, Filename: path.Base(noExt)}
	if dir := path.Dir(noExt); dir != "." {
		c.Dirs = strings.Split(dir, "/")
	}
	return c
}

// boundaryMatch reports whether q occurs in target starting at a path or
// word boundary and ending at a word boundary or the end of target.
func boundaryMatch(target, q string) bool {
	if q == "" {
		return false
	}
	start := 0
	for {
		idx := strings.Index(target[start:], q)
		if idx < 0 {
			return false
		}
		i := start + idx
		end := i + len(q)
		leftOK := i == 0 || strings.ContainsRune("/_-", rune(target[i-1]))
		rightOK := end == len(target) || target[end] == '_' || target[end] == '-'
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
}

func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Entry.Path) != len(b.Entry.Path) {
			return len(a.Entry.Path) < len(b.Entry.Path)
		}
		return a.Entry.Path < b.Entry.Path
	})
}
