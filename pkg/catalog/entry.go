package catalog

import (
	"context"
	"path"
	"strings"
)

// Category partitions the catalog. The string value is the manifest key.
type Category string

const (
	Background Category = "backgrounds"
	Sprite     Category = "sprites"
	Overlay    Category = "splash"
	Music      Category = "music"
)

// Categories lists every category the stage understands.
var Categories = []Category{Background, Sprite, Overlay, Music}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Entry is a single asset available to the stage.
type Entry struct {
	Category    Category `json:"category"`
	Path        string   `json:"path"`        // relative to the asset root, forward slashes
	Description string   `json:"description"` // short human description, may carry "(mood)" tags
}

// Filename returns the last path segment without its extension.
func (e Entry) Filename() string {
	return StripExt(path.Base(e.Path))
}

// Manifest is the on-disk shape of the catalog: category -> relative path -> description.
type Manifest map[Category]map[string]string

// Load lets a literal Manifest act as a Source.
func (m Manifest) Load(ctx context.Context) (Manifest, error) {
	return m.Clone(), nil
}

// Append adds e to the manifest in place.
func (m Manifest) Append(ctx context.Context, e Entry) error {
	m.Add(e)
	return nil
}

// Clone returns a deep copy.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for cat, entries := range m {
		inner := make(map[string]string, len(entries))
		for p, d := range entries {
			inner[p] = d
		}
		out[cat] = inner
	}
	return out
}

// Add inserts or replaces an entry.
func (m Manifest) Add(e Entry) {
	if m[e.Category] == nil {
		m[e.Category] = make(map[string]string)
	}
	m[e.Category][e.Path] = e.Description
}

// Source supplies the manifest the catalog is built from.
type Source interface {
	Load(ctx context.Context) (Manifest, error)
}

// Appender is implemented by sources that can persist new entries,
// e.g. a freshly generated background.
type Appender interface {
	Append(ctx context.Context, e Entry) error
}

// StripExt removes a trailing file extension, if any.
func StripExt(p string) string {
	ext := path.Ext(p)
	if len(ext) < 2 || len(ext) > 6 {
		return p
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return p
		}
	}
	return strings.TrimSuffix(p, ext)
}

// CleanPath folds case and diacritics and normalizes separators so paths and queries
// can be compared directly.
func CleanPath(p string) string {
	p = Fold(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Join(strings.Fields(p), "_")
	return strings.Trim(p, "/")
}
