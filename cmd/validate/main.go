package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <manifest.json> [asset-dir]\n", os.Args[0])
		os.Exit(1)
	}

	validator := &ManifestValidator{}
	if len(os.Args) > 2 {
		validator.assetDir = os.Args[2]
	}

	if err := validator.validateFile(os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	for _, w := range validator.warnings {
		fmt.Printf("warning: %s\n", w)
	}
	fmt.Println("Manifest file is valid!")
}

// ManifestValidator collects errors and warnings for one manifest file.
// When assetDir is set every listed file must exist under it.
type ManifestValidator struct {
	assetDir string
	errors   []string
	warnings []string
}

func (v *ManifestValidator) validateFile(filename string) error {
	fmt.Printf("Validating %s...\n", filename)

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return v.validate(data, filename)
}

func (v *ManifestValidator) validate(data []byte, filename string) error {
	v.errors = nil
	v.warnings = nil

	if !json.Valid(data) {
		return fmt.Errorf("file %s contains invalid JSON", filename)
	}

	var raw map[string]map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("file %s must map categories to {path: description} objects: %w", filename, err)
	}

	m := catalog.Manifest{}
	for name, entries := range raw {
		cat := catalog.Category(name)
		if !cat.Valid() {
			v.errors = append(v.errors, fmt.Sprintf("unknown category %q (expected one of %s)", name, categoryNames()))
			continue
		}
		for p, desc := range entries {
			v.validatePath(cat, p)
			if strings.TrimSpace(desc) == "" {
				v.warnings = append(v.warnings, fmt.Sprintf("%s: %s has no description", cat, p))
			}
			m.Add(catalog.Entry{Category: cat, Path: p, Description: desc})
		}
	}

	v.validateSprites(m[catalog.Sprite])
	sort.Strings(v.errors)
	sort.Strings(v.warnings)

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors in %s:\n%s", filename, strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *ManifestValidator) validatePath(cat catalog.Category, p string) {
	switch {
	case p == "":
		v.errors = append(v.errors, fmt.Sprintf("%s: empty path", cat))
		return
	case strings.Contains(p, "\\"):
		v.errors = append(v.errors, fmt.Sprintf("%s: %s must use forward slashes", cat, p))
		return
	case path.IsAbs(p) || filepath.IsAbs(p):
		v.errors = append(v.errors, fmt.Sprintf("%s: %s must be relative to the asset root", cat, p))
		return
	case path.Clean(p) != p || strings.HasPrefix(p, "../"):
		v.errors = append(v.errors, fmt.Sprintf("%s: %s is not a clean relative path", cat, p))
		return
	}

	if catalog.StripExt(p) == p {
		v.warnings = append(v.warnings, fmt.Sprintf("%s: %s has no file extension", cat, p))
	}

	if v.assetDir != "" {
		if _, err := os.Stat(filepath.Join(v.assetDir, filepath.FromSlash(p))); err != nil {
			v.errors = append(v.errors, fmt.Sprintf("%s: %s not found under %s", cat, p, v.assetDir))
		}
	}
}

// validateSprites rejects two files claiming the same character and mood,
// and warns about characters with no default sprite.
func (v *ManifestValidator) validateSprites(sprites map[string]string) {
	seen := make(map[string]string)
	defaults := make(map[catalog.CharacterID]bool)

	paths := make([]string, 0, len(sprites))
	for p := range sprites {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		id := catalog.CharacterIDFromPath(p)
		if id == "" {
			v.errors = append(v.errors, fmt.Sprintf("sprites: cannot derive a character from %s", p))
			continue
		}
		mood := catalog.MoodFromPath(p)
		if _, ok := defaults[id]; !ok {
			defaults[id] = false
		}
		if mood == "" || mood == "default" || mood == "neutral" {
			defaults[id] = true
		}

		key := string(id) + "/" + mood
		if other, dup := seen[key]; dup {
			v.errors = append(v.errors, fmt.Sprintf("sprites: %s and %s both define %s (%s)", other, p, id, moodLabel(mood)))
			continue
		}
		seen[key] = p
	}

	for id, ok := range defaults {
		if !ok {
			v.warnings = append(v.warnings, fmt.Sprintf("sprites: %s has no default sprite", id))
		}
	}
}

func moodLabel(mood string) string {
	if mood == "" {
		return "no mood"
	}
	return mood
}

func categoryNames() string {
	names := make([]string, len(catalog.Categories))
	for i, c := range catalog.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
