package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTTL is used when New is given a non-positive ttl.
const DefaultTTL = 30 * time.Second

// Catalog is an in-memory, periodically refreshed index of the assets
// available to the stage. Reads never block on a refresh in progress; they
// see the previous snapshot until the new one is swapped in.
type Catalog struct {
	source Source
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	entries     map[Category][]Entry
	characters  map[CharacterID][]Entry
	loadedAt    time.Time
	invalidated bool
}

// New creates a catalog over source. Nothing is loaded until Refresh or
// EnsureFresh is called.
func New(source Source, ttl time.Duration, logger *slog.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		source:      source,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
		entries:     make(map[Category][]Entry),
		characters:  make(map[CharacterID][]Entry),
		invalidated: true,
	}
}

// WithClock overrides the time source. Returns the Catalog for chaining.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

// Refresh reloads the manifest from the source. On failure the previous
// snapshot stays in place.
func (c *Catalog) Refresh(ctx context.Context) error {
	m, err := c.source.Load(ctx)
	if err != nil {
		c.logger.Warn("Catalog refresh failed, keeping previous entries", "error", err)
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	entries := make(map[Category][]Entry, len(m))
	characters := make(map[CharacterID][]Entry)
	total := 0
	for cat, paths := range m {
		list := make([]Entry, 0, len(paths))
		for p, desc := range paths {
			list = append(list, Entry{Category: cat, Path: p, Description: desc})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
		entries[cat] = list
		total += len(list)

		if cat == Sprite {
			for _, e := range list {
				id := CharacterIDFromPath(e.Path)
				if id != "" {
					characters[id] = append(characters[id], e)
				}
			}
		}
	}

	c.mu.Lock()
	c.entries = entries
	c.characters = characters
	c.loadedAt = c.now()
	c.invalidated = false
	c.mu.Unlock()

	c.logger.Debug("Catalog refreshed", "entries", total, "characters", len(characters))
	return nil
}

// EnsureFresh refreshes the catalog if the TTL has elapsed or it was
// invalidated. A failed refresh is logged and returned; stale entries remain
// usable.
func (c *Catalog) EnsureFresh(ctx context.Context) error {
	if !c.Stale() {
		return nil
	}
	return c.Refresh(ctx)
}

// Stale reports whether the next EnsureFresh will reload.
func (c *Catalog) Stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invalidated || c.now().Sub(c.loadedAt) > c.ttl
}

// Invalidate forces the next EnsureFresh to reload.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.invalidated = true
	c.mu.Unlock()
}

// Entries returns the entries of a category sorted by path. The slice is a
// copy and may be retained by the caller.
func (c *Catalog) Entries(cat Category) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.entries[cat]...)
}

// CharacterEntries returns the sprite entries belonging to a character.
func (c *Catalog) CharacterEntries(id CharacterID) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Entry(nil), c.characters[id]...)
}

// Characters returns every character id that has at least one sprite.
func (c *Catalog) Characters() []CharacterID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]CharacterID, 0, len(c.characters))
	for id := range c.characters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Register asks the source to persist a new entry, makes it visible
// immediately and invalidates the snapshot so the next refresh picks up
// anything else the source changed.
func (c *Catalog) Register(ctx context.Context, e Entry) error {
	if appender, ok := c.source.(Appender); ok {
		if err := appender.Append(ctx, e); err != nil {
			return fmt.Errorf("failed to append catalog entry: %w", err)
		}
	} else {
		c.logger.Warn("Catalog source cannot persist entries", "path", e.Path)
	}

	c.mu.Lock()
	c.entries[e.Category] = upsertEntry(c.entries[e.Category], e)
	if e.Category == Sprite {
		if id := CharacterIDFromPath(e.Path); id != "" {
			c.characters[id] = upsertEntry(c.characters[id], e)
		}
	}
	c.invalidated = true
	c.mu.Unlock()

	c.logger.Info("Catalog entry registered", "category", e.Category, "path", e.Path)
	return nil
}

// upsertEntry replaces the entry with e's path or inserts e in path order.
func upsertEntry(list []Entry, e Entry) []Entry {
	for i := range list {
		if list[i].Path == e.Path {
			list[i] = e
			return list
		}
	}
	list = append(list, e)
	sort.Slice(list, func(i, j int) bool { return list[i].Path < list[j].Path })
	return list
}
