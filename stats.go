package buildcache

import (
	"sort"
	"time"
)

// Stats represents cache statistics.
type Stats struct {
	Targets    int            // Number of manifest entries
	Valid      int            // Entries with status valid and a recorded input set
	Snapshots  int            // Entries with a stored snapshot
	TotalSize  int64          // Size of the cache directory in bytes
	Categories map[string]int // Entries per target category
	Oldest     time.Duration  // Age of the oldest build
	Newest     time.Duration  // Age of the newest build
}

// Entry describes one manifest target for listing.
type Entry struct {
	Name         string
	Status       string
	LastBuilt    time.Time
	Age          time.Duration
	Inputs       int
	Outputs      int
	SnapshotKind SnapshotKind
	SnapshotSize int64
}

// Stats returns statistics about the cache.
func (c *Cache) Stats() (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{Categories: make(map[string]int)}
	var oldest, newest time.Time

	for name, t := range c.manifest.Targets {
		stats.Targets++
		if t.Status == StatusValid && t.Inputs != nil {
			stats.Valid++
		}
		if t.Snapshot != nil {
			stats.Snapshots++
		}
		if id, err := ParseTargetID(name); err == nil {
			stats.Categories[id.Category]++
		}

		if t.LastBuilt.IsZero() {
			continue
		}
		if oldest.IsZero() || t.LastBuilt.Before(oldest) {
			oldest = t.LastBuilt
		}
		if newest.IsZero() || t.LastBuilt.After(newest) {
			newest = t.LastBuilt
		}
	}

	size, err := c.dirSize(c.root)
	if err != nil {
		return Stats{}, err
	}
	stats.TotalSize = size

	now := c.now()
	if !oldest.IsZero() {
		stats.Oldest = now.Sub(oldest)
	}
	if !newest.IsZero() {
		stats.Newest = now.Sub(newest)
	}

	return stats, nil
}

// Entries returns every manifest target sorted by name.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	entries := make([]Entry, 0, len(c.manifest.Targets))
	for _, name := range sortedKeys(c.manifest.Targets) {
		t := c.manifest.Targets[name]
		e := Entry{
			Name:      name,
			Status:    t.Status,
			LastBuilt: t.LastBuilt,
			Inputs:    len(t.Inputs),
			Outputs:   len(t.Outputs),
		}
		if !t.LastBuilt.IsZero() {
			e.Age = now.Sub(t.LastBuilt)
		}
		if t.Snapshot != nil {
			e.SnapshotKind = t.Snapshot.Kind
			e.SnapshotSize = t.Snapshot.Size
		}
		entries = append(entries, e)
	}
	return entries
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
