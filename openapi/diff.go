package openapi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gophersatwork/buildcache"
)

// MetadataKey is the target metadata key the last built index is stored under.
const MetadataKey = "operationIndex"

// Diff lists operation keys that changed between two indexes. Every slice
// is sorted.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// String renders the diff as one line per non-empty section.
func (d Diff) String() string {
	var sb strings.Builder
	write := func(label string, keys []string) {
		if len(keys) == 0 {
			return
		}
		fmt.Fprintf(&sb, "%s (%d): %s\n", label, len(keys), strings.Join(keys, ", "))
	}
	write("Added", d.Added)
	write("Changed", d.Changed)
	write("Removed", d.Removed)
	return sb.String()
}

// Compare diffs two indexes. A nil old index reports every new key as
// added; a nil new index reports every old key as removed.
func Compare(old, new Index) Diff {
	d := Diff{Added: []string{}, Removed: []string{}, Changed: []string{}}

	for key, op := range new {
		prev, ok := old[key]
		switch {
		case !ok:
			d.Added = append(d.Added, key)
		case prev.Hash != op.Hash:
			d.Changed = append(d.Changed, key)
		}
	}
	for key := range old {
		if _, ok := new[key]; !ok {
			d.Removed = append(d.Removed, key)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// Affected is the set of operations that need regenerating.
type Affected struct {
	// All is set when granularity is unknown and everything must be rebuilt.
	All        bool
	Operations []string
	Diff       *Diff
}

// MetadataStore reads and writes per-target metadata. *buildcache.Cache
// satisfies it.
type MetadataStore interface {
	Metadata(id buildcache.TargetID, key string, v any) (bool, error)
	SetMetadata(id buildcache.TargetID, key string, v any) error
}

// Previous returns the index recorded for a target, or nil when none was.
func Previous(store MetadataStore, id buildcache.TargetID) (Index, error) {
	var prev Index
	found, err := store.Metadata(id, MetadataKey, &prev)
	if err != nil || !found {
		return nil, err
	}
	return prev, nil
}

// Record stores index as the target's last built index.
func Record(store MetadataStore, id buildcache.TargetID, index Index) error {
	if index == nil {
		return nil
	}
	return store.SetMetadata(id, MetadataKey, index)
}

// AffectedBy computes which operations of current differ from previous.
//
// Without a current index nothing is known and everything is affected.
// Without a previous index every current operation is affected.
func AffectedBy(previous, current Index) Affected {
	if current == nil {
		return Affected{All: true, Operations: []string{}}
	}
	if previous == nil {
		return Affected{All: true, Operations: current.Keys()}
	}

	d := Compare(previous, current)
	if d.Empty() {
		return Affected{Operations: []string{}, Diff: &d}
	}

	ops := append(append([]string{}, d.Added...), d.Changed...)
	sort.Strings(ops)
	return Affected{Operations: ops, Diff: &d}
}

// Plan is the outcome of inspecting a document before regeneration.
type Plan struct {
	Affected
	// Current is the freshly built index, nil when the document could not
	// be indexed.
	Current Index
	// FullRebuild is set whenever anything is affected. Per-operation
	// regeneration is not supported, so a diff is reported but never
	// narrows the rebuild.
	FullRebuild bool
}

// Plan indexes specPath, compares it with the index recorded for id and logs
// what changed.
func (ix *Indexer) Plan(specPath string, store MetadataStore, id buildcache.TargetID) Plan {
	current, err := ix.Build(specPath)
	if err != nil {
		ix.logger.Warn("failed to index OpenAPI document", "target", id, "error", err)
	}

	previous, err := Previous(store, id)
	if err != nil {
		ix.logger.Warn("ignoring unreadable operation index", "target", id, "error", err)
		previous = nil
	}

	plan := Plan{Affected: AffectedBy(previous, current), Current: current}
	switch {
	case plan.All:
		plan.FullRebuild = true
		ix.logger.Info("full rebuild, operation granularity unknown", "target", id, "operations", len(plan.Operations))
	case plan.Diff.Empty():
		ix.logger.Debug("no operation changes", "target", id)
	default:
		plan.FullRebuild = true
		ix.logger.Info("operation changes detected", "target", id,
			"added", plan.Diff.Added,
			"changed", plan.Diff.Changed,
			"removed", plan.Diff.Removed)
		ix.logger.Info("per-operation regeneration unsupported, rebuilding all", "target", id)
	}
	return plan
}
