package buildcache

import (
	"fmt"
	"sort"

	"github.com/spf13/afero"
)

// Reason classifies a rebuild decision.
type Reason string

const (
	ReasonHit           Reason = "hit"
	ReasonDisabled      Reason = "cache-disabled"
	ReasonNewTarget     Reason = "new-target"
	ReasonCorrupted     Reason = "corrupted-entry"
	ReasonKeysChanged   Reason = "input-keys-changed"
	ReasonInputChanged  Reason = "input-changed"
	ReasonOutputMissing Reason = "output-missing"
	ReasonStale         Reason = "stale"
	ReasonForced        Reason = "forced"
)

// Decision is the outcome of ShouldRebuild.
type Decision struct {
	Rebuild bool
	Reason  Reason

	// Key names the offending input for ReasonInputChanged.
	Key string
	// Path names the missing output for ReasonOutputMissing.
	Path string
	// Added and Removed list input names for ReasonKeysChanged.
	Added   []string
	Removed []string

	Expected Hash
	Actual   Hash
}

// String returns a human readable reason.
func (d Decision) String() string {
	switch d.Reason {
	case ReasonHit:
		return "inputs unchanged"
	case ReasonDisabled:
		return "cache disabled"
	case ReasonNewTarget:
		return "no previous build"
	case ReasonCorrupted:
		return "cache entry has no inputs"
	case ReasonKeysChanged:
		return fmt.Sprintf("input keys changed (added %v, removed %v)", d.Added, d.Removed)
	case ReasonInputChanged:
		return fmt.Sprintf("input %q changed (%s -> %s)", d.Key, d.Expected.Short(), d.Actual.Short())
	case ReasonOutputMissing:
		return fmt.Sprintf("output %q missing", d.Path)
	case ReasonStale:
		return "cache entry is stale"
	case ReasonForced:
		return "forced rebuild"
	}
	return string(d.Reason)
}

func hit() Decision {
	return Decision{Reason: ReasonHit}
}

func miss(reason Reason) Decision {
	return Decision{Rebuild: true, Reason: reason}
}

// ShouldRebuild compares the current inputs against the manifest entry for
// id. The first violated condition wins, checked in this order: missing
// entry, entry without inputs, differing input names, differing hash (by
// sorted input name), missing output (in recorded order).
func (c *Cache) ShouldRebuild(id TargetID, inputs Inputs) Decision {
	d := c.decide(id, inputs)
	if d.Rebuild {
		c.logger.Debug("cache miss", "target", id.String(), "reason", d.String())
	} else {
		c.logger.Debug("cache hit", "target", id.String())
	}
	return d
}

func (c *Cache) decide(id TargetID, inputs Inputs) Decision {
	if c.disabled {
		return miss(ReasonDisabled)
	}

	c.mu.RLock()
	entry, ok := c.manifest.Targets[id.String()]
	if ok {
		entry = entry.clone()
	}
	c.mu.RUnlock()

	if !ok {
		return miss(ReasonNewTarget)
	}
	if entry.Inputs == nil {
		return miss(ReasonCorrupted)
	}

	if added, removed := diffKeys(entry.Inputs, inputs); len(added) > 0 || len(removed) > 0 {
		d := miss(ReasonKeysChanged)
		d.Added = added
		d.Removed = removed
		return d
	}

	for _, key := range inputs.Keys() {
		if entry.Inputs[key] != inputs[key] {
			d := miss(ReasonInputChanged)
			d.Key = key
			d.Expected = entry.Inputs[key]
			d.Actual = inputs[key]
			return d
		}
	}

	for _, out := range entry.Outputs {
		exists, err := afero.Exists(c.fs, c.projectPath(out))
		if err != nil || !exists {
			d := miss(ReasonOutputMissing)
			d.Path = out
			return d
		}
	}

	return hit()
}

// diffKeys returns the names present only in current and only in previous.
func diffKeys(previous, current Inputs) (added, removed []string) {
	for k := range current {
		if _, ok := previous[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range previous {
		if _, ok := current[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// MarkBuilt records a successful build of id and persists the manifest.
// The previous entry is replaced; its snapshot record is dropped since the
// stored bytes belong to an older build. Unknown fields carried by the old
// entry are kept.
func (c *Cache) MarkBuilt(id TargetID, inputs Inputs, outputs []string) {
	if c.disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Target{
		Inputs:    inputs.clone(),
		Outputs:   append([]string{}, outputs...),
		Status:    StatusValid,
		LastBuilt: c.now(),
	}
	if prev, ok := c.manifest.Targets[id.String()]; ok {
		entry.extra = prev.unknownFields()
	}
	c.manifest.Targets[id.String()] = entry

	c.logger.Debug("marked target built", "target", id.String(), "inputs", len(inputs), "outputs", len(outputs))
	c.saveLocked()
}

// Invalidate removes the manifest entry of id and persists. Stored snapshot
// bytes are left alone; use ClearTarget to remove them too.
func (c *Cache) Invalidate(id TargetID) {
	if c.disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.manifest.Targets[id.String()]; !ok {
		return
	}
	delete(c.manifest.Targets, id.String())

	c.logger.Debug("invalidated target", "target", id.String())
	c.saveLocked()
}
