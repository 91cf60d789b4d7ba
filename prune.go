package buildcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/afero"
)

// PruneResult reports what Prune removed.
type PruneResult struct {
	Removed    int
	Targets    []string
	FreedBytes int64
}

// Prune removes every target last built more than maxAge ago together with
// its snapshot. Targets without a build time are never pruned. Freed bytes
// are measured as the difference in cache size before and after, and the
// manifest is saved once at the end.
func (c *Cache) Prune(maxAge time.Duration) (PruneResult, error) {
	if c.disabled {
		return PruneResult{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before, err := c.dirSize(c.root)
	if err != nil {
		return PruneResult{}, fmt.Errorf("failed to measure cache: %w", err)
	}

	cutoff := c.now().Add(-maxAge)
	var result PruneResult

	for _, name := range sortedKeys(c.manifest.Targets) {
		entry := c.manifest.Targets[name]
		if entry.LastBuilt.IsZero() || !entry.LastBuilt.Before(cutoff) {
			continue
		}

		if id, err := ParseTargetID(name); err == nil {
			if err := c.fs.RemoveAll(c.snapshotDir(id)); err != nil {
				return result, fmt.Errorf("failed to remove snapshot of %s: %w", name, err)
			}
		}

		delete(c.manifest.Targets, name)
		result.Removed++
		result.Targets = append(result.Targets, name)
		c.logger.Debug("pruned target", "target", name, "lastBuilt", entry.LastBuilt)
	}

	if result.Removed == 0 {
		return result, nil
	}

	c.saveLocked()

	after, err := c.dirSize(c.root)
	if err != nil {
		return result, fmt.Errorf("failed to measure cache: %w", err)
	}
	if freed := before - after; freed > 0 {
		result.FreedBytes = freed
	}

	c.logger.Info("pruned build cache", "removed", result.Removed, "freedBytes", result.FreedBytes)
	return result, nil
}

// PruneStaleEntries is Prune with the age given in days.
func (c *Cache) PruneStaleEntries(maxAgeDays int) (PruneResult, error) {
	return c.Prune(time.Duration(maxAgeDays) * 24 * time.Hour)
}

// dirSize calculates the total size of all files in a directory.
// A missing directory has size zero.
func (c *Cache) dirSize(dir string) (int64, error) {
	var size int64

	err := afero.Walk(c.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})

	return size, err
}
