package buildcache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

const (
	tmpSuffix = "~tmp"
	oldSuffix = "~old"
)

// StoreFile copies a single file into the snapshot slot of id.
// hash is recorded so HasSnapshot can later tell whether the snapshot
// matches a given input state. It reports false on any failure.
func (c *Cache) StoreFile(id TargetID, filePath string, hash Hash) bool {
	return c.store(id, SnapshotFile, hash, func(tmp string) ([]string, int64, error) {
		name := filepath.Base(filePath)
		n, err := c.copyFile(filePath, filepath.Join(tmp, name))
		if err != nil {
			return nil, 0, err
		}
		return []string{name}, n, nil
	})
}

// StoreDirectory copies a directory tree into the snapshot slot of id,
// leaving out files matching a preserve pattern (see MatchPreserved) so
// restoring never overwrites them.
func (c *Cache) StoreDirectory(id TargetID, dirPath string, hash Hash, preserve []string) bool {
	return c.store(id, SnapshotDirectory, hash, func(tmp string) ([]string, int64, error) {
		return c.copyTree(dirPath, tmp, "", func(rel string) bool {
			return matchPreservedPath(rel, preserve)
		})
	})
}

// StoreOutputs mirrors every output path recorded for id into its snapshot
// slot. The target must have been marked built first. Restoring replaces
// the outputs wholesale, so nothing inside them is left out.
func (c *Cache) StoreOutputs(id TargetID) bool {
	entry, ok := c.Lookup(id)
	if !ok {
		c.logger.Debug("no entry to snapshot", "target", id.String())
		return false
	}

	return c.store(id, SnapshotOutputs, NoHash, func(tmp string) ([]string, int64, error) {
		var files []string
		var size int64
		for _, out := range entry.Outputs {
			rel, err := cleanOutput(out)
			if err != nil {
				return nil, 0, err
			}

			src := c.projectPath(rel)
			info, err := c.fs.Stat(src)
			if err != nil {
				return nil, 0, fmt.Errorf("output %s: %w", out, err)
			}

			if !info.IsDir() {
				n, err := c.copyFile(src, filepath.Join(tmp, rel))
				if err != nil {
					return nil, 0, err
				}
				files = append(files, filepath.ToSlash(rel))
				size += n
				continue
			}

			// an empty output directory still has to come back on restore
			if err := c.fs.MkdirAll(filepath.Join(tmp, rel), 0o755); err != nil {
				return nil, 0, fmt.Errorf("output %s: %w", out, err)
			}
			copied, n, err := c.copyTree(src, filepath.Join(tmp, rel), filepath.ToSlash(rel), nil)
			if err != nil {
				return nil, 0, err
			}
			files = append(files, copied...)
			size += n
		}
		return files, size, nil
	})
}

// store fills a temporary directory through fill, swaps it in place of the
// previous snapshot and records the snapshot in the target's entry.
func (c *Cache) store(id TargetID, kind SnapshotKind, hash Hash, fill func(tmp string) ([]string, int64, error)) bool {
	if c.disabled {
		return false
	}

	dir := c.snapshotDir(id)
	tmp := dir + tmpSuffix
	old := dir + oldSuffix

	if err := c.fs.RemoveAll(tmp); err != nil {
		c.logger.Warn("failed to clear temporary snapshot", "target", id.String(), "error", err)
		return false
	}
	if err := c.fs.MkdirAll(tmp, 0o755); err != nil {
		c.logger.Warn("failed to create temporary snapshot", "target", id.String(), "error", err)
		return false
	}

	files, size, err := fill(tmp)
	if err != nil {
		c.logger.Warn("failed to store snapshot", "target", id.String(), "kind", kind, "error", err)
		c.removeQuietly(tmp)
		return false
	}

	if err := c.swapDir(tmp, dir, old); err != nil {
		c.logger.Warn("failed to activate snapshot", "target", id.String(), "error", err)
		c.removeQuietly(tmp)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.manifest.Targets[id.String()]
	if !ok {
		entry = &Target{Inputs: Inputs{}, Status: StatusValid, LastBuilt: c.now()}
		c.manifest.Targets[id.String()] = entry
	}
	entry.Snapshot = &Snapshot{
		Kind:     kind,
		Hash:     hash,
		Files:    files,
		Size:     size,
		StoredAt: c.now(),
	}

	c.logger.Debug("stored snapshot", "target", id.String(), "kind", kind, "files", len(files), "bytes", size)
	c.saveLocked()
	return true
}

// swapDir replaces dir with tmp. The previous dir is moved aside first and
// put back if tmp cannot be renamed.
func (c *Cache) swapDir(tmp, dir, old string) error {
	if err := c.fs.RemoveAll(old); err != nil {
		return err
	}

	exists, err := afero.DirExists(c.fs, dir)
	if err != nil {
		return err
	}
	if exists {
		if err := c.fs.Rename(dir, old); err != nil {
			return err
		}
	}

	if err := c.fs.Rename(tmp, dir); err != nil {
		if exists {
			if rerr := c.fs.Rename(old, dir); rerr != nil {
				c.logger.Warn("failed to put previous snapshot back", "path", dir, "error", rerr)
			}
		}
		return err
	}

	c.removeQuietly(old)
	return nil
}

// RestoreFile copies a file snapshot to target. It reports false when there
// is no snapshot or the copy fails, so the caller can regenerate instead.
func (c *Cache) RestoreFile(id TargetID, target string) bool {
	snap, ok := c.snapshot(id, SnapshotFile)
	if !ok {
		return false
	}
	if len(snap.Files) != 1 {
		c.logger.Warn("file snapshot does not hold exactly one file", "target", id.String(), "files", len(snap.Files))
		return false
	}

	src := filepath.Join(c.snapshotDir(id), filepath.FromSlash(snap.Files[0]))
	if err := c.copyFileAtomic(src, target); err != nil {
		c.logger.Warn("failed to restore snapshot", "target", id.String(), "error", err)
		return false
	}

	c.logger.Debug("restored snapshot", "target", id.String(), "path", target)
	return true
}

// RestoreDirectory copies a directory snapshot over target. Files already in
// target that are not part of the snapshot are left in place.
func (c *Cache) RestoreDirectory(id TargetID, target string) bool {
	snap, ok := c.snapshot(id, SnapshotDirectory)
	if !ok {
		return false
	}

	if err := c.restoreFiles(c.snapshotDir(id), target, snap.Files); err != nil {
		c.logger.Warn("failed to restore snapshot", "target", id.String(), "error", err)
		return false
	}

	c.logger.Debug("restored snapshot", "target", id.String(), "path", target, "files", len(snap.Files))
	return true
}

// RestoreOutputs replaces every recorded output path of id with its
// snapshot copy.
func (c *Cache) RestoreOutputs(id TargetID) bool {
	snap, ok := c.snapshot(id, SnapshotOutputs)
	if !ok {
		return false
	}
	entry, ok := c.Lookup(id)
	if !ok {
		return false
	}

	dir := c.snapshotDir(id)
	for _, out := range entry.Outputs {
		rel, err := cleanOutput(out)
		if err != nil {
			c.logger.Warn("refusing to restore output", "target", id.String(), "error", err)
			return false
		}
		if exists, _ := afero.Exists(c.fs, filepath.Join(dir, rel)); !exists {
			c.logger.Warn("snapshot is missing an output", "target", id.String(), "output", out)
			return false
		}
	}

	for _, out := range entry.Outputs {
		rel, _ := cleanOutput(out)
		if err := c.fs.RemoveAll(c.projectPath(rel)); err != nil {
			c.logger.Warn("failed to clear output before restore", "target", id.String(), "output", out, "error", err)
			return false
		}
		if isDir, _ := afero.DirExists(c.fs, filepath.Join(dir, rel)); isDir {
			if err := c.fs.MkdirAll(c.projectPath(rel), 0o755); err != nil {
				c.logger.Warn("failed to recreate output directory", "target", id.String(), "output", out, "error", err)
				return false
			}
		}
	}

	if err := c.restoreFiles(dir, c.projectRoot, snap.Files); err != nil {
		c.logger.Warn("failed to restore snapshot", "target", id.String(), "error", err)
		return false
	}

	c.logger.Debug("restored snapshot", "target", id.String(), "outputs", len(entry.Outputs), "files", len(snap.Files))
	return true
}

// Restore restores a snapshot of any kind. Outputs snapshots go back to
// their recorded paths and ignore target; directory and file snapshots are
// restored to target.
func (c *Cache) Restore(id TargetID, target string) bool {
	entry, ok := c.Lookup(id)
	if !ok || entry.Snapshot == nil {
		return false
	}
	switch entry.Snapshot.Kind {
	case SnapshotFile:
		return c.RestoreFile(id, target)
	case SnapshotDirectory:
		return c.RestoreDirectory(id, target)
	case SnapshotOutputs:
		return c.RestoreOutputs(id)
	}
	return false
}

func (c *Cache) restoreFiles(from, to string, files []string) error {
	for _, rel := range files {
		src := filepath.Join(from, filepath.FromSlash(rel))
		dst := filepath.Join(to, filepath.FromSlash(rel))
		if err := c.copyFileAtomic(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// snapshot returns the recorded snapshot of id if it has the expected kind
// and its directory is present.
func (c *Cache) snapshot(id TargetID, kind SnapshotKind) (*Snapshot, bool) {
	if c.disabled {
		return nil, false
	}

	entry, ok := c.Lookup(id)
	if !ok || entry.Snapshot == nil {
		c.logger.Debug("no snapshot", "target", id.String())
		return nil, false
	}
	if entry.Snapshot.Kind != kind {
		c.logger.Debug("snapshot kind mismatch", "target", id.String(), "want", kind, "have", entry.Snapshot.Kind)
		return nil, false
	}
	if exists, _ := afero.DirExists(c.fs, c.snapshotDir(id)); !exists {
		c.logger.Debug("snapshot directory missing", "target", id.String())
		return nil, false
	}
	return entry.Snapshot, true
}

// HasSnapshot reports whether id has a stored snapshot taken at hash.
func (c *Cache) HasSnapshot(id TargetID, hash Hash) bool {
	if c.disabled {
		return false
	}

	c.mu.RLock()
	entry, ok := c.manifest.Targets[id.String()]
	matches := ok && entry.Snapshot != nil && entry.Snapshot.Hash == hash
	c.mu.RUnlock()

	if !matches {
		return false
	}
	exists, _ := afero.DirExists(c.fs, c.snapshotDir(id))
	return exists
}

// Exists reports whether id has a manifest entry.
func (c *Cache) Exists(id TargetID) bool {
	if c.disabled {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.manifest.Targets[id.String()]
	return ok
}

// Age returns how long ago id was last built.
func (c *Cache) Age(id TargetID) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.manifest.Targets[id.String()]
	if !ok {
		return 0, false
	}
	built := entry.LastBuilt
	if built.IsZero() && entry.Snapshot != nil {
		built = entry.Snapshot.StoredAt
	}
	if built.IsZero() {
		return 0, false
	}
	return c.now().Sub(built), true
}

// IsStale reports whether id is missing or older than maxAge.
func (c *Cache) IsStale(id TargetID, maxAge time.Duration) bool {
	age, ok := c.Age(id)
	return !ok || age > maxAge
}

// Touch sets the last build time of id to now.
func (c *Cache) Touch(id TargetID) bool {
	if c.disabled {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.manifest.Targets[id.String()]
	if !ok {
		return false
	}
	entry.LastBuilt = c.now()
	c.saveLocked()
	return true
}

// copyTree copies every regular file under src to dst. skip is consulted
// with the slash-separated path relative to src. Returned paths are
// prefixed with prefix.
func (c *Cache) copyTree(src, dst, prefix string, skip func(rel string) bool) ([]string, int64, error) {
	var files []string
	var size int64

	err := afero.Walk(c.fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			return nil
		}

		n, err := c.copyFile(path, filepath.Join(dst, filepath.FromSlash(rel)))
		if err != nil {
			return err
		}
		if prefix != "" {
			rel = prefix + "/" + rel
		}
		files = append(files, rel)
		size += n
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return files, size, nil
}

// copyFile copies src to dst, creating parent directories.
func (c *Cache) copyFile(src, dst string) (int64, error) {
	srcFile, err := c.fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer srcFile.Close()

	if err := c.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	dstFile, err := c.fs.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination: %w", err)
	}
	defer dstFile.Close()

	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	n, err := io.CopyBuffer(dstFile, srcFile, buffer)
	if err != nil {
		return n, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return n, nil
}

// copyFileAtomic copies src next to dst and renames it into place, so a
// reader never sees a partially restored file.
func (c *Cache) copyFileAtomic(src, dst string) error {
	dir := filepath.Dir(dst)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := afero.TempFile(c.fs, dir, "."+filepath.Base(dst)+".restore-")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()

	if _, err := c.copyFile(src, tmpName); err != nil {
		c.removeQuietly(tmpName)
		return err
	}
	if err := c.fs.Rename(tmpName, dst); err != nil {
		c.removeQuietly(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return nil
}

func (c *Cache) removeQuietly(path string) {
	if err := c.fs.RemoveAll(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("failed to remove", "path", path, "error", err)
	}
}

// cleanOutput normalises a project-relative output path and rejects paths
// escaping the project root.
func cleanOutput(out string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(out))
	if filepath.IsAbs(rel) || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("output %q is not inside the project", out)
	}
	return rel, nil
}
