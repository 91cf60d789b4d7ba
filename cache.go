package buildcache

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	// DefaultDir is the cache directory name, relative to the project root.
	DefaultDir = ".build-cache"

	lockfileName = "lockfile.json"
	buildsDir    = "builds"
)

// Cache is the incremental build cache for one project.
// It carries everything the cache components need (roots, filesystem,
// hashing, clock, logging, kill switch) so no component reads process state.
type Cache struct {
	projectRoot string
	root        string
	hashFunc    HashFunc
	nowFunc     NowFunc
	logger      *slog.Logger
	disabled    bool
	mu          sync.RWMutex
	fs          afero.Fs
	manifest    *Manifest
}

// HashFunc defines a function that creates a new hash.Hash instance.
type HashFunc func() hash.Hash

// NowFunc defines a function that returns the current time.
type NowFunc func() time.Time

// Option defines a function that configures a Cache.
type Option func(*Cache)

// Open opens the cache for the project rooted at projectRoot.
// The cache directory is created if it doesn't exist and the lockfile is
// loaded; a missing or unreadable lockfile yields an empty manifest.
func Open(projectRoot string, options ...Option) (*Cache, error) {
	cache := &Cache{
		projectRoot: projectRoot,
		fs:          afero.NewOsFs(),
		nowFunc:     time.Now,
		hashFunc:    defaultHashFunc,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(cache)
	}

	if cache.root == "" {
		cache.root = filepath.Join(projectRoot, DefaultDir)
	}

	if cache.disabled {
		cache.logger.Warn("build cache is disabled, every target will be rebuilt")
		cache.manifest = newManifest(cache.now())
		return cache, nil
	}

	if err := cache.fs.MkdirAll(cache.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache.manifest = cache.loadManifest()
	return cache, nil
}

// OpenMem opens a cache backed by an in-memory filesystem.
// Useful for tests and dry runs.
func OpenMem(projectRoot string, options ...Option) *Cache {
	options = append([]Option{WithFs(afero.NewMemMapFs())}, options...)
	cache, err := Open(projectRoot, options...)
	if err != nil {
		panic(fmt.Sprintf("failed to create in-memory cache: %v", err))
	}
	return cache
}

// Root returns the cache directory.
func (c *Cache) Root() string {
	return c.root
}

// ProjectRoot returns the directory output paths are relative to.
func (c *Cache) ProjectRoot() string {
	return c.projectRoot
}

// Fs returns the filesystem the cache operates on.
func (c *Cache) Fs() afero.Fs {
	return c.fs
}

// Logger returns the cache logger.
func (c *Cache) Logger() *slog.Logger {
	return c.logger
}

// Disabled reports whether the kill switch is set.
func (c *Cache) Disabled() bool {
	return c.disabled
}

// Hasher returns a content hasher sharing the cache's filesystem and hash function.
func (c *Cache) Hasher() *Hasher {
	return &Hasher{fs: c.fs, newHash: c.hashFunc}
}

// Clear removes the snapshots and manifest entries of one category, or
// everything when category is empty.
func (c *Cache) Clear(category string) error {
	if c.disabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if category == "" {
		if err := c.fs.RemoveAll(c.root); err != nil {
			return fmt.Errorf("failed to remove cache directory: %w", err)
		}
		if err := c.fs.MkdirAll(c.root, 0o755); err != nil {
			return fmt.Errorf("failed to recreate cache directory: %w", err)
		}
		c.manifest = newManifest(c.now())
		c.logger.Info("cleared build cache")
		return c.saveLocked()
	}

	if err := validateCategory(category); err != nil {
		return err
	}

	if err := c.fs.RemoveAll(filepath.Join(c.buildsDir(), category)); err != nil {
		return fmt.Errorf("failed to remove %s snapshots: %w", category, err)
	}

	removed := 0
	for name := range c.manifest.Targets {
		id, err := ParseTargetID(name)
		if err != nil || id.Category != category {
			continue
		}
		delete(c.manifest.Targets, name)
		removed++
	}

	c.logger.Info("cleared build cache category", "category", category, "targets", removed)
	return c.saveLocked()
}

// ClearTarget removes one target's manifest entry and snapshot.
func (c *Cache) ClearTarget(id TargetID) error {
	if c.disabled {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.RemoveAll(c.snapshotDir(id)); err != nil {
		return fmt.Errorf("failed to remove snapshot for %s: %w", id, err)
	}
	delete(c.manifest.Targets, id.String())
	c.logger.Info("cleared build cache target", "target", id.String())
	return c.saveLocked()
}

// lockfilePath returns the path of the manifest file.
func (c *Cache) lockfilePath() string {
	return filepath.Join(c.root, lockfileName)
}

// buildsDir returns the directory holding all snapshots.
func (c *Cache) buildsDir() string {
	return filepath.Join(c.root, buildsDir)
}

// snapshotDir returns the snapshot directory for a target.
func (c *Cache) snapshotDir(id TargetID) string {
	return filepath.Join(c.buildsDir(), id.Category, id.leaf())
}

// projectPath resolves a project-relative path.
func (c *Cache) projectPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.projectRoot, rel)
}

// now returns the current time.
func (c *Cache) now() time.Time {
	return c.nowFunc()
}

// defaultHashFunc returns the default content hash (SHA-256).
func defaultHashFunc() hash.Hash {
	return sha256.New()
}
