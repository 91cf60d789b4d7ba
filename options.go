package buildcache

import (
	"hash"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// WithFs sets a custom filesystem for the cache.
// This is primarily useful for testing with in-memory filesystems.
//
// Example:
//
//	cache, err := buildcache.Open(".", buildcache.WithFs(afero.NewMemMapFs()))
func WithFs(fs afero.Fs) Option {
	return func(c *Cache) {
		c.fs = fs
	}
}

// WithDir overrides the cache directory (default <projectRoot>/.build-cache).
func WithDir(dir string) Option {
	return func(c *Cache) {
		c.root = dir
	}
}

// WithHashFunc sets a custom hash function for content hashing.
// The default is SHA-256.
//
// Note: Changing the hash function invalidates every recorded input hash.
func WithHashFunc(hashFunc HashFunc) Option {
	return func(c *Cache) {
		c.hashFunc = hashFunc
	}
}

// WithFastHash switches content hashing to xxHash64.
// Collisions are unlikely for build inputs but not cryptographically excluded.
func WithFastHash() Option {
	return WithHashFunc(func() hash.Hash { return xxhash.New() })
}

// WithNowFunc sets a custom time function for the cache.
// This is primarily useful for testing with deterministic timestamps.
func WithNowFunc(nowFunc NowFunc) Option {
	return func(c *Cache) {
		c.nowFunc = nowFunc
	}
}

// WithLogger sets the logger used for cache diagnostics.
// Hit/miss reasons are logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDisabled turns the cache into a pass-through: every target misses,
// nothing is stored and nothing is persisted.
func WithDisabled(disabled bool) Option {
	return func(c *Cache) {
		c.disabled = disabled
	}
}
