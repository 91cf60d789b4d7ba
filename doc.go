/*
	Package buildcache provides a content-hash keyed incremental build cache for deterministic
	generation steps.

It decides whether a generator (an API reference renderer, a changelog feed builder, a static
site compiler) has to run again, and when it does not, puts its previous outputs back in place.

# Overview

Each unit of cacheable work is a target, identified by a TargetID such as "changelog" or
"openapi:client:chat". For every target the cache records, in a single lockfile, the content
hashes of the inputs used for its last build, the outputs it produced and when. A target is a
hit when it has an entry, the input names are the same, every hash matches and every recorded
output still exists. Anything else is a miss with a reason naming the offending input or path.

# Core Architecture

The cache directory holds:
  - lockfile.json - the manifest of every target
  - builds/ - snapshots of target outputs, one directory per target

Hashes cover file content only, never metadata, so they are stable across checkouts and
machines. Lockfile writes and snapshot replacement both go through a temporary location and a
rename so an interrupted write never corrupts the previous state.

# Basic Usage

Opening a cache:

	cache, err := buildcache.Open(".", buildcache.WithLogger(logger))
	if err != nil {
	    log.Fatalf("Failed to open cache: %v", err)
	}

Computing inputs and deciding:

	id := buildcache.MustTargetID("changelog", "")
	inputs, err := cache.Inputs().
	    Dir("entries", "changelog/entries", buildcache.DirOptions{Include: []string{".md"}}).
	    File("generator", "scripts/generate-changelog.mjs").
	    Build()
	if err != nil {
	    return err
	}

	if d := cache.ShouldRebuild(id, inputs); !d.Rebuild {
	    cache.RestoreOutputs(id)
	    return nil
	}

	if err := generate(); err != nil {
	    return err // never marked built
	}
	cache.MarkBuilt(id, inputs, []string{"src/data/changelog.json", "static/changelog.xml"})
	cache.StoreOutputs(id)

# Preserving hand-authored files

RegenerateDir wraps a destructive regeneration of a directory. Files matching the preserve
patterns are read before the generator runs and written back afterwards, whether the
generator succeeded or not:

	err := buildcache.RegenerateDir(fs, "docs/api/chat", buildcache.RegenerateOptions{
	    Preserve:  []string{"overview.mdx"},
	    Wipe:      true,
	    Artifacts: buildcache.DefaultArtifactPatterns,
	}, gen)

# Error Handling

Cache problems never block a build. A missing or unreadable lockfile yields an empty manifest,
failed saves are logged, and store and restore report false instead of failing, so the caller
can fall back to running the generator. The worst case is that every target misses.
*/
package buildcache
