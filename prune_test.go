package buildcache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPruneStaleEntries(t *testing.T) {
	clock := newTestClock()
	cache, memFs := setupTestCache(t, WithNowFunc(clock.Now))

	old := MustTargetID("openapi", "client:chat")
	recent := MustTargetID("changelog", "")

	cache.MarkBuilt(old, Inputs{"spec": "h1"}, nil)
	createTestFile(t, memFs, filepath.Join(cache.snapshotDir(old), "chat.api.mdx"), make([]byte, 1000))

	clock.Advance(9 * 24 * time.Hour)
	cache.MarkBuilt(recent, Inputs{"entries": "h2"}, nil)
	createTestFile(t, memFs, filepath.Join(cache.snapshotDir(recent), "changelog.json"), []byte("{}"))

	clock.Advance(24 * time.Hour)

	result, err := cache.PruneStaleEntries(7)
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 1 || result.Targets[0] != old.String() {
		t.Fatalf("Prune() = %+v, want exactly %s removed", result, old)
	}
	if result.FreedBytes < 1000 {
		t.Errorf("FreedBytes = %d, want at least 1000", result.FreedBytes)
	}

	assertNotExists(t, memFs, cache.snapshotDir(old))
	assertFileContent(t, memFs, filepath.Join(cache.snapshotDir(recent), "changelog.json"), []byte("{}"))

	reloaded := reopen(t, cache)
	if reloaded.Exists(old) {
		t.Error("pruned target is back after reload")
	}
	if !reloaded.Exists(recent) {
		t.Error("recent target lost after reload")
	}
}

func TestPrune_SkipsEntriesWithoutBuildTime(t *testing.T) {
	memFs := setupLockfile(t, `{"version":1,"targets":{"changelog":{"inputs":{}}}}`)
	cache, err := Open(testProject, WithFs(memFs), WithNowFunc(fixedNowFunc))
	if err != nil {
		t.Fatal(err)
	}

	result, err := cache.Prune(0)
	if err != nil {
		t.Fatal(err)
	}
	if result.Removed != 0 {
		t.Errorf("Removed = %d, want 0", result.Removed)
	}
	if !cache.Exists(MustTargetID("changelog", "")) {
		t.Error("entry without lastBuilt was pruned")
	}
}

func TestStats(t *testing.T) {
	clock := newTestClock()
	cache, memFs := setupTestCache(t, WithNowFunc(clock.Now))

	cache.MarkBuilt(MustTargetID("openapi", "indexing"), Inputs{"spec": "1"}, nil)
	clock.Advance(time.Hour)
	cache.MarkBuilt(MustTargetID("openapi", "client:chat"), Inputs{"spec": "2"}, nil)
	cache.MarkBuilt(MustTargetID("changelog", ""), Inputs{"entries": "3"}, []string{"a", "b"})
	createTestFile(t, memFs, filepath.Join(cache.snapshotDir(MustTargetID("changelog", "")), "a"), make([]byte, 10))
	clock.Advance(time.Hour)

	stats, err := cache.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Targets != 3 || stats.Valid != 3 {
		t.Errorf("Targets = %d, Valid = %d", stats.Targets, stats.Valid)
	}
	if stats.Categories["openapi"] != 2 || stats.Categories["changelog"] != 1 {
		t.Errorf("Categories = %v", stats.Categories)
	}
	if stats.Oldest != 2*time.Hour || stats.Newest != time.Hour {
		t.Errorf("Oldest = %v, Newest = %v", stats.Oldest, stats.Newest)
	}
	if stats.TotalSize < 10 {
		t.Errorf("TotalSize = %d", stats.TotalSize)
	}

	entries := cache.Entries()
	if len(entries) != 3 || entries[0].Name != "changelog" || entries[0].Outputs != 2 {
		t.Errorf("Entries() = %+v", entries)
	}
}
