package buildcache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/afero"
)

func TestMain(t *testing.M) {
	code := t.Run()

	os.Exit(code)
}

func fixedNowFunc() time.Time {
	return time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
}

// testClock is a settable clock for age-dependent tests.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: fixedNowFunc()}
}

func (tc *testClock) Now() time.Time {
	return tc.now
}

func (tc *testClock) Advance(d time.Duration) {
	tc.now = tc.now.Add(d)
}

const testProject = "/project"

// setupTestCache opens a cache for /project on an in-memory filesystem.
func setupTestCache(t *testing.T, options ...Option) (*Cache, afero.Fs) {
	t.Helper()

	memFs := afero.NewMemMapFs()
	createTestDir(t, memFs, testProject)

	options = append([]Option{WithFs(memFs), WithNowFunc(fixedNowFunc)}, options...)
	cache, err := Open(testProject, options...)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	return cache, memFs
}

// setupOsCache opens a cache on the real filesystem under a temporary
// directory. Snapshot swaps rename whole directories, which needs real
// filesystem semantics.
func setupOsCache(t *testing.T, options ...Option) (*Cache, afero.Fs, string) {
	t.Helper()

	root := t.TempDir()
	osFs := afero.NewOsFs()

	options = append([]Option{WithFs(osFs), WithNowFunc(fixedNowFunc)}, options...)
	cache, err := Open(root, options...)
	if err != nil {
		t.Fatalf("Failed to open cache: %v", err)
	}
	return cache, osFs, root
}

// reopen opens a second cache over the same directory, as a new process would.
func reopen(t *testing.T, c *Cache, options ...Option) *Cache {
	t.Helper()

	options = append([]Option{WithFs(c.fs), WithDir(c.root), WithNowFunc(c.nowFunc)}, options...)
	cache, err := Open(c.projectRoot, options...)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	return cache
}

// createTestFile creates a file with the given path and content in the filesystem.
func createTestFile(t *testing.T, fs afero.Fs, path string, content []byte) {
	t.Helper()

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		createTestDir(t, fs, dir)
	}

	if err := afero.WriteFile(fs, path, content, 0o644); err != nil {
		t.Fatalf("Failed to write file %s: %v", path, err)
	}
}

// createTestDir creates a directory with the given path in the filesystem.
func createTestDir(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	if err := fs.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("Failed to create directory %s: %v", path, err)
	}
}

// assertFileContent asserts that a file has the expected content.
func assertFileContent(t *testing.T, fs afero.Fs, path string, expected []byte) {
	t.Helper()

	actual, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	assertBytesEqual(t, actual, expected, fmt.Sprintf("File content for %s", path))
}

// assertNotExists asserts that a path does not exist.
func assertNotExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()

	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Failed to stat %s: %v", path, err)
	}
	if exists {
		t.Fatalf("Expected %s to be absent", path)
	}
}

// assertBytesEqual asserts that two byte slices are equal.
func assertBytesEqual(t *testing.T, actual, expected []byte, context string) {
	t.Helper()

	if !bytes.Equal(actual, expected) {
		t.Fatalf("%s mismatch:\nExpected: %s\nActual: %s",
			context, string(expected), string(actual))
	}
}

// assertHit asserts that a decision is a cache hit.
func assertHit(t *testing.T, d Decision, context string) {
	t.Helper()

	if d.Rebuild {
		t.Fatalf("Expected cache hit on %s, got miss: %s\n%s", context, d, spew.Sdump(d))
	}
}

// assertMiss asserts that a decision is a miss for the given reason.
func assertMiss(t *testing.T, d Decision, reason Reason, context string) {
	t.Helper()

	if !d.Rebuild {
		t.Fatalf("Expected cache miss on %s, got hit", context)
	}
	if d.Reason != reason {
		t.Fatalf("Expected miss reason %s on %s, got %s\n%s", reason, context, d.Reason, spew.Sdump(d))
	}
}
