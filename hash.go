package buildcache

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Default size for the buffer used when hashing and copying files
const defaultBufferSize = 32 * 1024 // 32KB

// separator between files in a directory digest
const dirEntrySeparator = "\n"

// bufferPool is a pool of byte slices used for file I/O during hashing and copying
var bufferPool = sync.Pool{
	New: func() interface{} {
		buffer := make([]byte, defaultBufferSize)
		return &buffer
	},
}

// hashReader hashes the content from a reader using the provided hash.
func hashReader(content io.Reader, h hash.Hash) error {
	bufPtr := bufferPool.Get().(*[]byte)
	buffer := *bufPtr
	defer bufferPool.Put(bufPtr)

	_, err := io.CopyBuffer(h, content, buffer)
	if err != nil {
		return fmt.Errorf("failed to copy content: %w", err)
	}
	return nil
}

// DirOptions filters the files that contribute to a directory hash.
type DirOptions struct {
	// Exclude drops any path (file or directory, relative to the hashed
	// directory) containing one of these substrings. Applied first.
	Exclude []string
	// Include keeps only files whose relative path ends with one of these
	// suffixes. Empty means keep everything that survived Exclude.
	Include []string
}

// Hasher computes content digests. It never looks at file metadata,
// so hashes are stable across checkouts and machines.
type Hasher struct {
	fs      afero.Fs
	newHash HashFunc
}

// NewHasher creates a hasher over fs. A nil hashFunc selects SHA-256.
func NewHasher(fs afero.Fs, hashFunc HashFunc) *Hasher {
	if hashFunc == nil {
		hashFunc = defaultHashFunc
	}
	return &Hasher{fs: fs, newHash: hashFunc}
}

// File returns the digest of a file's bytes, or NoHash if it does not exist.
func (hs *Hasher) File(path string) (Hash, error) {
	f, err := hs.fs.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoHash, nil
		}
		return NoHash, fmt.Errorf("file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return NoHash, fmt.Errorf("file %s: %w", path, err)
	}
	if info.IsDir() {
		return NoHash, fmt.Errorf("file %s: is a directory", path)
	}

	h := hs.newHash()
	if err := hashReader(f, h); err != nil {
		return NoHash, fmt.Errorf("file %s: %w", path, err)
	}
	return sum(h), nil
}

// Dir returns the digest of a directory subtree, or NoHash if the directory
// does not exist. Files are ordered by relative path before hashing so the
// result does not depend on listing order; each file contributes
// "<relative path>:<content>" and files are joined with a newline. An empty
// directory hashes to the digest of empty input.
func (hs *Hasher) Dir(path string, opts DirOptions) (Hash, error) {
	exists, err := afero.DirExists(hs.fs, path)
	if err != nil {
		return NoHash, fmt.Errorf("dir %s: %w", path, err)
	}
	if !exists {
		return NoHash, nil
	}

	files, err := listFiles(hs.fs, path, opts)
	if err != nil {
		return NoHash, fmt.Errorf("dir %s: %w", path, err)
	}

	h := hs.newHash()
	for i, rel := range files {
		if i > 0 {
			io.WriteString(h, dirEntrySeparator)
		}
		io.WriteString(h, rel)
		io.WriteString(h, ":")

		f, err := hs.fs.Open(filepath.Join(path, filepath.FromSlash(rel)))
		if err != nil {
			return NoHash, fmt.Errorf("dir file %s: %w", rel, err)
		}
		err = hashReader(f, h)
		f.Close()
		if err != nil {
			return NoHash, fmt.Errorf("dir file %s: %w", rel, err)
		}
	}

	return sum(h), nil
}

// String returns the digest of a literal value such as a source URL or a
// generator version.
func (hs *Hasher) String(s string) Hash {
	h := hs.newHash()
	io.WriteString(h, s)
	return sum(h)
}

// PackageVersion returns the digest of "<name>@<version>" as declared in
// a package.json dependencies or devDependencies block, or NoHash when the
// manifest or the dependency is absent.
func (hs *Hasher) PackageVersion(packageJSON, name string) (Hash, error) {
	data, err := afero.ReadFile(hs.fs, packageJSON)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NoHash, nil
		}
		return NoHash, fmt.Errorf("package manifest %s: %w", packageJSON, err)
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return NoHash, fmt.Errorf("package manifest %s: %w", packageJSON, err)
	}

	version := pkg.Dependencies[name]
	if version == "" {
		version = pkg.DevDependencies[name]
	}
	if version == "" {
		return NoHash, nil
	}
	return hs.String(name + "@" + version), nil
}

// listFiles walks root and returns the surviving files as sorted,
// slash-separated relative paths.
func listFiles(afs afero.Fs, root string, opts DirOptions) ([]string, error) {
	var files []string
	err := afero.Walk(afs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if containsAny(rel, opts.Exclude) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		// symlinks and other special files are not content
		if !info.Mode().IsRegular() {
			return nil
		}
		if len(opts.Include) > 0 && !hasAnySuffix(rel, opts.Include) {
			return nil
		}

		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort for deterministic ordering
	sort.Strings(files)
	return files, nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func sum(h hash.Hash) Hash {
	return Hash(hex.EncodeToString(h.Sum(nil)))
}
