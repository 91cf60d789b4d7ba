package buildcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

func sha256Hex(data string) Hash {
	sum := sha256.Sum256([]byte(data))
	return Hash(hex.EncodeToString(sum[:]))
}

// TestHasherFile checks that hashing through the filesystem abstraction
// gives the same digest as hashing the bytes directly.
func TestHasherFile(t *testing.T) {
	memFs := afero.NewMemMapFs()
	hasher := NewHasher(memFs, nil)

	testCases := []struct {
		name    string
		content string
	}{
		{name: "Normal file", content: "test content"},
		{name: "Empty file", content: ""},
		{name: "Larger than buffer", content: string(make([]byte, defaultBufferSize*3+7))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := "/files/" + tc.name
			createTestFile(t, memFs, path, []byte(tc.content))

			got, err := hasher.File(path)
			if err != nil {
				t.Fatalf("File() error = %v", err)
			}
			if want := sha256Hex(tc.content); got != want {
				t.Errorf("File() = %s, want %s", got, want)
			}
		})
	}

	t.Run("Missing file", func(t *testing.T) {
		got, err := hasher.File("/files/nonexistent.txt")
		if err != nil {
			t.Fatalf("File() error = %v", err)
		}
		if got != NoHash {
			t.Errorf("File() = %s, want NoHash", got)
		}
	})

	t.Run("Directory", func(t *testing.T) {
		createTestDir(t, memFs, "/files/sub")
		if _, err := hasher.File("/files/sub"); err == nil {
			t.Fatal("expected error hashing a directory")
		}
	})
}

func TestHasherFile_CustomHash(t *testing.T) {
	memFs := afero.NewMemMapFs()
	createTestFile(t, memFs, "/a.txt", []byte("content"))

	got, err := NewHasher(memFs, func() hash.Hash { return xxhash.New() }).File("/a.txt")
	if err != nil {
		t.Fatal(err)
	}

	h := xxhash.New()
	h.Write([]byte("content"))
	if want := sum(h); got != want {
		t.Errorf("File() = %s, want %s", got, want)
	}
}

func TestHasherDir(t *testing.T) {
	memFs := afero.NewMemMapFs()
	hasher := NewHasher(memFs, nil)

	createTestFile(t, memFs, "/entries/b.md", []byte("y"))
	createTestFile(t, memFs, "/entries/a.md", []byte("x"))

	t.Run("Format", func(t *testing.T) {
		got, err := hasher.Dir("/entries", DirOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if want := sha256Hex("a.md:x\nb.md:y"); got != want {
			t.Errorf("Dir() = %s, want %s", got, want)
		}
	})

	t.Run("Order independent", func(t *testing.T) {
		other := afero.NewMemMapFs()
		createTestFile(t, other, "/entries/a.md", []byte("x"))
		createTestFile(t, other, "/entries/b.md", []byte("y"))

		h1, err := hasher.Dir("/entries", DirOptions{})
		if err != nil {
			t.Fatal(err)
		}
		h2, err := NewHasher(other, nil).Dir("/entries", DirOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if h1 != h2 {
			t.Errorf("directory hash depends on creation order: %s != %s", h1, h2)
		}
	})

	t.Run("Missing vs empty", func(t *testing.T) {
		missing, err := hasher.Dir("/nope", DirOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if missing != NoHash {
			t.Errorf("missing dir = %s, want NoHash", missing)
		}

		createTestDir(t, memFs, "/empty")
		empty, err := hasher.Dir("/empty", DirOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if want := sha256Hex(""); empty != want {
			t.Errorf("empty dir = %s, want %s", empty, want)
		}
	})

	t.Run("Sensitive to rename", func(t *testing.T) {
		renamed := afero.NewMemMapFs()
		createTestFile(t, renamed, "/entries/a.md", []byte("x"))
		createTestFile(t, renamed, "/entries/c.md", []byte("y"))

		h1, _ := hasher.Dir("/entries", DirOptions{})
		h2, _ := NewHasher(renamed, nil).Dir("/entries", DirOptions{})
		if h1 == h2 {
			t.Error("renaming a file did not change the directory hash")
		}
	})
}

func TestHasherDir_Filters(t *testing.T) {
	memFs := afero.NewMemMapFs()
	hasher := NewHasher(memFs, nil)

	createTestFile(t, memFs, "/src/keep.md", []byte("k"))
	createTestFile(t, memFs, "/src/skip.txt", []byte("s"))
	createTestFile(t, memFs, "/src/node_modules/dep.md", []byte("d"))
	createTestFile(t, memFs, "/src/nested/deep.md", []byte("n"))

	testCases := []struct {
		name string
		opts DirOptions
		want string
	}{
		{
			name: "Include suffix",
			opts: DirOptions{Include: []string{".md"}},
			want: "keep.md:k\nnested/deep.md:n\nnode_modules/dep.md:d",
		},
		{
			name: "Exclude substring prunes directories",
			opts: DirOptions{Exclude: []string{"node_modules"}, Include: []string{".md"}},
			want: "keep.md:k\nnested/deep.md:n",
		},
		{
			name: "Exclude applies to files",
			opts: DirOptions{Exclude: []string{"skip"}},
			want: "keep.md:k\nnested/deep.md:n\nnode_modules/dep.md:d",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := hasher.Dir("/src", tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if want := sha256Hex(tc.want); got != want {
				files, _ := listFiles(memFs, "/src", tc.opts)
				t.Errorf("Dir() = %s, want %s (files %v)", got, want, files)
			}
		})
	}
}

func TestHasherDir_SkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	osFs := afero.NewOsFs()

	createTestFile(t, osFs, filepath.Join(root, "a.md"), []byte("a"))
	if err := os.Symlink(filepath.Join(root, "a.md"), filepath.Join(root, "link.md")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := NewHasher(osFs, nil).Dir(root, DirOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if want := sha256Hex("a.md:a"); got != want {
		files, _ := listFiles(osFs, root, DirOptions{})
		t.Errorf("Dir() = %s, want %s (files %v)", got, want, files)
	}
}

func TestHasherPackageVersion(t *testing.T) {
	memFs := afero.NewMemMapFs()
	hasher := NewHasher(memFs, nil)

	createTestFile(t, memFs, "/package.json", []byte(`{
  "dependencies": {"docusaurus-plugin-openapi-docs": "4.3.1"},
  "devDependencies": {"typescript": "5.6.0"}
}`))

	got, err := hasher.PackageVersion("/package.json", "docusaurus-plugin-openapi-docs")
	if err != nil {
		t.Fatal(err)
	}
	if want := hasher.String("docusaurus-plugin-openapi-docs@4.3.1"); got != want {
		t.Errorf("PackageVersion() = %s, want %s", got, want)
	}

	dev, err := hasher.PackageVersion("/package.json", "typescript")
	if err != nil {
		t.Fatal(err)
	}
	if dev == NoHash {
		t.Error("devDependencies entry should hash")
	}

	absent, err := hasher.PackageVersion("/package.json", "left-pad")
	if err != nil || absent != NoHash {
		t.Errorf("PackageVersion(absent) = %q, %v", absent, err)
	}

	noManifest, err := hasher.PackageVersion("/missing.json", "x")
	if err != nil || noManifest != NoHash {
		t.Errorf("PackageVersion(no manifest) = %q, %v", noManifest, err)
	}
}

func TestInputsBuilder(t *testing.T) {
	cache, memFs := setupTestCache(t)

	createTestFile(t, memFs, "/project/changelog/entries/2024-01-01.md", []byte("entry"))
	createTestFile(t, memFs, "/project/scripts/gen.mjs", []byte("script"))

	inputs, err := cache.Inputs().
		Dir("entries", "/project/changelog/entries", DirOptions{Include: []string{".md"}}).
		File("generator", "/project/scripts/gen.mjs").
		File("optional", "/project/scripts/missing.mjs").
		Version("2").
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := inputs.Keys(); len(got) != 4 {
		t.Fatalf("Keys() = %v, want 4 keys", got)
	}
	if inputs["optional"] != NoHash {
		t.Errorf("missing file should record NoHash, got %s", inputs["optional"])
	}
	if inputs["version"] != cache.Hasher().String("2") {
		t.Errorf("version hash mismatch")
	}

	t.Run("Accumulates errors", func(t *testing.T) {
		createTestDir(t, memFs, "/project/a-dir")

		_, err := cache.Inputs().
			File("dir", "/project/a-dir").
			String("dup", "1").
			String("dup", "2").
			Build()

		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(ve.Errors) != 2 {
			t.Errorf("expected 2 errors, got %d: %v", len(ve.Errors), ve)
		}
	})
}
