package buildcache

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
)

func TestMatchPreserved(t *testing.T) {
	testCases := []struct {
		name    string
		pattern string
		want    bool
	}{
		{"overview.mdx", "overview.mdx", true},
		{"people-overview.mdx", "overview.mdx", true},
		{"people-overview.mdx", "*-overview.mdx", true},
		{"overview.mdx", "*-overview.mdx", false},
		{"overview.mdx.bak", "overview.mdx", false},
		{"gen1.mdx", "overview.mdx", false},
		{"gen1.mdx", "", false},
	}

	for _, tc := range testCases {
		if got := MatchPreserved(tc.name, tc.pattern); got != tc.want {
			t.Errorf("MatchPreserved(%q, %q) = %v, want %v", tc.name, tc.pattern, got, tc.want)
		}
	}
}

func TestPreserveRestore(t *testing.T) {
	memFs := afero.NewMemMapFs()
	dir := "/docs/api/chat"

	createTestFile(t, memFs, dir+"/gen1.mdx", []byte("generated"))
	createTestFile(t, memFs, dir+"/overview.mdx", []byte("hand written"))
	createTestFile(t, memFs, dir+"/nested/overview.mdx", []byte("nested is not preserved"))

	preserved, err := Preserve(memFs, dir, "overview.mdx")
	if err != nil {
		t.Fatal(err)
	}
	if len(preserved) != 1 || preserved[0].Name != "overview.mdx" {
		t.Fatalf("Preserve() = %+v", preserved)
	}

	if err := memFs.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	if err := RestorePreserved(memFs, dir, preserved); err != nil {
		t.Fatal(err)
	}

	assertFileContent(t, memFs, dir+"/overview.mdx", []byte("hand written"))
	assertNotExists(t, memFs, dir+"/gen1.mdx")
}

func TestPreserve_MissingDir(t *testing.T) {
	preserved, err := Preserve(afero.NewMemMapFs(), "/nope", "overview.mdx")
	if err != nil || len(preserved) != 0 {
		t.Errorf("Preserve(missing) = %v, %v", preserved, err)
	}
}

func TestCleanUnwantedArtifacts(t *testing.T) {
	memFs := afero.NewMemMapFs()
	dir := "/docs/api/indexing-api"

	createTestFile(t, memFs, dir+"/sidebar.ts", []byte("x"))
	createTestFile(t, memFs, dir+"/glean-api.info.mdx", []byte("x"))
	createTestFile(t, memFs, dir+"/documents/documents.tag.mdx", []byte("x"))
	createTestFile(t, memFs, dir+"/documents/list.api.mdx", []byte("keep"))

	removed, err := CleanUnwantedArtifacts(memFs, dir, DefaultArtifactPatterns)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"documents/documents.tag.mdx", "glean-api.info.mdx", "sidebar.ts"}
	if len(removed) != len(want) {
		t.Fatalf("removed %v, want %v", removed, want)
	}
	for i := range want {
		if removed[i] != want[i] {
			t.Errorf("removed[%d] = %s, want %s", i, removed[i], want[i])
		}
	}
	assertFileContent(t, memFs, dir+"/documents/list.api.mdx", []byte("keep"))
}

func TestRegenerateDir(t *testing.T) {
	opts := RegenerateOptions{
		Preserve:  []string{"overview.mdx"},
		Wipe:      true,
		Artifacts: DefaultArtifactPatterns,
	}

	setup := func(t *testing.T) afero.Fs {
		memFs := afero.NewMemMapFs()
		createTestFile(t, memFs, "/out/gen1.mdx", []byte("old generated"))
		createTestFile(t, memFs, "/out/overview.mdx", []byte("hand written"))
		return memFs
	}

	t.Run("Success", func(t *testing.T) {
		memFs := setup(t)

		err := RegenerateDir(memFs, "/out", opts, func() error {
			// generators clobber the overview page
			createTestFile(t, memFs, "/out/overview.mdx", []byte("scaffold"))
			createTestFile(t, memFs, "/out/gen2.mdx", []byte("new generated"))
			createTestFile(t, memFs, "/out/sidebar.ts", []byte("noise"))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		assertFileContent(t, memFs, "/out/overview.mdx", []byte("hand written"))
		assertFileContent(t, memFs, "/out/gen2.mdx", []byte("new generated"))
		assertNotExists(t, memFs, "/out/gen1.mdx")
		assertNotExists(t, memFs, "/out/sidebar.ts")
	})

	t.Run("Generator failure", func(t *testing.T) {
		memFs := setup(t)
		genErr := errors.New("generator crashed")

		err := RegenerateDir(memFs, "/out", opts, func() error {
			if err := memFs.RemoveAll("/out"); err != nil {
				t.Fatal(err)
			}
			createTestFile(t, memFs, "/out/sidebar.ts", []byte("noise"))
			return genErr
		})
		if !errors.Is(err, genErr) {
			t.Fatalf("expected generator error, got %v", err)
		}

		assertFileContent(t, memFs, "/out/overview.mdx", []byte("hand written"))
		// artifacts are only cleaned after a successful run
		assertFileContent(t, memFs, "/out/sidebar.ts", []byte("noise"))
	})

	t.Run("Artifact patterns never remove preserved files", func(t *testing.T) {
		memFs := afero.NewMemMapFs()
		createTestFile(t, memFs, "/out/api.info.mdx", []byte("hand written info"))

		err := RegenerateDir(memFs, "/out", RegenerateOptions{
			Preserve:  []string{"api.info.mdx"},
			Artifacts: DefaultArtifactPatterns,
		}, func() error {
			createTestFile(t, memFs, "/out/other.info.mdx", []byte("noise"))
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		assertFileContent(t, memFs, "/out/api.info.mdx", []byte("hand written info"))
		assertNotExists(t, memFs, "/out/other.info.mdx")
	})
}
