package buildcache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// DefaultArtifactPatterns are file name suffixes of generator scaffolding
// that never belongs in the generated reference docs.
var DefaultArtifactPatterns = []string{"sidebar.ts", ".info.mdx", ".tag.mdx"}

// PreservedFile is a hand-authored file captured before regeneration.
type PreservedFile struct {
	Name    string
	Content []byte
	Mode    os.FileMode
}

// MatchPreserved reports whether a file name matches a preserve pattern.
// Patterns containing glob metacharacters ("*-overview.mdx") are matched
// with filepath.Match; plain patterns match the whole name or a suffix.
func MatchPreserved(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if strings.ContainsAny(pattern, "*?[") {
		ok, err := filepath.Match(pattern, name)
		return err == nil && ok
	}
	return name == pattern || strings.HasSuffix(name, pattern)
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if MatchPreserved(name, p) {
			return true
		}
	}
	return false
}

// matchPreservedPath reports whether a slash-separated relative path is a
// preserved file: its base name matches a pattern, or the whole path ends
// with a plain pattern.
func matchPreservedPath(rel string, patterns []string) bool {
	return matchAny(path.Base(rel), patterns) || matchAny(rel, patterns)
}

// Preserve reads every top-level regular file in dir whose name matches one
// of the patterns. A missing dir yields no files.
func Preserve(afs afero.Fs, dir string, patterns ...string) ([]PreservedFile, error) {
	infos, err := afero.ReadDir(afs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var preserved []PreservedFile
	for _, info := range infos {
		if info.IsDir() || !matchAny(info.Name(), patterns) {
			continue
		}
		content, err := afero.ReadFile(afs, filepath.Join(dir, info.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", info.Name(), err)
		}
		preserved = append(preserved, PreservedFile{
			Name:    info.Name(),
			Content: content,
			Mode:    info.Mode().Perm(),
		})
	}
	return preserved, nil
}

// RestorePreserved writes every preserved file back into dir verbatim,
// creating dir if the generator removed it. All files are attempted; the
// returned error joins every failure.
func RestorePreserved(afs afero.Fs, dir string, files []PreservedFile) error {
	if len(files) == 0 {
		return nil
	}
	if err := afs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate %s: %w", dir, err)
	}

	var errs []error
	for _, f := range files {
		mode := f.Mode
		if mode == 0 {
			mode = 0o644
		}
		if err := afero.WriteFile(afs, filepath.Join(dir, f.Name), f.Content, mode); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore %s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// CleanUnwantedArtifacts removes, recursively under dir, every file whose
// name ends with one of the patterns, and returns the removed paths
// relative to dir.
func CleanUnwantedArtifacts(afs afero.Fs, dir string, patterns []string) ([]string, error) {
	found, err := FindArtifacts(afs, dir, patterns)
	if err != nil {
		return nil, err
	}
	for _, rel := range found {
		if err := afs.Remove(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", rel, err)
		}
	}
	return found, nil
}

// FindArtifacts lists, without removing, the files CleanUnwantedArtifacts
// would remove.
func FindArtifacts(afs afero.Fs, dir string, patterns []string) ([]string, error) {
	exists, err := afero.DirExists(afs, dir)
	if err != nil || !exists {
		return nil, err
	}

	var found []string
	err = afero.Walk(afs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !hasAnySuffix(info.Name(), patterns) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		found = append(found, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(found)
	return found, nil
}

// RegenerateOptions controls RegenerateDir.
type RegenerateOptions struct {
	// Preserve lists patterns of hand-authored top-level files.
	Preserve []string
	// Wipe removes every non-preserved entry of the directory before
	// running the generator.
	Wipe bool
	// Artifacts lists file name suffixes removed after a successful run.
	Artifacts []string
}

// RegenerateDir runs gen against dir while keeping the preserved files
// intact. Preserved files are written back after gen returns, whether it
// succeeded or not; artifacts are only cleaned after a success, and always
// after restoration, so cleaning can never remove a preserved file.
func RegenerateDir(afs afero.Fs, dir string, opts RegenerateOptions, gen func() error) (err error) {
	preserved, err := Preserve(afs, dir, opts.Preserve...)
	if err != nil {
		return err
	}

	defer func() {
		if rerr := RestorePreserved(afs, dir, preserved); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	if opts.Wipe {
		if err := wipeExcept(afs, dir, opts.Preserve); err != nil {
			return err
		}
	}

	if err := gen(); err != nil {
		return err
	}

	// restore before cleaning; the deferred restore is then a no-op rewrite
	if err := RestorePreserved(afs, dir, preserved); err != nil {
		return err
	}
	if len(opts.Artifacts) == 0 {
		return nil
	}

	found, err := FindArtifacts(afs, dir, opts.Artifacts)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(preserved))
	for _, f := range preserved {
		keep[f.Name] = true
	}
	for _, rel := range found {
		if keep[rel] {
			continue
		}
		if err := afs.Remove(filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return fmt.Errorf("failed to remove %s: %w", rel, err)
		}
	}
	return nil
}

// wipeExcept removes every entry of dir except top-level files matching
// the preserve patterns.
func wipeExcept(afs afero.Fs, dir string, patterns []string) error {
	infos, err := afero.ReadDir(afs, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, info := range infos {
		if !info.IsDir() && matchAny(info.Name(), patterns) {
			continue
		}
		if err := afs.RemoveAll(filepath.Join(dir, info.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", info.Name(), err)
		}
	}
	return nil
}
