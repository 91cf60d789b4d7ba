package buildcache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/afero"
)

// maxDiffBytes bounds the content compared line by line; larger files are
// only reported as different.
const maxDiffBytes = 256 * 1024

// ValidateOptions selects the integrity checks run by Validate.
type ValidateOptions struct {
	// Compare checks snapshot bytes against the live outputs and attaches a
	// unified diff for text files that differ.
	Compare bool
	// ArtifactDirs are scanned for leftover generator artifacts.
	ArtifactDirs []string
	// ArtifactPatterns defaults to DefaultArtifactPatterns.
	ArtifactPatterns []string
	// Required lists project-relative files that must exist, such as
	// hand-authored overview pages.
	Required []string
}

// Validate checks the lockfile, every manifest entry and its snapshot, and
// the optional artifact and required-file rules. It returns nil or a
// *ValidationError whose errors are all *Issue.
func (c *Cache) Validate(opts ValidateOptions) error {
	var issues []error
	add := func(target string, kind IssueKind, format string, args ...any) *Issue {
		issue := &Issue{Target: target, Kind: kind, Detail: fmt.Sprintf(format, args...)}
		issues = append(issues, issue)
		return issue
	}

	if !c.disabled {
		c.validateLockfile(add)
	}

	m := c.Manifest()
	for _, name := range sortedKeys(m.Targets) {
		t := m.Targets[name]
		if t.Inputs == nil {
			add(name, IssueCorruptEntry, "entry has no inputs")
		}
		for _, out := range t.Outputs {
			if exists, _ := afero.Exists(c.fs, c.projectPath(out)); !exists {
				add(name, IssueOutputMissing, "output %s does not exist", out)
			}
		}
		if t.Snapshot != nil {
			c.validateSnapshot(name, t, opts.Compare, add)
		}
	}

	patterns := opts.ArtifactPatterns
	if len(patterns) == 0 {
		patterns = DefaultArtifactPatterns
	}
	for _, dir := range opts.ArtifactDirs {
		found, err := FindArtifacts(c.fs, c.projectPath(dir), patterns)
		if err != nil {
			add("", IssueArtifact, "failed to scan %s: %v", dir, err)
			continue
		}
		for _, rel := range found {
			add("", IssueArtifact, "%s", filepath.ToSlash(filepath.Join(dir, rel)))
		}
	}

	for _, req := range opts.Required {
		if exists, _ := afero.Exists(c.fs, c.projectPath(req)); !exists {
			add("", IssueOutputMissing, "required file %s does not exist", req)
		}
	}

	c.logger.Debug("validated build cache", "targets", len(m.Targets), "issues", len(issues))
	return newValidationError(issues)
}

type addIssue func(target string, kind IssueKind, format string, args ...any) *Issue

func (c *Cache) validateLockfile(add addIssue) {
	data, err := afero.ReadFile(c.fs, c.lockfilePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			add("", IssueLockfile, "lockfile %s does not exist", c.lockfilePath())
			return
		}
		add("", IssueLockfile, "failed to read lockfile: %v", err)
		return
	}

	var raw struct {
		Version *int            `json:"version"`
		Targets json.RawMessage `json:"targets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		add("", IssueLockfile, "failed to parse lockfile: %v", err)
		return
	}
	if raw.Version == nil || *raw.Version == 0 {
		add("", IssueLockfile, "lockfile has no version")
	}
	if len(raw.Targets) == 0 || string(raw.Targets) == "null" {
		add("", IssueLockfile, "lockfile has no targets")
	}
}

func (c *Cache) validateSnapshot(name string, t *Target, compare bool, add addIssue) {
	id, err := ParseTargetID(name)
	if err != nil {
		add(name, IssueCorruptEntry, "snapshot recorded under invalid target id: %v", err)
		return
	}

	dir := c.snapshotDir(id)
	for _, rel := range t.Snapshot.Files {
		stored := filepath.Join(dir, filepath.FromSlash(rel))
		snap, err := afero.ReadFile(c.fs, stored)
		if err != nil {
			add(name, IssueSnapshotMissing, "snapshot file %s: %v", rel, err)
			continue
		}
		if !compare || t.Snapshot.Kind != SnapshotOutputs {
			continue
		}

		live, err := afero.ReadFile(c.fs, c.projectPath(rel))
		if err != nil {
			// reported as a missing output above
			continue
		}
		if bytes.Equal(snap, live) {
			continue
		}
		issue := add(name, IssueSnapshotDiffers, "%s differs from its snapshot", rel)
		issue.Diff = unifiedDiff("snapshot/"+rel, rel, snap, live)
	}
}

// unifiedDiff renders a line diff of two text files, or nothing for binary
// or oversized content.
func unifiedDiff(fromName, toName string, from, to []byte) string {
	if len(from)+len(to) > maxDiffBytes || bytes.IndexByte(from, 0) >= 0 || bytes.IndexByte(to, 0) >= 0 {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(from)),
		B:        difflib.SplitLines(string(to)),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
