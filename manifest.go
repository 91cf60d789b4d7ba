package buildcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/spf13/afero"
)

// ManifestVersion is the lockfile schema version written by this package.
const ManifestVersion = 1

// Status values for a target entry. Only valid targets are recorded;
// invalidated targets are removed from the manifest.
const (
	StatusValid = "valid"
)

// Manifest is the persisted record of every target's last build.
type Manifest struct {
	Version     int                `json:"version"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Targets     map[string]*Target `json:"targets"`
}

// Target is one manifest entry.
type Target struct {
	// Inputs is nil when the entry was written without an inputs field,
	// which marks it as corrupted.
	Inputs    Inputs
	Outputs   []string
	Status    string
	LastBuilt time.Time
	Metadata  map[string]json.RawMessage
	Snapshot  *Snapshot

	// extra holds fields written by other tools, re-emitted on save.
	extra map[string]json.RawMessage
}

// Snapshot records that a copy of a target's outputs is stored in the cache.
type Snapshot struct {
	Kind     SnapshotKind `json:"kind"`
	Hash     Hash         `json:"hash,omitempty"`
	Files    []string     `json:"files"`
	Size     int64        `json:"size"`
	StoredAt time.Time    `json:"storedAt"`
}

// SnapshotKind says how a snapshot maps back onto the project.
type SnapshotKind string

const (
	// SnapshotFile is a single file, restored to an explicit path.
	SnapshotFile SnapshotKind = "file"
	// SnapshotDirectory is a directory tree minus preserved files, restored
	// over an explicit directory without removing other files.
	SnapshotDirectory SnapshotKind = "directory"
	// SnapshotOutputs mirrors every declared output path of the target and
	// replaces them on restore.
	SnapshotOutputs SnapshotKind = "outputs"
)

var knownTargetFields = []string{"inputs", "outputs", "status", "lastBuilt", "metadata", "snapshot"}

// MarshalJSON writes known fields and re-emits unknown ones.
func (t *Target) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(t.extra)+len(knownTargetFields))
	for k, v := range t.extra {
		out[k] = v
	}

	put := func(key string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", key, err)
		}
		out[key] = data
		return nil
	}

	if t.Inputs != nil {
		if err := put("inputs", t.Inputs); err != nil {
			return nil, err
		}
	}
	if _, kept := out["outputs"]; t.Outputs != nil || !kept {
		outputs := t.Outputs
		if outputs == nil {
			outputs = []string{}
		}
		if err := put("outputs", outputs); err != nil {
			return nil, err
		}
	}
	if t.Status != "" {
		if err := put("status", t.Status); err != nil {
			return nil, err
		}
	}
	if !t.LastBuilt.IsZero() {
		if err := put("lastBuilt", t.LastBuilt.UTC().Format(time.RFC3339Nano)); err != nil {
			return nil, err
		}
	}
	if len(t.Metadata) > 0 {
		if err := put("metadata", t.Metadata); err != nil {
			return nil, err
		}
	}
	if t.Snapshot != nil {
		if err := put("snapshot", t.Snapshot); err != nil {
			return nil, err
		}
	}

	// map keys are marshalled in sorted order, keeping the lockfile diffable
	return json.Marshal(out)
}

// UnmarshalJSON reads known fields and keeps the rest for round-tripping.
func (t *Target) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = Target{}

	if v, ok := raw["inputs"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &t.Inputs); err != nil {
			return fmt.Errorf("inputs: %w", err)
		}
		if t.Inputs == nil {
			t.Inputs = Inputs{}
		}
	}
	if v, ok := raw["outputs"]; ok {
		if err := json.Unmarshal(v, &t.Outputs); err != nil {
			return fmt.Errorf("outputs: %w", err)
		}
	}
	if v, ok := raw["status"]; ok {
		if err := json.Unmarshal(v, &t.Status); err != nil {
			return fmt.Errorf("status: %w", err)
		}
	}
	if v, ok := raw["lastBuilt"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &t.LastBuilt); err != nil {
			return fmt.Errorf("lastBuilt: %w", err)
		}
	}
	if v, ok := raw["metadata"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &t.Metadata); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
	}
	if v, ok := raw["snapshot"]; ok && string(v) != "null" {
		t.Snapshot = &Snapshot{}
		if err := json.Unmarshal(v, t.Snapshot); err != nil {
			return fmt.Errorf("snapshot: %w", err)
		}
	}

	for _, k := range knownTargetFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		t.extra = raw
	}
	return nil
}

// unknownFields returns the extra fields that no known field shadows.
func (t *Target) unknownFields() map[string]json.RawMessage {
	var out map[string]json.RawMessage
	for k, v := range t.extra {
		if slices.Contains(knownTargetFields, k) {
			continue
		}
		if out == nil {
			out = make(map[string]json.RawMessage)
		}
		out[k] = v
	}
	return out
}

// clone returns a deep copy of the entry.
func (t *Target) clone() *Target {
	out := *t
	if t.Inputs != nil {
		out.Inputs = t.Inputs.clone()
	}
	out.Outputs = append([]string(nil), t.Outputs...)
	if t.Metadata != nil {
		out.Metadata = make(map[string]json.RawMessage, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = append(json.RawMessage(nil), v...)
		}
	}
	if t.Snapshot != nil {
		s := *t.Snapshot
		s.Files = append([]string(nil), t.Snapshot.Files...)
		out.Snapshot = &s
	}
	if t.extra != nil {
		out.extra = make(map[string]json.RawMessage, len(t.extra))
		for k, v := range t.extra {
			out.extra[k] = v
		}
	}
	return &out
}

func newManifest(now time.Time) *Manifest {
	return &Manifest{
		Version:     ManifestVersion,
		GeneratedAt: now,
		Targets:     make(map[string]*Target),
	}
}

// loadManifest reads the lockfile. A missing file yields an empty manifest;
// an unparseable one is logged and also yields an empty manifest.
func (c *Cache) loadManifest() *Manifest {
	data, err := afero.ReadFile(c.fs, c.lockfilePath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read lockfile, starting empty", "path", c.lockfilePath(), "error", err)
		} else {
			c.logger.Debug("no lockfile, starting empty", "path", c.lockfilePath())
		}
		return newManifest(c.now())
	}

	var file struct {
		Version     int                        `json:"version"`
		GeneratedAt time.Time                  `json:"generatedAt"`
		Targets     map[string]json.RawMessage `json:"targets"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		c.logger.Warn("failed to parse lockfile, starting empty", "path", c.lockfilePath(), "error", err)
		return newManifest(c.now())
	}

	m := Manifest{
		Version:     file.Version,
		GeneratedAt: file.GeneratedAt,
		Targets:     make(map[string]*Target, len(file.Targets)),
	}
	if m.Version == 0 {
		m.Version = ManifestVersion
	}
	for name, raw := range file.Targets {
		if t := c.decodeTarget(name, raw); t != nil {
			m.Targets[name] = t
		}
	}

	c.logger.Debug("loaded lockfile", "path", c.lockfilePath(), "targets", len(m.Targets))
	return &m
}

// decodeTarget decodes one lockfile entry. An object whose known fields do
// not decode is kept as an entry without inputs, so it misses as corrupted
// while its fields are still written back on save. Anything else is dropped.
func (c *Cache) decodeTarget(name string, raw json.RawMessage) *Target {
	if string(raw) == "null" {
		return nil
	}

	var t Target
	err := json.Unmarshal(raw, &t)
	if err == nil {
		return &t
	}

	var fields map[string]json.RawMessage
	if jerr := json.Unmarshal(raw, &fields); jerr != nil {
		c.logger.Warn("dropping unreadable lockfile entry", "target", name, "error", err)
		return nil
	}
	c.logger.Warn("lockfile entry is corrupted", "target", name, "error", err)
	return &Target{extra: fields}
}

// Save persists the manifest atomically. Failures are logged and returned;
// the in-memory manifest stays authoritative either way.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked writes the manifest to a temporary file next to the lockfile
// and renames it into place, so a crash never leaves a torn lockfile.
func (c *Cache) saveLocked() error {
	if c.disabled {
		return nil
	}

	c.manifest.GeneratedAt = c.now()
	data, err := json.MarshalIndent(c.manifest, "", "  ")
	if err != nil {
		c.logger.Error("failed to marshal lockfile", "error", err)
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := c.writeAtomic(c.lockfilePath(), data); err != nil {
		c.logger.Error("failed to save lockfile", "path", c.lockfilePath(), "error", err)
		return fmt.Errorf("failed to save manifest: %w", err)
	}

	c.logger.Debug("saved lockfile", "targets", len(c.manifest.Targets))
	return nil
}

// writeAtomic writes data to path through a sibling temporary file.
func (c *Cache) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := c.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(c.fs, dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		if err := c.fs.Remove(tmpName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to remove temporary file", "path", tmpName, "error", err)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := c.fs.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Manifest returns a deep copy of the in-memory manifest.
func (c *Cache) Manifest() *Manifest {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Manifest{
		Version:     c.manifest.Version,
		GeneratedAt: c.manifest.GeneratedAt,
		Targets:     make(map[string]*Target, len(c.manifest.Targets)),
	}
	for name, t := range c.manifest.Targets {
		out.Targets[name] = t.clone()
	}
	return out
}

// TargetNames returns the manifest keys in sorted order.
func (c *Cache) TargetNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.manifest.Targets))
	for name := range c.manifest.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a copy of a target's entry.
func (c *Cache) Lookup(id TargetID) (*Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.manifest.Targets[id.String()]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// SetMetadata stores a JSON-encodable payload under key in a target's
// metadata and persists. The target must already be in the manifest.
func (c *Cache) SetMetadata(id TargetID, key string, v any) error {
	if c.disabled {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata %s: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.manifest.Targets[id.String()]
	if !ok {
		return fmt.Errorf("target %s is not in the manifest", id)
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]json.RawMessage)
	}
	t.Metadata[key] = data
	c.saveLocked()
	return nil
}

// Metadata decodes a target's metadata payload stored under key into v.
// It reports false when the target or key is absent.
func (c *Cache) Metadata(id TargetID, key string, v any) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	t, ok := c.manifest.Targets[id.String()]
	if !ok || t.Metadata == nil {
		return false, nil
	}
	data, ok := t.Metadata[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode metadata %s of %s: %w", key, id, err)
	}
	return true, nil
}
