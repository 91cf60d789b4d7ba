// Package config loads the build cache configuration: cache settings plus
// the list of targets the orchestrator runs.
package config

import (
	"fmt"
	"time"

	"github.com/gophersatwork/buildcache"
)

const (
	// YAMLFile and TOMLFile are the config file names searched in the
	// project root, in that order.
	YAMLFile = "buildcache.yaml"
	TOMLFile = "buildcache.toml"

	// DefaultPruneDays is how long an unbuilt target survives `prune`.
	DefaultPruneDays = 30

	// HashSHA256 and HashXXH64 are the accepted values of Config.Hash.
	HashSHA256 = "sha256"
	HashXXH64  = "xxh64"
)

// Snapshot modes of a target.
const (
	SnapshotNone      = "none"
	SnapshotOutputs   = "outputs"
	SnapshotDirectory = "directory"
)

// Config is the complete configuration.
type Config struct {
	// CacheDir is the cache root, relative to the project root unless absolute.
	CacheDir  string   `yaml:"cache_dir" toml:"cache_dir"`
	Hash      string   `yaml:"hash" toml:"hash"`
	Disabled  bool     `yaml:"disabled" toml:"disabled"`
	Verbose   bool     `yaml:"verbose" toml:"verbose"`
	PruneDays int      `yaml:"prune_days" toml:"prune_days"`
	Artifacts []string `yaml:"artifacts" toml:"artifacts"`

	Targets []TargetConfig `yaml:"targets" toml:"targets"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-" toml:"-"`
}

// TargetConfig declares one build target.
type TargetConfig struct {
	ID      string        `yaml:"id" toml:"id"`
	Inputs  []InputConfig `yaml:"inputs" toml:"inputs"`
	Outputs []string      `yaml:"outputs" toml:"outputs"`

	// Command is the generator argv, run from Dir (default project root).
	Command []string          `yaml:"command" toml:"command"`
	Dir     string            `yaml:"dir" toml:"dir"`
	Env     map[string]string `yaml:"env" toml:"env"`

	Snapshot   string          `yaml:"snapshot" toml:"snapshot"`
	Preserve   *PreserveConfig `yaml:"preserve" toml:"preserve"`
	OpenAPI    string          `yaml:"openapi" toml:"openapi"`
	StaleAfter Duration        `yaml:"stale_after" toml:"stale_after"`
}

// PreserveConfig keeps hand-written files alive across regeneration of Dir.
type PreserveConfig struct {
	Dir       string   `yaml:"dir" toml:"dir"`
	Patterns  []string `yaml:"patterns" toml:"patterns"`
	Wipe      bool     `yaml:"wipe" toml:"wipe"`
	Artifacts []string `yaml:"artifacts" toml:"artifacts"`
}

// InputConfig declares one named input. Exactly one source must be set.
type InputConfig struct {
	Name string `yaml:"name" toml:"name"`

	File  string `yaml:"file" toml:"file"`
	Dir   string `yaml:"dir" toml:"dir"`
	Value string `yaml:"value" toml:"value"`
	Env   string `yaml:"env" toml:"env"`

	// Package names a dependency looked up in PackageJSON
	// (default package.json).
	Package     string `yaml:"package" toml:"package"`
	PackageJSON string `yaml:"package_json" toml:"package_json"`

	Include []string `yaml:"include" toml:"include"`
	Exclude []string `yaml:"exclude" toml:"exclude"`
}

// sources returns the names of the sources set on the input.
func (in InputConfig) sources() []string {
	var set []string
	for _, s := range []struct {
		name, value string
	}{
		{"file", in.File},
		{"dir", in.Dir},
		{"value", in.Value},
		{"env", in.Env},
		{"package", in.Package},
	} {
		if s.value != "" {
			set = append(set, s.name)
		}
	}
	return set
}

// TargetID parses the target's identifier.
func (tc TargetConfig) TargetID() (buildcache.TargetID, error) {
	return buildcache.ParseTargetID(tc.ID)
}

// SnapshotMode returns the snapshot mode with the default applied.
func (tc TargetConfig) SnapshotMode() string {
	if tc.Snapshot == "" {
		return SnapshotNone
	}
	return tc.Snapshot
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		CacheDir:  buildcache.DefaultDir,
		Hash:      HashSHA256,
		PruneDays: DefaultPruneDays,
		Artifacts: append([]string(nil), buildcache.DefaultArtifactPatterns...),
	}
}

// Target returns the target with the given identifier.
func (c *Config) Target(id string) (TargetConfig, bool) {
	for _, tc := range c.Targets {
		if tc.ID == id {
			return tc, true
		}
	}
	return TargetConfig{}, false
}

// Duration is a time.Duration read from a string like "24h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q not allowed", s)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}
