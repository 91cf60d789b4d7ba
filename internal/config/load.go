package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvDisable   = "DISABLE_BUILD_CACHE"
	EnvVerbose   = "VERBOSE"
	EnvCacheDir  = "BUILD_CACHE_DIR"
	EnvPruneDays = "BUILD_CACHE_PRUNE_DAYS"
)

// Loader loads configuration from files and environment.
type Loader struct {
	fs          afero.Fs
	projectRoot string
	getenv      func(string) string
}

// NewLoader creates a loader reading from fs.
func NewLoader(fs afero.Fs) *Loader {
	return &Loader{fs: fs, projectRoot: ".", getenv: os.Getenv}
}

// WithProjectRoot sets the directory searched for config files.
func (l *Loader) WithProjectRoot(root string) *Loader {
	l.projectRoot = root
	return l
}

// WithEnv replaces the environment lookup.
func (l *Loader) WithEnv(getenv func(string) string) *Loader {
	l.getenv = getenv
	return l
}

// Load resolves configuration with this precedence:
//  1. Defaults
//  2. path, or buildcache.yaml / buildcache.toml in the project root
//  3. Environment variables
//
// An explicit path must exist; the searched files are optional.
// The result is validated before it is returned.
func (l *Loader) Load(path string) (*Config, error) {
	var cfg *Config
	var err error

	if path != "" {
		cfg, err = l.LoadFromPath(path)
	} else {
		cfg, err = l.search()
	}
	if err != nil {
		return nil, err
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath decodes the file at path over the defaults. The format is
// chosen by extension: .toml is TOML, anything else YAML.
func (l *Loader) LoadFromPath(path string) (*Config, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, &ConfigError{Path: path, Err: err}
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ConfigError{Path: path, Err: err}
		}
	}
	cfg.Path = path
	return cfg, nil
}

func (l *Loader) search() (*Config, error) {
	for _, name := range []string{YAMLFile, TOMLFile} {
		path := filepath.Join(l.projectRoot, name)
		if _, err := l.fs.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &ConfigError{Path: path, Err: err}
		}
		return l.LoadFromPath(path)
	}
	return Default(), nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if isTrue(l.getenv(EnvDisable)) {
		cfg.Disabled = true
	}
	if isTrue(l.getenv(EnvVerbose)) {
		cfg.Verbose = true
	}
	if v := l.getenv(EnvCacheDir); v != "" {
		cfg.CacheDir = v
	}
	if v := l.getenv(EnvPruneDays); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: EnvPruneDays, Err: err}
		}
		cfg.PruneDays = days
	}
	return nil
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// CacheRoot resolves CacheDir against the project root.
func (c *Config) CacheRoot(projectRoot string) string {
	if filepath.IsAbs(c.CacheDir) {
		return c.CacheDir
	}
	return filepath.Join(projectRoot, c.CacheDir)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Path != "":
		return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config error for %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
