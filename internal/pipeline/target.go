package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gophersatwork/buildcache"
	"github.com/gophersatwork/buildcache/internal/config"
)

// SnapshotMode selects what is stored after a successful build.
type SnapshotMode string

const (
	SnapshotNone      SnapshotMode = config.SnapshotNone
	SnapshotOutputs   SnapshotMode = config.SnapshotOutputs
	SnapshotDirectory SnapshotMode = config.SnapshotDirectory
)

// Input is one named input of a target. Paths are relative to the project
// root. Exactly one source is used, checked in field order.
type Input struct {
	Name string

	File       string
	Dir        string
	DirOptions buildcache.DirOptions
	Value      string
	Env        string

	Package     string
	PackageJSON string
}

// Target is a build target definition.
type Target struct {
	ID        buildcache.TargetID
	Inputs    []Input
	Outputs   []string
	Generator Generator
	Snapshot  SnapshotMode

	// PreserveDir, when set, is regenerated through buildcache.RegenerateDir
	// with Regenerate as options.
	PreserveDir string
	Regenerate  buildcache.RegenerateOptions

	// OpenAPI is the path of the document whose operation diff is logged
	// before a rebuild.
	OpenAPI string

	// StaleAfter forces a rebuild of entries older than this.
	StaleAfter time.Duration
}

// FromConfig converts configured targets. Generators write to stdout and
// stderr when verbose, otherwise their output is captured.
func FromConfig(cfg *config.Config, projectRoot string, verbose bool) ([]Target, error) {
	targets := make([]Target, 0, len(cfg.Targets))
	for _, tc := range cfg.Targets {
		id, err := tc.TargetID()
		if err != nil {
			return nil, err
		}

		cmd := &Command{
			Args: tc.Command,
			Dir:  filepath.Join(projectRoot, tc.Dir),
			Env:  envList(tc.Env),
		}
		if verbose {
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		}

		t := Target{
			ID:         id,
			Outputs:    tc.Outputs,
			Generator:  cmd,
			Snapshot:   SnapshotMode(tc.SnapshotMode()),
			OpenAPI:    tc.OpenAPI,
			StaleAfter: tc.StaleAfter.Duration,
		}
		for _, in := range tc.Inputs {
			t.Inputs = append(t.Inputs, Input{
				Name:        in.Name,
				File:        in.File,
				Dir:         in.Dir,
				DirOptions:  buildcache.DirOptions{Include: in.Include, Exclude: in.Exclude},
				Value:       in.Value,
				Env:         in.Env,
				Package:     in.Package,
				PackageJSON: in.PackageJSON,
			})
		}
		if p := tc.Preserve; p != nil {
			artifacts := p.Artifacts
			if artifacts == nil {
				artifacts = cfg.Artifacts
			}
			t.PreserveDir = p.Dir
			t.Regenerate = buildcache.RegenerateOptions{
				Preserve:  p.Patterns,
				Wipe:      p.Wipe,
				Artifacts: artifacts,
			}
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// Select returns the targets named by ids in the order given, or every
// target when ids is empty.
func Select(targets []Target, ids []string) ([]Target, error) {
	if len(ids) == 0 {
		return targets, nil
	}

	byID := make(map[string]Target, len(targets))
	for _, t := range targets {
		byID[t.ID.String()] = t
	}

	selected := make([]Target, 0, len(ids))
	var unknown []string
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		selected = append(selected, t)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown targets: %s", strings.Join(unknown, ", "))
	}
	return selected, nil
}
