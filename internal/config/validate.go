package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Err: fmt.Errorf(format, args...)})
	}

	switch c.Hash {
	case "", HashSHA256, HashXXH64:
	default:
		fail("hash", "unknown hash %q (want %s or %s)", c.Hash, HashSHA256, HashXXH64)
	}
	if c.PruneDays < 0 {
		fail("prune_days", "must not be negative, got %d", c.PruneDays)
	}

	seen := make(map[string]int, len(c.Targets))
	for i, tc := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if tc.ID != "" {
			field = fmt.Sprintf("targets[%s]", tc.ID)
		}

		if _, err := tc.TargetID(); err != nil {
			fail(field+".id", "%w", err)
		}
		if prev, dup := seen[tc.ID]; dup {
			fail(field+".id", "duplicate target, first declared at targets[%d]", prev)
		} else {
			seen[tc.ID] = i
		}

		if len(tc.Outputs) == 0 {
			fail(field+".outputs", "at least one output is required")
		}
		for _, out := range tc.Outputs {
			if out == "" || filepath.IsAbs(out) {
				fail(field+".outputs", "output %q must be a relative path", out)
			}
		}
		if len(tc.Command) == 0 {
			fail(field+".command", "a generator command is required")
		}

		switch tc.SnapshotMode() {
		case SnapshotNone, SnapshotOutputs:
		case SnapshotDirectory:
			if len(tc.Outputs) != 1 {
				fail(field+".snapshot", "directory snapshots need exactly one output, got %d", len(tc.Outputs))
			}
		default:
			fail(field+".snapshot", "unknown mode %q", tc.Snapshot)
		}

		if tc.Preserve != nil {
			if tc.Preserve.Dir == "" {
				fail(field+".preserve.dir", "a directory is required")
			}
			if len(tc.Preserve.Patterns) == 0 {
				fail(field+".preserve.patterns", "at least one pattern is required")
			}
		}

		names := make(map[string]bool, len(tc.Inputs))
		for j, in := range tc.Inputs {
			inField := fmt.Sprintf("%s.inputs[%d]", field, j)
			if in.Name == "" {
				fail(inField+".name", "a name is required")
			} else if names[in.Name] {
				fail(inField+".name", "duplicate input %q", in.Name)
			}
			names[in.Name] = true

			switch sources := in.sources(); len(sources) {
			case 1:
			case 0:
				fail(inField, "one of file, dir, value, env or package is required")
			default:
				fail(inField, "only one source allowed, got %v", sources)
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
