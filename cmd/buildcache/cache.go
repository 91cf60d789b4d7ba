package main

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gophersatwork/buildcache"
)

var (
	compare   bool
	pruneDays int
)

var clearCmd = &cobra.Command{
	Use:   "clear [category|target]",
	Short: "Clear the whole cache, one category or one target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			return s.cache.Clear("")
		}
		if strings.Contains(args[0], ":") {
			id, err := buildcache.ParseTargetID(args[0])
			if err != nil {
				return err
			}
			return s.cache.ClearTarget(id)
		}
		return s.cache.Clear(args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		stats, err := s.cache.Stats()
		if err != nil {
			return err
		}
		s.printer.Stats(s.cache.Root(), stats, s.cache.Entries())
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check cache integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		opts := buildcache.ValidateOptions{
			Compare:          compare,
			ArtifactPatterns: s.cfg.Artifacts,
		}
		for _, tc := range s.cfg.Targets {
			if tc.Preserve == nil {
				continue
			}
			opts.ArtifactDirs = append(opts.ArtifactDirs, tc.Preserve.Dir)
			for _, pattern := range tc.Preserve.Patterns {
				if !strings.ContainsAny(pattern, "*?[") {
					opts.Required = append(opts.Required, path.Join(tc.Preserve.Dir, pattern))
				}
			}
		}

		if !s.printer.Validation(s.cache.Validate(opts)) {
			return errFailed
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove entries not built within the given number of days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}

		days := s.cfg.PruneDays
		if cmd.Flags().Changed("days") {
			days = pruneDays
		}
		if days < 0 {
			return fmt.Errorf("--days must not be negative, got %d", days)
		}

		res, err := s.cache.PruneStaleEntries(days)
		if err != nil {
			return err
		}
		s.printer.Prune(days, res)
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&compare, "compare", false, "diff snapshots against live outputs")
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "maximum age in days (default from config)")

	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(pruneCmd)
}
