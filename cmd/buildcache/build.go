package main

import (
	"github.com/spf13/cobra"

	"github.com/gophersatwork/buildcache/internal/pipeline"
)

var force bool

var buildCmd = &cobra.Command{
	Use:   "build [target...]",
	Short: "Build targets, skipping those whose inputs are unchanged",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		targets, err := s.targets(args)
		if err != nil {
			return err
		}

		runner := pipeline.NewRunner(s.cache, pipeline.WithForce(force), pipeline.WithLogger(s.logger))
		results, err := runner.RunAll(cmd.Context(), targets)
		s.printer.Results(results)
		return err
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Clear the cache and build every target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		targets, err := s.targets(nil)
		if err != nil {
			return err
		}

		s.logger.Info("clearing build cache")
		if err := s.cache.Clear(""); err != nil {
			return err
		}

		runner := pipeline.NewRunner(s.cache, pipeline.WithLogger(s.logger))
		results, err := runner.RunAll(cmd.Context(), targets)
		s.printer.Results(results)
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

func init() {
	buildCmd.Flags().BoolVarP(&force, "force", "f", false, "rebuild even when inputs are unchanged")
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(rebuildCmd)
}
