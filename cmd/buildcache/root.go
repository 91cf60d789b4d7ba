package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/gophersatwork/buildcache"
	"github.com/gophersatwork/buildcache/internal/config"
	"github.com/gophersatwork/buildcache/internal/pipeline"
	"github.com/gophersatwork/buildcache/internal/report"
)

var (
	projectRoot string
	configPath  string
	verbose     bool
	noCache     bool
)

// errFailed signals a non-zero exit after the command already reported why.
var errFailed = errors.New("failed")

var rootCmd = &cobra.Command{
	Use:   "buildcache",
	Short: "Incremental build cache for generated documentation",
	Long: `buildcache skips regenerating targets whose inputs have not changed.

Targets are declared in buildcache.yaml (or buildcache.toml) in the project
root. Every build records input hashes in .build-cache/lockfile.json and can
snapshot outputs so they are restored instead of regenerated.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <root>/buildcache.yaml or buildcache.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug output and generator output")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "disable the cache for this run")
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errFailed) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// session is everything a command needs, resolved from flags and config.
type session struct {
	root    string
	cfg     *config.Config
	cache   *buildcache.Cache
	logger  *slog.Logger
	printer *report.Printer
	verbose bool
}

func newSession(cmd *cobra.Command) (*session, error) {
	root, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	cfg, err := config.NewLoader(afero.NewOsFs()).WithProjectRoot(root).Load(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if verbose || cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	opts := []buildcache.Option{
		buildcache.WithDir(cfg.CacheRoot(root)),
		buildcache.WithLogger(logger),
		buildcache.WithDisabled(cfg.Disabled || noCache),
	}
	if cfg.Hash == config.HashXXH64 {
		opts = append(opts, buildcache.WithFastHash())
	}

	cache, err := buildcache.Open(root, opts...)
	if err != nil {
		return nil, err
	}

	return &session{
		root:    root,
		cfg:     cfg,
		cache:   cache,
		logger:  logger,
		printer: report.New(cmd.OutOrStdout()),
		verbose: level == slog.LevelDebug,
	}, nil
}

func (s *session) targets(ids []string) ([]pipeline.Target, error) {
	targets, err := pipeline.FromConfig(s.cfg, s.root, s.verbose)
	if err != nil {
		return nil, err
	}
	return pipeline.Select(targets, ids)
}
