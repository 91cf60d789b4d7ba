package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gophersatwork/buildcache"
	"github.com/gophersatwork/buildcache/openapi"
)

// Result describes what Run did with a target.
type Result struct {
	Target   buildcache.TargetID
	Decision buildcache.Decision

	// Built is set when the generator ran and succeeded.
	Built bool
	// Restored is set when missing outputs were put back from a snapshot.
	Restored bool
	// Snapshotted is set when a snapshot was stored after the build.
	Snapshotted bool

	// Plan is the operation diff of an OpenAPI target that was rebuilt.
	Plan *openapi.Plan

	Elapsed time.Duration
}

// Skipped reports whether the generator was not run.
func (r Result) Skipped() bool {
	return !r.Built
}

// Runner drives targets through the cache.
type Runner struct {
	cache   *buildcache.Cache
	indexer *openapi.Indexer
	logger  *slog.Logger
	force   bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithForce skips the cache lookup and rebuilds every target.
func WithForce(force bool) RunnerOption {
	return func(r *Runner) {
		r.force = force
	}
}

// WithIndexer sets the OpenAPI indexer.
func WithIndexer(ix *openapi.Indexer) RunnerOption {
	return func(r *Runner) {
		r.indexer = ix
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a Runner over cache.
func NewRunner(cache *buildcache.Cache, options ...RunnerOption) *Runner {
	r := &Runner{
		cache:  cache,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(r)
	}
	if r.indexer == nil {
		r.indexer = openapi.NewIndexer(openapi.WithFs(cache.Fs()), openapi.WithLogger(r.logger))
	}
	return r
}

// RunAll runs targets sequentially in order and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context, targets []Target) ([]Result, error) {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := r.Run(ctx, t)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Run builds one target if its inputs or outputs call for it.
//
// A generator failure is returned and leaves the manifest untouched, so
// the next run retries. Snapshot and metadata failures are logged only.
func (r *Runner) Run(ctx context.Context, t Target) (Result, error) {
	start := time.Now()
	res := Result{Target: t.ID}
	log := r.logger.With("target", t.ID.String())

	inputs, err := r.resolveInputs(t)
	if err != nil {
		return res, fmt.Errorf("failed to hash inputs of %s: %w", t.ID, err)
	}

	res.Decision = r.decide(t, inputs)
	if !res.Decision.Rebuild {
		log.Info("up to date", "reason", res.Decision.String())
		res.Elapsed = time.Since(start)
		return res, nil
	}

	if res.Decision.Reason == buildcache.ReasonOutputMissing && r.restore(t, inputs) {
		if d := r.cache.ShouldRebuild(t.ID, inputs); !d.Rebuild {
			log.Info("restored outputs from snapshot")
			res.Decision = d
			res.Restored = true
			res.Elapsed = time.Since(start)
			return res, nil
		}
	}

	log.Info("building", "reason", res.Decision.String())

	if t.OpenAPI != "" {
		plan := r.indexer.Plan(r.path(t.OpenAPI), r.cache, t.ID)
		res.Plan = &plan
	}

	if err := r.generate(ctx, t); err != nil {
		res.Elapsed = time.Since(start)
		return res, fmt.Errorf("failed to build %s: %w", t.ID, err)
	}
	res.Built = true

	r.cache.MarkBuilt(t.ID, inputs, t.Outputs)
	res.Snapshotted = r.snapshot(t, inputs)

	if res.Plan != nil && res.Plan.Current != nil {
		if err := openapi.Record(r.cache, t.ID, res.Plan.Current); err != nil {
			log.Warn("failed to record operation index", "error", err)
		}
	}

	res.Elapsed = time.Since(start)
	log.Info("built", "elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (r *Runner) decide(t Target, inputs buildcache.Inputs) buildcache.Decision {
	if r.force {
		return buildcache.Decision{Rebuild: true, Reason: buildcache.ReasonForced}
	}

	d := r.cache.ShouldRebuild(t.ID, inputs)
	if !d.Rebuild && t.StaleAfter > 0 && r.cache.IsStale(t.ID, t.StaleAfter) {
		return buildcache.Decision{Rebuild: true, Reason: buildcache.ReasonStale}
	}
	return d
}

func (r *Runner) generate(ctx context.Context, t Target) error {
	if t.Generator == nil {
		return fmt.Errorf("target %s has no generator", t.ID)
	}
	if t.PreserveDir == "" {
		return t.Generator.Generate(ctx)
	}
	return buildcache.RegenerateDir(r.cache.Fs(), r.path(t.PreserveDir), t.Regenerate, func() error {
		return t.Generator.Generate(ctx)
	})
}

// restore puts back a snapshot taken for the current inputs.
func (r *Runner) restore(t Target, inputs buildcache.Inputs) bool {
	switch t.Snapshot {
	case SnapshotOutputs:
		return r.cache.Restore(t.ID, "")
	case SnapshotDirectory:
		if !r.cache.HasSnapshot(t.ID, r.digest(inputs)) {
			return false
		}
		return r.cache.Restore(t.ID, r.path(t.Outputs[0]))
	}
	return false
}

func (r *Runner) snapshot(t Target, inputs buildcache.Inputs) bool {
	switch t.Snapshot {
	case SnapshotOutputs:
		return r.cache.StoreOutputs(t.ID)
	case SnapshotDirectory:
		return r.cache.StoreDirectory(t.ID, r.path(t.Outputs[0]), r.digest(inputs), t.Regenerate.Preserve)
	}
	return false
}

// digest condenses an input set into one hash.
func (r *Runner) digest(inputs buildcache.Inputs) buildcache.Hash {
	var sb strings.Builder
	for _, k := range inputs.Keys() {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(string(inputs[k]))
		sb.WriteByte('\n')
	}
	return r.cache.Hasher().String(sb.String())
}

func (r *Runner) resolveInputs(t Target) (buildcache.Inputs, error) {
	ib := r.cache.Inputs()
	for _, in := range t.Inputs {
		switch {
		case in.File != "":
			ib.File(in.Name, r.path(in.File))
		case in.Dir != "":
			ib.Dir(in.Name, r.path(in.Dir), in.DirOptions)
		case in.Value != "":
			ib.String(in.Name, in.Value)
		case in.Env != "":
			ib.String(in.Name, os.Getenv(in.Env))
		case in.Package != "":
			pkgJSON := in.PackageJSON
			if pkgJSON == "" {
				pkgJSON = "package.json"
			}
			ib.Package(in.Name, r.path(pkgJSON), in.Package)
		default:
			ib.Hash(in.Name, buildcache.NoHash)
		}
	}
	return ib.Build()
}

func (r *Runner) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(r.cache.ProjectRoot(), rel)
}
