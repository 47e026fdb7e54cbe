// Package decompiler drives one package through reading, extraction and
// bundle splitting, and aggregates the outcome.
package decompiler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/starford/wedecode/internal/appconfig"
	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/bundle"
	"github.com/starford/wedecode/internal/cipher"
	"github.com/starford/wedecode/internal/extract"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/resolve"
	"github.com/starford/wedecode/internal/split"
	"github.com/starford/wedecode/internal/storage"
	"github.com/starford/wedecode/internal/wxapkg"
)

// Options are the policy constants shared by every run of a controller.
type Options struct {
	Workers    int
	MaxDepth   int
	Registrars []string
	Resolve    resolve.Policy
	Units      split.Units
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Workers:    runtime.NumCPU(),
		MaxDepth:   extract.DefaultMaxDepth,
		Registrars: []string{bundle.DefaultRegistrar},
		Resolve:    resolve.DefaultPolicy(),
		Units:      split.DefaultUnits(),
	}
}

// Controller runs one package. It is single-use: create one per input.
type Controller struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	history []State
}

// New creates an idle controller.
func New(opts Options, logger *slog.Logger) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, logger: logger, state: StateIdle, history: []State{StateIdle}}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns every state entered so far, starting with StateIdle.
func (c *Controller) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.history...)
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !allowed(c.state, to) {
		return fmt.Errorf("decompiler: illegal transition %s -> %s", c.state, to)
	}
	c.state = to
	c.history = append(c.history, to)
	return nil
}

// RunAll runs independent packages in parallel, one controller each. The
// outcomes keep the order of cfgs.
func RunAll(ctx context.Context, opts Options, logger *slog.Logger, cfgs []models.RunConfig) []models.RunOutcome {
	out := make([]models.RunOutcome, len(cfgs))
	var g errgroup.Group
	g.SetLimit(max(1, opts.Workers))
	for i, cfg := range cfgs {
		g.Go(func() error {
			out[i] = New(opts, logger).Run(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Run decompiles cfg.InputPath into cfg.OutputPath. A run that reaches
// StateDone is successful even when it recorded issues.
func (c *Controller) Run(ctx context.Context, cfg models.RunConfig) models.RunOutcome {
	start := time.Now()
	out := models.RunOutcome{Input: cfg.InputPath, OutputPath: cfg.OutputPath}

	if err := c.transition(StateReading); err != nil {
		return c.fail(out, "run", err)
	}
	if err := cfg.Validate(); err != nil {
		return c.fail(out, "config", fmt.Errorf("decompiler: invalid run config: %w", err))
	}

	a, strategy, err := c.read(cfg)
	if err != nil {
		return c.fail(out, "read", err)
	}
	out.Declared = len(a.Files)

	if err := os.MkdirAll(cfg.OutputPath, 0o755); err != nil {
		return c.fail(out, "read", fmt.Errorf("decompiler: create output: %w: %w", apperr.ErrWrite, err))
	}
	store, err := storage.NewFS(cfg.OutputPath)
	if err != nil {
		return c.fail(out, "read", err)
	}
	out.OutputPath = store.Root()

	_ = c.transition(StateExtracting)
	c.logger.Info("decompile: extracting",
		slog.String("input", cfg.InputPath),
		slog.String("cipher", strategy.Mode.String()),
		slog.Int("files", len(a.Files)),
		slog.String("size", humanize.Bytes(uint64(len(a.Bytes())))),
	)
	ex := extract.New(store, extract.Options{
		Workers:    c.opts.Workers,
		MaxDepth:   c.opts.MaxDepth,
		Registrars: c.opts.Registrars,
	}, c.logger)
	xr := ex.Extract(ctx, a, strategy)
	out.Issues = append(out.Issues, xr.Issues...)

	produced := make(map[string]models.Kind, len(xr.Files))
	for _, f := range xr.Files {
		produced[f.Path] = f.Kind
	}

	if !cfg.UnpackOnly {
		_ = c.transition(StateSplitting)
		manifest, issues := c.split(ctx, store, xr.Files, cfg, produced)
		out.Manifest = manifest
		out.Issues = append(out.Issues, issues...)
	}

	files, err := summarize(store, produced)
	if err != nil {
		out.Issues = append(out.Issues, models.Issue{Stage: "summary", Kind: apperr.Kind(err), Message: err.Error()})
	}
	out.Files = files

	_ = c.transition(StateDone)
	out.Success = true
	out.State = StateDone.String()
	sortIssues(out.Issues)

	c.logger.Info("decompile: done",
		slog.String("input", cfg.InputPath),
		slog.String("output", out.OutputPath),
		slog.Int("files", len(out.Files)),
		slog.Int("modules", len(out.Manifest)),
		slog.Int("issues", len(out.Issues)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return out
}

// read loads, opens and parses the top-level package. Every error here
// fails the run.
func (c *Controller) read(cfg models.RunConfig) (*wxapkg.Archive, *cipher.Strategy, error) {
	p, err := ResolveInput(cfg.InputPath)
	if err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, fmt.Errorf("decompiler: read input: %w", err)
	}

	appID := cfg.AppID
	if appID == "" {
		appID = cipher.AppIDFromPath(p)
	}
	strategy := cipher.Resolve(raw, appID)
	plain, err := strategy.Open(raw)
	if err != nil {
		return nil, nil, err
	}
	a, err := wxapkg.Read(plain)
	if err != nil {
		return nil, nil, err
	}
	return a, strategy, nil
}

// split processes every bundle, inline-script page, style sheet and merged
// config produced by extraction. Bundles are independent and split in
// parallel. produced is updated to the final set of written paths.
func (c *Controller) split(ctx context.Context, store storage.Provider, files []models.DecodedFile, cfg models.RunConfig, produced map[string]models.Kind) ([]models.ManifestEntry, []models.Issue) {
	var opts []bundle.Option
	if len(c.opts.Registrars) > 0 {
		opts = append(opts, bundle.WithRegistrars(c.opts.Registrars...))
	}
	sp := split.New(store, resolve.New(c.opts.Resolve), c.opts.Units, c.logger, opts...)

	var (
		mu       sync.Mutex
		manifest []models.ManifestEntry
		issues   []models.Issue
	)
	collect := func(p string, res split.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			issues = append(issues, models.Issue{Path: p, Stage: split.Stage, Kind: apperr.Kind(err), Message: err.Error()})
			return
		}
		issues = append(issues, res.Issues...)
		manifest = append(manifest, res.Manifest...)
		for _, m := range res.Manifest {
			produced[m.Path] = models.KindScript
		}
		if len(res.Manifest) > 0 && res.Tree.Bundle == p && !split.IsMarkupBundleCandidate(p) && !store.Exists(p) {
			delete(produced, p)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for _, f := range files {
		switch {
		case f.Kind == models.KindBundle:
			g.Go(func() error {
				res, err := sp.SplitFile(gctx, f.Path, cfg.UsePx)
				collect(f.Path, res, err)
				return nil
			})
		case f.Kind == models.KindMarkup && split.IsMarkupBundleCandidate(f.Path):
			g.Go(func() error {
				res, err := sp.SplitMarkup(gctx, f.Path, cfg.UsePx)
				collect(f.Path, res, err)
				return nil
			})
		case f.Kind == models.KindStyle && cfg.UsePx:
			g.Go(func() error {
				if _, err := sp.RewriteStyle(f.Path); err != nil {
					collect(f.Path, split.Result{}, err)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	for _, f := range files {
		if path.Base(f.Path) != appconfig.FileName {
			continue
		}
		written, err := appconfig.Restore(store, path.Dir(f.Path))
		if err != nil {
			issues = append(issues, models.Issue{Path: f.Path, Stage: split.Stage, Kind: apperr.Kind(err), Message: err.Error()})
		}
		for _, p := range written {
			produced[p] = models.KindConfig
		}
	}

	sort.Slice(manifest, func(i, j int) bool { return manifest[i].Path < manifest[j].Path })
	return manifest, issues
}

func (c *Controller) fail(out models.RunOutcome, stage string, err error) models.RunOutcome {
	c.mu.Lock()
	c.state = StateFailed
	c.history = append(c.history, StateFailed)
	c.mu.Unlock()

	c.logger.Error("decompile: failed",
		slog.String("input", out.Input),
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	out.Success = false
	out.State = StateFailed.String()
	out.Issues = append(out.Issues, models.Issue{Path: out.Input, Stage: stage, Kind: apperr.Kind(err), Message: err.Error()})
	return out
}

// summarize lists the produced files that are present in the store.
func summarize(store storage.Provider, produced map[string]models.Kind) ([]models.FileSummary, error) {
	entries, err := store.List("")
	if err != nil {
		return nil, err
	}
	out := make([]models.FileSummary, 0, len(produced))
	for _, e := range entries {
		k, ok := produced[e.Path]
		if !ok {
			continue
		}
		out = append(out, models.FileSummary{Path: e.Path, Kind: k, Size: e.Size})
	}
	return out, nil
}

func sortIssues(issues []models.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Message < issues[j].Message
	})
}
