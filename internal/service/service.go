// Package service coordinates decompilation runs, the catalog and the
// output trees. It is the single dependency of the HTTP and MCP surfaces.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/catalog"
	"github.com/starford/wedecode/internal/cipher"
	"github.com/starford/wedecode/internal/decompiler"
	"github.com/starford/wedecode/internal/models"
	"github.com/starford/wedecode/internal/resolve"
	"github.com/starford/wedecode/internal/sse"
	"github.com/starford/wedecode/internal/storage"
)

// EventPublisher receives run lifecycle events.
type EventPublisher interface {
	PublishRunEvent(kind string, ev sse.RunEvent)
}

// RunResult is the outcome of a run and the catalog id it was recorded under.
type RunResult struct {
	RunID   string            `json:"run_id,omitempty"`
	Outcome models.RunOutcome `json:"outcome"`
}

// RunDetail is a recorded run with the files it produced.
type RunDetail struct {
	catalog.RunRow
	Files []models.FileSummary `json:"files"`
}

// ModuleDetail is a recorded module with its source and reverse edges.
type ModuleDetail struct {
	catalog.ModuleRow
	Source     string   `json:"source"`
	Dependents []string `json:"dependents"`
}

// Service coordinates the decompiler, catalog and output stores.
type Service struct {
	db       catalog.Catalog
	opts     decompiler.Options
	defaults models.RunConfig
	outRoot  string
	events   EventPublisher
	resolver *resolve.Resolver
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCatalog records every run in db.
func WithCatalog(db catalog.Catalog) Option {
	return func(s *Service) { s.db = db }
}

// WithEvents publishes run lifecycle events to p.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithOutputRoot sets the directory DecompileFile writes under.
func WithOutputRoot(dir string) Option {
	return func(s *Service) { s.outRoot = dir }
}

// WithDefaults sets the run flags used by DecompileFile.
func WithDefaults(cfg models.RunConfig) Option {
	return func(s *Service) { s.defaults = cfg }
}

// New creates a service.
func New(opts decompiler.Options, logger *slog.Logger, options ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{opts: opts, logger: logger, outRoot: "."}
	for _, o := range options {
		o(s)
	}
	s.resolver = resolve.New(opts.Resolve)
	return s
}

// CatalogEnabled reports whether runs are recorded.
func (s *Service) CatalogEnabled() bool { return s.db != nil }

// Decompile runs cfg and records the outcome. The returned error is only
// about recording; decompilation problems live in the outcome.
func (s *Service) Decompile(ctx context.Context, cfg models.RunConfig) (*RunResult, error) {
	s.publish(sse.RunStarted, sse.RunEvent{Input: cfg.InputPath, Output: cfg.OutputPath})
	return s.finish(decompiler.New(s.opts, s.logger).Run(ctx, cfg))
}

// DecompileAll runs independent packages in parallel and records each
// outcome. Results keep the order of cfgs; recording errors are joined.
func (s *Service) DecompileAll(ctx context.Context, cfgs []models.RunConfig) ([]*RunResult, error) {
	for _, cfg := range cfgs {
		s.publish(sse.RunStarted, sse.RunEvent{Input: cfg.InputPath, Output: cfg.OutputPath})
	}
	outs := decompiler.RunAll(ctx, s.opts, s.logger, cfgs)

	results := make([]*RunResult, len(outs))
	var errs []error
	for i, out := range outs {
		res, err := s.finish(out)
		if err != nil {
			errs = append(errs, err)
		}
		results[i] = res
	}
	return results, errors.Join(errs...)
}

func (s *Service) finish(out models.RunOutcome) (*RunResult, error) {
	res := &RunResult{Outcome: out}

	var recErr error
	if s.db != nil {
		res.RunID = uuid.NewString()
		if recErr = s.record(res.RunID, out); recErr != nil {
			s.logger.Error("service: record run failed", slog.String("run", res.RunID), slog.String("error", recErr.Error()))
			res.RunID = ""
		}
	}

	kind := sse.RunFinished
	if !out.Success {
		kind = sse.RunFailed
	}
	s.publish(kind, sse.RunEvent{
		RunID:   res.RunID,
		Input:   out.Input,
		Output:  out.OutputPath,
		Success: out.Success,
		Issues:  len(out.Issues),
		Modules: len(out.Manifest),
	})
	return res, recErr
}

// DecompileFile runs the package at input with the service defaults, into
// OutputFor(input).
func (s *Service) DecompileFile(ctx context.Context, input string) (*RunResult, error) {
	cfg := s.defaults
	cfg.InputPath = input
	cfg.OutputPath = s.OutputFor(input)
	return s.Decompile(ctx, cfg)
}

// OutputFor returns the output directory for a package: the output root,
// the app id when the path carries one, and the file name without extension.
func (s *Service) OutputFor(input string) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if id := cipher.AppIDFromPath(input); id != "" && id != name {
		return filepath.Join(s.outRoot, id, name)
	}
	return filepath.Join(s.outRoot, name)
}

func (s *Service) record(runID string, out models.RunOutcome) error {
	var store storage.Provider
	if out.Success {
		fs, err := storage.NewFS(out.OutputPath)
		if err != nil {
			return err
		}
		store = fs
	}

	modules := make([]catalog.ModuleRow, 0, len(out.Manifest))
	for _, m := range out.Manifest {
		row := catalog.ModuleRow{
			Path:     m.Path,
			Bundle:   m.Bundle,
			ModuleID: m.ModuleID,
			Size:     m.Size,
			Entry:    m.Entry,
		}
		dir := resolve.BundleDir(m.Bundle)
		for _, dep := range m.Deps {
			row.Deps = append(row.Deps, s.resolver.Target(dir, m.Path, dep))
		}
		if store != nil {
			if body, err := store.Read(m.Path); err == nil {
				row.Body = string(body)
			}
		}
		modules = append(modules, row)
	}
	// A new run into the same output tree overwrites the files of the
	// previous one, so only the latest run per output stays recorded.
	if prev, err := s.db.LatestRun(out.OutputPath); err == nil {
		if err := s.db.DeleteRun(prev.ID); err != nil {
			return err
		}
		s.logger.Debug("service: superseded run", slog.String("run", prev.ID), slog.String("output", out.OutputPath))
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return s.db.RecordRun(runID, time.Now(), out, modules)
}

func (s *Service) publish(kind string, ev sse.RunEvent) {
	if s.events != nil {
		s.events.PublishRunEvent(kind, ev)
	}
}

var errNoCatalog = fmt.Errorf("service: catalog disabled: %w", apperr.ErrNotFound)

// Runs returns recent runs, newest first.
func (s *Service) Runs(_ context.Context, limit int) ([]catalog.RunRow, error) {
	if s.db == nil {
		return nil, errNoCatalog
	}
	runs, err := s.db.Runs(limit)
	if runs == nil {
		runs = []catalog.RunRow{}
	}
	return runs, err
}

// runID maps "" and "latest" to the most recent run.
func (s *Service) runID(id string) (string, error) {
	if s.db == nil {
		return "", errNoCatalog
	}
	if id != "" && id != "latest" {
		return id, nil
	}
	runs, err := s.db.Runs(1)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", apperr.ErrNotFound
	}
	return runs[0].ID, nil
}

// DeleteRun forgets a recorded run. The output tree is left in place.
func (s *Service) DeleteRun(_ context.Context, id string) error {
	id, err := s.runID(id)
	if err != nil {
		return err
	}
	return s.db.DeleteRun(id)
}

// Run returns a recorded run and its files.
func (s *Service) Run(_ context.Context, id string) (*RunDetail, error) {
	id, err := s.runID(id)
	if err != nil {
		return nil, err
	}
	run, err := s.db.Run(id)
	if err != nil {
		return nil, err
	}
	files, err := s.db.Files(id)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []models.FileSummary{}
	}
	return &RunDetail{RunRow: *run, Files: files}, nil
}

// Modules returns a page of a run's modules and the total count.
func (s *Service) Modules(_ context.Context, f catalog.ModuleFilter) ([]catalog.ModuleRow, int, error) {
	id, err := s.runID(f.RunID)
	if err != nil {
		return nil, 0, err
	}
	f.RunID = id
	mods, total, err := s.db.Modules(f)
	if mods == nil {
		mods = []catalog.ModuleRow{}
	}
	return mods, total, err
}

// Module returns one module with its body and dependents.
func (s *Service) Module(_ context.Context, runID, path string) (*ModuleDetail, error) {
	id, err := s.runID(runID)
	if err != nil {
		return nil, err
	}
	m, err := s.db.Module(id, path)
	if err != nil {
		return nil, err
	}
	dependents, err := s.db.Dependents(id, path)
	if err != nil {
		return nil, err
	}
	return &ModuleDetail{ModuleRow: *m, Source: m.Body, Dependents: dependents}, nil
}

// Dependents returns the modules of a run that depend on path.
func (s *Service) Dependents(_ context.Context, runID, path string) ([]string, error) {
	id, err := s.runID(runID)
	if err != nil {
		return nil, err
	}
	return s.db.Dependents(id, path)
}

// Search searches the module bodies of a run.
func (s *Service) Search(_ context.Context, runID, query string, limit int) ([]catalog.SearchResult, error) {
	id, err := s.runID(runID)
	if err != nil {
		return nil, err
	}
	results, err := s.db.Search(id, query, limit)
	if results == nil {
		results = []catalog.SearchResult{}
	}
	return results, err
}

// Graph returns the module dependency graph of a run.
func (s *Service) Graph(_ context.Context, runID string) ([]catalog.GraphNode, []catalog.GraphLink, error) {
	id, err := s.runID(runID)
	if err != nil {
		return nil, nil, err
	}
	return s.db.Graph(id)
}

// ReadFile returns a file from a run's output tree.
func (s *Service) ReadFile(_ context.Context, runID, path string) ([]byte, error) {
	id, err := s.runID(runID)
	if err != nil {
		return nil, err
	}
	run, err := s.db.Run(id)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFS(run.Output)
	if err != nil {
		return nil, fmt.Errorf("service: open output: %w", apperr.ErrNotFound)
	}
	data, err := store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
